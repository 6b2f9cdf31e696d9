package listener

import (
	"errors"
	"testing"
)

func TestExtractBranch(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    string
		wantErr bool
	}{
		{name: "heads ref", body: `{"ref":"refs/heads/main"}`, want: "main"},
		{name: "bare branch", body: `{"ref":"main"}`, want: "main"},
		{name: "nested branch", body: `{"ref":"refs/heads/feature/login"}`, want: "feature/login"},
		{name: "extra fields ignored", body: `{"ref":"refs/heads/dev","before":"abc","commits":[{"id":"1"}]}`, want: "dev"},
		{name: "tag ref kept whole", body: `{"ref":"refs/tags/v1.0.0"}`, want: "refs/tags/v1.0.0"},
		{name: "missing ref", body: `{"action":"opened"}`, wantErr: true},
		{name: "empty ref", body: `{"ref":""}`, wantErr: true},
		{name: "heads prefix only", body: `{"ref":"refs/heads/"}`, wantErr: true},
		{name: "non-string ref", body: `{"ref":42}`, wantErr: true},
		{name: "null body", body: `null`, wantErr: true},
		{name: "not json", body: `ref=main`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractBranch([]byte(tt.body))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ExtractBranch() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrMalformedPayload) {
				t.Errorf("error should wrap ErrMalformedPayload, got %v", err)
			}
			if got != tt.want {
				t.Errorf("ExtractBranch() = %q, want %q", got, tt.want)
			}
		})
	}
}

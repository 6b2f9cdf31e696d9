package config

import "testing"

func TestParseByteSize(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{in: "2048576", want: 2048576},
		{in: "512KB", want: 512 * 1024},
		{in: "1MB", want: 1024 * 1024},
		{in: "1mb", want: 1024 * 1024},
		{in: " 2 GB ", want: 2 * 1024 * 1024 * 1024},
		{in: "", wantErr: true},
		{in: "0", wantErr: true},
		{in: "-5KB", wantErr: true},
		{in: "big", wantErr: true},
		{in: "9223372036854775807GB", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseByteSize(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseByteSize(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseByteSize(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

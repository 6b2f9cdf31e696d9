package listener

import (
	"encoding/json"
	"fmt"
	"strings"
)

const headsPrefix = "refs/heads/"

type pushPayload struct {
	Ref *string `json:"ref"`
}

// ExtractBranch returns the short branch name of the payload's "ref".
// "refs/heads/main" and "main" both yield "main"; nested branch names such
// as "refs/heads/feature/x" keep everything after the heads prefix.
func ExtractBranch(body []byte) (string, error) {
	var p pushPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if p.Ref == nil {
		return "", fmt.Errorf("%w: missing ref", ErrMalformedPayload)
	}

	branch := strings.TrimPrefix(strings.TrimSpace(*p.Ref), headsPrefix)
	if branch == "" {
		return "", fmt.Errorf("%w: empty ref", ErrMalformedPayload)
	}
	return branch, nil
}

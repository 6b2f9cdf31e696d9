package listener

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// DefaultSignatureHeader is the header GitHub puts the body HMAC in.
const DefaultSignatureHeader = "X-Hub-Signature-256"

// VerifySignature checks an HMAC-SHA256 signature of body.
//
// Accepted header formats:
//   - "sha256=<hex>" (GitHub X-Hub-Signature-256)
//   - "<hex>"
//
// Every failure returns ErrUnauthorized so callers cannot tell why.
func VerifySignature(secret string, body []byte, signature string) error {
	if secret == "" || signature == "" {
		return ErrUnauthorized
	}

	actual, err := hex.DecodeString(strings.TrimPrefix(signature, "sha256="))
	if err != nil {
		return ErrUnauthorized
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if subtle.ConstantTimeCompare(mac.Sum(nil), actual) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// Sign returns the GitHub-style signature header value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

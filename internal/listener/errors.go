package listener

import (
	"errors"

	"github.com/mattjoyce/deployhook/internal/execute"
)

var (
	// ErrNotFound means the delivery named an unknown resource.
	ErrNotFound = errors.New("resource not found")
	// ErrUnauthorized means the signature was missing or did not match.
	ErrUnauthorized = errors.New("webhook verification failed")
	// ErrWebhookDisabled means the resource does not accept webhooks.
	ErrWebhookDisabled = errors.New("webhook not enabled")
	// ErrBranchMismatch means the pushed branch is not the one the resource tracks.
	ErrBranchMismatch = errors.New("request branch does not match expected")
	// ErrMalformedPayload means the body carried no usable ref.
	ErrMalformedPayload = errors.New("malformed webhook payload")
)

// IsIgnored reports whether err is a benign rejection: the delivery was
// understood but intentionally not acted on.
func IsIgnored(err error) bool {
	return errors.Is(err, ErrWebhookDisabled) || errors.Is(err, ErrBranchMismatch)
}

// Outcome classifies a handler result for logs and metrics.
func Outcome(err error) string {
	var engErr *execute.EngineError
	switch {
	case err == nil:
		return "dispatched"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrWebhookDisabled):
		return "disabled"
	case errors.Is(err, ErrBranchMismatch):
		return "branch_mismatch"
	case errors.Is(err, ErrMalformedPayload):
		return "malformed"
	case errors.As(err, &engErr):
		return "engine_error"
	default:
		return "error"
	}
}

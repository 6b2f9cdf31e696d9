package webhook

import (
	"context"
	"net/http"
	"time"

	"github.com/mattjoyce/deployhook/internal/execute"
	"github.com/mattjoyce/deployhook/internal/resource"
)

// Dispatcher authenticates deliveries and applies the dispatch policy.
// *listener.Listener implements it.
type Dispatcher interface {
	AuthProcedure(ctx context.Context, id string, headers http.Header, body []byte) (*resource.Procedure, error)
	HandleProcedure(ctx context.Context, p *resource.Procedure, targetBranch string, body []byte) (*execute.Update, error)
	AuthStack(ctx context.Context, id string, headers http.Header, body []byte) (*resource.Stack, error)
	HandleStackRefresh(ctx context.Context, st *resource.Stack, body []byte) (*execute.Update, error)
	HandleStackDeploy(ctx context.Context, st *resource.Stack, body []byte) (*execute.Update, error)
}

// Config holds webhook server configuration.
type Config struct {
	Listen string

	// MaxBodySize is the maximum allowed request body size in bytes (default: 1MB)
	MaxBodySize int64

	// Async acknowledges with 202 once the signature checks out and handles
	// the delivery in the background.
	Async bool

	// MetricsPath mounts MetricsHandler when both are set.
	MetricsPath    string
	MetricsHandler http.Handler

	// DrainTimeout bounds how long shutdown waits for background deliveries.
	DrainTimeout time.Duration
}

// DispatchResponse is the JSON response for dispatched deliveries.
type DispatchResponse struct {
	UpdateID string `json:"update_id"`
}

// StatusResponse is the JSON response for deliveries that were not dispatched
// but are not errors either.
type StatusResponse struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// ErrorResponse is the JSON response for webhook errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Default values
const (
	DefaultMaxBodySize  = 1048576 // 1 MB
	DefaultDrainTimeout = 30 * time.Second
)

package listener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mattjoyce/deployhook/internal/execute"
	"github.com/mattjoyce/deployhook/internal/log"
	"github.com/mattjoyce/deployhook/internal/resource"
)

// ResourceStore is the read side of the resource store.
type ResourceStore interface {
	GetProcedure(ctx context.Context, id string) (*resource.Procedure, error)
	GetStack(ctx context.Context, id string) (*resource.Stack, error)
}

// Executor records and dispatches one execution request.
type Executor interface {
	Execute(ctx context.Context, req execute.Request, user execute.User, body []byte) (*execute.Update, error)
}

// Listener authenticates deliveries and applies the per-kind dispatch policy.
type Listener struct {
	resources ResourceStore
	handoff   Executor

	procedureLocks LockRegistry
	stackLocks     LockRegistry

	defaultSecret   string
	signatureHeader string
	metrics         *Metrics
	logger          *slog.Logger
}

// Option configures a Listener.
type Option func(*Listener)

// WithDefaultSecret sets the secret used for resources without their own.
func WithDefaultSecret(secret string) Option {
	return func(l *Listener) { l.defaultSecret = secret }
}

// WithSignatureHeader overrides DefaultSignatureHeader.
func WithSignatureHeader(name string) Option {
	return func(l *Listener) {
		if name != "" {
			l.signatureHeader = name
		}
	}
}

// WithMetrics records delivery outcomes and lock waits on m.
func WithMetrics(m *Metrics) Option {
	return func(l *Listener) { l.metrics = m }
}

// WithLogger replaces the component logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Listener) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// New returns a Listener reading resources from the store and handing
// accepted deliveries to handoff.
func New(resources ResourceStore, handoff Executor, opts ...Option) *Listener {
	l := &Listener{
		resources:       resources,
		handoff:         handoff,
		signatureHeader: DefaultSignatureHeader,
		logger:          log.WithComponent("listener"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// SignatureHeader returns the header the signature is read from.
func (l *Listener) SignatureHeader() string {
	return l.signatureHeader
}

// verify checks the delivery against the resource secret, falling back to
// the listener-wide default when the resource has none.
func (l *Listener) verify(resourceSecret string, headers http.Header, body []byte) error {
	secret := resourceSecret
	if secret == "" {
		secret = l.defaultSecret
	}
	return VerifySignature(secret, body, headers.Get(l.signatureHeader))
}

// lock acquires the registry mutex for id and returns its unlock function.
func (l *Listener) lock(reg *LockRegistry, kind resource.Kind, id string) func() {
	mu := reg.Get(id)
	start := time.Now()
	mu.Lock()
	l.metrics.observeLock(string(kind), time.Since(start), reg.Len())
	return mu.Unlock
}

func (l *Listener) finish(kind resource.Kind, action, id string, update *execute.Update, err error) {
	l.metrics.observeDelivery(string(kind), action, err)

	logger := l.logger.With("resource_kind", kind, "resource_id", id, "action", action, "outcome", Outcome(err))
	switch {
	case err == nil:
		logger.Info("webhook dispatched", "update_id", update.ID, "operation", update.Operation)
	case IsIgnored(err):
		logger.Info("webhook ignored", "reason", err.Error())
	default:
		logger.Warn("webhook failed", "error", err)
	}
}

func notFound(kind resource.Kind, id string, err error) error {
	if errors.Is(err, resource.ErrNotFound) {
		return fmt.Errorf("%s %q: %w", kind, id, ErrNotFound)
	}
	return fmt.Errorf("load %s %q: %w", kind, id, err)
}

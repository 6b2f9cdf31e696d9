package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/deployhook/internal/execute"
	"github.com/mattjoyce/deployhook/internal/listener"
	"github.com/mattjoyce/deployhook/internal/resource"
)

// Server represents the webhook HTTP server.
type Server struct {
	config     Config
	dispatcher Dispatcher
	logger     *slog.Logger
	server     *http.Server

	// inflight tracks background deliveries in async mode.
	inflight sync.WaitGroup
	pending  atomic.Int64
}

// New creates a new webhook server instance.
func New(config Config, dispatcher Dispatcher, logger *slog.Logger) *Server {
	if config.MaxBodySize <= 0 {
		config.MaxBodySize = DefaultMaxBodySize
	}
	if config.DrainTimeout <= 0 {
		config.DrainTimeout = DefaultDrainTimeout
	}

	return &Server{
		config:     config,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Start starts the webhook HTTP server (blocking).
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("webhook server starting", "listen", s.config.Listen, "async", s.config.Async)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.DrainTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logAbandoned()
			return fmt.Errorf("webhook server shutdown failed: %w", err)
		}
		if err := s.Drain(shutdownCtx); err != nil {
			s.logAbandoned()
			return err
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("webhook server error: %w", err)
	}
}

// InFlight returns the number of background deliveries still running.
func (s *Server) InFlight() int64 {
	return s.pending.Load()
}

func (s *Server) logAbandoned() {
	s.logger.Warn("webhook shutdown timed out, abandoning background deliveries",
		"in_flight", s.InFlight(), "drain_timeout", s.config.DrainTimeout)
}

// Drain waits for background deliveries to finish or ctx to expire.
func (s *Server) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("webhook drain: %w", ctx.Err())
	}
}

// Handler returns the HTTP router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	if s.config.MetricsPath != "" && s.config.MetricsHandler != nil {
		r.Method(http.MethodGet, s.config.MetricsPath, s.config.MetricsHandler)
	}

	r.Route("/listener/github", func(r chi.Router) {
		// Branch names may contain slashes, so the rest of the path is the branch.
		r.Post("/procedure/{id}/*", s.handleProcedure)
		r.Post("/stack/{id}/refresh", s.handleStackRefresh)
		r.Post("/stack/{id}/deploy", s.handleStackDeploy)
	})

	return r
}

// loggingMiddleware logs HTTP requests (excludes sensitive payloads).
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info("webhook request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
			"remote_addr", r.RemoteAddr,
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

func (s *Server) handleProcedure(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	branch, err := url.PathUnescape(chi.URLParam(r, "*"))
	if err != nil || branch == "" {
		s.respondError(w, http.StatusNotFound, "branch required")
		return
	}

	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	p, err := s.dispatcher.AuthProcedure(r.Context(), id, r.Header, body)
	if err != nil {
		s.respondResult(w, nil, err)
		return
	}

	s.dispatch(w, r, func(ctx context.Context) (*execute.Update, error) {
		return s.dispatcher.HandleProcedure(ctx, p, branch, body)
	})
}

func (s *Server) handleStackRefresh(w http.ResponseWriter, r *http.Request) {
	s.handleStack(w, r, s.dispatcher.HandleStackRefresh)
}

func (s *Server) handleStackDeploy(w http.ResponseWriter, r *http.Request) {
	s.handleStack(w, r, s.dispatcher.HandleStackDeploy)
}

func (s *Server) handleStack(w http.ResponseWriter, r *http.Request, handle func(context.Context, *resource.Stack, []byte) (*execute.Update, error)) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	st, err := s.dispatcher.AuthStack(r.Context(), chi.URLParam(r, "id"), r.Header, body)
	if err != nil {
		s.respondResult(w, nil, err)
		return
	}

	s.dispatch(w, r, func(ctx context.Context) (*execute.Update, error) {
		return handle(ctx, st, body)
	})
}

// dispatch runs an authenticated delivery. Request cancellation is detached
// so a client hanging up cannot abort a delivery mid-dispatch.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, run func(context.Context) (*execute.Update, error)) {
	ctx := context.WithoutCancel(r.Context())

	if !s.config.Async {
		update, err := run(ctx)
		s.respondResult(w, update, err)
		return
	}

	s.inflight.Add(1)
	s.pending.Add(1)
	go func() {
		defer s.inflight.Done()
		defer s.pending.Add(-1)
		// Outcomes are logged by the listener.
		_, _ = run(ctx)
	}()
	s.respondJSON(w, http.StatusAccepted, StatusResponse{Status: "accepted"})
}

// readBody enforces the body size limit. It writes the error response itself
// and reports false when the request should not proceed.
func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, s.config.MaxBodySize+1))
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to read request body")
		return nil, false
	}
	if int64(len(body)) > s.config.MaxBodySize {
		s.respondError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return nil, false
	}
	return body, true
}

// respondResult maps a listener outcome onto the HTTP response.
func (s *Server) respondResult(w http.ResponseWriter, update *execute.Update, err error) {
	switch {
	case err == nil:
		s.respondJSON(w, http.StatusAccepted, DispatchResponse{UpdateID: update.ID})
	case errors.Is(err, listener.ErrNotFound):
		s.respondError(w, http.StatusNotFound, "not found")
	case errors.Is(err, listener.ErrUnauthorized):
		// No signature details in the response.
		s.respondError(w, http.StatusUnauthorized, "unauthorized")
	case listener.IsIgnored(err):
		s.respondJSON(w, http.StatusOK, StatusResponse{Status: "ignored", Reason: listener.Outcome(err)})
	case errors.Is(err, listener.ErrMalformedPayload):
		s.respondJSON(w, http.StatusOK, StatusResponse{Status: "rejected", Reason: listener.Outcome(err)})
	default:
		s.logger.Error("webhook delivery failed", "error", err)
		s.respondError(w, http.StatusInternalServerError, "execution failed")
	}
}

// respondJSON sends a JSON response.
func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends a JSON error response.
func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, ErrorResponse{Error: message})
}

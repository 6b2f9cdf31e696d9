package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/deployhook/internal/execute"
	"github.com/mattjoyce/deployhook/internal/listener"
	"github.com/mattjoyce/deployhook/internal/resource"
)

// fakeDispatcher records calls and returns canned results.
type fakeDispatcher struct {
	mu sync.Mutex

	authErr   error
	handleErr error
	block     chan struct{}

	branches []string
	actions  []string
	ctxErrs  []error
}

func (f *fakeDispatcher) AuthProcedure(_ context.Context, id string, _ http.Header, _ []byte) (*resource.Procedure, error) {
	if f.authErr != nil {
		return nil, f.authErr
	}
	return &resource.Procedure{ID: id}, nil
}

func (f *fakeDispatcher) HandleProcedure(ctx context.Context, p *resource.Procedure, branch string, _ []byte) (*execute.Update, error) {
	f.mu.Lock()
	f.branches = append(f.branches, branch)
	f.mu.Unlock()
	return f.handle(ctx, "run", p.ID)
}

func (f *fakeDispatcher) AuthStack(_ context.Context, id string, _ http.Header, _ []byte) (*resource.Stack, error) {
	if f.authErr != nil {
		return nil, f.authErr
	}
	return &resource.Stack{ID: id}, nil
}

func (f *fakeDispatcher) HandleStackRefresh(ctx context.Context, st *resource.Stack, _ []byte) (*execute.Update, error) {
	return f.handle(ctx, "refresh", st.ID)
}

func (f *fakeDispatcher) HandleStackDeploy(ctx context.Context, st *resource.Stack, _ []byte) (*execute.Update, error) {
	return f.handle(ctx, "deploy", st.ID)
}

func (f *fakeDispatcher) handle(ctx context.Context, action, id string) (*execute.Update, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	f.actions = append(f.actions, action)
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	f.mu.Unlock()
	if f.handleErr != nil {
		return nil, f.handleErr
	}
	return &execute.Update{ID: "update-" + id, Operation: action}, nil
}

func (f *fakeDispatcher) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.actions...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func post(t *testing.T, h http.Handler, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

func TestRoutesDispatch(t *testing.T) {
	body := []byte(`{"ref":"refs/heads/main"}`)

	tests := []struct {
		name       string
		path       string
		wantAction string
		wantUpdate string
	}{
		{"procedure", "/listener/github/procedure/proc-1/main", "run", "update-proc-1"},
		{"stack refresh", "/listener/github/stack/web/refresh", "refresh", "update-web"},
		{"stack deploy", "/listener/github/stack/web/deploy", "deploy", "update-web"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &fakeDispatcher{}
			srv := New(Config{}, d, testLogger())

			rec := post(t, srv.Handler(), tt.path, body)

			assert.Equal(t, http.StatusAccepted, rec.Code)
			assert.Equal(t, tt.wantUpdate, decode[DispatchResponse](t, rec).UpdateID)
			assert.Equal(t, []string{tt.wantAction}, d.calls())
		})
	}
}

func TestProcedureBranchFromPath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/listener/github/procedure/p/main", "main"},
		{"/listener/github/procedure/p/feature/login", "feature/login"},
		{"/listener/github/procedure/p/feature%2Flogin", "feature/login"},
	}

	for _, tt := range tests {
		d := &fakeDispatcher{}
		srv := New(Config{}, d, testLogger())

		rec := post(t, srv.Handler(), tt.path, []byte(`{}`))

		require.Equal(t, http.StatusAccepted, rec.Code, tt.path)
		assert.Equal(t, []string{tt.want}, d.branches, tt.path)
	}
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		authErr    error
		handleErr  error
		wantCode   int
		wantStatus string
		wantReason string
	}{
		{
			name:     "not found",
			authErr:  fmt.Errorf("stack %q: %w", "web", listener.ErrNotFound),
			wantCode: http.StatusNotFound,
		},
		{
			name:     "unauthorized",
			authErr:  listener.ErrUnauthorized,
			wantCode: http.StatusUnauthorized,
		},
		{
			name:       "disabled",
			handleErr:  fmt.Errorf("stack %q: %w", "web", listener.ErrWebhookDisabled),
			wantCode:   http.StatusOK,
			wantStatus: "ignored",
			wantReason: "disabled",
		},
		{
			name:       "branch mismatch",
			handleErr:  fmt.Errorf("%w: got %q, want %q", listener.ErrBranchMismatch, "dev", "main"),
			wantCode:   http.StatusOK,
			wantStatus: "ignored",
			wantReason: "branch_mismatch",
		},
		{
			name:       "malformed",
			handleErr:  fmt.Errorf("%w: missing ref", listener.ErrMalformedPayload),
			wantCode:   http.StatusOK,
			wantStatus: "rejected",
			wantReason: "malformed",
		},
		{
			name:      "engine error",
			handleErr: &execute.EngineError{Stage: "dispatch", Operation: "DeployStack", Err: errors.New("queue full")},
			wantCode:  http.StatusInternalServerError,
		},
		{
			name:     "lookup failure",
			authErr:  errors.New("database is locked"),
			wantCode: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &fakeDispatcher{authErr: tt.authErr, handleErr: tt.handleErr}
			srv := New(Config{}, d, testLogger())

			rec := post(t, srv.Handler(), "/listener/github/stack/web/deploy", []byte(`{}`))

			require.Equal(t, tt.wantCode, rec.Code)
			if tt.wantStatus != "" {
				resp := decode[StatusResponse](t, rec)
				assert.Equal(t, tt.wantStatus, resp.Status)
				assert.Equal(t, tt.wantReason, resp.Reason)
			}
		})
	}
}

func TestUnauthorizedResponseLeaksNothing(t *testing.T) {
	d := &fakeDispatcher{authErr: listener.ErrUnauthorized}
	srv := New(Config{}, d, testLogger())

	rec := post(t, srv.Handler(), "/listener/github/procedure/p/main", []byte(`{}`))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", decode[ErrorResponse](t, rec).Error)
	assert.Empty(t, d.calls())
}

func TestBodyTooLarge(t *testing.T) {
	d := &fakeDispatcher{}
	srv := New(Config{MaxBodySize: 16}, d, testLogger())

	rec := post(t, srv.Handler(), "/listener/github/stack/web/deploy", []byte(strings.Repeat("x", 17)))

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Empty(t, d.calls())
}

func TestBodyAtLimitAccepted(t *testing.T) {
	d := &fakeDispatcher{}
	srv := New(Config{MaxBodySize: 16}, d, testLogger())

	rec := post(t, srv.Handler(), "/listener/github/stack/web/deploy", []byte(strings.Repeat("x", 16)))

	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestUnknownRoute(t *testing.T) {
	srv := New(Config{}, &fakeDispatcher{}, testLogger())

	assert.Equal(t, http.StatusNotFound, post(t, srv.Handler(), "/listener/github/stack/web/destroy", nil).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, func() int {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/listener/github/stack/web/deploy", nil))
		return rec.Code
	}())
}

func TestHandlerDetachesRequestCancellation(t *testing.T) {
	d := &fakeDispatcher{}
	srv := New(Config{}, d, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/listener/github/stack/web/deploy", bytes.NewReader([]byte(`{}`))).WithContext(ctx)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []error{nil}, d.ctxErrs)
}

func TestAsyncAcknowledgesAndDrains(t *testing.T) {
	d := &fakeDispatcher{block: make(chan struct{})}
	srv := New(Config{Async: true}, d, testLogger())

	rec := post(t, srv.Handler(), "/listener/github/stack/web/deploy", []byte(`{}`))

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "accepted", decode[StatusResponse](t, rec).Status)
	assert.Empty(t, d.calls())

	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, srv.Drain(short), "drain must wait for the blocked delivery")

	close(d.block)
	require.NoError(t, srv.Drain(context.Background()))
	assert.Equal(t, []string{"deploy"}, d.calls())
}

func TestStartLogsAbandonedDeliveries(t *testing.T) {
	d := &fakeDispatcher{block: make(chan struct{})}
	defer close(d.block)

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	srv := New(Config{Listen: "127.0.0.1:0", Async: true, DrainTimeout: 20 * time.Millisecond}, d, logger)

	rec := post(t, srv.Handler(), "/listener/github/stack/web/deploy", []byte(`{}`))
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, int64(1), srv.InFlight())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := srv.Start(ctx)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, logs.String(), "abandoning background deliveries")
	assert.Contains(t, logs.String(), "in_flight=1")
}

func TestAsyncStillRejectsBadSignature(t *testing.T) {
	d := &fakeDispatcher{authErr: listener.ErrUnauthorized}
	srv := New(Config{Async: true}, d, testLogger())

	rec := post(t, srv.Handler(), "/listener/github/stack/web/refresh", []byte(`{}`))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	require.NoError(t, srv.Drain(context.Background()))
	assert.Empty(t, d.calls())
}

func TestHealthAndMetricsRoutes(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, "deployhook_up 1\n")
	})
	srv := New(Config{MetricsPath: "/metrics", MetricsHandler: metrics}, &fakeDispatcher{}, testLogger())
	h := srv.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[StatusResponse](t, rec).Status)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "deployhook_up")
}

func TestMetricsRouteAbsentWhenDisabled(t *testing.T) {
	srv := New(Config{}, &fakeDispatcher{}, testLogger())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

package execute

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/deployhook/internal/queue"
)

type fakeEnqueuer struct {
	reqs []queue.EnqueueRequest
	err  error
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, req queue.EnqueueRequest) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.reqs = append(f.reqs, req)
	return "job-1", nil
}

func TestQueueEngineDispatchEnqueuesJob(t *testing.T) {
	fq := &fakeEnqueuer{}
	e := NewQueueEngine(fq)

	err := e.Dispatch(context.Background(), DeployStackIfChanged{Stack: "stk-1"}, WebhookUser(), &Update{ID: "upd-1"})
	require.NoError(t, err)
	require.Len(t, fq.reqs, 1)

	got := fq.reqs[0]
	assert.Equal(t, "DeployStackIfChanged", got.Operation)
	assert.Equal(t, "stack", got.TargetKind)
	assert.Equal(t, "stk-1", got.TargetID)
	assert.Equal(t, "upd-1", got.UpdateID)
	assert.Equal(t, "Git Webhook", got.SubmittedBy)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(got.Payload, &payload))
	assert.Equal(t, "stk-1", payload["stack"])
	_, hasStop := payload["stop_time"]
	assert.False(t, hasStop, "nil stop time must be omitted")
}

func TestQueueEngineDispatchErrors(t *testing.T) {
	e := NewQueueEngine(&fakeEnqueuer{err: errors.New("db locked")})

	err := e.Dispatch(context.Background(), RunProcedure{Procedure: "p"}, WebhookUser(), &Update{ID: "u"})
	assert.EqualError(t, err, "db locked")

	err = e.Dispatch(context.Background(), RunProcedure{Procedure: "p"}, WebhookUser(), nil)
	assert.Error(t, err)
}

func TestRequestTargets(t *testing.T) {
	tests := []struct {
		req  Request
		op   string
		kind string
	}{
		{RunProcedure{Procedure: "x"}, "RunProcedure", "procedure"},
		{DeployStack{Stack: "x"}, "DeployStack", "stack"},
		{DeployStackIfChanged{Stack: "x"}, "DeployStackIfChanged", "stack"},
		{RefreshStackCache{Stack: "x"}, "RefreshStackCache", "stack"},
	}
	for _, tt := range tests {
		t.Run(tt.op, func(t *testing.T) {
			assert.Equal(t, tt.op, tt.req.Operation())
			assert.Equal(t, tt.kind, string(tt.req.Target().Kind))
			assert.Equal(t, "x", tt.req.Target().ID)
		})
	}
}

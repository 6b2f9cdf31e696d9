package execute

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mattjoyce/deployhook/internal/log"
	"github.com/mattjoyce/deployhook/internal/queue"
)

//go:generate mockgen -destination=mocks/mock_execute.go -package=mocks github.com/mattjoyce/deployhook/internal/execute Engine,Recorder

// Engine performs an action. Dispatch is called once per accepted delivery;
// any retry or concurrency control belongs to the engine.
type Engine interface {
	Dispatch(ctx context.Context, req Request, user User, update *Update) error
}

// Enqueuer is the subset of queue.Queue used by QueueEngine.
type Enqueuer interface {
	Enqueue(ctx context.Context, req queue.EnqueueRequest) (string, error)
}

// QueueEngine hands requests to the executor through the execution queue.
type QueueEngine struct {
	queue  Enqueuer
	logger *slog.Logger
}

func NewQueueEngine(q Enqueuer) *QueueEngine {
	return &QueueEngine{
		queue:  q,
		logger: log.WithComponent("engine"),
	}
}

func (e *QueueEngine) Dispatch(ctx context.Context, req Request, user User, update *Update) error {
	if update == nil {
		return fmt.Errorf("%s: update is nil", req.Operation())
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", req.Operation(), err)
	}

	target := req.Target()
	jobID, err := e.queue.Enqueue(ctx, queue.EnqueueRequest{
		Operation:   req.Operation(),
		TargetKind:  string(target.Kind),
		TargetID:    target.ID,
		UpdateID:    update.ID,
		Payload:     payload,
		SubmittedBy: user.Username,
	})
	if err != nil {
		return err
	}

	e.logger.Info("execution job enqueued",
		"operation", req.Operation(),
		"target_kind", target.Kind,
		"target_id", target.ID,
		"update_id", update.ID,
		"job_id", jobID,
	)
	return nil
}

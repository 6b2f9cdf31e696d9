package execute

import (
	"context"
	"errors"
	"fmt"
)

// Recorder creates the audit record for an action and closes it when the
// action cannot proceed.
type Recorder interface {
	Create(ctx context.Context, req Request, user User, body []byte) (*Update, error)
	Finish(ctx context.Context, id string, status UpdateStatus) error
}

// EngineError reports a failure to record or dispatch an action.
type EngineError struct {
	// Stage is "record" or "dispatch".
	Stage     string
	Operation string
	Err       error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Stage, e.Operation, e.Err)
}

func (e *EngineError) Unwrap() error { return e.Err }

// Handoff records an action and then passes it to the engine.
type Handoff struct {
	records Recorder
	engine  Engine
}

func NewHandoff(records Recorder, engine Engine) *Handoff {
	return &Handoff{records: records, engine: engine}
}

// Execute creates the update record and invokes the engine exactly once.
// The engine is never called if the record cannot be created. A record whose
// dispatch fails is marked failed.
func (h *Handoff) Execute(ctx context.Context, req Request, user User, body []byte) (*Update, error) {
	update, err := h.records.Create(ctx, req, user, body)
	if err != nil {
		return nil, &EngineError{Stage: "record", Operation: req.Operation(), Err: err}
	}

	if err := h.engine.Dispatch(ctx, req, user, update); err != nil {
		if ferr := h.records.Finish(ctx, update.ID, UpdateStatusFailed); ferr != nil {
			err = errors.Join(err, fmt.Errorf("mark update %s failed: %w", update.ID, ferr))
		} else {
			update.Status = UpdateStatusFailed
		}
		return update, &EngineError{Stage: "dispatch", Operation: req.Operation(), Err: err}
	}
	return update, nil
}

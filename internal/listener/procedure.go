package listener

import (
	"context"
	"fmt"
	"net/http"

	"github.com/mattjoyce/deployhook/internal/execute"
	"github.com/mattjoyce/deployhook/internal/resource"
)

// AuthProcedure loads the procedure and verifies the delivery signature.
func (l *Listener) AuthProcedure(ctx context.Context, id string, headers http.Header, body []byte) (*resource.Procedure, error) {
	p, err := l.resources.GetProcedure(ctx, id)
	if err != nil {
		err = notFound(resource.KindProcedure, id, err)
		l.metrics.observeDelivery(string(resource.KindProcedure), "auth", err)
		return nil, err
	}
	if err := l.verify(p.Config.WebhookSecret, headers, body); err != nil {
		l.metrics.observeDelivery(string(resource.KindProcedure), "auth", err)
		return nil, err
	}
	return p, nil
}

// HandleProcedure runs the procedure when the pushed branch equals
// targetBranch, the branch the webhook URL was registered with.
func (l *Listener) HandleProcedure(ctx context.Context, p *resource.Procedure, targetBranch string, body []byte) (update *execute.Update, err error) {
	defer func() { l.finish(resource.KindProcedure, "run", p.ID, update, err) }()

	branch, parseErr := ExtractBranch(body)

	unlock := l.lock(&l.procedureLocks, resource.KindProcedure, p.ID)
	defer unlock()

	current, err := l.resources.GetProcedure(ctx, p.ID)
	if err != nil {
		return nil, notFound(resource.KindProcedure, p.ID, err)
	}
	if !current.Config.WebhookEnabled {
		return nil, fmt.Errorf("procedure %q: %w", current.ID, ErrWebhookDisabled)
	}
	if parseErr != nil {
		return nil, parseErr
	}
	if branch != targetBranch {
		return nil, fmt.Errorf("%w: got %q, want %q", ErrBranchMismatch, branch, targetBranch)
	}

	return l.handoff.Execute(ctx, execute.RunProcedure{Procedure: current.ID}, execute.WebhookUser(), body)
}

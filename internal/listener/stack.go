package listener

import (
	"context"
	"fmt"
	"net/http"

	"github.com/mattjoyce/deployhook/internal/execute"
	"github.com/mattjoyce/deployhook/internal/resource"
)

// AuthStack loads the stack and verifies the delivery signature.
func (l *Listener) AuthStack(ctx context.Context, id string, headers http.Header, body []byte) (*resource.Stack, error) {
	st, err := l.resources.GetStack(ctx, id)
	if err != nil {
		err = notFound(resource.KindStack, id, err)
		l.metrics.observeDelivery(string(resource.KindStack), "auth", err)
		return nil, err
	}
	if err := l.verify(st.Config.WebhookSecret, headers, body); err != nil {
		l.metrics.observeDelivery(string(resource.KindStack), "auth", err)
		return nil, err
	}
	return st, nil
}

// HandleStackRefresh refreshes the stack's cached compose source.
func (l *Listener) HandleStackRefresh(ctx context.Context, st *resource.Stack, body []byte) (*execute.Update, error) {
	return l.handleStack(ctx, st, "refresh", body, func(current *resource.Stack) execute.Request {
		return execute.RefreshStackCache{Stack: current.ID}
	})
}

// HandleStackDeploy deploys the stack. With webhook_force_deploy the deploy
// is unconditional; otherwise the engine deploys only if the stack changed.
func (l *Listener) HandleStackDeploy(ctx context.Context, st *resource.Stack, body []byte) (*execute.Update, error) {
	return l.handleStack(ctx, st, "deploy", body, func(current *resource.Stack) execute.Request {
		if current.Config.WebhookForceDeploy {
			return execute.DeployStack{Stack: current.ID}
		}
		return execute.DeployStackIfChanged{Stack: current.ID}
	})
}

// handleStack applies the checks shared by both stack entry points under the
// stack's lock, then dispatches the request chosen from the fresh stack.
func (l *Listener) handleStack(ctx context.Context, st *resource.Stack, action string, body []byte, choose func(*resource.Stack) execute.Request) (update *execute.Update, err error) {
	defer func() { l.finish(resource.KindStack, action, st.ID, update, err) }()

	branch, parseErr := ExtractBranch(body)

	unlock := l.lock(&l.stackLocks, resource.KindStack, st.ID)
	defer unlock()

	current, err := l.resources.GetStack(ctx, st.ID)
	if err != nil {
		return nil, notFound(resource.KindStack, st.ID, err)
	}
	if !current.Config.WebhookEnabled {
		return nil, fmt.Errorf("stack %q: %w", current.ID, ErrWebhookDisabled)
	}
	if parseErr != nil {
		return nil, parseErr
	}
	if branch != current.Config.Branch {
		return nil, fmt.Errorf("%w: got %q, want %q", ErrBranchMismatch, branch, current.Config.Branch)
	}

	return l.handoff.Execute(ctx, choose(current), execute.WebhookUser(), body)
}

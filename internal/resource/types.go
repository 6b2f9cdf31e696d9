package resource

import "errors"

// Kind names a webhook-triggerable resource type.
type Kind string

const (
	KindProcedure Kind = "procedure"
	KindStack     Kind = "stack"
)

// ErrNotFound is returned when no resource exists for the requested id.
var ErrNotFound = errors.New("resource not found")

// ProcedureConfig holds the webhook settings of a procedure.
type ProcedureConfig struct {
	WebhookEnabled bool
	WebhookSecret  string
}

// Procedure is a multi-step runnable resource.
type Procedure struct {
	ID     string
	Name   string
	Config ProcedureConfig
}

// StackConfig holds the webhook and source settings of a stack.
type StackConfig struct {
	// Branch is the git branch the stack deploys from.
	Branch             string
	WebhookEnabled     bool
	WebhookSecret      string
	WebhookForceDeploy bool
}

// Stack is a deployable compose stack.
type Stack struct {
	ID     string
	Name   string
	Config StackConfig
}

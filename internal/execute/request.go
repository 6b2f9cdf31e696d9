package execute

import "github.com/mattjoyce/deployhook/internal/resource"

// Target identifies the resource an action operates on.
type Target struct {
	Kind resource.Kind `json:"kind"`
	ID   string        `json:"id"`
}

// Request is a closed set of execution requests. Only the variants declared
// in this file satisfy it.
type Request interface {
	// Operation is the stable operation name recorded on updates and jobs.
	Operation() string
	Target() Target
	isRequest()
}

// RunProcedure runs every stage of a procedure.
type RunProcedure struct {
	Procedure string `json:"procedure"`
}

// DeployStack deploys a stack unconditionally.
type DeployStack struct {
	Stack string `json:"stack"`
	// StopTime overrides the container stop timeout in seconds. Nil uses the engine default.
	StopTime *int `json:"stop_time,omitempty"`
}

// DeployStackIfChanged deploys a stack only when the engine detects a change.
type DeployStackIfChanged struct {
	Stack    string `json:"stack"`
	StopTime *int   `json:"stop_time,omitempty"`
}

// RefreshStackCache re-reads the stack's compose source.
type RefreshStackCache struct {
	Stack string `json:"stack"`
}

func (RunProcedure) Operation() string         { return "RunProcedure" }
func (DeployStack) Operation() string          { return "DeployStack" }
func (DeployStackIfChanged) Operation() string { return "DeployStackIfChanged" }
func (RefreshStackCache) Operation() string    { return "RefreshStackCache" }

func (r RunProcedure) Target() Target {
	return Target{Kind: resource.KindProcedure, ID: r.Procedure}
}

func (r DeployStack) Target() Target {
	return Target{Kind: resource.KindStack, ID: r.Stack}
}

func (r DeployStackIfChanged) Target() Target {
	return Target{Kind: resource.KindStack, ID: r.Stack}
}

func (r RefreshStackCache) Target() Target {
	return Target{Kind: resource.KindStack, ID: r.Stack}
}

func (RunProcedure) isRequest()         {}
func (DeployStack) isRequest()          {}
func (DeployStackIfChanged) isRequest() {}
func (RefreshStackCache) isRequest()    {}

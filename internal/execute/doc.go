// Package execute hands webhook-triggered actions to the execution engine.
//
// Every action is described by a Request variant (RunProcedure, DeployStack,
// DeployStackIfChanged, RefreshStackCache). The Handoff first persists an
// Update record for the action and only then invokes the Engine, so no
// action ever runs without an audit trail:
//
//	update, err := handoff.Execute(ctx, execute.DeployStackIfChanged{Stack: id}, execute.WebhookUser(), body)
//
// The Handoff makes a single attempt. Failures in either step are returned
// as *EngineError.
package execute

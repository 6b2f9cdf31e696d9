// Package webhook serves the git provider webhook routes for procedures and stacks.
//
// # Routes
//
//	POST /listener/github/procedure/{id}/{branch}
//	POST /listener/github/stack/{id}/refresh
//	POST /listener/github/stack/{id}/deploy
//	GET  /healthz
//	GET  /metrics (when enabled)
//
// # Request Flow
//
//  1. Body read up to max_body_size (reject with 413 if larger)
//  2. Resource looked up and signature verified (404 / 401)
//  3. Dispatch policy applied under the resource's lock
//  4. 202 Accepted returned with update_id
//
// Deliveries that are understood but not acted on (webhook disabled, branch
// mismatch) answer 200 with status "ignored". A payload without a usable ref
// answers 200 with status "rejected", so the provider does not retry it.
//
// In async mode the server answers 202 right after authentication and runs
// step 3 in the background. Shutdown waits for those deliveries to finish.
package webhook

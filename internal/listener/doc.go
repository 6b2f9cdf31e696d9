// Package listener decides whether an authenticated webhook delivery should
// trigger an action on a procedure or stack, and hands the action off.
//
// # Request Flow
//
//  1. Authenticate: load the resource and verify the HMAC-SHA256 signature
//     of the raw body. Unknown resources yield ErrNotFound, bad signatures
//     ErrUnauthorized. The lock registry is never touched on failure.
//  2. Extract the branch from the payload "ref" field (no lock held).
//  3. Acquire the per-resource mutex. Procedures and stacks use separate
//     registries.
//  4. Re-read the resource, then check webhook_enabled and the branch.
//  5. Hand exactly one execution request to the execute.Handoff.
//
// Deliveries for the same resource id are mutually exclusive from step 4
// through the engine call. No ordering is guaranteed between ids, and the
// mutex gives no fairness guarantee.
package listener

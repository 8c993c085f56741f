// Package engine awards badges and founder ranks from activity events.
//
// Components:
//   - Allocator: issues the next rank of a finite pool to an eligible user
//   - Tracker: applies metric deltas and reports threshold crossings
//   - Ledger: the only runtime write path for awards
//   - Dispatcher: drives an event through validation and one apply
//     transaction, with retries and a dead-letter escape
//   - Query: read-only badge showcase, next achievable badges, pool status
//
// # Event lifecycle
//
//	Received -> Validated -> Applied -> Committed
//	Received -> Rejected
//	Received -> Validated -> Applied -> Duplicate
//	Received -> Validated -> Applied (retries exhausted) -> DeadLettered
//
// Event ids are claimed in the same transaction that applies the event, so
// redelivery of an applied event is a Duplicate no-op.
//
// # Routing
//
//	registration_completed  rank allocation in every pool
//	project_completed       completed_projects += delta
//	rating_received         five_star_ratings += delta
//	identity_verified       verified_identity += delta
//
// An event's metric overrides the default metric; delta defaults to 1.
//
// # Outcomes and errors
//
// NotEligible, PoolExhausted, AlreadyRanked, AlreadyGranted, Rejected, and
// Duplicate are values. Dispatch returns an error only when it cannot reach
// a terminal state at all.
package engine

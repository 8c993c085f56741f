// Package harness runs YAML conformance scenarios against a real engine.
//
// A scenario names a catalog, seeds a user directory, and dispatches a
// sequence of events. Each step may carry an expect clause checked against
// its outcome; assertions then check the whole run and the final store.
//
//	name: founder_rank_one
//	description: "The first eligible registration takes rank 1"
//	users:
//	  - {id: alice, category: regular}
//	steps:
//	  - event: {eventId: r1, userId: alice, type: registration_completed}
//	    expect:
//	      state: committed
//	      allocation: {pool: founder, status: allocated, rank: 1, badge: founder_first}
//	  - concurrent_registrations: {prefix: u, count: 150, category: regular}
//	assertions:
//	  - {type: ranks_contiguous, pool: founder, count: 100}
//	  - {type: pool_status, pool: founder, issued: 100, exhausted: true}
//
// # Assertion Types
//
//   - outcome_count: events that ended in a given state
//   - allocation_count: allocations in a pool with a given status
//   - award_count: holders of a badge, or of every badge in a rank family
//   - ranks_contiguous: a pool holds ranks 1..N, one per user
//   - progress: a user's metric value
//   - user_badges: a user's badges in grant order
//   - pool_status: a pool's issued count and exhaustion
//
// # Determinism
//
// Every run gets a fresh SQLite file, testutil.DeterministicClock and
// sequential trace ids, so traces compare byte for byte against golden
// files. Concurrent steps record aggregate counts only.
package harness

// Package store provides SQLite-backed durable storage for the award engine.
//
// Tables:
//   - rank_pools: one counter row per rank pool (next_rank, max_rank)
//   - rank_assignments: which user holds which rank, UNIQUE(pool, user_id)
//   - awards: the ledger, UNIQUE(user_id, badge_id)
//   - user_progress: cumulative metric values per user
//   - processed_events: event-id de-duplication log
//   - dead_letters: events that exhausted their retry budget
//   - award_corrections: audit trail of administrative corrections
//
// # Invariants
//
// Uniqueness is enforced by constraints, not by callers. Writes use
// INSERT ... ON CONFLICT DO NOTHING and report whether a row was inserted, so
// a lost race is an ordinary result rather than an error.
//
// A pool's counter row is its only serialization point. Tx.AdvancePool
// increments it with a guarded UPDATE, so an exhausted pool is never mutated.
// When a rank cannot be assigned, Tx.Savepoint rolls the increment back
// together with the assignment.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//   - _txlock=immediate: Writers take the lock at BEGIN
//
// Award metadata is stored as canonical JSON (see internal/canon).
package store

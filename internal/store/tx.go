package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Tx is one unit of work against the award store. Everything written through
// a Tx commits or rolls back together.
//
// A Tx holds the store's only write connection: code running inside WithTx
// must use the Tx and never call back into the Store.
type Tx struct {
	tx *sql.Tx
}

// WithTx runs fn inside a transaction. The transaction commits if fn returns
// nil and rolls back otherwise, including on panic.
func (s *Store) WithTx(ctx context.Context, fn func(*Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if err := fn(&Tx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Savepoint runs fn inside a named savepoint. When fn returns keep=false or
// an error, everything written since the savepoint is undone while the
// enclosing transaction stays open.
func (t *Tx) Savepoint(ctx context.Context, name string, fn func() (keep bool, err error)) error {
	if _, err := t.tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("savepoint %s: %w", name, err)
	}

	keep, err := fn()
	if err != nil || !keep {
		if _, rerr := t.tx.ExecContext(ctx, "ROLLBACK TO "+name); rerr != nil {
			return errors.Join(err, fmt.Errorf("rollback to %s: %w", name, rerr))
		}
	}
	if _, rerr := t.tx.ExecContext(ctx, "RELEASE "+name); rerr != nil {
		return errors.Join(err, fmt.Errorf("release %s: %w", name, rerr))
	}
	return err
}

// ClaimEvent records an event id in the de-duplication log. It returns false
// if the id was already claimed, in which case the caller must not apply the
// event again.
func (t *Tx) ClaimEvent(ctx context.Context, ev ProcessedEvent) (bool, error) {
	result, err := t.tx.ExecContext(ctx, `
		INSERT INTO processed_events (event_id, user_id, type, outcome, processed_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(event_id) DO NOTHING
	`, ev.EventID, ev.UserID, ev.Type, ev.Outcome, toNanos(ev.ProcessedAt))
	if err != nil {
		return false, fmt.Errorf("claim event: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim event: rows affected: %w", err)
	}
	return n > 0, nil
}

// SetEventOutcome stores the terminal outcome of a claimed event.
func (t *Tx) SetEventOutcome(ctx context.Context, eventID, outcome string) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE processed_events SET outcome = ? WHERE event_id = ?`, outcome, eventID)
	if err != nil {
		return fmt.Errorf("set event outcome: %w", err)
	}
	return nil
}

// PoolCounter reads a pool's counter within the transaction.
func (t *Tx) PoolCounter(ctx context.Context, pool string) (PoolCounter, error) {
	return scanPoolCounter(t.tx.QueryRowContext(ctx,
		`SELECT pool, next_rank, max_rank FROM rank_pools WHERE pool = ?`, pool))
}

// AdvancePool takes the next rank from a pool and returns it. The update is
// guarded by next_rank <= max_rank, so an exhausted pool is left untouched
// and ErrPoolExhausted is returned.
func (t *Tx) AdvancePool(ctx context.Context, pool string) (int64, error) {
	var rank int64
	err := t.tx.QueryRowContext(ctx, `
		UPDATE rank_pools
		SET next_rank = next_rank + 1
		WHERE pool = ? AND next_rank <= max_rank
		RETURNING next_rank - 1
	`, pool).Scan(&rank)
	if errors.Is(err, sql.ErrNoRows) {
		if _, perr := t.PoolCounter(ctx, pool); perr != nil {
			return 0, fmt.Errorf("advance pool %s: %w", pool, perr)
		}
		return 0, ErrPoolExhausted
	}
	if err != nil {
		return 0, fmt.Errorf("advance pool %s: %w", pool, err)
	}
	return rank, nil
}

// AssignRank records a rank holder. It returns false when the user already
// holds a rank in the pool.
func (t *Tx) AssignRank(ctx context.Context, a RankAssignment) (bool, error) {
	result, err := t.tx.ExecContext(ctx, `
		INSERT INTO rank_assignments (pool, rank, user_id, badge_id, assigned_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(pool, user_id) DO NOTHING
	`, a.Pool, a.Rank, a.UserID, a.BadgeID, toNanos(a.AssignedAt))
	if err != nil {
		return false, fmt.Errorf("assign rank: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("assign rank: rows affected: %w", err)
	}
	return n > 0, nil
}

// InsertAward writes an award row. The (user_id, badge_id) uniqueness
// constraint decides whether the grant is new: on conflict nothing is written
// and inserted is false.
func (t *Tx) InsertAward(ctx context.Context, a Award) (id int64, inserted bool, err error) {
	meta, err := marshalMetadata(a.Metadata)
	if err != nil {
		return 0, false, fmt.Errorf("insert award: %w", err)
	}

	result, err := t.tx.ExecContext(ctx, `
		INSERT INTO awards (user_id, badge_id, granted_at, metadata)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, badge_id) DO NOTHING
	`, a.UserID, a.BadgeID, toNanos(a.GrantedAt), meta)
	if err != nil {
		return 0, false, fmt.Errorf("insert award: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("insert award: rows affected: %w", err)
	}
	if n == 0 {
		return 0, false, nil
	}

	id, err = result.LastInsertId()
	if err != nil {
		return 0, false, fmt.Errorf("insert award: last insert id: %w", err)
	}
	return id, true, nil
}

// Revoked reports whether the latest administrative correction for
// (userID, badgeID) is a revoke. A later grant correction lifts it.
func (t *Tx) Revoked(ctx context.Context, userID, badgeID string) (bool, error) {
	var action string
	err := t.tx.QueryRowContext(ctx, `
		SELECT action FROM award_corrections
		WHERE user_id = ? AND badge_id = ?
		ORDER BY id DESC
		LIMIT 1
	`, userID, badgeID).Scan(&action)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("revoked: %w", err)
	}
	return CorrectionAction(action) == CorrectionRevoke, nil
}

// AddProgress adds delta to a user's metric and returns the new value.
// A missing row starts from zero.
func (t *Tx) AddProgress(ctx context.Context, userID, metric string, delta int64, at time.Time) (int64, error) {
	if delta < 0 {
		return 0, fmt.Errorf("add progress: negative delta %d", delta)
	}
	var value int64
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO user_progress (user_id, metric, current_value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, metric) DO UPDATE SET
			current_value = current_value + excluded.current_value,
			updated_at = excluded.updated_at
		RETURNING current_value
	`, userID, metric, delta, toNanos(at)).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("add progress: %w", err)
	}
	return value, nil
}

// Progress returns a user's current value for a metric, or zero.
func (t *Tx) Progress(ctx context.Context, userID, metric string) (int64, error) {
	return queryProgressValue(ctx, t.tx, userID, metric)
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryProgressValue(ctx context.Context, q queryer, userID, metric string) (int64, error) {
	var value int64
	err := q.QueryRowContext(ctx,
		`SELECT current_value FROM user_progress WHERE user_id = ? AND metric = ?`,
		userID, metric).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query progress: %w", err)
	}
	return value, nil
}

func scanPoolCounter(row *sql.Row) (PoolCounter, error) {
	var p PoolCounter
	err := row.Scan(&p.Pool, &p.NextRank, &p.MaxRank)
	if errors.Is(err, sql.ErrNoRows) {
		return PoolCounter{}, ErrNotFound
	}
	if err != nil {
		return PoolCounter{}, fmt.Errorf("scan pool: %w", err)
	}
	return p, nil
}

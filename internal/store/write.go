package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// EnsurePool creates a pool counter if it does not exist and returns the
// stored counter. An existing pool is never modified, so callers can compare
// the returned MaxRank with the one they expect.
func (s *Store) EnsurePool(ctx context.Context, pool string, maxRank int64) (PoolCounter, error) {
	var p PoolCounter
	err := s.WithTx(ctx, func(tx *Tx) error {
		_, err := tx.tx.ExecContext(ctx, `
			INSERT INTO rank_pools (pool, next_rank, max_rank)
			VALUES (?, 1, ?)
			ON CONFLICT(pool) DO NOTHING
		`, pool, maxRank)
		if err != nil {
			return err
		}
		p, err = tx.PoolCounter(ctx, pool)
		return err
	})
	if err != nil {
		return PoolCounter{}, fmt.Errorf("ensure pool %s: %w", pool, err)
	}
	return p, nil
}

// SetMeta stores a metadata value, replacing any previous one.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("set meta %s: %w", key, err)
	}
	return nil
}

// WriteDeadLetter parks an event that exhausted its retry budget and returns
// the dead letter id.
func (s *Store) WriteDeadLetter(ctx context.Context, dl DeadLetter) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO dead_letters (event_id, payload, error, attempts, failed_at)
		VALUES (?, ?, ?, ?, ?)
	`, dl.EventID, dl.Payload, dl.Error, dl.Attempts, toNanos(dl.FailedAt))
	if err != nil {
		return 0, fmt.Errorf("write dead letter: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("write dead letter: last insert id: %w", err)
	}
	return id, nil
}

// ResolveDeadLetter marks a dead letter as handled. Resolving twice is a
// no-op that keeps the first resolution time.
func (s *Store) ResolveDeadLetter(ctx context.Context, id int64, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE dead_letters SET resolved_at = COALESCE(resolved_at, ?) WHERE id = ?
	`, toNanos(at), id)
	if err != nil {
		return fmt.Errorf("resolve dead letter %d: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("resolve dead letter %d: rows affected: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("resolve dead letter %d: %w", id, ErrNotFound)
	}
	return nil
}

// CorrectAward applies an administrative correction and its audit record in
// one transaction.
//
// A revoke deletes the award row but leaves any rank assignment in place: a
// revoked rank is never returned to its pool. A grant inserts the award with
// metadata pointing at the correction. Revoking a missing award or granting
// an existing one fails without writing the audit record.
func (s *Store) CorrectAward(ctx context.Context, c Correction) error {
	if c.Actor == "" || c.Reason == "" {
		return errors.New("correct award: actor and reason are required")
	}
	if c.CorrectionID == "" {
		return errors.New("correct award: correction id is required")
	}

	return s.WithTx(ctx, func(tx *Tx) error {
		switch c.Action {
		case CorrectionRevoke:
			result, err := tx.tx.ExecContext(ctx,
				`DELETE FROM awards WHERE user_id = ? AND badge_id = ?`, c.UserID, c.BadgeID)
			if err != nil {
				return fmt.Errorf("correct award: revoke: %w", err)
			}
			n, err := result.RowsAffected()
			if err != nil {
				return fmt.Errorf("correct award: revoke: %w", err)
			}
			if n == 0 {
				return fmt.Errorf("correct award: %s does not hold %s: %w", c.UserID, c.BadgeID, ErrNotFound)
			}
		case CorrectionGrant:
			_, inserted, err := tx.InsertAward(ctx, Award{
				UserID:    c.UserID,
				BadgeID:   c.BadgeID,
				GrantedAt: c.CorrectedAt,
				Metadata:  map[string]any{"correction_id": c.CorrectionID},
			})
			if err != nil {
				return fmt.Errorf("correct award: %w", err)
			}
			if !inserted {
				return fmt.Errorf("correct award: %s already holds %s", c.UserID, c.BadgeID)
			}
		default:
			return fmt.Errorf("correct award: unknown action %q", c.Action)
		}

		_, err := tx.tx.ExecContext(ctx, `
			INSERT INTO award_corrections
			(correction_id, user_id, badge_id, action, actor, reason, corrected_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, c.CorrectionID, c.UserID, c.BadgeID, string(c.Action), c.Actor, c.Reason, toNanos(c.CorrectedAt))
		if err != nil {
			return fmt.Errorf("correct award: audit: %w", err)
		}
		return nil
	})
}

func nullableTime(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"maps"
	"slices"
)

// Meta returns a metadata value. ok is false if the key was never set.
func (s *Store) Meta(ctx context.Context, key string) (value string, ok bool, err error) {
	err = s.reader.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read meta %s: %w", key, err)
	}
	return value, true, nil
}

// UserAwards returns a user's awards ordered by grant time, then id.
//
// Returns an empty slice (not nil) if the user holds no awards.
func (s *Store) UserAwards(ctx context.Context, userID string) ([]Award, error) {
	return queryUserAwards(ctx, s.reader, userID)
}

func queryUserAwards(ctx context.Context, q queryer, userID string) ([]Award, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, user_id, badge_id, granted_at, metadata
		FROM awards
		WHERE user_id = ?
		ORDER BY granted_at ASC, id ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query awards: %w", err)
	}
	defer rows.Close()

	awards := []Award{}
	for rows.Next() {
		var (
			a         Award
			grantedAt int64
			meta      string
		)
		if err := rows.Scan(&a.ID, &a.UserID, &a.BadgeID, &grantedAt, &meta); err != nil {
			return nil, fmt.Errorf("scan award: %w", err)
		}
		a.GrantedAt = fromNanos(grantedAt)
		if a.Metadata, err = unmarshalMetadata(meta); err != nil {
			return nil, err
		}
		awards = append(awards, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate awards: %w", err)
	}
	return awards, nil
}

// AwardCounts returns the number of holders of every badge that has at
// least one award.
func (s *Store) AwardCounts(ctx context.Context) (map[string]int64, error) {
	rows, err := s.reader.QueryContext(ctx, `
		SELECT badge_id, COUNT(*) FROM awards GROUP BY badge_id ORDER BY badge_id
	`)
	if err != nil {
		return nil, fmt.Errorf("query award counts: %w", err)
	}
	defer rows.Close()

	counts := map[string]int64{}
	for rows.Next() {
		var (
			badge string
			n     int64
		)
		if err := rows.Scan(&badge, &n); err != nil {
			return nil, fmt.Errorf("scan award count: %w", err)
		}
		counts[badge] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate award counts: %w", err)
	}
	return counts, nil
}

// UserProgress returns every metric value recorded for a user, ordered by
// metric name.
func (s *Store) UserProgress(ctx context.Context, userID string) ([]Progress, error) {
	return queryUserProgress(ctx, s.reader, userID)
}

func queryUserProgress(ctx context.Context, q queryer, userID string) ([]Progress, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT user_id, metric, current_value, updated_at
		FROM user_progress
		WHERE user_id = ?
		ORDER BY metric COLLATE BINARY ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query progress: %w", err)
	}
	defer rows.Close()

	progress := []Progress{}
	for rows.Next() {
		var (
			p         Progress
			updatedAt int64
		)
		if err := rows.Scan(&p.UserID, &p.Metric, &p.Value, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan progress: %w", err)
		}
		p.UpdatedAt = fromNanos(updatedAt)
		progress = append(progress, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate progress: %w", err)
	}
	return progress, nil
}

// UserStanding returns a user's awards, progress, and revoked badges read
// from one snapshot, so a commit landing mid-read cannot pair new progress
// with stale awards.
func (s *Store) UserStanding(ctx context.Context, userID string) (Standing, error) {
	tx, err := s.reader.BeginTx(ctx, nil)
	if err != nil {
		return Standing{}, fmt.Errorf("user standing: begin: %w", err)
	}
	defer tx.Rollback()

	var st Standing
	if st.Awards, err = queryUserAwards(ctx, tx, userID); err != nil {
		return Standing{}, fmt.Errorf("user standing: %w", err)
	}
	if st.Progress, err = queryUserProgress(ctx, tx, userID); err != nil {
		return Standing{}, fmt.Errorf("user standing: %w", err)
	}
	if st.Revoked, err = queryRevoked(ctx, tx, userID); err != nil {
		return Standing{}, fmt.Errorf("user standing: %w", err)
	}
	return st, nil
}

// queryRevoked returns the badges whose latest correction for userID is a
// revoke, sorted.
func queryRevoked(ctx context.Context, q queryer, userID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT c.badge_id
		FROM award_corrections c
		WHERE c.user_id = ?
		  AND c.action = 'revoke'
		  AND c.id = (
			SELECT MAX(id) FROM award_corrections
			WHERE user_id = c.user_id AND badge_id = c.badge_id
		  )
		ORDER BY c.badge_id COLLATE BINARY ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query revoked: %w", err)
	}
	defer rows.Close()

	revoked := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan revoked: %w", err)
		}
		revoked = append(revoked, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate revoked: %w", err)
	}
	return revoked, nil
}

// ProgressValue returns a user's value for one metric, or zero.
func (s *Store) ProgressValue(ctx context.Context, userID, metric string) (int64, error) {
	return queryProgressValue(ctx, s.reader, userID, metric)
}

// Pool returns a pool's counter, or ErrNotFound.
func (s *Store) Pool(ctx context.Context, pool string) (PoolCounter, error) {
	return scanPoolCounter(s.reader.QueryRowContext(ctx,
		`SELECT pool, next_rank, max_rank FROM rank_pools WHERE pool = ?`, pool))
}

// Pools returns every pool counter ordered by name.
func (s *Store) Pools(ctx context.Context) ([]PoolCounter, error) {
	rows, err := s.reader.QueryContext(ctx, `
		SELECT pool, next_rank, max_rank FROM rank_pools ORDER BY pool COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query pools: %w", err)
	}
	defer rows.Close()

	pools := []PoolCounter{}
	for rows.Next() {
		var p PoolCounter
		if err := rows.Scan(&p.Pool, &p.NextRank, &p.MaxRank); err != nil {
			return nil, fmt.Errorf("scan pool: %w", err)
		}
		pools = append(pools, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pools: %w", err)
	}
	return pools, nil
}

// RankAssignments returns a pool's rank holders in rank order.
func (s *Store) RankAssignments(ctx context.Context, pool string) ([]RankAssignment, error) {
	rows, err := s.reader.QueryContext(ctx, `
		SELECT pool, rank, user_id, badge_id, assigned_at
		FROM rank_assignments
		WHERE pool = ?
		ORDER BY rank ASC
	`, pool)
	if err != nil {
		return nil, fmt.Errorf("query rank assignments: %w", err)
	}
	defer rows.Close()

	out := []RankAssignment{}
	for rows.Next() {
		var (
			a          RankAssignment
			assignedAt int64
		)
		if err := rows.Scan(&a.Pool, &a.Rank, &a.UserID, &a.BadgeID, &assignedAt); err != nil {
			return nil, fmt.Errorf("scan rank assignment: %w", err)
		}
		a.AssignedAt = fromNanos(assignedAt)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rank assignments: %w", err)
	}
	return out, nil
}

// AwardedBadgeIDs returns the sorted ids of badges currently held by at
// least one user.
func (s *Store) AwardedBadgeIDs(ctx context.Context) ([]string, error) {
	counts, err := s.AwardCounts(ctx)
	if err != nil {
		return nil, err
	}
	return slices.Sorted(maps.Keys(counts)), nil
}

// ProcessedEvent looks up an event in the de-duplication log.
func (s *Store) ProcessedEvent(ctx context.Context, eventID string) (ProcessedEvent, error) {
	var (
		ev          ProcessedEvent
		processedAt int64
	)
	err := s.reader.QueryRowContext(ctx, `
		SELECT event_id, user_id, type, outcome, processed_at
		FROM processed_events WHERE event_id = ?
	`, eventID).Scan(&ev.EventID, &ev.UserID, &ev.Type, &ev.Outcome, &processedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ProcessedEvent{}, ErrNotFound
	}
	if err != nil {
		return ProcessedEvent{}, fmt.Errorf("query processed event: %w", err)
	}
	ev.ProcessedAt = fromNanos(processedAt)
	return ev, nil
}

// DeadLetters returns dead letters in id order. Resolved entries are
// included only when all is true.
func (s *Store) DeadLetters(ctx context.Context, all bool) ([]DeadLetter, error) {
	query := `
		SELECT id, event_id, payload, error, attempts, failed_at, resolved_at
		FROM dead_letters`
	if !all {
		query += ` WHERE resolved_at IS NULL`
	}
	query += ` ORDER BY id ASC`

	rows, err := s.reader.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query dead letters: %w", err)
	}
	defer rows.Close()

	out := []DeadLetter{}
	for rows.Next() {
		dl, err := scanDeadLetter(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, dl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dead letters: %w", err)
	}
	return out, nil
}

// DeadLetter returns one dead letter, or ErrNotFound.
func (s *Store) DeadLetter(ctx context.Context, id int64) (DeadLetter, error) {
	rows, err := s.reader.QueryContext(ctx, `
		SELECT id, event_id, payload, error, attempts, failed_at, resolved_at
		FROM dead_letters WHERE id = ?
	`, id)
	if err != nil {
		return DeadLetter{}, fmt.Errorf("query dead letter: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return DeadLetter{}, fmt.Errorf("query dead letter: %w", err)
		}
		return DeadLetter{}, ErrNotFound
	}
	return scanDeadLetter(rows)
}

func scanDeadLetter(rows *sql.Rows) (DeadLetter, error) {
	var (
		dl       DeadLetter
		failedAt int64
		resolved sql.NullInt64
	)
	if err := rows.Scan(&dl.ID, &dl.EventID, &dl.Payload, &dl.Error, &dl.Attempts, &failedAt, &resolved); err != nil {
		return DeadLetter{}, fmt.Errorf("scan dead letter: %w", err)
	}
	dl.FailedAt = fromNanos(failedAt)
	dl.ResolvedAt = nullableTime(resolved)
	return dl, nil
}

// Corrections returns the audit trail of administrative corrections for a
// user, oldest first.
func (s *Store) Corrections(ctx context.Context, userID string) ([]Correction, error) {
	rows, err := s.reader.QueryContext(ctx, `
		SELECT correction_id, user_id, badge_id, action, actor, reason, corrected_at
		FROM award_corrections
		WHERE user_id = ?
		ORDER BY id ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query corrections: %w", err)
	}
	defer rows.Close()

	out := []Correction{}
	for rows.Next() {
		var (
			c           Correction
			action      string
			correctedAt int64
		)
		if err := rows.Scan(&c.CorrectionID, &c.UserID, &c.BadgeID, &action, &c.Actor, &c.Reason, &correctedAt); err != nil {
			return nil, fmt.Errorf("scan correction: %w", err)
		}
		c.Action = CorrectionAction(action)
		c.CorrectedAt = fromNanos(correctedAt)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate corrections: %w", err)
	}
	return out, nil
}

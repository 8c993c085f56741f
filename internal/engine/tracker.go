package engine

import (
	"context"
	"fmt"

	"github.com/roach88/laurels/internal/catalog"
	"github.com/roach88/laurels/internal/store"
)

// Tracker maintains per-user metric counters and reports threshold
// crossings.
type Tracker struct {
	catalog *catalog.Catalog
	clock   Clock
}

// NewTracker creates a tracker for the catalog's progress badges.
func NewTracker(c *catalog.Catalog, clock Clock) *Tracker {
	return &Tracker{catalog: c, clock: clock}
}

// RecordEvent adds delta to the user's metric inside tx and returns the new
// value with every progress badge on the metric whose threshold it reaches,
// lowest threshold first.
//
// Badges the user already holds are included: whether a grant is new is
// decided by the ledger insert, not here. A delta that crosses several
// thresholds reports all of them.
func (t *Tracker) RecordEvent(ctx context.Context, tx *store.Tx, userID, metric string, delta int64) (int64, []ThresholdCrossing, error) {
	if delta < 0 {
		return 0, nil, fmt.Errorf("record %s for %s: negative delta %d", metric, userID, delta)
	}

	value, err := tx.AddProgress(ctx, userID, metric, delta, t.clock.Now())
	if err != nil {
		return 0, nil, fmt.Errorf("record %s for %s: %w", metric, userID, err)
	}

	var crossed []ThresholdCrossing
	for _, b := range t.catalog.ThresholdBadges(metric) {
		if b.Qualification.(catalog.ProgressThreshold).Threshold > value {
			break
		}
		crossed = append(crossed, ThresholdCrossing{Badge: b, Value: value})
	}
	return value, crossed, nil
}

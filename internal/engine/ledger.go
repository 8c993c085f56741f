package engine

import (
	"context"
	"fmt"

	"github.com/roach88/laurels/internal/catalog"
	"github.com/roach88/laurels/internal/store"
)

// Ledger is the only runtime write path for awards.
//
// The (user, badge) uniqueness constraint is the source of truth: Grant never
// pre-checks, it inserts and reports whether the row was new.
type Ledger struct {
	clock Clock
}

// NewLedger creates a ledger stamping grants with clock.
func NewLedger(clock Clock) *Ledger {
	return &Ledger{clock: clock}
}

// Grant awards badge to userID inside tx. AlreadyGranted is a normal result.
//
// A badge revoked by an administrative correction counts as held: thresholds
// the user still meets must not hand it back.
func (l *Ledger) Grant(ctx context.Context, tx *store.Tx, userID string, badge catalog.Badge, metadata map[string]any) (GrantResult, error) {
	revoked, err := tx.Revoked(ctx, userID, badge.ID)
	if err != nil {
		return 0, fmt.Errorf("grant %s to %s: %w", badge.ID, userID, err)
	}
	if revoked {
		return AlreadyGranted, nil
	}

	_, inserted, err := tx.InsertAward(ctx, store.Award{
		UserID:    userID,
		BadgeID:   badge.ID,
		GrantedAt: l.clock.Now(),
		Metadata:  metadata,
	})
	if err != nil {
		return 0, fmt.Errorf("grant %s to %s: %w", badge.ID, userID, err)
	}
	if !inserted {
		return AlreadyGranted, nil
	}
	return Granted, nil
}

package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/laurels/internal/catalog"
	"github.com/roach88/laurels/internal/store"
)

// allocSavepoint scopes one allocation inside the dispatch transaction.
const allocSavepoint = "rank_alloc"

// Allocator issues ranks from finite pools.
//
// Each successful allocation takes the pool's next rank and writes the rank
// assignment and the family award in the same savepoint. If the user already
// holds a rank or the badge, the savepoint is rolled back so the increment
// is undone with it and no rank is consumed.
type Allocator struct {
	catalog *catalog.Catalog
	ledger  *Ledger
	clock   Clock
}

// NewAllocator creates an allocator for the catalog's pools.
func NewAllocator(c *catalog.Catalog, ledger *Ledger, clock Clock) *Allocator {
	return &Allocator{catalog: c, ledger: ledger, clock: clock}
}

// TryAllocate draws the next rank of pool for user.
//
// Eligibility is decided from the directory data passed in; the allocator
// never fetches it. NotEligible, PoolExhausted, and AlreadyRanked leave the
// store untouched. On Allocated, grant holds the classified award.
func (a *Allocator) TryAllocate(ctx context.Context, tx *store.Tx, pool catalog.Pool, user User, eventID string) (Allocation, *Grant, error) {
	alloc := Allocation{Pool: pool.Name}
	if !pool.IsEligible(user.Category) {
		alloc.Status = NotEligible
		return alloc, nil, nil
	}

	var grant *Grant
	err := tx.Savepoint(ctx, allocSavepoint, func() (bool, error) {
		rank, err := tx.AdvancePool(ctx, pool.Name)
		if errors.Is(err, store.ErrPoolExhausted) {
			alloc.Status = PoolExhausted
			return false, nil
		}
		if err != nil {
			return false, err
		}

		badge, cls, err := a.catalog.ClassifyRank(pool.Name, rank)
		if err != nil {
			return false, err
		}

		assigned, err := tx.AssignRank(ctx, store.RankAssignment{
			Pool:       pool.Name,
			Rank:       rank,
			UserID:     user.ID,
			BadgeID:    badge.ID,
			AssignedAt: a.clock.Now(),
		})
		if err != nil {
			return false, err
		}
		if !assigned {
			alloc.Status = AlreadyRanked
			return false, nil
		}

		metadata := map[string]any{
			"pool":     pool.Name,
			"rank":     rank,
			"event_id": eventID,
		}
		result, err := a.ledger.Grant(ctx, tx, user.ID, badge, metadata)
		if err != nil {
			return false, err
		}
		if result == AlreadyGranted {
			alloc.Status = AlreadyRanked
			return false, nil
		}

		alloc.Status = Allocated
		alloc.Rank = rank
		alloc.Badge = badge.ID
		grant = &Grant{BadgeID: badge.ID, Rarity: cls.Rarity, Points: cls.Points, Metadata: metadata}
		return true, nil
	})
	if err != nil {
		return Allocation{}, nil, fmt.Errorf("allocate %s for %s: %w", pool.Name, user.ID, err)
	}
	return alloc, grant, nil
}

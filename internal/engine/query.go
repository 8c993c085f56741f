package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/laurels/internal/catalog"
	"github.com/roach88/laurels/internal/store"
)

// Query is the read-only API for presentation. It reads through the store's
// query-only pool and never blocks writers.
type Query struct {
	store   *store.Store
	catalog *catalog.Catalog
}

// NewQuery creates a query service.
func NewQuery(s *store.Store, c *catalog.Catalog) *Query {
	return &Query{store: s, catalog: c}
}

// OwnedBadge is one entry of a user's showcase.
type OwnedBadge struct {
	BadgeID   string         `json:"badgeId"`
	Name      string         `json:"name"`
	Category  string         `json:"category"`
	Rarity    string         `json:"rarity"`
	Points    int64          `json:"points"`
	GrantedAt time.Time      `json:"grantedAt"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Achievable is a progress badge the user does not hold yet.
type Achievable struct {
	BadgeID         string `json:"badgeId"`
	Name            string `json:"name"`
	Metric          string `json:"metric"`
	ProgressCurrent int64  `json:"progressCurrent"`
	ProgressTarget  int64  `json:"progressTarget"`
	Rarity          string `json:"rarity"`
	Points          int64  `json:"points"`
}

// PoolStatus reports a pool's depletion.
type PoolStatus struct {
	Pool      string `json:"pool"`
	Issued    int64  `json:"issued"`
	MaxRank   int64  `json:"maxRank"`
	Remaining int64  `json:"remaining"`
	Exhausted bool   `json:"exhausted"`
}

// GetUserBadges returns the user's badges ordered by grant time. Awards for
// badges the catalog no longer defines keep their id as the name.
func (q *Query) GetUserBadges(ctx context.Context, userID string) ([]OwnedBadge, error) {
	awards, err := q.store.UserAwards(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user badges: %w", err)
	}

	out := make([]OwnedBadge, 0, len(awards))
	for _, a := range awards {
		owned := OwnedBadge{
			BadgeID:   a.BadgeID,
			Name:      a.BadgeID,
			GrantedAt: a.GrantedAt,
			Metadata:  a.Metadata,
		}
		if b, ok := q.catalog.Badge(a.BadgeID); ok {
			owned.Name = b.Name
			owned.Category = string(b.Category)
			owned.Rarity = b.Rarity.String()
			owned.Points = b.Points
		}
		out = append(out, owned)
	}
	return out, nil
}

// GetNextAchievable returns the progress badges the user has not been
// granted, with current progress, ordered by metric then threshold.
func (q *Query) GetNextAchievable(ctx context.Context, userID string) ([]Achievable, error) {
	st, err := q.store.UserStanding(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get next achievable: %w", err)
	}
	held := make(map[string]bool, len(st.Awards)+len(st.Revoked))
	for _, a := range st.Awards {
		held[a.BadgeID] = true
	}
	// A revoked badge is never regranted, so it is not achievable either.
	for _, id := range st.Revoked {
		held[id] = true
	}
	values := make(map[string]int64, len(st.Progress))
	for _, p := range st.Progress {
		values[p.Metric] = p.Value
	}

	out := []Achievable{}
	for _, b := range q.catalog.ProgressBadges() {
		if held[b.ID] {
			continue
		}
		pt := b.Qualification.(catalog.ProgressThreshold)
		out = append(out, Achievable{
			BadgeID:         b.ID,
			Name:            b.Name,
			Metric:          pt.Metric,
			ProgressCurrent: values[pt.Metric],
			ProgressTarget:  pt.Threshold,
			Rarity:          b.Rarity.String(),
			Points:          b.Points,
		})
	}
	return out, nil
}

// PoolStatus reports one pool. Returns store.ErrNotFound for a pool that was
// never created.
func (q *Query) PoolStatus(ctx context.Context, pool string) (PoolStatus, error) {
	p, err := q.store.Pool(ctx, pool)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return PoolStatus{}, fmt.Errorf("pool %q: %w", pool, err)
		}
		return PoolStatus{}, fmt.Errorf("pool status: %w", err)
	}
	return poolStatus(p), nil
}

// Pools reports every pool ordered by name.
func (q *Query) Pools(ctx context.Context) ([]PoolStatus, error) {
	pools, err := q.store.Pools(ctx)
	if err != nil {
		return nil, fmt.Errorf("pool status: %w", err)
	}
	out := make([]PoolStatus, len(pools))
	for i, p := range pools {
		out[i] = poolStatus(p)
	}
	return out, nil
}

func poolStatus(p store.PoolCounter) PoolStatus {
	return PoolStatus{
		Pool:      p.Pool,
		Issued:    p.Issued(),
		MaxRank:   p.MaxRank,
		Remaining: p.Remaining(),
		Exhausted: p.Exhausted(),
	}
}

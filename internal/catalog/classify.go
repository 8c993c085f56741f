package catalog

import "fmt"

// Classification is the tier and reward attached to a grant.
type Classification struct {
	Rarity Rarity
	Points int64
}

// Classify returns the rarity and points a grant of b carries.
//
// For a RankRange badge, rank is the allocated rank and must fall inside the
// badge's range. For a ProgressThreshold badge the tier is a fixed catalog
// attribute and rank is ignored. Classify does no I/O.
func Classify(b Badge, rank int64) (Classification, error) {
	switch q := b.Qualification.(type) {
	case RankRange:
		if !q.Contains(rank) {
			return Classification{}, fmt.Errorf("classify %s: rank %d outside [%d, %d]", b.ID, rank, q.Min, q.Max)
		}
		return Classification{Rarity: b.Rarity, Points: b.Points}, nil
	case ProgressThreshold:
		return Classification{Rarity: b.Rarity, Points: b.Points}, nil
	default:
		return Classification{}, fmt.Errorf("classify %s: unsupported qualification %T", b.ID, q)
	}
}

// BadgeForRank finds the badge of pool's family whose sub-range contains
// rank. Coverage validation guarantees a match for every rank in
// [1, max_rank].
func (c *Catalog) BadgeForRank(pool string, rank int64) (Badge, bool) {
	for _, b := range c.badges {
		if r, ok := b.Qualification.(RankRange); ok && r.Pool == pool && r.Contains(rank) {
			return b, true
		}
	}
	return Badge{}, false
}

// ClassifyRank resolves an allocated rank to its badge and tier.
func (c *Catalog) ClassifyRank(pool string, rank int64) (Badge, Classification, error) {
	b, ok := c.BadgeForRank(pool, rank)
	if !ok {
		return Badge{}, Classification{}, fmt.Errorf("no badge in pool %q covers rank %d", pool, rank)
	}
	cls, err := Classify(b, rank)
	if err != nil {
		return Badge{}, Classification{}, err
	}
	return b, cls, nil
}

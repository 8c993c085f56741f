package catalog

import (
	"cmp"
	"fmt"
	"slices"
)

// Rarity is a scarcity tier. Higher values are scarcer.
type Rarity int

const (
	RarityCommon Rarity = iota + 1
	RarityRare
	RarityEpic
	RarityLegendary
	RarityExclusive
)

var rarityNames = map[Rarity]string{
	RarityCommon:    "common",
	RarityRare:      "rare",
	RarityEpic:      "epic",
	RarityLegendary: "legendary",
	RarityExclusive: "exclusive",
}

func (r Rarity) String() string {
	if name, ok := rarityNames[r]; ok {
		return name
	}
	return fmt.Sprintf("rarity(%d)", int(r))
}

// ParseRarity maps a catalog rarity name to its tier.
func ParseRarity(s string) (Rarity, error) {
	for r, name := range rarityNames {
		if name == s {
			return r, nil
		}
	}
	return 0, fmt.Errorf("unknown rarity %q", s)
}

// Category groups badges for display and for the points/rarity rule.
type Category string

const (
	CategoryTrust       Category = "trust"
	CategoryPerformance Category = "performance"
	CategoryTrajectory  Category = "trajectory"
	CategorySkill       Category = "skill"
	CategoryExclusive   Category = "exclusive"
	CategoryCommunity   Category = "community"
)

// Qualification is the rule a user must satisfy to earn a badge.
// It is either a RankRange or a ProgressThreshold.
type Qualification interface {
	qualification()
}

// RankRange qualifies the holders of ranks [Min, Max] drawn from Pool.
type RankRange struct {
	Pool string
	Min  int64
	Max  int64
}

// Contains reports whether rank falls inside the range.
func (r RankRange) Contains(rank int64) bool {
	return rank >= r.Min && rank <= r.Max
}

func (r RankRange) String() string {
	return fmt.Sprintf("rank %s[%d..%d]", r.Pool, r.Min, r.Max)
}

// ProgressThreshold qualifies users whose Metric reaches Threshold.
type ProgressThreshold struct {
	Metric    string
	Threshold int64
}

func (p ProgressThreshold) String() string {
	return fmt.Sprintf("progress %s>=%d", p.Metric, p.Threshold)
}

func (RankRange) qualification()         {}
func (ProgressThreshold) qualification() {}

// Badge is an immutable catalog entry.
type Badge struct {
	ID            string
	Name          string
	Description   string
	Category      Category
	Rarity        Rarity
	Points        int64
	Qualification Qualification
}

// Pool is a finite, ordinally numbered rank pool.
type Pool struct {
	Name     string
	MaxRank  int64
	Eligible []string
}

// IsEligible reports whether users of the given directory category may draw
// a rank from the pool.
func (p Pool) IsEligible(category string) bool {
	return slices.Contains(p.Eligible, category)
}

// Catalog is a validated, versioned set of badge and pool definitions.
// It is safe for concurrent use; nothing mutates it after Load.
type Catalog struct {
	Version string
	// PointsMetric, when set, is the progress metric that accrues the points
	// of every granted badge.
	PointsMetric string
	// Hash fingerprints the catalog content.
	Hash string

	badges []Badge
	byID   map[string]int
	pools  []Pool
	byPool map[string]int
}

func newCatalog(version, pointsMetric string, pools []Pool, badges []Badge) *Catalog {
	c := &Catalog{
		Version:      version,
		PointsMetric: pointsMetric,
		badges:       badges,
		byID:         make(map[string]int, len(badges)),
		pools:        pools,
		byPool:       make(map[string]int, len(pools)),
	}
	for i, b := range badges {
		c.byID[b.ID] = i
	}
	for i, p := range pools {
		c.byPool[p.Name] = i
	}
	return c
}

// Badges returns all badges in declaration order.
func (c *Catalog) Badges() []Badge {
	return slices.Clone(c.badges)
}

// Badge looks up a badge by id.
func (c *Catalog) Badge(id string) (Badge, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Badge{}, false
	}
	return c.badges[i], true
}

// Pools returns all pools in declaration order.
func (c *Catalog) Pools() []Pool {
	return slices.Clone(c.pools)
}

// Pool looks up a pool by name.
func (c *Catalog) Pool(name string) (Pool, bool) {
	i, ok := c.byPool[name]
	if !ok {
		return Pool{}, false
	}
	return c.pools[i], true
}

// RankBadges returns the badge family drawing from pool, ordered by range.
func (c *Catalog) RankBadges(pool string) []Badge {
	var out []Badge
	for _, b := range c.badges {
		if r, ok := b.Qualification.(RankRange); ok && r.Pool == pool {
			out = append(out, b)
		}
	}
	slices.SortStableFunc(out, func(a, b Badge) int {
		return cmp.Compare(a.Qualification.(RankRange).Min, b.Qualification.(RankRange).Min)
	})
	return out
}

// ThresholdBadges returns the progress badges on metric, lowest threshold
// first.
func (c *Catalog) ThresholdBadges(metric string) []Badge {
	var out []Badge
	for _, b := range c.badges {
		if p, ok := b.Qualification.(ProgressThreshold); ok && p.Metric == metric {
			out = append(out, b)
		}
	}
	slices.SortStableFunc(out, compareThreshold)
	return out
}

// ProgressBadges returns every progress badge ordered by metric, then
// threshold.
func (c *Catalog) ProgressBadges() []Badge {
	var out []Badge
	for _, b := range c.badges {
		if _, ok := b.Qualification.(ProgressThreshold); ok {
			out = append(out, b)
		}
	}
	slices.SortStableFunc(out, func(a, b Badge) int {
		pa := a.Qualification.(ProgressThreshold)
		pb := b.Qualification.(ProgressThreshold)
		if c := cmp.Compare(pa.Metric, pb.Metric); c != 0 {
			return c
		}
		return compareThreshold(a, b)
	})
	return out
}

func compareThreshold(a, b Badge) int {
	return cmp.Compare(
		a.Qualification.(ProgressThreshold).Threshold,
		b.Qualification.(ProgressThreshold).Threshold,
	)
}

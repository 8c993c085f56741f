package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyRank_FounderTiers(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	tests := []struct {
		rank   int64
		badge  string
		rarity Rarity
		points int64
	}{
		{1, "founder_first", RarityLegendary, 500},
		{2, "founder_top10", RarityEpic, 300},
		{10, "founder_top10", RarityEpic, 300},
		{11, "founder_top25", RarityEpic, 200},
		{25, "founder_top25", RarityEpic, 200},
		{26, "founder_top75", RarityRare, 150},
		{75, "founder_top75", RarityRare, 150},
		{76, "founder_top100", RarityRare, 100},
		{100, "founder_top100", RarityRare, 100},
	}

	for _, tt := range tests {
		b, cls, err := c.ClassifyRank("founder", tt.rank)
		require.NoError(t, err, "rank %d", tt.rank)
		assert.Equal(t, tt.badge, b.ID, "rank %d", tt.rank)
		assert.Equal(t, tt.rarity, cls.Rarity, "rank %d", tt.rank)
		assert.Equal(t, tt.points, cls.Points, "rank %d", tt.rank)
	}
}

func TestClassifyRank_EveryRankMapsOnce(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	prev := int64(1 << 62)
	for rank := int64(1); rank <= 100; rank++ {
		matches := 0
		for _, b := range c.RankBadges("founder") {
			if b.Qualification.(RankRange).Contains(rank) {
				matches++
			}
		}
		require.Equal(t, 1, matches, "rank %d", rank)

		_, cls, err := c.ClassifyRank("founder", rank)
		require.NoError(t, err)
		assert.LessOrEqual(t, cls.Points, prev, "points never rise with a later rank")
		prev = cls.Points
	}
}

func TestClassifyRank_OutOfPool(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	for _, rank := range []int64{0, 101} {
		_, _, err := c.ClassifyRank("founder", rank)
		assert.Error(t, err, "rank %d", rank)
	}
	_, _, err = c.ClassifyRank("missing", 1)
	assert.Error(t, err)
}

func TestClassify_RankOutsideBadgeRange(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	b, ok := c.Badge("founder_top10")
	require.True(t, ok)
	_, err = Classify(b, 11)
	assert.Error(t, err)
}

func TestClassify_ProgressIgnoresRank(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	b, ok := c.Badge("verified")
	require.True(t, ok)
	cls, err := Classify(b, 0)
	require.NoError(t, err)
	assert.Equal(t, Classification{Rarity: RarityRare, Points: 50}, cls)
}

func TestClassify_NilQualification(t *testing.T) {
	_, err := Classify(Badge{ID: "broken"}, 1)
	assert.Error(t, err)
}

func TestCatalog_ThresholdBadges(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	var ids []string
	for _, b := range c.ThresholdBadges("completed_projects") {
		ids = append(ids, b.ID)
	}
	assert.Equal(t, []string{"first_project", "projects_5", "projects_10", "projects_25"}, ids)
	assert.Empty(t, c.ThresholdBadges("unknown"))
}

func TestRarity_RoundTrip(t *testing.T) {
	for _, r := range []Rarity{RarityCommon, RarityRare, RarityEpic, RarityLegendary, RarityExclusive} {
		parsed, err := ParseRarity(r.String())
		require.NoError(t, err)
		assert.Equal(t, r, parsed)
	}
	_, err := ParseRarity("mythic")
	assert.Error(t, err)
}

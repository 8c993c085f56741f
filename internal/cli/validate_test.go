package cli

import (
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const brokenCatalog = `
version: "broken"
pools: founder: {max_rank: 10, eligible: ["regular"]}
badges: {
	first: {name: "First", category: "exclusive", rarity: "legendary", points: 100, rank: {pool: "founder", min: 1, max: 1}}
	rest:  {name: "Rest", category: "exclusive", rarity: "rare", points: 10, rank: {pool: "founder", min: 3, max: 10}}
}
`

func TestValidate_DefaultCatalog(t *testing.T) {
	stdout, _, err := execute(t, &RootOptions{}, "validate")
	require.NoError(t, err)
	assert.Equal(t, "✓ Catalog 2024.1 valid (15 badges, 1 pools)\n", stdout)
}

func TestValidate_DefaultCatalogJSON(t *testing.T) {
	stdout, _, err := execute(t, &RootOptions{}, "--format", "json", "validate")
	require.NoError(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	assert.Equal(t, 15, resp.Data.Badges)
	assert.Len(t, resp.Data.Hash, 64)
}

func TestValidate_CoverageGap(t *testing.T) {
	path := writeFile(t, t.TempDir(), "broken.cue", brokenCatalog)

	stdout, _, err := execute(t, &RootOptions{}, "validate", "--catalog", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, stdout, "✗ Validation failed")
	assert.Contains(t, stdout, "E206: founder:")
}

func TestValidate_CoverageGapJSON(t *testing.T) {
	path := writeFile(t, t.TempDir(), "broken.cue", brokenCatalog)

	stdout, _, err := execute(t, &RootOptions{}, "--format", "json", "validate", "--catalog", path)
	require.Error(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
		Error  *CLIError        `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.False(t, resp.Data.Valid)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E206", resp.Error.Code)
}

func TestValidate_MissingFile(t *testing.T) {
	_, _, err := execute(t, &RootOptions{}, "validate", "--catalog", "/nonexistent/catalog.cue")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestCatalog_TextGolden(t *testing.T) {
	stdout, _, err := execute(t, &RootOptions{}, "catalog")
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "catalog", []byte(stdout))
}

func TestCatalog_JSON(t *testing.T) {
	stdout, _, err := execute(t, &RootOptions{}, "--format", "json", "catalog")
	require.NoError(t, err)

	var resp struct {
		Data CatalogView `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, "2024.1", resp.Data.Version)
	assert.Equal(t, "points", resp.Data.PointsMetric)
	require.Len(t, resp.Data.Pools, 1)
	assert.Equal(t, PoolView{Name: "founder", MaxRank: 100, Eligible: []string{"regular"}}, resp.Data.Pools[0])
	require.Len(t, resp.Data.Badges, 15)
	assert.Equal(t, BadgeView{
		ID: "founder_first", Name: "Founder #1", Category: "exclusive",
		Rarity: "legendary", Points: 500, Qualification: "rank founder[1..1]",
	}, resp.Data.Badges[0])
}

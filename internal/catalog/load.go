package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/roach88/laurels/internal/canon"
)

//go:embed schema.cue
var schemaSource string

//go:embed default.cue
var defaultSource []byte

// Default loads the catalog shipped with the binary.
func Default() (*Catalog, error) {
	return LoadBytes("default.cue", defaultSource)
}

// DefaultSource returns the CUE source of the shipped catalog.
func DefaultSource() []byte {
	return defaultSource
}

// LoadFile loads and validates a CUE catalog file.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return LoadBytes(path, data)
}

// LoadBytes compiles CUE catalog source, checks it against the #Catalog
// schema, and applies every integrity rule. Any violation fails the whole
// load: a partially valid catalog is never returned.
func LoadBytes(filename string, src []byte) (*Catalog, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile catalog schema: %w", err)
	}

	raw := ctx.CompileBytes(src, cue.Filename(filename))
	if err := raw.Err(); err != nil {
		return nil, fromCUE(err)
	}

	unified := schema.LookupPath(cue.ParsePath("#Catalog")).Unify(raw)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, fromCUE(err)
	}

	// Field order comes from the source value so badges keep declaration order.
	c, errs := compile(raw)
	if len(errs) == 0 {
		errs = Validate(c)
	}
	if len(errs) > 0 {
		joined := make([]error, len(errs))
		for i, e := range errs {
			joined[i] = e
		}
		return nil, errors.Join(joined...)
	}

	hash, err := canon.Hash(canon.DomainCatalog, c.canonical())
	if err != nil {
		return nil, fmt.Errorf("fingerprint catalog: %w", err)
	}
	c.Hash = hash
	return c, nil
}

// compile walks a schema-checked CUE value into a Catalog.
func compile(v cue.Value) (*Catalog, []*IntegrityError) {
	var errs []*IntegrityError

	version, _ := v.LookupPath(cue.ParsePath("version")).String()

	pointsMetric := ""
	if pm := v.LookupPath(cue.ParsePath("award_points_metric")); pm.Exists() {
		pointsMetric, _ = pm.String()
	}

	var pools []Pool
	if iter, err := v.LookupPath(cue.ParsePath("pools")).Fields(); err == nil {
		for iter.Next() {
			pv := iter.Value()
			maxRank, _ := pv.LookupPath(cue.ParsePath("max_rank")).Int64()
			var eligible []string
			if list, err := pv.LookupPath(cue.ParsePath("eligible")).List(); err == nil {
				for list.Next() {
					s, _ := list.Value().String()
					eligible = append(eligible, s)
				}
			}
			pools = append(pools, Pool{Name: iter.Label(), MaxRank: maxRank, Eligible: eligible})
		}
	}

	var badges []Badge
	iter, err := v.LookupPath(cue.ParsePath("badges")).Fields()
	if err != nil {
		return nil, []*IntegrityError{{Code: ErrCodeSchema, Message: err.Error(), Pos: v.Pos()}}
	}
	for iter.Next() {
		b, err := compileBadge(iter.Label(), iter.Value())
		if err != nil {
			errs = append(errs, err)
			continue
		}
		badges = append(badges, b)
	}

	return newCatalog(version, pointsMetric, pools, badges), errs
}

func compileBadge(id string, v cue.Value) (Badge, *IntegrityError) {
	b := Badge{ID: id}
	b.Name, _ = v.LookupPath(cue.ParsePath("name")).String()
	if d := v.LookupPath(cue.ParsePath("description")); d.Exists() {
		b.Description, _ = d.String()
	}
	category, _ := v.LookupPath(cue.ParsePath("category")).String()
	b.Category = Category(category)
	b.Points, _ = v.LookupPath(cue.ParsePath("points")).Int64()

	rarityName, _ := v.LookupPath(cue.ParsePath("rarity")).String()
	rarity, err := ParseRarity(rarityName)
	if err != nil {
		return Badge{}, &IntegrityError{Code: ErrCodeRarity, Badge: id, Message: err.Error(), Pos: v.Pos()}
	}
	b.Rarity = rarity

	rankVal := v.LookupPath(cue.ParsePath("rank"))
	progressVal := v.LookupPath(cue.ParsePath("progress"))

	switch {
	case rankVal.Exists() && progressVal.Exists():
		return Badge{}, &IntegrityError{
			Code:    ErrCodeQualification,
			Badge:   id,
			Message: "badge declares both rank and progress qualifications",
			Pos:     v.Pos(),
		}
	case rankVal.Exists():
		pool, _ := rankVal.LookupPath(cue.ParsePath("pool")).String()
		lo, _ := rankVal.LookupPath(cue.ParsePath("min")).Int64()
		hi, _ := rankVal.LookupPath(cue.ParsePath("max")).Int64()
		b.Qualification = RankRange{Pool: pool, Min: lo, Max: hi}
	case progressVal.Exists():
		metric, _ := progressVal.LookupPath(cue.ParsePath("metric")).String()
		threshold, _ := progressVal.LookupPath(cue.ParsePath("threshold")).Int64()
		b.Qualification = ProgressThreshold{Metric: metric, Threshold: threshold}
	default:
		return Badge{}, &IntegrityError{
			Code:    ErrCodeQualification,
			Badge:   id,
			Message: "badge declares neither a rank nor a progress qualification",
			Pos:     v.Pos(),
		}
	}
	return b, nil
}

// canonical renders the catalog for fingerprinting.
func (c *Catalog) canonical() map[string]any {
	pools := make(map[string]any, len(c.pools))
	for _, p := range c.pools {
		pools[p.Name] = map[string]any{
			"max_rank": p.MaxRank,
			"eligible": p.Eligible,
		}
	}
	badges := make([]any, 0, len(c.badges))
	for _, b := range c.badges {
		entry := map[string]any{
			"id":       b.ID,
			"name":     b.Name,
			"category": string(b.Category),
			"rarity":   b.Rarity.String(),
			"points":   b.Points,
		}
		switch q := b.Qualification.(type) {
		case RankRange:
			entry["rank"] = map[string]any{"pool": q.Pool, "min": q.Min, "max": q.Max}
		case ProgressThreshold:
			entry["progress"] = map[string]any{"metric": q.Metric, "threshold": q.Threshold}
		}
		badges = append(badges, entry)
	}
	return map[string]any{
		"version":       c.Version,
		"points_metric": c.PointsMetric,
		"pools":         pools,
		"badges":        badges,
	}
}

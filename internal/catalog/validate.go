package catalog

import (
	"fmt"
)

// Validate applies the catalog integrity rules and returns every violation
// found. An empty result means the catalog is safe to award from.
//
// Rules:
//   - at least one badge
//   - progress thresholds are non-negative
//   - rank badges reference an existing pool, with 1 <= min <= max <= max_rank
//   - each pool's rank badges form contiguous, non-overlapping sub-ranges
//     covering [1, max_rank]
//   - within a category, a scarcer rarity never carries fewer points
func Validate(c *Catalog) []*IntegrityError {
	var errs []*IntegrityError

	if len(c.badges) == 0 {
		errs = append(errs, &IntegrityError{Code: ErrCodeEmpty, Message: "catalog defines no badges"})
	}

	for _, b := range c.badges {
		switch q := b.Qualification.(type) {
		case ProgressThreshold:
			if q.Threshold < 0 {
				errs = append(errs, &IntegrityError{
					Code:    ErrCodeThreshold,
					Badge:   b.ID,
					Message: fmt.Sprintf("threshold %d is below zero", q.Threshold),
				})
			}
		case RankRange:
			pool, ok := c.Pool(q.Pool)
			if !ok {
				errs = append(errs, &IntegrityError{
					Code:    ErrCodeUnknownPool,
					Badge:   b.ID,
					Message: fmt.Sprintf("unknown pool %q", q.Pool),
				})
				continue
			}
			if q.Min < 1 || q.Min > q.Max || q.Max > pool.MaxRank {
				errs = append(errs, &IntegrityError{
					Code:    ErrCodeRankRange,
					Badge:   b.ID,
					Message: fmt.Sprintf("range [%d, %d] is not within [1, %d]", q.Min, q.Max, pool.MaxRank),
				})
			}
		default:
			errs = append(errs, &IntegrityError{
				Code:    ErrCodeQualification,
				Badge:   b.ID,
				Message: fmt.Sprintf("unsupported qualification %T", q),
			})
		}
	}

	for _, p := range c.pools {
		errs = append(errs, validateCoverage(p, c.RankBadges(p.Name))...)
	}

	errs = append(errs, validatePointsOrder(c.badges)...)

	return errs
}

// validateCoverage checks that family (sorted by Min) tiles [1, MaxRank].
func validateCoverage(p Pool, family []Badge) []*IntegrityError {
	var errs []*IntegrityError
	next := int64(1)
	for _, b := range family {
		r := b.Qualification.(RankRange)
		switch {
		case r.Min > next:
			errs = append(errs, &IntegrityError{
				Code:    ErrCodeCoverageGap,
				Badge:   p.Name,
				Message: fmt.Sprintf("ranks %d..%d are not covered by any badge", next, r.Min-1),
			})
		case r.Min < next:
			errs = append(errs, &IntegrityError{
				Code:    ErrCodeOverlap,
				Badge:   b.ID,
				Message: fmt.Sprintf("range [%d, %d] overlaps ranks below %d", r.Min, r.Max, next),
			})
		}
		if r.Max+1 > next {
			next = r.Max + 1
		}
	}
	if next <= p.MaxRank {
		errs = append(errs, &IntegrityError{
			Code:    ErrCodeCoverageGap,
			Badge:   p.Name,
			Message: fmt.Sprintf("ranks %d..%d are not covered by any badge", next, p.MaxRank),
		})
	}
	return errs
}

// validatePointsOrder enforces that points never decrease as rarity rises
// within a category.
func validatePointsOrder(badges []Badge) []*IntegrityError {
	var errs []*IntegrityError
	for i, a := range badges {
		for _, b := range badges[i+1:] {
			if a.Category != b.Category {
				continue
			}
			scarcer, common := a, b
			if b.Rarity > a.Rarity {
				scarcer, common = b, a
			}
			if scarcer.Rarity != common.Rarity && scarcer.Points < common.Points {
				errs = append(errs, &IntegrityError{
					Code:  ErrCodePointsOrder,
					Badge: scarcer.ID,
					Message: fmt.Sprintf("%s badge worth %d points is below %s badge %s worth %d",
						scarcer.Rarity, scarcer.Points, common.Rarity, common.ID, common.Points),
				})
			}
		}
	}
	return errs
}

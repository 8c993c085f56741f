// Package catalog defines the badge catalog: pools, badges, their rarity
// tiers, and the qualification each badge requires.
//
// Catalogs are written in CUE and checked against an embedded #Catalog
// schema before integrity validation. A catalog is either fully valid or not
// returned at all; the engine never awards from a partially valid one.
//
// # Qualifications
//
// A badge qualifies users in exactly one way:
//
//   - RankRange: ranks [min, max] drawn from a finite pool. The badges that
//     draw from one pool form its family and must tile [1, max_rank].
//   - ProgressThreshold: a cumulative metric reaching a threshold.
//
// Callers match on the concrete type:
//
//	switch q := b.Qualification.(type) {
//	case catalog.RankRange:
//	case catalog.ProgressThreshold:
//	}
//
// # Classification
//
// Classify maps a grant to its rarity and points without I/O. For rank
// badges the allocated rank selects the family member, see ClassifyRank.
package catalog

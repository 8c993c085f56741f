package harness

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/laurels/internal/catalog"
	"github.com/roach88/laurels/internal/store"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for i, ev := range e.Trace {
		if ev.Type == "concurrent_registrations" {
			fmt.Fprintf(&buf, "  [%d] %d concurrent registrations %v\n", i+1, ev.Count, ev.Allocations)
			continue
		}
		fmt.Fprintf(&buf, "  [%d] %s %s %s -> %s\n", i+1, ev.EventID, ev.Type, ev.UserID, ev.State)
	}

	return buf.String()
}

// AssertionContext provides the final state assertions read from.
type AssertionContext struct {
	Ctx     context.Context
	Store   *store.Store
	Catalog *catalog.Catalog
}

// EvaluateAssertions runs every assertion and returns one message per
// failure.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var msgs []string
	for i, a := range assertions {
		if err := evaluateAssertion(result, a, actx); err != nil {
			msgs = append(msgs, fmt.Sprintf("assertion %d: %s", i, err))
		}
	}
	return msgs
}

func evaluateAssertion(result *Result, a Assertion, actx *AssertionContext) error {
	switch a.Type {
	case AssertOutcomeCount:
		return assertOutcomeCount(result, a)
	case AssertAllocationCount:
		return assertAllocationCount(result, a)
	case AssertAwardCount:
		return assertAwardCount(result, a, actx)
	case AssertRanksContiguous:
		return assertRanksContiguous(result, a, actx)
	case AssertProgress:
		return assertProgress(result, a, actx)
	case AssertUserBadges:
		return assertUserBadges(result, a, actx)
	case AssertPoolStatus:
		return assertPoolStatus(result, a, actx)
	default:
		return fmt.Errorf("unknown assertion type: %s", a.Type)
	}
}

func assertOutcomeCount(result *Result, a Assertion) error {
	var n int64
	for _, out := range result.Outcomes {
		if string(out.State) == a.State {
			n++
		}
	}
	if n != a.Count {
		return &AssertionError{
			Type:     AssertOutcomeCount,
			Expected: fmt.Sprintf("%d events %s", a.Count, a.State),
			Actual:   fmt.Sprintf("%d events %s", n, a.State),
			Trace:    result.Trace,
		}
	}
	return nil
}

func assertAllocationCount(result *Result, a Assertion) error {
	var n int64
	for _, out := range result.Outcomes {
		if alloc, ok := out.Allocation(a.Pool); ok && alloc.Status.String() == a.Status {
			n++
		}
	}
	if n != a.Count {
		return &AssertionError{
			Type:     AssertAllocationCount,
			Expected: fmt.Sprintf("%d %s allocations in %s", a.Count, a.Status, a.Pool),
			Actual:   fmt.Sprintf("%d", n),
			Trace:    result.Trace,
		}
	}
	return nil
}

// assertAwardCount counts current holders. With Family set it sums every
// rank badge drawing from that pool.
func assertAwardCount(result *Result, a Assertion, actx *AssertionContext) error {
	counts, err := actx.Store.AwardCounts(actx.Ctx)
	if err != nil {
		return fmt.Errorf("failed to count awards: %w", err)
	}

	subject := a.Badge
	n := counts[a.Badge]
	if a.Family != "" {
		subject = "family " + a.Family
		n = 0
		for _, b := range actx.Catalog.RankBadges(a.Family) {
			n += counts[b.ID]
		}
	}
	if n != a.Count {
		return &AssertionError{
			Type:     AssertAwardCount,
			Expected: fmt.Sprintf("%d awards of %s", a.Count, subject),
			Actual:   fmt.Sprintf("%d", n),
			Trace:    result.Trace,
		}
	}
	return nil
}

// assertRanksContiguous checks the pool holds ranks 1..Count with no gaps
// and no user ranked twice.
func assertRanksContiguous(result *Result, a Assertion, actx *AssertionContext) error {
	ranks, err := actx.Store.RankAssignments(actx.Ctx, a.Pool)
	if err != nil {
		return fmt.Errorf("failed to read ranks: %w", err)
	}

	fail := func(actual string) error {
		return &AssertionError{
			Type:     AssertRanksContiguous,
			Expected: fmt.Sprintf("ranks 1..%d in %s, one per user", a.Count, a.Pool),
			Actual:   actual,
			Trace:    result.Trace,
		}
	}

	if int64(len(ranks)) != a.Count {
		return fail(fmt.Sprintf("%d ranks assigned", len(ranks)))
	}
	users := make(map[string]int64, len(ranks))
	for i, r := range ranks {
		if r.Rank != int64(i+1) {
			return fail(fmt.Sprintf("rank %d at position %d", r.Rank, i+1))
		}
		if prev, ok := users[r.UserID]; ok {
			return fail(fmt.Sprintf("user %s holds ranks %d and %d", r.UserID, prev, r.Rank))
		}
		users[r.UserID] = r.Rank
	}
	return nil
}

func assertProgress(result *Result, a Assertion, actx *AssertionContext) error {
	v, err := actx.Store.ProgressValue(actx.Ctx, a.User, a.Metric)
	if err != nil {
		return fmt.Errorf("failed to read progress: %w", err)
	}
	if v != a.Value {
		return &AssertionError{
			Type:     AssertProgress,
			Expected: fmt.Sprintf("%s %s = %d", a.User, a.Metric, a.Value),
			Actual:   fmt.Sprintf("%d", v),
			Trace:    result.Trace,
		}
	}
	return nil
}

func assertUserBadges(result *Result, a Assertion, actx *AssertionContext) error {
	awards, err := actx.Store.UserAwards(actx.Ctx, a.User)
	if err != nil {
		return fmt.Errorf("failed to read awards: %w", err)
	}
	got := make([]string, len(awards))
	for i, aw := range awards {
		got[i] = aw.BadgeID
	}
	want := a.Badges
	if want == nil {
		want = []string{}
	}
	if !slices.Equal(got, want) {
		return &AssertionError{
			Type:     AssertUserBadges,
			Expected: fmt.Sprintf("%s holds [%s]", a.User, strings.Join(want, ", ")),
			Actual:   fmt.Sprintf("[%s]", strings.Join(got, ", ")),
			Trace:    result.Trace,
		}
	}
	return nil
}

func assertPoolStatus(result *Result, a Assertion, actx *AssertionContext) error {
	p, err := actx.Store.Pool(actx.Ctx, a.Pool)
	if err != nil {
		return fmt.Errorf("failed to read pool %s: %w", a.Pool, err)
	}
	ok := p.Issued() == a.Issued
	if a.Exhausted != nil && p.Exhausted() != *a.Exhausted {
		ok = false
	}
	if !ok {
		expected := fmt.Sprintf("%s issued=%d", a.Pool, a.Issued)
		if a.Exhausted != nil {
			expected += fmt.Sprintf(" exhausted=%t", *a.Exhausted)
		}
		return &AssertionError{
			Type:     AssertPoolStatus,
			Expected: expected,
			Actual:   fmt.Sprintf("issued=%d exhausted=%t", p.Issued(), p.Exhausted()),
			Trace:    result.Trace,
		}
	}
	return nil
}

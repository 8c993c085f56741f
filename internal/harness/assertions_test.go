package harness

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/laurels/internal/catalog"
	"github.com/roach88/laurels/internal/engine"
	"github.com/roach88/laurels/internal/store"
	"github.com/roach88/laurels/internal/testutil"
)

// assertionFixture runs two registrations and a progress event, then
// returns the run's result with a context over its store. The store stays
// open until the test ends.
func assertionFixture(t *testing.T) (*Result, *AssertionContext) {
	t.Helper()
	ctx := context.Background()

	c, err := catalog.Default()
	require.NoError(t, err)
	st, err := store.Open(store.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	dir := engine.NewStaticDirectory(
		engine.User{ID: "alice", Category: "regular"},
		engine.User{ID: "ops", Category: "staff"},
	)
	eng, err := engine.New(ctx, st, c, dir)
	require.NoError(t, err)

	result := NewResult()
	for i, ev := range []engine.Event{
		{EventID: "r1", UserID: "alice", Type: engine.EventRegistrationCompleted},
		{EventID: "r2", UserID: "ops", Type: engine.EventRegistrationCompleted},
		{EventID: "p1", UserID: "alice", Type: engine.EventProjectCompleted, Delta: engine.Int64(5)},
		{EventID: "p1", UserID: "alice", Type: engine.EventProjectCompleted, Delta: engine.Int64(5)},
	} {
		ev.OccurredAt = testutil.Epoch.Add(time.Duration(i) * time.Second)
		out, err := eng.Dispatch(ctx, ev)
		require.NoError(t, err)
		result.Outcomes = append(result.Outcomes, out)
		result.Trace = append(result.Trace, traceOf(int64(i+1), ev, out))
	}
	return result, &AssertionContext{Ctx: ctx, Store: st, Catalog: c}
}

func TestEvaluateAssertions_Pass(t *testing.T) {
	result, actx := assertionFixture(t)
	exhausted := false

	msgs := EvaluateAssertions(result, []Assertion{
		{Type: AssertOutcomeCount, State: "committed", Count: 3},
		{Type: AssertOutcomeCount, State: "duplicate", Count: 1},
		{Type: AssertAllocationCount, Pool: "founder", Status: "allocated", Count: 1},
		{Type: AssertAllocationCount, Pool: "founder", Status: "not_eligible", Count: 1},
		{Type: AssertAwardCount, Badge: "founder_first", Count: 1},
		{Type: AssertAwardCount, Badge: "hall_of_fame", Count: 0},
		{Type: AssertAwardCount, Family: "founder", Count: 1},
		{Type: AssertRanksContiguous, Pool: "founder", Count: 1},
		{Type: AssertProgress, User: "alice", Metric: "completed_projects", Value: 5},
		{Type: AssertProgress, User: "alice", Metric: "points", Value: 610},
		{Type: AssertUserBadges, User: "alice", Badges: []string{"founder_first", "rising_star", "first_project", "projects_5"}},
		{Type: AssertUserBadges, User: "ops"},
		{Type: AssertPoolStatus, Pool: "founder", Issued: 1, Exhausted: &exhausted},
	}, actx)
	assert.Empty(t, msgs)
}

func TestEvaluateAssertions_Failures(t *testing.T) {
	result, actx := assertionFixture(t)
	exhausted := true

	tests := []struct {
		assertion Assertion
		expected  string
		actual    string
	}{
		{
			Assertion{Type: AssertOutcomeCount, State: "rejected", Count: 2},
			"2 events rejected", "0 events rejected",
		},
		{
			Assertion{Type: AssertAllocationCount, Pool: "founder", Status: "allocated", Count: 5},
			"5 allocated allocations in founder", "1",
		},
		{
			Assertion{Type: AssertAwardCount, Family: "founder", Count: 2},
			"2 awards of family founder", "1",
		},
		{
			Assertion{Type: AssertRanksContiguous, Pool: "founder", Count: 3},
			"ranks 1..3 in founder, one per user", "1 ranks assigned",
		},
		{
			Assertion{Type: AssertProgress, User: "alice", Metric: "points", Value: 1},
			"alice points = 1", "610",
		},
		{
			Assertion{Type: AssertUserBadges, User: "alice", Badges: []string{"projects_5"}},
			"alice holds [projects_5]", "[founder_first, rising_star, first_project, projects_5]",
		},
		{
			Assertion{Type: AssertPoolStatus, Pool: "founder", Issued: 1, Exhausted: &exhausted},
			"founder issued=1 exhausted=true", "issued=1 exhausted=false",
		},
	}

	for _, tt := range tests {
		t.Run(tt.assertion.Type, func(t *testing.T) {
			err := evaluateAssertion(result, tt.assertion, actx)
			require.Error(t, err)

			var aerr *AssertionError
			require.ErrorAs(t, err, &aerr)
			assert.Equal(t, tt.assertion.Type, aerr.Type)
			assert.Equal(t, tt.expected, aerr.Expected)
			assert.Equal(t, tt.actual, aerr.Actual)
			assert.Len(t, aerr.Trace, 4)
		})
	}
}

func TestEvaluateAssertions_UnknownPool(t *testing.T) {
	result, actx := assertionFixture(t)

	msgs := EvaluateAssertions(result, []Assertion{
		{Type: AssertPoolStatus, Pool: "beta"},
	}, actx)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "assertion 0: failed to read pool beta")
}

func TestAssertionError_Format(t *testing.T) {
	err := &AssertionError{
		Type:     AssertOutcomeCount,
		Expected: "1 events committed",
		Actual:   "0 events committed",
		Trace: []TraceEvent{
			{Seq: 1, Type: "registration_completed", EventID: "r1", UserID: "alice", State: "rejected"},
			{Seq: 2, Type: "concurrent_registrations", Count: 3, Allocations: []string{"founder allocated=3"}},
		},
	}

	assert.Equal(t, "Assertion failed: outcome_count\n"+
		"  Expected: 1 events committed\n"+
		"  Actual: 0 events committed\n"+
		"\nFull trace:\n"+
		"  [1] r1 registration_completed alice -> rejected\n"+
		"  [2] 3 concurrent registrations [founder allocated=3]\n",
		err.Error())
}

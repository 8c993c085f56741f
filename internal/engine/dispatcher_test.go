package engine

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatch_ThresholdCompleteness(t *testing.T) {
	env := newTestEnv(t, regular("alice")...)

	out := env.dispatch(t, progress("evt-1", "alice", EventProjectCompleted, 10))

	assert.Equal(t, StateCommitted, out.State)
	assert.Equal(t, []string{"first_project", "projects_5", "projects_10"}, out.GrantedIDs(),
		"a single delta grants every threshold it crosses")
	assert.Equal(t, int64(10), out.Progress["completed_projects"])

	v, err := env.store.ProgressValue(context.Background(), "alice", "completed_projects")
	require.NoError(t, err)
	assert.Equal(t, int64(10), v)
}

func TestDispatch_ReplaySafety(t *testing.T) {
	env := newTestEnv(t, regular("alice")...)
	ev := progress("evt-42", "alice", EventProjectCompleted, 5)

	first := env.dispatch(t, ev)
	second := env.dispatch(t, ev)

	assert.Equal(t, StateCommitted, first.State)
	assert.Equal(t, StateDuplicate, second.State)
	assert.Empty(t, second.Granted)

	v, err := env.store.ProgressValue(context.Background(), "alice", "completed_projects")
	require.NoError(t, err)
	assert.Equal(t, int64(5), v, "replayed delta applied once")

	logged, err := env.store.ProcessedEvent(context.Background(), "evt-42")
	require.NoError(t, err)
	assert.Contains(t, logged.Outcome, "granted=first_project,projects_5")
}

func TestDispatch_AlreadyGrantedIsNoop(t *testing.T) {
	env := newTestEnv(t, regular("alice")...)

	env.dispatch(t, progress("evt-1", "alice", EventProjectCompleted, 1))
	out := env.dispatch(t, progress("evt-2", "alice", EventProjectCompleted, 1))

	assert.Equal(t, StateCommitted, out.State)
	assert.Empty(t, out.Granted)
	assert.Equal(t, []string{"first_project"}, out.AlreadyGranted)
	assert.Equal(t, []string{"first_project"}, env.badgeIDs(t, "alice"))
}

func TestDispatch_DefaultDeltaAndMetricOverride(t *testing.T) {
	env := newTestEnv(t, regular("alice")...)
	ctx := context.Background()

	ev := progress("evt-1", "alice", EventIdentityVerified, 0)
	ev.Delta = nil
	out := env.dispatch(t, ev)
	assert.Equal(t, []string{"verified"}, out.GrantedIDs())

	custom := progress("evt-2", "alice", EventRatingReceived, 3)
	custom.Metric = "peer_endorsements"
	env.dispatch(t, custom)

	v, err := env.store.ProgressValue(ctx, "alice", "peer_endorsements")
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)
	v, err = env.store.ProgressValue(ctx, "alice", "five_star_ratings")
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)
}

func TestDispatch_PointsAccrual(t *testing.T) {
	env := newTestEnv(t, regular("alice")...)

	out := env.dispatch(t, registration("reg-1", "alice"))

	// founder_first is worth 500 points, which crosses rising_star (250),
	// which adds another 50.
	assert.Equal(t, []string{"founder_first", "rising_star"}, out.GrantedIDs())
	assert.Equal(t, int64(550), out.Progress["points"])
}

func TestDispatch_PointsAccrualCascades(t *testing.T) {
	env := newTestEnv(t, regular("alice")...)

	out := env.dispatch(t, progress("evt-1", "alice", EventProjectCompleted, 25))

	// 10 + 50 + 100 + 250 = 410 points: rising_star (+50) brings 460.
	assert.Equal(t, []string{"first_project", "projects_5", "projects_10", "projects_25", "rising_star"}, out.GrantedIDs())
	assert.Equal(t, int64(460), out.Progress["points"])
}

func TestDispatch_Rejections(t *testing.T) {
	env := newTestEnv(t, regular("alice")...)

	tests := []struct {
		name string
		ev   Event
		code RejectCode
	}{
		{name: "missing event id", ev: progress("", "alice", EventProjectCompleted, 1), code: RejectInvalidShape},
		{name: "missing user", ev: progress("e1", "", EventProjectCompleted, 1), code: RejectInvalidShape},
		{name: "negative delta", ev: progress("e2", "alice", EventProjectCompleted, -1), code: RejectInvalidShape},
		{name: "oversized delta", ev: progress("e6", "alice", EventProjectCompleted, math.MaxInt64), code: RejectInvalidShape},
		{name: "missing timestamp", ev: Event{EventID: "e3", UserID: "alice", Type: EventProjectCompleted}, code: RejectInvalidShape},
		{name: "unknown type", ev: progress("e4", "alice", "profile_viewed", 1), code: RejectUnknownType},
		{name: "unknown user", ev: progress("e5", "mallory", EventProjectCompleted, 1), code: RejectUnknownUser},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := env.dispatch(t, tt.ev)
			assert.Equal(t, StateRejected, out.State)
			require.NotNil(t, out.Rejection)
			assert.Equal(t, tt.code, out.Rejection.Code)
			assert.Zero(t, out.Attempts, "rejected events are never applied")
		})
	}

	_, err := env.store.ProcessedEvent(context.Background(), "e5")
	assert.Error(t, err, "rejected events are not recorded as processed")
}

func TestDispatch_ValidationMessageUsesJSONNames(t *testing.T) {
	env := newTestEnv(t, regular("alice")...)

	out := env.dispatch(t, progress("", "alice", EventProjectCompleted, 1))
	require.NotNil(t, out.Rejection)
	assert.Contains(t, out.Rejection.Message, "eventId fails required")
}

func TestDispatch_RetriesTransientErrors(t *testing.T) {
	env := newTestEnv(t, regular("alice")...)
	env.engine.dispatcher.fault = func(_ Event, attempt int) error {
		if attempt < 3 {
			return sqlite3.Error{Code: sqlite3.ErrBusy}
		}
		return nil
	}

	out := env.dispatch(t, progress("evt-1", "alice", EventProjectCompleted, 1))

	assert.Equal(t, StateCommitted, out.State)
	assert.Equal(t, 3, out.Attempts)
	assert.Equal(t, []string{"first_project"}, out.GrantedIDs())

	v, err := env.store.ProgressValue(context.Background(), "alice", "completed_projects")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v, "failed attempts rolled back completely")
}

func TestDispatch_DeadLetterAndRedrive(t *testing.T) {
	env := newTestEnv(t, regular("alice")...)
	ctx := context.Background()

	failing := true
	env.engine.dispatcher.fault = func(Event, int) error {
		if failing {
			return sqlite3.Error{Code: sqlite3.ErrLocked}
		}
		return nil
	}

	out := env.dispatch(t, progress("evt-1", "alice", EventProjectCompleted, 5))
	assert.Equal(t, StateDeadLettered, out.State)
	assert.Equal(t, fastRetry.MaxAttempts, out.Attempts)
	assert.True(t, IsTransient(out.Err))
	require.NotZero(t, out.DeadLetterID)

	v, err := env.store.ProgressValue(ctx, "alice", "completed_projects")
	require.NoError(t, err)
	assert.Zero(t, v, "nothing from a dead-lettered event is visible")

	open, err := env.store.DeadLetters(ctx, false)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "evt-1", open[0].EventID)
	assert.Equal(t, fastRetry.MaxAttempts, open[0].Attempts)

	// A failed redrive leaves the dead letter open and writes no new one.
	_, err = env.engine.RedriveDeadLetter(ctx, out.DeadLetterID)
	require.Error(t, err)
	open, err = env.store.DeadLetters(ctx, true)
	require.NoError(t, err)
	assert.Len(t, open, 1)

	failing = false
	redriven, err := env.engine.RedriveDeadLetter(ctx, out.DeadLetterID)
	require.NoError(t, err)
	assert.Equal(t, StateCommitted, redriven.State)
	assert.Equal(t, []string{"first_project", "projects_5"}, redriven.GrantedIDs())

	open, err = env.store.DeadLetters(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, open)

	_, err = env.engine.RedriveDeadLetter(ctx, out.DeadLetterID)
	assert.Error(t, err, "resolved dead letters cannot be redriven")
}

func TestDispatch_NonTransientErrorsAlsoRetried(t *testing.T) {
	env := newTestEnv(t, regular("alice")...)
	boom := errors.New("constraint failed")
	env.engine.dispatcher.fault = func(Event, int) error { return boom }

	out := env.dispatch(t, progress("evt-1", "alice", EventProjectCompleted, 1))
	assert.Equal(t, StateDeadLettered, out.State)
	assert.False(t, IsTransient(out.Err))
	assert.ErrorIs(t, out.Err, boom)
}

func TestDispatch_CancelledContext(t *testing.T) {
	env := newTestEnv(t, regular("alice")...)
	env.engine.dispatcher.fault = func(Event, int) error {
		return sqlite3.Error{Code: sqlite3.ErrBusy}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := env.engine.Dispatch(ctx, progress("evt-1", "alice", EventProjectCompleted, 1))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	open, err := env.store.DeadLetters(context.Background(), true)
	require.NoError(t, err)
	assert.Empty(t, open, "cancellation is not dead-lettered")
}

func TestLedger_ConcurrentGrantsOnce(t *testing.T) {
	env := newTestEnv(t, regular("alice")...)

	const n = 10
	results := make(chan State, n)
	for i := 0; i < n; i++ {
		ev := progress(userIDs("evt", n)[i], "alice", EventIdentityVerified, 1)
		go func() {
			out, err := env.engine.Dispatch(context.Background(), ev)
			if err != nil {
				results <- StateRejected
				return
			}
			results <- out.State
		}()
	}
	for i := 0; i < n; i++ {
		assert.Equal(t, StateCommitted, <-results)
	}

	assert.Equal(t, []string{"verified"}, env.badgeIDs(t, "alice"))
}

func TestState_Terminal(t *testing.T) {
	for _, s := range []State{StateCommitted, StateRejected, StateDuplicate, StateDeadLettered} {
		assert.True(t, s.Terminal(), s)
	}
	for _, s := range []State{StateReceived, StateValidated, StateApplied} {
		assert.False(t, s.Terminal(), s)
	}
}

package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/laurels/internal/catalog"
	"github.com/roach88/laurels/internal/store"
	"github.com/roach88/laurels/internal/testutil"
)

var fastRetry = RetryPolicy{
	MaxAttempts:     5,
	InitialInterval: time.Millisecond,
	MaxInterval:     2 * time.Millisecond,
}

type testEnv struct {
	store   *store.Store
	catalog *catalog.Catalog
	dir     *StaticDirectory
	clock   *testutil.DeterministicClock
	engine  *Engine
}

// newTestEnv opens a temp-file store and an engine over the default catalog.
func newTestEnv(t *testing.T, users ...User) *testEnv {
	t.Helper()
	c, err := catalog.Default()
	require.NoError(t, err)
	return newTestEnvWithCatalog(t, c, users...)
}

func newTestEnvWithCatalog(t *testing.T, c *catalog.Catalog, users ...User) *testEnv {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "laurels.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	env := &testEnv{
		store:   s,
		catalog: c,
		dir:     NewStaticDirectory(users...),
		clock:   testutil.NewDeterministicClock(),
	}
	env.engine, err = New(context.Background(), s, c, env.dir,
		WithClock(env.clock),
		WithTraceGenerator(testutil.NewSequenceGenerator("trace")),
		WithRetryPolicy(fastRetry),
		WithLogger(discardLogger()),
	)
	require.NoError(t, err)
	return env
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func regular(ids ...string) []User {
	users := make([]User, len(ids))
	for i, id := range ids {
		users[i] = User{ID: id, Category: "regular"}
	}
	return users
}

func registration(eventID, userID string) Event {
	return Event{
		EventID:    eventID,
		UserID:     userID,
		Type:       EventRegistrationCompleted,
		OccurredAt: testutil.Epoch,
	}
}

func progress(eventID, userID string, typ EventType, delta int64) Event {
	return Event{
		EventID:    eventID,
		UserID:     userID,
		Type:       typ,
		Delta:      Int64(delta),
		OccurredAt: testutil.Epoch,
	}
}

func (env *testEnv) dispatch(t *testing.T, ev Event) Outcome {
	t.Helper()
	out, err := env.engine.Dispatch(context.Background(), ev)
	require.NoError(t, err)
	return out
}

func (env *testEnv) badgeIDs(t *testing.T, userID string) []string {
	t.Helper()
	awards, err := env.store.UserAwards(context.Background(), userID)
	require.NoError(t, err)
	ids := make([]string, len(awards))
	for i, a := range awards {
		ids[i] = a.BadgeID
	}
	return ids
}

func userIDs(prefix string, n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("%s-%03d", prefix, i+1)
	}
	return ids
}

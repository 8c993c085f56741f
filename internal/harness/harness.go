package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/laurels/internal/catalog"
	"github.com/roach88/laurels/internal/engine"
	"github.com/roach88/laurels/internal/store"
	"github.com/roach88/laurels/internal/testutil"
)

// Harness executes scenarios against a real engine.
type Harness struct {
	engine *engine.Engine
	dir    *engine.StaticDirectory
	logger *slog.Logger
	seq    int64
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh SQLite file in a temporary directory so
// concurrent steps exercise the same locking paths as production. The clock
// and trace ids are deterministic.
//
// Execution flow:
//  1. Load the catalog and seed the directory
//  2. Open a fresh store and start the engine (reconciling pools)
//  3. Execute steps, checking expect clauses
//  4. Evaluate assertions against outcomes and final state
func Run(scenario *Scenario) (*Result, error) {
	c, err := loadCatalog(scenario.Catalog)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}

	tmp, err := os.MkdirTemp("", "laurels-scenario-")
	if err != nil {
		return nil, fmt.Errorf("failed to create scenario dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	st, err := store.Open(filepath.Join(tmp, "scenario.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	h := &Harness{
		dir:    engine.NewStaticDirectory(scenario.Users...),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	h.engine, err = engine.New(ctx, st, c, h.dir,
		engine.WithClock(testutil.NewDeterministicClock()),
		engine.WithTraceGenerator(testutil.NewSequenceGenerator("trace")),
		engine.WithLogger(h.logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start engine: %w", err)
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, i, step, result); err != nil {
			return nil, err
		}
	}

	actx := &AssertionContext{Ctx: ctx, Store: st, Catalog: c}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

func loadCatalog(path string) (*catalog.Catalog, error) {
	if path == "" {
		return catalog.Default()
	}
	return catalog.LoadFile(path)
}

func (h *Harness) executeStep(ctx context.Context, i int, step Step, result *Result) error {
	h.seq++
	if step.ConcurrentRegistrations != nil {
		return h.executeConcurrent(ctx, i, *step.ConcurrentRegistrations, result)
	}

	ev := *step.Event
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = testutil.Epoch
	}
	out, err := h.engine.Dispatch(ctx, ev)
	if err != nil {
		return fmt.Errorf("step %d: dispatch %s: %w", i, ev.EventID, err)
	}
	result.Outcomes = append(result.Outcomes, out)
	result.Trace = append(result.Trace, traceOf(h.seq, ev, out))

	if step.Expect != nil {
		for _, msg := range checkExpect(step.Expect, out) {
			result.AddError(fmt.Sprintf("step %d (%s): %s", i, ev.EventID, msg))
		}
	}
	h.logger.Info("step completed", "step", i, "event_id", ev.EventID, "state", out.State)
	return nil
}

// executeConcurrent registers cr.Count new users at once.
func (h *Harness) executeConcurrent(ctx context.Context, i int, cr ConcurrentRegistrations, result *Result) error {
	events := make([]engine.Event, cr.Count)
	for n := range events {
		id := fmt.Sprintf("%s-%03d", cr.Prefix, n+1)
		h.dir.Add(engine.User{ID: id, Category: cr.Category})
		events[n] = engine.Event{
			EventID:    "reg-" + id,
			UserID:     id,
			Type:       engine.EventRegistrationCompleted,
			OccurredAt: testutil.Epoch,
		}
	}

	outcomes := make([]engine.Outcome, cr.Count)
	g, gctx := errgroup.WithContext(ctx)
	for n, ev := range events {
		g.Go(func() error {
			out, err := h.engine.Dispatch(gctx, ev)
			if err != nil {
				return err
			}
			outcomes[n] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("step %d: concurrent registrations: %w", i, err)
	}
	result.Outcomes = append(result.Outcomes, outcomes...)

	counts := map[string]int{}
	for _, out := range outcomes {
		for _, a := range out.Allocations {
			counts[fmt.Sprintf("%s %s", a.Pool, a.Status)]++
		}
	}
	keys := slices.Sorted(maps.Keys(counts))
	allocations := make([]string, len(keys))
	for n, k := range keys {
		allocations[n] = fmt.Sprintf("%s=%d", k, counts[k])
	}

	result.Trace = append(result.Trace, TraceEvent{
		Seq:         h.seq,
		Type:        "concurrent_registrations",
		Allocations: allocations,
		Count:       cr.Count,
	})
	return nil
}

func traceOf(seq int64, ev engine.Event, out engine.Outcome) TraceEvent {
	te := TraceEvent{
		Seq:     seq,
		Type:    string(ev.Type),
		EventID: ev.EventID,
		UserID:  ev.UserID,
		State:   string(out.State),
		Granted: out.GrantedIDs(),
	}
	if out.Rejection != nil {
		te.Rejection = string(out.Rejection.Code)
	}
	for _, a := range out.Allocations {
		s := fmt.Sprintf("%s=%s", a.Pool, a.Status)
		if a.Status == engine.Allocated {
			s += fmt.Sprintf(":%d", a.Rank)
		}
		te.Allocations = append(te.Allocations, s)
	}
	return te
}

func checkExpect(exp *ExpectClause, out engine.Outcome) []string {
	var msgs []string
	if string(out.State) != exp.State {
		msgs = append(msgs, fmt.Sprintf("expected state %s, got %s", exp.State, out.State))
	}
	if exp.Granted != nil && !slices.Equal(exp.Granted, out.GrantedIDs()) {
		msgs = append(msgs, fmt.Sprintf("expected granted [%s], got [%s]",
			strings.Join(exp.Granted, ","), strings.Join(out.GrantedIDs(), ",")))
	}
	if exp.Rejection != "" {
		got := ""
		if out.Rejection != nil {
			got = string(out.Rejection.Code)
		}
		if got != exp.Rejection {
			msgs = append(msgs, fmt.Sprintf("expected rejection %s, got %q", exp.Rejection, got))
		}
	}
	if a := exp.Allocation; a != nil {
		got, ok := out.Allocation(a.Pool)
		switch {
		case !ok:
			msgs = append(msgs, fmt.Sprintf("expected an allocation in pool %s", a.Pool))
		case got.Status.String() != a.Status:
			msgs = append(msgs, fmt.Sprintf("expected %s allocation %s, got %s", a.Pool, a.Status, got.Status))
		case a.Rank != 0 && got.Rank != a.Rank:
			msgs = append(msgs, fmt.Sprintf("expected %s rank %d, got %d", a.Pool, a.Rank, got.Rank))
		case a.Badge != "" && got.Badge != a.Badge:
			msgs = append(msgs, fmt.Sprintf("expected %s badge %s, got %s", a.Pool, a.Badge, got.Badge))
		}
	}
	return msgs
}

// DiscoverScenarios returns the scenario files (*.yaml) in dir, sorted.
func DiscoverScenarios(dir string) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no scenarios found in %s", dir)
	}
	slices.Sort(paths)
	return paths, nil
}

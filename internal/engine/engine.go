package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/laurels/internal/catalog"
	"github.com/roach88/laurels/internal/store"
)

// Meta keys written at startup.
const (
	MetaCatalogHash    = "catalog_hash"
	MetaCatalogVersion = "catalog_version"
)

// Engine wires the catalog, store, and directory into a dispatcher and a
// query service.
//
// Thread-safety model:
//   - Dispatch(): safe from any goroutine; invariants are held by the store
//   - Query(): read-only, safe from any goroutine
//   - Several Engine instances (or processes) may share one database
type Engine struct {
	store      *store.Store
	catalog    *catalog.Catalog
	clock      Clock
	traces     TraceGenerator
	retry      RetryPolicy
	logger     *slog.Logger
	dispatcher *Dispatcher
	query      *Query
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the timestamp source. Default: SystemClock.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithTraceGenerator sets the trace and correction id source.
// Default: UUIDv7Generator.
func WithTraceGenerator(g TraceGenerator) Option {
	return func(e *Engine) { e.traces = g }
}

// WithRetryPolicy sets the apply retry budget. Default: DefaultRetryPolicy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(e *Engine) { e.retry = p }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New reconciles the catalog with the store and returns a ready engine.
//
// Startup fails with a catalog.IntegrityError when the store disagrees with
// the catalog: a pool's max_rank changed, or a held award references a badge
// the catalog no longer defines. The engine never awards under a catalog it
// cannot trust.
func New(ctx context.Context, s *store.Store, c *catalog.Catalog, dir Directory, opts ...Option) (*Engine, error) {
	e := &Engine{
		store:   s,
		catalog: c,
		clock:   SystemClock{},
		traces:  UUIDv7Generator{},
		retry:   DefaultRetryPolicy,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.retry.MaxAttempts < 1 {
		return nil, fmt.Errorf("retry policy: max attempts must be at least 1, got %d", e.retry.MaxAttempts)
	}

	if err := e.reconcile(ctx); err != nil {
		return nil, err
	}

	e.dispatcher = newDispatcher(s, c, dir, e.clock, e.traces, e.retry, e.logger)
	e.query = NewQuery(s, c)
	return e, nil
}

// reconcile creates missing pools, checks stored state against the catalog,
// and records the catalog fingerprint.
func (e *Engine) reconcile(ctx context.Context) error {
	var errs []error

	for _, p := range e.catalog.Pools() {
		stored, err := e.store.EnsurePool(ctx, p.Name, p.MaxRank)
		if err != nil {
			return fmt.Errorf("reconcile: %w", err)
		}
		if stored.MaxRank != p.MaxRank {
			errs = append(errs, &catalog.IntegrityError{
				Code:    catalog.ErrCodeStoreDrift,
				Badge:   p.Name,
				Message: fmt.Sprintf("catalog max_rank %d differs from stored max_rank %d", p.MaxRank, stored.MaxRank),
			})
		}
	}

	awarded, err := e.store.AwardedBadgeIDs(ctx)
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}
	for _, id := range awarded {
		if _, ok := e.catalog.Badge(id); !ok {
			errs = append(errs, &catalog.IntegrityError{
				Code:    catalog.ErrCodeStoreDrift,
				Badge:   id,
				Message: "badge has grants but is missing from the catalog",
			})
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	previous, ok, err := e.store.Meta(ctx, MetaCatalogHash)
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}
	if ok && previous != e.catalog.Hash {
		e.logger.Info("catalog changed since last start",
			"previous_hash", previous,
			"hash", e.catalog.Hash,
			"version", e.catalog.Version)
	}
	if err := e.store.SetMeta(ctx, MetaCatalogHash, e.catalog.Hash); err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}
	if err := e.store.SetMeta(ctx, MetaCatalogVersion, e.catalog.Version); err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}
	return nil
}

// Catalog returns the catalog the engine awards from.
func (e *Engine) Catalog() *catalog.Catalog {
	return e.catalog
}

// Query returns the read-only query service.
func (e *Engine) Query() *Query {
	return e.query
}

// Dispatch processes one event. See Dispatcher.Dispatch.
func (e *Engine) Dispatch(ctx context.Context, ev Event) (Outcome, error) {
	return e.dispatcher.Dispatch(ctx, ev)
}

// RedriveDeadLetter dispatches a dead-lettered event again. The dead letter
// is resolved when the event reaches Committed, Duplicate, or Rejected. A
// failed redrive returns the error and leaves the dead letter open; it does
// not write a second one.
func (e *Engine) RedriveDeadLetter(ctx context.Context, id int64) (Outcome, error) {
	dl, err := e.store.DeadLetter(ctx, id)
	if err != nil {
		return Outcome{}, fmt.Errorf("redrive dead letter %d: %w", id, err)
	}
	if dl.ResolvedAt != nil {
		return Outcome{}, fmt.Errorf("redrive dead letter %d: already resolved", id)
	}

	var ev Event
	if err := json.Unmarshal([]byte(dl.Payload), &ev); err != nil {
		return Outcome{}, fmt.Errorf("redrive dead letter %d: decode payload: %w", id, err)
	}

	out, err := e.dispatcher.dispatch(ctx, ev, false)
	if err != nil {
		return out, fmt.Errorf("redrive dead letter %d: %w", id, err)
	}
	if err := e.store.ResolveDeadLetter(ctx, id, e.clock.Now()); err != nil {
		return out, err
	}
	e.logger.Info("dead letter resolved", "dead_letter_id", id, "event_id", ev.EventID, "state", out.State)
	return out, nil
}

// CorrectionRequest describes an administrative award correction.
type CorrectionRequest struct {
	UserID  string
	BadgeID string
	Action  store.CorrectionAction
	Actor   string
	Reason  string
}

// Correct applies an out-of-band correction to the ledger and records who
// made it and why. The badge must exist in the catalog. Revoking a rank
// badge does not return the rank to its pool.
func (e *Engine) Correct(ctx context.Context, req CorrectionRequest) (store.Correction, error) {
	if req.Actor == "" || req.Reason == "" {
		return store.Correction{}, errors.New("correction: actor and reason are required")
	}
	if _, ok := e.catalog.Badge(req.BadgeID); !ok {
		return store.Correction{}, fmt.Errorf("correction: unknown badge %q", req.BadgeID)
	}

	c := store.Correction{
		CorrectionID: e.traces.Generate(),
		UserID:       req.UserID,
		BadgeID:      req.BadgeID,
		Action:       req.Action,
		Actor:        req.Actor,
		Reason:       req.Reason,
		CorrectedAt:  e.clock.Now(),
	}
	if err := e.store.CorrectAward(ctx, c); err != nil {
		return store.Correction{}, err
	}
	e.logger.Warn("award corrected",
		"correction_id", c.CorrectionID,
		"action", c.Action,
		"user_id", c.UserID,
		"badge_id", c.BadgeID,
		"actor", c.Actor,
		"reason", c.Reason)
	return c, nil
}

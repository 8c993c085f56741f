package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-playground/validator/v10"

	"github.com/roach88/laurels/internal/catalog"
	"github.com/roach88/laurels/internal/store"
)

// RetryPolicy bounds how often a failed apply is retried before the event
// is dead-lettered.
type RetryPolicy struct {
	// MaxAttempts counts the first attempt. Must be at least 1.
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy allows five attempts.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:     5,
	InitialInterval: 50 * time.Millisecond,
	MaxInterval:     2 * time.Second,
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.MaxElapsedTime = 0 // bounded by attempts, not wall time
	retries := p.MaxAttempts - 1
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

// Dispatcher drives each event through
// Received -> Validated -> Applied -> Committed, or ends it as Rejected,
// Duplicate, or DeadLettered.
//
// Everything an event writes (de-duplication claim, rank, progress, awards,
// accrued points) commits in one transaction. A failed apply rolls back
// completely and is retried with exponential backoff.
//
// Thread-safety: Dispatch is safe for concurrent use. The dispatcher holds
// no mutable state; all invariants live in the store.
type Dispatcher struct {
	store     *store.Store
	catalog   *catalog.Catalog
	directory Directory
	clock     Clock
	traces    TraceGenerator
	retry     RetryPolicy
	logger    *slog.Logger
	validate  *validator.Validate

	allocator *Allocator
	tracker   *Tracker
	ledger    *Ledger

	// fault, when set, runs inside every apply transaction. Tests use it to
	// inject store failures.
	fault func(ev Event, attempt int) error
}

func newDispatcher(s *store.Store, c *catalog.Catalog, dir Directory, clock Clock, traces TraceGenerator, retry RetryPolicy, logger *slog.Logger) *Dispatcher {
	ledger := NewLedger(clock)
	return &Dispatcher{
		store:     s,
		catalog:   c,
		directory: dir,
		clock:     clock,
		traces:    traces,
		retry:     retry,
		logger:    logger,
		validate:  newValidator(),
		allocator: NewAllocator(c, ledger, clock),
		tracker:   NewTracker(c, clock),
		ledger:    ledger,
	}
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Dispatch processes one event to a terminal state.
//
// Rejected, Duplicate, and DeadLettered are outcomes, not errors. An error
// is returned only when the context ends before a terminal state is reached,
// the directory fails, or a dead letter cannot be written.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) (Outcome, error) {
	return d.dispatch(ctx, ev, true)
}

func (d *Dispatcher) dispatch(ctx context.Context, ev Event, deadLetter bool) (Outcome, error) {
	out := Outcome{EventID: ev.EventID, TraceID: d.traces.Generate(), State: StateReceived}
	log := d.logger.With("trace_id", out.TraceID, "event_id", ev.EventID)
	log.Debug("event received", "type", ev.Type, "user_id", ev.UserID)

	rt, user, rej, err := d.validateEvent(ctx, ev)
	if err != nil {
		return out, err
	}
	if rej != nil {
		out.State = StateRejected
		out.Rejection = rej
		log.Info("event rejected", "code", rej.Code, "reason", rej.Message)
		return out, nil
	}
	out.State = StateValidated

	attempt := 0
	operation := func() error {
		attempt++
		applied, err := d.apply(ctx, ev, user, rt, attempt)
		if err != nil {
			return err
		}
		out.State = applied.State
		out.Allocations = applied.Allocations
		out.Granted = applied.Granted
		out.AlreadyGranted = applied.AlreadyGranted
		out.Progress = applied.Progress
		return nil
	}
	notify := func(err error, wait time.Duration) {
		log.Warn("apply failed, retrying",
			"attempt", attempt,
			"transient", IsTransient(err),
			"backoff", wait,
			"error", err)
	}

	err = backoff.RetryNotify(operation, d.retry.backOff(ctx), notify)
	out.Attempts = attempt
	if err == nil {
		d.logOutcome(log, ev, out)
		return out, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return out, fmt.Errorf("dispatch %s: %w", ev.EventID, ctxErr)
	}
	if !deadLetter {
		return out, fmt.Errorf("dispatch %s: %w", ev.EventID, err)
	}

	id, dlErr := d.writeDeadLetter(ctx, ev, attempt, err)
	if dlErr != nil {
		return out, fmt.Errorf("dispatch %s: dead letter: %w (apply error: %v)", ev.EventID, dlErr, err)
	}
	out.State = StateDeadLettered
	out.DeadLetterID = id
	out.Err = err
	log.Error("event dead-lettered",
		"attempts", attempt,
		"dead_letter_id", id,
		"transient", IsTransient(err),
		"error", err)
	return out, nil
}

// validateEvent checks shape, type, and user. A non-nil RejectionError is a
// terminal outcome; err is a directory failure.
func (d *Dispatcher) validateEvent(ctx context.Context, ev Event) (route, User, *RejectionError, error) {
	if err := d.validate.Struct(ev); err != nil {
		return route{}, User{}, &RejectionError{
			Code:    RejectInvalidShape,
			EventID: ev.EventID,
			Message: describeValidation(err),
		}, nil
	}

	rt, ok := routeFor(ev)
	if !ok {
		return route{}, User{}, &RejectionError{
			Code:    RejectUnknownType,
			EventID: ev.EventID,
			Message: fmt.Sprintf("unknown event type %q", ev.Type),
		}, nil
	}

	user, found, err := d.directory.Lookup(ctx, ev.UserID)
	if err != nil {
		return route{}, User{}, nil, fmt.Errorf("lookup user %s: %w", ev.UserID, err)
	}
	if !found {
		return route{}, User{}, &RejectionError{
			Code:    RejectUnknownUser,
			EventID: ev.EventID,
			Message: fmt.Sprintf("user %q is not in the directory", ev.UserID),
		}, nil
	}
	return rt, user, nil, nil
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s fails %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s fails %s", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}

// apply runs one attempt of the Applied state in a single transaction.
func (d *Dispatcher) apply(ctx context.Context, ev Event, user User, rt route, attempt int) (Outcome, error) {
	var out Outcome
	err := d.store.WithTx(ctx, func(tx *store.Tx) error {
		out = Outcome{State: StateApplied, Progress: map[string]int64{}}

		claimed, err := tx.ClaimEvent(ctx, store.ProcessedEvent{
			EventID:     ev.EventID,
			UserID:      ev.UserID,
			Type:        string(ev.Type),
			ProcessedAt: d.clock.Now(),
		})
		if err != nil {
			return err
		}
		if !claimed {
			out.State = StateDuplicate
			return nil
		}

		if d.fault != nil {
			if err := d.fault(ev, attempt); err != nil {
				return err
			}
		}

		if rt.allocate {
			for _, pool := range d.catalog.Pools() {
				alloc, grant, err := d.allocator.TryAllocate(ctx, tx, pool, user, ev.EventID)
				if err != nil {
					return err
				}
				out.Allocations = append(out.Allocations, alloc)
				if grant != nil {
					out.Granted = append(out.Granted, *grant)
				}
			}
		} else if err := d.recordProgress(ctx, tx, ev, rt.metric, ev.delta(), &out); err != nil {
			return err
		}

		if err := d.accruePoints(ctx, tx, ev, &out); err != nil {
			return err
		}

		out.State = StateCommitted
		return tx.SetEventOutcome(ctx, ev.EventID, out.summary())
	})
	if err != nil {
		return Outcome{}, classifyStoreError("apply "+ev.EventID, err)
	}
	return out, nil
}

// recordProgress applies delta and grants every threshold badge it reaches.
func (d *Dispatcher) recordProgress(ctx context.Context, tx *store.Tx, ev Event, metric string, delta int64, out *Outcome) error {
	value, crossed, err := d.tracker.RecordEvent(ctx, tx, ev.UserID, metric, delta)
	if err != nil {
		return err
	}
	out.Progress[metric] = value

	for _, c := range crossed {
		threshold := c.Badge.Qualification.(catalog.ProgressThreshold).Threshold
		metadata := map[string]any{
			"metric":    metric,
			"value":     c.Value,
			"threshold": threshold,
			"event_id":  ev.EventID,
		}
		result, err := d.ledger.Grant(ctx, tx, ev.UserID, c.Badge, metadata)
		if err != nil {
			return err
		}
		if result == AlreadyGranted {
			out.AlreadyGranted = append(out.AlreadyGranted, c.Badge.ID)
			continue
		}
		cls, err := catalog.Classify(c.Badge, 0)
		if err != nil {
			return err
		}
		out.Granted = append(out.Granted, Grant{
			BadgeID:  c.Badge.ID,
			Rarity:   cls.Rarity,
			Points:   cls.Points,
			Metadata: metadata,
		})
	}
	return nil
}

// accruePoints adds the points of this event's new grants to the catalog's
// points metric, repeating while those additions grant further badges. It
// terminates because each badge is granted at most once.
func (d *Dispatcher) accruePoints(ctx context.Context, tx *store.Tx, ev Event, out *Outcome) error {
	metric := d.catalog.PointsMetric
	if metric == "" {
		return nil
	}
	for accrued := 0; accrued < len(out.Granted); {
		var points int64
		for _, g := range out.Granted[accrued:] {
			points += g.Points
		}
		accrued = len(out.Granted)
		if points == 0 {
			continue
		}
		if err := d.recordProgress(ctx, tx, ev, metric, points, out); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) writeDeadLetter(ctx context.Context, ev Event, attempts int, cause error) (int64, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return 0, fmt.Errorf("encode event: %w", err)
	}
	return d.store.WriteDeadLetter(ctx, store.DeadLetter{
		EventID:  ev.EventID,
		Payload:  string(payload),
		Error:    cause.Error(),
		Attempts: attempts,
		FailedAt: d.clock.Now(),
	})
}

func (d *Dispatcher) logOutcome(log *slog.Logger, ev Event, out Outcome) {
	if out.State == StateDuplicate {
		log.Debug("duplicate event skipped")
		return
	}
	for _, a := range out.Allocations {
		switch a.Status {
		case Allocated:
			log.Info("rank allocated", "pool", a.Pool, "rank", a.Rank, "badge_id", a.Badge, "user_id", ev.UserID)
		case PoolExhausted:
			log.Info("pool exhausted", "pool", a.Pool, "user_id", ev.UserID)
		case NotEligible:
			log.Debug("not eligible for pool", "pool", a.Pool, "user_id", ev.UserID)
		case AlreadyRanked:
			log.Debug("already ranked in pool", "pool", a.Pool, "user_id", ev.UserID)
		}
	}
	for _, g := range out.Granted {
		log.Info("badge granted", "badge_id", g.BadgeID, "user_id", ev.UserID, "rarity", g.Rarity, "points", g.Points)
	}
	for _, id := range out.AlreadyGranted {
		log.Debug("badge already granted", "badge_id", id, "user_id", ev.UserID)
	}
	log.Debug("event committed", "attempts", out.Attempts)
}

package engine

import (
	"time"
)

// EventType identifies what happened in the activity source.
type EventType string

const (
	EventRegistrationCompleted EventType = "registration_completed"
	EventProjectCompleted      EventType = "project_completed"
	EventRatingReceived        EventType = "rating_received"
	EventIdentityVerified      EventType = "identity_verified"
)

// Event is an inbound activity event. EventID is the de-duplication key: an
// event id is applied at most once no matter how often it is delivered.
// Delta is capped at 1e9 per event so metrics cannot overflow int64.
type Event struct {
	EventID    string    `json:"eventId" yaml:"event_id" validate:"required,max=128"`
	UserID     string    `json:"userId" yaml:"user_id" validate:"required,max=128"`
	Type       EventType `json:"type" yaml:"type" validate:"required"`
	Metric     string    `json:"metric,omitempty" yaml:"metric,omitempty" validate:"omitempty,max=64"`
	Delta      *int64    `json:"delta,omitempty" yaml:"delta,omitempty" validate:"omitempty,min=0,max=1000000000"`
	OccurredAt time.Time `json:"occurredAt" yaml:"occurred_at" validate:"required"`
}

// route says which component applies an event.
type route struct {
	allocate bool   // registration: draw from every rank pool
	metric   string // progress: metric the delta applies to
}

var defaultMetrics = map[EventType]string{
	EventProjectCompleted: "completed_projects",
	EventRatingReceived:   "five_star_ratings",
	EventIdentityVerified: "verified_identity",
}

// routeFor resolves an event to its component. ok is false for unknown
// event types.
func routeFor(ev Event) (route, bool) {
	if ev.Type == EventRegistrationCompleted {
		return route{allocate: true}, true
	}
	metric, ok := defaultMetrics[ev.Type]
	if !ok {
		return route{}, false
	}
	if ev.Metric != "" {
		metric = ev.Metric
	}
	return route{metric: metric}, true
}

// delta returns the event's delta, defaulting to 1.
func (ev Event) delta() int64 {
	if ev.Delta == nil {
		return 1
	}
	return *ev.Delta
}

// Int64 returns a pointer to v, for building events with a Delta.
func Int64(v int64) *int64 { return &v }

package engine

import (
	"fmt"
	"strings"

	"github.com/roach88/laurels/internal/catalog"
)

// State is a dispatch state. Received, Validated, and Applied are
// transitional; the rest are terminal.
type State string

const (
	StateReceived     State = "received"
	StateValidated    State = "validated"
	StateApplied      State = "applied"
	StateCommitted    State = "committed"
	StateRejected     State = "rejected"
	StateDuplicate    State = "duplicate"
	StateDeadLettered State = "dead_lettered"
)

// Terminal reports whether no further transition follows s.
func (s State) Terminal() bool {
	switch s {
	case StateCommitted, StateRejected, StateDuplicate, StateDeadLettered:
		return true
	default:
		return false
	}
}

// AllocationStatus is the result of one rank allocation attempt.
type AllocationStatus int

const (
	Allocated AllocationStatus = iota + 1
	NotEligible
	PoolExhausted
	// AlreadyRanked means the user already holds a rank (or the family
	// badge) in the pool. No rank was consumed.
	AlreadyRanked
)

func (s AllocationStatus) String() string {
	switch s {
	case Allocated:
		return "allocated"
	case NotEligible:
		return "not_eligible"
	case PoolExhausted:
		return "pool_exhausted"
	case AlreadyRanked:
		return "already_ranked"
	default:
		return fmt.Sprintf("AllocationStatus(%d)", int(s))
	}
}

// Allocation reports what happened in one pool.
type Allocation struct {
	Pool   string
	Status AllocationStatus
	// Rank and Badge are set when Status is Allocated.
	Rank  int64
	Badge string
}

// GrantResult is the ledger's answer to a grant.
type GrantResult int

const (
	Granted GrantResult = iota + 1
	// AlreadyGranted is the race-safe no-op: the user held the badge.
	AlreadyGranted
)

func (r GrantResult) String() string {
	switch r {
	case Granted:
		return "granted"
	case AlreadyGranted:
		return "already_granted"
	default:
		return fmt.Sprintf("GrantResult(%d)", int(r))
	}
}

// Grant is a newly written award.
type Grant struct {
	BadgeID  string
	Rarity   catalog.Rarity
	Points   int64
	Metadata map[string]any
}

// ThresholdCrossing is a progress badge whose threshold the metric reached.
type ThresholdCrossing struct {
	Badge catalog.Badge
	Value int64
}

// Outcome is the result of dispatching one event.
type Outcome struct {
	EventID string
	TraceID string
	State   State

	// Rejection is set when State is StateRejected.
	Rejection *RejectionError

	// Attempts counts apply attempts, including the successful one.
	Attempts int

	Allocations    []Allocation
	Granted        []Grant
	AlreadyGranted []string
	// Progress holds the metric values written by this event.
	Progress map[string]int64

	// DeadLetterID and Err are set when State is StateDeadLettered.
	DeadLetterID int64
	Err          error
}

// GrantedIDs returns the ids of the badges this event granted, in grant
// order.
func (o Outcome) GrantedIDs() []string {
	ids := make([]string, len(o.Granted))
	for i, g := range o.Granted {
		ids[i] = g.BadgeID
	}
	return ids
}

// Allocation returns the allocation for a pool.
func (o Outcome) Allocation(pool string) (Allocation, bool) {
	for _, a := range o.Allocations {
		if a.Pool == pool {
			return a, true
		}
	}
	return Allocation{}, false
}

// summary renders the outcome for the de-duplication log.
func (o Outcome) summary() string {
	var b strings.Builder
	b.WriteString(string(StateCommitted))
	for _, a := range o.Allocations {
		fmt.Fprintf(&b, " %s=%s", a.Pool, a.Status)
		if a.Status == Allocated {
			fmt.Fprintf(&b, ":%d", a.Rank)
		}
	}
	if len(o.Granted) > 0 {
		fmt.Fprintf(&b, " granted=%s", strings.Join(o.GrantedIDs(), ","))
	}
	return b.String()
}

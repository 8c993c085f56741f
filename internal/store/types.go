package store

import "time"

// Award is a durable (user, badge) grant.
type Award struct {
	ID        int64
	UserID    string
	BadgeID   string
	GrantedAt time.Time
	// Metadata is the rank or progress snapshot at grant time.
	Metadata map[string]any
}

// PoolCounter is the persisted state of a rank pool.
type PoolCounter struct {
	Pool     string
	NextRank int64
	MaxRank  int64
}

// Issued returns the number of ranks handed out so far.
func (p PoolCounter) Issued() int64 { return p.NextRank - 1 }

// Remaining returns the number of ranks still available.
func (p PoolCounter) Remaining() int64 { return p.MaxRank - p.Issued() }

// Exhausted reports whether the pool can never issue another rank.
func (p PoolCounter) Exhausted() bool { return p.NextRank > p.MaxRank }

// RankAssignment records which user holds a rank and the family badge it
// resolved to.
type RankAssignment struct {
	Pool       string
	Rank       int64
	UserID     string
	BadgeID    string
	AssignedAt time.Time
}

// Progress is one user's cumulative value for one metric.
type Progress struct {
	UserID    string
	Metric    string
	Value     int64
	UpdatedAt time.Time
}

// Standing is a consistent read of one user's awards and progress.
type Standing struct {
	Awards   []Award
	Progress []Progress
	// Revoked lists badges withdrawn by a correction and not granted since.
	Revoked []string
}

// ProcessedEvent is an entry in the de-duplication log.
type ProcessedEvent struct {
	EventID     string
	UserID      string
	Type        string
	Outcome     string
	ProcessedAt time.Time
}

// DeadLetter is an event that exhausted its retry budget.
type DeadLetter struct {
	ID         int64
	EventID    string
	Payload    string
	Error      string
	Attempts   int
	FailedAt   time.Time
	ResolvedAt *time.Time
}

// CorrectionAction is the kind of administrative correction.
type CorrectionAction string

const (
	CorrectionGrant  CorrectionAction = "grant"
	CorrectionRevoke CorrectionAction = "revoke"
)

// Correction is an out-of-band change to the award ledger. Actor and Reason
// are mandatory.
type Correction struct {
	CorrectionID string
	UserID       string
	BadgeID      string
	Action       CorrectionAction
	Actor        string
	Reason       string
	CorrectedAt  time.Time
}

func toNanos(t time.Time) int64 { return t.UTC().UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

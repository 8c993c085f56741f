package engine

import "time"

// Clock supplies grant and processing timestamps.
// Implemented by SystemClock (production) and testutil.DeterministicClock.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

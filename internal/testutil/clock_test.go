package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDeterministicClock_StartsAtEpoch(t *testing.T) {
	clock := NewDeterministicClock()
	assert.Equal(t, Epoch, clock.Current())
	assert.Equal(t, int64(0), clock.Ticks())
}

func TestDeterministicClock_NowAdvances(t *testing.T) {
	clock := NewDeterministicClock()

	assert.Equal(t, Epoch.Add(time.Second), clock.Now())
	assert.Equal(t, Epoch.Add(2*time.Second), clock.Now())
	assert.Equal(t, Epoch.Add(2*time.Second), clock.Current())
	assert.Equal(t, int64(2), clock.Ticks())
}

func TestDeterministicClock_CustomStep(t *testing.T) {
	start := time.Date(2030, 6, 1, 0, 0, 0, 0, time.UTC)
	clock := NewDeterministicClockAt(start, time.Millisecond)

	assert.Equal(t, start.Add(time.Millisecond), clock.Now())
}

func TestDeterministicClock_Reset(t *testing.T) {
	clock := NewDeterministicClock()
	clock.Now()
	clock.Now()

	clock.Reset()

	assert.Equal(t, Epoch, clock.Current())
	assert.Equal(t, Epoch.Add(time.Second), clock.Now())
}

func TestDeterministicClock_ConcurrentUnique(t *testing.T) {
	clock := NewDeterministicClock()

	const n = 100
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[time.Time]bool)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ts := clock.Now()
			mu.Lock()
			seen[ts] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, n, "every call returns a distinct time")
	assert.Equal(t, Epoch.Add(n*time.Second), clock.Current())
}

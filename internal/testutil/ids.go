package testutil

import (
	"fmt"
	"sync"
)

// SequenceGenerator generates ids "<prefix>-1", "<prefix>-2", ...
//
// Scenarios using it get the same trace and correction ids on every run.
// Unlike engine.FixedGenerator it never runs out.
//
// Thread-safety: safe for concurrent use via internal mutex.
type SequenceGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequenceGenerator creates a generator. If prefix is empty, "test" is
// used.
func NewSequenceGenerator(prefix string) *SequenceGenerator {
	if prefix == "" {
		prefix = "test"
	}
	return &SequenceGenerator{prefix: prefix}
}

// Generate returns the next id.
//
// Implements engine.TraceGenerator.
func (g *SequenceGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}

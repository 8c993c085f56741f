package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSequenceGenerator_Counts(t *testing.T) {
	gen := NewSequenceGenerator("trace")

	assert.Equal(t, "trace-1", gen.Generate())
	assert.Equal(t, "trace-2", gen.Generate())
	assert.Equal(t, "trace-3", gen.Generate())
}

func TestSequenceGenerator_EmptyPrefixDefault(t *testing.T) {
	gen := NewSequenceGenerator("")
	assert.Equal(t, "test-1", gen.Generate())
}

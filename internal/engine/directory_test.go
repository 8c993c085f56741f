package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDirectory(t *testing.T) {
	d, err := ParseDirectory([]byte(`
users:
  - id: alice
    category: regular
    registered_at: 2024-01-02T03:04:05Z
  - id: ops
    category: staff
`))
	require.NoError(t, err)
	assert.Equal(t, 2, d.Len())

	u, ok, err := d.Lookup(context.Background(), "alice")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "regular", u.Category)
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), u.RegisteredAt)

	_, ok, err = d.Lookup(context.Background(), "mallory")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestParseDirectory_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"unknown field", "users:\n  - id: a\n    category: regular\n    role: admin\n"},
		{"duplicate id", "users:\n  - id: a\n    category: regular\n  - id: a\n    category: staff\n"},
		{"missing category", "users:\n  - id: a\n"},
		{"missing id", "users:\n  - category: regular\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDirectory([]byte(tt.src))
			assert.Error(t, err)
		})
	}
}

func TestParseDirectory_Empty(t *testing.T) {
	d, err := ParseDirectory(nil)
	require.NoError(t, err)
	assert.Zero(t, d.Len())
}

func TestLoadDirectoryFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.yaml")
	require.NoError(t, os.WriteFile(path, []byte("users:\n  - id: bob\n    category: regular\n"), 0o644))

	d, err := LoadDirectoryFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, d.Len())

	_, err = LoadDirectoryFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestStaticDirectory_Add(t *testing.T) {
	d := NewStaticDirectory()
	d.Add(User{ID: "alice", Category: "staff"})
	d.Add(User{ID: "alice", Category: "regular"})

	u, ok, err := d.Lookup(context.Background(), "alice")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "regular", u.Category, "Add replaces")
	assert.Equal(t, 1, d.Len())
}

func TestFixedGenerator(t *testing.T) {
	g := NewFixedGenerator("a", "b")
	assert.Equal(t, "a", g.Generate())
	assert.Equal(t, "b", g.Generate())
	assert.Panics(t, func() { g.Generate() })
}

func TestUUIDv7Generator_Sortable(t *testing.T) {
	var g UUIDv7Generator
	first := g.Generate()
	time.Sleep(2 * time.Millisecond)
	second := g.Generate()
	assert.Len(t, first, 36)
	assert.Less(t, first, second)
}

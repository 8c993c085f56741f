package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// User is the directory's view of a user. The engine trusts it as
// authoritative.
type User struct {
	ID           string    `yaml:"id" json:"id"`
	Category     string    `yaml:"category" json:"category"`
	RegisteredAt time.Time `yaml:"registered_at,omitempty" json:"registered_at,omitempty"`
}

// Directory looks up users. found is false for unknown users; err is
// reserved for directory failures.
type Directory interface {
	Lookup(ctx context.Context, userID string) (user User, found bool, err error)
}

// StaticDirectory is an in-memory Directory.
//
// Thread-safety: safe for concurrent use.
type StaticDirectory struct {
	mu    sync.RWMutex
	users map[string]User
}

// NewStaticDirectory creates a directory holding users.
func NewStaticDirectory(users ...User) *StaticDirectory {
	d := &StaticDirectory{users: make(map[string]User, len(users))}
	for _, u := range users {
		d.users[u.ID] = u
	}
	return d
}

// Add inserts or replaces a user.
func (d *StaticDirectory) Add(u User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[u.ID] = u
}

// Len returns the number of users.
func (d *StaticDirectory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.users)
}

// Lookup implements Directory.
func (d *StaticDirectory) Lookup(_ context.Context, userID string) (User, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[userID]
	return u, ok, nil
}

type directoryFile struct {
	Users []User `yaml:"users"`
}

// LoadDirectoryFile reads a users file (YAML, or JSON as a YAML subset):
//
//	users:
//	  - id: alice
//	    category: regular
//	    registered_at: 2024-01-02T03:04:05Z
func LoadDirectoryFile(path string) (*StaticDirectory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read users file: %w", err)
	}
	return ParseDirectory(data)
}

// ParseDirectory parses users file content. Unknown fields, duplicate ids,
// and users without an id or category are errors.
func ParseDirectory(data []byte) (*StaticDirectory, error) {
	var f directoryFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse users file: %w", err)
	}

	d := NewStaticDirectory()
	for i, u := range f.Users {
		if u.ID == "" || u.Category == "" {
			return nil, fmt.Errorf("parse users file: user %d: id and category are required", i)
		}
		if _, dup := d.users[u.ID]; dup {
			return nil, fmt.Errorf("parse users file: duplicate user %q", u.ID)
		}
		d.users[u.ID] = u
	}
	return d, nil
}

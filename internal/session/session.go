// Package session persists opaque session blobs (cookie state) under a
// configured directory. The store neither interprets nor mutates the blob.
package session

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Store saves and loads named session blobs as files.
type Store struct {
	dir string
}

// NewStore creates the directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("session store: create %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Save writes the blob for name, replacing any previous state whole.
func (s *Store) Save(name string, blob []byte) (string, error) {
	path := s.path(name)
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		return "", fmt.Errorf("session store: save %s: %w", name, err)
	}
	return path, nil
}

// Load returns the blob for name, or os.ErrNotExist when absent.
func (s *Store) Load(name string) ([]byte, error) {
	blob, err := os.ReadFile(s.path(name))
	if err != nil {
		return nil, fmt.Errorf("session store: load %s: %w", name, err)
	}
	return blob, nil
}

// Exists reports whether a session with this name was saved.
func (s *Store) Exists(name string) bool {
	_, err := os.Stat(s.path(name))
	return err == nil
}

// path sanitizes the name so callers cannot escape the store directory.
func (s *Store) path(name string) string {
	var b strings.Builder
	for _, r := range name {
		if r == '-' || r == '_' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	safe := b.String()
	if safe == "" {
		safe = "default"
	}
	return filepath.Join(s.dir, safe+".json")
}

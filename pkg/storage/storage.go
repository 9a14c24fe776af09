// Package storage persists logical tables as JSON files. Each table is
// serialized wholesale and replaced atomically via a temp-file rename, so a
// crash mid-write never leaves a torn table on disk.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Store reads and writes named tables under a single data directory.
type Store struct {
	dir string
}

// New creates the data directory if needed and returns a Store rooted there.
func New(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("data directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Load unmarshals the named table into dest. A missing table file is not an
// error; dest is left at its zero value.
func (s *Store) Load(table string, dest any) error {
	data, err := os.ReadFile(s.path(table))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read table %s: %w", table, err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("decode table %s: %w", table, err)
	}
	return nil
}

// Save marshals v and atomically replaces the named table file.
func (s *Store) Save(table string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode table %s: %w", table, err)
	}

	path := s.path(table)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write table %s: %w", table, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace table %s: %w", table, err)
	}
	return nil
}

func (s *Store) path(table string) string {
	return filepath.Join(s.dir, table+".json")
}

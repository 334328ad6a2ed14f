// Package storage keeps append-only JSON journals on disk.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Journal is an append-only list of records saved as one JSON file. Every
// append rewrites the file through a temporary file and a rename, so a
// crash leaves either the old or the new list.
type Journal[T any] struct {
	path    string
	mu      sync.RWMutex
	records []T
}

// OpenJournal loads <dir>/<name>.json, creating dir when needed. A missing
// file is an empty journal.
func OpenJournal[T any](dir, name string) (*Journal[T], error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create directory: %w", err)
	}

	j := &Journal[T]{path: filepath.Join(dir, name+".json")}
	data, err := os.ReadFile(j.path)
	switch {
	case os.IsNotExist(err):
		return j, nil
	case err != nil:
		return nil, fmt.Errorf("storage: read %s: %w", j.path, err)
	}
	if err := json.Unmarshal(data, &j.records); err != nil {
		return nil, fmt.Errorf("storage: unmarshal %s: %w", j.path, err)
	}
	return j, nil
}

// Append adds rec and saves the journal. On error the record is not kept.
func (j *Journal[T]) Append(rec T) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	records := append(j.records, rec)
	if err := j.save(records); err != nil {
		return err
	}
	j.records = records
	return nil
}

// Records returns a copy of the journal.
func (j *Journal[T]) Records() []T {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make([]T, len(j.records))
	copy(out, j.records)
	return out
}

func (j *Journal[T]) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.records)
}

// Path is the journal file.
func (j *Journal[T]) Path() string {
	return j.path
}

func (j *Journal[T]) save(records []T) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("storage: marshal journal: %w", err)
	}

	tmp := j.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("storage: write journal: %w", err)
	}
	if err := os.Rename(tmp, j.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("storage: save journal: %w", err)
	}
	return nil
}

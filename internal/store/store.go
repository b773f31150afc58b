// Package store provides the file-backed persistence primitives for the
// license subsystem: a generic JSON object store keyed by record id, and an
// append-only JSONL audit log. Both guard their file with an in-process
// mutex; writes are atomic (temp file + rename).
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// RecordStore is the load/save contract the license manager depends on.
// Production code uses *JSONStore; tests substitute *MemStore.
type RecordStore[T any] interface {
	Load() (map[string]T, error)
	Save(records map[string]T) error
}

// JSONStore persists a map of records as a single JSON object keyed by
// record id. Load and Save both hold the store mutex for their whole
// duration so cooperating writers in the same process never observe a
// half-written file.
type JSONStore[T any] struct {
	path   string
	mu     sync.Mutex
	logger *slog.Logger
}

// NewJSONStore creates a store backed by the given file path. The file is
// created lazily on first Save; a missing file loads as an empty map.
func NewJSONStore[T any](path string, logger *slog.Logger) *JSONStore[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &JSONStore[T]{path: path, logger: logger}
}

// Path returns the backing file path.
func (s *JSONStore[T]) Path() string {
	return s.path
}

// Load reads all records from the backing file. A missing file is not an
// error: it returns an empty map.
func (s *JSONStore[T]) Load() (map[string]T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]T{}, nil
		}
		return nil, fmt.Errorf("failed to read store %s: %w", s.path, err)
	}

	if len(data) == 0 {
		return map[string]T{}, nil
	}

	records := map[string]T{}
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse store %s: %w", s.path, err)
	}

	return records, nil
}

// Save writes all records atomically: marshal, write to a temp file in the
// same directory, then rename over the target. On failure the temp file is
// removed and the previous file is left untouched.
func (s *JSONStore[T]) Save(records map[string]T) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal store %s: %w", s.path, err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create store directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", s.path, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file for %s: %w", s.path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file for %s: %w", s.path, err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace store %s: %w", s.path, err)
	}

	s.logger.Debug("store saved",
		slog.String("path", s.path),
		slog.Int("records", len(records)),
		slog.Int("bytes", len(data)))

	return nil
}

// MemStore is an in-memory RecordStore for tests.
type MemStore[T any] struct {
	mu      sync.Mutex
	records map[string]T
	// FailSave forces the next Save to return an error, for exercising
	// write-failure paths.
	FailSave bool
}

// NewMemStore creates an empty in-memory store.
func NewMemStore[T any]() *MemStore[T] {
	return &MemStore[T]{records: map[string]T{}}
}

// Load returns a copy of the stored records.
func (s *MemStore[T]) Load() (map[string]T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]T, len(s.records))
	for k, v := range s.records {
		out[k] = v
	}
	return out, nil
}

// Save replaces the stored records with a copy of the given map.
func (s *MemStore[T]) Save(records map[string]T) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailSave {
		return errors.New("simulated save failure")
	}

	out := make(map[string]T, len(records))
	for k, v := range records {
		out[k] = v
	}
	s.records = out
	return nil
}

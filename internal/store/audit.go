package store

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// AuditLog is an append-only newline-delimited JSON log. Records are never
// rewritten; corrections are expressed as additional appended records.
type AuditLog[T any] struct {
	path   string
	mu     sync.Mutex
	logger *slog.Logger
}

// NewAuditLog creates an audit log backed by the given JSONL file path.
func NewAuditLog[T any](path string, logger *slog.Logger) *AuditLog[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLog[T]{path: path, logger: logger}
}

// Path returns the backing file path.
func (l *AuditLog[T]) Path() string {
	return l.path
}

// Append writes one record as a single JSON line. The append lock is held
// for the whole write so concurrent appenders never interleave lines.
func (l *AuditLog[T]) Append(record T) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal audit record: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("failed to create audit directory: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open audit log %s: %w", l.path, err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append audit record: %w", err)
	}

	return nil
}

// ReadAll returns every record in the log in append order. A missing file
// returns an empty slice. Unparseable lines are skipped with a warning
// rather than failing the whole read.
func (l *AuditLog[T]) ReadAll() ([]T, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []T{}, nil
		}
		return nil, fmt.Errorf("failed to open audit log %s: %w", l.path, err)
	}
	defer f.Close()

	var records []T
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var record T
		if err := json.Unmarshal(line, &record); err != nil {
			l.logger.Warn("skipping malformed audit record",
				slog.String("path", l.path),
				slog.Int("line", lineNo),
				slog.String("error", err.Error()))
			continue
		}
		records = append(records, record)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read audit log %s: %w", l.path, err)
	}

	if records == nil {
		records = []T{}
	}
	return records, nil
}

// Filter returns the records matching the given predicate, in append order.
func (l *AuditLog[T]) Filter(match func(T) bool) ([]T, error) {
	records, err := l.ReadAll()
	if err != nil {
		return nil, err
	}
	out := []T{}
	for _, r := range records {
		if match(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

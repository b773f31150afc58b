// Package testutil provides shared test helpers, primarily a capturing
// slog handler so tests can assert on structured log output.
package testutil

import (
	"context"
	"log/slog"
	"sync"
)

// Record is one captured log record with its attributes flattened into a
// map for easy assertion.
type Record struct {
	Level   slog.Level
	Message string
	Attrs   map[string]any
}

// Capture collects log records emitted through a logger built by
// NewCaptureLogger. Safe for concurrent use.
type Capture struct {
	mu      sync.Mutex
	records []Record
}

// Records returns a copy of everything captured so far.
func (c *Capture) Records() []Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Record, len(c.records))
	copy(out, c.records)
	return out
}

// Messages returns just the captured messages, in order.
func (c *Capture) Messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.records))
	for _, r := range c.records {
		out = append(out, r.Message)
	}
	return out
}

// Find returns the first record with the given message, if any.
func (c *Capture) Find(message string) (Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.records {
		if r.Message == message {
			return r, true
		}
	}
	return Record{}, false
}

// HasAttr reports whether any captured record carries the given key/value.
func (c *Capture) HasAttr(key string, value any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.records {
		if v, ok := r.Attrs[key]; ok && v == value {
			return true
		}
	}
	return false
}

// captureHandler is a slog.Handler that appends every record to a Capture.
type captureHandler struct {
	capture *Capture
	attrs   []slog.Attr
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *captureHandler) Handle(_ context.Context, r slog.Record) error {
	attrs := make(map[string]any, r.NumAttrs()+len(h.attrs))
	for _, a := range h.attrs {
		attrs[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.Any()
		return true
	})

	h.capture.mu.Lock()
	defer h.capture.mu.Unlock()
	h.capture.records = append(h.capture.records, Record{
		Level:   r.Level,
		Message: r.Message,
		Attrs:   attrs,
	})
	return nil
}

func (h *captureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &captureHandler{capture: h.capture, attrs: merged}
}

func (h *captureHandler) WithGroup(string) slog.Handler { return h }

// NewCaptureLogger returns a logger whose output is collected into the
// returned Capture instead of being written anywhere.
func NewCaptureLogger() (*slog.Logger, *Capture) {
	capture := &Capture{}
	return slog.New(&captureHandler{capture: capture}), capture
}

// Package ratelimit implements the in-memory sliding-window limiter that
// guards abuse-prone license operations (trial creation, forgot-license,
// login validation). State is process-local and intentionally not
// persisted: a restart resets all limits.
package ratelimit

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"iwlicense/internal/config"
)

// Actions known to the limiter.
const (
	ActionTrialCreate   = "trial_create"
	ActionForgotLicense = "forgot_license"
	ActionLoginValidate = "login_validate"
)

const (
	// cleanupEvery bounds memory by purging stale identifiers
	// opportunistically on every Nth check.
	cleanupEvery = 256
	// staleHorizon is the age past which identifier state is purged
	// regardless of block state.
	staleHorizon = 24 * time.Hour
	// maxBackoffMultiplier caps the exponential block growth at 8x.
	maxBackoffMultiplier = 8
)

// Decision is the outcome of a rate limit check.
type Decision struct {
	Allowed    bool          `json:"allowed"`
	Reason     string        `json:"reason,omitempty"`
	Remaining  int           `json:"remaining"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

// entry tracks one identifier's request history within the current window.
type entry struct {
	requests       []time.Time
	blockedUntil   time.Time
	violationCount int
	lastSeen       time.Time
}

// Limiter is a sliding-window rate limiter with capped exponential backoff.
type Limiter struct {
	mu      sync.Mutex
	entries map[string]*entry
	limits  map[string]config.ActionLimit
	salt    []byte
	logger  *slog.Logger
	checks  int
	now     func() time.Time
	denied  metric.Int64Counter
}

// Instrument attaches a counter for denied checks, labeled by action.
func (l *Limiter) Instrument(meter metric.Meter) error {
	denied, err := meter.Int64Counter("ratelimit.denied",
		metric.WithDescription("Rate limit checks that were denied"))
	if err != nil {
		return fmt.Errorf("failed to create ratelimit counter: %w", err)
	}
	l.denied = denied
	return nil
}

// recordDenied is a no-op until Instrument has been called.
func (l *Limiter) recordDenied(action string) {
	if l.denied == nil {
		return
	}
	l.denied.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("action", action)))
}

// randRead is swapped out in tests to exercise the entropy fallback.
var randRead = rand.Read

// New creates a limiter from the per-action configuration. Identifiers are
// salted hashes so raw emails, IPs, and hardware ids never sit in memory.
// When crypto/rand is unavailable the salt falls back to the clock: the
// salt only blinds in-memory identifiers, so startup does not fail.
func New(cfg config.RateLimitConfig, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	salt := make([]byte, 16)
	if _, err := randRead(salt); err != nil {
		logger.Warn("failed to read random salt, falling back to clock",
			slog.String("error", err.Error()))
		binary.BigEndian.PutUint64(salt, uint64(time.Now().UnixNano()))
	}

	return &Limiter{
		entries: make(map[string]*entry),
		limits: map[string]config.ActionLimit{
			ActionTrialCreate:   cfg.TrialCreate,
			ActionForgotLicense: cfg.ForgotLicense,
			ActionLoginValidate: cfg.LoginValidate,
		},
		salt:   salt,
		logger: logger,
		now:    time.Now,
	}
}

// Check decides whether a request for the given action may proceed, and
// records it when allowed. Any subset of email/ip/hardwareID may be empty;
// the provided parts form the composite identifier.
func (l *Limiter) Check(action, email, ip, hardwareID string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.checks++
	if l.checks%cleanupEvery == 0 {
		l.purgeStaleLocked()
	}

	limit, ok := l.limits[action]
	if !ok {
		l.logger.Warn("unknown rate limit action", slog.String("action", action))
		return Decision{Allowed: true, Reason: "unknown_action"}
	}

	id := l.identifier(email, ip, hardwareID)
	now := l.now()

	e, ok := l.entries[id]
	if !ok {
		e = &entry{}
		l.entries[id] = e
	}
	e.lastSeen = now

	// Active block: deny with the time remaining.
	if !e.blockedUntil.IsZero() && now.Before(e.blockedUntil) {
		retryAfter := e.blockedUntil.Sub(now)
		l.logger.Warn("rate limit block active",
			slog.String("action", action),
			slog.Duration("retry_after", retryAfter),
			slog.Int("violations", e.violationCount))
		l.recordDenied(action)
		return Decision{Allowed: false, Reason: "rate_limit_exceeded", RetryAfter: retryAfter}
	}
	// Expired block clears, but violationCount persists so repeat
	// offenders keep their backoff multiplier.
	e.blockedUntil = time.Time{}

	// Drop requests that slid out of the window.
	windowStart := now.Add(-limit.Window)
	kept := e.requests[:0]
	for _, ts := range e.requests {
		if ts.After(windowStart) {
			kept = append(kept, ts)
		}
	}
	e.requests = kept

	if len(e.requests) >= limit.MaxRequests {
		e.violationCount++
		multiplier := 1 << (e.violationCount - 1)
		if multiplier > maxBackoffMultiplier {
			multiplier = maxBackoffMultiplier
		}
		blockDuration := limit.BlockDuration * time.Duration(multiplier)
		e.blockedUntil = now.Add(blockDuration)

		l.logger.Warn("rate limit exceeded",
			slog.String("action", action),
			slog.Int("requests_in_window", len(e.requests)),
			slog.Int("violations", e.violationCount),
			slog.Duration("blocked_for", blockDuration))
		l.recordDenied(action)

		return Decision{Allowed: false, Reason: "rate_limit_exceeded", RetryAfter: blockDuration}
	}

	e.requests = append(e.requests, now)
	remaining := limit.MaxRequests - len(e.requests)

	return Decision{Allowed: true, Reason: "ok", Remaining: remaining}
}

// Reset clears all limiter state for the given identity. Admin operation.
func (l *Limiter) Reset(email, ip, hardwareID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := l.identifier(email, ip, hardwareID)
	if _, ok := l.entries[id]; !ok {
		return false
	}
	delete(l.entries, id)
	return true
}

// Stats reports limiter occupancy for health endpoints.
func (l *Limiter) Stats() map[string]interface{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	blocked := 0
	now := l.now()
	for _, e := range l.entries {
		if now.Before(e.blockedUntil) {
			blocked++
		}
	}
	return map[string]interface{}{
		"tracked_identifiers": len(l.entries),
		"blocked":             blocked,
		"checks":              l.checks,
	}
}

// identifier builds a salted hash of the provided identity parts so no raw
// PII is kept in the table.
func (l *Limiter) identifier(email, ip, hardwareID string) string {
	parts := make([]string, 0, 3)
	if email != "" {
		parts = append(parts, "email:"+strings.ToLower(email))
	}
	if ip != "" {
		parts = append(parts, "ip:"+ip)
	}
	if hardwareID != "" {
		parts = append(parts, "hw:"+hardwareID)
	}

	h := sha256.New()
	h.Write(l.salt)
	h.Write([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// purgeStaleLocked removes identifiers not seen within the horizon.
// Caller holds the mutex.
func (l *Limiter) purgeStaleLocked() {
	cutoff := l.now().Add(-staleHorizon)
	removed := 0
	for id, e := range l.entries {
		if e.lastSeen.Before(cutoff) {
			delete(l.entries, id)
			removed++
		}
	}
	if removed > 0 {
		l.logger.Debug("purged stale rate limit entries", slog.Int("removed", removed))
	}
}

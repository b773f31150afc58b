package backup

import (
	"context"
	"log/slog"
	"time"

	"iwlicense/internal/config"
	"iwlicense/internal/infrastructure"
)

// Scheduler drives periodic backups from a single goroutine. Every tick
// takes an hourly backup; daily, weekly, and monthly backups are promoted
// whenever the corresponding calendar boundary has been crossed since the
// last one of that tier.
type Scheduler struct {
	manager  *Manager
	interval time.Duration

	lastDaily   time.Time
	lastWeekly  time.Time
	lastMonthly time.Time
}

// NewScheduler creates a scheduler over the given backup manager.
func NewScheduler(manager *Manager, cfg config.BackupConfig) *Scheduler {
	interval := cfg.HourlyInterval
	if interval <= 0 {
		interval = time.Hour
	}
	return &Scheduler{manager: manager, interval: interval}
}

// Run blocks until ctx is canceled, taking scheduled backups on each tick.
// The previous tier high-water marks are seeded from existing backups so a
// restart does not immediately re-take daily/weekly/monthly snapshots.
func (s *Scheduler) Run(ctx context.Context) error {
	logger := infrastructure.LoggerWithContext(ctx)

	s.seedFromExisting(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	logger.Info("backup scheduler started",
		slog.Duration("interval", s.interval))

	for {
		select {
		case <-ctx.Done():
			logger.Info("backup scheduler stopped")
			return ctx.Err()
		case now := <-ticker.C:
			s.tick(ctx, now)
		}
	}
}

// tick takes the backups due at the given time.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	logger := infrastructure.LoggerWithContext(ctx)

	for _, due := range s.dueTiers(now) {
		if _, err := s.manager.CreateBackup(ctx, due); err != nil {
			logger.Error("scheduled backup failed",
				slog.String("tier", string(due)),
				slog.String("error", err.Error()))
			continue
		}
		switch due {
		case TierDaily:
			s.lastDaily = now
		case TierWeekly:
			s.lastWeekly = now
		case TierMonthly:
			s.lastMonthly = now
		}
	}
}

// dueTiers returns the tiers due at the given time, hourly always first.
func (s *Scheduler) dueTiers(now time.Time) []Tier {
	due := []Tier{TierHourly}
	if !sameDay(s.lastDaily, now) {
		due = append(due, TierDaily)
	}
	if !sameWeek(s.lastWeekly, now) {
		due = append(due, TierWeekly)
	}
	if !sameMonth(s.lastMonthly, now) {
		due = append(due, TierMonthly)
	}
	return due
}

// seedFromExisting initializes the per-tier high-water marks from the
// newest existing backup of each tier.
func (s *Scheduler) seedFromExisting(ctx context.Context) {
	for _, seed := range []struct {
		tier Tier
		last *time.Time
	}{
		{TierDaily, &s.lastDaily},
		{TierWeekly, &s.lastWeekly},
		{TierMonthly, &s.lastMonthly},
	} {
		manifests, err := s.manager.ListBackups(ctx, seed.tier)
		if err != nil || len(manifests) == 0 {
			continue
		}
		*seed.last = manifests[0].CreatedAt
	}
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

func sameWeek(a, b time.Time) bool {
	ay, aw := a.UTC().ISOWeek()
	by, bw := b.UTC().ISOWeek()
	return ay == by && aw == bw
}

func sameMonth(a, b time.Time) bool {
	ay, am, _ := a.UTC().Date()
	by, bm, _ := b.UTC().Date()
	return ay == by && am == bm
}

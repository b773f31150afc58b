package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_DueTiers(t *testing.T) {
	f := newBackupFixture(t, defaultBackupConfig())
	s := NewScheduler(f.manager, defaultBackupConfig())

	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	// Nothing recorded yet: every tier is due.
	assert.ElementsMatch(t, []Tier{TierHourly, TierDaily, TierWeekly, TierMonthly}, s.dueTiers(now))

	s.lastDaily = now
	s.lastWeekly = now
	s.lastMonthly = now

	// Within the same day only the hourly tier fires.
	assert.Equal(t, []Tier{TierHourly}, s.dueTiers(now.Add(time.Hour)))

	// Crossing midnight promotes a daily backup.
	nextDay := time.Date(2026, 2, 2, 0, 30, 0, 0, time.UTC)
	assert.ElementsMatch(t, []Tier{TierHourly, TierDaily, TierWeekly}, s.dueTiers(nextDay),
		"Feb 2 2026 starts ISO week 6 so the weekly tier fires too")

	// Crossing into a new month promotes all calendar tiers.
	nextMonth := time.Date(2026, 3, 1, 0, 30, 0, 0, time.UTC)
	assert.ElementsMatch(t, []Tier{TierHourly, TierDaily, TierWeekly, TierMonthly}, s.dueTiers(nextMonth))
}

func TestScheduler_TickCreatesBackups(t *testing.T) {
	f := newBackupFixture(t, defaultBackupConfig())
	f.writeData(t, "licenses.json", `{}`)

	s := NewScheduler(f.manager, defaultBackupConfig())
	ctx := context.Background()

	now := *f.clock
	s.tick(ctx, now)

	entries, err := os.ReadDir(f.backupDir)
	require.NoError(t, err)
	assert.Len(t, entries, 4, "first tick takes hourly, daily, weekly, and monthly backups")

	// A second tick an hour later within the same day only adds an hourly.
	f.advance(time.Hour)
	s.tick(ctx, now.Add(time.Hour))

	entries, err = os.ReadDir(f.backupDir)
	require.NoError(t, err)
	assert.Len(t, entries, 5)
}

func TestScheduler_SeedFromExisting(t *testing.T) {
	f := newBackupFixture(t, defaultBackupConfig())
	f.writeData(t, "licenses.json", `{}`)
	ctx := context.Background()

	_, err := f.manager.CreateBackup(ctx, TierDaily)
	require.NoError(t, err)

	s := NewScheduler(f.manager, defaultBackupConfig())
	s.seedFromExisting(ctx)

	assert.True(t, s.lastDaily.Equal(*f.clock), "daily high-water mark seeded from existing backup")
	assert.True(t, s.lastWeekly.IsZero())

	// A restart within the same day must not re-take the daily backup.
	due := s.dueTiers(f.clock.Add(time.Hour))
	assert.NotContains(t, due, TierDaily)
	assert.Contains(t, due, TierHourly)
}

func TestScheduler_RunStopsOnCancel(t *testing.T) {
	f := newBackupFixture(t, defaultBackupConfig())
	f.writeData(t, "licenses.json", `{}`)

	cfg := defaultBackupConfig()
	cfg.HourlyInterval = 10 * time.Millisecond
	s := NewScheduler(f.manager, cfg)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	// Let at least one tick happen, then stop.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop after cancel")
	}

	entries, err := os.ReadDir(filepath.Join(f.dataDir, "backups"))
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
}

package backup

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"iwlicense/internal/config"
	"iwlicense/internal/infrastructure"
)

// Tier classifies a backup by what triggered it. Each scheduled tier has
// its own retention count; manual and pre-restore backups are never pruned
// automatically.
type Tier string

const (
	TierManual     Tier = "manual"
	TierHourly     Tier = "hourly"
	TierDaily      Tier = "daily"
	TierWeekly     Tier = "weekly"
	TierMonthly    Tier = "monthly"
	TierPreRestore Tier = "pre_restore"
)

// Manifest describes one backup directory's contents.
type Manifest struct {
	BackupName              string    `json:"backup_name,omitempty"`
	CreatedAt               time.Time `json:"created_at"`
	Tier                    Tier      `json:"backup_type"`
	Files                   []string  `json:"files"`
	FileCount               int       `json:"file_count"`
	OriginalSizeBytes       int64     `json:"original_size_bytes"`
	CompressedSizeBytes     int64     `json:"compressed_size_bytes"`
	CompressionRatioPercent float64   `json:"compression_ratio_percent"`
}

// RestoreReport summarizes a restore attempt. SafetyBackup names the
// pre-restore snapshot taken before any file was overwritten.
type RestoreReport struct {
	RestoredFiles []string `json:"restored_files"`
	FailedFiles   []string `json:"failed_files,omitempty"`
	SafetyBackup  string   `json:"safety_backup"`
}

// Stats summarizes the backup directory for admin reporting.
type Stats struct {
	TotalBackups int            `json:"total_backups"`
	TotalSizeMB  float64        `json:"total_size_mb"`
	ByTier       map[string]int `json:"by_type"`
	OldestBackup string         `json:"oldest_backup,omitempty"`
	NewestBackup string         `json:"newest_backup,omitempty"`
}

// Manager creates, prunes, lists, and restores compressed snapshots of the
// data files. Each backup is a timestamped directory of gzipped copies
// plus a manifest.json.
type Manager struct {
	dataDir   string
	backupDir string
	files     []string
	retention map[Tier]int

	mu   sync.Mutex
	now  func() time.Time
	runs metric.Int64Counter
}

// Instrument attaches a counter for completed backups, labeled by tier.
func (m *Manager) Instrument(meter metric.Meter) error {
	runs, err := meter.Int64Counter("backup.runs",
		metric.WithDescription("Backups created, by tier"))
	if err != nil {
		return fmt.Errorf("failed to create backup counter: %w", err)
	}
	m.runs = runs
	return nil
}

// NewManager creates a backup manager for the named data files. files are
// paths relative to dataDir; missing files are skipped at backup time.
func NewManager(dataDir, backupDir string, files []string, cfg config.BackupConfig) *Manager {
	return &Manager{
		dataDir:   dataDir,
		backupDir: backupDir,
		files:     files,
		retention: map[Tier]int{
			TierHourly:  cfg.KeepHourly,
			TierDaily:   cfg.KeepDaily,
			TierWeekly:  cfg.KeepWeekly,
			TierMonthly: cfg.KeepMonthly,
		},
		now: time.Now,
	}
}

// CreateBackup snapshots every present data file into a new timestamped
// backup directory, gzipped, then prunes old backups of the same tier.
// A backup with zero present source files is an error, not an empty
// directory.
func (m *Manager) CreateBackup(ctx context.Context, tier Tier) (*Manifest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createBackupLocked(ctx, tier)
}

func (m *Manager) createBackupLocked(ctx context.Context, tier Tier) (*Manifest, error) {
	logger := infrastructure.LoggerWithContext(ctx)

	now := m.now().UTC()
	name := fmt.Sprintf("backup_%s_%s", tier, now.Format("20060102_150405"))
	path := filepath.Join(m.backupDir, name)

	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}

	manifest := &Manifest{
		BackupName: name,
		CreatedAt:  now,
		Tier:       tier,
		Files:      []string{},
	}

	for _, filename := range m.files {
		source := filepath.Join(m.dataDir, filename)
		info, err := os.Stat(source)
		if err != nil {
			if os.IsNotExist(err) {
				logger.Warn("backup source missing, skipping",
					slog.String("file", filename))
				continue
			}
			return nil, fmt.Errorf("failed to stat %s: %w", filename, err)
		}

		dest := filepath.Join(path, filename+".gz")
		compressed, err := compressFile(source, dest)
		if err != nil {
			logger.Error("failed to back up file",
				slog.String("file", filename),
				slog.String("error", err.Error()))
			continue
		}

		manifest.Files = append(manifest.Files, filename)
		manifest.OriginalSizeBytes += info.Size()
		manifest.CompressedSizeBytes += compressed
	}

	if len(manifest.Files) == 0 {
		os.RemoveAll(path)
		return nil, fmt.Errorf("no data files present, nothing to back up")
	}

	manifest.FileCount = len(manifest.Files)
	if manifest.OriginalSizeBytes > 0 {
		ratio := (1 - float64(manifest.CompressedSizeBytes)/float64(manifest.OriginalSizeBytes)) * 100
		manifest.CompressionRatioPercent = float64(int(ratio*10)) / 10
	}

	manifestData, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(path, "manifest.json"), manifestData, 0644); err != nil {
		return nil, fmt.Errorf("failed to write manifest: %w", err)
	}

	logger.Info("backup created",
		slog.String("backup", name),
		slog.String("tier", string(tier)),
		slog.Int("files", manifest.FileCount),
		slog.Int64("original_bytes", manifest.OriginalSizeBytes),
		slog.Int64("compressed_bytes", manifest.CompressedSizeBytes))
	if m.runs != nil {
		m.runs.Add(ctx, 1, metric.WithAttributes(attribute.String("tier", string(tier))))
	}

	m.pruneLocked(ctx, tier)

	return manifest, nil
}

// pruneLocked removes backups of the given tier beyond its retention
// count. Within one tier the names share a prefix and embed a UTC
// timestamp, so lexical order is chronological order.
func (m *Manager) pruneLocked(ctx context.Context, tier Tier) {
	keep, tiered := m.retention[tier]
	if !tiered || keep <= 0 {
		return
	}

	logger := infrastructure.LoggerWithContext(ctx)

	names, err := m.backupNames(tier)
	if err != nil {
		logger.Error("failed to list backups for pruning",
			slog.String("tier", string(tier)),
			slog.String("error", err.Error()))
		return
	}

	// Newest first; everything past the retention count goes.
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	for _, name := range names[min(keep, len(names)):] {
		if err := os.RemoveAll(filepath.Join(m.backupDir, name)); err != nil {
			logger.Error("failed to remove old backup",
				slog.String("backup", name),
				slog.String("error", err.Error()))
			continue
		}
		logger.Info("removed old backup", slog.String("backup", name))
	}
}

// ListBackups returns the manifests of all backups, newest first. tier
// filters to one tier; an empty tier returns everything. Directories with
// unreadable manifests are skipped.
func (m *Manager) ListBackups(ctx context.Context, tier Tier) ([]Manifest, error) {
	names, err := m.backupNames(tier)
	if err != nil {
		return nil, err
	}

	logger := infrastructure.LoggerWithContext(ctx)

	manifests := []Manifest{}
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(m.backupDir, name, "manifest.json"))
		if err != nil {
			logger.Warn("skipping backup with unreadable manifest",
				slog.String("backup", name),
				slog.String("error", err.Error()))
			continue
		}
		var manifest Manifest
		if err := json.Unmarshal(data, &manifest); err != nil {
			logger.Warn("skipping backup with malformed manifest",
				slog.String("backup", name),
				slog.String("error", err.Error()))
			continue
		}
		manifest.BackupName = name
		manifests = append(manifests, manifest)
	}

	// Names only sort chronologically within a single tier (the tier is
	// part of the name), so order by the manifest timestamp instead.
	sort.Slice(manifests, func(i, j int) bool {
		if !manifests[i].CreatedAt.Equal(manifests[j].CreatedAt) {
			return manifests[i].CreatedAt.After(manifests[j].CreatedAt)
		}
		return manifests[i].BackupName > manifests[j].BackupName
	})
	return manifests, nil
}

// Restore replaces the live data files with the contents of the named
// backup. A pre-restore safety backup of the current state is taken first;
// if that fails, nothing is touched. Files that fail to restore are
// reported; the safety backup remains available either way.
func (m *Manager) Restore(ctx context.Context, backupName string) (*RestoreReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	logger := infrastructure.LoggerWithContext(ctx)

	backupName = filepath.Base(backupName)
	backupPath := filepath.Join(m.backupDir, backupName)

	if _, err := os.Stat(filepath.Join(backupPath, "manifest.json")); err != nil {
		return nil, fmt.Errorf("backup %s not found or has no manifest: %w", backupName, err)
	}

	safety, err := m.createBackupLocked(ctx, TierPreRestore)
	if err != nil {
		return nil, fmt.Errorf("failed to create safety backup, aborting restore: %w", err)
	}

	report := &RestoreReport{
		RestoredFiles: []string{},
		SafetyBackup:  safety.BackupName,
	}

	entries, err := os.ReadDir(backupPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".gz") {
			continue
		}
		original := strings.TrimSuffix(entry.Name(), ".gz")
		dest := filepath.Join(m.dataDir, original)

		if err := decompressFile(filepath.Join(backupPath, entry.Name()), dest); err != nil {
			logger.Error("failed to restore file",
				slog.String("file", original),
				slog.String("error", err.Error()))
			report.FailedFiles = append(report.FailedFiles, original)
			continue
		}
		report.RestoredFiles = append(report.RestoredFiles, original)
	}

	if len(report.FailedFiles) > 0 {
		logger.Error("restore completed with errors",
			slog.String("backup", backupName),
			slog.Int("restored", len(report.RestoredFiles)),
			slog.Int("failed", len(report.FailedFiles)),
			slog.String("safety_backup", report.SafetyBackup))
		return report, fmt.Errorf("restore of %s failed for %d file(s)", backupName, len(report.FailedFiles))
	}

	logger.Info("restore successful",
		slog.String("backup", backupName),
		slog.Int("restored", len(report.RestoredFiles)),
		slog.String("safety_backup", report.SafetyBackup))

	return report, nil
}

// BackupStats aggregates the backup directory for admin reporting.
func (m *Manager) BackupStats(ctx context.Context) (Stats, error) {
	manifests, err := m.ListBackups(ctx, "")
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{ByTier: map[string]int{}}
	var totalBytes int64
	for _, manifest := range manifests {
		stats.TotalBackups++
		stats.ByTier[string(manifest.Tier)]++
		totalBytes += manifest.CompressedSizeBytes
	}
	stats.TotalSizeMB = float64(totalBytes) / (1024 * 1024)

	if len(manifests) > 0 {
		stats.NewestBackup = manifests[0].BackupName
		stats.OldestBackup = manifests[len(manifests)-1].BackupName
	}
	return stats, nil
}

// backupNames returns the backup directory names matching the tier, or all
// backups when tier is empty.
func (m *Manager) backupNames(tier Tier) ([]string, error) {
	prefix := "backup_"
	if tier != "" {
		prefix = fmt.Sprintf("backup_%s_", tier)
	}

	entries, err := os.ReadDir(m.backupDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	names := []string{}
	for _, entry := range entries {
		if entry.IsDir() && strings.HasPrefix(entry.Name(), prefix) {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}

// compressFile gzips source into dest and returns the compressed size.
func compressFile(source, dest string) (int64, error) {
	in, err := os.Open(source)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return 0, err
	}
	defer out.Close()

	gz, err := gzip.NewWriterLevel(out, gzip.BestCompression)
	if err != nil {
		return 0, err
	}
	if _, err := io.Copy(gz, in); err != nil {
		gz.Close()
		return 0, err
	}
	if err := gz.Close(); err != nil {
		return 0, err
	}

	info, err := out.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// decompressFile gunzips source into dest, replacing it atomically via a
// temp file so a failed restore never leaves a truncated data file.
func decompressFile(source, dest string) error {
	in, err := os.Open(source)
	if err != nil {
		return err
	}
	defer in.Close()

	gz, err := gzip.NewReader(in)
	if err != nil {
		return err
	}
	defer gz.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".restore-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, gz); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

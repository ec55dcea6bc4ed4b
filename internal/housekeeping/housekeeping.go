// Package housekeeping runs the periodic janitor sweeps: stale log and
// download cleanup plus stuck task recovery.
package housekeeping

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/repub-dev/repub/internal/config"
)

// Long-lived log files are truncated rather than deleted so open handles
// keep working.
const (
	appLogName         = "app.log"
	taskManagerLogName = "task_manager.log"
	taskLogGlob        = "task_*.log"
)

// stuckSweepInterval is how often stuck tasks are checked for.
const stuckSweepInterval = 10 * time.Minute

// StuckResetter recovers tasks stranded in a non-terminal state.
type StuckResetter interface {
	ResetStuck(ctx context.Context) (int, error)
}

// Janitor owns the retention sweeps. Each sweep runs on its own interval
// and can be disabled independently.
type Janitor struct {
	cfg         config.RetentionConfig
	logDir      string
	downloadDir string
	resetter    StuckResetter
	logger      *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a janitor. resetter may be nil to disable stuck task recovery.
func New(cfg config.RetentionConfig, storage config.StorageConfig, resetter StuckResetter, logger *slog.Logger) *Janitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{
		cfg:         cfg,
		logDir:      storage.LogPath(),
		downloadDir: storage.DownloadPath(),
		resetter:    resetter,
		logger:      logger.With(slog.String("component", "housekeeping")),
	}
}

// Start launches the enabled sweeps in the background.
func (j *Janitor) Start(ctx context.Context) {
	ctx, j.cancel = context.WithCancel(ctx)

	if j.cfg.Logs.Enabled.Enabled() {
		j.spawn(ctx, j.cfg.Logs.Interval, func(ctx context.Context) {
			if removed, freed, err := j.SweepLogs(ctx); err != nil {
				j.logger.Error("log sweep failed", slog.Any("error", err))
			} else if removed > 0 {
				j.logger.Info("log sweep finished",
					slog.Int("removed", removed), slog.Int64("freed_bytes", freed))
			}
		})
	}
	if j.cfg.Downloads.Enabled.Enabled() {
		j.spawn(ctx, j.cfg.Downloads.Interval, func(ctx context.Context) {
			if removed, freed, err := j.SweepDownloads(ctx); err != nil {
				j.logger.Error("download sweep failed", slog.Any("error", err))
			} else if removed > 0 {
				j.logger.Info("download sweep finished",
					slog.Int("removed", removed), slog.Int64("freed_bytes", freed))
			}
		})
	}
	if j.resetter != nil {
		j.spawn(ctx, stuckSweepInterval, func(ctx context.Context) {
			if n, err := j.resetter.ResetStuck(ctx); err != nil {
				j.logger.Error("stuck task sweep failed", slog.Any("error", err))
			} else if n > 0 {
				j.logger.Warn("stuck tasks reset", slog.Int("count", n))
			}
		})
	}
}

// Stop halts the sweeps and waits for any running one to finish.
func (j *Janitor) Stop() {
	if j.cancel != nil {
		j.cancel()
	}
	j.wg.Wait()
}

func (j *Janitor) spawn(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn(ctx)
			}
		}
	}()
}

// SweepLogs deletes files in the logs directory older than the configured
// retention. Returns the number of files removed and the bytes freed.
func (j *Janitor) SweepLogs(ctx context.Context) (int, int64, error) {
	cutoff := time.Now().Add(-j.cfg.Logs.MaxAge)
	entries, err := os.ReadDir(j.logDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, 0, nil
		}
		return 0, 0, err
	}

	var removed int
	var freed int64
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return removed, freed, err
		}
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(j.logDir, entry.Name())
		if err := os.Remove(path); err != nil {
			j.logger.Warn("removing stale log", slog.String("path", path), slog.Any("error", err))
			continue
		}
		removed++
		freed += info.Size()
	}
	return removed, freed, nil
}

// SweepDownloads deletes entries in the downloads root older than the
// configured retention. Task working directories are removed whole, with
// their size summed from the files inside; stray files are removed directly.
func (j *Janitor) SweepDownloads(ctx context.Context) (int, int64, error) {
	cutoff := time.Now().Add(-j.cfg.Downloads.MaxAge)
	entries, err := os.ReadDir(j.downloadDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, 0, nil
		}
		return 0, 0, err
	}

	var removed int
	var freed int64
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return removed, freed, err
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(j.downloadDir, entry.Name())

		size := info.Size()
		if entry.IsDir() {
			size = dirSize(path)
		}
		if err := os.RemoveAll(path); err != nil {
			j.logger.Warn("removing stale download", slog.String("path", path), slog.Any("error", err))
			continue
		}
		removed++
		freed += size
	}
	return removed, freed, nil
}

// dirSize sums the regular files under root. Unreadable entries count as 0.
func dirSize(root string) int64 {
	var total int64
	_ = filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}

// ClearCurrentLogs truncates the long-lived log files in place and deletes
// the per-task logs.
func (j *Janitor) ClearCurrentLogs() error {
	for _, name := range []string{appLogName, taskManagerLogName} {
		path := filepath.Join(j.logDir, name)
		if err := os.Truncate(path, 0); err != nil && !os.IsNotExist(err) {
			return err
		}
	}

	matches, err := filepath.Glob(filepath.Join(j.logDir, taskLogGlob))
	if err != nil {
		return err
	}
	for _, path := range matches {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			j.logger.Warn("removing task log", slog.String("path", path), slog.Any("error", err))
		}
	}
	return nil
}

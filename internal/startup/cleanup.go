// Package startup provides utilities for application startup tasks.
package startup

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/repub-dev/repub/internal/ffmpeg"
	"github.com/repub-dev/repub/internal/models"
	"github.com/repub-dev/repub/internal/repository"
)

// DefaultCleanupAge is the default maximum age for orphaned temp directories.
const DefaultCleanupAge = 1 * time.Hour

// CleanupOrphanedTempDirs removes encoder work directories left behind by a
// crashed run. It looks for directories matching the encoder's temp prefix
// in baseDir that are older than maxAge.
//
// Returns the number of directories removed.
func CleanupOrphanedTempDirs(logger *slog.Logger, baseDir string, maxAge time.Duration) (int, error) {
	if _, err := os.Stat(baseDir); os.IsNotExist(err) {
		return 0, nil
	}

	entries, err := os.ReadDir(baseDir)
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", baseDir, err)
	}

	cutoff := time.Now().Add(-maxAge)
	var removed int
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), ffmpeg.TempDirPrefix) {
			continue
		}

		dirPath := filepath.Join(baseDir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}

		if err := os.RemoveAll(dirPath); err != nil {
			logger.Warn("removing orphaned temp directory",
				slog.String("path", dirPath), slog.Any("error", err))
			continue
		}
		logger.Info("removed orphaned temp directory",
			slog.String("path", dirPath),
			slog.Duration("age", time.Since(info.ModTime()).Round(time.Second)))
		removed++
	}
	return removed, nil
}

// CleanupSystemTempDirs cleans orphaned encoder work directories from the
// system temp directory using the default cleanup age.
func CleanupSystemTempDirs(logger *slog.Logger) (int, error) {
	return CleanupOrphanedTempDirs(logger, os.TempDir(), DefaultCleanupAge)
}

// RecoverInterruptedTasks fails tasks left in an in-progress state by a
// previous run. The in-memory pipeline state is lost on restart, so without
// this recovery those rows would sit in a working status forever, counting
// against the concurrency target.
//
// Returns the number of tasks recovered.
func RecoverInterruptedTasks(ctx context.Context, logger *slog.Logger, tasks repository.TaskRepository) (int, error) {
	stuck, err := tasks.GetStuck(ctx, time.Now())
	if err != nil {
		return 0, fmt.Errorf("loading interrupted tasks: %w", err)
	}

	var recovered int
	for _, task := range stuck {
		logger.Warn("recovering interrupted task",
			slog.String("task_id", task.ID.String()),
			slog.String("status", string(task.Status)))

		reason := fmt.Sprintf("interrupted by restart (prev=%s)", task.Status)
		if err := tasks.UpdateStatus(ctx, task.ID, models.TaskStatusFailed, reason); err != nil {
			logger.Error("recovering interrupted task",
				slog.String("task_id", task.ID.String()), slog.Any("error", err))
			continue
		}
		recovered++
	}
	return recovered, nil
}

// Package repository provides data access interfaces and GORM
// implementations for repub entities.
package repository

import (
	"context"
	"time"

	"github.com/repub-dev/repub/internal/models"
)

// TaskRepository defines data access for republishing tasks.
//
// UpdateFields is the single mutation primitive used by the pipeline: it is
// an atomic single-row update that always bumps updated_at. Progress
// counters go through UpdateProgress, which is identical except that
// callers treat it as silent (no stage log entry).
type TaskRepository interface {
	Create(ctx context.Context, sourceURL string) (*models.Task, error)
	GetByID(ctx context.Context, id models.ULID) (*models.Task, error)
	GetAll(ctx context.Context) ([]*models.Task, error)
	GetByStatus(ctx context.Context, status models.TaskStatus) ([]*models.Task, error)

	// UpdateFields applies the given column updates to one row.
	UpdateFields(ctx context.Context, id models.ULID, fields map[string]any) error

	// UpdateStatus transitions one row, clearing or setting error_message.
	UpdateStatus(ctx context.Context, id models.ULID, status models.TaskStatus, errorMessage string) error

	// UpdateProgress updates the free-form progress string only.
	UpdateProgress(ctx context.Context, id models.ULID, progress string) error

	Delete(ctx context.Context, id models.ULID) error
	DeleteAll(ctx context.Context) ([]*models.Task, error)

	// OldestPending returns the oldest pending task by created_at, or nil.
	OldestPending(ctx context.Context) (*models.Task, error)

	// CountInProgress counts rows in in-progress states.
	CountInProgress(ctx context.Context) (int64, error)

	// GetStuck returns in-progress rows whose updated_at is strictly older
	// than the cutoff.
	GetStuck(ctx context.Context, cutoff time.Time) ([]*models.Task, error)
}

// MonitorRepository defines data access for discovery configs and history.
type MonitorRepository interface {
	CreateConfig(ctx context.Context, cfg *models.MonitorConfig) error
	GetConfig(ctx context.Context, id models.ULID) (*models.MonitorConfig, error)
	GetAllConfigs(ctx context.Context) ([]*models.MonitorConfig, error)
	GetAutoConfigs(ctx context.Context) ([]*models.MonitorConfig, error)
	UpdateConfig(ctx context.Context, cfg *models.MonitorConfig) error
	DeleteConfig(ctx context.Context, id models.ULID) error
	TouchLastRun(ctx context.Context, id models.ULID, at time.Time) error

	// HasHistory reports whether (configID, videoID) was already discovered.
	HasHistory(ctx context.Context, configID models.ULID, videoID string) (bool, error)

	// CreateHistory inserts a history row; inserting a duplicate
	// (config_id, video_id) pair is a no-op.
	CreateHistory(ctx context.Context, h *models.MonitorHistory) error

	MarkAddedToTasks(ctx context.Context, id models.ULID) error
	GetHistory(ctx context.Context, configID models.ULID, limit int) ([]*models.MonitorHistory, error)
}

package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/repub-dev/repub/internal/models"
)

// monitorRepo implements MonitorRepository using GORM.
type monitorRepo struct {
	db *gorm.DB
}

// NewMonitorRepository creates a new MonitorRepository.
func NewMonitorRepository(db *gorm.DB) MonitorRepository {
	return &monitorRepo{db: db}
}

// CreateConfig creates a new discovery config.
func (r *monitorRepo) CreateConfig(ctx context.Context, cfg *models.MonitorConfig) error {
	if err := r.db.WithContext(ctx).Create(cfg).Error; err != nil {
		return fmt.Errorf("creating monitor config: %w", err)
	}
	return nil
}

// GetConfig retrieves a discovery config by ID.
func (r *monitorRepo) GetConfig(ctx context.Context, id models.ULID) (*models.MonitorConfig, error) {
	var cfg models.MonitorConfig
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&cfg).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting monitor config: %w", err)
	}
	return &cfg, nil
}

// GetAllConfigs retrieves all discovery configs.
func (r *monitorRepo) GetAllConfigs(ctx context.Context) ([]*models.MonitorConfig, error) {
	var cfgs []*models.MonitorConfig
	if err := r.db.WithContext(ctx).Order("created_at ASC").Find(&cfgs).Error; err != nil {
		return nil, fmt.Errorf("getting monitor configs: %w", err)
	}
	return cfgs, nil
}

// GetAutoConfigs retrieves enabled configs with an auto schedule.
func (r *monitorRepo) GetAutoConfigs(ctx context.Context) ([]*models.MonitorConfig, error) {
	var cfgs []*models.MonitorConfig
	err := r.db.WithContext(ctx).
		Where("enabled = ? AND schedule = ?", true, models.MonitorScheduleAuto).
		Find(&cfgs).Error
	if err != nil {
		return nil, fmt.Errorf("getting auto monitor configs: %w", err)
	}
	return cfgs, nil
}

// UpdateConfig updates an existing discovery config.
func (r *monitorRepo) UpdateConfig(ctx context.Context, cfg *models.MonitorConfig) error {
	if err := r.db.WithContext(ctx).Save(cfg).Error; err != nil {
		return fmt.Errorf("updating monitor config: %w", err)
	}
	return nil
}

// DeleteConfig deletes a config and its history rows.
func (r *monitorRepo) DeleteConfig(ctx context.Context, id models.ULID) error {
	if err := r.db.WithContext(ctx).Where("config_id = ?", id).Delete(&models.MonitorHistory{}).Error; err != nil {
		return fmt.Errorf("deleting monitor history: %w", err)
	}
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.MonitorConfig{}).Error; err != nil {
		return fmt.Errorf("deleting monitor config: %w", err)
	}
	return nil
}

// TouchLastRun records the last run time of a config.
func (r *monitorRepo) TouchLastRun(ctx context.Context, id models.ULID, at time.Time) error {
	err := r.db.WithContext(ctx).Model(&models.MonitorConfig{}).
		Where("id = ?", id).
		Update("last_run_time", at).Error
	if err != nil {
		return fmt.Errorf("touching last run time: %w", err)
	}
	return nil
}

// HasHistory reports whether (configID, videoID) was already discovered.
func (r *monitorRepo) HasHistory(ctx context.Context, configID models.ULID, videoID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.MonitorHistory{}).
		Where("config_id = ? AND video_id = ?", configID, videoID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("checking monitor history: %w", err)
	}
	return count > 0, nil
}

// CreateHistory inserts a history row. The unique (config_id, video_id)
// index makes re-discovery a no-op instead of a duplicate.
func (r *monitorRepo) CreateHistory(ctx context.Context, h *models.MonitorHistory) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(h).Error
	if err != nil {
		return fmt.Errorf("creating monitor history: %w", err)
	}
	return nil
}

// MarkAddedToTasks flags a history row as enqueued.
func (r *monitorRepo) MarkAddedToTasks(ctx context.Context, id models.ULID) error {
	err := r.db.WithContext(ctx).Model(&models.MonitorHistory{}).
		Where("id = ?", id).
		Update("added_to_tasks", true).Error
	if err != nil {
		return fmt.Errorf("marking history added to tasks: %w", err)
	}
	return nil
}

// GetHistory returns the newest history rows for a config.
func (r *monitorRepo) GetHistory(ctx context.Context, configID models.ULID, limit int) ([]*models.MonitorHistory, error) {
	var rows []*models.MonitorHistory
	q := r.db.WithContext(ctx).Where("config_id = ?", configID).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("getting monitor history: %w", err)
	}
	return rows, nil
}

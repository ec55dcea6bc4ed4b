package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repub-dev/repub/internal/models"
)

func TestMonitorRepo_ConfigCRUD(t *testing.T) {
	repo := NewMonitorRepository(setupTestDB(t))
	ctx := context.Background()

	cfg := &models.MonitorConfig{
		Name:            "music picks",
		Enabled:         true,
		Keywords:        "live concert",
		Schedule:        models.MonitorScheduleAuto,
		IntervalMinutes: 30,
		MaxResults:      10,
	}
	require.NoError(t, repo.CreateConfig(ctx, cfg))
	assert.False(t, cfg.ID.IsZero())

	autos, err := repo.GetAutoConfigs(ctx)
	require.NoError(t, err)
	require.Len(t, autos, 1)

	cfg.Schedule = models.MonitorScheduleManual
	require.NoError(t, repo.UpdateConfig(ctx, cfg))

	autos, err = repo.GetAutoConfigs(ctx)
	require.NoError(t, err)
	assert.Empty(t, autos)

	now := time.Now()
	require.NoError(t, repo.TouchLastRun(ctx, cfg.ID, now))
	got, err := repo.GetConfig(ctx, cfg.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastRunTime)

	require.NoError(t, repo.DeleteConfig(ctx, cfg.ID))
	got, err = repo.GetConfig(ctx, cfg.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMonitorRepo_HistoryDedup(t *testing.T) {
	repo := NewMonitorRepository(setupTestDB(t))
	ctx := context.Background()

	cfg := &models.MonitorConfig{Name: "dedup"}
	require.NoError(t, repo.CreateConfig(ctx, cfg))

	h := &models.MonitorHistory{ConfigID: cfg.ID, VideoID: "abc123", Title: "first sighting"}
	require.NoError(t, repo.CreateHistory(ctx, h))

	seen, err := repo.HasHistory(ctx, cfg.ID, "abc123")
	require.NoError(t, err)
	assert.True(t, seen)

	// Re-discovery of the same (config, video) pair never creates a duplicate.
	dup := &models.MonitorHistory{ConfigID: cfg.ID, VideoID: "abc123", Title: "second sighting"}
	require.NoError(t, repo.CreateHistory(ctx, dup))

	rows, err := repo.GetHistory(ctx, cfg.ID, 0)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	require.NoError(t, repo.MarkAddedToTasks(ctx, h.ID))
	rows, err = repo.GetHistory(ctx, cfg.ID, 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].AddedToTasks)
}

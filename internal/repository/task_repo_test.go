package repository

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/repub-dev/repub/internal/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	err = db.AutoMigrate(&models.Task{}, &models.MonitorConfig{}, &models.MonitorHistory{})
	require.NoError(t, err)

	return db
}

func TestTaskRepo_CreateAndGet(t *testing.T) {
	repo := NewTaskRepository(setupTestDB(t))
	ctx := context.Background()

	task, err := repo.Create(ctx, "https://source.example/watch?v=abc123")
	require.NoError(t, err)
	assert.False(t, task.ID.IsZero())
	assert.Equal(t, models.TaskStatusPending, task.Status)

	found, err := repo.GetByID(ctx, task.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, task.SourceURL, found.SourceURL)

	missing, err := repo.GetByID(ctx, models.NewULID())
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestTaskRepo_UpdateStatus_BumpsUpdatedAt(t *testing.T) {
	repo := NewTaskRepository(setupTestDB(t))
	ctx := context.Background()

	task, err := repo.Create(ctx, "https://source.example/watch?v=abc123")
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, repo.UpdateStatus(ctx, task.ID, models.TaskStatusFetchingInfo, ""))

	found, err := repo.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFetchingInfo, found.Status)
	assert.True(t, found.UpdatedAt.After(task.UpdatedAt),
		"updated_at must be bumped on status transition")
	assert.True(t, !found.UpdatedAt.Before(found.CreatedAt))
}

func TestTaskRepo_OldestPending(t *testing.T) {
	repo := NewTaskRepository(setupTestDB(t))
	ctx := context.Background()

	first, err := repo.Create(ctx, "https://source.example/watch?v=first")
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, err = repo.Create(ctx, "https://source.example/watch?v=second")
	require.NoError(t, err)

	oldest, err := repo.OldestPending(ctx)
	require.NoError(t, err)
	require.NotNil(t, oldest)
	assert.Equal(t, first.ID, oldest.ID)

	// A started task is no longer pending.
	require.NoError(t, repo.UpdateStatus(ctx, first.ID, models.TaskStatusFetchingInfo, ""))
	oldest, err = repo.OldestPending(ctx)
	require.NoError(t, err)
	require.NotNil(t, oldest)
	assert.NotEqual(t, first.ID, oldest.ID)
}

func TestTaskRepo_CountInProgress(t *testing.T) {
	repo := NewTaskRepository(setupTestDB(t))
	ctx := context.Background()

	a, _ := repo.Create(ctx, "https://source.example/watch?v=a")
	b, _ := repo.Create(ctx, "https://source.example/watch?v=b")
	c, _ := repo.Create(ctx, "https://source.example/watch?v=c")

	require.NoError(t, repo.UpdateStatus(ctx, a.ID, models.TaskStatusDownloading, ""))
	require.NoError(t, repo.UpdateStatus(ctx, b.ID, models.TaskStatusUploading, ""))
	// Parked without a worker; must not consume scheduling capacity.
	require.NoError(t, repo.UpdateStatus(ctx, c.ID, models.TaskStatusReadyForUpload, ""))

	count, err := repo.CountInProgress(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)
}

func TestTaskRepo_GetStuck_StrictCutoff(t *testing.T) {
	db := setupTestDB(t)
	repo := NewTaskRepository(db)
	ctx := context.Background()

	task, err := repo.Create(ctx, "https://source.example/watch?v=stuck")
	require.NoError(t, err)
	require.NoError(t, repo.UpdateStatus(ctx, task.ID, models.TaskStatusUploading, ""))

	// Backdate updated_at past the threshold without GORM bumping it again.
	old := time.Now().Add(-45 * time.Minute)
	require.NoError(t, db.Exec("UPDATE tasks SET updated_at = ? WHERE id = ?", old, task.ID.String()).Error)

	stuck, err := repo.GetStuck(ctx, time.Now().Add(-30*time.Minute))
	require.NoError(t, err)
	require.Len(t, stuck, 1)
	assert.Equal(t, task.ID, stuck[0].ID)

	// Exactly at the cutoff does not qualify: the comparison is strict.
	stuck, err = repo.GetStuck(ctx, old)
	require.NoError(t, err)
	assert.Empty(t, stuck)
}

func TestTaskRepo_DeleteAll(t *testing.T) {
	repo := NewTaskRepository(setupTestDB(t))
	ctx := context.Background()

	_, _ = repo.Create(ctx, "https://source.example/watch?v=a")
	_, _ = repo.Create(ctx, "https://source.example/watch?v=b")

	deleted, err := repo.DeleteAll(ctx)
	require.NoError(t, err)
	assert.Len(t, deleted, 2)

	all, err := repo.GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestTaskRepo_SerializedFields(t *testing.T) {
	repo := NewTaskRepository(setupTestDB(t))
	ctx := context.Background()

	task, err := repo.Create(ctx, "https://source.example/watch?v=abc")
	require.NoError(t, err)

	mod := &models.ModerationResult{
		OverallPass: false,
		Fields:      map[string]bool{"description": false},
		Details: map[string][]models.ModerationDetail{
			"description": {{Label: "suspected_contact_leak", Suggestion: "block"}},
		},
	}
	require.NoError(t, repo.UpdateFields(ctx, task.ID, map[string]any{
		"tags_generated":    []string{"音乐", "现场", "", "", "", ""},
		"moderation_result": mod,
	}))

	found, err := repo.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Len(t, found.TagsGenerated, 6)
	require.NotNil(t, found.ModerationResult)
	assert.False(t, found.ModerationResult.OverallPass)
	assert.Equal(t, "suspected_contact_leak", found.ModerationResult.Details["description"][0].Label)
}

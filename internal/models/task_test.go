package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestULID_RoundTrip(t *testing.T) {
	id := NewULID()
	assert.False(t, id.IsZero())

	parsed, err := ParseULID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	_, err = ParseULID("not-a-ulid")
	assert.Error(t, err)
}

func TestTaskStatus_IsTerminal(t *testing.T) {
	assert.True(t, TaskStatusCompleted.IsTerminal())
	assert.True(t, TaskStatusFailed.IsTerminal())
	assert.False(t, TaskStatusPending.IsTerminal())
	assert.False(t, TaskStatusUploading.IsTerminal())
}

func TestTaskStatus_IsInProgress(t *testing.T) {
	assert.False(t, TaskStatusPending.IsInProgress())
	assert.False(t, TaskStatusAwaitingReview.IsInProgress())
	assert.False(t, TaskStatusReadyForUpload.IsInProgress())
	assert.False(t, TaskStatusCompleted.IsInProgress())
	assert.True(t, TaskStatusUploading.IsInProgress())
	assert.True(t, TaskStatusFetchingInfo.IsInProgress())

	for _, s := range InProgressStatuses() {
		assert.True(t, s.IsInProgress(), string(s))
	}
}

func TestTask_UploadCategoryID(t *testing.T) {
	task := &Task{RecommendedCategoryID: "63"}
	assert.Equal(t, "63", task.UploadCategoryID())

	task.SelectedCategoryID = "201"
	assert.Equal(t, "201", task.UploadCategoryID())
}

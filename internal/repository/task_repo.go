package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"gorm.io/gorm"

	"github.com/repub-dev/repub/internal/models"
)

// taskRepo implements TaskRepository using GORM.
type taskRepo struct {
	db *gorm.DB
}

// NewTaskRepository creates a new TaskRepository.
func NewTaskRepository(db *gorm.DB) TaskRepository {
	return &taskRepo{db: db}
}

// Create creates a new pending task for the given source URL.
func (r *taskRepo) Create(ctx context.Context, sourceURL string) (*models.Task, error) {
	task := &models.Task{
		SourceURL: sourceURL,
		Status:    models.TaskStatusPending,
	}
	if err := r.db.WithContext(ctx).Create(task).Error; err != nil {
		return nil, fmt.Errorf("creating task: %w", err)
	}
	return task, nil
}

// GetByID retrieves a task by ID. Returns nil when the row is gone, which
// in-flight pipeline steps treat as a deleted task.
func (r *taskRepo) GetByID(ctx context.Context, id models.ULID) (*models.Task, error) {
	var task models.Task
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&task).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting task by ID: %w", err)
	}
	return &task, nil
}

// GetAll retrieves all tasks, newest first.
func (r *taskRepo) GetAll(ctx context.Context) ([]*models.Task, error) {
	var tasks []*models.Task
	if err := r.db.WithContext(ctx).Order("created_at DESC").Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("getting all tasks: %w", err)
	}
	return tasks, nil
}

// GetByStatus retrieves tasks by status, oldest first.
func (r *taskRepo) GetByStatus(ctx context.Context, status models.TaskStatus) ([]*models.Task, error) {
	var tasks []*models.Task
	if err := r.db.WithContext(ctx).Where("status = ?", status).Order("created_at ASC").Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("getting tasks by status: %w", err)
	}
	return tasks, nil
}

// UpdateFields applies column updates to one row. GORM bumps updated_at on
// every Updates call, which keeps the stuck-task sweep honest.
// Map-based Updates bypass the model's field serializers, so structured
// values are flattened to their JSON column text here.
func (r *taskRepo) UpdateFields(ctx context.Context, id models.ULID, fields map[string]any) error {
	cols := make(map[string]any, len(fields))
	for name, value := range fields {
		enc, err := encodeColumn(value)
		if err != nil {
			return fmt.Errorf("encoding task field %q: %w", name, err)
		}
		cols[name] = enc
	}
	res := r.db.WithContext(ctx).Model(&models.Task{}).Where("id = ?", id).Updates(cols)
	if res.Error != nil {
		return fmt.Errorf("updating task fields: %w", res.Error)
	}
	return nil
}

// encodeColumn converts slices, maps, structs, and non-nil pointers to their
// JSON text representation; scalars pass through untouched.
func encodeColumn(value any) (any, error) {
	switch value.(type) {
	case nil, string, bool, int, int32, int64, float32, float64, time.Time, models.TaskStatus:
		return value, nil
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return nil, nil
		}
	case reflect.Slice, reflect.Map, reflect.Struct:
	default:
		return value, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// UpdateStatus transitions one row and records the failure reason (empty to
// clear it).
func (r *taskRepo) UpdateStatus(ctx context.Context, id models.ULID, status models.TaskStatus, errorMessage string) error {
	return r.UpdateFields(ctx, id, map[string]any{
		"status":        status,
		"error_message": errorMessage,
	})
}

// UpdateProgress updates the free-form progress string only.
func (r *taskRepo) UpdateProgress(ctx context.Context, id models.ULID, progress string) error {
	return r.UpdateFields(ctx, id, map[string]any{"upload_progress": progress})
}

// Delete deletes a task row.
func (r *taskRepo) Delete(ctx context.Context, id models.ULID) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Task{}).Error; err != nil {
		return fmt.Errorf("deleting task: %w", err)
	}
	return nil
}

// DeleteAll deletes every task row and returns the deleted tasks so the
// caller can remove their working directories.
func (r *taskRepo) DeleteAll(ctx context.Context) ([]*models.Task, error) {
	tasks, err := r.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	if err := r.db.WithContext(ctx).Where("1 = 1").Delete(&models.Task{}).Error; err != nil {
		return nil, fmt.Errorf("clearing tasks: %w", err)
	}
	return tasks, nil
}

// OldestPending returns the oldest pending task by created_at, or nil.
func (r *taskRepo) OldestPending(ctx context.Context) (*models.Task, error) {
	var task models.Task
	err := r.db.WithContext(ctx).
		Where("status = ?", models.TaskStatusPending).
		Order("created_at ASC").
		First(&task).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting oldest pending task: %w", err)
	}
	return &task, nil
}

// CountInProgress counts rows in in-progress states.
func (r *taskRepo) CountInProgress(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Task{}).
		Where("status IN ?", statusStrings(models.InProgressStatuses())).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("counting in-progress tasks: %w", err)
	}
	return count, nil
}

// GetStuck returns in-progress rows with updated_at strictly before cutoff.
func (r *taskRepo) GetStuck(ctx context.Context, cutoff time.Time) ([]*models.Task, error) {
	var tasks []*models.Task
	err := r.db.WithContext(ctx).
		Where("status IN ?", statusStrings(models.InProgressStatuses())).
		Where("updated_at < ?", cutoff).
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("getting stuck tasks: %w", err)
	}
	return tasks, nil
}

func statusStrings(statuses []models.TaskStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

package handlers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/danielgtaylor/huma/v2"

	"github.com/repub-dev/repub/internal/downloader"
	"github.com/repub-dev/repub/internal/models"
	"github.com/repub-dev/repub/internal/repository"
)

// TaskEngine is the slice of the pipeline engine the API drives.
type TaskEngine interface {
	StartTask(ctx context.Context, id models.ULID) error
	RestartTask(ctx context.Context, id models.ULID) error
	AbandonTask(ctx context.Context, id models.ULID) error
	ForceUpload(ctx context.Context, id models.ULID) error
	DeleteTask(ctx context.Context, id models.ULID, deleteFiles bool) error
	ClearAll(ctx context.Context, deleteFiles bool) (int, error)
	ResetStuck(ctx context.Context) (int, error)
	TriggerScan()
}

// PlaylistExpander resolves a playlist URL into its video IDs.
type PlaylistExpander interface {
	ExpandPlaylist(ctx context.Context, url string) ([]string, error)
}

// TaskHandler handles task submission and lifecycle endpoints.
type TaskHandler struct {
	tasks    repository.TaskRepository
	engine   TaskEngine
	expander PlaylistExpander
	logger   *slog.Logger
}

// NewTaskHandler creates a new task handler. expander may be nil, in which
// case playlist URLs are submitted as single tasks.
func NewTaskHandler(tasks repository.TaskRepository, engine TaskEngine, expander PlaylistExpander, logger *slog.Logger) *TaskHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskHandler{
		tasks:    tasks,
		engine:   engine,
		expander: expander,
		logger:   logger.With(slog.String("component", "api")),
	}
}

// SubmitTaskInput is the input for the task submission endpoint.
type SubmitTaskInput struct {
	Body SubmitTaskRequest
}

// ActionOutput is the common output for task mutations.
type ActionOutput struct {
	Body ActionResponse
}

// TaskListInput is the input for the task list endpoint.
type TaskListInput struct {
	Status string `query:"status" doc:"Filter by status" required:"false"`
}

// TaskListOutput is the output for the task list endpoint.
type TaskListOutput struct {
	Body TaskListResponse
}

// TaskIDInput identifies one task by path parameter.
type TaskIDInput struct {
	ID string `path:"id" doc:"Task ID"`
}

// TaskOutput is the output for a single task.
type TaskOutput struct {
	Body TaskResponse
}

// DeleteTaskInput carries the file-disposal flag.
type DeleteTaskInput struct {
	ID   string `path:"id" doc:"Task ID"`
	Body struct {
		DeleteFiles bool `json:"delete_files,omitempty" doc:"Also remove the task working directory"`
	}
}

// ClearAllInput carries the file-disposal flag for the bulk clear.
type ClearAllInput struct {
	Body struct {
		DeleteFiles bool `json:"delete_files,omitempty" doc:"Also remove the task working directories"`
	}
}

// ReviewUpdateInput is the input for operator review edits.
type ReviewUpdateInput struct {
	ID   string `path:"id" doc:"Task ID"`
	Body ReviewUpdateRequest
}

// Register registers the task routes with the API.
func (h *TaskHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "submitTask",
		Method:      "POST",
		Path:        "/tasks",
		Summary:     "Submit a source URL",
		Description: "Creates one task, or one per video when the URL is a playlist",
		Tags:        []string{"Tasks"},
	}, h.Submit)

	huma.Register(api, huma.Operation{
		OperationID: "listTasks",
		Method:      "GET",
		Path:        "/tasks",
		Summary:     "List tasks",
		Tags:        []string{"Tasks"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getTask",
		Method:      "GET",
		Path:        "/tasks/{id}",
		Summary:     "Get one task",
		Tags:        []string{"Tasks"},
	}, h.Get)

	huma.Register(api, huma.Operation{
		OperationID: "startTask",
		Method:      "POST",
		Path:        "/tasks/{id}/start",
		Summary:     "Start or restart a task",
		Tags:        []string{"Tasks"},
	}, h.Start)

	huma.Register(api, huma.Operation{
		OperationID: "deleteTask",
		Method:      "POST",
		Path:        "/tasks/{id}/delete",
		Summary:     "Delete a task",
		Tags:        []string{"Tasks"},
	}, h.Delete)

	huma.Register(api, huma.Operation{
		OperationID: "abandonTask",
		Method:      "POST",
		Path:        "/tasks/{id}/abandon",
		Summary:     "Abandon a task",
		Description: "Marks a non-terminal task failed without deleting it",
		Tags:        []string{"Tasks"},
	}, h.Abandon)

	huma.Register(api, huma.Operation{
		OperationID: "forceUploadTask",
		Method:      "POST",
		Path:        "/tasks/{id}/force_upload",
		Summary:     "Force a task past review or back into upload",
		Tags:        []string{"Tasks"},
	}, h.ForceUpload)

	huma.Register(api, huma.Operation{
		OperationID: "clearAllTasks",
		Method:      "POST",
		Path:        "/tasks/clear_all",
		Summary:     "Delete every task",
		Tags:        []string{"Tasks"},
	}, h.ClearAll)

	huma.Register(api, huma.Operation{
		OperationID: "resetStuckTasks",
		Method:      "POST",
		Path:        "/tasks/reset_stuck",
		Summary:     "Fail tasks stranded in an in-progress state",
		Tags:        []string{"Tasks"},
	}, h.ResetStuck)

	huma.Register(api, huma.Operation{
		OperationID: "reviewTask",
		Method:      "PATCH",
		Path:        "/tasks/{id}/review",
		Summary:     "Edit category, title or description before upload",
		Tags:        []string{"Tasks"},
	}, h.Review)
}

// Submit creates one task per submitted video.
func (h *TaskHandler) Submit(ctx context.Context, input *SubmitTaskInput) (*ActionOutput, error) {
	sourceURL := input.Body.SourceURL

	if h.expander != nil && downloader.IsPlaylistURL(sourceURL) {
		ids, err := h.expander.ExpandPlaylist(ctx, sourceURL)
		if err != nil {
			return nil, huma.Error502BadGateway("expanding playlist", err)
		}
		added := 0
		for _, videoID := range ids {
			url := fmt.Sprintf("https://www.youtube.com/watch?v=%s", videoID)
			if _, err := h.tasks.Create(ctx, url); err != nil {
				h.logger.Error("creating playlist task",
					slog.String("video_id", videoID), slog.Any("error", err))
				continue
			}
			added++
		}
		h.engine.TriggerScan()
		return &ActionOutput{Body: ActionResponse{
			Success:    true,
			Message:    fmt.Sprintf("added %d videos from playlist", added),
			AddedCount: added,
		}}, nil
	}

	task, err := h.tasks.Create(ctx, sourceURL)
	if err != nil {
		return nil, huma.Error500InternalServerError("creating task", err)
	}
	h.engine.TriggerScan()
	return &ActionOutput{Body: ActionResponse{
		Success: true,
		Message: "task created",
		TaskID:  task.ID.String(),
	}}, nil
}

// List returns all tasks, optionally filtered by status.
func (h *TaskHandler) List(ctx context.Context, input *TaskListInput) (*TaskListOutput, error) {
	var (
		tasks []*models.Task
		err   error
	)
	if input.Status != "" {
		tasks, err = h.tasks.GetByStatus(ctx, models.TaskStatus(input.Status))
	} else {
		tasks, err = h.tasks.GetAll(ctx)
	}
	if err != nil {
		return nil, huma.Error500InternalServerError("listing tasks", err)
	}

	out := TaskListResponse{Tasks: make([]TaskResponse, 0, len(tasks)), Total: len(tasks)}
	for _, t := range tasks {
		out.Tasks = append(out.Tasks, TaskFromModel(t))
	}
	return &TaskListOutput{Body: out}, nil
}

// Get returns one task.
func (h *TaskHandler) Get(ctx context.Context, input *TaskIDInput) (*TaskOutput, error) {
	task, err := h.loadTask(ctx, input.ID)
	if err != nil {
		return nil, err
	}
	return &TaskOutput{Body: TaskFromModel(task)}, nil
}

// Start begins a pending task, or re-queues a failed one.
func (h *TaskHandler) Start(ctx context.Context, input *TaskIDInput) (*ActionOutput, error) {
	task, err := h.loadTask(ctx, input.ID)
	if err != nil {
		return nil, err
	}

	if task.Status == models.TaskStatusFailed {
		if err := h.engine.RestartTask(ctx, task.ID); err != nil {
			return nil, huma.Error409Conflict(err.Error())
		}
		return &ActionOutput{Body: ActionResponse{Success: true, Message: "task re-queued", TaskID: task.ID.String()}}, nil
	}

	if err := h.engine.StartTask(ctx, task.ID); err != nil {
		return nil, huma.Error409Conflict(err.Error())
	}
	return &ActionOutput{Body: ActionResponse{Success: true, Message: "task started", TaskID: task.ID.String()}}, nil
}

// Delete removes a task and optionally its working directory.
func (h *TaskHandler) Delete(ctx context.Context, input *DeleteTaskInput) (*ActionOutput, error) {
	task, err := h.loadTask(ctx, input.ID)
	if err != nil {
		return nil, err
	}
	if err := h.engine.DeleteTask(ctx, task.ID, input.Body.DeleteFiles); err != nil {
		return nil, huma.Error500InternalServerError("deleting task", err)
	}
	return &ActionOutput{Body: ActionResponse{Success: true, Message: "task deleted"}}, nil
}

// Abandon fails a non-terminal task.
func (h *TaskHandler) Abandon(ctx context.Context, input *TaskIDInput) (*ActionOutput, error) {
	task, err := h.loadTask(ctx, input.ID)
	if err != nil {
		return nil, err
	}
	if err := h.engine.AbandonTask(ctx, task.ID); err != nil {
		return nil, huma.Error409Conflict(err.Error())
	}
	return &ActionOutput{Body: ActionResponse{Success: true, Message: "task abandoned"}}, nil
}

// ForceUpload resumes a task awaiting review, or re-publishes one that
// already finished local processing.
func (h *TaskHandler) ForceUpload(ctx context.Context, input *TaskIDInput) (*ActionOutput, error) {
	task, err := h.loadTask(ctx, input.ID)
	if err != nil {
		return nil, err
	}
	if err := h.engine.ForceUpload(ctx, task.ID); err != nil {
		return nil, huma.Error409Conflict(err.Error())
	}
	return &ActionOutput{Body: ActionResponse{Success: true, Message: "task resumed"}}, nil
}

// ClearAll deletes every task.
func (h *TaskHandler) ClearAll(ctx context.Context, input *ClearAllInput) (*ActionOutput, error) {
	n, err := h.engine.ClearAll(ctx, input.Body.DeleteFiles)
	if err != nil {
		return nil, huma.Error500InternalServerError("clearing tasks", err)
	}
	return &ActionOutput{Body: ActionResponse{
		Success: true,
		Message: fmt.Sprintf("cleared %d tasks", n),
		Count:   n,
	}}, nil
}

// ResetStuck fails tasks stranded in an in-progress state.
func (h *TaskHandler) ResetStuck(ctx context.Context, _ *struct{}) (*ActionOutput, error) {
	n, err := h.engine.ResetStuck(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("resetting stuck tasks", err)
	}
	return &ActionOutput{Body: ActionResponse{
		Success: true,
		Message: fmt.Sprintf("reset %d stuck tasks", n),
		Count:   n,
	}}, nil
}

// Review applies operator edits to the publish fields.
func (h *TaskHandler) Review(ctx context.Context, input *ReviewUpdateInput) (*TaskOutput, error) {
	task, err := h.loadTask(ctx, input.ID)
	if err != nil {
		return nil, err
	}

	fields := map[string]any{}
	if input.Body.SelectedCategoryID != nil {
		fields["selected_category_id"] = *input.Body.SelectedCategoryID
	}
	if input.Body.TitleTranslated != nil {
		fields["title_translated"] = *input.Body.TitleTranslated
	}
	if input.Body.DescriptionTranslated != nil {
		fields["description_translated"] = *input.Body.DescriptionTranslated
	}
	if len(fields) == 0 {
		return nil, huma.Error400BadRequest("no fields to update")
	}

	if err := h.tasks.UpdateFields(ctx, task.ID, fields); err != nil {
		return nil, huma.Error500InternalServerError("updating task", err)
	}
	updated, err := h.tasks.GetByID(ctx, task.ID)
	if err != nil || updated == nil {
		return nil, huma.Error500InternalServerError("reloading task", err)
	}
	return &TaskOutput{Body: TaskFromModel(updated)}, nil
}

// loadTask parses the path ID and fetches the row.
func (h *TaskHandler) loadTask(ctx context.Context, rawID string) (*models.Task, error) {
	id, err := models.ParseULID(rawID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid task id")
	}
	task, err := h.tasks.GetByID(ctx, id)
	if err != nil {
		return nil, huma.Error500InternalServerError("loading task", err)
	}
	if task == nil {
		return nil, huma.Error404NotFound("task not found")
	}
	return task, nil
}

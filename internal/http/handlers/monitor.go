package handlers

import (
	"context"
	"log/slog"

	"github.com/danielgtaylor/huma/v2"

	"github.com/repub-dev/repub/internal/discovery"
	"github.com/repub-dev/repub/internal/models"
	"github.com/repub-dev/repub/internal/repository"
)

// MonitorScheduler is the slice of the discovery scheduler the API drives.
type MonitorScheduler interface {
	Sync(ctx context.Context) error
	RunNow(ctx context.Context, id models.ULID) (discovery.RunResult, error)
}

// MonitorHandler handles discovery config endpoints.
type MonitorHandler struct {
	monitors  repository.MonitorRepository
	scheduler MonitorScheduler
	logger    *slog.Logger
}

// NewMonitorHandler creates a new monitor handler. scheduler may be nil, in
// which case configs are stored but never run automatically.
func NewMonitorHandler(monitors repository.MonitorRepository, scheduler MonitorScheduler, logger *slog.Logger) *MonitorHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &MonitorHandler{
		monitors:  monitors,
		scheduler: scheduler,
		logger:    logger.With(slog.String("component", "api")),
	}
}

// MonitorListOutput is the output for the monitor list endpoint.
type MonitorListOutput struct {
	Body struct {
		Monitors []MonitorConfigResponse `json:"monitors"`
	}
}

// MonitorIDInput identifies one config by path parameter.
type MonitorIDInput struct {
	ID string `path:"id" doc:"Monitor config ID"`
}

// MonitorOutput is the output for a single config.
type MonitorOutput struct {
	Body MonitorConfigResponse
}

// CreateMonitorInput is the input for creating a config.
type CreateMonitorInput struct {
	Body CreateMonitorConfigRequest
}

// UpdateMonitorInput is the input for updating a config.
type UpdateMonitorInput struct {
	ID   string `path:"id" doc:"Monitor config ID"`
	Body UpdateMonitorConfigRequest
}

// RunMonitorOutput is the output of an immediate run.
type RunMonitorOutput struct {
	Body discovery.RunResult
}

// MonitorHistoryInput is the input for the history endpoint.
type MonitorHistoryInput struct {
	ID    string `path:"id" doc:"Monitor config ID"`
	Limit int    `query:"limit" default:"100" minimum:"1" maximum:"1000" doc:"Max rows to return"`
}

// MonitorHistoryOutput is the output for the history endpoint.
type MonitorHistoryOutput struct {
	Body struct {
		History []MonitorHistoryResponse `json:"history"`
	}
}

// Register registers the monitor routes with the API.
func (h *MonitorHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listMonitors",
		Method:      "GET",
		Path:        "/api/monitors",
		Summary:     "List discovery configs",
		Tags:        []string{"Discovery"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "createMonitor",
		Method:      "POST",
		Path:        "/api/monitors",
		Summary:     "Create a discovery config",
		Tags:        []string{"Discovery"},
	}, h.Create)

	huma.Register(api, huma.Operation{
		OperationID: "getMonitor",
		Method:      "GET",
		Path:        "/api/monitors/{id}",
		Summary:     "Get one discovery config",
		Tags:        []string{"Discovery"},
	}, h.Get)

	huma.Register(api, huma.Operation{
		OperationID: "updateMonitor",
		Method:      "PUT",
		Path:        "/api/monitors/{id}",
		Summary:     "Update a discovery config",
		Tags:        []string{"Discovery"},
	}, h.Update)

	huma.Register(api, huma.Operation{
		OperationID: "deleteMonitor",
		Method:      "DELETE",
		Path:        "/api/monitors/{id}",
		Summary:     "Delete a discovery config",
		Tags:        []string{"Discovery"},
	}, h.Delete)

	huma.Register(api, huma.Operation{
		OperationID: "runMonitor",
		Method:      "POST",
		Path:        "/api/monitors/{id}/run",
		Summary:     "Run a discovery config immediately",
		Tags:        []string{"Discovery"},
	}, h.Run)

	huma.Register(api, huma.Operation{
		OperationID: "getMonitorHistory",
		Method:      "GET",
		Path:        "/api/monitors/{id}/history",
		Summary:     "List discovered videos for one config",
		Tags:        []string{"Discovery"},
	}, h.History)
}

// List returns all discovery configs.
func (h *MonitorHandler) List(ctx context.Context, _ *struct{}) (*MonitorListOutput, error) {
	configs, err := h.monitors.GetAllConfigs(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("listing monitors", err)
	}
	out := &MonitorListOutput{}
	out.Body.Monitors = make([]MonitorConfigResponse, 0, len(configs))
	for _, cfg := range configs {
		out.Body.Monitors = append(out.Body.Monitors, MonitorConfigFromModel(cfg))
	}
	return out, nil
}

// Create stores a new config and reconciles the schedule.
func (h *MonitorHandler) Create(ctx context.Context, input *CreateMonitorInput) (*MonitorOutput, error) {
	cfg := input.Body.ToModel()
	if err := h.monitors.CreateConfig(ctx, cfg); err != nil {
		return nil, huma.Error500InternalServerError("creating monitor", err)
	}
	h.syncSchedule(ctx)
	return &MonitorOutput{Body: MonitorConfigFromModel(cfg)}, nil
}

// Get returns one config.
func (h *MonitorHandler) Get(ctx context.Context, input *MonitorIDInput) (*MonitorOutput, error) {
	cfg, err := h.loadConfig(ctx, input.ID)
	if err != nil {
		return nil, err
	}
	return &MonitorOutput{Body: MonitorConfigFromModel(cfg)}, nil
}

// Update applies edits to a config and reconciles the schedule.
func (h *MonitorHandler) Update(ctx context.Context, input *UpdateMonitorInput) (*MonitorOutput, error) {
	cfg, err := h.loadConfig(ctx, input.ID)
	if err != nil {
		return nil, err
	}
	input.Body.ApplyToModel(cfg)
	if err := h.monitors.UpdateConfig(ctx, cfg); err != nil {
		return nil, huma.Error500InternalServerError("updating monitor", err)
	}
	h.syncSchedule(ctx)
	return &MonitorOutput{Body: MonitorConfigFromModel(cfg)}, nil
}

// Delete removes a config and reconciles the schedule.
func (h *MonitorHandler) Delete(ctx context.Context, input *MonitorIDInput) (*ActionOutput, error) {
	cfg, err := h.loadConfig(ctx, input.ID)
	if err != nil {
		return nil, err
	}
	if err := h.monitors.DeleteConfig(ctx, cfg.ID); err != nil {
		return nil, huma.Error500InternalServerError("deleting monitor", err)
	}
	h.syncSchedule(ctx)
	return &ActionOutput{Body: ActionResponse{Success: true, Message: "monitor deleted"}}, nil
}

// Run executes one config immediately.
func (h *MonitorHandler) Run(ctx context.Context, input *MonitorIDInput) (*RunMonitorOutput, error) {
	if h.scheduler == nil {
		return nil, huma.Error503ServiceUnavailable("discovery is not configured")
	}
	cfg, err := h.loadConfig(ctx, input.ID)
	if err != nil {
		return nil, err
	}
	result, err := h.scheduler.RunNow(ctx, cfg.ID)
	if err != nil {
		return nil, huma.Error502BadGateway("running monitor", err)
	}
	return &RunMonitorOutput{Body: result}, nil
}

// History lists discovered videos for one config.
func (h *MonitorHandler) History(ctx context.Context, input *MonitorHistoryInput) (*MonitorHistoryOutput, error) {
	cfg, err := h.loadConfig(ctx, input.ID)
	if err != nil {
		return nil, err
	}
	rows, err := h.monitors.GetHistory(ctx, cfg.ID, input.Limit)
	if err != nil {
		return nil, huma.Error500InternalServerError("listing history", err)
	}
	out := &MonitorHistoryOutput{}
	out.Body.History = make([]MonitorHistoryResponse, 0, len(rows))
	for _, row := range rows {
		out.Body.History = append(out.Body.History, MonitorHistoryFromModel(row))
	}
	return out, nil
}

func (h *MonitorHandler) syncSchedule(ctx context.Context) {
	if h.scheduler == nil {
		return
	}
	if err := h.scheduler.Sync(ctx); err != nil {
		h.logger.Error("syncing monitor schedule", slog.Any("error", err))
	}
}

func (h *MonitorHandler) loadConfig(ctx context.Context, rawID string) (*models.MonitorConfig, error) {
	id, err := models.ParseULID(rawID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid monitor id")
	}
	cfg, err := h.monitors.GetConfig(ctx, id)
	if err != nil {
		return nil, huma.Error500InternalServerError("loading monitor", err)
	}
	if cfg == nil {
		return nil, huma.Error404NotFound("monitor not found")
	}
	return cfg, nil
}

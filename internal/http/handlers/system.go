package handlers

import (
	"context"
	"runtime"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"gorm.io/gorm"
)

// LogClearer is the slice of the housekeeping janitor the API drives.
type LogClearer interface {
	ClearCurrentLogs() error
}

// ToolChecker reports whether an external tool the pipeline depends on can
// be resolved. The ffmpeg locator and the downloader both satisfy it.
type ToolChecker interface {
	Available(ctx context.Context) error
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status        string            `json:"status"`
	Timestamp     string            `json:"timestamp"`
	Version       string            `json:"version"`
	Uptime        string            `json:"uptime"`
	UptimeSeconds float64           `json:"uptime_seconds"`
	CPUCores      int               `json:"cpu_cores"`
	Load1Min      float64           `json:"load_1min,omitempty"`
	MemoryUsedPct float64           `json:"memory_used_pct,omitempty"`
	Checks        map[string]string `json:"checks,omitempty"`
}

// SystemHandler handles health and maintenance endpoints.
type SystemHandler struct {
	version   string
	startTime time.Time
	db        *gorm.DB
	janitor   LogClearer
	tools     map[string]ToolChecker
}

// NewSystemHandler creates a new system handler. db and janitor may be nil.
func NewSystemHandler(version string) *SystemHandler {
	return &SystemHandler{
		version:   version,
		startTime: time.Now(),
	}
}

// WithDB sets the database connection for health checks.
func (h *SystemHandler) WithDB(db *gorm.DB) *SystemHandler {
	h.db = db
	return h
}

// WithJanitor sets the housekeeping janitor for the log-clear endpoint.
func (h *SystemHandler) WithJanitor(janitor LogClearer) *SystemHandler {
	h.janitor = janitor
	return h
}

// WithTool adds an external-tool availability check under the given name.
func (h *SystemHandler) WithTool(name string, checker ToolChecker) *SystemHandler {
	if h.tools == nil {
		h.tools = map[string]ToolChecker{}
	}
	h.tools[name] = checker
	return h
}

// HealthOutput is the output for the health check endpoint.
type HealthOutput struct {
	Body HealthResponse
}

// Register registers the system routes with the API.
func (h *SystemHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      "GET",
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns the health status of the service including system metrics",
		Tags:        []string{"System"},
	}, h.GetHealth)

	huma.Register(api, huma.Operation{
		OperationID: "clearLogs",
		Method:      "POST",
		Path:        "/api/logs/clear",
		Summary:     "Truncate long-lived logs and delete per-task logs",
		Tags:        []string{"System"},
	}, h.ClearLogs)
}

// GetHealth returns the health status of the service.
func (h *SystemHandler) GetHealth(ctx context.Context, _ *struct{}) (*HealthOutput, error) {
	now := time.Now()
	uptime := now.Sub(h.startTime)

	resp := HealthResponse{
		Status:        "healthy",
		Timestamp:     now.UTC().Format(time.RFC3339),
		Version:       h.version,
		Uptime:        uptime.Round(time.Second).String(),
		UptimeSeconds: uptime.Seconds(),
		CPUCores:      runtime.NumCPU(),
		Checks:        map[string]string{},
	}

	if loadAvg, err := load.Avg(); err == nil && loadAvg != nil {
		resp.Load1Min = loadAvg.Load1
	}
	if vmStat, err := mem.VirtualMemory(); err == nil && vmStat != nil {
		resp.MemoryUsedPct = vmStat.UsedPercent
	}

	resp.Checks["database"] = h.databaseStatus(ctx)
	if resp.Checks["database"] == "error" {
		resp.Status = "degraded"
	}
	for name, tool := range h.tools {
		if err := tool.Available(ctx); err != nil {
			resp.Checks[name] = "error"
			resp.Status = "degraded"
		} else {
			resp.Checks[name] = "ok"
		}
	}
	return &HealthOutput{Body: resp}, nil
}

// ClearLogs runs the one-shot log cleanup.
func (h *SystemHandler) ClearLogs(ctx context.Context, _ *struct{}) (*ActionOutput, error) {
	if h.janitor == nil {
		return nil, huma.Error503ServiceUnavailable("housekeeping is not configured")
	}
	if err := h.janitor.ClearCurrentLogs(); err != nil {
		return nil, huma.Error500InternalServerError("clearing logs", err)
	}
	return &ActionOutput{Body: ActionResponse{Success: true, Message: "logs cleared"}}, nil
}

func (h *SystemHandler) databaseStatus(ctx context.Context) string {
	if h.db == nil {
		return "unknown"
	}
	sqlDB, err := h.db.DB()
	if err != nil {
		return "error"
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return "error"
	}
	return "ok"
}

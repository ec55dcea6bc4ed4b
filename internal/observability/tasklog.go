package observability

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/repub-dev/repub/internal/config"
)

// TaskLog is a per-task log file under logs/task_<id>.log. User-visible
// failures show only the short error message on the task row; the full
// trace goes here.
type TaskLog struct {
	*slog.Logger
	file *os.File
}

// OpenTaskLog opens (appending) the log file for one task and returns a
// logger tee-ing records to both the task file and the parent logger.
func OpenTaskLog(cfg config.LoggingConfig, logDir, taskID string, parent *slog.Logger) (*TaskLog, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}

	path := filepath.Join(logDir, fmt.Sprintf("task_%s.log", taskID))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening task log: %w", err)
	}

	fileLogger := NewLoggerWithWriter(cfg, f)
	logger := slog.New(teeHandler{
		primary:   fileLogger.Handler(),
		secondary: parent.Handler(),
	}).With(slog.String("task_id", taskID))

	return &TaskLog{Logger: logger, file: f}, nil
}

// Close closes the underlying file.
func (t *TaskLog) Close() error {
	return t.file.Close()
}

// teeHandler duplicates records to two handlers. Errors from the secondary
// handler are ignored so a broken stdout never loses the task file record.
type teeHandler struct {
	primary   slog.Handler
	secondary slog.Handler
}

func (h teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.primary.Enabled(ctx, level) || h.secondary.Enabled(ctx, level)
}

func (h teeHandler) Handle(ctx context.Context, r slog.Record) error {
	err := h.primary.Handle(ctx, r.Clone())
	_ = h.secondary.Handle(ctx, r)
	return err
}

func (h teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return teeHandler{primary: h.primary.WithAttrs(attrs), secondary: h.secondary.WithAttrs(attrs)}
}

func (h teeHandler) WithGroup(name string) slog.Handler {
	return teeHandler{primary: h.primary.WithGroup(name), secondary: h.secondary.WithGroup(name)}
}

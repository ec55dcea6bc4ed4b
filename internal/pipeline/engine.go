// Package pipeline runs republishing tasks through their lifecycle: metadata
// fetch, localization, moderation, download, subtitles, burn-in, and upload.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/mem"
	"golang.org/x/sync/semaphore"

	"github.com/repub-dev/repub/internal/config"
	"github.com/repub-dev/repub/internal/models"
	"github.com/repub-dev/repub/internal/repository"
)

const (
	defaultTaskPermits   = 3
	defaultUploadPermits = 1

	// Memory used-percent above which the scheduler halves its target.
	memoryPressurePercent = 80
)

// rescanDelay is the pause before the post-finish rescan. Variable so tests
// can shorten it.
var rescanDelay = time.Second

// entry selects where a task run begins.
type entry int

const (
	entryFull   entry = iota // from metadata fetch
	entryResume              // from download, after manual review
	entryUpload              // upload only, for re-publishing
)

// errHalt stops a run without failing the task: the task is parked in a
// reviewable state.
var errHalt = errors.New("run parked")

// errGone marks a task row deleted mid-run.
var errGone = errors.New("task deleted")

// Engine owns the task permits and the pending scanner, and executes task
// runs on goroutines.
type Engine struct {
	store  *config.Store
	repo   repository.TaskRepository
	comp   Components
	logger *slog.Logger

	taskPermits   *semaphore.Weighted
	uploadPermits *semaphore.Weighted

	// pressure reports high memory usage; overridable in tests.
	pressure func() bool

	scanCh chan struct{}
	cancel context.CancelFunc
	ctx    context.Context
	wg     sync.WaitGroup

	mu      sync.Mutex
	running map[models.ULID]struct{}
}

// New creates an engine. Start must be called before tasks are scheduled.
func New(cfg *config.Config, repo repository.TaskRepository, comp Components, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	taskCap := cfg.Pipeline.MaxConcurrentTasks
	if taskCap <= 0 {
		taskCap = defaultTaskPermits
	}
	uploadCap := cfg.Pipeline.MaxConcurrentUploads
	if uploadCap <= 0 {
		uploadCap = defaultUploadPermits
	}

	return &Engine{
		store:         config.NewStore(cfg),
		repo:          repo,
		comp:          comp,
		logger:        logger.With(slog.String("component", "pipeline")),
		taskPermits:   semaphore.NewWeighted(int64(taskCap)),
		uploadPermits: semaphore.NewWeighted(int64(uploadCap)),
		pressure:      memoryPressure,
		scanCh:        make(chan struct{}, 1),
		running:       map[models.ULID]struct{}{},
	}
}

// Store exposes the live configuration snapshot holder. The settings API
// publishes runtime edits through it; every scheduling decision and stage
// reads the snapshot current at that moment.
func (e *Engine) Store() *config.Store {
	return e.store
}

// config returns the current configuration snapshot.
func (e *Engine) config() *config.Config {
	return e.store.Get()
}

// Start launches the pending scanner.
func (e *Engine) Start(ctx context.Context) {
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.wg.Add(1)
	go e.scanLoop(e.ctx)
	e.logger.Info("pipeline engine started",
		slog.Duration("scan_interval", e.config().Pipeline.EffectiveScanInterval()))
}

// Stop cancels the scanner and waits for in-flight runs to wind down.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
}

// TriggerScan requests an immediate pending scan. Non-blocking; a scan
// already queued absorbs the request.
func (e *Engine) TriggerScan() {
	select {
	case e.scanCh <- struct{}{}:
	default:
	}
}

func (e *Engine) scanLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.config().Pipeline.EffectiveScanInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-e.scanCh:
		}
		e.scanPending(ctx)
	}
}

// scanPending submits the oldest pending task when capacity allows. High
// memory pressure halves the target for this decision only.
func (e *Engine) scanPending(ctx context.Context) {
	target := e.config().Pipeline.MaxConcurrentTasks
	if target <= 0 {
		target = defaultTaskPermits
	}
	if e.pressure() {
		target = max(1, target/2)
		e.logger.Warn("memory pressure, reduced scheduling target", slog.Int("target", target))
	}

	count, err := e.repo.CountInProgress(ctx)
	if err != nil {
		e.logger.Error("counting in-progress tasks", slog.Any("error", err))
		return
	}
	if count >= int64(target) {
		return
	}

	task, err := e.repo.OldestPending(ctx)
	if err != nil {
		e.logger.Error("scanning pending tasks", slog.Any("error", err))
		return
	}
	if task == nil {
		return
	}
	if err := e.StartTask(ctx, task.ID); err != nil {
		e.logger.Error("submitting pending task",
			slog.String("task_id", task.ID.String()), slog.Any("error", err))
	}
}

// StartTask claims a pending task and runs it from the beginning.
func (e *Engine) StartTask(ctx context.Context, id models.ULID) error {
	task, err := e.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if task == nil {
		return fmt.Errorf("task %s not found", id)
	}
	if task.Status != models.TaskStatusPending {
		return fmt.Errorf("task %s is %s, only pending tasks can start", id, task.Status)
	}

	// Claim synchronously so a racing scan cannot double-submit.
	if err := e.repo.UpdateStatus(ctx, id, models.TaskStatusFetchingInfo, ""); err != nil {
		return err
	}
	e.launch(id, entryFull)
	return nil
}

// RestartTask returns a failed task to pending. Allowed from pending (no-op
// reset) and failed only.
func (e *Engine) RestartTask(ctx context.Context, id models.ULID) error {
	task, err := e.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if task == nil {
		return fmt.Errorf("task %s not found", id)
	}
	if task.Status != models.TaskStatusPending && task.Status != models.TaskStatusFailed {
		return fmt.Errorf("task %s is %s, only pending or failed tasks can restart", id, task.Status)
	}

	if err := e.repo.UpdateFields(ctx, id, map[string]any{
		"status":          models.TaskStatusPending,
		"error_message":   "",
		"upload_progress": "",
	}); err != nil {
		return err
	}
	e.TriggerScan()
	return nil
}

// AbandonTask marks a task failed by operator decision.
func (e *Engine) AbandonTask(ctx context.Context, id models.ULID) error {
	task, err := e.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if task == nil {
		return fmt.Errorf("task %s not found", id)
	}
	if task.Status.IsTerminal() {
		return fmt.Errorf("task %s is already %s", id, task.Status)
	}
	return e.repo.UpdateStatus(ctx, id, models.TaskStatusFailed, "abandoned by operator")
}

// ForceUpload resumes a task held in awaiting_manual_review, or re-publishes
// a completed one.
func (e *Engine) ForceUpload(ctx context.Context, id models.ULID) error {
	task, err := e.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if task == nil {
		return fmt.Errorf("task %s not found", id)
	}

	switch task.Status {
	case models.TaskStatusAwaitingReview:
		if err := e.repo.UpdateStatus(ctx, id, models.TaskStatusDownloading, ""); err != nil {
			return err
		}
		e.launch(id, entryResume)
		return nil
	case models.TaskStatusCompleted, models.TaskStatusReadyForUpload:
		if err := e.repo.UpdateStatus(ctx, id, models.TaskStatusUploading, ""); err != nil {
			return err
		}
		e.launch(id, entryUpload)
		return nil
	default:
		return fmt.Errorf("task %s is %s, force_upload needs awaiting_manual_review, ready_for_upload or completed", id, task.Status)
	}
}

// DeleteTask removes the row and, optionally, the working directory. An
// in-flight run observes the missing row on its next state write.
func (e *Engine) DeleteTask(ctx context.Context, id models.ULID, deleteFiles bool) error {
	if err := e.repo.Delete(ctx, id); err != nil {
		return err
	}
	if deleteFiles {
		dir := e.config().Storage.TaskDir(id.String())
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("removing task directory: %w", err)
		}
	}
	return nil
}

// ClearAll deletes every task and returns how many were removed.
func (e *Engine) ClearAll(ctx context.Context, deleteFiles bool) (int, error) {
	tasks, err := e.repo.DeleteAll(ctx)
	if err != nil {
		return 0, err
	}
	if deleteFiles {
		for _, task := range tasks {
			_ = os.RemoveAll(e.config().Storage.TaskDir(task.ID.String()))
		}
	}
	return len(tasks), nil
}

// ResetStuck fails in-progress tasks whose updated_at is strictly older than
// the stuck threshold.
func (e *Engine) ResetStuck(ctx context.Context) (int, error) {
	threshold := e.config().Pipeline.StuckThreshold
	if threshold <= 0 {
		threshold = 30 * time.Minute
	}
	stuck, err := e.repo.GetStuck(ctx, time.Now().Add(-threshold))
	if err != nil {
		return 0, err
	}
	for _, task := range stuck {
		reason := fmt.Sprintf("timeout reset (prev=%s)", task.Status)
		if err := e.repo.UpdateStatus(ctx, task.ID, models.TaskStatusFailed, reason); err != nil {
			return 0, err
		}
		e.logger.Warn("reset stuck task",
			slog.String("task_id", task.ID.String()),
			slog.String("prev", string(task.Status)))
	}
	return len(stuck), nil
}

// launch runs a task on its own goroutine under a task permit. A task
// already running is left alone.
func (e *Engine) launch(id models.ULID, from entry) {
	e.mu.Lock()
	if _, ok := e.running[id]; ok {
		e.mu.Unlock()
		return
	}
	e.running[id] = struct{}{}
	e.mu.Unlock()

	ctx := e.ctx
	if ctx == nil {
		ctx = context.Background()
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			e.mu.Lock()
			delete(e.running, id)
			e.mu.Unlock()
			// Freed capacity; rescan shortly.
			time.AfterFunc(rescanDelay, e.TriggerScan)
		}()

		if err := e.taskPermits.Acquire(ctx, 1); err != nil {
			return
		}
		defer e.taskPermits.Release(1)

		e.runTask(ctx, id, from)
	}()
}

// Wait blocks until all scheduled work has finished. Test hook.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// memoryPressure reports whether system memory usage is above the pressure
// threshold.
func memoryPressure() bool {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return false
	}
	return vm.UsedPercent > memoryPressurePercent
}

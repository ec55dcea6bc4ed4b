package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/repub-dev/repub/internal/models"
	"github.com/repub-dev/repub/internal/repository"
)

// scheduledJob tracks one config's recurring cron entry.
type scheduledJob struct {
	entry    cron.EntryID
	interval int // minutes, to detect edits
}

// Scheduler maintains one recurring job per auto-scheduled monitor config.
// Config edits take effect on the next Sync.
type Scheduler struct {
	cron     *cron.Cron
	runner   *Runner
	monitors repository.MonitorRepository
	logger   *slog.Logger

	mu   sync.Mutex
	jobs map[models.ULID]scheduledJob
}

// NewScheduler creates a discovery scheduler.
func NewScheduler(runner *Runner, monitors repository.MonitorRepository, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron:     cron.New(),
		runner:   runner,
		monitors: monitors,
		logger:   logger.With(slog.String("component", "discovery_scheduler")),
		jobs:     map[models.ULID]scheduledJob{},
	}
}

// Start begins executing scheduled jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for a running job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Sync reconciles the cron entries with the auto-scheduled configs in the
// store: new configs gain a job, removed or disabled ones lose theirs, and
// interval edits replace the entry.
func (s *Scheduler) Sync(ctx context.Context) error {
	configs, err := s.monitors.GetAutoConfigs(ctx)
	if err != nil {
		return fmt.Errorf("loading auto monitor configs: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	want := map[models.ULID]*models.MonitorConfig{}
	for _, cfg := range configs {
		if cfg.Enabled && cfg.Schedule == models.MonitorScheduleAuto {
			want[cfg.ID] = cfg
		}
	}

	for id, job := range s.jobs {
		cfg, keep := want[id]
		if keep && cfg.IntervalMinutes == job.interval {
			continue
		}
		s.cron.Remove(job.entry)
		delete(s.jobs, id)
		if !keep {
			s.runner.DropLimiter(id)
			s.logger.Info("monitor job removed", slog.String("monitor_id", id.String()))
		}
	}

	for id, cfg := range want {
		if _, ok := s.jobs[id]; ok {
			continue
		}
		interval := cfg.IntervalMinutes
		if interval <= 0 {
			interval = 60
		}
		configID := id
		entry, err := s.cron.AddFunc(fmt.Sprintf("@every %dm", interval), func() {
			s.runConfig(configID)
		})
		if err != nil {
			return fmt.Errorf("scheduling monitor %s: %w", cfg.Name, err)
		}
		s.jobs[id] = scheduledJob{entry: entry, interval: interval}
		s.logger.Info("monitor job scheduled",
			slog.String("monitor", cfg.Name), slog.Int("interval_minutes", interval))
	}
	return nil
}

// JobCount returns the number of active recurring jobs.
func (s *Scheduler) JobCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// runConfig executes one tick, re-reading the config so edits between Syncs
// still apply to thresholds and filters.
func (s *Scheduler) runConfig(id models.ULID) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	cfg, err := s.monitors.GetConfig(ctx, id)
	if err != nil || cfg == nil {
		s.logger.Warn("scheduled monitor config gone", slog.String("monitor_id", id.String()))
		return
	}
	if !cfg.Enabled {
		return
	}
	if _, err := s.runner.Run(ctx, cfg); err != nil {
		s.logger.Error("monitor run failed",
			slog.String("monitor", cfg.Name), slog.Any("error", err))
	}
}

// RunNow executes one config immediately, outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, id models.ULID) (RunResult, error) {
	cfg, err := s.monitors.GetConfig(ctx, id)
	if err != nil {
		return RunResult{}, err
	}
	if cfg == nil {
		return RunResult{}, fmt.Errorf("monitor config %s not found", id)
	}
	return s.runner.Run(ctx, cfg)
}

package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/repub-dev/repub/internal/models"
	"github.com/repub-dev/repub/internal/repository"
)

// watchURLFormat is the canonical source URL handed to the task store.
const watchURLFormat = "https://www.youtube.com/watch?v=%s"

// catalogAPI is the slice of the catalog client the runner needs.
type catalogAPI interface {
	Search(ctx context.Context, cfg *models.MonitorConfig, publishedAfter time.Time) ([]Candidate, error)
	ChannelUploads(ctx context.Context, channelID string, publishedAfter time.Time, maxResults int) ([]Candidate, error)
	Videos(ctx context.Context, ids []string) ([]VideoDetails, error)
}

// TaskStarter submits a freshly created task to the pipeline.
type TaskStarter interface {
	StartTask(ctx context.Context, id models.ULID) error
}

// RunResult summarizes one monitor run.
type RunResult struct {
	Checked  int  `json:"checked"`
	New      int  `json:"new"`
	Enqueued int  `json:"enqueued"`
	LimitHit bool `json:"limit_hit"`
}

// Runner executes monitor configs against the catalog.
type Runner struct {
	catalog  catalogAPI
	monitors repository.MonitorRepository
	tasks    repository.TaskRepository
	starter  TaskStarter
	logger   *slog.Logger

	mu       sync.Mutex
	limiters map[models.ULID]*callLimiter
}

// NewRunner creates a runner. starter may be nil, in which case discovered
// tasks stay pending until the scanner picks them up.
func NewRunner(catalog catalogAPI, monitors repository.MonitorRepository, tasks repository.TaskRepository, starter TaskStarter, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		catalog:  catalog,
		monitors: monitors,
		tasks:    tasks,
		starter:  starter,
		logger:   logger.With(slog.String("component", "discovery")),
		limiters: map[models.ULID]*callLimiter{},
	}
}

func (r *Runner) limiterFor(cfg *models.MonitorConfig) *callLimiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.limiters[cfg.ID]
	if !ok {
		window := time.Duration(cfg.WindowSeconds) * time.Second
		if window <= 0 {
			window = time.Hour
		}
		l = newCallLimiter(cfg.MaxCallsPerWindow, window)
		r.limiters[cfg.ID] = l
	}
	return l
}

// DropLimiter forgets a config's call window, used when the config is
// edited or removed.
func (r *Runner) DropLimiter(id models.ULID) {
	r.mu.Lock()
	delete(r.limiters, id)
	r.mu.Unlock()
}

// Run executes one config: query, filter, dedup, record, enqueue. Hitting
// the call budget aborts the remaining work but keeps what was gathered.
func (r *Runner) Run(ctx context.Context, cfg *models.MonitorConfig) (RunResult, error) {
	var result RunResult
	limiter := r.limiterFor(cfg)
	log := r.logger.With(slog.String("monitor", cfg.Name))

	candidates, err := r.gather(ctx, cfg, limiter, &result)
	if err != nil && !errors.Is(err, ErrCallBudget) {
		return result, err
	}

	details, derr := r.describe(ctx, candidates, limiter, &result)
	if derr != nil && !errors.Is(derr, ErrCallBudget) {
		return result, derr
	}

	for _, d := range details {
		result.Checked++
		if !passesFilters(cfg, d) {
			continue
		}

		seen, err := r.monitors.HasHistory(ctx, cfg.ID, d.VideoID)
		if err != nil {
			return result, fmt.Errorf("checking history: %w", err)
		}
		if seen {
			continue
		}

		h := &models.MonitorHistory{
			ConfigID:     cfg.ID,
			VideoID:      d.VideoID,
			Title:        d.Title,
			ChannelID:    d.ChannelID,
			ChannelTitle: d.ChannelTitle,
			ViewCount:    d.ViewCount,
			LikeCount:    d.LikeCount,
			CommentCount: d.CommentCount,
			DurationSecs: d.DurationSecs,
			PublishedAt:  d.PublishedAt,
		}
		if err := r.monitors.CreateHistory(ctx, h); err != nil {
			return result, fmt.Errorf("recording discovery: %w", err)
		}
		result.New++

		if cfg.AutoAddToTasks {
			if err := r.enqueue(ctx, h); err != nil {
				log.Error("enqueueing discovered video",
					slog.String("video_id", d.VideoID), slog.Any("error", err))
				continue
			}
			result.Enqueued++
		}
	}

	if err := r.monitors.TouchLastRun(ctx, cfg.ID, time.Now()); err != nil {
		log.Warn("recording last run time", slog.Any("error", err))
	}

	log.Info("monitor run finished",
		slog.Int("checked", result.Checked),
		slog.Int("new", result.New),
		slog.Int("enqueued", result.Enqueued),
		slog.Bool("limit_hit", result.LimitHit))
	return result, nil
}

// gather collects raw candidates via search or channel listings.
func (r *Runner) gather(ctx context.Context, cfg *models.MonitorConfig, limiter *callLimiter, result *RunResult) ([]Candidate, error) {
	publishedAfter := windowStart(cfg)

	if len(cfg.ChannelIDs) == 0 {
		if err := limiter.take(1); err != nil {
			result.LimitHit = true
			return nil, err
		}
		return r.catalog.Search(ctx, cfg, publishedAfter)
	}

	var out []Candidate
	for _, channelID := range cfg.ChannelIDs {
		// Channel lookup plus playlist listing.
		if err := limiter.take(2); err != nil {
			result.LimitHit = true
			return out, err
		}
		items, err := r.catalog.ChannelUploads(ctx, channelID, publishedAfter, cfg.MaxResults)
		if err != nil {
			r.logger.Warn("listing channel uploads",
				slog.String("channel", channelID), slog.Any("error", err))
			continue
		}
		out = append(out, items...)
	}
	return out, nil
}

// describe resolves statistics for the candidates in catalog-sized batches.
func (r *Runner) describe(ctx context.Context, candidates []Candidate, limiter *callLimiter, result *RunResult) ([]VideoDetails, error) {
	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.VideoID)
	}

	var out []VideoDetails
	for start := 0; start < len(ids); start += videosPerCall {
		if err := limiter.take(1); err != nil {
			result.LimitHit = true
			return out, err
		}
		end := min(start+videosPerCall, len(ids))
		batch, err := r.catalog.Videos(ctx, ids[start:end])
		if err != nil {
			return out, err
		}
		out = append(out, batch...)
	}
	return out, nil
}

func (r *Runner) enqueue(ctx context.Context, h *models.MonitorHistory) error {
	task, err := r.tasks.Create(ctx, fmt.Sprintf(watchURLFormat, h.VideoID))
	if err != nil {
		return err
	}
	if err := r.monitors.MarkAddedToTasks(ctx, h.ID); err != nil {
		return err
	}
	if r.starter != nil {
		if err := r.starter.StartTask(ctx, task.ID); err != nil {
			return fmt.Errorf("starting task: %w", err)
		}
	}
	return nil
}

// windowStart returns the publishedAfter cutoff: an explicit start date wins
// over the rolling window.
func windowStart(cfg *models.MonitorConfig) time.Time {
	if cfg.StartDate != nil {
		return *cfg.StartDate
	}
	if cfg.TimeWindowDays > 0 {
		return time.Now().AddDate(0, 0, -cfg.TimeWindowDays)
	}
	return time.Time{}
}

// passesFilters applies the config's thresholds and exclusions.
func passesFilters(cfg *models.MonitorConfig, d VideoDetails) bool {
	if d.ViewCount < cfg.MinViewCount {
		return false
	}
	if d.LikeCount < cfg.MinLikeCount {
		return false
	}
	if d.CommentCount < cfg.MinCommentCount {
		return false
	}
	if cfg.MinDurationSecs > 0 && d.DurationSecs < cfg.MinDurationSecs {
		return false
	}
	if cfg.MaxDurationSecs > 0 && d.DurationSecs > cfg.MaxDurationSecs {
		return false
	}
	if cfg.StartDate != nil && d.PublishedAt != nil && d.PublishedAt.Before(*cfg.StartDate) {
		return false
	}

	title := strings.ToLower(d.Title)
	for _, kw := range cfg.ExcludeKeywords {
		if kw != "" && strings.Contains(title, strings.ToLower(kw)) {
			return false
		}
	}
	for _, ch := range cfg.ExcludeChannels {
		if ch == "" {
			continue
		}
		if strings.EqualFold(ch, d.ChannelID) || strings.EqualFold(ch, d.ChannelTitle) {
			return false
		}
	}
	return true
}

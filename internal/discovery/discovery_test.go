package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/repub-dev/repub/internal/config"
	"github.com/repub-dev/repub/internal/models"
	"github.com/repub-dev/repub/internal/repository"
)

func testRepos(t *testing.T) (repository.MonitorRepository, repository.TaskRepository) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Task{}, &models.MonitorConfig{}, &models.MonitorHistory{}))
	return repository.NewMonitorRepository(db), repository.NewTaskRepository(db)
}

func TestParseISODuration(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"PT3M20S", 200},
		{"PT1H2M3S", 3723},
		{"PT45S", 45},
		{"P1DT2H", 93600},
		{"PT0S", 0},
		{"", 0},
		{"garbage", 0},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, parseISODuration(tc.in), tc.in)
	}
}

func TestCatalogSearchAndVideos(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))
		assert.Equal(t, "city pop", r.URL.Query().Get("q"))
		assert.Equal(t, "date", r.URL.Query().Get("order"))
		fmt.Fprint(w, `{"items":[
			{"id":{"videoId":"vid1"},"snippet":{"title":"Song A","channelId":"ch1","channelTitle":"Channel One"}},
			{"id":{"videoId":"vid2"},"snippet":{"title":"Song B","channelId":"ch2","channelTitle":"Channel Two"}}
		]}`)
	})
	mux.HandleFunc("/videos", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "vid1,vid2", r.URL.Query().Get("id"))
		fmt.Fprint(w, `{"items":[
			{"id":"vid1","snippet":{"title":"Song A","channelId":"ch1"},
			 "statistics":{"viewCount":"150000","likeCount":"9000","commentCount":"120"},
			 "contentDetails":{"duration":"PT3M20S"}},
			{"id":"vid2","snippet":{"title":"Song B","channelId":"ch2"},
			 "statistics":{"viewCount":"42"},
			 "contentDetails":{"duration":"PT2H"}}
		]}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(config.DiscoveryConfig{APIKey: "test-key", BaseURL: srv.URL}, slog.Default())
	cfg := &models.MonitorConfig{Keywords: "city pop", Order: models.MonitorOrderDate, MaxResults: 10}

	candidates, err := c.Search(context.Background(), cfg, time.Time{})
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, "vid1", candidates[0].VideoID)

	details, err := c.Videos(context.Background(), []string{"vid1", "vid2"})
	require.NoError(t, err)
	require.Len(t, details, 2)
	assert.Equal(t, int64(150000), details[0].ViewCount)
	assert.Equal(t, 200, details[0].DurationSecs)
	assert.Equal(t, 7200, details[1].DurationSecs)
}

func TestCatalogChannelUploads(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/channels", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ch1", r.URL.Query().Get("id"))
		fmt.Fprint(w, `{"items":[{"contentDetails":{"relatedPlaylists":{"uploads":"UUch1"}}}]}`)
	})
	mux.HandleFunc("/playlistItems", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "UUch1", r.URL.Query().Get("playlistId"))
		fmt.Fprint(w, `{"items":[
			{"snippet":{"title":"New Video","channelId":"ch1"},
			 "contentDetails":{"videoId":"vidN","videoPublishedAt":"2026-08-20T10:00:00Z"}},
			{"snippet":{"title":"Old Video","channelId":"ch1"},
			 "contentDetails":{"videoId":"vidO","videoPublishedAt":"2026-01-01T10:00:00Z"}}
		]}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(config.DiscoveryConfig{APIKey: "k", BaseURL: srv.URL}, slog.Default())
	after := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	items, err := c.ChannelUploads(context.Background(), "ch1", after, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "vidN", items[0].VideoID)
}

func TestCallLimiter(t *testing.T) {
	l := newCallLimiter(3, time.Hour)
	require.NoError(t, l.take(2))
	require.NoError(t, l.take(1))
	assert.ErrorIs(t, l.take(1), ErrCallBudget)

	// Unlimited when max is zero.
	unlimited := newCallLimiter(0, time.Hour)
	for i := 0; i < 100; i++ {
		require.NoError(t, unlimited.take(1))
	}
}

func TestPassesFilters(t *testing.T) {
	cfg := &models.MonitorConfig{
		MinViewCount:    1000,
		MinDurationSecs: 60,
		MaxDurationSecs: 600,
		ExcludeKeywords: []string{"shorts"},
		ExcludeChannels: []string{"Spam Channel"},
	}

	ok := VideoDetails{
		Candidate:    Candidate{VideoID: "a", Title: "Full Concert", ChannelTitle: "Good Channel"},
		ViewCount:    5000,
		DurationSecs: 300,
	}
	assert.True(t, passesFilters(cfg, ok))

	lowViews := ok
	lowViews.ViewCount = 10
	assert.False(t, passesFilters(cfg, lowViews))

	tooLong := ok
	tooLong.DurationSecs = 3600
	assert.False(t, passesFilters(cfg, tooLong))

	excludedKw := ok
	excludedKw.Title = "Best SHORTS compilation"
	assert.False(t, passesFilters(cfg, excludedKw))

	excludedCh := ok
	excludedCh.ChannelTitle = "Spam Channel"
	assert.False(t, passesFilters(cfg, excludedCh))
}

// fakeCatalog serves canned candidates and counts calls.
type fakeCatalog struct {
	candidates []Candidate
	details    []VideoDetails
	calls      int
}

func (f *fakeCatalog) Search(ctx context.Context, cfg *models.MonitorConfig, publishedAfter time.Time) ([]Candidate, error) {
	f.calls++
	return f.candidates, nil
}

func (f *fakeCatalog) ChannelUploads(ctx context.Context, channelID string, publishedAfter time.Time, maxResults int) ([]Candidate, error) {
	f.calls++
	return f.candidates, nil
}

func (f *fakeCatalog) Videos(ctx context.Context, ids []string) ([]VideoDetails, error) {
	f.calls++
	return f.details, nil
}

type fakeStarter struct{ started []models.ULID }

func (f *fakeStarter) StartTask(ctx context.Context, id models.ULID) error {
	f.started = append(f.started, id)
	return nil
}

func TestRunner_DedupAndEnqueue(t *testing.T) {
	monitors, tasks := testRepos(t)
	ctx := context.Background()

	cfg := &models.MonitorConfig{
		Name:              "test monitor",
		Enabled:           true,
		Keywords:          "live",
		MaxResults:        10,
		AutoAddToTasks:    true,
		MaxCallsPerWindow: 50,
		WindowSeconds:     3600,
	}
	require.NoError(t, monitors.CreateConfig(ctx, cfg))

	published := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
	catalog := &fakeCatalog{
		candidates: []Candidate{{VideoID: "vid1"}, {VideoID: "vid2"}},
		details: []VideoDetails{
			{Candidate: Candidate{VideoID: "vid1", Title: "A", PublishedAt: &published}, ViewCount: 100, DurationSecs: 120},
			{Candidate: Candidate{VideoID: "vid2", Title: "B", PublishedAt: &published}, ViewCount: 100, DurationSecs: 120},
		},
	}
	starter := &fakeStarter{}
	r := NewRunner(catalog, monitors, tasks, starter, slog.Default())

	result, err := r.Run(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Checked)
	assert.Equal(t, 2, result.New)
	assert.Equal(t, 2, result.Enqueued)
	assert.Len(t, starter.started, 2)

	all, err := tasks.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Contains(t, []string{all[0].SourceURL, all[1].SourceURL},
		"https://www.youtube.com/watch?v=vid1")

	history, err := monitors.GetHistory(ctx, cfg.ID, 10)
	require.NoError(t, err)
	assert.Len(t, history, 2)
	for _, h := range history {
		assert.True(t, h.AddedToTasks)
	}

	// A second run rediscovers the same videos but creates nothing new.
	result, err = r.Run(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Checked)
	assert.Zero(t, result.New)
	assert.Zero(t, result.Enqueued)

	all, _ = tasks.GetAll(ctx)
	assert.Len(t, all, 2)
}

func TestRunner_CallBudgetAbortsRun(t *testing.T) {
	monitors, tasks := testRepos(t)
	ctx := context.Background()

	cfg := &models.MonitorConfig{
		Name:              "tight budget",
		Enabled:           true,
		Keywords:          "live",
		MaxResults:        10,
		MaxCallsPerWindow: 1, // search consumes it, videos call cannot run
		WindowSeconds:     3600,
	}
	require.NoError(t, monitors.CreateConfig(ctx, cfg))

	catalog := &fakeCatalog{
		candidates: []Candidate{{VideoID: "vid1"}},
		details:    []VideoDetails{{Candidate: Candidate{VideoID: "vid1"}}},
	}
	r := NewRunner(catalog, monitors, tasks, nil, slog.Default())

	result, err := r.Run(ctx, cfg)
	require.NoError(t, err)
	assert.True(t, result.LimitHit)
	assert.Zero(t, result.New)
	assert.Equal(t, 1, catalog.calls, "videos call skipped after budget hit")
}

func TestScheduler_SyncAddUpdateRemove(t *testing.T) {
	monitors, tasks := testRepos(t)
	ctx := context.Background()

	auto := &models.MonitorConfig{
		Name:            "auto monitor",
		Enabled:         true,
		Schedule:        models.MonitorScheduleAuto,
		IntervalMinutes: 30,
	}
	manual := &models.MonitorConfig{
		Name:     "manual monitor",
		Enabled:  true,
		Schedule: models.MonitorScheduleManual,
	}
	require.NoError(t, monitors.CreateConfig(ctx, auto))
	require.NoError(t, monitors.CreateConfig(ctx, manual))

	r := NewRunner(&fakeCatalog{}, monitors, tasks, nil, slog.Default())
	s := NewScheduler(r, monitors, slog.Default())

	require.NoError(t, s.Sync(ctx))
	assert.Equal(t, 1, s.JobCount())

	// Interval edit replaces the entry, count unchanged.
	auto.IntervalMinutes = 5
	require.NoError(t, monitors.UpdateConfig(ctx, auto))
	require.NoError(t, s.Sync(ctx))
	assert.Equal(t, 1, s.JobCount())
	assert.Equal(t, 5, s.jobs[auto.ID].interval)

	// Disabling removes the job.
	auto.Enabled = false
	require.NoError(t, monitors.UpdateConfig(ctx, auto))
	require.NoError(t, s.Sync(ctx))
	assert.Zero(t, s.JobCount())
}

func TestScheduler_RunNow(t *testing.T) {
	monitors, tasks := testRepos(t)
	ctx := context.Background()

	cfg := &models.MonitorConfig{
		Name:     "manual",
		Enabled:  true,
		Schedule: models.MonitorScheduleManual,
		Keywords: "live",
	}
	require.NoError(t, monitors.CreateConfig(ctx, cfg))

	catalog := &fakeCatalog{
		candidates: []Candidate{{VideoID: "vid1"}},
		details:    []VideoDetails{{Candidate: Candidate{VideoID: "vid1", Title: "A"}}},
	}
	s := NewScheduler(NewRunner(catalog, monitors, tasks, nil, slog.Default()), monitors, slog.Default())

	result, err := s.RunNow(ctx, cfg.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.New)

	_, err = s.RunNow(ctx, models.NewULID())
	assert.ErrorContains(t, err, "not found")
}

package handlers

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/repub-dev/repub/internal/config"
	"github.com/repub-dev/repub/internal/discovery"
	"github.com/repub-dev/repub/internal/models"
	"github.com/repub-dev/repub/internal/repository"
	"github.com/repub-dev/repub/internal/security"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Task{}, &models.MonitorConfig{}, &models.MonitorHistory{}))
	return db
}

type fakeEngine struct {
	started   []models.ULID
	restarted []models.ULID
	abandoned []models.ULID
	forced    []models.ULID
	deleted   []models.ULID
	scans     int
	cleared   int
	reset     int
}

func (e *fakeEngine) StartTask(_ context.Context, id models.ULID) error {
	e.started = append(e.started, id)
	return nil
}

func (e *fakeEngine) RestartTask(_ context.Context, id models.ULID) error {
	e.restarted = append(e.restarted, id)
	return nil
}

func (e *fakeEngine) AbandonTask(_ context.Context, id models.ULID) error {
	e.abandoned = append(e.abandoned, id)
	return nil
}

func (e *fakeEngine) ForceUpload(_ context.Context, id models.ULID) error {
	e.forced = append(e.forced, id)
	return nil
}

func (e *fakeEngine) DeleteTask(ctx context.Context, id models.ULID, _ bool) error {
	e.deleted = append(e.deleted, id)
	return nil
}

func (e *fakeEngine) ClearAll(context.Context, bool) (int, error) {
	e.cleared++
	return 2, nil
}

func (e *fakeEngine) ResetStuck(context.Context) (int, error) {
	e.reset++
	return 1, nil
}

func (e *fakeEngine) TriggerScan() { e.scans++ }

type fakeExpander struct{ ids []string }

func (f *fakeExpander) ExpandPlaylist(context.Context, string) ([]string, error) {
	return f.ids, nil
}

func TestTaskSubmitSingle(t *testing.T) {
	db := testDB(t)
	tasks := repository.NewTaskRepository(db)
	engine := &fakeEngine{}
	h := NewTaskHandler(tasks, engine, nil, nil)

	out, err := h.Submit(context.Background(), &SubmitTaskInput{
		Body: SubmitTaskRequest{SourceURL: "https://www.youtube.com/watch?v=abc123"},
	})
	require.NoError(t, err)
	assert.True(t, out.Body.Success)
	assert.NotEmpty(t, out.Body.TaskID)
	assert.Equal(t, 1, engine.scans)

	all, err := tasks.GetAll(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, models.TaskStatusPending, all[0].Status)
}

func TestTaskSubmitPlaylist(t *testing.T) {
	db := testDB(t)
	tasks := repository.NewTaskRepository(db)
	engine := &fakeEngine{}
	h := NewTaskHandler(tasks, engine, &fakeExpander{ids: []string{"vid1", "vid2", "vid3"}}, nil)

	out, err := h.Submit(context.Background(), &SubmitTaskInput{
		Body: SubmitTaskRequest{SourceURL: "https://www.youtube.com/playlist?list=PL123"},
	})
	require.NoError(t, err)
	assert.True(t, out.Body.Success)
	assert.Equal(t, 3, out.Body.AddedCount)

	all, err := tasks.GetAll(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "https://www.youtube.com/watch?v=vid1", all[0].SourceURL)
}

func TestTaskStartRoutesByStatus(t *testing.T) {
	db := testDB(t)
	tasks := repository.NewTaskRepository(db)
	engine := &fakeEngine{}
	h := NewTaskHandler(tasks, engine, nil, nil)
	ctx := context.Background()

	pending, err := tasks.Create(ctx, "https://example.com/v/1")
	require.NoError(t, err)
	failed, err := tasks.Create(ctx, "https://example.com/v/2")
	require.NoError(t, err)
	require.NoError(t, tasks.UpdateStatus(ctx, failed.ID, models.TaskStatusFailed, "boom"))

	_, err = h.Start(ctx, &TaskIDInput{ID: pending.ID.String()})
	require.NoError(t, err)
	_, err = h.Start(ctx, &TaskIDInput{ID: failed.ID.String()})
	require.NoError(t, err)

	assert.Equal(t, []models.ULID{pending.ID}, engine.started)
	assert.Equal(t, []models.ULID{failed.ID}, engine.restarted)
}

func TestTaskGetNotFound(t *testing.T) {
	h := NewTaskHandler(repository.NewTaskRepository(testDB(t)), &fakeEngine{}, nil, nil)

	_, err := h.Get(context.Background(), &TaskIDInput{ID: models.NewULID().String()})
	require.Error(t, err)

	_, err = h.Get(context.Background(), &TaskIDInput{ID: "not-a-ulid"})
	require.Error(t, err)
}

func TestTaskReviewEdits(t *testing.T) {
	db := testDB(t)
	tasks := repository.NewTaskRepository(db)
	h := NewTaskHandler(tasks, &fakeEngine{}, nil, nil)
	ctx := context.Background()

	task, err := tasks.Create(ctx, "https://example.com/v/1")
	require.NoError(t, err)

	category := "201"
	title := "edited title"
	out, err := h.Review(ctx, &ReviewUpdateInput{
		ID: task.ID.String(),
		Body: ReviewUpdateRequest{
			SelectedCategoryID: &category,
			TitleTranslated:    &title,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "201", out.Body.SelectedCategoryID)
	assert.Equal(t, "edited title", out.Body.TitleTranslated)

	_, err = h.Review(ctx, &ReviewUpdateInput{ID: task.ID.String()})
	require.Error(t, err, "empty edit should be rejected")
}

func TestTaskBulkOperations(t *testing.T) {
	db := testDB(t)
	engine := &fakeEngine{}
	h := NewTaskHandler(repository.NewTaskRepository(db), engine, nil, nil)
	ctx := context.Background()

	out, err := h.ClearAll(ctx, &ClearAllInput{})
	require.NoError(t, err)
	assert.Equal(t, 2, out.Body.Count)

	out, err = h.ResetStuck(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Body.Count)
	assert.Equal(t, 1, engine.cleared)
	assert.Equal(t, 1, engine.reset)
}

func TestCookieSyncAndStatus(t *testing.T) {
	jarPath := filepath.Join(t.TempDir(), "cookies", "yt_cookies.txt")
	h := NewCookieHandler(jarPath, nil)
	ctx := context.Background()

	out, err := h.Sync(ctx, &CookieSyncInput{Body: CookieSyncRequest{
		Source: "extension",
		Cookies: []BrowserCookie{
			{Domain: ".youtube.com", Name: "SID", Value: "abc", Secure: true, Expires: 1924992000},
			{Domain: "youtube.com", Name: "PREF", Value: "x", Session: true},
		},
	}})
	require.NoError(t, err)
	assert.Equal(t, 2, out.Body.Count)

	data, err := os.ReadFile(jarPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "# Netscape HTTP Cookie File")
	assert.Contains(t, string(data), ".youtube.com\tTRUE\t/\tTRUE\t1924992000\tSID\tabc")
	assert.Contains(t, string(data), "youtube.com\tFALSE\t/\tFALSE\t0\tPREF\tx")

	status, err := h.Status(ctx, nil)
	require.NoError(t, err)
	assert.True(t, status.Body.Exists)
	assert.Equal(t, 2, status.Body.CookieCount)
	assert.Nil(t, status.Body.Refresh)
}

func TestCookieSyncEmptyRejected(t *testing.T) {
	h := NewCookieHandler(filepath.Join(t.TempDir(), "jar.txt"), nil)
	_, err := h.Sync(context.Background(), &CookieSyncInput{})
	require.Error(t, err)
}

func TestCookieRefreshHintClearedBySync(t *testing.T) {
	jarPath := filepath.Join(t.TempDir(), "yt_cookies.txt")
	h := NewCookieHandler(jarPath, nil)
	ctx := context.Background()

	input := &RefreshNeededInput{}
	input.Body.Reason = "sign in to confirm"
	input.Body.VideoURL = "https://www.youtube.com/watch?v=abc"
	_, err := h.RefreshNeeded(ctx, input)
	require.NoError(t, err)

	status, err := h.Status(ctx, nil)
	require.NoError(t, err)
	require.NotNil(t, status.Body.Refresh)
	assert.Equal(t, "sign in to confirm", status.Body.Refresh.Reason)

	_, err = h.Sync(ctx, &CookieSyncInput{Body: CookieSyncRequest{
		Cookies: []BrowserCookie{{Domain: ".youtube.com", Name: "SID", Value: "new"}},
	}})
	require.NoError(t, err)

	status, err = h.Status(ctx, nil)
	require.NoError(t, err)
	assert.Nil(t, status.Body.Refresh)
}

func TestAuthLogin(t *testing.T) {
	gate := security.NewGate(config.LoginConfig{
		Required:          true,
		Password:          "secret",
		MaxFailedAttempts: 2,
		LockoutDuration:   time.Hour,
	}, filepath.Join(t.TempDir(), "state.json"), nil)
	h := NewAuthHandler(gate, nil)
	ctx := context.Background()

	login := func(pw string) error {
		input := &LoginInput{}
		input.Body.Password = pw
		_, err := h.Login(ctx, input)
		return err
	}

	require.NoError(t, login("secret"))
	require.Error(t, login("wrong"))
	require.Error(t, login("wrong"))
	// Locked now, even with the right password.
	require.Error(t, login("secret"))

	status, err := h.Status(ctx, nil)
	require.NoError(t, err)
	assert.True(t, status.Body.Required)
	assert.Greater(t, status.Body.LockoutRemainingSecs, 0)
}

type fakeScheduler struct {
	syncs  int
	ran    []models.ULID
	result discovery.RunResult
}

func (s *fakeScheduler) Sync(context.Context) error {
	s.syncs++
	return nil
}

func (s *fakeScheduler) RunNow(_ context.Context, id models.ULID) (discovery.RunResult, error) {
	s.ran = append(s.ran, id)
	return s.result, nil
}

func TestMonitorCRUDAndRun(t *testing.T) {
	db := testDB(t)
	monitors := repository.NewMonitorRepository(db)
	sched := &fakeScheduler{result: discovery.RunResult{Checked: 5, New: 2, Enqueued: 1}}
	h := NewMonitorHandler(monitors, sched, nil)
	ctx := context.Background()

	created, err := h.Create(ctx, &CreateMonitorInput{Body: CreateMonitorConfigRequest{
		Name:     "music weekly",
		Keywords: "live concert",
		Schedule: models.MonitorScheduleAuto,
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, sched.syncs)
	assert.Equal(t, 60, created.Body.IntervalMinutes)
	assert.Equal(t, 50, created.Body.MaxCallsPerWindow)

	id := created.Body.ID.String()

	interval := 30
	updated, err := h.Update(ctx, &UpdateMonitorInput{
		ID:   id,
		Body: UpdateMonitorConfigRequest{IntervalMinutes: &interval},
	})
	require.NoError(t, err)
	assert.Equal(t, 30, updated.Body.IntervalMinutes)
	assert.Equal(t, 2, sched.syncs)

	run, err := h.Run(ctx, &MonitorIDInput{ID: id})
	require.NoError(t, err)
	assert.Equal(t, 2, run.Body.New)
	require.Len(t, sched.ran, 1)

	list, err := h.List(ctx, nil)
	require.NoError(t, err)
	require.Len(t, list.Body.Monitors, 1)

	_, err = h.Delete(ctx, &MonitorIDInput{ID: id})
	require.NoError(t, err)
	assert.Equal(t, 3, sched.syncs)

	list, err = h.List(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, list.Body.Monitors)
}

func TestMonitorNotFound(t *testing.T) {
	h := NewMonitorHandler(repository.NewMonitorRepository(testDB(t)), &fakeScheduler{}, nil)
	_, err := h.Get(context.Background(), &MonitorIDInput{ID: models.NewULID().String()})
	require.Error(t, err)
}

type fakeJanitor struct{ cleared int }

func (j *fakeJanitor) ClearCurrentLogs() error {
	j.cleared++
	return nil
}

func TestSystemHealthAndLogClear(t *testing.T) {
	janitor := &fakeJanitor{}
	h := NewSystemHandler("1.2.3").WithDB(testDB(t)).WithJanitor(janitor)
	ctx := context.Background()

	out, err := h.GetHealth(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "healthy", out.Body.Status)
	assert.Equal(t, "1.2.3", out.Body.Version)
	assert.Equal(t, "ok", out.Body.Checks["database"])
	assert.NotZero(t, out.Body.CPUCores)

	_, err = h.ClearLogs(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, janitor.cleared)
}

func TestSettingsGetAndUpdate(t *testing.T) {
	cfg := &config.Config{}
	cfg.Features.TranslateTitle = true
	cfg.Pipeline.MaxConcurrentTasks = 3
	store := config.NewStore(cfg)
	h := NewSettingsHandler(store, nil)
	ctx := context.Background()

	out, err := h.Get(ctx, nil)
	require.NoError(t, err)
	assert.True(t, out.Body.TranslateTitle)
	assert.False(t, out.Body.AutoMode)
	assert.Equal(t, 3, out.Body.MaxConcurrentTasks)

	auto := true
	tasks := 5
	upd, err := h.Update(ctx, &UpdateSettingsInput{Body: UpdateSettingsRequest{
		AutoMode:           &auto,
		MaxConcurrentTasks: &tasks,
	}})
	require.NoError(t, err)
	assert.True(t, upd.Body.AutoMode)
	assert.Equal(t, 5, upd.Body.MaxConcurrentTasks)
	// Untouched fields keep their values.
	assert.True(t, upd.Body.TranslateTitle)

	// The store snapshot reflects the edit for other readers.
	assert.Equal(t, 5, store.Get().Pipeline.MaxConcurrentTasks)
	assert.True(t, store.Get().Features.AutoMode.Enabled())
}

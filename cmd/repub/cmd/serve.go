package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/shirou/gopsutil/v4/mem"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/repub-dev/repub/internal/asr"
	"github.com/repub-dev/repub/internal/config"
	"github.com/repub-dev/repub/internal/database"
	"github.com/repub-dev/repub/internal/discovery"
	"github.com/repub-dev/repub/internal/downloader"
	"github.com/repub-dev/repub/internal/ffmpeg"
	"github.com/repub-dev/repub/internal/housekeeping"
	internalhttp "github.com/repub-dev/repub/internal/http"
	"github.com/repub-dev/repub/internal/http/handlers"
	"github.com/repub-dev/repub/internal/llm"
	"github.com/repub-dev/repub/internal/moderation"
	"github.com/repub-dev/repub/internal/pipeline"
	"github.com/repub-dev/repub/internal/repository"
	"github.com/repub-dev/repub/internal/security"
	"github.com/repub-dev/repub/internal/startup"
	"github.com/repub-dev/repub/internal/subtitle"
	"github.com/repub-dev/repub/internal/uploader"
	"github.com/repub-dev/repub/internal/vad"
	"github.com/repub-dev/repub/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the repub server",
	Long: `Start the repub daemon and HTTP API.

The server provides:
- REST API for managing tasks and channel monitors
- The pipeline engine driving download, localization, encode, and upload
- Health check endpoint
- OpenAPI documentation at /docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	// Server flags
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("base-dir", ".", "Base directory for downloads, logs, and cookies")

	// Bind flags to viper
	viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	viper.BindPFlag("storage.base_dir", serveCmd.Flags().Lookup("base-dir"))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.Default()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Clean up encoder work directories left behind by a previous run.
	orphansRemoved, err := startup.CleanupSystemTempDirs(logger)
	if err != nil {
		logger.Warn("cleaning orphaned temp directories",
			slog.String("error", err.Error()))
	} else if orphansRemoved > 0 {
		logger.Info("cleaned orphaned temp directories on startup",
			slog.Int("removed_count", orphansRemoved))
	}

	// Initialize database
	db, err := database.New(cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}

	// Initialize repositories
	taskRepo := repository.NewTaskRepository(db.DB)
	monitorRepo := repository.NewMonitorRepository(db.DB)

	// Fail tasks a previous run left mid-pipeline.
	recovered, err := startup.RecoverInterruptedTasks(ctx, logger, taskRepo)
	if err != nil {
		return fmt.Errorf("recovering interrupted tasks: %w", err)
	}
	if recovered > 0 {
		logger.Info("recovered interrupted tasks", slog.Int("count", recovered))
	}

	// Initialize pipeline components
	comp, locator := buildComponents(cfg, logger)

	engine := pipeline.New(cfg, taskRepo, comp, logger)
	engine.Start(ctx)
	defer func() {
		engine.Stop()
		engine.Wait()
	}()

	// Initialize channel discovery
	var scheduler *discovery.Scheduler
	if cfg.Discovery.APIKey != "" {
		catalog := discovery.NewClient(cfg.Discovery, logger)
		runner := discovery.NewRunner(catalog, monitorRepo, taskRepo, engine, logger)
		scheduler = discovery.NewScheduler(runner, monitorRepo, logger)
		if err := scheduler.Sync(ctx); err != nil {
			logger.Warn("syncing monitor schedules", slog.Any("error", err))
		}
		scheduler.Start()
		defer scheduler.Stop()
	} else {
		logger.Info("discovery disabled: no catalog API key configured")
	}

	// Initialize housekeeping
	janitor := housekeeping.New(cfg.Retention, cfg.Storage, engine, logger)
	janitor.Start(ctx)
	defer janitor.Stop()

	// Initialize the login gate
	gatePath := filepath.Join(cfg.Storage.BaseDir, "db", "security_state.json")
	gate := security.NewGate(cfg.Login, gatePath, logger)

	// Initialize HTTP server
	serverConfig := internalhttp.DefaultServerConfig()
	serverConfig.Host = cfg.Server.Host
	serverConfig.Port = cfg.Server.Port
	if cfg.Server.ReadTimeout > 0 {
		serverConfig.ReadTimeout = cfg.Server.ReadTimeout
	}
	if cfg.Server.WriteTimeout > 0 {
		serverConfig.WriteTimeout = cfg.Server.WriteTimeout
	}
	if cfg.Server.ShutdownTimeout > 0 {
		serverConfig.ShutdownTimeout = cfg.Server.ShutdownTimeout
	}
	server := internalhttp.NewServer(serverConfig, logger, version.Version)

	// Register handlers
	var expander handlers.PlaylistExpander
	if fetcher, ok := comp.Downloader.(*downloader.Downloader); ok {
		expander = fetcher
	}
	taskHandler := handlers.NewTaskHandler(taskRepo, engine, expander, logger)
	taskHandler.Register(server.API())

	monitorHandler := handlers.NewMonitorHandler(monitorRepo, scheduler, logger)
	monitorHandler.Register(server.API())

	cookieHandler := handlers.NewCookieHandler(cfg.Storage.SourceCookieJar(), logger)
	cookieHandler.Register(server.API())

	authHandler := handlers.NewAuthHandler(gate, logger)
	authHandler.Register(server.API())

	settingsHandler := handlers.NewSettingsHandler(engine.Store(), logger)
	settingsHandler.Register(server.API())

	systemHandler := handlers.NewSystemHandler(version.Version).
		WithDB(db.DB).
		WithJanitor(janitor).
		WithTool("ffmpeg", locator)
	if checker, ok := comp.Downloader.(handlers.ToolChecker); ok {
		systemHandler = systemHandler.WithTool("downloader", checker)
	}
	systemHandler.Register(server.API())

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	logger.Info("starting repub server",
		slog.String("host", serverConfig.Host),
		slog.Int("port", serverConfig.Port),
		slog.String("version", version.Version))

	return server.ListenAndServe(ctx)
}

// buildComponents constructs the pipeline collaborators from configuration.
// Components without the configuration they need stay nil, which disables
// the corresponding stage. The locator is returned for health checks.
func buildComponents(cfg *config.Config, logger *slog.Logger) (pipeline.Components, *ffmpeg.Locator) {
	locator := ffmpeg.NewLocator(cfg.Encoder.FFmpegPath)
	prober := ffmpeg.NewProber(locator)
	extractor := ffmpeg.NewAudioExtractor(locator)

	comp := pipeline.Components{
		Downloader: downloader.New(cfg.Download, cfg.Storage.SourceCookieJar(), logger),
		Encoder:    ffmpeg.NewEncoder(locator, prober, logger),
		Prober:     prober,
	}

	if cfg.LLM.BaseURL != "" {
		comp.LLM = llm.NewClient(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model, logger)

		catalogPath := cfg.Storage.CatalogPath
		if catalogPath != "" && !filepath.IsAbs(catalogPath) {
			catalogPath = filepath.Join(cfg.Storage.BaseDir, catalogPath)
		}
		catalog, err := llm.LoadCatalog(catalogPath)
		if err != nil {
			logger.Warn("loading category catalog",
				slog.String("path", catalogPath), slog.Any("error", err))
		} else {
			comp.Catalog = catalog
		}

		transBase, transKey, transModel := cfg.LLM.TranslationEndpoint()
		transClient := llm.NewClient(transBase, transKey, transModel, logger)
		comp.SubTranslator = subtitle.NewTranslator(transClient, subtitle.TranslatorConfig{
			BatchSize:      cfg.Subtitle.BatchSize,
			MaxRetries:     cfg.Subtitle.MaxRetries,
			RetryDelay:     cfg.Subtitle.RetryDelay,
			MaxWorkers:     cfg.Subtitle.MaxWorkers,
			MemoryPressure: memoryPressure,
		}, logger)

		qcModel := cfg.LLM.QCModel
		if qcModel == "" {
			qcModel = cfg.LLM.Model
		}
		qcClient := llm.NewClient(cfg.LLM.BaseURL, cfg.LLM.APIKey, qcModel, logger)
		comp.QC = subtitle.NewQualityChecker(qcClient, subtitle.QCConfig{
			Threshold: cfg.LLM.QCThreshold,
			SampleMax: cfg.LLM.QCSampleSize,
		}, logger)
	}

	if cfg.Moderation.Endpoint != "" {
		comp.Moderator = moderation.NewClient(cfg.Moderation.Endpoint, cfg.Moderation.APIKey, logger)
	}

	if cfg.VAD.Endpoint != "" {
		comp.VAD = vad.NewProcessor(cfg.VAD, extractor, logger)
	}

	if cfg.ASR.BaseURL != "" || cfg.ASR.ProcessAll != "" {
		asrClient := asr.NewClient(cfg.ASR, logger)
		comp.ASR = asr.NewSegmentTranscriber(asrClient, extractor, cfg.ASR.Workers, logger)
	}

	uploadCfg := cfg.Upload
	if uploadCfg.CookieJar == "" {
		uploadCfg.CookieJar = cfg.Storage.SinkCookieJar()
	}
	if uploadCfg.Username != "" || fileExists(uploadCfg.CookieJar) {
		comp.Uploader = uploader.NewClient(uploadCfg, logger)
	} else {
		logger.Info("uploader disabled: no credentials or cookie jar configured")
	}

	return comp, locator
}

// memoryPressure reports whether the host is short on memory. The subtitle
// translator halves its worker pool while this returns true.
func memoryPressure() bool {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return false
	}
	return vm.UsedPercent > 85
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

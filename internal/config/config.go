// Package config provides configuration management for repub using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort          = 8080
	defaultServerTimeout       = 30 * time.Second
	defaultShutdownTimeout     = 10 * time.Second
	defaultMaxConcurrentTasks  = 3
	defaultMaxConcurrentUpload = 1
	defaultPendingScanInterval = 30 * time.Second
	minPendingScanInterval     = 5 * time.Second
	defaultSubtitleBatchSize   = 3
	defaultSubtitleMaxRetries  = 3
	defaultSubtitleRetryDelay  = 2 * time.Second
	defaultASRWorkers          = 3
	defaultDownloadThreads     = 4
	defaultQCThreshold         = 0.35
	defaultQCSampleSize        = 100
	defaultLoginMaxFailed      = 5
	defaultLoginLockout        = 15 * time.Minute
	defaultRetentionHours      = 72
	defaultRetentionInterval   = 6 * time.Hour
)

// Config holds all configuration for the application.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Features   FeatureConfig    `mapstructure:"features"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Moderation ModerationConfig `mapstructure:"moderation"`
	ASR        ASRConfig        `mapstructure:"asr"`
	VAD        VADConfig        `mapstructure:"vad"`
	Subtitle   SubtitleConfig   `mapstructure:"subtitle"`
	Encoder    EncoderConfig    `mapstructure:"encoder"`
	Download   DownloadConfig   `mapstructure:"download"`
	Upload     UploadConfig     `mapstructure:"upload"`
	Discovery  DiscoveryConfig  `mapstructure:"discovery"`
	Retention  RetentionConfig  `mapstructure:"retention"`
	Login      LoginConfig      `mapstructure:"login"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// StorageConfig holds on-disk layout configuration.
type StorageConfig struct {
	BaseDir     string `mapstructure:"base_dir"`
	DownloadDir string `mapstructure:"download_dir"`
	LogDir      string `mapstructure:"log_dir"`
	CookieDir   string `mapstructure:"cookie_dir"`
	FontPath    string `mapstructure:"font_path"`
	CatalogPath string `mapstructure:"catalog_path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// FeatureConfig holds the pipeline feature flags. Boolean values in the
// config file accept true/false/on/off/yes/no/1/0.
type FeatureConfig struct {
	AutoMode             Bool `mapstructure:"auto_mode"`
	TranslateTitle       Bool `mapstructure:"translate_title"`
	TranslateDescription Bool `mapstructure:"translate_description"`
	GenerateTags         Bool `mapstructure:"generate_tags"`
	RecommendPartition   Bool `mapstructure:"recommend_partition"`
	ContentModeration    Bool `mapstructure:"content_moderation"`
	SubtitleTranslation  Bool `mapstructure:"subtitle_translation"`
	SubtitleEmbed        Bool `mapstructure:"subtitle_embed"`
	SubtitleKeepOriginal Bool `mapstructure:"subtitle_keep_original"`
	SpeechRecognition    Bool `mapstructure:"speech_recognition"`
}

// PipelineConfig holds concurrency and scheduling configuration.
type PipelineConfig struct {
	MaxConcurrentTasks   int           `mapstructure:"max_concurrent_tasks"`
	MaxConcurrentUploads int           `mapstructure:"max_concurrent_uploads"`
	PendingScanInterval  time.Duration `mapstructure:"pending_scan_interval"`
	StuckThreshold       time.Duration `mapstructure:"stuck_threshold"`
}

// EffectiveScanInterval clamps the pending scan interval to its lower bound.
func (c PipelineConfig) EffectiveScanInterval() time.Duration {
	if c.PendingScanInterval < minPendingScanInterval {
		return minPendingScanInterval
	}
	return c.PendingScanInterval
}

// LLMConfig holds chat-completion provider configuration.
type LLMConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`

	// Subtitle-translation overrides; empty values fall back to the above.
	TranslationBaseURL string `mapstructure:"translation_base_url"`
	TranslationAPIKey  string `mapstructure:"translation_api_key"`
	TranslationModel   string `mapstructure:"translation_model"`

	// Subtitle QC judge.
	QCThreshold  float64 `mapstructure:"qc_threshold"`
	QCSampleSize int     `mapstructure:"qc_sample_size"`
	QCModel      string  `mapstructure:"qc_model"`

	// FixedCategoryID short-circuits category classification entirely.
	FixedCategoryID string `mapstructure:"fixed_category_id"`
}

// TranslationEndpoint returns the effective subtitle-translation provider.
func (c LLMConfig) TranslationEndpoint() (baseURL, apiKey, model string) {
	baseURL, apiKey, model = c.BaseURL, c.APIKey, c.Model
	if c.TranslationBaseURL != "" {
		baseURL = c.TranslationBaseURL
	}
	if c.TranslationAPIKey != "" {
		apiKey = c.TranslationAPIKey
	}
	if c.TranslationModel != "" {
		model = c.TranslationModel
	}
	return baseURL, apiKey, model
}

// ModerationConfig holds cloud text-moderation configuration.
type ModerationConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	APIKey   string `mapstructure:"api_key"`
	Service  string `mapstructure:"service"`
}

// ASRConfig holds speech-recognition endpoint configuration.
type ASRConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	APIKey     string        `mapstructure:"api_key"`
	Model      string        `mapstructure:"model"`
	Language   string        `mapstructure:"language"`
	Prompt     string        `mapstructure:"prompt"`
	Workers    int           `mapstructure:"workers"`
	Timeout    time.Duration `mapstructure:"timeout"`
	ProcessAll string        `mapstructure:"process_all_url"` // FireRed-style /v1/process_all
}

// VADConfig holds voice-activity-detection configuration.
type VADConfig struct {
	Endpoint       string  `mapstructure:"endpoint"`
	WindowSeconds  float64 `mapstructure:"window_seconds"`
	OverlapSeconds float64 `mapstructure:"overlap_seconds"`
	MergeGap       float64 `mapstructure:"merge_gap"`
	MinSpeech      float64 `mapstructure:"min_speech"`
	MaxSegment     float64 `mapstructure:"max_segment"`
	PadMillis      int     `mapstructure:"pad_millis"`
}

// SubtitleConfig holds subtitle transform and translation tunables.
type SubtitleConfig struct {
	BatchSize     int           `mapstructure:"batch_size"`
	MaxWorkers    int           `mapstructure:"max_workers"` // 0 = auto
	MaxRetries    int           `mapstructure:"max_retries"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
	MaxLineLength int           `mapstructure:"max_line_length"`
	MaxLines      int           `mapstructure:"max_lines"`
	MinCueMillis  int           `mapstructure:"min_cue_millis"`
	MergeGap      float64       `mapstructure:"merge_gap"`
	MinTextLength int           `mapstructure:"min_text_length"`
}

// EncoderConfig holds video encoder configuration.
type EncoderConfig struct {
	Backend     string `mapstructure:"backend"` // cpu, nvenc, qsv, amf
	FFmpegPath  string `mapstructure:"ffmpeg_path"`
	FFprobePath string `mapstructure:"ffprobe_path"`
	BundleDir   string `mapstructure:"bundle_dir"`
}

// DownloadConfig holds source downloader configuration.
type DownloadConfig struct {
	BinaryPath    string `mapstructure:"binary_path"` // empty = yt-dlp from PATH
	ProxyEnabled  Bool   `mapstructure:"proxy_enabled"`
	ProxyURL      string `mapstructure:"proxy_url"`
	ProxyUser     string `mapstructure:"proxy_user"`
	ProxyPass     string `mapstructure:"proxy_pass"`
	Threads       int    `mapstructure:"threads"`
	ThrottledRate string `mapstructure:"throttled_rate"`
}

// UploadConfig holds sink-site upload configuration.
type UploadConfig struct {
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	CookieJar string `mapstructure:"cookie_jar"`
}

// DiscoveryConfig holds external catalog API configuration.
type DiscoveryConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

// RetentionSweepConfig holds one retention sweep's configuration.
type RetentionSweepConfig struct {
	Enabled  Bool          `mapstructure:"enabled"`
	MaxAge   time.Duration `mapstructure:"max_age"`
	Interval time.Duration `mapstructure:"interval"`
}

// RetentionConfig holds housekeeping configuration.
type RetentionConfig struct {
	Logs      RetentionSweepConfig `mapstructure:"logs"`
	Downloads RetentionSweepConfig `mapstructure:"downloads"`
}

// LoginConfig holds the login gate configuration.
type LoginConfig struct {
	Required          Bool          `mapstructure:"required"`
	Password          string        `mapstructure:"password"`
	MaxFailedAttempts int           `mapstructure:"max_failed_attempts"`
	LockoutDuration   time.Duration `mapstructure:"lockout_duration"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with REPUB_ and use underscores for
// nesting. Example: REPUB_PIPELINE_MAX_CONCURRENT_TASKS=5.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/repub")
		v.AddConfigPath("$HOME/.repub")
	}

	v.SetEnvPrefix("REPUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - defaults and env vars apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook())); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "db/tasks.db")
	v.SetDefault("database.max_open_conns", 6)
	v.SetDefault("database.max_idle_conns", 3)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.log_level", "warn")

	// Storage defaults
	v.SetDefault("storage.base_dir", ".")
	v.SetDefault("storage.download_dir", "downloads")
	v.SetDefault("storage.log_dir", "logs")
	v.SetDefault("storage.cookie_dir", "cookies")
	v.SetDefault("storage.font_path", "fonts/SourceHanSansHWSC-VF.otf")
	v.SetDefault("storage.catalog_path", "acfunid/id_mapping.json")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Feature flags
	v.SetDefault("features.auto_mode", false)
	v.SetDefault("features.translate_title", true)
	v.SetDefault("features.translate_description", true)
	v.SetDefault("features.generate_tags", true)
	v.SetDefault("features.recommend_partition", true)
	v.SetDefault("features.content_moderation", false)
	v.SetDefault("features.subtitle_translation", false)
	v.SetDefault("features.subtitle_embed", true)
	v.SetDefault("features.subtitle_keep_original", true)
	v.SetDefault("features.speech_recognition", false)

	// Pipeline defaults
	v.SetDefault("pipeline.max_concurrent_tasks", defaultMaxConcurrentTasks)
	v.SetDefault("pipeline.max_concurrent_uploads", defaultMaxConcurrentUpload)
	v.SetDefault("pipeline.pending_scan_interval", defaultPendingScanInterval)
	v.SetDefault("pipeline.stuck_threshold", 30*time.Minute)

	// LLM defaults
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.qc_threshold", defaultQCThreshold)
	v.SetDefault("llm.qc_sample_size", defaultQCSampleSize)

	// ASR defaults
	v.SetDefault("asr.model", "whisper-1")
	v.SetDefault("asr.workers", defaultASRWorkers)
	v.SetDefault("asr.timeout", 2*time.Minute)

	// VAD defaults
	v.SetDefault("vad.window_seconds", 25.0)
	v.SetDefault("vad.overlap_seconds", 0.2)
	v.SetDefault("vad.merge_gap", 1.0)
	v.SetDefault("vad.min_speech", 1.0)
	v.SetDefault("vad.max_segment", 60.0)
	v.SetDefault("vad.pad_millis", 500)

	// Subtitle defaults
	v.SetDefault("subtitle.batch_size", defaultSubtitleBatchSize)
	v.SetDefault("subtitle.max_workers", 0)
	v.SetDefault("subtitle.max_retries", defaultSubtitleMaxRetries)
	v.SetDefault("subtitle.retry_delay", defaultSubtitleRetryDelay)
	v.SetDefault("subtitle.max_line_length", 42)
	v.SetDefault("subtitle.max_lines", 2)
	v.SetDefault("subtitle.min_cue_millis", 50)
	v.SetDefault("subtitle.merge_gap", 0.5)
	v.SetDefault("subtitle.min_text_length", 2)

	// Encoder defaults
	v.SetDefault("encoder.backend", "cpu")

	// Download defaults
	v.SetDefault("download.threads", defaultDownloadThreads)

	// Retention defaults
	v.SetDefault("retention.logs.enabled", true)
	v.SetDefault("retention.logs.max_age", defaultRetentionHours*time.Hour)
	v.SetDefault("retention.logs.interval", defaultRetentionInterval)
	v.SetDefault("retention.downloads.enabled", false)
	v.SetDefault("retention.downloads.max_age", defaultRetentionHours*time.Hour)
	v.SetDefault("retention.downloads.interval", defaultRetentionInterval)

	// Login gate defaults
	v.SetDefault("login.required", false)
	v.SetDefault("login.max_failed_attempts", defaultLoginMaxFailed)
	v.SetDefault("login.lockout_duration", defaultLoginLockout)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	if c.Storage.BaseDir == "" {
		return fmt.Errorf("storage.base_dir is required")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	validBackends := map[string]bool{"cpu": true, "nvenc": true, "qsv": true, "amf": true}
	if !validBackends[c.Encoder.Backend] {
		return fmt.Errorf("encoder.backend must be one of: cpu, nvenc, qsv, amf")
	}

	if c.Pipeline.MaxConcurrentTasks < 1 {
		return fmt.Errorf("pipeline.max_concurrent_tasks must be at least 1")
	}
	if c.Pipeline.MaxConcurrentUploads < 1 {
		return fmt.Errorf("pipeline.max_concurrent_uploads must be at least 1")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DownloadPath returns the absolute downloads root.
func (c *StorageConfig) DownloadPath() string {
	return filepath.Join(c.BaseDir, c.DownloadDir)
}

// LogPath returns the absolute logs directory.
func (c *StorageConfig) LogPath() string {
	return filepath.Join(c.BaseDir, c.LogDir)
}

// CookiePath returns the absolute cookies directory.
func (c *StorageConfig) CookiePath() string {
	return filepath.Join(c.BaseDir, c.CookieDir)
}

// SourceCookieJar returns the path of the source-site cookie jar.
func (c *StorageConfig) SourceCookieJar() string {
	return filepath.Join(c.CookiePath(), "yt_cookies.txt")
}

// SinkCookieJar returns the path of the sink-site cookie jar.
func (c *StorageConfig) SinkCookieJar() string {
	return filepath.Join(c.CookiePath(), "ac_cookies.txt")
}

// TaskDir returns the working directory for one task.
func (c *StorageConfig) TaskDir(taskID string) string {
	return filepath.Join(c.DownloadPath(), taskID)
}

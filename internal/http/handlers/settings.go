package handlers

import (
	"context"
	"log/slog"

	"github.com/danielgtaylor/huma/v2"

	"github.com/repub-dev/repub/internal/config"
)

// SettingsHandler exposes the runtime-tunable configuration: the pipeline
// feature flags and concurrency caps. Edits apply to the live snapshot and
// take effect on the next scheduling decision; they are not written back to
// the config file.
type SettingsHandler struct {
	store  *config.Store
	logger *slog.Logger
}

// NewSettingsHandler creates a new settings handler.
func NewSettingsHandler(store *config.Store, logger *slog.Logger) *SettingsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SettingsHandler{
		store:  store,
		logger: logger.With(slog.String("component", "api")),
	}
}

// SettingsResponse is the runtime-tunable slice of the configuration.
type SettingsResponse struct {
	AutoMode             bool `json:"auto_mode"`
	TranslateTitle       bool `json:"translate_title"`
	TranslateDescription bool `json:"translate_description"`
	GenerateTags         bool `json:"generate_tags"`
	RecommendPartition   bool `json:"recommend_partition"`
	ContentModeration    bool `json:"content_moderation"`
	SubtitleTranslation  bool `json:"subtitle_translation"`
	SubtitleEmbed        bool `json:"subtitle_embed"`
	SubtitleKeepOriginal bool `json:"subtitle_keep_original"`
	SpeechRecognition    bool `json:"speech_recognition"`
	MaxConcurrentTasks   int  `json:"max_concurrent_tasks"`
	MaxConcurrentUploads int  `json:"max_concurrent_uploads"`
}

func settingsFromConfig(cfg *config.Config) SettingsResponse {
	return SettingsResponse{
		AutoMode:             cfg.Features.AutoMode.Enabled(),
		TranslateTitle:       cfg.Features.TranslateTitle.Enabled(),
		TranslateDescription: cfg.Features.TranslateDescription.Enabled(),
		GenerateTags:         cfg.Features.GenerateTags.Enabled(),
		RecommendPartition:   cfg.Features.RecommendPartition.Enabled(),
		ContentModeration:    cfg.Features.ContentModeration.Enabled(),
		SubtitleTranslation:  cfg.Features.SubtitleTranslation.Enabled(),
		SubtitleEmbed:        cfg.Features.SubtitleEmbed.Enabled(),
		SubtitleKeepOriginal: cfg.Features.SubtitleKeepOriginal.Enabled(),
		SpeechRecognition:    cfg.Features.SpeechRecognition.Enabled(),
		MaxConcurrentTasks:   cfg.Pipeline.MaxConcurrentTasks,
		MaxConcurrentUploads: cfg.Pipeline.MaxConcurrentUploads,
	}
}

// UpdateSettingsRequest is a partial settings update; nil fields keep their
// current value.
type UpdateSettingsRequest struct {
	AutoMode             *bool `json:"auto_mode,omitempty"`
	TranslateTitle       *bool `json:"translate_title,omitempty"`
	TranslateDescription *bool `json:"translate_description,omitempty"`
	GenerateTags         *bool `json:"generate_tags,omitempty"`
	RecommendPartition   *bool `json:"recommend_partition,omitempty"`
	ContentModeration    *bool `json:"content_moderation,omitempty"`
	SubtitleTranslation  *bool `json:"subtitle_translation,omitempty"`
	SubtitleEmbed        *bool `json:"subtitle_embed,omitempty"`
	SubtitleKeepOriginal *bool `json:"subtitle_keep_original,omitempty"`
	SpeechRecognition    *bool `json:"speech_recognition,omitempty"`
	MaxConcurrentTasks   *int  `json:"max_concurrent_tasks,omitempty" minimum:"1" maximum:"16"`
	MaxConcurrentUploads *int  `json:"max_concurrent_uploads,omitempty" minimum:"1" maximum:"8"`
}

func (r UpdateSettingsRequest) apply(cfg *config.Config) {
	setBool := func(dst *config.Bool, src *bool) {
		if src != nil {
			*dst = config.Bool(*src)
		}
	}
	setBool(&cfg.Features.AutoMode, r.AutoMode)
	setBool(&cfg.Features.TranslateTitle, r.TranslateTitle)
	setBool(&cfg.Features.TranslateDescription, r.TranslateDescription)
	setBool(&cfg.Features.GenerateTags, r.GenerateTags)
	setBool(&cfg.Features.RecommendPartition, r.RecommendPartition)
	setBool(&cfg.Features.ContentModeration, r.ContentModeration)
	setBool(&cfg.Features.SubtitleTranslation, r.SubtitleTranslation)
	setBool(&cfg.Features.SubtitleEmbed, r.SubtitleEmbed)
	setBool(&cfg.Features.SubtitleKeepOriginal, r.SubtitleKeepOriginal)
	setBool(&cfg.Features.SpeechRecognition, r.SpeechRecognition)
	if r.MaxConcurrentTasks != nil {
		cfg.Pipeline.MaxConcurrentTasks = *r.MaxConcurrentTasks
	}
	if r.MaxConcurrentUploads != nil {
		cfg.Pipeline.MaxConcurrentUploads = *r.MaxConcurrentUploads
	}
}

// SettingsOutput is the output wrapper for settings responses.
type SettingsOutput struct {
	Body SettingsResponse
}

// UpdateSettingsInput is the input for the settings update endpoint.
type UpdateSettingsInput struct {
	Body UpdateSettingsRequest
}

// Register registers the settings routes with the API.
func (h *SettingsHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getSettings",
		Method:      "GET",
		Path:        "/api/settings",
		Summary:     "Get the runtime-tunable settings",
		Tags:        []string{"Settings"},
	}, h.Get)

	huma.Register(api, huma.Operation{
		OperationID: "updateSettings",
		Method:      "PUT",
		Path:        "/api/settings",
		Summary:     "Update feature flags and concurrency caps",
		Tags:        []string{"Settings"},
	}, h.Update)
}

// Get returns the current runtime settings.
func (h *SettingsHandler) Get(ctx context.Context, _ *struct{}) (*SettingsOutput, error) {
	return &SettingsOutput{Body: settingsFromConfig(h.store.Get())}, nil
}

// Update applies a partial settings edit and returns the new snapshot.
func (h *SettingsHandler) Update(ctx context.Context, input *UpdateSettingsInput) (*SettingsOutput, error) {
	next := h.store.Update(input.Body.apply)
	h.logger.Info("settings updated",
		slog.Int("max_concurrent_tasks", next.Pipeline.MaxConcurrentTasks),
		slog.Bool("auto_mode", next.Features.AutoMode.Enabled()))
	return &SettingsOutput{Body: settingsFromConfig(next)}, nil
}

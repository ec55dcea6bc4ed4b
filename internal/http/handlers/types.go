// Package handlers provides HTTP API handlers for repub.
package handlers

import (
	"time"

	"github.com/repub-dev/repub/internal/models"
)

// ActionResponse is the common result envelope for task mutations.
type ActionResponse struct {
	Success    bool   `json:"success"`
	Message    string `json:"message,omitempty"`
	TaskID     string `json:"task_id,omitempty"`
	AddedCount int    `json:"added_count,omitempty"`
	Count      int    `json:"count,omitempty"`
}

// TaskResponse represents a task in API responses.
type TaskResponse struct {
	ID                       models.ULID              `json:"id"`
	CreatedAt                time.Time                `json:"created_at"`
	UpdatedAt                time.Time                `json:"updated_at"`
	SourceURL                string                   `json:"source_url"`
	Status                   models.TaskStatus        `json:"status"`
	TitleOriginal            string                   `json:"title_original,omitempty"`
	TitleTranslated          string                   `json:"title_translated,omitempty"`
	DescriptionOriginal      string                   `json:"description_original,omitempty"`
	DescriptionTranslated    string                   `json:"description_translated,omitempty"`
	TagsGenerated            []string                 `json:"tags_generated,omitempty"`
	RecommendedCategoryID    string                   `json:"recommended_category_id,omitempty"`
	SelectedCategoryID       string                   `json:"selected_category_id,omitempty"`
	CoverPath                string                   `json:"cover_path,omitempty"`
	VideoPath                string                   `json:"video_path,omitempty"`
	SubtitleOriginalPath     string                   `json:"subtitle_original_path,omitempty"`
	SubtitleTranslatedPath   string                   `json:"subtitle_translated_path,omitempty"`
	SubtitleLanguageDetected string                   `json:"subtitle_language_detected,omitempty"`
	ModerationResult         *models.ModerationResult `json:"moderation_result,omitempty"`
	UploadProgress           string                   `json:"upload_progress,omitempty"`
	UploadResponse           *models.UploadResponse   `json:"upload_response,omitempty"`
	ErrorMessage             string                   `json:"error_message,omitempty"`
}

// TaskFromModel converts a model to a response.
func TaskFromModel(t *models.Task) TaskResponse {
	return TaskResponse{
		ID:                       t.ID,
		CreatedAt:                t.CreatedAt,
		UpdatedAt:                t.UpdatedAt,
		SourceURL:                t.SourceURL,
		Status:                   t.Status,
		TitleOriginal:            t.TitleOriginal,
		TitleTranslated:          t.TitleTranslated,
		DescriptionOriginal:      t.DescriptionOriginal,
		DescriptionTranslated:    t.DescriptionTranslated,
		TagsGenerated:            t.TagsGenerated,
		RecommendedCategoryID:    t.RecommendedCategoryID,
		SelectedCategoryID:       t.SelectedCategoryID,
		CoverPath:                t.CoverPath,
		VideoPath:                t.VideoPath,
		SubtitleOriginalPath:     t.SubtitleOriginalPath,
		SubtitleTranslatedPath:   t.SubtitleTranslatedPath,
		SubtitleLanguageDetected: t.SubtitleLanguageDetected,
		ModerationResult:         t.ModerationResult,
		UploadProgress:           t.UploadProgress,
		UploadResponse:           t.UploadResponse,
		ErrorMessage:             t.ErrorMessage,
	}
}

// TaskListResponse is the response for task listings.
type TaskListResponse struct {
	Tasks []TaskResponse `json:"tasks"`
	Total int            `json:"total"`
}

// SubmitTaskRequest is the request body for submitting a source URL.
type SubmitTaskRequest struct {
	SourceURL string `json:"source_url" doc:"Video or playlist URL to republish" minLength:"1" maxLength:"2048"`
}

// ReviewUpdateRequest is the request body for operator edits on a task
// awaiting review.
type ReviewUpdateRequest struct {
	SelectedCategoryID    *string `json:"selected_category_id,omitempty" doc:"Category to publish under, overrides the recommendation" maxLength:"32"`
	TitleTranslated       *string `json:"title_translated,omitempty" doc:"Edited publish title" maxLength:"1024"`
	DescriptionTranslated *string `json:"description_translated,omitempty" doc:"Edited publish description" maxLength:"8192"`
}

// MonitorConfigResponse represents a discovery config in API responses.
type MonitorConfigResponse struct {
	ID                models.ULID            `json:"id"`
	CreatedAt         time.Time              `json:"created_at"`
	UpdatedAt         time.Time              `json:"updated_at"`
	Name              string                 `json:"name"`
	Enabled           bool                   `json:"enabled"`
	Region            string                 `json:"region,omitempty"`
	CategoryID        string                 `json:"category_id,omitempty"`
	Keywords          string                 `json:"keywords,omitempty"`
	ExcludeKeywords   []string               `json:"exclude_keywords,omitempty"`
	ChannelIDs        []string               `json:"channel_ids,omitempty"`
	ExcludeChannels   []string               `json:"exclude_channels,omitempty"`
	TimeWindowDays    int                    `json:"time_window_days,omitempty"`
	StartDate         *time.Time             `json:"start_date,omitempty"`
	Order             models.MonitorOrder    `json:"order"`
	MaxResults        int                    `json:"max_results"`
	MinViewCount      int64                  `json:"min_view_count,omitempty"`
	MinLikeCount      int64                  `json:"min_like_count,omitempty"`
	MinCommentCount   int64                  `json:"min_comment_count,omitempty"`
	MinDurationSecs   int                    `json:"min_duration_secs,omitempty"`
	MaxDurationSecs   int                    `json:"max_duration_secs,omitempty"`
	Schedule          models.MonitorSchedule `json:"schedule"`
	IntervalMinutes   int                    `json:"interval_minutes"`
	MaxCallsPerWindow int                    `json:"max_calls_per_window"`
	WindowSeconds     int                    `json:"window_seconds"`
	AutoAddToTasks    bool                   `json:"auto_add_to_tasks"`
	LastRunTime       *time.Time             `json:"last_run_time,omitempty"`
}

// MonitorConfigFromModel converts a model to a response.
func MonitorConfigFromModel(c *models.MonitorConfig) MonitorConfigResponse {
	return MonitorConfigResponse{
		ID:                c.ID,
		CreatedAt:         c.CreatedAt,
		UpdatedAt:         c.UpdatedAt,
		Name:              c.Name,
		Enabled:           c.Enabled,
		Region:            c.Region,
		CategoryID:        c.CategoryID,
		Keywords:          c.Keywords,
		ExcludeKeywords:   c.ExcludeKeywords,
		ChannelIDs:        c.ChannelIDs,
		ExcludeChannels:   c.ExcludeChannels,
		TimeWindowDays:    c.TimeWindowDays,
		StartDate:         c.StartDate,
		Order:             c.Order,
		MaxResults:        c.MaxResults,
		MinViewCount:      c.MinViewCount,
		MinLikeCount:      c.MinLikeCount,
		MinCommentCount:   c.MinCommentCount,
		MinDurationSecs:   c.MinDurationSecs,
		MaxDurationSecs:   c.MaxDurationSecs,
		Schedule:          c.Schedule,
		IntervalMinutes:   c.IntervalMinutes,
		MaxCallsPerWindow: c.MaxCallsPerWindow,
		WindowSeconds:     c.WindowSeconds,
		AutoAddToTasks:    c.AutoAddToTasks,
		LastRunTime:       c.LastRunTime,
	}
}

// CreateMonitorConfigRequest is the request body for creating a discovery
// config.
type CreateMonitorConfigRequest struct {
	Name              string                 `json:"name" doc:"Name for the saved query" minLength:"1" maxLength:"255"`
	Enabled           *bool                  `json:"enabled,omitempty" doc:"Whether the config runs (default: true)"`
	Region            string                 `json:"region,omitempty" doc:"Region code for catalog searches" maxLength:"8"`
	CategoryID        string                 `json:"category_id,omitempty" doc:"Catalog category constraint" maxLength:"32"`
	Keywords          string                 `json:"keywords,omitempty" doc:"Free-text search keywords" maxLength:"1024"`
	ExcludeKeywords   []string               `json:"exclude_keywords,omitempty" doc:"Title substrings that reject a candidate"`
	ChannelIDs        []string               `json:"channel_ids,omitempty" doc:"Channels to list instead of keyword search"`
	ExcludeChannels   []string               `json:"exclude_channels,omitempty" doc:"Channel IDs or titles to reject"`
	TimeWindowDays    int                    `json:"time_window_days,omitempty" doc:"Rolling published-after window in days"`
	StartDate         *time.Time             `json:"start_date,omitempty" doc:"Explicit published-after cutoff, wins over the window"`
	Order             models.MonitorOrder    `json:"order,omitempty" doc:"Result ordering" enum:"date,viewCount"`
	MaxResults        *int                   `json:"max_results,omitempty" doc:"Max candidates per query (default: 10)"`
	MinViewCount      int64                  `json:"min_view_count,omitempty"`
	MinLikeCount      int64                  `json:"min_like_count,omitempty"`
	MinCommentCount   int64                  `json:"min_comment_count,omitempty"`
	MinDurationSecs   int                    `json:"min_duration_secs,omitempty"`
	MaxDurationSecs   int                    `json:"max_duration_secs,omitempty"`
	Schedule          models.MonitorSchedule `json:"schedule,omitempty" doc:"manual or auto" enum:"manual,auto"`
	IntervalMinutes   *int                   `json:"interval_minutes,omitempty" doc:"Auto-run interval (default: 60)"`
	MaxCallsPerWindow *int                   `json:"max_calls_per_window,omitempty" doc:"Catalog call cap per window (default: 50)"`
	WindowSeconds     *int                   `json:"window_seconds,omitempty" doc:"Rate-limit window length (default: 3600)"`
	AutoAddToTasks    bool                   `json:"auto_add_to_tasks,omitempty" doc:"Enqueue filtered results immediately"`
}

// ToModel converts the request to a model.
func (r *CreateMonitorConfigRequest) ToModel() *models.MonitorConfig {
	cfg := &models.MonitorConfig{
		Name:              r.Name,
		Enabled:           true,
		Region:            r.Region,
		CategoryID:        r.CategoryID,
		Keywords:          r.Keywords,
		ExcludeKeywords:   r.ExcludeKeywords,
		ChannelIDs:        r.ChannelIDs,
		ExcludeChannels:   r.ExcludeChannels,
		TimeWindowDays:    r.TimeWindowDays,
		StartDate:         r.StartDate,
		Order:             models.MonitorOrderDate,
		MaxResults:        10,
		MinViewCount:      r.MinViewCount,
		MinLikeCount:      r.MinLikeCount,
		MinCommentCount:   r.MinCommentCount,
		MinDurationSecs:   r.MinDurationSecs,
		MaxDurationSecs:   r.MaxDurationSecs,
		Schedule:          models.MonitorScheduleManual,
		IntervalMinutes:   60,
		MaxCallsPerWindow: 50,
		WindowSeconds:     3600,
		AutoAddToTasks:    r.AutoAddToTasks,
	}
	if r.Enabled != nil {
		cfg.Enabled = *r.Enabled
	}
	if r.Order != "" {
		cfg.Order = r.Order
	}
	if r.MaxResults != nil {
		cfg.MaxResults = *r.MaxResults
	}
	if r.Schedule != "" {
		cfg.Schedule = r.Schedule
	}
	if r.IntervalMinutes != nil {
		cfg.IntervalMinutes = *r.IntervalMinutes
	}
	if r.MaxCallsPerWindow != nil {
		cfg.MaxCallsPerWindow = *r.MaxCallsPerWindow
	}
	if r.WindowSeconds != nil {
		cfg.WindowSeconds = *r.WindowSeconds
	}
	return cfg
}

// UpdateMonitorConfigRequest is the request body for updating a discovery
// config.
type UpdateMonitorConfigRequest struct {
	Name              *string                 `json:"name,omitempty" maxLength:"255"`
	Enabled           *bool                   `json:"enabled,omitempty"`
	Region            *string                 `json:"region,omitempty" maxLength:"8"`
	CategoryID        *string                 `json:"category_id,omitempty" maxLength:"32"`
	Keywords          *string                 `json:"keywords,omitempty" maxLength:"1024"`
	ExcludeKeywords   []string                `json:"exclude_keywords,omitempty"`
	ChannelIDs        []string                `json:"channel_ids,omitempty"`
	ExcludeChannels   []string                `json:"exclude_channels,omitempty"`
	TimeWindowDays    *int                    `json:"time_window_days,omitempty"`
	StartDate         *time.Time              `json:"start_date,omitempty"`
	Order             *models.MonitorOrder    `json:"order,omitempty" enum:"date,viewCount"`
	MaxResults        *int                    `json:"max_results,omitempty"`
	MinViewCount      *int64                  `json:"min_view_count,omitempty"`
	MinLikeCount      *int64                  `json:"min_like_count,omitempty"`
	MinCommentCount   *int64                  `json:"min_comment_count,omitempty"`
	MinDurationSecs   *int                    `json:"min_duration_secs,omitempty"`
	MaxDurationSecs   *int                    `json:"max_duration_secs,omitempty"`
	Schedule          *models.MonitorSchedule `json:"schedule,omitempty" enum:"manual,auto"`
	IntervalMinutes   *int                    `json:"interval_minutes,omitempty"`
	MaxCallsPerWindow *int                    `json:"max_calls_per_window,omitempty"`
	WindowSeconds     *int                    `json:"window_seconds,omitempty"`
	AutoAddToTasks    *bool                   `json:"auto_add_to_tasks,omitempty"`
}

// ApplyToModel applies the update request to an existing model.
func (r *UpdateMonitorConfigRequest) ApplyToModel(c *models.MonitorConfig) {
	if r.Name != nil {
		c.Name = *r.Name
	}
	if r.Enabled != nil {
		c.Enabled = *r.Enabled
	}
	if r.Region != nil {
		c.Region = *r.Region
	}
	if r.CategoryID != nil {
		c.CategoryID = *r.CategoryID
	}
	if r.Keywords != nil {
		c.Keywords = *r.Keywords
	}
	if r.ExcludeKeywords != nil {
		c.ExcludeKeywords = r.ExcludeKeywords
	}
	if r.ChannelIDs != nil {
		c.ChannelIDs = r.ChannelIDs
	}
	if r.ExcludeChannels != nil {
		c.ExcludeChannels = r.ExcludeChannels
	}
	if r.TimeWindowDays != nil {
		c.TimeWindowDays = *r.TimeWindowDays
	}
	if r.StartDate != nil {
		c.StartDate = r.StartDate
	}
	if r.Order != nil {
		c.Order = *r.Order
	}
	if r.MaxResults != nil {
		c.MaxResults = *r.MaxResults
	}
	if r.MinViewCount != nil {
		c.MinViewCount = *r.MinViewCount
	}
	if r.MinLikeCount != nil {
		c.MinLikeCount = *r.MinLikeCount
	}
	if r.MinCommentCount != nil {
		c.MinCommentCount = *r.MinCommentCount
	}
	if r.MinDurationSecs != nil {
		c.MinDurationSecs = *r.MinDurationSecs
	}
	if r.MaxDurationSecs != nil {
		c.MaxDurationSecs = *r.MaxDurationSecs
	}
	if r.Schedule != nil {
		c.Schedule = *r.Schedule
	}
	if r.IntervalMinutes != nil {
		c.IntervalMinutes = *r.IntervalMinutes
	}
	if r.MaxCallsPerWindow != nil {
		c.MaxCallsPerWindow = *r.MaxCallsPerWindow
	}
	if r.WindowSeconds != nil {
		c.WindowSeconds = *r.WindowSeconds
	}
	if r.AutoAddToTasks != nil {
		c.AutoAddToTasks = *r.AutoAddToTasks
	}
}

// MonitorHistoryResponse represents one discovered video.
type MonitorHistoryResponse struct {
	ID           models.ULID `json:"id"`
	ConfigID     models.ULID `json:"config_id"`
	VideoID      string      `json:"video_id"`
	Title        string      `json:"title,omitempty"`
	ChannelID    string      `json:"channel_id,omitempty"`
	ChannelTitle string      `json:"channel_title,omitempty"`
	ViewCount    int64       `json:"view_count,omitempty"`
	LikeCount    int64       `json:"like_count,omitempty"`
	CommentCount int64       `json:"comment_count,omitempty"`
	DurationSecs int         `json:"duration_secs,omitempty"`
	PublishedAt  *time.Time  `json:"published_at,omitempty"`
	AddedToTasks bool        `json:"added_to_tasks"`
	DiscoveredAt time.Time   `json:"discovered_at"`
}

// MonitorHistoryFromModel converts a model to a response.
func MonitorHistoryFromModel(h *models.MonitorHistory) MonitorHistoryResponse {
	return MonitorHistoryResponse{
		ID:           h.ID,
		ConfigID:     h.ConfigID,
		VideoID:      h.VideoID,
		Title:        h.Title,
		ChannelID:    h.ChannelID,
		ChannelTitle: h.ChannelTitle,
		ViewCount:    h.ViewCount,
		LikeCount:    h.LikeCount,
		CommentCount: h.CommentCount,
		DurationSecs: h.DurationSecs,
		PublishedAt:  h.PublishedAt,
		AddedToTasks: h.AddedToTasks,
		DiscoveredAt: h.CreatedAt,
	}
}

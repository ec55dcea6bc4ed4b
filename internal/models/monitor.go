package models

import "time"

// MonitorSchedule selects how a discovery config runs.
type MonitorSchedule string

const (
	// MonitorScheduleManual means the config only runs when triggered.
	MonitorScheduleManual MonitorSchedule = "manual"
	// MonitorScheduleAuto means the config runs on its interval.
	MonitorScheduleAuto MonitorSchedule = "auto"
)

// MonitorOrder selects result ordering for catalog searches.
type MonitorOrder string

const (
	// MonitorOrderDate orders by recency.
	MonitorOrderDate MonitorOrder = "date"
	// MonitorOrderViewCount orders by popularity.
	MonitorOrderViewCount MonitorOrder = "viewCount"
)

// MonitorConfig is a persisted saved query on the external video catalog,
// with thresholds, schedule and a rate-limit window.
type MonitorConfig struct {
	BaseModel

	Name    string `gorm:"not null;size:255" json:"name"`
	Enabled bool   `gorm:"default:true" json:"enabled"`

	// Search parameters.
	Region          string   `gorm:"size:8" json:"region,omitempty"`
	CategoryID      string   `gorm:"size:32" json:"category_id,omitempty"`
	Keywords        string   `gorm:"size:1024" json:"keywords,omitempty"`
	ExcludeKeywords []string `gorm:"serializer:json;type:text" json:"exclude_keywords,omitempty"`
	ChannelIDs      []string `gorm:"serializer:json;type:text" json:"channel_ids,omitempty"`
	ExcludeChannels []string `gorm:"serializer:json;type:text" json:"exclude_channels,omitempty"`

	// Time window: either a rolling day count or an explicit start date.
	TimeWindowDays int        `json:"time_window_days,omitempty"`
	StartDate      *time.Time `json:"start_date,omitempty"`

	Order      MonitorOrder `gorm:"size:16;default:'date'" json:"order"`
	MaxResults int          `gorm:"default:10" json:"max_results"`

	// Thresholds.
	MinViewCount    int64 `json:"min_view_count,omitempty"`
	MinLikeCount    int64 `json:"min_like_count,omitempty"`
	MinCommentCount int64 `json:"min_comment_count,omitempty"`
	MinDurationSecs int   `json:"min_duration_secs,omitempty"`
	MaxDurationSecs int   `json:"max_duration_secs,omitempty"`

	// Schedule.
	Schedule        MonitorSchedule `gorm:"size:16;default:'manual'" json:"schedule"`
	IntervalMinutes int             `gorm:"default:60" json:"interval_minutes"`

	// Rate-limit window: at most MaxCallsPerWindow catalog API calls per
	// WindowSeconds; a run aborts remaining work when the cap is hit.
	MaxCallsPerWindow int `gorm:"default:50" json:"max_calls_per_window"`
	WindowSeconds     int `gorm:"default:3600" json:"window_seconds"`

	// AutoAddToTasks enqueues filtered results immediately.
	AutoAddToTasks bool `json:"auto_add_to_tasks"`

	LastRunTime *time.Time `json:"last_run_time,omitempty"`
}

// TableName returns the table name for MonitorConfig.
func (MonitorConfig) TableName() string {
	return "monitor_configs"
}

// MonitorHistory records one discovered video for one config. The pair
// (config_id, video_id) is unique: re-discovery never creates a duplicate.
type MonitorHistory struct {
	BaseModel

	ConfigID ULID   `gorm:"type:varchar(26);index:idx_monitor_history_config_video,unique;not null" json:"config_id"`
	VideoID  string `gorm:"size:32;index:idx_monitor_history_config_video,unique;not null" json:"video_id"`

	Title        string `gorm:"size:1024" json:"title,omitempty"`
	ChannelID    string `gorm:"size:64" json:"channel_id,omitempty"`
	ChannelTitle string `gorm:"size:255" json:"channel_title,omitempty"`

	ViewCount    int64 `json:"view_count,omitempty"`
	LikeCount    int64 `json:"like_count,omitempty"`
	CommentCount int64 `json:"comment_count,omitempty"`
	DurationSecs int   `json:"duration_secs,omitempty"`

	PublishedAt *time.Time `json:"published_at,omitempty"`

	AddedToTasks bool `json:"added_to_tasks"`
}

// TableName returns the table name for MonitorHistory.
func (MonitorHistory) TableName() string {
	return "monitor_history"
}

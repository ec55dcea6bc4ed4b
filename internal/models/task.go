package models

// TaskStatus represents the lifecycle state of a republishing task.
// The string values are wire-level: existing database rows written by the
// previous implementation use these exact literals.
type TaskStatus string

const (
	// TaskStatusPending indicates the task is waiting to be picked up.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusFetchingInfo indicates source metadata is being fetched.
	TaskStatusFetchingInfo TaskStatus = "fetching_info"
	// TaskStatusInfoFetched indicates metadata, cover and any embedded
	// subtitles have been written to the task directory.
	TaskStatusInfoFetched TaskStatus = "info_fetched"
	// TaskStatusTranslating indicates title/description translation is running.
	TaskStatusTranslating TaskStatus = "translating"
	// TaskStatusTagging indicates tag generation is running.
	TaskStatusTagging TaskStatus = "tagging"
	// TaskStatusPartitioning indicates target category classification is running.
	TaskStatusPartitioning TaskStatus = "partitioning"
	// TaskStatusModerating indicates text moderation is running.
	TaskStatusModerating TaskStatus = "moderating"
	// TaskStatusAwaitingReview indicates moderation failed and an operator
	// must force-upload or abandon the task.
	TaskStatusAwaitingReview TaskStatus = "awaiting_manual_review"
	// TaskStatusDownloading indicates the media download is running.
	TaskStatusDownloading TaskStatus = "downloading"
	// TaskStatusDownloaded indicates media is on disk.
	TaskStatusDownloaded TaskStatus = "downloaded"
	// TaskStatusTranscribing indicates speech recognition is running.
	TaskStatusTranscribing TaskStatus = "asr_transcribing"
	// TaskStatusTranslatingSubs indicates subtitle translation is running.
	TaskStatusTranslatingSubs TaskStatus = "translating_subtitle"
	// TaskStatusEncoding indicates subtitle burn-in is running.
	TaskStatusEncoding TaskStatus = "encoding_video"
	// TaskStatusReadyForUpload indicates all local processing is done.
	TaskStatusReadyForUpload TaskStatus = "ready_for_upload"
	// TaskStatusUploading indicates the chunked upload is in progress.
	TaskStatusUploading TaskStatus = "uploading"
	// TaskStatusCompleted is terminal: the post was published.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed is terminal: the last stage failed.
	TaskStatusFailed TaskStatus = "failed"
)

// IsTerminal returns true for states with no background work scheduled.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// IsInProgress returns true for states owned by a running pipeline worker.
// Pending, awaiting_manual_review, and ready_for_upload tasks are parked,
// not in progress: a task lands in ready_for_upload with no worker attached
// when no uploader is configured, and counting it against the scheduling
// cap would starve pending tasks behind it.
func (s TaskStatus) IsInProgress() bool {
	switch s {
	case TaskStatusFetchingInfo, TaskStatusInfoFetched, TaskStatusTranslating,
		TaskStatusTagging, TaskStatusPartitioning, TaskStatusModerating,
		TaskStatusDownloading, TaskStatusDownloaded, TaskStatusTranscribing,
		TaskStatusTranslatingSubs, TaskStatusEncoding, TaskStatusUploading:
		return true
	}
	return false
}

// InProgressStatuses lists every state counted against the task permit cap
// and eligible for the stuck-task reset sweep.
func InProgressStatuses() []TaskStatus {
	return []TaskStatus{
		TaskStatusFetchingInfo, TaskStatusInfoFetched, TaskStatusTranslating,
		TaskStatusTagging, TaskStatusPartitioning, TaskStatusModerating,
		TaskStatusDownloading, TaskStatusDownloaded, TaskStatusTranscribing,
		TaskStatusTranslatingSubs, TaskStatusEncoding, TaskStatusUploading,
	}
}

// ModerationDetail is one label returned by the moderation service.
type ModerationDetail struct {
	Label       string  `json:"label"`
	Description string  `json:"description,omitempty"`
	Confidence  float64 `json:"confidence,omitempty"`
	Suggestion  string  `json:"suggestion,omitempty"`
	Reason      string  `json:"reason,omitempty"`
}

// ModerationResult captures the per-field moderation outcome for a task.
type ModerationResult struct {
	OverallPass bool                          `json:"overall_pass"`
	Fields      map[string]bool               `json:"fields,omitempty"`
	Details     map[string][]ModerationDetail `json:"details,omitempty"`
}

// UploadResponse is the structured result of a successful publish.
type UploadResponse struct {
	ACNumber  string `json:"ac_number,omitempty"`
	VideoID   string `json:"video_id,omitempty"`
	CoverURL  string `json:"cover_url,omitempty"`
	ChannelID string `json:"channel_id,omitempty"`
}

// Task is one unit of republishing work targeting one source URL.
type Task struct {
	BaseModel

	// SourceURL is immutable after creation.
	SourceURL string `gorm:"not null;size:2048" json:"source_url"`

	Status TaskStatus `gorm:"not null;default:'pending';size:32;index" json:"status"`

	TitleOriginal         string `gorm:"size:1024" json:"title_original,omitempty"`
	TitleTranslated       string `gorm:"size:1024" json:"title_translated,omitempty"`
	DescriptionOriginal   string `gorm:"size:8192" json:"description_original,omitempty"`
	DescriptionTranslated string `gorm:"size:8192" json:"description_translated,omitempty"`

	// TagsGenerated is an ordered list of at most 6 short tags.
	TagsGenerated []string `gorm:"serializer:json;type:text" json:"tags_generated,omitempty"`

	// RecommendedCategoryID is the classifier suggestion; SelectedCategoryID,
	// when set by the operator, overrides it at upload time.
	RecommendedCategoryID string `gorm:"size:32" json:"recommended_category_id,omitempty"`
	SelectedCategoryID    string `gorm:"size:32" json:"selected_category_id,omitempty"`

	CoverPath    string `gorm:"size:1024" json:"cover_path,omitempty"`
	VideoPath    string `gorm:"size:1024" json:"video_path,omitempty"`
	MetadataPath string `gorm:"size:1024" json:"metadata_path,omitempty"`

	SubtitleOriginalPath     string `gorm:"size:1024" json:"subtitle_original_path,omitempty"`
	SubtitleTranslatedPath   string `gorm:"size:1024" json:"subtitle_translated_path,omitempty"`
	SubtitleLanguageDetected string `gorm:"size:16" json:"subtitle_language_detected,omitempty"`

	ModerationResult *ModerationResult `gorm:"serializer:json;type:text" json:"moderation_result,omitempty"`

	// UploadProgress is a free-form short status string for the UI, not a state.
	UploadProgress string `gorm:"size:255" json:"upload_progress,omitempty"`

	UploadResponse *UploadResponse `gorm:"serializer:json;type:text" json:"upload_response,omitempty"`

	// ErrorMessage holds the last failure reason; the full trace lives in the
	// per-task log file.
	ErrorMessage string `gorm:"size:4096" json:"error_message,omitempty"`
}

// TableName returns the table name for Task.
func (Task) TableName() string {
	return "tasks"
}

// UploadCategoryID returns the category to publish under: the operator's
// selection when present, else the classifier recommendation.
func (t *Task) UploadCategoryID() string {
	if t.SelectedCategoryID != "" {
		return t.SelectedCategoryID
	}
	return t.RecommendedCategoryID
}

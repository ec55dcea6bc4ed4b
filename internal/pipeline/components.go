package pipeline

import (
	"context"

	"github.com/repub-dev/repub/internal/asr"
	"github.com/repub-dev/repub/internal/downloader"
	"github.com/repub-dev/repub/internal/ffmpeg"
	"github.com/repub-dev/repub/internal/llm"
	"github.com/repub-dev/repub/internal/models"
	"github.com/repub-dev/repub/internal/subtitle"
	"github.com/repub-dev/repub/internal/uploader"
	"github.com/repub-dev/repub/internal/vad"
)

// The engine drives its collaborators through narrow interfaces so tests can
// substitute fakes. The concrete implementations live in their own packages.

// MediaFetcher retrieves source metadata and media.
type MediaFetcher interface {
	FetchInfo(ctx context.Context, url, taskDir string) error
	FetchVideo(ctx context.Context, url, taskDir string, onProgress func(downloader.Progress)) error
	ExpandPlaylist(ctx context.Context, url string) ([]string, error)
}

// MetadataLLM localizes the task's text fields.
type MetadataLLM interface {
	Configured() bool
	TranslateField(ctx context.Context, text, targetLang string, kind llm.FieldKind) (string, bool)
	GenerateTags(ctx context.Context, title, description string) []string
	ClassifyCategory(ctx context.Context, title, description string, catalog *llm.Catalog) (string, bool)
}

// Moderator screens text fields before publication.
type Moderator interface {
	ModerateText(ctx context.Context, text, service string) (bool, []models.ModerationDetail, error)
}

// SpeechDetector finds speech segments in a media file.
type SpeechDetector interface {
	Detect(ctx context.Context, mediaPath string) ([]vad.Segment, error)
}

// Transcriber turns speech segments into cues.
type Transcriber interface {
	TranscribeSegments(ctx context.Context, mediaPath string, segments []vad.Segment, workDir, language string) ([]asr.SegmentResult, error)
	DetectLanguage(ctx context.Context, mediaPath string, segments []vad.Segment, workDir string) string
}

// CueTranslator translates subtitle cues in place.
type CueTranslator interface {
	Translate(ctx context.Context, cues []subtitle.Cue) []subtitle.Cue
}

// SubtitleQC judges translated subtitle quality.
type SubtitleQC interface {
	Check(ctx context.Context, cues []subtitle.Cue) subtitle.QCResult
}

// Burner encodes subtitles into the video.
type Burner interface {
	BurnSubtitles(ctx context.Context, videoPath, subtitlePath, outputPath string, opts ffmpeg.EncodeOptions) error
}

// MediaProber reads media duration.
type MediaProber interface {
	Duration(ctx context.Context, path string) (float64, error)
}

// Publisher drives the sink site's chunked upload API.
type Publisher interface {
	UploadVideo(ctx context.Context, path string, progress uploader.ProgressFunc) (string, error)
	UploadCover(ctx context.Context, path string) (string, error)
	CreateDouga(ctx context.Context, req uploader.PublishRequest) (*models.UploadResponse, error)
}

// Components bundles the engine's collaborators. Nil entries disable the
// corresponding stage: a nil Uploader parks finished tasks in
// ready_for_upload, a nil Moderator skips moderation even when the feature
// flag is on.
type Components struct {
	Downloader    MediaFetcher
	LLM           MetadataLLM
	Catalog       *llm.Catalog
	Moderator     Moderator
	VAD           SpeechDetector
	ASR           Transcriber
	SubTranslator CueTranslator
	QC            SubtitleQC
	Encoder       Burner
	Prober        MediaProber
	Uploader      Publisher
}

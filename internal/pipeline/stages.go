package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/repub-dev/repub/internal/cover"
	"github.com/repub-dev/repub/internal/downloader"
	"github.com/repub-dev/repub/internal/ffmpeg"
	"github.com/repub-dev/repub/internal/llm"
	"github.com/repub-dev/repub/internal/models"
	"github.com/repub-dev/repub/internal/observability"
	"github.com/repub-dev/repub/internal/subtitle"
	"github.com/repub-dev/repub/internal/uploader"
)

const maxErrorReason = 300

// minUsableCues is the threshold below which a subtitle track is treated as
// noise (a lone credit line, a misfired ASR pass) rather than real dialogue.
const minUsableCues = 5

// run carries one task execution's working state.
type run struct {
	e   *Engine
	id  models.ULID
	dir string
	log *slog.Logger

	meta     *downloader.Metadata
	skipBurn bool
}

// runTask executes one task from the given entry point. Failures transition
// the row to failed; a parked run (manual review, no uploader) leaves it in
// its parked state.
func (e *Engine) runTask(ctx context.Context, id models.ULID, from entry) {
	r := &run{
		e:   e,
		id:  id,
		dir: e.config().Storage.TaskDir(id.String()),
		log: e.logger,
	}

	if tl, err := observability.OpenTaskLog(e.config().Logging, e.config().Storage.LogPath(), id.String(), e.logger); err == nil {
		r.log = tl.Logger
		defer tl.Close()
	}

	r.log.Info("task run starting", slog.Int("entry", int(from)))
	err := r.execute(ctx, from)
	switch {
	case err == nil:
		r.log.Info("task run finished")
	case errors.Is(err, errHalt):
		r.log.Info("task run parked")
	case errors.Is(err, errGone):
		r.log.Info("task deleted mid-run")
	default:
		reason := err.Error()
		if len(reason) > maxErrorReason {
			reason = reason[:maxErrorReason]
		}
		r.log.Error("task run failed", slog.Any("error", err))
		if uerr := e.repo.UpdateStatus(ctx, id, models.TaskStatusFailed, reason); uerr != nil {
			r.log.Error("recording task failure", slog.Any("error", uerr))
		}
	}
}

func (r *run) execute(ctx context.Context, from entry) error {
	if from == entryFull {
		if err := r.fetchInfo(ctx); err != nil {
			return err
		}
		if err := r.translateMeta(ctx); err != nil {
			return err
		}
		if err := r.generateTags(ctx); err != nil {
			return err
		}
		if err := r.classify(ctx); err != nil {
			return err
		}
		if err := r.moderate(ctx); err != nil {
			return err
		}
	}
	if from == entryFull || from == entryResume {
		if err := r.download(ctx); err != nil {
			return err
		}
		// Subtitle work never fails the task.
		if err := r.subtitles(ctx); err != nil && !errors.Is(err, errGone) {
			r.log.Warn("subtitle stage failed, continuing without subtitles", slog.Any("error", err))
		}
		if err := r.encode(ctx); err != nil {
			return err
		}
		if err := r.setStatus(ctx, models.TaskStatusReadyForUpload); err != nil {
			return err
		}
		if r.e.comp.Uploader == nil {
			r.log.Info("no uploader configured, task parked ready for upload")
			return errHalt
		}
	}
	return r.upload(ctx)
}

// reload fetches the current row, translating a deleted row to errGone.
func (r *run) reload(ctx context.Context) (*models.Task, error) {
	task, err := r.e.repo.GetByID(ctx, r.id)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, errGone
	}
	return task, nil
}

func (r *run) setStatus(ctx context.Context, status models.TaskStatus) error {
	if _, err := r.reload(ctx); err != nil {
		return err
	}
	r.log.Info("stage", slog.String("status", string(status)))
	return r.e.repo.UpdateStatus(ctx, r.id, status, "")
}

func (r *run) updateFields(ctx context.Context, fields map[string]any) error {
	if _, err := r.reload(ctx); err != nil {
		return err
	}
	return r.e.repo.UpdateFields(ctx, r.id, fields)
}

// loadMeta parses the task's metadata file, caching the result.
func (r *run) loadMeta() (*downloader.Metadata, error) {
	if r.meta != nil {
		return r.meta, nil
	}
	meta, err := downloader.LoadMetadata(r.dir)
	if err != nil {
		return nil, err
	}
	r.meta = meta
	return meta, nil
}

func (r *run) fetchInfo(ctx context.Context) error {
	task, err := r.reload(ctx)
	if err != nil {
		return err
	}
	if err := r.setStatus(ctx, models.TaskStatusFetchingInfo); err != nil {
		return err
	}
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return fmt.Errorf("creating task directory: %w", err)
	}

	if err := r.e.comp.Downloader.FetchInfo(ctx, task.SourceURL, r.dir); err != nil {
		return fmt.Errorf("fetching info: %w", err)
	}
	meta, err := r.loadMeta()
	if err != nil {
		return fmt.Errorf("reading metadata: %w", err)
	}

	fields := map[string]any{
		"status":         models.TaskStatusInfoFetched,
		"title_original": meta.Title,
		"error_message":  "",
	}
	if meta.Description != "" {
		fields["description_original"] = meta.Description
	}
	if matches, _ := filepath.Glob(filepath.Join(r.dir, "*.info.json")); len(matches) > 0 {
		fields["metadata_path"] = matches[0]
	}
	if cp := downloader.FindCover(r.dir); cp != "" {
		fields["cover_path"] = cp
	}
	return r.updateFields(ctx, fields)
}

func (r *run) translateMeta(ctx context.Context) error {
	flags := r.e.config().Features
	if (!flags.TranslateTitle.Enabled() && !flags.TranslateDescription.Enabled()) ||
		r.e.comp.LLM == nil || !r.e.comp.LLM.Configured() {
		return nil
	}
	task, err := r.reload(ctx)
	if err != nil {
		return err
	}
	if err := r.setStatus(ctx, models.TaskStatusTranslating); err != nil {
		return err
	}

	fields := map[string]any{}
	if flags.TranslateTitle.Enabled() && task.TitleOriginal != "" {
		if text, ok := r.e.comp.LLM.TranslateField(ctx, task.TitleOriginal, "", llm.FieldTitle); ok {
			fields["title_translated"] = text
		}
	}
	if flags.TranslateDescription.Enabled() && task.DescriptionOriginal != "" {
		if text, ok := r.e.comp.LLM.TranslateField(ctx, task.DescriptionOriginal, "", llm.FieldDescription); ok {
			fields["description_translated"] = text
		}
	}
	if len(fields) == 0 {
		return nil
	}
	return r.updateFields(ctx, fields)
}

func (r *run) generateTags(ctx context.Context) error {
	if !r.e.config().Features.GenerateTags.Enabled() || r.e.comp.LLM == nil || !r.e.comp.LLM.Configured() {
		return nil
	}
	task, err := r.reload(ctx)
	if err != nil {
		return err
	}
	if err := r.setStatus(ctx, models.TaskStatusTagging); err != nil {
		return err
	}

	tags := r.e.comp.LLM.GenerateTags(ctx, preferredTitle(task), preferredDescription(task))
	encoded, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("encoding tags: %w", err)
	}
	return r.updateFields(ctx, map[string]any{"tags_generated": string(encoded)})
}

func (r *run) classify(ctx context.Context) error {
	if !r.e.config().Features.RecommendPartition.Enabled() {
		return nil
	}
	task, err := r.reload(ctx)
	if err != nil {
		return err
	}
	if err := r.setStatus(ctx, models.TaskStatusPartitioning); err != nil {
		return err
	}

	if fixed := r.e.config().LLM.FixedCategoryID; fixed != "" {
		return r.updateFields(ctx, map[string]any{"recommended_category_id": fixed})
	}
	if r.e.comp.LLM == nil || !r.e.comp.LLM.Configured() {
		return nil
	}
	if id, ok := r.e.comp.LLM.ClassifyCategory(ctx, preferredTitle(task), preferredDescription(task), r.e.comp.Catalog); ok {
		return r.updateFields(ctx, map[string]any{"recommended_category_id": id})
	}
	r.log.Warn("category classification yielded no result")
	return nil
}

func (r *run) moderate(ctx context.Context) error {
	if !r.e.config().Features.ContentModeration.Enabled() || r.e.comp.Moderator == nil {
		return nil
	}
	task, err := r.reload(ctx)
	if err != nil {
		return err
	}
	if err := r.setStatus(ctx, models.TaskStatusModerating); err != nil {
		return err
	}

	texts := map[string]string{
		"title":       preferredTitle(task),
		"description": preferredDescription(task),
		"tags":        strings.Join(task.TagsGenerated, " "),
	}
	result := models.ModerationResult{
		OverallPass: true,
		Fields:      map[string]bool{},
		Details:     map[string][]models.ModerationDetail{},
	}
	for field, text := range texts {
		if strings.TrimSpace(text) == "" {
			result.Fields[field] = true
			continue
		}
		pass, details, err := r.e.comp.Moderator.ModerateText(ctx, text, r.e.config().Moderation.Service)
		if err != nil {
			return fmt.Errorf("moderating %s: %w", field, err)
		}
		result.Fields[field] = pass
		if len(details) > 0 {
			result.Details[field] = details
		}
		if !pass {
			result.OverallPass = false
		}
	}

	encoded, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encoding moderation result: %w", err)
	}
	fields := map[string]any{"moderation_result": string(encoded)}
	if !result.OverallPass {
		fields["status"] = models.TaskStatusAwaitingReview
		if err := r.updateFields(ctx, fields); err != nil {
			return err
		}
		r.log.Warn("moderation failed, awaiting manual review")
		return errHalt
	}
	return r.updateFields(ctx, fields)
}

func (r *run) download(ctx context.Context) error {
	task, err := r.reload(ctx)
	if err != nil {
		return err
	}
	if err := r.setStatus(ctx, models.TaskStatusDownloading); err != nil {
		return err
	}

	var lastPercent float64 = -1
	err = r.e.comp.Downloader.FetchVideo(ctx, task.SourceURL, r.dir, func(p downloader.Progress) {
		// Quiet progress writes, at most one per whole percent.
		if p.Percent-lastPercent < 1 {
			return
		}
		lastPercent = p.Percent
		_ = r.e.repo.UpdateProgress(ctx, r.id, fmt.Sprintf("downloading %.1f%%", p.Percent))
	})
	if err != nil {
		return fmt.Errorf("downloading video: %w", err)
	}

	videoPath := downloader.FindVideo(r.dir)
	if videoPath == "" {
		return fmt.Errorf("download finished but no video file in %s", r.dir)
	}
	fields := map[string]any{
		"status":          models.TaskStatusDownloaded,
		"video_path":      videoPath,
		"upload_progress": "",
	}
	if task.CoverPath == "" {
		if cp := downloader.FindCover(r.dir); cp != "" {
			fields["cover_path"] = cp
		}
	}
	return r.updateFields(ctx, fields)
}

// subtitles obtains cues (existing files or VAD+ASR), translates them, and
// runs QC. Any error here is non-fatal to the task.
func (r *run) subtitles(ctx context.Context) error {
	flags := r.e.config().Features
	if !flags.SubtitleTranslation.Enabled() {
		return nil
	}
	task, err := r.reload(ctx)
	if err != nil {
		return err
	}

	cues, language, origPath, err := r.obtainCues(ctx, task)
	if err != nil {
		return err
	}
	if len(cues) < minUsableCues {
		r.log.Info("no usable subtitle material found", slog.Int("cues", len(cues)))
		return nil
	}
	if origPath != "" {
		fields := map[string]any{"subtitle_original_path": origPath}
		if language != "" {
			fields["subtitle_language_detected"] = language
		}
		if err := r.updateFields(ctx, fields); err != nil {
			return err
		}
	}

	if r.e.comp.SubTranslator == nil {
		return nil
	}
	if strings.HasPrefix(language, "zh") {
		r.log.Info("subtitles already in target language, skipping translation")
		return nil
	}
	if err := r.setStatus(ctx, models.TaskStatusTranslatingSubs); err != nil {
		return err
	}

	translated := r.e.comp.SubTranslator.Translate(ctx, cues)

	if r.e.comp.QC != nil {
		res := r.e.comp.QC.Check(ctx, translated)
		if !res.Passed {
			// Keep the file for manual use but do not burn it in.
			r.skipBurn = true
			r.log.Warn("subtitle quality check failed",
				slog.Float64("score", res.Score), slog.String("reason", res.Reason))
		}
	}

	outPath := filepath.Join(r.dir, fmt.Sprintf("translated_%s.srt", r.id))
	if err := subtitle.WriteFile(outPath, translated); err != nil {
		return fmt.Errorf("writing translated subtitles: %w", err)
	}
	return r.updateFields(ctx, map[string]any{"subtitle_translated_path": outPath})
}

// obtainCues prefers subtitles shipped with the source video; otherwise,
// when speech recognition is enabled, synthesizes them via VAD and ASR.
func (r *run) obtainCues(ctx context.Context, task *models.Task) (cues []subtitle.Cue, language, origPath string, err error) {
	if existing := downloader.FindSubtitles(r.dir); len(existing) > 0 {
		path := existing[0]
		if strings.EqualFold(filepath.Ext(path), ".vtt") {
			srtPath := strings.TrimSuffix(path, filepath.Ext(path)) + ".srt"
			if err := subtitle.ConvertVTTFile(path, srtPath); err != nil {
				return nil, "", "", fmt.Errorf("converting subtitles: %w", err)
			}
			path = srtPath
		}
		cues, err := subtitle.ReadFile(path)
		if err != nil {
			return nil, "", "", fmt.Errorf("reading subtitles: %w", err)
		}
		return cues, languageFromName(existing[0]), path, nil
	}

	if !r.e.config().Features.SpeechRecognition.Enabled() || r.e.comp.VAD == nil || r.e.comp.ASR == nil {
		return nil, "", "", nil
	}
	return r.transcribe(ctx, task)
}

func (r *run) transcribe(ctx context.Context, task *models.Task) (cues []subtitle.Cue, language, origPath string, err error) {
	if err := r.setStatus(ctx, models.TaskStatusTranscribing); err != nil {
		return nil, "", "", err
	}

	segments, err := r.e.comp.VAD.Detect(ctx, task.VideoPath)
	if err != nil {
		return nil, "", "", fmt.Errorf("voice activity detection: %w", err)
	}
	if len(segments) == 0 {
		return nil, "", "", nil
	}

	language = r.e.comp.ASR.DetectLanguage(ctx, task.VideoPath, segments, r.dir)
	results, err := r.e.comp.ASR.TranscribeSegments(ctx, task.VideoPath, segments, r.dir, language)
	if err != nil {
		return nil, "", "", fmt.Errorf("transcribing: %w", err)
	}

	groups := make([][]subtitle.Cue, 0, len(results))
	offsets := make([]time.Duration, 0, len(results))
	for _, res := range results {
		if res.Err != nil || len(res.Cues) == 0 {
			continue
		}
		groups = append(groups, res.Cues)
		offsets = append(offsets, time.Duration(res.Segment.Start*float64(time.Second)))
	}
	cues = subtitle.Calibrate(groups, offsets)
	cues = subtitle.CleanCues(cues, subtitle.NormalizeOptions{SpaceAfterPunct: true, RemoveFillers: true})
	cues = subtitle.SuppressEcho(cues, 5*time.Second)
	cues = subtitle.ResolveOverlaps(cues)
	cues = subtitle.SplitLongCues(cues, subtitle.DefaultSplitOptions())

	total := r.mediaDuration(ctx, task.VideoPath)
	cues = subtitle.Finalize(cues, subtitle.DefaultFinalizeOptions(total))

	origPath = filepath.Join(r.dir, fmt.Sprintf("asr_%s.srt", r.id))
	if err := subtitle.WriteFile(origPath, cues); err != nil {
		return nil, "", "", fmt.Errorf("writing transcript: %w", err)
	}
	return cues, language, origPath, nil
}

func (r *run) mediaDuration(ctx context.Context, videoPath string) time.Duration {
	if r.e.comp.Prober != nil {
		if d, err := r.e.comp.Prober.Duration(ctx, videoPath); err == nil && d > 0 {
			return time.Duration(d * float64(time.Second))
		}
	}
	if meta, err := r.loadMeta(); err == nil && meta.Duration > 0 {
		return time.Duration(meta.Duration * float64(time.Second))
	}
	return 0
}

func (r *run) encode(ctx context.Context) error {
	if !r.e.config().Features.SubtitleEmbed.Enabled() || r.skipBurn || r.e.comp.Encoder == nil {
		return nil
	}
	task, err := r.reload(ctx)
	if err != nil {
		return err
	}

	srtPath := task.SubtitleTranslatedPath
	if srtPath == "" && r.e.config().Features.SubtitleKeepOriginal.Enabled() {
		srtPath = task.SubtitleOriginalPath
	}
	if srtPath == "" || task.VideoPath == "" {
		return nil
	}
	if err := r.setStatus(ctx, models.TaskStatusEncoding); err != nil {
		return err
	}

	outPath := filepath.Join(r.dir, "video_with_subtitle.mp4")
	opts := ffmpeg.EncodeOptions{
		Backend:  ffmpeg.Backend(r.e.config().Encoder.Backend),
		FontPath: r.e.config().Storage.FontPath,
		OnProgress: func(percent float64) {
			_ = r.e.repo.UpdateProgress(ctx, r.id, fmt.Sprintf("encoding %.0f%%", percent))
		},
	}
	if err := r.e.comp.Encoder.BurnSubtitles(ctx, task.VideoPath, srtPath, outPath, opts); err != nil {
		// Burn-in failure falls back to the unburned video.
		r.log.Warn("subtitle burn-in failed, uploading without embedded subtitles", slog.Any("error", err))
		return nil
	}
	return r.updateFields(ctx, map[string]any{
		"video_path":      outPath,
		"upload_progress": "",
	})
}

func (r *run) upload(ctx context.Context) error {
	if r.e.comp.Uploader == nil {
		return errHalt
	}
	task, err := r.reload(ctx)
	if err != nil {
		return err
	}

	category := task.SelectedCategoryID
	if category == "" {
		category = task.RecommendedCategoryID
	}
	if category == "" {
		return fmt.Errorf("no category selected for upload")
	}

	if err := r.e.uploadPermits.Acquire(ctx, 1); err != nil {
		return err
	}
	defer r.e.uploadPermits.Release(1)

	if err := r.setStatus(ctx, models.TaskStatusUploading); err != nil {
		return err
	}

	coverURL := r.uploadCover(ctx, task)

	videoID, err := r.e.comp.Uploader.UploadVideo(ctx, task.VideoPath, func(sent, total int64) {
		if total <= 0 {
			return
		}
		_ = r.e.repo.UpdateProgress(ctx, r.id, fmt.Sprintf("uploading %.1f%%", float64(sent)*100/float64(total)))
	})
	if err != nil {
		return fmt.Errorf("uploading video: %w", err)
	}

	resp, err := r.e.comp.Uploader.CreateDouga(ctx, uploader.PublishRequest{
		Title:       preferredTitle(task),
		Description: r.publishDescription(task),
		Tags:        task.TagsGenerated,
		ChannelID:   category,
		CoverURL:    coverURL,
		VideoID:     videoID,
		OriginalURL: task.SourceURL,
	})
	if err != nil {
		return fmt.Errorf("publishing: %w", err)
	}

	encoded, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encoding upload response: %w", err)
	}
	r.log.Info("task published", slog.String("ac_number", resp.ACNumber))
	return r.updateFields(ctx, map[string]any{
		"status":          models.TaskStatusCompleted,
		"upload_response": string(encoded),
		"upload_progress": "",
		"error_message":   "",
	})
}

// uploadCover normalizes and uploads the cover. Covers are best-effort: a
// failure logs and publishes without one.
func (r *run) uploadCover(ctx context.Context, task *models.Task) string {
	if task.CoverPath == "" {
		return ""
	}
	if err := cover.Process(task.CoverPath, task.CoverPath, cover.ModeCrop); err != nil {
		r.log.Warn("cover normalization failed", slog.Any("error", err))
		return ""
	}
	url, err := r.e.comp.Uploader.UploadCover(ctx, task.CoverPath)
	if err != nil {
		r.log.Warn("cover upload failed", slog.Any("error", err))
		return ""
	}
	return url
}

// publishDescription augments the description with the provenance block.
func (r *run) publishDescription(task *models.Task) string {
	p := uploader.Provenance{SourceURL: task.SourceURL}
	if meta, err := r.loadMeta(); err == nil {
		p.Uploader = meta.UploaderName()
		p.UploadDate = formatUploadDate(meta.UploadDate)
		p.OriginalDescription = meta.Description
	} else if task.DescriptionOriginal != "" {
		p.OriginalDescription = task.DescriptionOriginal
	}
	return uploader.BuildDescription(task.DescriptionTranslated, p)
}

func preferredTitle(task *models.Task) string {
	if task.TitleTranslated != "" {
		return task.TitleTranslated
	}
	return task.TitleOriginal
}

func preferredDescription(task *models.Task) string {
	if task.DescriptionTranslated != "" {
		return task.DescriptionTranslated
	}
	return task.DescriptionOriginal
}

// formatUploadDate converts the source's YYYYMMDD into YYYY-MM-DD.
func formatUploadDate(d string) string {
	if len(d) != 8 {
		return d
	}
	return d[:4] + "-" + d[4:6] + "-" + d[6:]
}

// languageFromName extracts the language hint from a subtitle filename like
// "abc.en.vtt".
func languageFromName(path string) string {
	base := filepath.Base(path)
	parts := strings.Split(base, ".")
	if len(parts) < 3 {
		return ""
	}
	lang := strings.ToLower(parts[len(parts)-2])
	if len(lang) > 10 {
		return ""
	}
	return lang
}

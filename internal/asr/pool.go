package asr

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/repub-dev/repub/internal/ffmpeg"
	"github.com/repub-dev/repub/internal/subtitle"
	"github.com/repub-dev/repub/internal/vad"
)

const defaultWorkers = 3

// SegmentResult is the transcription of one speech window. Cue timestamps
// are relative to the segment start; the caller calibrates them to clip
// time with the segment offsets.
type SegmentResult struct {
	Index   int
	Segment vad.Segment
	Cues    []subtitle.Cue
	Err     error
}

// SegmentTranscriber fans speech windows out over a fixed worker pool.
type SegmentTranscriber struct {
	client    *Client
	extractor *ffmpeg.AudioExtractor
	workers   int
	logger    *slog.Logger
}

// NewSegmentTranscriber creates a SegmentTranscriber. workers <= 0 uses the
// default pool size.
func NewSegmentTranscriber(client *Client, extractor *ffmpeg.AudioExtractor, workers int, logger *slog.Logger) *SegmentTranscriber {
	if workers <= 0 {
		workers = defaultWorkers
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SegmentTranscriber{
		client:    client,
		extractor: extractor,
		workers:   workers,
		logger:    logger.With("component", "asr-pool"),
	}
}

// failureCutoff aborts the batch once failures exceed max(5, total/2).
func failureCutoff(total int) int {
	cutoff := total / 2
	if cutoff < 5 {
		cutoff = 5
	}
	return cutoff
}

// TranscribeSegments extracts each window as a WAV clip under workDir and
// transcribes them concurrently. When too many windows fail the remaining
// work is cancelled and the batch is reported as failed.
func (s *SegmentTranscriber) TranscribeSegments(ctx context.Context, mediaPath string, segments []vad.Segment, workDir, language string) ([]SegmentResult, error) {
	if len(segments) == 0 {
		return nil, nil
	}
	cutoff := failureCutoff(len(segments))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]SegmentResult, len(segments))
	var failures atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, seg := range segments {
		i, seg := i, seg
		g.Go(func() error {
			if gctx.Err() != nil {
				results[i] = SegmentResult{Index: i, Segment: seg, Err: gctx.Err()}
				return nil
			}
			res, err := s.transcribeOne(gctx, mediaPath, seg, workDir, language, i)
			results[i] = SegmentResult{Index: i, Segment: seg, Cues: res, Err: err}
			if err != nil {
				s.logger.Warn("segment transcription failed",
					"segment", i, "start", seg.Start, "error", err)
				if failures.Add(1) > int64(cutoff) {
					cancel()
				}
			}
			return nil
		})
	}
	g.Wait()

	if int(failures.Load()) > cutoff {
		return nil, fmt.Errorf("transcription batch failed: %d of %d segments errored", failures.Load(), len(segments))
	}
	return results, nil
}

func (s *SegmentTranscriber) transcribeOne(ctx context.Context, mediaPath string, seg vad.Segment, workDir, language string, idx int) ([]subtitle.Cue, error) {
	clipPath := filepath.Join(workDir, fmt.Sprintf("asr_clip_%04d.wav", idx))
	defer os.Remove(clipPath)

	start := time.Duration(seg.Start * float64(time.Second))
	dur := time.Duration(seg.Duration() * float64(time.Second))
	if err := s.extractor.ExtractWAVClip(ctx, mediaPath, start, dur, clipPath); err != nil {
		return nil, err
	}

	result, err := s.client.Transcribe(ctx, clipPath, seg.Duration(), language)
	if err != nil {
		return nil, err
	}
	return result.Cues, nil
}

// DetectLanguage probes the first and last windows and adopts a language
// only when both probes agree. Empty and "unknown" answers are discarded.
func (s *SegmentTranscriber) DetectLanguage(ctx context.Context, mediaPath string, segments []vad.Segment, workDir string) string {
	if len(segments) == 0 {
		return ""
	}
	first := s.probeLanguage(ctx, mediaPath, segments[0], workDir, "lang_probe_first")
	if first == "" {
		return ""
	}
	if len(segments) == 1 {
		return first
	}
	last := s.probeLanguage(ctx, mediaPath, segments[len(segments)-1], workDir, "lang_probe_last")
	if first != last {
		s.logger.Info("language probes disagree, leaving hint unset",
			"first", first, "last", last)
		return ""
	}
	return first
}

func (s *SegmentTranscriber) probeLanguage(ctx context.Context, mediaPath string, seg vad.Segment, workDir, name string) string {
	clipPath := filepath.Join(workDir, name+".wav")
	defer os.Remove(clipPath)

	start := time.Duration(seg.Start * float64(time.Second))
	dur := time.Duration(seg.Duration() * float64(time.Second))
	if err := s.extractor.ExtractWAVClip(ctx, mediaPath, start, dur, clipPath); err != nil {
		return ""
	}
	result, err := s.client.Transcribe(ctx, clipPath, seg.Duration(), "")
	if err != nil {
		return ""
	}
	lang := strings.ToLower(strings.TrimSpace(result.Language))
	if lang == "unknown" {
		return ""
	}
	return lang
}

// Package vad produces broad speech windows for the ASR stage. Detection is
// delegated to a remote Silero-compatible service; the windows are search
// regions, not subtitle cues, so post-processing is deliberately lenient.
package vad

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/repub-dev/repub/internal/config"
	"github.com/repub-dev/repub/internal/ffmpeg"
	"github.com/repub-dev/repub/pkg/httpclient"
)

// Segment is one detected speech region in seconds from clip start.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Duration returns the segment length in seconds.
func (s Segment) Duration() float64 { return s.End - s.Start }

// Lenient post-processing constraints.
const (
	mergeGapSeconds   = 1.0
	minSpeechSeconds  = 1.0
	maxSegmentFloor   = 60.0
	defaultPadMillis  = 500
	defaultWindowSecs = 25.0
	defaultOverlap    = 0.2
)

// session is the process-wide transport, initialized lazily under a mutex.
// Detection calls are large (raw sample arrays), so one shared client with
// generous timeouts is reused across all tasks.
var (
	sessionMu sync.Mutex
	session   *httpclient.Client
)

func getSession(logger *slog.Logger) *httpclient.Client {
	sessionMu.Lock()
	defer sessionMu.Unlock()
	if session == nil {
		cfg := httpclient.DefaultConfig()
		cfg.Timeout = 2 * time.Minute
		cfg.Logger = logger
		session = httpclient.New(cfg)
	}
	return session
}

// ResetSession drops the shared transport. Test hook.
func ResetSession() {
	sessionMu.Lock()
	defer sessionMu.Unlock()
	session = nil
}

// Processor runs detection over a media file.
type Processor struct {
	cfg       config.VADConfig
	extractor *ffmpeg.AudioExtractor
	logger    *slog.Logger
}

// NewProcessor creates a Processor.
func NewProcessor(cfg config.VADConfig, extractor *ffmpeg.AudioExtractor, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{cfg: cfg, extractor: extractor, logger: logger.With("component", "vad")}
}

// Detect decodes the file to 16 kHz mono and returns padded, merged speech
// windows in global clip time.
func (p *Processor) Detect(ctx context.Context, mediaPath string) ([]Segment, error) {
	samples, err := p.extractor.ExtractFloat32(ctx, mediaPath)
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, nil
	}

	total := float64(len(samples)) / ffmpeg.SpeechSampleRate
	window := p.cfg.WindowSeconds
	if window <= 0 {
		window = defaultWindowSecs
	}
	overlap := p.cfg.OverlapSeconds
	if overlap <= 0 {
		overlap = defaultOverlap
	}

	var raw []Segment
	if total <= window {
		raw, err = p.detectChunk(ctx, samples, 0)
		if err != nil {
			return nil, err
		}
	} else {
		step := window - overlap
		for offset := 0.0; offset < total; offset += step {
			startIdx := int(offset * ffmpeg.SpeechSampleRate)
			endIdx := int((offset + window) * ffmpeg.SpeechSampleRate)
			if endIdx > len(samples) {
				endIdx = len(samples)
			}
			segs, err := p.detectChunk(ctx, samples[startIdx:endIdx], offset)
			if err != nil {
				return nil, err
			}
			raw = append(raw, segs...)
			if endIdx == len(samples) {
				break
			}
		}
	}

	out := postProcess(raw, p.options(), total)
	p.logger.Info("speech detection complete",
		"duration", total, "raw_segments", len(raw), "windows", len(out))
	return out, nil
}

type processOptions struct {
	padSeconds float64
	maxSegment float64
}

func (p *Processor) options() processOptions {
	pad := float64(p.cfg.PadMillis) / 1000
	if pad < float64(defaultPadMillis)/1000 {
		pad = float64(defaultPadMillis) / 1000
	}
	maxSeg := p.cfg.MaxSegment
	if maxSeg < maxSegmentFloor {
		maxSeg = maxSegmentFloor
	}
	return processOptions{padSeconds: pad, maxSegment: maxSeg}
}

// detection wire types, Silero-compatible.
type detectRequest struct {
	Samples    []float32 `json:"samples"`
	SampleRate int       `json:"sample_rate"`
}

type detectResponse struct {
	Segments []Segment `json:"segments"`
}

// detectChunk calls the remote service for one window and shifts the
// results to global time.
func (p *Processor) detectChunk(ctx context.Context, samples []float32, offset float64) ([]Segment, error) {
	body, err := json.Marshal(detectRequest{Samples: samples, SampleRate: ffmpeg.SpeechSampleRate})
	if err != nil {
		return nil, err
	}

	client := getSession(p.logger)
	header := http.Header{"Content-Type": []string{"application/json"}}
	resp, err := client.DoWithBody(ctx, http.MethodPost, p.cfg.Endpoint, body, header)
	if err != nil {
		return nil, fmt.Errorf("calling vad service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("vad service returned %d: %s", resp.StatusCode, payload)
	}

	var parsed detectResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("parsing vad response: %w", err)
	}

	out := make([]Segment, 0, len(parsed.Segments))
	for _, s := range parsed.Segments {
		out = append(out, Segment{Start: s.Start + offset, End: s.End + offset})
	}
	return out, nil
}

// postProcess pads, merges, absorbs fragments, and splits oversized
// segments, clamping everything into [0, total].
func postProcess(segments []Segment, opts processOptions, total float64) []Segment {
	if len(segments) == 0 {
		return nil
	}

	padded := make([]Segment, 0, len(segments))
	for _, s := range segments {
		s.Start -= opts.padSeconds
		s.End += opts.padSeconds
		if s.Start < 0 {
			s.Start = 0
		}
		if total > 0 && s.End > total {
			s.End = total
		}
		if s.End <= s.Start {
			continue
		}
		padded = append(padded, s)
	}
	if len(padded) == 0 {
		return nil
	}
	sort.Slice(padded, func(i, j int) bool { return padded[i].Start < padded[j].Start })

	merged := mergeClose(padded, mergeGapSeconds)
	merged = absorbShort(merged, minSpeechSeconds)
	return splitLong(merged, opts.maxSegment)
}

// mergeClose joins segments whose gap is under the threshold.
func mergeClose(segments []Segment, gap float64) []Segment {
	out := []Segment{segments[0]}
	for _, s := range segments[1:] {
		last := &out[len(out)-1]
		if s.Start-last.End < gap {
			if s.End > last.End {
				last.End = s.End
			}
			continue
		}
		out = append(out, s)
	}
	return out
}

// absorbShort merges sub-minimum segments into their nearest neighbor.
func absorbShort(segments []Segment, minLen float64) []Segment {
	for {
		idx := -1
		for i, s := range segments {
			if s.Duration() < minLen {
				idx = i
				break
			}
		}
		if idx == -1 || len(segments) == 1 {
			return segments
		}

		// Pick the neighbor with the smaller gap.
		mergeLeft := false
		switch {
		case idx == 0:
		case idx == len(segments)-1:
			mergeLeft = true
		default:
			leftGap := segments[idx].Start - segments[idx-1].End
			rightGap := segments[idx+1].Start - segments[idx].End
			mergeLeft = leftGap <= rightGap
		}

		if mergeLeft {
			segments[idx-1].End = segments[idx].End
			segments = append(segments[:idx], segments[idx+1:]...)
		} else {
			segments[idx+1].Start = segments[idx].Start
			segments = append(segments[:idx], segments[idx+1:]...)
		}
	}
}

// splitLong cuts segments above maxLen at hard boundaries.
func splitLong(segments []Segment, maxLen float64) []Segment {
	var out []Segment
	for _, s := range segments {
		for s.Duration() > maxLen {
			out = append(out, Segment{Start: s.Start, End: s.Start + maxLen})
			s.Start += maxLen
		}
		out = append(out, s)
	}
	return out
}

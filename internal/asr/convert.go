package asr

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/repub-dev/repub/internal/subtitle"
)

// verboseTranscript is the Whisper verbose_json shape.
type verboseTranscript struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

// scaleCandidates covers servers that return seconds, milliseconds, or
// centiseconds in the same field.
var scaleCandidates = []float64{1, 0.001, 0.01}

// parseVerboseJSON converts a verbose_json payload into cues. Timestamp
// scale is inferred against the known clip duration. A payload with only
// flat text becomes a single cue spanning the clip.
func parseVerboseJSON(payload []byte, clipDuration float64) (*Result, error) {
	var t verboseTranscript
	if err := json.Unmarshal(payload, &t); err != nil {
		return nil, fmt.Errorf("parsing verbose_json transcription: %w", err)
	}

	if len(t.Segments) == 0 {
		text := strings.TrimSpace(t.Text)
		if text == "" {
			return nil, fmt.Errorf("empty transcription")
		}
		return &Result{
			Language: t.Language,
			Cues: []subtitle.Cue{{
				Start: 0,
				End:   time.Duration(clipDuration * float64(time.Second)),
				Text:  text,
			}},
		}, nil
	}

	maxEnd := 0.0
	for _, s := range t.Segments {
		if s.End > maxEnd {
			maxEnd = s.End
		}
	}
	scale := inferScale(maxEnd, clipDuration)

	var cues []subtitle.Cue
	for _, s := range t.Segments {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		cues = append(cues, subtitle.Cue{
			Start: time.Duration(s.Start * scale * float64(time.Second)),
			End:   time.Duration(s.End * scale * float64(time.Second)),
			Text:  text,
		})
	}
	if len(cues) == 0 {
		return nil, fmt.Errorf("empty transcription")
	}
	return &Result{Cues: cues, Language: t.Language}, nil
}

// inferScale picks the multiplier whose scaled max-end lands in
// [0.5d, 1.5d]; when none does, the closest wins.
func inferScale(maxEnd, clipDuration float64) float64 {
	if clipDuration <= 0 || maxEnd <= 0 {
		return 1
	}
	best := scaleCandidates[0]
	bestDist := math.MaxFloat64
	for _, s := range scaleCandidates {
		scaled := maxEnd * s
		if scaled >= 0.5*clipDuration && scaled <= 1.5*clipDuration {
			return s
		}
		dist := math.Abs(scaled - clipDuration)
		if dist < bestDist {
			bestDist = dist
			best = s
		}
	}
	return best
}

package ffmpeg

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os/exec"
	"time"
)

// SpeechSampleRate is the sample rate speech models expect.
const SpeechSampleRate = 16000

// AudioExtractor decodes media audio via ffmpeg for the speech stages.
type AudioExtractor struct {
	locator *Locator
}

// NewAudioExtractor creates an AudioExtractor.
func NewAudioExtractor(locator *Locator) *AudioExtractor {
	return &AudioExtractor{locator: locator}
}

// ExtractFloat32 decodes the whole file to 16 kHz mono float32 samples
// in [-1, 1].
func (a *AudioExtractor) ExtractFloat32(ctx context.Context, path string) ([]float32, error) {
	ffmpeg, err := a.locator.FFmpeg(ctx)
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, ffmpeg,
		"-v", "quiet",
		"-i", path,
		"-vn",
		"-ac", "1",
		"-ar", fmt.Sprint(SpeechSampleRate),
		"-f", "f32le",
		"pipe:1",
	)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("decoding audio from %s: %w", path, err)
	}

	raw := out.Bytes()
	samples := make([]float32, len(raw)/4)
	for i := range samples {
		bits := binary.LittleEndian.Uint32(raw[i*4:])
		samples[i] = math.Float32frombits(bits)
	}
	return samples, nil
}

// ExtractWAVClip writes the [start, start+duration) region as a 16 kHz mono
// 16-bit WAV suitable for a transcription upload.
func (a *AudioExtractor) ExtractWAVClip(ctx context.Context, path string, start, duration time.Duration, outPath string) error {
	ffmpeg, err := a.locator.FFmpeg(ctx)
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, ffmpeg,
		"-v", "quiet",
		"-y",
		"-ss", fmt.Sprintf("%.3f", start.Seconds()),
		"-t", fmt.Sprintf("%.3f", duration.Seconds()),
		"-i", path,
		"-vn",
		"-ac", "1",
		"-ar", fmt.Sprint(SpeechSampleRate),
		"-c:a", "pcm_s16le",
		outPath,
	)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("extracting clip from %s: %w", path, err)
	}
	return nil
}

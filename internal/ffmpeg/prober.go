package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// probeTimeout caps a single ffprobe invocation.
const probeTimeout = 45 * time.Second

// MediaInfo describes the streams the encoder cares about.
type MediaInfo struct {
	Duration        float64 `json:"duration"`
	Width           int     `json:"width"`
	Height          int     `json:"height"`
	FrameRate       float64 `json:"frame_rate"`
	PixelFormat     string  `json:"pixel_format"`
	VideoCodec      string  `json:"video_codec"`
	AudioCodec      string  `json:"audio_codec"`
	AudioSampleRate int     `json:"audio_sample_rate"`
}

// Is10Bit reports whether the source uses a 10-bit pixel format.
func (m *MediaInfo) Is10Bit() bool {
	return strings.Contains(m.PixelFormat, "10le") || strings.Contains(m.PixelFormat, "10be")
}

// Prober runs ffprobe against local media files.
type Prober struct {
	locator *Locator
}

// NewProber creates a Prober using the given locator.
func NewProber(locator *Locator) *Prober {
	return &Prober{locator: locator}
}

// ffprobe JSON shapes, reduced to the fields we read.
type probeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType    string `json:"codec_type"`
		CodecName    string `json:"codec_name"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		PixFmt       string `json:"pix_fmt"`
		RFrameRate   string `json:"r_frame_rate"`
		AvgFrameRate string `json:"avg_frame_rate"`
		SampleRate   string `json:"sample_rate"`
		Duration     string `json:"duration"`
	} `json:"streams"`
}

// Probe inspects the file and returns stream properties.
func (p *Prober) Probe(ctx context.Context, path string) (*MediaInfo, error) {
	ffprobe, err := p.locator.FFprobe(ctx)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, ffprobe,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("probing %s: %w", path, err)
	}

	var raw probeOutput
	if err := json.Unmarshal(output, &raw); err != nil {
		return nil, fmt.Errorf("parsing ffprobe output: %w", err)
	}

	info := &MediaInfo{}
	info.Duration, _ = strconv.ParseFloat(raw.Format.Duration, 64)

	for _, s := range raw.Streams {
		switch s.CodecType {
		case "video":
			if info.VideoCodec != "" {
				continue
			}
			info.VideoCodec = s.CodecName
			info.Width = s.Width
			info.Height = s.Height
			info.PixelFormat = s.PixFmt
			info.FrameRate = parseFrameRate(s.AvgFrameRate)
			if info.FrameRate == 0 {
				info.FrameRate = parseFrameRate(s.RFrameRate)
			}
			if info.Duration == 0 {
				info.Duration, _ = strconv.ParseFloat(s.Duration, 64)
			}
		case "audio":
			if info.AudioCodec != "" {
				continue
			}
			info.AudioCodec = s.CodecName
			info.AudioSampleRate, _ = strconv.Atoi(s.SampleRate)
		}
	}

	if info.Duration <= 0 {
		return nil, fmt.Errorf("probing %s: no duration in ffprobe output", path)
	}
	return info, nil
}

// Duration returns only the container duration in seconds.
func (p *Prober) Duration(ctx context.Context, path string) (float64, error) {
	info, err := p.Probe(ctx, path)
	if err != nil {
		return 0, err
	}
	return info.Duration, nil
}

// parseFrameRate evaluates ffprobe's fractional rate strings like "30000/1001".
func parseFrameRate(s string) float64 {
	if s == "" || s == "0/0" {
		return 0
	}
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		v, _ := strconv.ParseFloat(s, 64)
		return v
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0
	}
	return n / d
}

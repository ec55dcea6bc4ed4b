package ffmpeg

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFrameRate(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"30000/1001", 29.97002997002997},
		{"25/1", 25},
		{"60", 60},
		{"0/0", 0},
		{"", 0},
		{"x/y", 0},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, parseFrameRate(tt.in), 0.0001, "input %q", tt.in)
	}
}

func TestMediaInfo_Is10Bit(t *testing.T) {
	assert.True(t, (&MediaInfo{PixelFormat: "yuv420p10le"}).Is10Bit())
	assert.True(t, (&MediaInfo{PixelFormat: "yuv422p10be"}).Is10Bit())
	assert.False(t, (&MediaInfo{PixelFormat: "yuv420p"}).Is10Bit())
}

func TestGopSize(t *testing.T) {
	assert.Equal(t, 24, gopSize(0))
	assert.Equal(t, 24, gopSize(10))
	assert.Equal(t, 50, gopSize(25))
	assert.Equal(t, 60, gopSize(29.97))
	assert.Equal(t, 120, gopSize(60))
}

func TestEncodeTimeout(t *testing.T) {
	// Short videos still get the floor.
	assert.Equal(t, 30*time.Minute, encodeTimeout(60))
	// Mid-length scales at 3x.
	assert.Equal(t, time.Duration(3*3600*float64(time.Second)), encodeTimeout(3600))
	// Very long videos hit the cap.
	assert.Equal(t, 3*time.Hour, encodeTimeout(8*3600))
	// Unknown duration.
	assert.Equal(t, time.Hour, encodeTimeout(0))
}

func TestVideoArgs_CPU(t *testing.T) {
	args := videoArgs(BackendCPU, &MediaInfo{FrameRate: 25})
	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "libx264")
	assert.Contains(t, joined, "-crf 18")
	assert.Contains(t, joined, "-preset slow")
	assert.Contains(t, joined, "-g 50")
}

func TestVideoArgs_NVENC_10Bit(t *testing.T) {
	args := videoArgs(BackendNVENC, &MediaInfo{FrameRate: 30, PixelFormat: "yuv420p10le"})
	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "hevc_nvenc")
	assert.Contains(t, joined, "main10")
	assert.Contains(t, joined, "p010le")
}

func TestVideoArgs_QSV_8Bit(t *testing.T) {
	args := videoArgs(BackendQSV, &MediaInfo{FrameRate: 30, PixelFormat: "yuv420p"})
	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "hevc_qsv")
	assert.NotContains(t, joined, "main10")
}

func TestAudioArgs(t *testing.T) {
	args := audioArgs(&MediaInfo{AudioSampleRate: 48000})
	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "aac")
	assert.Contains(t, joined, "320k")
	assert.Contains(t, joined, "-ar 48000")

	// Unknown source rate lets ffmpeg choose.
	args = audioArgs(&MediaInfo{})
	assert.NotContains(t, strings.Join(args, " "), "-ar")
}

func TestReadProgress(t *testing.T) {
	stream := strings.NewReader(strings.Join([]string{
		"frame=100",
		"fps=25.0",
		"out_time_us=30000000",
		"speed=1.5x",
		"progress=continue",
		"out_time_us=60000000",
		"progress=end",
	}, "\n"))

	var snaps []Progress
	readProgress(stream, 60, func(p Progress) { snaps = append(snaps, p) })

	require.Len(t, snaps, 2)
	assert.InDelta(t, 50.0, snaps[0].Percent, 0.01)
	assert.InDelta(t, 1.5, snaps[0].Speed, 0.01)
	assert.False(t, snaps[0].Done)
	assert.True(t, snaps[1].Done)
	assert.InDelta(t, 100.0, snaps[1].Percent, 0.01)
}

func TestReadProgress_CapsAt100(t *testing.T) {
	stream := strings.NewReader("out_time_us=90000000\nprogress=continue\n")
	var got Progress
	readProgress(stream, 60, func(p Progress) { got = p })
	assert.InDelta(t, 100.0, got.Percent, 0.01)
}

func TestIsHWFailure(t *testing.T) {
	assert.True(t, isHWFailure(errors.New("ffmpeg exited: Cannot load nvcuda.dll")))
	assert.True(t, isHWFailure(errors.New("Error initializing the MFX session")))
	assert.False(t, isHWFailure(errors.New("no such file or directory")))
}

func TestResolveFontFamily_Fallback(t *testing.T) {
	// A missing font file falls back to the first CJK family.
	family := ResolveFontFamily("/nonexistent/font.otf")
	assert.Equal(t, "Source Han Sans HW SC", family)

	families := FallbackFontFamilies()
	require.NotEmpty(t, families)
	assert.Equal(t, "sans-serif", families[len(families)-1])
}

func TestBackendEncoderName(t *testing.T) {
	assert.Equal(t, "libx264", BackendCPU.encoderName())
	assert.Equal(t, "hevc_nvenc", BackendNVENC.encoderName())
	assert.Equal(t, "hevc_qsv", BackendQSV.encoderName())
	assert.Equal(t, "hevc_amf", BackendAMF.encoderName())
}

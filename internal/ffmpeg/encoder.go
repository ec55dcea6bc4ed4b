package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"
)

// TempDirPrefix names the private work directories the encoder creates
// under the system temp dir. Startup cleanup removes orphans by this prefix.
const TempDirPrefix = "repub-burnin-"

// Backend selects the video encoder implementation.
type Backend string

const (
	BackendCPU   Backend = "cpu"
	BackendNVENC Backend = "nvenc"
	BackendQSV   Backend = "qsv"
	BackendAMF   Backend = "amf"
)

// encoderName maps a backend to the ffmpeg encoder it needs.
func (b Backend) encoderName() string {
	switch b {
	case BackendNVENC:
		return "hevc_nvenc"
	case BackendQSV:
		return "hevc_qsv"
	case BackendAMF:
		return "hevc_amf"
	default:
		return "libx264"
	}
}

// hwFailureHints are stderr substrings that identify a hardware-encoder
// failure worth retrying on CPU.
var hwFailureHints = []string{
	"Cannot load nvcuda",
	"Cannot init CUDA",
	"No capable devices found",
	"Failed to initialise VAAPI",
	"Error initializing the MFX",
	"no free encoding sessions",
	"Generic error in an external library",
	"InitializeEncoder() failed",
	"device creation failed",
}

// EncodeOptions controls a single burn-in run.
type EncodeOptions struct {
	Backend      Backend
	FontPath     string
	FontSize     int
	OnProgress   func(percent float64)
	KeepAudioBit bool
}

// Encoder burns subtitle files into video via ffmpeg.
type Encoder struct {
	locator *Locator
	prober  *Prober
	logger  *slog.Logger
}

// NewEncoder creates an Encoder.
func NewEncoder(locator *Locator, prober *Prober, logger *slog.Logger) *Encoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Encoder{locator: locator, prober: prober, logger: logger.With("component", "encoder")}
}

// BurnSubtitles renders subtitlePath (SRT) into videoPath, writing outputPath.
// A failing hardware backend gets one automatic CPU retry.
func (e *Encoder) BurnSubtitles(ctx context.Context, videoPath, subtitlePath, outputPath string, opts EncodeOptions) error {
	info, err := e.prober.Probe(ctx, videoPath)
	if err != nil {
		return fmt.Errorf("probing source: %w", err)
	}

	backend := opts.Backend
	if backend == "" {
		backend = BackendCPU
	}
	if backend != BackendCPU {
		ok, err := e.locator.HasEncoder(ctx, backend.encoderName())
		if err != nil || !ok {
			e.logger.Warn("hardware encoder unavailable, using cpu",
				"backend", string(backend))
			backend = BackendCPU
		}
	}

	err = e.encodeOnce(ctx, videoPath, subtitlePath, outputPath, info, backend, opts)
	if err != nil && backend != BackendCPU && isHWFailure(err) {
		e.logger.Warn("hardware encode failed, retrying on cpu",
			"backend", string(backend), "error", err)
		err = e.encodeOnce(ctx, videoPath, subtitlePath, outputPath, info, BackendCPU, opts)
	}
	if err != nil {
		return err
	}
	return nil
}

// encodeOnce runs one ffmpeg invocation inside a private temp directory.
// Inputs are copied under short names so the subtitles filter never sees
// special characters or drive-letter colons in its argument.
func (e *Encoder) encodeOnce(ctx context.Context, videoPath, subtitlePath, outputPath string, info *MediaInfo, backend Backend, opts EncodeOptions) error {
	ffmpeg, err := e.locator.FFmpeg(ctx)
	if err != nil {
		return err
	}

	workDir, err := os.MkdirTemp("", TempDirPrefix+"*")
	if err != nil {
		return fmt.Errorf("creating work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	shortVideo := filepath.Join(workDir, "in"+filepath.Ext(videoPath))
	shortSub := filepath.Join(workDir, "sub.srt")
	shortOut := filepath.Join(workDir, "out.mp4")
	if err := copyFile(videoPath, shortVideo); err != nil {
		return fmt.Errorf("staging video: %w", err)
	}
	if err := copyFile(subtitlePath, shortSub); err != nil {
		return fmt.Errorf("staging subtitles: %w", err)
	}

	family := ResolveFontFamily(opts.FontPath)
	fontSize := opts.FontSize
	if fontSize <= 0 {
		fontSize = 18
	}
	vf := fmt.Sprintf("subtitles=sub.srt:force_style='FontName=%s,FontSize=%d'", family, fontSize)

	args := []string{"-y", "-hide_banner", "-i", "in" + filepath.Ext(videoPath), "-vf", vf}
	args = append(args, videoArgs(backend, info)...)
	args = append(args, audioArgs(info)...)
	args = append(args, "-progress", "pipe:1", "-nostats", "out.mp4")

	timeout := encodeTimeout(info.Duration)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, ffmpeg, args...)
	cmd.Dir = workDir
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = 5 * time.Second

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting ffmpeg: %w", err)
	}
	e.logger.Info("burn-in started",
		"backend", string(backend),
		"duration", info.Duration,
		"timeout", timeout.String())

	// stdout and stderr are drained on separate goroutines so neither pipe
	// can fill and deadlock the encode.
	var wg sync.WaitGroup
	var stderrTail strings.Builder
	wg.Add(2)
	go func() {
		defer wg.Done()
		readProgress(stdout, info.Duration, func(p Progress) {
			if opts.OnProgress != nil {
				opts.OnProgress(p.Percent)
			}
		})
	}()
	go func() {
		defer wg.Done()
		buf := make([]byte, 4096)
		for {
			n, rerr := stderr.Read(buf)
			if n > 0 {
				if stderrTail.Len() > 16384 {
					stderrTail.Reset()
				}
				stderrTail.Write(buf[:n])
			}
			if rerr != nil {
				return
			}
		}
	}()

	waitErr := cmd.Wait()
	wg.Wait()

	if waitErr != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("ffmpeg timed out after %s", timeout)
		}
		return fmt.Errorf("ffmpeg exited: %w: %s", waitErr, lastLines(stderrTail.String(), 5))
	}

	if err := os.Rename(shortOut, outputPath); err != nil {
		// Rename fails across filesystems; fall back to a copy.
		if cerr := copyFile(shortOut, outputPath); cerr != nil {
			return fmt.Errorf("moving output: %w", cerr)
		}
	}
	return nil
}

// videoArgs builds the encoder arguments for the chosen backend, switching
// to 10-bit profiles when the source pixel format demands it.
func videoArgs(backend Backend, info *MediaInfo) []string {
	gop := gopSize(info.FrameRate)
	tenBit := info.Is10Bit()

	switch backend {
	case BackendNVENC:
		args := []string{"-c:v", "hevc_nvenc", "-preset", "p6", "-rc", "vbr", "-cq", "20", "-rc-lookahead", "32"}
		if tenBit {
			args = append(args, "-profile:v", "main10", "-pix_fmt", "p010le")
		}
		return append(args, "-g", fmt.Sprint(gop))
	case BackendQSV:
		args := []string{"-c:v", "hevc_qsv", "-preset", "slow", "-global_quality", "20"}
		if tenBit {
			args = append(args, "-profile:v", "main10", "-pix_fmt", "p010le")
		}
		return append(args, "-g", fmt.Sprint(gop))
	case BackendAMF:
		args := []string{"-c:v", "hevc_amf", "-quality", "quality", "-rc", "cqp", "-qp_i", "20", "-qp_p", "20"}
		if tenBit {
			args = append(args, "-profile:v", "main10", "-pix_fmt", "p010le")
		}
		return append(args, "-g", fmt.Sprint(gop))
	default:
		return []string{
			"-c:v", "libx264",
			"-crf", "18",
			"-preset", "slow",
			"-profile:v", "high",
			"-level", "4.2",
			"-g", fmt.Sprint(gop),
		}
	}
}

// audioArgs re-encodes audio as high-bitrate AAC, keeping the source rate.
func audioArgs(info *MediaInfo) []string {
	args := []string{"-c:a", "aac", "-b:a", "320k"}
	if info.AudioSampleRate > 0 {
		args = append(args, "-ar", fmt.Sprint(info.AudioSampleRate))
	}
	return args
}

// gopSize is two seconds of frames, never below 24.
func gopSize(fps float64) int {
	g := int(math.Round(2 * fps))
	if g < 24 {
		return 24
	}
	return g
}

// encodeTimeout gives long videos room without letting a wedged encode run
// forever: three times the duration, clamped into [30min, 3h]. An unknown
// duration gets one hour.
func encodeTimeout(duration float64) time.Duration {
	if duration <= 0 {
		return time.Hour
	}
	t := time.Duration(3 * duration * float64(time.Second))
	if t < 30*time.Minute {
		t = 30 * time.Minute
	}
	if t > 3*time.Hour {
		t = 3 * time.Hour
	}
	return t
}

func isHWFailure(err error) bool {
	msg := err.Error()
	for _, hint := range hwFailureHints {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	// Non-zero exit from a hardware backend is treated as a hardware
	// problem; the caller only reaches here with a non-CPU backend.
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr)
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, " | ")
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

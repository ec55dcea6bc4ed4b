// Package downloader shells out to the external downloader binary for
// metadata, covers, embedded subtitles, and media.
package downloader

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/repub-dev/repub/internal/config"
)

// ErrCookiesRefreshNeeded is the recoverable signal that the source site is
// gating downloads behind anti-bot checks and the cookie jar needs a
// refresh from a real browser session.
var ErrCookiesRefreshNeeded = errors.New("source cookies need refresh")

// probeTimeout caps the format-probe call.
const probeTimeout = 30 * time.Second

// antiBotHints are the fixed substrings that mark anti-bot gating in
// downloader error output.
var antiBotHints = []string{
	"sign in to confirm",
	"not a bot",
	"confirm you're not a bot",
	"captcha",
	"use --cookies",
	"cookies-from-browser",
	"login required",
	"account cookies are no longer valid",
}

// formatLadder is the retry sequence: merged best, then single-file mp4,
// then anything. Every step drops stricter constraints.
var formatLadder = []string{
	"bestvideo*+bestaudio/best",
	"best[ext=mp4]",
	"best",
}

// Progress is one download progress sample.
type Progress struct {
	Percent   float64
	Speed     string
	ETA       string
	TotalSize string
}

// Downloader wraps the external downloader binary.
type Downloader struct {
	cfg       config.DownloadConfig
	cookieJar string
	logger    *slog.Logger
}

// New creates a Downloader. cookieJar may be empty.
func New(cfg config.DownloadConfig, cookieJar string, logger *slog.Logger) *Downloader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Downloader{cfg: cfg, cookieJar: cookieJar, logger: logger.With("component", "downloader")}
}

func (d *Downloader) binary() string {
	if d.cfg.BinaryPath != "" {
		return d.cfg.BinaryPath
	}
	return "yt-dlp"
}

// Available reports whether the yt-dlp binary can be found.
func (d *Downloader) Available(_ context.Context) error {
	if _, err := exec.LookPath(d.binary()); err != nil {
		return fmt.Errorf("locating %s: %w", d.binary(), err)
	}
	return nil
}

// baseArgs are shared by every invocation: cookies, proxy, concurrency.
func (d *Downloader) baseArgs() []string {
	args := []string{"--no-colors", "--no-playlist"}
	if d.cookieJar != "" {
		args = append(args, "--cookies", d.cookieJar)
	}
	if proxy := ProxyURL(d.cfg); proxy != "" {
		args = append(args, "--proxy", proxy)
	}
	if d.cfg.Threads > 0 {
		args = append(args, "-N", fmt.Sprint(d.cfg.Threads))
	}
	if d.cfg.ThrottledRate != "" {
		args = append(args, "--throttled-rate", d.cfg.ThrottledRate)
	}
	return args
}

// Probe lists formats with a short timeout. Anti-bot gating surfaces as
// ErrCookiesRefreshNeeded so the boundary can prompt for a jar refresh.
func (d *Downloader) Probe(ctx context.Context, url string) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	args := append(d.baseArgs(), "--list-formats", url)
	out, err := exec.CommandContext(ctx, d.binary(), args...).CombinedOutput()
	if err != nil {
		if isAntiBotGated(string(out)) {
			return fmt.Errorf("%w: %s", ErrCookiesRefreshNeeded, firstLine(string(out)))
		}
		return fmt.Errorf("format probe failed: %w: %s", err, firstLine(string(out)))
	}
	return nil
}

// FetchInfo runs an info-only pass: metadata JSON, cover image, and any
// embedded subtitle files land in taskDir. No media is downloaded.
func (d *Downloader) FetchInfo(ctx context.Context, url, taskDir string) error {
	args := append(d.baseArgs(),
		"--skip-download",
		"--write-info-json",
		"--write-thumbnail",
		"--write-subs",
		"--sub-langs", "all",
		"-o", "%(id)s.%(ext)s",
		"-P", taskDir,
		url,
	)
	out, err := exec.CommandContext(ctx, d.binary(), args...).CombinedOutput()
	if err != nil {
		if isAntiBotGated(string(out)) {
			return fmt.Errorf("%w: %s", ErrCookiesRefreshNeeded, firstLine(string(out)))
		}
		return fmt.Errorf("fetching info: %w: %s", err, firstLine(string(out)))
	}
	return nil
}

// FetchVideo downloads media only, walking the format ladder on failure.
// Metadata and cover files from a prior info pass are left untouched.
// onProgress may be nil.
func (d *Downloader) FetchVideo(ctx context.Context, url, taskDir string, onProgress func(Progress)) error {
	var lastErr error
	for attempt, format := range formatLadder {
		err := d.fetchVideoOnce(ctx, url, taskDir, format, onProgress)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrCookiesRefreshNeeded) || ctx.Err() != nil {
			return err
		}
		lastErr = err
		d.logger.Warn("download attempt failed, degrading format",
			"attempt", attempt+1, "format", format, "error", err)
	}
	return fmt.Errorf("download failed after %d attempts: %w", len(formatLadder), lastErr)
}

func (d *Downloader) fetchVideoOnce(ctx context.Context, url, taskDir, format string, onProgress func(Progress)) error {
	args := append(d.baseArgs(),
		"-f", format,
		"--no-write-info-json",
		"--newline",
		"-o", "video.%(ext)s",
		"-P", taskDir,
		url,
	)

	cmd := exec.CommandContext(ctx, d.binary(), args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	var stderrBuf strings.Builder
	cmd.Stderr = &stderrBuf

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting downloader: %w", err)
	}
	consumeProgress(stdout, onProgress)

	if err := cmd.Wait(); err != nil {
		combined := stderrBuf.String()
		if isAntiBotGated(combined) {
			return fmt.Errorf("%w: %s", ErrCookiesRefreshNeeded, firstLine(combined))
		}
		return fmt.Errorf("downloader exited: %w: %s", err, firstLine(combined))
	}
	return nil
}

// consumeProgress parses "[download]  42.1% of 120.5MiB at 3.2MiB/s ETA
// 00:45" lines from the downloader's stdout.
func consumeProgress(r io.Reader, onProgress func(Progress)) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		p, ok := parseProgressLine(scanner.Text())
		if ok && onProgress != nil {
			onProgress(p)
		}
	}
}

func isAntiBotGated(output string) bool {
	lower := strings.ToLower(output)
	for _, hint := range antiBotHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "ERROR") || strings.HasPrefix(line, "error") {
			return line
		}
	}
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '\n'); idx != -1 {
		s = s[:idx]
	}
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

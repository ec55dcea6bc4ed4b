// Package ffmpeg provides ffmpeg/ffprobe binary resolution, media probing,
// and subtitle burn-in encoding.
package ffmpeg

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"slices"
	"strings"
	"sync"
	"time"
)

// versionProbeTimeout caps the -version sanity check.
const versionProbeTimeout = 5 * time.Second

// windowsDownloadURL is the essentials build fetched on Windows when no
// local binary exists. Other platforms fail closed and expect a PATH install.
const windowsDownloadURL = "https://www.gyan.dev/ffmpeg/builds/ffmpeg-release-essentials.zip"

// Locator resolves usable ffmpeg and ffprobe binaries.
//
// Resolution order for ffmpeg: configured absolute path, the bundled
// directory next to the executable, platform auto-download (Windows only),
// then PATH. ffprobe is looked for alongside the resolved ffmpeg first,
// then on PATH. Results are memoized until Refresh.
type Locator struct {
	mu sync.Mutex

	configuredPath string
	bundledDir     string

	ffmpegPath  string
	ffprobePath string
	encoders    []string
	resolved    bool
}

// NewLocator creates a Locator. configuredPath may be empty.
func NewLocator(configuredPath string) *Locator {
	bundled := ""
	if exe, err := os.Executable(); err == nil {
		bundled = filepath.Join(filepath.Dir(exe), "ffmpeg_bin")
	}
	return &Locator{
		configuredPath: configuredPath,
		bundledDir:     bundled,
	}
}

// WithBundledDir overrides the bundled binary directory.
func (l *Locator) WithBundledDir(dir string) *Locator {
	l.bundledDir = dir
	return l
}

// FFmpeg returns the resolved ffmpeg path, resolving on first use.
func (l *Locator) FFmpeg(ctx context.Context) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.resolveLocked(ctx); err != nil {
		return "", err
	}
	return l.ffmpegPath, nil
}

// Available reports whether a usable ffmpeg binary can be resolved.
func (l *Locator) Available(ctx context.Context) error {
	_, err := l.FFmpeg(ctx)
	return err
}

// FFprobe returns the resolved ffprobe path, resolving on first use.
func (l *Locator) FFprobe(ctx context.Context) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.resolveLocked(ctx); err != nil {
		return "", err
	}
	if l.ffprobePath == "" {
		return "", fmt.Errorf("ffprobe not found alongside ffmpeg or on PATH")
	}
	return l.ffprobePath, nil
}

// HasEncoder reports whether the resolved ffmpeg build offers the encoder.
func (l *Locator) HasEncoder(ctx context.Context, name string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.resolveLocked(ctx); err != nil {
		return false, err
	}
	if l.encoders == nil {
		encoders, err := listEncoders(ctx, l.ffmpegPath)
		if err != nil {
			return false, err
		}
		l.encoders = encoders
	}
	return slices.Contains(l.encoders, name), nil
}

// Refresh drops the memoized resolution so the next call re-resolves.
func (l *Locator) Refresh() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resolved = false
	l.ffmpegPath = ""
	l.ffprobePath = ""
	l.encoders = nil
}

func (l *Locator) resolveLocked(ctx context.Context) error {
	if l.resolved {
		return nil
	}

	candidates := []string{}
	if l.configuredPath != "" {
		candidates = append(candidates, l.configuredPath)
	}
	if l.bundledDir != "" {
		candidates = append(candidates, filepath.Join(l.bundledDir, exeName("ffmpeg")))
	}

	for _, c := range candidates {
		if usable(ctx, c) {
			l.finishResolve(ctx, c)
			return nil
		}
	}

	// Windows gets an automatic download into the bundled directory.
	// Everywhere else a missing binary is an installation problem.
	if runtime.GOOS == "windows" && l.bundledDir != "" {
		if path, err := downloadWindowsBuild(ctx, l.bundledDir); err == nil && usable(ctx, path) {
			l.finishResolve(ctx, path)
			return nil
		}
	}

	if path, err := exec.LookPath("ffmpeg"); err == nil && usable(ctx, path) {
		l.finishResolve(ctx, path)
		return nil
	}

	return fmt.Errorf("ffmpeg binary not found or not executable")
}

func (l *Locator) finishResolve(ctx context.Context, ffmpegPath string) {
	l.ffmpegPath = ffmpegPath
	l.ffprobePath = resolveProbe(ctx, ffmpegPath)
	l.resolved = true
}

// resolveProbe finds ffprobe next to ffmpeg first, then on PATH.
func resolveProbe(ctx context.Context, ffmpegPath string) string {
	sibling := filepath.Join(filepath.Dir(ffmpegPath), exeName("ffprobe"))
	if usable(ctx, sibling) {
		return sibling
	}
	if path, err := exec.LookPath("ffprobe"); err == nil && usable(ctx, path) {
		return path
	}
	return ""
}

// usable verifies the binary answers -version within the probe cap.
func usable(ctx context.Context, path string) bool {
	if path == "" {
		return false
	}
	if fi, err := os.Stat(path); err != nil || fi.IsDir() {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, versionProbeTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, path, "-version").Output()
	if err != nil {
		return false
	}
	return strings.Contains(string(out), "version")
}

func exeName(base string) string {
	if runtime.GOOS == "windows" {
		return base + ".exe"
	}
	return base
}

// listEncoders parses `ffmpeg -encoders` output into encoder names.
func listEncoders(ctx context.Context, ffmpegPath string) ([]string, error) {
	cmd := exec.CommandContext(ctx, ffmpegPath, "-encoders", "-hide_banner")
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("listing encoders: %w", err)
	}

	var encoders []string
	inList := false
	for _, line := range strings.Split(string(output), "\n") {
		if strings.Contains(line, "------") {
			inList = true
			continue
		}
		if !inList {
			continue
		}
		line = strings.TrimLeft(line, " ")
		if len(line) < 8 {
			continue
		}
		if line[0] != 'V' && line[0] != 'A' && line[0] != 'S' {
			continue
		}
		fields := strings.Fields(strings.TrimSpace(line[6:]))
		if len(fields) >= 1 && fields[0] != "" {
			encoders = append(encoders, fields[0])
		}
	}
	return encoders, nil
}

// versionPattern extracts the numeric version from `ffmpeg -version`.
var versionPattern = regexp.MustCompile(`ffmpeg version n?(\d+)\.(\d+)`)

// Version returns the "major.minor" of the resolved ffmpeg, best effort.
func (l *Locator) Version(ctx context.Context) (string, error) {
	path, err := l.FFmpeg(ctx)
	if err != nil {
		return "", err
	}
	out, err := exec.CommandContext(ctx, path, "-version").Output()
	if err != nil {
		return "", fmt.Errorf("getting ffmpeg version: %w", err)
	}
	m := versionPattern.FindStringSubmatch(string(out))
	if len(m) < 3 {
		return "", fmt.Errorf("unparseable ffmpeg version output")
	}
	return m[1] + "." + m[2], nil
}

// downloadWindowsBuild fetches and unpacks the essentials zip into dir,
// returning the extracted ffmpeg.exe path.
func downloadWindowsBuild(ctx context.Context, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, windowsDownloadURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("downloading ffmpeg: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("downloading ffmpeg: status %d", resp.StatusCode)
	}

	tmp, err := os.CreateTemp(dir, "ffmpeg-*.zip")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return "", fmt.Errorf("saving ffmpeg archive: %w", err)
	}
	tmp.Close()

	zr, err := zip.OpenReader(tmp.Name())
	if err != nil {
		return "", fmt.Errorf("opening ffmpeg archive: %w", err)
	}
	defer zr.Close()

	var ffmpegPath string
	for _, f := range zr.File {
		base := filepath.Base(f.Name)
		if base != "ffmpeg.exe" && base != "ffprobe.exe" {
			continue
		}
		dst := filepath.Join(dir, base)
		if err := extractZipFile(f, dst); err != nil {
			return "", err
		}
		if base == "ffmpeg.exe" {
			ffmpegPath = dst
		}
	}
	if ffmpegPath == "" {
		return "", fmt.Errorf("ffmpeg.exe not present in downloaded archive")
	}
	return ffmpegPath, nil
}

func extractZipFile(f *zip.File, dst string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o755)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, rc)
	return err
}

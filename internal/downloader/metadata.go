package downloader

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Metadata is the slice of the downloader's info JSON the pipeline uses.
type Metadata struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Uploader    string  `json:"uploader"`
	Channel     string  `json:"channel"`
	UploadDate  string  `json:"upload_date"` // YYYYMMDD
	Duration    float64 `json:"duration"`
	Thumbnail   string  `json:"thumbnail"`
	WebpageURL  string  `json:"webpage_url"`
}

// UploaderName returns the best available author name.
func (m *Metadata) UploaderName() string {
	if m.Uploader != "" {
		return m.Uploader
	}
	return m.Channel
}

// LoadMetadata finds and parses the info JSON written by an info-only pass.
func LoadMetadata(taskDir string) (*Metadata, error) {
	matches, err := filepath.Glob(filepath.Join(taskDir, "*.info.json"))
	if err != nil || len(matches) == 0 {
		return nil, fmt.Errorf("no metadata file in %s", taskDir)
	}

	data, err := os.ReadFile(matches[0])
	if err != nil {
		return nil, fmt.Errorf("reading metadata: %w", err)
	}
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing metadata: %w", err)
	}
	return &m, nil
}

// FindCover returns the downloaded cover image path, if any.
func FindCover(taskDir string) string {
	for _, ext := range []string{".jpg", ".jpeg", ".webp", ".png"} {
		matches, _ := filepath.Glob(filepath.Join(taskDir, "*"+ext))
		for _, m := range matches {
			base := filepath.Base(m)
			if strings.HasPrefix(base, "cover") || !strings.HasPrefix(base, "video") {
				return m
			}
		}
	}
	return ""
}

// FindVideo returns the downloaded media path, if any.
func FindVideo(taskDir string) string {
	for _, ext := range []string{".mp4", ".mkv", ".webm", ".mov", ".flv"} {
		candidate := filepath.Join(taskDir, "video"+ext)
		if fi, err := os.Stat(candidate); err == nil && fi.Size() > 0 {
			return candidate
		}
	}
	return ""
}

// FindSubtitles returns embedded subtitle files from the info pass.
func FindSubtitles(taskDir string) []string {
	var out []string
	for _, ext := range []string{".srt", ".vtt"} {
		matches, _ := filepath.Glob(filepath.Join(taskDir, "*"+ext))
		for _, m := range matches {
			base := filepath.Base(m)
			// Generated files are not embedded subtitles.
			if strings.HasPrefix(base, "translated_") || strings.HasPrefix(base, "asr_") {
				continue
			}
			out = append(out, m)
		}
	}
	return out
}

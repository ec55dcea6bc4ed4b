package subtitle

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

var (
	vttTagPattern      = regexp.MustCompile(`</?[^>]+>`)
	vttCueSettings     = regexp.MustCompile(`(-->\s*[\d:.,]+).*$`)
	vttVoiceAnnotation = regexp.MustCompile(`^\s*<v[^>]*>`)
)

// ParseVTT parses WEBVTT content into cues, stripping cue settings
// (position, alignment) and inline styling tags.
func ParseVTT(content string) []Cue {
	content = strings.ReplaceAll(content, "\r\n", "\n")

	var cleaned []string
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "WEBVTT") ||
			strings.HasPrefix(trimmed, "NOTE") ||
			strings.HasPrefix(trimmed, "STYLE") ||
			strings.HasPrefix(trimmed, "REGION") ||
			strings.HasPrefix(trimmed, "Kind:") ||
			strings.HasPrefix(trimmed, "Language:") {
			continue
		}
		if strings.Contains(line, "-->") {
			// Drop cue settings after the end timestamp.
			line = vttCueSettings.ReplaceAllString(line, "$1")
		} else {
			line = vttVoiceAnnotation.ReplaceAllString(line, "")
			line = vttTagPattern.ReplaceAllString(line, "")
		}
		cleaned = append(cleaned, line)
	}

	return ParseSRT(strings.Join(cleaned, "\n"), nil)
}

// ConvertVTTFile converts a .vtt file into canonical SRT on disk.
func ConvertVTTFile(vttPath, srtPath string) error {
	data, err := os.ReadFile(vttPath)
	if err != nil {
		return fmt.Errorf("reading vtt: %w", err)
	}
	cues := ParseVTT(string(data))
	if len(cues) == 0 {
		return fmt.Errorf("no usable cues in %s", vttPath)
	}
	return WriteFile(srtPath, cues)
}

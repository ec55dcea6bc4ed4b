package subtitle

import (
	"fmt"
	"os"
	"strings"
)

// Render serializes cues as canonical SRT, re-sequencing indices from 1 and
// skipping blank cues.
func Render(cues []Cue) string {
	var b strings.Builder
	idx := 1
	for _, c := range cues {
		text := strings.TrimSpace(c.Text)
		if text == "" {
			continue
		}
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n",
			idx, formatTimestamp(c.Start), formatTimestamp(c.End), text)
		idx++
	}
	return b.String()
}

// WriteFile renders cues to an SRT file.
func WriteFile(path string, cues []Cue) error {
	if err := os.WriteFile(path, []byte(Render(cues)), 0o644); err != nil {
		return fmt.Errorf("writing subtitle file: %w", err)
	}
	return nil
}

// ReadFile parses an SRT file with the loose parser.
func ReadFile(path string) ([]Cue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading subtitle file: %w", err)
	}
	return ParseSRT(string(data), nil), nil
}

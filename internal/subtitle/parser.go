package subtitle

import (
	"log/slog"
	"regexp"
	"strings"
)

var (
	indexLinePattern = regexp.MustCompile(`^\d+$`)
	timingPattern    = regexp.MustCompile(`-->`)
)

// ParseSRT parses canonical and loose SRT text. Loose inputs may omit cue
// indices, use dots for millisecond separators, carry a stray WEBVTT header,
// or use single-digit hour fields. Malformed blocks are dropped with a log
// line rather than failing the parse.
func ParseSRT(content string, logger *slog.Logger) []Cue {
	if logger == nil {
		logger = slog.Default()
	}

	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.TrimPrefix(content, "\uFEFF")

	var cues []Cue
	for _, block := range splitBlocks(content) {
		cue, ok := parseBlock(block)
		if !ok {
			logger.Debug("dropping malformed subtitle block",
				"block", truncateForLog(strings.Join(block, " "), 80))
			continue
		}
		cues = append(cues, cue)
	}
	return cues
}

// splitBlocks groups non-empty lines separated by blank lines.
func splitBlocks(content string) [][]string {
	var blocks [][]string
	var cur []string
	for _, line := range strings.Split(content, "\n") {
		if strings.TrimSpace(line) == "" {
			if len(cur) > 0 {
				blocks = append(blocks, cur)
				cur = nil
			}
			continue
		}
		cur = append(cur, line)
	}
	if len(cur) > 0 {
		blocks = append(blocks, cur)
	}
	return blocks
}

func parseBlock(lines []string) (Cue, bool) {
	i := 0
	// Stray WEBVTT header or NOTE lines at the top of a block.
	for i < len(lines) {
		trimmed := strings.TrimSpace(lines[i])
		if strings.HasPrefix(trimmed, "WEBVTT") || strings.HasPrefix(trimmed, "NOTE") {
			i++
			continue
		}
		break
	}
	if i < len(lines) && indexLinePattern.MatchString(strings.TrimSpace(lines[i])) {
		i++
	}
	if i >= len(lines) || !timingPattern.MatchString(lines[i]) {
		return Cue{}, false
	}

	left, right, _ := strings.Cut(lines[i], "-->")
	start, ok1 := parseTimestamp(left)
	end, ok2 := parseTimestamp(right)
	if !ok1 || !ok2 || end < start {
		return Cue{}, false
	}
	i++

	text := strings.TrimSpace(strings.Join(lines[i:], "\n"))
	if text == "" {
		return Cue{}, false
	}
	return Cue{Start: start, End: end, Text: text}, true
}

func truncateForLog(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

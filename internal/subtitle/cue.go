// Package subtitle implements SRT parsing, transformation, translation,
// and quality gating for the burn-in pipeline.
package subtitle

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Cue is one subtitle entry.
type Cue struct {
	Index int
	Start time.Duration
	End   time.Duration
	Text  string
}

// Duration returns the cue's display duration.
func (c Cue) Duration() time.Duration {
	return c.End - c.Start
}

// timestampPattern tolerates one- or two-digit hours, dot or comma
// millisecond separators, and 1-3 millisecond digits.
var timestampPattern = regexp.MustCompile(`(\d{1,2}):(\d{2}):(\d{2})[.,](\d{1,3})`)

// parseTimestamp parses a single SRT/VTT timestamp.
func parseTimestamp(s string) (time.Duration, bool) {
	m := timestampPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	h := atoiFast(m[1])
	min := atoiFast(m[2])
	sec := atoiFast(m[3])
	// "5" means 500ms, "50" means 500ms, "500" means 500ms.
	msStr := m[4]
	for len(msStr) < 3 {
		msStr += "0"
	}
	ms := atoiFast(msStr)

	return time.Duration(h)*time.Hour +
		time.Duration(min)*time.Minute +
		time.Duration(sec)*time.Second +
		time.Duration(ms)*time.Millisecond, true
}

func atoiFast(s string) int {
	n := 0
	for _, r := range s {
		n = n*10 + int(r-'0')
	}
	return n
}

// formatTimestamp renders HH:MM:SS,mmm with millisecond precision.
func formatTimestamp(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	d -= s * time.Second
	ms := d / time.Millisecond
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}

// charCount counts characters after NFC normalization. Subtitle line caps
// and tag caps are character counts, never byte counts.
func charCount(s string) int {
	return utf8.RuneCountInString(norm.NFC.String(s))
}

// normalizeForCompare reduces text to a comparison key: lowercase with all
// whitespace and common punctuation removed.
func normalizeForCompare(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(norm.NFC.String(s)) {
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
		case strings.ContainsRune(`.,!?;:'"()[]{}…。，！？；：、“”‘’`, r):
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// isCJK reports whether the rune is in a CJK block.
func isCJK(r rune) bool {
	switch {
	case r >= 0x4E00 && r <= 0x9FFF: // CJK Unified Ideographs
		return true
	case r >= 0x3400 && r <= 0x4DBF: // Extension A
		return true
	case r >= 0x3040 && r <= 0x30FF: // Hiragana + Katakana
		return true
	case r >= 0xAC00 && r <= 0xD7AF: // Hangul
		return true
	case r >= 0xF900 && r <= 0xFAFF: // Compatibility ideographs
		return true
	}
	return false
}

// nonCJKShare is the share of non-CJK characters among non-space characters.
// Translated-to-Chinese text with a share above 0.8 is likely untranslated.
func nonCJKShare(s string) float64 {
	total, nonCJK := 0, 0
	for _, r := range norm.NFC.String(s) {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			continue
		}
		total++
		if !isCJK(r) {
			nonCJK++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(nonCJK) / float64(total)
}

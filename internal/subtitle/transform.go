package subtitle

import (
	"regexp"
	"sort"
	"strings"
	"time"
)

// minVisibleDuration is the shortest cue worth keeping on screen.
const minVisibleDuration = 50 * time.Millisecond

// Calibrate shifts each segment's cues by its base offset, producing one
// globally-timed list. offsets[i] applies to segments[i].
func Calibrate(segments [][]Cue, offsets []time.Duration) []Cue {
	var out []Cue
	for i, seg := range segments {
		var off time.Duration
		if i < len(offsets) {
			off = offsets[i]
		}
		for _, c := range seg {
			c.Start += off
			c.End += off
			out = append(out, c)
		}
	}
	return out
}

// CollapseRepetition removes hallucinated intra-cue loops: any 2-30
// character phrase repeated three or more consecutive times collapses to a
// single occurrence.
func CollapseRepetition(text string) string {
	runes := []rune(text)
	var out []rune
	i := 0
	for i < len(runes) {
		collapsed := false
		for l := 2; l <= 30 && i+l <= len(runes); l++ {
			phrase := runes[i : i+l]
			reps := 1
			for {
				next := i + reps*l
				if next+l > len(runes) || string(runes[next:next+l]) != string(phrase) {
					break
				}
				reps++
			}
			if reps >= 3 {
				out = append(out, phrase...)
				i += reps * l
				collapsed = true
				break
			}
		}
		if !collapsed {
			out = append(out, runes[i])
			i++
		}
	}
	return string(out)
}

// SuppressEcho drops cues whose normalized text matches a cue emitted within
// the preceding lookback window. ASR on overlapping windows repeats itself.
func SuppressEcho(cues []Cue, lookback time.Duration) []Cue {
	type emitted struct {
		key string
		at  time.Duration
	}
	var recent []emitted
	var out []Cue
	for _, c := range cues {
		key := normalizeForCompare(c.Text)
		dup := false
		for _, e := range recent {
			if e.key == key && c.Start-e.at <= lookback {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		out = append(out, c)
		recent = append(recent, emitted{key: key, at: c.Start})
		// Trim entries that fell out of the window.
		for len(recent) > 0 && c.Start-recent[0].at > lookback {
			recent = recent[1:]
		}
	}
	return out
}

// ResolveOverlaps sorts by start and trims each cue's end to the next cue's
// start, keeping at least the minimum visible duration.
func ResolveOverlaps(cues []Cue) []Cue {
	out := make([]Cue, len(cues))
	copy(out, cues)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	for i := 0; i < len(out)-1; i++ {
		if out[i].End > out[i+1].Start {
			trimmed := out[i+1].Start
			if trimmed < out[i].Start+minVisibleDuration {
				trimmed = out[i].Start + minVisibleDuration
			}
			out[i].End = trimmed
		}
	}
	return out
}

var (
	whitespacePattern  = regexp.MustCompile(`[ \t]+`)
	punctSpacePattern  = regexp.MustCompile(`([.,!?;:])(\S)`)
	englishFillers     = regexp.MustCompile(`(?i)\b(u+m+|u+h+|e+r+m*|h+m+|mm-hmm|uh-huh|ah+)\b[,.]?\s*`)
	cjkInterjections   = regexp.MustCompile(`^[呃嗯啊哦唔诶欸]{1,3}[，。、]?\s*`)
	annotationPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\[[^\]]*\]`),
		regexp.MustCompile(`\([^)]*\)`),
		regexp.MustCompile(`（[^）]*）`),
		regexp.MustCompile(`【[^】]*】`),
		regexp.MustCompile(`\*[^*]*\*`),
	}
	asmrOnomatopoeia = regexp.MustCompile(`(?i)\b(tap+ing?|scratch+ing?|whisper+ing?|brush+ing?)\b\s*$`)
)

// NormalizeOptions controls text normalization.
type NormalizeOptions struct {
	SpaceAfterPunct bool
	RemoveFillers   bool
}

// NormalizeText collapses whitespace, optionally inserts a space after
// sentence punctuation, strips filler noise and annotations, and collapses
// adjacent duplicated words.
func NormalizeText(text string, opts NormalizeOptions) string {
	if opts.RemoveFillers {
		for _, p := range annotationPatterns {
			text = p.ReplaceAllString(text, " ")
		}
		text = englishFillers.ReplaceAllString(text, "")
		text = cjkInterjections.ReplaceAllString(text, "")
		text = asmrOnomatopoeia.ReplaceAllString(text, "")
	}

	text = whitespacePattern.ReplaceAllString(text, " ")
	if opts.SpaceAfterPunct {
		text = punctSpacePattern.ReplaceAllString(text, "$1 $2")
	}
	text = collapseDupWords(text)
	return strings.TrimSpace(text)
}

// collapseDupWords reduces "word word word" runs to one occurrence.
func collapseDupWords(text string) string {
	words := strings.Fields(text)
	var out []string
	for _, w := range words {
		if len(out) > 0 && strings.EqualFold(out[len(out)-1], w) {
			continue
		}
		out = append(out, w)
	}
	return strings.Join(out, " ")
}

// SplitOptions controls long-cue splitting.
type SplitOptions struct {
	MaxCharsPerLine int
	MaxLines        int
}

// DefaultSplitOptions matches the platform rendering limits.
func DefaultSplitOptions() SplitOptions {
	return SplitOptions{MaxCharsPerLine: 42, MaxLines: 2}
}

var sentenceEndPattern = regexp.MustCompile(`[.!?…。！？]`)

// SplitLongCues breaks cues whose text exceeds the per-cue capacity into
// multiple cues, preferring sentence boundaries, then word boundaries. Each
// sub-cue's time budget is proportional to its character share.
func SplitLongCues(cues []Cue, opts SplitOptions) []Cue {
	if opts.MaxCharsPerLine <= 0 {
		opts = DefaultSplitOptions()
	}
	capacity := opts.MaxCharsPerLine * opts.MaxLines

	var out []Cue
	for _, c := range cues {
		if charCount(c.Text) <= capacity {
			out = append(out, c)
			continue
		}
		parts := splitText(c.Text, capacity)
		total := 0
		for _, p := range parts {
			total += charCount(p)
		}
		cursor := c.Start
		for i, p := range parts {
			share := float64(charCount(p)) / float64(total)
			dur := time.Duration(share * float64(c.Duration()))
			end := cursor + dur
			if i == len(parts)-1 {
				end = c.End
			}
			out = append(out, Cue{Start: cursor, End: end, Text: p})
			cursor = end
		}
	}
	return out
}

// splitText cuts text into chunks of at most capacity characters, preferring
// sentence-ending punctuation, then spaces, then a hard cut.
func splitText(text string, capacity int) []string {
	var parts []string
	runes := []rune(text)
	for len(runes) > capacity {
		cut := -1
		// Look backwards for a sentence boundary within the capacity window.
		for i := capacity; i > capacity/3; i-- {
			if sentenceEndPattern.MatchString(string(runes[i-1])) {
				cut = i
				break
			}
		}
		if cut == -1 {
			for i := capacity; i > capacity/3; i-- {
				if runes[i-1] == ' ' {
					cut = i
					break
				}
			}
		}
		if cut == -1 {
			cut = capacity
		}
		parts = append(parts, strings.TrimSpace(string(runes[:cut])))
		runes = []rune(strings.TrimSpace(string(runes[cut:])))
	}
	if len(runes) > 0 {
		parts = append(parts, string(runes))
	}
	return parts
}

// FinalizeOptions controls the finalization pass.
type FinalizeOptions struct {
	Offset         time.Duration
	TotalDuration  time.Duration
	MergeGap       time.Duration
	MinTextLength  int
	MinCueDuration time.Duration
}

// DefaultFinalizeOptions returns the lenient defaults.
func DefaultFinalizeOptions(total time.Duration) FinalizeOptions {
	return FinalizeOptions{
		TotalDuration:  total,
		MergeGap:       300 * time.Millisecond,
		MinTextLength:  4,
		MinCueDuration: 800 * time.Millisecond,
	}
}

// Finalize applies the global offset, clamps into the clip, merges short
// neighbors, enforces the minimum cue duration, and drops what remains
// unfixable.
func Finalize(cues []Cue, opts FinalizeOptions) []Cue {
	if len(cues) == 0 {
		return nil
	}

	shifted := make([]Cue, 0, len(cues))
	for _, c := range cues {
		c.Start += opts.Offset
		c.End += opts.Offset
		if opts.TotalDuration > 0 {
			if c.Start < 0 {
				c.Start = 0
			}
			if c.End > opts.TotalDuration {
				c.End = opts.TotalDuration
			}
		}
		if c.End <= c.Start {
			continue
		}
		shifted = append(shifted, c)
	}
	if len(shifted) == 0 {
		return nil
	}

	merged := mergeShortNeighbors(shifted, opts)
	stretched := enforceMinDuration(merged, opts)

	var out []Cue
	for _, c := range stretched {
		if c.Duration() < minVisibleDuration {
			continue
		}
		if charCount(c.Text) < opts.MinTextLength && c.Duration() < opts.MinCueDuration {
			continue
		}
		out = append(out, c)
	}
	return out
}

// mergeShortNeighbors joins adjacent cues when the combination stays under
// seven seconds and either the gap is small or one side is a fragment.
func mergeShortNeighbors(cues []Cue, opts FinalizeOptions) []Cue {
	const maxCombined = 7 * time.Second

	out := []Cue{cues[0]}
	for _, c := range cues[1:] {
		last := &out[len(out)-1]
		gap := c.Start - last.End
		combined := c.End - last.Start
		fragment := charCount(last.Text) < opts.MinTextLength || charCount(c.Text) < opts.MinTextLength
		if combined < maxCombined && (gap <= opts.MergeGap || fragment) {
			last.End = c.End
			last.Text = strings.TrimSpace(last.Text + " " + c.Text)
			continue
		}
		out = append(out, c)
	}
	return out
}

// enforceMinDuration extends short cues into the following gap, leaving a
// 10ms guard before the next cue; cues that cannot be extended merge forward.
func enforceMinDuration(cues []Cue, opts FinalizeOptions) []Cue {
	const guard = 10 * time.Millisecond

	var out []Cue
	for i := 0; i < len(cues); i++ {
		c := cues[i]
		if c.Duration() >= opts.MinCueDuration {
			out = append(out, c)
			continue
		}
		limit := opts.TotalDuration
		if i+1 < len(cues) {
			limit = cues[i+1].Start - guard
		}
		want := c.Start + opts.MinCueDuration
		if limit > 0 && want <= limit {
			c.End = want
			out = append(out, c)
			continue
		}
		if limit > c.End {
			c.End = limit
		}
		if c.Duration() >= opts.MinCueDuration {
			out = append(out, c)
			continue
		}
		// Still short: merge forward when possible, else backward.
		if i+1 < len(cues) {
			cues[i+1].Start = c.Start
			cues[i+1].Text = strings.TrimSpace(c.Text + " " + cues[i+1].Text)
			continue
		}
		if len(out) > 0 {
			last := &out[len(out)-1]
			last.End = c.End
			last.Text = strings.TrimSpace(last.Text + " " + c.Text)
			continue
		}
		out = append(out, c)
	}
	return out
}

// CleanCues runs the hallucination and normalization passes over all cues
// and drops those left empty.
func CleanCues(cues []Cue, opts NormalizeOptions) []Cue {
	var out []Cue
	for _, c := range cues {
		c.Text = NormalizeText(CollapseRepetition(c.Text), opts)
		if c.Text == "" {
			continue
		}
		out = append(out, c)
	}
	return SuppressEcho(out, 5*time.Second)
}

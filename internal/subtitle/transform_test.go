package subtitle

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSRT_Canonical(t *testing.T) {
	input := "1\n00:00:01,000 --> 00:00:03,500\nhello world\n\n2\n00:00:04,000 --> 00:00:06,000\nsecond cue\n"
	cues := ParseSRT(input, nil)
	require.Len(t, cues, 2)
	assert.Equal(t, time.Second, cues[0].Start)
	assert.Equal(t, 3500*time.Millisecond, cues[0].End)
	assert.Equal(t, "hello world", cues[0].Text)
}

func TestParseSRT_Loose(t *testing.T) {
	// Missing indices, dot separators, single-digit hour, stray WEBVTT header.
	input := "WEBVTT\n\n0:00:01.5 --> 0:00:03.250\nloose cue\n\n00:00:04.000 --> 00:00:06.000\nanother\n"
	cues := ParseSRT(input, nil)
	require.Len(t, cues, 2)
	assert.Equal(t, 1500*time.Millisecond, cues[0].Start)
	assert.Equal(t, 3250*time.Millisecond, cues[0].End)
}

func TestParseSRT_StripsByteOrderMark(t *testing.T) {
	input := "\uFEFF1\n00:00:01,000 --> 00:00:02,000\nmarked\n"
	cues := ParseSRT(input, nil)
	require.Len(t, cues, 1)
	assert.Equal(t, "marked", cues[0].Text)
}

func TestParseSRT_DropsMalformed(t *testing.T) {
	input := "1\nnot a timestamp\ngarbage\n\n2\n00:00:01,000 --> 00:00:02,000\nvalid\n\n3\n00:00:05,000 --> 00:00:04,000\nend before start\n"
	cues := ParseSRT(input, nil)
	require.Len(t, cues, 1)
	assert.Equal(t, "valid", cues[0].Text)
}

func TestRender_RoundTrip(t *testing.T) {
	// render(parse(x)) normalizes separators to commas and re-sequences.
	input := "7\n00:00:01.000 --> 00:00:02.000\nfirst\n\n9\n00:00:03,000 --> 00:00:04,000\nsecond\n"
	out := Render(ParseSRT(input, nil))
	expected := "1\n00:00:01,000 --> 00:00:02,000\nfirst\n\n2\n00:00:03,000 --> 00:00:04,000\nsecond\n\n"
	assert.Equal(t, expected, out)

	// Stability: rendering a parse of the render is identical.
	assert.Equal(t, out, Render(ParseSRT(out, nil)))
}

func TestParseVTT(t *testing.T) {
	input := "WEBVTT\nKind: captions\n\n00:00:01.000 --> 00:00:03.000 align:start position:0%\n<c.yellow>styled</c> text\n\n00:00:04.000 --> 00:00:05.000\n<v Speaker>who said it\n"
	cues := ParseVTT(input)
	require.Len(t, cues, 2)
	assert.Equal(t, "styled text", cues[0].Text)
	assert.Equal(t, "who said it", cues[1].Text)
}

func TestCollapseRepetition(t *testing.T) {
	assert.Equal(t, "谢谢", CollapseRepetition("谢谢谢谢谢谢谢谢"))
	assert.Equal(t, "la ", CollapseRepetition("la la la la "))
	// Two repeats stay untouched.
	assert.Equal(t, "okok", CollapseRepetition("okok"))
	assert.Equal(t, "normal sentence", CollapseRepetition("normal sentence"))
}

func TestSuppressEcho(t *testing.T) {
	cues := []Cue{
		{Start: 0, End: time.Second, Text: "Thanks for watching"},
		{Start: 2 * time.Second, End: 3 * time.Second, Text: "thanks for watching!"},
		{Start: 10 * time.Second, End: 11 * time.Second, Text: "Thanks for watching"},
	}
	out := SuppressEcho(cues, 5*time.Second)
	// The 2s echo is suppressed; the 10s repeat is outside the window.
	require.Len(t, out, 2)
	assert.Equal(t, time.Duration(0), out[0].Start)
	assert.Equal(t, 10*time.Second, out[1].Start)
}

func TestResolveOverlaps(t *testing.T) {
	cues := []Cue{
		{Start: 0, End: 5 * time.Second, Text: "a"},
		{Start: 3 * time.Second, End: 6 * time.Second, Text: "b"},
	}
	out := ResolveOverlaps(cues)
	assert.Equal(t, 3*time.Second, out[0].End)
	assert.Equal(t, 3*time.Second, out[1].Start)
}

func TestNormalizeText(t *testing.T) {
	opts := NormalizeOptions{SpaceAfterPunct: true, RemoveFillers: true}

	assert.Equal(t, "hello world", NormalizeText("hello    world", opts))
	assert.Equal(t, "one. two", NormalizeText("one.two", opts))
	assert.Equal(t, "I think so", NormalizeText("Um, I think think so", opts))
	assert.Equal(t, "real text", NormalizeText("[applause] real text", opts))
	assert.Equal(t, "继续说", NormalizeText("呃，继续说", opts))
}

func TestSplitLongCues(t *testing.T) {
	long := strings.Repeat("word ", 30) // 150 chars, capacity 84
	cues := []Cue{{Start: 0, End: 10 * time.Second, Text: strings.TrimSpace(long)}}
	out := SplitLongCues(cues, DefaultSplitOptions())

	require.Greater(t, len(out), 1)
	for _, c := range out {
		assert.LessOrEqual(t, charCount(c.Text), 84)
	}
	// Budget is preserved end to end.
	assert.Equal(t, time.Duration(0), out[0].Start)
	assert.Equal(t, 10*time.Second, out[len(out)-1].End)
	// Sub-cues are contiguous.
	for i := 0; i < len(out)-1; i++ {
		assert.Equal(t, out[i].End, out[i+1].Start)
	}
}

func TestSplitLongCues_PrefersSentenceBoundary(t *testing.T) {
	text := "This is the first sentence of the pair. " + strings.Repeat("tail ", 15)
	cues := []Cue{{Start: 0, End: 8 * time.Second, Text: text}}
	out := SplitLongCues(cues, DefaultSplitOptions())
	require.Greater(t, len(out), 1)
	assert.Equal(t, "This is the first sentence of the pair.", out[0].Text)
}

func TestFinalize_OffsetAndClamp(t *testing.T) {
	cues := []Cue{
		{Start: 0, End: 2 * time.Second, Text: "starts before zero"},
		{Start: 58 * time.Second, End: 70 * time.Second, Text: "runs past the end"},
	}
	out := Finalize(cues, FinalizeOptions{
		Offset:         -1 * time.Second,
		TotalDuration:  60 * time.Second,
		MergeGap:       300 * time.Millisecond,
		MinTextLength:  4,
		MinCueDuration: 800 * time.Millisecond,
	})
	require.Len(t, out, 2)
	assert.Equal(t, time.Duration(0), out[0].Start)
	assert.Equal(t, 60*time.Second, out[1].End)
}

func TestFinalize_MergesFragments(t *testing.T) {
	cues := []Cue{
		{Start: 0, End: 1 * time.Second, Text: "嗯"},
		{Start: 1200 * time.Millisecond, End: 3 * time.Second, Text: "完整的一句话在这里"},
	}
	out := Finalize(cues, DefaultFinalizeOptions(10*time.Second))
	require.Len(t, out, 1)
	assert.Contains(t, out[0].Text, "完整的一句话在这里")
}

func TestFinalize_ExtendsShortCues(t *testing.T) {
	cues := []Cue{
		{Start: 0, End: 100 * time.Millisecond, Text: "短句需要更长时间"},
		{Start: 5 * time.Second, End: 7 * time.Second, Text: "后面的句子正常时长"},
	}
	opts := DefaultFinalizeOptions(10 * time.Second)
	out := Finalize(cues, opts)
	require.Len(t, out, 2)
	assert.GreaterOrEqual(t, out[0].Duration(), opts.MinCueDuration)
	// Extension never crosses into the next cue.
	assert.Less(t, out[0].End, out[1].Start)
}

func TestCalibrate(t *testing.T) {
	segments := [][]Cue{
		{{Start: 0, End: time.Second, Text: "a"}},
		{{Start: 0, End: time.Second, Text: "b"}},
	}
	out := Calibrate(segments, []time.Duration{0, 30 * time.Second})
	require.Len(t, out, 2)
	assert.Equal(t, 30*time.Second, out[1].Start)
	assert.Equal(t, 31*time.Second, out[1].End)
}

func TestNonCJKShare(t *testing.T) {
	assert.Greater(t, nonCJKShare("completely english text"), 0.8)
	assert.Less(t, nonCJKShare("完全是中文的句子"), 0.2)
	assert.Less(t, nonCJKShare("中文 mixed 内容为主的句子啊"), 0.8)
}

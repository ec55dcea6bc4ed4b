package subtitle

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAPI answers CompleteJSON with a canned function.
type fakeAPI struct {
	mu    sync.Mutex
	calls int
	fn    func(system, user string) ([]byte, error)
}

func (f *fakeAPI) CompleteJSON(_ context.Context, system, user string) ([]byte, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.fn(system, user)
}

func echoTranslator(prefix string) func(string, string) ([]byte, error) {
	return func(_, user string) ([]byte, error) {
		var req struct {
			Texts []string `json:"texts"`
		}
		if err := json.Unmarshal([]byte(user), &req); err != nil {
			return nil, err
		}
		out := make([]string, len(req.Texts))
		for i := range req.Texts {
			out[i] = prefix + "译文" + req.Texts[i]
		}
		return json.Marshal(map[string]any{"translations": out})
	}
}

func testTranslatorConfig() TranslatorConfig {
	return TranslatorConfig{
		BatchSize:  2,
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
		MaxWorkers: 2,
	}
}

func TestTranslator_TranslatesAllCues(t *testing.T) {
	api := &fakeAPI{fn: echoTranslator("")}
	tr := NewTranslator(api, testTranslatorConfig(), nil)

	cues := []Cue{
		{Start: 0, End: time.Second, Text: "one"},
		{Start: time.Second, End: 2 * time.Second, Text: "two"},
		{Start: 2 * time.Second, End: 3 * time.Second, Text: "three"},
	}
	out := tr.Translate(context.Background(), cues)
	require.Len(t, out, 3)
	for i, c := range out {
		assert.True(t, strings.HasPrefix(c.Text, "译文"), "cue %d: %q", i, c.Text)
		// Timing is untouched.
		assert.Equal(t, cues[i].Start, c.Start)
	}
}

func TestTranslator_FallsBackToSourceOnFailure(t *testing.T) {
	api := &fakeAPI{fn: func(_, _ string) ([]byte, error) {
		return nil, errors.New("provider down")
	}}
	tr := NewTranslator(api, testTranslatorConfig(), nil)

	cues := []Cue{{Start: 0, End: time.Second, Text: "source text"}}
	out := tr.Translate(context.Background(), cues)
	require.Len(t, out, 1)
	assert.Equal(t, "source text", out[0].Text)
}

func TestTranslator_PadsShortResponse(t *testing.T) {
	api := &fakeAPI{fn: func(_, user string) ([]byte, error) {
		// Always one translation regardless of request size.
		return json.Marshal(map[string]any{"translations": []string{"只有一条译文"}})
	}}
	cfg := testTranslatorConfig()
	cfg.BatchSize = 3
	tr := NewTranslator(api, cfg, nil)

	cues := []Cue{
		{Text: "a"}, {Text: "b"}, {Text: "c"},
	}
	out := tr.Translate(context.Background(), cues)
	require.Len(t, out, 3)
	assert.Equal(t, "只有一条译文", out[0].Text)
	// Padded entries keep source text after repairs fail to improve them.
	assert.NotEmpty(t, out[1].Text)
	assert.NotEmpty(t, out[2].Text)
}

func TestTranslator_RepairsUntranslatedLines(t *testing.T) {
	var strictSeen bool
	api := &fakeAPI{}
	api.fn = func(system, user string) ([]byte, error) {
		var req struct {
			Texts []string `json:"texts"`
		}
		json.Unmarshal([]byte(user), &req)
		out := make([]string, len(req.Texts))
		for i, txt := range req.Texts {
			if strings.Contains(system, "禁止保留原文") {
				strictSeen = true
				out[i] = "严格模式译文"
			} else if txt == "stubborn" {
				// Parrot the source back, flagging it untranslated.
				out[i] = txt
			} else {
				out[i] = "正常译文"
			}
		}
		return json.Marshal(map[string]any{"translations": out})
	}
	tr := NewTranslator(api, testTranslatorConfig(), nil)

	cues := []Cue{
		{Text: "easy line"},
		{Text: "stubborn"},
	}
	out := tr.Translate(context.Background(), cues)
	require.Len(t, out, 2)
	assert.Equal(t, "正常译文", out[0].Text)
	assert.Equal(t, "严格模式译文", out[1].Text)
	assert.True(t, strictSeen)
}

func TestIsLikelyUntranslated(t *testing.T) {
	assert.True(t, isLikelyUntranslated("hello", ""))
	assert.True(t, isLikelyUntranslated("hello", "hello"))
	assert.True(t, isLikelyUntranslated("hello", "still english words here"))
	assert.False(t, isLikelyUntranslated("hello", "你好"))
}

func TestSanitizeLine(t *testing.T) {
	assert.Equal(t, "译文内容", sanitizeLine("1. 译文内容"))
	assert.Equal(t, "译文内容", sanitizeLine("- 译文内容"))
	assert.Equal(t, "译文内容", sanitizeLine("\"译文内容\""))
	assert.Equal(t, "译文内容", sanitizeLine("“译文内容。”"))
	assert.Equal(t, "译文内容", sanitizeLine("译文内容，"))
	assert.Equal(t, "去重的行", sanitizeLine("去重的行\n去重的行"))
	assert.Equal(t, "带回车", sanitizeLine("带回车\r"))
}

func TestRuleScore_Penalties(t *testing.T) {
	// Healthy subtitles score high.
	var healthy []Cue
	for i := 0; i < 30; i++ {
		healthy = append(healthy, Cue{Text: strings.Repeat("好", 5) + string(rune('a'+i))})
	}
	score, reason := RuleScore(healthy)
	assert.InDelta(t, 1.0, score, 0.001)
	assert.Equal(t, "ok", reason)

	// One dominant phrase across most cues.
	var repetitive []Cue
	for i := 0; i < 20; i++ {
		repetitive = append(repetitive, Cue{Text: "谢谢观看"})
	}
	score, reason = RuleScore(repetitive)
	assert.Less(t, score, 0.5)
	assert.Contains(t, reason, "high_repetition")

	// Mostly empty content.
	var thin []Cue
	for i := 0; i < 10; i++ {
		thin = append(thin, Cue{Text: "a"})
	}
	score, reason = RuleScore(thin)
	assert.Contains(t, reason, "mostly_empty")
	assert.Less(t, score, 0.75)
}

func TestQualityChecker_JudgeWins(t *testing.T) {
	api := &fakeAPI{fn: func(_, _ string) ([]byte, error) {
		return json.Marshal(QCResult{Passed: false, Score: 0.1, Reason: "dominant repetition"})
	}}
	qc := NewQualityChecker(api, QCConfig{}, nil)

	cues := []Cue{{Text: "完全正常的字幕内容"}}
	res := qc.Check(context.Background(), cues)
	assert.False(t, res.Passed)
	assert.Equal(t, "dominant repetition", res.Reason)
}

func TestQualityChecker_RuleFallbackWhenJudgeFails(t *testing.T) {
	api := &fakeAPI{fn: func(_, _ string) ([]byte, error) {
		return nil, errors.New("judge down")
	}}
	qc := NewQualityChecker(api, QCConfig{}, nil)

	var cues []Cue
	for i := 0; i < 30; i++ {
		cues = append(cues, Cue{Text: "各不相同的正常内容" + string(rune('a'+i))})
	}
	res := qc.Check(context.Background(), cues)
	assert.True(t, res.Passed)
	assert.GreaterOrEqual(t, res.Score, DefaultQCThreshold)
}

func TestQualityChecker_NoJudgeConfigured(t *testing.T) {
	qc := NewQualityChecker(nil, QCConfig{}, nil)
	res := qc.Check(context.Background(), []Cue{{Text: "普通字幕"}})
	assert.True(t, res.Passed)
}

func TestSampleCues_Bounded(t *testing.T) {
	var cues []Cue
	for i := 0; i < 500; i++ {
		cues = append(cues, Cue{Text: strings.Repeat("字", 50)})
	}
	sample := sampleCues(cues, 100, 12000)
	assert.LessOrEqual(t, len(sample), 100)
	total := 0
	for _, c := range sample {
		total += charCount(c.Text)
	}
	assert.LessOrEqual(t, total, 12000)
}

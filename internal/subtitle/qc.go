package subtitle

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

// DefaultQCThreshold is the lenient pass bar for the rule score.
const DefaultQCThreshold = 0.35

// QCResult is the verdict on a translated subtitle file.
type QCResult struct {
	Passed bool    `json:"passed"`
	Score  float64 `json:"score"`
	Reason string  `json:"reason"`
}

// QCConfig tunes the quality gate.
type QCConfig struct {
	Threshold  float64
	SampleMax  int
	SampleChar int
}

// QualityChecker gates whether a translated SRT may be burned in. Stage one
// is a rule score over the cues; stage two asks the LLM to judge a sample.
// The gate is deliberately lenient: only blatantly unusable subtitles fail.
type QualityChecker struct {
	api    completionAPI
	cfg    QCConfig
	logger *slog.Logger
}

// NewQualityChecker creates a QualityChecker. api may be nil to skip the
// LLM judge.
func NewQualityChecker(api completionAPI, cfg QCConfig, logger *slog.Logger) *QualityChecker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultQCThreshold
	}
	if cfg.SampleMax <= 0 {
		cfg.SampleMax = 100
	}
	if cfg.SampleChar <= 0 {
		cfg.SampleChar = 12000
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &QualityChecker{api: api, cfg: cfg, logger: logger.With("component", "subtitle-qc")}
}

// Check evaluates the cues and returns the combined verdict.
func (q *QualityChecker) Check(ctx context.Context, cues []Cue) QCResult {
	score, reason := RuleScore(cues)

	judge, err := q.llmJudge(ctx, cues)
	if err == nil && judge != nil {
		q.logger.Info("qc verdict from judge",
			"passed", judge.Passed, "score", judge.Score, "reason", judge.Reason)
		return *judge
	}
	if err != nil {
		q.logger.Warn("qc judge unavailable, using rule score", "error", err)
	}

	if score > 0 {
		return QCResult{Passed: score >= q.cfg.Threshold, Score: score, Reason: reason}
	}
	// Nothing measurable: default to pass.
	return QCResult{Passed: true, Score: 1, Reason: "no signal, defaulting to pass"}
}

// RuleScore scores cues in [0,1] with lenient penalties. Reasons name the
// dominant problem.
func RuleScore(cues []Cue) (float64, string) {
	n := len(cues)
	if n == 0 {
		return 0, "empty subtitle"
	}

	counts := map[string]int{}
	lowContent := 0
	totalLen := 0
	for _, c := range cues {
		key := normalizeForCompare(c.Text)
		counts[key]++
		l := charCount(c.Text)
		totalLen += l
		if l < 2 {
			lowContent++
		}
	}

	topCount := 0
	for _, v := range counts {
		if v > topCount {
			topCount = v
		}
	}
	topPhraseRatio := float64(topCount) / float64(n)
	uniqueRatio := float64(len(counts)) / float64(n)
	lowContentRatio := float64(lowContent) / float64(n)
	avgLen := float64(totalLen) / float64(n)

	score := 1.0
	var reasons []string
	if topPhraseRatio >= 0.5 && n >= 15 {
		score -= 0.40
		reasons = append(reasons, "high_repetition")
	}
	if uniqueRatio < 0.2 && n >= 20 {
		score -= 0.25
		reasons = append(reasons, "low_variety")
	}
	if lowContentRatio >= 0.6 {
		score -= 0.30
		reasons = append(reasons, "mostly_empty")
	}
	if avgLen < 2.0 && n >= 15 {
		score -= 0.15
		reasons = append(reasons, "too_short")
	}
	if score < 0 {
		score = 0
	}

	reason := "ok"
	if len(reasons) > 0 {
		reason = strings.Join(reasons, ",")
	}
	return score, reason
}

const qcJudgePrompt = `你是字幕质量审核员,标准非常宽松。只有明显不可用的字幕才判不通过,` +
	`比如大面积重复同一句话、乱码、或者全是占位符。普通翻译瑕疵一律放行。` +
	`输出JSON对象 {"passed": bool, "score": 0到1的小数, "reason": "简短原因"}。只输出JSON。`

// llmJudge samples head, middle, and tail cues and asks the model for a
// verdict. A nil result with nil error means no judge is configured.
func (q *QualityChecker) llmJudge(ctx context.Context, cues []Cue) (*QCResult, error) {
	if q.api == nil {
		return nil, nil
	}
	sample := sampleCues(cues, q.cfg.SampleMax, q.cfg.SampleChar)
	if len(sample) == 0 {
		return nil, nil
	}

	var b strings.Builder
	for _, c := range sample {
		b.WriteString(c.Text)
		b.WriteString("\n")
	}
	raw, err := q.api.CompleteJSON(ctx, qcJudgePrompt, b.String())
	if err != nil {
		return nil, err
	}
	var result QCResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("unexpected judge payload: %w", err)
	}
	return &result, nil
}

// sampleCues picks head, middle, and tail spans totaling at most maxItems
// cues and maxChars characters.
func sampleCues(cues []Cue, maxItems, maxChars int) []Cue {
	n := len(cues)
	if n == 0 {
		return nil
	}
	if n <= maxItems {
		return capChars(cues, maxChars)
	}

	per := maxItems / 3
	head := cues[:per]
	midStart := n/2 - per/2
	mid := cues[midStart : midStart+per]
	tail := cues[n-per:]

	out := make([]Cue, 0, 3*per)
	out = append(out, head...)
	out = append(out, mid...)
	out = append(out, tail...)
	return capChars(out, maxChars)
}

func capChars(cues []Cue, maxChars int) []Cue {
	total := 0
	for i, c := range cues {
		total += charCount(c.Text)
		if total > maxChars {
			return cues[:i]
		}
	}
	return cues
}

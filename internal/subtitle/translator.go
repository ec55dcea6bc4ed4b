package subtitle

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// completionAPI is the slice of the LLM client the translator needs: a chat
// call that yields a JSON object payload.
type completionAPI interface {
	CompleteJSON(ctx context.Context, system, user string) ([]byte, error)
}

// TranslatorConfig tunes the batched translation.
type TranslatorConfig struct {
	TargetLang string
	BatchSize  int
	MaxRetries int
	RetryDelay time.Duration
	MaxWorkers int

	// MemoryPressure reports whether the host is under memory pressure;
	// the worker pool is halved while it returns true. Optional.
	MemoryPressure func() bool
}

// Translator translates cue text in fixed-size batches with repair passes.
type Translator struct {
	api    completionAPI
	cfg    TranslatorConfig
	logger *slog.Logger
}

// NewTranslator creates a Translator.
func NewTranslator(api completionAPI, cfg TranslatorConfig, logger *slog.Logger) *Translator {
	if cfg.TargetLang == "" {
		cfg.TargetLang = "中文"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 3
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Translator{api: api, cfg: cfg, logger: logger.With("component", "subtitle-translator")}
}

const translateSystemPrompt = `你是专业的字幕翻译。将给定的字幕逐条翻译为%s，保持口语化和简洁。` +
	`输入是JSON对象 {"texts": [...]}，输出必须是JSON对象 {"translations": [...]}，` +
	`数组长度与输入一致，顺序对应。只输出JSON。`

const strictSystemPrompt = `你是专业的字幕翻译。将给定的字幕逐条完整翻译为%s。` +
	`禁止保留原文，禁止输出空字符串，每一条都必须给出译文。` +
	`输入是JSON对象 {"texts": [...]}，输出必须是JSON对象 {"translations": [...]}，` +
	`数组长度与输入一致。只输出JSON。`

// Translate returns a copy of cues with translated text. Batches that fail
// after all retries keep the source text; two repair passes chase down lines
// the model left untranslated.
func (t *Translator) Translate(ctx context.Context, cues []Cue) []Cue {
	if len(cues) == 0 {
		return nil
	}

	texts := make([]string, len(cues))
	for i, c := range cues {
		texts[i] = c.Text
	}

	translated := make([]string, len(texts))
	copy(translated, texts)

	t.runBatches(ctx, allIndices(len(texts)), texts, translated, t.cfg.BatchSize, false)

	// Repair pass 1: smaller batches for lines that came back untranslated.
	retry := t.untranslated(texts, translated)
	if len(retry) > 0 {
		sub := t.cfg.BatchSize / 2
		if sub < 1 {
			sub = 1
		}
		t.logger.Info("retranslating suspect lines", "count", len(retry))
		t.runBatches(ctx, retry, texts, translated, sub, false)
	}

	// Repair pass 2: strict prompt for the stubborn remainder.
	retry = t.untranslated(texts, translated)
	if len(retry) > 0 {
		t.logger.Info("strict-mode retranslation", "count", len(retry))
		t.runBatches(ctx, retry, texts, translated, 1, true)
	}

	out := make([]Cue, len(cues))
	for i, c := range cues {
		c.Text = sanitizeLine(translated[i])
		if c.Text == "" {
			c.Text = texts[i]
		}
		out[i] = c
	}
	return out
}

// runBatches translates the given indices in batches on a bounded pool,
// writing results into translated in place.
func (t *Translator) runBatches(ctx context.Context, indices []int, src, translated []string, batchSize int, strict bool) {
	var batches [][]int
	for start := 0; start < len(indices); start += batchSize {
		end := start + batchSize
		if end > len(indices) {
			end = len(indices)
		}
		batches = append(batches, indices[start:end])
	}

	workers := t.cfg.MaxWorkers
	if len(batches) < workers {
		workers = len(batches)
	}
	if t.cfg.MemoryPressure != nil && t.cfg.MemoryPressure() {
		workers = workers / 2
		if workers < 1 {
			workers = 1
		}
		t.logger.Warn("memory pressure, halving translation workers", "workers", workers)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, batch := range batches {
		batch := batch
		g.Go(func() error {
			in := make([]string, len(batch))
			for i, idx := range batch {
				in[i] = src[idx]
			}
			result, err := t.translateBatch(gctx, in, strict)
			if err != nil {
				t.logger.Warn("batch translation failed, keeping source text",
					"size", len(batch), "error", err)
				return nil
			}
			for i, idx := range batch {
				if result[i] != "" {
					translated[idx] = result[i]
				}
			}
			return nil
		})
	}
	g.Wait()
}

// translateBatch issues one request with retries, padding or truncating the
// response to the request length.
func (t *Translator) translateBatch(ctx context.Context, texts []string, strict bool) ([]string, error) {
	payload, err := json.Marshal(map[string]any{"texts": texts})
	if err != nil {
		return nil, err
	}
	system := fmt.Sprintf(translateSystemPrompt, t.cfg.TargetLang)
	if strict {
		system = fmt.Sprintf(strictSystemPrompt, t.cfg.TargetLang)
	}

	var lastErr error
	for attempt := 0; attempt < t.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(t.cfg.RetryDelay):
			}
		}
		raw, err := t.api.CompleteJSON(ctx, system, string(payload))
		if err != nil {
			lastErr = err
			continue
		}
		var resp struct {
			Translations []string `json:"translations"`
		}
		if err := json.Unmarshal(raw, &resp); err != nil {
			lastErr = fmt.Errorf("unexpected translation payload: %w", err)
			continue
		}
		out := resp.Translations
		for len(out) < len(texts) {
			out = append(out, "")
		}
		return out[:len(texts)], nil
	}
	return nil, fmt.Errorf("translating batch after %d attempts: %w", t.cfg.MaxRetries, lastErr)
}

// untranslated finds indices whose translation is empty, identical to the
// source, or still mostly non-CJK.
func (t *Translator) untranslated(src, dst []string) []int {
	var out []int
	for i := range src {
		if isLikelyUntranslated(src[i], dst[i]) {
			out = append(out, i)
		}
	}
	return out
}

func isLikelyUntranslated(src, dst string) bool {
	trimmed := strings.TrimSpace(dst)
	if trimmed == "" {
		return true
	}
	if trimmed == strings.TrimSpace(src) {
		return true
	}
	return nonCJKShare(trimmed) > 0.8
}

var quotePairs = [][2]string{
	{`"`, `"`}, {`'`, `'`}, {"“", "”"}, {"‘", "’"}, {"「", "」"}, {"『", "』"},
}

// sanitizeLine strips model artifacts from a translated line: leading
// numbering or bullets, wrapping quotes, trailing commas and periods, CRs,
// and duplicated consecutive lines.
func sanitizeLine(s string) string {
	s = strings.ReplaceAll(s, "\r", "")

	lines := strings.Split(s, "\n")
	var kept []string
	for _, line := range lines {
		line = strings.TrimSpace(line)
		line = stripListMarker(line)
		for _, p := range quotePairs {
			if strings.HasPrefix(line, p[0]) && strings.HasSuffix(line, p[1]) && len(line) > len(p[0])+len(p[1]) {
				line = strings.TrimSuffix(strings.TrimPrefix(line, p[0]), p[1])
			}
		}
		line = strings.TrimRight(line, ",，.。")
		if line == "" {
			continue
		}
		if len(kept) > 0 && kept[len(kept)-1] == line {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

func stripListMarker(line string) string {
	trimmed := strings.TrimLeft(line, " ")
	for _, prefix := range []string{"- ", "• ", "* "} {
		if strings.HasPrefix(trimmed, prefix) {
			return strings.TrimSpace(trimmed[len(prefix):])
		}
	}
	// "1. text" / "2) text" / "3、text"
	i := 0
	for i < len(trimmed) && trimmed[i] >= '0' && trimmed[i] <= '9' {
		i++
	}
	if i > 0 && i < len(trimmed) {
		rest := trimmed[i:]
		for _, sep := range []string{". ", ") ", "、", ": ", "：", "．"} {
			if strings.HasPrefix(rest, sep) {
				return strings.TrimSpace(rest[len(sep):])
			}
		}
	}
	return line
}

func allIndices(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

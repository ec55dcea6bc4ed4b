package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Platform caps, counted in characters after NFC normalization.
const (
	MaxTitleChars       = 50
	MaxDescriptionChars = 1000
	truncationMarker    = "…"
)

// FieldKind selects the prompt for a metadata translation.
type FieldKind string

const (
	FieldTitle       FieldKind = "title"
	FieldDescription FieldKind = "description"
)

const translateFieldPrompt = `你是专业的视频%s翻译。把给定文本翻译成%s,要求:` +
	`保持原意,保留数字、代码和无通用译名的专有名词,口语自然,不加解释。` +
	`输出JSON对象 {"translation": "..."}。只输出JSON。`

const translateStrictPrompt = `你是专业的视频%s翻译。把给定文本完整翻译成%s。` +
	`禁止原样返回,禁止输出空结果,必须给出译文。` +
	`输出JSON对象 {"translation": "..."}。只输出JSON。`

// TranslateField translates a title or description, pre-cleaning promotional
// noise and enforcing the platform caps. The second return is false when no
// usable translation was produced; the caller keeps the original text.
func (c *Client) TranslateField(ctx context.Context, text string, targetLang string, kind FieldKind) (string, bool) {
	cleaned := PreClean(text)
	if cleaned == "" {
		return "", false
	}
	if targetLang == "" {
		targetLang = "中文"
	}

	kindName := "标题"
	if kind == FieldDescription {
		kindName = "简介"
	}

	result := c.requestTranslation(ctx, fmt.Sprintf(translateFieldPrompt, kindName, targetLang), cleaned)
	if result == "" || result == cleaned {
		// One strict retry before giving up.
		result = c.requestTranslation(ctx, fmt.Sprintf(translateStrictPrompt, kindName, targetLang), cleaned)
	}
	if result == "" || result == cleaned {
		return "", false
	}

	switch kind {
	case FieldTitle:
		return TruncateChars(result, MaxTitleChars, ""), true
	default:
		return TruncateChars(result, MaxDescriptionChars, truncationMarker), true
	}
}

func (c *Client) requestTranslation(ctx context.Context, system, text string) string {
	raw, err := c.CompleteJSON(ctx, system, text)
	if err != nil {
		c.logger.Warn("translation request failed", "error", err)
		return ""
	}
	var resp struct {
		Translation string `json:"translation"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		c.logger.Warn("unexpected translation payload", "error", err)
		return ""
	}
	return strings.TrimSpace(resp.Translation)
}

// TruncateChars limits s to max characters (NFC-normalized), appending the
// marker inside the cap when truncation happened.
func TruncateChars(s string, max int, marker string) string {
	s = norm.NFC.String(s)
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	markerLen := utf8.RuneCountInString(marker)
	keep := max - markerLen
	if keep < 0 {
		keep = 0
	}
	runes := []rune(s)
	return string(runes[:keep]) + marker
}

// Package moderation screens task text through a cloud moderation service
// plus an in-process deny list of promotional and contact-leak phrases.
package moderation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/repub-dev/repub/internal/models"
	"github.com/repub-dev/repub/pkg/httpclient"
)

// The provider rejects calls above 600 characters; we chunk below that.
const (
	providerHardLimit = 600
	chunkSize         = 500
)

// labelDescriptions maps provider labels to operator-readable text.
// Unknown labels pass through untouched.
var labelDescriptions = map[string]string{
	"porn":                   "色情内容",
	"sexy":                   "低俗内容",
	"abuse":                  "辱骂内容",
	"terrorism":              "暴恐内容",
	"politics":               "时政敏感",
	"contraband":             "违禁内容",
	"ad":                     "广告导流",
	"spam":                   "垃圾信息",
	"suspected_contact_leak": "疑似联系方式或导流信息",
}

// denyList is the supplementary in-process screen. Any hit forces a fail
// with the suspected_contact_leak label even when the service passes.
var denyList = []string{
	"加微信", "加vx", "加v信", "加qq", "加q群", "加群",
	"微信号", "vx号", "qq号", "qq群", "企鹅号",
	"telegram", "电报群", "飞机群",
	"私聊我", "私信我", "看主页", "主页有", "简介有",
	"点击链接", "复制链接", "打开链接",
	"优惠券", "折扣码", "返利", "代购", "低价出",
	"兼职", "日结", "刷单", "躺赚", "副业",
	"约炮", "裸聊", "上门服务",
}

// Client moderates text.
type Client struct {
	http     *httpclient.Client
	endpoint string
	apiKey   string
	logger   *slog.Logger
}

// NewClient creates a moderation Client. An empty endpoint disables the
// remote service; the deny list still runs.
func NewClient(endpoint, apiKey string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := httpclient.DefaultConfig()
	cfg.Logger = logger
	return &Client{
		http:     httpclient.New(cfg),
		endpoint: endpoint,
		apiKey:   apiKey,
		logger:   logger.With("component", "moderation"),
	}
}

// ModerateText screens one text field. Long text is split into chunks; the
// overall pass is the AND over all chunks and details are concatenated.
func (c *Client) ModerateText(ctx context.Context, text, service string) (bool, []models.ModerationDetail, error) {
	pass := true
	var details []models.ModerationDetail

	if c.endpoint != "" {
		for _, chunk := range splitChunks(text, chunkSize) {
			chunkPass, chunkDetails, err := c.moderateChunk(ctx, chunk, service)
			if err != nil {
				return false, nil, err
			}
			pass = pass && chunkPass
			details = append(details, chunkDetails...)
		}
	}

	if hit, term := denyListHit(text); hit {
		c.logger.Info("deny list hit", "term", term, "service", service)
		pass = false
		details = append(details, models.ModerationDetail{
			Label:       "suspected_contact_leak",
			Description: labelDescriptions["suspected_contact_leak"],
			Confidence:  1,
			Suggestion:  "block",
			Reason:      fmt.Sprintf("matched term %q", term),
		})
	}

	return pass, details, nil
}

// provider wire types.
type moderateRequest struct {
	Service string `json:"service"`
	Content string `json:"content"`
}

type moderateResponse struct {
	Pass    bool `json:"pass"`
	Details []struct {
		Label      string  `json:"label"`
		Confidence float64 `json:"confidence"`
		Suggestion string  `json:"suggestion"`
		Reason     string  `json:"reason"`
	} `json:"details"`
}

func (c *Client) moderateChunk(ctx context.Context, chunk, service string) (bool, []models.ModerationDetail, error) {
	body, err := json.Marshal(moderateRequest{Service: service, Content: chunk})
	if err != nil {
		return false, nil, err
	}

	header := http.Header{"Content-Type": []string{"application/json"}}
	if c.apiKey != "" {
		header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.http.DoWithBody(ctx, http.MethodPost, c.endpoint, body, header)
	if err != nil {
		return false, nil, fmt.Errorf("calling moderation service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return false, nil, fmt.Errorf("moderation service returned %d: %s", resp.StatusCode, payload)
	}

	var parsed moderateResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return false, nil, fmt.Errorf("parsing moderation response: %w", err)
	}

	details := make([]models.ModerationDetail, 0, len(parsed.Details))
	for _, d := range parsed.Details {
		desc := labelDescriptions[d.Label]
		if desc == "" {
			desc = d.Label
		}
		details = append(details, models.ModerationDetail{
			Label:       d.Label,
			Description: desc,
			Confidence:  d.Confidence,
			Suggestion:  d.Suggestion,
			Reason:      d.Reason,
		})
	}
	return parsed.Pass, details, nil
}

// splitChunks splits by characters, not bytes, keeping each chunk under the
// provider limit.
func splitChunks(text string, size int) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	var out []string
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
	}
	return out
}

func denyListHit(text string) (bool, string) {
	lower := strings.ToLower(text)
	for _, term := range denyList {
		if strings.Contains(lower, term) {
			return true, term
		}
	}
	return false, ""
}

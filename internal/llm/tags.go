package llm

import (
	"context"
	"encoding/json"
	"fmt"
)

// Tag list shape expected by the sink platform.
const (
	TagCount      = 6
	TagIdealChars = 10
	TagMaxChars   = 20
)

const generateTagsPrompt = `根据视频标题和简介生成最多%d个中文标签,每个不超过%d个字,` +
	`贴合内容,不要重复,不要带#号。输出JSON对象 {"tags": ["...", ...]}。只输出JSON。`

// GenerateTags returns exactly TagCount tags, padding with empty strings and
// capping each tag at TagMaxChars as a safety net.
func (c *Client) GenerateTags(ctx context.Context, title, description string) []string {
	tags := make([]string, 0, TagCount)

	user := fmt.Sprintf("标题: %s\n简介: %s", title, TruncateChars(description, 500, "…"))
	raw, err := c.CompleteJSON(ctx, fmt.Sprintf(generateTagsPrompt, TagCount, TagIdealChars), user)
	if err != nil {
		c.logger.Warn("tag generation failed", "error", err)
	} else {
		var resp struct {
			Tags []string `json:"tags"`
		}
		if err := json.Unmarshal(raw, &resp); err != nil {
			c.logger.Warn("unexpected tag payload", "error", err)
		} else {
			for _, t := range resp.Tags {
				if t == "" {
					continue
				}
				tags = append(tags, TruncateChars(t, TagMaxChars, ""))
				if len(tags) == TagCount {
					break
				}
			}
		}
	}

	for len(tags) < TagCount {
		tags = append(tags, "")
	}
	return tags
}

package uploader

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/repub-dev/repub/internal/llm"
	"github.com/repub-dev/repub/internal/models"
)

// Publish caps mirrored by the upload form.
const (
	MaxPublishTitleChars       = 50
	MaxPublishDescriptionChars = 1000
	MaxPublishTags             = 6
)

// Creation types accepted by the publish endpoint.
const (
	creationRepost   = 1
	creationOriginal = 3
)

// Provenance describes the source attribution injected into a repost's
// description.
type Provenance struct {
	SourceURL           string
	Uploader            string
	UploadDate          string
	OriginalDescription string
}

// provenanceHeader opens the attribution block. The user description is
// truncated before this header, never inside it.
const provenanceHeader = "---原简介---"

// BuildDescription combines the translated description with the provenance
// block, keeping the total within the platform's 1000 character cap. When
// space runs out the user description yields first, then the original
// description tail.
func BuildDescription(userDesc string, p Provenance) string {
	block := formatProvenance(p)
	if block == "" {
		return llm.TruncateChars(userDesc, MaxPublishDescriptionChars, "…")
	}

	blockLen := utf8.RuneCountInString(block)
	if blockLen >= MaxPublishDescriptionChars {
		return llm.TruncateChars(block, MaxPublishDescriptionChars, "…")
	}

	userDesc = strings.TrimSpace(userDesc)
	if userDesc == "" {
		return block
	}

	// Two newlines separate the user text from the block.
	budget := MaxPublishDescriptionChars - blockLen - 2
	if budget <= 0 {
		return block
	}
	userDesc = llm.TruncateChars(userDesc, budget, "…")
	return userDesc + "\n\n" + block
}

func formatProvenance(p Provenance) string {
	if p.SourceURL == "" && p.Uploader == "" {
		return ""
	}
	var b strings.Builder
	if p.SourceURL != "" {
		fmt.Fprintf(&b, "原始来源：%s\n", p.SourceURL)
	}
	if p.Uploader != "" {
		fmt.Fprintf(&b, "UP主：%s\n", p.Uploader)
	}
	if p.UploadDate != "" {
		fmt.Fprintf(&b, "上传时间：%s\n", p.UploadDate)
	}
	b.WriteString(provenanceHeader)
	if desc := strings.TrimSpace(p.OriginalDescription); desc != "" {
		b.WriteString("\n")
		b.WriteString(desc)
	}
	return b.String()
}

// PublishRequest carries everything the final publish call needs. VideoID
// comes from UploadVideo, CoverURL from UploadCover.
type PublishRequest struct {
	Title       string
	Description string // already provenance-augmented
	Tags        []string
	ChannelID   string
	CoverURL    string
	VideoID     string

	// OriginalURL marks the post as a repost of that URL. Empty means an
	// original declaration.
	OriginalURL string
}

// CreateDouga publishes the uploaded video and returns the public AC number
// alongside the raw identifiers.
func (c *Client) CreateDouga(ctx context.Context, req PublishRequest) (*models.UploadResponse, error) {
	if err := c.EnsureLogin(ctx); err != nil {
		return nil, err
	}
	if req.VideoID == "" || req.ChannelID == "" {
		return nil, fmt.Errorf("publish request incomplete (videoId=%q channelId=%q)", req.VideoID, req.ChannelID)
	}

	title := llm.TruncateChars(req.Title, MaxPublishTitleChars, "…")
	description := llm.TruncateChars(req.Description, MaxPublishDescriptionChars, "…")

	// The stored tag list is padded with empty strings to a fixed length;
	// the publish form wants only the real tags, at most MaxPublishTags.
	tags := make([]string, 0, MaxPublishTags)
	for _, t := range req.Tags {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
		if len(tags) == MaxPublishTags {
			break
		}
	}
	tagJSON, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("encoding tags: %w", err)
	}

	videoInfos, err := json.Marshal([]map[string]string{{
		"videoId": req.VideoID,
		"title":   title,
	}})
	if err != nil {
		return nil, fmt.Errorf("encoding video infos: %w", err)
	}

	form := url.Values{
		"title":       {title},
		"description": {description},
		"tagNames":    {string(tagJSON)},
		"channelId":   {req.ChannelID},
		"coverUrl":    {req.CoverURL},
		"videoInfos":  {string(videoInfos)},
	}
	if req.OriginalURL != "" {
		form.Set("creationType", strconv.Itoa(creationRepost))
		form.Set("originalLinkUrl", req.OriginalURL)
		form.Set("originalDeclare", "0")
	} else {
		form.Set("creationType", strconv.Itoa(creationOriginal))
		form.Set("originalDeclare", "1")
	}

	var out struct {
		Result  int   `json:"result"`
		DougaID int64 `json:"dougaId"`
	}
	if err := c.memberPost(ctx, "/video/api/createDouga", form, &out); err != nil {
		return nil, fmt.Errorf("publishing: %w", err)
	}
	if out.DougaID == 0 {
		return nil, fmt.Errorf("publish reply missing douga id")
	}

	resp := &models.UploadResponse{
		ACNumber:  "ac" + strconv.FormatInt(out.DougaID, 10),
		VideoID:   req.VideoID,
		CoverURL:  req.CoverURL,
		ChannelID: req.ChannelID,
	}
	c.logger.Info("published",
		slog.String("ac_number", resp.ACNumber),
		slog.String("title", title),
		slog.String("channel", req.ChannelID))
	return resp, nil
}

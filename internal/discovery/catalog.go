// Package discovery periodically queries the external video catalog for
// candidates matching saved monitor configs, filters them, and enqueues new
// finds as republishing tasks.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/repub-dev/repub/internal/config"
	"github.com/repub-dev/repub/internal/models"
	"github.com/repub-dev/repub/pkg/httpclient"
)

const defaultCatalogBaseURL = "https://www.googleapis.com/youtube/v3"

// videosPerCall is the catalog's cap on ids per videos.list call.
const videosPerCall = 50

// Candidate is one video surfaced by a search or channel listing.
type Candidate struct {
	VideoID      string
	Title        string
	ChannelID    string
	ChannelTitle string
	PublishedAt  *time.Time
}

// VideoDetails augments a candidate with statistics and duration.
type VideoDetails struct {
	Candidate
	ViewCount    int64
	LikeCount    int64
	CommentCount int64
	DurationSecs int
}

// Client talks to the external catalog API.
type Client struct {
	cfg    config.DiscoveryConfig
	http   *httpclient.Client
	logger *slog.Logger
}

// NewClient creates a catalog client.
func NewClient(cfg config.DiscoveryConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultCatalogBaseURL
	}
	hc := httpclient.New(httpclient.Config{
		Timeout:       30 * time.Second,
		RetryAttempts: 2,
		Logger:        logger,
	})
	return &Client{
		cfg:    cfg,
		http:   hc,
		logger: logger.With(slog.String("component", "discovery")),
	}
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	params.Set("key", c.cfg.APIKey)
	rawURL := c.cfg.BaseURL + path + "?" + params.Encode()

	resp, err := c.http.Get(ctx, rawURL)
	if err != nil {
		return fmt.Errorf("catalog %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("catalog %s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding catalog %s reply: %w", path, err)
	}
	return nil
}

type searchReply struct {
	Items []struct {
		ID struct {
			VideoID string `json:"videoId"`
		} `json:"id"`
		Snippet snippet `json:"snippet"`
	} `json:"items"`
}

type snippet struct {
	Title        string     `json:"title"`
	ChannelID    string     `json:"channelId"`
	ChannelTitle string     `json:"channelTitle"`
	PublishedAt  *time.Time `json:"publishedAt"`
}

// Search runs a keyword search constrained by the config's region, category
// and time window.
func (c *Client) Search(ctx context.Context, cfg *models.MonitorConfig, publishedAfter time.Time) ([]Candidate, error) {
	params := url.Values{
		"part":       {"snippet"},
		"type":       {"video"},
		"q":          {cfg.Keywords},
		"maxResults": {strconv.Itoa(max(1, cfg.MaxResults))},
	}
	if cfg.Order != "" {
		params.Set("order", string(cfg.Order))
	}
	if cfg.Region != "" {
		params.Set("regionCode", cfg.Region)
	}
	if cfg.CategoryID != "" {
		params.Set("videoCategoryId", cfg.CategoryID)
	}
	if !publishedAfter.IsZero() {
		params.Set("publishedAfter", publishedAfter.UTC().Format(time.RFC3339))
	}

	var reply searchReply
	if err := c.get(ctx, "/search", params, &reply); err != nil {
		return nil, err
	}

	out := make([]Candidate, 0, len(reply.Items))
	for _, item := range reply.Items {
		if item.ID.VideoID == "" {
			continue
		}
		out = append(out, Candidate{
			VideoID:      item.ID.VideoID,
			Title:        item.Snippet.Title,
			ChannelID:    item.Snippet.ChannelID,
			ChannelTitle: item.Snippet.ChannelTitle,
			PublishedAt:  item.Snippet.PublishedAt,
		})
	}
	return out, nil
}

type channelsReply struct {
	Items []struct {
		ContentDetails struct {
			RelatedPlaylists struct {
				Uploads string `json:"uploads"`
			} `json:"relatedPlaylists"`
		} `json:"contentDetails"`
	} `json:"items"`
}

type playlistItemsReply struct {
	Items []struct {
		Snippet        snippet `json:"snippet"`
		ContentDetails struct {
			VideoID          string     `json:"videoId"`
			VideoPublishedAt *time.Time `json:"videoPublishedAt"`
		} `json:"contentDetails"`
	} `json:"items"`
}

// ChannelUploads resolves a channel's uploads playlist and lists its latest
// items newer than publishedAfter. Costs two catalog calls.
func (c *Client) ChannelUploads(ctx context.Context, channelID string, publishedAfter time.Time, maxResults int) ([]Candidate, error) {
	var channels channelsReply
	err := c.get(ctx, "/channels", url.Values{
		"part": {"contentDetails"},
		"id":   {channelID},
	}, &channels)
	if err != nil {
		return nil, err
	}
	if len(channels.Items) == 0 {
		return nil, fmt.Errorf("channel %s not found", channelID)
	}
	playlistID := channels.Items[0].ContentDetails.RelatedPlaylists.Uploads
	if playlistID == "" {
		return nil, fmt.Errorf("channel %s has no uploads playlist", channelID)
	}

	var items playlistItemsReply
	err = c.get(ctx, "/playlistItems", url.Values{
		"part":       {"snippet,contentDetails"},
		"playlistId": {playlistID},
		"maxResults": {strconv.Itoa(max(1, maxResults))},
	}, &items)
	if err != nil {
		return nil, err
	}

	var out []Candidate
	for _, item := range items.Items {
		videoID := item.ContentDetails.VideoID
		if videoID == "" {
			continue
		}
		published := item.ContentDetails.VideoPublishedAt
		if published == nil {
			published = item.Snippet.PublishedAt
		}
		if !publishedAfter.IsZero() && published != nil && published.Before(publishedAfter) {
			continue
		}
		out = append(out, Candidate{
			VideoID:      videoID,
			Title:        item.Snippet.Title,
			ChannelID:    item.Snippet.ChannelID,
			ChannelTitle: item.Snippet.ChannelTitle,
			PublishedAt:  published,
		})
	}
	return out, nil
}

type videosReply struct {
	Items []struct {
		ID         string  `json:"id"`
		Snippet    snippet `json:"snippet"`
		Statistics struct {
			ViewCount    string `json:"viewCount"`
			LikeCount    string `json:"likeCount"`
			CommentCount string `json:"commentCount"`
		} `json:"statistics"`
		ContentDetails struct {
			Duration string `json:"duration"`
		} `json:"contentDetails"`
	} `json:"items"`
}

// Videos fetches statistics and content details for up to videosPerCall ids.
func (c *Client) Videos(ctx context.Context, ids []string) ([]VideoDetails, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if len(ids) > videosPerCall {
		ids = ids[:videosPerCall]
	}

	var reply videosReply
	err := c.get(ctx, "/videos", url.Values{
		"part": {"snippet,statistics,contentDetails"},
		"id":   {strings.Join(ids, ",")},
	}, &reply)
	if err != nil {
		return nil, err
	}

	out := make([]VideoDetails, 0, len(reply.Items))
	for _, item := range reply.Items {
		out = append(out, VideoDetails{
			Candidate: Candidate{
				VideoID:      item.ID,
				Title:        item.Snippet.Title,
				ChannelID:    item.Snippet.ChannelID,
				ChannelTitle: item.Snippet.ChannelTitle,
				PublishedAt:  item.Snippet.PublishedAt,
			},
			ViewCount:    parseCount(item.Statistics.ViewCount),
			LikeCount:    parseCount(item.Statistics.LikeCount),
			CommentCount: parseCount(item.Statistics.CommentCount),
			DurationSecs: parseISODuration(item.ContentDetails.Duration),
		})
	}
	return out, nil
}

func parseCount(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

// parseISODuration converts an ISO 8601 duration like PT1H2M3S (or P1DT2H)
// into seconds. Malformed input yields 0.
func parseISODuration(s string) int {
	if !strings.HasPrefix(s, "P") {
		return 0
	}
	var total, num int
	inTime := false
	for _, r := range s[1:] {
		switch {
		case r >= '0' && r <= '9':
			num = num*10 + int(r-'0')
		case r == 'T':
			inTime = true
			num = 0
		case r == 'D':
			total += num * 86400
			num = 0
		case r == 'H' && inTime:
			total += num * 3600
			num = 0
		case r == 'M' && inTime:
			total += num * 60
			num = 0
		case r == 'S' && inTime:
			total += num
			num = 0
		default:
			return 0
		}
	}
	return total
}

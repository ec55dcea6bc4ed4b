package moderation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func moderationServer(t *testing.T, fn func(req moderateRequest) moderateResponse) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req moderateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		json.NewEncoder(w).Encode(fn(req))
	}))
}

func TestModerateText_Pass(t *testing.T) {
	srv := moderationServer(t, func(req moderateRequest) moderateResponse {
		return moderateResponse{Pass: true}
	})
	defer srv.Close()

	c := NewClient(srv.URL, "key", nil)
	pass, details, err := c.ModerateText(context.Background(), "普通的视频简介内容", "description")
	require.NoError(t, err)
	assert.True(t, pass)
	assert.Empty(t, details)
}

func TestModerateText_ChunksLongText(t *testing.T) {
	var calls atomic.Int32
	srv := moderationServer(t, func(req moderateRequest) moderateResponse {
		calls.Add(1)
		assert.LessOrEqual(t, len([]rune(req.Content)), 500)
		return moderateResponse{Pass: true}
	})
	defer srv.Close()

	c := NewClient(srv.URL, "", nil)
	long := strings.Repeat("字", 1200)
	pass, _, err := c.ModerateText(context.Background(), long, "description")
	require.NoError(t, err)
	assert.True(t, pass)
	assert.EqualValues(t, 3, calls.Load())
}

func TestModerateText_AndOverChunks(t *testing.T) {
	var calls atomic.Int32
	srv := moderationServer(t, func(req moderateRequest) moderateResponse {
		// Second chunk fails.
		if calls.Add(1) == 2 {
			return moderateResponse{Pass: false, Details: []struct {
				Label      string  `json:"label"`
				Confidence float64 `json:"confidence"`
				Suggestion string  `json:"suggestion"`
				Reason     string  `json:"reason"`
			}{{Label: "ad", Confidence: 0.9, Suggestion: "review", Reason: "promo"}}}
		}
		return moderateResponse{Pass: true}
	})
	defer srv.Close()

	c := NewClient(srv.URL, "", nil)
	pass, details, err := c.ModerateText(context.Background(), strings.Repeat("字", 900), "description")
	require.NoError(t, err)
	assert.False(t, pass)
	require.Len(t, details, 1)
	assert.Equal(t, "ad", details[0].Label)
	// Known labels get a readable description.
	assert.Equal(t, "广告导流", details[0].Description)
}

func TestModerateText_DenyListOverridesServicePass(t *testing.T) {
	srv := moderationServer(t, func(req moderateRequest) moderateResponse {
		return moderateResponse{Pass: true}
	})
	defer srv.Close()

	c := NewClient(srv.URL, "", nil)
	pass, details, err := c.ModerateText(context.Background(), "喜欢的话加微信聊", "description")
	require.NoError(t, err)
	assert.False(t, pass)
	require.Len(t, details, 1)
	assert.Equal(t, "suspected_contact_leak", details[0].Label)
	assert.Equal(t, "block", details[0].Suggestion)
}

func TestModerateText_DenyListWithoutService(t *testing.T) {
	c := NewClient("", "", nil)
	pass, details, err := c.ModerateText(context.Background(), "join my Telegram group", "title")
	require.NoError(t, err)
	assert.False(t, pass)
	require.Len(t, details, 1)

	pass, details, err = c.ModerateText(context.Background(), "clean text", "title")
	require.NoError(t, err)
	assert.True(t, pass)
	assert.Empty(t, details)
}

func TestModerateText_UnknownLabelPassesThrough(t *testing.T) {
	srv := moderationServer(t, func(req moderateRequest) moderateResponse {
		return moderateResponse{Pass: false, Details: []struct {
			Label      string  `json:"label"`
			Confidence float64 `json:"confidence"`
			Suggestion string  `json:"suggestion"`
			Reason     string  `json:"reason"`
		}{{Label: "brand_new_label", Suggestion: "review"}}}
	})
	defer srv.Close()

	c := NewClient(srv.URL, "", nil)
	_, details, err := c.ModerateText(context.Background(), "whatever", "title")
	require.NoError(t, err)
	require.Len(t, details, 1)
	assert.Equal(t, "brand_new_label", details[0].Description)
}

func TestSplitChunks(t *testing.T) {
	assert.Nil(t, splitChunks("", 500))
	assert.Len(t, splitChunks(strings.Repeat("a", 500), 500), 1)
	assert.Len(t, splitChunks(strings.Repeat("a", 501), 500), 2)
}

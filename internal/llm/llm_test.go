package llm

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeChatAPI scripts completion responses.
type fakeChatAPI struct {
	fn    func(req openai.ChatCompletionRequest) (string, error)
	calls int
}

func (f *fakeChatAPI) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.calls++
	content, err := f.fn(req)
	if err != nil {
		return openai.ChatCompletionResponse{}, err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: content}},
		},
	}, nil
}

func testClient(fn func(req openai.ChatCompletionRequest) (string, error)) (*Client, *fakeChatAPI) {
	api := &fakeChatAPI{fn: fn}
	return &Client{api: api, model: "test-model", logger: slog.Default()}, api
}

func TestStripThinking(t *testing.T) {
	assert.Equal(t, "answer", StripThinking("<think>internal monologue</think>answer"))
	assert.Equal(t, "answer", StripThinking("```think\nsteps\n```\nanswer"))
	assert.Equal(t, "plain", StripThinking("plain"))
}

func TestExtractJSON(t *testing.T) {
	assert.Equal(t, `{"a":1}`, ExtractJSON(`Sure! Here you go: {"a":1}`))
	assert.Equal(t, `{"a":"}"}`, ExtractJSON(`{"a":"}"}`))
	assert.Equal(t, `[1,2]`, ExtractJSON("```json\n[1,2]\n```"))
	assert.Equal(t, `{"nested":{"b":2}}`, ExtractJSON(`prefix {"nested":{"b":2}} suffix`))
	assert.Equal(t, "", ExtractJSON("no json at all"))
}

func TestPreClean(t *testing.T) {
	in := "Great video! Visit https://example.com and email me@example.com or @myhandle. Like and subscribe!"
	out := PreClean(in)
	assert.NotContains(t, out, "example.com")
	assert.NotContains(t, out, "@myhandle")
	assert.NotContains(t, strings.ToLower(out), "like and subscribe")
	assert.Contains(t, out, "Great video!")
}

func TestTruncateChars(t *testing.T) {
	assert.Equal(t, "short", TruncateChars("short", 50, "…"))
	long := strings.Repeat("字", 60)
	out := TruncateChars(long, 50, "…")
	assert.Equal(t, 50, len([]rune(out)))
	assert.True(t, strings.HasSuffix(out, "…"))
}

func TestCompleteJSON_FallsBackWhenJSONModeRejected(t *testing.T) {
	c, api := testClient(func(req openai.ChatCompletionRequest) (string, error) {
		if req.ResponseFormat != nil {
			return "", errors.New("invalid parameter: response_format")
		}
		return `here is the result {"ok":true}`, nil
	})

	raw, err := c.CompleteJSON(context.Background(), "sys", "user")
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(raw))
	assert.Equal(t, 2, api.calls)
	assert.True(t, c.jsonModeUnsupported)

	// Next call skips JSON mode entirely.
	_, err = c.CompleteJSON(context.Background(), "sys", "user")
	require.NoError(t, err)
	assert.Equal(t, 3, api.calls)
}

func TestCompleteJSON_StripsThinking(t *testing.T) {
	c, _ := testClient(func(req openai.ChatCompletionRequest) (string, error) {
		return "<think>let me reason</think>{\"v\":1}", nil
	})
	raw, err := c.CompleteJSON(context.Background(), "sys", "user")
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":1}`, string(raw))
}

func TestTranslateField_Title(t *testing.T) {
	c, _ := testClient(func(req openai.ChatCompletionRequest) (string, error) {
		return `{"translation":"` + strings.Repeat("长", 60) + `"}`, nil
	})
	out, ok := c.TranslateField(context.Background(), "a very long title", "中文", FieldTitle)
	require.True(t, ok)
	assert.LessOrEqual(t, len([]rune(out)), MaxTitleChars)
}

func TestTranslateField_StrictRetryOnEcho(t *testing.T) {
	calls := 0
	c, _ := testClient(func(req openai.ChatCompletionRequest) (string, error) {
		calls++
		if calls == 1 {
			// Parrot the input back, triggering the strict retry.
			return `{"translation":"original title"}`, nil
		}
		return `{"translation":"译好的标题"}`, nil
	})
	out, ok := c.TranslateField(context.Background(), "original title", "中文", FieldTitle)
	require.True(t, ok)
	assert.Equal(t, "译好的标题", out)
	assert.Equal(t, 2, calls)
}

func TestTranslateField_TotalFailure(t *testing.T) {
	c, _ := testClient(func(req openai.ChatCompletionRequest) (string, error) {
		return "", errors.New("provider down")
	})
	_, ok := c.TranslateField(context.Background(), "title", "中文", FieldTitle)
	assert.False(t, ok)
}

func TestGenerateTags_PadsToSix(t *testing.T) {
	c, _ := testClient(func(req openai.ChatCompletionRequest) (string, error) {
		return `{"tags":["音乐","现场"]}`, nil
	})
	tags := c.GenerateTags(context.Background(), "title", "desc")
	require.Len(t, tags, TagCount)
	assert.Equal(t, "音乐", tags[0])
	assert.Equal(t, "", tags[2])
}

func TestGenerateTags_TruncatesLongTags(t *testing.T) {
	long := strings.Repeat("标", 30)
	c, _ := testClient(func(req openai.ChatCompletionRequest) (string, error) {
		b, _ := json.Marshal(map[string]any{"tags": []string{long}})
		return string(b), nil
	})
	tags := c.GenerateTags(context.Background(), "t", "d")
	assert.LessOrEqual(t, len([]rune(tags[0])), TagMaxChars)
}

func testCatalog() *Catalog {
	return NewCatalog([]Category{
		{CategoryID: "1", Name: "音乐", Description: "音乐内容", Sub: []Category{
			{CategoryID: "11", Name: "翻唱", Description: "翻唱作品"},
		}},
		{CategoryID: "2", Name: "游戏", Description: "游戏内容"},
		{CategoryID: "3", Name: "生活", Description: "生活记录"},
	})
}

func TestCatalog_RouteByRules(t *testing.T) {
	cat := testCatalog()

	id, ok := cat.RouteByRules("Epic Gameplay Highlights", "")
	require.True(t, ok)
	assert.Equal(t, "2", id)

	id, ok = cat.RouteByRules("新歌翻唱", "这是一首歌曲")
	require.True(t, ok)
	assert.Equal(t, "1", id)

	_, ok = cat.RouteByRules("untitled", "nothing matching")
	assert.False(t, ok)
}

func TestClassifyCategory_ValidatesModelAnswer(t *testing.T) {
	cat := testCatalog()

	// Model returns an unknown ID; with no rule match the result is empty.
	c, _ := testClient(func(req openai.ChatCompletionRequest) (string, error) {
		return `{"category_id":"999"}`, nil
	})
	_, ok := c.ClassifyCategory(context.Background(), "untitled", "no keywords", cat)
	assert.False(t, ok)

	// Valid model answer is accepted.
	c, _ = testClient(func(req openai.ChatCompletionRequest) (string, error) {
		return `{"category_id":"3"}`, nil
	})
	id, ok := c.ClassifyCategory(context.Background(), "untitled", "no keywords", cat)
	require.True(t, ok)
	assert.Equal(t, "3", id)
}

func TestClassifyCategory_RulesShortCircuit(t *testing.T) {
	cat := testCatalog()
	c, api := testClient(func(req openai.ChatCompletionRequest) (string, error) {
		return "", errors.New("should not be called")
	})
	id, ok := c.ClassifyCategory(context.Background(), "Minecraft 游戏实况", "", cat)
	require.True(t, ok)
	assert.Equal(t, "2", id)
	assert.Zero(t, api.calls)
}

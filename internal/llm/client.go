// Package llm wraps a chat-completion provider for translation, tagging,
// category classification, and subtitle work.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// chatAPI is the slice of the provider client we call. It matches
// *openai.Client so tests can substitute a fake.
type chatAPI interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Client issues chat-completion requests with forced JSON output where the
// provider supports it, falling back to regex extraction where it does not.
type Client struct {
	api    chatAPI
	model  string
	logger *slog.Logger

	// jsonModeUnsupported is set once a provider rejects response_format,
	// so later calls skip straight to the fallback.
	jsonModeUnsupported bool
}

// NewClient creates a Client against an OpenAI-compatible endpoint.
func NewClient(baseURL, apiKey, model string, logger *slog.Logger) *Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimSuffix(baseURL, "/")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		api:    openai.NewClientWithConfig(cfg),
		model:  model,
		logger: logger.With("component", "llm"),
	}
}

// Configured reports whether the client can actually make calls.
func (c *Client) Configured() bool {
	return c != nil && c.model != ""
}

// Complete issues a plain-text chat completion.
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion: empty choice list")
	}
	return StripThinking(resp.Choices[0].Message.Content), nil
}

// CompleteJSON issues a chat completion expected to yield one JSON object
// (or array). JSON response mode is requested when the provider supports
// it; either way the reply is stripped of reasoning wrappers and reduced
// to its JSON payload.
func (c *Client) CompleteJSON(ctx context.Context, system, user string) ([]byte, error) {
	content, err := c.completeRaw(ctx, system, user, !c.jsonModeUnsupported)
	if err != nil && !c.jsonModeUnsupported && isResponseFormatError(err) {
		c.logger.Debug("provider rejects json response mode, falling back")
		c.jsonModeUnsupported = true
		content, err = c.completeRaw(ctx, system, user, false)
	}
	if err != nil {
		return nil, err
	}

	payload := ExtractJSON(StripThinking(content))
	if payload == "" {
		return nil, fmt.Errorf("no JSON payload in completion: %s", truncate(content, 120))
	}
	return []byte(payload), nil
}

func (c *Client) completeRaw(ctx context.Context, system, user string, jsonMode bool) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	}
	if jsonMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion: empty choice list")
	}
	return resp.Choices[0].Message.Content, nil
}

// isResponseFormatError spots providers that reject response_format.
func isResponseFormatError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "response_format") ||
		strings.Contains(msg, "json_object") ||
		strings.Contains(msg, "invalid parameter")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Package asr transcribes audio clips against a Whisper-compatible HTTP
// endpoint, with response-format negotiation and a FireRed-style
// process_all alternative.
package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/repub-dev/repub/internal/config"
	"github.com/repub-dev/repub/internal/subtitle"
)

// ErrAPIIncompatible signals that the endpoint rejected every response
// format we can speak. The task fails and is not retried.
var ErrAPIIncompatible = errors.New("transcription API incompatible")

// Response formats tried in degradation order.
const (
	formatVerboseJSON = "verbose_json"
	formatSRT         = "srt"
)

// formatErrorHints identify a format-support rejection in provider error
// text.
var formatErrorHints = []string{
	"response_format",
	"response format",
	"unsupported format",
	"format not supported",
	"verbose_json",
	"invalid format",
}

const (
	maxAttempts    = 3
	backoffCap     = 30 * time.Second
	initialBackoff = 2 * time.Second
	defaultTimeout = 5 * time.Minute
)

// formatCache remembers the first response format the provider accepted.
// Process-wide: every task shares the same provider.
var (
	formatCacheMu sync.Mutex
	cachedFormat  string
)

// ResetFormatCache clears the negotiated format. Also the test hook.
func ResetFormatCache() {
	formatCacheMu.Lock()
	defer formatCacheMu.Unlock()
	cachedFormat = ""
}

func getCachedFormat() string {
	formatCacheMu.Lock()
	defer formatCacheMu.Unlock()
	return cachedFormat
}

func setCachedFormat(f string) {
	formatCacheMu.Lock()
	defer formatCacheMu.Unlock()
	cachedFormat = f
}

// Result is one transcribed clip.
type Result struct {
	Cues     []subtitle.Cue
	Language string
}

// Client calls the transcription service.
type Client struct {
	cfg    config.ASRConfig
	http   *http.Client
	logger *slog.Logger
}

// NewClient creates a Client.
func NewClient(cfg config.ASRConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: timeout},
		logger: logger.With("component", "asr"),
	}
}

// Transcribe sends one WAV clip. clipDuration (seconds) feeds timestamp
// scale inference; language may be empty.
func (c *Client) Transcribe(ctx context.Context, wavPath string, clipDuration float64, language string) (*Result, error) {
	if c.cfg.ProcessAll != "" {
		return c.transcribeProcessAll(ctx, wavPath, clipDuration)
	}
	return c.transcribeWhisper(ctx, wavPath, clipDuration, language)
}

// transcribeWhisper negotiates the response format: the cached format first,
// then verbose_json, then srt. When a previously working format starts
// returning empty or format errors, the cache is dropped and all formats
// are retried once more.
func (c *Client) transcribeWhisper(ctx context.Context, wavPath string, clipDuration float64, language string) (*Result, error) {
	formats := []string{formatVerboseJSON, formatSRT}
	if cached := getCachedFormat(); cached != "" {
		formats = []string{cached}
	}

	result, err := c.tryFormats(ctx, wavPath, clipDuration, language, formats)
	if err == nil {
		return result, nil
	}
	if getCachedFormat() != "" {
		// The cache went stale; retry the full ladder.
		c.logger.Warn("cached response format failed, renegotiating", "error", err)
		ResetFormatCache()
		return c.tryFormats(ctx, wavPath, clipDuration, language, []string{formatVerboseJSON, formatSRT})
	}
	return nil, err
}

func (c *Client) tryFormats(ctx context.Context, wavPath string, clipDuration float64, language string, formats []string) (*Result, error) {
	var lastErr error
	sawFormatError := false
	for _, format := range formats {
		result, err := c.callWithRetry(ctx, wavPath, clipDuration, language, format)
		if err == nil {
			setCachedFormat(format)
			return result, nil
		}
		lastErr = err
		if isFormatError(err) {
			sawFormatError = true
			continue
		}
		return nil, err
	}
	if sawFormatError {
		return nil, fmt.Errorf("%w: %v", ErrAPIIncompatible, lastErr)
	}
	return nil, lastErr
}

// callWithRetry retries transient failures with capped exponential backoff.
// Format rejections are surfaced immediately.
func (c *Client) callWithRetry(ctx context.Context, wavPath string, clipDuration float64, language, format string) (*Result, error) {
	backoff := initialBackoff
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > backoffCap {
				backoff = backoffCap
			}
		}
		result, err := c.call(ctx, wavPath, clipDuration, language, format)
		if err == nil {
			return result, nil
		}
		if isFormatError(err) {
			return nil, err
		}
		lastErr = err
		c.logger.Debug("transcription attempt failed",
			"attempt", attempt+1, "format", format, "error", err)
	}
	return nil, fmt.Errorf("transcribing after %d attempts: %w", maxAttempts, lastErr)
}

func (c *Client) call(ctx context.Context, wavPath string, clipDuration float64, language, format string) (*Result, error) {
	body, contentType, err := c.buildMultipart(wavPath, language, format)
	if err != nil {
		return nil, err
	}

	url := strings.TrimSuffix(c.cfg.BaseURL, "/") + "/audio/transcriptions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling transcription endpoint: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("transcription endpoint returned %d: %s", resp.StatusCode, truncate(string(payload), 300))
	}

	switch format {
	case formatSRT:
		cues := subtitle.ParseSRT(string(payload), c.logger)
		if len(cues) == 0 {
			return nil, fmt.Errorf("empty srt transcription")
		}
		return &Result{Cues: cues}, nil
	default:
		return parseVerboseJSON(payload, clipDuration)
	}
}

// transcribeProcessAll hits a FireRed-style endpoint that runs the whole
// pipeline server-side and answers with SRT.
func (c *Client) transcribeProcessAll(ctx context.Context, wavPath string, clipDuration float64) (*Result, error) {
	body, contentType, err := c.buildMultipart(wavPath, "", "")
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.ProcessAll, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling process_all endpoint: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("process_all endpoint returned %d: %s", resp.StatusCode, truncate(string(payload), 300))
	}

	// Some deployments wrap the SRT in JSON.
	var wrapped struct {
		SRT  string `json:"srt"`
		Text string `json:"text"`
	}
	content := string(payload)
	if json.Unmarshal(payload, &wrapped) == nil && wrapped.SRT != "" {
		content = wrapped.SRT
	}
	cues := subtitle.ParseSRT(content, c.logger)
	if len(cues) == 0 && wrapped.Text != "" {
		cues = []subtitle.Cue{{
			Start: 0,
			End:   time.Duration(clipDuration * float64(time.Second)),
			Text:  strings.TrimSpace(wrapped.Text),
		}}
	}
	if len(cues) == 0 {
		return nil, fmt.Errorf("empty process_all transcription")
	}
	return &Result{Cues: cues}, nil
}

func (c *Client) buildMultipart(wavPath, language, format string) (*bytes.Buffer, string, error) {
	f, err := os.Open(wavPath)
	if err != nil {
		return nil, "", fmt.Errorf("opening clip: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filepath.Base(wavPath))
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", err
	}
	if c.cfg.Model != "" {
		w.WriteField("model", c.cfg.Model)
	}
	if language != "" {
		w.WriteField("language", language)
	}
	if c.cfg.Prompt != "" {
		w.WriteField("prompt", c.cfg.Prompt)
	}
	if format != "" {
		w.WriteField("response_format", format)
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func isFormatError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, hint := range formatErrorHints {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

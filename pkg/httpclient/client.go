// Package httpclient provides a resilient HTTP client with automatic
// retries, transparent decompression, and structured logging.
//
// The client wraps the standard http.Client and adds the behavior the
// pipeline's remote collaborators need:
//   - Automatic retries with exponential backoff, capped
//   - Transparent decompression (gzip, deflate, brotli)
//   - Structured logging with bounded response body samples
package httpclient

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
)

// Common errors returned by the client.
var (
	ErrMaxRetries = errors.New("max retries exceeded")
)

// Default configuration values.
const (
	DefaultTimeout           = 30 * time.Second
	DefaultRetryAttempts     = 3
	DefaultRetryDelay        = 1 * time.Second
	DefaultRetryMaxDelay     = 30 * time.Second
	DefaultBackoffMultiplier = 2.0
	DefaultUserAgent         = "repub-httpclient/1.0"
)

// Config holds the configuration for the HTTP client.
type Config struct {
	// Timeout is the overall per-request timeout.
	Timeout time.Duration

	// RetryAttempts is the number of retry attempts for failed requests.
	RetryAttempts int

	// RetryDelay is the initial delay between retries.
	RetryDelay time.Duration

	// RetryMaxDelay caps the exponential backoff.
	RetryMaxDelay time.Duration

	// BackoffMultiplier is the multiplier for exponential backoff.
	BackoffMultiplier float64

	// UserAgent is the User-Agent header sent with requests.
	UserAgent string

	// Logger is the structured logger for request/response logging.
	Logger *slog.Logger

	// EnableDecompression enables automatic response decompression.
	EnableDecompression bool

	// BaseClient is the underlying http.Client to use.
	// If nil, a default client is created.
	BaseClient *http.Client
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:             DefaultTimeout,
		RetryAttempts:       DefaultRetryAttempts,
		RetryDelay:          DefaultRetryDelay,
		RetryMaxDelay:       DefaultRetryMaxDelay,
		BackoffMultiplier:   DefaultBackoffMultiplier,
		UserAgent:           DefaultUserAgent,
		Logger:              slog.Default(),
		EnableDecompression: true,
	}
}

// Client is a resilient HTTP client with retry support.
type Client struct {
	config Config
	client *http.Client
	logger *slog.Logger
}

// New creates a new resilient HTTP client with the given configuration.
func New(config Config) *Client {
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = DefaultRetryDelay
	}
	if config.RetryMaxDelay <= 0 {
		config.RetryMaxDelay = DefaultRetryMaxDelay
	}
	if config.BackoffMultiplier <= 1 {
		config.BackoffMultiplier = DefaultBackoffMultiplier
	}
	if config.UserAgent == "" {
		config.UserAgent = DefaultUserAgent
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	client := config.BaseClient
	if client == nil {
		client = &http.Client{Timeout: config.Timeout}
	}

	return &Client{
		config: config,
		client: client,
		logger: config.Logger,
	}
}

// IsRetryableStatus reports whether a status code should be retried.
// Rate limiting and upstream transients are retryable; client errors are not.
func IsRetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// Do executes the request with retries. The request body, if any, must be
// replayable: callers pass bodies via DoWithBody when retries matter.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.doRetry(req.Context(), func() (*http.Request, error) {
		return req.Clone(req.Context()), nil
	})
}

// DoWithBody executes a request whose body is rebuilt from buf on each attempt.
func (c *Client) DoWithBody(ctx context.Context, method, url string, buf []byte, header http.Header) (*http.Response, error) {
	return c.doRetry(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(buf))
		if err != nil {
			return nil, err
		}
		for k, vs := range header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
		return req, nil
	})
}

// Get issues a GET request with retries.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	return c.DoWithBody(ctx, http.MethodGet, url, nil, nil)
}

func (c *Client) doRetry(ctx context.Context, build func() (*http.Request, error)) (*http.Response, error) {
	var lastErr error
	delay := c.config.RetryDelay

	for attempt := 0; attempt <= c.config.RetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * c.config.BackoffMultiplier)
			if delay > c.config.RetryMaxDelay {
				delay = c.config.RetryMaxDelay
			}
		}

		req, err := build()
		if err != nil {
			return nil, fmt.Errorf("building request: %w", err)
		}
		if req.Header.Get("User-Agent") == "" {
			req.Header.Set("User-Agent", c.config.UserAgent)
		}
		if c.config.EnableDecompression && req.Header.Get("Accept-Encoding") == "" {
			req.Header.Set("Accept-Encoding", "gzip, deflate, br")
		}

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = err
			c.logger.Debug("request failed, will retry",
				slog.String("url", req.URL.String()),
				slog.Int("attempt", attempt+1),
				slog.Any("error", err))
			continue
		}

		// With a zero retry budget the caller handles statuses itself, so a
		// retryable status passes through like any other response.
		if IsRetryableStatus(resp.StatusCode) && c.config.RetryAttempts > 0 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			resp.Body.Close()
			lastErr = fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
			if attempt >= c.config.RetryAttempts {
				break
			}
			c.logger.Debug("retryable status, will retry",
				slog.String("url", req.URL.String()),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt+1))
			continue
		}

		if c.config.EnableDecompression {
			if err := decompressResponse(resp); err != nil {
				resp.Body.Close()
				return nil, fmt.Errorf("decompressing response: %w", err)
			}
		}

		return resp, nil
	}

	return nil, fmt.Errorf("%w: %v", ErrMaxRetries, lastErr)
}

// decompressResponse swaps the response body for a decompressing reader
// based on Content-Encoding.
func decompressResponse(resp *http.Response) error {
	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return err
		}
		resp.Body = &wrappedBody{Reader: gz, closer: resp.Body}
	case "deflate":
		fr := flate.NewReader(resp.Body)
		resp.Body = &wrappedBody{Reader: fr, closer: resp.Body}
	case "br":
		br := brotli.NewReader(resp.Body)
		resp.Body = &wrappedBody{Reader: br, closer: resp.Body}
	default:
		return nil
	}
	resp.Header.Del("Content-Encoding")
	resp.ContentLength = -1
	return nil
}

// wrappedBody closes the original body when the decompressed reader is closed.
type wrappedBody struct {
	io.Reader
	closer io.Closer
}

func (w *wrappedBody) Close() error {
	if c, ok := w.Reader.(io.Closer); ok {
		c.Close()
	}
	return w.closer.Close()
}

// Package uploader implements the sink site's proprietary chunked upload
// API: token acquisition, sequential fragment transfer, cover upload, and
// the final publish call.
package uploader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/repub-dev/repub/internal/config"
	"github.com/repub-dev/repub/pkg/httpclient"
)

// ErrNotLoggedIn is returned when neither a cookie jar nor credentials are
// available.
var ErrNotLoggedIn = errors.New("no sink site session: configure a cookie jar or credentials")

const (
	// Browser identity expected by the upload endpoints.
	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	referer   = "https://member.acfun.cn/upload-video"

	// Per-request cap for fragment and API calls.
	requestTimeout = 30 * time.Second

	// Retries after the first attempt, per fragment and per API step.
	stepRetries = 3
)

// fragmentRetryDelay is the pause between step retries. Variable so tests
// can shorten it.
var fragmentRetryDelay = 2 * time.Second

// Endpoints groups the base URLs of the upload API. The member host serves
// the session-scoped calls, the upload host receives the raw fragments.
type Endpoints struct {
	Member string
	Upload string
	Login  string
}

// DefaultEndpoints returns the production hosts.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		Member: "https://member.acfun.cn",
		Upload: "https://upload.kuaishouzt.com",
		Login:  "https://id.app.acfun.cn",
	}
}

// Client is a session-holding upload API client. One Client drives at most
// one upload at a time; fragments are transmitted sequentially.
type Client struct {
	cfg       config.UploadConfig
	endpoints Endpoints
	http      *httpclient.Client
	jar       http.CookieJar
	logger    *slog.Logger

	mu       sync.Mutex
	loggedIn bool
}

// NewClient creates an upload client. The session cookie jar starts empty;
// EnsureLogin populates it.
func NewClient(cfg config.UploadConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	jar, _ := cookiejar.New(nil)

	hc := httpclient.New(httpclient.Config{
		Timeout:       requestTimeout,
		RetryAttempts: 0, // each upload step runs its own retry loop
		UserAgent:     userAgent,
		Logger:        logger,
		BaseClient:    &http.Client{Jar: jar, Timeout: requestTimeout},
	})

	return &Client{
		cfg:       cfg,
		endpoints: DefaultEndpoints(),
		http:      hc,
		jar:       jar,
		logger:    logger.With(slog.String("component", "uploader")),
	}
}

// WithEndpoints overrides the API hosts.
func (c *Client) WithEndpoints(e Endpoints) *Client {
	c.endpoints = e
	return c
}

// EnsureLogin establishes a session. A parseable cookie jar file alone
// suffices; otherwise the configured credentials drive a form login. The
// session persists for the lifetime of the Client.
func (c *Client) EnsureLogin(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loggedIn {
		return nil
	}

	if c.cfg.CookieJar != "" {
		entries, err := LoadJarFile(c.cfg.CookieJar)
		if err == nil && len(entries) > 0 {
			installCookies(c.jar, entries)
			c.logger.Info("session restored from cookie jar",
				slog.String("path", c.cfg.CookieJar),
				slog.Int("cookies", len(entries)))
			c.loggedIn = true
			return nil
		}
		c.logger.Warn("cookie jar unusable, falling back to credentials",
			slog.String("path", c.cfg.CookieJar), slog.Any("error", err))
	}

	if c.cfg.Username == "" || c.cfg.Password == "" {
		return ErrNotLoggedIn
	}

	form := url.Values{
		"username": {c.cfg.Username},
		"password": {c.cfg.Password},
		"key":      {""},
		"captcha":  {""},
	}
	var out struct {
		Result int    `json:"result"`
		ErrMsg string `json:"error_msg"`
	}
	if err := c.postForm(ctx, c.endpoints.Login+"/rest/web/login/signin", form, &out); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if out.Result != 0 {
		return fmt.Errorf("login rejected (result=%d): %s", out.Result, out.ErrMsg)
	}

	c.logger.Info("logged in", slog.String("username", c.cfg.Username))
	c.loggedIn = true
	return nil
}

// memberPost issues a form POST against the member host and decodes the
// JSON reply, requiring result == 0.
func (c *Client) memberPost(ctx context.Context, path string, form url.Values, out any) error {
	return c.apiForm(ctx, c.endpoints.Member+path, form, out, 0)
}

// uploadPost issues a call against the upload host, which signals success
// with result == 1.
func (c *Client) uploadPost(ctx context.Context, rawURL string, body []byte, contentType string) error {
	header := http.Header{
		"Content-Type": {contentType},
		"Referer":      {referer},
	}
	resp, err := c.http.DoWithBody(ctx, http.MethodPost, rawURL, body, header)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("upload host returned %d", resp.StatusCode)
	}
	var out struct {
		Result int    `json:"result"`
		Msg    string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decoding upload reply: %w", err)
	}
	if out.Result != 1 {
		return fmt.Errorf("upload host rejected call (result=%d): %s", out.Result, out.Msg)
	}
	return nil
}

func (c *Client) postForm(ctx context.Context, rawURL string, form url.Values, out any) error {
	header := http.Header{
		"Content-Type": {"application/x-www-form-urlencoded"},
		"Referer":      {referer},
	}
	resp, err := c.http.DoWithBody(ctx, http.MethodPost, rawURL, []byte(form.Encode()), header)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding reply: %w", err)
	}
	return nil
}

// apiForm posts a form and retries transient failures, requiring the given
// result code on success.
func (c *Client) apiForm(ctx context.Context, rawURL string, form url.Values, out any, wantResult int) error {
	var lastErr error
	for attempt := 0; attempt <= stepRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(fragmentRetryDelay):
			}
		}

		raw := json.RawMessage{}
		if err := c.postForm(ctx, rawURL, form, &raw); err != nil {
			lastErr = err
			continue
		}
		var envelope struct {
			Result int    `json:"result"`
			ErrMsg string `json:"error_msg"`
		}
		if err := json.Unmarshal(raw, &envelope); err != nil {
			return fmt.Errorf("decoding reply: %w", err)
		}
		if envelope.Result != wantResult {
			// API-level rejection is not transient.
			return fmt.Errorf("api call rejected (result=%d): %s", envelope.Result, envelope.ErrMsg)
		}
		if out != nil {
			if err := json.Unmarshal(raw, out); err != nil {
				return fmt.Errorf("decoding reply: %w", err)
			}
		}
		return nil
	}
	return fmt.Errorf("api call failed after retries: %w", lastErr)
}

// installCookies loads parsed jar entries into the live session jar.
func installCookies(jar http.CookieJar, entries []JarEntry) {
	byDomain := map[string][]*http.Cookie{}
	for _, e := range entries {
		domain := strings.TrimPrefix(e.Domain, ".")
		byDomain[domain] = append(byDomain[domain], &http.Cookie{
			Name:   e.Name,
			Value:  e.Value,
			Path:   e.Path,
			Domain: e.Domain,
		})
	}
	for domain, cookies := range byDomain {
		u := &url.URL{Scheme: "https", Host: domain}
		jar.SetCookies(u, cookies)
	}
}

package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
)

// BrowserCookie is one cookie as exported by the browser extension.
type BrowserCookie struct {
	Domain   string  `json:"domain"`
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Path     string  `json:"path,omitempty"`
	Expires  float64 `json:"expirationDate,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	HTTPOnly bool    `json:"httpOnly,omitempty"`
	Session  bool    `json:"session,omitempty"`
}

// CookieSyncRequest is the payload pushed by the browser extension.
type CookieSyncRequest struct {
	Source      string          `json:"source,omitempty" doc:"Extension identifier"`
	Timestamp   int64           `json:"timestamp,omitempty" doc:"Export time in epoch millis"`
	Cookies     []BrowserCookie `json:"cookies" doc:"Exported cookies"`
	CookieCount int             `json:"cookieCount,omitempty" doc:"Count claimed by the extension"`
	UserAgent   string          `json:"userAgent,omitempty"`
	URL         string          `json:"url,omitempty"`
}

// RefreshHint records that the downloader hit anti-bot gating and the UI
// should prompt for a cookie refresh.
type RefreshHint struct {
	Reason     string    `json:"reason"`
	VideoURL   string    `json:"video_url,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// CookieStatusResponse describes the on-disk source-site cookie jar.
type CookieStatusResponse struct {
	Exists      bool         `json:"exists"`
	Path        string       `json:"path,omitempty"`
	SizeBytes   int64        `json:"size_bytes,omitempty"`
	ModifiedAt  *time.Time   `json:"modified_at,omitempty"`
	CookieCount int          `json:"cookie_count,omitempty"`
	Refresh     *RefreshHint `json:"refresh_needed,omitempty"`
}

// CookieHandler manages the source-site cookie jar pushed by the browser
// extension.
type CookieHandler struct {
	jarPath string
	logger  *slog.Logger

	mu   sync.Mutex
	hint *RefreshHint
}

// NewCookieHandler creates a cookie handler writing to jarPath.
func NewCookieHandler(jarPath string, logger *slog.Logger) *CookieHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CookieHandler{
		jarPath: jarPath,
		logger:  logger.With(slog.String("component", "api")),
	}
}

// CookieSyncInput is the input for the sync endpoint.
type CookieSyncInput struct {
	Body CookieSyncRequest
}

// CookieStatusOutput is the output for the status endpoint.
type CookieStatusOutput struct {
	Body CookieStatusResponse
}

// RefreshNeededInput is the input for the refresh-needed endpoint.
type RefreshNeededInput struct {
	Body struct {
		Reason   string `json:"reason" doc:"Why a refresh is needed" minLength:"1"`
		VideoURL string `json:"video_url,omitempty" doc:"URL that triggered the hint"`
	}
}

// Register registers the cookie routes with the API.
func (h *CookieHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "syncCookies",
		Method:      "POST",
		Path:        "/api/cookies/sync",
		Summary:     "Replace the source-site cookie jar",
		Tags:        []string{"Cookies"},
	}, h.Sync)

	huma.Register(api, huma.Operation{
		OperationID: "getCookieStatus",
		Method:      "GET",
		Path:        "/api/cookies/status",
		Summary:     "Describe the on-disk cookie jar",
		Tags:        []string{"Cookies"},
	}, h.Status)

	huma.Register(api, huma.Operation{
		OperationID: "cookieRefreshNeeded",
		Method:      "POST",
		Path:        "/api/cookies/refresh-needed",
		Summary:     "Record that the downloader needs fresh cookies",
		Tags:        []string{"Cookies"},
	}, h.RefreshNeeded)
}

// Sync writes the pushed cookies as a Netscape-format jar.
func (h *CookieHandler) Sync(ctx context.Context, input *CookieSyncInput) (*ActionOutput, error) {
	if len(input.Body.Cookies) == 0 {
		return nil, huma.Error400BadRequest("no cookies in payload")
	}

	jar := renderNetscapeJar(input.Body.Cookies)
	if err := os.MkdirAll(filepath.Dir(h.jarPath), 0o755); err != nil {
		return nil, huma.Error500InternalServerError("creating cookie directory", err)
	}
	if err := os.WriteFile(h.jarPath, []byte(jar), 0o600); err != nil {
		return nil, huma.Error500InternalServerError("writing cookie jar", err)
	}

	// A fresh jar clears the refresh prompt.
	h.mu.Lock()
	h.hint = nil
	h.mu.Unlock()

	h.logger.Info("cookie jar synced",
		slog.String("source", input.Body.Source),
		slog.Int("cookies", len(input.Body.Cookies)))

	return &ActionOutput{Body: ActionResponse{
		Success: true,
		Message: fmt.Sprintf("stored %d cookies", len(input.Body.Cookies)),
		Count:   len(input.Body.Cookies),
	}}, nil
}

// Status describes the jar file and any pending refresh hint.
func (h *CookieHandler) Status(ctx context.Context, _ *struct{}) (*CookieStatusOutput, error) {
	h.mu.Lock()
	hint := h.hint
	h.mu.Unlock()

	out := CookieStatusResponse{Path: h.jarPath, Refresh: hint}

	info, err := os.Stat(h.jarPath)
	if err != nil {
		return &CookieStatusOutput{Body: out}, nil
	}
	out.Exists = true
	out.SizeBytes = info.Size()
	mod := info.ModTime()
	out.ModifiedAt = &mod

	if data, err := os.ReadFile(h.jarPath); err == nil {
		out.CookieCount = countJarEntries(string(data))
	}
	return &CookieStatusOutput{Body: out}, nil
}

// RefreshNeeded stores the downloader's anti-bot hint for the UI.
func (h *CookieHandler) RefreshNeeded(ctx context.Context, input *RefreshNeededInput) (*ActionOutput, error) {
	h.mu.Lock()
	h.hint = &RefreshHint{
		Reason:     input.Body.Reason,
		VideoURL:   input.Body.VideoURL,
		RecordedAt: time.Now(),
	}
	h.mu.Unlock()

	h.logger.Warn("cookie refresh requested",
		slog.String("reason", input.Body.Reason),
		slog.String("video_url", input.Body.VideoURL))

	return &ActionOutput{Body: ActionResponse{Success: true, Message: "refresh hint recorded"}}, nil
}

// renderNetscapeJar serializes cookies in the Netscape cookies.txt format
// the downloader consumes.
func renderNetscapeJar(cookies []BrowserCookie) string {
	var b strings.Builder
	b.WriteString("# Netscape HTTP Cookie File\n")
	for _, c := range cookies {
		if c.Name == "" {
			continue
		}
		path := c.Path
		if path == "" {
			path = "/"
		}
		includeSubdomains := "FALSE"
		if strings.HasPrefix(c.Domain, ".") {
			includeSubdomains = "TRUE"
		}
		secure := "FALSE"
		if c.Secure {
			secure = "TRUE"
		}
		expiry := int64(0)
		if !c.Session && c.Expires > 0 {
			expiry = int64(c.Expires)
		}
		fmt.Fprintf(&b, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			c.Domain, includeSubdomains, path, secure, expiry, c.Name, c.Value)
	}
	return b.String()
}

// countJarEntries counts non-comment non-blank jar lines.
func countJarEntries(jar string) int {
	count := 0
	for _, line := range strings.Split(jar, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		count++
	}
	return count
}

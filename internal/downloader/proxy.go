package downloader

import (
	"net/url"

	"github.com/repub-dev/repub/internal/config"
)

// ProxyURL builds the effective proxy URL, merging the configured user and
// password into the URL authority. Returns "" when the proxy is disabled
// or unparseable.
func ProxyURL(cfg config.DownloadConfig) string {
	if !bool(cfg.ProxyEnabled) || cfg.ProxyURL == "" {
		return ""
	}
	u, err := url.Parse(cfg.ProxyURL)
	if err != nil || u.Host == "" {
		return ""
	}
	if cfg.ProxyUser != "" {
		if cfg.ProxyPass != "" {
			u.User = url.UserPassword(cfg.ProxyUser, cfg.ProxyPass)
		} else {
			u.User = url.User(cfg.ProxyUser)
		}
	}
	return u.String()
}

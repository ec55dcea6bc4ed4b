package downloader

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
)

var playlistURLPattern = regexp.MustCompile(`[?&]list=|/playlist\b`)

// IsPlaylistURL reports whether the URL points at a playlist rather than a
// single video.
func IsPlaylistURL(url string) bool {
	return playlistURLPattern.MatchString(url)
}

// ExpandPlaylist resolves a playlist URL into its video IDs using a flat
// listing (no per-video metadata fetch).
func (d *Downloader) ExpandPlaylist(ctx context.Context, url string) ([]string, error) {
	args := []string{"--flat-playlist", "--print", "id", "--no-colors"}
	if d.cookieJar != "" {
		args = append(args, "--cookies", d.cookieJar)
	}
	if proxy := ProxyURL(d.cfg); proxy != "" {
		args = append(args, "--proxy", proxy)
	}
	args = append(args, url)

	out, err := exec.CommandContext(ctx, d.binary(), args...).Output()
	if err != nil {
		return nil, fmt.Errorf("expanding playlist: %w", err)
	}
	return parsePlaylistIDs(string(out)), nil
}

func parsePlaylistIDs(output string) []string {
	var ids []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "[") {
			continue
		}
		ids = append(ids, line)
	}
	return ids
}

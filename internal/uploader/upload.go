package uploader

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// ProgressFunc receives byte-level transfer progress.
type ProgressFunc func(sent, total int64)

// tokenResponse is the reply to the token call for both video and cover
// uploads.
type tokenResponse struct {
	Result       int    `json:"result"`
	TaskID       int64  `json:"taskId"`
	Token        string `json:"token"`
	UploadConfig struct {
		PartSize int64 `json:"partSize"`
	} `json:"uploadConfig"`
}

// UploadVideo transfers the file in partSize fragments and registers it,
// returning the provider's video ID for the publish call. Fragments are
// sent strictly in order; each failing fragment is retried independently.
func (c *Client) UploadVideo(ctx context.Context, path string, progress ProgressFunc) (string, error) {
	if err := c.EnsureLogin(ctx); err != nil {
		return "", err
	}

	fi, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat upload file: %w", err)
	}
	size := fi.Size()
	filename := filepath.Base(path)

	var tok tokenResponse
	err = c.memberPost(ctx, "/video/api/getKSCloudToken", url.Values{
		"fileName": {filename},
		"size":     {strconv.FormatInt(size, 10)},
	}, &tok)
	if err != nil {
		return "", fmt.Errorf("acquiring upload token: %w", err)
	}
	if tok.Token == "" || tok.UploadConfig.PartSize <= 0 {
		return "", fmt.Errorf("upload token reply incomplete (taskId=%d partSize=%d)",
			tok.TaskID, tok.UploadConfig.PartSize)
	}

	count, err := c.sendFragments(ctx, path, size, tok.Token, tok.UploadConfig.PartSize, progress)
	if err != nil {
		return "", err
	}

	if err := c.completeUpload(ctx, tok.Token, count); err != nil {
		return "", err
	}

	err = c.memberPost(ctx, "/video/api/uploadFinish", url.Values{
		"taskId": {strconv.FormatInt(tok.TaskID, 10)},
	}, nil)
	if err != nil {
		return "", fmt.Errorf("finishing upload: %w", err)
	}

	var created struct {
		Result  int   `json:"result"`
		VideoID int64 `json:"videoId"`
	}
	err = c.memberPost(ctx, "/video/api/createVideo", url.Values{
		"videoKey": {strconv.FormatInt(tok.TaskID, 10)},
		"fileName": {filename},
		"vodType":  {"cloud"},
	}, &created)
	if err != nil {
		return "", fmt.Errorf("registering video: %w", err)
	}

	c.logger.Info("video uploaded",
		slog.String("file", filename),
		slog.Int64("size", size),
		slog.Int64("fragments", count),
		slog.Int64("video_id", created.VideoID))
	return strconv.FormatInt(created.VideoID, 10), nil
}

// sendFragments streams the file sequentially. fragment_count must equal
// ceil(size / partSize) and the transmitted bytes must sum to size exactly.
func (c *Client) sendFragments(ctx context.Context, path string, size int64, token string, partSize int64, progress ProgressFunc) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("opening upload file: %w", err)
	}
	defer f.Close()

	count := (size + partSize - 1) / partSize
	buf := make([]byte, partSize)
	var sent int64

	for i := int64(1); i <= count; i++ {
		n, err := io.ReadFull(f, buf)
		if err == io.ErrUnexpectedEOF && i == count {
			err = nil
		}
		if err != nil {
			return 0, fmt.Errorf("reading fragment %d: %w", i, err)
		}

		if err := c.sendFragment(ctx, token, i, buf[:n]); err != nil {
			return 0, fmt.Errorf("fragment %d/%d: %w", i, count, err)
		}

		sent += int64(n)
		if progress != nil {
			progress(sent, size)
		}
	}
	if sent != size {
		return 0, fmt.Errorf("short upload: sent %d of %d bytes", sent, size)
	}
	return count, nil
}

func (c *Client) sendFragment(ctx context.Context, token string, id int64, chunk []byte) error {
	rawURL := fmt.Sprintf("%s/api/upload/fragment?upload_token=%s&fragment_id=%d",
		c.endpoints.Upload, url.QueryEscape(token), id)

	var lastErr error
	for attempt := 0; attempt <= stepRetries; attempt++ {
		if attempt > 0 {
			c.logger.Debug("retrying fragment",
				slog.Int64("fragment", id), slog.Int("attempt", attempt+1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(fragmentRetryDelay):
			}
		}
		if lastErr = c.uploadPost(ctx, rawURL, chunk, "application/octet-stream"); lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("after %d attempts: %w", stepRetries+1, lastErr)
}

func (c *Client) completeUpload(ctx context.Context, token string, count int64) error {
	rawURL := fmt.Sprintf("%s/api/upload/complete?upload_token=%s&fragment_count=%d",
		c.endpoints.Upload, url.QueryEscape(token), count)

	var lastErr error
	for attempt := 0; attempt <= stepRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(fragmentRetryDelay):
			}
		}
		if lastErr = c.uploadPost(ctx, rawURL, nil, "application/json"); lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("completing upload: %w", lastErr)
}

// UploadCover transfers a prepared 16:10 cover image and resolves its public
// URL. The caller is responsible for aspect normalization beforehand.
func (c *Client) UploadCover(ctx context.Context, path string) (string, error) {
	if err := c.EnsureLogin(ctx); err != nil {
		return "", err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading cover: %w", err)
	}

	var tok tokenResponse
	err = c.memberPost(ctx, "/common/api/getQiniuToken", url.Values{
		"fileName": {filepath.Base(path)},
	}, &tok)
	if err != nil {
		return "", fmt.Errorf("acquiring cover token: %w", err)
	}
	if tok.Token == "" {
		return "", fmt.Errorf("cover token reply incomplete")
	}

	// Covers are small enough for a single fragment.
	if err := c.sendFragment(ctx, tok.Token, 1, data); err != nil {
		return "", fmt.Errorf("uploading cover: %w", err)
	}
	if err := c.completeUpload(ctx, tok.Token, 1); err != nil {
		return "", err
	}

	var resolved struct {
		Result int    `json:"result"`
		URL    string `json:"url"`
	}
	err = c.memberPost(ctx, "/common/api/getUrlAfterUpload", url.Values{
		"bizFlag": {"web-douga-cover"},
		"token":   {tok.Token},
	}, &resolved)
	if err != nil {
		return "", fmt.Errorf("resolving cover url: %w", err)
	}
	if resolved.URL == "" {
		return "", fmt.Errorf("cover url reply empty")
	}

	c.logger.Info("cover uploaded", slog.String("url", resolved.URL))
	return resolved.URL, nil
}

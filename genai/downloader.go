// Package genai provides the abstract interface to external AI image
// services, plus the OpenAI-backed implementation of it.
//
// downloader.go implements the Downloader molecule that fetches generated
// images from the temporary URLs some API responses return. The URLs
// expire after about an hour, so every generated image is pulled into the
// ImageStore immediately.
package genai

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Downloader fetches image bytes from provider-hosted URLs.
//
// Thread Safety: Downloader is safe for concurrent use. Each download
// creates its own HTTP request.
type Downloader struct {
	client *http.Client
}

// NewDownloader creates a downloader using the given HTTP client. A nil
// client gets a default with a 60 second timeout.
func NewDownloader(client *http.Client) *Downloader {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &Downloader{client: client}
}

// DownloadBytes fetches an image and returns its raw bytes along with the
// response Content-Type.
func (d *Downloader) DownloadBytes(ctx context.Context, url string) ([]byte, string, error) {
	if url == "" {
		return nil, "", fmt.Errorf("genai: download URL cannot be empty")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("genai: failed to create download request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("genai: failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("genai: download failed with status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("genai: failed to read image data: %w", err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

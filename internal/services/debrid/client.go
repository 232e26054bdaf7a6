// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package debrid

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"golang.org/x/time/rate"

	"github.com/autobrr/pickr/internal/buildinfo"
)

const (
	DefaultBaseURL = "https://api.real-debrid.com/rest/1.0"

	defaultRequestsPerSecond = 4
	maxResponseBytes         = 8 << 20
)

// Real-Debrid torrent status values.
const (
	StatusMagnetError           = "magnet_error"
	StatusMagnetConversion      = "magnet_conversion"
	StatusWaitingFilesSelection = "waiting_files_selection"
	StatusQueued                = "queued"
	StatusDownloading           = "downloading"
	StatusDownloaded            = "downloaded"
	StatusError                 = "error"
	StatusVirus                 = "virus"
	StatusCompressing           = "compressing"
	StatusUploading             = "uploading"
	StatusDead                  = "dead"
)

// APIError is a non-2xx response from the debrid API.
type APIError struct {
	StatusCode int
	Code       int    `json:"error_code"`
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("debrid api returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("debrid api returned status %d: %s (code %d)", e.StatusCode, e.Message, e.Code)
}

func (e *APIError) Is(target error) bool {
	_, ok := target.(*APIError)
	return ok
}

type AddMagnetResponse struct {
	ID  string `json:"id"`
	URI string `json:"uri"`
}

type TorrentFile struct {
	ID       int    `json:"id"`
	Path     string `json:"path"`
	Bytes    int64  `json:"bytes"`
	Selected int    `json:"selected"`
}

type TorrentInfo struct {
	ID       string        `json:"id"`
	Filename string        `json:"filename"`
	Hash     string        `json:"hash"`
	Bytes    int64         `json:"bytes"`
	Progress float64       `json:"progress"`
	Status   string        `json:"status"`
	Files    []TorrentFile `json:"files"`
	Links    []string      `json:"links"`
}

type UnrestrictedLink struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	MimeType string `json:"mimeType"`
	Filesize int64  `json:"filesize"`
	Link     string `json:"link"`
	Host     string `json:"host"`
	Download string `json:"download"`
}

// Client is a rate-limited Real-Debrid REST client.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	attempts   uint
	retryDelay time.Duration
}

func NewClient(baseURL, apiKey string, requestsPerSecond float64) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	if requestsPerSecond <= 0 {
		requestsPerSecond = defaultRequestsPerSecond
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSecond), 5),
		attempts:   3,
		retryDelay: time.Second,
	}
}

// InstantAvailability reports which hashes the service already holds. The
// result only contains hashes that are cached.
func (c *Client) InstantAvailability(ctx context.Context, hashes []string) (map[string]bool, error) {
	if len(hashes) == 0 {
		return map[string]bool{}, nil
	}

	var raw map[string]json.RawMessage
	if err := c.get(ctx, "/torrents/instantAvailability/"+strings.Join(hashes, "/"), &raw); err != nil {
		return nil, fmt.Errorf("instant availability: %w", err)
	}

	cached := make(map[string]bool, len(raw))
	for hash, body := range raw {
		// uncached hashes come back as an empty array instead of an object
		var hosts map[string][]json.RawMessage
		if err := json.Unmarshal(body, &hosts); err != nil {
			continue
		}
		for _, variants := range hosts {
			if len(variants) > 0 {
				cached[strings.ToLower(hash)] = true
				break
			}
		}
	}
	return cached, nil
}

func (c *Client) AddMagnet(ctx context.Context, magnet string) (*AddMagnetResponse, error) {
	data := url.Values{}
	data.Set("magnet", magnet)

	var result AddMagnetResponse
	if err := c.post(ctx, "/torrents/addMagnet", data, &result); err != nil {
		return nil, fmt.Errorf("add magnet: %w", err)
	}
	return &result, nil
}

// SelectFiles takes a comma separated list of file ids or "all".
func (c *Client) SelectFiles(ctx context.Context, torrentID, fileIDs string) error {
	data := url.Values{}
	data.Set("files", fileIDs)

	if err := c.post(ctx, "/torrents/selectFiles/"+url.PathEscape(torrentID), data, nil); err != nil {
		return fmt.Errorf("select files: %w", err)
	}
	return nil
}

func (c *Client) TorrentInfo(ctx context.Context, torrentID string) (*TorrentInfo, error) {
	var result TorrentInfo
	if err := c.get(ctx, "/torrents/info/"+url.PathEscape(torrentID), &result); err != nil {
		return nil, fmt.Errorf("torrent info: %w", err)
	}
	return &result, nil
}

func (c *Client) DeleteTorrent(ctx context.Context, torrentID string) error {
	if err := c.do(ctx, http.MethodDelete, "/torrents/delete/"+url.PathEscape(torrentID), nil, nil); err != nil {
		return fmt.Errorf("delete torrent: %w", err)
	}
	return nil
}

// UnrestrictLink converts a hoster link to a direct download link.
func (c *Client) UnrestrictLink(ctx context.Context, link string) (*UnrestrictedLink, error) {
	data := url.Values{}
	data.Set("link", link)

	var result UnrestrictedLink
	if err := c.post(ctx, "/unrestrict/link", data, &result); err != nil {
		return nil, fmt.Errorf("unrestrict link: %w", err)
	}
	return &result, nil
}

func (c *Client) get(ctx context.Context, endpoint string, result any) error {
	return c.do(ctx, http.MethodGet, endpoint, nil, result)
}

func (c *Client) post(ctx context.Context, endpoint string, data url.Values, result any) error {
	return c.do(ctx, http.MethodPost, endpoint, data, result)
}

func (c *Client) do(ctx context.Context, method, endpoint string, form url.Values, result any) error {
	return retry.Do(
		func() error {
			return c.request(ctx, method, endpoint, form, result)
		},
		retry.Context(ctx),
		retry.Attempts(c.attempts),
		retry.Delay(c.retryDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(isRetryable),
	)
}

func (c *Client) request(ctx context.Context, method, endpoint string, form url.Values, result any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("User-Agent", buildinfo.UserAgent)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	reader := io.LimitReader(resp.Body, maxResponseBytes)

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		_ = json.NewDecoder(reader).Decode(apiErr)
		return apiErr
	}

	if result == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, reader)
		return nil
	}

	if err := json.NewDecoder(reader).Decode(result); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func isRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

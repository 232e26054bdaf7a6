// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package torznab

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/anacrolix/torrent/metainfo"
	"github.com/avast/retry-go"

	"github.com/autobrr/pickr/internal/buildinfo"
	"github.com/autobrr/pickr/internal/domain"
)

const maxFeedBytes int64 = 16 << 20

// StatusError represents a non-2xx response from an indexer. It preserves the
// status code for rate-limit detection and retry decisions.
type StatusError struct {
	Indexer    string
	StatusCode int
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("indexer %s returned status %d", e.Indexer, e.StatusCode)
}

func (e *StatusError) Is(target error) bool {
	_, ok := target.(*StatusError)
	return ok
}

// IsRateLimited returns true if this error indicates rate limiting (HTTP 429).
func (e *StatusError) IsRateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// FeedError is a Torznab <error> document returned with a 200 status.
type FeedError struct {
	Indexer     string
	Code        string
	Description string
}

func (e *FeedError) Error() string {
	return fmt.Sprintf("indexer %s error %s: %s", e.Indexer, e.Code, e.Description)
}

// Result is a single feed item.
type Result struct {
	Indexer     string
	Title       string
	Link        string
	GUID        string
	InfoHash    string
	MagnetURI   string
	Size        int64
	Seeders     int
	Peers       int
	PublishDate time.Time
	Category    string
	Imdb        string
	// Attributes stores every torznab:attr with lowercase keys.
	Attributes map[string]string
}

// Client talks to a single Torznab endpoint.
type Client struct {
	name       string
	baseURL    string
	apiKey     string
	httpClient *http.Client
	attempts   uint
	retryDelay time.Duration
}

func NewClient(cfg domain.IndexerConfig) *Client {
	return &Client{
		name:       strings.TrimSpace(cfg.Name),
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.URL), "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout()},
		attempts:   2,
		retryDelay: 500 * time.Millisecond,
	}
}

func (c *Client) Name() string {
	return c.name
}

// Search runs one Torznab query. Server errors and network failures are
// retried once; 4xx responses, including rate limits, are returned as is.
func (c *Client) Search(ctx context.Context, params url.Values) ([]Result, error) {
	endpoint, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse indexer url: %w", err)
	}
	query := endpoint.Query()
	for key, values := range params {
		for _, v := range values {
			query.Add(key, v)
		}
	}
	if c.apiKey != "" {
		query.Set("apikey", c.apiKey)
	}
	endpoint.RawQuery = query.Encode()

	var results []Result
	err = retry.Do(
		func() error {
			var reqErr error
			results, reqErr = c.fetch(ctx, endpoint.String())
			return reqErr
		},
		retry.Context(ctx),
		retry.Attempts(c.attempts),
		retry.Delay(c.retryDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(isRetryable),
	)
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (c *Client) fetch(ctx context.Context, endpoint string) ([]Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build torznab request: %w", err)
	}
	req.Header.Set("Accept", "application/rss+xml, application/xml, text/xml")
	req.Header.Set("User-Agent", buildinfo.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("torznab request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{
			Indexer:    c.name,
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read torznab body: %w", err)
	}
	if int64(len(data)) > maxFeedBytes {
		return nil, fmt.Errorf("torznab response exceeded %d bytes limit", maxFeedBytes)
	}

	return parseFeed(c.name, data)
}

func isRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var opErr *net.OpError
	return errors.As(err, &opErr)
}

func parseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

type rssFeed struct {
	Channel struct {
		Title string    `xml:"title"`
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title     string   `xml:"title"`
	GUID      string   `xml:"guid"`
	Link      string   `xml:"link"`
	PubDate   string   `xml:"pubDate"`
	Size      string   `xml:"size"`
	Category  []string `xml:"category"`
	Enclosure struct {
		URL    string `xml:"url,attr"`
		Length string `xml:"length,attr"`
	} `xml:"enclosure"`
	Attrs []struct {
		Name  string `xml:"name,attr"`
		Value string `xml:"value,attr"`
	} `xml:"attr"`
}

type feedError struct {
	Code        string `xml:"code,attr"`
	Description string `xml:"description,attr"`
}

func parseFeed(indexer string, data []byte) ([]Result, error) {
	root, err := rootElement(data)
	if err != nil {
		return nil, fmt.Errorf("decode torznab feed: %w", err)
	}
	if root == "error" {
		var fe feedError
		if err := xml.Unmarshal(data, &fe); err != nil {
			return nil, fmt.Errorf("decode torznab error: %w", err)
		}
		return nil, &FeedError{Indexer: indexer, Code: fe.Code, Description: fe.Description}
	}

	var feed rssFeed
	if err := xml.Unmarshal(data, &feed); err != nil {
		return nil, fmt.Errorf("decode torznab feed: %w", err)
	}

	results := make([]Result, 0, len(feed.Channel.Items))
	for _, item := range feed.Channel.Items {
		results = append(results, convertItem(indexer, item))
	}
	return results, nil
}

func rootElement(data []byte) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", err
		}
		if start, ok := tok.(xml.StartElement); ok {
			return start.Name.Local, nil
		}
	}
}

func convertItem(indexer string, item rssItem) Result {
	result := Result{
		Indexer: indexer,
		Title:   strings.TrimSpace(item.Title),
		Link:    item.Link,
		GUID:    item.GUID,
	}
	if result.Link == "" {
		result.Link = item.Enclosure.URL
	}

	if size, err := strconv.ParseInt(item.Size, 10, 64); err == nil {
		result.Size = size
	} else if size, err := strconv.ParseInt(item.Enclosure.Length, 10, 64); err == nil {
		result.Size = size
	}

	if item.PubDate != "" {
		if t, err := time.Parse(time.RFC1123Z, item.PubDate); err == nil {
			result.PublishDate = t
		} else if t, err := time.Parse(time.RFC1123, item.PubDate); err == nil {
			result.PublishDate = t
		}
	}

	if len(item.Category) > 0 {
		result.Category = item.Category[0]
	}

	attrs := make(map[string]string, len(item.Attrs))
	for _, attr := range item.Attrs {
		name := strings.ToLower(strings.TrimSpace(attr.Name))
		if name == "" {
			continue
		}
		attrs[name] = attr.Value
		switch name {
		case "seeders":
			if v, err := strconv.Atoi(attr.Value); err == nil {
				result.Seeders = v
			}
		case "peers":
			if v, err := strconv.Atoi(attr.Value); err == nil {
				result.Peers = v
			}
		case "size":
			if result.Size == 0 {
				if v, err := strconv.ParseInt(attr.Value, 10, 64); err == nil {
					result.Size = v
				}
			}
		case "imdb", "imdbid":
			result.Imdb = attr.Value
		}
	}
	result.Attributes = attrs

	result.InfoHash, result.MagnetURI = extractHash(result)
	return result
}

// extractHash finds the info hash in the infohash attribute or any magnet
// link on the item, and returns a magnet URI for it.
func extractHash(r Result) (string, string) {
	var magnet string
	for _, candidate := range []string{r.Attributes["magneturl"], r.Link, r.GUID} {
		if strings.HasPrefix(strings.ToLower(candidate), "magnet:") {
			magnet = candidate
			break
		}
	}

	var hash metainfo.Hash
	found := false
	if v := strings.TrimSpace(r.Attributes["infohash"]); v != "" {
		if err := hash.FromHexString(v); err == nil {
			found = true
		}
	}
	if !found && magnet != "" {
		if m, err := metainfo.ParseMagnetUri(magnet); err == nil && m.InfoHash != (metainfo.Hash{}) {
			hash = m.InfoHash
			found = true
		}
	}
	if !found {
		return "", ""
	}

	if magnet == "" {
		magnet = metainfo.Magnet{InfoHash: hash, DisplayName: r.Title}.String()
	}
	return hash.HexString(), magnet
}

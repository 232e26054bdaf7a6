// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package torznab

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/pickr/internal/domain"
)

const sampleFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:torznab="http://torznab.com/schemas/2015/feed">
  <channel>
    <title>test</title>
    <item>
      <title>The.Matrix.1999.2160p.UHD.BluRay.x265.HDR.TrueHD.Atmos-GRP</title>
      <guid>https://tracker.example/details/1</guid>
      <link>https://tracker.example/download/1</link>
      <pubDate>Mon, 02 Jan 2006 15:04:05 -0700</pubDate>
      <size>60000000000</size>
      <category>2000</category>
      <torznab:attr name="seeders" value="120"/>
      <torznab:attr name="peers" value="140"/>
      <torznab:attr name="infohash" value="AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"/>
      <torznab:attr name="imdbid" value="tt0133093"/>
    </item>
    <item>
      <title>The.Matrix.1999.1080p.WEB-DL.DDP5.1.H.264-OTHER</title>
      <guid>magnet:?xt=urn:btih:bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb&amp;dn=matrix</guid>
      <enclosure url="https://tracker.example/download/2" length="9000000000" type="application/x-bittorrent"/>
      <torznab:attr name="seeders" value="40"/>
    </item>
    <item>
      <title>No.Hash.Anywhere.1999.720p</title>
      <link>https://tracker.example/download/3</link>
    </item>
  </channel>
</rss>`

func TestParseFeed(t *testing.T) {
	results, err := parseFeed("idx", []byte(sampleFeed))
	require.NoError(t, err)
	require.Len(t, results, 3)

	first := results[0]
	assert.Equal(t, "idx", first.Indexer)
	assert.Equal(t, "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", first.InfoHash)
	assert.Contains(t, first.MagnetURI, "magnet:?xt=urn:btih:aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	assert.Equal(t, int64(60000000000), first.Size)
	assert.Equal(t, 120, first.Seeders)
	assert.Equal(t, 140, first.Peers)
	assert.Equal(t, "2000", first.Category)
	assert.Equal(t, "tt0133093", first.Imdb)
	assert.Equal(t, 2006, first.PublishDate.Year())

	second := results[1]
	assert.Equal(t, "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", second.InfoHash)
	assert.Equal(t, "https://tracker.example/download/2", second.Link)
	assert.Equal(t, int64(9000000000), second.Size)
	assert.Contains(t, second.MagnetURI, "dn=matrix")

	assert.Empty(t, results[2].InfoHash)
	assert.Empty(t, results[2].MagnetURI)
}

func TestParseFeed_ErrorDocument(t *testing.T) {
	_, err := parseFeed("idx", []byte(`<?xml version="1.0"?><error code="100" description="Invalid API key"/>`))

	var feedErr *FeedError
	require.ErrorAs(t, err, &feedErr)
	assert.Equal(t, "100", feedErr.Code)
	assert.Equal(t, "Invalid API key", feedErr.Description)
}

func TestParseFeed_Malformed(t *testing.T) {
	_, err := parseFeed("idx", []byte("not xml"))
	require.Error(t, err)
}

func TestClientSearch_SendsParams(t *testing.T) {
	var got url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.Query()
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(sampleFeed))
	}))
	defer srv.Close()

	client := NewClient(domain.IndexerConfig{Name: "idx", URL: srv.URL + "/api?existing=1", APIKey: "secret"})

	params := url.Values{}
	params.Set("t", "movie")
	params.Set("imdbid", "tt0133093")
	results, err := client.Search(context.Background(), params)
	require.NoError(t, err)
	assert.Len(t, results, 3)

	assert.Equal(t, "secret", got.Get("apikey"))
	assert.Equal(t, "movie", got.Get("t"))
	assert.Equal(t, "tt0133093", got.Get("imdbid"))
	assert.Equal(t, "1", got.Get("existing"))
}

func TestClientSearch_StatusHandling(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		retryAfter   string
		wantCalls    int32
		wantLimited  bool
		wantCooldown time.Duration
	}{
		{name: "server_error_is_retried", status: http.StatusBadGateway, wantCalls: 2},
		{name: "client_error_is_not_retried", status: http.StatusUnauthorized, wantCalls: 1},
		{name: "rate_limit_keeps_retry_after", status: http.StatusTooManyRequests, retryAfter: "120", wantCalls: 1, wantLimited: true, wantCooldown: 2 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				if tt.retryAfter != "" {
					w.Header().Set("Retry-After", tt.retryAfter)
				}
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			client := NewClient(domain.IndexerConfig{Name: "idx", URL: srv.URL})
			client.retryDelay = time.Millisecond

			_, err := client.Search(context.Background(), url.Values{"t": {"search"}})

			var statusErr *StatusError
			require.ErrorAs(t, err, &statusErr)
			assert.Equal(t, tt.status, statusErr.StatusCode)
			assert.Equal(t, tt.wantLimited, statusErr.IsRateLimited())
			assert.Equal(t, tt.wantCooldown, statusErr.RetryAfter)
			assert.Equal(t, tt.wantCalls, calls.Load())
		})
	}
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, isRetryable(nil))
	assert.False(t, isRetryable(context.Canceled))
	assert.False(t, isRetryable(errors.New("plain")))
	assert.True(t, isRetryable(&StatusError{StatusCode: 503}))
	assert.False(t, isRetryable(&StatusError{StatusCode: 404}))
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, time.Duration(0), parseRetryAfter(""))
	assert.Equal(t, 30*time.Second, parseRetryAfter("30"))
	assert.Equal(t, time.Duration(0), parseRetryAfter("-5"))
	assert.Equal(t, time.Duration(0), parseRetryAfter("garbage"))

	future := time.Now().Add(time.Hour).UTC().Format(http.TimeFormat)
	assert.Greater(t, parseRetryAfter(future), 50*time.Minute)
}

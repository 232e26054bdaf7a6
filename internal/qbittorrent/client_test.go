// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package qbittorrent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/pickr/internal/domain"
	"github.com/autobrr/pickr/internal/models"
)

type fakeWebAPI struct {
	version  string
	loginErr error
	addErr   error
	logins   int
	added    []addCall
	torrents []qbt.Torrent
}

type addCall struct {
	url     string
	options map[string]string
}

func (f *fakeWebAPI) LoginCtx(context.Context) error {
	f.logins++
	return f.loginErr
}

func (f *fakeWebAPI) GetWebAPIVersionCtx(context.Context) (string, error) {
	return f.version, nil
}

func (f *fakeWebAPI) AddTorrentFromUrlCtx(_ context.Context, url string, options map[string]string) error {
	if f.addErr != nil {
		return f.addErr
	}
	f.added = append(f.added, addCall{url: url, options: options})
	return nil
}

func (f *fakeWebAPI) GetTorrentsCtx(_ context.Context, o qbt.TorrentFilterOptions) ([]qbt.Torrent, error) {
	var out []qbt.Torrent
	for _, t := range f.torrents {
		for _, h := range o.Hashes {
			if strings.EqualFold(t.Hash, h) {
				out = append(out, t)
			}
		}
	}
	return out, nil
}

var testHash = strings.Repeat("ab", 20)

func TestEnqueue_Options(t *testing.T) {
	tests := []struct {
		name    string
		version string
		cfg     domain.QBittorrentConfig
		want    map[string]string
	}{
		{
			name:    "modern",
			version: "2.11.2",
			cfg:     domain.QBittorrentConfig{Category: "pickr/movies", SavePath: "/data", Tags: []string{"pickr", "auto"}},
			want: map[string]string{
				"category": "pickr/movies",
				"savepath": "/data",
				"autoTMM":  "false",
				"tags":     "pickr,auto",
				"stopped":  "false",
			},
		},
		{
			name:    "legacy",
			version: "2.8.3",
			cfg:     domain.QBittorrentConfig{Category: "pickr/movies", Tags: []string{"pickr"}},
			want: map[string]string{
				"category": "pickr",
				"tags":     "pickr",
				"paused":   "false",
			},
		},
		{
			name:    "very_old",
			version: "2.5.0",
			cfg:     domain.QBittorrentConfig{Tags: []string{"pickr"}},
			want:    map[string]string{"paused": "false"},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeWebAPI{version: tt.version}
			client := newClient(api, tt.cfg)

			taskID, err := client.Enqueue(context.Background(), models.StreamInfo{InfoHash: strings.ToUpper(testHash), Title: "Movie"}, models.DownloadRequest{MediaID: "tt1"})
			require.NoError(t, err)
			assert.Equal(t, testHash, taskID)

			require.Len(t, api.added, 1)
			assert.Equal(t, tt.want, api.added[0].options)
			assert.True(t, strings.HasPrefix(api.added[0].url, "magnet:?xt=urn:btih:"+testHash))
			assert.Equal(t, tt.version, client.GetWebAPIVersion())
		})
	}
}

func TestEnqueue_UsesStreamMagnet(t *testing.T) {
	api := &fakeWebAPI{version: "2.11.2"}
	client := newClient(api, domain.QBittorrentConfig{})

	magnet := "magnet:?xt=urn:btih:" + testHash + "&tr=udp%3A%2F%2Ftracker"
	_, err := client.Enqueue(context.Background(), models.StreamInfo{InfoHash: testHash, URL: magnet}, models.DownloadRequest{})
	require.NoError(t, err)
	assert.Equal(t, magnet, api.added[0].url)

	_, err = client.Enqueue(context.Background(), models.StreamInfo{InfoHash: testHash, URL: magnet}, models.DownloadRequest{})
	require.NoError(t, err)
	assert.Equal(t, 1, api.logins)
}

func TestEnqueue_Errors(t *testing.T) {
	t.Run("missing_hash", func(t *testing.T) {
		client := newClient(&fakeWebAPI{}, domain.QBittorrentConfig{})
		_, err := client.Enqueue(context.Background(), models.StreamInfo{URL: "https://cdn/file.mkv"}, models.DownloadRequest{})
		require.ErrorIs(t, err, ErrMissingHash)
	})

	t.Run("login", func(t *testing.T) {
		api := &fakeWebAPI{loginErr: errors.New("forbidden")}
		client := newClient(api, domain.QBittorrentConfig{})
		_, err := client.Enqueue(context.Background(), models.StreamInfo{InfoHash: testHash}, models.DownloadRequest{})
		require.ErrorContains(t, err, "forbidden")
		assert.False(t, client.IsHealthy())
	})

	t.Run("add", func(t *testing.T) {
		api := &fakeWebAPI{version: "2.11.2", addErr: errors.New("fails")}
		client := newClient(api, domain.QBittorrentConfig{})
		_, err := client.Enqueue(context.Background(), models.StreamInfo{InfoHash: testHash}, models.DownloadRequest{})
		require.ErrorContains(t, err, "could not add torrent")
	})
}

func TestPollStatus(t *testing.T) {
	tests := []struct {
		name    string
		torrent qbt.Torrent
		want    models.ExternalDownloadStatus
	}{
		{name: "downloading", torrent: qbt.Torrent{State: qbt.TorrentStateDownloading, Progress: 0.4}, want: models.ExternalStatusDownloading},
		{name: "stalled", torrent: qbt.Torrent{State: qbt.TorrentStateStalledDl, Progress: 0.1}, want: models.ExternalStatusDownloading},
		{name: "metadata", torrent: qbt.Torrent{State: qbt.TorrentStateMetaDl}, want: models.ExternalStatusQueued},
		{name: "seeding", torrent: qbt.Torrent{State: qbt.TorrentStateUploading, Progress: 1}, want: models.ExternalStatusCompleted},
		{name: "stopped_complete", torrent: qbt.Torrent{State: qbt.TorrentStateStoppedUp, Progress: 1}, want: models.ExternalStatusCompleted},
		{name: "moving_done", torrent: qbt.Torrent{State: qbt.TorrentStateMoving, Progress: 1}, want: models.ExternalStatusCompleted},
		{name: "error", torrent: qbt.Torrent{State: qbt.TorrentStateError}, want: models.ExternalStatusFailed},
		{name: "missing_files", torrent: qbt.Torrent{State: qbt.TorrentStateMissingFiles, Progress: 1}, want: models.ExternalStatusFailed},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			torrent := tt.torrent
			torrent.Hash = strings.ToUpper(testHash)
			client := newClient(&fakeWebAPI{version: "2.11.2", torrents: []qbt.Torrent{torrent}}, domain.QBittorrentConfig{})

			got, err := client.PollStatus(context.Background(), testHash)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPollStatus_MissingTorrent(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	client := newClient(&fakeWebAPI{version: "2.11.2"}, domain.QBittorrentConfig{})
	client.now = func() time.Time { return now }

	_, err := client.Enqueue(context.Background(), models.StreamInfo{InfoHash: testHash}, models.DownloadRequest{})
	require.NoError(t, err)

	got, err := client.PollStatus(context.Background(), testHash)
	require.NoError(t, err)
	assert.Equal(t, models.ExternalStatusQueued, got)

	now = now.Add(missingGracePeriod + time.Second)
	got, err = client.PollStatus(context.Background(), testHash)
	require.NoError(t, err)
	assert.Equal(t, models.ExternalStatusCancelled, got)

	// unknown tasks (from a previous run) that vanished are cancelled
	got, err = client.PollStatus(context.Background(), strings.Repeat("cd", 20))
	require.NoError(t, err)
	assert.Equal(t, models.ExternalStatusCancelled, got)
}

func TestHealthCheck(t *testing.T) {
	api := &fakeWebAPI{version: "2.11.2"}
	client := newClient(api, domain.QBittorrentConfig{})

	require.NoError(t, client.HealthCheck(context.Background()))
	assert.True(t, client.IsHealthy())
	assert.Equal(t, 1, api.logins)

	// a recent successful check short-circuits
	require.NoError(t, client.HealthCheck(context.Background()))
	assert.Equal(t, 1, api.logins)
}

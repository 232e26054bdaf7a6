// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package qbittorrent hands downloads to a qBittorrent instance and reports
// their progress.
package qbittorrent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/anacrolix/torrent/metainfo"
	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/pickr/internal/domain"
	"github.com/autobrr/pickr/internal/models"
)

var (
	addTagsMinVersion       = semver.MustParse("2.6.2")
	subcategoriesMinVersion = semver.MustParse("2.9.0")
	stoppedParamMinVersion  = semver.MustParse("2.11.0")
)

const (
	defaultTimeout         = 30 * time.Second
	minHealthCheckInterval = 30 * time.Second
	// a freshly added magnet can take a moment to appear in the torrent list
	missingGracePeriod = 2 * time.Minute
)

var ErrMissingHash = errors.New("stream has no info hash")

// webAPI is the part of the qBittorrent client used here.
type webAPI interface {
	LoginCtx(ctx context.Context) error
	GetWebAPIVersionCtx(ctx context.Context) (string, error)
	AddTorrentFromUrlCtx(ctx context.Context, url string, options map[string]string) error
	GetTorrentsCtx(ctx context.Context, o qbt.TorrentFilterOptions) ([]qbt.Torrent, error)
}

// Client is a download sink backed by qBittorrent. Task ids are the
// lowercase info hashes.
type Client struct {
	api webAPI
	cfg domain.QBittorrentConfig

	mu                    sync.RWMutex
	loggedIn              bool
	webAPIVersion         string
	supportsAddTags       bool
	supportsSubcategories bool
	supportsStoppedParam  bool
	enqueuedAt            map[string]time.Time

	healthMu        sync.RWMutex
	isHealthy       bool
	lastHealthCheck time.Time

	now    func() time.Time
	logger zerolog.Logger
}

func NewClient(cfg domain.QBittorrentConfig) *Client {
	qbtCfg := qbt.Config{
		Host:          cfg.Host,
		Username:      cfg.Username,
		Password:      cfg.Password,
		Timeout:       int(defaultTimeout.Seconds()),
		TLSSkipVerify: cfg.TLSSkipVerify,
	}
	if cfg.BasicUsername != "" {
		qbtCfg.BasicUser = cfg.BasicUsername
		qbtCfg.BasicPass = cfg.BasicPassword
	}
	return newClient(qbt.NewClient(qbtCfg), cfg)
}

func newClient(api webAPI, cfg domain.QBittorrentConfig) *Client {
	return &Client{
		api:        api,
		cfg:        cfg,
		enqueuedAt: make(map[string]time.Time),
		now:        time.Now,
		logger:     log.Logger.With().Str("module", "qbittorrent").Str("host", cfg.Host).Logger(),
	}
}

// connect logs in once and refreshes capability flags.
func (c *Client) connect(ctx context.Context) error {
	c.mu.RLock()
	loggedIn := c.loggedIn
	c.mu.RUnlock()
	if loggedIn {
		return nil
	}

	if err := c.api.LoginCtx(ctx); err != nil {
		c.updateHealthStatus(false)
		return errors.Wrap(err, "failed to connect to qBittorrent instance")
	}

	if err := c.RefreshCapabilities(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to refresh qBittorrent capabilities after login")
	}

	c.mu.Lock()
	c.loggedIn = true
	c.mu.Unlock()
	c.updateHealthStatus(true)

	c.logger.Debug().
		Str("webAPIVersion", c.GetWebAPIVersion()).
		Bool("supportsAddTags", c.supportsFlag(&c.supportsAddTags)).
		Bool("supportsSubcategories", c.supportsFlag(&c.supportsSubcategories)).
		Bool("tlsSkipVerify", c.cfg.TLSSkipVerify).
		Msg("qBittorrent client connected")
	return nil
}

// RefreshCapabilities fetches the WebAPI version and recalculates feature flags.
func (c *Client) RefreshCapabilities(ctx context.Context) error {
	version, err := c.api.GetWebAPIVersionCtx(ctx)
	if err != nil {
		return err
	}

	version = strings.TrimSpace(version)
	if version == "" {
		return fmt.Errorf("web API version is empty")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.applyCapabilitiesLocked(version)
	return nil
}

func (c *Client) applyCapabilitiesLocked(version string) {
	c.webAPIVersion = version

	v, err := semver.NewVersion(version)
	if err != nil {
		c.logger.Warn().
			Str("webAPIVersion", version).
			Err(err).
			Msg("Failed to parse qBittorrent WebAPI version; leaving capability flags unchanged")
		return
	}

	c.supportsAddTags = !v.LessThan(addTagsMinVersion)
	c.supportsSubcategories = !v.LessThan(subcategoriesMinVersion)
	c.supportsStoppedParam = !v.LessThan(stoppedParamMinVersion)
}

func (c *Client) supportsFlag(flag *bool) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return *flag
}

func (c *Client) GetWebAPIVersion() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.webAPIVersion
}

// Enqueue adds the stream's torrent to qBittorrent and returns its task id.
func (c *Client) Enqueue(ctx context.Context, stream models.StreamInfo, req models.DownloadRequest) (string, error) {
	hash, err := models.NormalizeInfoHash(stream.InfoHash)
	if err != nil {
		return "", errors.Wrap(ErrMissingHash, err.Error())
	}

	if err := c.connect(ctx); err != nil {
		return "", err
	}

	magnet, err := magnetFor(hash, stream)
	if err != nil {
		return "", err
	}

	options := c.addOptions()
	if err := c.api.AddTorrentFromUrlCtx(ctx, magnet, options); err != nil {
		return "", errors.Wrapf(err, "could not add torrent %s", hash)
	}

	c.mu.Lock()
	c.enqueuedAt[hash] = c.now()
	c.mu.Unlock()

	c.logger.Info().
		Str("infohash", hash).
		Str("mediaId", req.MediaID).
		Str("episodeId", req.EpisodeID).
		Str("category", options["category"]).
		Str("savePath", options["savepath"]).
		Msg("Added torrent to qBittorrent")

	return hash, nil
}

// magnetFor prefers a magnet from the stream and otherwise builds one from
// the hash; debrid links are plain files qBittorrent cannot add.
func magnetFor(hash string, stream models.StreamInfo) (string, error) {
	if strings.HasPrefix(strings.ToLower(stream.URL), "magnet:") {
		return stream.URL, nil
	}

	var ih metainfo.Hash
	if err := ih.FromHexString(hash); err != nil {
		return "", errors.Wrap(err, "invalid info hash")
	}
	return metainfo.Magnet{InfoHash: ih, DisplayName: stream.Title}.String(), nil
}

func (c *Client) addOptions() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	options := map[string]string{}

	if category := strings.TrimSpace(c.cfg.Category); category != "" {
		if !c.supportsSubcategories {
			category, _, _ = strings.Cut(category, "/")
		}
		options["category"] = category
	}

	if savePath := strings.TrimSpace(c.cfg.SavePath); savePath != "" {
		options["savepath"] = savePath
		options["autoTMM"] = "false"
	}

	if len(c.cfg.Tags) > 0 && c.supportsAddTags {
		options["tags"] = strings.Join(c.cfg.Tags, ",")
	}

	if c.supportsStoppedParam {
		options["stopped"] = "false"
	} else {
		options["paused"] = "false"
	}

	return options
}

// PollStatus reports the state of a task added by Enqueue.
func (c *Client) PollStatus(ctx context.Context, taskID string) (models.ExternalDownloadStatus, error) {
	hash := strings.ToLower(strings.TrimSpace(taskID))
	if hash == "" {
		return "", ErrMissingHash
	}

	if err := c.connect(ctx); err != nil {
		return "", err
	}

	torrents, err := c.api.GetTorrentsCtx(ctx, qbt.TorrentFilterOptions{Hashes: []string{hash}})
	if err != nil {
		c.updateHealthStatus(false)
		return "", errors.Wrapf(err, "could not get torrent %s", hash)
	}
	c.updateHealthStatus(true)

	for i := range torrents {
		if strings.EqualFold(torrents[i].Hash, hash) {
			return statusFor(&torrents[i]), nil
		}
	}

	c.mu.RLock()
	added, ok := c.enqueuedAt[hash]
	c.mu.RUnlock()
	if ok && c.now().Sub(added) < missingGracePeriod {
		return models.ExternalStatusQueued, nil
	}

	// removed from qBittorrent by the user
	return models.ExternalStatusCancelled, nil
}

func statusFor(t *qbt.Torrent) models.ExternalDownloadStatus {
	switch t.State {
	case qbt.TorrentStateError, qbt.TorrentStateMissingFiles:
		return models.ExternalStatusFailed
	case qbt.TorrentStateUploading,
		qbt.TorrentStateStalledUp,
		qbt.TorrentStatePausedUp,
		qbt.TorrentStateStoppedUp,
		qbt.TorrentStateQueuedUp,
		qbt.TorrentStateCheckingUp,
		qbt.TorrentStateForcedUp:
		return models.ExternalStatusCompleted
	case qbt.TorrentStateMetaDl, qbt.TorrentStateQueuedDl:
		return models.ExternalStatusQueued
	}

	if t.Progress >= 1 {
		return models.ExternalStatusCompleted
	}
	return models.ExternalStatusDownloading
}

func (c *Client) updateHealthStatus(healthy bool) {
	c.healthMu.Lock()
	defer c.healthMu.Unlock()
	c.isHealthy = healthy
	c.lastHealthCheck = c.now()
}

func (c *Client) IsHealthy() bool {
	c.healthMu.RLock()
	defer c.healthMu.RUnlock()
	return c.isHealthy
}

func (c *Client) GetLastHealthCheck() time.Time {
	c.healthMu.RLock()
	defer c.healthMu.RUnlock()
	return c.lastHealthCheck
}

// HealthCheck re-checks the connection unless a recent check succeeded.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.IsHealthy() && c.now().Add(-minHealthCheckInterval).Before(c.GetLastHealthCheck()) {
		return nil
	}

	if err := c.connect(ctx); err != nil {
		return err
	}

	if err := c.RefreshCapabilities(ctx); err != nil {
		c.updateHealthStatus(false)
		return errors.Wrap(err, "health check failed")
	}

	c.updateHealthStatus(true)
	return nil
}

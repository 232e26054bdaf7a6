// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package debrid checks and resolves torrents through a debrid service.
package debrid

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/anacrolix/torrent/metainfo"
	"github.com/autobrr/autobrr/pkg/ttlcache"
	"github.com/avast/retry-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/autobrr/pickr/internal/domain"
	"github.com/autobrr/pickr/internal/models"
)

const (
	maxHashesPerRequest = 40

	defaultAvailabilityTTL = 15 * time.Minute
	defaultStreamTTL       = 10 * time.Minute
	defaultWaitAttempts    = 10
	defaultWaitDelay       = 2 * time.Second
)

var (
	ErrNotCached     = errors.New("torrent is not cached on the debrid service")
	ErrTorrentFailed = errors.New("debrid service rejected the torrent")
	ErrNoLinks       = errors.New("debrid torrent has no links")

	errNotReady = errors.New("torrent not downloaded yet")
)

var videoExtensions = map[string]struct{}{
	".mkv": {}, ".mp4": {}, ".m4v": {}, ".avi": {}, ".mov": {}, ".ts": {}, ".webm": {}, ".wmv": {},
}

// Service implements availability checks and stream resolution against
// Real-Debrid.
type Service struct {
	client    *Client
	serviceID string

	availability *ttlcache.Cache[string, models.Availability]
	streams      *ttlcache.Cache[string, models.StreamInfo]
	group        singleflight.Group

	waitAttempts uint
	waitDelay    time.Duration

	logger zerolog.Logger
}

type Option func(*Service)

// WithDownloadWait sets how often and how long Resolve polls for the service
// to finish a torrent.
func WithDownloadWait(attempts uint, delay time.Duration) Option {
	return func(s *Service) {
		if attempts > 0 {
			s.waitAttempts = attempts
		}
		if delay > 0 {
			s.waitDelay = delay
		}
	}
}

func WithAvailabilityTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.availability = ttlcache.New(ttlcache.Options[string, models.Availability]{}.SetDefaultTTL(ttl))
		}
	}
}

func NewService(cfg domain.DebridConfig, opts ...Option) *Service {
	serviceID := strings.TrimSpace(cfg.Service)
	if serviceID == "" {
		serviceID = "realdebrid"
	}

	s := &Service{
		client:       NewClient(cfg.BaseURL, cfg.APIKey, cfg.RequestsPerSecond),
		serviceID:    serviceID,
		availability: ttlcache.New(ttlcache.Options[string, models.Availability]{}.SetDefaultTTL(defaultAvailabilityTTL)),
		streams:      ttlcache.New(ttlcache.Options[string, models.StreamInfo]{}.SetDefaultTTL(defaultStreamTTL)),
		waitAttempts: defaultWaitAttempts,
		waitDelay:    defaultWaitDelay,
		logger:       log.Logger.With().Str("module", "debrid").Str("service", serviceID).Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) ServiceID() string {
	return s.serviceID
}

// CheckAvailability returns an entry for every valid hash. Hashes already
// looked up recently are answered from cache.
func (s *Service) CheckAvailability(ctx context.Context, hashes []string) (map[string]models.Availability, error) {
	out := make(map[string]models.Availability, len(hashes))
	missing := make([]string, 0, len(hashes))

	for _, raw := range hashes {
		hash, err := models.NormalizeInfoHash(raw)
		if err != nil {
			continue
		}
		if _, seen := out[hash]; seen {
			continue
		}
		if cached, ok := s.availability.Get(hash); ok {
			out[hash] = cached
			continue
		}
		out[hash] = models.Availability{}
		missing = append(missing, hash)
	}

	for start := 0; start < len(missing); start += maxHashesPerRequest {
		end := min(start+maxHashesPerRequest, len(missing))
		chunk := missing[start:end]

		cached, err := s.client.InstantAvailability(ctx, chunk)
		if err != nil {
			return nil, err
		}

		for _, hash := range chunk {
			availability := models.Availability{}
			if cached[hash] {
				availability = models.Availability{Cached: true, ServiceID: s.serviceID}
			}
			out[hash] = availability
			s.availability.Set(hash, availability, ttlcache.DefaultTTL)
		}
	}

	s.logger.Debug().Int("hashes", len(out)).Int("looked_up", len(missing)).Msg("Checked debrid availability")
	return out, nil
}

// Resolve turns a cached torrent into a direct stream. Concurrent calls for
// the same hash share one resolution.
func (s *Service) Resolve(ctx context.Context, hash, preferredServiceID string) (models.StreamInfo, error) {
	hash, err := models.NormalizeInfoHash(hash)
	if err != nil {
		return models.StreamInfo{}, err
	}
	if preferredServiceID != "" && preferredServiceID != s.serviceID {
		s.logger.Debug().Str("infohash", hash).Str("preferred", preferredServiceID).Msg("Preferred service unavailable, resolving here")
	}

	if stream, ok := s.streams.Get(hash); ok {
		return stream, nil
	}

	ch := s.group.DoChan(hash, func() (any, error) {
		return s.resolve(ctx, hash)
	})

	select {
	case <-ctx.Done():
		return models.StreamInfo{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return models.StreamInfo{}, res.Err
		}
		return res.Val.(models.StreamInfo), nil
	}
}

func (s *Service) resolve(ctx context.Context, hash string) (models.StreamInfo, error) {
	var ih metainfo.Hash
	if err := ih.FromHexString(hash); err != nil {
		return models.StreamInfo{}, fmt.Errorf("%w: %s", models.ErrInvalidInfoHash, hash)
	}

	added, err := s.client.AddMagnet(ctx, metainfo.Magnet{InfoHash: ih}.String())
	if err != nil {
		return models.StreamInfo{}, err
	}

	info, err := s.waitForDownload(ctx, added.ID)
	if err != nil {
		s.discard(ctx, added.ID)
		return models.StreamInfo{}, err
	}

	link, err := pickLink(info)
	if err != nil {
		s.discard(ctx, added.ID)
		return models.StreamInfo{}, err
	}

	unrestricted, err := s.client.UnrestrictLink(ctx, link)
	if err != nil {
		return models.StreamInfo{}, err
	}
	if unrestricted.Download == "" {
		return models.StreamInfo{}, fmt.Errorf("unrestrict returned an empty download url for %s", hash)
	}

	stream := models.StreamInfo{
		ID:        unrestricted.ID,
		URL:       unrestricted.Download,
		InfoHash:  hash,
		ServiceID: s.serviceID,
		Filename:  unrestricted.Filename,
		SizeBytes: unrestricted.Filesize,
	}
	if stream.ID == "" {
		stream.ID = info.ID
	}

	s.streams.Set(hash, stream, ttlcache.DefaultTTL)
	s.availability.Set(hash, models.Availability{Cached: true, ServiceID: s.serviceID}, ttlcache.DefaultTTL)

	s.logger.Debug().Str("infohash", hash).Str("filename", stream.Filename).Msg("Resolved debrid stream")
	return stream, nil
}

// waitForDownload selects files once the service knows them and polls until
// the torrent is downloaded. A torrent that is still transferring when the
// attempts run out is reported as not cached.
func (s *Service) waitForDownload(ctx context.Context, torrentID string) (*TorrentInfo, error) {
	var (
		info     *TorrentInfo
		failure  error
		selected bool
	)

	err := retry.Do(
		func() error {
			current, err := s.client.TorrentInfo(ctx, torrentID)
			if err != nil {
				failure = err
				return retry.Unrecoverable(err)
			}
			info = current

			switch current.Status {
			case StatusDownloaded:
				return nil
			case StatusWaitingFilesSelection:
				if !selected {
					if err := s.client.SelectFiles(ctx, torrentID, pickFiles(current.Files)); err != nil {
						failure = err
						return retry.Unrecoverable(err)
					}
					selected = true
				}
				return errNotReady
			case StatusMagnetError, StatusError, StatusVirus, StatusDead:
				failure = fmt.Errorf("%w: status %s", ErrTorrentFailed, current.Status)
				return retry.Unrecoverable(failure)
			default:
				return errNotReady
			}
		},
		retry.Context(ctx),
		retry.Attempts(s.waitAttempts),
		retry.Delay(s.waitDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)

	switch {
	case err == nil:
		return info, nil
	case failure != nil:
		return nil, failure
	case ctx.Err() != nil:
		return nil, ctx.Err()
	default:
		status := ""
		if info != nil {
			status = info.Status
		}
		return nil, fmt.Errorf("%w (status %s)", ErrNotCached, status)
	}
}

// discard removes a torrent that will not be streamed so it does not occupy
// the account.
func (s *Service) discard(ctx context.Context, torrentID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.client.DeleteTorrent(ctx, torrentID); err != nil {
		s.logger.Warn().Err(err).Str("torrent_id", torrentID).Msg("Failed to remove debrid torrent")
	}
}

// pickFiles selects every video file, or everything when there is none.
func pickFiles(files []TorrentFile) string {
	ids := make([]string, 0, len(files))
	for _, f := range files {
		if isVideo(f.Path) {
			ids = append(ids, strconv.Itoa(f.ID))
		}
	}
	if len(ids) == 0 {
		return "all"
	}
	return strings.Join(ids, ",")
}

// pickLink returns the link of the largest selected video file. Links are
// ordered like the selected files.
func pickLink(info *TorrentInfo) (string, error) {
	if len(info.Links) == 0 {
		return "", ErrNoLinks
	}

	best, bestSize, linkIndex := -1, int64(-1), 0
	for _, f := range info.Files {
		if f.Selected != 1 {
			continue
		}
		if isVideo(f.Path) && f.Bytes > bestSize {
			best, bestSize = linkIndex, f.Bytes
		}
		linkIndex++
	}

	if best < 0 || best >= len(info.Links) {
		return info.Links[0], nil
	}
	return info.Links[best], nil
}

func isVideo(name string) bool {
	_, ok := videoExtensions[strings.ToLower(path.Ext(name))]
	return ok
}

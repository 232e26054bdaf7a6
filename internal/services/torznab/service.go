// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package torznab searches Torznab indexers (Jackett, Prowlarr and native
// feeds) and turns feed items into ranked-ready candidates.
package torznab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/pickr/internal/domain"
	"github.com/autobrr/pickr/internal/metrics"
	"github.com/autobrr/pickr/internal/models"
	"github.com/autobrr/pickr/internal/services/search"
	"github.com/autobrr/pickr/pkg/releases"
)

const (
	categoryMovies = "2000"
	categoryTV     = "5000"

	storeOperationTimeout = 5 * time.Second
)

var (
	ErrNoIndexers  = errors.New("no indexers configured")
	ErrAllCooldown = errors.New("all indexers are rate limited")
)

type Service struct {
	clients  []*Client
	limiter  *RateLimiter
	parser   *releases.Parser
	cache    *models.SearchCacheStore
	cacheTTL time.Duration
	logger   zerolog.Logger
}

type Option func(*Service)

// WithSearchCache persists successful responses for ttl.
func WithSearchCache(store *models.SearchCacheStore, ttl time.Duration) Option {
	return func(s *Service) {
		if store != nil && ttl > 0 {
			s.cache = store
			s.cacheTTL = ttl
		}
	}
}

func WithParser(p *releases.Parser) Option {
	return func(s *Service) {
		if p != nil {
			s.parser = p
		}
	}
}

func WithRateLimiter(rl *RateLimiter) Option {
	return func(s *Service) {
		if rl != nil {
			s.limiter = rl
		}
	}
}

func NewService(indexers []domain.IndexerConfig, opts ...Option) *Service {
	s := &Service{
		limiter: NewRateLimiter(),
		parser:  releases.NewDefaultParser(),
		logger:  log.Logger.With().Str("module", "torznab").Logger(),
	}
	for _, idx := range indexers {
		s.clients = append(s.clients, NewClient(idx))
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Indexers returns the configured indexer names in config order.
func (s *Service) Indexers() []string {
	names := make([]string, len(s.clients))
	for i, c := range s.clients {
		names[i] = c.Name()
	}
	return names
}

// SearchByIdentifier searches by IMDb id. Other identifier schemes are not
// understood by Torznab and report no results so the caller falls back to a
// free-text query.
func (s *Service) SearchByIdentifier(ctx context.Context, q search.IdentifierQuery) ([]models.Candidate, error) {
	id := strings.ToLower(strings.TrimSpace(q.ID))
	if !strings.HasPrefix(id, "tt") {
		return nil, fmt.Errorf("%w: unsupported identifier %q", models.ErrNoResults, q.ID)
	}

	params := url.Values{}
	params.Set("imdbid", id)
	if q.Type.IsEpisodic() {
		params.Set("t", "tvsearch")
		params.Set("cat", categoryTV)
		if q.Season > 0 {
			params.Set("season", strconv.Itoa(q.Season))
		}
		if q.Episode > 0 {
			params.Set("ep", strconv.Itoa(q.Episode))
		}
	} else {
		params.Set("t", "movie")
		params.Set("cat", categoryMovies)
	}

	return s.search(ctx, "identifier", params, nil)
}

// SearchByQuery runs a free-text search and drops results whose title does not
// resemble the query.
func (s *Service) SearchByQuery(ctx context.Context, text string, mediaType models.MediaType) ([]models.Candidate, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, models.ErrNoResults
	}

	params := url.Values{}
	params.Set("t", "search")
	params.Set("q", text)
	if mediaType.IsEpisodic() {
		params.Set("cat", categoryTV)
	} else {
		params.Set("cat", categoryMovies)
	}

	filter := newRelevanceFilter(text)
	return s.search(ctx, "query", params, &filter)
}

func (s *Service) search(ctx context.Context, mode string, params url.Values, filter *relevanceFilter) ([]models.Candidate, error) {
	if len(s.clients) == 0 {
		return nil, ErrNoIndexers
	}

	cacheKey := s.cacheKey(mode, params)
	if cached, ok := s.loadCached(ctx, cacheKey); ok {
		s.logger.Debug().Str("mode", mode).Int("results", len(cached)).Msg("Serving search from cache")
		return cached, nil
	}

	results, err := s.searchIndexers(ctx, params)
	if err != nil {
		return nil, err
	}

	candidates := s.toCandidates(results, filter)
	if len(candidates) == 0 {
		return nil, models.ErrNoResults
	}

	s.storeCached(ctx, cacheKey, mode, params.Get("q"), candidates)
	return candidates, nil
}

type indexerResult struct {
	name    string
	results []Result
	err     error
}

// searchIndexers fans params out to every indexer not in cooldown. It only
// fails when every indexer that did not time out failed, or when nothing
// answered at all.
func (s *Service) searchIndexers(ctx context.Context, params url.Values) ([]Result, error) {
	available := make([]*Client, 0, len(s.clients))
	for _, client := range s.clients {
		if inCooldown, resumeAt := s.limiter.IsInCooldown(client.Name()); inCooldown {
			s.logger.Warn().
				Str("indexer", client.Name()).
				Time("resume_at", resumeAt.In(time.Local)).
				Msg("Skipping rate-limited indexer for search")
			continue
		}
		available = append(available, client)
	}

	if len(available) == 0 {
		return nil, fmt.Errorf("%w: %d indexer(s) in cooldown", ErrAllCooldown, len(s.clients))
	}

	resultsChan := make(chan indexerResult, len(available))
	for _, client := range available {
		go func(c *Client) {
			defer func() {
				if r := recover(); r != nil {
					err := fmt.Errorf("panic in indexer goroutine: %v", r)
					s.logger.Error().Err(err).Str("indexer", c.Name()).Msg("Recovered from panic in indexer search")
					resultsChan <- indexerResult{name: c.Name(), err: err}
				}
			}()

			results, err := c.Search(ctx, params)
			resultsChan <- indexerResult{name: c.Name(), results: results, err: err}
		}(client)
	}

	var (
		all       []Result
		failures  int
		timeouts  int
		successes int
		lastErr   error
	)

	for range available {
		var res indexerResult
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res = <-resultsChan:
		}

		if res.err != nil {
			var statusErr *StatusError
			switch {
			case errors.As(res.err, &statusErr) && statusErr.IsRateLimited():
				cooldown := s.limiter.RecordFailure(res.name, statusErr.RetryAfter)
				metrics.IncIndexerRequest(res.name, metrics.OutcomeRateLimited)
				s.logger.Warn().Str("indexer", res.name).Dur("cooldown", cooldown).Msg("Indexer rate limited")
				failures++
				lastErr = res.err
			case isTimeoutError(res.err):
				metrics.IncIndexerRequest(res.name, metrics.OutcomeTimeout)
				timeouts++
			default:
				metrics.IncIndexerRequest(res.name, metrics.OutcomeFailure)
				s.logger.Debug().Err(res.err).Str("indexer", res.name).Msg("Indexer search failed")
				failures++
				lastErr = res.err
			}
			continue
		}

		s.limiter.RecordSuccess(res.name)
		metrics.IncIndexerRequest(res.name, metrics.OutcomeSuccess)
		successes++
		all = append(all, res.results...)
	}

	nonTimeout := len(available) - timeouts
	if nonTimeout > 0 && failures == nonTimeout {
		return nil, fmt.Errorf("all %d indexers failed (last error: %w)", nonTimeout, lastErr)
	}
	if successes == 0 {
		return nil, fmt.Errorf("all %d indexers timed out: %w", timeouts, context.DeadlineExceeded)
	}

	if failures > 0 || timeouts > 0 {
		s.logger.Warn().
			Int("indexers_failed", failures).
			Int("indexers_timed_out", timeouts).
			Int("indexers_successful", successes).
			Msg("Some indexers failed or timed out during torznab search")
	}

	return all, nil
}

func isTimeoutError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// toCandidates drops items without an info hash or that fail the relevance
// filter, and keeps the best-seeded copy of each hash.
func (s *Service) toCandidates(results []Result, filter *relevanceFilter) []models.Candidate {
	out := make([]models.Candidate, 0, len(results))

	for _, res := range results {
		if res.InfoHash == "" {
			s.logger.Trace().Str("indexer", res.Indexer).Str("title", res.Title).Msg("Skipping result without info hash")
			continue
		}

		rel := s.parser.Parse(res.Title)
		if filter != nil && !filter.Match(rel.Title, res.Title) {
			continue
		}

		out = append(out, candidateFromResult(res, rel))
	}
	return models.DedupeByInfoHash(out)
}

func candidateFromResult(res Result, rel *releases.Release) models.Candidate {
	c := models.Candidate{
		InfoHash:  strings.ToLower(res.InfoHash),
		Title:     res.Title,
		Indexer:   res.Indexer,
		MagnetURI: res.MagnetURI,
		Group:     rel.Group,
		Seeders:   max(res.Seeders, 0),
		SizeBytes: res.Size,
	}

	if q, err := models.ParseQuality(rel.Resolution); err == nil {
		c.Quality = q
	}
	if h, err := models.ParseHDR(rel.HDR); err == nil {
		c.HDR = h
	}
	// the release vocabulary matches the enum names; unknown stays zero
	_ = c.Audio.UnmarshalText([]byte(rel.Audio))
	_ = c.Codec.UnmarshalText([]byte(rel.Codec))
	_ = c.Source.UnmarshalText([]byte(rel.Source))
	return c
}

func (s *Service) cacheKey(mode string, params url.Values) string {
	names := s.Indexers()
	slices.Sort(names)
	raw := mode + "|" + params.Encode() + "|" + strings.Join(names, ",")
	return strconv.FormatUint(xxhash.Sum64String(raw), 16)
}

func (s *Service) loadCached(ctx context.Context, key string) ([]models.Candidate, bool) {
	if s.cache == nil {
		return nil, false
	}

	fetchCtx, cancel := context.WithTimeout(ctx, storeOperationTimeout)
	defer cancel()

	entry, ok, err := s.cache.Fetch(fetchCtx, key)
	if err != nil {
		s.logger.Debug().Err(err).Msg("Search cache lookup failed")
		return nil, false
	}
	if !ok {
		return nil, false
	}

	var candidates []models.Candidate
	if err := json.Unmarshal(entry.ResponseData, &candidates); err != nil || len(candidates) == 0 {
		return nil, false
	}
	metrics.IncIndexerRequest("cache", metrics.OutcomeCacheHit)
	return candidates, true
}

func (s *Service) storeCached(ctx context.Context, key, mode, query string, candidates []models.Candidate) {
	if s.cache == nil {
		return
	}

	data, err := json.Marshal(candidates)
	if err != nil {
		return
	}

	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeOperationTimeout)
	defer cancel()

	now := time.Now()
	entry := &models.SearchCacheEntry{
		CacheKey:     key,
		Mode:         mode,
		Query:        query,
		ResponseData: data,
		TotalResults: len(candidates),
		CachedAt:     now,
		ExpiresAt:    now.Add(s.cacheTTL),
	}
	if err := s.cache.Store(storeCtx, entry); err != nil {
		s.logger.Debug().Err(err).Msg("Failed to persist search cache entry")
	}
}

// FlushCache drops every cached search response.
func (s *Service) FlushCache(ctx context.Context) (int64, error) {
	if s.cache == nil {
		return 0, nil
	}
	return s.cache.Flush(ctx)
}

// CleanupCache removes expired cache rows.
func (s *Service) CleanupCache(ctx context.Context) (int64, error) {
	if s.cache == nil {
		return 0, nil
	}
	return s.cache.CleanupExpired(ctx)
}

// Cooldowns reports rate-limited indexers and when they resume.
func (s *Service) Cooldowns() map[string]time.Time {
	return s.limiter.Cooldowns()
}

// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/pickr/internal/dbinterface"
)

// SearchCacheEntry captures a cached indexer search response.
type SearchCacheEntry struct {
	CacheKey     string
	Mode         string
	Query        string
	ResponseData []byte
	TotalResults int
	CachedAt     time.Time
	ExpiresAt    time.Time
	HitCount     int64
}

// SearchCacheStats provides aggregated cache figures for observability.
type SearchCacheStats struct {
	Entries         int64 `json:"entries"`
	TotalHits       int64 `json:"totalHits"`
	ApproxSizeBytes int64 `json:"approxSizeBytes"`
}

// SearchCacheStore persists search responses keyed by a request fingerprint.
// Timestamps are stored as unix seconds so expiry comparisons stay in SQL.
type SearchCacheStore struct {
	db  dbinterface.Querier
	now func() time.Time
}

func NewSearchCacheStore(db dbinterface.Querier) *SearchCacheStore {
	return &SearchCacheStore{db: db, now: time.Now}
}

// Fetch returns a non-expired entry. Expired rows are removed on access.
func (s *SearchCacheStore) Fetch(ctx context.Context, cacheKey string) (*SearchCacheEntry, bool, error) {
	if strings.TrimSpace(cacheKey) == "" {
		return nil, false, fmt.Errorf("cache key cannot be empty")
	}

	const fetchQuery = `
		SELECT mode, query, response_data, total_results, cached_at, expires_at, hit_count
		FROM search_cache
		WHERE cache_key = ?
	`

	var (
		entry     = SearchCacheEntry{CacheKey: cacheKey}
		cachedAt  int64
		expiresAt int64
	)

	err := s.db.QueryRowContext(ctx, fetchQuery, cacheKey).Scan(
		&entry.Mode,
		&entry.Query,
		&entry.ResponseData,
		&entry.TotalResults,
		&cachedAt,
		&expiresAt,
		&entry.HitCount,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("fetch search cache: %w", err)
	}

	entry.CachedAt = time.Unix(cachedAt, 0).UTC()
	entry.ExpiresAt = time.Unix(expiresAt, 0).UTC()

	if !s.now().Before(entry.ExpiresAt) {
		s.deleteEntry(ctx, cacheKey)
		return nil, false, nil
	}

	if _, err := s.db.ExecContext(ctx, `UPDATE search_cache SET hit_count = hit_count + 1 WHERE cache_key = ?`, cacheKey); err != nil {
		log.Debug().Err(err).Str("cacheKey", cacheKey).Msg("Failed to bump search cache hit count")
	}

	return &entry, true, nil
}

// Store inserts or replaces a cached search response.
func (s *SearchCacheStore) Store(ctx context.Context, entry *SearchCacheEntry) error {
	if entry == nil {
		return fmt.Errorf("entry cannot be nil")
	}
	if strings.TrimSpace(entry.CacheKey) == "" {
		return fmt.Errorf("cache key cannot be empty")
	}
	if len(entry.ResponseData) == 0 {
		return fmt.Errorf("response data cannot be empty")
	}
	if entry.CachedAt.IsZero() {
		entry.CachedAt = s.now()
	}
	if !entry.ExpiresAt.After(entry.CachedAt) {
		return fmt.Errorf("expiresAt must be after cachedAt")
	}

	const query = `
		INSERT INTO search_cache (cache_key, mode, query, response_data, total_results, cached_at, expires_at, hit_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT(cache_key) DO UPDATE SET
			mode = excluded.mode,
			query = excluded.query,
			response_data = excluded.response_data,
			total_results = excluded.total_results,
			cached_at = excluded.cached_at,
			expires_at = excluded.expires_at
	`

	if _, err := s.db.ExecContext(ctx, query,
		entry.CacheKey,
		entry.Mode,
		entry.Query,
		entry.ResponseData,
		entry.TotalResults,
		entry.CachedAt.Unix(),
		entry.ExpiresAt.Unix(),
	); err != nil {
		return fmt.Errorf("store search cache entry: %w", err)
	}

	return nil
}

// CleanupExpired removes all expired cache rows.
func (s *SearchCacheStore) CleanupExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM search_cache WHERE expires_at <= ?`, s.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("cleanup search cache: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cleanup search cache rows affected: %w", err)
	}
	return deleted, nil
}

// Flush removes every cache entry.
func (s *SearchCacheStore) Flush(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM search_cache`)
	if err != nil {
		return 0, fmt.Errorf("flush search cache: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("flush search cache rows affected: %w", err)
	}
	return deleted, nil
}

func (s *SearchCacheStore) Stats(ctx context.Context) (*SearchCacheStats, error) {
	const query = `
		SELECT COUNT(*), COALESCE(SUM(hit_count), 0), COALESCE(SUM(LENGTH(response_data)), 0)
		FROM search_cache
	`

	var stats SearchCacheStats
	if err := s.db.QueryRowContext(ctx, query).Scan(&stats.Entries, &stats.TotalHits, &stats.ApproxSizeBytes); err != nil {
		return nil, fmt.Errorf("search cache stats: %w", err)
	}
	return &stats, nil
}

func (s *SearchCacheStore) deleteEntry(ctx context.Context, cacheKey string) {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM search_cache WHERE cache_key = ?`, cacheKey); err != nil {
		log.Debug().Err(err).Str("cacheKey", cacheKey).Msg("Failed to delete expired search cache entry")
	}
}

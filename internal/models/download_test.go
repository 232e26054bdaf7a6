// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/pickr/internal/database"
	"github.com/autobrr/pickr/internal/models"
)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "pickr.db"))
	require.NoError(t, err, "Failed to open test database")
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestDownloadTaskStore_UpsertKeepsKnownFields(t *testing.T) {
	ctx := context.Background()
	store := models.NewDownloadTaskStore(openTestDB(t))

	hash := "0123456789abcdef0123456789abcdef01234567"
	require.NoError(t, store.Upsert(ctx, &models.DownloadTask{
		InfoHash:  hash,
		TaskID:    "task-1",
		State:     models.DownloadStateDownloading,
		MediaID:   "tt1",
		EpisodeID: "ep1",
		Title:     "Show",
	}))

	// a later update without context must not blank the stored fields
	require.NoError(t, store.Upsert(ctx, &models.DownloadTask{
		InfoHash:     hash,
		State:        models.DownloadStateFailed,
		ErrorMessage: "tracker error",
	}))

	got, err := store.Get(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, models.DownloadStateFailed, got.State)
	assert.Equal(t, "task-1", got.TaskID)
	assert.Equal(t, "tt1", got.MediaID)
	assert.Equal(t, "ep1", got.EpisodeID)
	assert.Equal(t, "Show", got.Title)
	assert.Equal(t, "tracker error", got.ErrorMessage)
}

func TestDownloadTaskStore_ListAndDelete(t *testing.T) {
	ctx := context.Background()
	store := models.NewDownloadTaskStore(openTestDB(t))

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i, hash := range []string{"a", "b", "c"} {
		require.NoError(t, store.Upsert(ctx, &models.DownloadTask{
			InfoHash:  hash,
			State:     models.DownloadStateCompleted,
			UpdatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	tasks, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	assert.Equal(t, "c", tasks[0].InfoHash, "most recent first")

	require.NoError(t, store.Delete(ctx, "b"))
	require.ErrorIs(t, store.Delete(ctx, "b"), models.ErrDownloadTaskNotFound)

	_, err = store.Get(ctx, "b")
	require.ErrorIs(t, err, models.ErrDownloadTaskNotFound)
}

func TestDownloadTaskStore_RejectsEmptyHash(t *testing.T) {
	store := models.NewDownloadTaskStore(openTestDB(t))
	require.Error(t, store.Upsert(context.Background(), &models.DownloadTask{State: models.DownloadStateIdle}))
	require.Error(t, store.Upsert(context.Background(), nil))
}

func TestDownloadStateFor(t *testing.T) {
	tests := []struct {
		status models.ExternalDownloadStatus
		want   models.DownloadState
		ok     bool
	}{
		{models.ExternalStatusCompleted, models.DownloadStateCompleted, true},
		{models.ExternalStatusFailed, models.DownloadStateFailed, true},
		{models.ExternalStatusCancelled, models.DownloadStateFailed, true},
		{models.ExternalStatusDownloading, models.DownloadStateDownloading, true},
		{models.ExternalStatusResolving, models.DownloadStateDownloading, true},
		{models.ExternalStatusQueued, models.DownloadStateDownloading, true},
		{"mystery", "", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			got, ok := models.DownloadStateFor(tt.status)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSearchCacheStore(t *testing.T) {
	ctx := context.Background()
	store := models.NewSearchCacheStore(openTestDB(t))

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, store.Store(ctx, &models.SearchCacheEntry{
		CacheKey:     "k1",
		Mode:         "query",
		Query:        "the matrix 1999",
		ResponseData: []byte(`[{"infoHash":"x"}]`),
		TotalResults: 1,
		CachedAt:     now,
		ExpiresAt:    now.Add(time.Hour),
	}))

	entry, ok, err := store.Fetch(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "query", entry.Mode)
	assert.Equal(t, 1, entry.TotalResults)
	assert.JSONEq(t, `[{"infoHash":"x"}]`, string(entry.ResponseData))

	_, ok, err = store.Fetch(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Entries)
	assert.Equal(t, int64(2), stats.TotalHits)

	_, ok, err = store.Fetch(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.Error(t, store.Store(ctx, &models.SearchCacheEntry{CacheKey: "bad", ResponseData: []byte("x"), CachedAt: now, ExpiresAt: now}))

	deleted, err := store.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}

func TestSearchCacheStore_ExpiredEntriesAreDropped(t *testing.T) {
	ctx := context.Background()
	store := models.NewSearchCacheStore(openTestDB(t))

	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, store.Store(ctx, &models.SearchCacheEntry{
		CacheKey:     "old",
		Mode:         "identifier",
		ResponseData: []byte("[]"),
		CachedAt:     past,
		ExpiresAt:    past.Add(time.Hour),
	}))

	_, ok, err := store.Fetch(ctx, "old")
	require.NoError(t, err)
	assert.False(t, ok)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Entries)
}

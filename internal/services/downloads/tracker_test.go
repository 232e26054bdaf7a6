// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package downloads

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/pickr/internal/database"
	"github.com/autobrr/pickr/internal/models"
)

const hashA = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

func newTestStore(t *testing.T) *models.DownloadTaskStore {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "pickr.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return models.NewDownloadTaskStore(db)
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to models.DownloadState
		want     bool
	}{
		{models.DownloadStateIdle, models.DownloadStateResolving, true},
		{models.DownloadStateIdle, models.DownloadStateDownloading, true},
		{models.DownloadStateIdle, models.DownloadStateCompleted, false},
		{models.DownloadStateResolving, models.DownloadStateDownloading, true},
		{models.DownloadStateResolving, models.DownloadStateFailed, true},
		{models.DownloadStateResolving, models.DownloadStateIdle, true},
		{models.DownloadStateResolving, models.DownloadStateCompleted, false},
		{models.DownloadStateDownloading, models.DownloadStateCompleted, true},
		{models.DownloadStateDownloading, models.DownloadStateResolving, false},
		{models.DownloadStateFailed, models.DownloadStateResolving, true},
		{models.DownloadStateCompleted, models.DownloadStateFailed, false},
		{models.DownloadStateCompleted, models.DownloadStateResolving, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestTracker_Lifecycle(t *testing.T) {
	ctx := context.Background()
	tracker := NewTracker(nil)
	req := models.DownloadRequest{MediaID: "tt0133093", Title: "The Matrix"}

	assert.Equal(t, models.DownloadStateIdle, tracker.State(hashA))

	require.NoError(t, tracker.MarkResolving(ctx, hashA, req))
	assert.Equal(t, models.DownloadStateResolving, tracker.State(hashA))

	require.NoError(t, tracker.MarkDownloading(ctx, hashA, "task-1", models.DownloadRequest{}))
	task, ok := tracker.Task(hashA)
	require.True(t, ok)
	assert.Equal(t, "task-1", task.TaskID)
	assert.Equal(t, "tt0133093", task.MediaID)
	assert.Equal(t, "The Matrix", task.Title)
	assert.Len(t, tracker.Pending(), 1)

	require.NoError(t, tracker.MarkCompleted(ctx, hashA))
	assert.Empty(t, tracker.Pending())

	err := tracker.MarkResolving(ctx, hashA, req)
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, models.DownloadStateCompleted, tracker.State(hashA))
}

func TestTracker_FailedCanRetry(t *testing.T) {
	ctx := context.Background()
	tracker := NewTracker(nil)

	require.NoError(t, tracker.MarkResolving(ctx, hashA, models.DownloadRequest{}))
	require.NoError(t, tracker.MarkFailed(ctx, hashA, "no cached files"))

	task, _ := tracker.Task(hashA)
	assert.Equal(t, "no cached files", task.ErrorMessage)

	require.NoError(t, tracker.MarkResolving(ctx, hashA, models.DownloadRequest{}))
	task, _ = tracker.Task(hashA)
	assert.Empty(t, task.ErrorMessage)
}

func TestTracker_MarkIdleForgets(t *testing.T) {
	ctx := context.Background()
	tracker := NewTracker(nil)

	require.NoError(t, tracker.MarkResolving(ctx, hashA, models.DownloadRequest{}))
	require.NoError(t, tracker.MarkIdle(ctx, hashA))
	_, ok := tracker.Task(hashA)
	assert.False(t, ok)
	assert.Empty(t, tracker.States())
}

func TestTracker_ApplyExternalStatus(t *testing.T) {
	tests := []struct {
		name    string
		status  models.ExternalDownloadStatus
		want    models.DownloadState
		changed bool
	}{
		{name: "completed", status: models.ExternalStatusCompleted, want: models.DownloadStateCompleted, changed: true},
		{name: "failed", status: models.ExternalStatusFailed, want: models.DownloadStateFailed, changed: true},
		{name: "cancelled", status: models.ExternalStatusCancelled, want: models.DownloadStateFailed, changed: true},
		{name: "queued", status: models.ExternalStatusQueued, want: models.DownloadStateDownloading, changed: false},
		{name: "resolving", status: models.ExternalStatusResolving, want: models.DownloadStateDownloading, changed: false},
		{name: "downloading", status: models.ExternalStatusDownloading, want: models.DownloadStateDownloading, changed: false},
		{name: "unknown ignored", status: "paused-forever", want: models.DownloadStateDownloading, changed: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			tracker := NewTracker(nil)
			require.NoError(t, tracker.MarkDownloading(ctx, hashA, "task", models.DownloadRequest{}))

			changed, err := tracker.ApplyExternalStatus(ctx, hashA, tt.status)
			require.NoError(t, err)
			assert.Equal(t, tt.changed, changed)
			assert.Equal(t, tt.want, tracker.State(hashA))
		})
	}
}

func TestTracker_PersistsAndRestores(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	const (
		hashB = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
		hashC = "cccccccccccccccccccccccccccccccccccccccc"
	)

	tracker := NewTracker(store)
	require.NoError(t, tracker.MarkDownloading(ctx, hashA, "task-a", models.DownloadRequest{MediaID: "m1", EpisodeID: "e1"}))
	require.NoError(t, tracker.MarkResolving(ctx, hashB, models.DownloadRequest{}))
	require.NoError(t, tracker.MarkResolving(ctx, hashC, models.DownloadRequest{}))
	require.NoError(t, tracker.MarkFailed(ctx, hashC, "boom"))

	restored := NewTracker(store)
	require.NoError(t, restored.Restore(ctx))

	assert.Equal(t, map[string]models.DownloadState{
		hashA: models.DownloadStateDownloading,
		hashC: models.DownloadStateFailed,
	}, restored.States())

	task, ok := restored.Task(hashA)
	require.True(t, ok)
	assert.Equal(t, "task-a", task.TaskID)
	assert.Equal(t, "e1", task.EpisodeID)

	failed, _ := restored.Task(hashC)
	assert.Equal(t, "boom", failed.ErrorMessage)
}

// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package downloads

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/autobrr/pickr/internal/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeStatusSource struct {
	mu       sync.Mutex
	statuses map[string]models.ExternalDownloadStatus
	errs     map[string]error
	calls    int
}

func (f *fakeStatusSource) PollStatus(_ context.Context, taskID string) (models.ExternalDownloadStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.errs[taskID]; err != nil {
		return "", err
	}
	return f.statuses[taskID], nil
}

func TestPoll(t *testing.T) {
	ctx := context.Background()
	tracker := NewTracker(nil)

	hashes := map[string]string{
		"1111111111111111111111111111111111111111": "t1",
		"2222222222222222222222222222222222222222": "t2",
		"3333333333333333333333333333333333333333": "t3",
		"4444444444444444444444444444444444444444": "t4",
	}
	for hash, task := range hashes {
		require.NoError(t, tracker.MarkDownloading(ctx, hash, task, models.DownloadRequest{}))
	}
	// resolving tasks have nothing to poll yet
	require.NoError(t, tracker.MarkResolving(ctx, "5555555555555555555555555555555555555555", models.DownloadRequest{}))

	source := &fakeStatusSource{
		statuses: map[string]models.ExternalDownloadStatus{
			"t1": models.ExternalStatusCompleted,
			"t2": models.ExternalStatusCancelled,
			"t3": models.ExternalStatusDownloading,
		},
		errs: map[string]error{"t4": errors.New("unreachable")},
	}

	changed, err := Poll(ctx, tracker, source, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, changed)
	assert.Equal(t, 4, source.calls)

	assert.Equal(t, models.DownloadStateCompleted, tracker.State("1111111111111111111111111111111111111111"))
	assert.Equal(t, models.DownloadStateFailed, tracker.State("2222222222222222222222222222222222222222"))
	assert.Equal(t, models.DownloadStateDownloading, tracker.State("3333333333333333333333333333333333333333"))
	assert.Equal(t, models.DownloadStateDownloading, tracker.State("4444444444444444444444444444444444444444"))
}

func TestPoll_NothingPending(t *testing.T) {
	source := &fakeStatusSource{}
	changed, err := Poll(context.Background(), NewTracker(nil), source, 0)
	require.NoError(t, err)
	assert.Zero(t, changed)
	assert.Zero(t, source.calls)
}

func TestPoller_RunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tracker := NewTracker(nil)
	require.NoError(t, tracker.MarkDownloading(ctx, hashA, "t1", models.DownloadRequest{}))

	source := &fakeStatusSource{statuses: map[string]models.ExternalDownloadStatus{"t1": models.ExternalStatusCompleted}}
	poller := NewPoller(tracker, source, 5*time.Millisecond)

	changedCh := make(chan int, 1)
	poller.OnChange(func(n int) {
		select {
		case changedCh <- n:
		default:
		}
	})

	done := make(chan struct{})
	go func() {
		poller.Run(ctx)
		close(done)
	}()

	select {
	case n := <-changedCh:
		assert.Equal(t, 1, n)
	case <-time.After(2 * time.Second):
		t.Fatal("poller never reported a change")
	}

	cancel()
	<-done
	assert.Equal(t, models.DownloadStateCompleted, tracker.State(hashA))
}

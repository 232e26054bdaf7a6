// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package results

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

type fakeOracle struct {
	mu      sync.Mutex
	calls   [][]string
	failOn  map[int]error
	cached  map[string]string
	onCall  func(call int)
	blockCh chan struct{}
}

func (o *fakeOracle) CheckAvailability(ctx context.Context, hashes []string) (map[string]models.Availability, error) {
	o.mu.Lock()
	call := len(o.calls)
	o.calls = append(o.calls, append([]string(nil), hashes...))
	onCall := o.onCall
	o.mu.Unlock()

	if onCall != nil {
		onCall(call)
	}
	if o.blockCh != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-o.blockCh:
		}
	}
	if err := o.failOn[call]; err != nil {
		return nil, err
	}

	out := make(map[string]models.Availability)
	for _, h := range hashes {
		if service, ok := o.cached[h]; ok {
			out[h] = models.Availability{Cached: true, ServiceID: service}
		}
	}
	return out, nil
}

func (o *fakeOracle) Calls() [][]string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([][]string(nil), o.calls...)
}

func TestEnrichmentWorker_BatchesAndApplies(t *testing.T) {
	store := NewStore()
	store.SetResults(makeCandidates(45), 10)

	oracle := &fakeOracle{cached: map[string]string{"hash-03": "rd", "hash-25": "rd", "hash-44": "ad"}}
	worker := NewEnrichmentWorker(oracle, 20)

	var applied int
	err := worker.Run(context.Background(), store.Hashes(), func(updates map[string]models.Availability) bool {
		applied++
		store.UpdateCacheStatus(updates)
		return true
	})
	require.NoError(t, err)

	calls := oracle.Calls()
	require.Len(t, calls, 3)
	assert.Len(t, calls[0], 20)
	assert.Len(t, calls[1], 20)
	assert.Len(t, calls[2], 5)
	assert.Equal(t, "hash-00", calls[0][0])
	assert.Equal(t, "hash-20", calls[1][0])
	assert.Equal(t, 3, applied)

	for hash, service := range oracle.cached {
		c, ok := store.Lookup(hash)
		require.True(t, ok)
		assert.True(t, c.IsCached, hash)
		assert.Equal(t, service, c.CachedOnServiceID)
	}
}

func TestEnrichmentWorker_FailedBatchIsSkipped(t *testing.T) {
	oracle := &fakeOracle{
		failOn: map[int]error{0: errors.New("oracle down")},
		cached: map[string]string{"hash-01": "rd", "hash-05": "rd"},
	}
	worker := NewEnrichmentWorker(oracle, 3)

	var got []map[string]models.Availability
	err := worker.Run(context.Background(), models.CandidateHashes(makeCandidates(6)), func(updates map[string]models.Availability) bool {
		got = append(got, updates)
		return true
	})
	require.NoError(t, err)

	require.Len(t, oracle.Calls(), 2)
	require.Len(t, got, 1, "only the second batch is applied")
	assert.Contains(t, got[0], "hash-05")
	assert.NotContains(t, got[0], "hash-01")
}

func TestEnrichmentWorker_StopsWhenStale(t *testing.T) {
	oracle := &fakeOracle{}
	worker := NewEnrichmentWorker(oracle, 2)

	err := worker.Run(context.Background(), models.CandidateHashes(makeCandidates(10)), func(map[string]models.Availability) bool {
		return false
	})
	require.NoError(t, err)
	assert.Len(t, oracle.Calls(), 1)
}

func TestEnrichmentWorker_CancelledBeforeStart(t *testing.T) {
	oracle := &fakeOracle{}
	worker := NewEnrichmentWorker(oracle, 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := worker.Run(ctx, []string{"a", "b"}, func(map[string]models.Availability) bool {
		t.Fatal("apply must not run after cancellation")
		return true
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, oracle.Calls())
}

func TestEnrichmentWorker_CancelledMidBatchDropsResult(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	oracle := &fakeOracle{cached: map[string]string{"hash-00": "rd"}}
	// cancel while the oracle call is in flight but let it return a result
	oracle.onCall = func(int) { cancel() }
	worker := NewEnrichmentWorker(oracle, 5)

	err := worker.Run(ctx, models.CandidateHashes(makeCandidates(10)), func(map[string]models.Availability) bool {
		t.Fatal("partial batch must not be applied")
		return true
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Len(t, oracle.Calls(), 1)
}

func TestEnrichmentWorker_CancelInterruptsBlockedCall(t *testing.T) {
	oracle := &fakeOracle{blockCh: make(chan struct{})}
	worker := NewEnrichmentWorker(oracle, 5)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- worker.Run(ctx, []string{"a", "b"}, func(map[string]models.Availability) bool { return true })
	}()

	require.Eventually(t, func() bool { return len(oracle.Calls()) == 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestEnrichmentWorker_DelayRespectsCancel(t *testing.T) {
	oracle := &fakeOracle{}
	worker := NewEnrichmentWorker(oracle, 1, WithBatchDelay(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- worker.Run(ctx, []string{"a", "b", "c"}, func(map[string]models.Availability) bool { return true })
	}()

	require.Eventually(t, func() bool { return len(oracle.Calls()) == 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("worker stuck in batch delay")
	}
	assert.Len(t, oracle.Calls(), 1)
}

func TestEnrichmentWorker_DefaultBatchSize(t *testing.T) {
	assert.Equal(t, DefaultEnrichmentBatchSize, NewEnrichmentWorker(&fakeOracle{}, 0).BatchSize())
}

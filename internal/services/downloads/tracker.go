// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package downloads tracks the download button lifecycle per info hash.
package downloads

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/pickr/internal/models"
)

var ErrInvalidTransition = errors.New("invalid download state transition")

var transitions = map[models.DownloadState][]models.DownloadState{
	models.DownloadStateIdle:        {models.DownloadStateResolving, models.DownloadStateDownloading},
	models.DownloadStateResolving:   {models.DownloadStateDownloading, models.DownloadStateFailed, models.DownloadStateIdle},
	models.DownloadStateDownloading: {models.DownloadStateDownloading, models.DownloadStateCompleted, models.DownloadStateFailed},
	models.DownloadStateFailed:      {models.DownloadStateResolving, models.DownloadStateDownloading, models.DownloadStateFailed},
	models.DownloadStateCompleted:   {},
}

// CanTransition reports whether from → to is allowed.
func CanTransition(from, to models.DownloadState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Store persists tracker rows.
type Store interface {
	Upsert(ctx context.Context, task *models.DownloadTask) error
	List(ctx context.Context) ([]*models.DownloadTask, error)
}

// Tracker holds per-hash download state. It is independent of any result set,
// so a new search never resets markers.
type Tracker struct {
	mu     sync.RWMutex
	tasks  map[string]*models.DownloadTask
	store  Store
	now    func() time.Time
	logger zerolog.Logger
}

// NewTracker returns a tracker persisting to store. store may be nil.
func NewTracker(store Store) *Tracker {
	return &Tracker{
		tasks:  make(map[string]*models.DownloadTask),
		store:  store,
		now:    time.Now,
		logger: log.Logger.With().Str("module", "downloads").Logger(),
	}
}

// Restore loads persisted tasks. Resolving rows belong to a process that no
// longer exists and are dropped back to idle.
func (t *Tracker) Restore(ctx context.Context) error {
	if t.store == nil {
		return nil
	}

	tasks, err := t.store.List(ctx)
	if err != nil {
		return fmt.Errorf("restore download tasks: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	restored := 0
	for _, task := range tasks {
		if task.State == models.DownloadStateResolving || task.State == models.DownloadStateIdle {
			continue
		}
		copied := *task
		t.tasks[task.InfoHash] = &copied
		restored++
	}

	t.logger.Debug().Int("restored", restored).Msg("Restored download tasks")
	return nil
}

// State returns the state for hash, idle when unknown.
func (t *Tracker) State(hash string) models.DownloadState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if task, ok := t.tasks[hash]; ok {
		return task.State
	}
	return models.DownloadStateIdle
}

func (t *Tracker) Task(hash string) (models.DownloadTask, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	task, ok := t.tasks[hash]
	if !ok {
		return models.DownloadTask{}, false
	}
	return *task, true
}

// States returns the non-idle state of every tracked hash.
func (t *Tracker) States() map[string]models.DownloadState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]models.DownloadState, len(t.tasks))
	for hash, task := range t.tasks {
		out[hash] = task.State
	}
	return out
}

// Tasks returns all tracked tasks sorted by hash.
func (t *Tracker) Tasks() []models.DownloadTask {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]models.DownloadTask, 0, len(t.tasks))
	for _, task := range t.tasks {
		out = append(out, *task)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InfoHash < out[j].InfoHash })
	return out
}

// Pending returns downloading tasks that have an external task id to poll.
func (t *Tracker) Pending() []models.DownloadTask {
	var pending []models.DownloadTask
	for _, task := range t.Tasks() {
		if task.State == models.DownloadStateDownloading && task.TaskID != "" {
			pending = append(pending, task)
		}
	}
	return pending
}

func (t *Tracker) MarkResolving(ctx context.Context, hash string, req models.DownloadRequest) error {
	return t.transition(ctx, hash, models.DownloadStateResolving, func(task *models.DownloadTask) {
		task.ErrorMessage = ""
		applyRequest(task, req)
	})
}

// MarkDownloading records a hand-off. taskID may be empty until the sink
// has accepted the download.
func (t *Tracker) MarkDownloading(ctx context.Context, hash, taskID string, req models.DownloadRequest) error {
	return t.transition(ctx, hash, models.DownloadStateDownloading, func(task *models.DownloadTask) {
		task.ErrorMessage = ""
		if taskID != "" {
			task.TaskID = taskID
		}
		applyRequest(task, req)
	})
}

func (t *Tracker) MarkCompleted(ctx context.Context, hash string) error {
	return t.transition(ctx, hash, models.DownloadStateCompleted, nil)
}

func (t *Tracker) MarkFailed(ctx context.Context, hash, message string) error {
	return t.transition(ctx, hash, models.DownloadStateFailed, func(task *models.DownloadTask) {
		task.ErrorMessage = message
	})
}

// MarkIdle ends a resolve that was not followed by a download.
func (t *Tracker) MarkIdle(ctx context.Context, hash string) error {
	return t.transition(ctx, hash, models.DownloadStateIdle, nil)
}

// ApplyExternalStatus folds a download manager status into the tracker.
// Unknown statuses and no-op updates report false.
func (t *Tracker) ApplyExternalStatus(ctx context.Context, hash string, status models.ExternalDownloadStatus) (bool, error) {
	next, ok := models.DownloadStateFor(status)
	if !ok {
		t.logger.Debug().Str("infohash", hash).Str("status", string(status)).Msg("Ignoring unknown download status")
		return false, nil
	}
	if t.State(hash) == next {
		return false, nil
	}

	var err error
	if next == models.DownloadStateFailed {
		err = t.MarkFailed(ctx, hash, fmt.Sprintf("download %s", status))
	} else {
		err = t.transition(ctx, hash, next, nil)
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func applyRequest(task *models.DownloadTask, req models.DownloadRequest) {
	if req.MediaID != "" {
		task.MediaID = req.MediaID
	}
	if req.EpisodeID != "" {
		task.EpisodeID = req.EpisodeID
	}
	if req.Title != "" {
		task.Title = req.Title
	}
}

func (t *Tracker) transition(ctx context.Context, hash string, to models.DownloadState, mutate func(*models.DownloadTask)) error {
	if hash == "" {
		return fmt.Errorf("%w: empty info hash", ErrInvalidTransition)
	}

	t.mu.Lock()
	current, exists := t.tasks[hash]
	from := models.DownloadStateIdle
	if exists {
		from = current.State
	}
	if !CanTransition(from, to) {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	var task models.DownloadTask
	if exists {
		task = *current
	} else {
		task = models.DownloadTask{InfoHash: hash}
	}
	task.State = to
	task.UpdatedAt = t.now().UTC()
	if mutate != nil {
		mutate(&task)
	}

	if to == models.DownloadStateIdle {
		delete(t.tasks, hash)
	} else {
		t.tasks[hash] = &task
	}
	t.mu.Unlock()

	t.logger.Debug().Str("infohash", hash).Str("from", string(from)).Str("to", string(to)).Msg("Download state changed")

	if t.store != nil {
		persisted := task
		if err := t.store.Upsert(ctx, &persisted); err != nil {
			t.logger.Warn().Err(err).Str("infohash", hash).Msg("Failed to persist download task")
		}
	}
	return nil
}

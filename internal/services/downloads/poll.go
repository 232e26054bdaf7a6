// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package downloads

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/autobrr/pickr/internal/models"
)

const (
	DefaultPollConcurrency = 4
	DefaultPollInterval    = 30 * time.Second
)

// StatusSource reports the status of an external download task.
type StatusSource interface {
	PollStatus(ctx context.Context, taskID string) (models.ExternalDownloadStatus, error)
}

type polled struct {
	status models.ExternalDownloadStatus
	err    error
}

// Poll fetches the status of every pending task concurrently and applies the
// results to the tracker once all calls have returned. Individual poll
// failures are logged and skipped. It returns the number of state changes.
func Poll(ctx context.Context, tracker *Tracker, source StatusSource, concurrency int) (int, error) {
	pending := tracker.Pending()
	if len(pending) == 0 {
		return 0, nil
	}
	if concurrency <= 0 {
		concurrency = DefaultPollConcurrency
	}

	out := make([]polled, len(pending))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, task := range pending {
		g.Go(func() error {
			status, err := source.PollStatus(gctx, task.TaskID)
			out[i] = polled{status: status, err: err}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	changed := 0
	var errs []error
	for i, task := range pending {
		if out[i].err != nil {
			log.Debug().Err(out[i].err).Str("infohash", task.InfoHash).Str("task", task.TaskID).Msg("Failed to poll download status")
			continue
		}
		ok, err := tracker.ApplyExternalStatus(ctx, task.InfoHash, out[i].status)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			changed++
		}
	}

	return changed, errors.Join(errs...)
}

// Poller runs Poll on an interval until its context is cancelled.
type Poller struct {
	tracker  *Tracker
	source   StatusSource
	interval time.Duration
	onChange func(changed int)
}

func NewPoller(tracker *Tracker, source StatusSource, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{tracker: tracker, source: source, interval: interval}
}

// OnChange registers fn to run after a poll round that changed state.
func (p *Poller) OnChange(fn func(changed int)) {
	p.onChange = fn
}

func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	log.Debug().Dur("interval", p.interval).Msg("Starting download poller")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			changed, err := Poll(ctx, p.tracker, p.source, DefaultPollConcurrency)
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Warn().Err(err).Msg("Download poll round failed")
			}
			if changed > 0 {
				log.Debug().Int("changed", changed).Msg("Download states updated")
				if p.onChange != nil {
					p.onChange(changed)
				}
			}
		}
	}
}

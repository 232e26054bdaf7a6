// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package results

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/pickr/internal/metrics"
	"github.com/autobrr/pickr/internal/models"
)

const DefaultEnrichmentBatchSize = 20

// Oracle reports which hashes are cached on a debrid service.
type Oracle interface {
	CheckAvailability(ctx context.Context, hashes []string) (map[string]models.Availability, error)
}

// ApplyFunc hands one batch back to the coordinator. It returns false when the
// search the worker belongs to is no longer current, which stops the worker.
type ApplyFunc func(updates map[string]models.Availability) bool

// EnrichmentWorker checks availability in fixed-size batches.
type EnrichmentWorker struct {
	oracle    Oracle
	batchSize int
	delay     time.Duration
	logger    zerolog.Logger
}

type WorkerOption func(*EnrichmentWorker)

// WithBatchDelay pauses between batches to stay under oracle rate limits.
func WithBatchDelay(d time.Duration) WorkerOption {
	return func(w *EnrichmentWorker) {
		if d > 0 {
			w.delay = d
		}
	}
}

func NewEnrichmentWorker(oracle Oracle, batchSize int, opts ...WorkerOption) *EnrichmentWorker {
	if batchSize <= 0 {
		batchSize = DefaultEnrichmentBatchSize
	}
	w := &EnrichmentWorker{
		oracle:    oracle,
		batchSize: batchSize,
		logger:    log.Logger.With().Str("module", "enrichment").Logger(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *EnrichmentWorker) BatchSize() int {
	return w.batchSize
}

// Run walks hashes batch by batch until done, cancelled, or told the search is
// stale. A failed batch is skipped. Nothing is applied once ctx is done.
func (w *EnrichmentWorker) Run(ctx context.Context, hashes []string, apply ApplyFunc) error {
	if w.oracle == nil || len(hashes) == 0 {
		return nil
	}

	for start, batchNum := 0, 0; start < len(hashes); start, batchNum = start+w.batchSize, batchNum+1 {
		if err := ctx.Err(); err != nil {
			metrics.IncEnrichmentBatch(metrics.OutcomeCancelled)
			return err
		}

		if batchNum > 0 && w.delay > 0 {
			timer := time.NewTimer(w.delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				metrics.IncEnrichmentBatch(metrics.OutcomeCancelled)
				return ctx.Err()
			case <-timer.C:
			}
		}

		batch := hashes[start:min(start+w.batchSize, len(hashes))]

		updates, err := w.oracle.CheckAvailability(ctx, batch)
		if ctxErr := ctx.Err(); ctxErr != nil {
			metrics.IncEnrichmentBatch(metrics.OutcomeCancelled)
			return ctxErr
		}
		if err != nil {
			if errors.Is(err, context.Canceled) {
				metrics.IncEnrichmentBatch(metrics.OutcomeCancelled)
				return err
			}
			metrics.IncEnrichmentBatch(metrics.OutcomeFailure)
			w.logger.Warn().Err(err).Int("batch", batchNum).Int("size", len(batch)).Msg("Availability check failed, skipping batch")
			continue
		}

		if !apply(updates) {
			metrics.IncEnrichmentBatch(metrics.OutcomeStale)
			w.logger.Debug().Int("batch", batchNum).Msg("Search superseded, stopping enrichment")
			return nil
		}

		metrics.IncEnrichmentBatch(metrics.OutcomeSuccess)
		w.logger.Trace().Int("batch", batchNum).Int("cached", len(updates)).Msg("Applied availability batch")
	}

	return nil
}

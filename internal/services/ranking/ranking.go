// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package ranking scores and orders search candidates.
package ranking

import (
	"cmp"
	"context"
	"runtime"
	"slices"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/autobrr/pickr/internal/metrics"
	"github.com/autobrr/pickr/internal/models"
)

// DefaultParallelThreshold is the largest input ranked on the sequential path.
const DefaultParallelThreshold = 8

type scored struct {
	index int
	score int
}

// Service ranks candidates. The zero value is usable and ranks sequentially
// up to DefaultParallelThreshold items.
type Service struct {
	parallelThreshold int
	workers           int
}

type Option func(*Service)

func WithParallelThreshold(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.parallelThreshold = n
		}
	}
}

func WithWorkers(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.workers = n
		}
	}
}

func NewService(opts ...Option) *Service {
	s := &Service{
		parallelThreshold: DefaultParallelThreshold,
		workers:           runtime.GOMAXPROCS(0),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Rank returns candidates ordered best first. Only cancellation of ctx can
// fail it, in which case nothing is returned.
func (s *Service) Rank(ctx context.Context, candidates []models.Candidate, prefs models.Preferences) ([]models.Candidate, error) {
	ranked, err := s.RankScored(ctx, candidates, prefs)
	if err != nil {
		return nil, err
	}

	out := make([]models.Candidate, len(ranked))
	for i := range ranked {
		out[i] = ranked[i].Candidate
	}
	return out, nil
}

// RankScored is Rank with the computed scores attached.
func (s *Service) RankScored(ctx context.Context, candidates []models.Candidate, prefs models.Preferences) ([]models.RankedCandidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	threshold := DefaultParallelThreshold
	if s != nil && s.parallelThreshold > 0 {
		threshold = s.parallelThreshold
	}

	start := time.Now()
	var (
		scores []scored
		err    error
		path   = "sequential"
	)
	if len(candidates) <= threshold {
		scores = scoreSequential(candidates, prefs)
	} else {
		path = "concurrent"
		scores, err = s.scoreConcurrent(ctx, candidates, prefs)
		if err != nil {
			return nil, err
		}
	}

	sortScored(scores, candidates)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ranked := make([]models.RankedCandidate, len(scores))
	for i, sc := range scores {
		ranked[i] = models.RankedCandidate{Candidate: candidates[sc.index], Score: sc.score}
	}

	metrics.ObserveRanking(path, time.Since(start))
	log.Trace().Str("path", path).Int("candidates", len(candidates)).Dur("took", time.Since(start)).Msg("Ranked candidates")

	return ranked, nil
}

func scoreSequential(candidates []models.Candidate, prefs models.Preferences) []scored {
	scores := make([]scored, len(candidates))
	for i := range candidates {
		scores[i] = scored{index: i, score: Score(candidates[i], prefs)}
	}
	return scores
}

// scoreConcurrent fans scoring out in chunks. Each worker writes only to the
// slots of its own chunk, so results land at their original index no matter
// which worker finishes first.
func (s *Service) scoreConcurrent(ctx context.Context, candidates []models.Candidate, prefs models.Preferences) ([]scored, error) {
	workers := runtime.GOMAXPROCS(0)
	if s != nil && s.workers > 0 {
		workers = s.workers
	}

	scores := make([]scored, len(candidates))
	chunk := (len(candidates) + workers - 1) / workers

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for lo := 0; lo < len(candidates); lo += chunk {
		hi := min(lo+chunk, len(candidates))
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			for i := lo; i < hi; i++ {
				scores[i] = scored{index: i, score: Score(candidates[i], prefs)}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return scores, nil
}

// sortScored orders by score desc, then seeders desc, then original index asc.
func sortScored(scores []scored, candidates []models.Candidate) {
	slices.SortFunc(scores, func(a, b scored) int {
		if c := cmp.Compare(b.score, a.score); c != 0 {
			return c
		}
		if c := cmp.Compare(candidates[b.index].Seeders, candidates[a.index].Seeders); c != 0 {
			return c
		}
		return cmp.Compare(a.index, b.index)
	})
}

// SelectPrimary picks the candidate to auto-play from a ranked list: the first
// one not above the preferred quality, or the top one when no preference is set
// or nothing fits under it.
func SelectPrimary(ranked []models.Candidate, prefs models.Preferences) (models.Candidate, bool) {
	if len(ranked) == 0 {
		return models.Candidate{}, false
	}
	if prefs.PreferredQuality == models.QualityUnknown {
		return ranked[0], true
	}
	for _, c := range ranked {
		if c.Quality <= prefs.PreferredQuality {
			return c, true
		}
	}
	return ranked[0], true
}

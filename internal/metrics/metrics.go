// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package metrics holds the Prometheus collectors for the search pipeline.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const (
	OutcomeSuccess   = "success"
	OutcomeFailure   = "failure"
	OutcomeCancelled = "cancelled"
	OutcomeStale     = "stale"

	OutcomeTimeout     = "timeout"
	OutcomeRateLimited = "rate_limited"
	OutcomeCacheHit    = "cache_hit"
)

var (
	searchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pickr_search_duration_seconds",
		Help:    "Duration of orchestrated searches by path and outcome",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"path", "outcome"}) // path=identifier|query

	indexerRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pickr_indexer_requests_total",
		Help: "Torznab indexer requests by indexer and outcome",
	}, []string{"indexer", "outcome"}) // outcome=success|failure|timeout|rate_limited|cache_hit

	enrichmentBatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pickr_enrichment_batches_total",
		Help: "Cache enrichment batches by outcome",
	}, []string{"outcome"}) // outcome=success|failure|cancelled|stale

	resolveTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pickr_stream_resolve_total",
		Help: "Stream resolution attempts by outcome",
	}, []string{"outcome"})

	downloadEnqueueTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pickr_download_enqueue_total",
		Help: "Download hand-offs by outcome",
	}, []string{"outcome"})

	rankingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pickr_ranking_duration_seconds",
		Help:    "Time spent scoring and sorting candidates",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
	}, []string{"path"}) // path=sequential|concurrent

	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pickr_active_sessions",
		Help: "Number of live search sessions",
	})
)

func ObserveSearch(path, outcome string, d time.Duration) {
	searchDuration.WithLabelValues(path, outcome).Observe(d.Seconds())
}

func IncIndexerRequest(indexer, outcome string) {
	indexerRequests.WithLabelValues(indexer, outcome).Inc()
}

func IncEnrichmentBatch(outcome string) {
	enrichmentBatches.WithLabelValues(outcome).Inc()
}

func IncResolve(outcome string) {
	resolveTotal.WithLabelValues(outcome).Inc()
}

func IncDownloadEnqueue(outcome string) {
	downloadEnqueueTotal.WithLabelValues(outcome).Inc()
}

func ObserveRanking(path string, d time.Duration) {
	rankingDuration.WithLabelValues(path).Observe(d.Seconds())
}

func SetActiveSessions(n int) {
	activeSessions.Set(float64(n))
}

// Server exposes /metrics on a dedicated listener.
type Server struct {
	server *http.Server
}

func NewServer(host string, port int) *Server {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())

	return &Server{
		server: &http.Server{
			Addr:              net.JoinHostPort(host, strconv.Itoa(port)),
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

func (s *Server) ListenAndServe() error {
	log.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(resolveTotal.WithLabelValues(OutcomeFailure))
	IncResolve(OutcomeFailure)
	IncResolve(OutcomeFailure)
	assert.Equal(t, before+2, testutil.ToFloat64(resolveTotal.WithLabelValues(OutcomeFailure)))

	SetActiveSessions(3)
	assert.Equal(t, float64(3), testutil.ToFloat64(activeSessions))
}

func TestServerExposesMetrics(t *testing.T) {
	ObserveRanking("sequential", 2*time.Millisecond)
	IncEnrichmentBatch(OutcomeSuccess)

	srv := httptest.NewServer(NewServer("127.0.0.1", 0).server.Handler)
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "pickr_ranking_duration_seconds")
	assert.Contains(t, string(body), "pickr_enrichment_batches_total")
}

// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/alexedwards/scs/v2"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/pickr/internal/models"
	"github.com/autobrr/pickr/internal/services/downloads"
	"github.com/autobrr/pickr/internal/services/playback"
	"github.com/autobrr/pickr/internal/services/search"
	"github.com/autobrr/pickr/internal/services/sessions"
)

const sessionKey = "pickr_session_id"

type SessionHandler struct {
	registry       *sessions.Registry
	sessionManager *scs.SessionManager
	tracker        *downloads.Tracker
}

func NewSessionHandler(registry *sessions.Registry, sessionManager *scs.SessionManager, tracker *downloads.Tracker) *SessionHandler {
	return &SessionHandler{
		registry:       registry,
		sessionManager: sessionManager,
		tracker:        tracker,
	}
}

// Routes registers the session routes. searchMiddleware only wraps the
// search route.
func (h *SessionHandler) Routes(r chi.Router, searchMiddleware ...func(http.Handler) http.Handler) {
	r.Route("/session", func(r chi.Router) {
		r.With(searchMiddleware...).Post("/search", h.Search)
		r.Post("/episode", h.SelectEpisode)
		r.Get("/results", h.Results)
		r.Post("/results/reveal", h.RevealMore)
		r.Post("/resolve", h.Resolve)
		r.Get("/pool", h.FallbackPool)
		r.Post("/downloads", h.EnqueueDownload)
		r.Get("/downloads", h.ListDownloads)
		r.Post("/retry", h.Retry)
		r.Get("/phase", h.GetPhase)
		r.Post("/phase", h.UpdatePhase)
		r.Delete("/", h.Close)
	})
}

// orchestrator returns the orchestrator bound to the caller's browser
// session, creating both on first use.
func (h *SessionHandler) orchestrator(w http.ResponseWriter, r *http.Request) (*search.Orchestrator, bool) {
	id := h.sessionManager.GetString(r.Context(), sessionKey)
	if id == "" {
		id = uuid.NewString()
		h.sessionManager.Put(r.Context(), sessionKey, id)
	}

	o := h.registry.GetOrCreate(id)
	if o == nil {
		RespondError(w, http.StatusServiceUnavailable, "Server is shutting down")
		return nil, false
	}
	return o, true
}

type selectEpisodeRequest struct {
	Season    int    `json:"season"`
	Episode   int    `json:"episode"`
	EpisodeID string `json:"episodeId"`
}

type revealRequest struct {
	Count int `json:"count"`
}

type hashRequest struct {
	InfoHash string `json:"infoHash"`
}

type phaseRequest struct {
	Phase   playback.LoadingPhase `json:"phase"`
	Message string                `json:"message,omitempty"`
	Reset   bool                  `json:"reset,omitempty"`
}

type enqueueResponse struct {
	TaskID string `json:"taskId"`
}

type poolResponse struct {
	Streams []models.StreamInfo `json:"streams"`
}

// Search runs a search for the posted media selection and returns the
// session snapshot once results are in.
func (h *SessionHandler) Search(w http.ResponseWriter, r *http.Request) {
	o, ok := h.orchestrator(w, r)
	if !ok {
		return
	}

	var req search.Request
	if err := decodeJSON(w, r, &req); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	if err := o.Search(r.Context(), req); err != nil {
		h.respondPipelineError(w, o, err)
		return
	}
	RespondJSON(w, http.StatusOK, o.Snapshot())
}

func (h *SessionHandler) SelectEpisode(w http.ResponseWriter, r *http.Request) {
	o, ok := h.orchestrator(w, r)
	if !ok {
		return
	}

	var req selectEpisodeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if req.Season < 0 || req.Episode < 0 {
		RespondError(w, http.StatusBadRequest, "Season and episode must not be negative")
		return
	}

	o.SelectEpisode(req.Season, req.Episode, req.EpisodeID)
	RespondJSON(w, http.StatusOK, o.Snapshot())
}

func (h *SessionHandler) Results(w http.ResponseWriter, r *http.Request) {
	o, ok := h.orchestrator(w, r)
	if !ok {
		return
	}
	RespondJSON(w, http.StatusOK, o.Snapshot())
}

func (h *SessionHandler) RevealMore(w http.ResponseWriter, r *http.Request) {
	o, ok := h.orchestrator(w, r)
	if !ok {
		return
	}

	var req revealRequest
	if err := decodeJSON(w, r, &req); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	o.RevealMore(req.Count)
	RespondJSON(w, http.StatusOK, o.Snapshot())
}

func (h *SessionHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	o, ok := h.orchestrator(w, r)
	if !ok {
		return
	}

	hash, ok := decodeHash(w, r)
	if !ok {
		return
	}

	stream, err := o.ResolveStream(r.Context(), hash)
	if err != nil {
		h.respondPipelineError(w, o, err)
		return
	}
	RespondJSON(w, http.StatusOK, stream)
}

// FallbackPool returns the resolved streams ordered for playback. The
// optional primary query parameter picks the stream to start with.
func (h *SessionHandler) FallbackPool(w http.ResponseWriter, r *http.Request) {
	o, ok := h.orchestrator(w, r)
	if !ok {
		return
	}

	pool, ok := o.FallbackPool(r.URL.Query().Get("primary"))
	if !ok {
		RespondError(w, http.StatusNotFound, "No resolved stream to build a pool from")
		return
	}
	RespondJSON(w, http.StatusOK, poolResponse{Streams: pool})
}

func (h *SessionHandler) EnqueueDownload(w http.ResponseWriter, r *http.Request) {
	o, ok := h.orchestrator(w, r)
	if !ok {
		return
	}

	hash, ok := decodeHash(w, r)
	if !ok {
		return
	}

	taskID, err := o.EnqueueDownload(r.Context(), hash)
	if err != nil {
		h.respondPipelineError(w, o, err)
		return
	}
	RespondJSON(w, http.StatusAccepted, enqueueResponse{TaskID: taskID})
}

// ListDownloads returns every tracked download, not only those of this
// session.
func (h *SessionHandler) ListDownloads(w http.ResponseWriter, _ *http.Request) {
	RespondJSON(w, http.StatusOK, h.tracker.Tasks())
}

func (h *SessionHandler) Retry(w http.ResponseWriter, r *http.Request) {
	o, ok := h.orchestrator(w, r)
	if !ok {
		return
	}

	if err := o.Retry(r.Context()); err != nil {
		h.respondPipelineError(w, o, err)
		return
	}
	RespondJSON(w, http.StatusOK, o.Snapshot())
}

func (h *SessionHandler) GetPhase(w http.ResponseWriter, r *http.Request) {
	o, ok := h.orchestrator(w, r)
	if !ok {
		return
	}
	RespondJSON(w, http.StatusOK, o.Phases().State())
}

// UpdatePhase reports playback progress. Moving from failed back to
// connecting is the manual retry; reset starts a new attempt.
func (h *SessionHandler) UpdatePhase(w http.ResponseWriter, r *http.Request) {
	o, ok := h.orchestrator(w, r)
	if !ok {
		return
	}

	var req phaseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	if req.Reset {
		phases := o.StartPlayback()
		RespondJSON(w, http.StatusOK, phases.State())
		return
	}

	if !req.Phase.Valid() {
		RespondError(w, http.StatusBadRequest, "Unknown loading phase")
		return
	}

	phases := o.Phases()
	var err error
	switch {
	case req.Phase == playback.PhaseFailed:
		err = phases.Fail(req.Message)
	case req.Phase == playback.PhaseConnecting && phases.Phase() == playback.PhaseFailed:
		err = phases.Retry()
	default:
		err = phases.Transition(req.Phase)
	}

	if err != nil {
		if errors.Is(err, playback.ErrIllegalPhaseTransition) {
			RespondError(w, http.StatusConflict, err.Error())
			return
		}
		log.Error().Err(err).Msg("failed to update loading phase")
		RespondError(w, http.StatusInternalServerError, "Failed to update loading phase")
		return
	}
	RespondJSON(w, http.StatusOK, phases.State())
}

// Close ends the session and cancels its in-flight work.
func (h *SessionHandler) Close(w http.ResponseWriter, r *http.Request) {
	if id := h.sessionManager.PopString(r.Context(), sessionKey); id != "" {
		h.registry.Remove(id)
	}
	w.WriteHeader(http.StatusNoContent)
}

func decodeHash(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req hashRequest
	if err := decodeJSON(w, r, &req); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request payload")
		return "", false
	}
	hash, err := models.NormalizeInfoHash(strings.TrimSpace(req.InfoHash))
	if err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid info hash")
		return "", false
	}
	return hash, true
}

// respondPipelineError maps orchestrator errors to HTTP statuses. Classified
// pipeline failures carry the session snapshot so the client can render the
// error view.
func (h *SessionHandler) respondPipelineError(w http.ResponseWriter, o *search.Orchestrator, err error) {
	switch {
	case errors.Is(err, search.ErrInvalidRequest):
		RespondError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, search.ErrUnknownCandidate):
		RespondError(w, http.StatusNotFound, "Release is not part of the current results")
		return
	case errors.Is(err, search.ErrNothingToRetry):
		RespondError(w, http.StatusConflict, "Nothing to retry")
		return
	case errors.Is(err, search.ErrNoSink):
		RespondError(w, http.StatusServiceUnavailable, "No download client configured")
		return
	case errors.Is(err, search.ErrClosed):
		RespondError(w, http.StatusGone, "Session closed")
		return
	case search.IsCancelled(err):
		// superseded by a newer request; the newer one reports the outcome
		RespondJSON(w, http.StatusConflict, o.Snapshot())
		return
	}

	var serr *search.Error
	if !errors.As(err, &serr) {
		log.Error().Err(err).Msg("session request failed")
		RespondError(w, http.StatusInternalServerError, "Request failed")
		return
	}

	status := http.StatusBadGateway
	if serr.Code == search.CodeNoResults {
		status = http.StatusNotFound
	}
	RespondJSON(w, status, o.Snapshot())
}

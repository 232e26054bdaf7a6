// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package search

import (
	"github.com/autobrr/pickr/internal/models"
	"github.com/autobrr/pickr/internal/services/playback"
)

type ViewStatus string

const (
	ViewIdle    ViewStatus = "idle"
	ViewLoading ViewStatus = "loading"
	ViewLoaded  ViewStatus = "loaded"
	ViewError   ViewStatus = "error"
)

// LoadingStep says what the session is waiting on while loading.
type LoadingStep string

const (
	StepDetailFetch        LoadingStep = "detailFetch"
	StepSeasonEpisodeFetch LoadingStep = "seasonEpisodeFetch"
	StepTorrentSearch      LoadingStep = "torrentSearch"
	StepStreamResolution   LoadingStep = "streamResolution"
	StepDownloadQueue      LoadingStep = "downloadQueue"
	StepLibrarySync        LoadingStep = "librarySync"
)

// ErrorDetail is the user-facing failure.
type ErrorDetail struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	Suggestion string    `json:"suggestion,omitempty"`
	Retryable  bool      `json:"retryable"`
}

// ViewState is a single value describing what the session is doing.
type ViewState struct {
	Status ViewStatus   `json:"status"`
	Step   LoadingStep  `json:"step,omitempty"`
	Error  *ErrorDetail `json:"error,omitempty"`
}

func idleView() ViewState { return ViewState{Status: ViewIdle} }

func loadingView(step LoadingStep) ViewState {
	return ViewState{Status: ViewLoading, Step: step}
}

func loadedView() ViewState { return ViewState{Status: ViewLoaded} }

func errorView(err *Error, retryable bool) ViewState {
	return ViewState{
		Status: ViewError,
		Error: &ErrorDetail{
			Code:       err.Code,
			Message:    err.Message(),
			Suggestion: err.Suggestion(),
			Retryable:  retryable,
		},
	}
}

// CandidateView is a visible candidate with its download marker.
type CandidateView struct {
	models.Candidate
	Score         int                  `json:"score"`
	DownloadState models.DownloadState `json:"downloadState"`
}

// Snapshot is everything the host layer renders.
type Snapshot struct {
	Generation          uint64              `json:"generation"`
	Selected            models.ContextKey   `json:"selected"`
	View                ViewState           `json:"view"`
	Visible             []CandidateView     `json:"visible"`
	Total               int                 `json:"total"`
	Remaining           int                 `json:"remaining"`
	CanRevealMore       bool                `json:"canRevealMore"`
	RequiresFreshSearch bool                `json:"requiresFreshSearch"`
	Phase               playback.PhaseState `json:"phase"`
	Resolved            []models.StreamInfo `json:"resolved"`
}

// EventType names a change pushed to subscribers.
type EventType string

const (
	EventView         EventType = "view"
	EventResults      EventType = "results"
	EventAvailability EventType = "availability"
	EventDownloads    EventType = "downloads"
	EventPhase        EventType = "phase"
)

type Event struct {
	Type       EventType `json:"type"`
	Generation uint64    `json:"generation"`
}

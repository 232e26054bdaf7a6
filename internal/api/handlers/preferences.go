// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"net/http"

	"github.com/autobrr/pickr/internal/services/search"
)

type PreferencesHandler struct {
	source search.PreferenceSource
}

func NewPreferencesHandler(source search.PreferenceSource) *PreferencesHandler {
	return &PreferencesHandler{source: source}
}

// GetPreferences returns the ranking preferences currently in effect.
func (h *PreferencesHandler) GetPreferences(w http.ResponseWriter, _ *http.Request) {
	RespondJSON(w, http.StatusOK, h.source.Preferences())
}

// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package swagger embeds the OpenAPI document describing the HTTP API.
package swagger

import (
	_ "embed"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

//go:embed openapi.yaml
var openAPISpec []byte

var errSpecMissing = errors.New("openapi document not embedded")

// GetOpenAPISpec returns the embedded document.
func GetOpenAPISpec() ([]byte, error) {
	if len(openAPISpec) == 0 {
		return nil, errSpecMissing
	}
	return openAPISpec, nil
}

type Handler struct {
	baseURL string
}

func NewHandler(baseURL string) *Handler {
	if baseURL == "" {
		baseURL = "/"
	}
	return &Handler{baseURL: baseURL}
}

// RegisterRoutes serves the document at <baseUrl>api/openapi.yaml.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get(strings.TrimSuffix(h.baseURL, "/")+"/api/openapi.yaml", h.serveSpec)
}

func (h *Handler) serveSpec(w http.ResponseWriter, _ *http.Request) {
	spec, err := GetOpenAPISpec()
	if err != nil {
		log.Error().Err(err).Msg("failed to load OpenAPI document")
		http.Error(w, "OpenAPI document unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	_, _ = w.Write(spec)
}

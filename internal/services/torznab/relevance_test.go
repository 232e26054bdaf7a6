// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package torznab

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeTitle(t *testing.T) {
	tests := map[string]string{
		"Amélie":               "amelie",
		"The.Matrix":           "matrix",
		"Schindler's List":     "schindlers list",
		"  Spider-Man:  Home ": "spider man home",
		"The":                  "the",
		"A Quiet Place":        "quiet place",
	}
	for in, want := range tests {
		assert.Equal(t, want, normalizeTitle(in), in)
	}
}

func TestQueryTitle(t *testing.T) {
	tests := map[string]string{
		"Severance S01E02":  "Severance",
		"Severance S01":     "Severance",
		"The Matrix 1999":   "The Matrix",
		"1917":              "1917",
		"Blade Runner 2049": "Blade Runner",
		"Show Season":       "Show Season",
	}
	for in, want := range tests {
		assert.Equal(t, want, queryTitle(in), in)
	}
}

func TestRelevanceFilter(t *testing.T) {
	tests := []struct {
		name   string
		query  string
		parsed string
		raw    string
		want   bool
	}{
		{name: "exact", query: "The Matrix 1999", parsed: "The Matrix", raw: "The.Matrix.1999.1080p", want: true},
		{name: "diacritics", query: "Amelie 2001", parsed: "Amélie", raw: "Amélie.2001.1080p", want: true},
		{name: "longer_title_close", query: "Severance S01E02", parsed: "Severance US", raw: "Severance.US.S01E02", want: true},
		{name: "unrelated", query: "The Matrix 1999", parsed: "Notting Hill", raw: "Notting.Hill.1999.1080p", want: false},
		{name: "far_superset", query: "Up 2009", parsed: "Upgrade Your Household Appliances Today", raw: "x", want: false},
		{name: "raw_fallback", query: "Matrix", parsed: "", raw: "The.Matrix.Reloaded.2003", want: true},
		{name: "empty_query", query: "", parsed: "anything", raw: "anything", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newRelevanceFilter(tt.query)
			assert.Equal(t, tt.want, f.Match(tt.parsed, tt.raw))
		})
	}
}

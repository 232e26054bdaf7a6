// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package ranking

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/pickr/internal/models"
)

// FilterEnv is what a filter expression can see about a candidate, e.g.
//
//	Seeders >= 5 && Source != "cam" && SizeGB < 80
type FilterEnv struct {
	Title   string  `expr:"Title"`
	Indexer string  `expr:"Indexer"`
	Group   string  `expr:"Group"`
	Quality string  `expr:"Quality"`
	HDR     string  `expr:"HDR"`
	Audio   string  `expr:"Audio"`
	Codec   string  `expr:"Codec"`
	Source  string  `expr:"Source"`
	Seeders int     `expr:"Seeders"`
	SizeGB  float64 `expr:"SizeGB"`
	Cached  bool    `expr:"Cached"`
}

func envFor(c models.Candidate) FilterEnv {
	return FilterEnv{
		Title:   c.Title,
		Indexer: c.Indexer,
		Group:   c.Group,
		Quality: c.Quality.String(),
		HDR:     c.HDR.String(),
		Audio:   c.Audio.String(),
		Codec:   c.Codec.String(),
		Source:  c.Source.String(),
		Seeders: c.Seeders,
		SizeGB:  float64(c.SizeBytes) / (1 << 30),
		Cached:  c.IsCached,
	}
}

// Filter drops candidates for which a user expression evaluates to false.
type Filter struct {
	expression string
	program    *vm.Program
}

// NewFilter compiles expression. An empty expression yields a nil filter that
// keeps everything.
func NewFilter(expression string) (*Filter, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return nil, nil
	}

	program, err := expr.Compile(expression, expr.Env(FilterEnv{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile filter expression: %w", err)
	}

	return &Filter{expression: expression, program: program}, nil
}

func (f *Filter) String() string {
	if f == nil {
		return ""
	}
	return f.expression
}

// Apply returns the candidates the expression accepts, preserving order.
// Evaluation errors drop the candidate.
func (f *Filter) Apply(candidates []models.Candidate) []models.Candidate {
	if f == nil || f.program == nil {
		return candidates
	}

	kept := make([]models.Candidate, 0, len(candidates))
	for _, c := range candidates {
		result, err := expr.Run(f.program, envFor(c))
		if err != nil {
			log.Debug().Err(err).Str("infohash", c.InfoHash).Msg("Failed to evaluate filter expression")
			continue
		}
		if ok, _ := result.(bool); ok {
			kept = append(kept, c)
		}
	}
	return kept
}

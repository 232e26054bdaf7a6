// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package results holds the ranked candidate set, its visible prefix, and the
// background worker that folds cache availability into it.
package results

import (
	"github.com/autobrr/pickr/internal/models"
)

// Store holds the full ranked set and the visible prefix shown to the user.
// It is not safe for concurrent use; the owning orchestrator serializes access.
//
// visible is always a copy of all[:len(visible)].
type Store struct {
	all     []models.Candidate
	visible []models.Candidate
	index   map[string]int
}

func NewStore() *Store {
	return &Store{index: make(map[string]int)}
}

// SetResults replaces the full set and reveals the first initialBatch entries.
func (s *Store) SetResults(all []models.Candidate, initialBatch int) {
	s.all = append([]models.Candidate(nil), all...)
	s.index = make(map[string]int, len(s.all))
	for i, c := range s.all {
		if _, exists := s.index[c.InfoHash]; !exists {
			s.index[c.InfoHash] = i
		}
	}
	s.rebuildVisible(min(max(initialBatch, 0), len(s.all)))
}

// RevealMore grows the visible prefix by up to n and reports whether it grew.
func (s *Store) RevealMore(n int) bool {
	if n <= 0 || len(s.visible) >= len(s.all) {
		return false
	}
	s.rebuildVisible(min(len(s.visible)+n, len(s.all)))
	return true
}

// UpdateCacheStatus marks matching candidates as cached. It never clears a
// cached flag and never reorders. The visible prefix is rebuilt at the same
// length only when a patched candidate lies inside it. It returns the number
// of candidates patched.
func (s *Store) UpdateCacheStatus(updates map[string]models.Availability) int {
	if len(updates) == 0 || len(s.all) == 0 {
		return 0
	}

	patched := 0
	touchesVisible := false
	for hash, availability := range updates {
		if !availability.Cached {
			continue
		}
		i, ok := s.index[hash]
		if !ok {
			continue
		}
		c := &s.all[i]
		if c.IsCached && (availability.ServiceID == "" || c.CachedOnServiceID == availability.ServiceID) {
			continue
		}
		c.IsCached = true
		if availability.ServiceID != "" {
			c.CachedOnServiceID = availability.ServiceID
		}
		patched++
		if i < len(s.visible) {
			touchesVisible = true
		}
	}

	if touchesVisible {
		s.rebuildVisible(len(s.visible))
	}
	return patched
}

// Invalidate clears everything, e.g. when the selected episode changes.
func (s *Store) Invalidate() {
	s.all = nil
	s.visible = nil
	s.index = make(map[string]int)
}

func (s *Store) rebuildVisible(n int) {
	s.visible = append(make([]models.Candidate, 0, n), s.all[:n]...)
}

// All returns a copy of the full ranked set.
func (s *Store) All() []models.Candidate {
	return append([]models.Candidate(nil), s.all...)
}

// Visible returns a copy of the visible prefix.
func (s *Store) Visible() []models.Candidate {
	return append([]models.Candidate(nil), s.visible...)
}

// Hashes returns the info hashes of the full set in rank order.
func (s *Store) Hashes() []string {
	return models.CandidateHashes(s.all)
}

// Lookup returns the candidate with the given hash.
func (s *Store) Lookup(hash string) (models.Candidate, bool) {
	i, ok := s.index[hash]
	if !ok {
		return models.Candidate{}, false
	}
	return s.all[i], true
}

func (s *Store) Len() int        { return len(s.all) }
func (s *Store) VisibleLen() int { return len(s.visible) }

func (s *Store) RemainingCount() int {
	return len(s.all) - len(s.visible)
}

func (s *Store) CanRevealMore() bool {
	return s.RemainingCount() > 0
}

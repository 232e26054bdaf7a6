// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"errors"
	"strings"
)

var (
	// ErrNoResults is returned by search sources when a query matched nothing.
	ErrNoResults = errors.New("no results")
	// ErrInvalidInfoHash is returned when a value is not a 40 or 64 character hex digest.
	ErrInvalidInfoHash = errors.New("invalid info hash")
)

// Candidate is a discovered torrent release before it is resolved to a stream.
// InfoHash is the only identity; everything else is descriptive.
type Candidate struct {
	InfoHash          string  `json:"infoHash"`
	Title             string  `json:"title"`
	Indexer           string  `json:"indexer,omitempty"`
	MagnetURI         string  `json:"magnetUri,omitempty"`
	Group             string  `json:"group,omitempty"`
	IsCached          bool    `json:"isCached"`
	CachedOnServiceID string  `json:"cachedOnServiceId,omitempty"`
	Quality           Quality `json:"quality"`
	HDR               HDR     `json:"hdr"`
	Audio             Audio   `json:"audio"`
	Codec             Codec   `json:"codec"`
	Source            Source  `json:"source"`
	Seeders           int     `json:"seeders"`
	SizeBytes         int64   `json:"sizeBytes,omitempty"`
}

// RankedCandidate pairs a candidate with its score. It only exists while sorting
// and for display; it is never persisted.
type RankedCandidate struct {
	Candidate
	Score int `json:"score"`
}

// Availability is what an availability oracle knows about one hash.
type Availability struct {
	Cached    bool   `json:"cached"`
	ServiceID string `json:"serviceId,omitempty"`
}

// NormalizeInfoHash lowercases and validates a hex info hash (v1 or v2).
func NormalizeInfoHash(hash string) (string, error) {
	hash = strings.ToLower(strings.TrimSpace(hash))
	if len(hash) != 40 && len(hash) != 64 {
		return "", ErrInvalidInfoHash
	}
	for _, r := range hash {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return "", ErrInvalidInfoHash
		}
	}
	return hash, nil
}

// CandidateHashes returns the info hashes of candidates in order.
func CandidateHashes(candidates []Candidate) []string {
	hashes := make([]string, len(candidates))
	for i := range candidates {
		hashes[i] = candidates[i].InfoHash
	}
	return hashes
}

// DedupeByInfoHash keeps one candidate per info hash, the one with the most
// seeders, in first-seen order. Candidates without a hash are dropped.
func DedupeByInfoHash(candidates []Candidate) []Candidate {
	out := make([]Candidate, 0, len(candidates))
	index := make(map[string]int, len(candidates))

	for _, c := range candidates {
		if c.InfoHash == "" {
			continue
		}
		if i, ok := index[c.InfoHash]; ok {
			if c.Seeders > out[i].Seeders {
				out[i] = c
			}
			continue
		}
		index[c.InfoHash] = len(out)
		out = append(out, c)
	}
	return out
}

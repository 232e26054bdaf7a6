// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

// StreamInfo is a playable network stream obtained by resolving a Candidate.
// Resolution is lossy about release metadata, so the descriptive fields are
// mirrored from the originating candidate.
type StreamInfo struct {
	ID        string  `json:"id"`
	URL       string  `json:"url"`
	InfoHash  string  `json:"infoHash"`
	ServiceID string  `json:"serviceId,omitempty"`
	Filename  string  `json:"filename,omitempty"`
	Title     string  `json:"title,omitempty"`
	Quality   Quality `json:"quality"`
	HDR       HDR     `json:"hdr"`
	Audio     Audio   `json:"audio"`
	Codec     Codec   `json:"codec"`
	Source    Source  `json:"source"`
	SizeBytes int64   `json:"sizeBytes,omitempty"`
}

// MirrorFrom fills metadata the resolver could not provide from the candidate
// the stream was resolved from.
func (s *StreamInfo) MirrorFrom(c Candidate) {
	if s.InfoHash == "" {
		s.InfoHash = c.InfoHash
	}
	if s.Title == "" {
		s.Title = c.Title
	}
	if s.Quality == QualityUnknown {
		s.Quality = c.Quality
	}
	if s.HDR == HDRNone {
		s.HDR = c.HDR
	}
	if s.Audio == AudioUnknown {
		s.Audio = c.Audio
	}
	if s.Codec == CodecUnknown {
		s.Codec = c.Codec
	}
	if s.Source == SourceUnknown {
		s.Source = c.Source
	}
	if s.SizeBytes <= 0 {
		s.SizeBytes = c.SizeBytes
	}
}

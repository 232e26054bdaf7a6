// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package playback orders fallback streams and tracks the loading phase shown
// while a stream starts.
package playback

import (
	"cmp"
	"slices"

	"github.com/autobrr/pickr/internal/models"
)

const (
	fitnessQualityWeight = 140
	fitnessSourceWeight  = 24
	fitnessSpatialAudio  = 22
	fitnessSizeCapGiB    = 12
)

var fitnessSourceTier = map[models.Source]int{
	models.SourceUnknown: 0,
	models.SourceCam:     0,
	models.SourceDVDRip:  1,
	models.SourceHDTV:    2,
	models.SourceHDRip:   2,
	models.SourceWEBRip:  3,
	models.SourceWEBDL:   4,
	models.SourceBluRay:  5,
}

var fitnessHDR = map[models.HDR]int{
	models.HDRNone:        0,
	models.HDRHLG:         18,
	models.HDR10:          28,
	models.HDR10Plus:      34,
	models.HDRDolbyVision: 40,
}

// Codecs that decode on more devices rank higher as fallbacks.
var fitnessCodec = map[models.Codec]int{
	models.CodecUnknown: 0,
	models.CodecXvid:    8,
	models.CodecAV1:     10,
	models.CodecH265:    12,
	models.CodecH264:    14,
}

// FitnessScore rates how good a stream is as a playback fallback.
func FitnessScore(s models.StreamInfo) int {
	score := int(s.Quality) * fitnessQualityWeight
	score += fitnessSourceTier[s.Source] * fitnessSourceWeight
	score += fitnessHDR[s.HDR]
	if s.Audio.IsSpatial() {
		score += fitnessSpatialAudio
	}
	score += fitnessCodec[s.Codec]
	if s.SizeBytes > 0 {
		score += int(min(s.SizeBytes>>30, fitnessSizeCapGiB))
	}
	return score
}

// BuildFallbackPool returns primary followed by the unseen streams from
// available. With three or more entries the tail is ordered by FitnessScore;
// primary always stays first.
func BuildFallbackPool(primary models.StreamInfo, available []models.StreamInfo) []models.StreamInfo {
	pool := make([]models.StreamInfo, 0, len(available)+1)
	pool = append(pool, primary)

	seen := map[string]struct{}{primary.ID: {}}
	for _, s := range available {
		if _, dup := seen[s.ID]; dup {
			continue
		}
		seen[s.ID] = struct{}{}
		pool = append(pool, s)
	}

	if len(pool) < 3 {
		return pool
	}

	tail := pool[1:]
	scores := make(map[string]int, len(tail))
	for _, s := range tail {
		scores[s.ID] = FitnessScore(s)
	}

	slices.SortFunc(tail, func(a, b models.StreamInfo) int {
		if c := cmp.Compare(scores[b.ID], scores[a.ID]); c != 0 {
			return c
		}
		if c := cmp.Compare(b.Quality, a.Quality); c != 0 {
			return c
		}
		if c := cmp.Compare(b.SizeBytes, a.SizeBytes); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	return pool
}

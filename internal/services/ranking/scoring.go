// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package ranking

import (
	"github.com/autobrr/pickr/internal/models"
)

// QualityBand is the score distance between adjacent quality tiers. It must
// stay above MaxBonus so that no combination of lower-tier bonuses can lift a
// candidate over a better resolution.
const QualityBand = 1000

const (
	cachedPreferredBonus = 80
	cachedBonus          = 40
	spatialAudioBonus    = 20
	hdrMatchBonus        = 20
	seederCap            = 500
	seederDivisor        = 10
)

// MaxBonus is the largest sum of sub-scores a single candidate can earn.
const MaxBonus = 120 + 100 + 60 + 50 + cachedPreferredBonus + spatialAudioBonus + hdrMatchBonus + seederCap/seederDivisor

var hdrScores = map[models.HDR]int{
	models.HDRNone:        0,
	models.HDRHLG:         40,
	models.HDR10:          80,
	models.HDR10Plus:      100,
	models.HDRDolbyVision: 120,
}

var audioScores = map[models.Audio]int{
	models.AudioUnknown: 0,
	models.AudioAAC:     10,
	models.AudioFLAC:    25,
	models.AudioAC3:     30,
	models.AudioDTS:     35,
	models.AudioEAC3:    40,
	models.AudioTrueHD:  80,
	models.AudioDTSHDMA: 80,
	models.AudioAtmos:   100,
}

var codecScores = map[models.Codec]int{
	models.CodecUnknown: 0,
	models.CodecXvid:    5,
	models.CodecH264:    30,
	models.CodecAV1:     50,
	models.CodecH265:    60,
}

var sourceScores = map[models.Source]int{
	models.SourceUnknown: 0,
	models.SourceCam:     0,
	models.SourceDVDRip:  10,
	models.SourceHDTV:    15,
	models.SourceHDRip:   20,
	models.SourceWEBRip:  30,
	models.SourceWEBDL:   40,
	models.SourceBluRay:  50,
}

// Score maps a candidate to an integer rank score. It is pure.
func Score(c models.Candidate, prefs models.Preferences) int {
	score := int(c.Quality) * QualityBand
	score += hdrScores[c.HDR]
	score += audioScores[c.Audio]
	score += codecScores[c.Codec]
	score += sourceScores[c.Source]

	if c.IsCached {
		if prefs.PreferCached {
			score += cachedPreferredBonus
		} else {
			score += cachedBonus
		}
	}

	if prefs.PreferAtmos && c.Audio.IsSpatial() {
		score += spatialAudioBonus
	}

	if want, ok := prefs.HDRPreference.Format(); ok && want == c.HDR {
		score += hdrMatchBonus
	}

	score += min(max(c.Seeders, 0), seederCap) / seederDivisor

	return score
}

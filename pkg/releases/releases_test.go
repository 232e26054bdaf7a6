// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package releases

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParser_Parse(t *testing.T) {
	parser := NewDefaultParser()

	tests := []struct {
		name       string
		input      string
		title      string
		year       int
		season     int
		episode    int
		resolution string
		source     string
		codec      string
	}{
		{
			name:       "uhd movie",
			input:      "The.Matrix.1999.2160p.UHD.BluRay.x265.10bit.HDR.TrueHD.7.1.Atmos-GROUP",
			title:      "The Matrix",
			year:       1999,
			resolution: "2160p",
			source:     "bluray",
			codec:      "h265",
		},
		{
			name:       "web episode",
			input:      "Severance.S02E03.1080p.ATVP.WEB-DL.DDP5.1.H.264-NTb",
			title:      "Severance",
			season:     2,
			episode:    3,
			resolution: "1080p",
			source:     "webdl",
			codec:      "h264",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parser.Parse(tt.input)
			require.NotNil(t, got)
			assert.Equal(t, tt.input, got.Name)
			assert.Equal(t, tt.title, got.Title)
			assert.Equal(t, tt.year, got.Year)
			assert.Equal(t, tt.season, got.Season)
			assert.Equal(t, tt.episode, got.Episode)
			assert.Equal(t, tt.resolution, got.Resolution)
			assert.Equal(t, tt.source, got.Source)
			assert.Equal(t, tt.codec, got.Codec)
		})
	}
}

func TestParser_ParseCachesResult(t *testing.T) {
	parser := NewDefaultParser()

	first := parser.Parse("Dune.Part.Two.2024.1080p.WEB-DL.DDP5.1.Atmos.H.264-FLUX")
	second := parser.Parse("  Dune.Part.Two.2024.1080p.WEB-DL.DDP5.1.Atmos.H.264-FLUX ")

	assert.Same(t, first, second)
}

func TestParser_ParseEmpty(t *testing.T) {
	var parser *Parser
	got := parser.Parse("   ")
	require.NotNil(t, got)
	assert.Empty(t, got.Title)
}

func TestRelease_EpisodeHelpers(t *testing.T) {
	assert.True(t, (&Release{Season: 1, Episode: 2}).IsEpisode())
	assert.False(t, (&Release{Season: 1}).IsEpisode())
	assert.True(t, (&Release{Season: 1}).IsSeasonPack())
	assert.False(t, (&Release{}).IsSeasonPack())
}

func TestNormalizeResolution(t *testing.T) {
	tests := map[string]string{
		"2160p": "2160p",
		"4K":    "2160p",
		"1080i": "1080p",
		"720p":  "720p",
		"480p":  "sd",
		"SD":    "sd",
		"":      "",
		"weird": "",
	}
	for input, want := range tests {
		assert.Equal(t, want, normalizeResolution(input), "input %q", input)
	}
}

func TestNormalizeSource(t *testing.T) {
	tests := map[string]string{
		"WEB-DL":     "webdl",
		"WEB":        "webdl",
		"WEBRip":     "webrip",
		"UHD.BluRay": "bluray",
		"BDRip":      "bluray",
		"HDTV":       "hdtv",
		"HDRip":      "hdrip",
		"DVDRip":     "dvdrip",
		"CAM":        "cam",
		"TS":         "cam",
		"":           "",
	}
	for input, want := range tests {
		assert.Equal(t, want, normalizeSource(input), "input %q", input)
	}
}

func TestNormalizeCodecPicksBest(t *testing.T) {
	assert.Equal(t, "h265", normalizeCodec("x264", "HEVC"))
	assert.Equal(t, "h264", normalizeCodec("H.264"))
	assert.Equal(t, "av1", normalizeCodec("AV1"))
	assert.Equal(t, "xvid", normalizeCodec("XviD"))
	assert.Equal(t, "", normalizeCodec("MPEG2"))
}

func TestNormalizeHDR(t *testing.T) {
	assert.Equal(t, "dv", normalizeHDR("HDR", "DV"))
	assert.Equal(t, "hdr10+", normalizeHDR("HDR10+"))
	assert.Equal(t, "hdr10", normalizeHDR("HDR"))
	assert.Equal(t, "hlg", normalizeHDR("HLG"))
	assert.Equal(t, "", normalizeHDR())
}

func TestNormalizeAudio(t *testing.T) {
	assert.Equal(t, "atmos", normalizeAudio("TrueHD", "Atmos"))
	assert.Equal(t, "truehd", normalizeAudio("TrueHD"))
	assert.Equal(t, "dts-hd ma", normalizeAudio("DTS-HD.MA"))
	assert.Equal(t, "eac3", normalizeAudio("DDP"))
	assert.Equal(t, "dts", normalizeAudio("DTS"))
	assert.Equal(t, "ac3", normalizeAudio("DD"))
	assert.Equal(t, "aac", normalizeAudio("AAC"))
	assert.Equal(t, "", normalizeAudio("OPUS"))
}

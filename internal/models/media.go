// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"fmt"
	"strings"
)

// Quality is the resolution tier of a release. The ordinal order is significant.
type Quality int

const (
	QualityUnknown Quality = iota
	QualitySD
	QualityHD720
	QualityHD1080
	QualityUHD4K
)

var qualityNames = map[Quality]string{
	QualityUnknown: "unknown",
	QualitySD:      "sd",
	QualityHD720:   "720p",
	QualityHD1080:  "1080p",
	QualityUHD4K:   "2160p",
}

func (q Quality) String() string {
	if name, ok := qualityNames[q]; ok {
		return name
	}
	return qualityNames[QualityUnknown]
}

func (q Quality) MarshalText() ([]byte, error) {
	return []byte(q.String()), nil
}

func (q *Quality) UnmarshalText(text []byte) error {
	parsed, err := ParseQuality(string(text))
	if err != nil {
		return err
	}
	*q = parsed
	return nil
}

// ParseQuality accepts both the canonical names and the common aliases (4k, uhd, hd, 480p).
func ParseQuality(value string) (Quality, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "unknown", "any":
		return QualityUnknown, nil
	case "sd", "480p", "576p", "360p":
		return QualitySD, nil
	case "720p", "hd", "hd720":
		return QualityHD720, nil
	case "1080p", "1080i", "fhd", "hd1080":
		return QualityHD1080, nil
	case "2160p", "4k", "uhd", "uhd4k":
		return QualityUHD4K, nil
	default:
		return QualityUnknown, fmt.Errorf("unknown quality %q", value)
	}
}

// HDR is the dynamic range format, ordered from plain SDR to Dolby Vision.
type HDR int

const (
	HDRNone HDR = iota
	HDRHLG
	HDR10
	HDR10Plus
	HDRDolbyVision
)

var hdrNames = map[HDR]string{
	HDRNone:        "none",
	HDRHLG:         "hlg",
	HDR10:          "hdr10",
	HDR10Plus:      "hdr10+",
	HDRDolbyVision: "dv",
}

func (h HDR) String() string {
	if name, ok := hdrNames[h]; ok {
		return name
	}
	return hdrNames[HDRNone]
}

func (h HDR) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *HDR) UnmarshalText(text []byte) error {
	parsed, err := ParseHDR(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

func ParseHDR(value string) (HDR, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "none", "sdr":
		return HDRNone, nil
	case "hlg":
		return HDRHLG, nil
	case "hdr", "hdr10":
		return HDR10, nil
	case "hdr10+", "hdr10plus":
		return HDR10Plus, nil
	case "dv", "dovi", "dolbyvision", "dolby vision":
		return HDRDolbyVision, nil
	default:
		return HDRNone, fmt.Errorf("unknown hdr format %q", value)
	}
}

// Audio is the best audio format advertised by a release.
type Audio int

const (
	AudioUnknown Audio = iota
	AudioAAC
	AudioFLAC
	AudioAC3
	AudioDTS
	AudioEAC3
	AudioTrueHD
	AudioDTSHDMA
	AudioAtmos
)

var audioNames = map[Audio]string{
	AudioUnknown: "unknown",
	AudioAAC:     "aac",
	AudioFLAC:    "flac",
	AudioAC3:     "ac3",
	AudioDTS:     "dts",
	AudioEAC3:    "eac3",
	AudioTrueHD:  "truehd",
	AudioDTSHDMA: "dts-hd ma",
	AudioAtmos:   "atmos",
}

func (a Audio) String() string {
	if name, ok := audioNames[a]; ok {
		return name
	}
	return audioNames[AudioUnknown]
}

// IsSpatial reports whether the format carries object-based (spatial) audio.
func (a Audio) IsSpatial() bool {
	return a == AudioAtmos
}

func (a Audio) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Audio) UnmarshalText(text []byte) error {
	value := strings.ToLower(strings.TrimSpace(string(text)))
	for audio, name := range audioNames {
		if name == value {
			*a = audio
			return nil
		}
	}
	if value == "" {
		*a = AudioUnknown
		return nil
	}
	return fmt.Errorf("unknown audio format %q", string(text))
}

// Codec is the video codec of a release.
type Codec int

const (
	CodecUnknown Codec = iota
	CodecXvid
	CodecH264
	CodecAV1
	CodecH265
)

var codecNames = map[Codec]string{
	CodecUnknown: "unknown",
	CodecXvid:    "xvid",
	CodecH264:    "h264",
	CodecAV1:     "av1",
	CodecH265:    "h265",
}

func (c Codec) String() string {
	if name, ok := codecNames[c]; ok {
		return name
	}
	return codecNames[CodecUnknown]
}

func (c Codec) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Codec) UnmarshalText(text []byte) error {
	value := strings.ToLower(strings.TrimSpace(string(text)))
	for codec, name := range codecNames {
		if name == value {
			*c = codec
			return nil
		}
	}
	if value == "" {
		*c = CodecUnknown
		return nil
	}
	return fmt.Errorf("unknown codec %q", string(text))
}

// Source is where a release was captured or ripped from.
type Source int

const (
	SourceUnknown Source = iota
	SourceCam
	SourceDVDRip
	SourceHDTV
	SourceHDRip
	SourceWEBRip
	SourceWEBDL
	SourceBluRay
)

var sourceNames = map[Source]string{
	SourceUnknown: "unknown",
	SourceCam:     "cam",
	SourceDVDRip:  "dvdrip",
	SourceHDTV:    "hdtv",
	SourceHDRip:   "hdrip",
	SourceWEBRip:  "webrip",
	SourceWEBDL:   "webdl",
	SourceBluRay:  "bluray",
}

func (s Source) String() string {
	if name, ok := sourceNames[s]; ok {
		return name
	}
	return sourceNames[SourceUnknown]
}

func (s Source) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Source) UnmarshalText(text []byte) error {
	value := strings.ToLower(strings.TrimSpace(string(text)))
	for source, name := range sourceNames {
		if name == value {
			*s = source
			return nil
		}
	}
	if value == "" {
		*s = SourceUnknown
		return nil
	}
	return fmt.Errorf("unknown source %q", string(text))
}

// MediaType distinguishes movies from episodic media.
type MediaType string

const (
	MediaTypeMovie  MediaType = "movie"
	MediaTypeSeries MediaType = "series"
)

func (t MediaType) IsEpisodic() bool {
	return t == MediaTypeSeries
}

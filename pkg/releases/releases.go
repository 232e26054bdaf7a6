// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package releases parses scene/p2p release names into normalized attributes.
// moistari/rls is authoritative; go-ptt fills the fields rls leaves empty.
package releases

import (
	"strconv"
	"strings"
	"time"

	"github.com/MunifTanjim/go-ptt"
	"github.com/autobrr/autobrr/pkg/ttlcache"
	"github.com/moistari/rls"
)

const defaultParseTTL = 30 * time.Minute

// Release is the normalized view of a release name. String attributes use the
// canonical lowercase vocabulary below and are empty when unknown.
//
//	Resolution: 2160p 1080p 720p sd
//	Source:     cam dvdrip hdtv hdrip webrip webdl bluray
//	Codec:      xvid h264 av1 h265
//	HDR:        dv hdr10+ hdr10 hlg
//	Audio:      atmos truehd dts-hd ma eac3 dts ac3 flac aac
type Release struct {
	Name       string
	Title      string
	Year       int
	Season     int
	Episode    int
	Group      string
	Resolution string
	Source     string
	Codec      string
	HDR        string
	Audio      string
}

// IsEpisode reports whether the release names a single episode.
func (r *Release) IsEpisode() bool {
	return r.Season > 0 && r.Episode > 0
}

// IsSeasonPack reports whether the release is a season without an episode number.
func (r *Release) IsSeasonPack() bool {
	return r.Season > 0 && r.Episode == 0
}

// Parser caches parse results; release names repeat heavily across indexers.
type Parser struct {
	cache *ttlcache.Cache[string, *Release]
}

func NewParser(ttl time.Duration) *Parser {
	if ttl <= 0 {
		ttl = defaultParseTTL
	}
	return &Parser{
		cache: ttlcache.New(ttlcache.Options[string, *Release]{}.SetDefaultTTL(ttl)),
	}
}

func NewDefaultParser() *Parser {
	return NewParser(defaultParseTTL)
}

// Parse returns the normalized release for name. The returned value is shared
// with the cache and must not be modified.
func (p *Parser) Parse(name string) *Release {
	name = strings.TrimSpace(name)
	if name == "" {
		return &Release{}
	}

	if p != nil && p.cache != nil {
		if cached, ok := p.cache.Get(name); ok {
			return cached
		}
	}

	release := parse(name)

	if p != nil && p.cache != nil {
		p.cache.Set(name, release, ttlcache.DefaultTTL)
	}

	return release
}

func parse(name string) *Release {
	r := rls.ParseString(name)

	release := &Release{
		Name:       name,
		Title:      strings.TrimSpace(r.Title),
		Year:       r.Year,
		Season:     r.Series,
		Episode:    r.Episode,
		Group:      r.Group,
		Resolution: normalizeResolution(r.Resolution),
		Source:     normalizeSource(r.Source),
		Codec:      normalizeCodec(r.Codec...),
		HDR:        normalizeHDR(r.HDR...),
		Audio:      normalizeAudio(r.Audio...),
	}

	if release.complete() {
		return release
	}

	info := ptt.Parse(name)
	if release.Title == "" {
		release.Title = strings.TrimSpace(info.Title)
	}
	if release.Year == 0 && info.Year != "" {
		if year, err := strconv.Atoi(info.Year); err == nil {
			release.Year = year
		}
	}
	if release.Season == 0 && len(info.Seasons) > 0 {
		release.Season = info.Seasons[0]
	}
	if release.Episode == 0 && len(info.Episodes) > 0 {
		release.Episode = info.Episodes[0]
	}
	if release.Group == "" {
		release.Group = info.Group
	}
	if release.Resolution == "" {
		release.Resolution = normalizeResolution(info.Resolution)
	}
	if release.Source == "" {
		release.Source = normalizeSource(info.Quality)
	}
	if release.Codec == "" {
		release.Codec = normalizeCodec(info.Codec)
	}
	if release.HDR == "" {
		release.HDR = normalizeHDR(info.HDR...)
	}
	if release.Audio == "" {
		release.Audio = normalizeAudio(info.Audio...)
	}

	return release
}

func (r *Release) complete() bool {
	return r.Title != "" && r.Resolution != "" && r.Source != "" && r.Codec != "" && r.Audio != ""
}

func normalizeResolution(value string) string {
	v := strings.ToLower(strings.TrimSpace(value))
	switch {
	case v == "":
		return ""
	case strings.Contains(v, "2160") || strings.Contains(v, "4k") || strings.Contains(v, "uhd"):
		return "2160p"
	case strings.Contains(v, "1080"):
		return "1080p"
	case strings.Contains(v, "720"):
		return "720p"
	case strings.Contains(v, "576") || strings.Contains(v, "480") || strings.Contains(v, "360") || v == "sd":
		return "sd"
	default:
		return ""
	}
}

func normalizeSource(value string) string {
	v := strings.ToLower(strings.TrimSpace(value))
	v = strings.NewReplacer(".", "", "-", "", " ", "", "_", "").Replace(v)
	switch {
	case v == "":
		return ""
	case strings.Contains(v, "cam") || v == "ts" || strings.Contains(v, "telesync") || strings.Contains(v, "hdts") || strings.Contains(v, "telecine"):
		return "cam"
	case strings.Contains(v, "bluray") || strings.Contains(v, "bdrip") || strings.Contains(v, "brrip") || strings.Contains(v, "bdremux") || v == "remux":
		return "bluray"
	case strings.Contains(v, "webdl") || v == "web":
		return "webdl"
	case strings.Contains(v, "webrip"):
		return "webrip"
	case strings.Contains(v, "hdrip"):
		return "hdrip"
	case strings.Contains(v, "hdtv") || strings.Contains(v, "pdtv") || strings.Contains(v, "dsr"):
		return "hdtv"
	case strings.Contains(v, "dvd"):
		return "dvdrip"
	default:
		return ""
	}
}

func normalizeCodec(values ...string) string {
	best := ""
	rank := map[string]int{"": 0, "xvid": 1, "h264": 2, "av1": 3, "h265": 4}
	for _, value := range values {
		v := strings.ToLower(strings.TrimSpace(value))
		v = strings.NewReplacer(".", "", " ", "").Replace(v)
		var codec string
		switch {
		case v == "":
			continue
		case strings.Contains(v, "265") || strings.Contains(v, "hevc"):
			codec = "h265"
		case strings.Contains(v, "av1"):
			codec = "av1"
		case strings.Contains(v, "264") || strings.Contains(v, "avc"):
			codec = "h264"
		case strings.Contains(v, "xvid") || strings.Contains(v, "divx"):
			codec = "xvid"
		default:
			continue
		}
		if rank[codec] > rank[best] {
			best = codec
		}
	}
	return best
}

func normalizeHDR(values ...string) string {
	best := ""
	rank := map[string]int{"": 0, "hlg": 1, "hdr10": 2, "hdr10+": 3, "dv": 4}
	for _, value := range values {
		v := strings.ToLower(strings.TrimSpace(value))
		v = strings.NewReplacer(".", "", " ", "", "-", "").Replace(v)
		var hdr string
		switch {
		case v == "":
			continue
		case v == "dv" || strings.Contains(v, "dovi") || strings.Contains(v, "dolbyvision"):
			hdr = "dv"
		case strings.Contains(v, "hdr10+") || strings.Contains(v, "hdr10plus"):
			hdr = "hdr10+"
		case strings.Contains(v, "hdr"):
			hdr = "hdr10"
		case strings.Contains(v, "hlg"):
			hdr = "hlg"
		default:
			continue
		}
		if rank[hdr] > rank[best] {
			best = hdr
		}
	}
	return best
}

func normalizeAudio(values ...string) string {
	best := ""
	rank := map[string]int{"": 0, "aac": 1, "flac": 2, "ac3": 3, "dts": 4, "eac3": 5, "dts-hd ma": 6, "truehd": 7, "atmos": 8}
	for _, value := range values {
		v := strings.ToLower(strings.TrimSpace(value))
		v = strings.NewReplacer(".", "", " ", "", "-", "").Replace(v)
		var audio string
		switch {
		case v == "":
			continue
		case strings.Contains(v, "atmos"):
			audio = "atmos"
		case strings.Contains(v, "truehd"):
			audio = "truehd"
		case strings.Contains(v, "dtshd") || strings.Contains(v, "dtsma") || strings.Contains(v, "dtsx") || strings.Contains(v, "dtslossless"):
			audio = "dts-hd ma"
		case strings.Contains(v, "ddp") || strings.Contains(v, "dd+") || strings.Contains(v, "eac3"):
			audio = "eac3"
		case strings.Contains(v, "dts"):
			audio = "dts"
		case v == "dd" || strings.Contains(v, "ac3") || strings.Contains(v, "dolbydigital"):
			audio = "ac3"
		case strings.Contains(v, "flac"):
			audio = "flac"
		case strings.Contains(v, "aac"):
			audio = "aac"
		default:
			continue
		}
		if rank[audio] > rank[best] {
			best = audio
		}
	}
	return best
}

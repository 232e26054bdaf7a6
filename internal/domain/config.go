// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import (
	"time"

	"github.com/autobrr/pickr/internal/models"
)

type Config struct {
	Version       string
	Host          string `toml:"host" mapstructure:"host"`
	Port          int    `toml:"port" mapstructure:"port"`
	BaseURL       string `toml:"baseUrl" mapstructure:"baseUrl"`
	LogLevel      string `toml:"logLevel" mapstructure:"logLevel"`
	LogPath       string `toml:"logPath" mapstructure:"logPath"`
	LogMaxSize    int    `toml:"logMaxSize" mapstructure:"logMaxSize"`
	LogMaxBackups int    `toml:"logMaxBackups" mapstructure:"logMaxBackups"`
	DataDir       string `toml:"dataDir" mapstructure:"dataDir"`

	MetricsEnabled bool   `toml:"metricsEnabled" mapstructure:"metricsEnabled"`
	MetricsHost    string `toml:"metricsHost" mapstructure:"metricsHost"`
	MetricsPort    int    `toml:"metricsPort" mapstructure:"metricsPort"`

	Indexers    []IndexerConfig   `toml:"indexers" mapstructure:"indexers"`
	Debrid      DebridConfig      `toml:"debrid" mapstructure:"debrid"`
	QBittorrent QBittorrentConfig `toml:"qbittorrent" mapstructure:"qbittorrent"`
	Preferences PreferencesConfig `toml:"preferences" mapstructure:"preferences"`
	Search      SearchConfig      `toml:"search" mapstructure:"search"`
}

// IndexerConfig is one Torznab endpoint, e.g. a Jackett or Prowlarr indexer feed.
type IndexerConfig struct {
	Name           string `toml:"name" mapstructure:"name"`
	URL            string `toml:"url" mapstructure:"url"`
	APIKey         string `toml:"apiKey" mapstructure:"apiKey"`
	TimeoutSeconds int    `toml:"timeoutSeconds" mapstructure:"timeoutSeconds"`
}

func (c IndexerConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type DebridConfig struct {
	Service           string  `toml:"service" mapstructure:"service"`
	APIKey            string  `toml:"apiKey" mapstructure:"apiKey"`
	BaseURL           string  `toml:"baseUrl" mapstructure:"baseUrl"`
	RequestsPerSecond float64 `toml:"requestsPerSecond" mapstructure:"requestsPerSecond"`
}

func (c DebridConfig) Enabled() bool {
	return c.APIKey != ""
}

type QBittorrentConfig struct {
	Host          string   `toml:"host" mapstructure:"host"`
	Username      string   `toml:"username" mapstructure:"username"`
	Password      string   `toml:"password" mapstructure:"password"`
	BasicUsername string   `toml:"basicUsername" mapstructure:"basicUsername"`
	BasicPassword string   `toml:"basicPassword" mapstructure:"basicPassword"`
	Category      string   `toml:"category" mapstructure:"category"`
	SavePath      string   `toml:"savePath" mapstructure:"savePath"`
	Tags          []string `toml:"tags" mapstructure:"tags"`
	TLSSkipVerify bool     `toml:"tlsSkipVerify" mapstructure:"tlsSkipVerify"`
}

func (c QBittorrentConfig) Enabled() bool {
	return c.Host != ""
}

type PreferencesConfig struct {
	PreferredQuality string `toml:"preferredQuality" mapstructure:"preferredQuality"`
	PreferCached     bool   `toml:"preferCached" mapstructure:"preferCached"`
	PreferAtmos      bool   `toml:"preferAtmos" mapstructure:"preferAtmos"`
	HDRPreference    string `toml:"hdrPreference" mapstructure:"hdrPreference"`
}

// Preferences converts the configured strings; unknown values fall back to
// the defaults instead of failing the whole config.
func (c PreferencesConfig) Preferences() models.Preferences {
	prefs := models.DefaultPreferences()
	if q, err := models.ParseQuality(c.PreferredQuality); err == nil {
		prefs.PreferredQuality = q
	}
	prefs.PreferCached = c.PreferCached
	prefs.PreferAtmos = c.PreferAtmos
	if pref := models.HDRPreference(c.HDRPreference); pref != "" {
		if _, ok := pref.Format(); ok {
			prefs.HDRPreference = pref
		}
	}
	return prefs
}

type SearchConfig struct {
	InitialBatchSize      int    `toml:"initialBatchSize" mapstructure:"initialBatchSize"`
	RevealBatchSize       int    `toml:"revealBatchSize" mapstructure:"revealBatchSize"`
	EnrichmentBatchSize   int    `toml:"enrichmentBatchSize" mapstructure:"enrichmentBatchSize"`
	EnrichmentDelayMillis int    `toml:"enrichmentDelayMillis" mapstructure:"enrichmentDelayMillis"`
	ParallelThreshold     int    `toml:"parallelThreshold" mapstructure:"parallelThreshold"`
	FilterExpression      string `toml:"filterExpression" mapstructure:"filterExpression"`
	SearchCacheTTLMinutes int    `toml:"searchCacheTTLMinutes" mapstructure:"searchCacheTTLMinutes"`
	DownloadPollSeconds   int    `toml:"downloadPollSeconds" mapstructure:"downloadPollSeconds"`
}

func (c SearchConfig) EnrichmentDelay() time.Duration {
	return time.Duration(c.EnrichmentDelayMillis) * time.Millisecond
}

func (c SearchConfig) SearchCacheTTL() time.Duration {
	return time.Duration(c.SearchCacheTTLMinutes) * time.Minute
}

func (c SearchConfig) DownloadPollInterval() time.Duration {
	return time.Duration(c.DownloadPollSeconds) * time.Second
}

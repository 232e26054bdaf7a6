// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/pickr/internal/domain"
	"github.com/autobrr/pickr/internal/models"
)

const baseConfig = "host = \"localhost\"\nport = 8080\n"

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDatabasePathResolution(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(t *testing.T, tmpDir string) (configPath string, envDataDir string, expectedDBPath string)
	}{
		{
			name: "default_next_to_config",
			prepare: func(t *testing.T, tmpDir string) (string, string, string) {
				return writeConfig(t, tmpDir, baseConfig), "", filepath.Join(tmpDir, "pickr.db")
			},
		},
		{
			name: "explicit_data_dir_in_config",
			prepare: func(t *testing.T, tmpDir string) (string, string, string) {
				dataDir := filepath.Join(tmpDir, "data")
				require.NoError(t, os.MkdirAll(dataDir, 0o755))
				content := baseConfig + fmt.Sprintf("dataDir = %q\n", dataDir)
				return writeConfig(t, tmpDir, content), "", filepath.Join(dataDir, "pickr.db")
			},
		},
		{
			name: "env_var_override",
			prepare: func(t *testing.T, tmpDir string) (string, string, string) {
				configDataDir := filepath.Join(tmpDir, "config-data")
				envDataDir := filepath.Join(tmpDir, "env-data")
				content := baseConfig + fmt.Sprintf("dataDir = %q\n", configDataDir)
				return writeConfig(t, tmpDir, content), envDataDir, filepath.Join(envDataDir, "pickr.db")
			},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			configPath, envValue, expectedDBPath := tt.prepare(t, tmpDir)
			if envValue != "" {
				t.Setenv(envPrefix+"DATA_DIR", envValue)
			}

			cfg, err := New(configPath)
			require.NoError(t, err)

			assert.Equal(t, filepath.Clean(expectedDBPath), filepath.Clean(cfg.GetDatabasePath()))
		})
	}
}

func TestConfigDirResolution(t *testing.T) {
	tests := []struct {
		name           string
		input          string
		setupFile      bool
		fileIsDir      bool
		expectedSuffix string
	}{
		{name: "toml_file_extension", input: "/path/to/custom.toml", expectedSuffix: "custom.toml"},
		{name: "TOML_file_extension_uppercase", input: "/path/to/CONFIG.TOML", expectedSuffix: "CONFIG.TOML"},
		{name: "directory_path", input: "/path/to/config", expectedSuffix: "config.toml"},
		{name: "existing_file_without_toml", input: "/path/to/configfile", setupFile: true, expectedSuffix: "configfile"},
		{name: "existing_directory", input: "/path/to/configdir", setupFile: true, fileIsDir: true, expectedSuffix: "config.toml"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			inputPath := filepath.Join(tmpDir, filepath.Base(tt.input))

			if tt.setupFile {
				if tt.fileIsDir {
					require.NoError(t, os.MkdirAll(inputPath, 0o755))
				} else {
					require.NoError(t, os.WriteFile(inputPath, []byte("test"), 0o644))
				}
			}

			c := &AppConfig{}
			result := c.resolveConfigPath(inputPath)
			assert.True(t, strings.HasSuffix(result, tt.expectedSuffix),
				"Expected result %s to end with %s", result, tt.expectedSuffix)
		})
	}
}

func TestNewWritesDefaultConfig(t *testing.T) {
	dir := t.TempDir()

	cfg, err := New(dir)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dir, "config.toml"))
	require.NoError(t, err)

	current := cfg.Current()
	assert.Equal(t, 7480, current.Port)
	assert.Equal(t, 10, current.Search.InitialBatchSize)
	assert.Equal(t, 20, current.Search.EnrichmentBatchSize)
	assert.Equal(t, 8, current.Search.ParallelThreshold)
	assert.Equal(t, "pickr", current.QBittorrent.Category)
	assert.False(t, current.Debrid.Enabled())
	assert.Equal(t, models.DefaultPreferences(), cfg.Preferences())
}

func TestNewParsesSections(t *testing.T) {
	content := baseConfig + `
[[indexers]]
name = "jackett"
url = "http://localhost:9117/api/v2.0/indexers/all/results/torznab/api"
apiKey = "abc"
timeoutSeconds = 12

[[indexers]]
name = "prowlarr"
url = "http://localhost:9696/1/api"

[debrid]
apiKey = "rd-token"
requestsPerSecond = 2

[qbittorrent]
host = "http://qbt:8080"
tags = ["pickr", "auto"]

[preferences]
preferredQuality = "1080p"
preferAtmos = true
hdrPreference = "dv"

[search]
filterExpression = "Seeders >= 5"
`
	cfg, err := New(writeConfig(t, t.TempDir(), content))
	require.NoError(t, err)

	current := cfg.Current()
	require.Len(t, current.Indexers, 2)
	assert.Equal(t, "jackett", current.Indexers[0].Name)
	assert.Equal(t, 12, current.Indexers[0].TimeoutSeconds)
	assert.Equal(t, 30, int(current.Indexers[1].Timeout().Seconds()))
	assert.True(t, current.Debrid.Enabled())
	assert.Equal(t, 2.0, current.Debrid.RequestsPerSecond)
	assert.Equal(t, "https://api.real-debrid.com/rest/1.0", current.Debrid.BaseURL)
	assert.True(t, current.QBittorrent.Enabled())
	assert.Equal(t, []string{"pickr", "auto"}, current.QBittorrent.Tags)
	assert.Equal(t, "Seeders >= 5", current.Search.FilterExpression)

	prefs := cfg.Preferences()
	assert.Equal(t, models.QualityHD1080, prefs.PreferredQuality)
	assert.True(t, prefs.PreferAtmos)
	assert.True(t, prefs.PreferCached)
	assert.Equal(t, models.HDRPreference("dv"), prefs.HDRPreference)
}

func TestBindOrReadFromFile(t *testing.T) {
	tests := []struct {
		name          string
		envValue      string
		fileValue     string
		expectedValue string
	}{
		{name: "only_file_env_var", fileValue: "key-from-file", expectedValue: "key-from-file"},
		{name: "only_plain_env_var", envValue: "key-not-from-file", expectedValue: "key-not-from-file"},
		{name: "file_wins_over_plain", envValue: "key-not-from-file", fileValue: "key-from-file\n", expectedValue: "key-from-file"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			env := envPrefix + "DEBRID_API_KEY"
			if tt.envValue != "" {
				t.Setenv(env, tt.envValue)
			}
			if tt.fileValue != "" {
				path := filepath.Join(t.TempDir(), "key.txt")
				require.NoError(t, os.WriteFile(path, []byte(tt.fileValue), 0o600))
				t.Setenv(env+"_FILE", path)
			}

			cfg, err := New(writeConfig(t, t.TempDir(), baseConfig))
			require.NoError(t, err)
			assert.Equal(t, tt.expectedValue, cfg.Current().Debrid.APIKey)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     domain.Config
		wantErr string
	}{
		{name: "ok", cfg: domain.Config{Port: 80}},
		{name: "bad_port", cfg: domain.Config{Port: 0}, wantErr: "invalid port"},
		{
			name:    "indexer_without_url",
			cfg:     domain.Config{Port: 80, Indexers: []domain.IndexerConfig{{Name: "a"}}},
			wantErr: "url is required",
		},
		{
			name: "duplicate_indexer",
			cfg: domain.Config{Port: 80, Indexers: []domain.IndexerConfig{
				{Name: "a", URL: "http://a"}, {Name: "a", URL: "http://b"},
			}},
			wantErr: "duplicate indexer",
		},
		{
			name:    "unknown_quality",
			cfg:     domain.Config{Port: 80, Preferences: domain.PreferencesConfig{PreferredQuality: "8k"}},
			wantErr: "preferences",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(&tt.cfg)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestReloadListenerReceivesCopy(t *testing.T) {
	cfg := &AppConfig{Config: &domain.Config{Port: 1, LogLevel: "debug"}}

	var got *domain.Config
	cfg.RegisterReloadListener(func(c *domain.Config) { got = c })
	cfg.notifyListeners()

	require.NotNil(t, got)
	assert.Equal(t, "debug", got.LogLevel)
	got.LogLevel = "trace"
	assert.Equal(t, "debug", cfg.Current().LogLevel)
}

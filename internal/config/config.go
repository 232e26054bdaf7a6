// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/autobrr/pickr/internal/domain"
	"github.com/autobrr/pickr/internal/models"
)

var envPrefix = "PICKR__"

const databaseFileName = "pickr.db"

type AppConfig struct {
	mu      sync.RWMutex
	Config  *domain.Config
	viper   *viper.Viper
	dataDir string
	version string

	listenersMu sync.RWMutex
	listeners   []func(*domain.Config)
}

func New(configDirOrPath string, versions ...string) (*AppConfig, error) {
	version := "dev"
	if len(versions) > 0 && strings.TrimSpace(versions[0]) != "" {
		version = versions[0]
	}

	c := &AppConfig{
		viper:   viper.New(),
		Config:  &domain.Config{},
		version: version,
	}

	c.defaults()

	if err := c.load(configDirOrPath); err != nil {
		return nil, err
	}

	if err := c.loadFromEnv(); err != nil {
		return nil, err
	}

	if err := c.viper.Unmarshal(c.Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	c.Config.Version = c.version

	if err := Validate(c.Config); err != nil {
		return nil, err
	}

	c.resolveDataDir()
	c.watchConfig()

	return c, nil
}

func (c *AppConfig) defaults() {
	host := "localhost"
	if detectContainer() {
		host = "0.0.0.0"
	}

	c.viper.SetDefault("host", host)
	c.viper.SetDefault("port", 7480)
	c.viper.SetDefault("baseUrl", "/")
	c.viper.SetDefault("logLevel", "INFO")
	c.viper.SetDefault("logPath", "")
	c.viper.SetDefault("logMaxSize", 50)
	c.viper.SetDefault("logMaxBackups", 3)
	c.viper.SetDefault("dataDir", "")
	c.viper.SetDefault("metricsEnabled", false)
	c.viper.SetDefault("metricsHost", "127.0.0.1")
	c.viper.SetDefault("metricsPort", 9078)

	c.viper.SetDefault("debrid.service", "realdebrid")
	c.viper.SetDefault("debrid.baseUrl", "https://api.real-debrid.com/rest/1.0")
	c.viper.SetDefault("debrid.requestsPerSecond", 4)

	c.viper.SetDefault("qbittorrent.category", "pickr")

	c.viper.SetDefault("preferences.preferredQuality", "")
	c.viper.SetDefault("preferences.preferCached", true)
	c.viper.SetDefault("preferences.preferAtmos", false)
	c.viper.SetDefault("preferences.hdrPreference", "auto")

	c.viper.SetDefault("search.initialBatchSize", 10)
	c.viper.SetDefault("search.revealBatchSize", 10)
	c.viper.SetDefault("search.enrichmentBatchSize", 20)
	c.viper.SetDefault("search.enrichmentDelayMillis", 250)
	c.viper.SetDefault("search.parallelThreshold", 8)
	c.viper.SetDefault("search.filterExpression", "")
	c.viper.SetDefault("search.searchCacheTTLMinutes", 30)
	c.viper.SetDefault("search.downloadPollSeconds", 30)
}

func (c *AppConfig) load(configDirOrPath string) error {
	c.viper.SetConfigType("toml")

	if configDirOrPath != "" {
		configPath := c.resolveConfigPath(configDirOrPath)
		c.viper.SetConfigFile(configPath)

		if err := c.viper.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
				if err := c.writeDefaultConfig(configPath); err != nil {
					return err
				}
				if err := c.viper.ReadInConfig(); err != nil {
					return fmt.Errorf("failed to read newly created config: %w", err)
				}
				return nil
			}
			return fmt.Errorf("failed to read config: %w", err)
		}
		return nil
	}

	c.viper.SetConfigName("config")
	c.viper.AddConfigPath(".")
	c.viper.AddConfigPath(GetDefaultConfigDir())

	if err := c.viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config: %w", err)
		}

		defaultConfigPath := filepath.Join(GetDefaultConfigDir(), "config.toml")
		if err := c.writeDefaultConfig(defaultConfigPath); err != nil {
			return err
		}
		c.viper.SetConfigFile(defaultConfigPath)
		if err := c.viper.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read newly created config: %w", err)
		}
		c.dataDir = filepath.Dir(defaultConfigPath)
	}

	return nil
}

func (c *AppConfig) loadFromEnv() error {
	// Explicit binds only. AutomaticEnv picks up unrelated variables in
	// container environments.
	binds := map[string]string{
		"host":                         "HOST",
		"port":                         "PORT",
		"baseUrl":                      "BASE_URL",
		"logLevel":                     "LOG_LEVEL",
		"logPath":                      "LOG_PATH",
		"logMaxSize":                   "LOG_MAX_SIZE",
		"logMaxBackups":                "LOG_MAX_BACKUPS",
		"dataDir":                      "DATA_DIR",
		"metricsEnabled":               "METRICS_ENABLED",
		"metricsHost":                  "METRICS_HOST",
		"metricsPort":                  "METRICS_PORT",
		"debrid.service":               "DEBRID_SERVICE",
		"debrid.baseUrl":               "DEBRID_BASE_URL",
		"debrid.requestsPerSecond":     "DEBRID_REQUESTS_PER_SECOND",
		"qbittorrent.host":             "QBITTORRENT_HOST",
		"qbittorrent.username":         "QBITTORRENT_USERNAME",
		"qbittorrent.category":         "QBITTORRENT_CATEGORY",
		"qbittorrent.savePath":         "QBITTORRENT_SAVE_PATH",
		"preferences.preferredQuality": "PREFERRED_QUALITY",
		"preferences.preferCached":     "PREFER_CACHED",
		"preferences.preferAtmos":      "PREFER_ATMOS",
		"preferences.hdrPreference":    "HDR_PREFERENCE",
		"search.filterExpression":      "SEARCH_FILTER",
	}
	for key, env := range binds {
		if err := c.viper.BindEnv(key, envPrefix+env); err != nil {
			return fmt.Errorf("bind %s: %w", env, err)
		}
	}

	secrets := map[string]string{
		"debrid.apiKey":        "DEBRID_API_KEY",
		"qbittorrent.password": "QBITTORRENT_PASSWORD",
	}
	for key, env := range secrets {
		if err := c.bindOrReadFromFile(key, envPrefix+env); err != nil {
			return err
		}
	}
	return nil
}

// bindOrReadFromFile reads the value from the file named by <env>_FILE when
// set, and binds <env> otherwise.
func (c *AppConfig) bindOrReadFromFile(key, env string) error {
	if filePath := os.Getenv(env + "_FILE"); filePath != "" {
		content, err := os.ReadFile(filePath)
		if err != nil {
			return fmt.Errorf("could not read %s_FILE: %w", env, err)
		}
		c.viper.Set(key, strings.TrimSpace(string(content)))
		return nil
	}
	return c.viper.BindEnv(key, env)
}

func (c *AppConfig) watchConfig() {
	c.viper.OnConfigChange(func(e fsnotify.Event) {
		log.Info().Msgf("Config file changed: %s", e.Name)

		next := &domain.Config{}
		if err := c.viper.Unmarshal(next); err != nil {
			log.Error().Err(err).Msg("Failed to reload configuration")
			return
		}
		next.Version = c.version
		if err := Validate(next); err != nil {
			log.Error().Err(err).Msg("Ignoring invalid configuration")
			return
		}

		c.mu.Lock()
		c.Config = next
		c.mu.Unlock()

		c.ApplyLogConfig()
		c.notifyListeners()
	})
	c.viper.WatchConfig()
}

// Current returns a copy of the active configuration.
func (c *AppConfig) Current() domain.Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return *c.Config
}

// Preferences returns the live ranking preferences. They change when the
// config file is edited.
func (c *AppConfig) Preferences() models.Preferences {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Config.Preferences.Preferences()
}

// RegisterReloadListener registers a callback that's invoked when the configuration file is reloaded.
func (c *AppConfig) RegisterReloadListener(fn func(*domain.Config)) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	c.listeners = append(c.listeners, fn)
}

func (c *AppConfig) notifyListeners() {
	c.listenersMu.RLock()
	listeners := append([]func(*domain.Config){}, c.listeners...)
	c.listenersMu.RUnlock()

	if len(listeners) == 0 {
		return
	}

	copied := c.Current()
	for _, listener := range listeners {
		listener(&copied)
	}
}

// Validate rejects configurations the services cannot start with.
func Validate(cfg *domain.Config) error {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return fmt.Errorf("invalid port %d", cfg.Port)
	}
	seen := make(map[string]struct{}, len(cfg.Indexers))
	for i, idx := range cfg.Indexers {
		if strings.TrimSpace(idx.URL) == "" {
			return fmt.Errorf("indexer %d: url is required", i)
		}
		name := strings.TrimSpace(idx.Name)
		if name == "" {
			return fmt.Errorf("indexer %d: name is required", i)
		}
		if _, ok := seen[name]; ok {
			return fmt.Errorf("duplicate indexer name %q", name)
		}
		seen[name] = struct{}{}
	}
	if cfg.Search.InitialBatchSize < 0 || cfg.Search.RevealBatchSize < 0 || cfg.Search.EnrichmentBatchSize < 0 {
		return errors.New("search batch sizes cannot be negative")
	}
	if _, err := models.ParseQuality(cfg.Preferences.PreferredQuality); err != nil {
		return fmt.Errorf("preferences: %w", err)
	}
	return nil
}

const configTemplate = `# config.toml - Auto-generated on first run

# Hostname / IP
# Default: "localhost" (or "0.0.0.0" in containers)
host = "{{ .host }}"

# Port
# Default: 7480
port = {{ .port }}

# Base URL
# Set custom baseUrl eg /pickr/ to serve in subdirectory.
#baseUrl = "/pickr/"

# Log file path
# If not defined, logs to stdout
#logPath = "log/pickr.log"

# Maximum log file size in megabytes before rotation
#logMaxSize = {{ .logMaxSize }}

# Number of rotated log files to retain (0 keeps all)
#logMaxBackups = {{ .logMaxBackups }}

# Data directory (default: next to config file)
# Database file (pickr.db) will be created inside this directory
#dataDir = "/var/db/pickr"

# Log level
# Options: "ERROR", "DEBUG", "INFO", "WARN", "TRACE"
logLevel = "{{ .logLevel }}"

# Prometheus metrics on a separate listener
#metricsEnabled = false
#metricsHost = "127.0.0.1"
#metricsPort = 9078

# Torznab indexers (Jackett, Prowlarr or native feeds)
#[[indexers]]
#name = "jackett-all"
#url = "http://localhost:9117/api/v2.0/indexers/all/results/torznab/api"
#apiKey = ""
#timeoutSeconds = 30

[debrid]
# Real-Debrid API token. Leave empty to disable cache checks and streaming.
#apiKey = ""
#requestsPerSecond = 4

[qbittorrent]
# Leave host empty to disable downloads.
#host = "http://localhost:8080"
#username = "admin"
#password = ""
#category = "pickr"
#savePath = ""
#tags = ["pickr"]
#tlsSkipVerify = false

[preferences]
# Highest quality picked automatically: "2160p", "1080p", "720p", "sd" or "" for no cap
#preferredQuality = ""
#preferCached = true
#preferAtmos = false
# "auto", "dv", "hdr10+", "hdr10", "hlg"
#hdrPreference = "auto"

[search]
#initialBatchSize = 10
#revealBatchSize = 10
#enrichmentBatchSize = 20
#enrichmentDelayMillis = 250
#parallelThreshold = 8
# Expression evaluated per release, e.g. 'Seeders >= 5 && Source != "cam"'
#filterExpression = ""
#searchCacheTTLMinutes = 30
#downloadPollSeconds = 30
`

func (c *AppConfig) writeDefaultConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		log.Debug().Msgf("Config file already exists at: %s", path)
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", dir, err)
	}

	data := map[string]any{
		"host":          c.viper.GetString("host"),
		"port":          c.viper.GetInt("port"),
		"logLevel":      c.viper.GetString("logLevel"),
		"logMaxSize":    c.viper.GetInt("logMaxSize"),
		"logMaxBackups": c.viper.GetInt("logMaxBackups"),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("failed to parse config template: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	if err := tmpl.Execute(f, data); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Info().Msgf("Created default config file: %s", path)
	return nil
}

// GetDefaultConfigDir returns the OS-specific config directory
func GetDefaultConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		// Docker images mount /config directly
		if xdgConfig == "/config" {
			return xdgConfig
		}
		return filepath.Join(xdgConfig, "pickr")
	}

	switch runtime.GOOS {
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "pickr")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "AppData", "Roaming", "pickr")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "pickr")
	}
}

func detectContainer() bool {
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	if _, err := os.Stat("/dev/.lxc-boot-id"); err == nil {
		return true
	}
	return os.Getpid() == 1
}

func (c *AppConfig) ApplyLogConfig() {
	cfg := c.Current()
	zerolog.TimeFieldFormat = time.RFC3339

	setLogLevel(cfg.LogLevel)

	writer := baseLogWriter(c.version)

	if cfg.LogPath != "" {
		multiWriter, err := setupLogFile(cfg.LogPath, writer, cfg.LogMaxSize, cfg.LogMaxBackups)
		if err != nil {
			log.Error().Err(err).Msg("Failed to setup log file")
		} else {
			writer = multiWriter
		}
	}

	log.Logger = log.Logger.Output(writer)
}

func setLogLevel(level string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Logger.Level(lvl)
}

func setupLogFile(path string, base io.Writer, maxSize, maxBackups int) (io.Writer, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	if maxSize <= 0 {
		maxSize = 50
	}
	if maxBackups < 0 {
		maxBackups = 0
	}

	rotator := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
	}

	return io.MultiWriter(base, rotator), nil
}

func baseLogWriter(version string) io.Writer {
	if isDevBuild(version) {
		writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
		writer.PartsOrder = []string{zerolog.TimestampFieldName, zerolog.LevelFieldName, zerolog.MessageFieldName}
		return writer
	}
	return os.Stderr
}

// InitDefaultLogger configures zerolog with the default writer for this version.
// This is used by CLI entry points before a configuration file is loaded.
func InitDefaultLogger(version string) {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Logger.Output(baseLogWriter(version))
}

func isDevBuild(version string) bool {
	v := strings.ToLower(strings.TrimSpace(version))
	return v == "" || v == "dev" || strings.HasSuffix(v, "-dev")
}

// resolveConfigPath determines the actual config file path from the provided directory or file path
func (c *AppConfig) resolveConfigPath(configDirOrPath string) string {
	if strings.HasSuffix(strings.ToLower(configDirOrPath), ".toml") {
		return configDirOrPath
	}

	if info, err := os.Stat(configDirOrPath); err == nil && !info.IsDir() {
		return configDirOrPath
	}

	return filepath.Join(configDirOrPath, "config.toml")
}

func (c *AppConfig) resolveDataDir() {
	switch {
	case c.Config.DataDir != "":
		c.dataDir = c.Config.DataDir
	case c.dataDir != "":
	case c.viper.ConfigFileUsed() != "":
		c.dataDir = filepath.Dir(c.viper.ConfigFileUsed())
	default:
		c.dataDir = "."
	}
}

// GetDatabasePath returns the path to the database file
func (c *AppConfig) GetDatabasePath() string {
	return filepath.Join(c.dataDir, databaseFileName)
}

func (c *AppConfig) GetDataDir() string {
	return c.dataDir
}

// SetDataDir sets the data directory (used by CLI flags)
func (c *AppConfig) SetDataDir(dir string) {
	c.dataDir = dir
}

// WriteDefaultConfig writes a commented config file to path unless one exists.
func WriteDefaultConfig(path string) error {
	c := &AppConfig{viper: viper.New()}
	c.defaults()
	return c.writeDefaultConfig(path)
}

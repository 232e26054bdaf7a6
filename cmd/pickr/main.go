// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/autobrr/pickr/internal/api"
	"github.com/autobrr/pickr/internal/api/handlers"
	"github.com/autobrr/pickr/internal/buildinfo"
	"github.com/autobrr/pickr/internal/config"
	"github.com/autobrr/pickr/internal/database"
	"github.com/autobrr/pickr/internal/domain"
	"github.com/autobrr/pickr/internal/metrics"
	"github.com/autobrr/pickr/internal/models"
	"github.com/autobrr/pickr/internal/qbittorrent"
	"github.com/autobrr/pickr/internal/services/debrid"
	"github.com/autobrr/pickr/internal/services/downloads"
	"github.com/autobrr/pickr/internal/services/ranking"
	"github.com/autobrr/pickr/internal/services/search"
	"github.com/autobrr/pickr/internal/services/sessions"
	"github.com/autobrr/pickr/internal/services/torznab"
	"github.com/autobrr/pickr/pkg/releases"
)

func main() {
	// a missing .env is fine, the environment still applies
	_ = godotenv.Load()

	config.InitDefaultLogger(buildinfo.Version)

	var rootCmd = &cobra.Command{
		Use:   "pickr",
		Short: "Torrent search, ranking and stream hand-off",
		Long: `pickr - searches Torznab indexers for a movie or episode, ranks the
releases against your preferences, checks debrid availability and hands the
pick to a debrid stream or to qBittorrent.`,
	}

	rootCmd.Version = buildinfo.Version

	rootCmd.AddCommand(RunServeCommand())
	rootCmd.AddCommand(RunSearchCommand())
	rootCmd.AddCommand(RunVersionCommand(buildinfo.Info()))
	rootCmd.AddCommand(RunGenerateConfigCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func RunServeCommand() *cobra.Command {
	var (
		configDir string
		dataDir   string
		logPath   string
		pprofFlag bool
	)

	var command = &cobra.Command{
		Use:   "serve",
		Short: "Start the server",
	}

	command.Flags().StringVar(&configDir, "config-dir", "", "config directory path (default is OS-specific: ~/.config/pickr/ or %APPDATA%\\pickr\\). Can also be a direct path to a .toml file")
	command.Flags().StringVar(&dataDir, "data-dir", "", "data directory for the database (default is next to config file)")
	command.Flags().StringVar(&logPath, "log-path", "", "log file path (default is stdout)")
	command.Flags().BoolVar(&pprofFlag, "pprof", false, "enable pprof server on :6060")

	command.Run = func(cmd *cobra.Command, args []string) {
		app := NewApplication(configDir, dataDir, logPath, pprofFlag)
		app.runServer()
	}

	return command
}

func RunSearchCommand() *cobra.Command {
	var (
		configDir string
		mediaType string
		title     string
		year      int
		season    int
		episode   int
		limit     int
		noCache   bool
	)

	command := &cobra.Command{
		Use:   "search [imdb-id]",
		Short: "Search the configured indexers and print ranked releases",
		Long: `Search the configured indexers once and print the ranked releases.

Searches by IMDb id when one is given and falls back to --title.

Examples:
  pickr search tt0111161 --title "The Shawshank Redemption" --year 1994
  pickr search tt0903747 --type series --season 1 --episode 2 --title "Breaking Bad"
  pickr search --title "Big Buck Bunny"`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.New(configDir, buildinfo.Version)
			if err != nil {
				return errors.Wrap(err, "failed to initialize configuration")
			}
			cfg.ApplyLogConfig()

			current := cfg.Current()
			if len(current.Indexers) == 0 {
				return errors.New("no indexers configured")
			}

			req := search.Request{
				Type:    models.MediaType(mediaType),
				Title:   title,
				Year:    year,
				Season:  season,
				Episode: episode,
			}
			if len(args) == 1 {
				req.MediaID = args[0]
			}

			filter, err := ranking.NewFilter(current.Search.FilterExpression)
			if err != nil {
				return errors.Wrap(err, "invalid filter expression")
			}

			opts := []torznab.Option{
				torznab.WithParser(releases.NewDefaultParser()),
				torznab.WithRateLimiter(torznab.NewRateLimiter()),
			}
			if !noCache {
				db, err := database.New(cfg.GetDatabasePath())
				if err != nil {
					return errors.Wrap(err, "failed to initialize database")
				}
				defer db.Close()
				opts = append(opts, torznab.WithSearchCache(models.NewSearchCacheStore(db), current.Search.SearchCacheTTL()))
			}

			// availability is checked inline for the printed rows instead of
			// through background enrichment
			o := search.NewOrchestrator(search.Config{
				InitialBatchSize: limit,
				Filter:           filter,
			}, search.Deps{
				Source:      torznab.NewService(current.Indexers, opts...),
				Preferences: cfg,
				Ranker:      ranking.NewService(ranking.WithParallelThreshold(current.Search.ParallelThreshold)),
			})
			defer o.Close()

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if err := o.Search(ctx, req); err != nil {
				var serr *search.Error
				if errors.As(err, &serr) {
					return fmt.Errorf("%s: %s", serr.Message(), serr.Suggestion())
				}
				return err
			}

			snapshot := o.Snapshot()
			if current.Debrid.Enabled() {
				snapshot = markCached(ctx, debrid.NewService(current.Debrid), snapshot)
			}

			printResults(cmd.OutOrStdout(), snapshot, terminalWidth())
			return nil
		},
	}

	command.Flags().StringVar(&configDir, "config-dir", "",
		"config directory or file path (defaults to OS-specific location)")
	command.Flags().StringVar(&mediaType, "type", string(models.MediaTypeMovie), "media type: movie or series")
	command.Flags().StringVar(&title, "title", "", "title used for the fallback text search")
	command.Flags().IntVar(&year, "year", 0, "release year")
	command.Flags().IntVar(&season, "season", 0, "season number")
	command.Flags().IntVar(&episode, "episode", 0, "episode number")
	command.Flags().IntVar(&limit, "limit", 20, "number of releases to print")
	command.Flags().BoolVar(&noCache, "no-cache", false, "skip the search cache")

	return command
}

// markCached checks availability for the printed rows.
func markCached(ctx context.Context, oracle search.AvailabilityOracle, snapshot search.Snapshot) search.Snapshot {
	hashes := make([]string, len(snapshot.Visible))
	for i := range snapshot.Visible {
		hashes[i] = snapshot.Visible[i].InfoHash
	}

	availability, err := oracle.CheckAvailability(ctx, hashes)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to check debrid availability")
		return snapshot
	}

	for i := range snapshot.Visible {
		if a, ok := availability[snapshot.Visible[i].InfoHash]; ok && a.Cached {
			snapshot.Visible[i].IsCached = true
			snapshot.Visible[i].CachedOnServiceID = a.ServiceID
		}
	}
	return snapshot
}

func terminalWidth() int {
	if term.IsTerminal(int(os.Stdout.Fd())) {
		if width, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && width > 0 {
			return width
		}
	}
	return 120
}

func printResults(out io.Writer, snapshot search.Snapshot, width int) {
	if len(snapshot.Visible) == 0 {
		fmt.Fprintln(out, "No results.")
		return
	}

	// score, quality, hdr, audio, seeders, size, cached and the padding between them
	titleWidth := width - 70
	if titleWidth < 20 {
		titleWidth = 20
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tSCORE\tQUALITY\tHDR\tAUDIO\tSEEDERS\tSIZE\tCACHED\tTITLE")
	for i, c := range snapshot.Visible {
		cached := ""
		if c.IsCached {
			cached = "yes"
		}
		size := "-"
		if c.SizeBytes > 0 {
			size = humanize.IBytes(uint64(c.SizeBytes))
		}
		fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			i+1, c.Score, c.Quality, c.HDR, c.Audio, c.Seeders, size, cached, truncate(c.Title, titleWidth))
	}
	w.Flush()

	if snapshot.Remaining > 0 {
		fmt.Fprintf(out, "\n%d more not shown (use --limit)\n", snapshot.Remaining)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func RunVersionCommand(version string) *cobra.Command {
	var command = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of pickr",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}

	return command
}

func RunGenerateConfigCommand() *cobra.Command {
	var configDir string

	command := &cobra.Command{
		Use:   "generate-config",
		Short: "Generate a default configuration file",
		Long: `Generate a default configuration file without starting the server.

If no --config-dir is specified, uses the OS-specific default location:
- Linux/macOS: ~/.config/pickr/config.toml
- Windows: %APPDATA%\pickr\config.toml

You can specify either a directory path or a direct file path:
- Directory: pickr generate-config --config-dir /path/to/config/
- File: pickr generate-config --config-dir /path/to/myconfig.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var configPath string
			if configDir != "" {
				if strings.HasSuffix(strings.ToLower(configDir), ".toml") {
					configPath = configDir
				} else if info, err := os.Stat(configDir); err == nil && !info.IsDir() {
					configPath = configDir
				} else {
					configPath = filepath.Join(configDir, "config.toml")
				}
			} else {
				configPath = filepath.Join(config.GetDefaultConfigDir(), "config.toml")
			}

			if _, err := os.Stat(configPath); err == nil {
				cmd.Printf("Configuration file already exists at: %s\n", configPath)
				cmd.Println("Skipping generation to avoid overwriting existing configuration.")
				return nil
			}

			if err := config.WriteDefaultConfig(configPath); err != nil {
				return fmt.Errorf("failed to create configuration file: %w", err)
			}

			cmd.Printf("Configuration file created successfully at: %s\n", configPath)
			return nil
		},
	}

	command.Flags().StringVar(&configDir, "config-dir", "",
		"config directory or file path (defaults to OS-specific location)")

	return command
}

type Application struct {
	configDir string
	dataDir   string
	logPath   string
	pprofFlag bool
}

func NewApplication(configDir, dataDir, logPath string, pprofFlag bool) *Application {
	return &Application{
		configDir: configDir,
		dataDir:   dataDir,
		logPath:   logPath,
		pprofFlag: pprofFlag,
	}
}

func (app *Application) runServer() {
	cfg, err := config.New(app.configDir, buildinfo.Version)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize configuration")
	}

	// Override with CLI flags if provided
	if app.dataDir != "" {
		os.Setenv("PICKR__DATA_DIR", app.dataDir)
		cfg.SetDataDir(app.dataDir)
	}
	if app.logPath != "" {
		os.Setenv("PICKR__LOG_PATH", app.logPath)
		cfg.Config.LogPath = app.logPath
	}

	cfg.ApplyLogConfig()

	log.Info().Str("version", buildinfo.Version).Msg("Starting pickr")

	current := cfg.Current()

	// preferences and batch sizes are read live; the rest is wired once below
	cfg.RegisterReloadListener(func(conf *domain.Config) {
		if conf.Search.FilterExpression != current.Search.FilterExpression ||
			len(conf.Indexers) != len(current.Indexers) ||
			conf.Debrid != current.Debrid ||
			conf.QBittorrent.Host != current.QBittorrent.Host {
			log.Warn().Msg("Indexer, debrid, qBittorrent and filter changes apply after a restart")
		}
	})

	db, err := database.New(cfg.GetDatabasePath())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	downloadStore := models.NewDownloadTaskStore(db)
	tracker := downloads.NewTracker(downloadStore)
	if err := tracker.Restore(context.Background()); err != nil {
		log.Warn().Err(err).Msg("Failed to restore download tasks")
	}

	searchCache := models.NewSearchCacheStore(db)
	torznabService := torznab.NewService(
		current.Indexers,
		torznab.WithSearchCache(searchCache, current.Search.SearchCacheTTL()),
		torznab.WithParser(releases.NewDefaultParser()),
		torznab.WithRateLimiter(torznab.NewRateLimiter()),
	)
	if len(current.Indexers) == 0 {
		log.Warn().Msg("No indexers configured - searches will find nothing")
	} else {
		log.Info().Strs("indexers", torznabService.Indexers()).Msg("Torznab service initialized")
	}

	backgroundCtx, backgroundCancel := context.WithCancel(context.Background())
	defer backgroundCancel()

	// expired cache rows are only skipped on read; purge them now and then
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			if removed, err := torznabService.CleanupCache(backgroundCtx); err != nil {
				if !errors.Is(err, context.Canceled) {
					log.Warn().Err(err).Msg("Failed to clean up search cache")
				}
			} else if removed > 0 {
				log.Debug().Int64("removed", removed).Msg("Removed expired search cache entries")
			}

			select {
			case <-backgroundCtx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	var (
		oracle   search.AvailabilityOracle
		resolver search.StreamResolver
		sink     search.DownloadSink
		checks   []handlers.ReadinessCheck
	)

	if current.Debrid.Enabled() {
		debridService := debrid.NewService(current.Debrid)
		oracle = debridService
		resolver = debridService
		log.Info().Str("service", debridService.ServiceID()).Msg("Debrid service initialized")
	} else {
		log.Info().Msg("No debrid service configured - availability checks disabled, streams use magnet links")
	}

	var qbtClient *qbittorrent.Client
	if current.QBittorrent.Enabled() {
		qbtClient = qbittorrent.NewClient(current.QBittorrent)
		sink = qbtClient
		checks = append(checks, handlers.ReadinessCheck{
			Name:  "qbittorrent",
			Check: qbtClient.HealthCheck,
		})

		go func() {
			ctx, cancel := context.WithTimeout(backgroundCtx, 30*time.Second)
			defer cancel()
			if err := qbtClient.HealthCheck(ctx); err != nil {
				log.Warn().Err(err).Str("host", current.QBittorrent.Host).Msg("qBittorrent is not reachable yet")
			} else {
				log.Info().Str("version", qbtClient.GetWebAPIVersion()).Msg("Connected to qBittorrent")
			}
		}()
	} else {
		log.Info().Msg("No qBittorrent host configured - downloads disabled")
	}

	filter, err := ranking.NewFilter(current.Search.FilterExpression)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid search filter expression")
	}
	ranker := ranking.NewService(ranking.WithParallelThreshold(current.Search.ParallelThreshold))

	// batch sizes apply to sessions created after a reload
	registry := sessions.NewRegistry(func(id string) *search.Orchestrator {
		conf := cfg.Current()
		return search.NewOrchestrator(search.Config{
			InitialBatchSize:    conf.Search.InitialBatchSize,
			RevealBatchSize:     conf.Search.RevealBatchSize,
			EnrichmentBatchSize: conf.Search.EnrichmentBatchSize,
			EnrichmentDelay:     conf.Search.EnrichmentDelay(),
			Filter:              filter,
		}, search.Deps{
			Source:      torznabService,
			Oracle:      oracle,
			Resolver:    resolver,
			Sink:        sink,
			Preferences: cfg,
			Ranker:      ranker,
			Tracker:     tracker,
		}).WithLogger(log.Logger.With().Str("module", "search").Str("session", id).Logger())
	}, sessions.DefaultIdleTimeout)
	defer registry.Close()
	go registry.Run(backgroundCtx)

	if sink != nil {
		poller := downloads.NewPoller(tracker, sink, current.Search.DownloadPollInterval())
		poller.OnChange(func(int) {
			registry.Each((*search.Orchestrator).NotifyDownloads)
		})
		go poller.Run(backgroundCtx)
	}

	sessionManager := scs.New()
	sessionManager.Lifetime = 24 * time.Hour
	sessionManager.IdleTimeout = sessions.DefaultIdleTimeout
	sessionManager.Cookie.Name = "pickr_session"
	sessionManager.Cookie.HttpOnly = true
	sessionManager.Cookie.SameSite = http.SameSiteLaxMode
	sessionManager.Cookie.Secure = false
	sessionManager.Cookie.Persist = false

	httpServer := api.NewServer(&api.Dependencies{
		Config:         cfg,
		Version:        buildinfo.Version,
		SessionManager: sessionManager,
		Sessions:       registry,
		Tracker:        tracker,
		HealthChecks:   checks,
	})

	errorChannel := make(chan error)
	serverReady := make(chan struct{}, 1)
	go func() {
		if err := httpServer.ListenAndServeReady(serverReady); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errorChannel <- err
		}
	}()

	select {
	case <-serverReady:
	case err := <-errorChannel:
		log.Fatal().Err(err).Msg("failed to start HTTP server")
	}

	var metricsServer *metrics.Server
	if cfg.Config.MetricsEnabled {
		metricsServer = metrics.NewServer(cfg.Config.MetricsHost, cfg.Config.MetricsPort)
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errorChannel <- err
			}
		}()
	}

	if app.pprofFlag {
		go func() {
			log.Info().Msg("Starting pprof server on :6060")
			log.Info().Msg("Access profiling at: http://localhost:6060/debug/pprof/")
			if err := http.ListenAndServe(":6060", nil); err != nil {
				log.Error().Err(err).Msg("Profiling server failed")
			}
		}()
	}

	// Wait for interrupt signal to gracefully shutdown the server
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Msgf("got signal %v, shutting down server", sig.String())
	case err := <-errorChannel:
		log.Error().Err(err).Msg("got unexpected error from server")
	}

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	exitCode := 0
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("got error during graceful http shutdown")
		exitCode = 1
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("got error during metrics server shutdown")
		}
	}

	backgroundCancel()

	if exitCode != 0 {
		os.Exit(exitCode)
	}
}

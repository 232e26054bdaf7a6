// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/CAFxX/httpcompression"
	"github.com/alexedwards/scs/v2"
	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/pickr/internal/api/handlers"
	"github.com/autobrr/pickr/internal/api/middleware"
	"github.com/autobrr/pickr/internal/config"
	"github.com/autobrr/pickr/internal/services/downloads"
	"github.com/autobrr/pickr/internal/services/search"
	"github.com/autobrr/pickr/internal/services/sessions"
	"github.com/autobrr/pickr/internal/web/swagger"
)

const (
	searchRateLimit  = 30
	searchRateWindow = time.Minute
)

type Server struct {
	server  *http.Server
	logger  zerolog.Logger
	config  *config.AppConfig
	version string

	sessionManager *scs.SessionManager
	sessions       *sessions.Registry
	tracker        *downloads.Tracker
	preferences    search.PreferenceSource
	healthChecks   []handlers.ReadinessCheck
}

type Dependencies struct {
	Config         *config.AppConfig
	Version        string
	SessionManager *scs.SessionManager
	Sessions       *sessions.Registry
	Tracker        *downloads.Tracker
	Preferences    search.PreferenceSource
	HealthChecks   []handlers.ReadinessCheck
}

func NewServer(deps *Dependencies) *Server {
	s := Server{
		server: &http.Server{
			ReadHeaderTimeout: time.Second * 15,
			ReadTimeout:       60 * time.Second,
			// searches block until results are ranked
			WriteTimeout: 120 * time.Second,
			IdleTimeout:  180 * time.Second,
		},
		logger:         log.Logger.With().Str("module", "api").Logger(),
		config:         deps.Config,
		version:        deps.Version,
		sessionManager: deps.SessionManager,
		sessions:       deps.Sessions,
		tracker:        deps.Tracker,
		preferences:    deps.Preferences,
		healthChecks:   deps.HealthChecks,
	}

	if s.preferences == nil {
		s.preferences = deps.Config
	}

	return &s
}

func (s *Server) ListenAndServe() error {
	return s.open(nil)
}

// ListenAndServeReady behaves like ListenAndServe but signals once the listener is active.
func (s *Server) ListenAndServeReady(ready chan<- struct{}) error {
	return s.open(ready)
}

func (s *Server) open(ready chan<- struct{}) error {
	cfg := s.config.Current()
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	var lastErr error
	for _, proto := range []string{"tcp", "tcp4", "tcp6"} {
		err := s.tryToServe(addr, proto, ready)
		if err == nil {
			return nil
		}

		if errors.Is(err, http.ErrServerClosed) {
			return err
		}

		s.logger.Error().Err(err).Str("addr", addr).Str("proto", proto).Msgf("Failed to start server")
		lastErr = err
	}

	return lastErr
}

func (s *Server) tryToServe(addr, protocol string, ready chan<- struct{}) error {
	listener, err := net.Listen(protocol, addr)
	if err != nil {
		return err
	}

	baseURL := s.baseURL()

	host := listener.Addr().String()
	// Replace 0.0.0.0 or :: with localhost for clickable links
	if strings.HasPrefix(host, "0.0.0.0:") || strings.HasPrefix(host, "[::]:") {
		host = strings.Replace(host, "0.0.0.0:", "localhost:", 1)
		host = strings.Replace(host, "[::]:", "localhost:", 1)
	}
	clickableURL := fmt.Sprintf("http://%s%s", host, baseURL)

	s.logger.Info().
		Str("protocol", protocol).
		Str("addr", listener.Addr().String()).
		Str("base_url", baseURL).
		Msgf("Starting API server - Open: %s", clickableURL)

	handler, err := s.Handler()
	if err != nil {
		listener.Close()
		return fmt.Errorf("build API router: %w", err)
	}

	s.server.Handler = handler

	if ready != nil {
		select {
		case ready <- struct{}{}:
		default:
		}
	}

	return s.server.Serve(listener)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) baseURL() string {
	baseURL := s.config.Current().BaseURL
	if baseURL == "" {
		return "/"
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return baseURL
}

func (s *Server) Handler() (*chi.Mux, error) {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID) // Must be before logger to capture request ID
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	baseURL := s.baseURL()

	healthHandler := handlers.NewHealthHandler(s.healthChecks...)
	sessionHandler := handlers.NewSessionHandler(s.sessions, s.sessionManager, s.tracker)
	preferencesHandler := handlers.NewPreferencesHandler(s.preferences)

	// The websocket upgrade hijacks the connection, so the events route skips
	// compression and the buffering session middleware.
	r.With(middleware.Logger(s.logger)).Get(baseURL+"api/session/events", sessionHandler.Events)

	r.Group(func(r chi.Router) {
		// HTTP compression - handles gzip, brotli, zstd, deflate automatically
		compressor, err := httpcompression.DefaultAdapter(
			httpcompression.MinSize(1024),                        // Only compress responses >= 1KB
			httpcompression.GzipCompressionLevel(2),              // Use gzip level 2 (fast) instead of 6 (default)
			httpcompression.Prefer(httpcompression.PreferServer), // Let server choose best compression
		)
		if err != nil {
			log.Error().Err(err).Msg("Failed to create HTTP compression adapter")
		} else {
			r.Use(compressor)
		}

		corsMiddleware := cors.New(cors.Options{
			AllowCredentials: true,
			AllowedMethods:   []string{"HEAD", "OPTIONS", "GET", "POST", "DELETE"},
			AllowedHeaders:   []string{"Accept", "Content-Type"},
			AllowOriginFunc:  func(origin string) bool { return true },
			MaxAge:           300,
		})
		r.Use(corsMiddleware.Handler)

		// Session middleware - must be added before any session-dependent middleware
		r.Use(s.sessionManager.LoadAndSave)

		apiRouter := chi.NewRouter()
		apiRouter.Group(func(r chi.Router) {
			r.Use(middleware.Logger(s.logger))

			r.Get("/preferences", preferencesHandler.GetPreferences)

			// searches fan out to every indexer
			sessionHandler.Routes(r, middleware.RateLimit(searchRateLimit, searchRateWindow))
		})

		swagger.NewHandler(baseURL).RegisterRoutes(r)

		r.Get("/health", healthHandler.HandleHealth)
		r.Get("/healthz/readiness", healthHandler.HandleReady)
		r.Get("/healthz/liveness", healthHandler.HandleLiveness)

		r.Mount(baseURL+"api", apiRouter)
	})

	if baseURL != "/" {
		r.Get("/", func(w http.ResponseWriter, request *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte("Must use baseUrl: " + baseURL + " instead of /"))
		})
	}

	return r, nil
}

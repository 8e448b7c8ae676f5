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
	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/watcher/internal/api/handlers"
	"github.com/autobrr/watcher/internal/api/middleware"
	"github.com/autobrr/watcher/internal/api/openapi"
	"github.com/autobrr/watcher/internal/domain"
)

type Server struct {
	server  *http.Server
	logger  zerolog.Logger
	config  domain.ConfigProvider
	version string

	db            handlers.Pinger
	library       handlers.Library
	results       handlers.ResultLister
	searcher      handlers.MovieSearcher
	scheduler     handlers.RoundScheduler
	postProcessor handlers.PostProcessor
}

type Dependencies struct {
	Config        domain.ConfigProvider
	Version       string
	DB            handlers.Pinger
	Library       handlers.Library
	Results       handlers.ResultLister
	Searcher      handlers.MovieSearcher
	Scheduler     handlers.RoundScheduler
	PostProcessor handlers.PostProcessor
}

func NewServer(deps *Dependencies) *Server {
	s := Server{
		server: &http.Server{
			ReadHeaderTimeout: time.Second * 15,
			ReadTimeout:       60 * time.Second,
			WriteTimeout:      120 * time.Second,
			IdleTimeout:       180 * time.Second,
		},
		logger:        log.Logger.With().Str("module", "api").Logger(),
		config:        deps.Config,
		version:       deps.Version,
		db:            deps.DB,
		library:       deps.Library,
		results:       deps.Results,
		searcher:      deps.Searcher,
		scheduler:     deps.Scheduler,
		postProcessor: deps.PostProcessor,
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

	baseURL := s.config.Current().BaseURL
	host := listener.Addr().String()
	// Replace 0.0.0.0 or :: with localhost for clickable links
	if strings.HasPrefix(host, "0.0.0.0:") || strings.HasPrefix(host, "[::]:") {
		host = strings.Replace(host, "0.0.0.0:", "localhost:", 1)
		host = strings.Replace(host, "[::]:", "localhost:", 1)
	}

	s.logger.Info().
		Str("protocol", protocol).
		Str("addr", listener.Addr().String()).
		Str("base_url", baseURL).
		Msgf("Starting API server - Open: http://%s%s", host, baseURL)

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

func (s *Server) Handler() (*chi.Mux, error) {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID) // Must be before logger to capture request ID
	r.Use(middleware.Logger(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	compressor, err := httpcompression.DefaultAdapter(
		httpcompression.MinSize(1024),
		httpcompression.GzipCompressionLevel(2),
		httpcompression.Prefer(httpcompression.PreferServer),
	)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create HTTP compression adapter")
	} else {
		r.Use(compressor)
	}

	corsMiddleware := cors.New(cors.Options{
		AllowedMethods: []string{"HEAD", "OPTIONS", "GET", "POST"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-API-Key"},
		AllowOriginFunc: func(origin string) bool {
			return true
		},
		MaxAge: 300,
	})
	r.Use(corsMiddleware.Handler)

	healthHandler := handlers.NewHealthHandler(s.db)
	legacyHandler := handlers.NewLegacyHandler(s.config, s.library, s.scheduler, s.version)
	postProcessingHandler := handlers.NewPostProcessingHandler(s.postProcessor)
	searchHandler := handlers.NewSearchHandler(s.library, s.results, s.searcher, s.scheduler)

	apiRouter := chi.NewRouter()

	// Scripts authenticate with ?apikey= and get legacy envelopes back.
	apiRouter.Get("/", legacyHandler.ServeHTTP)

	apiRouter.Route("/v1", func(r chi.Router) {
		r.Get("/openapi.yaml", openapi.Handler)

		r.Group(func(r chi.Router) {
			r.Use(middleware.APIKeyFromQuery("apikey"))
			r.Use(middleware.RequireAPIKey(s.config))
			searchHandler.Routes(r)
		})
	})

	baseURL := s.config.Current().BaseURL
	if baseURL == "" {
		baseURL = "/"
	}

	r.Get("/health", healthHandler.HandleHealth)
	r.Get("/healthz/readiness", healthHandler.HandleReady)
	r.Get("/healthz/liveness", healthHandler.HandleLiveness)

	r.Group(func(r chi.Router) {
		r.Use(middleware.ThrottleBacklog(4, 64, time.Minute))
		r.Use(middleware.APIKeyFromHeader("apikey"))
		r.Get(baseURL+"postprocessing", postProcessingHandler.Handle)
		r.Post(baseURL+"postprocessing", postProcessingHandler.Handle)
	})

	r.Mount(baseURL+"api", apiRouter)

	return r, nil
}

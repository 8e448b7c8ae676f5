// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/autobrr/watcher/internal/api"
	"github.com/autobrr/watcher/internal/buildinfo"
	"github.com/autobrr/watcher/internal/config"
	"github.com/autobrr/watcher/internal/database"
	"github.com/autobrr/watcher/internal/domain"
	"github.com/autobrr/watcher/internal/metrics"
	"github.com/autobrr/watcher/internal/models"
	"github.com/autobrr/watcher/internal/services/library"
	"github.com/autobrr/watcher/internal/services/newznab"
	"github.com/autobrr/watcher/internal/services/omdb"
	"github.com/autobrr/watcher/internal/services/postprocessing"
	"github.com/autobrr/watcher/internal/services/predb"
	"github.com/autobrr/watcher/internal/services/scoring"
	"github.com/autobrr/watcher/internal/services/searcher"
	"github.com/autobrr/watcher/internal/services/snatcher"
	"github.com/autobrr/watcher/internal/services/watchlist"
	"github.com/autobrr/watcher/pkg/releases"
)

func main() {
	config.InitDefaultLogger(buildinfo.Version)

	var rootCmd = &cobra.Command{
		Use:   "watcher",
		Short: "Automated movie searching, snatching and post-processing",
		Long: `watcher - keeps a library of wanted movies, searches newznab indexers for
them on a schedule, hands the best release to SABnzbd or NZBGet and files the
finished download into your library.`,
	}

	rootCmd.Version = buildinfo.Version

	rootCmd.AddCommand(RunServeCommand())
	rootCmd.AddCommand(RunSearchCommand())
	rootCmd.AddCommand(RunVersionCommand())
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
		Short: "Start the server and the search scheduler",
	}

	command.Flags().StringVar(&configDir, "config-dir", "", "config directory path (default is OS-specific: ~/.config/watcher/ or %APPDATA%\\watcher\\). Can also be a direct path to a .toml file")
	command.Flags().StringVar(&dataDir, "data-dir", "", "data directory for database and other files (default is next to config file)")
	command.Flags().StringVar(&logPath, "log-path", "", "log file path (default is stdout)")
	command.Flags().BoolVar(&pprofFlag, "pprof", false, "enable pprof server on localhost:6060")

	command.Run = func(cmd *cobra.Command, args []string) {
		app := NewApplication(configDir, dataDir, logPath, pprofFlag)
		app.runServer()
	}

	return command
}

func RunSearchCommand() *cobra.Command {
	var configDir, dataDir string

	command := &cobra.Command{
		Use:   "search",
		Short: "Run one search round and exit",
		Long: `Search every eligible movie once, snatching results when autoGrab is
enabled, then print the round report as JSON.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := NewApplication(configDir, dataDir, "", false)
			return app.runSearch(cmd)
		},
	}

	command.Flags().StringVar(&configDir, "config-dir", "",
		"config directory or file path (defaults to OS-specific location)")
	command.Flags().StringVar(&dataDir, "data-dir", "",
		"data directory path (defaults to next to config file)")

	return command
}

func RunVersionCommand() *cobra.Command {
	var asJSON bool

	var command = &cobra.Command{
		Use:   "version",
		Short: "Print the version of watcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !asJSON {
				cmd.Print(buildinfo.String())
				return nil
			}
			out, err := buildinfo.JSON()
			if err != nil {
				return err
			}
			cmd.Println(string(out))
			return nil
		},
	}

	command.Flags().BoolVar(&asJSON, "json", false, "print build information as JSON")

	return command
}

func RunGenerateConfigCommand() *cobra.Command {
	var configDir string

	command := &cobra.Command{
		Use:   "generate-config",
		Short: "Generate a default configuration file",
		Long: `Generate a default configuration file without starting the server.

If no --config-dir is specified, uses the OS-specific default location:
- Linux/macOS: ~/.config/watcher/config.toml
- Windows: %APPDATA%\watcher\config.toml`,
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

// services is everything serve and search share.
type services struct {
	db             *database.DB
	movies         *models.MovieStore
	results        *models.SearchResultStore
	library        *library.Service
	searcher       *searcher.Service
	snatcher       *snatcher.Service
	watchlist      *watchlist.Service
	postProcessing *postprocessing.Service
}

func (app *Application) loadConfig() (*config.AppConfig, error) {
	cfg, err := config.New(app.configDir, buildinfo.Version)
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize configuration")
	}

	if app.dataDir != "" {
		os.Setenv("WATCHER__DATA_DIR", app.dataDir)
		cfg.SetDataDir(app.dataDir)
	}
	if app.logPath != "" {
		os.Setenv("WATCHER__LOG_PATH", app.logPath)
		cfg.Config.LogPath = app.logPath
	}
	if app.pprofFlag {
		cfg.Config.PprofEnabled = true
	}

	cfg.ApplyLogConfig()

	return cfg, nil
}

func buildServices(cfg *config.AppConfig) (*services, error) {
	db, err := database.New(cfg.GetDatabasePath())
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize database")
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}
	parser := releases.NewDefaultParser()

	movieStore := models.NewMovieStore(db)
	resultStore := models.NewSearchResultStore(db)
	markStore := models.NewMarkedResultStore(db)

	omdbClient := omdb.NewClient(cfg, "", httpClient)
	predbService := predb.NewService(cfg, movieStore, parser, "", httpClient)
	libraryService := library.NewService(cfg, movieStore, resultStore, omdbClient, predbService)
	snatcherService := snatcher.NewService(cfg, movieStore, resultStore, markStore, libraryService, httpClient)
	scorer := scoring.NewScorer(cfg, movieStore, parser)
	indexers := newznab.NewService(cfg, httpClient)

	searchService := searcher.NewService(cfg, libraryService, resultStore, markStore, scorer, indexers, predbService, libraryService, snatcherService)

	// Quick-added movies with a verified release are searched right away.
	libraryService.OnAdded(func(ctx context.Context, imdbID string) {
		if _, err := searchService.SearchAndGrab(ctx, imdbID); err != nil {
			log.Error().Err(err).Str("imdbid", imdbID).Msg("search after add failed")
		}
	})

	watchlistService := watchlist.NewService(cfg, afero.NewOsFs(), cfg.GetDataDir(), httpClient, libraryService)

	postProcessingService := postprocessing.NewService(cfg, afero.NewOsFs(), parser, resultStore, markStore, movieStore, libraryService, omdbClient, snatcherService)

	return &services{
		db:             db,
		movies:         movieStore,
		results:        resultStore,
		library:        libraryService,
		searcher:       searchService,
		snatcher:       snatcherService,
		watchlist:      watchlistService,
		postProcessing: postProcessingService,
	}, nil
}

func (app *Application) runSearch(cmd *cobra.Command) error {
	cfg, err := app.loadConfig()
	if err != nil {
		return err
	}

	svc, err := buildServices(cfg)
	if err != nil {
		return err
	}
	defer svc.db.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report := svc.searcher.AutoSearchAndGrab(ctx)

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode round report")
	}
	cmd.Println(string(out))
	return nil
}

func (app *Application) runServer() {
	cfg, err := app.loadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize configuration")
	}

	log.Info().Str("version", buildinfo.Version).Msg("Starting watcher")

	svc, err := buildServices(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize services")
	}
	defer svc.db.Close()

	scheduler := searcher.NewScheduler(cfg, svc.searcher, svc.watchlist)

	cfg.RegisterReloadListener(func(conf *domain.Config) {
		log.Info().
			Dur("searchInterval", conf.SearchInterval()).
			Bool("autoGrab", conf.AutoGrab).
			Int("indexers", len(conf.EnabledIndexers())).
			Msg("Configuration reloaded, search settings apply from the next round")
	})

	schedulerCtx, schedulerCancel := context.WithCancel(context.Background())
	defer schedulerCancel()

	httpServer := api.NewServer(&api.Dependencies{
		Config:        cfg,
		Version:       buildinfo.Version,
		DB:            svc.db,
		Library:       svc.library,
		Results:       svc.results,
		Searcher:      svc.searcher,
		Scheduler:     scheduler,
		PostProcessor: svc.postProcessing,
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
		scheduler.Start(schedulerCtx)
		log.Info().Time("nextSearch", scheduler.NextSearch()).Msg("Search scheduler started")
	case err := <-errorChannel:
		log.Fatal().Err(err).Msg("failed to start HTTP server")
	}

	var metricsServer *metrics.MetricsServer
	if cfg.Config.MetricsEnabled {
		metricsManager := metrics.NewMetricsManager(metrics.Sources{
			Movies:         svc.movies,
			Searcher:       svc.searcher,
			Scheduler:      scheduler,
			Snatcher:       svc.snatcher,
			PostProcessing: svc.postProcessing,
			Database:       svc.db,
		})

		metricsServer = metrics.NewMetricsServer(
			metricsManager,
			cfg.Config.MetricsHost,
			cfg.Config.MetricsPort,
			cfg.Config.MetricsBasicAuthUsers,
		)

		// Start metrics server on separate port
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errorChannel <- err
			}
		}()
	}

	var pprofServer *http.Server
	if cfg.Config.PprofEnabled {
		pprofServer = api.StartPprofServer(api.PprofAddr)
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

	schedulerCancel()

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("got error during metrics server shutdown")
		}
	}

	if pprofServer != nil {
		_ = pprofServer.Shutdown(ctx)
	}

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("got error during graceful http shutdown")
		svc.db.Close()
		os.Exit(1)
	}

	log.Info().Msg("Server stopped")
}

// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package searcher runs the search-and-grab cycle: it decides which movies to
// search, merges and stores what the indexers return, and snatches releases
// for movies that are ready.
package searcher

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/watcher/internal/domain"
	"github.com/autobrr/watcher/internal/models"
)

type Indexer interface {
	SearchAll(ctx context.Context, imdbID string) ([]*models.SearchResult, error)
}

type PredbChecker interface {
	CheckOne(ctx context.Context, movie *models.Movie) (models.PredbStatus, error)
	CheckAll(ctx context.Context) error
}

type StatusUpdater interface {
	UpdateMovieStatus(ctx context.Context, imdbID string) (models.MovieStatus, error)
}

type Grabber interface {
	AutoGrab(ctx context.Context, imdbID string) (bool, error)
}

type MovieReader interface {
	Get(ctx context.Context, imdbID string) (*models.Movie, error)
	List(ctx context.Context) ([]*models.Movie, error)
}

type ResultStore interface {
	ResultReader
	Replace(ctx context.Context, imdbID string, results []*models.SearchResult) error
}

// RoundReport summarizes one sweep over the library.
type RoundReport struct {
	RunID    string    `json:"run_id"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
	Movies   int       `json:"movies"`
	Searched int       `json:"searched"`
	Found    int       `json:"found"`
	Skipped  int       `json:"skipped"`
	Failed   int       `json:"failed"`
	Snatched int       `json:"snatched"`
}

type Stats struct {
	Rounds          uint64
	MoviesSearched  uint64
	MovieFailures   uint64
	SnatchAttempts  uint64
	SnatchSuccesses uint64
}

type Service struct {
	config  domain.ConfigProvider
	movies  MovieReader
	results ResultStore
	merger  *Merger
	indexer Indexer
	predb   PredbChecker
	status  StatusUpdater
	grabber Grabber
	now     func() time.Time

	rounds          atomic.Uint64
	moviesSearched  atomic.Uint64
	movieFailures   atomic.Uint64
	snatchAttempts  atomic.Uint64
	snatchSuccesses atomic.Uint64
}

func NewService(config domain.ConfigProvider, movies MovieReader, results ResultStore, marks MarkReader, scorer Scorer, indexer Indexer, predb PredbChecker, status StatusUpdater, grabber Grabber) *Service {
	return &Service{
		config:  config,
		movies:  movies,
		results: results,
		merger:  NewMerger(results, marks, scorer),
		indexer: indexer,
		predb:   predb,
		status:  status,
		grabber: grabber,
		now:     time.Now,
	}
}

func (s *Service) Stats() Stats {
	return Stats{
		Rounds:          s.rounds.Load(),
		MoviesSearched:  s.moviesSearched.Load(),
		MovieFailures:   s.movieFailures.Load(),
		SnatchAttempts:  s.snatchAttempts.Load(),
		SnatchSuccesses: s.snatchSuccesses.Load(),
	}
}

var errNoPredbRelease = errors.New("no predb release")

// Search runs one search for a movie and reports whether acceptable results
// now exist. A movie without a verified predb release is never searched.
func (s *Service) Search(ctx context.Context, imdbID string) (bool, error) {
	found, err := s.search(ctx, imdbID)
	if errors.Is(err, errNoPredbRelease) {
		return false, nil
	}
	return found, err
}

func (s *Service) search(ctx context.Context, imdbID string) (bool, error) {
	logger := zerolog.Ctx(ctx).With().Str("imdbid", imdbID).Logger()

	movie, err := s.movies.Get(ctx, imdbID)
	if err != nil {
		return false, err
	}

	if movie.Predb != models.PredbFound {
		predb, err := s.predb.CheckOne(ctx, movie)
		if err != nil {
			return false, fmt.Errorf("predb check: %w", err)
		}
		if predb != models.PredbFound {
			logger.Info().Str("title", movie.Title).Msg("no predb release yet, skipping search")
			return false, errNoPredbRelease
		}
	}

	s.moviesSearched.Add(1)

	fresh, err := s.indexer.SearchAll(ctx, imdbID)
	if err != nil {
		return false, fmt.Errorf("indexer search: %w", err)
	}

	merged, err := s.merger.Merge(ctx, fresh, imdbID)
	if err != nil {
		return false, err
	}

	if len(merged) > 0 {
		logger.Info().Int("results", len(merged)).Msg("storing search results")
		if err := s.results.Replace(ctx, imdbID, merged); err != nil {
			return false, fmt.Errorf("store results: %w", err)
		}
	}

	status, err := s.status.UpdateMovieStatus(ctx, imdbID)
	if err != nil {
		return false, fmt.Errorf("update status: %w", err)
	}

	if status == models.MovieWanted || status == models.MovieDisabled {
		logger.Info().Str("title", movie.Title).Msg("no acceptable results found")
		return false, nil
	}

	return true, nil
}

// SearchAndGrab searches one movie and, with auto-grab enabled, snatches a
// result for it when it is ready.
func (s *Service) SearchAndGrab(ctx context.Context, imdbID string) (bool, error) {
	found, err := s.Search(ctx, imdbID)
	if err != nil || !found {
		return found, err
	}

	cfg := s.config.Current()
	if !cfg.AutoGrab {
		return true, nil
	}

	movie, err := s.movies.Get(ctx, imdbID)
	if err != nil {
		return true, err
	}
	if s.eligibleForSnatch(movie, cfg) {
		s.grab(ctx, movie)
	}
	return true, nil
}

func (s *Service) eligibleForSearch(m *models.Movie, cfg domain.Config) bool {
	switch m.Status {
	case models.MovieWanted, models.MovieFound:
		return true
	case models.MovieFinished:
		return cfg.KeepSearching && m.InKeepSearchingWindow(s.now(), cfg.KeepSearchingDays)
	default:
		return false
	}
}

func (s *Service) eligibleForSnatch(m *models.Movie, cfg domain.Config) bool {
	switch m.Status {
	case models.MovieFound:
		return true
	case models.MovieFinished:
		return cfg.KeepSearching && m.InKeepSearchingWindow(s.now(), cfg.KeepSearchingDays)
	default:
		return false
	}
}

// AutoSearchAndGrab refreshes predb status, sweeps the whole library once,
// then runs the snatch cycle when auto-grab is on. A failing movie is logged
// and the sweep continues.
func (s *Service) AutoSearchAndGrab(ctx context.Context) RoundReport {
	report := RoundReport{RunID: uuid.NewString(), Started: s.now()}
	s.rounds.Add(1)

	logger := log.With().Str("run", report.RunID).Logger()
	ctx = logger.WithContext(ctx)

	cfg := s.config.Current()
	logger.Info().Bool("keep_searching", cfg.KeepSearching).Int("keep_searching_days", cfg.KeepSearchingDays).Msg("running automatic search")

	predbChecked := true
	if err := s.predb.CheckAll(ctx); err != nil {
		predbChecked = false
		logger.Error().Err(err).Msg("predb check failed")
	}

	movies, err := s.movies.List(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("failed to list movies")
		report.Finished = s.now()
		return report
	}
	report.Movies = len(movies)

	for _, movie := range movies {
		if ctx.Err() != nil {
			break
		}

		if !s.eligibleForSearch(movie, cfg) {
			report.Skipped++
			continue
		}
		// already checked this round
		if predbChecked && movie.Predb != models.PredbFound {
			report.Skipped++
			continue
		}

		found, err := s.isolate(ctx, movie.IMDBID, func() (bool, error) {
			return s.search(ctx, movie.IMDBID)
		})
		if errors.Is(err, errNoPredbRelease) {
			report.Skipped++
			continue
		}

		report.Searched++
		switch {
		case err != nil:
			report.Failed++
			s.movieFailures.Add(1)
			logger.Error().Err(err).Str("imdbid", movie.IMDBID).Str("title", movie.Title).Msg("search failed")
		case found:
			report.Found++
		}
	}

	if cfg.AutoGrab && ctx.Err() == nil {
		report.Snatched = s.SnatchCycle(ctx)
	}

	report.Finished = s.now()
	logger.Info().
		Int("movies", report.Movies).
		Int("searched", report.Searched).
		Int("found", report.Found).
		Int("failed", report.Failed).
		Int("snatched", report.Snatched).
		Dur("took", report.Finished.Sub(report.Started)).
		Msg("automatic search complete")

	return report
}

// SnatchCycle re-reads the library and snatches once for every eligible
// movie. It returns how many downloads were started.
func (s *Service) SnatchCycle(ctx context.Context) int {
	logger := zerolog.Ctx(ctx)
	cfg := s.config.Current()

	movies, err := s.movies.List(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("failed to list movies for snatching")
		return 0
	}

	snatched := 0
	for _, movie := range movies {
		if ctx.Err() != nil {
			break
		}
		if !s.eligibleForSnatch(movie, cfg) {
			continue
		}
		if s.grab(ctx, movie) {
			snatched++
		}
	}
	return snatched
}

func (s *Service) grab(ctx context.Context, movie *models.Movie) bool {
	s.snatchAttempts.Add(1)

	grabbed, err := s.isolate(ctx, movie.IMDBID, func() (bool, error) {
		return s.grabber.AutoGrab(ctx, movie.IMDBID)
	})
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("imdbid", movie.IMDBID).Msg("snatch failed")
		return false
	}
	if grabbed {
		s.snatchSuccesses.Add(1)
	}
	return grabbed
}

var errPanicked = errors.New("panic during movie step")

// isolate turns a panic in fn into an error so one movie cannot end a round.
func (s *Service) isolate(ctx context.Context, imdbID string, fn func() (bool, error)) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			zerolog.Ctx(ctx).Error().
				Str("imdbid", imdbID).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("recovered panic")
			ok, err = false, errPanicked
		}
	}()
	return fn()
}

// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package library owns the set of tracked movies: adding, removing and
// deriving each movie's status from its search results.
package library

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/watcher/internal/domain"
	"github.com/autobrr/watcher/internal/models"
	"github.com/autobrr/watcher/internal/services/scoring"
)

var (
	ErrInvalidIMDBID = errors.New("invalid imdb id")
	ErrMovieUnknown  = errors.New("movie not found in metadata provider")
)

type MetadataProvider interface {
	MovieInfo(ctx context.Context, imdbID string) (*models.Movie, error)
}

type PredbChecker interface {
	CheckOne(ctx context.Context, movie *models.Movie) (models.PredbStatus, error)
}

// AddedHook runs in the background for every added movie with a verified
// release.
type AddedHook func(ctx context.Context, imdbID string)

type Service struct {
	config   domain.ConfigProvider
	movies   *models.MovieStore
	results  *models.SearchResultStore
	metadata MetadataProvider
	predb    PredbChecker
	onAdded  AddedHook
	spawn    func(func())
}

func NewService(config domain.ConfigProvider, movies *models.MovieStore, results *models.SearchResultStore, metadata MetadataProvider, predb PredbChecker) *Service {
	return &Service{
		config:   config,
		movies:   movies,
		results:  results,
		metadata: metadata,
		predb:    predb,
		spawn:    func(fn func()) { go fn() },
	}
}

// OnAdded registers the hook used to search newly added movies right away.
func (s *Service) OnAdded(hook AddedHook) {
	s.onAdded = hook
}

func (s *Service) Get(ctx context.Context, imdbID string) (*models.Movie, error) {
	return s.movies.Get(ctx, imdbID)
}

func (s *Service) List(ctx context.Context) ([]*models.Movie, error) {
	return s.movies.List(ctx)
}

func (s *Service) Exists(ctx context.Context, imdbID string) (bool, error) {
	return s.movies.Exists(ctx, imdbID)
}

// AddMovie looks imdbID up, stores it as Wanted with the default quality
// profile and runs the first predb check.
func (s *Service) AddMovie(ctx context.Context, imdbID string) (*models.Movie, error) {
	imdbID = strings.TrimSpace(imdbID)
	if !strings.HasPrefix(imdbID, "tt") || len(imdbID) < 3 {
		return nil, fmt.Errorf("%q: %w", imdbID, ErrInvalidIMDBID)
	}

	exists, err := s.movies.Exists(ctx, imdbID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%s: %w", imdbID, models.ErrMovieExists)
	}

	movie, err := s.metadata.MovieInfo(ctx, imdbID)
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", imdbID, err)
	}
	if movie == nil {
		return nil, fmt.Errorf("%s: %w", imdbID, ErrMovieUnknown)
	}

	movie.IMDBID = imdbID
	movie.Status = models.MovieWanted
	movie.Predb = models.PredbUnknown
	movie.Quality = scoring.ProfileFromConfig(s.config.Current().Quality)

	if err := s.movies.Add(ctx, movie); err != nil {
		return nil, err
	}

	log.Info().Str("imdbid", imdbID).Str("title", movie.Title).Int("year", movie.Year).Msg("movie added")

	if s.predb != nil {
		if _, err := s.predb.CheckOne(ctx, movie); err != nil {
			log.Warn().Err(err).Str("imdbid", imdbID).Msg("initial predb check failed")
		}
	}

	if s.onAdded != nil && movie.Predb == models.PredbFound {
		hook := s.onAdded
		bg := context.WithoutCancel(ctx)
		s.spawn(func() { hook(bg, imdbID) })
	}

	return movie, nil
}

// RemoveMovie deletes the movie and its search results. Marked results are
// kept so a re-added movie remembers bad releases.
func (s *Service) RemoveMovie(ctx context.Context, imdbID string) error {
	if err := s.movies.Remove(ctx, imdbID); err != nil {
		return err
	}

	if err := s.results.PurgeByMovie(ctx, imdbID); err != nil {
		return fmt.Errorf("purge results for %s: %w", imdbID, err)
	}

	log.Info().Str("imdbid", imdbID).Msg("movie removed")
	return nil
}

// DeriveStatus maps a movie's results onto its status.
func DeriveStatus(results []*models.SearchResult) models.MovieStatus {
	var snatched, available bool
	for _, r := range results {
		switch r.Status {
		case models.ResultFinished:
			return models.MovieFinished
		case models.ResultSnatched, models.ResultDownloading:
			snatched = true
		case models.ResultAvailable:
			available = true
		}
	}

	switch {
	case snatched:
		return models.MovieSnatched
	case available:
		return models.MovieFound
	default:
		return models.MovieWanted
	}
}

// UpdateMovieStatus recomputes and persists the movie's status from its
// stored results. Disabled movies are left alone. Running it twice yields the
// same status.
func (s *Service) UpdateMovieStatus(ctx context.Context, imdbID string) (models.MovieStatus, error) {
	movie, err := s.movies.Get(ctx, imdbID)
	if err != nil {
		return "", err
	}
	if movie.Status == models.MovieDisabled {
		return movie.Status, nil
	}

	results, err := s.results.ListByMovie(ctx, imdbID)
	if err != nil {
		return "", err
	}

	status := DeriveStatus(results)
	if status == movie.Status {
		return status, nil
	}

	if err := s.movies.UpdateStatus(ctx, imdbID, status); err != nil {
		return "", err
	}

	log.Debug().Str("imdbid", imdbID).Str("from", string(movie.Status)).Str("to", string(status)).Msg("movie status updated")

	return status, nil
}

// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package snatcher picks the release to grab for a movie and hands it to the
// download client.
package snatcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/watcher/internal/domain"
	"github.com/autobrr/watcher/internal/models"
	"github.com/autobrr/watcher/internal/services/downloader"
)

var ErrNoDownloadURL = errors.New("search result has no download url")

type StatusUpdater interface {
	UpdateMovieStatus(ctx context.Context, imdbID string) (models.MovieStatus, error)
}

// ClientFactory builds the download client for the current configuration.
type ClientFactory func(cfg domain.DownloaderConfig) (downloader.Client, error)

type Stats struct {
	Attempts  uint64
	Successes uint64
	Failures  uint64
}

type Service struct {
	config    domain.ConfigProvider
	movies    *models.MovieStore
	results   *models.SearchResultStore
	marks     *models.MarkedResultStore
	status    StatusUpdater
	newClient ClientFactory

	attempts  atomic.Uint64
	successes atomic.Uint64
	failures  atomic.Uint64
}

func NewService(config domain.ConfigProvider, movies *models.MovieStore, results *models.SearchResultStore, marks *models.MarkedResultStore, status StatusUpdater, httpClient *http.Client) *Service {
	return &Service{
		config:  config,
		movies:  movies,
		results: results,
		marks:   marks,
		status:  status,
		newClient: func(cfg domain.DownloaderConfig) (downloader.Client, error) {
			return downloader.New(cfg, httpClient)
		},
	}
}

// WithClientFactory replaces how download clients are built.
func (s *Service) WithClientFactory(f ClientFactory) *Service {
	s.newClient = f
	return s
}

func (s *Service) Stats() Stats {
	return Stats{
		Attempts:  s.attempts.Load(),
		Successes: s.successes.Load(),
		Failures:  s.failures.Load(),
	}
}

// AutoGrab snatches the best Available result for the movie. A Finished movie
// only takes a result that beats the score it finished with. It reports
// whether a download was started.
func (s *Service) AutoGrab(ctx context.Context, imdbID string) (bool, error) {
	movie, err := s.movies.Get(ctx, imdbID)
	if err != nil {
		return false, err
	}

	results, err := s.results.ListByMovie(ctx, imdbID)
	if err != nil {
		return false, err
	}

	best := pickBest(movie, results)
	if best == nil {
		log.Info().Str("imdbid", imdbID).Str("title", movie.Title).Msg("no result eligible for snatching")
		return false, nil
	}

	if err := s.Snatch(ctx, best); err != nil {
		return false, err
	}
	return true, nil
}

func pickBest(movie *models.Movie, results []*models.SearchResult) *models.SearchResult {
	for _, r := range results {
		if r.Status != models.ResultAvailable {
			continue
		}
		if movie.Status == models.MovieFinished && movie.FinishedScore != nil && r.Score <= *movie.FinishedScore {
			// results are sorted best first
			return nil
		}
		return r
	}
	return nil
}

// Snatch sends result to the download client and records the grab.
func (s *Service) Snatch(ctx context.Context, result *models.SearchResult) error {
	s.attempts.Add(1)

	if result.DownloadURL == "" {
		s.failures.Add(1)
		return fmt.Errorf("%s: %w", result.GUID, ErrNoDownloadURL)
	}

	client, err := s.newClient(s.config.Current().Downloader)
	if err != nil {
		s.failures.Add(1)
		return err
	}

	log.Info().
		Str("imdbid", result.IMDBID).
		Str("title", result.Title).
		Str("indexer", result.Indexer).
		Int("score", result.Score).
		Str("size", humanize.IBytes(uint64(max(result.Size, 0)))).
		Str("client", client.Name()).
		Msg("snatching release")

	downloadID, err := client.Add(ctx, downloader.Release{Title: result.Title, DownloadURL: result.DownloadURL})
	if err != nil {
		s.failures.Add(1)
		return fmt.Errorf("send %s to %s: %w", result.Title, client.Name(), err)
	}

	if err := s.results.SetDownloadID(ctx, result.GUID, downloadID); err != nil {
		log.Error().Err(err).Str("guid", result.GUID).Msg("failed to store download id")
	}
	if _, err := s.results.UpdateStatus(ctx, result.GUID, models.ResultSnatched); err != nil {
		log.Error().Err(err).Str("guid", result.GUID).Msg("failed to mark result snatched")
	}
	if err := s.marks.Mark(ctx, result.IMDBID, result.GUID, models.ResultSnatched); err != nil {
		log.Error().Err(err).Str("guid", result.GUID).Msg("failed to record snatched mark")
	}
	if _, err := s.status.UpdateMovieStatus(ctx, result.IMDBID); err != nil {
		log.Error().Err(err).Str("imdbid", result.IMDBID).Msg("failed to update movie status after snatch")
	}

	s.successes.Add(1)
	log.Info().Str("imdbid", result.IMDBID).Str("download_id", downloadID).Msg("release snatched")

	return nil
}

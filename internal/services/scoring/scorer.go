// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package scoring filters and ranks search results against a movie's quality
// profile.
package scoring

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/watcher/internal/domain"
	"github.com/autobrr/watcher/internal/models"
	"github.com/autobrr/watcher/pkg/releases"
)

const (
	resolutionWeight = 100
	preferredWeight  = 10
	unknownRes       = "SD"
)

type MovieGetter interface {
	Get(ctx context.Context, imdbID string) (*models.Movie, error)
}

type Scorer struct {
	config domain.ConfigProvider
	movies MovieGetter
	parser *releases.Parser
}

func NewScorer(config domain.ConfigProvider, movies MovieGetter, parser *releases.Parser) *Scorer {
	if parser == nil {
		parser = releases.NewDefaultParser()
	}
	return &Scorer{config: config, movies: movies, parser: parser}
}

// ProfileFromConfig builds the quality profile new movies start with.
func ProfileFromConfig(q domain.QualityConfig) models.QualityProfile {
	return models.QualityProfile{
		Resolutions: slices.Clone(q.Resolutions),
		Required:    slices.Clone(q.Required),
		Ignored:     slices.Clone(q.Ignored),
		Preferred:   slices.Clone(q.Preferred),
		MinSizeMB:   q.MinSizeMB,
		MaxSizeMB:   q.MaxSizeMB,
	}
}

// Score drops results the movie's profile rejects and scores the rest, best
// first. Results without a status become Available; existing statuses are
// kept.
func (s *Scorer) Score(ctx context.Context, results []*models.SearchResult, imdbID, kind string) ([]*models.SearchResult, error) {
	profile, err := s.profile(ctx, imdbID)
	if err != nil {
		return nil, err
	}

	out := make([]*models.SearchResult, 0, len(results))
	for _, r := range results {
		if kind != "" && r.Kind != "" && r.Kind != kind {
			continue
		}

		info := s.parser.Parse(r.Title)
		resolution := info.Resolution
		if resolution == "" {
			resolution = unknownRes
		}

		score, ok := scoreResult(profile, r, resolution)
		if !ok {
			continue
		}

		r.Score = score
		r.Resolution = resolution
		if r.Kind == "" {
			r.Kind = kind
		}
		if r.Status == "" {
			r.Status = models.ResultAvailable
		}
		out = append(out, r)
	}

	slices.SortStableFunc(out, func(a, b *models.SearchResult) int {
		if a.Score != b.Score {
			return b.Score - a.Score
		}
		switch {
		case a.Size > b.Size:
			return -1
		case a.Size < b.Size:
			return 1
		}
		return 0
	})

	log.Debug().Str("imdbid", imdbID).Int("candidates", len(results)).Int("accepted", len(out)).Msg("scored search results")

	return out, nil
}

func (s *Scorer) profile(ctx context.Context, imdbID string) (models.QualityProfile, error) {
	movie, err := s.movies.Get(ctx, imdbID)
	switch {
	case err == nil && len(movie.Quality.Resolutions) > 0:
		return movie.Quality, nil
	case err == nil, errors.Is(err, models.ErrMovieNotFound):
		return ProfileFromConfig(s.config.Current().Quality), nil
	default:
		return models.QualityProfile{}, err
	}
}

func scoreResult(p models.QualityProfile, r *models.SearchResult, resolution string) (int, bool) {
	title := releases.NormalizeTitle(r.Title)

	rank := 1
	if len(p.Resolutions) > 0 {
		idx := slices.IndexFunc(p.Resolutions, func(res string) bool {
			return strings.EqualFold(res, resolution)
		})
		if idx < 0 {
			return 0, false
		}
		rank = len(p.Resolutions) - idx
	}

	const mb = 1 << 20
	if r.Size > 0 {
		if p.MinSizeMB > 0 && r.Size < p.MinSizeMB*mb {
			return 0, false
		}
		if p.MaxSizeMB > 0 && r.Size > p.MaxSizeMB*mb {
			return 0, false
		}
	}

	for _, word := range p.Ignored {
		if containsWord(title, word) {
			return 0, false
		}
	}

	for _, word := range p.Required {
		if !containsWord(title, word) {
			return 0, false
		}
	}

	score := rank * resolutionWeight
	for _, word := range p.Preferred {
		if containsWord(title, word) {
			score += preferredWeight
		}
	}

	return score, true
}

// containsWord matches a normalized word or phrase on word boundaries.
func containsWord(normalizedTitle, word string) bool {
	w := releases.NormalizeTitle(word)
	if w == "" {
		return false
	}
	return strings.Contains(" "+normalizedTitle+" ", " "+w+" ")
}

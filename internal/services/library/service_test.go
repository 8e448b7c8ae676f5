// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package library

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/watcher/internal/domain"
	"github.com/autobrr/watcher/internal/models"
	"github.com/autobrr/watcher/internal/testdb"
)

type fakeMetadata map[string]*models.Movie

func (f fakeMetadata) MovieInfo(ctx context.Context, imdbID string) (*models.Movie, error) {
	if imdbID == "tt-broken" {
		return nil, errors.New("omdb down")
	}
	if m, ok := f[imdbID]; ok {
		copied := *m
		return &copied, nil
	}
	return nil, nil
}

type fakePredb struct {
	result models.PredbStatus
	movies *models.MovieStore
	calls  int
}

func (f *fakePredb) CheckOne(ctx context.Context, movie *models.Movie) (models.PredbStatus, error) {
	f.calls++
	movie.Predb = f.result
	return f.result, f.movies.UpdatePredb(ctx, movie.IMDBID, f.result)
}

type fixture struct {
	svc     *Service
	movies  *models.MovieStore
	results *models.SearchResultStore
	marks   *models.MarkedResultStore
	predb   *fakePredb
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := testdb.Open(t, "library")
	movies := models.NewMovieStore(db)
	results := models.NewSearchResultStore(db)
	predb := &fakePredb{result: models.PredbFound, movies: movies}
	cfg := domain.StaticConfig{Quality: domain.QualityConfig{Resolutions: []string{"1080p"}, MinSizeMB: 700}}
	meta := fakeMetadata{"tt0133093": {Title: "The Matrix", Year: 1999}}

	return &fixture{
		svc:     NewService(cfg, movies, results, meta, predb),
		movies:  movies,
		results: results,
		marks:   models.NewMarkedResultStore(db),
		predb:   predb,
	}
}

func TestAddMovie(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()

	movie, err := f.svc.AddMovie(ctx, "tt0133093")
	require.NoError(t, err)
	assert.Equal(t, "The Matrix", movie.Title)
	assert.Equal(t, models.PredbFound, movie.Predb)
	assert.Equal(t, 1, f.predb.calls)

	stored, err := f.movies.Get(ctx, "tt0133093")
	require.NoError(t, err)
	assert.Equal(t, models.MovieWanted, stored.Status)
	assert.Equal(t, models.PredbFound, stored.Predb)
	assert.Equal(t, []string{"1080p"}, stored.Quality.Resolutions)
	assert.Equal(t, int64(700), stored.Quality.MinSizeMB)

	_, err = f.svc.AddMovie(ctx, "tt0133093")
	require.ErrorIs(t, err, models.ErrMovieExists)

	_, err = f.svc.AddMovie(ctx, "tt0000000")
	require.ErrorIs(t, err, ErrMovieUnknown)

	_, err = f.svc.AddMovie(ctx, "12345")
	require.ErrorIs(t, err, ErrInvalidIMDBID)

	_, err = f.svc.AddMovie(ctx, "tt-broken")
	require.Error(t, err)
}

func TestAddMovieRunsHookOnlyForVerifiedMovies(t *testing.T) {
	f := newFixture(t)
	f.svc.spawn = func(fn func()) { fn() }

	var searched []string
	f.svc.OnAdded(func(ctx context.Context, imdbID string) {
		searched = append(searched, imdbID)
	})

	_, err := f.svc.AddMovie(t.Context(), "tt0133093")
	require.NoError(t, err)
	assert.Equal(t, []string{"tt0133093"}, searched)

	require.NoError(t, f.svc.RemoveMovie(t.Context(), "tt0133093"))
	f.predb.result = models.PredbNotFound

	_, err = f.svc.AddMovie(t.Context(), "tt0133093")
	require.NoError(t, err)
	assert.Len(t, searched, 1)
}

func TestRemoveMovieKeepsMarkedResults(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()

	require.NoError(t, f.movies.Add(ctx, &models.Movie{IMDBID: "tt1", Title: "One"}))
	require.NoError(t, f.results.Replace(ctx, "tt1", []*models.SearchResult{{GUID: "g1"}}))
	require.NoError(t, f.marks.Mark(ctx, "tt1", "g1", models.ResultBad))

	require.NoError(t, f.svc.RemoveMovie(ctx, "tt1"))

	results, err := f.results.ListByMovie(ctx, "tt1")
	require.NoError(t, err)
	assert.Empty(t, results)

	marks, err := f.marks.ListByMovie(ctx, "tt1")
	require.NoError(t, err)
	assert.Equal(t, models.ResultBad, marks["g1"])

	require.ErrorIs(t, f.svc.RemoveMovie(ctx, "tt1"), models.ErrMovieNotFound)
}

func TestDeriveStatus(t *testing.T) {
	tests := []struct {
		name     string
		statuses []models.ResultStatus
		want     models.MovieStatus
	}{
		{name: "no results", want: models.MovieWanted},
		{name: "only bad", statuses: []models.ResultStatus{models.ResultBad}, want: models.MovieWanted},
		{name: "available", statuses: []models.ResultStatus{models.ResultBad, models.ResultAvailable}, want: models.MovieFound},
		{name: "snatched beats available", statuses: []models.ResultStatus{models.ResultAvailable, models.ResultSnatched}, want: models.MovieSnatched},
		{name: "downloading counts as snatched", statuses: []models.ResultStatus{models.ResultDownloading}, want: models.MovieSnatched},
		{name: "finished wins", statuses: []models.ResultStatus{models.ResultSnatched, models.ResultFinished, models.ResultAvailable}, want: models.MovieFinished},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results := make([]*models.SearchResult, 0, len(tt.statuses))
			for _, s := range tt.statuses {
				results = append(results, &models.SearchResult{Status: s})
			}
			assert.Equal(t, tt.want, DeriveStatus(results))
		})
	}
}

func TestUpdateMovieStatusIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()

	require.NoError(t, f.movies.Add(ctx, &models.Movie{IMDBID: "tt1", Title: "One"}))
	require.NoError(t, f.results.Replace(ctx, "tt1", []*models.SearchResult{
		{GUID: "a", Status: models.ResultAvailable},
		{GUID: "b", Status: models.ResultSnatched},
	}))

	first, err := f.svc.UpdateMovieStatus(ctx, "tt1")
	require.NoError(t, err)
	second, err := f.svc.UpdateMovieStatus(ctx, "tt1")
	require.NoError(t, err)

	assert.Equal(t, models.MovieSnatched, first)
	assert.Equal(t, first, second)

	stored, err := f.movies.Get(ctx, "tt1")
	require.NoError(t, err)
	assert.Equal(t, models.MovieSnatched, stored.Status)
}

func TestUpdateMovieStatusLeavesDisabledAlone(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()

	require.NoError(t, f.movies.Add(ctx, &models.Movie{IMDBID: "tt1", Status: models.MovieDisabled}))
	require.NoError(t, f.results.Replace(ctx, "tt1", []*models.SearchResult{{GUID: "a", Status: models.ResultFinished}}))

	status, err := f.svc.UpdateMovieStatus(ctx, "tt1")
	require.NoError(t, err)
	assert.Equal(t, models.MovieDisabled, status)

	_, err = f.svc.UpdateMovieStatus(ctx, "tt404")
	require.ErrorIs(t, err, models.ErrMovieNotFound)
}

// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/watcher/internal/models"
	"github.com/autobrr/watcher/internal/services/searcher"
)

type MovieSearcher interface {
	SearchAndGrab(ctx context.Context, imdbID string) (bool, error)
}

type RoundScheduler interface {
	NextSearch() time.Time
	History(limit int) []searcher.RoundReport
	RunNow(ctx context.Context) searcher.RoundReport
}

type ResultLister interface {
	ListByMovie(ctx context.Context, imdbID string) ([]*models.SearchResult, error)
}

const (
	defaultRoundLimit = 10
	maxRoundLimit     = 50
)

// SearchHandler exposes the library, the per-movie search and the round
// scheduler over JSON.
type SearchHandler struct {
	library   Library
	results   ResultLister
	searcher  MovieSearcher
	scheduler RoundScheduler
	spawn     func(func())
}

func NewSearchHandler(library Library, results ResultLister, searcher MovieSearcher, scheduler RoundScheduler) *SearchHandler {
	return &SearchHandler{
		library:   library,
		results:   results,
		searcher:  searcher,
		scheduler: scheduler,
		spawn:     func(fn func()) { go fn() },
	}
}

func (h *SearchHandler) Routes(r chi.Router) {
	r.Route("/movies", func(r chi.Router) {
		r.Get("/", h.ListMovies)
		r.Route("/{imdbID}", func(r chi.Router) {
			r.Get("/", h.GetMovie)
			r.Get("/results", h.ListResults)
			r.Post("/search", h.SearchMovie)
		})
	})

	r.Route("/search", func(r chi.Router) {
		r.Get("/next", h.GetNextSearch)
		r.Get("/rounds", h.ListRounds)
		r.Post("/rounds", h.StartRound)
	})
}

func (h *SearchHandler) ListMovies(w http.ResponseWriter, r *http.Request) {
	movies, err := h.library.List(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to list movies")
		RespondError(w, http.StatusInternalServerError, "Failed to list movies")
		return
	}
	if movies == nil {
		movies = []*models.Movie{}
	}
	RespondJSON(w, http.StatusOK, movies)
}

func (h *SearchHandler) GetMovie(w http.ResponseWriter, r *http.Request) {
	imdbID, ok := ParseIMDBID(w, r)
	if !ok {
		return
	}

	movie, err := h.library.Get(r.Context(), imdbID)
	if errors.Is(err, models.ErrMovieNotFound) {
		RespondError(w, http.StatusNotFound, "Movie not found")
		return
	}
	if err != nil {
		log.Error().Err(err).Str("imdbid", imdbID).Msg("failed to load movie")
		RespondError(w, http.StatusInternalServerError, "Failed to load movie")
		return
	}
	RespondJSON(w, http.StatusOK, movie)
}

func (h *SearchHandler) ListResults(w http.ResponseWriter, r *http.Request) {
	imdbID, ok := ParseIMDBID(w, r)
	if !ok {
		return
	}

	results, err := h.results.ListByMovie(r.Context(), imdbID)
	if err != nil {
		log.Error().Err(err).Str("imdbid", imdbID).Msg("failed to list search results")
		RespondError(w, http.StatusInternalServerError, "Failed to list search results")
		return
	}
	if results == nil {
		results = []*models.SearchResult{}
	}
	RespondJSON(w, http.StatusOK, results)
}

// SearchMovie runs one movie's search synchronously and reports whether a
// usable release was found.
func (h *SearchHandler) SearchMovie(w http.ResponseWriter, r *http.Request) {
	imdbID, ok := ParseIMDBID(w, r)
	if !ok {
		return
	}

	found, err := h.searcher.SearchAndGrab(r.Context(), imdbID)
	if errors.Is(err, models.ErrMovieNotFound) {
		RespondError(w, http.StatusNotFound, "Movie not found")
		return
	}
	if err != nil {
		log.Error().Err(err).Str("imdbid", imdbID).Msg("manual search failed")
		RespondError(w, http.StatusInternalServerError, "Search failed")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]any{"imdbid": imdbID, "found": found})
}

func (h *SearchHandler) GetNextSearch(w http.ResponseWriter, _ *http.Request) {
	var next *time.Time
	if t := h.scheduler.NextSearch(); !t.IsZero() {
		next = &t
	}
	RespondJSON(w, http.StatusOK, map[string]*time.Time{"next_search": next})
}

func (h *SearchHandler) ListRounds(w http.ResponseWriter, r *http.Request) {
	rounds := h.scheduler.History(ParseLimit(r, defaultRoundLimit, maxRoundLimit))
	if rounds == nil {
		rounds = []searcher.RoundReport{}
	}
	RespondJSON(w, http.StatusOK, rounds)
}

// StartRound kicks off a search round in the background. A round already in
// flight is joined rather than duplicated.
func (h *SearchHandler) StartRound(w http.ResponseWriter, r *http.Request) {
	ctx := context.WithoutCancel(r.Context())
	h.spawn(func() {
		report := h.scheduler.RunNow(ctx)
		log.Info().Str("run", report.RunID).Int("searched", report.Searched).Msg("manual search round finished")
	})
	RespondJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

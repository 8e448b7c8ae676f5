// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/watcher/internal/domain"
	"github.com/autobrr/watcher/internal/models"
)

// Library is the slice of the library service the legacy api drives.
type Library interface {
	Get(ctx context.Context, imdbID string) (*models.Movie, error)
	List(ctx context.Context) ([]*models.Movie, error)
	AddMovie(ctx context.Context, imdbID string) (*models.Movie, error)
	RemoveMovie(ctx context.Context, imdbID string) error
}

type NextSearcher interface {
	NextSearch() time.Time
}

// LegacyHandler serves GET /api?apikey=..&mode=.. for scripts and download
// clients. Every answer is 200 with a response flag, errors included.
type LegacyHandler struct {
	config   domain.ConfigProvider
	library  Library
	schedule NextSearcher
	version  string
}

func NewLegacyHandler(config domain.ConfigProvider, library Library, schedule NextSearcher, version string) *LegacyHandler {
	return &LegacyHandler{
		config:   config,
		library:  library,
		schedule: schedule,
		version:  version,
	}
}

type movieResponse struct {
	Response   bool          `json:"response"`
	Movie      *models.Movie `json:"movie"`
	NextSearch *time.Time    `json:"next_search,omitempty"`
}

type moviesResponse struct {
	Response   bool            `json:"response"`
	Movies     []*models.Movie `json:"movies"`
	NextSearch *time.Time      `json:"next_search,omitempty"`
}

type addResponse struct {
	Response bool          `json:"response"`
	Message  string        `json:"message"`
	Movie    *models.Movie `json:"movie"`
}

type removeResponse struct {
	Response bool   `json:"response"`
	Removed  string `json:"removed"`
}

type versionResponse struct {
	Response   bool       `json:"response"`
	Version    string     `json:"version"`
	NextSearch *time.Time `json:"next_search,omitempty"`
}

func (h *LegacyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()

	if !params.Has("apikey") {
		log.Warn().Msg("api request failed, no key supplied")
		RespondLegacyError(w, http.StatusOK, "no api key supplied")
		return
	}

	apiKey := h.config.Current().APIKey
	if apiKey == "" || subtle.ConstantTimeCompare([]byte(params.Get("apikey")), []byte(apiKey)) != 1 {
		log.Warn().Str("remote", r.RemoteAddr).Msg("invalid api key in request")
		RespondLegacyError(w, http.StatusOK, "incorrect api key")
		return
	}

	if !params.Has("mode") {
		RespondLegacyError(w, http.StatusOK, "no api mode specified")
		return
	}

	imdbID := params.Get("imdbid")

	switch mode := params.Get("mode"); mode {
	case "liststatus":
		h.listStatus(w, r, imdbID)
	case "addmovie", "removemovie":
		if imdbID == "" {
			RespondLegacyError(w, http.StatusOK, "no imdbid supplied")
			return
		}
		if mode == "addmovie" {
			h.addMovie(w, r, imdbID)
		} else {
			h.removeMovie(w, r, imdbID)
		}
	case "version":
		RespondJSON(w, http.StatusOK, versionResponse{Response: true, Version: h.version, NextSearch: h.nextSearch()})
	default:
		RespondLegacyError(w, http.StatusOK, "invalid mode")
	}
}

func (h *LegacyHandler) nextSearch() *time.Time {
	if h.schedule == nil {
		return nil
	}
	next := h.schedule.NextSearch()
	if next.IsZero() {
		return nil
	}
	return &next
}

func (h *LegacyHandler) listStatus(w http.ResponseWriter, r *http.Request, imdbID string) {
	if imdbID != "" {
		movie, err := h.library.Get(r.Context(), imdbID)
		if errors.Is(err, models.ErrMovieNotFound) {
			RespondLegacyError(w, http.StatusOK, fmt.Sprintf("%s does not exist", imdbID))
			return
		}
		if err != nil {
			log.Error().Err(err).Str("imdbid", imdbID).Msg("liststatus failed")
			RespondLegacyError(w, http.StatusInternalServerError, "unable to read library")
			return
		}
		RespondJSON(w, http.StatusOK, movieResponse{Response: true, Movie: movie, NextSearch: h.nextSearch()})
		return
	}

	movies, err := h.library.List(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("liststatus failed")
		RespondLegacyError(w, http.StatusInternalServerError, "unable to read library")
		return
	}
	if movies == nil {
		movies = []*models.Movie{}
	}
	RespondJSON(w, http.StatusOK, moviesResponse{Response: true, Movies: movies, NextSearch: h.nextSearch()})
}

func (h *LegacyHandler) addMovie(w http.ResponseWriter, r *http.Request, imdbID string) {
	log.Info().Str("imdbid", imdbID).Msg("api request add movie")

	movie, err := h.library.AddMovie(r.Context(), imdbID)
	if err != nil {
		log.Warn().Err(err).Str("imdbid", imdbID).Msg("add movie failed")
		RespondLegacyError(w, http.StatusOK, err.Error())
		return
	}

	RespondJSON(w, http.StatusOK, addResponse{
		Response: true,
		Message:  fmt.Sprintf("%s (%d) added to library", movie.Title, movie.Year),
		Movie:    movie,
	})
}

func (h *LegacyHandler) removeMovie(w http.ResponseWriter, r *http.Request, imdbID string) {
	log.Info().Str("imdbid", imdbID).Msg("api request remove movie")

	err := h.library.RemoveMovie(r.Context(), imdbID)
	switch {
	case errors.Is(err, models.ErrMovieNotFound):
		RespondLegacyError(w, http.StatusOK, fmt.Sprintf("%s does not exist", imdbID))
	case err != nil:
		log.Error().Err(err).Str("imdbid", imdbID).Msg("remove movie failed")
		RespondLegacyError(w, http.StatusOK, fmt.Sprintf("unable to remove %s", imdbID))
	default:
		RespondJSON(w, http.StatusOK, removeResponse{Response: true, Removed: imdbID})
	}
}

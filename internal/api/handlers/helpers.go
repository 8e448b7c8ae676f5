// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"encoding/json"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

// LegacyResponse is the envelope used by the download-client facing
// endpoints.
type LegacyResponse struct {
	Response bool   `json:"response"`
	Error    string `json:"error,omitempty"`
}

func RespondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func RespondError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, ErrorResponse{Error: message})
}

// RespondLegacyError sends {"response": false, "error": message}.
func RespondLegacyError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, LegacyResponse{Response: false, Error: message})
}

var imdbIDPattern = regexp.MustCompile(`^tt\d{7,}$`)

// ParseIMDBID reads the imdbID route param. On a missing or malformed id a
// 400 has already been written and ok is false.
func ParseIMDBID(w http.ResponseWriter, r *http.Request) (id string, ok bool) {
	id = strings.TrimSpace(chi.URLParam(r, "imdbID"))
	switch {
	case id == "":
		RespondError(w, http.StatusBadRequest, "imdb id is required")
		return "", false
	case !imdbIDPattern.MatchString(id):
		RespondError(w, http.StatusBadRequest, "invalid imdb id: "+id)
		return "", false
	}
	return id, true
}

// ParseLimit reads the "limit" query param, falling back to defaultLimit and
// capping at maxLimit. Invalid values are silently ignored.
func ParseLimit(r *http.Request, defaultLimit, maxLimit int) int {
	limit := defaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = min(parsed, maxLimit)
		}
	}
	return limit
}

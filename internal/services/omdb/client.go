// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package omdb looks up movie metadata from the OMDb API.
package omdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/watcher/internal/buildinfo"
	"github.com/autobrr/watcher/internal/domain"
	"github.com/autobrr/watcher/internal/models"
	"github.com/autobrr/watcher/pkg/releases"
)

const DefaultBaseURL = "https://www.omdbapi.com/"

var ErrNoAPIKey = errors.New("omdb api key not configured")

type response struct {
	Title    string `json:"Title"`
	Year     string `json:"Year"`
	Rated    string `json:"Rated"`
	Released string `json:"Released"`
	Plot     string `json:"Plot"`
	Poster   string `json:"Poster"`
	IMDBID   string `json:"imdbID"`
	Type     string `json:"Type"`
	Response string `json:"Response"`
	Error    string `json:"Error"`
}

type Client struct {
	config     domain.ConfigProvider
	baseURL    string
	httpClient *http.Client
}

func NewClient(config domain.ConfigProvider, baseURL string, httpClient *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{config: config, baseURL: baseURL, httpClient: httpClient}
}

// MovieInfo returns the movie record for imdbID, or nil when OMDb does not
// know it.
func (c *Client) MovieInfo(ctx context.Context, imdbID string) (*models.Movie, error) {
	params := url.Values{}
	params.Set("i", imdbID)
	params.Set("plot", "short")

	return c.lookup(ctx, params)
}

// SearchByTitle finds a movie by title and optional year. A match is only
// accepted when the returned title is close to the requested one.
func (c *Client) SearchByTitle(ctx context.Context, title, year string) (*models.Movie, error) {
	if strings.TrimSpace(title) == "" {
		return nil, nil
	}

	params := url.Values{}
	params.Set("t", title)
	params.Set("type", "movie")
	if year != "" {
		params.Set("y", year)
	}

	movie, err := c.lookup(ctx, params)
	if err != nil || movie == nil {
		return movie, err
	}

	want := releases.NormalizeTitle(title)
	got := releases.NormalizeTitle(movie.Title)
	if want != got && !fuzzy.MatchNormalizedFold(want, got) {
		log.Debug().Str("query", title).Str("found", movie.Title).Msg("omdb title match rejected")
		return nil, nil
	}

	return movie, nil
}

func (c *Client) lookup(ctx context.Context, params url.Values) (*models.Movie, error) {
	apiKey := c.config.Current().OMDBAPIKey
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}
	params.Set("apikey", apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build omdb request: %w", err)
	}
	req.Header.Set("User-Agent", buildinfo.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("omdb request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("omdb returned status %d", resp.StatusCode)
	}

	var body response
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode omdb response: %w", err)
	}

	if !strings.EqualFold(body.Response, "true") {
		log.Debug().Str("error", body.Error).Msg("omdb returned no movie")
		return nil, nil
	}

	return toMovie(body), nil
}

func toMovie(r response) *models.Movie {
	m := &models.Movie{
		IMDBID:   r.IMDBID,
		Title:    r.Title,
		Rated:    notAvailable(r.Rated),
		Released: notAvailable(r.Released),
		Plot:     notAvailable(r.Plot),
		Poster:   notAvailable(r.Poster),
		Status:   models.MovieWanted,
	}

	// "2019" or "2019–2020"
	if len(r.Year) >= 4 {
		if y, err := strconv.Atoi(r.Year[:4]); err == nil {
			m.Year = y
		}
	}

	return m
}

func notAvailable(v string) string {
	if v == "N/A" {
		return ""
	}
	return v
}

// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package predb verifies that a movie has a scene release before it is
// searched for.
package predb

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/watcher/internal/buildinfo"
	"github.com/autobrr/watcher/internal/domain"
	"github.com/autobrr/watcher/internal/models"
	"github.com/autobrr/watcher/pkg/releases"
)

const DefaultBaseURL = "https://predb.me/"

type MovieStore interface {
	List(ctx context.Context) ([]*models.Movie, error)
	UpdatePredb(ctx context.Context, imdbID string, predb models.PredbStatus) error
}

type Service struct {
	config     domain.ConfigProvider
	movies     MovieStore
	parser     *releases.Parser
	baseURL    string
	httpClient *http.Client
}

func NewService(config domain.ConfigProvider, movies MovieStore, parser *releases.Parser, baseURL string, httpClient *http.Client) *Service {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if parser == nil {
		parser = releases.NewDefaultParser()
	}
	return &Service{
		config:     config,
		movies:     movies,
		parser:     parser,
		baseURL:    baseURL,
		httpClient: httpClient,
	}
}

// CheckOne queries predb for movie and persists the outcome. Lookup failures
// leave the stored state alone and report unknown. With predb disabled every
// movie counts as found.
func (s *Service) CheckOne(ctx context.Context, movie *models.Movie) (models.PredbStatus, error) {
	if movie.Predb == models.PredbFound {
		return models.PredbFound, nil
	}

	status := models.PredbFound
	if s.config.Current().PredbEnabled {
		titles, err := s.fetch(ctx, movie.Title, movie.Year)
		if err != nil {
			log.Warn().Err(err).Str("imdbid", movie.IMDBID).Msg("predb lookup failed")
			return models.PredbUnknown, nil
		}
		status = s.match(movie, titles)
	}

	if status == movie.Predb {
		return status, nil
	}

	if err := s.movies.UpdatePredb(ctx, movie.IMDBID, status); err != nil {
		return models.PredbUnknown, fmt.Errorf("store predb status for %s: %w", movie.IMDBID, err)
	}
	movie.Predb = status

	log.Info().Str("imdbid", movie.IMDBID).Str("title", movie.Title).Str("predb", string(status)).Msg("predb status updated")

	return status, nil
}

// CheckAll re-checks every movie that has not been verified yet.
func (s *Service) CheckAll(ctx context.Context) error {
	movies, err := s.movies.List(ctx)
	if err != nil {
		return err
	}

	for _, m := range movies {
		if m.Predb == models.PredbFound || m.Status == models.MovieDisabled {
			continue
		}
		if _, err := s.CheckOne(ctx, m); err != nil {
			log.Error().Err(err).Str("imdbid", m.IMDBID).Msg("predb check failed")
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	return nil
}

func (s *Service) match(movie *models.Movie, titles []string) models.PredbStatus {
	want := releases.NormalizeTitle(movie.Title)
	year := ""
	if movie.Year > 0 {
		year = strconv.Itoa(movie.Year)
	}

	for _, t := range titles {
		info := s.parser.Parse(t)
		if year != "" && info.Year != year {
			continue
		}

		got := releases.NormalizeTitle(info.Title)
		if got == want || (len(want) > 3 && fuzzy.MatchNormalizedFold(want, got) && fuzzy.RankMatchNormalizedFold(want, got) <= 2) {
			return models.PredbFound
		}
	}

	return models.PredbNotFound
}

type feed struct {
	Items []struct {
		Title string `xml:"title"`
	} `xml:"channel>item"`
}

func (s *Service) fetch(ctx context.Context, title string, year int) ([]string, error) {
	query := title
	if year > 0 {
		query = fmt.Sprintf("%s %d", title, year)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build predb request: %w", err)
	}
	q := req.URL.Query()
	q.Set("search", releases.NormalizeTitle(query))
	q.Set("rss", "1")
	req.URL.RawQuery = q.Encode()
	req.Header.Set("User-Agent", buildinfo.UserAgent)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("predb request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("predb returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return nil, fmt.Errorf("read predb response: %w", err)
	}

	var f feed
	if err := xml.Unmarshal(body, &f); err != nil {
		return nil, fmt.Errorf("decode predb feed: %w", err)
	}

	titles := make([]string, 0, len(f.Items))
	for _, item := range f.Items {
		titles = append(titles, item.Title)
	}
	return titles, nil
}

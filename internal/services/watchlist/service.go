// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package watchlist imports movies from IMDb watchlist RSS feeds.
package watchlist

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"github.com/autobrr/watcher/internal/domain"
	"github.com/autobrr/watcher/internal/models"
)

const (
	stateFile       = "imdb_watchlist.json"
	defaultLastSync = "Sat, 01 Jan 2000 00:00:00 GMT"
	maxFeedSize     = 10 << 20
)

type Library interface {
	Exists(ctx context.Context, imdbID string) (bool, error)
	AddMovie(ctx context.Context, imdbID string) (*models.Movie, error)
}

type Service struct {
	config     domain.ConfigProvider
	fs         afero.Fs
	stateDir   string
	httpClient *http.Client
	library    Library

	mu sync.Mutex
}

func NewService(config domain.ConfigProvider, fs afero.Fs, stateDir string, httpClient *http.Client, library Library) *Service {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Service{
		config:     config,
		fs:         fs,
		stateDir:   stateDir,
		httpClient: httpClient,
		library:    library,
	}
}

type feed struct {
	Channel struct {
		LastBuildDate string `xml:"lastBuildDate"`
		Items         []item `xml:"item"`
	} `xml:"channel"`
}

type item struct {
	Title   string `xml:"title"`
	Link    string `xml:"link"`
	PubDate string `xml:"pubDate"`
}

// Sync checks every configured watchlist and adds movies published since the
// last sync. It returns how many movies were added. A failing list does not
// stop the others.
func (s *Service) Sync(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	urls := s.config.Current().IMDBWatchlistURLs
	if len(urls) == 0 {
		return 0, nil
	}

	state, err := s.loadState()
	if err != nil {
		return 0, err
	}

	var (
		added int
		errs  []error
	)
	for _, u := range urls {
		n, buildDate, err := s.syncOne(ctx, u, state[u])
		added += n
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", u, err))
			continue
		}
		if buildDate != "" {
			state[u] = buildDate
		}
	}

	if err := s.saveState(state); err != nil {
		errs = append(errs, err)
	}

	return added, errors.Join(errs...)
}

func (s *Service) syncOne(ctx context.Context, feedURL, lastSync string) (int, string, error) {
	logger := log.With().Str("watchlist", feedURL).Logger()
	logger.Info().Msg("syncing imdb watchlist")

	f, err := s.fetch(ctx, feedURL)
	if err != nil {
		return 0, "", err
	}

	if lastSync == "" {
		lastSync = defaultLastSync
	}
	since, err := parseDate(lastSync)
	if err != nil {
		logger.Warn().Err(err).Str("last_sync", lastSync).Msg("unreadable last sync date, syncing everything")
		since, _ = parseDate(defaultLastSync)
	}

	var candidates []string
	for _, it := range f.Channel.Items {
		published, err := parseDate(it.PubDate)
		if err != nil {
			logger.Warn().Err(err).Str("title", it.Title).Msg("skipping item with bad pubDate")
			continue
		}
		if !published.After(since) {
			break
		}

		imdbID := imdbIDFromLink(it.Link)
		if imdbID == "" {
			logger.Warn().Str("link", it.Link).Msg("no imdb id in watchlist link")
			continue
		}
		logger.Info().Str("title", it.Title).Str("imdbid", imdbID).Msg("found new watchlist movie")
		candidates = append(candidates, imdbID)
	}

	added := 0
	for _, imdbID := range candidates {
		exists, err := s.library.Exists(ctx, imdbID)
		if err != nil {
			return added, "", err
		}
		if exists {
			continue
		}
		if _, err := s.library.AddMovie(ctx, imdbID); err != nil {
			logger.Warn().Err(err).Str("imdbid", imdbID).Msg("unable to add watchlist movie")
			continue
		}
		added++
	}

	buildDate := strings.TrimSpace(f.Channel.LastBuildDate)
	if buildDate == "" {
		buildDate = time.Now().UTC().Format(time.RFC1123)
	}

	logger.Info().Int("added", added).Msg("imdb watchlist sync complete")
	return added, buildDate, nil
}

func (s *Service) fetch(ctx context.Context, feedURL string) (*feed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "watcher")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var f feed
	if err := xml.NewDecoder(io.LimitReader(resp.Body, maxFeedSize)).Decode(&f); err != nil {
		return nil, fmt.Errorf("decode rss: %w", err)
	}
	return &f, nil
}

func (s *Service) statePath() string {
	return filepath.Join(s.stateDir, stateFile)
}

func (s *Service) loadState() (map[string]string, error) {
	state := map[string]string{}
	raw, err := afero.ReadFile(s.fs, s.statePath())
	if errors.Is(err, os.ErrNotExist) {
		return state, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read watchlist state: %w", err)
	}
	if err := json.Unmarshal(raw, &state); err != nil {
		log.Warn().Err(err).Msg("discarding unreadable watchlist state")
		return map[string]string{}, nil
	}
	return state, nil
}

func (s *Service) saveState(state map[string]string) error {
	raw, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	if err := s.fs.MkdirAll(s.stateDir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	if err := afero.WriteFile(s.fs, s.statePath(), raw, 0o644); err != nil {
		return fmt.Errorf("write watchlist state: %w", err)
	}
	return nil
}

func parseDate(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	for _, layout := range []string{time.RFC1123, time.RFC1123Z} {
		if t, err := time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", v)
}

// imdbIDFromLink pulls the title id out of links like
// https://www.imdb.com/title/tt0133093/.
func imdbIDFromLink(link string) string {
	u, err := url.Parse(strings.TrimSpace(link))
	if err != nil {
		return ""
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := len(segments) - 1; i >= 0; i-- {
		if strings.HasPrefix(segments[i], "tt") && len(segments[i]) > 2 {
			return segments[i]
		}
	}
	return ""
}

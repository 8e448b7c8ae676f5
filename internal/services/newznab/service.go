// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package newznab

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"

	"github.com/autobrr/watcher/internal/domain"
	"github.com/autobrr/watcher/internal/models"
)

const (
	defaultMaxConcurrent = 4
	defaultTimeout       = 30 * time.Second
)

// Service fans a movie search out over every enabled indexer.
type Service struct {
	config        domain.ConfigProvider
	httpClient    *http.Client
	maxConcurrent int
}

func NewService(config domain.ConfigProvider, httpClient *http.Client) *Service {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Service{
		config:        config,
		httpClient:    httpClient,
		maxConcurrent: defaultMaxConcurrent,
	}
}

// SearchAll queries all enabled indexers and returns the releases as
// candidate search results, deduplicated by guid. A failing indexer is logged
// and contributes nothing.
func (s *Service) SearchAll(ctx context.Context, imdbID string) ([]*models.SearchResult, error) {
	cfg := s.config.Current()
	indexers := cfg.EnabledIndexers()
	if len(indexers) == 0 {
		log.Warn().Str("imdbid", imdbID).Msg("no indexers enabled, skipping search")
		return nil, nil
	}

	var (
		mu      sync.Mutex
		results []Result
	)

	p := pool.New().WithMaxGoroutines(s.maxConcurrent)
	for _, idx := range indexers {
		client := NewClient(idx, s.httpClient)
		p.Go(func() {
			found, err := client.SearchMovie(ctx, imdbID)
			if err != nil {
				log.Error().Err(err).Str("indexer", client.Name()).Str("imdbid", imdbID).Msg("indexer search failed")
				return
			}

			log.Debug().Str("indexer", client.Name()).Str("imdbid", imdbID).Int("results", len(found)).Msg("indexer search complete")

			mu.Lock()
			results = append(results, found...)
			mu.Unlock()
		})
	}
	p.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return toSearchResults(imdbID, results), nil
}

func toSearchResults(imdbID string, results []Result) []*models.SearchResult {
	seen := make(map[string]struct{}, len(results))
	out := make([]*models.SearchResult, 0, len(results))

	for _, r := range results {
		if r.GUID == "" {
			continue
		}
		if _, dup := seen[r.GUID]; dup {
			continue
		}
		seen[r.GUID] = struct{}{}

		out = append(out, &models.SearchResult{
			IMDBID:      imdbID,
			GUID:        r.GUID,
			Size:        r.Size,
			Category:    r.Category,
			PubDate:     r.PublishDate,
			Title:       r.Title,
			Indexer:     r.Indexer,
			InfoLink:    r.Comments,
			DownloadURL: r.Link,
			Kind:        "nzb",
		})
	}

	return out
}

// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package searcher

import (
	"context"
	"fmt"
	"time"

	"github.com/autobrr/watcher/internal/models"
)

// Scorer filters and ranks merged candidates.
type Scorer interface {
	Score(ctx context.Context, results []*models.SearchResult, imdbID, kind string) ([]*models.SearchResult, error)
}

type ResultReader interface {
	ListByMovie(ctx context.Context, imdbID string) ([]*models.SearchResult, error)
}

type MarkReader interface {
	ListByMovie(ctx context.Context, imdbID string) (map[string]models.ResultStatus, error)
}

// Merger folds fresh candidates into what is already stored for a movie.
// The order is fixed: stored values first, then scoring, then marks. Stored
// rows that were already snatched survive even when indexers stop returning
// them.
type Merger struct {
	results ResultReader
	marks   MarkReader
	scorer  Scorer
	now     func() time.Time
}

func NewMerger(results ResultReader, marks MarkReader, scorer Scorer) *Merger {
	return &Merger{results: results, marks: marks, scorer: scorer, now: time.Now}
}

func (m *Merger) Merge(ctx context.Context, fresh []*models.SearchResult, imdbID string) ([]*models.SearchResult, error) {
	stored, err := m.results.ListByMovie(ctx, imdbID)
	if err != nil {
		return nil, fmt.Errorf("load stored results: %w", err)
	}

	byGUID := make(map[string]*models.SearchResult, len(stored))
	for _, r := range stored {
		byGUID[r.GUID] = r
	}

	today := m.now().Format(models.DateLayout)
	for _, candidate := range fresh {
		candidate.IMDBID = imdbID
		if old, ok := byGUID[candidate.GUID]; ok {
			overlay(candidate, old)
		}
		if candidate.DateFound == "" {
			candidate.DateFound = today
		}
	}

	scored, err := m.scorer.Score(ctx, fresh, imdbID, "nzb")
	if err != nil {
		return nil, fmt.Errorf("score results: %w", err)
	}

	marks, err := m.marks.ListByMovie(ctx, imdbID)
	if err != nil {
		return nil, fmt.Errorf("load marked results: %w", err)
	}
	seen := make(map[string]struct{}, len(scored))
	for _, r := range scored {
		if status, ok := marks[r.GUID]; ok {
			r.Status = status
		}
		seen[r.GUID] = struct{}{}
	}

	if len(scored) == 0 {
		return scored, nil
	}
	for _, r := range stored {
		if _, ok := seen[r.GUID]; ok {
			continue
		}
		if status, ok := marks[r.GUID]; ok {
			r.Status = status
		}
		if grabbed(r.Status) {
			scored = append(scored, r)
		}
	}

	return scored, nil
}

func grabbed(status models.ResultStatus) bool {
	switch status {
	case models.ResultSnatched, models.ResultDownloading, models.ResultFinished:
		return true
	default:
		return false
	}
}

// overlay copies every field present on stored onto fresh.
func overlay(fresh, stored *models.SearchResult) {
	if stored.Score != 0 {
		fresh.Score = stored.Score
	}
	if stored.Size != 0 {
		fresh.Size = stored.Size
	}
	if stored.Category != "" {
		fresh.Category = stored.Category
	}
	if stored.Status != "" {
		fresh.Status = stored.Status
	}
	if stored.PubDate != "" {
		fresh.PubDate = stored.PubDate
	}
	if stored.Title != "" {
		fresh.Title = stored.Title
	}
	if stored.Indexer != "" {
		fresh.Indexer = stored.Indexer
	}
	if stored.DateFound != "" {
		fresh.DateFound = stored.DateFound
	}
	if stored.InfoLink != "" {
		fresh.InfoLink = stored.InfoLink
	}
	if stored.DownloadURL != "" {
		fresh.DownloadURL = stored.DownloadURL
	}
	if stored.DownloadID != "" {
		fresh.DownloadID = stored.DownloadID
	}
	if stored.Resolution != "" {
		fresh.Resolution = stored.Resolution
	}
	if stored.Kind != "" {
		fresh.Kind = stored.Kind
	}
}

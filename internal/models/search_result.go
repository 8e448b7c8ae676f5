// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/autobrr/watcher/internal/dbinterface"
)

var ErrSearchResultNotFound = errors.New("search result not found")

type ResultStatus string

const (
	ResultAvailable   ResultStatus = "Available"
	ResultSnatched    ResultStatus = "Snatched"
	ResultBad         ResultStatus = "Bad"
	ResultFinished    ResultStatus = "Finished"
	ResultDownloading ResultStatus = "Downloading"
)

type SearchResult struct {
	IMDBID      string       `json:"imdbid"`
	GUID        string       `json:"guid"`
	Score       int          `json:"score"`
	Size        int64        `json:"size"`
	Category    string       `json:"category"`
	Status      ResultStatus `json:"status"`
	PubDate     string       `json:"pubdate"`
	Title       string       `json:"title"`
	Indexer     string       `json:"indexer"`
	DateFound   string       `json:"date_found"`
	InfoLink    string       `json:"info_link"`
	DownloadURL string       `json:"download_url"`
	DownloadID  string       `json:"download_id,omitempty"`
	Resolution  string       `json:"resolution"`
	Kind        string       `json:"kind"`
}

var searchResultColumns = []string{
	"imdbid", "guid", "score", "size", "category", "status", "pub_date", "title",
	"indexer", "date_found", "info_link", "download_url", "download_id", "resolution", "kind",
}

func searchResultValues(r *SearchResult) []any {
	var downloadID any
	if r.DownloadID != "" {
		downloadID = r.DownloadID
	}

	status := r.Status
	if status == "" {
		status = ResultAvailable
	}
	kind := r.Kind
	if kind == "" {
		kind = "nzb"
	}

	return []any{
		r.IMDBID, r.GUID, r.Score, r.Size, r.Category, string(status), r.PubDate, r.Title,
		r.Indexer, r.DateFound, r.InfoLink, r.DownloadURL, downloadID, r.Resolution, kind,
	}
}

func scanSearchResult(row rowScanner) (*SearchResult, error) {
	var (
		r          SearchResult
		status     string
		downloadID sql.NullString
	)

	if err := row.Scan(
		&r.IMDBID, &r.GUID, &r.Score, &r.Size, &r.Category, &status, &r.PubDate, &r.Title,
		&r.Indexer, &r.DateFound, &r.InfoLink, &r.DownloadURL, &downloadID, &r.Resolution, &r.Kind,
	); err != nil {
		return nil, err
	}

	r.Status = ResultStatus(status)
	r.DownloadID = downloadID.String

	return &r, nil
}

type SearchResultStore struct {
	table *Table[*SearchResult]
}

func NewSearchResultStore(db dbinterface.Querier) *SearchResultStore {
	return &SearchResultStore{table: newTable(db, "search_results", searchResultColumns, searchResultValues, scanSearchResult)}
}

func (s *SearchResultStore) SetRetryPolicy(p RetryPolicy) {
	s.table.SetRetryPolicy(p)
}

// ListByMovie returns a movie's results best first.
func (s *SearchResultStore) ListByMovie(ctx context.Context, imdbID string) ([]*SearchResult, error) {
	return s.table.Where(ctx, "imdbid", imdbID, "score DESC", "size DESC")
}

func (s *SearchResultStore) GetByGUID(ctx context.Context, guid string) (*SearchResult, error) {
	return s.first(ctx, "guid", guid)
}

func (s *SearchResultStore) GetByDownloadID(ctx context.Context, downloadID string) (*SearchResult, error) {
	if downloadID == "" {
		return nil, ErrSearchResultNotFound
	}
	return s.first(ctx, "download_id", downloadID)
}

func (s *SearchResultStore) first(ctx context.Context, column, value string) (*SearchResult, error) {
	r, err := s.table.First(ctx, column, value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSearchResultNotFound
		}
		return nil, err
	}
	return r, nil
}

// Replace swaps a movie's stored results for results: purge, then batch
// insert. Callers must merge before replacing.
func (s *SearchResultStore) Replace(ctx context.Context, imdbID string, results []*SearchResult) error {
	if err := s.PurgeByMovie(ctx, imdbID); err != nil {
		return err
	}

	for _, r := range results {
		r.IMDBID = imdbID
	}

	if err := s.table.InsertBatch(ctx, results); err != nil {
		return fmt.Errorf("store results for %s: %w", imdbID, err)
	}
	return nil
}

func (s *SearchResultStore) PurgeByMovie(ctx context.Context, imdbID string) error {
	_, err := s.table.Delete(ctx, "imdbid", imdbID)
	return err
}

// UpdateStatus sets the status on every stored row with guid and reports
// whether any row matched.
func (s *SearchResultStore) UpdateStatus(ctx context.Context, guid string, status ResultStatus) (bool, error) {
	n, err := s.table.Update(ctx, "status", string(status), "guid", guid)
	return n > 0, err
}

func (s *SearchResultStore) SetDownloadID(ctx context.Context, guid, downloadID string) error {
	n, err := s.table.Update(ctx, "download_id", downloadID, "guid", guid)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrSearchResultNotFound
	}
	return nil
}

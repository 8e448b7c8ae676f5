// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"

	"github.com/autobrr/watcher/internal/dbinterface"
)

// MarkedResult pins a release status for a movie across search rounds.
type MarkedResult struct {
	IMDBID string       `json:"imdbid"`
	GUID   string       `json:"guid"`
	Status ResultStatus `json:"status"`
}

var markedResultColumns = []string{"imdbid", "guid", "status"}

type MarkedResultStore struct {
	table *Table[*MarkedResult]
}

func NewMarkedResultStore(db dbinterface.Querier) *MarkedResultStore {
	return &MarkedResultStore{table: newTable(db, "marked_results", markedResultColumns,
		func(m *MarkedResult) []any {
			return []any{m.IMDBID, m.GUID, string(m.Status)}
		},
		func(row rowScanner) (*MarkedResult, error) {
			var (
				m      MarkedResult
				status string
			)
			if err := row.Scan(&m.IMDBID, &m.GUID, &status); err != nil {
				return nil, err
			}
			m.Status = ResultStatus(status)
			return &m, nil
		},
	)}
}

func (s *MarkedResultStore) SetRetryPolicy(p RetryPolicy) {
	s.table.SetRetryPolicy(p)
}

// Mark records status for (imdbID, guid), replacing any earlier mark.
func (s *MarkedResultStore) Mark(ctx context.Context, imdbID, guid string, status ResultStatus) error {
	_, err := s.table.exec(ctx, "mark", `
		INSERT INTO marked_results (imdbid, guid, status) VALUES (?, ?, ?)
		ON CONFLICT(imdbid, guid) DO UPDATE SET status = excluded.status
	`, imdbID, guid, string(status))
	return err
}

// ListByMovie returns the pinned statuses for a movie keyed by guid.
func (s *MarkedResultStore) ListByMovie(ctx context.Context, imdbID string) (map[string]ResultStatus, error) {
	rows, err := s.table.Where(ctx, "imdbid", imdbID)
	if err != nil {
		return nil, err
	}

	marks := make(map[string]ResultStatus, len(rows))
	for _, m := range rows {
		marks[m.GUID] = m.Status
	}
	return marks, nil
}

func (s *MarkedResultStore) All(ctx context.Context) ([]*MarkedResult, error) {
	return s.table.All(ctx, "imdbid", "guid")
}

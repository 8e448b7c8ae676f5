// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/autobrr/watcher/internal/dbinterface"
)

// DateLayout is the calendar-date format used for stored dates.
const DateLayout = "2006-01-02"

var (
	ErrMovieNotFound = errors.New("movie not found")
	ErrMovieExists   = errors.New("movie already exists")
)

type MovieStatus string

const (
	MovieWanted      MovieStatus = "Wanted"
	MovieFound       MovieStatus = "Found"
	MovieSnatched    MovieStatus = "Snatched"
	MovieDownloading MovieStatus = "Downloading"
	MovieFinished    MovieStatus = "Finished"
	MovieDisabled    MovieStatus = "Disabled"
)

var MovieStatuses = []MovieStatus{MovieWanted, MovieFound, MovieSnatched, MovieDownloading, MovieFinished, MovieDisabled}

// PredbStatus is tri-state: unknown until the first check runs.
type PredbStatus string

const (
	PredbUnknown  PredbStatus = ""
	PredbNotFound PredbStatus = "missing"
	PredbFound    PredbStatus = "found"
)

// QualityProfile is stored as an opaque JSON blob on the movie.
type QualityProfile struct {
	Resolutions []string `json:"resolutions"`
	Required    []string `json:"required,omitempty"`
	Ignored     []string `json:"ignored,omitempty"`
	Preferred   []string `json:"preferred,omitempty"`
	MinSizeMB   int64    `json:"minSizeMB,omitempty"`
	MaxSizeMB   int64    `json:"maxSizeMB,omitempty"`
}

type Movie struct {
	IMDBID        string         `json:"imdbid"`
	Title         string         `json:"title"`
	Year          int            `json:"year"`
	Poster        string         `json:"poster,omitempty"`
	Plot          string         `json:"plot,omitempty"`
	Released      string         `json:"released,omitempty"`
	Rated         string         `json:"rated,omitempty"`
	Status        MovieStatus    `json:"status"`
	Predb         PredbStatus    `json:"predb"`
	Quality       QualityProfile `json:"quality"`
	FinishedDate  *time.Time     `json:"finished_date,omitempty"`
	FinishedScore *int           `json:"finished_score,omitempty"`
	AddedAt       time.Time      `json:"added_at"`
}

// InKeepSearchingWindow reports whether a Finished movie may still be
// re-searched on the calendar day of now.
func (m *Movie) InKeepSearchingWindow(now time.Time, days int) bool {
	if m.Status != MovieFinished || m.FinishedDate == nil {
		return false
	}

	y, mo, d := now.Date()
	today := time.Date(y, mo, d, 0, 0, 0, 0, time.UTC)
	fy, fmo, fd := m.FinishedDate.Date()
	until := time.Date(fy, fmo, fd, 0, 0, 0, 0, time.UTC).AddDate(0, 0, days)

	return !today.After(until)
}

var movieColumns = []string{
	"imdbid", "title", "year", "poster", "plot", "released", "rated",
	"status", "predb", "quality", "finished_date", "finished_score", "added_at",
}

type MovieStore struct {
	table *Table[*Movie]
}

func NewMovieStore(db dbinterface.Querier) *MovieStore {
	return &MovieStore{table: newTable(db, "movies", movieColumns, movieValues, scanMovie)}
}

func (s *MovieStore) SetRetryPolicy(p RetryPolicy) {
	s.table.SetRetryPolicy(p)
}

func movieValues(m *Movie) []any {
	quality, err := json.Marshal(m.Quality)
	if err != nil {
		quality = []byte("{}")
	}

	var finishedDate any
	if m.FinishedDate != nil {
		finishedDate = m.FinishedDate.Format(DateLayout)
	}

	var finishedScore any
	if m.FinishedScore != nil {
		finishedScore = *m.FinishedScore
	}

	status := m.Status
	if status == "" {
		status = MovieWanted
	}

	addedAt := m.AddedAt
	if addedAt.IsZero() {
		addedAt = time.Now().UTC()
	}

	return []any{
		m.IMDBID, m.Title, m.Year, m.Poster, m.Plot, m.Released, m.Rated,
		string(status), string(m.Predb), string(quality), finishedDate, finishedScore, addedAt,
	}
}

func scanMovie(row rowScanner) (*Movie, error) {
	var (
		m             Movie
		status, predb string
		quality       string
		finishedDate  sql.NullString
		finishedScore sql.NullInt64
	)

	if err := row.Scan(
		&m.IMDBID, &m.Title, &m.Year, &m.Poster, &m.Plot, &m.Released, &m.Rated,
		&status, &predb, &quality, &finishedDate, &finishedScore, &m.AddedAt,
	); err != nil {
		return nil, err
	}

	m.Status = MovieStatus(status)
	m.Predb = PredbStatus(predb)

	if quality != "" {
		if err := json.Unmarshal([]byte(quality), &m.Quality); err != nil {
			return nil, fmt.Errorf("decode quality profile for %s: %w", m.IMDBID, err)
		}
	}

	if finishedDate.Valid && finishedDate.String != "" {
		if t, err := time.Parse(DateLayout, finishedDate.String); err == nil {
			m.FinishedDate = &t
		}
	}

	if finishedScore.Valid {
		score := int(finishedScore.Int64)
		m.FinishedScore = &score
	}

	return &m, nil
}

func (s *MovieStore) Add(ctx context.Context, m *Movie) error {
	if m.IMDBID == "" {
		return errors.New("movie imdbid is required")
	}

	if err := s.table.Insert(ctx, m); err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%s: %w", m.IMDBID, ErrMovieExists)
		}
		return err
	}
	return nil
}

func (s *MovieStore) Get(ctx context.Context, imdbID string) (*Movie, error) {
	m, err := s.table.First(ctx, "imdbid", imdbID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMovieNotFound
		}
		return nil, err
	}
	return m, nil
}

func (s *MovieStore) Exists(ctx context.Context, imdbID string) (bool, error) {
	return s.table.Exists(ctx, "imdbid", imdbID)
}

func (s *MovieStore) List(ctx context.Context) ([]*Movie, error) {
	return s.table.All(ctx, "title", "year")
}

func (s *MovieStore) ListByStatus(ctx context.Context, status MovieStatus) ([]*Movie, error) {
	return s.table.Where(ctx, "status", string(status), "title")
}

func (s *MovieStore) updateColumn(ctx context.Context, imdbID, column string, value any) error {
	n, err := s.table.Update(ctx, column, value, "imdbid", imdbID)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrMovieNotFound
	}
	return nil
}

func (s *MovieStore) UpdateStatus(ctx context.Context, imdbID string, status MovieStatus) error {
	return s.updateColumn(ctx, imdbID, "status", string(status))
}

func (s *MovieStore) UpdatePredb(ctx context.Context, imdbID string, predb PredbStatus) error {
	return s.updateColumn(ctx, imdbID, "predb", string(predb))
}

func (s *MovieStore) UpdateQuality(ctx context.Context, imdbID string, quality QualityProfile) error {
	blob, err := json.Marshal(quality)
	if err != nil {
		return fmt.Errorf("encode quality profile: %w", err)
	}
	return s.updateColumn(ctx, imdbID, "quality", string(blob))
}

// MarkFinished records the finish date and, when known, the score of the
// release that finished the movie.
func (s *MovieStore) MarkFinished(ctx context.Context, imdbID string, date time.Time, score *int) error {
	if err := s.updateColumn(ctx, imdbID, "finished_date", date.Format(DateLayout)); err != nil {
		return err
	}
	if score == nil {
		return nil
	}
	return s.updateColumn(ctx, imdbID, "finished_score", *score)
}

func (s *MovieStore) Remove(ctx context.Context, imdbID string) error {
	n, err := s.table.Delete(ctx, "imdbid", imdbID)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrMovieNotFound
	}
	return nil
}

func (s *MovieStore) Statuses(ctx context.Context) ([]string, error) {
	return s.table.Distinct(ctx, "status")
}

func (s *MovieStore) CountByStatus(ctx context.Context) (map[MovieStatus]int, error) {
	rows, err := s.table.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM movies GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("count movies by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[MovieStatus]int, len(MovieStatuses))
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[MovieStatus(status)] = n
	}

	return counts, rows.Err()
}

// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package postprocessing files completed downloads and retires failed ones.
package postprocessing

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"github.com/autobrr/watcher/internal/domain"
	"github.com/autobrr/watcher/internal/models"
	"github.com/autobrr/watcher/pkg/releases"
)

// minParsedFields is the least a filename has to yield before the parent
// folder is parsed instead.
const minParsedFields = 3

var illegalChars = regexp.MustCompile(`[:"*?<>|]+`)

// exactKeys hold filesystem locations or release identifiers and are never
// sanitized.
var exactKeys = map[string]bool{
	"path":       true,
	"filename":   true,
	"guid":       true,
	"guid2":      true,
	"downloadid": true,
}

type ResultStore interface {
	GetByGUID(ctx context.Context, guid string) (*models.SearchResult, error)
	GetByDownloadID(ctx context.Context, downloadID string) (*models.SearchResult, error)
	UpdateStatus(ctx context.Context, guid string, status models.ResultStatus) (bool, error)
}

type MarkStore interface {
	Mark(ctx context.Context, imdbID, guid string, status models.ResultStatus) error
}

type MovieStore interface {
	Get(ctx context.Context, imdbID string) (*models.Movie, error)
	MarkFinished(ctx context.Context, imdbID string, date time.Time, score *int) error
}

type StatusUpdater interface {
	UpdateMovieStatus(ctx context.Context, imdbID string) (models.MovieStatus, error)
}

type MetadataSearcher interface {
	SearchByTitle(ctx context.Context, title, year string) (*models.Movie, error)
}

type Grabber interface {
	AutoGrab(ctx context.Context, imdbID string) (bool, error)
}

// RunCount is the number of processed requests for one mode and match result.
type RunCount struct {
	Mode    Mode
	Matched bool
	Count   uint64
}

type runKey struct {
	mode    Mode
	matched bool
}

type Service struct {
	config   domain.ConfigProvider
	fs       afero.Fs
	parser   *releases.Parser
	results  ResultStore
	marks    MarkStore
	movies   MovieStore
	status   StatusUpdater
	metadata MetadataSearcher
	grabber  Grabber
	now      func() time.Time

	statsMu  sync.Mutex
	runs     map[runKey]uint64
	rejected uint64
}

func NewService(config domain.ConfigProvider, fs afero.Fs, parser *releases.Parser, results ResultStore, marks MarkStore, movies MovieStore, status StatusUpdater, metadata MetadataSearcher, grabber Grabber) *Service {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if parser == nil {
		parser = releases.NewDefaultParser()
	}
	return &Service{
		config:   config,
		fs:       fs,
		parser:   parser,
		results:  results,
		marks:    marks,
		movies:   movies,
		status:   status,
		metadata: metadata,
		grabber:  grabber,
		now:      time.Now,
		runs:     make(map[runKey]uint64),
	}
}

// Stats returns per-mode run counts and how many requests were rejected.
func (s *Service) Stats() ([]RunCount, uint64) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()

	out := make([]RunCount, 0, len(s.runs))
	for k, v := range s.runs {
		out = append(out, RunCount{Mode: k.mode, Matched: k.matched, Count: v})
	}
	return out, s.rejected
}

func (s *Service) countRun(mode Mode, matched bool) {
	s.statsMu.Lock()
	s.runs[runKey{mode: mode, matched: matched}]++
	s.statsMu.Unlock()
}

// Reject records a request that failed validation before reaching Process.
func (s *Service) Reject() {
	s.statsMu.Lock()
	s.rejected++
	s.statsMu.Unlock()
}

// Process validates req and runs the complete or failed branch. Validation
// errors leave the store untouched. Filesystem problems never fail the call;
// they are reported in the outcome's tasks.
func (s *Service) Process(ctx context.Context, req Request) (*Outcome, error) {
	cfg := s.config.Current()
	if err := req.validate(cfg.APIKey); err != nil {
		s.Reject()
		log.Info().Err(err).Msg("post-processing request rejected")
		return nil, err
	}

	logger := log.With().Str("mode", string(req.Mode)).Str("guid", req.GUID).Logger()
	logger.Info().Str("path", req.Path).Msg("post-processing request received")

	data := map[string]string{
		"mode":       string(req.Mode),
		"guid":       req.GUID,
		"path":       req.Path,
		"imdbid":     req.IMDBID,
		"downloadid": req.DownloadID,
	}

	data["filename"] = s.identifyFile(req.Path)

	for k, v := range s.parseRelease(data["filename"]).Fields() {
		if k == "imdbid" && data[k] != "" {
			continue
		}
		data[k] = v
	}

	matched, err := s.reconcile(ctx, data, cfg.ReplaceIllegal)
	if err != nil {
		return nil, err
	}

	for k, v := range data {
		if exactKeys[k] {
			continue
		}
		data[k] = illegalChars.ReplaceAllString(v, "")
	}

	var outcome *Outcome
	switch req.Mode {
	case ModeFailed:
		outcome = s.failed(ctx, cfg, data)
	default:
		outcome = s.complete(ctx, cfg, data)
	}

	s.countRun(req.Mode, matched)

	logger.Info().
		Str("imdbid", data["imdbid"]).
		Bool("matched", matched).
		Interface("tasks", outcome.Tasks).
		Msg("post-processing complete")

	return outcome, nil
}

// identifyFile returns path when it is a file, otherwise the largest file
// beneath it. An empty string means nothing was found.
func (s *Service) identifyFile(path string) string {
	info, err := s.fs.Stat(path)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("post-processing path not found")
		return ""
	}
	if !info.IsDir() {
		return path
	}

	var (
		biggest string
		size    int64 = -1
	)
	err = afero.Walk(s.fs, path, func(p string, fi os.FileInfo, err error) error {
		if err != nil {
			log.Warn().Err(err).Str("path", p).Msg("skipping unreadable path")
			return nil
		}
		if fi.IsDir() {
			return nil
		}
		if fi.Size() > size {
			biggest, size = p, fi.Size()
		}
		return nil
	})
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("failed to walk download directory")
	}

	if biggest != "" {
		log.Info().Str("file", biggest).Str("size", humanize.IBytes(uint64(size))).Msg("identified movie file")
	}
	return biggest
}

func (s *Service) parseRelease(filename string) releases.Info {
	if filename == "" {
		return releases.Info{}
	}

	info := s.parser.Parse(filepath.Base(filename))
	if info.Populated() >= minParsedFields {
		return info
	}

	parent := filepath.Base(filepath.Dir(filename))
	if parent == "." || parent == string(filepath.Separator) {
		return info
	}

	log.Debug().Str("file", filename).Msg("filename parse looks thin, parsing parent folder")
	return s.parser.Parse(parent)
}

// reconcile fills data from the stored result and movie, or from a metadata
// lookup when nothing local matches. It reports whether a local result was
// found.
func (s *Service) reconcile(ctx context.Context, data map[string]string, replaceIllegal string) (bool, error) {
	result, err := s.lookupResult(ctx, data)
	if err != nil {
		return false, err
	}

	if result == nil {
		if s.metadata == nil {
			return false, nil
		}
		movie, err := s.metadata.SearchByTitle(ctx, data["title"], data["year"])
		if err != nil {
			log.Warn().Err(err).Str("title", data["title"]).Msg("metadata lookup failed")
			return false, nil
		}
		if movie == nil {
			log.Info().Str("title", data["title"]).Str("year", data["year"]).Msg("no local or metadata match for download")
			return false, nil
		}
		mergeMovie(data, movie, replaceIllegal)
		return false, nil
	}

	movie, err := s.movies.Get(ctx, result.IMDBID)
	switch {
	case errors.Is(err, models.ErrMovieNotFound):
		log.Warn().Str("imdbid", result.IMDBID).Msg("search result has no movie")
		data["imdbid"] = result.IMDBID
	case err != nil:
		return true, fmt.Errorf("load movie: %w", err)
	default:
		mergeMovie(data, movie, replaceIllegal)
	}
	data["finishedscore"] = strconv.Itoa(result.Score)

	return true, nil
}

func (s *Service) lookupResult(ctx context.Context, data map[string]string) (*models.SearchResult, error) {
	result, err := s.results.GetByGUID(ctx, data["guid"])
	if err == nil {
		return result, nil
	}
	if !errors.Is(err, models.ErrSearchResultNotFound) {
		return nil, fmt.Errorf("lookup guid: %w", err)
	}

	result, err = s.results.GetByDownloadID(ctx, data["downloadid"])
	if errors.Is(err, models.ErrSearchResultNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup download id: %w", err)
	}

	if result.GUID != data["guid"] {
		log.Info().Str("guid2", result.GUID).Msg("download id matches a different guid")
		data["guid2"] = result.GUID
	}
	return result, nil
}

func mergeMovie(data map[string]string, m *models.Movie, replaceIllegal string) {
	fields := map[string]string{
		"imdbid":   m.IMDBID,
		"title":    m.Title,
		"poster":   m.Poster,
		"released": m.Released,
		"rated":    m.Rated,
	}
	if m.Year > 0 {
		fields["year"] = strconv.Itoa(m.Year)
	}
	for k, v := range fields {
		if v == "" && data[k] != "" {
			continue
		}
		data[k] = illegalChars.ReplaceAllString(v, replaceIllegal)
	}
}

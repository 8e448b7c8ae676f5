// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package postprocessing

import (
	"context"
	"io"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"github.com/autobrr/watcher/internal/domain"
	"github.com/autobrr/watcher/internal/models"
)

var (
	placeholder     = regexp.MustCompile(`\{([A-Za-z0-9_]+)\}`)
	repeatedSpaces  = regexp.MustCompile(` {2,}`)
	illegalDirChars = regexp.MustCompile(`["*?<>|]+`)
)

func (s *Service) failed(ctx context.Context, cfg domain.Config, data map[string]string) *Outcome {
	outcome := &Outcome{Status: StatusIncomplete, Data: data}
	imdbID := data["imdbid"]

	outcome.Tasks.GUID = s.markGUID(ctx, imdbID, data["guid"], models.ResultBad)
	if guid2 := data["guid2"]; guid2 != "" {
		outcome.Tasks.GUID2 = s.markGUID(ctx, imdbID, guid2, models.ResultBad)
	}

	outcome.Tasks.UpdateMovieStatus = s.updateStatus(ctx, imdbID)

	if cfg.CleanupFailed {
		outcome.Tasks.Cleanup = SwitchTask{Enabled: true, Path: data["path"], Response: s.cleanup(data["path"])}
	}

	if cfg.AutoGrab {
		outcome.Tasks.Autograb.Enabled = true
		if imdbID != "" && s.grabber != nil {
			grabbed, err := s.grabber.AutoGrab(ctx, imdbID)
			if err != nil {
				log.Error().Err(err).Str("imdbid", imdbID).Msg("autograb after failed download")
			}
			outcome.Tasks.Autograb.Response = grabbed
		}
	}

	outcome.Status = StatusFinished
	return outcome
}

func (s *Service) complete(ctx context.Context, cfg domain.Config, data map[string]string) *Outcome {
	outcome := &Outcome{Status: StatusIncomplete, Data: data}
	imdbID := data["imdbid"]
	data["finisheddate"] = s.now().Format(models.DateLayout)

	outcome.Tasks.GUID = s.markGUID(ctx, imdbID, data["guid"], models.ResultFinished)
	if guid2 := data["guid2"]; guid2 != "" {
		outcome.Tasks.GUID2 = s.markGUID(ctx, imdbID, guid2, models.ResultFinished)
	}

	recorded := true
	if imdbID != "" {
		var score *int
		if n, err := strconv.Atoi(data["finishedscore"]); err == nil {
			score = &n
		}
		if err := s.movies.MarkFinished(ctx, imdbID, s.now(), score); err != nil {
			recorded = false
			log.Error().Err(err).Str("imdbid", imdbID).Msg("failed to record finished date")
		}
	}

	outcome.Tasks.UpdateMovieStatus = s.updateStatus(ctx, imdbID)
	if !recorded {
		outcome.Tasks.UpdateMovieStatus.Response = false
	}

	if cfg.RenamerEnabled {
		outcome.Tasks.Renamer.Enabled = true
		data["orig_filename"] = data["filename"]
		if renamed, ok := s.rename(cfg, data); ok {
			data["filename"] = renamed
			outcome.Tasks.Renamer.Response = true
		}
	}

	if cfg.MoverEnabled {
		outcome.Tasks.Mover.Enabled = true
		if location, ok := s.move(cfg, data); ok {
			data["new_file_location"] = location
			outcome.Tasks.Mover.Response = true
		}
	}

	if cfg.CleanupEnabled {
		outcome.Tasks.Cleanup = SwitchTask{Enabled: true, Path: data["path"]}
		if outcome.Tasks.Mover.Enabled && outcome.Tasks.Mover.Response {
			outcome.Tasks.Cleanup.Response = s.cleanup(data["path"])
		} else {
			log.Info().Msg("skipping cleanup because the file was not moved")
		}
	}

	outcome.Status = StatusFinished
	return outcome
}

func (s *Service) markGUID(ctx context.Context, imdbID, guid string, status models.ResultStatus) GUIDTask {
	task := GUIDTask{GUID: guid}
	if guid == "" {
		return task
	}

	updated, err := s.results.UpdateStatus(ctx, guid, status)
	if err != nil {
		log.Error().Err(err).Str("guid", guid).Msg("failed to update search result")
	}
	task.SearchResults = updated

	if imdbID == "" {
		log.Info().Str("guid", guid).Msg("no imdb id known, not marking result")
		return task
	}
	if err := s.marks.Mark(ctx, imdbID, guid, status); err != nil {
		log.Error().Err(err).Str("guid", guid).Msg("failed to mark result")
		return task
	}
	task.MarkedResults = true
	return task
}

func (s *Service) updateStatus(ctx context.Context, imdbID string) MovieTask {
	if imdbID == "" {
		log.Info().Msg("no imdb id known, unable to update movie status")
		return MovieTask{}
	}
	status, err := s.status.UpdateMovieStatus(ctx, imdbID)
	if err != nil {
		log.Error().Err(err).Str("imdbid", imdbID).Msg("failed to update movie status")
		return MovieTask{}
	}
	return MovieTask{Response: true, Status: string(status)}
}

// rename applies the renamer template in the file's own directory and returns
// the new absolute filename.
func (s *Service) rename(cfg domain.Config, data map[string]string) (string, bool) {
	current := data["filename"]
	if current == "" {
		log.Info().Msg("no movie file to rename")
		return "", false
	}
	if !placeholder.MatchString(cfg.RenamerString) {
		log.Warn().Str("template", cfg.RenamerString).Msg("renamer template has no fields")
		return "", false
	}

	name := repeatedSpaces.ReplaceAllString(formatTemplate(cfg.RenamerString, data), " ")
	name = strings.TrimRight(name, " ")
	if strings.TrimSpace(name) == "" {
		log.Warn().Msg("renamed file would be blank")
		return "", false
	}
	name = illegalChars.ReplaceAllString(name+filepath.Ext(current), "")

	target := filepath.Join(filepath.Dir(current), name)
	log.Info().Str("from", filepath.Base(current)).Str("to", name).Msg("renaming movie file")
	if err := s.fs.Rename(current, target); err != nil {
		log.Error().Err(err).Str("file", current).Msg("renamer failed")
		return "", false
	}
	return target, true
}

// move places the file under the mover template's folder and returns its new
// location.
func (s *Service) move(cfg domain.Config, data map[string]string) (string, bool) {
	current := data["filename"]
	if current == "" {
		log.Info().Msg("no movie file to move")
		return "", false
	}

	folder := illegalDirChars.ReplaceAllString(formatTemplate(cfg.MoverPath, data), "")
	if strings.TrimSpace(folder) == "" {
		log.Warn().Str("template", cfg.MoverPath).Msg("mover path is blank")
		return "", false
	}
	folder = filepath.Clean(folder)

	if err := s.fs.MkdirAll(folder, 0o755); err != nil {
		log.Error().Err(err).Str("folder", folder).Msg("mover failed to create folder")
		return "", false
	}

	target := filepath.Join(folder, filepath.Base(current))
	log.Info().Str("from", current).Str("to", target).Msg("moving movie file")
	if err := s.moveFile(current, target); err != nil {
		log.Error().Err(err).Str("file", current).Msg("mover failed")
		return "", false
	}
	return target, true
}

// moveFile renames when possible and falls back to copy and delete across
// filesystems.
func (s *Service) moveFile(src, dst string) error {
	if err := s.fs.Rename(src, dst); err == nil {
		return nil
	}

	in, err := s.fs.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := s.fs.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		_ = s.fs.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return s.fs.Remove(src)
}

func (s *Service) cleanup(path string) bool {
	if path == "" {
		return false
	}
	exists, err := afero.Exists(s.fs, path)
	if err != nil || !exists {
		log.Warn().Str("path", path).Msg("cleanup path does not exist")
		return false
	}
	if err := s.fs.RemoveAll(path); err != nil {
		log.Error().Err(err).Str("path", path).Msg("could not delete path")
		return false
	}
	log.Info().Str("path", path).Msg("removed leftover files")
	return true
}

// formatTemplate substitutes {key} with data[key]. Unknown keys become empty.
func formatTemplate(tmpl string, data map[string]string) string {
	return placeholder.ReplaceAllStringFunc(tmpl, func(m string) string {
		return data[m[1:len(m)-1]]
	})
}

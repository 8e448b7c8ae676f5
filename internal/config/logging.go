// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

const defaultLogMaxSizeMB = 50

// InitDefaultLogger sets up console logging for commands that run before a
// config file has been read.
func InitDefaultLogger(version string) {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Logger.Output(consoleWriter(version))
}

// ApplyLogConfig re-applies level and outputs from the current config. It runs
// at startup and after every reload.
func (c *AppConfig) ApplyLogConfig() {
	zerolog.TimeFieldFormat = time.RFC3339
	cfg := c.Current()

	level := parseLogLevel(cfg.LogLevel)
	zerolog.SetGlobalLevel(level)

	out := consoleWriter(c.version)
	if cfg.LogPath != "" {
		rotator, err := newLogRotator(cfg.LogPath, cfg.LogMaxSize, cfg.LogMaxBackups)
		if err != nil {
			log.Error().Err(err).Str("path", cfg.LogPath).Msg("Failed to open log file, logging to stderr only")
		} else {
			out = io.MultiWriter(out, rotator)
		}
	}

	log.Logger = log.Logger.Output(out).Level(level)
}

func parseLogLevel(raw string) zerolog.Level {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(raw)))
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

func newLogRotator(path string, maxSizeMB, maxBackups int) (*lumberjack.Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	if maxSizeMB <= 0 {
		maxSizeMB = defaultLogMaxSizeMB
	}

	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: max(maxBackups, 0),
	}, nil
}

// consoleWriter pretty-prints for development builds and emits JSON otherwise.
func consoleWriter(version string) io.Writer {
	v := strings.ToLower(strings.TrimSpace(version))
	if v != "" && v != "dev" && !strings.HasSuffix(v, "-dev") {
		return os.Stderr
	}

	return zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
		PartsOrder: []string{zerolog.TimestampFieldName, zerolog.LevelFieldName, zerolog.MessageFieldName},
	}
}

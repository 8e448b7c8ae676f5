// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/autobrr/watcher/internal/domain"
)

// Validate reports every setting that would make a cycle misbehave. Values
// that have a sensible fallback elsewhere (search frequency, log level) are
// left alone.
func Validate(cfg *domain.Config) error {
	var errs []error

	if strings.TrimSpace(cfg.APIKey) == "" {
		errs = append(errs, errors.New("apiKey is required"))
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", cfg.Port))
	}
	if cfg.SearchTimeHour < 0 || cfg.SearchTimeHour > 23 {
		errs = append(errs, fmt.Errorf("searchTimeHour %d must be between 0 and 23", cfg.SearchTimeHour))
	}
	if cfg.SearchTimeMinute < 0 || cfg.SearchTimeMinute > 59 {
		errs = append(errs, fmt.Errorf("searchTimeMinute %d must be between 0 and 59", cfg.SearchTimeMinute))
	}
	if cfg.KeepSearching && cfg.KeepSearchingDays < 0 {
		errs = append(errs, errors.New("keepSearchingDays must not be negative"))
	}
	if cfg.RenamerEnabled && strings.TrimSpace(cfg.RenamerString) == "" {
		errs = append(errs, errors.New("renamerString is required when the renamer is enabled"))
	}
	if cfg.MoverEnabled && strings.TrimSpace(cfg.MoverPath) == "" {
		errs = append(errs, errors.New("moverPath is required when the mover is enabled"))
	}
	if q := cfg.Quality; q.MaxSizeMB > 0 && q.MinSizeMB > q.MaxSizeMB {
		errs = append(errs, fmt.Errorf("quality.minSizeMB %d exceeds maxSizeMB %d", q.MinSizeMB, q.MaxSizeMB))
	}

	for i, idx := range cfg.Indexers {
		if !idx.Enabled {
			continue
		}
		u, err := url.Parse(idx.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("indexers[%d] %q: url %q must be an absolute http(s) url", i, idx.Name, idx.URL))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

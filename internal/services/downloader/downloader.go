// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package downloader sends releases to a usenet download client.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/autobrr/watcher/internal/domain"
)

var ErrUnsupportedClient = errors.New("unsupported download client")

// Release is what a download client needs to start a download.
type Release struct {
	Title       string
	DownloadURL string
}

// Client starts downloads and returns the client's id for the job.
type Client interface {
	Name() string
	Add(ctx context.Context, release Release) (string, error)
}

// New builds the client configured in cfg.
func New(cfg domain.DownloaderConfig, httpClient *http.Client) (Client, error) {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	switch strings.ToLower(cfg.Type) {
	case "sabnzbd", "sab":
		return newSabnzbd(cfg, httpClient), nil
	case "nzbget":
		return newNZBGet(cfg, httpClient), nil
	default:
		return nil, fmt.Errorf("%q: %w", cfg.Type, ErrUnsupportedClient)
	}
}

func baseURL(cfg domain.DownloaderConfig) string {
	host := strings.TrimRight(cfg.Host, "/")
	if host == "" {
		host = "localhost"
	}
	if !strings.Contains(host, "://") {
		host = "http://" + host
	}
	if cfg.Port > 0 {
		host = fmt.Sprintf("%s:%d", host, cfg.Port)
	}
	return host
}

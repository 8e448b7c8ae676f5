// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package downloader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/autobrr/watcher/internal/buildinfo"
	"github.com/autobrr/watcher/internal/domain"
)

type sabnzbd struct {
	cfg        domain.DownloaderConfig
	base       string
	httpClient *http.Client
}

func newSabnzbd(cfg domain.DownloaderConfig, httpClient *http.Client) *sabnzbd {
	return &sabnzbd{cfg: cfg, base: baseURL(cfg), httpClient: httpClient}
}

func (s *sabnzbd) Name() string {
	return "sabnzbd"
}

type sabAddResponse struct {
	Status bool     `json:"status"`
	NzoIDs []string `json:"nzo_ids"`
	Error  string   `json:"error"`
}

var sabPriorities = map[string]string{
	"paused": "-2",
	"low":    "-1",
	"normal": "0",
	"high":   "1",
	"force":  "2",
}

func (s *sabnzbd) Add(ctx context.Context, release Release) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.base+"/sabnzbd/api", nil)
	if err != nil {
		return "", fmt.Errorf("build sabnzbd request: %w", err)
	}

	q := req.URL.Query()
	q.Set("mode", "addurl")
	q.Set("name", release.DownloadURL)
	q.Set("nzbname", release.Title)
	q.Set("output", "json")
	q.Set("apikey", s.cfg.APIKey)
	if s.cfg.Category != "" {
		q.Set("cat", s.cfg.Category)
	}
	if p, ok := sabPriorities[s.cfg.Priority]; ok {
		q.Set("priority", p)
	}
	req.URL.RawQuery = q.Encode()
	req.Header.Set("User-Agent", buildinfo.UserAgent)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("sabnzbd request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("sabnzbd returned status %d", resp.StatusCode)
	}

	var body sabAddResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode sabnzbd response: %w", err)
	}

	if !body.Status || len(body.NzoIDs) == 0 {
		msg := body.Error
		if msg == "" {
			msg = "no job id returned"
		}
		return "", errors.New("sabnzbd: " + msg)
	}

	return body.NzoIDs[0], nil
}

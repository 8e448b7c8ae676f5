// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package downloader

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/autobrr/watcher/internal/buildinfo"
	"github.com/autobrr/watcher/internal/domain"
)

type nzbget struct {
	cfg        domain.DownloaderConfig
	base       string
	httpClient *http.Client
}

func newNZBGet(cfg domain.DownloaderConfig, httpClient *http.Client) *nzbget {
	return &nzbget{cfg: cfg, base: baseURL(cfg), httpClient: httpClient}
}

func (n *nzbget) Name() string {
	return "nzbget"
}

type rpcRequest struct {
	Method string `json:"method"`
	Params []any  `json:"params"`
	ID     int    `json:"id"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error"`
}

var nzbgetPriorities = map[string]int{
	"low":    -50,
	"normal": 0,
	"high":   50,
	"force":  900,
}

func (n *nzbget) Add(ctx context.Context, release Release) (string, error) {
	// append(NZBFilename, Content, Category, Priority, AddToTop, AddPaused, DupeKey, DupeScore, DupeMode)
	payload := rpcRequest{
		Method: "append",
		Params: []any{
			release.Title + ".nzb",
			release.DownloadURL,
			n.cfg.Category,
			nzbgetPriorities[n.cfg.Priority],
			false,
			n.cfg.Priority == "paused",
			"",
			0,
			"SCORE",
		},
		ID: 1,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode nzbget request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.base+"/jsonrpc", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build nzbget request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", buildinfo.UserAgent)
	if n.cfg.Username != "" || n.cfg.Password != "" {
		req.SetBasicAuth(n.cfg.Username, n.cfg.Password)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("nzbget request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("nzbget returned status %d", resp.StatusCode)
	}

	var rpc rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpc); err != nil {
		return "", fmt.Errorf("decode nzbget response: %w", err)
	}
	if rpc.Error != nil {
		return "", errors.New("nzbget: " + rpc.Error.Message)
	}

	var id int64
	if err := json.Unmarshal(rpc.Result, &id); err != nil {
		return "", fmt.Errorf("decode nzbget job id: %w", err)
	}
	if id <= 0 {
		return "", errors.New("nzbget rejected the nzb")
	}

	return strconv.FormatInt(id, 10), nil
}

// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package newznab

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/autobrr/watcher/internal/buildinfo"
	"github.com/autobrr/watcher/internal/domain"
)

const maxResponseBytes int64 = 8 << 20

// StatusError is returned when an indexer answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Indexer    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("indexer %s returned status %d", e.Indexer, e.StatusCode)
}

func (e *StatusError) Is(target error) bool {
	_, ok := target.(*StatusError)
	return ok
}

// IsRateLimited returns true if the indexer asked us to back off.
func (e *StatusError) IsRateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// APIError is a newznab <error code="" description=""/> document.
type APIError struct {
	Code        int    `xml:"code,attr"`
	Description string `xml:"description,attr"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("newznab error %d: %s", e.Code, e.Description)
}

// Client queries a single newznab indexer.
type Client struct {
	name       string
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(cfg domain.IndexerConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	name := cfg.Name
	if name == "" {
		name = cfg.URL
	}

	return &Client{
		name:       name,
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
	}
}

func (c *Client) Name() string {
	return c.name
}

// Result is one release from an indexer feed.
type Result struct {
	Indexer     string
	Title       string
	GUID        string
	Link        string
	Comments    string
	PublishDate string
	Category    string
	Size        int64
	IMDBID      string
}

type rssFeed struct {
	XMLName xml.Name   `xml:"rss"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Items []rssItem `xml:"item"`
}

type rssItem struct {
	Title     string       `xml:"title"`
	GUID      string       `xml:"guid"`
	Link      string       `xml:"link"`
	Comments  string       `xml:"comments"`
	PubDate   string       `xml:"pubDate"`
	Category  string       `xml:"category"`
	Enclosure rssEnclosure `xml:"enclosure"`
	Attrs     []rssAttr    `xml:"attr"`
}

type rssEnclosure struct {
	URL    string `xml:"url,attr"`
	Length int64  `xml:"length,attr"`
}

type rssAttr struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// SearchMovie runs a t=movie query for imdbID.
func (c *Client) SearchMovie(ctx context.Context, imdbID string) ([]Result, error) {
	endpoint, err := url.JoinPath(c.baseURL, "api")
	if err != nil {
		return nil, fmt.Errorf("build search url for %s: %w", c.name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build search request for %s: %w", c.name, err)
	}

	query := req.URL.Query()
	query.Set("t", "movie")
	query.Set("imdbid", strings.TrimPrefix(imdbID, "tt"))
	query.Set("extended", "1")
	if c.apiKey != "" {
		query.Set("apikey", c.apiKey)
	}
	req.URL.RawQuery = query.Encode()
	req.Header.Set("User-Agent", buildinfo.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", c.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &StatusError{StatusCode: resp.StatusCode, Indexer: c.name}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response from %s: %w", c.name, err)
	}

	return c.parseFeed(body)
}

func (c *Client) parseFeed(body []byte) ([]Result, error) {
	var apiErr APIError
	if err := xml.Unmarshal(body, &apiErr); err == nil && apiErr.Description != "" {
		return nil, &apiErr
	}

	var feed rssFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("decode feed from %s: %w", c.name, err)
	}

	results := make([]Result, 0, len(feed.Channel.Items))
	for _, item := range feed.Channel.Items {
		results = append(results, c.convertItem(item))
	}

	return results, nil
}

func (c *Client) convertItem(item rssItem) Result {
	r := Result{
		Indexer:     c.name,
		Title:       strings.TrimSpace(item.Title),
		GUID:        strings.TrimSpace(item.GUID),
		Link:        item.Enclosure.URL,
		Comments:    item.Comments,
		PublishDate: item.PubDate,
		Category:    item.Category,
		Size:        item.Enclosure.Length,
	}

	if r.Link == "" {
		r.Link = item.Link
	}
	if r.GUID == "" {
		r.GUID = r.Link
	}

	for _, attr := range item.Attrs {
		switch strings.ToLower(attr.Name) {
		case "size":
			if size, err := strconv.ParseInt(attr.Value, 10, 64); err == nil && size > 0 {
				r.Size = size
			}
		case "category":
			if r.Category == "" {
				r.Category = attr.Value
			}
		case "imdb":
			if attr.Value != "" {
				r.IMDBID = "tt" + strings.TrimPrefix(attr.Value, "tt")
			}
		}
	}

	return r
}

// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package newznab

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/watcher/internal/domain"
)

const movieFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:newznab="http://www.newznab.com/DTD/2010/feeds/attributes/">
<channel>
  <title>indexer</title>
  <item>
    <title>Movie.Title.2020.1080p.BluRay.x264-GROUP</title>
    <guid isPermaLink="true">https://indexer.example/details/abc</guid>
    <link>https://indexer.example/getnzb/abc.nzb</link>
    <comments>https://indexer.example/details/abc#comments</comments>
    <pubDate>Sat, 01 Feb 2020 10:00:00 +0000</pubDate>
    <category>Movies &gt; HD</category>
    <enclosure url="https://indexer.example/getnzb/abc.nzb&amp;i=1" length="0" type="application/x-nzb"/>
    <newznab:attr name="size" value="8589934592"/>
    <newznab:attr name="imdb" value="1234567"/>
  </item>
  <item>
    <title>Movie.Title.2020.720p.WEB-DL-OTHER</title>
    <guid>def</guid>
    <link>https://indexer.example/getnzb/def.nzb</link>
    <enclosure url="" length="1048576" type="application/x-nzb"/>
  </item>
</channel>
</rss>`

func TestStatusError(t *testing.T) {
	tests := []struct {
		name        string
		statusCode  int
		wantMsg     string
		rateLimited bool
	}{
		{name: "429 rate limited", statusCode: http.StatusTooManyRequests, wantMsg: "indexer nzb returned status 429", rateLimited: true},
		{name: "500 server error", statusCode: http.StatusInternalServerError, wantMsg: "indexer nzb returned status 500"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := &StatusError{StatusCode: tt.statusCode, Indexer: "nzb"}
			assert.Equal(t, tt.wantMsg, err.Error())
			assert.Equal(t, tt.rateLimited, err.IsRateLimited())
			assert.True(t, errors.Is(error(err), &StatusError{}))
		})
	}
}

func TestClientSearchMovie(t *testing.T) {
	var gotQuery atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api", r.URL.Path)
		gotQuery.Store(r.URL.Query())
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(movieFeed))
	}))
	defer srv.Close()

	client := NewClient(domain.IndexerConfig{Name: "nzb", URL: srv.URL + "/", APIKey: "secret", Enabled: true}, srv.Client())

	results, err := client.SearchMovie(t.Context(), "tt1234567")
	require.NoError(t, err)
	require.Len(t, results, 2)

	q := gotQuery.Load().(url.Values)
	assert.Equal(t, "movie", q.Get("t"))
	assert.Equal(t, "1234567", q.Get("imdbid"))
	assert.Equal(t, "secret", q.Get("apikey"))

	first := results[0]
	assert.Equal(t, "nzb", first.Indexer)
	assert.Equal(t, "https://indexer.example/details/abc", first.GUID)
	assert.Equal(t, "https://indexer.example/getnzb/abc.nzb&i=1", first.Link)
	assert.Equal(t, int64(8589934592), first.Size)
	assert.Equal(t, "tt1234567", first.IMDBID)
	assert.Equal(t, "Movies > HD", first.Category)

	second := results[1]
	assert.Equal(t, "def", second.GUID)
	assert.Equal(t, "https://indexer.example/getnzb/def.nzb", second.Link, "falls back to <link> without an enclosure url")
	assert.Equal(t, int64(1048576), second.Size)
}

func TestClientSearchMovieErrors(t *testing.T) {
	t.Run("api error document", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`<?xml version="1.0"?><error code="100" description="Incorrect user credentials"/>`))
		}))
		defer srv.Close()

		_, err := NewClient(domain.IndexerConfig{URL: srv.URL}, srv.Client()).SearchMovie(t.Context(), "tt1")
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, 100, apiErr.Code)
	})

	t.Run("http status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer srv.Close()

		_, err := NewClient(domain.IndexerConfig{Name: "busy", URL: srv.URL}, srv.Client()).SearchMovie(t.Context(), "tt1")
		var statusErr *StatusError
		require.ErrorAs(t, err, &statusErr)
		assert.True(t, statusErr.IsRateLimited())
	})
}

func TestServiceSearchAllMergesIndexers(t *testing.T) {
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(movieFeed))
	}))
	defer good.Close()

	dup := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(movieFeed))
	}))
	defer dup.Close()

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer broken.Close()

	cfg := domain.StaticConfig{Indexers: []domain.IndexerConfig{
		{Name: "good", URL: good.URL, Enabled: true},
		{Name: "dup", URL: dup.URL, Enabled: true},
		{Name: "broken", URL: broken.URL, Enabled: true},
		{Name: "off", URL: "http://127.0.0.1:1", Enabled: false},
	}}

	svc := NewService(cfg, nil)
	results, err := svc.SearchAll(t.Context(), "tt1234567")
	require.NoError(t, err)
	require.Len(t, results, 2, "duplicate guids across indexers collapse")

	for _, r := range results {
		assert.Equal(t, "tt1234567", r.IMDBID)
		assert.Equal(t, "nzb", r.Kind)
		assert.Empty(t, r.DateFound)
		assert.Empty(t, r.Status)
	}
}

func TestServiceSearchAllWithoutIndexers(t *testing.T) {
	results, err := NewService(domain.StaticConfig{}, nil).SearchAll(t.Context(), "tt1")
	require.NoError(t, err)
	assert.Empty(t, results)
}

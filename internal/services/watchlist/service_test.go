// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package watchlist

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/watcher/internal/domain"
	"github.com/autobrr/watcher/internal/models"
)

const rss = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Watchlist</title>
    <lastBuildDate>Mon, 10 Jun 2024 12:00:00 GMT</lastBuildDate>
    <item>
      <title>New Movie (2024)</title>
      <link>http://www.imdb.com/title/tt3000000/</link>
      <pubDate>Mon, 10 Jun 2024 11:00:00 GMT</pubDate>
    </item>
    <item>
      <title>Already Tracked (2023)</title>
      <link>http://www.imdb.com/title/tt2000000/</link>
      <pubDate>Sun, 09 Jun 2024 11:00:00 GMT</pubDate>
    </item>
    <item>
      <title>Unknown (2022)</title>
      <link>http://www.imdb.com/title/tt2500000/</link>
      <pubDate>Sat, 08 Jun 2024 11:00:00 GMT</pubDate>
    </item>
    <item>
      <title>Old Movie (1999)</title>
      <link>http://www.imdb.com/title/tt1000000/</link>
      <pubDate>Mon, 01 Jan 2024 11:00:00 GMT</pubDate>
    </item>
  </channel>
</rss>`

type fakeLibrary struct {
	existing map[string]bool
	unknown  map[string]bool
	added    []string
}

func (f *fakeLibrary) Exists(ctx context.Context, imdbID string) (bool, error) {
	return f.existing[imdbID], nil
}

func (f *fakeLibrary) AddMovie(ctx context.Context, imdbID string) (*models.Movie, error) {
	if f.unknown[imdbID] {
		return nil, errors.New("not found")
	}
	f.added = append(f.added, imdbID)
	f.existing[imdbID] = true
	return &models.Movie{IMDBID: imdbID}, nil
}

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/list" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(rss))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSyncAddsNewMoviesSinceLastBuild(t *testing.T) {
	srv := newServer(t)
	fs := afero.NewMemMapFs()
	lib := &fakeLibrary{existing: map[string]bool{"tt2000000": true}, unknown: map[string]bool{"tt2500000": true}}
	feedURL := srv.URL + "/list"

	require.NoError(t, afero.WriteFile(fs, "/data/"+stateFile, []byte(`{"`+feedURL+`":"Fri, 01 Mar 2024 00:00:00 GMT"}`), 0o644))

	svc := NewService(domain.StaticConfig{IMDBWatchlistURLs: []string{feedURL}}, fs, "/data", srv.Client(), lib)

	added, err := svc.Sync(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	assert.Equal(t, []string{"tt3000000"}, lib.added)

	raw, err := afero.ReadFile(fs, filepath.Join("/data", stateFile))
	require.NoError(t, err)
	var state map[string]string
	require.NoError(t, json.Unmarshal(raw, &state))
	assert.Equal(t, "Mon, 10 Jun 2024 12:00:00 GMT", state[feedURL])

	added, err = svc.Sync(t.Context())
	require.NoError(t, err)
	assert.Zero(t, added)
	assert.Len(t, lib.added, 1)
}

func TestSyncWithoutStateUsesDefaultDate(t *testing.T) {
	srv := newServer(t)
	lib := &fakeLibrary{existing: map[string]bool{}, unknown: map[string]bool{}}
	svc := NewService(domain.StaticConfig{IMDBWatchlistURLs: []string{srv.URL + "/list"}}, afero.NewMemMapFs(), "/state", srv.Client(), lib)

	added, err := svc.Sync(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 4, added)
}

func TestSyncContinuesPastFailingList(t *testing.T) {
	srv := newServer(t)
	lib := &fakeLibrary{existing: map[string]bool{}, unknown: map[string]bool{}}
	cfg := domain.StaticConfig{IMDBWatchlistURLs: []string{srv.URL + "/missing", srv.URL + "/list"}}
	svc := NewService(cfg, afero.NewMemMapFs(), "/state", srv.Client(), lib)

	added, err := svc.Sync(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/missing")
	assert.Equal(t, 4, added)
}

func TestImdbIDFromLink(t *testing.T) {
	tests := map[string]string{
		"http://www.imdb.com/title/tt0133093/":                "tt0133093",
		"https://www.imdb.com/title/tt0133093":                "tt0133093",
		"https://www.imdb.com/title/tt0133093/?ref_=wl_li_tt": "tt0133093",
		"https://www.imdb.com/list/ls000000/":                 "",
		"":                                                    "",
	}
	for link, want := range tests {
		assert.Equal(t, want, imdbIDFromLink(link), link)
	}
}

// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/autobrr/watcher/internal/api/openapi"
	"github.com/autobrr/watcher/internal/domain"
	"github.com/autobrr/watcher/internal/models"
	"github.com/autobrr/watcher/internal/services/postprocessing"
	"github.com/autobrr/watcher/internal/services/searcher"
)

const testAPIKey = "secret"

type routeKey struct {
	Method string
	Path   string
}

type fakeLibrary struct {
	mu     sync.Mutex
	movies map[string]*models.Movie
}

func (f *fakeLibrary) Get(_ context.Context, imdbID string) (*models.Movie, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.movies[imdbID]
	if !ok {
		return nil, models.ErrMovieNotFound
	}
	return m, nil
}

func (f *fakeLibrary) List(_ context.Context) ([]*models.Movie, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*models.Movie, 0, len(f.movies))
	for _, m := range f.movies {
		out = append(out, m)
	}
	return out, nil
}

func (f *fakeLibrary) AddMovie(_ context.Context, imdbID string) (*models.Movie, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.movies[imdbID]; ok {
		return nil, fmt.Errorf("%s: %w", imdbID, models.ErrMovieExists)
	}
	m := &models.Movie{IMDBID: imdbID, Title: "Added Movie", Year: 2021, Status: models.MovieWanted}
	f.movies[imdbID] = m
	return m, nil
}

func (f *fakeLibrary) RemoveMovie(_ context.Context, imdbID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.movies[imdbID]; !ok {
		return models.ErrMovieNotFound
	}
	delete(f.movies, imdbID)
	return nil
}

type fakeResults struct{}

func (fakeResults) ListByMovie(_ context.Context, imdbID string) ([]*models.SearchResult, error) {
	return []*models.SearchResult{{IMDBID: imdbID, GUID: "guid-1", Score: 120, Status: models.ResultAvailable}}, nil
}

type fakeSearcher struct{}

func (fakeSearcher) SearchAndGrab(_ context.Context, imdbID string) (bool, error) {
	if imdbID == "tt0000000" {
		return false, models.ErrMovieNotFound
	}
	return true, nil
}

type fakeScheduler struct {
	next   time.Time
	rounds chan struct{}
}

func (f *fakeScheduler) NextSearch() time.Time { return f.next }

func (f *fakeScheduler) History(limit int) []searcher.RoundReport {
	return []searcher.RoundReport{{RunID: "run-1", Movies: limit}}
}

func (f *fakeScheduler) RunNow(_ context.Context) searcher.RoundReport {
	f.rounds <- struct{}{}
	return searcher.RoundReport{RunID: "manual"}
}

type fakeProcessor struct {
	mu       sync.Mutex
	got      postprocessing.Request
	rejected int
}

func (f *fakeProcessor) Process(_ context.Context, req postprocessing.Request) (*postprocessing.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = req
	if req.APIKey != testAPIKey {
		f.rejected++
		return nil, postprocessing.ErrIncorrectAPIKey
	}
	return &postprocessing.Outcome{Status: postprocessing.StatusFinished, Data: map[string]string{"guid": req.GUID}}, nil
}

func (f *fakeProcessor) Reject() {
	f.mu.Lock()
	f.rejected++
	f.mu.Unlock()
}

type testServer struct {
	router    *chi.Mux
	scheduler *fakeScheduler
	processor *fakeProcessor
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	scheduler := &fakeScheduler{
		next:   time.Date(2025, 3, 1, 3, 30, 0, 0, time.UTC),
		rounds: make(chan struct{}, 1),
	}
	processor := &fakeProcessor{}

	server := NewServer(&Dependencies{
		Config:  domain.StaticConfig(domain.Config{APIKey: testAPIKey, BaseURL: "/"}),
		Version: "test",
		Library: &fakeLibrary{movies: map[string]*models.Movie{
			"tt0133093": {IMDBID: "tt0133093", Title: "The Matrix", Year: 1999, Status: models.MovieFound},
		}},
		Results:       fakeResults{},
		Searcher:      fakeSearcher{},
		Scheduler:     scheduler,
		PostProcessor: processor,
	})

	router, err := server.Handler()
	require.NoError(t, err)

	return &testServer{router: router, scheduler: scheduler, processor: processor}
}

func (ts *testServer) do(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)

	var body map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") && strings.HasPrefix(strings.TrimSpace(rec.Body.String()), "{") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestAllEndpointsDocumented(t *testing.T) {
	ts := newTestServer(t)

	actualRoutes := collectRouterRoutes(t, ts.router)
	documentedRoutes := loadDocumentedRoutes(t)

	undocumented := diffRoutes(actualRoutes, documentedRoutes)
	if len(undocumented) > 0 {
		t.Fatalf("found %d undocumented API endpoints:\n%s", len(undocumented), formatRoutes(undocumented))
	}

	missingHandlers := diffRoutes(documentedRoutes, actualRoutes)
	if len(missingHandlers) > 0 {
		t.Fatalf("found %d documented endpoints without handlers:\n%s", len(missingHandlers), formatRoutes(missingHandlers))
	}

	t.Logf("checked %d API routes registered in chi", len(actualRoutes))
}

func TestLegacyAPI(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		response bool
		error    string
		check    func(t *testing.T, body map[string]any)
	}{
		{name: "no_api_key", query: "mode=version", error: "no api key supplied"},
		{name: "wrong_api_key", query: "apikey=nope&mode=version", error: "incorrect api key"},
		{name: "no_mode", query: "apikey=secret", error: "no api mode specified"},
		{name: "unknown_mode", query: "apikey=secret&mode=dance", error: "invalid mode"},
		{name: "add_without_imdbid", query: "apikey=secret&mode=addmovie", error: "no imdbid supplied"},
		{name: "remove_without_imdbid", query: "apikey=secret&mode=removemovie", error: "no imdbid supplied"},
		{name: "remove_unknown", query: "apikey=secret&mode=removemovie&imdbid=tt9999999", error: "tt9999999 does not exist"},
		{
			name:     "version",
			query:    "apikey=secret&mode=version",
			response: true,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, "test", body["version"])
				assert.Equal(t, "2025-03-01T03:30:00Z", body["next_search"])
			},
		},
		{
			name:     "liststatus_single",
			query:    "apikey=secret&mode=liststatus&imdbid=tt0133093",
			response: true,
			check: func(t *testing.T, body map[string]any) {
				movie := body["movie"].(map[string]any)
				assert.Equal(t, "The Matrix", movie["title"])
				assert.Equal(t, "Found", movie["status"])
			},
		},
		{
			name:     "liststatus_all",
			query:    "apikey=secret&mode=liststatus",
			response: true,
			check: func(t *testing.T, body map[string]any) {
				assert.Len(t, body["movies"], 1)
			},
		},
		{
			name:     "addmovie",
			query:    "apikey=secret&mode=addmovie&imdbid=tt0234215",
			response: true,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, "Added Movie (2021) added to library", body["message"])
			},
		},
		{
			name:     "removemovie",
			query:    "apikey=secret&mode=removemovie&imdbid=tt0133093",
			response: true,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, "tt0133093", body["removed"])
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)

			rec, body := ts.do(t, httptest.NewRequest(http.MethodGet, "/api?"+tt.query, nil))

			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.response, body["response"])
			if tt.error != "" {
				assert.Equal(t, tt.error, body["error"])
			}
			if tt.check != nil {
				tt.check(t, body)
			}
		})
	}
}

func TestPostProcessingReportsFirstMissingKey(t *testing.T) {
	ts := newTestServer(t)

	rec, body := ts.do(t, httptest.NewRequest(http.MethodGet, "/postprocessing?apikey=secret&guid=g", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["response"])
	assert.Equal(t, "missing key: mode", body["error"])
	assert.Equal(t, 1, ts.processor.rejected)
}

func TestPostProcessingAcceptsHeaderKeyAndForm(t *testing.T) {
	ts := newTestServer(t)

	form := url.Values{}
	form.Set("mode", "complete")
	form.Set("guid", "https://indexer.example/getnzb/abc")
	form.Set("path", "/downloads/Movie.2020.1080p")

	req := httptest.NewRequest(http.MethodPost, "/postprocessing", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-API-Key", testAPIKey)

	rec, body := ts.do(t, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "finished", body["status"])
	assert.Equal(t, testAPIKey, ts.processor.got.APIKey)
	assert.Equal(t, "https://indexer.example/getnzb/abc", ts.processor.got.GUID)
	assert.Equal(t, postprocessing.ModeComplete, ts.processor.got.Mode)
}

func TestPostProcessingWrongKey(t *testing.T) {
	ts := newTestServer(t)

	rec, body := ts.do(t, httptest.NewRequest(http.MethodGet, "/postprocessing?apikey=nope&mode=complete&guid=g&path=/x", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "incorrect api key", body["error"])
}

func TestEmptyConfiguredKeyRejectsEmptyRequestKey(t *testing.T) {
	server := NewServer(&Dependencies{
		Config:        domain.StaticConfig(domain.Config{APIKey: "", BaseURL: "/"}),
		Version:       "test",
		Library:       &fakeLibrary{movies: map[string]*models.Movie{}},
		Results:       fakeResults{},
		Searcher:      fakeSearcher{},
		Scheduler:     &fakeScheduler{rounds: make(chan struct{}, 1)},
		PostProcessor: &fakeProcessor{},
	})
	router, err := server.Handler()
	require.NoError(t, err)
	ts := &testServer{router: router}

	rec, body := ts.do(t, httptest.NewRequest(http.MethodGet, "/api?apikey=&mode=removemovie&imdbid=tt0133093", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["response"])
	assert.Equal(t, "incorrect api key", body["error"])

	rec, _ = ts.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/movies?apikey=", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestV1RequiresAPIKey(t *testing.T) {
	ts := newTestServer(t)

	rec, _ := ts.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/movies", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/movies/tt0133093", nil)
	req.Header.Set("X-API-Key", testAPIKey)
	rec, body := ts.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "The Matrix", body["title"])

	rec, _ = ts.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/movies/tt7654321?apikey=secret", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestV1SearchEndpoints(t *testing.T) {
	ts := newTestServer(t)

	rec, body := ts.do(t, httptest.NewRequest(http.MethodPost, "/api/v1/movies/tt0133093/search?apikey=secret", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["found"])

	rec, _ = ts.do(t, httptest.NewRequest(http.MethodPost, "/api/v1/movies/tt0000000/search?apikey=secret", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = ts.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/search/rounds?apikey=secret&limit=500", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var rounds []searcher.RoundReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rounds))
	require.Len(t, rounds, 1)
	assert.Equal(t, 50, rounds[0].Movies, "limit is capped")

	rec, _ = ts.do(t, httptest.NewRequest(http.MethodPost, "/api/v1/search/rounds?apikey=secret", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	select {
	case <-ts.scheduler.rounds:
	case <-time.After(2 * time.Second):
		t.Fatal("manual round was not started")
	}
}

func TestHealthEndpoints(t *testing.T) {
	ts := newTestServer(t)

	for path, status := range map[string]string{
		"/health":            "ok",
		"/healthz/readiness": "ready",
		"/healthz/liveness":  "alive",
	} {
		rec, body := ts.do(t, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, status, body["status"], path)
	}
}

func collectRouterRoutes(t *testing.T, r chi.Routes) map[routeKey]struct{} {
	t.Helper()

	routes := make(map[routeKey]struct{})
	err := chi.Walk(r, func(method string, path string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		method = strings.ToUpper(method)
		if !isComparableMethod(method) {
			return nil
		}

		normalizedPath, ok := normalizeRoutePath(path)
		if !ok {
			return nil
		}

		routes[routeKey{Method: method, Path: normalizedPath}] = struct{}{}
		return nil
	})
	require.NoError(t, err)

	return routes
}

func loadDocumentedRoutes(t *testing.T) map[routeKey]struct{} {
	t.Helper()

	specBytes, err := openapi.GetOpenAPISpec()
	require.NoError(t, err)
	require.NotEmpty(t, specBytes, "OpenAPI spec should be embedded")

	var spec map[string]any
	require.NoError(t, yaml.Unmarshal(specBytes, &spec))

	pathsNode, ok := spec["paths"].(map[string]any)
	require.True(t, ok, "OpenAPI spec missing paths section")

	routes := make(map[routeKey]struct{})

	for path, pathItem := range pathsNode {
		normalizedPath, ok := normalizeRoutePath(path)
		if !ok {
			continue
		}

		methods, ok := pathItem.(map[string]any)
		if !ok {
			continue
		}

		for method := range methods {
			upperMethod := strings.ToUpper(method)
			if !isComparableMethod(upperMethod) {
				continue
			}

			routes[routeKey{Method: upperMethod, Path: normalizedPath}] = struct{}{}
		}
	}

	return routes
}

func normalizeRoutePath(path string) (string, bool) {
	if path == "" {
		return "", false
	}

	if strings.Contains(path, "/*") {
		return "", false
	}

	if path != "/" {
		path = strings.TrimSuffix(path, "/")
	}

	if !strings.HasPrefix(path, "/api") && !strings.HasPrefix(path, "/health") && path != "/postprocessing" {
		return "", false
	}

	return path, true
}

func isComparableMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

func diffRoutes(left, right map[routeKey]struct{}) []routeKey {
	diff := make([]routeKey, 0)
	for route := range left {
		if _, exists := right[route]; !exists {
			diff = append(diff, route)
		}
	}

	sort.Slice(diff, func(i, j int) bool {
		if diff[i].Path == diff[j].Path {
			return diff[i].Method < diff[j].Method
		}
		return diff[i].Path < diff[j].Path
	})

	return diff
}

func formatRoutes(routes []routeKey) string {
	lines := make([]string, len(routes))
	for i, route := range routes {
		lines[i] = fmt.Sprintf("%s %s", route.Method, route.Path)
	}
	return strings.Join(lines, "\n")
}

func TestPprofServerRoutes(t *testing.T) {
	srv := NewPprofServer(PprofAddr)
	assert.Equal(t, "localhost:6060", srv.Addr)

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

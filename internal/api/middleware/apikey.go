// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/autobrr/watcher/internal/domain"
)

// APIKeyFromHeader copies the X-API-Key header into the given query param when
// the request does not carry one. Downloader scripts send either form.
func APIKeyFromHeader(param string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key != "" && !r.URL.Query().Has(param) {
				q := r.URL.Query()
				q.Set(param, key)
				r.URL.RawQuery = q.Encode()
			}
			next.ServeHTTP(w, r)
		})
	}
}

// APIKeyFromQuery promotes an API key query param into the X-API-Key header.
func APIKeyFromQuery(param string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("X-API-Key") == "" {
				if apiKey := r.URL.Query().Get(param); apiKey != "" {
					r.Header.Set("X-API-Key", apiKey)
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAPIKey rejects requests whose X-API-Key does not match the
// configured key. The key is read per request so reloads apply at once.
func RequireAPIKey(config domain.ConfigProvider) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			expected := config.Current().APIKey
			got := r.Header.Get("X-API-Key")
			if expected == "" || subtle.ConstantTimeCompare([]byte(got), []byte(expected)) != 1 {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error":"Unauthorized"}` + "\n"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

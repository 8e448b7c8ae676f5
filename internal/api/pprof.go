// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

const PprofAddr = "localhost:6060"

// NewPprofServer mounts the runtime profiler under /debug.
func NewPprofServer(addr string) *http.Server {
	r := chi.NewRouter()
	r.Mount("/debug", chimiddleware.Profiler())

	return &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// StartPprofServer runs a profiler server in the background. The caller
// shuts it down.
func StartPprofServer(addr string) *http.Server {
	srv := NewPprofServer(addr)

	go func() {
		log.Info().Str("addr", addr).Msgf("Starting pprof server - Open: http://%s/debug/pprof/", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Profiling server failed")
		}
	}()

	return srv
}

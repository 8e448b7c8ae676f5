// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/watcher/internal/models"
)

// Manager owns a private registry holding runtime collectors, the store
// retry counters and the watcher collector built from sources.
type Manager struct {
	registry *prometheus.Registry
}

func NewMetricsManager(sources Sources) *Manager {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		models.NewMetricsCollector(),
		NewWatcherCollector(sources),
	)

	log.Debug().Msg("Metrics registry ready")

	return &Manager{registry: registry}
}

func (m *Manager) GetRegistry() *prometheus.Registry {
	return m.registry
}

// Handler exposes the registry in the Prometheus text format.
func (m *Manager) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{ErrorLog: &promLogger{}})
}

type promLogger struct{}

func (promLogger) Println(v ...any) {
	log.Warn().Msgf("metrics: %v", v)
}

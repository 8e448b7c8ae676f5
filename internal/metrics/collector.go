// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/watcher/internal/models"
	"github.com/autobrr/watcher/internal/services/postprocessing"
	"github.com/autobrr/watcher/internal/services/searcher"
	"github.com/autobrr/watcher/internal/services/snatcher"
)

type MovieCounter interface {
	CountByStatus(ctx context.Context) (map[models.MovieStatus]int, error)
}

type SearchStats interface {
	Stats() searcher.Stats
}

type NextSearcher interface {
	NextSearch() time.Time
}

type SnatchStats interface {
	Stats() snatcher.Stats
}

type PostProcessingStats interface {
	Stats() ([]postprocessing.RunCount, uint64)
}

type WriteQueue interface {
	PendingWrites() int
}

// Sources are read on every scrape. Any of them may be nil.
type Sources struct {
	Movies         MovieCounter
	Searcher       SearchStats
	Scheduler      NextSearcher
	Snatcher       SnatchStats
	PostProcessing PostProcessingStats
	Database       WriteQueue
}

type WatcherCollector struct {
	sources Sources

	moviesDesc             *prometheus.Desc
	searchRoundsDesc       *prometheus.Desc
	moviesSearchedDesc     *prometheus.Desc
	movieFailuresDesc      *prometheus.Desc
	nextSearchDesc         *prometheus.Desc
	snatchAttemptsDesc     *prometheus.Desc
	snatchResultsDesc      *prometheus.Desc
	postProcessingDesc     *prometheus.Desc
	postProcessingRejected *prometheus.Desc
	writeQueueDesc         *prometheus.Desc
}

func NewWatcherCollector(sources Sources) *WatcherCollector {
	return &WatcherCollector{
		sources: sources,

		moviesDesc: prometheus.NewDesc(
			"watcher_movies",
			"Number of tracked movies by status",
			[]string{"status"},
			nil,
		),
		searchRoundsDesc: prometheus.NewDesc(
			"watcher_search_rounds_total",
			"Total number of automatic search rounds",
			nil,
			nil,
		),
		moviesSearchedDesc: prometheus.NewDesc(
			"watcher_search_movies_total",
			"Total number of movies searched against indexers",
			nil,
			nil,
		),
		movieFailuresDesc: prometheus.NewDesc(
			"watcher_search_failures_total",
			"Total number of per-movie failures during search rounds",
			nil,
			nil,
		),
		nextSearchDesc: prometheus.NewDesc(
			"watcher_next_search_timestamp_seconds",
			"Unix time of the next scheduled search round",
			nil,
			nil,
		),
		snatchAttemptsDesc: prometheus.NewDesc(
			"watcher_snatch_attempts_total",
			"Total number of snatch attempts",
			nil,
			nil,
		),
		snatchResultsDesc: prometheus.NewDesc(
			"watcher_snatch_results_total",
			"Total number of snatches by result",
			[]string{"result"},
			nil,
		),
		postProcessingDesc: prometheus.NewDesc(
			"watcher_postprocessing_runs_total",
			"Total number of post-processing runs by mode and whether a stored release matched",
			[]string{"mode", "matched"},
			nil,
		),
		postProcessingRejected: prometheus.NewDesc(
			"watcher_postprocessing_rejected_total",
			"Total number of post-processing requests rejected by validation",
			nil,
			nil,
		),
		writeQueueDesc: prometheus.NewDesc(
			"watcher_db_write_queue_depth",
			"Number of database writes waiting for the writer",
			nil,
			nil,
		),
	}
}

func (c *WatcherCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.moviesDesc
	ch <- c.searchRoundsDesc
	ch <- c.moviesSearchedDesc
	ch <- c.movieFailuresDesc
	ch <- c.nextSearchDesc
	ch <- c.snatchAttemptsDesc
	ch <- c.snatchResultsDesc
	ch <- c.postProcessingDesc
	ch <- c.postProcessingRejected
	ch <- c.writeQueueDesc
}

func (c *WatcherCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if c.sources.Movies != nil {
		counts, err := c.sources.Movies.CountByStatus(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to count movies for metrics")
		} else {
			for _, status := range models.MovieStatuses {
				ch <- prometheus.MustNewConstMetric(c.moviesDesc, prometheus.GaugeValue, float64(counts[status]), string(status))
			}
		}
	}

	if c.sources.Searcher != nil {
		stats := c.sources.Searcher.Stats()
		ch <- prometheus.MustNewConstMetric(c.searchRoundsDesc, prometheus.CounterValue, float64(stats.Rounds))
		ch <- prometheus.MustNewConstMetric(c.moviesSearchedDesc, prometheus.CounterValue, float64(stats.MoviesSearched))
		ch <- prometheus.MustNewConstMetric(c.movieFailuresDesc, prometheus.CounterValue, float64(stats.MovieFailures))
	}

	if c.sources.Scheduler != nil {
		if next := c.sources.Scheduler.NextSearch(); !next.IsZero() {
			ch <- prometheus.MustNewConstMetric(c.nextSearchDesc, prometheus.GaugeValue, float64(next.Unix()))
		}
	}

	if c.sources.Snatcher != nil {
		stats := c.sources.Snatcher.Stats()
		ch <- prometheus.MustNewConstMetric(c.snatchAttemptsDesc, prometheus.CounterValue, float64(stats.Attempts))
		ch <- prometheus.MustNewConstMetric(c.snatchResultsDesc, prometheus.CounterValue, float64(stats.Successes), "success")
		ch <- prometheus.MustNewConstMetric(c.snatchResultsDesc, prometheus.CounterValue, float64(stats.Failures), "failure")
	}

	if c.sources.PostProcessing != nil {
		runs, rejected := c.sources.PostProcessing.Stats()
		for _, run := range runs {
			ch <- prometheus.MustNewConstMetric(c.postProcessingDesc, prometheus.CounterValue, float64(run.Count), string(run.Mode), strconv.FormatBool(run.Matched))
		}
		ch <- prometheus.MustNewConstMetric(c.postProcessingRejected, prometheus.CounterValue, float64(rejected))
	}

	if c.sources.Database != nil {
		ch <- prometheus.MustNewConstMetric(c.writeQueueDesc, prometheus.GaugeValue, float64(c.sources.Database.PendingWrites()))
	}
}

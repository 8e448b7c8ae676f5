// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package searcher

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/autobrr/watcher/internal/domain"
)

const defaultHistorySize = 50

// Rounder runs one full search-and-grab sweep.
type Rounder interface {
	AutoSearchAndGrab(ctx context.Context) RoundReport
}

// WatchlistSyncer imports new movies from external lists.
type WatchlistSyncer interface {
	Sync(ctx context.Context) (int, error)
}

// Scheduler fires the automatic search at the configured time of day and
// then every configured interval. Only one round runs at a time.
type Scheduler struct {
	config    domain.ConfigProvider
	rounder   Rounder
	watchlist WatchlistSyncer

	group singleflight.Group

	mu         sync.RWMutex
	nextSearch time.Time
	history    []RoundReport
	historyCap int

	now func() time.Time
}

func NewScheduler(config domain.ConfigProvider, rounder Rounder, watchlist WatchlistSyncer) *Scheduler {
	return &Scheduler{
		config:     config,
		rounder:    rounder,
		watchlist:  watchlist,
		historyCap: defaultHistorySize,
		now:        time.Now,
	}
}

// Start launches the background loop. It returns immediately.
func (s *Scheduler) Start(ctx context.Context) {
	if s == nil {
		return
	}

	cfg := s.config.Current()
	first := FirstRun(s.now(), cfg.SearchTimeHour, cfg.SearchTimeMinute)
	s.setNextSearch(first)

	log.Info().Time("next_search", first).Dur("interval", cfg.SearchInterval()).Msg("search scheduler started")

	go s.loop(ctx)
}

func (s *Scheduler) loop(ctx context.Context) {
	timer := time.NewTimer(s.untilNext())
	defer timer.Stop()

	var watchC <-chan time.Time
	current := s.config.Current()
	if interval := current.WatchlistSyncInterval(); interval > 0 && s.watchlist != nil {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		watchC = ticker.C
		go s.syncWatchlist(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.RunNow(ctx)
			current := s.config.Current()
			s.setNextSearch(s.now().Add(current.SearchInterval()))
			timer.Reset(s.untilNext())
		case <-watchC:
			s.syncWatchlist(ctx)
		}
	}
}

// RunNow runs a round immediately. Callers arriving while a round is in
// progress wait for it and share its report.
func (s *Scheduler) RunNow(ctx context.Context) RoundReport {
	v, _, _ := s.group.Do("round", func() (any, error) {
		report := s.rounder.AutoSearchAndGrab(ctx)
		s.recordRound(report)
		return report, nil
	})
	return v.(RoundReport)
}

// NextSearch returns when the next automatic round is due.
func (s *Scheduler) NextSearch() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextSearch
}

// History returns the most recent round reports, newest last.
func (s *Scheduler) History(limit int) []RoundReport {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.history
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	out := make([]RoundReport, len(events))
	copy(out, events)
	return out
}

func (s *Scheduler) recordRound(report RoundReport) {
	s.mu.Lock()
	defer s.mu.Unlock()

	limit := s.historyCap
	if limit <= 0 {
		limit = defaultHistorySize
	}
	s.history = append(s.history, report)
	if len(s.history) > limit {
		s.history = s.history[len(s.history)-limit:]
	}
}

func (s *Scheduler) setNextSearch(t time.Time) {
	s.mu.Lock()
	s.nextSearch = t
	s.mu.Unlock()
}

func (s *Scheduler) untilNext() time.Duration {
	d := s.NextSearch().Sub(s.now())
	if d < 0 {
		return 0
	}
	return d
}

func (s *Scheduler) syncWatchlist(ctx context.Context) {
	added, err := s.watchlist.Sync(ctx)
	if err != nil {
		log.Error().Err(err).Msg("watchlist sync failed")
		return
	}
	if added > 0 {
		log.Info().Int("added", added).Msg("watchlist sync added movies")
	}
}

// FirstRun returns the next occurrence of hour:minute at or after now, in
// now's location.
func FirstRun(now time.Time, hour, minute int) time.Time {
	hour = min(max(hour, 0), 23)
	minute = min(max(minute, 0), 59)

	candidate := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if candidate.Before(now) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate
}

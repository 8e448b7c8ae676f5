// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package searcher

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/watcher/internal/domain"
)

type countingRounder struct {
	calls atomic.Int32
}

func (r *countingRounder) AutoSearchAndGrab(ctx context.Context) RoundReport {
	n := r.calls.Add(1)
	return RoundReport{RunID: string(rune('a' + n - 1)), Movies: int(n)}
}

type countingSyncer struct {
	calls atomic.Int32
}

func (s *countingSyncer) Sync(ctx context.Context) (int, error) {
	s.calls.Add(1)
	return 0, nil
}

func TestFirstRun(t *testing.T) {
	loc := time.UTC
	now := time.Date(2024, 3, 10, 14, 30, 0, 0, loc)

	tests := []struct {
		name         string
		hour, minute int
		want         time.Time
	}{
		{name: "later_today", hour: 18, minute: 0, want: time.Date(2024, 3, 10, 18, 0, 0, 0, loc)},
		{name: "already_passed", hour: 3, minute: 15, want: time.Date(2024, 3, 11, 3, 15, 0, 0, loc)},
		{name: "exactly_now", hour: 14, minute: 30, want: now},
		{name: "clamped", hour: 30, minute: 90, want: time.Date(2024, 3, 10, 23, 59, 0, 0, loc)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FirstRun(now, tt.hour, tt.minute))
		})
	}
}

func TestSchedulerStartSetsNextSearch(t *testing.T) {
	now := time.Date(2024, 3, 10, 14, 30, 0, 0, time.UTC)
	s := NewScheduler(domain.StaticConfig{SearchTimeHour: 3, SearchFrequency: 12}, &countingRounder{}, nil)
	s.now = func() time.Time { return now }

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	s.Start(ctx)

	assert.Equal(t, time.Date(2024, 3, 11, 3, 0, 0, 0, time.UTC), s.NextSearch())
}

func TestSchedulerRunsDueRoundAndReschedules(t *testing.T) {
	rounder := &countingRounder{}
	s := NewScheduler(domain.StaticConfig{SearchFrequency: 6}, rounder, nil)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	s.setNextSearch(time.Now().Add(-time.Minute))
	go s.loop(ctx)

	require.Eventually(t, func() bool { return rounder.calls.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return s.NextSearch().After(time.Now().Add(5 * time.Hour))
	}, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, s.History(0), 1)
}

func TestSchedulerSyncsWatchlistOnStart(t *testing.T) {
	syncer := &countingSyncer{}
	cfg := domain.StaticConfig{SearchTimeHour: 3, IMDBSyncFrequency: 24, IMDBWatchlistURLs: []string{"https://rss.example.com/list"}}
	s := NewScheduler(cfg, &countingRounder{}, syncer)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	s.Start(ctx)

	require.Eventually(t, func() bool { return syncer.calls.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestSchedulerHistoryIsCapped(t *testing.T) {
	s := NewScheduler(domain.StaticConfig{}, &countingRounder{}, nil)
	s.historyCap = 3

	for range 5 {
		s.RunNow(t.Context())
	}

	history := s.History(0)
	require.Len(t, history, 3)
	assert.Equal(t, 3, history[0].Movies)
	assert.Equal(t, 5, history[2].Movies)

	latest := s.History(1)
	require.Len(t, latest, 1)
	assert.Equal(t, 5, latest[0].Movies)
}

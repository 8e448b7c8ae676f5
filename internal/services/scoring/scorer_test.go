// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package scoring

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/watcher/internal/domain"
	"github.com/autobrr/watcher/internal/models"
)

type movieMap map[string]*models.Movie

func (m movieMap) Get(ctx context.Context, imdbID string) (*models.Movie, error) {
	if movie, ok := m[imdbID]; ok {
		return movie, nil
	}
	return nil, models.ErrMovieNotFound
}

const gb = 1 << 30

func TestScoreFiltersAndRanks(t *testing.T) {
	movies := movieMap{"tt1": {IMDBID: "tt1", Quality: models.QualityProfile{
		Resolutions: []string{"2160p", "1080p"},
		Ignored:     []string{"cam"},
		Preferred:   []string{"remux"},
		MinSizeMB:   1000,
		MaxSizeMB:   60000,
	}}}
	scorer := NewScorer(domain.StaticConfig{}, movies, nil)

	results := []*models.SearchResult{
		{GUID: "1080", Title: "Movie.2020.1080p.BluRay.x264-GRP", Size: 8 * gb},
		{GUID: "2160", Title: "Movie.2020.2160p.BluRay.x265-GRP", Size: 40 * gb},
		{GUID: "remux", Title: "Movie.2020.1080p.BluRay.REMUX.AVC-GRP", Size: 30 * gb},
		{GUID: "720", Title: "Movie.2020.720p.BluRay.x264-GRP", Size: 4 * gb},
		{GUID: "cam", Title: "Movie.2020.1080p.CAM.x264-GRP", Size: 2 * gb},
		{GUID: "tiny", Title: "Movie.2020.1080p.WEB.x264-GRP", Size: 100 << 20},
		{GUID: "bad", Title: "Movie.2020.1080p.WEB.x264-GRP", Size: 8 * gb, Status: models.ResultBad},
	}

	scored, err := scorer.Score(t.Context(), results, "tt1", "nzb")
	require.NoError(t, err)

	var guids []string
	for _, r := range scored {
		guids = append(guids, r.GUID)
	}
	assert.Equal(t, []string{"2160", "remux", "1080", "bad"}, guids)

	assert.Equal(t, 200, scored[0].Score)
	assert.Equal(t, "2160p", scored[0].Resolution)
	assert.Equal(t, 110, scored[1].Score)
	assert.Equal(t, models.ResultAvailable, scored[2].Status)
	assert.Equal(t, models.ResultBad, scored[3].Status, "existing statuses survive scoring")
	assert.Equal(t, "nzb", scored[2].Kind)
}

func TestScoreUsesConfigProfileForUnknownMovie(t *testing.T) {
	cfg := domain.StaticConfig{Quality: domain.QualityConfig{Resolutions: []string{"720p"}, Required: []string{"web"}}}
	scorer := NewScorer(cfg, movieMap{}, nil)

	scored, err := scorer.Score(t.Context(), []*models.SearchResult{
		{GUID: "a", Title: "Movie.2020.720p.WEB.x264-GRP"},
		{GUID: "b", Title: "Movie.2020.720p.BluRay.x264-GRP"},
		{GUID: "c", Title: "Movie.2020.1080p.WEB.x264-GRP"},
	}, "tt404", "nzb")
	require.NoError(t, err)
	require.Len(t, scored, 1)
	assert.Equal(t, "a", scored[0].GUID)
}

func TestScoreFiltersOtherKinds(t *testing.T) {
	scorer := NewScorer(domain.StaticConfig{}, movieMap{}, nil)

	scored, err := scorer.Score(t.Context(), []*models.SearchResult{
		{GUID: "t", Title: "Movie.2020.1080p.WEB.x264-GRP", Kind: "torrent"},
		{GUID: "n", Title: "Movie.2020.1080p.WEB.x264-GRP", Kind: "nzb"},
	}, "tt1", "nzb")
	require.NoError(t, err)
	require.Len(t, scored, 1)
	assert.Equal(t, "n", scored[0].GUID)
}

func TestProfileFromConfigCopies(t *testing.T) {
	q := domain.QualityConfig{Resolutions: []string{"1080p"}}
	p := ProfileFromConfig(q)
	p.Resolutions[0] = "720p"
	assert.Equal(t, "1080p", q.Resolutions[0])
}

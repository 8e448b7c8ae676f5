// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package releases

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMovieRelease(t *testing.T) {
	info := Parse("/downloads/Movie.Title.2020.1080p.BluRay.x264-GROUP/Movie.Title.2020.1080p.BluRay.x264-GROUP.mkv")

	assert.Equal(t, "Movie Title", info.Title)
	assert.Equal(t, "2020", info.Year)
	assert.Equal(t, "1080p", info.Resolution)
	assert.Equal(t, "GROUP", info.ReleaseGroup)
	assert.Contains(t, info.VideoCodec, "x264")
	assert.NotEmpty(t, info.Source)
	assert.Empty(t, info.IMDBID)
}

func TestParseExtractsIMDBID(t *testing.T) {
	info := Parse("Some.Movie.2019.tt1234567.720p.WEB-DL-GRP")
	assert.Equal(t, "tt1234567", info.IMDBID)
}

func TestFieldsAlwaysCarryEveryKey(t *testing.T) {
	fields := Parse("movie.mkv").Fields()

	for _, key := range []string{"title", "year", "resolution", "releasegroup", "audiocodec", "videocodec", "source", "imdbid"} {
		_, ok := fields[key]
		assert.True(t, ok, "missing key %s", key)
	}

	assert.Empty(t, Parse("").Fields()["title"])
}

func TestPopulatedSeparatesWeakNames(t *testing.T) {
	assert.Less(t, Parse("movie.mkv").Populated(), 3)
	assert.GreaterOrEqual(t, Parse("Movie.Title.2020.1080p.BluRay.x264-GROUP").Populated(), 3)
}

func TestParserCachesResults(t *testing.T) {
	p := NewParser(time.Minute)
	name := "Movie.Title.2020.1080p.BluRay.x264-GROUP"

	first := p.Parse(name)
	cached, found := p.cache.Get(name)
	require.True(t, found)
	assert.Equal(t, first, cached)

	p.Clear(name)
	_, found = p.cache.Get(name)
	assert.False(t, found)
}

func TestNormalizeTitle(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Amélie", "amelie"},
		{"Spider-Man: No Way Home", "spider man no way home"},
		{"Fast & Furious", "fast and furious"},
		{"Schindler's List", "schindlers list"},
		{"  The   Matrix ", "the matrix"},
		{"Søren Œuvre", "soren oeuvre"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeTitle(tt.in))
		})
	}
}

// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package releases parses scene-style release names into the fields used for
// renaming and reconciling downloads.
package releases

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/autobrr/autobrr/pkg/ttlcache"
	"github.com/moistari/rls"
)

var imdbIDPattern = regexp.MustCompile(`\btt\d{7,8}\b`)

// Info holds the parsed fields of a release name. Absent fields are empty.
type Info struct {
	Title        string `json:"title"`
	Year         string `json:"year"`
	Resolution   string `json:"resolution"`
	ReleaseGroup string `json:"releasegroup"`
	AudioCodec   string `json:"audiocodec"`
	VideoCodec   string `json:"videocodec"`
	Source       string `json:"source"`
	IMDBID       string `json:"imdbid"`
}

// Fields returns every field keyed by its name, including empty ones.
func (i Info) Fields() map[string]string {
	return map[string]string{
		"title":        i.Title,
		"year":         i.Year,
		"resolution":   i.Resolution,
		"releasegroup": i.ReleaseGroup,
		"audiocodec":   i.AudioCodec,
		"videocodec":   i.VideoCodec,
		"source":       i.Source,
		"imdbid":       i.IMDBID,
	}
}

// Populated counts the non-empty fields.
func (i Info) Populated() int {
	n := 0
	for _, v := range i.Fields() {
		if v != "" {
			n++
		}
	}
	return n
}

// Parser parses release names through a short-lived cache.
type Parser struct {
	cache *ttlcache.Cache[string, Info]
}

func NewParser(ttl time.Duration) *Parser {
	return &Parser{
		cache: ttlcache.New(ttlcache.Options[string, Info]{}.SetDefaultTTL(ttl)),
	}
}

func NewDefaultParser() *Parser {
	return NewParser(5 * time.Minute)
}

func (p *Parser) Parse(name string) Info {
	if cached, found := p.cache.Get(name); found {
		return cached
	}

	info := parse(name)
	p.cache.Set(name, info, ttlcache.DefaultTTL)

	return info
}

func (p *Parser) Clear(name string) {
	p.cache.Delete(name)
}

// Parse parses name without caching.
func Parse(name string) Info {
	return parse(name)
}

func parse(name string) Info {
	base := strings.TrimSpace(filepath.Base(name))
	if base == "" || base == "." || base == string(filepath.Separator) {
		return Info{}
	}

	r := rls.ParseString(base)

	info := Info{
		Title:        strings.TrimSpace(r.Title),
		Resolution:   r.Resolution,
		ReleaseGroup: r.Group,
		AudioCodec:   strings.Join(r.Audio, " "),
		VideoCodec:   strings.Join(r.Codec, " "),
		Source:       r.Source,
		IMDBID:       imdbIDPattern.FindString(base),
	}
	if r.Year > 0 {
		info.Year = strconv.Itoa(r.Year)
	}

	return info
}

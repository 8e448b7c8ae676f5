// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package postprocessing

import (
	"crypto/subtle"
	"errors"
	"net/url"
)

type Mode string

const (
	ModeComplete Mode = "complete"
	ModeFailed   Mode = "failed"
)

var (
	ErrMissingKey      = errors.New("missing key")
	ErrIncorrectAPIKey = errors.New("incorrect api key")
	ErrInvalidMode     = errors.New("invalid mode value")
)

// ValidationError names the request key that was missing.
type ValidationError struct {
	Key string
}

func (e *ValidationError) Error() string {
	return "missing key: " + e.Key
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrMissingKey
}

// requiredKeys are checked in this order; the first one absent is reported.
var requiredKeys = []string{"apikey", "mode", "guid", "path"}

// Request is a download client's notification that a download finished or
// failed.
type Request struct {
	APIKey     string
	Mode       Mode
	GUID       string
	Path       string
	IMDBID     string
	DownloadID string
}

// RequestFromValues builds a request from query or form values. Required keys
// must be present but may be empty.
func RequestFromValues(v url.Values) (Request, error) {
	for _, key := range requiredKeys {
		if !v.Has(key) {
			return Request{}, &ValidationError{Key: key}
		}
	}

	return Request{
		APIKey:     v.Get("apikey"),
		Mode:       Mode(v.Get("mode")),
		GUID:       v.Get("guid"),
		Path:       v.Get("path"),
		IMDBID:     v.Get("imdbid"),
		DownloadID: v.Get("downloadid"),
	}, nil
}

// validate never accepts a request while no api key is configured.
func (r Request) validate(apiKey string) error {
	if apiKey == "" || subtle.ConstantTimeCompare([]byte(r.APIKey), []byte(apiKey)) != 1 {
		return ErrIncorrectAPIKey
	}
	switch r.Mode {
	case ModeComplete, ModeFailed:
		return nil
	default:
		return ErrInvalidMode
	}
}

// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go"
	"github.com/rs/zerolog/log"
)

var ErrStoreBusy = errors.New("store busy: database stayed locked")

const (
	DefaultWriteAttempts = 5
	DefaultWriteDelay    = time.Second
)

// RetryPolicy governs how writes react to lock contention. Reads never retry.
type RetryPolicy struct {
	Attempts uint
	Delay    time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: DefaultWriteAttempts, Delay: DefaultWriteDelay}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.Attempts == 0 {
		p.Attempts = DefaultWriteAttempts
	}
	if p.Delay <= 0 {
		p.Delay = DefaultWriteDelay
	}
	return p
}

// do runs fn until it succeeds, fails with a non-lock error, or the attempts
// are used up. Exhaustion is reported as ErrStoreBusy.
func (p RetryPolicy) do(ctx context.Context, op string, fn func() error) error {
	p = p.normalized()

	err := retry.Do(
		fn,
		retry.Attempts(p.Attempts),
		retry.Delay(p.Delay),
		retry.DelayType(retry.FixedDelay),
		retry.RetryIf(isLockedError),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			recordWriteRetry()
			log.Debug().Err(err).Str("op", op).Uint("attempt", n+1).Msg("database locked, retrying write")
		}),
	)
	if err == nil {
		return nil
	}

	if isLockedError(err) {
		recordWriteExhausted()
		log.Error().Err(err).Str("op", op).Uint("attempts", p.Attempts).Msg("database stayed locked")
		return fmt.Errorf("%s: %w", op, ErrStoreBusy)
	}

	return fmt.Errorf("%s: %w", op, err)
}

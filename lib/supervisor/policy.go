// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/bureau-foundation/tunnelwarden/lib/clock"
)

// ReconnectPolicy bounds automatic reconnection.
type ReconnectPolicy struct {
	// InitialInterval is the delay before the first reconnect.
	InitialInterval time.Duration

	// MaxInterval caps the delay between reconnects.
	MaxInterval time.Duration

	// Multiplier grows the delay after each consecutive reconnect.
	Multiplier float64

	// RandomizationFactor spreads each delay by up to this fraction
	// in either direction.
	RandomizationFactor float64

	// MaxAttempts is the number of consecutive reconnects allowed
	// without reaching "Connected". Zero means unlimited.
	MaxAttempts int
}

// DefaultReconnectPolicy is used when no configuration file overrides it.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		InitialInterval:     time.Second,
		MaxInterval:         time.Minute,
		Multiplier:          2,
		RandomizationFactor: 0.5,
		MaxAttempts:         10,
	}
}

func (p ReconnectPolicy) newBackOff(clock clock.Clock) backoff.BackOff {
	exponential := &backoff.ExponentialBackOff{
		InitialInterval:     p.InitialInterval,
		RandomizationFactor: p.RandomizationFactor,
		Multiplier:          p.Multiplier,
		MaxInterval:         p.MaxInterval,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               clock,
	}
	exponential.Reset()
	if p.MaxAttempts > 0 {
		return backoff.WithMaxRetries(exponential, uint64(p.MaxAttempts))
	}
	return exponential
}

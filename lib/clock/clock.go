// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock lets the supervisor wait out reconnect delays without
// calling the time package directly, so tests can drive those delays
// deterministically.
//
// Production code uses [Real]. Tests use [Fake], whose time moves only
// on Advance:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go reactor.Handle(ctx, event) // waits on fake.After(delay)
//	fake.WaitForTimers(1)
//	fake.Advance(delay)
//
// Clock also satisfies backoff.Clock from cenkalti/backoff, so the same
// value drives both the delay computation and the wait.
package clock

import "time"

// Clock is the subset of the time package the supervisor uses.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the time once d has
	// elapsed. It receives immediately when d <= 0.
	After(d time.Duration) <-chan time.Time
}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

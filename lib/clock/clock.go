// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock is the time source injected into tierbuf components.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives once d has elapsed. If
	// d <= 0 the channel is ready immediately.
	After(d time.Duration) <-chan time.Time

	// NewTicker returns a Ticker firing every d. Panics if d <= 0.
	NewTicker(d time.Duration) *Ticker

	// Sleep blocks for at least d.
	Sleep(d time.Duration)
}

// Ticker delivers periodic ticks on C. The channel has capacity 1;
// ticks are dropped when the reader falls behind, as with time.Ticker.
type Ticker struct {
	C <-chan time.Time

	stopFunc  func()
	resetFunc func(time.Duration)
}

// Stop turns off the ticker. C is not closed.
func (t *Ticker) Stop() { t.stopFunc() }

// Reset changes the tick interval and restarts the cycle.
func (t *Ticker) Reset(d time.Duration) { t.resetFunc(d) }

// BackoffTimer implements the Timer interface of
// github.com/cenkalti/backoff/v4 on top of a Clock, so retry delays in
// the statistics poller advance with a fake clock in tests.
type BackoffTimer struct {
	clock   Clock
	channel <-chan time.Time
}

// NewBackoffTimer returns a BackoffTimer driven by c.
func NewBackoffTimer(c Clock) *BackoffTimer {
	return &BackoffTimer{clock: c}
}

// Start arms the timer for duration d.
func (b *BackoffTimer) Start(d time.Duration) { b.channel = b.clock.After(d) }

// Stop is a no-op: an unread After channel is simply dropped.
func (b *BackoffTimer) Stop() {}

// C returns the channel armed by the last Start.
func (b *BackoffTimer) C() <-chan time.Time { return b.channel }

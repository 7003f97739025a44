// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides the time source for every periodic loop in
// tierbuf: the flush driver, the per-target statistics poll, and the
// score reorganizer.
//
// Components hold a Clock field instead of calling the time package.
// The daemon wires Real(); tests wire Fake() and step time explicitly:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	driver := engine.NewFlushDriver(eng, c, time.Second, logger)
//	go driver.Run(ctx)
//	c.WaitForTimers(1)     // the driver has armed its ticker
//	c.Advance(time.Second) // one flush pass runs
//
// WaitForTimers closes the race between a goroutine arming a ticker and
// the test advancing past it.
//
// [BackoffTimer] adapts a Clock to the timer interface used by
// github.com/cenkalti/backoff so retry loops follow the same clock.
package clock

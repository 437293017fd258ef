// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package clock abstracts wall time for the control plane's background
// loops (scaling evaluation, drift sweeps, experiment auto-stop).
//
// # Description
//
// Every periodic loop in the control plane takes a Clock instead of
// calling time.Now / time.NewTicker directly. Production code uses
// Real(); tests inject a Fake and advance it explicitly, so loop
// behavior is deterministic and no test sleeps for real intervals.
//
// # Thread Safety
//
// All implementations are safe for concurrent use.
package clock

import "time"

// Ticker delivers ticks on C until stopped.
type Ticker interface {
	// C returns the tick channel.
	C() <-chan time.Time

	// Stop ends tick delivery. It does not close C.
	Stop()
}

// Timer is a cancellable one-shot callback.
type Timer interface {
	// Stop cancels the pending callback. Returns false if it already
	// fired or was stopped.
	Stop() bool
}

// Clock is the time source used by all background loops.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Since returns the elapsed time since t.
	Since(t time.Time) time.Duration

	// NewTicker returns a ticker firing every d.
	NewTicker(d time.Duration) Ticker

	// AfterFunc runs f in its own goroutine after d elapses.
	AfterFunc(d time.Duration, f func()) Timer
}

// =============================================================================
// Real Clock
// =============================================================================

type realClock struct{}

// Real returns the wall-clock implementation backed by the time package.
func Real() Clock {
	return realClock{}
}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) Since(t time.Time) time.Duration {
	return time.Since(t)
}

func (realClock) NewTicker(d time.Duration) Ticker {
	return &realTicker{t: time.NewTicker(d)}
}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return &realTimer{t: time.AfterFunc(d, f)}
}

type realTicker struct {
	t *time.Ticker
}

func (r *realTicker) C() <-chan time.Time {
	return r.t.C
}

func (r *realTicker) Stop() {
	r.t.Stop()
}

type realTimer struct {
	t *time.Timer
}

func (r *realTimer) Stop() bool {
	return r.t.Stop()
}

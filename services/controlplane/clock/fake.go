// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package clock

import (
	"sync"
	"time"
)

// Fake is a manually advanced Clock for tests.
//
// # Description
//
// Fake starts at an arbitrary fixed instant. Advance moves the current
// time forward, firing any tickers and timers whose deadlines pass.
// Ticker fires are delivered synchronously from Advance; timer
// callbacks run inline, so a test can Advance and then assert on the
// side effects without polling.
//
// # Thread Safety
//
// Safe for concurrent use, though tests typically drive it from a
// single goroutine.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*fakeTicker
	timers  []*fakeTimer
}

// NewFake returns a Fake positioned at a fixed reference instant.
func NewFake() *Fake {
	return &Fake{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

// Now returns the fake current time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Since returns the fake elapsed time since t.
func (f *Fake) Since(t time.Time) time.Duration {
	return f.Now().Sub(t)
}

// NewTicker returns a ticker driven by Advance.
func (f *Fake) NewTicker(d time.Duration) Ticker {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTicker{
		ch:       make(chan time.Time, 1),
		interval: d,
		next:     f.now.Add(d),
	}
	f.tickers = append(f.tickers, t)
	return t
}

// AfterFunc schedules f to run when Advance passes d.
func (f *Fake) AfterFunc(d time.Duration, fn func()) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTimer{fn: fn, when: f.now.Add(d)}
	f.timers = append(f.timers, t)
	return t
}

// Advance moves the clock forward by d, firing due tickers and timers.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	now := f.now

	var due []func()
	for _, t := range f.tickers {
		for !t.stopped && !t.next.After(now) {
			// Coalesce like time.Ticker: drop the tick if the buffer
			// is full.
			select {
			case t.ch <- t.next:
			default:
			}
			t.next = t.next.Add(t.interval)
		}
	}
	remaining := f.timers[:0]
	for _, t := range f.timers {
		if !t.stopped && !t.when.After(now) {
			t.fired = true
			due = append(due, t.fn)
			continue
		}
		if !t.stopped {
			remaining = append(remaining, t)
		}
	}
	f.timers = remaining
	f.mu.Unlock()

	for _, fn := range due {
		fn()
	}
}

type fakeTicker struct {
	ch       chan time.Time
	interval time.Duration
	next     time.Time
	stopped  bool
}

func (t *fakeTicker) C() <-chan time.Time {
	return t.ch
}

func (t *fakeTicker) Stop() {
	t.stopped = true
}

type fakeTimer struct {
	fn      func()
	when    time.Time
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

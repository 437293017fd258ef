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
	"testing"
	"time"
)

// TestFake_Advance_MovesNow tests that Advance shifts the reported time.
func TestFake_Advance_MovesNow(t *testing.T) {
	f := NewFake()
	start := f.Now()

	f.Advance(90 * time.Second)

	if got := f.Now().Sub(start); got != 90*time.Second {
		t.Errorf("expected 90s elapsed, got %v", got)
	}
}

// TestFake_Ticker_FiresOncePerInterval tests tick delivery across an
// Advance spanning multiple intervals, with coalescing into the
// single-slot buffer.
func TestFake_Ticker_FiresOncePerInterval(t *testing.T) {
	f := NewFake()
	tk := f.NewTicker(time.Minute)

	f.Advance(time.Minute)
	select {
	case <-tk.C():
	default:
		t.Fatal("expected a tick after one interval")
	}

	// Spanning three intervals coalesces into at most one buffered tick.
	f.Advance(3 * time.Minute)
	select {
	case <-tk.C():
	default:
		t.Fatal("expected a coalesced tick")
	}
	select {
	case <-tk.C():
		t.Fatal("expected ticks to coalesce, got a second buffered tick")
	default:
	}
}

// TestFake_Ticker_StopSuppressesTicks tests that a stopped ticker
// receives no further ticks.
func TestFake_Ticker_StopSuppressesTicks(t *testing.T) {
	f := NewFake()
	tk := f.NewTicker(time.Second)
	tk.Stop()

	f.Advance(5 * time.Second)

	select {
	case <-tk.C():
		t.Fatal("stopped ticker must not fire")
	default:
	}
}

// TestFake_AfterFunc_FiresOnDeadline tests one-shot timer delivery and
// cancellation.
func TestFake_AfterFunc_FiresOnDeadline(t *testing.T) {
	f := NewFake()

	fired := false
	f.AfterFunc(10*time.Second, func() { fired = true })

	f.Advance(9 * time.Second)
	if fired {
		t.Fatal("timer fired before its deadline")
	}

	f.Advance(time.Second)
	if !fired {
		t.Fatal("timer did not fire at its deadline")
	}
}

// TestFake_AfterFunc_StopCancels tests Stop before the deadline.
func TestFake_AfterFunc_StopCancels(t *testing.T) {
	f := NewFake()

	fired := false
	timer := f.AfterFunc(10*time.Second, func() { fired = true })

	if !timer.Stop() {
		t.Fatal("Stop on a pending timer should return true")
	}
	f.Advance(time.Minute)
	if fired {
		t.Fatal("stopped timer must not fire")
	}
	if timer.Stop() {
		t.Error("second Stop should return false")
	}
}

// TestReal_TickerDelivers smoke-tests the wall-clock ticker.
func TestReal_TickerDelivers(t *testing.T) {
	tk := Real().NewTicker(5 * time.Millisecond)
	defer tk.Stop()

	select {
	case <-tk.C():
	case <-time.After(time.Second):
		t.Fatal("real ticker did not fire within 1s")
	}
}

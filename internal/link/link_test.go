package link

import (
	"testing"
	"time"

	"github.com/dp-web4/modbatt-CAN/internal/testutil/testlog"
)

func TestElapsedSinceAcrossWraps(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		last, now Stamp
		want      uint32
	}{
		{Stamp{100, 2}, Stamp{350, 2}, 250},
		{Stamp{900, 2}, Stamp{50, 3}, 150},
		{Stamp{900, 2}, Stamp{50, 5}, 2150},
		{Stamp{0, 0}, Stamp{0, 1}, 1000},
		{Stamp{999, 7}, Stamp{0, 8}, 1},
	}
	for _, tc := range cases {
		if got := ElapsedSince(tc.last, tc.now, 1000); got != tc.want {
			t.Fatalf("ElapsedSince(%+v, %+v) = %d want %d", tc.last, tc.now, got, tc.want)
		}
	}
}

func TestElapsedSinceFullWidthCounter(t *testing.T) {
	testlog.Start(t)
	got := ElapsedSince(Stamp{0xFFFF_FF00, 0}, Stamp{0x10, 1}, 1<<32)
	if got != 0x110 {
		t.Fatalf("unexpected elapsed: 0x%X", got)
	}
}

func TestElapsedSinceLaterContactIsZero(t *testing.T) {
	testlog.Start(t)
	cases := []struct{ last, now Stamp }{
		{Stamp{101, 0}, Stamp{100, 0}},
		{Stamp{5, 4}, Stamp{900, 3}},
	}
	for _, tc := range cases {
		if got := ElapsedSince(tc.last, tc.now, 1<<16); got != 0 {
			t.Fatalf("ElapsedSince(%+v, %+v) = %d want 0", tc.last, tc.now, got)
		}
	}
}

func TestTrackerStaleSampleKeepsLinkUp(t *testing.T) {
	testlog.Start(t)
	clock := NewManualClock(DefaultPeriod)
	clock.Set(Stamp{101, 0})
	tr := NewTracker("pack0", clock)
	tr.OnFrameReceived()

	clock.Set(Stamp{100, 0})
	if tr.CheckTimeout(10) {
		t.Fatalf("contact newer than the sample must not time out")
	}
	if !tr.Connected() || tr.Elapsed() != 0 {
		t.Fatalf("expected connected with zero elapsed, got connected=%v elapsed=%d", tr.Connected(), tr.Elapsed())
	}
}

func TestTrackerTimeoutTransitionsOnceAndRunsHooks(t *testing.T) {
	testlog.Start(t)
	clock := NewManualClock(1000)
	clock.Set(Stamp{900, 2})
	tr := NewTracker("pack0", clock)

	resets := 0
	tr.OnDisconnect(func() { resets++ })

	if tr.Connected() {
		t.Fatalf("expected link down before first frame")
	}
	tr.OnFrameReceived()
	if !tr.Connected() {
		t.Fatalf("expected link up after frame")
	}

	clock.Set(Stamp{50, 3})
	if tr.CheckTimeout(150) {
		t.Fatalf("elapsed equal to threshold must not time out")
	}
	clock.Advance(1)
	if !tr.CheckTimeout(150) {
		t.Fatalf("expected timeout after threshold")
	}
	if tr.Connected() {
		t.Fatalf("expected link down after timeout")
	}
	if tr.CheckTimeout(150) {
		t.Fatalf("second check must not report another transition")
	}
	if resets != 1 {
		t.Fatalf("expected one disconnect hook call, got %d", resets)
	}

	tr.OnFrameReceived()
	if !tr.Connected() || tr.Elapsed() != 0 {
		t.Fatalf("expected fresh contact: %+v", tr.Status())
	}
}

func TestManualClockAdvanceWraps(t *testing.T) {
	testlog.Start(t)
	clock := NewManualClock(1000)
	clock.Set(Stamp{990, 4})
	clock.Advance(2025)
	if got := clock.Now(); got != (Stamp{15, 7}) {
		t.Fatalf("unexpected stamp: %+v", got)
	}
}

func TestWallClockTicks(t *testing.T) {
	testlog.Start(t)
	c := NewWallClock(0, 0)
	if c.Period() != DefaultPeriod {
		t.Fatalf("unexpected period: %d", c.Period())
	}
	if c.Ticks(1500*time.Millisecond) != 1500 {
		t.Fatalf("unexpected tick conversion")
	}
	if s := c.Now(); uint64(s.Ticks) >= c.Period() {
		t.Fatalf("ticks beyond period: %+v", s)
	}
}

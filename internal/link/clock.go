package link

import (
	"sync"
	"time"
)

// DefaultPeriod is the wrap modulus of the 16-bit VCU timer.
const DefaultPeriod uint64 = 1 << 16

// Stamp is one sample of a wrapping tick counter and its overflow count.
type Stamp struct {
	Ticks    uint32 `json:"ticks"`
	Overflow uint32 `json:"overflow"`
}

// Clock samples a wrapping tick counter. Period is the counter's wrap
// modulus (max value + 1).
type Clock interface {
	Now() Stamp
	Period() uint64
}

// ElapsedSince returns the ticks between last and now across any number of
// counter wraps. A last stamp later than now yields 0.
func ElapsedSince(last, now Stamp, period uint64) uint32 {
	if last.Overflow > now.Overflow {
		return 0
	}
	if now.Overflow == last.Overflow {
		if last.Ticks > now.Ticks {
			return 0
		}
		return now.Ticks - last.Ticks
	}
	wraps := uint64(now.Overflow - last.Overflow - 1)
	elapsed := (period - uint64(last.Ticks)) + period*wraps + uint64(now.Ticks)
	return uint32(elapsed)
}

// WallClock derives a wrapping counter from the monotonic clock.
type WallClock struct {
	start  time.Time
	tick   time.Duration
	period uint64
}

// NewWallClock returns a clock counting tick-sized steps that wraps every
// period ticks. Zero values select 1ms and DefaultPeriod.
func NewWallClock(tick time.Duration, period uint64) *WallClock {
	if tick <= 0 {
		tick = time.Millisecond
	}
	if period == 0 {
		period = DefaultPeriod
	}
	return &WallClock{start: time.Now(), tick: tick, period: period}
}

func (c *WallClock) Now() Stamp {
	n := uint64(time.Since(c.start) / c.tick)
	return Stamp{Ticks: uint32(n % c.period), Overflow: uint32(n / c.period)}
}

func (c *WallClock) Period() uint64 {
	return c.period
}

// Ticks converts a duration to whole ticks of this clock.
func (c *WallClock) Ticks(d time.Duration) uint32 {
	return uint32(d / c.tick)
}

// ManualClock is a settable clock for tests and replay.
type ManualClock struct {
	mu     sync.Mutex
	now    Stamp
	period uint64
}

func NewManualClock(period uint64) *ManualClock {
	if period == 0 {
		period = DefaultPeriod
	}
	return &ManualClock{period: period}
}

func (c *ManualClock) Set(s Stamp) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = s
}

// Advance moves the counter forward by n ticks, wrapping as needed.
func (c *ManualClock) Advance(n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := uint64(c.now.Overflow)*c.period + uint64(c.now.Ticks) + n
	c.now = Stamp{Ticks: uint32(total % c.period), Overflow: uint32(total / c.period)}
}

func (c *ManualClock) Now() Stamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) Period() uint64 {
	return c.period
}

package clock

import (
	"errors"
	"time"

	"github.com/sweeney/hall-led/internal/logic"
)

// FakeClock is a test double whose time only moves when told to.
// WaitUntil jumps straight to the requested tick.
type FakeClock struct {
	now    logic.Tick
	period time.Duration

	// CycleCost is added to the current tick on every Now call, simulating
	// time spent in the cycle body.
	CycleCost logic.Ticks

	// NowError, if set, is returned by Now.
	NowError error
	// WaitError, if set, is returned by WaitUntil.
	WaitError error
	// FailNowAt, if > 0, makes the FailNowAt-th Now call (1-based) and
	// every later call fail.
	FailNowAt int

	// Waits records every tick passed to WaitUntil.
	Waits []logic.Tick

	// OnWait, if set, is called after each successful WaitUntil.
	OnWait func(now logic.Tick)

	nowCalls int
}

// NewFakeClock creates a FakeClock starting at start.
func NewFakeClock(start logic.Tick, period time.Duration) *FakeClock {
	if period <= 0 {
		period = time.Millisecond
	}
	return &FakeClock{now: start, period: period}
}

// Now returns the current tick.
func (c *FakeClock) Now() (logic.Tick, error) {
	c.nowCalls++
	if c.FailNowAt > 0 && c.nowCalls >= c.FailNowAt {
		if c.NowError != nil {
			return 0, c.NowError
		}
		return 0, errors.New("scripted clock failure")
	}
	if c.NowError != nil {
		return 0, c.NowError
	}
	t := c.now
	c.now = c.now.Add(c.CycleCost)
	return t, nil
}

// WaitUntil advances the clock to t if t is in the future.
func (c *FakeClock) WaitUntil(t logic.Tick) error {
	if c.WaitError != nil {
		return c.WaitError
	}
	c.Waits = append(c.Waits, t)
	if c.now.Before(t) {
		c.now = t
	}
	if c.OnWait != nil {
		c.OnWait(c.now)
	}
	return nil
}

// TickPeriod returns the configured tick period.
func (c *FakeClock) TickPeriod() time.Duration {
	return c.period
}

// Current returns the current tick without counting as a Now call.
func (c *FakeClock) Current() logic.Tick {
	return c.now
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d logic.Ticks) {
	c.now = c.now.Add(d)
}

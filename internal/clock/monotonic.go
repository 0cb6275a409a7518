package clock

import (
	"time"

	"github.com/sweeney/hall-led/internal/logic"
)

var sleepFn = time.Sleep

// Monotonic counts ticks of a fixed period since it was created, using the
// runtime's monotonic clock reading.
type Monotonic struct {
	start  time.Time
	period time.Duration
}

// NewMonotonic starts a tick counter with the given tick period.
func NewMonotonic(period time.Duration) *Monotonic {
	if period <= 0 {
		period = time.Millisecond
	}
	return &Monotonic{start: time.Now(), period: period}
}

func (m *Monotonic) elapsed() time.Duration {
	return time.Since(m.start) / m.period
}

// Now returns the number of whole ticks since start, wrapping at 2^32.
func (m *Monotonic) Now() (logic.Tick, error) {
	return logic.Tick(uint32(m.elapsed())), nil
}

// WaitUntil sleeps until tick t. t must be less than half the counter range ahead.
func (m *Monotonic) WaitUntil(t logic.Tick) error {
	n := m.elapsed()
	delta := int32(uint32(t) - uint32(n))
	if delta <= 0 {
		return nil
	}
	deadline := m.start.Add((n + time.Duration(delta)) * m.period)
	if d := time.Until(deadline); d > 0 {
		sleepFn(d)
	}
	return nil
}

// TickPeriod returns the duration of one tick.
func (m *Monotonic) TickPeriod() time.Duration {
	return m.period
}

// Package clock provides the monotonic tick source the control loop runs on.
package clock

import (
	"errors"
	"time"

	"github.com/sweeney/hall-led/internal/logic"
)

// ErrStopped is returned by clocks that have been shut down.
var ErrStopped = errors.New("clock: stopped")

// Clock is a monotonic tick counter with a blocking wait.
type Clock interface {
	// Now returns the current tick.
	Now() (logic.Tick, error)

	// WaitUntil blocks until the given tick has been reached. It returns
	// immediately if the tick is already in the past.
	WaitUntil(t logic.Tick) error

	// TickPeriod returns the duration of one tick.
	TickPeriod() time.Duration
}

// ToTicks converts d to a whole number of ticks of the given period,
// rounding up so a non-zero duration never becomes zero ticks.
func ToTicks(d, period time.Duration) logic.Ticks {
	if d <= 0 || period <= 0 {
		return 0
	}
	n := (d + period - 1) / period
	if n > time.Duration(^uint32(0)) {
		return logic.Ticks(^uint32(0))
	}
	return logic.Ticks(n)
}

// ToDuration converts a tick count back to a duration.
func ToDuration(n logic.Ticks, period time.Duration) time.Duration {
	return time.Duration(n) * period
}

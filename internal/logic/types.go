// Package logic contains the pure speed-measurement and brightness logic.
// This package has NO external dependencies (no GPIO, PWM, OS, or time.Sleep).
// Time is always injectable as a Tick parameter.
package logic

// Tick is a monotonic tick count. It wraps at 2^32; differences are taken
// with modular arithmetic so a single measured interval may span the wrap.
type Tick uint32

// Ticks is a duration measured in ticks.
type Ticks uint32

// Sub returns the number of ticks elapsed from earlier to t.
func (t Tick) Sub(earlier Tick) Ticks {
	return Ticks(t - earlier)
}

// Add returns t advanced by d.
func (t Tick) Add(d Ticks) Tick {
	return t + Tick(d)
}

// Before reports whether t is earlier than u, assuming the two are less than
// half the counter range apart.
func (t Tick) Before(u Tick) bool {
	return int32(t-u) < 0
}

// Polarity is the direction of a committed transition.
type Polarity uint8

const (
	// Rising is a transition from the idle level to the active level.
	Rising Polarity = iota + 1
	// Falling is a transition from the active level back to idle.
	Falling
)

func (p Polarity) String() string {
	switch p {
	case Rising:
		return "RISING"
	case Falling:
		return "FALLING"
	}
	return "UNKNOWN"
}

// EdgeEvent is a debounced transition of the sensor line.
type EdgeEvent struct {
	Time     Tick
	Polarity Polarity
}

// SensorState tracks debounce state for the sensor line.
type SensorState struct {
	// Current stable (debounced) level; true = active
	Stable bool
	// Whether a level change is waiting out the debounce window
	Pending bool
	// Tick when the pending level was first observed
	PendingSince Tick
	// Minimum time a new level must persist before it is committed
	Window Ticks
}

// SpeedEstimate is a snapshot of the current speed measurement.
type SpeedEstimate struct {
	// Known is false until two accepted rising edges have been seen, and
	// again after a stall.
	Known bool
	// Period is the last accepted rising-to-rising interval. Never zero when Known.
	Period Ticks
	// Frequency is the smoothed frequency in Hz. Zero when not Known.
	Frequency float64
	// Stale is set while the estimate is unknown because of a stall.
	Stale bool
	// StaleSince is the tick at which the stall was detected.
	StaleSince Tick
}

// DutyCommand is the PWM duty value for one cycle.
type DutyCommand struct {
	Value uint32
}

// EstimatorCounts tracks period-estimator activity since startup.
type EstimatorCounts struct {
	Periods  int
	Rejected int
	Stalls   int
}

// Package status provides a point-in-time view of the control loop for logs
// and the command line.
package status

import (
	"time"

	"github.com/sweeney/hall-led/internal/logic"
)

// State is the control loop's state machine state.
type State string

const (
	StateRunning State = "RUNNING"
	StateFault   State = "FAULT"
)

// Counts tracks loop and estimator activity since startup.
type Counts struct {
	Cycles   uint64
	Rising   uint64
	Falling  uint64
	Overruns uint64
	logic.EstimatorCounts
}

// Snapshot is a point-in-time view of loop state.
// It is a value type and safe to keep after the loop moves on.
type Snapshot struct {
	State      State
	Fault      string // fault cause; empty while running
	Level      bool   // debounced sensor level
	Estimate   logic.SpeedEstimate
	Duty       uint32
	MaxDuty    uint32
	Counts     Counts
	Now        logic.Tick
	Start      logic.Tick
	TickPeriod time.Duration
}

// Uptime returns the time since the loop started.
func (s Snapshot) Uptime() time.Duration {
	return time.Duration(s.Now.Sub(s.Start)) * s.TickPeriod
}

// RPM returns the smoothed frequency in revolutions per minute, assuming one
// magnet pass per revolution.
func (s Snapshot) RPM() float64 {
	return s.Estimate.Frequency * 60
}

// LogAttrs returns key/value pairs for structured logging.
func (s Snapshot) LogAttrs() []any {
	attrs := []any{
		"state", string(s.State),
		"speed_known", s.Estimate.Known,
		"frequency_hz", s.Estimate.Frequency,
		"duty", s.Duty,
		"cycles", s.Counts.Cycles,
		"rising", s.Counts.Rising,
		"stalls", s.Counts.Stalls,
		"rejected", s.Counts.Rejected,
		"overruns", s.Counts.Overruns,
		"uptime", s.Uptime(),
	}
	if s.Fault != "" {
		attrs = append(attrs, "fault", s.Fault)
	}
	return attrs
}

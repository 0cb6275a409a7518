package logic

import (
	"fmt"
	"time"
)

// EstimatorConfig holds the tuning constants of the period estimator.
type EstimatorConfig struct {
	// TickPeriod is the duration of one tick.
	TickPeriod time.Duration
	// Alpha is the smoothing factor in (0,1]. Near 1 favors responsiveness,
	// near 0 favors stability.
	Alpha float64
	// StallTimeout is how long without a rising edge before the speed is unknown.
	StallTimeout Ticks
	// MinPeriod rejects rising edges closer than this to the previous one.
	// Zero disables the guard.
	MinPeriod Ticks
}

// Validate checks the configuration for values the estimator cannot use.
func (c EstimatorConfig) Validate() error {
	if c.TickPeriod <= 0 {
		return fmt.Errorf("tick period must be > 0, got %v", c.TickPeriod)
	}
	if !(c.Alpha > 0 && c.Alpha <= 1) {
		return fmt.Errorf("alpha must be in (0,1], got %v", c.Alpha)
	}
	if c.StallTimeout == 0 {
		return fmt.Errorf("stall timeout must be > 0")
	}
	if c.MinPeriod >= c.StallTimeout {
		return fmt.Errorf("min period (%d ticks) must be below stall timeout (%d ticks)", c.MinPeriod, c.StallTimeout)
	}
	return nil
}

// PeriodEstimator turns rising edges into a smoothed frequency estimate.
type PeriodEstimator struct {
	cfg        EstimatorConfig
	tickHz     float64
	est        SpeedEstimate
	smoothed   float64
	lastRising Tick
	haveRising bool
	counts     EstimatorCounts
}

// NewPeriodEstimator creates an estimator in the unknown state.
func NewPeriodEstimator(cfg EstimatorConfig) (*PeriodEstimator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &PeriodEstimator{
		cfg:    cfg,
		tickHz: float64(time.Second) / float64(cfg.TickPeriod),
	}, nil
}

// Update advances the estimator to now, consuming edge if ok is true, and
// returns the current estimate.
func (e *PeriodEstimator) Update(now Tick, edge EdgeEvent, ok bool) SpeedEstimate {
	// The gap is judged against the previous rising edge, so a late edge
	// starts a new measurement instead of closing an over-long period.
	if e.haveRising && now.Sub(e.lastRising) > e.cfg.StallTimeout {
		e.stall(now)
	}

	if ok && edge.Polarity == Rising {
		e.acceptRising(edge.Time)
	}

	return e.est
}

func (e *PeriodEstimator) acceptRising(at Tick) {
	if !e.haveRising {
		e.lastRising = at
		e.haveRising = true
		e.est.Stale = false
		return
	}

	raw := at.Sub(e.lastRising)
	if raw == 0 || raw < e.cfg.MinPeriod {
		e.counts.Rejected++
		return
	}

	freq := e.tickHz / float64(raw)
	e.smoothed = e.cfg.Alpha*freq + (1-e.cfg.Alpha)*e.smoothed
	e.lastRising = at
	e.counts.Periods++

	e.est = SpeedEstimate{
		Known:     true,
		Period:    raw,
		Frequency: e.smoothed,
	}
}

func (e *PeriodEstimator) stall(now Tick) {
	e.haveRising = false
	e.smoothed = 0
	e.counts.Stalls++
	e.est = SpeedEstimate{
		Stale:      true,
		StaleSince: now,
	}
}

// Estimate returns the current estimate without advancing time.
func (e *PeriodEstimator) Estimate() SpeedEstimate {
	return e.est
}

// Counts returns estimator activity since startup.
func (e *PeriodEstimator) Counts() EstimatorCounts {
	return e.counts
}

// Package control runs the fixed-period measure-and-drive loop that turns
// hall sensor samples into LED brightness.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sweeney/hall-led/internal/clock"
	"github.com/sweeney/hall-led/internal/logging"
	"github.com/sweeney/hall-led/internal/logic"
	"github.com/sweeney/hall-led/internal/pwm"
	"github.com/sweeney/hall-led/internal/sensor"
	"github.com/sweeney/hall-led/internal/status"
)

// ErrFault is wrapped by Run when the loop stopped in the fault state.
var ErrFault = errors.New("control: fault")

// faultSleepFn paces fault cycles when the clock itself has failed.
var faultSleepFn = time.Sleep

// Config holds the loop's timing and the pure-logic tuning.
type Config struct {
	// CyclePeriod is the spacing of cycle starts.
	CyclePeriod logic.Ticks
	// Debounce is the edge detector window.
	Debounce logic.Ticks
	// Estimator configures the period estimator. A zero TickPeriod is
	// taken from the clock.
	Estimator logic.EstimatorConfig
	// Curve maps frequency to duty.
	Curve logic.CurveConfig
	// FaultDuty is written in the fault state and on shutdown.
	FaultDuty uint32
	// Heartbeat is the interval between status log lines; 0 disables.
	Heartbeat logic.Ticks
}

// Watchdog is kicked once per healthy cycle.
type Watchdog interface {
	Kick() error
}

// Option configures a Loop.
type Option func(*Loop)

// WithWatchdog sets the watchdog kicked on every Running cycle.
func WithWatchdog(w Watchdog) Option {
	return func(l *Loop) { l.wd = w }
}

// WithStopOnFault makes Run return as soon as the loop faults. Use it when
// no watchdog is armed to restart the process.
func WithStopOnFault() Option {
	return func(l *Loop) { l.stopOnFault = true }
}

// WithLogger replaces the default "control" module logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) { l.log = logger }
}

// Loop owns the detector, estimator and mapper and drives them from a
// single goroutine. It is not safe for concurrent use.
type Loop struct {
	cfg Config
	in  sensor.Reader
	out pwm.Output
	clk clock.Clock
	wd  Watchdog
	log *slog.Logger

	stopOnFault bool

	detector  *logic.EdgeDetector
	estimator *logic.PeriodEstimator
	mapper    *logic.DutyMapper

	state status.State
	fault error

	est    logic.SpeedEstimate
	duty   uint32
	counts status.Counts

	started  bool
	start    logic.Tick
	now      logic.Tick
	next     logic.Tick // scheduled start of the current cycle
	lastBeat logic.Tick
}

// New validates cfg against the collaborators and returns a Loop in the
// Running state.
func New(cfg Config, in sensor.Reader, out pwm.Output, clk clock.Clock, opts ...Option) (*Loop, error) {
	if in == nil || out == nil || clk == nil {
		return nil, errors.New("control: sensor, pwm and clock are required")
	}
	if cfg.CyclePeriod == 0 {
		return nil, errors.New("control: cycle period must be > 0")
	}
	if cfg.FaultDuty > out.MaxDuty() {
		return nil, fmt.Errorf("control: fault duty %d exceeds channel max %d", cfg.FaultDuty, out.MaxDuty())
	}

	est := cfg.Estimator
	if est.TickPeriod == 0 {
		est.TickPeriod = clk.TickPeriod()
	} else if est.TickPeriod != clk.TickPeriod() {
		return nil, fmt.Errorf("control: estimator tick %v does not match clock tick %v", est.TickPeriod, clk.TickPeriod())
	}
	cfg.Estimator = est

	estimator, err := logic.NewPeriodEstimator(est)
	if err != nil {
		return nil, fmt.Errorf("control: estimator: %w", err)
	}
	mapper, err := logic.NewDutyMapper(cfg.Curve, out.MaxDuty())
	if err != nil {
		return nil, fmt.Errorf("control: curve: %w", err)
	}

	l := &Loop{
		cfg:       cfg,
		in:        in,
		out:       out,
		clk:       clk,
		detector:  logic.NewEdgeDetector(cfg.Debounce),
		estimator: estimator,
		mapper:    mapper,
		state:     status.StateRunning,
		duty:      cfg.Curve.IdleDuty,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.log == nil {
		l.log = logging.GetLogger("control")
	}
	return l, nil
}

// Run steps the loop until ctx is cancelled, or until the first fault with
// WithStopOnFault. The context is only checked between cycles. On exit the fault duty is written. If the loop faulted,
// the returned error wraps ErrFault and the cause.
func (l *Loop) Run(ctx context.Context) error {
	l.log.Info("loop started",
		"cycle_ticks", l.cfg.CyclePeriod,
		"debounce_ticks", l.cfg.Debounce,
		"tick", l.clk.TickPeriod(),
	)

	for ctx.Err() == nil {
		if l.Step() == status.StateFault && l.stopOnFault {
			break
		}
	}

	if err := l.out.SetDuty(l.cfg.FaultDuty); err != nil {
		l.log.Warn("failed to write safe duty on exit", "error", err)
	} else {
		l.duty = l.cfg.FaultDuty
	}

	snap := l.Snapshot()
	l.log.Info("loop stopped", snap.LogAttrs()...)

	if l.fault != nil {
		return fmt.Errorf("%w: %w", ErrFault, l.fault)
	}
	return nil
}

// Step executes one cycle, including the wait for the next scheduled tick,
// and returns the resulting state.
func (l *Loop) Step() status.State {
	if l.state == status.StateRunning {
		err := l.cycle()
		if err == nil {
			return l.state
		}
		l.enterFault(err)
	}
	l.faultCycle()
	return l.state
}

// cycle is one Running iteration: sample, detect, estimate, map, write,
// kick, wait.
func (l *Loop) cycle() error {
	now, err := l.clk.Now()
	if err != nil {
		return fmt.Errorf("clock: %w", err)
	}
	if !l.started {
		l.started = true
		l.start = now
		l.next = now
		l.lastBeat = now
	}
	l.now = now

	raw, err := l.in.Level()
	if err != nil {
		return fmt.Errorf("sensor read: %w", err)
	}

	edge, ok := l.detector.Poll(now, raw)
	if ok {
		if edge.Polarity == logic.Rising {
			l.counts.Rising++
		} else {
			l.counts.Falling++
		}
		if l.log.Enabled(context.Background(), slog.LevelDebug) {
			l.log.Debug("edge", "polarity", edge.Polarity.String(), "tick", uint32(edge.Time))
		}
	}

	est := l.estimator.Update(now, edge, ok)
	l.noteEstimate(est)

	cmd := l.mapper.Map(est)
	if err := l.out.SetDuty(cmd.Value); err != nil {
		return fmt.Errorf("pwm write: %w", err)
	}
	l.duty = cmd.Value
	l.counts.Cycles++

	if l.wd != nil {
		if err := l.wd.Kick(); err != nil {
			l.log.Warn("watchdog kick failed", "error", err)
		}
	}

	l.heartbeat(now)
	return l.wait()
}

// wait sleeps until the next scheduled cycle start. A cycle that ran a full
// period or more past its slot re-anchors the schedule instead of bursting
// to catch up.
func (l *Loop) wait() error {
	next := l.next.Add(l.cfg.CyclePeriod)

	end, err := l.clk.Now()
	if err != nil {
		return fmt.Errorf("clock: %w", err)
	}
	if !end.Before(next) {
		l.counts.Overruns++
		if l.log.Enabled(context.Background(), slog.LevelDebug) {
			l.log.Debug("cycle overrun", "late_ticks", uint32(end.Sub(next)))
		}
		next = end.Add(l.cfg.CyclePeriod)
	}
	l.next = next

	if err := l.clk.WaitUntil(next); err != nil {
		return fmt.Errorf("clock wait: %w", err)
	}
	return nil
}

func (l *Loop) enterFault(err error) {
	l.state = status.StateFault
	l.fault = err
	snap := l.Snapshot()
	l.log.Error("entering fault state", snap.LogAttrs()...)
}

// faultCycle writes the safe duty and paces at the cycle cadence. The
// watchdog is never kicked here.
func (l *Loop) faultCycle() {
	if err := l.out.SetDuty(l.cfg.FaultDuty); err == nil {
		l.duty = l.cfg.FaultDuty
	}
	l.counts.Cycles++

	period := clock.ToDuration(l.cfg.CyclePeriod, l.clk.TickPeriod())
	now, err := l.clk.Now()
	if err != nil {
		faultSleepFn(period)
		return
	}
	l.now = now
	if err := l.clk.WaitUntil(now.Add(l.cfg.CyclePeriod)); err != nil {
		faultSleepFn(period)
	}
}

func (l *Loop) noteEstimate(est logic.SpeedEstimate) {
	prev := l.est
	l.est = est

	switch {
	case est.Known && !prev.Known:
		l.log.Info("speed acquired",
			"frequency_hz", est.Frequency,
			"period_ticks", uint32(est.Period),
		)
	case est.Stale && !prev.Stale:
		l.log.Warn("sensor stalled, speed unknown",
			"last_frequency_hz", prev.Frequency,
			"tick", uint32(est.StaleSince),
		)
	}
}

func (l *Loop) heartbeat(now logic.Tick) {
	if l.cfg.Heartbeat == 0 || now.Sub(l.lastBeat) < l.cfg.Heartbeat {
		return
	}
	l.lastBeat = now
	snap := l.Snapshot()
	l.log.Info("heartbeat", snap.LogAttrs()...)
}

// State returns the current state.
func (l *Loop) State() status.State {
	return l.state
}

// Err returns the fault cause, or nil while running.
func (l *Loop) Err() error {
	return l.fault
}

// Snapshot returns a point-in-time view of the loop.
func (l *Loop) Snapshot() status.Snapshot {
	counts := l.counts
	counts.EstimatorCounts = l.estimator.Counts()

	snap := status.Snapshot{
		State:      l.state,
		Level:      l.detector.Level(),
		Estimate:   l.est,
		Duty:       l.duty,
		MaxDuty:    l.out.MaxDuty(),
		Counts:     counts,
		Now:        l.now,
		Start:      l.start,
		TickPeriod: l.clk.TickPeriod(),
	}
	if l.fault != nil {
		snap.Fault = l.fault.Error()
	}
	return snap
}

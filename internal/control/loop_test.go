package control

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/sweeney/hall-led/internal/clock"
	"github.com/sweeney/hall-led/internal/logic"
	"github.com/sweeney/hall-led/internal/pwm"
	"github.com/sweeney/hall-led/internal/sensor"
	"github.com/sweeney/hall-led/internal/status"
)

type fakeWatchdog struct {
	kicks int
	err   error
}

func (w *fakeWatchdog) Kick() error {
	w.kicks++
	return w.err
}

// readerFunc adapts a function to sensor.Reader.
type readerFunc func() (bool, error)

func (f readerFunc) Level() (bool, error) { return f() }
func (f readerFunc) Close() error         { return nil }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	return Config{
		CyclePeriod: 1,
		Debounce:    5,
		Estimator: logic.EstimatorConfig{
			Alpha:        0.5,
			StallTimeout: 2000,
		},
		Curve: logic.CurveConfig{
			Scale:    10,
			MinDuty:  0,
			MaxDuty:  1023,
			IdleDuty: 0,
		},
		FaultDuty: 0,
	}
}

func newTestLoop(t *testing.T, cfg Config, in sensor.Reader, out pwm.Output, clk clock.Clock, opts ...Option) *Loop {
	t.Helper()
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	l, err := New(cfg, in, out, clk, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return l
}

// pulses returns n samples that are active for width ticks starting at each
// of the given ticks.
func pulses(n, width int, at ...int) []bool {
	out := make([]bool, n)
	for _, a := range at {
		for i := a; i < a+width && i < n; i++ {
			out[i] = true
		}
	}
	return out
}

func TestDebouncedEdgeScenario(t *testing.T) {
	clk := clock.NewFakeClock(0, time.Millisecond)
	in := sensor.NewFakeReader([]bool{false, false, true, true, true, true, true, false, false})
	out := pwm.NewFakeOutput(1023)
	l := newTestLoop(t, testConfig(), in, out, clk)

	for i := 0; i < 6; i++ {
		l.Step()
	}
	if l.Snapshot().Level {
		t.Fatal("level should still be idle after tick 5")
	}
	if l.Snapshot().Counts.Rising != 0 {
		t.Fatal("no rising edge expected before tick 6")
	}

	l.Step() // tick 6
	snap := l.Snapshot()
	if !snap.Level || snap.Counts.Rising != 1 {
		t.Fatalf("expected rising edge at tick 6, level=%v rising=%d", snap.Level, snap.Counts.Rising)
	}
	if snap.Now != 6 {
		t.Errorf("expected cycle at tick 6, got %d", snap.Now)
	}

	l.Step()
	l.Step()
	if got := l.Snapshot().Counts.Rising; got != 1 {
		t.Errorf("expected exactly 1 rising edge, got %d", got)
	}
}

func TestSpeedToDutyScenario(t *testing.T) {
	cfg := testConfig()
	cfg.Debounce = 1
	clk := clock.NewFakeClock(0, time.Millisecond)
	in := sensor.NewFakeReader(pulses(200, 10, 100, 150))
	out := pwm.NewFakeOutput(1023)
	l := newTestLoop(t, cfg, in, out, clk)

	for i := 0; i <= 150; i++ {
		l.Step()
	}

	snap := l.Snapshot()
	if !snap.Estimate.Known {
		t.Fatal("expected known speed after two rising edges")
	}
	if snap.Estimate.Period != 50 {
		t.Errorf("expected period 50 ticks, got %d", snap.Estimate.Period)
	}
	if snap.Estimate.Frequency != 10 {
		t.Errorf("expected 10 Hz, got %v", snap.Estimate.Frequency)
	}
	if last, _ := out.Last(); last != 100 {
		t.Errorf("expected duty 100, got %d", last)
	}
	for i, w := range out.Writes[:150] {
		if w != 0 {
			t.Fatalf("write %d: expected idle duty 0 before speed is known, got %d", i, w)
		}
	}
}

func TestStallReturnsToIdleDuty(t *testing.T) {
	cfg := testConfig()
	cfg.Debounce = 1
	cfg.CyclePeriod = 10
	cfg.Curve.IdleDuty = 7
	cfg.Curve.MinDuty = 5

	clk := clock.NewFakeClock(0, time.Millisecond)
	wave := &sensor.SquareWave{Now: clk.Current, Period: 100, Active: 20}
	out := pwm.NewFakeOutput(1023)
	l := newTestLoop(t, cfg, wave, out, clk)

	for i := 0; i < 50; i++ {
		l.Step()
	}
	if !l.Snapshot().Estimate.Known {
		t.Fatal("expected known speed while spinning")
	}
	if last, _ := out.Last(); last == 7 {
		t.Fatal("duty should follow speed while spinning")
	}

	wave.Period = 0
	for i := 0; i < 250; i++ {
		l.Step()
	}
	snap := l.Snapshot()
	if snap.Estimate.Known || !snap.Estimate.Stale {
		t.Fatalf("expected stale unknown speed, got %+v", snap.Estimate)
	}
	if last, _ := out.Last(); last != 7 {
		t.Errorf("expected idle duty 7 after stall, got %d", last)
	}
	if snap.Counts.Stalls != 1 {
		t.Errorf("expected 1 stall, got %d", snap.Counts.Stalls)
	}
	if snap.State != status.StateRunning {
		t.Errorf("a stall is not a fault, got state %s", snap.State)
	}
}

func TestWheelSlowerThanStallTimeoutStaysIdle(t *testing.T) {
	cfg := testConfig()
	cfg.Debounce = 1
	cfg.CyclePeriod = 100
	cfg.Estimator.StallTimeout = 150
	cfg.Curve.IdleDuty = 7
	cfg.Curve.MinDuty = 5

	// One sample per cycle: a rising edge every 200 ticks.
	var samples []bool
	for i := 0; i < 5; i++ {
		samples = append(samples, true, false)
	}
	clk := clock.NewFakeClock(0, time.Millisecond)
	out := pwm.NewFakeOutput(1023)
	l := newTestLoop(t, cfg, sensor.NewFakeReader(samples), out, clk)

	for i := 0; i < len(samples); i++ {
		l.Step()
		if est := l.Snapshot().Estimate; est.Known {
			t.Fatalf("cycle %d: 200-tick period above a 150-tick stall timeout reported as %v Hz", i, est.Frequency)
		}
	}
	for i, d := range out.Writes {
		if d != 7 {
			t.Errorf("write %d: expected idle duty 7, got %d", i, d)
		}
	}
	snap := l.Snapshot()
	if snap.Counts.Rising != 5 {
		t.Errorf("expected 5 rising edges, got %d", snap.Counts.Rising)
	}
	if snap.Counts.Stalls != 4 {
		t.Errorf("expected 4 stalls, got %d", snap.Counts.Stalls)
	}
}

// tickClock and lastDuty keep no history, so they add no allocations of
// their own to a cycle.
type tickClock struct{ now logic.Tick }

func (c *tickClock) Now() (logic.Tick, error)  { return c.now, nil }
func (c *tickClock) TickPeriod() time.Duration { return time.Millisecond }

func (c *tickClock) WaitUntil(t logic.Tick) error {
	if c.now.Before(t) {
		c.now = t
	}
	return nil
}

type lastDuty struct{ duty uint32 }

func (o *lastDuty) SetDuty(d uint32) error {
	o.duty = d
	return nil
}

func (o *lastDuty) MaxDuty() uint32 { return 1023 }
func (o *lastDuty) Close() error    { return nil }

func TestCycleDoesNotAllocate(t *testing.T) {
	cfg := testConfig()
	cfg.Debounce = 1

	n := 0
	in := readerFunc(func() (bool, error) {
		n++
		return n%10 < 5, nil
	})
	out := &lastDuty{}
	l := newTestLoop(t, cfg, in, out, &tickClock{})

	// Past the speed-acquired log line.
	for i := 0; i < 50; i++ {
		l.Step()
	}
	if !l.Snapshot().Estimate.Known {
		t.Fatal("expected known speed before measuring")
	}

	allocs := testing.AllocsPerRun(200, func() { l.Step() })
	if allocs != 0 {
		t.Errorf("expected no allocations per cycle with debug off, got %v", allocs)
	}
	if l.Snapshot().Counts.Rising < 20 {
		t.Errorf("expected edges during the measured cycles, got %d", l.Snapshot().Counts.Rising)
	}
}

func TestFaultOnSensorRead(t *testing.T) {
	cfg := testConfig()
	cfg.FaultDuty = 3
	clk := clock.NewFakeClock(0, time.Millisecond)
	in := sensor.NewFakeReader([]bool{false})
	in.FailAt = 5
	in.ReadError = errors.New("line released")
	out := pwm.NewFakeOutput(1023)
	wd := &fakeWatchdog{}
	l := newTestLoop(t, cfg, in, out, clk, WithWatchdog(wd))

	for i := 0; i < 4; i++ {
		if st := l.Step(); st != status.StateRunning {
			t.Fatalf("step %d: expected RUNNING, got %s", i, st)
		}
	}
	if st := l.Step(); st != status.StateFault {
		t.Fatalf("expected FAULT on read error, got %s", st)
	}
	if last, _ := out.Last(); last != 3 {
		t.Errorf("expected fault duty 3 written, got %d", last)
	}
	if wd.kicks != 4 {
		t.Errorf("expected 4 kicks before fault, got %d", wd.kicks)
	}
	if !strings.Contains(l.Snapshot().Fault, "line released") {
		t.Errorf("fault cause not reported: %q", l.Snapshot().Fault)
	}

	// Fault is latched and the watchdog starves.
	writes := len(out.Writes)
	for i := 0; i < 10; i++ {
		if st := l.Step(); st != status.StateFault {
			t.Fatalf("fault must latch, got %s", st)
		}
	}
	if wd.kicks != 4 {
		t.Errorf("watchdog kicked in fault state: %d kicks", wd.kicks)
	}
	if len(out.Writes) != writes+10 {
		t.Errorf("expected fault duty written every cycle, got %d new writes", len(out.Writes)-writes)
	}
	for _, w := range out.Writes[writes:] {
		if w != 3 {
			t.Fatalf("expected only fault duty in fault state, got %d", w)
		}
	}
	if in.Calls() != 5 {
		t.Errorf("sensor should not be read in fault state, got %d reads", in.Calls())
	}
}

func TestFaultOnPWMWrite(t *testing.T) {
	clk := clock.NewFakeClock(0, time.Millisecond)
	in := sensor.NewFakeReader([]bool{false})
	out := pwm.NewFakeOutput(1023)
	out.FailAt = 3
	l := newTestLoop(t, testConfig(), in, out, clk)

	l.Step()
	l.Step()
	if st := l.Step(); st != status.StateFault {
		t.Fatalf("expected FAULT on write error, got %s", st)
	}
	if len(out.Writes) != 2 {
		t.Errorf("expected 2 accepted writes, got %d", len(out.Writes))
	}
	if !strings.Contains(l.Err().Error(), "pwm write") {
		t.Errorf("unexpected fault cause: %v", l.Err())
	}
}

func TestFaultOnClock(t *testing.T) {
	var slept []time.Duration
	prev := faultSleepFn
	faultSleepFn = func(d time.Duration) { slept = append(slept, d) }
	t.Cleanup(func() { faultSleepFn = prev })

	cfg := testConfig()
	cfg.CyclePeriod = 20
	clk := clock.NewFakeClock(0, time.Millisecond)
	clk.FailNowAt = 5
	clk.NowError = clock.ErrStopped
	in := sensor.NewFakeReader([]bool{false})
	out := pwm.NewFakeOutput(1023)
	l := newTestLoop(t, cfg, in, out, clk)

	l.Step()
	l.Step()
	if st := l.Step(); st != status.StateFault {
		t.Fatalf("expected FAULT on clock error, got %s", st)
	}
	if !errors.Is(l.Err(), clock.ErrStopped) {
		t.Errorf("expected fault to wrap ErrStopped, got %v", l.Err())
	}
	if len(slept) != 1 || slept[0] != 20*time.Millisecond {
		t.Errorf("expected one fallback sleep of 20ms, got %v", slept)
	}
}

func TestFaultOnClockWait(t *testing.T) {
	clk := clock.NewFakeClock(0, time.Millisecond)
	clk.WaitError = errors.New("timer gone")
	prev := faultSleepFn
	faultSleepFn = func(time.Duration) {}
	t.Cleanup(func() { faultSleepFn = prev })

	l := newTestLoop(t, testConfig(), sensor.NewFakeReader([]bool{false}), pwm.NewFakeOutput(1023), clk)
	if st := l.Step(); st != status.StateFault {
		t.Fatalf("expected FAULT on wait error, got %s", st)
	}
}

func TestWatchdogKickErrorIsNotFatal(t *testing.T) {
	clk := clock.NewFakeClock(0, time.Millisecond)
	wd := &fakeWatchdog{err: errors.New("notify socket gone")}
	l := newTestLoop(t, testConfig(), sensor.NewFakeReader([]bool{false}), pwm.NewFakeOutput(1023), clk, WithWatchdog(wd))

	for i := 0; i < 3; i++ {
		if st := l.Step(); st != status.StateRunning {
			t.Fatalf("kick failure should not fault the loop, got %s", st)
		}
	}
	if wd.kicks != 3 {
		t.Errorf("expected 3 kicks, got %d", wd.kicks)
	}
}

func TestScheduling(t *testing.T) {
	tests := []struct {
		name      string
		delay     logic.Ticks
		wantWaits []logic.Tick
		overruns  uint64
	}{
		{"OnTime", 0, []logic.Tick{10, 20, 30, 40}, 0},
		{"LateUnderPeriod", 5, []logic.Tick{10, 20, 30, 40}, 0},
		{"OverrunReanchors", 25, []logic.Tick{10, 20, 56, 66}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.CyclePeriod = 10
			clk := clock.NewFakeClock(0, time.Millisecond)
			clk.CycleCost = 1

			reads := 0
			in := readerFunc(func() (bool, error) {
				reads++
				if reads == 3 {
					clk.Advance(tt.delay)
				}
				return false, nil
			})
			l := newTestLoop(t, cfg, in, pwm.NewFakeOutput(1023), clk)

			for i := 0; i < 4; i++ {
				l.Step()
			}
			if len(clk.Waits) != len(tt.wantWaits) {
				t.Fatalf("expected %d waits, got %v", len(tt.wantWaits), clk.Waits)
			}
			for i, w := range tt.wantWaits {
				if clk.Waits[i] != w {
					t.Errorf("wait %d: got %d, want %d", i, clk.Waits[i], w)
				}
			}
			if got := l.Snapshot().Counts.Overruns; got != tt.overruns {
				t.Errorf("expected %d overruns, got %d", tt.overruns, got)
			}
		})
	}
}

func TestDutyAlwaysInRange(t *testing.T) {
	cfg := testConfig()
	cfg.Debounce = 2
	cfg.Estimator.MinPeriod = 3
	cfg.Curve = logic.CurveConfig{Scale: 25, Offset: 40, MinDuty: 30, MaxDuty: 600, IdleDuty: 30}

	clk := clock.NewFakeClock(0, time.Millisecond)
	wave := &sensor.SquareWave{Now: clk.Current, Bounce: 3}
	out := pwm.NewFakeOutput(1023)
	l := newTestLoop(t, cfg, wave, out, clk)

	periods := []logic.Ticks{0, 400, 90, 12, 5, 2500, 33, 0, 7}
	for _, p := range periods {
		wave.Period = p
		wave.Active = p / 2
		for i := 0; i < 3000; i++ {
			l.Step()
		}
	}
	if l.State() != status.StateRunning {
		t.Fatalf("unexpected fault: %v", l.Err())
	}
	for i, w := range out.Writes {
		if w < 30 || w > 600 {
			t.Fatalf("write %d: duty %d outside [30,600]", i, w)
		}
	}
}

func TestRunStopsOnCancelAndWritesSafeDuty(t *testing.T) {
	cfg := testConfig()
	cfg.Debounce = 1
	cfg.FaultDuty = 1

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clk := clock.NewFakeClock(0, time.Millisecond)
	clk.OnWait = func(now logic.Tick) {
		if now >= 300 {
			cancel()
		}
	}
	wave := &sensor.SquareWave{Now: clk.Current, Period: 50, Active: 10}
	out := pwm.NewFakeOutput(1023)
	l := newTestLoop(t, cfg, wave, out, clk)

	if err := l.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if last, _ := out.Last(); last != 1 {
		t.Errorf("expected safe duty 1 on exit, got %d", last)
	}
	if got := l.Snapshot().Counts.Cycles; got != 300 {
		t.Errorf("expected 300 cycles before cancel was observed, got %d", got)
	}
}

func TestRunReturnsFault(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cause := errors.New("gpio chip removed")
	clk := clock.NewFakeClock(0, time.Millisecond)
	waits := 0
	clk.OnWait = func(logic.Tick) {
		waits++
		if waits == 10 {
			cancel()
		}
	}
	in := sensor.NewFakeReader([]bool{true})
	in.FailAt = 3
	in.ReadError = cause
	l := newTestLoop(t, testConfig(), in, pwm.NewFakeOutput(1023), clk)

	err := l.Run(ctx)
	if !errors.Is(err, ErrFault) {
		t.Fatalf("expected ErrFault, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("expected cause to be wrapped, got %v", err)
	}
}

func TestHeartbeatAndSpeedLogs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	cfg := testConfig()
	cfg.Debounce = 1
	cfg.Heartbeat = 100
	clk := clock.NewFakeClock(0, time.Millisecond)
	wave := &sensor.SquareWave{Now: clk.Current, Period: 40, Active: 10}
	l := newTestLoop(t, cfg, wave, pwm.NewFakeOutput(1023), clk, WithLogger(logger))

	for i := 0; i < 250; i++ {
		l.Step()
	}

	out := buf.String()
	if n := strings.Count(out, "msg=heartbeat"); n != 2 {
		t.Errorf("expected 2 heartbeats in 250 ticks, got %d", n)
	}
	if n := strings.Count(out, `msg="speed acquired"`); n != 1 {
		t.Errorf("expected 1 speed acquired line, got %d", n)
	}
}

func TestNewValidation(t *testing.T) {
	clk := clock.NewFakeClock(0, time.Millisecond)
	in := sensor.NewFakeReader([]bool{false})
	out := pwm.NewFakeOutput(255)

	tests := []struct {
		name string
		mod  func(*Config)
	}{
		{"ZeroCycle", func(c *Config) { c.CyclePeriod = 0 }},
		{"FaultDutyAboveMax", func(c *Config) { c.FaultDuty = 256 }},
		{"TickMismatch", func(c *Config) { c.Estimator.TickPeriod = time.Microsecond }},
		{"BadAlpha", func(c *Config) { c.Estimator.Alpha = 2 }},
		{"CurveAboveChannel", func(c *Config) { c.Curve.MaxDuty = 1023 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.Curve.MaxDuty = 255
			tt.mod(&cfg)
			if _, err := New(cfg, in, out, clk, WithLogger(quietLogger())); err == nil {
				t.Error("expected error")
			}
		})
	}

	if _, err := New(testConfig(), nil, out, clk); err == nil {
		t.Error("expected error for missing sensor")
	}
}

func TestRunStopOnFault(t *testing.T) {
	cfg := testConfig()
	cfg.FaultDuty = 2
	clk := clock.NewFakeClock(0, time.Millisecond)
	in := sensor.NewFakeReader([]bool{false})
	in.FailAt = 4
	out := pwm.NewFakeOutput(1023)
	l := newTestLoop(t, cfg, in, out, clk, WithStopOnFault())

	err := l.Run(context.Background())
	if !errors.Is(err, ErrFault) {
		t.Fatalf("expected ErrFault, got %v", err)
	}
	if in.Calls() != 4 {
		t.Errorf("expected Run to stop on the faulting cycle, got %d reads", in.Calls())
	}
	if last, _ := out.Last(); last != 2 {
		t.Errorf("expected fault duty 2, got %d", last)
	}
}

package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/sweeney/hall-led/internal/clock"
	"github.com/sweeney/hall-led/internal/config"
	"github.com/sweeney/hall-led/internal/control"
	"github.com/sweeney/hall-led/internal/logging"
	"github.com/sweeney/hall-led/internal/logic"
	"github.com/sweeney/hall-led/internal/pwm"
	"github.com/sweeney/hall-led/internal/sensor"
	"github.com/sweeney/hall-led/internal/status"
)

type simOptions struct {
	FrequencyHz float64
	Duration    time.Duration
	Bounce      int
	Every       time.Duration
}

// tracePoint is the loop output sampled during a simulation.
type tracePoint struct {
	At          time.Duration
	FrequencyHz float64
	Duty        uint32
}

func newSimulateCmd() *cobra.Command {
	var opts simOptions

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run the control loop against a simulated sensor",
		Long: `Feeds the control loop a square wave at --freq on a simulated clock ` +
			`and prints the duty trace and the final status. No hardware is touched.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logging.Initialize(cfg.Logging)

			snap, trace, err := simulate(cfg, opts)
			if err != nil {
				return err
			}
			printTrace(cmd.OutOrStdout(), trace)
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", status.FormatJSON(snap))
			return nil
		},
	}
	cmd.Flags().Float64Var(&opts.FrequencyHz, "freq", 20, "Magnet passes per second (0 for a stopped wheel)")
	cmd.Flags().DurationVar(&opts.Duration, "duration", 5*time.Second, "Simulated run time")
	cmd.Flags().IntVar(&opts.Bounce, "bounce", 0, "Ticks of contact chatter at the start of each pass")
	cmd.Flags().DurationVar(&opts.Every, "every", time.Second, "Trace sample interval")
	return cmd
}

// simulate runs the loop on a fake clock and recording PWM output.
func simulate(cfg config.Config, opts simOptions) (status.Snapshot, []tracePoint, error) {
	if opts.Duration <= 0 {
		return status.Snapshot{}, nil, fmt.Errorf("simulate: duration must be > 0")
	}
	if opts.FrequencyHz < 0 || opts.Bounce < 0 {
		return status.Snapshot{}, nil, fmt.Errorf("simulate: frequency and bounce must be >= 0")
	}

	tick := cfg.Loop.TickPeriod
	cc := cfg.Control()
	clk := clock.NewFakeClock(0, tick)
	wave := &sensor.SquareWave{Now: clk.Current, Bounce: logic.Ticks(opts.Bounce)}
	if opts.FrequencyHz > 0 {
		wave.Period = clock.ToTicks(time.Duration(float64(time.Second)/opts.FrequencyHz), tick)
		wave.Active = wave.Period / 2
		if wave.Active <= cc.Debounce || wave.Active <= wave.Bounce {
			return status.Snapshot{}, nil, fmt.Errorf("simulate: %.1f Hz pulses are shorter than the debounce window", opts.FrequencyHz)
		}
	}

	maxDuty, err := pwm.MaxDutyForBits(cfg.PWM.ResolutionBits)
	if err != nil {
		return status.Snapshot{}, nil, err
	}
	out := pwm.NewFakeOutput(maxDuty)

	loop, err := control.New(cc, wave, out, clk, control.WithLogger(logging.GetLogger("simulate")))
	if err != nil {
		return status.Snapshot{}, nil, err
	}

	end := clock.ToTicks(opts.Duration, tick)
	every := clock.ToTicks(opts.Every, tick)
	var trace []tracePoint
	nextSample := every

	for logic.Ticks(clk.Current()) < end {
		if loop.Step() == status.StateFault {
			break
		}
		if every > 0 && logic.Ticks(clk.Current()) >= nextSample {
			snap := loop.Snapshot()
			trace = append(trace, tracePoint{
				At:          clock.ToDuration(logic.Ticks(clk.Current()), tick),
				FrequencyHz: snap.Estimate.Frequency,
				Duty:        snap.Duty,
			})
			nextSample += every
		}
	}
	return loop.Snapshot(), trace, nil
}

func printTrace(w io.Writer, trace []tracePoint) {
	for _, p := range trace {
		fmt.Fprintf(w, "t=%-8v freq=%6.2fHz duty=%d\n", p.At, p.FrequencyHz, p.Duty)
	}
}

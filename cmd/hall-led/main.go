// Command hall-led sets a status LED's brightness from the speed of a magnet
// passing a hall-effect sensor.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sweeney/hall-led/internal/clock"
	"github.com/sweeney/hall-led/internal/config"
	"github.com/sweeney/hall-led/internal/control"
	"github.com/sweeney/hall-led/internal/logging"
	"github.com/sweeney/hall-led/internal/pwm"
	"github.com/sweeney/hall-led/internal/sensor"
	"github.com/sweeney/hall-led/internal/watchdog"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "hall-led",
		Short:        "Drive LED brightness from hall sensor speed",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringP("config", "c", "", "YAML config file (default "+config.DefaultPath+" if it exists)")
	addOverrideFlags(root.PersistentFlags())

	root.AddCommand(newRunCmd(), newStateCmd(), newSimulateCmd())
	return root
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the control loop on the GPIO sensor and sysfs PWM",
		Long: `Opens the hall sensor GPIO line and the PWM channel, notifies systemd ` +
			`that startup finished, and runs the control loop until SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logging.Initialize(cfg.Logging)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runDaemon(ctx, cfg)
		},
	}
}

func newStateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Print the current sensor level and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			in, err := sensor.NewRealReader(cfg.SensorLine())
			if err != nil {
				return fmt.Errorf("init sensor: %w", err)
			}
			defer in.Close()
			return printState(cmd.OutOrStdout(), in)
		},
	}
}

func runDaemon(ctx context.Context, cfg config.Config) error {
	logger := logging.GetLogger("main")

	in, err := sensor.NewRealReader(cfg.SensorLine())
	if err != nil {
		return fmt.Errorf("init sensor: %w", err)
	}
	defer in.Close()

	out, err := pwm.OpenSysfs(cfg.PWMChannel())
	if err != nil {
		return fmt.Errorf("init pwm: %w", err)
	}
	defer func() {
		if err := out.Close(); err != nil {
			logger.Warn("pwm close", "error", err)
		}
	}()

	wd, err := watchdog.NewSystemd()
	if err != nil {
		return err
	}

	opts := []control.Option{control.WithWatchdog(wd)}
	if !wd.Enabled() {
		// Nothing will restart a faulted process that keeps running, so
		// exit and leave recovery to Restart=on-failure.
		opts = append(opts, control.WithStopOnFault())
	}

	loop, err := control.New(cfg.Control(), in, out, clock.NewMonotonic(cfg.Loop.TickPeriod), opts...)
	if err != nil {
		return err
	}

	if err := wd.Ready(); err != nil {
		logger.Warn("systemd ready notification failed", "error", err)
	}
	logger.Info("started",
		"gpio_chip", cfg.Sensor.Chip,
		"gpio_line", cfg.Sensor.Line,
		"pwm_chip", cfg.PWM.Chip,
		"pwm_channel", cfg.PWM.Channel,
		"max_duty", out.MaxDuty(),
		"watchdog", wd.Interval(),
	)

	runErr := loop.Run(ctx)
	if err := wd.Stopping(); err != nil {
		logger.Warn("systemd stopping notification failed", "error", err)
	}
	if errors.Is(runErr, control.ErrFault) {
		logger.Error("exiting after fault", "error", runErr)
	}
	return runErr
}

func printState(w io.Writer, r sensor.Reader) error {
	active, err := r.Level()
	if err != nil {
		return fmt.Errorf("read sensor: %w", err)
	}
	fmt.Fprintf(w, "Hall: %s\n", stateString(active))
	return nil
}

func stateString(active bool) string {
	if active {
		return "ACTIVE"
	}
	return "IDLE"
}

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/sweeney/hall-led/internal/config"
)

// addOverrideFlags registers flags that override config file values.
func addOverrideFlags(fs *pflag.FlagSet) {
	fs.String("gpio-chip", "", "GPIO chip for the hall sensor (e.g. gpiochip0)")
	fs.Int("gpio-line", 0, "GPIO line offset (BCM number) for the hall sensor")
	fs.Bool("active-low", false, "Sensor pulls the line low when a magnet is present")
	fs.Duration("debounce", 0, "Debounce window")
	fs.Int("pwm-chip", 0, "sysfs pwmchip index (-1 to auto-detect)")
	fs.Int("pwm-channel", 0, "PWM channel on the chip")
	fs.Float64("alpha", 0, "Smoothing factor in (0,1]")
	fs.Duration("stall-timeout", 0, "Time without a rising edge before the speed is unknown")
	fs.Float64("full-scale-hz", 0, "Frequency that maps to full brightness")
	fs.Uint32("fault-duty", 0, "Duty written in the fault state and on exit")
	fs.Duration("heartbeat", 0, "Status log interval (0 to disable)")
	fs.String("log-level", "", "Log level: debug, info, warn, error")
	fs.Bool("log-json", false, "Log in JSON instead of text")
}

// loadConfig reads --config (or the default path if present), applies flag
// overrides and validates the result.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	fs := cmd.Flags()
	path, _ := fs.GetString("config")
	if path == "" {
		if _, err := os.Stat(config.DefaultPath); err == nil {
			path = config.DefaultPath
		}
	}

	cfg := config.Default()
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return config.Config{}, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}

	applyFlags(fs, &cfg)
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// applyFlags copies explicitly set flags over cfg.
func applyFlags(fs *pflag.FlagSet, cfg *config.Config) {
	if fs.Changed("gpio-chip") {
		cfg.Sensor.Chip, _ = fs.GetString("gpio-chip")
	}
	if fs.Changed("gpio-line") {
		cfg.Sensor.Line, _ = fs.GetInt("gpio-line")
	}
	if fs.Changed("active-low") {
		cfg.Sensor.ActiveLow, _ = fs.GetBool("active-low")
	}
	if fs.Changed("debounce") {
		cfg.Sensor.Debounce, _ = fs.GetDuration("debounce")
	}
	if fs.Changed("pwm-chip") {
		cfg.PWM.Chip, _ = fs.GetInt("pwm-chip")
	}
	if fs.Changed("pwm-channel") {
		cfg.PWM.Channel, _ = fs.GetInt("pwm-channel")
	}
	if fs.Changed("alpha") {
		cfg.Estimator.Alpha, _ = fs.GetFloat64("alpha")
	}
	if fs.Changed("stall-timeout") {
		cfg.Estimator.StallTimeout, _ = fs.GetDuration("stall-timeout")
	}
	if fs.Changed("full-scale-hz") {
		cfg.Curve.FullScaleHz, _ = fs.GetFloat64("full-scale-hz")
		cfg.Curve.Scale = nil
	}
	if fs.Changed("fault-duty") {
		cfg.Loop.FaultDuty, _ = fs.GetUint32("fault-duty")
	}
	if fs.Changed("heartbeat") {
		cfg.Loop.Heartbeat, _ = fs.GetDuration("heartbeat")
	}
	if fs.Changed("log-level") {
		cfg.Logging.Level, _ = fs.GetString("log-level")
	}
	if fs.Changed("log-json") {
		if asJSON, _ := fs.GetBool("log-json"); asJSON {
			cfg.Logging.Format = "json"
		} else {
			cfg.Logging.Format = "text"
		}
	}
}

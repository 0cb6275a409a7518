// Package config loads the hall-led YAML configuration.
package config

import (
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/hall-led/internal/clock"
	"github.com/sweeney/hall-led/internal/control"
	"github.com/sweeney/hall-led/internal/logging"
	"github.com/sweeney/hall-led/internal/logic"
	"github.com/sweeney/hall-led/internal/pwm"
	"github.com/sweeney/hall-led/internal/sensor"
)

// DefaultPath is read by the run command when --config is not given.
const DefaultPath = "/etc/hall-led/config.yaml"

type Config struct {
	Sensor    SensorConfig    `yaml:"sensor"`
	PWM       PWMConfig       `yaml:"pwm"`
	Loop      LoopConfig      `yaml:"loop"`
	Estimator EstimatorConfig `yaml:"estimator"`
	Curve     CurveConfig     `yaml:"curve"`
	Logging   logging.Config  `yaml:"logging"`
}

type SensorConfig struct {
	Chip      string        `yaml:"chip"`
	Line      int           `yaml:"line"`
	Bias      string        `yaml:"bias"`
	ActiveLow bool          `yaml:"active_low"`
	Debounce  time.Duration `yaml:"debounce"`
}

type PWMConfig struct {
	Chip           int `yaml:"chip"`
	Channel        int `yaml:"channel"`
	FrequencyHz    int `yaml:"frequency_hz"`
	ResolutionBits int `yaml:"resolution_bits"`
}

type LoopConfig struct {
	TickPeriod  time.Duration `yaml:"tick_period"`
	CyclePeriod time.Duration `yaml:"cycle_period"`
	Heartbeat   time.Duration `yaml:"heartbeat"`
	FaultDuty   uint32        `yaml:"fault_duty"`
}

type EstimatorConfig struct {
	Alpha        float64       `yaml:"alpha"`
	StallTimeout time.Duration `yaml:"stall_timeout"`
	MinPeriod    time.Duration `yaml:"min_period"`
}

// CurveConfig describes the frequency to duty mapping. When Scale is absent
// the line runs from MinDuty at 0 Hz to MaxDuty at FullScaleHz.
type CurveConfig struct {
	Scale       *float64 `yaml:"scale"`
	Offset      float64  `yaml:"offset"`
	FullScaleHz float64  `yaml:"full_scale_hz"`
	MinDuty     uint32   `yaml:"min_duty"`
	MaxDuty     uint32   `yaml:"max_duty"` // 0 means the channel maximum
	IdleDuty    uint32   `yaml:"idle_duty"`
}

// Default returns the configuration used for keys missing from the file.
func Default() Config {
	return Config{
		Sensor: SensorConfig{
			Chip:      sensor.DefaultChip,
			Line:      sensor.DefaultLine,
			Bias:      string(sensor.BiasPullUp),
			ActiveLow: true,
			Debounce:  2 * time.Millisecond,
		},
		PWM: PWMConfig{
			Chip:           -1,
			Channel:        0,
			FrequencyHz:    1000,
			ResolutionBits: 10,
		},
		Loop: LoopConfig{
			TickPeriod:  time.Millisecond,
			CyclePeriod: time.Millisecond,
			Heartbeat:   15 * time.Minute,
		},
		Estimator: EstimatorConfig{
			Alpha:        0.3,
			StallTimeout: 2 * time.Second,
		},
		Curve: CurveConfig{
			FullScaleHz: 50,
		},
		Logging: logging.Config{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads path over the defaults and validates the result.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every section. Flag overrides are applied before calling it.
func (c Config) Validate() error {
	if c.Sensor.Chip == "" {
		return fmt.Errorf("sensor.chip is required")
	}
	if c.Sensor.Line < 0 {
		return fmt.Errorf("sensor.line must be >= 0")
	}
	switch sensor.Bias(c.Sensor.Bias) {
	case sensor.BiasPullUp, sensor.BiasPullDown, sensor.BiasDisabled:
	default:
		return fmt.Errorf("sensor.bias must be one of pull-up, pull-down, disabled")
	}
	if c.Sensor.Debounce < 0 {
		return fmt.Errorf("sensor.debounce must be >= 0")
	}

	if c.PWM.Channel < 0 {
		return fmt.Errorf("pwm.channel must be >= 0")
	}
	if c.PWM.FrequencyHz <= 0 {
		return fmt.Errorf("pwm.frequency_hz must be > 0")
	}
	channelMax, err := pwm.MaxDutyForBits(c.PWM.ResolutionBits)
	if err != nil {
		return fmt.Errorf("pwm.resolution_bits must be 1..16")
	}

	if c.Loop.TickPeriod <= 0 {
		return fmt.Errorf("loop.tick_period must be > 0")
	}
	if c.Loop.CyclePeriod < c.Loop.TickPeriod {
		return fmt.Errorf("loop.cycle_period must be >= loop.tick_period")
	}
	if c.Loop.Heartbeat < 0 {
		return fmt.Errorf("loop.heartbeat must be >= 0")
	}
	if c.Loop.FaultDuty > channelMax {
		return fmt.Errorf("loop.fault_duty must be <= %d", channelMax)
	}

	if !(c.Estimator.Alpha > 0 && c.Estimator.Alpha <= 1) {
		return fmt.Errorf("estimator.alpha must be in (0,1]")
	}
	if c.Estimator.StallTimeout <= c.Loop.CyclePeriod {
		return fmt.Errorf("estimator.stall_timeout must be > loop.cycle_period")
	}
	if c.Estimator.MinPeriod < 0 || c.Estimator.MinPeriod >= c.Estimator.StallTimeout {
		return fmt.Errorf("estimator.min_period must be in [0, estimator.stall_timeout)")
	}

	if c.Curve.Scale != nil {
		if s := *c.Curve.Scale; math.IsNaN(s) || math.IsInf(s, 0) || s < 0 {
			return fmt.Errorf("curve.scale must be >= 0")
		}
		if math.IsNaN(c.Curve.Offset) || math.IsInf(c.Curve.Offset, 0) {
			return fmt.Errorf("curve.offset must be finite")
		}
	} else if !(c.Curve.FullScaleHz > 0) || math.IsInf(c.Curve.FullScaleHz, 0) {
		return fmt.Errorf("curve.full_scale_hz must be > 0 when curve.scale is not set")
	}
	if c.Curve.MaxDuty > channelMax {
		return fmt.Errorf("curve.max_duty must be <= %d", channelMax)
	}
	maxDuty := c.curveMax(channelMax)
	if c.Curve.MinDuty > maxDuty {
		return fmt.Errorf("curve.min_duty must be <= curve.max_duty")
	}
	if c.Curve.IdleDuty < c.Curve.MinDuty || c.Curve.IdleDuty > maxDuty {
		return fmt.Errorf("curve.idle_duty must be within [curve.min_duty, curve.max_duty]")
	}

	if !logging.ValidLevel(c.Logging.Level) {
		return fmt.Errorf("logging.level must be one of debug, info, warn, error")
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be text or json")
	}
	return nil
}

func (c Config) curveMax(channelMax uint32) uint32 {
	if c.Curve.MaxDuty == 0 {
		return channelMax
	}
	return c.Curve.MaxDuty
}

// SensorLine returns the GPIO line settings.
func (c Config) SensorLine() sensor.Config {
	return sensor.Config{
		Chip:      c.Sensor.Chip,
		Line:      c.Sensor.Line,
		Bias:      sensor.Bias(c.Sensor.Bias),
		ActiveLow: c.Sensor.ActiveLow,
	}
}

// PWMChannel returns the PWM channel settings.
func (c Config) PWMChannel() pwm.Config {
	return pwm.Config{
		Chip:           c.PWM.Chip,
		Channel:        c.PWM.Channel,
		FrequencyHz:    c.PWM.FrequencyHz,
		ResolutionBits: c.PWM.ResolutionBits,
	}
}

// LogicCurve resolves the curve against the channel range.
func (c Config) LogicCurve() logic.CurveConfig {
	channelMax, _ := pwm.MaxDutyForBits(c.PWM.ResolutionBits)
	maxDuty := c.curveMax(channelMax)

	curve := logic.CurveConfig{
		MinDuty:  c.Curve.MinDuty,
		MaxDuty:  maxDuty,
		IdleDuty: c.Curve.IdleDuty,
	}
	if c.Curve.Scale != nil {
		curve.Scale = *c.Curve.Scale
		curve.Offset = c.Curve.Offset
	} else {
		curve.Scale = float64(maxDuty-c.Curve.MinDuty) / c.Curve.FullScaleHz
		curve.Offset = float64(c.Curve.MinDuty)
	}
	return curve
}

// Control converts durations to ticks of loop.tick_period.
func (c Config) Control() control.Config {
	tick := c.Loop.TickPeriod
	return control.Config{
		CyclePeriod: clock.ToTicks(c.Loop.CyclePeriod, tick),
		Debounce:    clock.ToTicks(c.Sensor.Debounce, tick),
		Estimator: logic.EstimatorConfig{
			TickPeriod:   tick,
			Alpha:        c.Estimator.Alpha,
			StallTimeout: clock.ToTicks(c.Estimator.StallTimeout, tick),
			MinPeriod:    clock.ToTicks(c.Estimator.MinPeriod, tick),
		},
		Curve:     c.LogicCurve(),
		FaultDuty: c.Loop.FaultDuty,
		Heartbeat: clock.ToTicks(c.Loop.Heartbeat, tick),
	}
}

//go:build tinygo

// Command hall-led-pico runs the hall sensor to LED loop on an RP2040/RP2350
// board. The hall sensor output goes to GP16 and the LED to GP15.
package main

import (
	"context"
	"machine"
	"time"

	"github.com/sweeney/hall-led/internal/board"
	"github.com/sweeney/hall-led/internal/clock"
	"github.com/sweeney/hall-led/internal/control"
	"github.com/sweeney/hall-led/internal/logging"
	"github.com/sweeney/hall-led/internal/logic"
	"github.com/sweeney/hall-led/internal/sensor"
)

const (
	tickPeriod     = time.Millisecond
	resolutionBits = 10
	pwmFrequencyHz = 1000
	watchdogMillis = 500
)

func main() {
	logging.Initialize(logging.Config{Level: "info", Format: "text"})
	log := logging.GetLogger("main")

	in := board.NewPinReader(machine.GP16, sensor.BiasPullUp, true)

	// GP14/GP15 are driven by PWM slice 7 on the RP2040/RP2350.
	out, err := board.NewPWMOutput(machine.PWM7, machine.GP15, pwmFrequencyHz, resolutionBits)
	if err != nil {
		println("could not configure PWM:", err.Error())
		return
	}

	cfg := control.Config{
		CyclePeriod: 1,
		Debounce:    2,
		Estimator: logic.EstimatorConfig{
			TickPeriod:   tickPeriod,
			Alpha:        0.3,
			StallTimeout: 2000,
		},
		Curve: logic.CurveConfig{
			Scale:    1023.0 / 50,
			MaxDuty:  out.MaxDuty(),
			IdleDuty: 0,
		},
		Heartbeat: 60000,
	}

	wd, err := board.StartWatchdog(watchdogMillis)
	if err != nil {
		println("could not start watchdog:", err.Error())
		return
	}

	loop, err := control.New(cfg, in, out, clock.NewMonotonic(tickPeriod), control.WithWatchdog(wd))
	if err != nil {
		println("could not start loop:", err.Error())
		return
	}

	// Run does not return with a background context. In the fault state the
	// watchdog is no longer fed and the chip resets.
	if err := loop.Run(context.Background()); err != nil {
		log.Error("loop stopped", "error", err)
	}
}

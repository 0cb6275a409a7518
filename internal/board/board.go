//go:build tinygo

// Package board adapts TinyGo machine peripherals to the sensor, pwm and
// control interfaces.
package board

import (
	"fmt"
	"machine"

	"github.com/sweeney/hall-led/internal/pwm"
	"github.com/sweeney/hall-led/internal/sensor"
)

// PinReader reads the hall sensor from a GPIO pin.
type PinReader struct {
	pin       machine.Pin
	activeLow bool
}

// NewPinReader configures pin as an input with the given bias.
func NewPinReader(pin machine.Pin, bias sensor.Bias, activeLow bool) *PinReader {
	mode := machine.PinInput
	switch bias {
	case sensor.BiasPullUp:
		mode = machine.PinInputPullup
	case sensor.BiasPullDown:
		mode = machine.PinInputPulldown
	}
	pin.Configure(machine.PinConfig{Mode: mode})
	return &PinReader{pin: pin, activeLow: activeLow}
}

// Level returns true while a magnet is present.
func (r *PinReader) Level() (bool, error) {
	return r.pin.Get() != r.activeLow, nil
}

func (r *PinReader) Close() error {
	return nil
}

// PWMGroup is the subset of a TinyGo PWM peripheral (e.g. machine.PWM7) used here.
type PWMGroup interface {
	Configure(config machine.PWMConfig) error
	Channel(pin machine.Pin) (uint8, error)
	Top() uint32
	Set(channel uint8, value uint32)
}

// PWMOutput drives one PWM channel with a fixed logical resolution, scaled
// onto the counter top.
type PWMOutput struct {
	group PWMGroup
	ch    uint8
	max   uint32
}

// NewPWMOutput configures group at frequencyHz and attaches pin. The LED
// starts off.
func NewPWMOutput(group PWMGroup, pin machine.Pin, frequencyHz uint64, resolutionBits int) (*PWMOutput, error) {
	max, err := pwm.MaxDutyForBits(resolutionBits)
	if err != nil {
		return nil, err
	}
	if frequencyHz == 0 {
		return nil, fmt.Errorf("pwm: invalid frequency 0")
	}
	// RP2040/RP2350 slices use a 16-bit counter with a ~256x divider, so
	// the carrier has to stay above ~8 Hz.
	if err := group.Configure(machine.PWMConfig{Period: 1e9 / frequencyHz}); err != nil {
		return nil, fmt.Errorf("pwm: configure: %w", err)
	}
	ch, err := group.Channel(pin)
	if err != nil {
		return nil, fmt.Errorf("pwm: channel for pin: %w", err)
	}
	group.Set(ch, 0)
	return &PWMOutput{group: group, ch: ch, max: max}, nil
}

// SetDuty sets the duty as a fraction of MaxDuty.
func (o *PWMOutput) SetDuty(duty uint32) error {
	if duty > o.max {
		return fmt.Errorf("%w: %d > %d", pwm.ErrOutOfRange, duty, o.max)
	}
	o.group.Set(o.ch, uint32(uint64(o.group.Top())*uint64(duty)/uint64(o.max)))
	return nil
}

func (o *PWMOutput) MaxDuty() uint32 {
	return o.max
}

// Close turns the LED off.
func (o *PWMOutput) Close() error {
	o.group.Set(o.ch, 0)
	return nil
}

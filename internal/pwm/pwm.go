// Package pwm drives the status LED through a hardware PWM channel.
package pwm

import (
	"errors"
	"fmt"
)

// ErrOutOfRange is returned when a duty value exceeds the channel range.
var ErrOutOfRange = errors.New("pwm: duty out of range")

// Output is a PWM channel with an integer duty range of 0..MaxDuty().
//
// Close should be best-effort and leave the LED off.
type Output interface {
	SetDuty(duty uint32) error
	MaxDuty() uint32
	Close() error
}

// Config selects and configures the PWM channel.
type Config struct {
	// Chip is the pwmchip index under /sys/class/pwm; -1 picks the first chip found.
	Chip int
	// Channel is the PWM channel on the chip.
	Channel int
	// FrequencyHz is the PWM carrier frequency.
	FrequencyHz int
	// ResolutionBits sets the duty range to 0..2^bits-1.
	ResolutionBits int
}

// MaxDutyForBits returns the largest duty value for a resolution.
func MaxDutyForBits(bits int) (uint32, error) {
	if bits < 1 || bits > 16 {
		return 0, fmt.Errorf("pwm: resolution must be 1..16 bits, got %d", bits)
	}
	return uint32(1)<<bits - 1, nil
}

func checkRange(duty, max uint32) error {
	if duty > max {
		return fmt.Errorf("%w: %d > %d", ErrOutOfRange, duty, max)
	}
	return nil
}

// Package sensor provides hall-effect sensor input with hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The fake implementations allow testing and simulation without hardware.
package sensor

// Reader reads the sensor line.
type Reader interface {
	// Level returns the logical level of the sensor line.
	// true = active (magnet present), after any active-low inversion.
	Level() (bool, error)

	// Close releases GPIO resources.
	Close() error
}

// Bias selects the line bias applied to the input.
type Bias string

const (
	BiasPullUp   Bias = "pull-up"
	BiasPullDown Bias = "pull-down"
	BiasDisabled Bias = "disabled"
)

// Config identifies and configures the sensor line.
type Config struct {
	Chip string // e.g. "gpiochip0"
	Line int    // line offset on the chip (BCM number on a Pi)
	Bias Bias
	// ActiveLow inverts the raw level. Open-collector hall sensors pull the
	// line low when a magnet is present.
	ActiveLow bool
}

// Default line (BCM numbering)
const (
	DefaultChip = "gpiochip0"
	DefaultLine = 17
)

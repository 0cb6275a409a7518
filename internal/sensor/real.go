//go:build linux && !tinygo

package sensor

import (
	"errors"
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// RealReader reads the sensor from actual hardware using the Linux GPIO character device.
type RealReader struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
	cfg  Config
}

// NewRealReader requests the configured line as an input.
func NewRealReader(cfg Config) (*RealReader, error) {
	if cfg.Chip == "" {
		cfg.Chip = DefaultChip
	}

	chip, err := gpiocdev.NewChip(cfg.Chip, gpiocdev.WithConsumer("hall-led"))
	if err != nil {
		return nil, fmt.Errorf("open gpio chip %s: %w", cfg.Chip, err)
	}

	bias, err := biasOption(cfg.Bias)
	if err != nil {
		chip.Close()
		return nil, err
	}
	opts := []gpiocdev.LineReqOption{gpiocdev.AsInput, bias}
	if cfg.ActiveLow {
		opts = append(opts, gpiocdev.AsActiveLow)
	}

	line, err := chip.RequestLine(cfg.Line, opts...)
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request sensor line %d: %w", cfg.Line, err)
	}

	return &RealReader{chip: chip, line: line, cfg: cfg}, nil
}

func biasOption(b Bias) (gpiocdev.LineReqOption, error) {
	switch b {
	case BiasPullUp, "":
		return gpiocdev.WithPullUp, nil
	case BiasPullDown:
		return gpiocdev.WithPullDown, nil
	case BiasDisabled:
		return gpiocdev.WithBiasDisabled, nil
	}
	return nil, fmt.Errorf("unknown bias %q", b)
}

// Level returns the logical level of the line. Active-low inversion is
// applied by the kernel.
func (r *RealReader) Level() (bool, error) {
	v, err := r.line.Value()
	if err != nil {
		return false, fmt.Errorf("read sensor line %d: %w", r.cfg.Line, err)
	}
	return v == 1, nil
}

// Close releases the line and chip.
func (r *RealReader) Close() error {
	var errs []error
	if r.line != nil {
		if err := r.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close sensor line: %w", err))
		}
		r.line = nil
	}
	if r.chip != nil {
		if err := r.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
		r.chip = nil
	}
	return errors.Join(errs...)
}

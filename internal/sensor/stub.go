//go:build !linux || tinygo

package sensor

import "errors"

// RealReader is not available on non-Linux platforms.
type RealReader struct{}

// NewRealReader returns an error on non-Linux platforms.
func NewRealReader(cfg Config) (*RealReader, error) {
	return nil, errors.New("sensor: gpio not supported on this platform (requires Linux)")
}

// Level is not implemented on non-Linux platforms.
func (r *RealReader) Level() (bool, error) {
	return false, errors.New("sensor: gpio not supported")
}

// Close is not implemented on non-Linux platforms.
func (r *RealReader) Close() error {
	return nil
}

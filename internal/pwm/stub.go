//go:build !linux || tinygo

package pwm

import "errors"

// Sysfs is not available on non-Linux platforms.
type Sysfs struct{}

// OpenSysfs returns an error on non-Linux platforms.
func OpenSysfs(cfg Config) (*Sysfs, error) {
	return nil, errors.New("pwm: sysfs pwm unsupported on this platform")
}

func (s *Sysfs) SetDuty(duty uint32) error { return errors.New("pwm: unsupported") }
func (s *Sysfs) MaxDuty() uint32           { return 0 }
func (s *Sysfs) Close() error              { return nil }

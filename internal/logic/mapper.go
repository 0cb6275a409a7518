package logic

import (
	"fmt"
	"math"
)

// CurveConfig describes the frequency to duty response curve:
//
//	duty = clamp(round(Scale*frequency + Offset), MinDuty, MaxDuty)
//
// An unknown estimate maps to IdleDuty.
type CurveConfig struct {
	Scale    float64 // duty counts per Hz; must be >= 0 so brighter means faster
	Offset   float64
	MinDuty  uint32
	MaxDuty  uint32
	IdleDuty uint32
}

// DutyMapper maps speed estimates to duty commands. It holds only its
// immutable curve, so Map is a pure function of its input.
type DutyMapper struct {
	curve CurveConfig
}

// NewDutyMapper validates the curve against the output channel's maximum duty.
func NewDutyMapper(curve CurveConfig, channelMax uint32) (*DutyMapper, error) {
	if math.IsNaN(curve.Scale) || math.IsInf(curve.Scale, 0) || curve.Scale < 0 {
		return nil, fmt.Errorf("curve scale must be a finite value >= 0, got %v", curve.Scale)
	}
	if math.IsNaN(curve.Offset) || math.IsInf(curve.Offset, 0) {
		return nil, fmt.Errorf("curve offset must be finite, got %v", curve.Offset)
	}
	if curve.MinDuty > curve.MaxDuty {
		return nil, fmt.Errorf("min duty %d exceeds max duty %d", curve.MinDuty, curve.MaxDuty)
	}
	if curve.MaxDuty > channelMax {
		return nil, fmt.Errorf("max duty %d exceeds channel range 0..%d", curve.MaxDuty, channelMax)
	}
	if curve.IdleDuty < curve.MinDuty || curve.IdleDuty > curve.MaxDuty {
		return nil, fmt.Errorf("idle duty %d outside %d..%d", curve.IdleDuty, curve.MinDuty, curve.MaxDuty)
	}
	return &DutyMapper{curve: curve}, nil
}

// Map returns the duty for est.
func (m *DutyMapper) Map(est SpeedEstimate) DutyCommand {
	if !est.Known {
		return DutyCommand{Value: m.curve.IdleDuty}
	}

	v := math.Round(m.curve.Scale*est.Frequency + m.curve.Offset)
	lo, hi := float64(m.curve.MinDuty), float64(m.curve.MaxDuty)
	switch {
	case math.IsNaN(v) || v < lo:
		v = lo
	case v > hi:
		v = hi
	}
	return DutyCommand{Value: uint32(v)}
}

// Curve returns the configured response curve.
func (m *DutyMapper) Curve() CurveConfig {
	return m.curve
}

package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	State         string     `json:"state"`
	Fault         string     `json:"fault,omitempty"`
	Level         string     `json:"level"`
	Speed         SpeedJSON  `json:"speed"`
	Duty          DutyJSON   `json:"duty"`
	UptimeSeconds int64      `json:"uptime_seconds"`
	Counts        CountsJSON `json:"counts"`
}

// SpeedJSON is the JSON representation of the speed estimate.
type SpeedJSON struct {
	Known       bool    `json:"known"`
	Stale       bool    `json:"stale"`
	PeriodMs    float64 `json:"period_ms,omitempty"`
	FrequencyHz float64 `json:"frequency_hz"`
	RPM         float64 `json:"rpm"`
}

// DutyJSON reports the PWM output.
type DutyJSON struct {
	Value   uint32  `json:"value"`
	Max     uint32  `json:"max"`
	Percent float64 `json:"percent"`
}

// CountsJSON is the JSON representation of loop counters.
type CountsJSON struct {
	Cycles   uint64 `json:"cycles"`
	Rising   uint64 `json:"rising"`
	Falling  uint64 `json:"falling"`
	Periods  int    `json:"periods"`
	Rejected int    `json:"rejected"`
	Stalls   int    `json:"stalls"`
	Overruns uint64 `json:"overruns"`
}

func levelString(active bool) string {
	if active {
		return "ACTIVE"
	}
	return "IDLE"
}

func buildInner(snap Snapshot) StatusInner {
	state := string(snap.State)
	if state == "" {
		state = "UNKNOWN"
	}

	inner := StatusInner{
		State: state,
		Fault: snap.Fault,
		Level: levelString(snap.Level),
		Speed: SpeedJSON{
			Known:       snap.Estimate.Known,
			Stale:       snap.Estimate.Stale,
			FrequencyHz: snap.Estimate.Frequency,
			RPM:         snap.RPM(),
		},
		Duty: DutyJSON{
			Value: snap.Duty,
			Max:   snap.MaxDuty,
		},
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		Counts: CountsJSON{
			Cycles:   snap.Counts.Cycles,
			Rising:   snap.Counts.Rising,
			Falling:  snap.Counts.Falling,
			Periods:  snap.Counts.Periods,
			Rejected: snap.Counts.Rejected,
			Stalls:   snap.Counts.Stalls,
			Overruns: snap.Counts.Overruns,
		},
	}
	if snap.Estimate.Known {
		inner.Speed.PeriodMs = float64(time.Duration(snap.Estimate.Period)*snap.TickPeriod) / float64(time.Millisecond)
	}
	if snap.MaxDuty > 0 {
		inner.Duty.Percent = float64(snap.Duty) * 100 / float64(snap.MaxDuty)
	}
	return inner
}

// FormatJSON returns indented JSON status for the command line.
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

package logic

// EdgeDetector debounces the raw sensor level and emits committed edges.
type EdgeDetector struct {
	state SensorState
	last  Tick
	seen  bool
}

// NewEdgeDetector creates a detector whose stable level starts at idle (inactive).
//
// A sample taken at tick t stands for the whole tick, so a new level first
// seen at tick s has been held for t-s+1 ticks at tick t. The transition is
// committed on the first sample at which it has been held for window ticks.
// A window of 0 or 1 commits on the first differing sample.
func NewEdgeDetector(window Ticks) *EdgeDetector {
	return &EdgeDetector{
		state: SensorState{Window: window},
	}
}

// Poll takes a raw sample and returns an edge if a transition was committed.
// raw is the logical level: true = active (magnet present).
func (d *EdgeDetector) Poll(now Tick, raw bool) (EdgeEvent, bool) {
	if d.seen && now.Before(d.last) {
		// Timestamps must not go backwards; treat as a repeat of the last sample.
		now = d.last
	}
	d.last = now
	d.seen = true

	s := &d.state

	// Back at the stable level: any pending change was a bounce.
	if raw == s.Stable {
		s.Pending = false
		return EdgeEvent{}, false
	}

	if !s.Pending {
		s.Pending = true
		s.PendingSince = now
	}

	if s.Window > 0 && now.Sub(s.PendingSince) < s.Window-1 {
		return EdgeEvent{}, false
	}

	s.Stable = raw
	s.Pending = false

	polarity := Falling
	if raw {
		polarity = Rising
	}
	return EdgeEvent{Time: now, Polarity: polarity}, true
}

// Level returns the current stable level.
func (d *EdgeDetector) Level() bool {
	return d.state.Stable
}

// State returns a copy of the debounce state.
func (d *EdgeDetector) State() SensorState {
	return d.state
}

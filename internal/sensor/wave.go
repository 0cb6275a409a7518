package sensor

import (
	"errors"

	"github.com/sweeney/hall-led/internal/logic"
)

// SquareWave simulates a hall sensor passing a magnet once per period.
// The level is derived from the current tick, so it stays consistent with
// whatever clock drives the control loop.
type SquareWave struct {
	// Now returns the current tick.
	Now func() logic.Tick
	// Period is the time between magnet passes. Zero means stopped.
	Period logic.Ticks
	// Active is how long the line stays active per pass.
	Active logic.Ticks
	// Bounce is the number of ticks at the start of each pass during which
	// the line chatters on alternate ticks.
	Bounce logic.Ticks
}

// Level returns the simulated line level at the current tick.
func (w *SquareWave) Level() (bool, error) {
	if w.Now == nil {
		return false, errors.New("square wave: no tick source")
	}
	if w.Period == 0 {
		return false, nil
	}
	phase := logic.Ticks(w.Now()) % w.Period
	if phase < w.Bounce {
		return phase%2 == 0, nil
	}
	return phase < w.Active, nil
}

// Close is a no-op.
func (w *SquareWave) Close() error {
	return nil
}

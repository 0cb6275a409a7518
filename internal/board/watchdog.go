//go:build tinygo

package board

import (
	"fmt"
	"machine"
)

// Watchdog wraps the hardware watchdog. If the control loop stops kicking
// it (fault state or a hang), the chip resets.
type Watchdog struct{}

// StartWatchdog arms the hardware watchdog with the given timeout.
func StartWatchdog(timeoutMillis uint32) (*Watchdog, error) {
	if err := machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: timeoutMillis}); err != nil {
		return nil, fmt.Errorf("watchdog: configure: %w", err)
	}
	if err := machine.Watchdog.Start(); err != nil {
		return nil, fmt.Errorf("watchdog: start: %w", err)
	}
	return &Watchdog{}, nil
}

// Kick feeds the watchdog.
func (w *Watchdog) Kick() error {
	machine.Watchdog.Update()
	return nil
}

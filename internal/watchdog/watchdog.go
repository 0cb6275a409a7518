//go:build !tinygo

// Package watchdog reports liveness to systemd through the sd_notify socket.
//
// The unit must set WatchdogSec= for kicks to matter; without it Kick is a
// no-op and only READY/STOPPING are sent.
package watchdog

import (
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

var (
	notifyFn          = daemon.SdNotify
	watchdogEnabledFn = daemon.SdWatchdogEnabled
	nowFn             = time.Now
)

// Systemd sends READY, WATCHDOG and STOPPING notifications.
type Systemd struct {
	interval time.Duration // minimum spacing between WATCHDOG=1; 0 disables kicks
	lastKick time.Time
}

// NewSystemd reads the watchdog interval from the environment. Kicks are
// rate limited to half of WATCHDOG_USEC.
func NewSystemd() (*Systemd, error) {
	timeout, err := watchdogEnabledFn(false)
	if err != nil {
		return nil, fmt.Errorf("watchdog: %w", err)
	}
	return &Systemd{interval: timeout / 2}, nil
}

// Enabled reports whether systemd expects watchdog kicks.
func (s *Systemd) Enabled() bool {
	return s.interval > 0
}

// Interval returns the kick spacing, or 0 when disabled.
func (s *Systemd) Interval() time.Duration {
	return s.interval
}

// Ready tells systemd that startup finished.
func (s *Systemd) Ready() error {
	return s.notify(daemon.SdNotifyReady)
}

// Kick sends WATCHDOG=1 if at least half the timeout has passed since the
// previous kick.
func (s *Systemd) Kick() error {
	if s.interval == 0 {
		return nil
	}
	now := nowFn()
	if !s.lastKick.IsZero() && now.Sub(s.lastKick) < s.interval {
		return nil
	}
	if err := s.notify(daemon.SdNotifyWatchdog); err != nil {
		return err
	}
	s.lastKick = now
	return nil
}

// Stopping tells systemd that shutdown began.
func (s *Systemd) Stopping() error {
	return s.notify(daemon.SdNotifyStopping)
}

// notify ignores the "not supported" case where NOTIFY_SOCKET is unset.
func (s *Systemd) notify(state string) error {
	if _, err := notifyFn(false, state); err != nil {
		return fmt.Errorf("watchdog: notify %q: %w", state, err)
	}
	return nil
}

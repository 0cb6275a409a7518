//go:build tinygo

package logging

import "log/slog"

// IsJournalAvailable reports false: microcontroller builds have no journald.
func IsJournalAvailable() bool {
	return false
}

func newJournalHandler(level slog.Leveler) slog.Handler {
	return nil
}

package audit

import "log/slog"

// SlogFallback routes events that failed to persist onto the process log so an
// audit write failure is never silent. This is the lower-level channel of last
// resort; it must not fail.
func SlogFallback(logger *slog.Logger) Fallback {
	return func(event Event, err error) {
		logger.Error("audit write failed",
			"event_id", event.ID,
			"action", event.Action,
			"subject", event.Subject,
			"error", err,
		)
	}
}

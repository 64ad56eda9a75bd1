package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/pulse-dev/pulse/pkg/event"
)

// Logging creates middleware that logs every event with its outcome and
// processing duration. A nil logger uses slog.Default().
func Logging(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, ec *event.Context, next Next) error {
		start := time.Now()
		err := next(ctx)
		attrs := []any{
			"event", ec.Name,
			"session", ec.Session.ID,
			"duration", time.Since(start),
		}
		switch {
		case err != nil:
			logger.Warn("event failed", append(attrs, "error", err)...)
		case ec.Stopped():
			logger.Debug("event stopped", attrs...)
		default:
			logger.Debug("event handled", attrs...)
		}
		return err
	}
}

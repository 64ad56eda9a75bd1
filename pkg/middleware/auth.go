package middleware

import (
	"context"

	"github.com/pulse-dev/pulse/pkg/event"
	"github.com/pulse-dev/pulse/pkg/protocol"
)

// AuthConfig configures the authentication middleware.
type AuthConfig struct {
	// Authenticated reports whether the session behind an event carries
	// valid credentials. Defaults to checking the "user" metadata key.
	Authenticated func(ec *event.Context) bool

	// Public lists event names that bypass the check.
	Public []string

	// Message is sent to the client when the check fails.
	Message string
}

// Auth creates middleware that rejects events from unauthenticated
// sessions. Rejected events stop the chain, send an AUTH_REQUIRED error
// to the client, and return ErrUnauthorized.
func Auth(config AuthConfig) Middleware {
	if config.Authenticated == nil {
		config.Authenticated = func(ec *event.Context) bool {
			return ec.Session.Get("user") != nil
		}
	}
	if config.Message == "" {
		config.Message = "authentication required"
	}
	public := make(map[string]struct{}, len(config.Public))
	for _, name := range config.Public {
		public[name] = struct{}{}
	}

	return func(ctx context.Context, ec *event.Context, next Next) error {
		if _, ok := public[ec.Name]; ok {
			return next(ctx)
		}
		if !config.Authenticated(ec) {
			ec.Stop()
			_ = ec.Session.Send(protocol.NewError(protocol.CodeAuthRequired, config.Message))
			return ErrUnauthorized
		}
		return next(ctx)
	}
}

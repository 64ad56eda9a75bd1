// Package middleware provides the event middleware chain and built-in
// middleware for logging, rate limiting, validation, authentication,
// payload transformation, timeouts, Prometheus metrics, and
// OpenTelemetry tracing.
//
// Middleware wrap event dispatch. Each stage may inspect and rewrite the
// event context, call next to continue, or stop the chain so neither the
// remaining stages nor the terminal handlers run:
//
//	chain := middleware.NewChain(
//	    middleware.Logging(logger),
//	    middleware.RateLimit(middleware.RateLimitConfig{Limit: 100, Window: time.Minute}),
//	)
//	handler := chain.Then(func(ctx context.Context, ec *event.Context) error {
//	    return events.DispatchContext(ctx, ec)
//	})
package middleware

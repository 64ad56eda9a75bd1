package middleware

import (
	"context"

	"github.com/pulse-dev/pulse/pkg/event"
)

// Transformer rewrites an event payload. Returning nil leaves the
// payload unchanged.
type Transformer func(name string, data map[string]any) map[string]any

// Transform creates middleware that rewrites event payloads before the
// rest of the chain. Bindings and handlers downstream observe the
// rewritten data.
func Transform(fn Transformer) Middleware {
	return func(ctx context.Context, ec *event.Context, next Next) error {
		if out := fn(ec.Name, ec.Data); out != nil {
			ec.SetData(out)
		}
		return next(ctx)
	}
}

package middleware

import (
	"context"
	"fmt"

	"github.com/pulse-dev/pulse/pkg/event"
	"github.com/pulse-dev/pulse/pkg/protocol"
)

// Validator checks an event payload. A non-nil error rejects the event
// and its message is sent to the client verbatim.
type Validator func(data map[string]any) error

// Validation creates middleware that runs per-event validators before the
// rest of the chain. Events without a registered validator pass through.
// A failing validator stops the chain and sends a VALIDATION_ERROR to
// the client.
func Validation(validators map[string]Validator) Middleware {
	return func(ctx context.Context, ec *event.Context, next Next) error {
		v, ok := validators[ec.Name]
		if !ok {
			return next(ctx)
		}
		if err := v(ec.Data); err != nil {
			ec.Stop()
			_ = ec.Session.Send(protocol.NewError(protocol.CodeValidationError, err.Error()))
			return fmt.Errorf("middleware: validation failed for %q: %w", ec.Name, err)
		}
		return next(ctx)
	}
}

// Require returns a validator that checks the listed fields are present.
func Require(fields ...string) Validator {
	return func(data map[string]any) error {
		for _, f := range fields {
			if _, ok := data[f]; !ok {
				return fmt.Errorf("missing required field %q", f)
			}
		}
		return nil
	}
}

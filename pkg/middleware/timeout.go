package middleware

import (
	"context"
	"time"

	"github.com/pulse-dev/pulse/pkg/event"
	"github.com/pulse-dev/pulse/pkg/protocol"
)

// Timeout creates middleware that bounds how long the rest of the chain
// may run. On expiry the chain is stopped, the client receives a TIMEOUT
// error, and ErrTimeout is returned. The downstream work keeps its
// goroutine until it observes the cancelled context; handlers doing slow
// work should honor ctx.Done().
func Timeout(d time.Duration) Middleware {
	return func(ctx context.Context, ec *event.Context, next Next) error {
		tctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			done <- next(tctx)
		}()

		select {
		case err := <-done:
			return err
		case <-tctx.Done():
			ec.Stop()
			_ = ec.Session.Send(protocol.NewError(protocol.CodeTimeout, "event handling timed out"))
			return ErrTimeout
		}
	}
}

package middleware

import (
	"context"
	"errors"

	"github.com/pulse-dev/pulse/pkg/event"
)

// Sentinel errors returned by built-in middleware when they stop a chain.
var (
	ErrRateLimited  = errors.New("middleware: rate limit exceeded")
	ErrUnauthorized = errors.New("middleware: authentication required")
	ErrTimeout      = errors.New("middleware: event handling timed out")
)

// Next continues the chain with the given context. Middleware may pass a
// derived context to propagate deadlines or trace spans downstream.
type Next func(ctx context.Context) error

// Middleware is one stage of an event processing chain.
type Middleware func(ctx context.Context, ec *event.Context, next Next) error

// Chain composes middleware around a terminal handler. Stages run in
// registration order; a stopped context skips every remaining stage,
// including the terminal handler.
type Chain struct {
	stack []Middleware
}

// NewChain creates a chain from the given middleware.
func NewChain(mw ...Middleware) *Chain {
	return &Chain{stack: mw}
}

// Use appends middleware to the chain. Not safe to call after Then.
func (c *Chain) Use(mw ...Middleware) {
	c.stack = append(c.stack, mw...)
}

// Len returns the number of middleware in the chain.
func (c *Chain) Len() int {
	return len(c.stack)
}

// Then returns a handler running the whole chain around terminal.
// The chain may be reused across events; the returned handler is safe
// for concurrent use as long as the individual middleware are.
func (c *Chain) Then(terminal event.Handler) event.Handler {
	h := func(ctx context.Context, ec *event.Context) error {
		if ec.Stopped() {
			return nil
		}
		return terminal(ctx, ec)
	}
	for i := len(c.stack) - 1; i >= 0; i-- {
		mw := c.stack[i]
		inner := h
		h = func(ctx context.Context, ec *event.Context) error {
			if ec.Stopped() {
				return nil
			}
			return mw(ctx, ec, func(ctx context.Context) error {
				return inner(ctx, ec)
			})
		}
	}
	return h
}

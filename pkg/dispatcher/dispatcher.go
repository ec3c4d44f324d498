package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
)

const logPrefix = "dispatcher:dispatch"

// Handler recognizes and executes a subset of method names.
//
// Handle returns handled == false when the method is not one of its own; in that case
// result and err are ignored. An error is only meaningful for a recognized command.
type Handler interface {
	Handle(ctx context.Context, cmd *Command) (result any, handled bool, err error)
}

// Chain is a fixed, ordered set of handlers. The first handler that recognizes a method wins;
// later handlers recognizing the same name are never consulted. Order is set at construction
// and is part of the agent's configuration contract.
type Chain struct {
	handlers []Handler
}

// NewChain creates a Chain that consults handlers in the given order.
func NewChain(handlers ...Handler) *Chain {
	hs := make([]Handler, 0, len(handlers))
	for _, h := range handlers {
		if h != nil {
			hs = append(hs, h)
		}
	}
	return &Chain{handlers: hs}
}

// Len returns the number of registered handlers.
func (c *Chain) Len() int {
	return len(c.handlers)
}

// Dispatch presents cmd to each handler in order and returns the first recognized result.
// It returns ErrNoSuchMethod when no handler recognizes the method.
func (c *Chain) Dispatch(ctx context.Context, cmd *Command) (any, error) {
	slog.Debug(fmt.Sprintf("%s - method=%s trace=%s", logPrefix, cmd.Method, cmd.TraceID))

	for _, h := range c.handlers {
		result, handled, err := h.Handle(ctx, cmd)
		if !handled {
			continue
		}
		if err != nil {
			return nil, err
		}
		return result, nil
	}
	return nil, ErrNoSuchMethod
}

// Respond dispatches cmd and converts the outcome into a Response.
// Handler errors are logged here, at the loop boundary.
func (c *Chain) Respond(ctx context.Context, cmd *Command) *Response {
	resp, _ := c.respond(ctx, cmd)
	return resp
}

func (c *Chain) respond(ctx context.Context, cmd *Command) (*Response, string) {
	result, err := c.Dispatch(ctx, cmd)
	if err != nil {
		if ErrorCode(err) == CodeNoSuchMethod {
			slog.Warn(fmt.Sprintf("%s - no handler for method %s", logPrefix, cmd.Method))
			return failureResponse(err.Error()), OutcomeNoSuchMethod
		}
		slog.Error(fmt.Sprintf("%s - Error running method %s : %v", logPrefix, cmd.Method, err))
		return failureResponse(err.Error()), OutcomeFailure
	}
	return successResponse(result), OutcomeSuccess
}

package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const loopLogPrefix = "dispatcher:loop"

// Command outcomes reported to an Observer.
const (
	OutcomeSuccess      = "success"
	OutcomeFailure      = "failure"
	OutcomeNoSuchMethod = "no_such_method"
	OutcomeMalformed    = "malformed"
)

// Transport is the message boundary the loop consumes.
type Transport interface {
	// NextMessage blocks until the next Command arrives. A *DecodeError comes with a
	// placeholder Command that still carries the reply route.
	NextMessage(ctx context.Context) (*Command, error)
	// FinishMessage sends resp as the answer to cmd.
	FinishMessage(ctx context.Context, cmd *Command, resp *Response) error
}

// Observer receives one notification per finished Command.
type Observer interface {
	ObserveCommand(method, outcome string, elapsed time.Duration)
}

// LoopParams holds parameters for NewLoop.
type LoopParams struct {
	Transport Transport
	Chain     *Chain
	Flag      *ShutdownFlag
	Observer  Observer
	// PropagateTransportErrors makes Run return transport errors instead of logging them
	// and returning nil.
	PropagateTransportErrors bool
}

// Loop is the receive/dispatch/respond loop. It handles one Command at a time.
type Loop struct {
	transport Transport
	chain     *Chain
	flag      *ShutdownFlag
	observer  Observer
	propagate bool
}

// NewLoop creates a new Loop. A nil Flag or Chain gets a fresh zero value.
func NewLoop(params LoopParams) *Loop {
	flag := params.Flag
	if flag == nil {
		flag = &ShutdownFlag{}
	}
	chain := params.Chain
	if chain == nil {
		chain = NewChain()
	}
	return &Loop{
		transport: params.Transport,
		chain:     chain,
		flag:      flag,
		observer:  params.Observer,
		propagate: params.PropagateTransportErrors,
	}
}

// Flag returns the shutdown flag owned by the loop.
func (l *Loop) Flag() *ShutdownFlag {
	return l.flag
}

// Run serves Commands until the exit method has been answered, the context is cancelled,
// or the transport fails.
func (l *Loop) Run(ctx context.Context) error {
	for !l.flag.IsSet() {
		slog.Info(fmt.Sprintf("%s - Waiting for next message...", loopLogPrefix))

		cmd, err := l.transport.NextMessage(ctx)
		if err != nil {
			var derr *DecodeError
			if errors.As(err, &derr) && cmd != nil {
				slog.Error(fmt.Sprintf("%s - %v", loopLogPrefix, derr))
				if err := l.finish(ctx, cmd, failureResponse(derr.Error()), OutcomeMalformed, time.Now()); err != nil {
					return err
				}
				continue
			}
			if ctx.Err() != nil {
				return context.Cause(ctx)
			}
			return l.transportError(err)
		}

		slog.Info(fmt.Sprintf("%s - method=%s trace=%s", loopLogPrefix, cmd.Method, cmd.TraceID))
		slog.Debug(fmt.Sprintf("%s - args=%v", loopLogPrefix, cmd.Args))

		if cmd.Method == ExitMethod {
			l.flag.Set()
		}

		start := time.Now()
		resp, outcome := l.chain.respond(ctx, cmd)
		if err := l.finish(ctx, cmd, resp, outcome, start); err != nil {
			return err
		}
	}

	slog.Info(fmt.Sprintf("%s - Shutdown requested, leaving dispatch loop", loopLogPrefix))
	return nil
}

func (l *Loop) finish(ctx context.Context, cmd *Command, resp *Response, outcome string, start time.Time) error {
	if l.observer != nil {
		method := cmd.Method
		if outcome == OutcomeNoSuchMethod || outcome == OutcomeMalformed {
			method = "unknown"
		}
		l.observer.ObserveCommand(method, outcome, time.Since(start))
	}
	if err := l.transport.FinishMessage(ctx, cmd, resp); err != nil {
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		return l.transportError(err)
	}
	return nil
}

func (l *Loop) transportError(err error) error {
	if l.propagate {
		return fmt.Errorf("%s - transport failure: %w", loopLogPrefix, err)
	}
	slog.Error(fmt.Sprintf("%s - Error: %v", loopLogPrefix, err))
	return nil
}

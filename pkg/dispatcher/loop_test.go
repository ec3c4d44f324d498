package dispatcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

const loopTestPrefix = "dispatcher:loop_test"

var errQueueDrained = errors.New("fake transport drained")

type inbound struct {
	cmd *Command
	err error
}

// fakeTransport serves queued messages and records every response.
type fakeTransport struct {
	queue     []inbound
	pulls     int
	responses []*Response
	finishErr error
}

func (f *fakeTransport) NextMessage(ctx context.Context) (*Command, error) {
	f.pulls++
	if len(f.queue) == 0 {
		return nil, errQueueDrained
	}
	next := f.queue[0]
	f.queue = f.queue[1:]
	return next.cmd, next.err
}

func (f *fakeTransport) FinishMessage(_ context.Context, _ *Command, resp *Response) error {
	if f.finishErr != nil {
		return f.finishErr
	}
	f.responses = append(f.responses, resp)
	return nil
}

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []string
}

func (o *recordingObserver) ObserveCommand(_ string, outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, outcome)
}

func TestLoop_ExitStopsAfterResponse(t *testing.T) {
	tr := &fakeTransport{queue: []inbound{
		{cmd: &Command{Method: "ping"}},
		{cmd: &Command{Method: ExitMethod, Args: map[string]any{}}},
		{cmd: &Command{Method: "ping"}},
	}}
	loop := NewLoop(LoopParams{
		Transport: tr,
		Chain:     NewChain(NewControlHandler("guest-1")),
	})

	if err := loop.Run(context.Background()); err != nil {
		t.Fatalf("%s - Run returned %v, want nil", loopTestPrefix, err)
	}
	if tr.pulls != 2 {
		t.Errorf("%s - pulls = %d, want 2 (no receive after exit)", loopTestPrefix, tr.pulls)
	}
	if len(tr.responses) != 2 {
		t.Fatalf("%s - responses = %d, want 2", loopTestPrefix, len(tr.responses))
	}
	exitResp := tr.responses[1]
	if !exitResp.Succeeded() {
		t.Errorf("%s - exit response failed: %s", loopTestPrefix, *exitResp.Failure)
	}
	if !loop.Flag().IsSet() {
		t.Errorf("%s - shutdown flag should be set", loopTestPrefix)
	}
}

func TestLoop_ExitWithoutHandlerStillStops(t *testing.T) {
	tr := &fakeTransport{queue: []inbound{{cmd: &Command{Method: ExitMethod}}}}
	loop := NewLoop(LoopParams{Transport: tr, Chain: NewChain()})

	if err := loop.Run(context.Background()); err != nil {
		t.Fatalf("%s - Run returned %v", loopTestPrefix, err)
	}
	if len(tr.responses) != 1 || *tr.responses[0].Failure != NoSuchMethodMessage {
		t.Errorf("%s - expected a single no such method response, got %+v", loopTestPrefix, tr.responses)
	}
}

func TestLoop_HandlerErrorDoesNotStopLoop(t *testing.T) {
	failing := newCountingHandler(nil, "create_user")
	failing.err = errors.New("invalid user name")
	tr := &fakeTransport{queue: []inbound{
		{cmd: &Command{Method: "create_user"}},
		{cmd: &Command{Method: "ping"}},
		{cmd: &Command{Method: ExitMethod}},
	}}
	obs := &recordingObserver{}
	loop := NewLoop(LoopParams{
		Transport: tr,
		Chain:     NewChain(NewControlHandler("h"), failing),
		Observer:  obs,
	})

	if err := loop.Run(context.Background()); err != nil {
		t.Fatalf("%s - Run returned %v", loopTestPrefix, err)
	}
	if len(tr.responses) != 3 {
		t.Fatalf("%s - responses = %d, want 3", loopTestPrefix, len(tr.responses))
	}
	if *tr.responses[0].Failure != "invalid user name" {
		t.Errorf("%s - failure = %q", loopTestPrefix, *tr.responses[0].Failure)
	}
	if !tr.responses[1].Succeeded() {
		t.Errorf("%s - ping after failure should succeed", loopTestPrefix)
	}
	want := []string{OutcomeFailure, OutcomeSuccess, OutcomeSuccess}
	for i, o := range want {
		if obs.outcomes[i] != o {
			t.Errorf("%s - outcome[%d] = %q, want %q", loopTestPrefix, i, obs.outcomes[i], o)
		}
	}
}

func TestLoop_DecodeErrorAnswered(t *testing.T) {
	tr := &fakeTransport{queue: []inbound{
		{cmd: &Command{ReplyTo: "_INBOX.x"}, err: &DecodeError{Err: errors.New("unexpected end of JSON input")}},
		{cmd: &Command{Method: ExitMethod}},
	}}
	loop := NewLoop(LoopParams{Transport: tr, Chain: NewChain(NewControlHandler("h"))})

	if err := loop.Run(context.Background()); err != nil {
		t.Fatalf("%s - Run returned %v", loopTestPrefix, err)
	}
	if len(tr.responses) != 2 {
		t.Fatalf("%s - responses = %d, want 2", loopTestPrefix, len(tr.responses))
	}
	if tr.responses[0].Succeeded() {
		t.Errorf("%s - malformed message must produce a failure", loopTestPrefix)
	}
	if got := *tr.responses[0].Failure; got != "malformed message: unexpected end of JSON input" {
		t.Errorf("%s - failure = %q", loopTestPrefix, got)
	}
}

func TestLoop_TransportErrorLoggedByDefault(t *testing.T) {
	tr := &fakeTransport{}
	loop := NewLoop(LoopParams{Transport: tr})

	if err := loop.Run(context.Background()); err != nil {
		t.Errorf("%s - expected nil with logging mode, got %v", loopTestPrefix, err)
	}
}

func TestLoop_TransportErrorPropagated(t *testing.T) {
	tr := &fakeTransport{}
	loop := NewLoop(LoopParams{Transport: tr, PropagateTransportErrors: true})

	err := loop.Run(context.Background())
	if !errors.Is(err, errQueueDrained) {
		t.Errorf("%s - expected wrapped transport error, got %v", loopTestPrefix, err)
	}
}

func TestLoop_FinishErrorPropagated(t *testing.T) {
	sendErr := errors.New("connection closed")
	tr := &fakeTransport{
		queue:     []inbound{{cmd: &Command{Method: "ping"}}},
		finishErr: sendErr,
	}
	loop := NewLoop(LoopParams{
		Transport:                tr,
		Chain:                    NewChain(NewControlHandler("h")),
		PropagateTransportErrors: true,
	})

	if err := loop.Run(context.Background()); !errors.Is(err, sendErr) {
		t.Errorf("%s - expected send error, got %v", loopTestPrefix, err)
	}
}

func TestLoop_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tr := &fakeTransport{}
	loop := NewLoop(LoopParams{Transport: tr, PropagateTransportErrors: true})

	if err := loop.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("%s - expected context.Canceled, got %v", loopTestPrefix, err)
	}
}

func TestShutdownFlag(t *testing.T) {
	var f ShutdownFlag
	if f.IsSet() {
		t.Fatalf("%s - zero flag must be unset", loopTestPrefix)
	}
	f.Set()
	f.Set()
	if !f.IsSet() {
		t.Errorf("%s - flag should be set", loopTestPrefix)
	}
}

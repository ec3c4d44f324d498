// Package periodic runs the background status refresh on a fixed interval.
package periodic

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/morezero/guest-agent/pkg/dispatcher"
)

const logPrefix = "periodic:tasker"

// Refresher is the work done once per interval. status.Updater implements it.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Phase is what the tasker is currently doing.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseSleeping
	PhaseUpdating
)

func (p Phase) String() string {
	switch p {
	case PhaseSleeping:
		return "sleeping"
	case PhaseUpdating:
		return "updating"
	default:
		return "idle"
	}
}

// TaskerParams configures a Tasker.
type TaskerParams struct {
	Interval  time.Duration
	Refresher Refresher
	Flag      *dispatcher.ShutdownFlag
	// CancellableSleep lets a cancelled context cut the sleep short. When false the current
	// sleep always runs to completion.
	CancellableSleep bool
}

// Tasker alternates between sleeping for Interval and running one refresh.
type Tasker struct {
	interval    time.Duration
	refresher   Refresher
	flag        *dispatcher.ShutdownFlag
	cancellable bool
	sleep       func(ctx context.Context, d time.Duration, cancellable bool) error
	phase       atomic.Int32
}

// NewTasker creates a Tasker.
func NewTasker(params TaskerParams) *Tasker {
	return &Tasker{
		interval:    params.Interval,
		refresher:   params.Refresher,
		flag:        params.Flag,
		cancellable: params.CancellableSleep,
		sleep:       sleep,
	}
}

// Run loops until the shutdown flag is seen or a refresh fails. The flag is checked once per
// cycle, before sleeping, so the first refresh happens no earlier than one interval after
// Run starts. Cancelling ctx interrupts a cancellable sleep but never a refresh in progress.
func (t *Tasker) Run(ctx context.Context) error {
	if t.interval <= 0 {
		return fmt.Errorf("%s - interval must be positive, got %s", logPrefix, t.interval)
	}
	slog.Info(fmt.Sprintf("%s - Refreshing status every %s", logPrefix, t.interval))

	for !t.flag.IsSet() {
		t.setPhase(PhaseSleeping)
		if err := t.sleep(ctx, t.interval, t.cancellable); err != nil {
			slog.Info(fmt.Sprintf("%s - Sleep interrupted: %v", logPrefix, err))
			return err
		}

		// A started refresh always runs to completion; cancellation only shortens the sleep.
		t.setPhase(PhaseUpdating)
		if err := t.refresher.Refresh(context.WithoutCancel(ctx)); err != nil {
			slog.Error(fmt.Sprintf("%s - Status refresh failed: %v", logPrefix, err))
			return fmt.Errorf("%s - refresh failed: %w", logPrefix, err)
		}
	}

	t.setPhase(PhaseIdle)
	slog.Info(fmt.Sprintf("%s - Shutdown flag set, stopping", logPrefix))
	return nil
}

func (t *Tasker) setPhase(p Phase) {
	t.phase.Store(int32(p))
}

// Phase reports what the tasker is doing. Safe to call from any goroutine.
func (t *Tasker) Phase() Phase {
	return Phase(t.phase.Load())
}

func sleep(ctx context.Context, d time.Duration, cancellable bool) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	if !cancellable {
		<-timer.C
		return nil
	}
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

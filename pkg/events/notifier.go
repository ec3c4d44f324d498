package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/morezero/guest-agent/pkg/status"
)

const notifierLogPrefix = "events:notifier"

const publishTimeout = 5 * time.Second

// StatusNotifier turns refresh observations into StatusChangedEvents. It publishes only when
// the state differs from the last successful refresh. Failed refreshes are forwarded but
// never published. Publish errors are logged; they do not affect the refresh.
type StatusNotifier struct {
	publisher EventPublisher
	next      status.RefreshObserver

	mu   sync.Mutex
	last *status.Record
}

// NewStatusNotifier creates a StatusNotifier. next may be nil.
func NewStatusNotifier(publisher EventPublisher, next status.RefreshObserver) *StatusNotifier {
	return &StatusNotifier{publisher: publisher, next: next}
}

// ObserveRefresh implements status.RefreshObserver.
func (n *StatusNotifier) ObserveRefresh(rec *status.Record, err error) {
	if n.next != nil {
		n.next.ObserveRefresh(rec, err)
	}
	if err != nil || rec == nil {
		return
	}

	n.mu.Lock()
	prev := n.last
	cp := *rec
	n.last = &cp
	n.mu.Unlock()

	if prev != nil && prev.State == rec.State {
		return
	}
	event := &StatusChangedEvent{
		HostID:           rec.HostID,
		Address:          rec.Address,
		State:            int(rec.State),
		StateDescription: rec.StateDescription,
		AgentVersion:     rec.AgentVersion,
		Timestamp:        rec.ObservedAt.UTC().Format(time.RFC3339),
	}
	if prev != nil {
		event.PreviousState = int(prev.State)
		event.PreviousStateDescription = prev.StateDescription
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := n.publisher.PublishStatusChanged(ctx, event); err != nil {
		slog.Warn(fmt.Sprintf("%s - %v", notifierLogPrefix, err))
		return
	}
	slog.Info(fmt.Sprintf("%s - %s is now %s", notifierLogPrefix, rec.HostID, rec.StateDescription))
}

package events

import (
	"context"
	"fmt"
	"log/slog"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/guest-agent/pkg/commsutil"
)

const commsPublisherLogPrefix = "events:comms_publisher"

// CommsPublisherOpts configures CommsPublisher. Nil or zero values use defaults.
type CommsPublisherOpts struct {
	// GlobalSubject overrides the fleet-wide status subject (STATUS_EVENT_SUBJECT).
	GlobalSubject string
}

// CommsPublisher publishes status change events to COMMS subjects.
type CommsPublisher struct {
	nc            *comms.Conn
	globalSubject string
}

// NewCommsPublisher creates a new CommsPublisher. Pass nil for opts to use defaults.
func NewCommsPublisher(nc *comms.Conn, opts *CommsPublisherOpts) *CommsPublisher {
	globalSubject := commsutil.SubjectStatusChanged
	if opts != nil && opts.GlobalSubject != "" {
		globalSubject = opts.GlobalSubject
	}
	return &CommsPublisher{nc: nc, globalSubject: globalSubject}
}

// PublishStatusChanged publishes to the per-host subject and then to the global subject.
func (p *CommsPublisher) PublishStatusChanged(_ context.Context, event *StatusChangedEvent) error {
	data, err := commsutil.EncodePayload(event)
	if err != nil {
		return fmt.Errorf("%s - failed to encode event: %w", commsPublisherLogPrefix, err)
	}

	hostSubject := commsutil.BuildStatusChangedSubject(event.HostID)
	if err := p.nc.Publish(hostSubject, data); err != nil {
		return fmt.Errorf("%s - failed to publish to %s: %w", commsPublisherLogPrefix, hostSubject, err)
	}
	if err := p.nc.Publish(p.globalSubject, data); err != nil {
		return fmt.Errorf("%s - failed to publish to %s: %w", commsPublisherLogPrefix, p.globalSubject, err)
	}

	slog.Debug(fmt.Sprintf("%s - Published status change for %s: %s", commsPublisherLogPrefix, event.HostID, event.StateDescription))
	return nil
}

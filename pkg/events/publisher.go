package events

import "context"

// EventPublisher is the interface for publishing status change events.
type EventPublisher interface {
	PublishStatusChanged(ctx context.Context, event *StatusChangedEvent) error
}

// NoOpPublisher is an EventPublisher that does nothing.
type NoOpPublisher struct{}

// PublishStatusChanged is a no-op.
func (p *NoOpPublisher) PublishStatusChanged(_ context.Context, _ *StatusChangedEvent) error {
	return nil
}

// CallbackPublisher is an EventPublisher that calls a callback function (for testing).
type CallbackPublisher struct {
	callback func(ctx context.Context, event *StatusChangedEvent) error
}

// NewCallbackPublisher creates a new CallbackPublisher.
func NewCallbackPublisher(cb func(ctx context.Context, event *StatusChangedEvent) error) *CallbackPublisher {
	return &CallbackPublisher{callback: cb}
}

// PublishStatusChanged calls the callback.
func (p *CallbackPublisher) PublishStatusChanged(ctx context.Context, event *StatusChangedEvent) error {
	return p.callback(ctx, event)
}

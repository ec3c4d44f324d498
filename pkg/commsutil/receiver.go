package commsutil

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"time"

	comms "github.com/nats-io/nats.go"
	"github.com/oklog/ulid/v2"

	"github.com/morezero/guest-agent/pkg/dispatcher"
)

const receiverLogPrefix = "commsutil:receiver"

// Receiver pulls guest commands from a synchronous subscription and publishes responses to
// the reply subject. It is used from a single goroutine.
type Receiver struct {
	nc      *comms.Conn
	sub     *comms.Subscription
	subject string
	entropy io.Reader
}

// NewReceiver subscribes to subject. pendingLimitBytes bounds the client-side buffer; zero
// keeps the library default.
func NewReceiver(nc *comms.Conn, subject string, pendingLimitBytes int) (*Receiver, error) {
	sub, err := nc.SubscribeSync(subject)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to subscribe to %s: %w", receiverLogPrefix, subject, err)
	}
	if pendingLimitBytes > 0 {
		if err := sub.SetPendingLimits(comms.DefaultSubPendingMsgsLimit, pendingLimitBytes); err != nil {
			sub.Unsubscribe()
			return nil, fmt.Errorf("%s - failed to set pending limits: %w", receiverLogPrefix, err)
		}
	}
	if err := nc.Flush(); err != nil {
		sub.Unsubscribe()
		return nil, fmt.Errorf("%s - failed to flush subscription: %w", receiverLogPrefix, err)
	}
	slog.Info(fmt.Sprintf("%s - Subscribed to %s", receiverLogPrefix, subject))

	return &Receiver{
		nc:      nc,
		sub:     sub,
		subject: subject,
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}, nil
}

// Subject returns the subscribed subject.
func (r *Receiver) Subject() string {
	return r.subject
}

// NextMessage implements dispatcher.Transport.
func (r *Receiver) NextMessage(ctx context.Context) (*dispatcher.Command, error) {
	msg, err := r.sub.NextMsgWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s - receive failed: %w", receiverLogPrefix, err)
	}

	traceID := r.nextTraceID()
	cmd, err := DecodeCommand(msg.Data)
	if err != nil {
		return &dispatcher.Command{ReplyTo: msg.Reply, TraceID: traceID}, &dispatcher.DecodeError{Err: err}
	}
	cmd.ReplyTo = msg.Reply
	cmd.TraceID = traceID
	return cmd, nil
}

// FinishMessage implements dispatcher.Transport. Casts carry no reply subject and get no answer.
func (r *Receiver) FinishMessage(_ context.Context, cmd *dispatcher.Command, resp *dispatcher.Response) error {
	if cmd.ReplyTo == "" {
		slog.Debug(fmt.Sprintf("%s - method=%s was a cast, no reply sent", receiverLogPrefix, cmd.Method))
		return nil
	}
	if err := r.nc.Publish(cmd.ReplyTo, EncodeResponse(resp)); err != nil {
		return fmt.Errorf("%s - failed to send response: %w", receiverLogPrefix, err)
	}
	return r.nc.Flush()
}

// Close removes the subscription.
func (r *Receiver) Close() error {
	return r.sub.Unsubscribe()
}

func (r *Receiver) nextTraceID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), r.entropy).String()
}

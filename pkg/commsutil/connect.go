// Package commsutil provides COMMS connection helpers and the guest command receiver.
package commsutil

import (
	"fmt"
	"log/slog"
	"time"

	comms "github.com/nats-io/nats.go"
)

const logPrefix = "commsutil:connect"

// ConnectParams holds parameters for Connect.
type ConnectParams struct {
	URL      string
	Name     string
	User     string
	Password string
}

// Connect creates a COMMS connection. Reconnects are disabled: a dropped connection
// surfaces as a transport error and the agent is restarted by its supervisor.
func Connect(params ConnectParams) (*comms.Conn, error) {
	slog.Info(fmt.Sprintf("%s - Connecting to COMMS at %s as %s", logPrefix, params.URL, params.Name))

	opts := []comms.Option{
		comms.Name(params.Name),
		comms.Timeout(10 * time.Second),
		comms.NoReconnect(),
		comms.DisconnectErrHandler(func(_ *comms.Conn, err error) {
			slog.Warn(fmt.Sprintf("%s - COMMS disconnected: %v", logPrefix, err))
		}),
		comms.ClosedHandler(func(nc *comms.Conn) {
			slog.Info(fmt.Sprintf("%s - COMMS connection closed", logPrefix))
		}),
	}
	if params.User != "" {
		opts = append(opts, comms.UserInfo(params.User, params.Password))
	}

	nc, err := comms.Connect(params.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to connect to COMMS: %w", logPrefix, err)
	}

	slog.Info(fmt.Sprintf("%s - Connected to COMMS at %s", logPrefix, nc.ConnectedUrl()))
	return nc, nil
}

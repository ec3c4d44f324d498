package dispatcher

import "context"

// PingMethod answers liveness probes from the control plane.
const PingMethod = "ping"

// ControlHandler recognizes the agent lifecycle methods.
type ControlHandler struct {
	host string
}

// NewControlHandler creates a ControlHandler reporting the given host name.
func NewControlHandler(host string) *ControlHandler {
	return &ControlHandler{host: host}
}

// Handle implements Handler.
func (h *ControlHandler) Handle(_ context.Context, cmd *Command) (any, bool, error) {
	switch cmd.Method {
	case ExitMethod:
		return map[string]any{"status": "exiting"}, true, nil
	case PingMethod:
		return map[string]any{"status": "ok", "host": h.host}, true, nil
	default:
		return nil, false, nil
	}
}

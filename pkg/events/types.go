// Package events defines the status change event and the publishers that deliver it.
package events

// StatusChangedEvent is emitted when a refresh reports a different state for the host than
// the previous refresh did. The first successful refresh after start is always reported.
type StatusChangedEvent struct {
	HostID                   string `json:"hostId"`
	Address                  string `json:"address"`
	State                    int    `json:"state"`
	StateDescription         string `json:"stateDescription"`
	PreviousState            int    `json:"previousState,omitempty"`
	PreviousStateDescription string `json:"previousStateDescription,omitempty"`
	AgentVersion             string `json:"agentVersion"`
	Timestamp                string `json:"timestamp"`
}

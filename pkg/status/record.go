// Package status computes the local guest status and persists it to the shared status database.
package status

import (
	"time"

	"github.com/morezero/guest-agent/pkg/db"
)

// State is the power state reported for the guest's database server.
type State int

const (
	StateRunning  State = 1
	StateBlocked  State = 2
	StateShutdown State = 4
	// StateFailed is set by the control plane only.
	StateFailed State = 8
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateBlocked:
		return "blocked"
	case StateShutdown:
		return "shutdown"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Classify maps what was observed about the database server to a State.
func Classify(processPresent, portOpen bool) State {
	switch {
	case !processPresent:
		return StateShutdown
	case portOpen:
		return StateRunning
	default:
		return StateBlocked
	}
}

// Record is one status snapshot. It is built fresh on every refresh and not retained.
type Record struct {
	HostID           string    `json:"host_id"`
	Address          string    `json:"address"`
	State            State     `json:"state"`
	StateDescription string    `json:"state_description"`
	MemUsedPercent   float64   `json:"mem_used_percent"`
	Load1            float64   `json:"load1"`
	DiskUsedPercent  float64   `json:"disk_used_percent"`
	AgentVersion     string    `json:"agent_version"`
	ObservedAt       time.Time `json:"observed_at"`
}

// Row converts r to its guest_status row.
func (r *Record) Row() *db.GuestStatus {
	return &db.GuestStatus{
		HostID:           r.HostID,
		Address:          r.Address,
		State:            int(r.State),
		StateDescription: r.StateDescription,
		MemUsedPercent:   r.MemUsedPercent,
		Load1:            r.Load1,
		DiskUsedPercent:  r.DiskUsedPercent,
		AgentVersion:     r.AgentVersion,
		ObservedAt:       r.ObservedAt,
	}
}

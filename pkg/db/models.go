package db

import "time"

// GuestStatus is one row of the guest_status table.
type GuestStatus struct {
	HostID           string    `json:"host_id"`
	Address          string    `json:"address"`
	State            int       `json:"state"`
	StateDescription string    `json:"state_description"`
	MemUsedPercent   float64   `json:"mem_used_percent"`
	Load1            float64   `json:"load1"`
	DiskUsedPercent  float64   `json:"disk_used_percent"`
	AgentVersion     string    `json:"agent_version"`
	ObservedAt       time.Time `json:"observed_at"`
	Modified         time.Time `json:"modified"`
}

package types

import "time"

// LinkState is the externally visible state of a device link.
type LinkState string

// Link states.
const (
	LinkDown     LinkState = "down"
	LinkUp       LinkState = "up"
	LinkDegraded LinkState = "degraded"
	LinkFailed   LinkState = "failed"
	LinkStopped  LinkState = "stopped"
)

// DeviceStatus is published on the bus whenever a driver's link state
// changes or a failure is counted.
type DeviceStatus struct {
	State    LinkState `json:"state"`
	Reason   string    `json:"reason,omitempty"`
	Failures int       `json:"failures"`
	Since    time.Time `json:"since"`
}

func (s *DeviceStatus) Clone() Payload {
	c := *s
	return &c
}

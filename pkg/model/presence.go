package model

type PresenceState string

const (
	Online  PresenceState = "online"
	Offline PresenceState = "offline"
)

// Presence is the per-user connection status record.
type Presence struct {
	State       PresenceState `json:"state"`
	LastChanged int64         `json:"last_changed"`
}

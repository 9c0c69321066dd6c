package model

// Status is the derived liveness of a device. It is computed per read and never stored.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// DeviceView is the read-only projection of a registry entry served to viewers.
type DeviceView struct {
	Snapshot `yaml:",inline"`

	Status      Status `json:"status" yaml:"status"`
	Online      bool   `json:"online" yaml:"online"`
	LastSeen    int64  `json:"last_seen" yaml:"last_seen"`
	LastSeenAgo string `json:"last_seen_ago" yaml:"last_seen_ago"`
}

// Listing is the body of GET /devices and of websocket "devices" messages.
type Listing struct {
	Type    string       `json:"type,omitempty" yaml:"type,omitempty"`
	Devices []DeviceView `json:"devices" yaml:"devices"`
	Now     int64        `json:"now" yaml:"now"`
}

package store

import "time"

// Device is the locally tracked view of a cloud luminaire. Cloud fields are
// refreshed on every inventory poll; FriendlyName and FirstSeen are local
// and survive polls.
type Device struct {
	UUID            string    `json:"uuid"`
	SectorUUID      string    `json:"sector_uuid"`
	MeshID          int       `json:"mesh_id"`
	Name            string    `json:"name"`
	FriendlyName    string    `json:"friendly_name,omitempty"`
	Type            int       `json:"type"`
	Status          int       `json:"status"`
	MinLevel        int       `json:"min_level,omitempty"`
	MaxLevel        int       `json:"max_level,omitempty"`
	StartUpLevel    int       `json:"start_up_level,omitempty"`
	FirmwareVersion string    `json:"firmware_version,omitempty"`
	Reachable       bool      `json:"reachable"`
	FirstSeen       time.Time `json:"first_seen"`
	LastSeen        time.Time `json:"last_seen"`
}

// DisplayName returns the friendly name when set, the cloud name otherwise.
func (d *Device) DisplayName() string {
	if d.FriendlyName != "" {
		return d.FriendlyName
	}
	return d.Name
}

// On reports whether the luminaire is currently lit.
func (d *Device) On() bool { return d.Status > 0 }

// Sector is an installation area; every device belongs to exactly one.
type Sector struct {
	UUID string `json:"uuid"`
	Name string `json:"name"`
}

// BridgeState is the persisted snapshot of the last successful cloud sync.
type BridgeState struct {
	Sectors     []Sector  `json:"sectors"`
	LastRefresh time.Time `json:"last_refresh"`
}

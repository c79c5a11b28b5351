package sgapi

// DeviceTypeDimmer marks trailing-edge dimmer modules in the inventory.
// Other type codes are on/off relays as far as the protocol is concerned.
const DeviceTypeDimmer = 1

// Inventory is the sector/device download returned by the cloud.
type Inventory struct {
	Sectors []Sector `json:"sectors"`
	Devices []Device `json:"devices"`
}

// Sector is a logical grouping of devices (a building zone) addressed by UUID.
type Sector struct {
	UUID string `json:"uuid"`
	Name string `json:"name,omitempty"`
}

// Device is one luminaire module as the cloud reports it.
type Device struct {
	UUID            string `json:"uuid"`
	SectorUUID      string `json:"sector_uuid"`
	MeshID          int    `json:"mesh_id"`
	Name            string `json:"name,omitempty"`
	Type            int    `json:"type"`
	Status          int    `json:"status"` // 0 = off, >0 = on
	MinLevel        int    `json:"min_level,omitempty"`
	MaxLevel        int    `json:"max_level,omitempty"`
	StartUpLevel    int    `json:"start_up_level,omitempty"`
	FirmwareVersion string `json:"firmware_version,omitempty"`
}

// IsDimmer reports whether the device accepts dim commands.
func (d Device) IsDimmer() bool {
	return d.Type == DeviceTypeDimmer
}

// On reports the last known switch state from the inventory.
func (d Device) On() bool {
	return d.Status > 0
}

// ControlEndpoint identifies the WebSocket gateway serving a sector's
// devices. Both fields must be non-empty for the endpoint to be usable.
type ControlEndpoint struct {
	Host string `json:"host"`
	Path string `json:"path"`
}

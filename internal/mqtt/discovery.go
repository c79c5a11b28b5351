//go:build !no_mqtt

package mqtt

import (
	"fmt"
	"strings"

	"sgsmart-bridge/internal/sgapi"
	"sgsmart-bridge/internal/store"
)

// discoveryMsg is a Home Assistant MQTT discovery payload.
type discoveryMsg struct {
	Topic   string // e.g. "homeassistant/light/sgsmart_<uuid>/light/config"
	Payload []byte // JSON, empty means delete
}

// haDevice is the "device" block in HA discovery.
type haDevice struct {
	Identifiers  []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	SWVersion    string   `json:"sw_version,omitempty"`
	Name         string   `json:"name"`
}

// haDiscovery is a generic HA discovery payload.
type haDiscovery struct {
	Name                string   `json:"name"`
	UniqueID            string   `json:"unique_id"`
	StateTopic          string   `json:"state_topic"`
	CommandTopic        string   `json:"command_topic,omitempty"`
	AvailabilityTopic   string   `json:"availability_topic"`
	ValueTemplate       string   `json:"value_template,omitempty"`
	PayloadOn           string   `json:"payload_on,omitempty"`
	PayloadOff          string   `json:"payload_off,omitempty"`
	BrightnessScale     int      `json:"brightness_scale,omitempty"`
	SupportedColorModes []string `json:"supported_color_modes,omitempty"`
	Schema              string   `json:"schema,omitempty"`
	Device              haDevice `json:"device"`
}

// deviceIdentifier returns the unique identifier for HA device registry.
func deviceIdentifier(dev *store.Device) string {
	return "sgsmart_" + sanitizeTopic(dev.UUID)
}

// deviceTopicName returns the topic name for a device (friendly name or UUID).
func deviceTopicName(dev *store.Device) string {
	if dev.FriendlyName != "" {
		return sanitizeTopic(dev.FriendlyName)
	}
	return sanitizeTopic(dev.UUID)
}

// sanitizeTopic lowercases and keeps only safe chars for MQTT topics.
func sanitizeTopic(s string) string {
	s = strings.ToLower(s)
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			return r
		}
		return '_'
	}, s)
}

// buildDiscovery generates HA discovery messages for a device. Dimmers are
// published as brightness-capable lights; anything else as a plain switch.
func buildDiscovery(dev *store.Device, prefix string) []discoveryMsg {
	avail := prefix + "/bridge/state"
	stateTopic := prefix + "/" + deviceTopicName(dev)
	cmdTopic := stateTopic + "/set"
	nodeID := deviceIdentifier(dev)
	displayName := dev.DisplayName()
	if displayName == "" {
		displayName = dev.UUID
	}

	haDev := haDevice{
		Identifiers:  []string{nodeID},
		Manufacturer: "SG Smart",
		SWVersion:    dev.FirmwareVersion,
		Name:         displayName,
	}

	if dev.Type == sgapi.DeviceTypeDimmer {
		topic := fmt.Sprintf("homeassistant/light/%s/light/config", nodeID)
		payload := haDiscovery{
			Name:                displayName,
			UniqueID:            nodeID + "_light",
			StateTopic:          stateTopic,
			CommandTopic:        cmdTopic,
			AvailabilityTopic:   avail,
			SupportedColorModes: []string{"brightness"},
			// The firmware dims in whole percent, so expose that scale
			// directly instead of HA's default 255.
			BrightnessScale: 100,
			Schema:          "json",
			Device:          haDev,
		}
		return []discoveryMsg{{Topic: topic, Payload: mustJSON(payload)}}
	}

	topic := fmt.Sprintf("homeassistant/switch/%s/switch/config", nodeID)
	payload := haDiscovery{
		Name:              displayName,
		UniqueID:          nodeID + "_switch",
		StateTopic:        stateTopic,
		CommandTopic:      cmdTopic,
		AvailabilityTopic: avail,
		ValueTemplate:     "{{ value_json.state }}",
		PayloadOn:         "ON",
		PayloadOff:        "OFF",
		Device:            haDev,
	}
	return []discoveryMsg{{Topic: topic, Payload: mustJSON(payload)}}
}

// buildRemoveDiscovery generates empty retained messages to remove a device from HA.
func buildRemoveDiscovery(dev *store.Device) []discoveryMsg {
	nodeID := deviceIdentifier(dev)

	components := []struct{ comp, obj string }{
		{"light", "light"},
		{"switch", "switch"},
	}

	var msgs []discoveryMsg
	for _, c := range components {
		msgs = append(msgs, discoveryMsg{
			Topic:   fmt.Sprintf("homeassistant/%s/%s/%s/config", c.comp, nodeID, c.obj),
			Payload: nil, // empty retained = delete
		})
	}
	return msgs
}

//go:build !no_mqtt

package mqtt

import (
	"encoding/json"
	"testing"
	"time"

	"sgsmart-bridge/internal/sgapi"
	"sgsmart-bridge/internal/store"
)

func TestDiscoveryDimmerIsLight(t *testing.T) {
	dev := &store.Device{
		UUID:            "de305d54-75b4",
		FriendlyName:    "Kitchen Light",
		Type:            sgapi.DeviceTypeDimmer,
		FirmwareVersion: "2.1.0",
	}

	msgs := buildDiscovery(dev, "sgsmart")
	if len(msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(msgs))
	}

	if msgs[0].Topic != "homeassistant/light/sgsmart_de305d54-75b4/light/config" {
		t.Errorf("topic = %q", msgs[0].Topic)
	}

	var payload haDiscovery
	if err := json.Unmarshal(msgs[0].Payload, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}

	if payload.Name != "Kitchen Light" {
		t.Errorf("name = %q, want %q", payload.Name, "Kitchen Light")
	}
	if payload.UniqueID != "sgsmart_de305d54-75b4_light" {
		t.Errorf("unique_id = %q", payload.UniqueID)
	}
	if payload.StateTopic != "sgsmart/kitchen_light" {
		t.Errorf("state_topic = %q", payload.StateTopic)
	}
	if payload.CommandTopic != "sgsmart/kitchen_light/set" {
		t.Errorf("command_topic = %q", payload.CommandTopic)
	}
	if payload.AvailabilityTopic != "sgsmart/bridge/state" {
		t.Errorf("availability_topic = %q", payload.AvailabilityTopic)
	}
	if payload.BrightnessScale != 100 {
		t.Errorf("brightness_scale = %d, want 100", payload.BrightnessScale)
	}
	if payload.Schema != "json" {
		t.Errorf("schema = %q, want %q", payload.Schema, "json")
	}
	if payload.Device.SWVersion != "2.1.0" {
		t.Errorf("sw_version = %q", payload.Device.SWVersion)
	}
}

func TestDiscoveryNonDimmerIsSwitch(t *testing.T) {
	dev := &store.Device{
		UUID: "aa11",
		Name: "Relay",
		Type: 2,
	}

	msgs := buildDiscovery(dev, "sgsmart")
	if len(msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(msgs))
	}
	if msgs[0].Topic != "homeassistant/switch/sgsmart_aa11/switch/config" {
		t.Errorf("topic = %q", msgs[0].Topic)
	}

	var payload haDiscovery
	if err := json.Unmarshal(msgs[0].Payload, &payload); err != nil {
		t.Fatal(err)
	}
	if payload.ValueTemplate != "{{ value_json.state }}" {
		t.Errorf("value_template = %q", payload.ValueTemplate)
	}
	if payload.PayloadOn != "ON" || payload.PayloadOff != "OFF" {
		t.Errorf("payload_on/off = %q/%q", payload.PayloadOn, payload.PayloadOff)
	}
	if payload.BrightnessScale != 0 {
		t.Errorf("brightness_scale = %d, want unset", payload.BrightnessScale)
	}
}

func TestDeviceTopicName(t *testing.T) {
	tests := []struct {
		name string
		dev  *store.Device
		want string
	}{
		{
			name: "friendly name with spaces",
			dev:  &store.Device{FriendlyName: "Kitchen Light", UUID: "aabb"},
			want: "kitchen_light",
		},
		{
			name: "UUID fallback",
			dev:  &store.Device{UUID: "DE305D54-75B4"},
			want: "de305d54-75b4",
		},
		{
			name: "unsafe chars",
			dev:  &store.Device{FriendlyName: "Büro/Licht #1", UUID: "aabb"},
			want: "b_ro_licht__1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := deviceTopicName(tt.dev)
			if got != tt.want {
				t.Errorf("deviceTopicName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStatePayload(t *testing.T) {
	seen := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	dev := &store.Device{
		UUID:      "d1",
		Status:    60,
		Reachable: true,
		LastSeen:  seen,
	}

	payload := statePayload(dev)
	if payload["state"] != "ON" {
		t.Errorf("state = %v, want ON", payload["state"])
	}
	if payload["brightness"] != 60 {
		t.Errorf("brightness = %v, want 60", payload["brightness"])
	}
	if payload["reachable"] != true {
		t.Errorf("reachable = %v", payload["reachable"])
	}
	if payload["last_seen"] != "2026-08-25T12:00:00Z" {
		t.Errorf("last_seen = %v", payload["last_seen"])
	}

	dev.Status = 0
	if statePayload(dev)["state"] != "OFF" {
		t.Error("state for status 0 != OFF")
	}
}

func TestStatePayloadOnFlagOmitsBrightness(t *testing.T) {
	// Inventory polls report status as a 0/1 on-flag; that is not a level
	// and must not reach HA as brightness 1.
	dev := &store.Device{UUID: "d1", Status: 1, Reachable: true}

	payload := statePayload(dev)
	if payload["state"] != "ON" {
		t.Errorf("state = %v, want ON", payload["state"])
	}
	if _, ok := payload["brightness"]; ok {
		t.Errorf("brightness = %v, want omitted", payload["brightness"])
	}

	dev.Status = 0
	if _, ok := statePayload(dev)["brightness"]; ok {
		t.Error("brightness present for status 0")
	}
}

func TestRemoveDiscovery(t *testing.T) {
	dev := &store.Device{UUID: "de305d54-75b4"}
	msgs := buildRemoveDiscovery(dev)
	if len(msgs) == 0 {
		t.Fatal("expected removal messages")
	}

	topics := make(map[string]bool)
	for _, m := range msgs {
		if m.Payload != nil {
			t.Errorf("removal message should have nil payload, got %q for %s", m.Payload, m.Topic)
		}
		topics[m.Topic] = true
	}
	if !topics["homeassistant/light/sgsmart_de305d54-75b4/light/config"] {
		t.Error("light removal missing")
	}
	if !topics["homeassistant/switch/sgsmart_de305d54-75b4/switch/config"] {
		t.Error("switch removal missing")
	}
}

func TestCommandParse(t *testing.T) {
	// Known command payload shapes from HA's json light schema.
	tests := []struct {
		name    string
		payload string
		wantKey string
	}{
		{"on", `{"state":"ON"}`, "state"},
		{"off", `{"state":"OFF"}`, "state"},
		{"brightness", `{"brightness":60}`, "brightness"},
		{"combined", `{"state":"ON","brightness":60}`, "brightness"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cmd map[string]interface{}
			if err := json.Unmarshal([]byte(tt.payload), &cmd); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if _, ok := cmd[tt.wantKey]; !ok {
				t.Errorf("expected key %q in command", tt.wantKey)
			}
		})
	}
}

func TestMustJSON(t *testing.T) {
	result := mustJSON(map[string]string{"hello": "world"})
	var parsed map[string]string
	if err := json.Unmarshal(result, &parsed); err != nil {
		t.Fatalf("mustJSON output not valid JSON: %v", err)
	}
	if parsed["hello"] != "world" {
		t.Errorf("parsed value = %q", parsed["hello"])
	}
}

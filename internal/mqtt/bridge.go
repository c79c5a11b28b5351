//go:build !no_mqtt

// Package mqtt bridges the device registry to an MQTT broker with Home
// Assistant autodiscovery.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"sgsmart-bridge/internal/coordinator"
	"sgsmart-bridge/internal/store"
)

// Config holds MQTT bridge configuration.
type Config struct {
	Broker      string
	Username    string
	Password    string
	TopicPrefix string
}

// Bridge connects the coordinator to MQTT with HA autodiscovery.
type Bridge struct {
	client pahomqtt.Client
	coord  *coordinator.Coordinator
	prefix string
	logger *slog.Logger
	unsub  func()
	ctx    context.Context
	cancel context.CancelFunc

	// Command-topic subscriptions by device UUID.
	mu         sync.Mutex
	subscribed map[string]string // UUID -> subscribed topic
}

// NewBridge creates and connects an MQTT bridge.
func NewBridge(coord *coordinator.Coordinator, cfg Config, logger *slog.Logger) (*Bridge, error) {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		coord:      coord,
		prefix:     cfg.TopicPrefix,
		logger:     logger.With("component", "mqtt"),
		subscribed: make(map[string]string),
		ctx:        ctx,
		cancel:     cancel,
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID("sgsmart-bridge").
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(cfg.TopicPrefix+"/bridge/state", "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			b.logger.Info("MQTT connected")
			b.publishBridgeState("online")
			b.publishAllDiscovery()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			b.logger.Warn("MQTT connection lost", "err", err)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		cancel()
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		cancel()
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}

	b.client = client
	return b, nil
}

// Start subscribes to coordinator events and begins MQTT publishing.
func (b *Bridge) Start() {
	b.unsub = b.coord.Events().OnAll(b.handleEvent)
	b.logger.Info("MQTT bridge started", "prefix", b.prefix)
}

// Stop publishes offline state, unsubscribes, and disconnects.
func (b *Bridge) Stop() {
	b.cancel()
	if b.unsub != nil {
		b.unsub()
	}
	b.publishBridgeState("offline")
	b.client.Disconnect(1000)
	b.logger.Info("MQTT bridge stopped")
}

func (b *Bridge) handleEvent(event coordinator.Event) {
	switch event.Type {
	case coordinator.EventDeviceAdded, coordinator.EventDeviceUpdated:
		if dev, ok := event.Data.(*store.Device); ok {
			b.publishDeviceDiscovery(dev)
			b.subscribeDeviceCommands(dev)
			b.publishDeviceState(dev)
		}
	case coordinator.EventStateChange:
		if dev, ok := event.Data.(*store.Device); ok {
			b.publishDeviceState(dev)
		}
	case coordinator.EventDeviceRemoved:
		if dev, ok := event.Data.(*store.Device); ok {
			b.handleDeviceRemoved(dev)
		}
	case coordinator.EventCloudState:
		// Devices are only controllable while the cloud session works, so
		// bridge availability tracks it.
		if state, ok := event.Data.(string); ok {
			b.publishBridgeState(state)
		}
	}
}

func (b *Bridge) handleDeviceRemoved(dev *store.Device) {
	for _, msg := range buildRemoveDiscovery(dev) {
		b.publish(msg.Topic, msg.Payload, true)
	}

	b.mu.Lock()
	topic, ok := b.subscribed[dev.UUID]
	delete(b.subscribed, dev.UUID)
	b.mu.Unlock()
	if ok {
		b.client.Unsubscribe(topic)
	}
}

func (b *Bridge) publishBridgeState(state string) {
	topic := b.prefix + "/bridge/state"
	b.publish(topic, []byte(state), true)
}

func (b *Bridge) publishAllDiscovery() {
	devices, err := b.coord.Devices()
	if err != nil {
		b.logger.Error("list devices for discovery", "err", err)
		return
	}
	for _, dev := range devices {
		b.publishDeviceDiscovery(dev)
		b.subscribeDeviceCommands(dev)
		b.publishDeviceState(dev)
	}
}

func (b *Bridge) publishDeviceDiscovery(dev *store.Device) {
	for _, msg := range buildDiscovery(dev, b.prefix) {
		b.publish(msg.Topic, msg.Payload, true)
	}
	b.logger.Info("published HA discovery", "uuid", dev.UUID, "name", dev.DisplayName())
}

func (b *Bridge) publishDeviceState(dev *store.Device) {
	topic := b.prefix + "/" + deviceTopicName(dev)
	b.publish(topic, mustJSON(statePayload(dev)), true)
}

// statePayload is the retained per-device state document. Status holds a dim
// percent after a bridge-issued command, but inventory polls only report the
// cloud's 0/1 on-flag; a bare on-flag carries no level, so brightness is
// omitted and HA keeps its last known value.
func statePayload(dev *store.Device) map[string]any {
	state := "OFF"
	if dev.On() {
		state = "ON"
	}
	payload := map[string]any{
		"state":     state,
		"reachable": dev.Reachable,
		"last_seen": dev.LastSeen.Format(time.RFC3339),
	}
	if dev.Status > 1 {
		payload["brightness"] = dev.Status
	}
	return payload
}

func (b *Bridge) subscribeDeviceCommands(dev *store.Device) {
	topic := b.prefix + "/" + deviceTopicName(dev) + "/set"
	uuid := dev.UUID

	b.mu.Lock()
	prev, ok := b.subscribed[uuid]
	if ok && prev == topic {
		b.mu.Unlock()
		return
	}
	b.subscribed[uuid] = topic
	b.mu.Unlock()

	// A rename moves the command topic; drop the old subscription.
	if ok {
		b.client.Unsubscribe(prev)
	}
	b.client.Subscribe(topic, 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		b.handleCommand(uuid, msg.Payload())
	})
}

func (b *Bridge) handleCommand(uuid string, payload []byte) {
	var cmd map[string]interface{}
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.logger.Warn("invalid command JSON", "uuid", uuid, "err", err)
		return
	}

	ctx, cancel := context.WithTimeout(b.ctx, 30*time.Second)
	defer cancel()

	// Brightness implies ON; handle it first so {"state":"ON","brightness":N}
	// dims instead of jumping to full.
	if brightness, ok := toFloat64(cmd["brightness"]); ok {
		percent := int(brightness)
		if percent > 100 {
			percent = 100
		}
		if percent < 1 {
			percent = 1
		}
		if err := b.coord.SetBrightness(ctx, uuid, percent); err != nil {
			b.logger.Warn("brightness command failed", "uuid", uuid, "err", err)
		}
		return
	}

	if state, ok := cmd["state"].(string); ok {
		switch strings.ToUpper(state) {
		case "ON":
			if err := b.coord.TurnOn(ctx, uuid); err != nil {
				b.logger.Warn("on command failed", "uuid", uuid, "err", err)
			}
		case "OFF":
			if err := b.coord.TurnOff(ctx, uuid); err != nil {
				b.logger.Warn("off command failed", "uuid", uuid, "err", err)
			}
		}
	}
}

func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	token := b.client.Publish(topic, 1, retained, payload)
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			b.logger.Warn("MQTT publish timeout", "topic", topic)
		} else if err := token.Error(); err != nil {
			b.logger.Warn("MQTT publish error", "topic", topic, "err", err)
		}
	}()
}

func toFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func mustJSON(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}

package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"sgsmart-bridge/internal/sgapi"
	"sgsmart-bridge/internal/store"
)

// CloudClient is the slice of the cloud API the coordinator drives.
type CloudClient interface {
	Login(ctx context.Context) (map[string]any, error)
	Logout() error
	Authenticated() bool
	GetDevices(ctx context.Context) (*sgapi.Inventory, error)
	ResolveControlEndpoint(ctx context.Context, sectorUUID string) (sgapi.ControlEndpoint, error)
	TurnOn(ctx context.Context, ep sgapi.ControlEndpoint, sectorUUID string, meshID int) error
	TurnOff(ctx context.Context, ep sgapi.ControlEndpoint, sectorUUID string, meshID int) error
	Dim(ctx context.Context, ep sgapi.ControlEndpoint, sectorUUID string, meshID int, percent int) error
}

// Config holds coordinator configuration.
type Config struct {
	PollInterval time.Duration
}

// Coordinator keeps the local device registry in sync with the cloud
// inventory and routes control commands to the per-sector gateways.
type Coordinator struct {
	client CloudClient
	store  store.Store
	events *EventBus
	logger *slog.Logger
	config Config

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	online  bool
	sectors []store.Sector
}

// New creates a new Coordinator.
func New(client CloudClient, st store.Store, events *EventBus, cfg Config, logger *slog.Logger) *Coordinator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		client: client,
		store:  st,
		events: events,
		logger: logger,
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}
	c.restoreSectors()
	return c
}

// Context returns the coordinator's context, which is cancelled on Stop().
func (c *Coordinator) Context() context.Context {
	return c.ctx
}

// restoreSectors seeds the in-memory sector list from the last persisted
// sync so the API can answer before the first refresh completes.
func (c *Coordinator) restoreSectors() {
	state, err := c.store.GetBridgeState()
	if err != nil {
		return
	}
	c.sectors = state.Sectors
}

// Start logs in and runs the first inventory refresh, then launches the
// poll loop. A failed first refresh is not fatal: the loop keeps retrying
// and the bridge serves the persisted registry meanwhile.
func (c *Coordinator) Start(ctx context.Context) error {
	if _, err := c.client.Login(ctx); err != nil {
		c.logger.Warn("initial login failed, will retry", "err", err)
	} else if err := c.Refresh(ctx); err != nil {
		c.logger.Warn("initial refresh failed, will retry", "err", err)
	}

	c.wg.Add(1)
	go c.pollLoop()
	return nil
}

// Stop cancels the poll loop and waits for it, then drops the session.
func (c *Coordinator) Stop() {
	c.cancel()
	c.wg.Wait()
	if err := c.client.Logout(); err != nil {
		c.logger.Warn("logout", "err", err)
	}
}

func (c *Coordinator) pollLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if err := c.Refresh(c.ctx); err != nil {
				c.logger.Warn("inventory refresh", "err", err)
			}
		}
	}
}

// Online reports whether the last cloud exchange succeeded.
func (c *Coordinator) Online() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.online
}

// setOnline records cloud reachability and emits on transitions.
func (c *Coordinator) setOnline(online bool) {
	c.mu.Lock()
	changed := c.online != online
	c.online = online
	c.mu.Unlock()

	if changed {
		state := "offline"
		if online {
			state = "online"
		}
		c.logger.Info("cloud connection state", "state", state)
		c.events.Emit(Event{Type: EventCloudState, Data: state})
	}
}

// Refresh downloads the cloud inventory and merges it into the local
// registry. Local fields (friendly name, first seen) survive the merge;
// devices missing from the inventory are kept but marked unreachable.
func (c *Coordinator) Refresh(ctx context.Context) error {
	inv, err := c.client.GetDevices(ctx)
	if err != nil {
		c.setOnline(false)
		return fmt.Errorf("download inventory: %w", err)
	}
	c.setOnline(true)

	if err := c.merge(inv); err != nil {
		return err
	}
	c.events.Emit(Event{Type: EventRefresh, Data: map[string]any{
		"sectors": len(inv.Sectors),
		"devices": len(inv.Devices),
	}})
	return nil
}

func (c *Coordinator) merge(inv *sgapi.Inventory) error {
	now := time.Now()

	sectors := make([]store.Sector, 0, len(inv.Sectors))
	for _, s := range inv.Sectors {
		sectors = append(sectors, store.Sector{UUID: s.UUID, Name: s.Name})
	}
	c.mu.Lock()
	c.sectors = sectors
	c.mu.Unlock()
	if err := c.store.SaveBridgeState(&store.BridgeState{Sectors: sectors, LastRefresh: now}); err != nil {
		return fmt.Errorf("save bridge state: %w", err)
	}

	known, err := c.store.ListDevices()
	if err != nil {
		return fmt.Errorf("list devices: %w", err)
	}
	knownByUUID := make(map[string]*store.Device, len(known))
	for _, d := range known {
		knownByUUID[d.UUID] = d
	}

	seen := make(map[string]bool, len(inv.Devices))
	for _, cd := range inv.Devices {
		seen[cd.UUID] = true
		prev := knownByUUID[cd.UUID]

		dev := &store.Device{
			UUID:            cd.UUID,
			SectorUUID:      cd.SectorUUID,
			MeshID:          cd.MeshID,
			Name:            cd.Name,
			Type:            cd.Type,
			Status:          cd.Status,
			MinLevel:        cd.MinLevel,
			MaxLevel:        cd.MaxLevel,
			StartUpLevel:    cd.StartUpLevel,
			FirmwareVersion: cd.FirmwareVersion,
			Reachable:       true,
			FirstSeen:       now,
			LastSeen:        now,
		}
		if prev != nil {
			dev.FriendlyName = prev.FriendlyName
			dev.FirstSeen = prev.FirstSeen
		}
		if err := c.store.SaveDevice(dev); err != nil {
			return fmt.Errorf("save device %s: %w", dev.UUID, err)
		}

		switch {
		case prev == nil:
			c.logger.Info("device added", "uuid", dev.UUID, "name", dev.DisplayName(), "mesh_id", dev.MeshID)
			c.events.Emit(Event{Type: EventDeviceAdded, Data: dev})
		case !prev.Reachable:
			c.logger.Info("device back", "uuid", dev.UUID, "name", dev.DisplayName())
			c.events.Emit(Event{Type: EventDeviceUpdated, Data: dev})
		case prev.Status != dev.Status:
			c.events.Emit(Event{Type: EventStateChange, Data: dev})
		}
	}

	// Anything we knew that the cloud no longer reports stays in the
	// registry (its friendly name survives outages) but goes unreachable.
	for _, prev := range known {
		if seen[prev.UUID] || !prev.Reachable {
			continue
		}
		err := c.store.UpdateDevice(prev.UUID, func(d *store.Device) error {
			d.Reachable = false
			return nil
		})
		if err != nil {
			return fmt.Errorf("mark device %s unreachable: %w", prev.UUID, err)
		}
		c.logger.Info("device gone", "uuid", prev.UUID, "name", prev.DisplayName())
		prev.Reachable = false
		c.events.Emit(Event{Type: EventDeviceRemoved, Data: prev})
	}

	return nil
}

// Sectors returns the sector list from the last successful sync.
func (c *Coordinator) Sectors() []store.Sector {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]store.Sector, len(c.sectors))
	copy(out, c.sectors)
	return out
}

// Devices returns all devices in the local registry.
func (c *Coordinator) Devices() ([]*store.Device, error) {
	return c.store.ListDevices()
}

// Device returns one device by UUID.
func (c *Coordinator) Device(uuid string) (*store.Device, error) {
	return c.store.GetDevice(uuid)
}

// Rename sets or clears a device's friendly name.
func (c *Coordinator) Rename(uuid, friendlyName string) (*store.Device, error) {
	err := c.store.UpdateDevice(uuid, func(d *store.Device) error {
		d.FriendlyName = friendlyName
		return nil
	})
	if err != nil {
		return nil, err
	}
	dev, err := c.store.GetDevice(uuid)
	if err != nil {
		return nil, err
	}
	c.logger.Info("device renamed", "uuid", uuid, "friendly_name", friendlyName)
	c.events.Emit(Event{Type: EventDeviceUpdated, Data: dev})
	return dev, nil
}

// Forget removes a device from the local registry. It reappears on the
// next refresh if the cloud still reports it.
func (c *Coordinator) Forget(uuid string) error {
	dev, err := c.store.GetDevice(uuid)
	if err != nil {
		return err
	}
	if err := c.store.DeleteDevice(uuid); err != nil {
		return err
	}
	c.logger.Info("device forgotten", "uuid", uuid)
	c.events.Emit(Event{Type: EventDeviceRemoved, Data: dev})
	return nil
}

// TurnOn switches a device on.
func (c *Coordinator) TurnOn(ctx context.Context, uuid string) error {
	return c.control(ctx, uuid, func(ctx context.Context, ep sgapi.ControlEndpoint, dev *store.Device) (int, error) {
		level := dev.MaxLevel
		if level <= 0 {
			level = 100
		}
		return level, c.client.TurnOn(ctx, ep, dev.SectorUUID, dev.MeshID)
	})
}

// TurnOff switches a device off.
func (c *Coordinator) TurnOff(ctx context.Context, uuid string) error {
	return c.control(ctx, uuid, func(ctx context.Context, ep sgapi.ControlEndpoint, dev *store.Device) (int, error) {
		return 0, c.client.TurnOff(ctx, ep, dev.SectorUUID, dev.MeshID)
	})
}

// SetBrightness dims a device to percent (1-100).
func (c *Coordinator) SetBrightness(ctx context.Context, uuid string, percent int) error {
	return c.control(ctx, uuid, func(ctx context.Context, ep sgapi.ControlEndpoint, dev *store.Device) (int, error) {
		return percent, c.client.Dim(ctx, ep, dev.SectorUUID, dev.MeshID, percent)
	})
}

// control resolves the device's gateway, runs one command against it, and
// records the expected status. The endpoint is resolved per command: the
// route service may move a sector between gateways at any time.
func (c *Coordinator) control(ctx context.Context, uuid string, send func(context.Context, sgapi.ControlEndpoint, *store.Device) (int, error)) error {
	dev, err := c.store.GetDevice(uuid)
	if err != nil {
		return err
	}

	ep, err := c.client.ResolveControlEndpoint(ctx, dev.SectorUUID)
	if err != nil {
		c.setOnline(false)
		return fmt.Errorf("resolve control endpoint for sector %s: %w", dev.SectorUUID, err)
	}

	status, err := send(ctx, ep, dev)
	if err != nil {
		return err
	}
	c.setOnline(true)

	// The command channel carries no state back; record the expected
	// status so the registry tracks intent until the next poll confirms.
	err = c.store.UpdateDevice(uuid, func(d *store.Device) error {
		d.Status = status
		d.LastSeen = time.Now()
		return nil
	})
	if err != nil {
		return err
	}
	dev.Status = status
	c.events.Emit(Event{Type: EventStateChange, Data: dev})
	return nil
}

// Info returns bridge status for the API.
func (c *Coordinator) Info() map[string]interface{} {
	info := map[string]interface{}{
		"online":        c.Online(),
		"authenticated": c.client.Authenticated(),
		"poll_interval": c.config.PollInterval.String(),
		"sectors":       len(c.Sectors()),
	}
	if state, err := c.store.GetBridgeState(); err == nil {
		info["last_refresh"] = state.LastRefresh
	}
	return info
}

// Store returns the store.
func (c *Coordinator) Store() store.Store {
	return c.store
}

// Events returns the event bus.
func (c *Coordinator) Events() *EventBus {
	return c.events
}

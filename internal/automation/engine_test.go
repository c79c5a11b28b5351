//go:build !no_automation

package automation

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"sgsmart-bridge/internal/coordinator"
	"sgsmart-bridge/internal/sgapi"
	"sgsmart-bridge/internal/store"

	lua "github.com/yuin/gopher-lua"
)

// recordingCloud implements coordinator.CloudClient and records commands.
type recordingCloud struct {
	mu  sync.Mutex
	ops []string
}

func (f *recordingCloud) Login(context.Context) (map[string]any, error) { return nil, nil }
func (f *recordingCloud) Logout() error                                 { return nil }
func (f *recordingCloud) Authenticated() bool                           { return true }
func (f *recordingCloud) GetDevices(context.Context) (*sgapi.Inventory, error) {
	return &sgapi.Inventory{}, nil
}

func (f *recordingCloud) ResolveControlEndpoint(context.Context, string) (sgapi.ControlEndpoint, error) {
	return sgapi.ControlEndpoint{Host: "gw.example.com", Path: "/gw"}, nil
}

func (f *recordingCloud) record(op string) {
	f.mu.Lock()
	f.ops = append(f.ops, op)
	f.mu.Unlock()
}

func (f *recordingCloud) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ops...)
}

func (f *recordingCloud) TurnOn(_ context.Context, _ sgapi.ControlEndpoint, sectorUUID string, _ int) error {
	f.record("on:" + sectorUUID)
	return nil
}

func (f *recordingCloud) TurnOff(_ context.Context, _ sgapi.ControlEndpoint, sectorUUID string, _ int) error {
	f.record("off:" + sectorUUID)
	return nil
}

func (f *recordingCloud) Dim(_ context.Context, _ sgapi.ControlEndpoint, sectorUUID string, _ int, percent int) error {
	f.record("dim:" + sectorUUID)
	return nil
}

func newTestEngine(t *testing.T) (*Engine, *recordingCloud, store.Store) {
	t.Helper()

	st, err := store.NewBoltStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cloud := &recordingCloud{}
	coord := coordinator.New(cloud, st, coordinator.NewEventBus(logger), coordinator.Config{}, logger)

	mgr, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	e := NewEngine(coord, mgr, logger, SystemConfig{}, TelegramConfig{})
	return e, cloud, st
}

func TestGoToLua(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	tests := []struct {
		name string
		val  interface{}
		want lua.LValueType
	}{
		{"nil", nil, lua.LTNil},
		{"bool true", true, lua.LTBool},
		{"bool false", false, lua.LTBool},
		{"string", "hello", lua.LTString},
		{"int", 42, lua.LTNumber},
		{"int64", int64(99), lua.LTNumber},
		{"float64", 3.14, lua.LTNumber},
		{"uint8", uint8(255), lua.LTNumber},
		{"uint16", uint16(1024), lua.LTNumber},
		{"uint32", uint32(100000), lua.LTNumber},
		{"int8", int8(-10), lua.LTNumber},
		{"map", map[string]interface{}{"a": 1}, lua.LTTable},
		{"slice", []interface{}{1, 2, 3}, lua.LTTable},
		{"unknown", struct{}{}, lua.LTString},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := goToLua(L, tt.val)
			if result.Type() != tt.want {
				t.Errorf("goToLua(%v) type = %v, want %v", tt.val, result.Type(), tt.want)
			}
		})
	}
}

func TestGoToLuaMap(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	m := map[string]interface{}{"key": "value", "num": 10}
	v := goToLua(L, m)
	tbl, ok := v.(*lua.LTable)
	if !ok {
		t.Fatal("expected LTable")
	}

	keyVal := tbl.RawGetString("key")
	if s, ok := keyVal.(lua.LString); !ok || string(s) != "value" {
		t.Errorf("map[key] = %v, want value", keyVal)
	}

	numVal := tbl.RawGetString("num")
	if n, ok := numVal.(lua.LNumber); !ok || float64(n) != 10 {
		t.Errorf("map[num] = %v, want 10", numVal)
	}
}

func TestGoToLuaSlice(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	s := []interface{}{"a", "b", "c"}
	v := goToLua(L, s)
	tbl, ok := v.(*lua.LTable)
	if !ok {
		t.Fatal("expected LTable")
	}

	if tbl.Len() != 3 {
		t.Errorf("table len = %d, want 3", tbl.Len())
	}

	first := tbl.RawGetInt(1)
	if str, ok := first.(lua.LString); !ok || string(str) != "a" {
		t.Errorf("slice[1] = %v, want a", first)
	}
}

func TestMatchesHandler(t *testing.T) {
	dev := &store.Device{UUID: "AABB-1122", Status: 50}

	tests := []struct {
		name    string
		handler luaEventHandler
		event   coordinator.Event
		want    bool
	}{
		{
			"device event exact match",
			luaEventHandler{eventType: "state_change", uuid: "AABB-1122"},
			coordinator.Event{Type: "state_change", Data: dev},
			true,
		},
		{
			"device event case-insensitive match",
			luaEventHandler{eventType: "state_change", uuid: "aabb-1122"},
			coordinator.Event{Type: "state_change", Data: dev},
			true,
		},
		{
			"wrong event type",
			luaEventHandler{eventType: "state_change"},
			coordinator.Event{Type: "device_added", Data: dev},
			false,
		},
		{
			"uuid filter mismatch",
			luaEventHandler{eventType: "state_change", uuid: "CCDD"},
			coordinator.Event{Type: "state_change", Data: dev},
			false,
		},
		{
			"no filter matches any device",
			luaEventHandler{eventType: "state_change"},
			coordinator.Event{Type: "state_change", Data: dev},
			true,
		},
		{
			"map data uuid match",
			luaEventHandler{eventType: "refresh", uuid: "AABB-1122"},
			coordinator.Event{Type: "refresh", Data: map[string]interface{}{"uuid": "AABB-1122"}},
			true,
		},
		{
			"string data with filter never matches",
			luaEventHandler{eventType: "cloud_state", uuid: "AABB-1122"},
			coordinator.Event{Type: "cloud_state", Data: "online"},
			false,
		},
		{
			"string data without filter matches",
			luaEventHandler{eventType: "cloud_state"},
			coordinator.Event{Type: "cloud_state", Data: "online"},
			true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := matchesHandler(tt.handler, tt.event)
			if got != tt.want {
				t.Errorf("matchesHandler() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMergeDeviceFields(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	dev := &store.Device{
		UUID:         "de30-75b4",
		SectorUUID:   "sec-1",
		MeshID:       7,
		Name:         "Dimmer 1",
		FriendlyName: "Kitchen",
		Status:       60,
		Reachable:    true,
	}

	tbl := L.NewTable()
	mergeDeviceFields(tbl, dev)

	if got := tbl.RawGetString("uuid"); got.String() != "de30-75b4" {
		t.Errorf("uuid = %v", got)
	}
	if got := tbl.RawGetString("friendly_name"); got.String() != "Kitchen" {
		t.Errorf("friendly_name = %v", got)
	}
	if got := tbl.RawGetString("mesh_id"); got != lua.LNumber(7) {
		t.Errorf("mesh_id = %v", got)
	}
	if got := tbl.RawGetString("on"); got != lua.LTrue {
		t.Errorf("on = %v, want true", got)
	}
	if got := tbl.RawGetString("reachable"); got != lua.LTrue {
		t.Errorf("reachable = %v, want true", got)
	}
}

func TestRunLuaCodeCapturesLogs(t *testing.T) {
	e, _, _ := newTestEngine(t)

	res := e.RunLuaCode(`
lights.log("hello")
system.log("warn", "careful")
`)
	if !res.OK {
		t.Fatalf("run failed: %s", res.Error)
	}
	if len(res.Logs) != 2 {
		t.Fatalf("logs = %v, want 2 entries", res.Logs)
	}
	if res.Logs[0] != "hello" {
		t.Errorf("logs[0] = %q", res.Logs[0])
	}
	if res.Logs[1] != "[warn] careful" {
		t.Errorf("logs[1] = %q", res.Logs[1])
	}
}

func TestRunLuaCodeSyntaxError(t *testing.T) {
	e, _, _ := newTestEngine(t)

	res := e.RunLuaCode(`this is not lua`)
	if res.OK {
		t.Fatal("expected failure")
	}
	if res.Error == "" {
		t.Error("expected error message")
	}
}

func TestRunLuaCodeSandbox(t *testing.T) {
	e, _, _ := newTestEngine(t)

	res := e.RunLuaCode(`
if os ~= nil then error("os leaked") end
if io ~= nil then error("io leaked") end
if require ~= nil then error("require leaked") end
if dofile ~= nil then error("dofile leaked") end
`)
	if !res.OK {
		t.Fatalf("sandbox check failed: %s", res.Error)
	}
}

func TestRunLuaCodeInvokesHandlers(t *testing.T) {
	e, _, _ := newTestEngine(t)

	res := e.RunLuaCode(`
lights.on("state_change", {uuid = "aa-bb"}, function(event)
    lights.log("handled " .. event.uuid)
end)
`)
	if !res.OK {
		t.Fatalf("run failed: %s", res.Error)
	}
	if len(res.Logs) != 1 || res.Logs[0] != "handled aa-bb" {
		t.Errorf("logs = %v, want synthetic handler invocation", res.Logs)
	}
}

func TestRunLuaCodeHandlerLimit(t *testing.T) {
	e, _, _ := newTestEngine(t)

	res := e.RunLuaCode(`
for i = 1, 101 do
    lights.on("state_change", {}, function(event) end)
end
`)
	if res.OK {
		t.Fatal("expected handler limit error")
	}
}

func TestLightsCommands(t *testing.T) {
	e, cloud, st := newTestEngine(t)

	dev := &store.Device{
		UUID:         "d1",
		SectorUUID:   "sec-1",
		MeshID:       3,
		FriendlyName: "Lamp",
		Reachable:    true,
	}
	if err := st.SaveDevice(dev); err != nil {
		t.Fatal(err)
	}

	res := e.RunLuaCode(`
lights.turn_on("Lamp")
lights.dim("d1", 40)
lights.turn_off("lamp")
`)
	if !res.OK {
		t.Fatalf("run failed: %s", res.Error)
	}

	want := []string{"on:sec-1", "dim:sec-1", "off:sec-1"}
	got := cloud.commands()
	if len(got) != len(want) {
		t.Fatalf("commands = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("commands[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestLightsDimZeroTurnsOff(t *testing.T) {
	e, cloud, st := newTestEngine(t)

	dev := &store.Device{
		UUID:       "d1",
		SectorUUID: "sec-1",
		MeshID:     3,
		Reachable:  true,
	}
	if err := st.SaveDevice(dev); err != nil {
		t.Fatal(err)
	}

	res := e.RunLuaCode(`
lights.dim("d1", 0)
lights.dim("d1", -5)
lights.dim("d1", 150)
`)
	if !res.OK {
		t.Fatalf("run failed: %s", res.Error)
	}

	want := []string{"off:sec-1", "off:sec-1", "dim:sec-1"}
	got := cloud.commands()
	if len(got) != len(want) {
		t.Fatalf("commands = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("commands[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestLightsGetAndList(t *testing.T) {
	e, _, st := newTestEngine(t)

	if err := st.SaveDevice(&store.Device{UUID: "d1", FriendlyName: "Lamp", Status: 80}); err != nil {
		t.Fatal(err)
	}
	if err := st.SaveDevice(&store.Device{UUID: "d2", Name: "Relay"}); err != nil {
		t.Fatal(err)
	}

	res := e.RunLuaCode(`
local dev = lights.get("Lamp")
if dev == nil then error("get failed") end
lights.log("status " .. dev.status)

if lights.get("nope") ~= nil then error("unexpected device") end

local all = lights.list()
lights.log("count " .. #all)
`)
	if !res.OK {
		t.Fatalf("run failed: %s", res.Error)
	}
	if len(res.Logs) != 2 {
		t.Fatalf("logs = %v", res.Logs)
	}
	if res.Logs[0] != "status 80" {
		t.Errorf("logs[0] = %q", res.Logs[0])
	}
	if res.Logs[1] != "count 2" {
		t.Errorf("logs[1] = %q", res.Logs[1])
	}
}

func TestResolveDevice(t *testing.T) {
	e, _, st := newTestEngine(t)

	if err := st.SaveDevice(&store.Device{UUID: "DE30-75B4", Name: "Dimmer 1", FriendlyName: "Kitchen"}); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		target string
		found  bool
	}{
		{"DE30-75B4", true},
		{"de30-75b4", true}, // case-insensitive UUID
		{"Kitchen", true},
		{"kitchen", true},
		{"Dimmer 1", true},
		{"unknown", false},
	}

	for _, tt := range tests {
		dev := resolveDevice(e, tt.target)
		if (dev != nil) != tt.found {
			t.Errorf("resolveDevice(%q) found = %v, want %v", tt.target, dev != nil, tt.found)
		}
	}
}

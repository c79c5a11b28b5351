//go:build !no_automation

package automation

import (
	"context"
	"strings"
	"time"

	"sgsmart-bridge/internal/store"

	lua "github.com/yuin/gopher-lua"
)

// registerLightsModule registers the `lights` global table in a Lua state.
func registerLightsModule(L *lua.LState, vm *scriptVM, e *Engine) {
	mod := L.NewTable()

	mod.RawSetString("on", L.NewFunction(func(L *lua.LState) int {
		return lightsOn(L, vm)
	}))

	mod.RawSetString("turn_on", L.NewFunction(func(L *lua.LState) int {
		return lightsTurnOn(L, e)
	}))

	mod.RawSetString("turn_off", L.NewFunction(func(L *lua.LState) int {
		return lightsTurnOff(L, e)
	}))

	mod.RawSetString("toggle", L.NewFunction(func(L *lua.LState) int {
		return lightsToggle(L, e)
	}))

	mod.RawSetString("dim", L.NewFunction(func(L *lua.LState) int {
		return lightsDim(L, e)
	}))

	mod.RawSetString("get", L.NewFunction(func(L *lua.LState) int {
		return lightsGet(L, e)
	}))

	mod.RawSetString("list", L.NewFunction(func(L *lua.LState) int {
		return lightsList(L, e)
	}))

	mod.RawSetString("after", L.NewFunction(func(L *lua.LState) int {
		return lightsAfter(L, vm, e)
	}))

	mod.RawSetString("log", L.NewFunction(func(L *lua.LState) int {
		return lightsLog(L, e)
	}))

	L.SetGlobal("lights", mod)
}

const maxHandlersPerScript = 100

// lights.on(type, filter, callback)
func lightsOn(L *lua.LState, vm *scriptVM) int {
	eventType := L.CheckString(1)
	filterTable := L.CheckTable(2)
	fn := L.CheckFunction(3)

	h := luaEventHandler{
		eventType: eventType,
		fn:        fn,
	}

	if v := filterTable.RawGetString("uuid"); v != lua.LNil {
		h.uuid = v.String()
	}

	vm.mu.Lock()
	if len(vm.handlers) >= maxHandlersPerScript {
		vm.mu.Unlock()
		L.RaiseError("too many handlers (max %d)", maxHandlersPerScript)
		return 0
	}
	vm.handlers = append(vm.handlers, h)
	vm.mu.Unlock()

	return 0
}

// lights.turn_on(uuid_or_name)
func lightsTurnOn(L *lua.LState, e *Engine) int {
	target := L.CheckString(1)
	dev := resolveDevice(e, target)
	if dev == nil {
		e.logger.Warn("device not found", "target", target)
		return 0
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := e.coord.TurnOn(ctx, dev.UUID); err != nil {
		e.logger.Error("turn on", "err", err, "target", target)
	}
	return 0
}

// lights.turn_off(uuid_or_name)
func lightsTurnOff(L *lua.LState, e *Engine) int {
	target := L.CheckString(1)
	dev := resolveDevice(e, target)
	if dev == nil {
		e.logger.Warn("device not found", "target", target)
		return 0
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := e.coord.TurnOff(ctx, dev.UUID); err != nil {
		e.logger.Error("turn off", "err", err, "target", target)
	}
	return 0
}

// lights.toggle(uuid_or_name)
func lightsToggle(L *lua.LState, e *Engine) int {
	target := L.CheckString(1)
	dev := resolveDevice(e, target)
	if dev == nil {
		e.logger.Warn("device not found", "target", target)
		return 0
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var err error
	if dev.On() {
		err = e.coord.TurnOff(ctx, dev.UUID)
	} else {
		err = e.coord.TurnOn(ctx, dev.UUID)
	}
	if err != nil {
		e.logger.Error("toggle", "err", err, "target", target)
	}
	return 0
}

// lights.dim(uuid_or_name, percent)
func lightsDim(L *lua.LState, e *Engine) int {
	target := L.CheckString(1)
	percent := L.CheckInt(2)

	dev := resolveDevice(e, target)
	if dev == nil {
		e.logger.Warn("device not found", "target", target)
		return 0
	}

	if percent > 100 {
		percent = 100
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// The dim command only encodes 1-100, so zero means off.
	if percent <= 0 {
		if err := e.coord.TurnOff(ctx, dev.UUID); err != nil {
			e.logger.Error("dim", "err", err, "target", target, "percent", percent)
		}
		return 0
	}

	if err := e.coord.SetBrightness(ctx, dev.UUID, percent); err != nil {
		e.logger.Error("dim", "err", err, "target", target, "percent", percent)
	}
	return 0
}

// lights.get(uuid_or_name) — returns a device table or nil
func lightsGet(L *lua.LState, e *Engine) int {
	target := L.CheckString(1)

	dev := resolveDevice(e, target)
	if dev == nil {
		L.Push(lua.LNil)
		return 1
	}

	L.Push(deviceToLua(L, dev))
	return 1
}

// lights.list() — returns a table of all devices
func lightsList(L *lua.LState, e *Engine) int {
	devices, err := e.coord.Store().ListDevices()
	if err != nil {
		L.Push(L.NewTable())
		return 1
	}

	tbl := L.NewTable()
	for i, dev := range devices {
		tbl.RawSetInt(i+1, deviceToLua(L, dev))
	}

	L.Push(tbl)
	return 1
}

// lights.after(seconds, callback) — delayed execution
func lightsAfter(L *lua.LState, vm *scriptVM, e *Engine) int {
	seconds := L.CheckNumber(1)
	fn := L.CheckFunction(2)

	go func() {
		timer := time.NewTimer(time.Duration(float64(seconds) * float64(time.Second)))
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-vm.ctx.Done():
			return
		}

		// Send callback execution to the VM's command channel
		select {
		case vm.commands <- func(L *lua.LState) {
			if err := L.CallByParam(lua.P{
				Fn:      fn,
				NRet:    0,
				Protect: true,
			}); err != nil {
				e.logger.Error("after callback error", "err", err)
			}
		}:
		default:
			e.logger.Warn("after: command channel full")
		}
	}()

	return 0
}

// lights.log(msg)
func lightsLog(L *lua.LState, e *Engine) int {
	msg := L.CheckString(1)
	e.logger.Info("script log", "msg", msg)
	return 0
}

func deviceToLua(L *lua.LState, dev *store.Device) *lua.LTable {
	d := L.NewTable()
	mergeDeviceFields(d, dev)
	return d
}

// resolveDevice finds a device by UUID or name. UUID lookup is tried first;
// names match the friendly name, then the cloud-assigned name.
func resolveDevice(e *Engine, target string) *store.Device {
	if dev, err := e.coord.Store().GetDevice(target); err == nil {
		return dev
	}

	devices, err := e.coord.Store().ListDevices()
	if err != nil {
		return nil
	}

	lower := strings.ToLower(target)
	for _, dev := range devices {
		if strings.ToLower(dev.FriendlyName) == lower {
			return dev
		}
	}
	for _, dev := range devices {
		if strings.ToLower(dev.Name) == lower {
			return dev
		}
	}
	for _, dev := range devices {
		if strings.EqualFold(dev.UUID, target) {
			return dev
		}
	}

	return nil
}

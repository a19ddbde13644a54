// Package lualib provides the mtstates Lua module, giving scripts running
// in Lua states access to the registry:
//
//	local mtstates = require("mtstates")
//	local s = mtstates.newstate("adder", "return function(a, b) return a + b end")
//	print(s:call(1, 2))
//	local same = mtstates.state("adder")
//	local me = mtstates.state(mtstates.id())
//
// States created from Lua run on the engine the module is installed on.
package lualib

import (
	"context"
	"math"
	"strconv"

	lua "github.com/yuin/gopher-lua"

	"github.com/wippyai/mtstate/engine"
	"github.com/wippyai/mtstate/engine/luaengine"
	"github.com/wippyai/mtstate/errors"
	"github.com/wippyai/mtstate/platform"
	"github.com/wippyai/mtstate/states"
)

const (
	// ModuleName is the name passed to require.
	ModuleName = "mtstates"
	// StateTypeName is the metatable name of state handles.
	StateTypeName = "mtstates.state"
)

type module struct {
	reg *states.Registry
	eng *luaengine.Engine
}

// Install makes the mtstates module available in every Lua state created
// on eng afterwards. States created through the module are registered in
// reg and run on eng.
func Install(reg *states.Registry, eng *luaengine.Engine) {
	m := &module{reg: reg, eng: eng}
	eng.AddLibrary(ModuleName, m.open)
}

var handleMethods = map[string]lua.LGFunction{
	"id":        handleID,
	"name":      handleName,
	"isowner":   handleIsOwner,
	"call":      handleCall,
	"tcall":     handleTCall,
	"interrupt": handleInterrupt,
	"close":     handleClose,
	"release":   handleRelease,
}

func (m *module) open(L *lua.LState, env engine.Env) int {
	registerStateType(L)
	mod := L.NewTable()
	mod.RawSetString("newstate", L.NewFunction(m.newState))
	mod.RawSetString("state", L.NewFunction(m.state))
	mod.RawSetString("singleton", L.NewFunction(m.singleton))
	mod.RawSetString("id", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LNumber(env.ID))
		return 1
	}))
	mod.RawSetString("error", errorTable(L))
	L.Push(mod)
	return 1
}

func registerStateType(L *lua.LState) *lua.LTable {
	mt := L.NewTypeMetatable(StateTypeName)
	if mt.RawGetString("__index") != lua.LNil {
		return mt
	}
	mt.RawSetString("__name", lua.LString(StateTypeName))
	mt.RawSetString("__index", L.SetFuncs(L.NewTable(), handleMethods))
	mt.RawSetString("__tostring", L.NewFunction(handleToString))
	mt.RawSetString("__gc", L.NewFunction(handleRelease))
	mt.RawSetString("__metatable", lua.LString(StateTypeName))

	recv := L.NewUserData()
	recv.Value = states.Receiver
	mt.RawSetString(states.ReceiverKey, recv)
	notify := L.NewUserData()
	notify.Value = states.Notifier
	mt.RawSetString(states.NotifyKey, notify)
	return mt
}

// PushHandle pushes h as a state handle userdata. The userdata takes over
// the reference held by h.
func PushHandle(L *lua.LState, h *states.Handle) {
	ud := L.NewUserData()
	ud.Value = h
	L.SetMetatable(ud, registerStateType(L))
	L.Push(ud)
}

// CheckHandle returns the handle at stack position n or raises an
// argument error.
func CheckHandle(L *lua.LState, n int) *states.Handle {
	ud := L.CheckUserData(n)
	h, ok := ud.Value.(*states.Handle)
	if !ok {
		L.ArgError(n, StateTypeName+" expected")
	}
	return h
}

func callContext(L *lua.LState) context.Context {
	if ctx := L.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// mtstates.newstate([name], [openlibs], code|function, ...)
func (m *module) newState(L *lua.LState) int {
	arg := 1
	name := ""
	if L.GetTop() >= 2 {
		switch v := L.Get(1).(type) {
		case lua.LString:
			name = string(v)
			arg++
		case *lua.LNilType:
			arg++
		}
	}
	setup, arg := checkSetup(L, arg)
	args := checkArgs(L, arg)

	h, results, err := m.reg.NewState(callContext(L), name, m.eng, setup, args...)
	if err != nil {
		return raise(L, err)
	}
	PushHandle(L, h)
	return 1 + pushValues(L, results)
}

// mtstates.state(name|id)
func (m *module) state(L *lua.LState) int {
	h, err := m.reg.Find(callContext(L), checkKey(L, 1), false)
	if err != nil {
		return raise(L, err)
	}
	PushHandle(L, h)
	return 1
}

// mtstates.singleton(name|id, [openlibs], code|function, ...)
func (m *module) singleton(L *lua.LState) int {
	ctx := callContext(L)
	key := checkKey(L, 1)
	name, byName := key.(string)
	if !byName || L.GetTop() == 1 {
		h, err := m.reg.Find(ctx, key, true)
		if err != nil {
			return raise(L, err)
		}
		PushHandle(L, h)
		return 1
	}

	setup, arg := checkSetup(L, 2)
	args := checkArgs(L, arg)
	h, results, err := m.reg.Singleton(ctx, name, m.eng, setup, args...)
	if err != nil {
		return raise(L, err)
	}
	PushHandle(L, h)
	return 1 + pushValues(L, results)
}

func checkKey(L *lua.LState, n int) any {
	switch v := L.Get(n).(type) {
	case lua.LString:
		return string(v)
	case lua.LNumber:
		f := float64(v)
		if f > 0 && f == math.Trunc(f) && f < 1<<63 {
			return uint64(f)
		}
	}
	L.ArgError(n, "state name or id expected")
	return nil
}

// checkSetup parses [openlibs], code|function starting at arg and returns
// the position of the first setup argument.
func checkSetup(L *lua.LState, arg int) (luaengine.Setup, int) {
	setup := luaengine.Setup{OpenLibs: true}
	if b, ok := L.Get(arg).(lua.LBool); ok {
		setup.OpenLibs = bool(b)
		arg++
	}
	switch v := L.Get(arg).(type) {
	case lua.LString:
		setup.Code = string(v)
	case *lua.LFunction:
		if v.IsG {
			L.ArgError(arg, "lua function expected")
		}
		if v.Proto.NumUpvalues > 0 {
			name := "?"
			if len(v.Proto.DbgUpvalues) > 0 {
				name = v.Proto.DbgUpvalues[0]
			}
			L.ArgError(arg, "state function uses upvalue '"+name+"'")
		}
		setup.Func = v.Proto
	default:
		L.ArgError(arg, "lua function expected")
	}
	return setup, arg + 1
}

// checkArgs converts the values from position from to the top.
func checkArgs(L *lua.LState, from int) []engine.Value {
	args, err := luaengine.FromLuaArgs(L, from, L.GetTop())
	if err != nil {
		if e, ok := errors.As(err); ok && e.Index > 0 {
			L.ArgError(from+e.Index-1, e.Detail)
		}
		raise(L, err)
	}
	return args
}

func pushValues(L *lua.LState, vals []engine.Value) int {
	for i, v := range vals {
		lv, err := luaengine.ToLua(L, v)
		if err != nil {
			raise(L, errors.StateResult(errors.PhaseDecode, "", "bad result #"+strconv.Itoa(i+1)+": "+err.Error()))
		}
		L.Push(lv)
	}
	return len(vals)
}

func handleID(L *lua.LState) int {
	L.Push(lua.LNumber(CheckHandle(L, 1).ID()))
	return 1
}

func handleName(L *lua.LState) int {
	h := CheckHandle(L, 1)
	if h.Name() == "" {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LString(h.Name()))
	return 1
}

func handleIsOwner(L *lua.LState) int {
	L.Push(lua.LBool(CheckHandle(L, 1).IsOwner()))
	return 1
}

// s:call(...)
func handleCall(L *lua.LState) int {
	h := CheckHandle(L, 1)
	args := checkArgs(L, 2)
	results, err := h.Call(callContext(L), args...)
	if err != nil {
		return raise(L, err)
	}
	return pushValues(L, results)
}

// s:tcall(timeout, ...) returns false if the state stayed busy for
// timeout seconds, otherwise true followed by the results.
func handleTCall(L *lua.LState) int {
	h := CheckHandle(L, 1)
	timeout := platform.Seconds(float64(L.CheckNumber(2)))
	args := checkArgs(L, 3)
	completed, results, err := h.TCall(callContext(L), timeout, args...)
	if err != nil {
		return raise(L, err)
	}
	L.Push(lua.LBool(completed))
	return 1 + pushValues(L, results)
}

// s:interrupt([flag]): nil interrupts once, true on every call until
// s:interrupt(false).
func handleInterrupt(L *lua.LState) int {
	h := CheckHandle(L, 1)
	mode := engine.InterruptOnce
	switch v := L.Get(2).(type) {
	case *lua.LNilType:
	case lua.LBool:
		mode = engine.InterruptOff
		if v {
			mode = engine.InterruptAlways
		}
	default:
		L.ArgError(2, "boolean or nil expected")
	}
	if err := h.SetInterruptMode(mode); err != nil {
		return raise(L, err)
	}
	return 0
}

func handleClose(L *lua.LState) int {
	if err := CheckHandle(L, 1).Close(callContext(L)); err != nil {
		return raise(L, err)
	}
	return 0
}

func handleRelease(L *lua.LState) int {
	CheckHandle(L, 1).Release()
	return 0
}

func handleToString(L *lua.LState) int {
	L.Push(lua.LString(CheckHandle(L, 1).String()))
	return 1
}

package luaengine

import (
	lua "github.com/yuin/gopher-lua"

	"github.com/wippyai/mtstate/carray"
)

// CarrayModule is the name under which the array module can be required.
const CarrayModule = "carray"

var carrayMethods = map[string]lua.LGFunction{
	"len":     carrayLen,
	"get":     carrayGet,
	"set":     carraySet,
	"type":    carrayType,
	"resize":  carrayResize,
	"totable": carrayToTable,
}

func registerTypes(L *lua.LState) {
	mt := L.NewTypeMetatable(CarrayTypeName)
	mt.RawSetString("__name", lua.LString(CarrayTypeName))
	mt.RawSetString("__index", L.SetFuncs(L.NewTable(), carrayMethods))
	mt.RawSetString("__len", L.NewFunction(carrayLen))
	mt.RawSetString("__tostring", L.NewFunction(carrayToString))
	api := L.NewUserData()
	api.Value = carray.Impl
	mt.RawSetString(carray.Key, api)

	omt := L.NewTypeMetatable(OpaqueTypeName)
	omt.RawSetString("__name", lua.LString(OpaqueTypeName))
	omt.RawSetString("__metatable", lua.LFalse)

	L.PreloadModule(CarrayModule, openCarray)
}

// NewArray wraps a as Lua userdata.
func NewArray(L *lua.LState, a *carray.Array) *lua.LUserData {
	ud := L.NewUserData()
	ud.Value = a
	L.SetMetatable(ud, L.GetTypeMetatable(CarrayTypeName))
	return ud
}

func openCarray(L *lua.LState) int {
	mod := L.NewTable()
	mod.RawSetString("new", L.NewFunction(carrayNew))
	types := L.NewTable()
	for t := carray.Uint8; t <= carray.Float64; t++ {
		types.RawSetString(t.String(), lua.LNumber(t))
	}
	mod.RawSetString("types", types)
	L.Push(mod)
	return 1
}

// carray.new(type, count [, readonly])
func carrayNew(L *lua.LState) int {
	var t carray.Type
	switch v := L.CheckAny(1).(type) {
	case lua.LString:
		pt, ok := carray.ParseType(string(v))
		if !ok {
			L.ArgError(1, "unknown element type '"+string(v)+"'")
		}
		t = pt
	case lua.LNumber:
		t = carray.Type(int(v))
	default:
		L.ArgError(1, "element type name or number expected")
	}
	count := L.CheckInt(2)
	attr := carray.Default
	if L.OptBool(3, false) {
		attr = carray.ReadOnly
	}
	a, err := carray.New(t, attr, count)
	if err != nil {
		L.ArgError(1, err.Error())
	}
	L.Push(NewArray(L, a))
	return 1
}

func checkArray(L *lua.LState) *carray.Array {
	ud := L.CheckUserData(1)
	a, ok := ud.Value.(*carray.Array)
	if !ok {
		L.ArgError(1, "carray expected")
	}
	return a
}

func carrayLen(L *lua.LState) int {
	L.Push(lua.LNumber(checkArray(L).Len()))
	return 1
}

func carrayType(L *lua.LState) int {
	L.Push(lua.LString(checkArray(L).Type().String()))
	return 1
}

func carrayGet(L *lua.LState) int {
	a := checkArray(L)
	v, err := a.Value(L.CheckInt(2) - 1)
	if err != nil {
		L.ArgError(2, err.Error())
	}
	switch x := v.(type) {
	case int64:
		L.Push(lua.LNumber(x))
	case float64:
		L.Push(lua.LNumber(x))
	}
	return 1
}

func carraySet(L *lua.LState) int {
	a := checkArray(L)
	i := L.CheckInt(2) - 1
	n, _ := FromLua(L.CheckNumber(3))
	if err := a.SetValue(i, n); err != nil {
		L.RaiseError("%s", err.Error())
	}
	return 0
}

func carrayResize(L *lua.LState) int {
	a := checkArray(L)
	if _, err := a.Resize(L.CheckInt(2), L.OptBool(3, false)); err != nil {
		L.RaiseError("%s", err.Error())
	}
	return 0
}

func carrayToTable(L *lua.LState) int {
	a := checkArray(L)
	tb := L.NewTable()
	for _, v := range a.Values() {
		switch x := v.(type) {
		case int64:
			tb.Append(lua.LNumber(x))
		case float64:
			tb.Append(lua.LNumber(x))
		}
	}
	L.Push(tb)
	return 1
}

func carrayToString(L *lua.LState) int {
	L.Push(lua.LString(checkArray(L).String()))
	return 1
}

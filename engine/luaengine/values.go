package luaengine

import (
	"fmt"
	"math"

	lua "github.com/yuin/gopher-lua"

	"github.com/wippyai/mtstate/carray"
	"github.com/wippyai/mtstate/engine"
	"github.com/wippyai/mtstate/errors"
)

const (
	// CarrayTypeName is the metatable name of array userdata.
	CarrayTypeName = "mtstate.carray"
	// OpaqueTypeName is the metatable name of opaque host values.
	OpaqueTypeName = "mtstate.opaque"
)

// maxExact bounds numbers converted to int64.
const maxExact = 1 << 63

func toLua(L *lua.LState, v engine.Value) (lua.LValue, error) {
	nv, ok := engine.Normalize(v)
	if !ok {
		return nil, fmt.Errorf("type '%s' not supported", engine.TypeName(v))
	}
	switch x := nv.(type) {
	case nil:
		return lua.LNil, nil
	case bool:
		return lua.LBool(x), nil
	case int64:
		return lua.LNumber(x), nil
	case float64:
		return lua.LNumber(x), nil
	case string:
		return lua.LString(x), nil
	case *carray.Array:
		return NewArray(L, x), nil
	case engine.Opaque:
		ud := L.NewUserData()
		ud.Value = x.V
		L.SetMetatable(ud, L.GetTypeMetatable(OpaqueTypeName))
		return ud, nil
	}
	return nil, fmt.Errorf("type '%s' not supported", engine.TypeName(v))
}

// ToLua converts a normalized value for pushing onto L.
func ToLua(L *lua.LState, v engine.Value) (lua.LValue, error) {
	return toLua(L, v)
}

// FromLua converts a Lua value. Numbers with an integral value in int64
// range become int64, others float64. ok is false for tables, functions,
// threads, channels and foreign userdata.
func FromLua(lv lua.LValue) (engine.Value, bool) {
	switch x := lv.(type) {
	case *lua.LNilType:
		return nil, true
	case lua.LBool:
		return bool(x), true
	case lua.LNumber:
		f := float64(x)
		if f == math.Trunc(f) && f >= -maxExact && f < maxExact {
			return int64(f), true
		}
		return f, true
	case lua.LString:
		return string(x), true
	case *lua.LUserData:
		if a, ok := x.Value.(*carray.Array); ok {
			return a, true
		}
		if mt, ok := x.Metatable.(*lua.LTable); ok {
			if name, ok := mt.RawGetString("__name").(lua.LString); ok && string(name) == OpaqueTypeName {
				return engine.Opaque{V: x.Value}, true
			}
		}
	}
	return nil, false
}

func fromLuaResults(results []lua.LValue, first int, what string) ([]engine.Value, error) {
	out := make([]engine.Value, len(results))
	for i, lv := range results {
		v, ok := FromLua(lv)
		if !ok {
			return nil, errors.StateResult(errors.PhaseDecode, "",
				fmt.Sprintf("%s returned bad parameter #%d: type '%s' not supported", what, i+first, lv.Type()))
		}
		out[i] = v
	}
	return out, nil
}

// FromLuaArgs converts stack values [from, to] of L, reporting the
// 1-based position relative to from on failure.
func FromLuaArgs(L *lua.LState, from, to int) ([]engine.Value, error) {
	if to < from {
		return nil, nil
	}
	out := make([]engine.Value, 0, to-from+1)
	for i := from; i <= to; i++ {
		lv := L.Get(i)
		v, ok := FromLua(lv)
		if !ok {
			return nil, errors.BadArgument(errors.PhaseEncode, i-from+1, fmt.Sprintf("type '%s' not supported", lv.Type()))
		}
		out = append(out, v)
	}
	return out, nil
}

func raisedError(lv lua.LValue) (*errors.Error, bool) {
	ud, ok := lv.(*lua.LUserData)
	if !ok {
		return nil, false
	}
	e, ok := ud.Value.(*errors.Error)
	return e, ok
}

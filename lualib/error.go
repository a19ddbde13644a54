package lualib

import (
	lua "github.com/yuin/gopher-lua"

	"github.com/wippyai/mtstate/errors"
)

// ErrorTypeName is the metatable name of error values raised by the module.
const ErrorTypeName = "mtstates.error"

var errorMethods = map[string]lua.LGFunction{
	"name":      errorName,
	"details":   errorDetails,
	"traceback": errorTraceback,
	"message":   errorMessage,
}

var errorClasses = map[errors.Kind]*errors.Error{
	errors.KindConcurrentAccess: errors.ErrConcurrentAccess,
	errors.KindObjectExists:     errors.ErrObjectExists,
	errors.KindObjectClosed:     errors.ErrObjectClosed,
	errors.KindUnknownObject:    errors.ErrUnknownObject,
	errors.KindAmbiguousName:    errors.ErrAmbiguousName,
	errors.KindInvokingState:    errors.ErrInvokingState,
	errors.KindStateResult:      errors.ErrStateResult,
	errors.KindInterrupted:      errors.ErrInterrupted,
	errors.KindOutOfMemory:      errors.ErrOutOfMemory,
	errors.KindBadArgument:      errors.ErrBadArgument,
}

func registerErrorType(L *lua.LState) *lua.LTable {
	mt := L.NewTypeMetatable(ErrorTypeName)
	if mt.RawGetString("__index") != lua.LNil {
		return mt
	}
	mt.RawSetString("__name", lua.LString(ErrorTypeName))
	mt.RawSetString("__index", L.SetFuncs(L.NewTable(), errorMethods))
	mt.RawSetString("__tostring", L.NewFunction(errorToString))
	mt.RawSetString("__eq", L.NewFunction(errorEq))
	mt.RawSetString("__metatable", lua.LString(ErrorTypeName))
	return mt
}

// errorTable builds mtstates.error, one comparable value per kind.
func errorTable(L *lua.LState) *lua.LTable {
	t := L.NewTable()
	for kind, class := range errorClasses {
		t.RawSetString(string(kind), NewError(L, class))
	}
	return t
}

// NewError wraps e as a Lua error value. Values compare equal when their
// kinds match, so err == mtstates.error.interrupted tests the kind.
func NewError(L *lua.LState, e *errors.Error) *lua.LUserData {
	ud := L.NewUserData()
	ud.Value = e
	L.SetMetatable(ud, registerErrorType(L))
	return ud
}

// raise throws err in L as an error value. It does not return.
func raise(L *lua.LState, err error) int {
	e, ok := errors.As(err)
	if !ok {
		L.RaiseError("%s", err.Error())
		return 0
	}
	L.Error(NewError(L, e), 1)
	return 0
}

func checkError(L *lua.LState) *errors.Error {
	ud := L.CheckUserData(1)
	e, ok := ud.Value.(*errors.Error)
	if !ok {
		L.ArgError(1, ErrorTypeName+" expected")
	}
	return e
}

func errorName(L *lua.LState) int {
	L.Push(lua.LString(checkError(L).Kind))
	return 1
}

func errorDetails(L *lua.LState) int {
	e := checkError(L)
	if e.Detail == "" {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LString(e.Detail))
	return 1
}

func errorTraceback(L *lua.LState) int {
	e := checkError(L)
	if e.Traceback == "" {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LString(e.Traceback))
	return 1
}

func errorMessage(L *lua.LState) int {
	L.Push(lua.LString(checkError(L).Message()))
	return 1
}

func errorToString(L *lua.LState) int {
	L.Push(lua.LString(checkError(L).Error()))
	return 1
}

func errorEq(L *lua.LState) int {
	a, aok := L.CheckUserData(1).Value.(*errors.Error)
	b, bok := L.CheckUserData(2).Value.(*errors.Error)
	L.Push(lua.LBool(aok && bok && a.Kind == b.Kind))
	return 1
}

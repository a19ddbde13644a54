// Package luaengine runs states on github.com/yuin/gopher-lua.
//
// Every instance owns one *lua.LState. The setup routine is Lua source or a
// compiled function without upvalues; its first result becomes the entry
// point. Interrupts cancel the LState context, which the VM checks before
// every instruction.
package luaengine

import (
	"context"
	"fmt"
	"strings"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/wippyai/mtstate/engine"
	"github.com/wippyai/mtstate/errors"
)

// Config holds configuration for engine creation
type Config struct {
	// CallStackSize is the Lua call stack size. 0 uses the gopher-lua default.
	CallStackSize int
	// RegistrySize is the Lua data stack size. 0 uses the gopher-lua default.
	RegistrySize int
	// IncludeGoStackTrace adds Go stacks to tracebacks of Go panics.
	IncludeGoStackTrace bool
}

// Library opens a module for the state described by env. It follows the
// lua.LGFunction loader convention and returns the number of pushed values.
type Library func(L *lua.LState, env engine.Env) int

type namedLibrary struct {
	name string
	open Library
}

// Engine creates Lua instances.
type Engine struct {
	cfg  Config
	mu   sync.RWMutex
	libs []namedLibrary
}

// Setup describes how to initialize a Lua state. Instance.Setup also
// accepts a plain string (source) or a *lua.FunctionProto, both with
// standard libraries opened.
type Setup struct {
	// Code is Lua source returning the entry point.
	Code string
	// Func is a compiled function returning the entry point. It must not
	// use upvalues.
	Func *lua.FunctionProto
	// ChunkName names the chunk in tracebacks.
	ChunkName string
	// OpenLibs opens all standard libraries. Otherwise only base and
	// package are opened and the others can be loaded with require.
	OpenLibs bool
}

// New creates an engine. cfg may be nil.
func New(cfg *Config) *Engine {
	e := &Engine{}
	if cfg != nil {
		e.cfg = *cfg
	}
	return e
}

// Name implements engine.Engine.
func (e *Engine) Name() string { return "lua" }

// AddLibrary makes a module available through require in every instance
// created afterwards.
func (e *Engine) AddLibrary(name string, open Library) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.libs {
		if e.libs[i].name == name {
			e.libs[i].open = open
			return
		}
	}
	e.libs = append(e.libs, namedLibrary{name: name, open: open})
}

// NewInstance implements engine.Engine. The LState is created by Setup.
func (e *Engine) NewInstance(ctx context.Context, env engine.Env) (engine.Instance, error) {
	e.mu.RLock()
	libs := append([]namedLibrary(nil), e.libs...)
	e.mu.RUnlock()
	return &Instance{engine: e, env: env, libs: libs}, nil
}

// Instance is a Lua state with an entry point.
type Instance struct {
	engine *Engine
	env    engine.Env
	libs   []namedLibrary
	L      *lua.LState
	entry  *lua.LFunction
	intr   engine.Interrupter
}

// Compile parses Lua source into a function usable as Setup.Func.
func Compile(code, chunkName string) (*lua.FunctionProto, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()
	fn, err := L.Load(strings.NewReader(code), chunkName)
	if err != nil {
		return nil, err
	}
	return fn.Proto, nil
}

func toSetup(v any) (Setup, error) {
	switch s := v.(type) {
	case Setup:
		return s, nil
	case *Setup:
		return *s, nil
	case string:
		return Setup{Code: s, OpenLibs: true}, nil
	case *lua.FunctionProto:
		return Setup{Func: s, OpenLibs: true}, nil
	}
	return Setup{}, errors.InvalidInput(errors.PhaseSetup, fmt.Sprintf("lua setup expects code or function, got %T", v))
}

func (in *Instance) newLState(openLibs bool) *lua.LState {
	cfg := in.engine.cfg
	L := lua.NewState(lua.Options{
		CallStackSize:       cfg.CallStackSize,
		RegistrySize:        cfg.RegistrySize,
		SkipOpenLibs:        true,
		IncludeGoStackTrace: cfg.IncludeGoStackTrace,
	})
	if openLibs {
		L.OpenLibs()
	} else {
		for _, lib := range []struct {
			name string
			open lua.LGFunction
		}{{lua.LoadLibName, lua.OpenPackage}, {lua.BaseLibName, lua.OpenBase}} {
			L.Push(L.NewFunction(lib.open))
			L.Push(lua.LString(lib.name))
			L.Call(1, 0)
		}
		L.PreloadModule(lua.TabLibName, lua.OpenTable)
		L.PreloadModule(lua.IoLibName, lua.OpenIo)
		L.PreloadModule(lua.OsLibName, lua.OpenOs)
		L.PreloadModule(lua.StringLibName, lua.OpenString)
		L.PreloadModule(lua.MathLibName, lua.OpenMath)
		L.PreloadModule(lua.DebugLibName, lua.OpenDebug)
		L.PreloadModule(lua.ChannelLibName, lua.OpenChannel)
		L.PreloadModule(lua.CoroutineLibName, lua.OpenCoroutine)
	}
	registerTypes(L)
	env := in.env
	for _, lib := range in.libs {
		open := lib.open
		L.PreloadModule(lib.name, func(L *lua.LState) int {
			return open(L, env)
		})
	}
	return L
}

// Setup implements engine.Instance.
func (in *Instance) Setup(ctx context.Context, setup any, args []engine.Value) ([]engine.Value, error) {
	s, err := toSetup(setup)
	if err != nil {
		return nil, err
	}
	if s.Func == nil && s.Code == "" {
		return nil, errors.InvalidInput(errors.PhaseSetup, "lua setup has neither code nor function")
	}
	if s.Func != nil && s.Func.NumUpvalues > 0 {
		name := "?"
		if len(s.Func.DbgUpvalues) > 0 {
			name = s.Func.DbgUpvalues[0]
		}
		return nil, errors.BadArgument(errors.PhaseSetup, 0, fmt.Sprintf("state function uses upvalue '%s'", name))
	}

	L := in.newLState(s.OpenLibs)
	var fn *lua.LFunction
	if s.Func != nil {
		fn = L.NewFunctionFromProto(s.Func)
	} else {
		chunk := s.ChunkName
		if chunk == "" {
			chunk = "=" + in.chunkName()
		}
		fn, err = L.Load(strings.NewReader(s.Code), chunk)
		if err != nil {
			L.Close()
			return nil, errors.InvokingState(errors.PhaseSetup, "", loadMessage(err), "", err)
		}
	}

	in.L = L
	results, err := in.pcall(ctx, errors.PhaseSetup, fn, args, lua.MultRet)
	if err != nil {
		in.L = nil
		L.Close()
		return nil, err
	}

	if len(results) == 0 {
		L.Close()
		in.L = nil
		return nil, errors.StateResult(errors.PhaseSetup, "", "state setup function returned nothing but a function is required as first result parameter")
	}
	entry, ok := results[0].(*lua.LFunction)
	if !ok {
		L.Close()
		in.L = nil
		return nil, errors.StateResult(errors.PhaseSetup, "", fmt.Sprintf("state setup function returned %s but a function is required as first result parameter", results[0].Type()))
	}
	out, err := fromLuaResults(results[1:], 2, "state setup function")
	if err != nil {
		L.Close()
		in.L = nil
		return nil, err
	}
	in.entry = entry
	engine.Logger().Debug("lua state initialized", zap.Uint64("id", in.env.ID), zap.String("name", in.env.Name))
	return out, nil
}

func (in *Instance) chunkName() string {
	if in.env.Name != "" {
		return in.env.Name
	}
	return fmt.Sprintf("state %d", in.env.ID)
}

// Call implements engine.Instance.
func (in *Instance) Call(ctx context.Context, args []engine.Value) ([]engine.Value, error) {
	if in.entry == nil {
		return nil, errors.ObjectClosed(errors.PhaseCall, "")
	}
	results, err := in.pcall(ctx, errors.PhaseCall, in.entry, args, lua.MultRet)
	if err != nil {
		return nil, err
	}
	return fromLuaResults(results, 1, "state callback function")
}

// CallStream implements engine.Instance.
func (in *Instance) CallStream(ctx context.Context, stream engine.ArgStream) error {
	if in.entry == nil {
		return errors.ObjectClosed(errors.PhaseDeliver, "")
	}
	args := make([]engine.Value, 0, stream.Len())
	for stream.Len() > 0 {
		v, err := stream.Next()
		if err != nil {
			return errors.Wrap(errors.PhaseDecode, errors.KindInvalidInput, err, fmt.Sprintf("decoding argument #%d", len(args)+1))
		}
		args = append(args, v)
	}
	_, err := in.pcall(ctx, errors.PhaseDeliver, in.entry, args, 0)
	return err
}

// pcall runs fn with args under the interrupt hook and returns its results.
func (in *Instance) pcall(ctx context.Context, phase errors.Phase, fn *lua.LFunction, args []engine.Value, nret int) ([]lua.LValue, error) {
	L := in.L
	base := L.GetTop()
	L.Push(fn)
	for i, a := range args {
		lv, err := toLua(L, a)
		if err != nil {
			L.SetTop(base)
			return nil, errors.BadArgument(phase, i+1, err.Error())
		}
		L.Push(lv)
	}

	callCtx, outermost, end := in.intr.Begin(ctx)
	if outermost {
		L.SetContext(callCtx)
	}
	err := L.PCall(len(args), nret, nil)
	if err != nil {
		mapped := in.callError(callCtx, phase, err)
		if outermost {
			L.RemoveContext()
		}
		end()
		L.SetTop(base)
		return nil, mapped
	}
	if outermost {
		L.RemoveContext()
	}
	end()

	top := L.GetTop()
	results := make([]lua.LValue, 0, top-base)
	for i := base + 1; i <= top; i++ {
		results = append(results, L.Get(i))
	}
	L.SetTop(base)
	return results, nil
}

func (in *Instance) callError(callCtx context.Context, phase errors.Phase, err error) error {
	if e, ok := engine.Interrupted(callCtx); ok {
		e.Phase = phase
		return e
	}
	apiErr, ok := err.(*lua.ApiError)
	if !ok {
		return errors.InvokingState(phase, "", err.Error(), "", err)
	}
	if raised, ok := raisedError(apiErr.Object); ok {
		return engine.RaisedError(phase, raised, apiErr.StackTrace)
	}
	return errors.InvokingState(phase, "", apiErr.Object.String(), apiErr.StackTrace, nil)
}

// SetInterrupt implements engine.Instance.
func (in *Instance) SetInterrupt(mode engine.InterruptMode) {
	in.intr.Set(mode)
}

// Close implements engine.Instance.
func (in *Instance) Close(ctx context.Context) error {
	if in.L != nil {
		in.L.Close()
		in.L = nil
	}
	in.entry = nil
	return nil
}

// State returns the underlying LState, nil before Setup or after Close.
func (in *Instance) State() *lua.LState {
	return in.L
}

func loadMessage(err error) string {
	if apiErr, ok := err.(*lua.ApiError); ok {
		return apiErr.Object.String()
	}
	return err.Error()
}

// Package wasmengine runs states on WebAssembly core modules using
// github.com/tetratelabs/wazero.
//
// A state is one module instance. The entry point is an exported function
// taking and returning scalar values; an optional WIT declaration refines
// the core signature (u8, bool, s16 and so on). Interrupts cancel the call
// context, which closes the instance; the module is instantiated again
// before the next call, so linear memory does not survive an interrupt.
package wasmengine

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/mtstate/engine"
	"github.com/wippyai/mtstate/errors"
)

// Config holds configuration for engine creation
type Config struct {
	// MemoryLimitPages sets the maximum memory per instance in pages (64KB each).
	// 0 means default (65536 pages = 4GB).
	MemoryLimitPages uint32
}

// Engine compiles and instantiates modules. Compiled modules are cached by
// content.
type Engine struct {
	runtime wazero.Runtime
	mu      sync.Mutex
	cache   map[[sha256.Size]byte]wazero.CompiledModule
}

// New creates an engine. cfg may be nil.
func New(ctx context.Context, cfg *Config) *Engine {
	runtimeCfg := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if cfg != nil && cfg.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}
	return &Engine{
		runtime: wazero.NewRuntimeWithConfig(ctx, runtimeCfg),
		cache:   make(map[[sha256.Size]byte]wazero.CompiledModule),
	}
}

// Name implements engine.Engine.
func (e *Engine) Name() string { return "wasm" }

// Close releases the runtime. All instances must be closed before.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	e.cache = nil
	e.mu.Unlock()
	return e.runtime.Close(ctx)
}

func (e *Engine) compile(ctx context.Context, wasm []byte) (wazero.CompiledModule, error) {
	key := sha256.Sum256(wasm)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cache == nil {
		return nil, errors.ObjectClosed(errors.PhaseSetup, "wasm engine")
	}
	if c, ok := e.cache[key]; ok {
		return c, nil
	}
	c, err := e.runtime.CompileModule(ctx, wasm)
	if err != nil {
		return nil, err
	}
	e.cache[key] = c
	return c, nil
}

// NewInstance implements engine.Engine. The module is instantiated by Setup.
func (e *Engine) NewInstance(ctx context.Context, env engine.Env) (engine.Instance, error) {
	return &Instance{engine: e, env: env}, nil
}

// Setup describes a wasm state.
type Setup struct {
	// Module is the binary core module.
	Module []byte
	// Entry names the exported function invoked by calls.
	Entry string
	// Init optionally names an exported function run once with the setup
	// arguments. Its results become the setup results.
	Init string
	// WIT optionally declares signatures, e.g. "add: func(a: s64, b: s64) -> s64;".
	WIT string
}

type export struct {
	name    string
	fn      api.Function
	params  []scalar
	results []scalar
}

// Instance is a module instance with an entry point.
type Instance struct {
	engine    *Engine
	env       engine.Env
	setup     Setup
	setupArgs []engine.Value
	compiled  wazero.CompiledModule
	sigs      map[string]*funcSignature
	mod       api.Module
	entry     *export
	intr      engine.Interrupter
}

func toSetup(v any) (Setup, error) {
	switch s := v.(type) {
	case Setup:
		return s, nil
	case *Setup:
		return *s, nil
	}
	return Setup{}, errors.InvalidInput(errors.PhaseSetup, fmt.Sprintf("wasm setup expects wasmengine.Setup, got %T", v))
}

// Setup implements engine.Instance.
func (in *Instance) Setup(ctx context.Context, setup any, args []engine.Value) ([]engine.Value, error) {
	s, err := toSetup(setup)
	if err != nil {
		return nil, err
	}
	if len(s.Module) == 0 || s.Entry == "" {
		return nil, errors.InvalidInput(errors.PhaseSetup, "wasm setup requires a module and an entry function")
	}
	if s.Init == "" && len(args) > 0 {
		return nil, errors.InvalidInput(errors.PhaseSetup, "setup arguments given but no init function named")
	}
	if s.WIT != "" {
		if in.sigs, err = parseWitFunctions(s.WIT); err != nil {
			return nil, err
		}
	}
	if in.compiled, err = in.engine.compile(ctx, s.Module); err != nil {
		if e, ok := errors.As(err); ok {
			return nil, e
		}
		return nil, errors.InvokingState(errors.PhaseSetup, "", "compile module: "+err.Error(), "", err)
	}
	in.setup = s
	in.setupArgs = args

	results, err := in.instantiate(ctx, true)
	if err != nil {
		in.release(ctx)
		return nil, err
	}
	engine.Logger().Debug("wasm state initialized",
		zap.Uint64("id", in.env.ID), zap.String("name", in.env.Name), zap.String("entry", s.Entry))
	return results, nil
}

// instantiate creates a fresh module instance, resolves the entry point
// and runs the init function. Setup results are only returned on first use.
func (in *Instance) instantiate(ctx context.Context, first bool) ([]engine.Value, error) {
	mod, err := in.engine.runtime.InstantiateModule(ctx, in.compiled, wazero.NewModuleConfig().WithName(""))
	if err != nil {
		return nil, errors.InvokingState(errors.PhaseSetup, "", "instantiate module: "+err.Error(), "", err)
	}
	in.mod = mod

	entry, err := in.resolve(in.setup.Entry)
	if err != nil {
		return nil, err
	}
	in.entry = entry

	if in.setup.Init == "" {
		return nil, nil
	}
	init, err := in.resolve(in.setup.Init)
	if err != nil {
		return nil, err
	}
	results, err := in.invoke(ctx, errors.PhaseSetup, init, in.setupArgs)
	if err != nil {
		return nil, err
	}
	if !first {
		return nil, nil
	}
	return results, nil
}

func (in *Instance) resolve(name string) (*export, error) {
	fn := in.mod.ExportedFunction(name)
	if fn == nil {
		return nil, errors.StateResult(errors.PhaseSetup, "", fmt.Sprintf("module does not export function '%s'", name))
	}
	def := fn.Definition()
	ex := &export{name: name, fn: fn}

	if sig, ok := in.sigs[name]; ok {
		if len(sig.params) != len(def.ParamTypes()) || len(sig.results) != len(def.ResultTypes()) {
			return nil, errors.StateResult(errors.PhaseSetup, "", fmt.Sprintf("WIT signature of '%s' does not match the module", name))
		}
		for i, t := range sig.params {
			sc := scalarOf(t)
			if sc.core != def.ParamTypes()[i] {
				return nil, errors.StateResult(errors.PhaseSetup, "", fmt.Sprintf("WIT parameter #%d of '%s' does not match the module", i+1, name))
			}
			ex.params = append(ex.params, sc)
		}
		for i, t := range sig.results {
			sc := scalarOf(t)
			if sc.core != def.ResultTypes()[i] {
				return nil, errors.StateResult(errors.PhaseSetup, "", fmt.Sprintf("WIT result #%d of '%s' does not match the module", i+1, name))
			}
			ex.results = append(ex.results, sc)
		}
		return ex, nil
	}

	for i, vt := range def.ParamTypes() {
		sc := scalarOfCore(vt)
		if !sc.valid() {
			return nil, errors.StateResult(errors.PhaseSetup, "", fmt.Sprintf("parameter #%d of '%s': type '%s' not supported", i+1, name, sc.name))
		}
		ex.params = append(ex.params, sc)
	}
	for i, vt := range def.ResultTypes() {
		sc := scalarOfCore(vt)
		if !sc.valid() {
			return nil, errors.StateResult(errors.PhaseSetup, "", fmt.Sprintf("result #%d of '%s': type '%s' not supported", i+1, name, sc.name))
		}
		ex.results = append(ex.results, sc)
	}
	return ex, nil
}

// Call implements engine.Instance.
func (in *Instance) Call(ctx context.Context, args []engine.Value) ([]engine.Value, error) {
	if in.entry == nil {
		return nil, errors.ObjectClosed(errors.PhaseCall, "")
	}
	if err := in.ensureOpen(ctx); err != nil {
		return nil, err
	}
	return in.invoke(ctx, errors.PhaseCall, in.entry, args)
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
	if err := in.ensureOpen(ctx); err != nil {
		return err
	}
	_, err := in.invoke(ctx, errors.PhaseDeliver, in.entry, args)
	return err
}

func (in *Instance) ensureOpen(ctx context.Context) error {
	if !in.mod.IsClosed() {
		return nil
	}
	engine.Logger().Debug("wasm state reinstantiated", zap.Uint64("id", in.env.ID))
	_, err := in.instantiate(ctx, false)
	return err
}

func (in *Instance) invoke(ctx context.Context, phase errors.Phase, ex *export, args []engine.Value) ([]engine.Value, error) {
	if len(args) != len(ex.params) {
		return nil, errors.InvalidInput(phase, fmt.Sprintf("function '%s' expects %d arguments, got %d", ex.name, len(ex.params), len(args)))
	}
	params := make([]uint64, len(args))
	for i, a := range args {
		raw, err := ex.params[i].encode(a)
		if err != nil {
			return nil, errors.BadArgument(phase, i+1, err.Error())
		}
		params[i] = raw
	}

	callCtx, _, end := in.intr.Begin(ctx)
	raw, err := ex.fn.Call(callCtx, params...)
	if err != nil {
		mapped := in.callError(callCtx, phase, err)
		end()
		return nil, mapped
	}
	end()

	out := make([]engine.Value, len(raw))
	for i, r := range raw {
		out[i] = ex.results[i].decode(r)
	}
	return out, nil
}

func (in *Instance) callError(callCtx context.Context, phase errors.Phase, err error) error {
	if e, ok := engine.Interrupted(callCtx); ok {
		e.Phase = phase
		return e
	}
	return errors.InvokingState(phase, "", err.Error(), "", err)
}

// SetInterrupt implements engine.Instance.
func (in *Instance) SetInterrupt(mode engine.InterruptMode) {
	in.intr.Set(mode)
}

// Close implements engine.Instance.
func (in *Instance) Close(ctx context.Context) error {
	return in.release(ctx)
}

func (in *Instance) release(ctx context.Context) error {
	in.entry = nil
	if in.mod == nil {
		return nil
	}
	mod := in.mod
	in.mod = nil
	return mod.Close(ctx)
}

// Memory returns the exported memory of the current instance, nil if the
// module has none or the instance is closed.
func (in *Instance) Memory() api.Memory {
	if in.mod == nil {
		return nil
	}
	return in.mod.Memory()
}

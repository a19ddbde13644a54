// Package mtstate lets goroutines share isolated script states.
//
// A state is one interpreter instance (a Lua state or a WebAssembly module
// instance) with a single entry function. States live in a registry that
// hands out reference-counted handles; any goroutine holding a handle may
// call the state, and calls are serialized per state. A goroutine already
// inside a call may call the same state again.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct responsibilities:
//
//	mtstate/
//	├── states/          Registry, handles, call serialization and message delivery
//	├── engine/          Engine and Instance interfaces, values, interrupts
//	│   ├── luaengine/   Lua states on gopher-lua
//	│   └── wasmengine/  Core WebAssembly states on wazero
//	├── lualib/          The "mtstates" module exposed to Lua scripts
//	├── writer/          Argument encoding for messages
//	├── buffer/          Growable byte buffer used by writers
//	├── carray/          Typed scalar arrays carried in messages
//	├── capi/            Versioned capability tables shared between libraries
//	├── resource/        Id slab and lifecycle observers
//	├── errors/          Structured error types with kinds and phases
//	├── platform/        Clock and limits
//	├── config/          TOML state definitions for the run command
//	└── cmd/run/         Command line and interactive runner
//
// # Quick Start
//
// Create a state and call it:
//
//	reg := states.New()
//	defer reg.Close(ctx)
//
//	h, _, err := reg.NewState(ctx, "adder", luaengine.New(nil),
//	    "return function(a, b) return a + b end")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer h.Release()
//
//	results, err := h.Call(ctx, 1, 2)
//
// # Handles
//
// An owning handle keeps its state open; the state closes when the last
// owning handle is released. Non-owning handles only keep the memory alive
// and fail with an object_closed error once the state is closed.
//
// # Errors
//
// Every failure is an *errors.Error carrying a Kind such as bad_argument,
// concurrent_access or interrupted, plus the phase and object involved.
// Lua scripts receive the same values as mtstates.error userdata.
package mtstate

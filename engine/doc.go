// Package engine defines the narrow interface between the state registry
// and the execution engines embedded in states.
//
// # Architecture
//
// The registry never touches engine internals. It reaches a backend only
// through two interfaces:
//
//	Engine   - creates instances, safe for concurrent use
//	Instance - one isolated execution unit holding an entry point
//
// Backends live in subpackages:
//
//	luaengine  - github.com/yuin/gopher-lua states
//	wasmengine - github.com/tetratelabs/wazero module instances
//
// # Instance Lifecycle
//
//  1. Engine.NewInstance() allocates an instance for a registered state
//  2. Instance.Setup() runs the setup routine and captures the entry point
//  3. Instance.Call() / CallStream() invoke the entry point, possibly nested
//     on the same goroutine
//  4. Instance.Close() destroys the instance
//
// # Values
//
// Values crossing a state boundary are limited to a fixed primitive set:
//
//	Go value        Lua value        wasm value
//	──────────────────────────────────────────────
//	nil             nil              -
//	bool            boolean          i32 0/1
//	int64           number           i32/i64
//	float64         number           f32/f64
//	string          string           -
//	*carray.Array   carray userdata  -
//	Opaque          userdata         -
//
// Normalize maps the wider set of Go numeric kinds onto this set.
//
// # Interrupts
//
// Interrupter arms a hook aborting the running call at the next engine
// checkpoint. Both backends observe it through context cancellation: Lua
// checks its context before every instruction, wazero at function calls and
// loop back-edges.
package engine

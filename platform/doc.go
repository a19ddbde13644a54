// Package platform provides the synchronization primitives the state
// registry is built on.
//
// # Backends
//
// Two primitives have interchangeable implementations selected at build time:
//
//	Cond      channel broadcast (default)     sync.Cond + timers (-tags mtstate_synccond)
//	ThreadID  github.com/petermattis/goid     runtime.Stack header (-tags mtstate_stackid)
//
// Both Cond backends support waits bounded by a deadline and by a
// context.Context. Waits may return early; callers re-check their predicate
// in a loop.
//
// Mutexes with try-lock and atomic counters come from sync and sync/atomic.
package platform

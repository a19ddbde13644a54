// Package states implements a registry of isolated script states that can
// be called from any goroutine.
//
// A state wraps one engine.Instance. Calls into a state are serialized by
// its busy gate: a goroutine calling a busy state waits, except the
// goroutine already running inside it, which re-enters. This makes a
// state's entry point safe to call back into its own state.
//
//	reg := states.New(states.WithLogger(log))
//	h, _, err := reg.NewState(ctx, "worker", luaengine.New(nil), `
//	    return function(a, b) return a + b end
//	`)
//	if err != nil {
//	    return err
//	}
//	defer h.Release()
//
//	results, err := h.Call(ctx, 1, 2)
//
// Other goroutines look the state up by name or id:
//
//	w, err := reg.FindByName(ctx, "worker", false)
//	ok, results, err := w.TCall(ctx, time.Second, 3, 4)
//
// # Lifetime
//
// Owning handles keep a state open; when the last one is released the
// engine instance is closed, after the running call if the state is busy.
// Non-owning handles keep only the record, so lookups by id and String
// keep working, while calls fail with an object_closed error.
//
// # Messages
//
// Deliver decodes a writer.Writer directly into a call of the entry point
// and reports a Status instead of an error. The ReceiverAPI and NotifyAPI
// capability tables published on each state expose delivery to code that
// only depends on the capi package.
package states

// Package resource provides handle storage and lifecycle notifications for
// registry entries.
//
// # Slab
//
// A Slab maps small integer handles to values and reuses freed slots:
//
//	var slab resource.Slab[*entry]
//
//	h := slab.Insert(e)
//	e, ok := slab.Get(h)
//	e, ok = slab.Remove(h)
//
// Handle 0 is never issued. A Slab is not safe for concurrent use; the
// owner serializes access, typically under its own lock.
//
// # Observers
//
// Observers receive lifecycle events of the entries an owner manages:
//
//	var obs resource.Observers
//	cancel := obs.Subscribe(resource.ObserverFunc(func(e resource.Event) {
//	    switch e.Type {
//	    case resource.EventCreated:
//	        log.Printf("state %d created", e.ID)
//	    case resource.EventFreed:
//	        log.Printf("state %d freed", e.ID)
//	    }
//	}))
//	defer cancel()
//
// Events are delivered synchronously. Observers must not call back into
// the owner that notifies them.
package resource

package resource

import "sync"

// Observers is a set of subscribed observers. The zero value is ready to use
// and safe for concurrent use.
type Observers struct {
	observers map[uint64]Observer
	order     []uint64
	next      uint64
	mu        sync.RWMutex
}

// Subscribe adds an observer and returns a function removing it.
func (o *Observers) Subscribe(obs Observer) (cancel func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.observers == nil {
		o.observers = make(map[uint64]Observer)
	}
	o.next++
	id := o.next
	o.observers[id] = obs
	o.order = append(o.order, id)

	var once sync.Once
	return func() {
		once.Do(func() { o.unsubscribe(id) })
	}
}

func (o *Observers) unsubscribe(id uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.observers, id)
	for i, v := range o.order {
		if v == id {
			o.order = append(o.order[:i], o.order[i+1:]...)
			return
		}
	}
}

// Len returns the number of subscribed observers.
func (o *Observers) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.order)
}

// Notify delivers e to every observer in subscription order.
func (o *Observers) Notify(e Event) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	for _, id := range o.order {
		o.observers[id].OnResourceEvent(e)
	}
}

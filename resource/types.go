package resource

// Handle is an opaque reference to a slot in a Slab.
// Handle 0 is reserved and always invalid.
type Handle uint32

// EventType identifies a lifecycle transition.
type EventType uint8

const (
	// EventCreated is sent when an entry is inserted, before it is usable.
	EventCreated EventType = iota
	// EventInitialized is sent once setup succeeded.
	EventInitialized
	// EventClosed is sent when an entry stops accepting calls.
	EventClosed
	// EventFreed is sent when an entry leaves its table.
	EventFreed
)

func (t EventType) String() string {
	switch t {
	case EventCreated:
		return "created"
	case EventInitialized:
		return "initialized"
	case EventClosed:
		return "closed"
	case EventFreed:
		return "freed"
	}
	return "unknown"
}

// Event represents a lifecycle event.
type Event struct {
	Value  any
	Name   string
	ID     uint64
	Handle Handle
	Type   EventType
}

// Observer receives notifications about lifecycle events.
type Observer interface {
	OnResourceEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) OnResourceEvent(e Event) { f(e) }

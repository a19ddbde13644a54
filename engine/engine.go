package engine

import (
	"context"
	"io"
)

// Value is a value crossing a state boundary. After Normalize it is one of
// nil, bool, int64, float64, string, *carray.Array or Opaque.
type Value = any

// Opaque carries a host value through a state unchanged. Scripts can store
// and return it but not inspect it.
type Opaque struct {
	V any
}

// InterruptMode controls the interrupt hook of an instance.
type InterruptMode int32

const (
	// InterruptOff removes a pending or persistent interrupt.
	InterruptOff InterruptMode = iota
	// InterruptOnce aborts the running call, or the next one if idle.
	InterruptOnce
	// InterruptAlways aborts every call until switched off.
	InterruptAlways
)

func (m InterruptMode) String() string {
	switch m {
	case InterruptOff:
		return "off"
	case InterruptOnce:
		return "once"
	case InterruptAlways:
		return "always"
	}
	return "unknown"
}

// Env identifies the state an instance belongs to.
type Env struct {
	ID   uint64
	Name string
}

// ArgStream yields call arguments one at a time. writer.Reader implements it.
type ArgStream interface {
	Len() int
	Next() (Value, error)
}

// Engine creates execution instances. Implementations must be safe for
// concurrent use.
type Engine interface {
	Name() string
	NewInstance(ctx context.Context, env Env) (Instance, error)
}

// Instance is one isolated execution unit. Only the goroutine holding the
// owning state's busy gate calls Setup, Call, CallStream and Close;
// SetInterrupt may be called from any goroutine.
//
// Errors returned are *errors.Error values without an object identity:
// KindBadArgument for unconvertible arguments, KindStateResult for results
// of the wrong shape, KindInterrupted for aborted calls and
// KindInvokingState for errors raised by the script.
type Instance interface {
	// Setup runs the engine specific setup routine with args, installs its
	// first result as the entry point and returns the remaining results.
	Setup(ctx context.Context, setup any, args []Value) ([]Value, error)
	// Call invokes the entry point.
	Call(ctx context.Context, args []Value) ([]Value, error)
	// CallStream invokes the entry point with arguments decoded from
	// stream, discarding results.
	CallStream(ctx context.Context, stream ArgStream) error
	SetInterrupt(mode InterruptMode)
	Close(ctx context.Context) error
}

// SliceStream adapts a slice to ArgStream.
type SliceStream struct {
	vals []Value
}

// NewSliceStream returns a stream over vals.
func NewSliceStream(vals []Value) *SliceStream {
	return &SliceStream{vals: vals}
}

func (s *SliceStream) Len() int { return len(s.vals) }

func (s *SliceStream) Next() (Value, error) {
	if len(s.vals) == 0 {
		return nil, io.EOF
	}
	v := s.vals[0]
	s.vals = s.vals[1:]
	return v, nil
}

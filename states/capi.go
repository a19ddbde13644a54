package states

import (
	"context"

	"github.com/wippyai/mtstate/capi"
	"github.com/wippyai/mtstate/carray"
	"github.com/wippyai/mtstate/writer"
)

// Keys under which the state capability tables are published.
const (
	ReceiverKey = "_capi_receiver"
	NotifyKey   = "_capi_notify"
)

// Versions of the tables implemented here.
var (
	ReceiverVersion = capi.Version{Major: 1, Minor: 0, Patch: 0}
	NotifyVersion   = capi.Version{Major: 1, Minor: 0, Patch: 0}
)

// ReceiverAPI lets code without a dependency on this package send
// serialized messages to states.
type ReceiverAPI struct {
	capi.Header

	// ToReceiver returns the state behind a *Handle or *State, or nil.
	ToReceiver func(v any) *State
	// Retain adds a reference to the state.
	Retain func(s *State)
	// Release drops a reference added by Retain.
	Release func(s *State)

	NewWriter   func(initialCapacity int, growFactor float64) (*writer.Writer, error)
	FreeWriter  func(w *writer.Writer)
	ClearWriter func(w *writer.Writer)

	AddBoolean func(w *writer.Writer, v bool) error
	AddInteger func(w *writer.Writer, v int64) error
	AddNumber  func(w *writer.Writer, v float64) error
	AddString  func(w *writer.Writer, v string) error
	AddBytes   func(w *writer.Writer, v []byte) error
	AddArray   func(w *writer.Writer, t carray.Type, count int) ([]byte, error)

	// MsgToReceiver delivers the message in w. See State.Deliver.
	MsgToReceiver func(ctx context.Context, s *State, w *writer.Writer, clear, nonblock bool, onError func(msg string)) Status
}

// NotifyAPI lets code trigger a state's entry point without arguments.
type NotifyAPI struct {
	capi.Header

	ToNotifier func(v any) *State
	Retain     func(s *State)
	Release    func(s *State)
	Notify     func(ctx context.Context, s *State, onError func(msg string)) Status
}

func toState(v any) *State {
	switch x := v.(type) {
	case *State:
		return x
	case *Handle:
		if x != nil && !x.released.Load() {
			return x.state
		}
	}
	return nil
}

func retainState(s *State)  { s.reg.retain(s) }
func releaseState(s *State) { s.reg.release(s, false) }

// Receiver is the receiver table published on every state.
var Receiver = &ReceiverAPI{
	Header:     capi.Header{Version: ReceiverVersion},
	ToReceiver: toState,
	Retain:     retainState,
	Release:    releaseState,
	NewWriter: func(initialCapacity int, growFactor float64) (*writer.Writer, error) {
		return writer.New(initialCapacity, growFactor)
	},
	FreeWriter:  func(w *writer.Writer) { w.Clear() },
	ClearWriter: func(w *writer.Writer) { w.Clear() },
	AddBoolean:  (*writer.Writer).AddBool,
	AddInteger:  (*writer.Writer).AddInt,
	AddNumber:   (*writer.Writer).AddNumber,
	AddString:   (*writer.Writer).AddString,
	AddBytes:    (*writer.Writer).AddBytes,
	AddArray:    (*writer.Writer).AddArray,
	MsgToReceiver: func(ctx context.Context, s *State, w *writer.Writer, clear, nonblock bool, onError func(string)) Status {
		return s.Deliver(ctx, w, DeliverOptions{OnError: onError, NonBlock: nonblock, Clear: clear})
	},
}

// Notifier is the notify table published on every state.
var Notifier = &NotifyAPI{
	Header:     capi.Header{Version: NotifyVersion},
	ToNotifier: toState,
	Retain:     retainState,
	Release:    releaseState,
	Notify: func(ctx context.Context, s *State, onError func(string)) Status {
		return s.Notify(ctx, onError)
	},
}

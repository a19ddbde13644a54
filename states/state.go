package states

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/mtstate/capi"
	"github.com/wippyai/mtstate/engine"
	"github.com/wippyai/mtstate/errors"
	"github.com/wippyai/mtstate/platform"
	"github.com/wippyai/mtstate/resource"
)

// State is one isolated execution unit: an engine instance with an entry
// point, reference counts and the busy gate serializing calls.
//
// A State stays in its registry while any handle references it and stays
// callable while any owning handle does.
type State struct {
	reg     *Registry
	name    string
	engine  string
	id      uint64
	initSeq uint64 // guarded by reg.mu
	slot    resource.Handle

	used        atomic.Int64
	owned       atomic.Int64
	initialized atomic.Bool
	closed      atomic.Bool
	abandoned   atomic.Bool

	mu   sync.Mutex
	cond *platform.Cond
	gate gate
	inst engine.Instance // nil once closed

	caps capi.Set
}

func newState(r *Registry, id uint64, name, engineName string, inst engine.Instance) *State {
	s := &State{
		reg:    r,
		id:     id,
		name:   name,
		engine: engineName,
		inst:   inst,
	}
	s.cond = platform.NewCond(&s.mu)
	s.caps.Attach(ReceiverKey, Receiver)
	s.caps.Attach(NotifyKey, Notifier)
	return s
}

// ID returns the process unique id.
func (s *State) ID() uint64 { return s.id }

// Name returns the name given at creation, possibly empty.
func (s *State) Name() string { return s.name }

// Engine returns the name of the engine running the state.
func (s *State) Engine() string { return s.engine }

// Initialized reports whether setup completed.
func (s *State) Initialized() bool { return s.initialized.Load() }

// Closed reports whether the engine instance is gone or about to go.
func (s *State) Closed() bool { return s.closed.Load() }

// Capabilities returns the capability tables published for the state.
func (s *State) Capabilities() *capi.Set { return &s.caps }

// object identifies the state in error messages.
func (s *State) object() string {
	if s.name != "" {
		return fmt.Sprintf("state name %q (id %d)", s.name, s.id)
	}
	return errors.StateID(s.id)
}

func (s *State) String() string {
	if s.name != "" {
		return fmt.Sprintf("mtstates.state(name=%q,id=%d)", s.name, s.id)
	}
	return fmt.Sprintf("mtstates.state(id=%d)", s.id)
}

// annotate attaches the state identity to errors from lower layers.
func (s *State) annotate(err error) error {
	if e, ok := errors.As(err); ok && e.Object == "" {
		return e.WithObject(s.object())
	}
	return err
}

// acquire enters the busy gate for the calling goroutine. With nonblock
// set it neither blocks on the state lock nor waits for a busy state. A
// zero deadline waits without bound. ok is false when the state stayed
// busy; that is not an error.
func (s *State) acquire(ctx context.Context, phase errors.Phase, nonblock bool, deadline time.Time) (inst engine.Instance, ok bool, err error) {
	tid := platform.ThreadID()
	if nonblock {
		if !s.mu.TryLock() {
			return nil, false, nil
		}
	} else {
		s.mu.Lock()
	}
	defer s.mu.Unlock()

	for {
		if s.inst == nil || s.closed.Load() {
			return nil, false, errors.ObjectClosed(phase, s.object())
		}
		if !s.gate.blocks(tid) {
			break
		}
		if nonblock {
			return nil, false, nil
		}
		switch werr := s.cond.WaitContext(ctx, deadline); {
		case werr == platform.ErrTimeout:
			return nil, false, nil
		case werr != nil:
			return nil, false, errors.Wrap(phase, errors.KindInterrupted, werr, "waiting for busy state")
		}
	}
	s.gate.enter(tid)
	return s.inst, true, nil
}

// leave exits the busy gate. The outermost call wakes waiters and performs
// a close deferred while the state was busy.
func (s *State) leave(ctx context.Context) {
	var pending engine.Instance
	s.mu.Lock()
	if s.gate.leave() {
		if s.owned.Load() == 0 && s.inst != nil {
			pending = s.inst
			s.inst = nil
			s.closed.Store(true)
		}
		s.cond.Broadcast()
	}
	s.mu.Unlock()
	if pending != nil {
		s.reg.log.Debug("deferred close", zap.Uint64("id", s.id), zap.String("name", s.name))
		s.reg.closeInstance(ctx, s, pending)
	}
}

// close destroys the engine instance. It fails while a call is running.
func (s *State) close(ctx context.Context) error {
	s.mu.Lock()
	if s.gate.busy {
		s.mu.Unlock()
		return errors.ConcurrentAccess(errors.PhaseClose, s.object())
	}
	inst := s.inst
	s.inst = nil
	s.closed.Store(true)
	s.mu.Unlock()
	if inst == nil {
		return nil
	}
	return s.reg.closeInstance(ctx, s, inst)
}

// setInterrupt forwards mode to the engine instance.
func (s *State) setInterrupt(mode engine.InterruptMode) error {
	s.mu.Lock()
	inst := s.inst
	s.mu.Unlock()
	if inst == nil {
		return errors.ObjectClosed(errors.PhaseInterrupt, s.object())
	}
	inst.SetInterrupt(mode)
	return nil
}

// waitSettled blocks until setup of s finished one way or the other.
// The caller holds s.mu.
func (s *State) waitSettled(ctx context.Context) error {
	for !s.initialized.Load() && !s.abandoned.Load() {
		if err := s.cond.WaitContext(ctx, time.Time{}); err != nil {
			return err
		}
	}
	return nil
}

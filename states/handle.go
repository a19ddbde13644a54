package states

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/mtstate/engine"
	"github.com/wippyai/mtstate/errors"
	"github.com/wippyai/mtstate/platform"
	"github.com/wippyai/mtstate/writer"
)

// Handle references a State. Owning handles keep the state open,
// non-owning handles only keep the record alive. Release is idempotent;
// a handle dropped without Release is released by the garbage collector.
type Handle struct {
	state    *State
	cleanup  runtime.Cleanup
	owner    bool
	released atomic.Bool
}

func newHandle(s *State, owner bool) *Handle {
	h := &Handle{state: s, owner: owner}
	h.cleanup = runtime.AddCleanup(h, func(s *State) {
		s.reg.log.Debug("handle collected", zap.Uint64("id", s.id), zap.Bool("owner", owner))
		s.reg.release(s, owner)
	}, s)
	return h
}

// State returns the referenced state.
func (h *Handle) State() *State { return h.state }

// ID returns the state id.
func (h *Handle) ID() uint64 { return h.state.id }

// Name returns the state name, possibly empty.
func (h *Handle) Name() string { return h.state.name }

// IsOwner reports whether h keeps the state open.
func (h *Handle) IsOwner() bool { return h.owner }

// Released reports whether Release was called.
func (h *Handle) Released() bool { return h.released.Load() }

func (h *Handle) String() string {
	s := h.state
	if s.name != "" {
		return fmt.Sprintf("mtstates.state: %p (name=%q,id=%d)", h, s.name, s.id)
	}
	return fmt.Sprintf("mtstates.state: %p (id=%d)", h, s.id)
}

// Release drops the reference held by h.
func (h *Handle) Release() {
	if h.released.Swap(true) {
		return
	}
	h.cleanup.Stop()
	h.state.reg.release(h.state, h.owner)
}

// Retain returns a new non-owning handle to the same state.
func (h *Handle) Retain() (*Handle, error) {
	if h.released.Load() {
		return nil, errors.ObjectClosed(errors.PhaseFind, "released handle")
	}
	h.state.reg.retain(h.state)
	return newHandle(h.state, false), nil
}

func (h *Handle) live(phase errors.Phase) (*State, error) {
	if h.released.Load() {
		return nil, errors.ObjectClosed(phase, "released handle")
	}
	return h.state, nil
}

// Call invokes the entry point and waits for the state as long as it is
// busy in another goroutine. A call from inside the running entry point
// on the same goroutine re-enters without waiting.
func (h *Handle) Call(ctx context.Context, args ...engine.Value) ([]engine.Value, error) {
	s, err := h.live(errors.PhaseCall)
	if err != nil {
		return nil, err
	}
	_, results, err := s.call(ctx, false, time.Time{}, args)
	return results, err
}

// TCall is Call bounded by timeout. A timeout <= 0 never blocks. If the
// state stays busy completed is false and err is nil.
func (h *Handle) TCall(ctx context.Context, timeout time.Duration, args ...engine.Value) (completed bool, results []engine.Value, err error) {
	s, err := h.live(errors.PhaseCall)
	if err != nil {
		return false, nil, err
	}
	return s.call(ctx, timeout <= 0, platform.Deadline(timeout), args)
}

// Close destroys the engine instance. The record lives on while handles
// reference it. Closing a state busy in a call fails.
func (h *Handle) Close(ctx context.Context) error {
	s, err := h.live(errors.PhaseClose)
	if err != nil {
		return err
	}
	return s.close(ctx)
}

// Interrupt arms a single shot interrupt, aborting the running call or
// the next one, or removes a pending interrupt.
func (h *Handle) Interrupt(enable bool) error {
	mode := engine.InterruptOff
	if enable {
		mode = engine.InterruptOnce
	}
	return h.SetInterruptMode(mode)
}

// SetInterruptMode sets the interrupt mode of the engine instance.
func (h *Handle) SetInterruptMode(mode engine.InterruptMode) error {
	s, err := h.live(errors.PhaseInterrupt)
	if err != nil {
		return err
	}
	return s.setInterrupt(mode)
}

// Deliver invokes the entry point with the arguments encoded in w.
func (h *Handle) Deliver(ctx context.Context, w *writer.Writer, opts DeliverOptions) Status {
	if h.released.Load() {
		return StatusClosed
	}
	return h.state.Deliver(ctx, w, opts)
}

package engine

import (
	"context"
	stderrors "errors"
	"sync"

	"github.com/wippyai/mtstate/errors"
)

// ErrInterruptRequested is the cancellation cause of a call context
// aborted through SetInterrupt.
var ErrInterruptRequested = stderrors.New("engine: interrupt requested")

// Interrupter implements the interrupt hook for backends whose execution
// can be aborted by cancelling a context. The outermost call on an
// instance runs under a cancelable context; SetInterrupt cancels it.
type Interrupter struct {
	mu     sync.Mutex
	mode   InterruptMode
	depth  int
	cancel context.CancelCauseFunc
	ctx    context.Context
}

// Set changes the interrupt mode. Once and Always abort the running call
// immediately; Once is consumed by doing so.
func (i *Interrupter) Set(mode InterruptMode) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.mode = mode
	if mode != InterruptOff && i.cancel != nil {
		debugf("interrupt: cancelling running call (mode %s)", mode)
		i.cancel(ErrInterruptRequested)
		if mode == InterruptOnce {
			i.mode = InterruptOff
		}
	}
}

// Mode returns the current mode.
func (i *Interrupter) Mode() InterruptMode {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.mode
}

// Begin enters a call. The outermost call gets a fresh cancelable context
// derived from parent, already cancelled if an interrupt is pending.
// Nested calls share the outermost context. outermost reports which case
// applies; end must be called when the call returns.
func (i *Interrupter) Begin(parent context.Context) (ctx context.Context, outermost bool, end func()) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.depth++
	if i.depth > 1 {
		return i.ctx, false, i.leave
	}
	ctx, cancel := context.WithCancelCause(parent)
	i.ctx, i.cancel = ctx, cancel
	if i.mode != InterruptOff {
		cancel(ErrInterruptRequested)
		if i.mode == InterruptOnce {
			i.mode = InterruptOff
		}
	}
	return ctx, true, i.leave
}

func (i *Interrupter) leave() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.depth--
	if i.depth == 0 {
		i.cancel(nil)
		i.ctx, i.cancel = nil, nil
	}
}

// Interrupted reports whether ctx was aborted by an interrupt or by its
// parent, and returns the matching error.
func Interrupted(ctx context.Context) (*errors.Error, bool) {
	if ctx == nil || ctx.Err() == nil {
		return nil, false
	}
	cause := context.Cause(ctx)
	if stderrors.Is(cause, ErrInterruptRequested) {
		return errors.Interrupted(errors.PhaseCall, "", nil), true
	}
	return errors.Interrupted(errors.PhaseCall, "", cause), true
}

// RaisedError maps an error value raised inside a script. Errors produced
// by nested state operations propagate as interrupted when they are, and
// are otherwise wrapped as invoking_state.
func RaisedError(phase errors.Phase, raised *errors.Error, traceback string) *errors.Error {
	if raised.Kind == errors.KindInterrupted {
		return errors.Interrupted(phase, "", raised)
	}
	return errors.InvokingState(phase, "", raised.Error(), traceback, raised)
}

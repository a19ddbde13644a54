package states

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/mtstate/engine"
	"github.com/wippyai/mtstate/errors"
	"github.com/wippyai/mtstate/writer"
)

// Status is the outcome of a delivery.
type Status int

const (
	// StatusDelivered means the entry point ran; the writer was cleared.
	StatusDelivered Status = 0
	// StatusClosed means the state is closed. The sender should release
	// its reference and stop retrying.
	StatusClosed Status = 1
	// StatusAborted means the delivery was cancelled or interrupted and
	// may succeed later.
	StatusAborted Status = 2
	// StatusWouldBlock means non-blocking delivery found the state busy.
	StatusWouldBlock Status = 3
	// StatusQueueLimit and StatusTooLarge are reserved for receivers that
	// buffer messages. States never report them.
	StatusQueueLimit Status = 4
	StatusTooLarge   Status = 5
	// StatusOutOfMemory means a buffer or engine allocation failed.
	StatusOutOfMemory Status = 6
	// StatusFailed means the entry point raised an error, which was passed
	// to the error callback.
	StatusFailed Status = 990
	// StatusStackExhausted means the message has more arguments than the
	// engine accepts in one call.
	StatusStackExhausted Status = 999
)

func (s Status) String() string {
	switch s {
	case StatusDelivered:
		return "delivered"
	case StatusClosed:
		return "closed"
	case StatusAborted:
		return "aborted"
	case StatusWouldBlock:
		return "would block"
	case StatusQueueLimit:
		return "queue limit"
	case StatusTooLarge:
		return "too large"
	case StatusOutOfMemory:
		return "out of memory"
	case StatusFailed:
		return "failed"
	case StatusStackExhausted:
		return "stack exhausted"
	}
	return "unknown"
}

// MaxDeliverArgs bounds the number of arguments of one message.
const MaxDeliverArgs = 4096

// DeliverOptions controls a delivery.
type DeliverOptions struct {
	// OnError receives the message of an error raised by the entry point.
	OnError func(msg string)
	// NonBlock returns StatusWouldBlock instead of waiting for a busy state.
	NonBlock bool
	// Clear is accepted for compatibility; the writer is always cleared
	// after a successful delivery.
	Clear bool
}

// Deliver invokes the entry point with the arguments encoded in w, or
// with no arguments when w is nil. Results are discarded. Failures are
// reported through the status and opts.OnError, never as errors.
func (s *State) Deliver(ctx context.Context, w *writer.Writer, opts DeliverOptions) Status {
	var stream engine.ArgStream = engine.NewSliceStream(nil)
	if w != nil {
		if w.NumArgs() > MaxDeliverArgs {
			return StatusStackExhausted
		}
		stream = w.Reader()
	}

	inst, ok, err := s.acquire(ctx, errors.PhaseDeliver, opts.NonBlock, time.Time{})
	switch {
	case err != nil:
		if errors.KindOf(err) == errors.KindObjectClosed {
			return StatusClosed
		}
		return StatusAborted
	case !ok:
		return StatusWouldBlock
	}

	err = inst.CallStream(ctx, stream)
	s.leave(ctx)
	if err != nil {
		err = s.annotate(err)
		s.reg.log.Debug("delivery failed", zap.Uint64("id", s.id), zap.Error(err))
		if opts.OnError != nil {
			opts.OnError(errorMessage(err))
		}
		switch errors.KindOf(err) {
		case errors.KindInterrupted:
			return StatusAborted
		case errors.KindOutOfMemory:
			return StatusOutOfMemory
		case errors.KindObjectClosed:
			return StatusClosed
		}
		return StatusFailed
	}
	if w != nil {
		w.Clear()
	}
	return StatusDelivered
}

// Notify delivers a message without arguments.
func (s *State) Notify(ctx context.Context, onError func(msg string)) Status {
	return s.Deliver(ctx, nil, DeliverOptions{OnError: onError})
}

func errorMessage(err error) string {
	if e, ok := errors.As(err); ok {
		return e.Message()
	}
	return err.Error()
}

package states

import (
	"context"
	"time"

	"github.com/wippyai/mtstate/engine"
	"github.com/wippyai/mtstate/errors"
)

// call runs the entry point under the busy gate. completed is false when
// the state stayed busy until the deadline.
func (s *State) call(ctx context.Context, nonblock bool, deadline time.Time, args []engine.Value) (bool, []engine.Value, error) {
	norm, err := engine.NormalizeArgs(errors.PhaseCall, args)
	if err != nil {
		return false, nil, s.annotate(err)
	}
	inst, ok, err := s.acquire(ctx, errors.PhaseCall, nonblock, deadline)
	if err != nil {
		return false, nil, s.annotate(err)
	}
	if !ok {
		return false, nil, nil
	}
	results, err := inst.Call(ctx, norm)
	s.leave(ctx)
	if err != nil {
		return false, nil, s.annotate(err)
	}
	return true, results, nil
}

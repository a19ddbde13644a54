package states

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/wippyai/mtstate/engine"
	"github.com/wippyai/mtstate/errors"
)

// entryFunc is the entry point of a fake state.
type entryFunc func(ctx context.Context, args []engine.Value) ([]engine.Value, error)

// fakeSetup configures a fake state. Setup blocks on wait when set and
// fails with err when set.
type fakeSetup struct {
	entry   entryFunc
	results []engine.Value
	err     error
	during  func() error
	wait    chan struct{}
	started chan struct{}
}

type fakeEngine struct {
	setups atomic.Int32
	closes atomic.Int32
}

func (e *fakeEngine) Name() string { return "fake" }

func (e *fakeEngine) NewInstance(ctx context.Context, env engine.Env) (engine.Instance, error) {
	return &fakeInstance{engine: e, env: env}, nil
}

type fakeInstance struct {
	engine *fakeEngine
	env    engine.Env
	entry  entryFunc
	intr   engine.Interrupter
	mu     sync.Mutex
	closed bool
}

func (in *fakeInstance) Setup(ctx context.Context, setup any, args []engine.Value) ([]engine.Value, error) {
	in.engine.setups.Add(1)
	s, ok := setup.(fakeSetup)
	if !ok {
		return nil, errors.InvalidInput(errors.PhaseSetup, "fake setup expected")
	}
	if s.started != nil {
		close(s.started)
	}
	if s.wait != nil {
		<-s.wait
	}
	if s.during != nil {
		if err := s.during(); err != nil {
			return nil, err
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	in.entry = s.entry
	return append(s.results, args...), nil
}

func (in *fakeInstance) Call(ctx context.Context, args []engine.Value) ([]engine.Value, error) {
	callCtx, _, end := in.intr.Begin(ctx)
	defer end()
	if e, ok := engine.Interrupted(callCtx); ok {
		return nil, e
	}
	if in.entry == nil {
		return args, nil
	}
	return in.entry(callCtx, args)
}

func (in *fakeInstance) CallStream(ctx context.Context, stream engine.ArgStream) error {
	var args []engine.Value
	for stream.Len() > 0 {
		v, err := stream.Next()
		if err != nil {
			return errors.Wrap(errors.PhaseDecode, errors.KindInvalidInput, err, "decoding argument")
		}
		args = append(args, v)
	}
	_, err := in.Call(ctx, args)
	return err
}

func (in *fakeInstance) SetInterrupt(mode engine.InterruptMode) { in.intr.Set(mode) }

func (in *fakeInstance) Close(ctx context.Context) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if !in.closed {
		in.closed = true
		in.engine.closes.Add(1)
	}
	return nil
}

func newRegistry(t *testing.T, opts ...Option) (*Registry, *fakeEngine) {
	t.Helper()
	r := New(opts...)
	t.Cleanup(func() { _ = r.Close(context.Background()) })
	return r, &fakeEngine{}
}

func newFake(t *testing.T, r *Registry, eng *fakeEngine, name string, entry entryFunc) *Handle {
	t.Helper()
	h, _, err := r.NewState(context.Background(), name, eng, fakeSetup{entry: entry})
	if err != nil {
		t.Fatalf("NewState(%q): %v", name, err)
	}
	t.Cleanup(h.Release)
	return h
}

func wantKind(t *testing.T, err error, kind errors.Kind) {
	t.Helper()
	if got := errors.KindOf(err); got != kind {
		t.Fatalf("err = %v, want kind %s", err, kind)
	}
}

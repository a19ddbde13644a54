package states

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wippyai/mtstate/engine"
	"github.com/wippyai/mtstate/errors"
	"github.com/wippyai/mtstate/resource"
)

func TestNewStateIDs(t *testing.T) {
	r, eng := newRegistry(t, WithIDSeed(1000))
	if r.GenerationID() != 1000 {
		t.Fatalf("GenerationID = %d", r.GenerationID())
	}
	seen := make(map[uint64]bool)
	for i := 0; i < 10; i++ {
		h := newFake(t, r, eng, "", nil)
		if h.ID() <= 1000 || seen[h.ID()] {
			t.Fatalf("id %d reused or below seed", h.ID())
		}
		seen[h.ID()] = true
		if !h.IsOwner() || h.Name() != "" {
			t.Errorf("handle = %v", h)
		}
	}
	if r.Len() != 10 {
		t.Errorf("Len = %d", r.Len())
	}

	if New().GenerationID() == New().GenerationID() {
		t.Error("registries share a generation id")
	}
}

func TestNewStateResults(t *testing.T) {
	r, eng := newRegistry(t)
	h, results, err := r.NewState(context.Background(), "w", eng, fakeSetup{results: []engine.Value{"ready"}}, 1, uint8(2))
	if err != nil {
		t.Fatalf("NewState: %v", err)
	}
	defer h.Release()
	if len(results) != 3 || results[0] != "ready" || results[1] != int64(1) || results[2] != int64(2) {
		t.Errorf("results = %#v", results)
	}
	if !h.State().Initialized() || h.State().Engine() != "fake" {
		t.Errorf("state = %v", h.State())
	}
}

func TestNewStateErrors(t *testing.T) {
	r, eng := newRegistry(t)
	ctx := context.Background()

	_, _, err := r.NewState(ctx, "", nil, nil)
	wantKind(t, err, errors.KindInvalidInput)

	_, _, err = r.NewState(ctx, "", eng, fakeSetup{}, []int{1})
	wantKind(t, err, errors.KindBadArgument)

	_, _, err = r.NewState(ctx, "broken", eng, fakeSetup{err: errors.InvokingState(errors.PhaseSetup, "", "boom", "", nil)})
	wantKind(t, err, errors.KindInvokingState)
	if e, _ := errors.As(err); e.Object == "" {
		t.Errorf("setup error lacks the state identity: %v", err)
	}
	if r.Len() != 0 {
		t.Errorf("abandoned state left in registry: %d", r.Len())
	}
	if eng.closes.Load() != 1 {
		t.Errorf("abandoned instance closed %d times", eng.closes.Load())
	}
}

func TestFind(t *testing.T) {
	r, eng := newRegistry(t)
	ctx := context.Background()
	h := newFake(t, r, eng, "worker", nil)

	tests := []struct {
		name string
		key  any
		kind errors.Kind
	}{
		{"by name", "worker", ""},
		{"by id", h.ID(), ""},
		{"by int id", int64(h.ID()), ""},
		{"by float id", float64(h.ID()), ""},
		{"unknown name", "nobody", errors.KindUnknownObject},
		{"unknown id", h.ID() + 1000, errors.KindUnknownObject},
		{"bad key", true, errors.KindInvalidInput},
		{"empty name", "", errors.KindInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			found, err := r.Find(ctx, tt.key, false)
			if tt.kind != "" {
				wantKind(t, err, tt.kind)
				return
			}
			if err != nil {
				t.Fatalf("Find: %v", err)
			}
			defer found.Release()
			if found.ID() != h.ID() || found.IsOwner() {
				t.Errorf("found %v", found)
			}
		})
	}
}

func TestRefCounting(t *testing.T) {
	r, eng := newRegistry(t)
	ctx := context.Background()
	h, _, err := r.NewState(ctx, "rc", eng, fakeSetup{})
	if err != nil {
		t.Fatal(err)
	}
	weak, err := r.FindByName(ctx, "rc", false)
	if err != nil {
		t.Fatal(err)
	}
	strong, err := r.FindByID(ctx, h.ID(), true)
	if err != nil {
		t.Fatal(err)
	}

	info := r.States()[0]
	if info.Used != 3 || info.Owned != 2 {
		t.Fatalf("info = %+v", info)
	}

	h.Release()
	h.Release()
	if _, err := weak.Call(ctx); err != nil {
		t.Fatalf("state closed while owned: %v", err)
	}

	strong.Release()
	if eng.closes.Load() != 1 {
		t.Fatalf("instance not closed after last owner: %d", eng.closes.Load())
	}
	_, err = weak.Call(ctx)
	wantKind(t, err, errors.KindObjectClosed)
	if _, err := r.FindByName(ctx, "rc", false); errors.KindOf(err) != errors.KindUnknownObject {
		t.Errorf("closed state still found by name: %v", err)
	}
	if r.Len() != 1 {
		t.Errorf("record dropped while referenced: %d", r.Len())
	}

	weak.Release()
	if r.Len() != 0 {
		t.Errorf("record kept after last reference: %d", r.Len())
	}
	if _, err := weak.Call(ctx); errors.KindOf(err) != errors.KindObjectClosed {
		t.Errorf("released handle: %v", err)
	}
}

func TestRetain(t *testing.T) {
	r, eng := newRegistry(t)
	h := newFake(t, r, eng, "", nil)
	weak, err := h.Retain()
	if err != nil {
		t.Fatal(err)
	}
	if weak.IsOwner() || weak.ID() != h.ID() {
		t.Errorf("retained %v", weak)
	}
	weak.Release()
	if r.States()[0].Used != 1 {
		t.Errorf("used = %d", r.States()[0].Used)
	}
	if _, err := weak.Retain(); errors.KindOf(err) != errors.KindObjectClosed {
		t.Errorf("retain of released handle: %v", err)
	}
}

func TestNameConflict(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
		kind errors.Kind
	}{
		{"default", nil, errors.KindAmbiguousName},
		{"first wins", []Option{WithNameConflict(NameConflictFirstWins)}, ""},
		{"ambiguous", []Option{WithNameConflict(NameConflictAmbiguous)}, errors.KindAmbiguousName},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, eng := newRegistry(t, tt.opts...)
			first := newFake(t, r, eng, "dup", nil)
			newFake(t, r, eng, "dup", nil)

			found, err := r.FindByName(context.Background(), "dup", false)
			if tt.kind != "" {
				wantKind(t, err, tt.kind)
				if _, _, err := r.Singleton(context.Background(), "dup", eng, fakeSetup{}); errors.KindOf(err) != tt.kind {
					t.Errorf("Singleton err = %v, want %s", err, tt.kind)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			defer found.Release()
			if found.ID() != first.ID() {
				t.Errorf("found %d, want first %d", found.ID(), first.ID())
			}
		})
	}
}

func TestSingletonConcurrent(t *testing.T) {
	r, eng := newRegistry(t)
	ctx := context.Background()
	release := make(chan struct{})

	const n = 16
	var created atomic.Int32
	handles := make([]*Handle, n)
	g, gctx := errgroup.WithContext(ctx)
	for i := range n {
		g.Go(func() error {
			h, results, err := r.Singleton(gctx, "single", eng, fakeSetup{wait: release, results: []engine.Value{"made"}})
			if err != nil {
				return err
			}
			if len(results) > 0 {
				created.Add(1)
			}
			handles[i] = h
			return nil
		})
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	if err := g.Wait(); err != nil {
		t.Fatalf("Singleton: %v", err)
	}

	if eng.setups.Load() != 1 || created.Load() != 1 {
		t.Errorf("setups = %d, creators = %d", eng.setups.Load(), created.Load())
	}
	for _, h := range handles {
		if h.ID() != handles[0].ID() || !h.IsOwner() {
			t.Errorf("handle %v", h)
		}
		h.Release()
	}
	if r.Len() != 0 {
		t.Errorf("Len = %d", r.Len())
	}
}

func TestSingletonSetupFailure(t *testing.T) {
	r, eng := newRegistry(t)
	ctx := context.Background()
	release := make(chan struct{})
	started := make(chan struct{})
	boom := errors.InvokingState(errors.PhaseSetup, "", "boom", "", nil)

	var wg sync.WaitGroup
	wg.Add(1)
	var creatorErr error
	go func() {
		defer wg.Done()
		_, _, creatorErr = r.Singleton(ctx, "flaky", eng, fakeSetup{wait: release, started: started, err: boom})
	}()
	<-started

	type result struct {
		h       *Handle
		results []engine.Value
		err     error
	}
	waiter := make(chan result, 1)
	go func() {
		h, results, err := r.Singleton(ctx, "flaky", eng, fakeSetup{results: []engine.Value{"second"}})
		waiter <- result{h, results, err}
	}()
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	wantKind(t, creatorErr, errors.KindInvokingState)
	res := <-waiter
	if res.err != nil {
		t.Fatalf("waiter: %v", res.err)
	}
	defer res.h.Release()
	if len(res.results) != 1 || res.results[0] != "second" {
		t.Errorf("waiter did not create the replacement: %#v", res.results)
	}
}

func TestLookupWaitCancelled(t *testing.T) {
	r, eng := newRegistry(t)
	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		h, _, err := r.NewState(context.Background(), "slow", eng, fakeSetup{wait: release, started: started})
		if err == nil {
			h.Release()
		}
	}()
	<-started

	if _, err := r.FindByName(context.Background(), "slow", false); errors.KindOf(err) != errors.KindUnknownObject {
		t.Errorf("non-owning lookup saw an uninitialized state: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := r.FindByName(ctx, "slow", true)
	wantKind(t, err, errors.KindInterrupted)
	if !stderrors.Is(err, context.DeadlineExceeded) {
		t.Errorf("cause lost: %v", err)
	}
	close(release)
	<-done
}

func TestSingletonFromSetup(t *testing.T) {
	r, eng := newRegistry(t)
	ctx := context.Background()
	var inner error
	setup := fakeSetup{during: func() error {
		_, _, inner = r.Singleton(ctx, "self", eng, fakeSetup{})
		return nil
	}}
	h, _, err := r.NewState(ctx, "self", eng, setup)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Release()
	wantKind(t, inner, errors.KindConcurrentAccess)
	if eng.setups.Load() != 1 {
		t.Errorf("setups = %d", eng.setups.Load())
	}
}

func TestObservers(t *testing.T) {
	r, eng := newRegistry(t)
	var mu sync.Mutex
	var events []resource.EventType
	cancel := r.Subscribe(resource.ObserverFunc(func(e resource.Event) {
		mu.Lock()
		events = append(events, e.Type)
		mu.Unlock()
	}))

	h, _, err := r.NewState(context.Background(), "obs", eng, fakeSetup{})
	if err != nil {
		t.Fatal(err)
	}
	h.Release()
	cancel()
	newFake(t, r, eng, "quiet", nil)

	want := []resource.EventType{resource.EventCreated, resource.EventInitialized, resource.EventClosed, resource.EventFreed}
	mu.Lock()
	defer mu.Unlock()
	if len(events) != len(want) {
		t.Fatalf("events = %v", events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, events[i], want[i])
		}
	}
}

func TestRegistryClose(t *testing.T) {
	r, eng := newRegistry(t)
	ctx := context.Background()
	h := newFake(t, r, eng, "a", nil)
	newFake(t, r, eng, "b", nil)

	if err := r.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if eng.closes.Load() != 2 {
		t.Errorf("closed %d instances", eng.closes.Load())
	}
	_, err := h.Call(ctx)
	wantKind(t, err, errors.KindObjectClosed)
	_, _, err = r.NewState(ctx, "", eng, fakeSetup{})
	wantKind(t, err, errors.KindObjectClosed)
	_, _, err = r.Singleton(ctx, "late", eng, fakeSetup{})
	wantKind(t, err, errors.KindObjectClosed)
	if _, err := r.FindByName(ctx, "late", false); errors.KindOf(err) != errors.KindUnknownObject {
		t.Errorf("find after close: %v", err)
	}
}

func TestStateString(t *testing.T) {
	r, eng := newRegistry(t, WithIDSeed(0))
	named := newFake(t, r, eng, "w", nil)
	anon := newFake(t, r, eng, "", nil)
	if got := named.State().String(); got != `mtstates.state(name="w",id=1)` {
		t.Errorf("named = %s", got)
	}
	if got := anon.State().String(); got != "mtstates.state(id=2)" {
		t.Errorf("anonymous = %s", got)
	}
}

package states

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/mtstate/engine"
	"github.com/wippyai/mtstate/errors"
	"github.com/wippyai/mtstate/platform"
	"github.com/wippyai/mtstate/resource"
)

// Registry owns all states created through it. The registry lock guards
// the arena and the bucket index only; it is never held while an engine
// runs. When both are needed the registry lock is taken before a state
// lock.
type Registry struct {
	log       *zap.Logger
	observers resource.Observers

	mu      sync.Mutex
	arena   resource.Slab[*State]
	index   buckets
	initSeq uint64
	closed  bool

	seed     uint64
	seeded   bool
	counter  atomic.Uint64
	conflict NameConflict
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{log: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	if !r.seeded {
		r.seed = generationSeed()
	}
	return r
}

// generationSeed derives a random seed that leaves room for 2^16 ids
// before exceeding the 2^53 range scripts represent exactly.
func generationSeed() uint64 {
	return uint64(uuid.New().ID()) << 16
}

// GenerationID returns the seed state ids of this registry derive from.
// It differs between registries and processes.
func (r *Registry) GenerationID() uint64 {
	return r.seed
}

func (r *Registry) nextID() uint64 {
	return r.seed + r.counter.Add(1)
}

// Subscribe registers o for lifecycle events and returns a function
// removing it.
func (r *Registry) Subscribe(o resource.Observer) (cancel func()) {
	return r.observers.Subscribe(o)
}

func (r *Registry) notify(t resource.EventType, s *State) {
	r.observers.Notify(resource.Event{
		Type:   t,
		ID:     s.id,
		Name:   s.name,
		Handle: s.slot,
		Value:  s,
	})
}

// Len returns the number of states in the registry, including states
// still initializing and closed states referenced by handles.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.arena.Len()
}

// NewState creates a state running on eng. setup is passed to the engine,
// args to its setup routine. The returned handle owns the state; the
// values are the setup results after the entry point.
//
// Names need not be unique; see NameConflict for how lookups resolve
// duplicates.
func (r *Registry) NewState(ctx context.Context, name string, eng engine.Engine, setup any, args ...engine.Value) (*Handle, []engine.Value, error) {
	norm, err := engine.NormalizeArgs(errors.PhaseCreate, args)
	if err != nil {
		return nil, nil, err
	}
	s, err := r.allocate(ctx, name, eng)
	if err != nil {
		return nil, nil, err
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = s.inst.Close(ctx)
		return nil, nil, errors.ObjectClosed(errors.PhaseCreate, "registry")
	}
	r.insertLocked(s)
	r.mu.Unlock()
	r.notify(resource.EventCreated, s)

	return r.initialize(ctx, s, setup, norm)
}

// allocate builds a state record and its engine instance. The record is
// not yet visible.
func (r *Registry) allocate(ctx context.Context, name string, eng engine.Engine) (*State, error) {
	if eng == nil {
		return nil, errors.InvalidInput(errors.PhaseCreate, "engine is nil")
	}
	id := r.nextID()
	inst, err := eng.NewInstance(ctx, engine.Env{ID: id, Name: name})
	if err != nil {
		return nil, errors.Wrap(errors.PhaseCreate, errors.KindInvokingState, err, "create engine instance")
	}
	s := newState(r, id, name, eng.Name(), inst)
	s.used.Store(1)
	s.owned.Store(1)
	s.gate.enter(platform.ThreadID())
	return s, nil
}

// insertLocked links s into the arena and the index. The caller holds r.mu.
func (r *Registry) insertLocked(s *State) {
	s.slot = r.arena.Insert(s)
	grow := r.index.needsGrow()
	r.index.insert(s.id, s.slot)
	if grow {
		r.log.Debug("bucket table resized", zap.Int("buckets", r.index.size()), zap.Int("states", r.index.count))
	}
	r.log.Debug("state created", zap.Uint64("id", s.id), zap.String("name", s.name), zap.String("engine", s.engine))
}

// initialize runs setup on a freshly inserted state whose gate is held by
// the calling goroutine.
func (r *Registry) initialize(ctx context.Context, s *State, setup any, args []engine.Value) (*Handle, []engine.Value, error) {
	results, err := s.inst.Setup(ctx, setup, args)
	if err != nil {
		r.abandon(ctx, s)
		return nil, nil, s.annotate(err)
	}

	r.mu.Lock()
	r.initSeq++
	s.initSeq = r.initSeq
	s.mu.Lock()
	s.initialized.Store(true)
	s.gate.leave()
	s.cond.Broadcast()
	s.mu.Unlock()
	r.mu.Unlock()

	r.log.Debug("state initialized", zap.Uint64("id", s.id), zap.String("name", s.name))
	r.notify(resource.EventInitialized, s)
	return newHandle(s, true), results, nil
}

// abandon gives up a state whose setup failed. Waiters for its name
// rescan; the creator reference is dropped so the record goes away.
func (r *Registry) abandon(ctx context.Context, s *State) {
	s.mu.Lock()
	s.abandoned.Store(true)
	s.closed.Store(true)
	inst := s.inst
	s.inst = nil
	s.gate.leave()
	s.cond.Broadcast()
	s.mu.Unlock()

	r.log.Warn("state setup failed", zap.Uint64("id", s.id), zap.String("name", s.name))
	if inst != nil {
		_ = r.closeInstance(ctx, s, inst)
	}
	r.release(s, true)
}

// closeInstance closes an instance detached from s.
func (r *Registry) closeInstance(ctx context.Context, s *State, inst engine.Instance) error {
	err := inst.Close(ctx)
	if err != nil {
		r.log.Warn("closing state failed", zap.Uint64("id", s.id), zap.Error(err))
	} else {
		r.log.Debug("state closed", zap.Uint64("id", s.id), zap.String("name", s.name))
	}
	r.notify(resource.EventClosed, s)
	return err
}

// retain adds a non-owning reference to s.
func (r *Registry) retain(s *State) {
	r.mu.Lock()
	s.used.Add(1)
	r.mu.Unlock()
}

// release drops one reference. The last owning reference closes the
// instance, immediately when idle or when the running call returns. The
// last reference unlinks the record.
func (r *Registry) release(s *State, owner bool) {
	var inst engine.Instance
	r.mu.Lock()
	if owner && s.owned.Add(-1) == 0 {
		s.mu.Lock()
		if !s.gate.busy && s.inst != nil {
			inst = s.inst
			s.inst = nil
		}
		s.closed.Store(true)
		s.mu.Unlock()
	}
	freed := false
	if s.used.Add(-1) == 0 {
		r.unlinkLocked(s)
		freed = true
	}
	r.mu.Unlock()

	if inst != nil {
		_ = r.closeInstance(context.Background(), s, inst)
	}
	if freed {
		r.log.Debug("state freed", zap.Uint64("id", s.id), zap.String("name", s.name))
		r.notify(resource.EventFreed, s)
	}
}

func (r *Registry) unlinkLocked(s *State) {
	if _, ok := r.arena.Remove(s.slot); !ok {
		return
	}
	before := r.index.size()
	r.index.remove(s.id, s.slot)
	if after := r.index.size(); after != before {
		r.log.Debug("bucket table resized", zap.Int("buckets", after), zap.Int("states", r.index.count))
	}
}

// Find looks a state up by name (string) or id (integer). With own set the
// returned handle owns the state and lookups wait for states that are
// still initializing.
func (r *Registry) Find(ctx context.Context, key any, own bool) (*Handle, error) {
	switch k := key.(type) {
	case string:
		return r.FindByName(ctx, k, own)
	case uint64:
		return r.FindByID(ctx, k, own)
	}
	if v, ok := engine.Normalize(key); ok {
		switch id := v.(type) {
		case int64:
			if id > 0 {
				return r.FindByID(ctx, uint64(id), own)
			}
		case float64:
			if id > 0 && id == math.Trunc(id) && id < 1<<63 {
				return r.FindByID(ctx, uint64(id), own)
			}
		}
	}
	return nil, errors.InvalidInput(errors.PhaseFind, fmt.Sprintf("state name or id expected, got %s", engine.TypeName(key)))
}

// FindByName looks a state up by name.
func (r *Registry) FindByName(ctx context.Context, name string, own bool) (*Handle, error) {
	if name == "" {
		return nil, errors.InvalidInput(errors.PhaseFind, "state name is empty")
	}
	s, err := r.lookup(ctx, name, 0, own, nil)
	if err != nil {
		return nil, err
	}
	return newHandle(s, own), nil
}

// FindByID looks a state up by id.
func (r *Registry) FindByID(ctx context.Context, id uint64, own bool) (*Handle, error) {
	s, err := r.lookup(ctx, "", id, own, nil)
	if err != nil {
		return nil, err
	}
	return newHandle(s, own), nil
}

// Singleton returns an owning handle to the state named name, creating it
// with eng and setup when no such state exists. Scan and insert happen
// under one lock hold, so concurrent callers run setup exactly once. The
// setup results are returned to the creating caller only.
func (r *Registry) Singleton(ctx context.Context, name string, eng engine.Engine, setup any, args ...engine.Value) (*Handle, []engine.Value, error) {
	if name == "" {
		return nil, nil, errors.InvalidInput(errors.PhaseFind, "singleton requires a name")
	}
	norm, err := engine.NormalizeArgs(errors.PhaseCreate, args)
	if err != nil {
		return nil, nil, err
	}
	var created *State
	create := func() (*State, error) {
		s, err := r.allocate(ctx, name, eng)
		if err != nil {
			return nil, err
		}
		created = s
		return s, nil
	}
	s, err := r.lookup(ctx, name, 0, true, create)
	if err != nil {
		return nil, nil, err
	}
	if s != created {
		return newHandle(s, true), nil, nil
	}
	r.notify(resource.EventCreated, s)
	return r.initialize(ctx, s, setup, norm)
}

// lookup scans the registry. A non-empty name selects by name, otherwise
// by id. With wait set, states still initializing are waited for; when
// nothing matches and create is given, its state is inserted before the
// registry lock is released. The returned state carries a new reference,
// owning when wait is set, except a created state which already carries
// its creator reference.
func (r *Registry) lookup(ctx context.Context, name string, id uint64, wait bool, create func() (*State, error)) (*State, error) {
	object := errors.StateID(id)
	if name != "" {
		object = errors.StateName(name)
	}
	var spare *State
	defer func() {
		if spare != nil {
			_ = spare.inst.Close(ctx)
		}
	}()

	for {
		r.mu.Lock()
		found, pending, ambiguous := r.scanLocked(name, id, wait)
		switch {
		case ambiguous:
			r.mu.Unlock()
			return nil, errors.AmbiguousName(errors.PhaseFind, object)
		case found != nil:
			found.used.Add(1)
			if wait {
				found.owned.Add(1)
			}
			r.mu.Unlock()
			return found, nil
		case pending != nil:
			if err := r.waitPending(ctx, pending); err != nil {
				if _, ok := errors.As(err); ok {
					return nil, err
				}
				return nil, errors.Wrap(errors.PhaseFind, errors.KindInterrupted, err, "waiting for initialization").WithObject(object)
			}
			continue
		case create != nil && r.closed:
			r.mu.Unlock()
			return nil, errors.ObjectClosed(errors.PhaseCreate, "registry")
		case create != nil:
			if spare == nil {
				// allocate outside the lock, then rescan
				r.mu.Unlock()
				s, err := create()
				if err != nil {
					return nil, err
				}
				spare = s
				continue
			}
			s := spare
			spare = nil
			r.insertLocked(s)
			r.mu.Unlock()
			return s, nil
		}
		r.mu.Unlock()
		return nil, errors.UnknownObject(errors.PhaseFind, object)
	}
}

// waitPending blocks on an initializing state until setup settles. It
// enters with r.mu held and returns with it released.
func (r *Registry) waitPending(ctx context.Context, s *State) error {
	s.used.Add(1)
	s.mu.Lock()
	r.mu.Unlock()
	if s.gate.heldBy(platform.ThreadID()) {
		s.mu.Unlock()
		r.release(s, false)
		return errors.ConcurrentAccess(errors.PhaseFind, s.object())
	}
	err := s.waitSettled(ctx)
	s.mu.Unlock()
	r.release(s, false)
	return err
}

// scanLocked finds the matching state. The caller holds r.mu.
func (r *Registry) scanLocked(name string, id uint64, wait bool) (found, pending *State, ambiguous bool) {
	consider := func(s *State) {
		if s.closed.Load() || s.abandoned.Load() {
			return
		}
		if !s.initialized.Load() {
			if wait && pending == nil {
				pending = s
			}
			return
		}
		switch {
		case found == nil:
			found = s
		case r.conflict == NameConflictAmbiguous:
			ambiguous = true
		case s.initSeq < found.initSeq:
			found = s
		}
	}

	if name == "" {
		for _, e := range r.index.lookup(id) {
			if e.id == id {
				if s, ok := r.arena.Get(e.slot); ok {
					consider(s)
				}
			}
		}
		return found, pending, ambiguous
	}
	r.index.each(func(e bucketEntry) {
		if s, ok := r.arena.Get(e.slot); ok && s.name == name {
			consider(s)
		}
	})
	if found != nil {
		pending = nil
	}
	return found, pending, ambiguous
}

// States returns a snapshot of all states in the registry.
func (r *Registry) States() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Info, 0, r.arena.Len())
	r.arena.Each(func(_ resource.Handle, s *State) bool {
		out = append(out, s.info())
		return true
	})
	return out
}

// Close closes every idle state and refuses new ones. States busy in a
// call are reported as concurrent_access errors and closed when their
// last owner releases them.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	var all []*State
	r.arena.Each(func(_ resource.Handle, s *State) bool {
		all = append(all, s)
		return true
	})
	r.mu.Unlock()

	var err error
	for _, s := range all {
		if s.closed.Load() || !s.initialized.Load() {
			continue
		}
		err = multierr.Append(err, s.close(ctx))
	}
	return err
}

// Info describes a state at one point in time.
type Info struct {
	Name        string
	Engine      string
	ID          uint64
	Used        int64
	Owned       int64
	Initialized bool
	Closed      bool
}

func (s *State) info() Info {
	return Info{
		ID:          s.id,
		Name:        s.name,
		Engine:      s.engine,
		Used:        s.used.Load(),
		Owned:       s.owned.Load(),
		Initialized: s.initialized.Load(),
		Closed:      s.closed.Load(),
	}
}

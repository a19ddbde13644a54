package states

import "go.uber.org/zap"

// NameConflict selects how lookups treat initialized states sharing a name.
type NameConflict int

const (
	// NameConflictAmbiguous keeps every initialized state findable; a name
	// lookup matching more than one fails with an ambiguous_name error.
	NameConflictAmbiguous NameConflict = iota
	// NameConflictFirstWins makes the first state to finish initialization
	// the owner of its name. Later states with the same name work normally
	// but are not found by name while the owner is open.
	NameConflictFirstWins
)

func (c NameConflict) String() string {
	switch c {
	case NameConflictAmbiguous:
		return "ambiguous"
	case NameConflictFirstWins:
		return "first-wins"
	}
	return "unknown"
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

// WithNameConflict sets the duplicate name policy.
func WithNameConflict(c NameConflict) Option {
	return func(r *Registry) {
		r.conflict = c
	}
}

// WithIDSeed fixes the generation id. State ids are derived from it.
func WithIDSeed(seed uint64) Option {
	return func(r *Registry) {
		r.seed = seed
		r.seeded = true
	}
}

package resource

// Slab is an in-memory handle table with slot reuse.
// The zero value is ready to use.
type Slab[T any] struct {
	entries  []slot[T]
	freeList []Handle
	live     int
}

type slot[T any] struct {
	value T
	valid bool
}

// Insert stores a value and returns its handle.
func (s *Slab[T]) Insert(value T) Handle {
	s.live++
	if n := len(s.freeList); n > 0 {
		handle := s.freeList[n-1]
		s.freeList = s.freeList[:n-1]
		s.entries[handle-1] = slot[T]{value: value, valid: true}
		return handle
	}
	if s.entries == nil {
		s.entries = make([]slot[T], 0, 64)
	}
	s.entries = append(s.entries, slot[T]{value: value, valid: true})
	return Handle(len(s.entries))
}

// Get retrieves a value by handle.
func (s *Slab[T]) Get(handle Handle) (T, bool) {
	var zero T
	if handle == 0 || int(handle) > len(s.entries) {
		return zero, false
	}
	e := s.entries[handle-1]
	if !e.valid {
		return zero, false
	}
	return e.value, true
}

// Remove drops a slot and returns (value, true) if it was valid.
func (s *Slab[T]) Remove(handle Handle) (T, bool) {
	var zero T
	if handle == 0 || int(handle) > len(s.entries) {
		return zero, false
	}
	e := &s.entries[handle-1]
	if !e.valid {
		return zero, false
	}
	value := e.value
	*e = slot[T]{}
	s.freeList = append(s.freeList, handle)
	s.live--
	if s.live == 0 {
		s.entries, s.freeList = nil, nil
	}
	return value, true
}

// Len returns the number of valid slots.
func (s *Slab[T]) Len() int {
	return s.live
}

// Each calls fn for every valid slot until fn returns false.
func (s *Slab[T]) Each(fn func(Handle, T) bool) {
	for i := range s.entries {
		if s.entries[i].valid {
			if !fn(Handle(i+1), s.entries[i].value) {
				return
			}
		}
	}
}

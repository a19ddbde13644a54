// Package buffer implements the growable byte buffer behind message writers.
package buffer

import "errors"

var (
	// ErrAlloc is returned when the initial capacity cannot be allocated.
	ErrAlloc = errors.New("buffer: initial allocation failed")
	// ErrNoGrow is returned by Reserve when the buffer was created with a
	// grow factor that does not permit growth.
	ErrNoGrow = errors.New("buffer: growth not permitted")
	// ErrGrow is returned by Reserve when growing would exceed the
	// capacity limit.
	ErrGrow = errors.New("buffer: cannot grow")
)

const (
	// DefaultCapacity is used when a non-positive initial capacity is given.
	DefaultCapacity = 1024
	// DefaultGrowFactor is the geometric growth factor used by NewDefault.
	DefaultGrowFactor = 2.0
	// MaxCapacity bounds the capacity of any buffer, limited or not.
	MaxCapacity = 1 << 40
)

// Buffer is an append-only byte buffer with geometric growth and an
// optional capacity limit. It is not safe for concurrent use.
type Buffer struct {
	data       []byte
	growFactor float64
	limit      int
}

// Option configures a Buffer.
type Option func(*Buffer)

// WithLimit caps the capacity the buffer may grow to. 0 means no limit.
func WithLimit(n int) Option {
	return func(b *Buffer) {
		b.limit = n
	}
}

// New allocates a buffer with the given initial capacity. A grow factor of
// 1 or less forbids growth beyond the initial capacity.
func New(initialCapacity int, growFactor float64, opts ...Option) (*Buffer, error) {
	if initialCapacity <= 0 {
		initialCapacity = DefaultCapacity
	}
	b := &Buffer{growFactor: growFactor}
	for _, opt := range opts {
		opt(b)
	}
	if initialCapacity > MaxCapacity || b.limit > 0 && initialCapacity > b.limit {
		return nil, ErrAlloc
	}
	b.data = make([]byte, 0, initialCapacity)
	return b, nil
}

// NewDefault allocates a buffer with default capacity and growth.
func NewDefault() *Buffer {
	b, _ := New(DefaultCapacity, DefaultGrowFactor)
	return b
}

// Reserve makes room for n more bytes.
func (b *Buffer) Reserve(n int) error {
	if n < 0 || n > MaxCapacity-len(b.data) {
		return ErrGrow
	}
	need := len(b.data) + n
	if need <= cap(b.data) {
		return nil
	}
	if b.growFactor <= 1 {
		return ErrNoGrow
	}

	newCap := cap(b.data)
	for newCap < need {
		next := float64(newCap) * b.growFactor
		if next >= MaxCapacity {
			newCap = MaxCapacity
			break
		}
		if int(next) <= newCap {
			newCap++
		} else {
			newCap = int(next)
		}
	}
	if b.limit > 0 && newCap > b.limit {
		if need > b.limit {
			return ErrGrow
		}
		newCap = b.limit
	}

	data := make([]byte, len(b.data), newCap)
	copy(data, b.data)
	b.data = data
	return nil
}

// Extend reserves n bytes and returns them for the caller to fill.
// The slice is valid until the next call that may grow the buffer.
func (b *Buffer) Extend(n int) ([]byte, error) {
	if err := b.Reserve(n); err != nil {
		return nil, err
	}
	start := len(b.data)
	b.data = b.data[:start+n]
	return b.data[start : start+n : start+n], nil
}

// Bytes returns the buffer contents.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Len returns the number of bytes written.
func (b *Buffer) Len() int {
	return len(b.data)
}

// Cap returns the current capacity.
func (b *Buffer) Cap() int {
	return cap(b.data)
}

// Reset empties the buffer, keeping its capacity.
func (b *Buffer) Reset() {
	b.data = b.data[:0]
}

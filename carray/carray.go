// Package carray implements typed numeric arrays that can be passed by
// reference between states and encoded into message writers.
package carray

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	mterrors "github.com/wippyai/mtstate/errors"
)

// Type is the element type of an array.
type Type uint8

const (
	Uint8   Type = 1
	Int8    Type = 2
	Int16   Type = 3
	Uint16  Type = 4
	Int32   Type = 5
	Uint32  Type = 6
	Int64   Type = 7
	Uint64  Type = 8
	Float32 Type = 9
	Float64 Type = 10
)

var typeNames = [...]string{
	Uint8:   "uint8",
	Int8:    "int8",
	Int16:   "int16",
	Uint16:  "uint16",
	Int32:   "int32",
	Uint32:  "uint32",
	Int64:   "int64",
	Uint64:  "uint64",
	Float32: "float32",
	Float64: "float64",
}

var typeSizes = [...]int{
	Uint8:   1,
	Int8:    1,
	Int16:   2,
	Uint16:  2,
	Int32:   4,
	Uint32:  4,
	Int64:   8,
	Uint64:  8,
	Float32: 4,
	Float64: 8,
}

// Valid reports whether t is a known element type.
func (t Type) Valid() bool {
	return t >= Uint8 && t <= Float64
}

// Size returns the element size in bytes, or 0 for an invalid type.
func (t Type) Size() int {
	if !t.Valid() {
		return 0
	}
	return typeSizes[t]
}

func (t Type) String() string {
	if !t.Valid() {
		return fmt.Sprintf("carray.Type(%d)", uint8(t))
	}
	return typeNames[t]
}

// IsFloat reports whether elements are floating point.
func (t Type) IsFloat() bool {
	return t == Float32 || t == Float64
}

// ParseType returns the type with the given name.
func ParseType(name string) (Type, bool) {
	for t := Uint8; t <= Float64; t++ {
		if typeNames[t] == name {
			return t, true
		}
	}
	return 0, false
}

// Attr holds array attributes.
type Attr uint8

const (
	Default  Attr = 0
	ReadOnly Attr = 1
)

var (
	ErrInvalidType = errors.New("carray: invalid element type")
	ErrReadOnly    = errors.New("carray: array is read-only")
	ErrRange       = errors.New("carray: index out of range")
	ErrReference   = errors.New("carray: cannot resize referenced data")
	ErrReleased    = errors.New("carray: array released")
	ErrTooLarge    = errors.New("carray: array too large")
)

// Info describes an array.
type Info struct {
	Type        Type
	Attr        Attr
	ElementSize int
	Count       int
	Capacity    int
}

// Array is a reference counted, typed numeric array stored in native byte
// order. Element access is guarded by an internal lock.
type Array struct {
	mu       sync.RWMutex
	typ      Type
	attr     Attr
	data     []byte
	count    int
	ref      bool
	released bool
	release  func(data []byte, count int)
	refs     atomic.Int32
}

// MaxBytes bounds the element storage of one array.
const MaxBytes = 1 << 40

// byteSize returns the storage size of count elements of type t. Counts
// beyond MaxBytes fail with an out_of_memory error wrapping ErrTooLarge.
func byteSize(t Type, count int) (int, error) {
	if count < 0 {
		return 0, ErrRange
	}
	if count > MaxBytes/t.Size() {
		return 0, mterrors.Wrap(mterrors.PhaseEncode, mterrors.KindOutOfMemory, ErrTooLarge,
			fmt.Sprintf("%d %s elements exceed %d bytes", count, t, MaxBytes))
	}
	return count * t.Size(), nil
}

// New creates an array of count zeroed elements owning its storage.
func New(t Type, attr Attr, count int) (*Array, error) {
	if !t.Valid() {
		return nil, ErrInvalidType
	}
	n, err := byteSize(t, count)
	if err != nil {
		return nil, err
	}
	a := &Array{
		typ:   t,
		attr:  attr,
		data:  make([]byte, n),
		count: count,
	}
	a.refs.Store(1)
	return a, nil
}

// NewRef creates an array over caller managed storage. release, if not nil,
// is called once when the last reference is released.
func NewRef(t Type, attr Attr, data []byte, count int, release func(data []byte, count int)) (*Array, error) {
	if !t.Valid() {
		return nil, ErrInvalidType
	}
	n, err := byteSize(t, count)
	if err != nil {
		return nil, err
	}
	if len(data) < n {
		return nil, ErrRange
	}
	a := &Array{
		typ:     t,
		attr:    attr,
		data:    data[:n],
		count:   count,
		ref:     true,
		release: release,
	}
	a.refs.Store(1)
	return a, nil
}

// Info returns the array's description.
func (a *Array) Info() Info {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return Info{
		Type:        a.typ,
		Attr:        a.attr,
		ElementSize: a.typ.Size(),
		Count:       a.count,
		Capacity:    cap(a.data) / a.typ.Size(),
	}
}

// Type returns the element type.
func (a *Array) Type() Type { return a.typ }

// Len returns the element count.
func (a *Array) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.count
}

// ReadOnly reports whether the array rejects writes.
func (a *Array) ReadOnly() bool { return a.attr&ReadOnly != 0 }

// Retain adds a reference.
func (a *Array) Retain() {
	a.refs.Add(1)
}

// Release drops a reference. The storage is released with the last one.
func (a *Array) Release() {
	if a.refs.Add(-1) != 0 {
		return
	}
	a.mu.Lock()
	data, count, release := a.data, a.count, a.release
	a.data, a.count, a.release = nil, 0, nil
	a.released = true
	a.mu.Unlock()
	if release != nil {
		release(data, count)
	}
}

// Elements returns the raw bytes of count elements starting at offset.
// The slice aliases the array storage.
func (a *Array) Elements(offset, count int) ([]byte, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.slice(offset, count)
}

// WritableElements is like Elements but fails for read-only arrays.
func (a *Array) WritableElements(offset, count int) ([]byte, error) {
	if a.ReadOnly() {
		return nil, ErrReadOnly
	}
	return a.Elements(offset, count)
}

func (a *Array) slice(offset, count int) ([]byte, error) {
	if a.released {
		return nil, ErrReleased
	}
	if offset < 0 || count < 0 || offset > a.count || count > a.count-offset {
		return nil, ErrRange
	}
	size := a.typ.Size()
	return a.data[offset*size : (offset+count)*size], nil
}

// Resize changes the element count. New elements are zeroed. With shrink
// the capacity is reduced to the new count. It returns the element storage.
func (a *Array) Resize(count int, shrink bool) ([]byte, error) {
	if a.ReadOnly() {
		return nil, ErrReadOnly
	}
	n, err := byteSize(a.typ, count)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ref {
		return nil, ErrReference
	}
	switch {
	case n <= cap(a.data) && !shrink:
		old := len(a.data)
		a.data = a.data[:n]
		if n > old {
			clear(a.data[old:])
		}
	default:
		data := make([]byte, n)
		copy(data, a.data)
		a.data = data
	}
	a.count = count
	return a.data, nil
}

// Copy returns a new array owning a copy of a's elements.
func (a *Array) Copy() (*Array, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	c, err := New(a.typ, a.attr, a.count)
	if err != nil {
		return nil, err
	}
	copy(c.data, a.data)
	return c, nil
}

// Value returns element i as int64 for integer types and float64 for
// floating point types. Uint64 values above MaxInt64 wrap.
func (a *Array) Value(i int) (any, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	b, err := a.slice(i, 1)
	if err != nil {
		return nil, err
	}
	return decode(a.typ, b), nil
}

// SetValue stores v into element i with the element type's conversion.
// v must be an int64 or float64.
func (a *Array) SetValue(i int, v any) error {
	if a.ReadOnly() {
		return ErrReadOnly
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	b, err := a.slice(i, 1)
	if err != nil {
		return err
	}
	switch x := v.(type) {
	case int64:
		encodeInt(a.typ, b, x)
	case float64:
		encodeFloat(a.typ, b, x)
	default:
		return fmt.Errorf("carray: cannot store %T", v)
	}
	return nil
}

// Values returns all elements, see Value.
func (a *Array) Values() []any {
	a.mu.RLock()
	defer a.mu.RUnlock()
	size := a.typ.Size()
	out := make([]any, a.count)
	for i := range out {
		out[i] = decode(a.typ, a.data[i*size:(i+1)*size])
	}
	return out
}

func (a *Array) String() string {
	return fmt.Sprintf("carray.%s[%d]", a.typ, a.Len())
}

func decode(t Type, b []byte) any {
	ne := binary.NativeEndian
	switch t {
	case Uint8:
		return int64(b[0])
	case Int8:
		return int64(int8(b[0]))
	case Int16:
		return int64(int16(ne.Uint16(b)))
	case Uint16:
		return int64(ne.Uint16(b))
	case Int32:
		return int64(int32(ne.Uint32(b)))
	case Uint32:
		return int64(ne.Uint32(b))
	case Int64, Uint64:
		return int64(ne.Uint64(b))
	case Float32:
		return float64(math.Float32frombits(ne.Uint32(b)))
	case Float64:
		return math.Float64frombits(ne.Uint64(b))
	}
	return nil
}

func encodeInt(t Type, b []byte, v int64) {
	if t.IsFloat() {
		encodeFloat(t, b, float64(v))
		return
	}
	ne := binary.NativeEndian
	switch t.Size() {
	case 1:
		b[0] = byte(v)
	case 2:
		ne.PutUint16(b, uint16(v))
	case 4:
		ne.PutUint32(b, uint32(v))
	case 8:
		ne.PutUint64(b, uint64(v))
	}
}

func encodeFloat(t Type, b []byte, v float64) {
	ne := binary.NativeEndian
	switch t {
	case Float32:
		ne.PutUint32(b, math.Float32bits(float32(v)))
	case Float64:
		ne.PutUint64(b, math.Float64bits(v))
	default:
		encodeInt(t, b, int64(v))
	}
}

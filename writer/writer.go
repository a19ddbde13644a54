// Package writer implements the tagged binary message format used for
// out-of-band delivery into a state's entry point.
//
// Each argument is a one byte tag followed by a payload in native byte order:
//
//	TagInteger      int64
//	TagByte         1 byte, integers 0..255
//	TagNumber       float64
//	TagBoolean      1 byte
//	TagString       uint64 length, bytes
//	TagSmallString  1 byte length (<= 255), bytes
//	TagArray        element type, element size, uint64 count, elements
//
// The format is private to one process and is not versioned.
package writer

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/wippyai/mtstate/buffer"
	"github.com/wippyai/mtstate/carray"
	mterrors "github.com/wippyai/mtstate/errors"
)

// Tag identifies the type of an encoded argument.
type Tag byte

const (
	TagInteger Tag = iota
	TagByte
	TagNumber
	TagBoolean
	TagString
	TagSmallString
	TagArray
)

const (
	intSize    = 8
	lenSize    = 8
	maxSmall   = 0xff
	arrayHead  = 1 + 1 + 1 + lenSize
	stringHead = 1 + lenSize
)

// Writer accumulates encoded arguments. It is not safe for concurrent use;
// the receiver side only reads it while the sender waits in Deliver.
type Writer struct {
	buf   *buffer.Buffer
	nargs int
}

// New creates a writer over a buffer with the given initial capacity and
// growth factor.
func New(initialCapacity int, growFactor float64, opts ...buffer.Option) (*Writer, error) {
	b, err := buffer.New(initialCapacity, growFactor, opts...)
	if err != nil {
		return nil, outOfMemory(err, initialCapacity)
	}
	return &Writer{buf: b}, nil
}

// NewDefault creates a writer with default capacity and growth.
func NewDefault() *Writer {
	return &Writer{buf: buffer.NewDefault()}
}

// Clear drops all arguments, keeping the allocated capacity.
func (w *Writer) Clear() {
	w.buf.Reset()
	w.nargs = 0
}

// NumArgs returns the number of encoded arguments.
func (w *Writer) NumArgs() int { return w.nargs }

// Size returns the encoded size in bytes.
func (w *Writer) Size() int { return w.buf.Len() }

// Bytes returns the encoded arguments.
func (w *Writer) Bytes() []byte { return w.buf.Bytes() }

// Reader returns a reader over the current contents.
func (w *Writer) Reader() *Reader {
	return NewReader(w.buf.Bytes(), w.nargs)
}

// extend reserves n bytes. Growth failures are out_of_memory errors
// wrapping the buffer error.
func (w *Writer) extend(n int) ([]byte, error) {
	p, err := w.buf.Extend(n)
	if err != nil {
		return nil, outOfMemory(err, n)
	}
	return p, nil
}

func outOfMemory(cause error, n int) error {
	return mterrors.Wrap(mterrors.PhaseEncode, mterrors.KindOutOfMemory, cause,
		fmt.Sprintf("failed to allocate %d bytes", n))
}

// AddBool appends a boolean.
func (w *Writer) AddBool(v bool) error {
	p, err := w.extend(2)
	if err != nil {
		return err
	}
	p[0] = byte(TagBoolean)
	p[1] = 0
	if v {
		p[1] = 1
	}
	w.nargs++
	return nil
}

// AddInt appends an integer. Values 0..255 take the one byte form.
func (w *Writer) AddInt(v int64) error {
	if 0 <= v && v <= maxSmall {
		p, err := w.extend(2)
		if err != nil {
			return err
		}
		p[0] = byte(TagByte)
		p[1] = byte(v)
		w.nargs++
		return nil
	}
	p, err := w.extend(1 + intSize)
	if err != nil {
		return err
	}
	p[0] = byte(TagInteger)
	binary.NativeEndian.PutUint64(p[1:], uint64(v))
	w.nargs++
	return nil
}

// AddNumber appends a floating point number.
func (w *Writer) AddNumber(v float64) error {
	p, err := w.extend(1 + 8)
	if err != nil {
		return err
	}
	p[0] = byte(TagNumber)
	binary.NativeEndian.PutUint64(p[1:], math.Float64bits(v))
	w.nargs++
	return nil
}

// AddString appends a string. Strings up to 255 bytes take the short form.
func (w *Writer) AddString(s string) error {
	if len(s) <= maxSmall {
		p, err := w.extend(2 + len(s))
		if err != nil {
			return err
		}
		p[0] = byte(TagSmallString)
		p[1] = byte(len(s))
		copy(p[2:], s)
		w.nargs++
		return nil
	}
	p, err := w.extend(stringHead + len(s))
	if err != nil {
		return err
	}
	p[0] = byte(TagString)
	binary.NativeEndian.PutUint64(p[1:], uint64(len(s)))
	copy(p[stringHead:], s)
	w.nargs++
	return nil
}

// AddBytes appends every byte of p as a separate integer argument.
func (w *Writer) AddBytes(p []byte) error {
	dst, err := w.extend(2 * len(p))
	if err != nil {
		return err
	}
	for i, c := range p {
		dst[2*i] = byte(TagByte)
		dst[2*i+1] = c
	}
	w.nargs += len(p)
	return nil
}

// AddArray appends a typed array of count elements as one argument and
// returns its uninitialized element storage. The slice is valid until the
// next call on w.
func (w *Writer) AddArray(t carray.Type, count int) ([]byte, error) {
	if !t.Valid() {
		return nil, carray.ErrInvalidType
	}
	if count < 0 {
		return nil, carray.ErrRange
	}
	size := t.Size()
	if count > (buffer.MaxCapacity-arrayHead)/size {
		return nil, mterrors.Wrap(mterrors.PhaseEncode, mterrors.KindOutOfMemory, buffer.ErrGrow,
			fmt.Sprintf("%d %s elements do not fit in a message", count, t))
	}
	p, err := w.extend(arrayHead + count*size)
	if err != nil {
		return nil, err
	}
	p[0] = byte(TagArray)
	p[1] = byte(t)
	p[2] = byte(size)
	binary.NativeEndian.PutUint64(p[3:], uint64(count))
	w.nargs++
	return p[arrayHead:], nil
}

// Add appends v with the encoding matching its Go type.
func (w *Writer) Add(v any) error {
	switch x := v.(type) {
	case bool:
		return w.AddBool(x)
	case int:
		return w.AddInt(int64(x))
	case int8:
		return w.AddInt(int64(x))
	case int16:
		return w.AddInt(int64(x))
	case int32:
		return w.AddInt(int64(x))
	case int64:
		return w.AddInt(x)
	case uint8:
		return w.AddInt(int64(x))
	case uint16:
		return w.AddInt(int64(x))
	case uint32:
		return w.AddInt(int64(x))
	case uint:
		if uint64(x) > math.MaxInt64 {
			return fmt.Errorf("writer: %d overflows int64", x)
		}
		return w.AddInt(int64(x))
	case uint64:
		if x > math.MaxInt64 {
			return fmt.Errorf("writer: %d overflows int64", x)
		}
		return w.AddInt(int64(x))
	case float32:
		return w.AddNumber(float64(x))
	case float64:
		return w.AddNumber(x)
	case string:
		return w.AddString(x)
	case []byte:
		return w.AddString(string(x))
	case *carray.Array:
		src, err := x.Elements(0, x.Len())
		if err != nil {
			return err
		}
		dst, err := w.AddArray(x.Type(), x.Len())
		if err != nil {
			return err
		}
		copy(dst, src)
		return nil
	}
	return fmt.Errorf("writer: unsupported type %T", v)
}

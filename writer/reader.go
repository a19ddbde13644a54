package writer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/wippyai/mtstate/carray"
)

// ErrCorrupt is returned when the encoded data is truncated or carries an
// unknown tag.
var ErrCorrupt = errors.New("writer: corrupt message")

// Reader decodes arguments produced by a Writer.
type Reader struct {
	data []byte
	pos  int
	left int
}

// NewReader returns a reader for nargs arguments encoded in data.
func NewReader(data []byte, nargs int) *Reader {
	return &Reader{data: data, left: nargs}
}

// Len returns the number of arguments not yet decoded.
func (r *Reader) Len() int { return r.left }

// Next decodes the next argument. Integers decode to int64, numbers to
// float64, strings to string and arrays to a new *carray.Array owning a
// copy of the elements.
func (r *Reader) Next() (any, error) {
	if r.left <= 0 {
		return nil, fmt.Errorf("%w: no arguments left", ErrCorrupt)
	}
	tag, err := r.take(1)
	if err != nil {
		return nil, err
	}
	var v any
	switch Tag(tag[0]) {
	case TagBoolean:
		b, err := r.take(1)
		if err != nil {
			return nil, err
		}
		v = b[0] != 0
	case TagByte:
		b, err := r.take(1)
		if err != nil {
			return nil, err
		}
		v = int64(b[0])
	case TagInteger:
		b, err := r.take(intSize)
		if err != nil {
			return nil, err
		}
		v = int64(binary.NativeEndian.Uint64(b))
	case TagNumber:
		b, err := r.take(8)
		if err != nil {
			return nil, err
		}
		v = math.Float64frombits(binary.NativeEndian.Uint64(b))
	case TagSmallString:
		n, err := r.take(1)
		if err != nil {
			return nil, err
		}
		b, err := r.take(int(n[0]))
		if err != nil {
			return nil, err
		}
		v = string(b)
	case TagString:
		n, err := r.take(lenSize)
		if err != nil {
			return nil, err
		}
		b, err := r.takeN(binary.NativeEndian.Uint64(n))
		if err != nil {
			return nil, err
		}
		v = string(b)
	case TagArray:
		v, err = r.array()
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: unknown tag %d at offset %d", ErrCorrupt, tag[0], r.pos-1)
	}
	r.left--
	return v, nil
}

// All decodes the remaining arguments.
func (r *Reader) All() ([]any, error) {
	out := make([]any, 0, r.left)
	for r.left > 0 {
		v, err := r.Next()
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (r *Reader) array() (*carray.Array, error) {
	head, err := r.take(2 + lenSize)
	if err != nil {
		return nil, err
	}
	t := carray.Type(head[0])
	if !t.Valid() || int(head[1]) != t.Size() {
		return nil, fmt.Errorf("%w: bad array element type %d size %d", ErrCorrupt, head[0], head[1])
	}
	count := binary.NativeEndian.Uint64(head[2:])
	if count > uint64(len(r.data)) {
		return nil, fmt.Errorf("%w: array count %d", ErrCorrupt, count)
	}
	b, err := r.takeN(count * uint64(t.Size()))
	if err != nil {
		return nil, err
	}
	a, err := carray.New(t, carray.Default, int(count))
	if err != nil {
		return nil, err
	}
	dst, _ := a.Elements(0, int(count))
	copy(dst, b)
	return a, nil
}

func (r *Reader) take(n int) ([]byte, error) {
	if n > len(r.data)-r.pos {
		return nil, fmt.Errorf("%w: need %d bytes at offset %d", ErrCorrupt, n, r.pos)
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *Reader) takeN(n uint64) ([]byte, error) {
	if n > uint64(len(r.data)-r.pos) {
		return nil, fmt.Errorf("%w: need %d bytes at offset %d", ErrCorrupt, n, r.pos)
	}
	return r.take(int(n))
}

// Decode decodes nargs arguments from data.
func Decode(data []byte, nargs int) ([]any, error) {
	return NewReader(data, nargs).All()
}

package writer

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/wippyai/mtstate/buffer"
	"github.com/wippyai/mtstate/carray"
	mterrors "github.com/wippyai/mtstate/errors"
)

func TestRoundTrip(t *testing.T) {
	long := strings.Repeat("x", 256)
	short := strings.Repeat("y", 255)

	tests := []struct {
		name    string
		in      any
		want    any
		wantTag Tag
		size    int
	}{
		{"false", false, false, TagBoolean, 2},
		{"true", true, true, TagBoolean, 2},
		{"zero", int64(0), int64(0), TagByte, 2},
		{"255", int64(255), int64(255), TagByte, 2},
		{"256", int64(256), int64(256), TagInteger, 9},
		{"negative", int64(-1), int64(-1), TagInteger, 9},
		{"min int", int64(math.MinInt64), int64(math.MinInt64), TagInteger, 9},
		{"int kind", int32(7), int64(7), TagByte, 2},
		{"uint kind", uint16(1000), int64(1000), TagInteger, 9},
		{"number", 3.5, 3.5, TagNumber, 9},
		{"float32", float32(0.25), 0.25, TagNumber, 9},
		{"empty string", "", "", TagSmallString, 2},
		{"255 byte string", short, short, TagSmallString, 2 + 255},
		{"256 byte string", long, long, TagString, 9 + 256},
		{"byte slice", []byte("abc"), "abc", TagSmallString, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := NewDefault()
			if err := w.Add(tt.in); err != nil {
				t.Fatalf("Add: %v", err)
			}
			if w.NumArgs() != 1 {
				t.Fatalf("NumArgs = %d", w.NumArgs())
			}
			if Tag(w.Bytes()[0]) != tt.wantTag {
				t.Errorf("tag = %d, want %d", w.Bytes()[0], tt.wantTag)
			}
			if w.Size() != tt.size {
				t.Errorf("Size = %d, want %d", w.Size(), tt.size)
			}
			got, err := Decode(w.Bytes(), w.NumArgs())
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if len(got) != 1 || got[0] != tt.want {
				t.Errorf("decoded %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestSequence(t *testing.T) {
	w := NewDefault()
	_ = w.AddInt(1)
	_ = w.AddString("two")
	_ = w.AddBool(true)
	_ = w.AddNumber(-4.5)
	if err := w.AddBytes([]byte{0, 200}); err != nil {
		t.Fatalf("AddBytes: %v", err)
	}

	want := []any{int64(1), "two", true, -4.5, int64(0), int64(200)}
	if w.NumArgs() != len(want) {
		t.Fatalf("NumArgs = %d, want %d", w.NumArgs(), len(want))
	}
	r := w.Reader()
	for i, wv := range want {
		if r.Len() != len(want)-i {
			t.Errorf("Len = %d before arg %d", r.Len(), i)
		}
		v, err := r.Next()
		if err != nil {
			t.Fatalf("Next %d: %v", i, err)
		}
		if v != wv {
			t.Errorf("arg %d = %#v, want %#v", i, v, wv)
		}
	}
	if _, err := r.Next(); !errors.Is(err, ErrCorrupt) {
		t.Errorf("reading past the end: err = %v", err)
	}

	w.Clear()
	if w.NumArgs() != 0 || w.Size() != 0 {
		t.Errorf("Clear left %d args, %d bytes", w.NumArgs(), w.Size())
	}
}

func TestArray(t *testing.T) {
	w := NewDefault()
	data, err := w.AddArray(carray.Int32, 3)
	if err != nil {
		t.Fatalf("AddArray: %v", err)
	}
	if len(data) != 12 {
		t.Fatalf("len(data) = %d, want 12", len(data))
	}
	src, _ := carray.New(carray.Int32, carray.Default, 3)
	for i := 0; i < 3; i++ {
		_ = src.SetValue(i, int64(-i*10))
	}
	raw, _ := src.Elements(0, 3)
	copy(data, raw)

	got, err := Decode(w.Bytes(), w.NumArgs())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	a, ok := got[0].(*carray.Array)
	if !ok {
		t.Fatalf("decoded %T, want *carray.Array", got[0])
	}
	if a.Type() != carray.Int32 || a.Len() != 3 {
		t.Fatalf("decoded %v", a)
	}
	for i := 0; i < 3; i++ {
		if v, _ := a.Value(i); v != int64(-i*10) {
			t.Errorf("element %d = %v", i, v)
		}
	}

	w.Clear()
	if err := w.Add(src); err != nil {
		t.Fatalf("Add(array): %v", err)
	}
	got, _ = Decode(w.Bytes(), w.NumArgs())
	if v, _ := got[0].(*carray.Array).Value(2); v != int64(-20) {
		t.Errorf("Add(array) element 2 = %v", v)
	}

	if _, err := w.AddArray(carray.Type(0), 1); !errors.Is(err, carray.ErrInvalidType) {
		t.Errorf("invalid type err = %v", err)
	}
}

func TestGrowthErrors(t *testing.T) {
	tests := []struct {
		name  string
		build func() (*Writer, error)
		add   func(w *Writer) error
		want  error
	}{
		{
			name:  "no growth",
			build: func() (*Writer, error) { return New(4, 1) },
			add:   func(w *Writer) error { return w.AddInt(1000) },
			want:  buffer.ErrNoGrow,
		},
		{
			name:  "limit exceeded",
			build: func() (*Writer, error) { return New(4, 2, buffer.WithLimit(8)) },
			add:   func(w *Writer) error { return w.AddString("0123456789") },
			want:  buffer.ErrGrow,
		},
		{
			name:  "array count overflows",
			build: func() (*Writer, error) { return NewDefault(), nil },
			add: func(w *Writer) error {
				_, err := w.AddArray(carray.Float64, math.MaxInt/8+2)
				return err
			},
			want: buffer.ErrGrow,
		},
		{
			name:  "array above capacity",
			build: func() (*Writer, error) { return NewDefault(), nil },
			add: func(w *Writer) error {
				_, err := w.AddArray(carray.Uint8, buffer.MaxCapacity)
				return err
			},
			want: buffer.ErrGrow,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := tt.build()
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if err := w.AddInt(1); err != nil {
				t.Fatalf("AddInt: %v", err)
			}
			err = tt.add(w)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
			if mterrors.KindOf(err) != mterrors.KindOutOfMemory {
				t.Errorf("kind = %q, want out_of_memory", mterrors.KindOf(err))
			}
			if w.NumArgs() != 1 {
				t.Errorf("failed add changed NumArgs to %d", w.NumArgs())
			}
		})
	}

	_, err := New(16, 2, buffer.WithLimit(8))
	if !errors.Is(err, buffer.ErrAlloc) || mterrors.KindOf(err) != mterrors.KindOutOfMemory {
		t.Errorf("err = %v, want out_of_memory wrapping ErrAlloc", err)
	}
}

func TestUnsupported(t *testing.T) {
	w := NewDefault()
	if err := w.Add(map[string]int{}); err == nil {
		t.Error("Add(map) should fail")
	}
	if err := w.Add(uint64(math.MaxUint64)); err == nil {
		t.Error("Add(MaxUint64) should fail")
	}
}

func TestCorrupt(t *testing.T) {
	tests := []struct {
		name  string
		data  []byte
		nargs int
	}{
		{"unknown tag", []byte{42}, 1},
		{"truncated integer", []byte{byte(TagInteger), 1, 2}, 1},
		{"truncated string", []byte{byte(TagSmallString), 5, 'a'}, 1},
		{"huge string", []byte{byte(TagString), 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, 1},
		{"bad array size", []byte{byte(TagArray), byte(carray.Int32), 8, 0, 0, 0, 0, 0, 0, 0, 0}, 1},
		{"missing argument", []byte{byte(TagByte), 1}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(tt.data, tt.nargs); !errors.Is(err, ErrCorrupt) {
				t.Errorf("err = %v, want ErrCorrupt", err)
			}
		})
	}
}

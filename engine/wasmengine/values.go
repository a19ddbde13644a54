package wasmengine

import (
	"fmt"
	"math"

	"github.com/tetratelabs/wazero/api"
	"go.bytecodealliance.org/wit"

	"github.com/wippyai/mtstate/engine"
)

// scalar describes how one parameter or result crosses the core ABI.
type scalar struct {
	name    string
	core    api.ValueType
	bits    int
	signed  bool
	float   bool
	boolean bool
}

func scalarOf(t wit.Type) scalar {
	switch t.(type) {
	case wit.Bool:
		return scalar{name: "bool", core: api.ValueTypeI32, bits: 32, boolean: true}
	case wit.S8:
		return scalar{name: "s8", core: api.ValueTypeI32, bits: 8, signed: true}
	case wit.U8:
		return scalar{name: "u8", core: api.ValueTypeI32, bits: 8}
	case wit.S16:
		return scalar{name: "s16", core: api.ValueTypeI32, bits: 16, signed: true}
	case wit.U16:
		return scalar{name: "u16", core: api.ValueTypeI32, bits: 16}
	case wit.S32:
		return scalar{name: "s32", core: api.ValueTypeI32, bits: 32, signed: true}
	case wit.U32, wit.Char:
		return scalar{name: "u32", core: api.ValueTypeI32, bits: 32}
	case wit.S64:
		return scalar{name: "s64", core: api.ValueTypeI64, bits: 64, signed: true}
	case wit.U64:
		return scalar{name: "u64", core: api.ValueTypeI64, bits: 64}
	case wit.F32:
		return scalar{name: "f32", core: api.ValueTypeF32, bits: 32, float: true}
	case wit.F64:
		return scalar{name: "f64", core: api.ValueTypeF64, bits: 64, float: true}
	}
	return scalar{}
}

func scalarOfCore(vt api.ValueType) scalar {
	switch vt {
	case api.ValueTypeI32:
		return scalar{name: "i32", core: vt, bits: 32, signed: true}
	case api.ValueTypeI64:
		return scalar{name: "i64", core: vt, bits: 64, signed: true}
	case api.ValueTypeF32:
		return scalar{name: "f32", core: vt, bits: 32, float: true}
	case api.ValueTypeF64:
		return scalar{name: "f64", core: vt, bits: 64, float: true}
	}
	return scalar{name: api.ValueTypeName(vt), core: vt}
}

func (s scalar) valid() bool { return s.bits > 0 }

func (s scalar) encode(v engine.Value) (uint64, error) {
	nv, ok := engine.Normalize(v)
	if !ok {
		return 0, fmt.Errorf("type '%s' not supported", engine.TypeName(v))
	}
	if s.boolean {
		switch x := nv.(type) {
		case bool:
			if x {
				return 1, nil
			}
			return 0, nil
		case int64:
			if x == 0 || x == 1 {
				return uint64(x), nil
			}
		}
		return 0, fmt.Errorf("%s expected, got %s", s.name, engine.TypeName(nv))
	}

	var i int64
	switch x := nv.(type) {
	case bool:
		if x {
			i = 1
		}
	case int64:
		if s.float {
			return s.encodeFloat(float64(x)), nil
		}
		i = x
	case float64:
		if s.float {
			return s.encodeFloat(x), nil
		}
		if x != math.Trunc(x) || x < math.MinInt64 || x >= math.MaxInt64 {
			return 0, fmt.Errorf("number has no integer representation for %s", s.name)
		}
		i = int64(x)
	default:
		return 0, fmt.Errorf("%s expected, got %s", s.name, engine.TypeName(nv))
	}

	if !s.fits(i) {
		return 0, fmt.Errorf("value %d out of range for %s", i, s.name)
	}
	if s.core == api.ValueTypeI32 {
		return api.EncodeU32(uint32(i)), nil
	}
	return uint64(i), nil
}

func (s scalar) fits(i int64) bool {
	if s.bits == 64 {
		return s.signed || i >= 0
	}
	if s.signed {
		limit := int64(1) << (s.bits - 1)
		return i >= -limit && i < limit
	}
	return i >= 0 && i < int64(1)<<s.bits
}

func (s scalar) encodeFloat(f float64) uint64 {
	if s.bits == 32 {
		return api.EncodeF32(float32(f))
	}
	return api.EncodeF64(f)
}

func (s scalar) decode(raw uint64) engine.Value {
	switch {
	case s.boolean:
		return uint32(raw) != 0
	case s.float && s.bits == 32:
		return float64(api.DecodeF32(raw))
	case s.float:
		return api.DecodeF64(raw)
	}
	switch s.bits {
	case 8:
		if s.signed {
			return int64(int8(raw))
		}
		return int64(uint8(raw))
	case 16:
		if s.signed {
			return int64(int16(raw))
		}
		return int64(uint16(raw))
	case 32:
		if s.signed {
			return int64(api.DecodeI32(raw))
		}
		return int64(api.DecodeU32(raw))
	}
	if !s.signed && raw > math.MaxInt64 {
		return float64(raw)
	}
	return int64(raw)
}

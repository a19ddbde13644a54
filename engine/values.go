package engine

import (
	"fmt"
	"math"

	"github.com/wippyai/mtstate/carray"
	"github.com/wippyai/mtstate/errors"
)

// Normalize converts v to the canonical representation listed on Value.
// Integer kinds become int64, float32 becomes float64 and []byte becomes
// string. ok is false for unsupported types and unsigned values above
// MaxInt64.
func Normalize(v Value) (Value, bool) {
	switch x := v.(type) {
	case nil, bool, int64, float64, string, Opaque:
		return v, true
	case *carray.Array:
		return v, x != nil
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	case uint:
		if uint64(x) > math.MaxInt64 {
			return nil, false
		}
		return int64(x), true
	case uint64:
		if x > math.MaxInt64 {
			return nil, false
		}
		return int64(x), true
	case float32:
		return float64(x), true
	case []byte:
		return string(x), true
	}
	return nil, false
}

// NormalizeArgs normalizes every argument. The error names the 1-based
// position of the first unsupported argument.
func NormalizeArgs(phase errors.Phase, args []Value) ([]Value, error) {
	out := make([]Value, len(args))
	for i, a := range args {
		v, ok := Normalize(a)
		if !ok {
			return nil, errors.BadArgument(phase, i+1, fmt.Sprintf("type '%s' not supported", TypeName(a)))
		}
		out[i] = v
	}
	return out, nil
}

// TypeName describes the type of v for error messages.
func TypeName(v Value) string {
	switch v.(type) {
	case nil:
		return "nil"
	case bool:
		return "boolean"
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return "number"
	case string, []byte:
		return "string"
	case *carray.Array:
		return "carray"
	case Opaque:
		return "opaque"
	}
	return fmt.Sprintf("%T", v)
}

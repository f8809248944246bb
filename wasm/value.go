package wasm

import (
	"fmt"
	"io"

	"github.com/mikanvm/mikan/wasm/leb128"
)

// ValueType is the binary encoding of a type such as i32.
// See https://www.w3.org/TR/wasm-core-1/#binary-valtype
type ValueType byte

const (
	ValueTypeI32 ValueType = 0x7f
	ValueTypeI64 ValueType = 0x7e
	ValueTypeF32 ValueType = 0x7d
	ValueTypeF64 ValueType = 0x7c
)

// ValueTypeName returns the name of t as written in the text format, or
// "unknown" for an undefined ValueType.
func ValueTypeName(t ValueType) string {
	switch t {
	case ValueTypeI32:
		return "i32"
	case ValueTypeI64:
		return "i64"
	case ValueTypeF32:
		return "f32"
	case ValueTypeF64:
		return "f64"
	}
	return "unknown"
}

// Value is a typed scalar as held on the Stack. Raw carries the bits:
// an i32 zero-extended from its low 32 bits, an i64 in the whole slot,
// floats via math.Float*bits.
type Value struct {
	Type ValueType
	Raw  uint64
}

func readValueTypes(r io.Reader, num uint32) ([]ValueType, error) {
	buf := make([]byte, num)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}

	ret := make([]ValueType, num)
	for i, v := range buf {
		switch vt := ValueType(v); vt {
		case ValueTypeI32, ValueTypeI64, ValueTypeF32, ValueTypeF64:
			ret[i] = vt
		default:
			return nil, fmt.Errorf("%w: invalid value type %#x", ErrInvalidByte, v)
		}
	}
	return ret, nil
}

func readNameValue(r io.Reader) (string, error) {
	vs, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return "", fmt.Errorf("read size of name: %w", err)
	}

	buf := make([]byte, vs)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("read bytes of name: %w", err)
	}
	return string(buf), nil
}

func hasSameSignature(a, b []ValueType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

package wasm

import (
	"fmt"
	"io"

	"github.com/mikanvm/mikan/wasm/leb128"
)

// FunctionType is an ordered parameter list and an ordered result list.
// See https://www.w3.org/TR/wasm-core-1/#function-types%E2%91%A4
type FunctionType struct {
	Params, Results []ValueType
}

func (t *FunctionType) String() (ret string) {
	for _, b := range t.Params {
		ret += ValueTypeName(b)
	}
	if len(t.Params) == 0 {
		ret += "null"
	}
	ret += "_"
	for _, b := range t.Results {
		ret += ValueTypeName(b)
	}
	if len(t.Results) == 0 {
		ret += "null"
	}
	return
}

func readFunctionType(r io.Reader) (*FunctionType, error) {
	b := make([]byte, 1)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("read leading byte: %w", err)
	}
	if b[0] != 0x60 {
		return nil, fmt.Errorf("%w: %#x != 0x60", ErrInvalidByte, b[0])
	}

	s, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("get the size of parameter types: %w", err)
	}
	params, err := readValueTypes(r, s)
	if err != nil {
		return nil, fmt.Errorf("read parameter types: %w", err)
	}

	s, _, err = leb128.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("get the size of result types: %w", err)
	} else if s > 1 {
		return nil, fmt.Errorf("multi value results not supported")
	}
	results, err := readValueTypes(r, s)
	if err != nil {
		return nil, fmt.Errorf("read result types: %w", err)
	}

	return &FunctionType{Params: params, Results: results}, nil
}

// LimitsType bounds the size of a table or memory.
// Invariant: when Max is present, Min <= *Max.
// See https://www.w3.org/TR/wasm-core-1/#limits%E2%91%A6
type LimitsType struct {
	Min uint32
	Max *uint32
}

func readLimitsType(r io.Reader) (*LimitsType, error) {
	b := make([]byte, 1)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("read leading byte: %w", err)
	}

	ret := &LimitsType{}
	var err error
	switch b[0] {
	case 0x00:
		ret.Min, _, err = leb128.DecodeUint32(r)
		if err != nil {
			return nil, fmt.Errorf("read min of limit: %w", err)
		}
	case 0x01:
		ret.Min, _, err = leb128.DecodeUint32(r)
		if err != nil {
			return nil, fmt.Errorf("read min of limit: %w", err)
		}
		m, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return nil, fmt.Errorf("read max of limit: %w", err)
		}
		if m < ret.Min {
			return nil, fmt.Errorf("limit minimum must not be greater than maximum")
		}
		ret.Max = &m
	default:
		return nil, fmt.Errorf("%w for limits: %#x != 0x00 or 0x01", ErrInvalidByte, b[0])
	}
	return ret, nil
}

// ElemTypeFuncRef is the only element type in WebAssembly 1.0 (MVP).
const ElemTypeFuncRef byte = 0x70

// TableType is an element type together with the limit on element count.
type TableType struct {
	ElemType byte
	Limit    *LimitsType
}

func readTableType(r io.Reader) (*TableType, error) {
	b := make([]byte, 1)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("read leading byte: %w", err)
	}
	if b[0] != ElemTypeFuncRef {
		return nil, fmt.Errorf("%w: invalid element type %#x != %#x", ErrInvalidByte, b[0], ElemTypeFuncRef)
	}

	lm, err := readLimitsType(r)
	if err != nil {
		return nil, fmt.Errorf("read limits: %w", err)
	}
	return &TableType{ElemType: ElemTypeFuncRef, Limit: lm}, nil
}

// MemoryType wraps a limit whose units are 64KiB pages.
type MemoryType = LimitsType

func readMemoryType(r io.Reader) (*MemoryType, error) {
	ret, err := readLimitsType(r)
	if err != nil {
		return nil, err
	}
	if ret.Min > uint32(PageSize) {
		return nil, fmt.Errorf("memory min must be at most 65536 pages (4GiB)")
	}
	if ret.Max != nil && *ret.Max > uint32(PageSize) {
		return nil, fmt.Errorf("memory max must be at most 65536 pages (4GiB)")
	}
	return ret, nil
}

// GlobalType is a value type plus a mutability flag.
type GlobalType struct {
	ValType ValueType
	Mutable bool
}

func readGlobalType(r io.Reader) (*GlobalType, error) {
	vt, err := readValueTypes(r, 1)
	if err != nil {
		return nil, fmt.Errorf("read value type: %w", err)
	}

	ret := &GlobalType{ValType: vt[0]}

	b := make([]byte, 1)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("read mutability: %w", err)
	}
	switch mut := b[0]; mut {
	case 0x00:
	case 0x01:
		ret.Mutable = true
	default:
		return nil, fmt.Errorf("%w for mutability: %#x != 0x00 or 0x01", ErrInvalidByte, mut)
	}
	return ret, nil
}

package wasm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// fibWasm is a module exporting a recursive "fib" (param i32) (result i32).
var fibWasm = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	// type section: (i32) -> (i32)
	0x01, 0x06, 0x01, 0x60, 0x01, 0x7f, 0x01, 0x7f,
	// function section
	0x03, 0x02, 0x01, 0x00,
	// export section: "fib"
	0x07, 0x07, 0x01, 0x03, 0x66, 0x69, 0x62, 0x00, 0x00,
	// code section
	0x0a, 0x1e, 0x01, 0x1c, 0x00,
	0x20, 0x00, 0x41, 0x02, 0x48,
	0x04, 0x7f,
	0x20, 0x00,
	0x05,
	0x20, 0x00, 0x41, 0x01, 0x6b,
	0x10, 0x00,
	0x20, 0x00, 0x41, 0x02, 0x6b,
	0x10, 0x00,
	0x6a,
	0x0b, 0x0b,
}

func TestDecodeModule(t *testing.T) {
	m, err := DecodeModule(fibWasm)
	require.NoError(t, err)

	require.Len(t, m.TypeSection, 1)
	require.Equal(t, []ValueType{ValueTypeI32}, m.TypeSection[0].Params)
	require.Equal(t, []ValueType{ValueTypeI32}, m.TypeSection[0].Results)

	require.Equal(t, []uint32{0}, m.FunctionSection)
	require.Len(t, m.CodeSection, 1)
	require.Equal(t, uint32(0), m.CodeSection[0].NumLocals)
	require.Equal(t, OpcodeEnd, m.CodeSection[0].Body[len(m.CodeSection[0].Body)-1])

	require.Len(t, m.ExportSection, 1)
	require.Equal(t, "fib", m.ExportSection[0].Name)
	require.Equal(t, ExternKindFunction, m.ExportSection[0].Desc.Kind)
	require.Equal(t, uint32(0), m.ExportSection[0].Desc.Index)

	require.Nil(t, m.StartSection)
	require.Empty(t, m.ImportSection)
}

func TestDecodeModule_InvalidHeader(t *testing.T) {
	_, err := DecodeModule([]byte{0x01, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00})
	require.ErrorIs(t, err, ErrInvalidMagicNumber)

	_, err = DecodeModule([]byte{0x00, 0x61, 0x73, 0x6d, 0x02, 0x00, 0x00, 0x00})
	require.ErrorIs(t, err, ErrInvalidVersion)

	_, err = DecodeModule([]byte{0x00, 0x61})
	require.ErrorIs(t, err, ErrInvalidMagicNumber)
}

func TestDecodeModule_InconsistentFunctionAndCode(t *testing.T) {
	// A function section entry with no code section at all.
	bin := []byte{
		0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
		0x01, 0x04, 0x01, 0x60, 0x00, 0x00, // type ()->()
		0x03, 0x02, 0x01, 0x00, // function section
	}
	_, err := DecodeModule(bin)
	require.Error(t, err)
}

func TestDecodeModule_SkipsCustomSection(t *testing.T) {
	bin := []byte{
		0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
		0x00, 0x05, 0x03, 0x61, 0x62, 0x63, 0xff, // custom section "abc" + 1 byte
	}
	m, err := DecodeModule(bin)
	require.NoError(t, err)
	require.Empty(t, m.TypeSection)
}

func TestDecodeModule_Sections(t *testing.T) {
	// memory (min 1, max 2), global i64 const 1, start 0... start requires a
	// function; keep it to memory, global, and data.
	bin := []byte{
		0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
		// memory section: 1 memory, limits {min 1, max 2}
		0x05, 0x04, 0x01, 0x01, 0x01, 0x02,
		// global section: i64 const, init i64.const 1
		0x06, 0x06, 0x01, 0x7e, 0x00, 0x42, 0x01, 0x0b,
		// data section: offset i32.const 3, bytes "hi"
		0x0b, 0x08, 0x01, 0x00, 0x41, 0x03, 0x0b, 0x02, 0x68, 0x69,
	}
	m, err := DecodeModule(bin)
	require.NoError(t, err)

	require.Len(t, m.MemorySection, 1)
	require.Equal(t, uint32(1), m.MemorySection[0].Min)
	require.Equal(t, uint32(2), *m.MemorySection[0].Max)

	require.Len(t, m.GlobalSection, 1)
	require.Equal(t, ValueTypeI64, m.GlobalSection[0].Type.ValType)
	require.False(t, m.GlobalSection[0].Type.Mutable)
	require.Equal(t, OpcodeI64Const, m.GlobalSection[0].Init.Opcode)

	require.Len(t, m.DataSection, 1)
	require.Equal(t, []byte("hi"), m.DataSection[0].Init)
	require.Equal(t, OpcodeI32Const, m.DataSection[0].OffsetExpression.Opcode)
}

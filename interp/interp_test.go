package interp

import (
	"math"
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mikanvm/mikan/wasm"
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

func newStore(t *testing.T) *wasm.Store {
	t.Helper()
	return wasm.NewStore(NewEngine())
}

func instantiate(t *testing.T, s *wasm.Store, m *wasm.Module, name string) {
	t.Helper()
	require.NoError(t, s.Instantiate(m, name))
}

func TestCall_ExportedConstant(t *testing.T) {
	s := newStore(t)
	instantiate(t, s, &wasm.Module{
		TypeSection:     []*wasm.FunctionType{{Results: []wasm.ValueType{wasm.ValueTypeI32}}},
		FunctionSection: []uint32{0},
		CodeSection:     []*wasm.CodeSegment{{Body: []byte{wasm.OpcodeI32Const, 0x2a, wasm.OpcodeEnd}}},
		ExportSection:   []*wasm.ExportSegment{{Name: "answer", Desc: &wasm.ExportDesc{Kind: wasm.ExternKindFunction, Index: 0}}},
	}, "m")

	ret, retTypes, err := s.CallFunction("m", "answer")
	require.NoError(t, err)
	require.Equal(t, []wasm.ValueType{wasm.ValueTypeI32}, retTypes)
	require.Equal(t, []uint64{42}, ret)
}

func TestCall_FibFromBinary(t *testing.T) {
	s := newStore(t)
	mod, err := wasm.DecodeModule(fibWasm)
	require.NoError(t, err)
	require.NoError(t, s.Instantiate(mod, "m"))

	for _, c := range []struct{ in, exp uint64 }{
		{0, 0}, {1, 1}, {2, 1}, {7, 13}, {10, 55},
	} {
		ret, _, err := s.CallFunction("m", "fib", c.in)
		require.NoError(t, err)
		require.Equal(t, c.exp, ret[0], "fib(%d)", c.in)
	}
}

func TestCall_UnreachableTraps(t *testing.T) {
	s := newStore(t)
	instantiate(t, s, &wasm.Module{
		TypeSection:     []*wasm.FunctionType{{}},
		FunctionSection: []uint32{0},
		CodeSection:     []*wasm.CodeSegment{{Body: []byte{wasm.OpcodeUnreachable, wasm.OpcodeEnd}}},
		ExportSection:   []*wasm.ExportSegment{{Name: "boom", Desc: &wasm.ExportDesc{Kind: wasm.ExternKindFunction, Index: 0}}},
	}, "m")

	_, _, err := s.CallFunction("m", "boom")
	require.ErrorIs(t, err, wasm.ErrFunctionTrapped)
}

func TestInstantiate_StartTrapUnwinds(t *testing.T) {
	s := newStore(t)
	err := s.Instantiate(&wasm.Module{
		TypeSection:     []*wasm.FunctionType{{}},
		FunctionSection: []uint32{0},
		CodeSection:     []*wasm.CodeSegment{{Body: []byte{wasm.OpcodeUnreachable, wasm.OpcodeEnd}}},
		ExportSection:   []*wasm.ExportSegment{{Name: "f", Desc: &wasm.ExportDesc{Kind: wasm.ExternKindFunction, Index: 0}}},
		StartSection:    func() *uint32 { v := uint32(0); return &v }(),
	}, "m")
	require.ErrorIs(t, err, wasm.ErrStartTrap)

	// No export of the failed module is visible.
	_, ok := s.FindModule("m")
	require.False(t, ok)
}

func TestCall_HostFunction(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.AddHostFunction("env", "double",
		reflect.ValueOf(func(ctx *wasm.HostFunctionCallContext, v int64) int64 { return v * 2 })))

	t.Run("direct", func(t *testing.T) {
		ret, _, err := s.CallFunction("env", "double", 21)
		require.NoError(t, err)
		require.Equal(t, []uint64{42}, ret)
	})

	t.Run("imported and called from wasm", func(t *testing.T) {
		// wrapper(a) = double(a) + 1
		instantiate(t, s, &wasm.Module{
			TypeSection: []*wasm.FunctionType{{
				Params:  []wasm.ValueType{wasm.ValueTypeI64},
				Results: []wasm.ValueType{wasm.ValueTypeI64},
			}},
			ImportSection: []*wasm.ImportSegment{{
				Module: "env", Name: "double",
				Desc: &wasm.ImportDesc{Kind: wasm.ExternKindFunction, TypeIndexPtr: func() *uint32 { v := uint32(0); return &v }()},
			}},
			FunctionSection: []uint32{0},
			CodeSection: []*wasm.CodeSegment{{Body: []byte{
				wasm.OpcodeLocalGet, 0x00,
				wasm.OpcodeCall, 0x00, // the imported function
				wasm.OpcodeI64Const, 0x01,
				wasm.OpcodeI64Add,
				wasm.OpcodeEnd,
			}}},
			ExportSection: []*wasm.ExportSegment{{Name: "wrapper", Desc: &wasm.ExportDesc{Kind: wasm.ExternKindFunction, Index: 1}}},
		}, "m")

		ret, _, err := s.CallFunction("m", "wrapper", 20)
		require.NoError(t, err)
		require.Equal(t, []uint64{41}, ret)
	})
}

func TestCall_CallIndirect(t *testing.T) {
	s := newStore(t)

	// f0 () -> 1, f1 () -> 2; dispatch(i) calls table[i].
	instantiate(t, s, &wasm.Module{
		TypeSection: []*wasm.FunctionType{
			{Results: []wasm.ValueType{wasm.ValueTypeI32}},
			{Params: []wasm.ValueType{wasm.ValueTypeI32}, Results: []wasm.ValueType{wasm.ValueTypeI32}},
		},
		FunctionSection: []uint32{0, 0, 1},
		CodeSection: []*wasm.CodeSegment{
			{Body: []byte{wasm.OpcodeI32Const, 0x01, wasm.OpcodeEnd}},
			{Body: []byte{wasm.OpcodeI32Const, 0x02, wasm.OpcodeEnd}},
			{Body: []byte{
				wasm.OpcodeLocalGet, 0x00,
				wasm.OpcodeCallIndirect, 0x00, 0x00,
				wasm.OpcodeEnd,
			}},
		},
		TableSection: []*wasm.TableType{{ElemType: wasm.ElemTypeFuncRef, Limit: &wasm.LimitsType{Min: 3}}},
		ElementSection: []*wasm.ElementSegment{{
			TableIndex: 0,
			OffsetExpr: &wasm.ConstantExpression{Opcode: wasm.OpcodeI32Const, Data: []byte{0x00}},
			Init:       []uint32{0, 1},
		}},
		ExportSection: []*wasm.ExportSegment{{Name: "dispatch", Desc: &wasm.ExportDesc{Kind: wasm.ExternKindFunction, Index: 2}}},
	}, "m")

	ret, _, err := s.CallFunction("m", "dispatch", 0)
	require.NoError(t, err)
	require.Equal(t, uint64(1), ret[0])

	ret, _, err = s.CallFunction("m", "dispatch", 1)
	require.NoError(t, err)
	require.Equal(t, uint64(2), ret[0])

	// Slot 2 is an uninitialized hole.
	_, _, err = s.CallFunction("m", "dispatch", 2)
	require.ErrorIs(t, err, wasm.ErrFunctionTrapped)

	// Out of table bounds.
	_, _, err = s.CallFunction("m", "dispatch", 9)
	require.ErrorIs(t, err, wasm.ErrFunctionTrapped)
}

func TestCall_MemoryOps(t *testing.T) {
	s := newStore(t)

	two := uint32(2)
	instantiate(t, s, &wasm.Module{
		TypeSection: []*wasm.FunctionType{
			{Params: []wasm.ValueType{wasm.ValueTypeI32}, Results: []wasm.ValueType{wasm.ValueTypeI32}},
			{Results: []wasm.ValueType{wasm.ValueTypeI32}},
		},
		FunctionSection: []uint32{0, 1, 1},
		CodeSection: []*wasm.CodeSegment{
			// peek(addr) = load8_u(addr)
			{Body: []byte{
				wasm.OpcodeLocalGet, 0x00,
				wasm.OpcodeI32Load8U, 0x00, 0x00,
				wasm.OpcodeEnd,
			}},
			// size() = memory.size
			{Body: []byte{wasm.OpcodeMemorySize, 0x00, wasm.OpcodeEnd}},
			// grow() = memory.grow(1)
			{Body: []byte{
				wasm.OpcodeI32Const, 0x01,
				wasm.OpcodeMemoryGrow, 0x00,
				wasm.OpcodeEnd,
			}},
		},
		MemorySection: []*wasm.MemoryType{{Min: 1, Max: &two}},
		DataSection: []*wasm.DataSegment{{
			OffsetExpression: &wasm.ConstantExpression{Opcode: wasm.OpcodeI32Const, Data: []byte{0x03}},
			Init:             []byte("AB"),
		}},
		ExportSection: []*wasm.ExportSegment{
			{Name: "peek", Desc: &wasm.ExportDesc{Kind: wasm.ExternKindFunction, Index: 0}},
			{Name: "size", Desc: &wasm.ExportDesc{Kind: wasm.ExternKindFunction, Index: 1}},
			{Name: "grow", Desc: &wasm.ExportDesc{Kind: wasm.ExternKindFunction, Index: 2}},
		},
	}, "m")

	ret, _, err := s.CallFunction("m", "peek", 3)
	require.NoError(t, err)
	require.Equal(t, uint64('A'), ret[0])

	ret, _, err = s.CallFunction("m", "peek", 4)
	require.NoError(t, err)
	require.Equal(t, uint64('B'), ret[0])

	ret, _, err = s.CallFunction("m", "size")
	require.NoError(t, err)
	require.Equal(t, uint64(1), ret[0])

	// First grow succeeds and returns the previous page count.
	ret, _, err = s.CallFunction("m", "grow")
	require.NoError(t, err)
	require.Equal(t, uint64(1), ret[0])

	ret, _, err = s.CallFunction("m", "size")
	require.NoError(t, err)
	require.Equal(t, uint64(2), ret[0])

	// Growing past the max reports failure as -1.
	ret, _, err = s.CallFunction("m", "grow")
	require.NoError(t, err)
	require.Equal(t, uint64(math.MaxUint32), ret[0])

	// Loads past the current size trap.
	_, _, err = s.CallFunction("m", "peek", 3*65536)
	require.ErrorIs(t, err, wasm.ErrFunctionTrapped)
}

func TestCall_LoopSum(t *testing.T) {
	s := newStore(t)

	// sum(n) adds n..1 with a block/loop/br_if/br shape.
	instantiate(t, s, &wasm.Module{
		TypeSection:     []*wasm.FunctionType{{Params: []wasm.ValueType{wasm.ValueTypeI32}, Results: []wasm.ValueType{wasm.ValueTypeI32}}},
		FunctionSection: []uint32{0},
		CodeSection: []*wasm.CodeSegment{{
			NumLocals:  1,
			LocalTypes: []wasm.ValueType{wasm.ValueTypeI32},
			Body: []byte{
				wasm.OpcodeBlock, 0x40,
				wasm.OpcodeLoop, 0x40,
				wasm.OpcodeLocalGet, 0x00,
				wasm.OpcodeI32Eqz,
				wasm.OpcodeBrIf, 0x01,
				wasm.OpcodeLocalGet, 0x01,
				wasm.OpcodeLocalGet, 0x00,
				wasm.OpcodeI32Add,
				wasm.OpcodeLocalSet, 0x01,
				wasm.OpcodeLocalGet, 0x00,
				wasm.OpcodeI32Const, 0x01,
				wasm.OpcodeI32Sub,
				wasm.OpcodeLocalSet, 0x00,
				wasm.OpcodeBr, 0x00,
				wasm.OpcodeEnd,
				wasm.OpcodeEnd,
				wasm.OpcodeLocalGet, 0x01,
				wasm.OpcodeEnd,
			},
		}},
		ExportSection: []*wasm.ExportSegment{{Name: "sum", Desc: &wasm.ExportDesc{Kind: wasm.ExternKindFunction, Index: 0}}},
	}, "m")

	for _, c := range []struct{ in, exp uint64 }{
		{0, 0}, {1, 1}, {10, 55}, {100, 5050},
	} {
		ret, _, err := s.CallFunction("m", "sum", c.in)
		require.NoError(t, err)
		require.Equal(t, c.exp, ret[0], "sum(%d)", c.in)
	}
}

func TestCall_BrTable(t *testing.T) {
	s := newStore(t)

	// pick(i): br_table over two blocks; returns 10, 20, or 99 for default.
	instantiate(t, s, &wasm.Module{
		TypeSection:     []*wasm.FunctionType{{Params: []wasm.ValueType{wasm.ValueTypeI32}, Results: []wasm.ValueType{wasm.ValueTypeI32}}},
		FunctionSection: []uint32{0},
		CodeSection: []*wasm.CodeSegment{{
			Body: []byte{
				wasm.OpcodeBlock, 0x40, // depth 2 target -> 99
				wasm.OpcodeBlock, 0x40, // depth 1 target -> 20
				wasm.OpcodeBlock, 0x40, // depth 0 target -> 10
				wasm.OpcodeLocalGet, 0x00,
				wasm.OpcodeBrTable, 0x02, 0x00, 0x01, 0x02,
				wasm.OpcodeEnd,
				wasm.OpcodeI32Const, 0x0a,
				wasm.OpcodeReturn,
				wasm.OpcodeEnd,
				wasm.OpcodeI32Const, 0x14,
				wasm.OpcodeReturn,
				wasm.OpcodeEnd,
				wasm.OpcodeI32Const, 0xe3, 0x00, // 99
				wasm.OpcodeEnd,
			},
		}},
		ExportSection: []*wasm.ExportSegment{{Name: "pick", Desc: &wasm.ExportDesc{Kind: wasm.ExternKindFunction, Index: 0}}},
	}, "m")

	for _, c := range []struct{ in, exp uint64 }{
		{0, 10}, {1, 20}, {2, 99}, {5, 99},
	} {
		ret, _, err := s.CallFunction("m", "pick", c.in)
		require.NoError(t, err)
		require.Equal(t, c.exp, ret[0], "pick(%d)", c.in)
	}
}

func TestCall_DivideByZeroTraps(t *testing.T) {
	s := newStore(t)
	instantiate(t, s, &wasm.Module{
		TypeSection:     []*wasm.FunctionType{{Params: []wasm.ValueType{wasm.ValueTypeI32, wasm.ValueTypeI32}, Results: []wasm.ValueType{wasm.ValueTypeI32}}},
		FunctionSection: []uint32{0},
		CodeSection: []*wasm.CodeSegment{{Body: []byte{
			wasm.OpcodeLocalGet, 0x00,
			wasm.OpcodeLocalGet, 0x01,
			wasm.OpcodeI32DivS,
			wasm.OpcodeEnd,
		}}},
		ExportSection: []*wasm.ExportSegment{{Name: "div", Desc: &wasm.ExportDesc{Kind: wasm.ExternKindFunction, Index: 0}}},
	}, "m")

	ret, _, err := s.CallFunction("m", "div", 42, 6)
	require.NoError(t, err)
	require.Equal(t, uint64(7), ret[0])

	_, _, err = s.CallFunction("m", "div", 42, 0)
	require.ErrorIs(t, err, wasm.ErrFunctionTrapped)

	minInt32 := int32(math.MinInt32)
	_, _, err = s.CallFunction("m", "div", uint64(uint32(minInt32)), uint64(uint32(0xffffffff)))
	require.ErrorIs(t, err, wasm.ErrFunctionTrapped)
}

func TestCall_MutableGlobal(t *testing.T) {
	s := newStore(t)

	// counter() increments a mutable global and returns it.
	instantiate(t, s, &wasm.Module{
		TypeSection:     []*wasm.FunctionType{{Results: []wasm.ValueType{wasm.ValueTypeI32}}},
		FunctionSection: []uint32{0},
		GlobalSection: []*wasm.GlobalSegment{{
			Type: &wasm.GlobalType{ValType: wasm.ValueTypeI32, Mutable: true},
			Init: &wasm.ConstantExpression{Opcode: wasm.OpcodeI32Const, Data: []byte{0x00}},
		}},
		CodeSection: []*wasm.CodeSegment{{Body: []byte{
			wasm.OpcodeGlobalGet, 0x00,
			wasm.OpcodeI32Const, 0x01,
			wasm.OpcodeI32Add,
			wasm.OpcodeGlobalSet, 0x00,
			wasm.OpcodeGlobalGet, 0x00,
			wasm.OpcodeEnd,
		}}},
		ExportSection: []*wasm.ExportSegment{{Name: "counter", Desc: &wasm.ExportDesc{Kind: wasm.ExternKindFunction, Index: 0}}},
	}, "m")

	for want := uint64(1); want <= 3; want++ {
		ret, _, err := s.CallFunction("m", "counter")
		require.NoError(t, err)
		require.Equal(t, want, ret[0])
	}
}

func TestCall_InfiniteRecursionOverflows(t *testing.T) {
	s := newStore(t)
	instantiate(t, s, &wasm.Module{
		TypeSection:     []*wasm.FunctionType{{}},
		FunctionSection: []uint32{0},
		CodeSection:     []*wasm.CodeSegment{{Body: []byte{wasm.OpcodeCall, 0x00, wasm.OpcodeEnd}}},
		ExportSection:   []*wasm.ExportSegment{{Name: "loop", Desc: &wasm.ExportDesc{Kind: wasm.ExternKindFunction, Index: 0}}},
	}, "m")

	_, _, err := s.CallFunction("m", "loop")
	require.ErrorIs(t, err, wasm.ErrFunctionTrapped)
}

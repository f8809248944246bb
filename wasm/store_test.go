package wasm

import (
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"
)

var nopEngineInstance Engine = &nopEngine{}

type nopEngine struct{}

func (e *nopEngine) Compile(_ *Store, _ *FunctionInstance) error {
	return nil
}

func (e *nopEngine) Call(_ *Store, _ *FunctionInstance, _ ...uint64) ([]uint64, error) {
	return nil, nil
}

// trapEngine fails every call, standing in for a trapping interpreter.
type trapEngine struct{}

func (e *trapEngine) Compile(_ *Store, _ *FunctionInstance) error {
	return nil
}

func (e *trapEngine) Call(_ *Store, _ *FunctionInstance, _ ...uint64) ([]uint64, error) {
	return nil, fmt.Errorf("%w: unreachable", ErrFunctionTrapped)
}

func TestStore_GettersFailWithBadAddress(t *testing.T) {
	s := NewStore(nopEngineInstance)

	_, err := s.GetModule(0)
	require.ErrorIs(t, err, ErrBadAddress)
	_, err = s.GetFunction(100)
	require.ErrorIs(t, err, ErrBadAddress)
	_, err = s.GetGlobal(0)
	require.ErrorIs(t, err, ErrBadAddress)
	_, err = s.GetTable(0)
	require.ErrorIs(t, err, ErrBadAddress)
	_, err = s.GetMemory(0)
	require.ErrorIs(t, err, ErrBadAddress)
}

func TestStore_AddressStability(t *testing.T) {
	s := NewStore(nopEngineInstance)

	a1 := s.allocateGlobal(&GlobalType{ValType: ValueTypeI32}, 1)
	g1, err := s.GetGlobal(a1)
	require.NoError(t, err)

	// Later allocations must not move earlier entities.
	for i := 0; i < 100; i++ {
		s.allocateGlobal(&GlobalType{ValType: ValueTypeI64}, uint64(i))
	}
	got, err := s.GetGlobal(a1)
	require.NoError(t, err)
	require.Same(t, g1, got)
	require.Equal(t, uint64(1), got.Val)
}

func TestStore_ResetKeepsHostModules(t *testing.T) {
	s := NewStore(nopEngineInstance)

	hostFn := reflect.ValueOf(func(ctx *HostFunctionCallContext) {})
	require.NoError(t, s.AddHostFunction("env", "nop", hostFn))
	require.NoError(t, s.AddGlobal("env", "g", 7, ValueTypeI32, false))

	require.NoError(t, s.Instantiate(&Module{}, "main"))
	_, ok := s.FindModule("main")
	require.True(t, ok)

	s.Reset()

	_, ok = s.FindModule("main")
	require.False(t, ok)
	envAddr, ok := s.FindModule("env")
	require.True(t, ok)

	env, err := s.GetModule(envAddr)
	require.NoError(t, err)
	g, err := s.GetGlobal(env.GlobalAddrs[0])
	require.NoError(t, err)
	require.Equal(t, uint64(7), g.Val)

	// A fresh instantiation can reuse the purged name.
	require.NoError(t, s.Instantiate(&Module{}, "main"))
}

func TestStore_CallFunctionErrors(t *testing.T) {
	s := NewStore(nopEngineInstance)
	require.NoError(t, s.AddGlobal("env", "g", 0, ValueTypeI32, false))

	_, _, err := s.CallFunction("nope", "f")
	require.Error(t, err)

	_, _, err = s.CallFunction("env", "f")
	require.Error(t, err)

	// Exported, but not a function.
	_, _, err = s.CallFunction("env", "g")
	require.Error(t, err)
}

func TestStore_AddHostFunction(t *testing.T) {
	s := NewStore(nopEngineInstance)

	fn := reflect.ValueOf(func(ctx *HostFunctionCallContext, v uint32) uint32 { return v })
	require.NoError(t, s.AddHostFunction("env", "id", fn))

	// Same name twice is rejected.
	err := s.AddHostFunction("env", "id", fn)
	require.Error(t, err)

	// Missing the context parameter.
	err = s.AddHostFunction("env", "bad", reflect.ValueOf(func(v uint32) uint32 { return v }))
	require.Error(t, err)

	addr, ok := s.FindModule("env")
	require.True(t, ok)
	env, err := s.GetModule(addr)
	require.NoError(t, err)

	exp, ok := env.Exports["id"]
	require.True(t, ok)
	require.Equal(t, ExternKindFunction, exp.Kind)

	f, err := s.GetFunction(env.FunctionAddrs[exp.Index])
	require.NoError(t, err)
	require.NotNil(t, f.HostFunction)
	require.Equal(t, []ValueType{ValueTypeI32}, f.Signature.Params)
	require.Equal(t, []ValueType{ValueTypeI32}, f.Signature.Results)
}

func TestMemoryInstance_Grow(t *testing.T) {
	two := uint32(2)
	m := &MemoryInstance{Buffer: make([]byte, PageSize), Min: 1, Max: &two}

	prev, ok := m.Grow(1)
	require.True(t, ok)
	require.Equal(t, uint32(1), prev)
	require.Equal(t, uint32(2), m.PageCount())

	// Beyond the declared max.
	_, ok = m.Grow(1)
	require.False(t, ok)
	require.Equal(t, uint32(2), m.PageCount())
}

func TestStore_errorsAreDistinguishable(t *testing.T) {
	// The taxonomy kinds must stay distinct for errors.Is dispatch.
	kinds := []error{
		ErrModuleNameConflict, ErrUnknownImport, ErrIncompatibleImportType,
		ErrInvalidInitializer, ErrTableOutOfRange, ErrMemoryOutOfRange,
		ErrDuplicateExportName, ErrBadAddress, ErrStartTrap,
	}
	for i, a := range kinds {
		for j, b := range kinds {
			if i != j {
				require.False(t, errors.Is(a, b), "%v should not match %v", a, b)
			}
		}
	}
}

package wasm

import (
	"fmt"
	"math"
)

type (
	// TrapFunc aborts compiled code with a trap code.
	TrapFunc func(code uint32)
	// CallFunc invokes the function at a store address with args, returning
	// its results.
	CallFunc func(funcAddr uint32, args []uint64) []uint64
	// MemGrowFunc grows the instance's memory by pages, returning the
	// previous page count, or 0xffffffff when the memory cannot grow.
	MemGrowFunc func(pages uint32) uint32
	// MemSizeFunc returns the instance's current page count.
	MemSizeFunc func() uint32

	// CompiledCtor lets an ahead-of-time compiled module bind its globals to
	// the runtime. The four callbacks constitute the entire runtime surface
	// exposed to compiled code.
	CompiledCtor func(trap TrapFunc, call CallFunc, memGrow MemGrowFunc, memSize MemSizeFunc)
)

// invokeCtor runs the compiled-module constructor with callbacks bound to
// instance. A trap raised by any callback aborts the ctor and, with it, the
// whole instantiation.
func (s *Store) invokeCtor(instance *ModuleInstance, ctor CompiledCtor) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrFunctionTrapped, r)
		}
	}()

	trap := func(code uint32) {
		panic(fmt.Sprintf("compiled code trap %d", code))
	}
	call := func(funcAddr uint32, args []uint64) []uint64 {
		f, err := s.GetFunction(funcAddr)
		if err != nil {
			panic(err)
		}
		ret, err := s.engine.Call(s, f, args...)
		if err != nil {
			panic(err)
		}
		return ret
	}
	memGrow := func(pages uint32) uint32 {
		m := s.instanceMemory(instance)
		if m == nil {
			return math.MaxUint32
		}
		prev, ok := m.Grow(pages)
		if !ok {
			return math.MaxUint32
		}
		return prev
	}
	memSize := func() uint32 {
		m := s.instanceMemory(instance)
		if m == nil {
			return 0
		}
		return m.PageCount()
	}

	ctor(trap, call, memGrow, memSize)
	return
}

func (s *Store) instanceMemory(instance *ModuleInstance) *MemoryInstance {
	if len(instance.MemoryAddrs) == 0 {
		return nil
	}
	m, err := s.GetMemory(instance.MemoryAddrs[0])
	if err != nil {
		return nil
	}
	return m
}

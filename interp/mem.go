package interp

import (
	"encoding/binary"
	"math"

	"github.com/mikanvm/mikan/wasm"
)

// memoryBase consumes the alignment hint and offset immediates, pops the
// dynamic address, and returns the effective address.
func memoryBase(vm *vm) uint64 {
	vm.activeFrame.pc++
	_ = vm.fetchUint32() // alignment hint
	return uint64(vm.fetchUint32()) + vm.operands.pop()
}

func (vm *vm) currentMemory() *wasm.MemoryInstance {
	mod := vm.module()
	if len(mod.MemoryAddrs) == 0 {
		panic("module has no memory")
	}
	m, err := vm.store.GetMemory(mod.MemoryAddrs[0])
	if err != nil {
		panic(err)
	}
	return m
}

// memorySlice bounds-checks [base, base+n) and returns it; overflow traps.
func memorySlice(vm *vm, base, n uint64) []byte {
	buf := vm.currentMemory().Buffer
	if base+n > uint64(len(buf)) {
		panic("out of bounds memory access")
	}
	return buf[base : base+n]
}

func i32Load(vm *vm) {
	base := memoryBase(vm)
	vm.operands.push(uint64(binary.LittleEndian.Uint32(memorySlice(vm, base, 4))))
}

func i64Load(vm *vm) {
	base := memoryBase(vm)
	vm.operands.push(binary.LittleEndian.Uint64(memorySlice(vm, base, 8)))
}

func f32Load(vm *vm) {
	i32Load(vm)
}

func f64Load(vm *vm) {
	i64Load(vm)
}

func i32Load8S(vm *vm) {
	base := memoryBase(vm)
	vm.operands.push(uint64(uint32(int8(memorySlice(vm, base, 1)[0]))))
}

func i32Load8U(vm *vm) {
	base := memoryBase(vm)
	vm.operands.push(uint64(memorySlice(vm, base, 1)[0]))
}

func i32Load16S(vm *vm) {
	base := memoryBase(vm)
	vm.operands.push(uint64(uint32(int16(binary.LittleEndian.Uint16(memorySlice(vm, base, 2))))))
}

func i32Load16U(vm *vm) {
	base := memoryBase(vm)
	vm.operands.push(uint64(binary.LittleEndian.Uint16(memorySlice(vm, base, 2))))
}

func i64Load8S(vm *vm) {
	base := memoryBase(vm)
	vm.operands.push(uint64(int8(memorySlice(vm, base, 1)[0])))
}

func i64Load8U(vm *vm) {
	base := memoryBase(vm)
	vm.operands.push(uint64(memorySlice(vm, base, 1)[0]))
}

func i64Load16S(vm *vm) {
	base := memoryBase(vm)
	vm.operands.push(uint64(int16(binary.LittleEndian.Uint16(memorySlice(vm, base, 2)))))
}

func i64Load16U(vm *vm) {
	base := memoryBase(vm)
	vm.operands.push(uint64(binary.LittleEndian.Uint16(memorySlice(vm, base, 2))))
}

func i64Load32S(vm *vm) {
	base := memoryBase(vm)
	vm.operands.push(uint64(int32(binary.LittleEndian.Uint32(memorySlice(vm, base, 4)))))
}

func i64Load32U(vm *vm) {
	base := memoryBase(vm)
	vm.operands.push(uint64(binary.LittleEndian.Uint32(memorySlice(vm, base, 4))))
}

func i32Store(vm *vm) {
	val := vm.operands.pop()
	base := memoryBase(vm)
	binary.LittleEndian.PutUint32(memorySlice(vm, base, 4), uint32(val))
}

func i64Store(vm *vm) {
	val := vm.operands.pop()
	base := memoryBase(vm)
	binary.LittleEndian.PutUint64(memorySlice(vm, base, 8), val)
}

func f32Store(vm *vm) {
	i32Store(vm)
}

func f64Store(vm *vm) {
	i64Store(vm)
}

func i32Store8(vm *vm) {
	val := vm.operands.pop()
	base := memoryBase(vm)
	memorySlice(vm, base, 1)[0] = byte(val)
}

func i32Store16(vm *vm) {
	val := vm.operands.pop()
	base := memoryBase(vm)
	binary.LittleEndian.PutUint16(memorySlice(vm, base, 2), uint16(val))
}

func i64Store8(vm *vm) {
	i32Store8(vm)
}

func i64Store16(vm *vm) {
	i32Store16(vm)
}

func i64Store32(vm *vm) {
	val := vm.operands.pop()
	base := memoryBase(vm)
	binary.LittleEndian.PutUint32(memorySlice(vm, base, 4), uint32(val))
}

func memorySize(vm *vm) {
	vm.activeFrame.pc++
	_ = vm.fetchUint32() // reserved
	vm.operands.push(uint64(vm.currentMemory().PageCount()))
}

func memoryGrow(vm *vm) {
	vm.activeFrame.pc++
	_ = vm.fetchUint32() // reserved
	n := vm.operands.pop()

	prev, ok := vm.currentMemory().Grow(uint32(n))
	if !ok {
		vm.operands.push(uint64(uint32(math.MaxUint32)))
		return
	}
	vm.operands.push(uint64(prev))
}

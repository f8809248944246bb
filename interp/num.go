package interp

import (
	"math"
	"math/bits"

	"github.com/mikanvm/mikan/wasm"
)

// Numeric instructions come in four shapes: unary operators, binary
// operators, binary comparisons, and single-slot conversions. Instead of one
// handler function per opcode, the tables below hold the per-opcode scalar
// semantics and init generates the stack plumbing once per shape, with the
// slot encoding fixed per table: i32 zero-extended in the low bits, i64 in
// the whole slot, floats as their IEEE 754 bits.

func init() {
	registerUnary(i32Unary, rawToU32, u32ToRaw)
	registerUnary(i64Unary, rawToU64, u64ToRaw)
	registerUnary(f32Unary, rawToF32, f32ToRaw)
	registerUnary(f64Unary, rawToF64, f64ToRaw)
	registerBinary(i32Binary, rawToU32, u32ToRaw)
	registerBinary(i64Binary, rawToU64, u64ToRaw)
	registerBinary(f32Binary, rawToF32, f32ToRaw)
	registerBinary(f64Binary, rawToF64, f64ToRaw)
	registerCompare(i32Compare, rawToU32)
	registerCompare(i64Compare, rawToU64)
	registerCompare(f32Compare, rawToF32)
	registerCompare(f64Compare, rawToF64)
	registerConvert(conversions)

	instructionTable[wasm.OpcodeI32Const] = i32Const
	instructionTable[wasm.OpcodeI64Const] = i64Const
	instructionTable[wasm.OpcodeF32Const] = f32Const
	instructionTable[wasm.OpcodeF64Const] = f64Const
}

func registerUnary[T any](ops map[wasm.Opcode]func(T) T, decode func(uint64) T, encode func(T) uint64) {
	for op, fn := range ops {
		fn := fn
		instructionTable[op] = func(vm *vm) {
			vm.operands.push(encode(fn(decode(vm.operands.pop()))))
			vm.activeFrame.pc++
		}
	}
}

func registerBinary[T any](ops map[wasm.Opcode]func(v1, v2 T) T, decode func(uint64) T, encode func(T) uint64) {
	for op, fn := range ops {
		fn := fn
		instructionTable[op] = func(vm *vm) {
			v2, v1 := decode(vm.operands.pop()), decode(vm.operands.pop())
			vm.operands.push(encode(fn(v1, v2)))
			vm.activeFrame.pc++
		}
	}
}

func registerCompare[T any](ops map[wasm.Opcode]func(v1, v2 T) bool, decode func(uint64) T) {
	for op, fn := range ops {
		fn := fn
		instructionTable[op] = func(vm *vm) {
			v2, v1 := decode(vm.operands.pop()), decode(vm.operands.pop())
			if fn(v1, v2) {
				vm.operands.push(1)
			} else {
				vm.operands.push(0)
			}
			vm.activeFrame.pc++
		}
	}
}

func registerConvert(ops map[wasm.Opcode]func(uint64) uint64) {
	for op, fn := range ops {
		fn := fn
		instructionTable[op] = func(vm *vm) {
			vm.operands.push(fn(vm.operands.pop()))
			vm.activeFrame.pc++
		}
	}
}

// Slot codecs, one pair per value type.

func rawToU32(raw uint64) uint32 { return uint32(raw) }
func u32ToRaw(v uint32) uint64   { return uint64(v) }

func rawToU64(raw uint64) uint64 { return raw }
func u64ToRaw(v uint64) uint64   { return v }

func rawToF32(raw uint64) float32 { return math.Float32frombits(uint32(raw)) }
func f32ToRaw(v float32) uint64   { return uint64(math.Float32bits(v)) }

func rawToF64(raw uint64) float64 { return math.Float64frombits(raw) }
func f64ToRaw(v float64) uint64   { return math.Float64bits(v) }

// Constants fetch their immediate from the body, so they stay hand-written.

func i32Const(vm *vm) {
	vm.activeFrame.pc++
	vm.operands.push(uint64(uint32(vm.fetchInt32())))
}

func i64Const(vm *vm) {
	vm.activeFrame.pc++
	vm.operands.push(uint64(vm.fetchInt64()))
}

func f32Const(vm *vm) {
	vm.activeFrame.pc++
	vm.operands.push(uint64(math.Float32bits(vm.fetchFloat32())))
}

func f64Const(vm *vm) {
	vm.activeFrame.pc++
	vm.operands.push(math.Float64bits(vm.fetchFloat64()))
}

// Integer division and remainder trap on a zero divisor, and signed division
// traps on the one overflowing quotient.

func divS32(v1, v2 int32) int32 {
	if v2 == 0 {
		panic("integer divide by zero")
	}
	if v1 == math.MinInt32 && v2 == -1 {
		panic("integer overflow")
	}
	return v1 / v2
}

func remS32(v1, v2 int32) int32 {
	if v2 == 0 {
		panic("integer divide by zero")
	}
	if v1 == math.MinInt32 && v2 == -1 {
		// The quotient rounds toward zero, leaving no remainder.
		return 0
	}
	return v1 % v2
}

func divS64(v1, v2 int64) int64 {
	if v2 == 0 {
		panic("integer divide by zero")
	}
	if v1 == math.MinInt64 && v2 == -1 {
		panic("integer overflow")
	}
	return v1 / v2
}

func remS64(v1, v2 int64) int64 {
	if v2 == 0 {
		panic("integer divide by zero")
	}
	if v1 == math.MinInt64 && v2 == -1 {
		return 0
	}
	return v1 % v2
}

func checkDivisor[T uint32 | uint64](v T) T {
	if v == 0 {
		panic("integer divide by zero")
	}
	return v
}

var i32Unary = map[wasm.Opcode]func(uint32) uint32{
	wasm.OpcodeI32Eqz: func(v uint32) uint32 {
		if v == 0 {
			return 1
		}
		return 0
	},
	wasm.OpcodeI32Clz:    func(v uint32) uint32 { return uint32(bits.LeadingZeros32(v)) },
	wasm.OpcodeI32Ctz:    func(v uint32) uint32 { return uint32(bits.TrailingZeros32(v)) },
	wasm.OpcodeI32Popcnt: func(v uint32) uint32 { return uint32(bits.OnesCount32(v)) },
}

var i32Binary = map[wasm.Opcode]func(v1, v2 uint32) uint32{
	wasm.OpcodeI32Add:  func(v1, v2 uint32) uint32 { return v1 + v2 },
	wasm.OpcodeI32Sub:  func(v1, v2 uint32) uint32 { return v1 - v2 },
	wasm.OpcodeI32Mul:  func(v1, v2 uint32) uint32 { return v1 * v2 },
	wasm.OpcodeI32DivS: func(v1, v2 uint32) uint32 { return uint32(divS32(int32(v1), int32(v2))) },
	wasm.OpcodeI32DivU: func(v1, v2 uint32) uint32 { return v1 / checkDivisor(v2) },
	wasm.OpcodeI32RemS: func(v1, v2 uint32) uint32 { return uint32(remS32(int32(v1), int32(v2))) },
	wasm.OpcodeI32RemU: func(v1, v2 uint32) uint32 { return v1 % checkDivisor(v2) },
	wasm.OpcodeI32And:  func(v1, v2 uint32) uint32 { return v1 & v2 },
	wasm.OpcodeI32Or:   func(v1, v2 uint32) uint32 { return v1 | v2 },
	wasm.OpcodeI32Xor:  func(v1, v2 uint32) uint32 { return v1 ^ v2 },
	wasm.OpcodeI32Shl:  func(v1, v2 uint32) uint32 { return v1 << (v2 % 32) },
	wasm.OpcodeI32ShrS: func(v1, v2 uint32) uint32 { return uint32(int32(v1) >> (v2 % 32)) },
	wasm.OpcodeI32ShrU: func(v1, v2 uint32) uint32 { return v1 >> (v2 % 32) },
	wasm.OpcodeI32Rotl: func(v1, v2 uint32) uint32 { return bits.RotateLeft32(v1, int(v2)) },
	wasm.OpcodeI32Rotr: func(v1, v2 uint32) uint32 { return bits.RotateLeft32(v1, -int(v2)) },
}

var i32Compare = map[wasm.Opcode]func(v1, v2 uint32) bool{
	wasm.OpcodeI32Eq:  func(v1, v2 uint32) bool { return v1 == v2 },
	wasm.OpcodeI32Ne:  func(v1, v2 uint32) bool { return v1 != v2 },
	wasm.OpcodeI32LtS: func(v1, v2 uint32) bool { return int32(v1) < int32(v2) },
	wasm.OpcodeI32LtU: func(v1, v2 uint32) bool { return v1 < v2 },
	wasm.OpcodeI32GtS: func(v1, v2 uint32) bool { return int32(v1) > int32(v2) },
	wasm.OpcodeI32GtU: func(v1, v2 uint32) bool { return v1 > v2 },
	wasm.OpcodeI32LeS: func(v1, v2 uint32) bool { return int32(v1) <= int32(v2) },
	wasm.OpcodeI32LeU: func(v1, v2 uint32) bool { return v1 <= v2 },
	wasm.OpcodeI32GeS: func(v1, v2 uint32) bool { return int32(v1) >= int32(v2) },
	wasm.OpcodeI32GeU: func(v1, v2 uint32) bool { return v1 >= v2 },
}

var i64Unary = map[wasm.Opcode]func(uint64) uint64{
	wasm.OpcodeI64Eqz: func(v uint64) uint64 {
		if v == 0 {
			return 1
		}
		return 0
	},
	wasm.OpcodeI64Clz:    func(v uint64) uint64 { return uint64(bits.LeadingZeros64(v)) },
	wasm.OpcodeI64Ctz:    func(v uint64) uint64 { return uint64(bits.TrailingZeros64(v)) },
	wasm.OpcodeI64Popcnt: func(v uint64) uint64 { return uint64(bits.OnesCount64(v)) },
}

var i64Binary = map[wasm.Opcode]func(v1, v2 uint64) uint64{
	wasm.OpcodeI64Add:  func(v1, v2 uint64) uint64 { return v1 + v2 },
	wasm.OpcodeI64Sub:  func(v1, v2 uint64) uint64 { return v1 - v2 },
	wasm.OpcodeI64Mul:  func(v1, v2 uint64) uint64 { return v1 * v2 },
	wasm.OpcodeI64DivS: func(v1, v2 uint64) uint64 { return uint64(divS64(int64(v1), int64(v2))) },
	wasm.OpcodeI64DivU: func(v1, v2 uint64) uint64 { return v1 / checkDivisor(v2) },
	wasm.OpcodeI64RemS: func(v1, v2 uint64) uint64 { return uint64(remS64(int64(v1), int64(v2))) },
	wasm.OpcodeI64RemU: func(v1, v2 uint64) uint64 { return v1 % checkDivisor(v2) },
	wasm.OpcodeI64And:  func(v1, v2 uint64) uint64 { return v1 & v2 },
	wasm.OpcodeI64Or:   func(v1, v2 uint64) uint64 { return v1 | v2 },
	wasm.OpcodeI64Xor:  func(v1, v2 uint64) uint64 { return v1 ^ v2 },
	wasm.OpcodeI64Shl:  func(v1, v2 uint64) uint64 { return v1 << (v2 % 64) },
	wasm.OpcodeI64ShrS: func(v1, v2 uint64) uint64 { return uint64(int64(v1) >> (v2 % 64)) },
	wasm.OpcodeI64ShrU: func(v1, v2 uint64) uint64 { return v1 >> (v2 % 64) },
	wasm.OpcodeI64Rotl: func(v1, v2 uint64) uint64 { return bits.RotateLeft64(v1, int(v2)) },
	wasm.OpcodeI64Rotr: func(v1, v2 uint64) uint64 { return bits.RotateLeft64(v1, -int(v2)) },
}

var i64Compare = map[wasm.Opcode]func(v1, v2 uint64) bool{
	wasm.OpcodeI64Eq:  func(v1, v2 uint64) bool { return v1 == v2 },
	wasm.OpcodeI64Ne:  func(v1, v2 uint64) bool { return v1 != v2 },
	wasm.OpcodeI64LtS: func(v1, v2 uint64) bool { return int64(v1) < int64(v2) },
	wasm.OpcodeI64LtU: func(v1, v2 uint64) bool { return v1 < v2 },
	wasm.OpcodeI64GtS: func(v1, v2 uint64) bool { return int64(v1) > int64(v2) },
	wasm.OpcodeI64GtU: func(v1, v2 uint64) bool { return v1 > v2 },
	wasm.OpcodeI64LeS: func(v1, v2 uint64) bool { return int64(v1) <= int64(v2) },
	wasm.OpcodeI64LeU: func(v1, v2 uint64) bool { return v1 <= v2 },
	wasm.OpcodeI64GeS: func(v1, v2 uint64) bool { return int64(v1) >= int64(v2) },
	wasm.OpcodeI64GeU: func(v1, v2 uint64) bool { return v1 >= v2 },
}

var f32Unary = map[wasm.Opcode]func(float32) float32{
	wasm.OpcodeF32Abs:     func(v float32) float32 { return float32(math.Abs(float64(v))) },
	wasm.OpcodeF32Neg:     func(v float32) float32 { return -v },
	wasm.OpcodeF32Ceil:    func(v float32) float32 { return float32(math.Ceil(float64(v))) },
	wasm.OpcodeF32Floor:   func(v float32) float32 { return float32(math.Floor(float64(v))) },
	wasm.OpcodeF32Trunc:   func(v float32) float32 { return float32(math.Trunc(float64(v))) },
	wasm.OpcodeF32Nearest: func(v float32) float32 { return float32(math.RoundToEven(float64(v))) },
	wasm.OpcodeF32Sqrt:    func(v float32) float32 { return float32(math.Sqrt(float64(v))) },
}

var f32Binary = map[wasm.Opcode]func(v1, v2 float32) float32{
	wasm.OpcodeF32Add:      func(v1, v2 float32) float32 { return v1 + v2 },
	wasm.OpcodeF32Sub:      func(v1, v2 float32) float32 { return v1 - v2 },
	wasm.OpcodeF32Mul:      func(v1, v2 float32) float32 { return v1 * v2 },
	wasm.OpcodeF32Div:      func(v1, v2 float32) float32 { return v1 / v2 },
	wasm.OpcodeF32Min:      func(v1, v2 float32) float32 { return float32(math.Min(float64(v1), float64(v2))) },
	wasm.OpcodeF32Max:      func(v1, v2 float32) float32 { return float32(math.Max(float64(v1), float64(v2))) },
	wasm.OpcodeF32Copysign: func(v1, v2 float32) float32 { return float32(math.Copysign(float64(v1), float64(v2))) },
}

var f32Compare = map[wasm.Opcode]func(v1, v2 float32) bool{
	wasm.OpcodeF32Eq: func(v1, v2 float32) bool { return v1 == v2 },
	wasm.OpcodeF32Ne: func(v1, v2 float32) bool { return v1 != v2 },
	wasm.OpcodeF32Lt: func(v1, v2 float32) bool { return v1 < v2 },
	wasm.OpcodeF32Gt: func(v1, v2 float32) bool { return v1 > v2 },
	wasm.OpcodeF32Le: func(v1, v2 float32) bool { return v1 <= v2 },
	wasm.OpcodeF32Ge: func(v1, v2 float32) bool { return v1 >= v2 },
}

var f64Unary = map[wasm.Opcode]func(float64) float64{
	wasm.OpcodeF64Abs:     math.Abs,
	wasm.OpcodeF64Neg:     func(v float64) float64 { return -v },
	wasm.OpcodeF64Ceil:    math.Ceil,
	wasm.OpcodeF64Floor:   math.Floor,
	wasm.OpcodeF64Trunc:   math.Trunc,
	wasm.OpcodeF64Nearest: math.RoundToEven,
	wasm.OpcodeF64Sqrt:    math.Sqrt,
}

var f64Binary = map[wasm.Opcode]func(v1, v2 float64) float64{
	wasm.OpcodeF64Add:      func(v1, v2 float64) float64 { return v1 + v2 },
	wasm.OpcodeF64Sub:      func(v1, v2 float64) float64 { return v1 - v2 },
	wasm.OpcodeF64Mul:      func(v1, v2 float64) float64 { return v1 * v2 },
	wasm.OpcodeF64Div:      func(v1, v2 float64) float64 { return v1 / v2 },
	wasm.OpcodeF64Min:      math.Min,
	wasm.OpcodeF64Max:      math.Max,
	wasm.OpcodeF64Copysign: math.Copysign,
}

var f64Compare = map[wasm.Opcode]func(v1, v2 float64) bool{
	wasm.OpcodeF64Eq: func(v1, v2 float64) bool { return v1 == v2 },
	wasm.OpcodeF64Ne: func(v1, v2 float64) bool { return v1 != v2 },
	wasm.OpcodeF64Lt: func(v1, v2 float64) bool { return v1 < v2 },
	wasm.OpcodeF64Gt: func(v1, v2 float64) bool { return v1 > v2 },
	wasm.OpcodeF64Le: func(v1, v2 float64) bool { return v1 <= v2 },
	wasm.OpcodeF64Ge: func(v1, v2 float64) bool { return v1 >= v2 },
}

// identity covers the reinterpret instructions: only the type tag changes,
// the slot bits stay put.
func identity(raw uint64) uint64 { return raw }

var conversions = map[wasm.Opcode]func(uint64) uint64{
	wasm.OpcodeI32WrapI64:   func(raw uint64) uint64 { return uint64(uint32(raw)) },
	wasm.OpcodeI32TruncF32S: func(raw uint64) uint64 { return uint64(uint32(int32(math.Trunc(float64(rawToF32(raw)))))) },
	wasm.OpcodeI32TruncF32U: func(raw uint64) uint64 { return uint64(uint32(math.Trunc(float64(rawToF32(raw))))) },
	wasm.OpcodeI32TruncF64S: func(raw uint64) uint64 { return uint64(uint32(int32(math.Trunc(rawToF64(raw))))) },
	wasm.OpcodeI32TruncF64U: func(raw uint64) uint64 { return uint64(uint32(math.Trunc(rawToF64(raw)))) },

	wasm.OpcodeI64ExtendI32S: func(raw uint64) uint64 { return uint64(int64(int32(raw))) },
	wasm.OpcodeI64ExtendI32U: func(raw uint64) uint64 { return uint64(uint32(raw)) },
	wasm.OpcodeI64TruncF32S:  func(raw uint64) uint64 { return uint64(int64(math.Trunc(float64(rawToF32(raw))))) },
	wasm.OpcodeI64TruncF32U:  func(raw uint64) uint64 { return uint64(math.Trunc(float64(rawToF32(raw)))) },
	wasm.OpcodeI64TruncF64S:  func(raw uint64) uint64 { return uint64(int64(math.Trunc(rawToF64(raw)))) },
	wasm.OpcodeI64TruncF64U:  func(raw uint64) uint64 { return uint64(math.Trunc(rawToF64(raw))) },

	wasm.OpcodeF32ConvertI32S: func(raw uint64) uint64 { return f32ToRaw(float32(int32(raw))) },
	wasm.OpcodeF32ConvertI32U: func(raw uint64) uint64 { return f32ToRaw(float32(uint32(raw))) },
	wasm.OpcodeF32ConvertI64S: func(raw uint64) uint64 { return f32ToRaw(float32(int64(raw))) },
	wasm.OpcodeF32ConvertI64U: func(raw uint64) uint64 { return f32ToRaw(float32(raw)) },
	wasm.OpcodeF32DemoteF64:   func(raw uint64) uint64 { return f32ToRaw(float32(rawToF64(raw))) },

	wasm.OpcodeF64ConvertI32S: func(raw uint64) uint64 { return f64ToRaw(float64(int32(raw))) },
	wasm.OpcodeF64ConvertI32U: func(raw uint64) uint64 { return f64ToRaw(float64(uint32(raw))) },
	wasm.OpcodeF64ConvertI64S: func(raw uint64) uint64 { return f64ToRaw(float64(int64(raw))) },
	wasm.OpcodeF64ConvertI64U: func(raw uint64) uint64 { return f64ToRaw(float64(raw)) },
	wasm.OpcodeF64PromoteF32:  func(raw uint64) uint64 { return f64ToRaw(float64(rawToF32(raw))) },

	wasm.OpcodeI32ReinterpretF32: identity,
	wasm.OpcodeI64ReinterpretF64: identity,
	wasm.OpcodeF32ReinterpretI32: identity,
	wasm.OpcodeF64ReinterpretI64: identity,
}

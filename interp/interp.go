// Package interp is the main-loop interpreter: a straightforward
// stack-machine execution of WebAssembly 1.0 (MVP) function bodies against a
// wasm.Store.
package interp

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"reflect"

	"github.com/mikanvm/mikan/wasm"
	"github.com/mikanvm/mikan/wasm/leb128"
)

const callStackCeiling = 2000

type engine struct{}

var _ wasm.Engine = &engine{}

// NewEngine returns an interpreter implementing wasm.Engine.
func NewEngine() wasm.Engine {
	return &engine{}
}

// Compile discovers the control structure of f's body so that block, loop
// and if can jump without rescanning. Host functions have nothing to do.
func (e *engine) Compile(store *wasm.Store, f *wasm.FunctionInstance) error {
	if f.HostFunction != nil {
		return nil
	}
	mod, err := store.GetModule(f.ModuleAddr)
	if err != nil {
		return err
	}
	return parseBlocks(mod, f)
}

// Call invokes f with args. Traps unwind through panic and surface as
// wasm.ErrFunctionTrapped.
func (e *engine) Call(store *wasm.Store, f *wasm.FunctionInstance, args ...uint64) (returns []uint64, err error) {
	if len(f.Signature.Params) != len(args) {
		return nil, fmt.Errorf("invalid number of arguments")
	}

	vm := &vm{store: store, operands: &operandStack{}}
	defer func() {
		if r := recover(); r != nil {
			// Stack unwind.
			err = fmt.Errorf("%w: %v", wasm.ErrFunctionTrapped, r)
		}
	}()

	debugf("call %s", f.Name)

	vm.operands.pushAll(args)
	vm.invoke(f)
	return vm.operands.popN(len(f.Signature.Results)), nil
}

type vm struct {
	store       *wasm.Store
	operands    *operandStack
	frames      []*frame
	activeFrame *frame
}

type frame struct {
	pc     uint64
	f      *wasm.FunctionInstance
	locals []uint64
	labels []label

	// Operand height at function entry; return truncates back to it,
	// carrying only the declared results.
	base        int
	returnArity int
}

func (fr *frame) pushLabel(l label) {
	fr.labels = append(fr.labels, l)
}

func (fr *frame) popLabel() label {
	l := fr.labels[len(fr.labels)-1]
	fr.labels = fr.labels[:len(fr.labels)-1]
	return l
}

// invoke dispatches to the host or the native path.
func (vm *vm) invoke(f *wasm.FunctionInstance) {
	if f.HostFunction != nil {
		vm.callHost(f)
		return
	}
	vm.execFunction(f)
}

func (vm *vm) execFunction(f *wasm.FunctionInstance) {
	if len(vm.frames) >= callStackCeiling {
		panic(wasm.ErrCallStackOverflow)
	}

	al := len(f.Signature.Params)
	locals := make([]uint64, int(f.NumLocals)+al)
	for i := al - 1; i >= 0; i-- {
		locals[i] = vm.operands.pop()
	}

	fr := &frame{
		f:           f,
		locals:      locals,
		base:        vm.operands.height(),
		returnArity: len(f.Signature.Results),
	}
	fr.pushLabel(label{
		arity:          len(f.Signature.Results),
		continuationPC: uint64(len(f.Body)),
		operandHeight:  vm.operands.height(),
	})

	vm.frames = append(vm.frames, fr)
	vm.activeFrame = fr
	for vm.activeFrame == fr {
		if fr.pc >= uint64(len(f.Body)) {
			vm.popFrame()
			break
		}
		op := f.Body[fr.pc]
		h := instructionTable[op]
		if h == nil {
			panic(fmt.Sprintf("unknown opcode %#x", op))
		}
		h(vm)
	}
}

func (vm *vm) popFrame() {
	vm.frames = vm.frames[:len(vm.frames)-1]
	if len(vm.frames) == 0 {
		vm.activeFrame = nil
	} else {
		vm.activeFrame = vm.frames[len(vm.frames)-1]
	}
}

// module returns the instance whose index spaces govern the active frame.
func (vm *vm) module() *wasm.ModuleInstance {
	m, err := vm.store.GetModule(vm.activeFrame.f.ModuleAddr)
	if err != nil {
		panic(err)
	}
	return m
}

func (vm *vm) function(addr uint32) *wasm.FunctionInstance {
	f, err := vm.store.GetFunction(addr)
	if err != nil {
		panic(err)
	}
	return f
}

func (vm *vm) callHost(f *wasm.FunctionInstance) {
	hostF := *f.HostFunction
	tp := hostF.Type()

	in := make([]reflect.Value, tp.NumIn())
	for i := tp.NumIn() - 1; i >= 1; i-- {
		raw := vm.operands.pop()
		val := reflect.New(tp.In(i)).Elem()
		switch tp.In(i).Kind() {
		case reflect.Float32:
			val.SetFloat(float64(math.Float32frombits(uint32(raw))))
		case reflect.Float64:
			val.SetFloat(math.Float64frombits(raw))
		case reflect.Uint32, reflect.Uint64:
			val.SetUint(raw)
		case reflect.Int32, reflect.Int64:
			val.SetInt(int64(raw))
		default:
			panic("invalid host function input type")
		}
		in[i] = val
	}

	// The context carries the memory of the importing module at the time of
	// the call, when there is one.
	var mem *wasm.MemoryInstance
	if vm.activeFrame != nil {
		if mod := vm.module(); len(mod.MemoryAddrs) > 0 {
			m, err := vm.store.GetMemory(mod.MemoryAddrs[0])
			if err != nil {
				panic(err)
			}
			mem = m
		}
	}
	in[0] = reflect.ValueOf(&wasm.HostFunctionCallContext{Memory: mem})

	for _, ret := range hostF.Call(in) {
		switch ret.Kind() {
		case reflect.Float32:
			vm.operands.push(uint64(math.Float32bits(float32(ret.Float()))))
		case reflect.Float64:
			vm.operands.push(math.Float64bits(ret.Float()))
		case reflect.Uint32, reflect.Uint64:
			vm.operands.push(ret.Uint())
		case reflect.Int32:
			vm.operands.push(uint64(uint32(ret.Int())))
		case reflect.Int64:
			vm.operands.push(uint64(ret.Int()))
		default:
			panic("invalid host function return type")
		}
	}
}

func (vm *vm) fetchUint32() uint32 {
	fr := vm.activeFrame
	v, num, err := leb128.DecodeUint32(bytes.NewReader(fr.f.Body[fr.pc:]))
	if err != nil {
		panic(err)
	}
	fr.pc += num
	return v
}

func (vm *vm) fetchInt32() int32 {
	fr := vm.activeFrame
	v, num, err := leb128.DecodeInt32(bytes.NewReader(fr.f.Body[fr.pc:]))
	if err != nil {
		panic(err)
	}
	fr.pc += num
	return v
}

func (vm *vm) fetchInt64() int64 {
	fr := vm.activeFrame
	v, num, err := leb128.DecodeInt64(bytes.NewReader(fr.f.Body[fr.pc:]))
	if err != nil {
		panic(err)
	}
	fr.pc += num
	return v
}

func (vm *vm) fetchFloat32() float32 {
	fr := vm.activeFrame
	v := math.Float32frombits(binary.LittleEndian.Uint32(fr.f.Body[fr.pc:]))
	fr.pc += 4
	return v
}

func (vm *vm) fetchFloat64() float64 {
	fr := vm.activeFrame
	v := math.Float64frombits(binary.LittleEndian.Uint64(fr.f.Body[fr.pc:]))
	fr.pc += 8
	return v
}

var instructionTable [256]func(vm *vm)

func init() {
	instructionTable = [256]func(vm *vm){
		wasm.OpcodeUnreachable:  func(vm *vm) { panic("unreachable") },
		wasm.OpcodeNop:          func(vm *vm) { vm.activeFrame.pc++ },
		wasm.OpcodeBlock:        block,
		wasm.OpcodeLoop:         loop,
		wasm.OpcodeIf:           ifOp,
		wasm.OpcodeElse:         elseOp,
		wasm.OpcodeEnd:          end,
		wasm.OpcodeBr:           br,
		wasm.OpcodeBrIf:         brIf,
		wasm.OpcodeBrTable:      brTable,
		wasm.OpcodeReturn:       returnOp,
		wasm.OpcodeCall:         call,
		wasm.OpcodeCallIndirect: callIndirect,

		wasm.OpcodeDrop:   drop,
		wasm.OpcodeSelect: selectOp,

		wasm.OpcodeLocalGet:  localGet,
		wasm.OpcodeLocalSet:  localSet,
		wasm.OpcodeLocalTee:  localTee,
		wasm.OpcodeGlobalGet: globalGet,
		wasm.OpcodeGlobalSet: globalSet,

		wasm.OpcodeI32Load:    i32Load,
		wasm.OpcodeI64Load:    i64Load,
		wasm.OpcodeF32Load:    f32Load,
		wasm.OpcodeF64Load:    f64Load,
		wasm.OpcodeI32Load8S:  i32Load8S,
		wasm.OpcodeI32Load8U:  i32Load8U,
		wasm.OpcodeI32Load16S: i32Load16S,
		wasm.OpcodeI32Load16U: i32Load16U,
		wasm.OpcodeI64Load8S:  i64Load8S,
		wasm.OpcodeI64Load8U:  i64Load8U,
		wasm.OpcodeI64Load16S: i64Load16S,
		wasm.OpcodeI64Load16U: i64Load16U,
		wasm.OpcodeI64Load32S: i64Load32S,
		wasm.OpcodeI64Load32U: i64Load32U,
		wasm.OpcodeI32Store:   i32Store,
		wasm.OpcodeI64Store:   i64Store,
		wasm.OpcodeF32Store:   f32Store,
		wasm.OpcodeF64Store:   f64Store,
		wasm.OpcodeI32Store8:  i32Store8,
		wasm.OpcodeI32Store16: i32Store16,
		wasm.OpcodeI64Store8:  i64Store8,
		wasm.OpcodeI64Store16: i64Store16,
		wasm.OpcodeI64Store32: i64Store32,
		wasm.OpcodeMemorySize: memorySize,
		wasm.OpcodeMemoryGrow: memoryGrow,

		// The numeric instructions (constants, comparisons, operators and
		// conversions) are registered by the init in num.go, generated from
		// per-opcode tables.
	}
}

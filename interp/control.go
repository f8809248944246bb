package interp

import (
	"bytes"
	"fmt"

	"github.com/mikanvm/mikan/wasm/leb128"
)

func block(vm *vm) {
	fr := vm.activeFrame
	b, ok := fr.f.Blocks[fr.pc]
	if !ok {
		panic("block not compiled")
	}
	fr.pushLabel(label{
		arity:          len(b.BlockType.Results),
		continuationPC: b.EndAt + 1,
		operandHeight:  vm.operands.height(),
	})
	fr.pc += 1 + b.BlockTypeBytes
}

func loop(vm *vm) {
	fr := vm.activeFrame
	b, ok := fr.f.Blocks[fr.pc]
	if !ok {
		panic("block not compiled")
	}
	// A branch to a loop label continues at the loop head, which re-pushes
	// this label, so the net label depth stays stable.
	fr.pushLabel(label{
		arity:          len(b.BlockType.Params),
		continuationPC: b.StartAt,
		operandHeight:  vm.operands.height() - len(b.BlockType.Params),
	})
	fr.pc += 1 + b.BlockTypeBytes
}

func ifOp(vm *vm) {
	fr := vm.activeFrame
	b, ok := fr.f.Blocks[fr.pc]
	if !ok {
		panic("block not compiled")
	}

	cond := vm.operands.pop()
	if cond == 0 && b.ElseAt == 0 {
		// No else arm: nothing to execute and nothing to produce.
		fr.pc = b.EndAt + 1
		return
	}

	if cond == 0 {
		fr.pc = b.ElseAt + 1
	} else {
		fr.pc += 1 + b.BlockTypeBytes
	}
	fr.pushLabel(label{
		arity:          len(b.BlockType.Results),
		continuationPC: b.EndAt + 1,
		operandHeight:  vm.operands.height(),
	})
}

func elseOp(vm *vm) {
	// Reached only by falling out of the then arm: skip over the else arm.
	fr := vm.activeFrame
	fr.pc = fr.popLabel().continuationPC
}

func end(vm *vm) {
	fr := vm.activeFrame
	fr.popLabel()
	fr.pc++
}

// returnOp is stack-polymorphic: anything between the frame base and the
// declared results is discarded.
func returnOp(vm *vm) {
	fr := vm.activeFrame
	results := vm.operands.popN(fr.returnArity)
	vm.operands.truncate(fr.base)
	vm.operands.pushAll(results)
	vm.popFrame()
}

func br(vm *vm) {
	vm.activeFrame.pc++
	index := vm.fetchUint32()
	brAt(vm, index)
}

func brIf(vm *vm) {
	vm.activeFrame.pc++
	index := vm.fetchUint32()
	if vm.operands.pop() != 0 {
		brAt(vm, index)
	}
}

func brAt(vm *vm, index uint32) {
	fr := vm.activeFrame
	var l label
	for i := uint32(0); i < index+1; i++ {
		l = fr.popLabel()
	}

	values := vm.operands.popN(l.arity)
	vm.operands.truncate(l.operandHeight)
	vm.operands.pushAll(values)
	fr.pc = l.continuationPC
}

func brTable(vm *vm) {
	fr := vm.activeFrame
	fr.pc++
	r := bytes.NewReader(fr.f.Body[fr.pc:])
	nl, num, err := leb128.DecodeUint32(r)
	if err != nil {
		panic(err)
	}

	targets := make([]uint32, nl)
	for i := range targets {
		t, n, err := leb128.DecodeUint32(r)
		if err != nil {
			panic(err)
		}
		num += n
		targets[i] = t
	}
	ln, n, err := leb128.DecodeUint32(r)
	if err != nil {
		panic(err)
	}
	fr.pc += num + n

	if i := vm.operands.pop(); i < uint64(nl) {
		brAt(vm, targets[i])
	} else {
		brAt(vm, ln)
	}
}

func call(vm *vm) {
	fr := vm.activeFrame
	fr.pc++
	index := vm.fetchUint32()

	mod := vm.module()
	if index >= uint32(len(mod.FunctionAddrs)) {
		panic(fmt.Sprintf("unknown function index %d", index))
	}
	vm.invoke(vm.function(mod.FunctionAddrs[index]))
}

func callIndirect(vm *vm) {
	fr := vm.activeFrame
	fr.pc++
	typeIndex := vm.fetchUint32()
	// WebAssembly 1.0 (MVP) limits the table index space to one table.
	fr.pc++ // skip 0x00

	mod := vm.module()
	if len(mod.TableAddrs) == 0 {
		panic("module has no table")
	}
	table, err := vm.store.GetTable(mod.TableAddrs[0])
	if err != nil {
		panic(err)
	}

	index := vm.operands.pop()
	if index >= uint64(len(table.Table)) {
		panic("undefined table element")
	}
	elm := table.Table[index]
	if elm == nil {
		panic("uninitialized table element")
	}

	f := vm.function(*elm)
	if typeIndex >= uint32(len(mod.Types)) {
		panic(fmt.Sprintf("unknown type index %d for call_indirect", typeIndex))
	}
	expType := mod.Types[typeIndex]
	if f.Signature.String() != expType.String() {
		panic(fmt.Sprintf("function signature mismatch: %s != %s", f.Signature, expType))
	}
	vm.invoke(f)
}

func drop(vm *vm) {
	vm.operands.drop()
	vm.activeFrame.pc++
}

func selectOp(vm *vm) {
	c := vm.operands.pop()
	v2 := vm.operands.pop()
	if c == 0 {
		_ = vm.operands.pop()
		vm.operands.push(v2)
	}
	vm.activeFrame.pc++
}

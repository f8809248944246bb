package interp

import "fmt"

func localGet(vm *vm) {
	vm.activeFrame.pc++
	id := vm.fetchUint32()
	vm.operands.push(vm.activeFrame.locals[id])
}

func localSet(vm *vm) {
	vm.activeFrame.pc++
	id := vm.fetchUint32()
	vm.activeFrame.locals[id] = vm.operands.pop()
}

func localTee(vm *vm) {
	vm.activeFrame.pc++
	id := vm.fetchUint32()
	vm.activeFrame.locals[id] = vm.operands.peek()
}

func globalGet(vm *vm) {
	vm.activeFrame.pc++
	id := vm.fetchUint32()

	mod := vm.module()
	if id >= uint32(len(mod.GlobalAddrs)) {
		panic(fmt.Sprintf("unknown global index %d", id))
	}
	g, err := vm.store.GetGlobal(mod.GlobalAddrs[id])
	if err != nil {
		panic(err)
	}
	vm.operands.push(g.Val)
}

func globalSet(vm *vm) {
	vm.activeFrame.pc++
	id := vm.fetchUint32()

	mod := vm.module()
	if id >= uint32(len(mod.GlobalAddrs)) {
		panic(fmt.Sprintf("unknown global index %d", id))
	}
	g, err := vm.store.GetGlobal(mod.GlobalAddrs[id])
	if err != nil {
		panic(err)
	}
	if !g.Type.Mutable {
		panic(fmt.Sprintf("global.set on immutable global %d", id))
	}
	g.Val = vm.operands.pop()
}

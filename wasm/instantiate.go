package wasm

import "fmt"

// InstantiateMode selects the arena bucket a module instance is published
// through. ModeImport marks the instance (and everything allocated for it)
// as host-registered, which Reset preserves; the pipeline is otherwise
// identical.
type InstantiateMode byte

const (
	ModeInstantiate InstantiateMode = iota
	ModeImport
)

// Instantiate runs the full pipeline for module and publishes the result
// under name. The pipeline is a single transaction: on failure at any step
// the name is not published, every entity allocated on the instance's behalf
// is reclaimed, and the stack is cleared.
func (s *Store) Instantiate(module *Module, name string) error {
	return s.instantiate(module, name, ModeInstantiate)
}

// Register instantiates module for other modules to import against. The
// instance survives Reset.
func (s *Store) Register(module *Module, name string) error {
	return s.instantiate(module, name, ModeImport)
}

func (s *Store) instantiate(module *Module, name string, mode InstantiateMode) error {
	// Transient state from any earlier run must not leak in. The store
	// itself is not reset here.
	s.stack.Reset()

	if _, ok := s.FindModule(name); ok {
		return fmt.Errorf("%q: %w", name, ErrModuleNameConflict)
	}

	instance := &ModuleInstance{Name: name, Exports: map[string]*ExportInstance{}}

	// Every allocation and every segment write from here on registers an
	// undo closure. The closures run unless the whole pipeline reaches the
	// finalize point. Changes the compiled ctor or the start function make
	// to imported tables, memories or globals are not undone.
	prevModules := len(s.Modules)
	prevImported := s.importedModules
	rollbackFuncs := []func(){func() {
		s.Modules = s.Modules[:prevModules]
		s.importedModules = prevImported
	}}
	defer func() {
		if rollbackFuncs == nil {
			return
		}
		for _, f := range rollbackFuncs {
			f()
		}
		s.stack.Reset()
	}()

	s.pushModule(instance, mode)

	// Function types are copied in section order; their indices are used
	// throughout the module.
	instance.Types = append(instance.Types, module.TypeSection...)

	if err := s.resolveImports(module, instance); err != nil {
		return fmt.Errorf("resolve imports: %w", err)
	}

	rs, err := s.buildFunctionInstances(module, instance)
	rollbackFuncs = append(rollbackFuncs, rs...)
	if err != nil {
		return fmt.Errorf("functions: %w", err)
	}

	rs, err = s.buildGlobalInstances(module, instance)
	rollbackFuncs = append(rollbackFuncs, rs...)
	if err != nil {
		return fmt.Errorf("globals: %w", err)
	}

	rs, err = s.buildTableInstances(module, instance)
	rollbackFuncs = append(rollbackFuncs, rs...)
	if err != nil {
		return fmt.Errorf("tables: %w", err)
	}

	rs, err = s.buildMemoryInstances(module, instance)
	rollbackFuncs = append(rollbackFuncs, rs...)
	if err != nil {
		return fmt.Errorf("memories: %w", err)
	}

	rs, err = s.applySegments(module, instance)
	rollbackFuncs = append(rollbackFuncs, rs...)
	if err != nil {
		return fmt.Errorf("segments: %w", err)
	}

	if err := s.buildExportInstances(module, instance); err != nil {
		return fmt.Errorf("exports: %w", err)
	}

	if module.Ctor != nil {
		if err := s.invokeCtor(instance, module.Ctor); err != nil {
			return fmt.Errorf("compiled ctor: %w", err)
		}
	}

	if module.StartSection != nil {
		if err := s.runStartFunction(instance, *module.StartSection); err != nil {
			return err
		}
	}

	// Now we are safe to finalize: publish the name and keep the mutations.
	s.moduleIndex[name] = instance.Addr
	if mode == ModeImport {
		// Everything allocated for a registered module must survive Reset.
		s.importedFunctions = uint32(len(s.Functions))
		s.importedGlobals = uint32(len(s.Globals))
		s.importedMemories = uint32(len(s.Memories))
		s.importedTables = uint32(len(s.Tables))
	}
	rollbackFuncs = nil
	return nil
}

func (s *Store) buildFunctionInstances(module *Module, target *ModuleInstance) (rollbackFuncs []func(), err error) {
	prevLen := len(s.Functions)
	rollbackFuncs = append(rollbackFuncs, func() {
		s.Functions = s.Functions[:prevLen]
	})

	for codeIndex, typeIndex := range module.FunctionSection {
		if typeIndex >= uint32(len(module.TypeSection)) {
			return rollbackFuncs, fmt.Errorf("function type index out of range")
		} else if codeIndex >= len(module.CodeSection) {
			return rollbackFuncs, fmt.Errorf("code index out of range")
		}

		code := module.CodeSection[codeIndex]
		f := &FunctionInstance{
			Signature:  module.TypeSection[typeIndex],
			ModuleAddr: target.Addr,
			Body:       code.Body,
			NumLocals:  code.NumLocals,
			LocalTypes: code.LocalTypes,
			Blocks:     map[uint64]*FunctionBlock{},
		}

		if err := s.engine.Compile(s, f); err != nil {
			return rollbackFuncs, fmt.Errorf("compilation failed at index %d/%d: %w",
				codeIndex, len(module.FunctionSection)-1, err)
		}

		target.FunctionAddrs = append(target.FunctionAddrs, s.allocateFunction(f))
	}
	return
}

func (s *Store) buildGlobalInstances(module *Module, target *ModuleInstance) (rollbackFuncs []func(), err error) {
	prevLen := len(s.Globals)
	rollbackFuncs = append(rollbackFuncs, func() {
		s.Globals = s.Globals[:prevLen]
	})

	// Synthetic frame so that global.get initializers resolve against the
	// instance under construction. Only imported globals are visible at this
	// point, which is exactly what the dialect permits.
	s.stack.PushFrame(target.Addr, 0, 0)
	defer s.stack.PopFrame()

	for _, gs := range module.GlobalSection {
		v, err := s.executeConstExpression(s.stack, gs.Init)
		if err != nil {
			return rollbackFuncs, err
		}
		if v.Type != gs.Type.ValType {
			return rollbackFuncs, fmt.Errorf("global type mismatch: %w", ErrInvalidInitializer)
		}
		target.GlobalAddrs = append(target.GlobalAddrs, s.allocateGlobal(gs.Type, v.Raw))
	}
	return
}

func (s *Store) buildTableInstances(module *Module, target *ModuleInstance) (rollbackFuncs []func(), err error) {
	prevLen := len(s.Tables)
	rollbackFuncs = append(rollbackFuncs, func() {
		s.Tables = s.Tables[:prevLen]
	})

	for _, t := range module.TableSection {
		target.TableAddrs = append(target.TableAddrs, s.allocateTable(t))
	}
	if len(target.TableAddrs) > 1 {
		return rollbackFuncs, fmt.Errorf("multiple tables not supported")
	}
	return
}

func (s *Store) buildMemoryInstances(module *Module, target *ModuleInstance) (rollbackFuncs []func(), err error) {
	prevLen := len(s.Memories)
	rollbackFuncs = append(rollbackFuncs, func() {
		s.Memories = s.Memories[:prevLen]
	})

	for _, t := range module.MemorySection {
		if len(target.MemoryAddrs) != 0 {
			// Already imported one; WebAssembly 1.0 (MVP) doesn't allow
			// multiple memories.
			return rollbackFuncs, fmt.Errorf("multiple memories not supported")
		}
		target.MemoryAddrs = append(target.MemoryAddrs, s.allocateMemory(t))
	}
	return
}

// applySegments resolves every element and data offset under a synthetic
// frame, then writes the segments. All offsets are resolved before the first
// write so that an unevaluable initializer fails before any side effect.
func (s *Store) applySegments(module *Module, target *ModuleInstance) (rollbackFuncs []func(), err error) {
	s.stack.PushFrame(target.Addr, 0, 0)
	elemOffsets, err := s.resolveOffsets(elementOffsetExprs(module))
	if err == nil {
		var dataOffsets []uint32
		dataOffsets, err = s.resolveOffsets(dataOffsetExprs(module))
		if err == nil {
			s.stack.PopFrame()
			return s.writeSegments(module, target, elemOffsets, dataOffsets)
		}
	}
	s.stack.PopFrame()
	return nil, err
}

func elementOffsetExprs(module *Module) []*ConstantExpression {
	exprs := make([]*ConstantExpression, len(module.ElementSection))
	for i, elem := range module.ElementSection {
		exprs[i] = elem.OffsetExpr
	}
	return exprs
}

func dataOffsetExprs(module *Module) []*ConstantExpression {
	exprs := make([]*ConstantExpression, len(module.DataSection))
	for i, d := range module.DataSection {
		exprs[i] = d.OffsetExpression
	}
	return exprs
}

// resolveOffsets evaluates each expression to a single i32.
func (s *Store) resolveOffsets(exprs []*ConstantExpression) ([]uint32, error) {
	offsets := make([]uint32, len(exprs))
	for i, expr := range exprs {
		v, err := s.executeConstExpression(s.stack, expr)
		if err != nil {
			return nil, err
		}
		if v.Type != ValueTypeI32 {
			return nil, fmt.Errorf("offset must be a single i32: %w", ErrInvalidInitializer)
		}
		offsets[i] = uint32(v.Raw)
	}
	return offsets, nil
}

func (s *Store) writeSegments(module *Module, target *ModuleInstance, elemOffsets, dataOffsets []uint32) (rollbackFuncs []func(), err error) {
	for i, elem := range module.ElementSection {
		rs, err := s.applyElementSegment(target, elem, elemOffsets[i])
		rollbackFuncs = append(rollbackFuncs, rs...)
		if err != nil {
			return rollbackFuncs, fmt.Errorf("element segment %d: %w", i, err)
		}
	}
	for i, d := range module.DataSection {
		rs, err := s.applyDataSegment(target, d, dataOffsets[i])
		rollbackFuncs = append(rollbackFuncs, rs...)
		if err != nil {
			return rollbackFuncs, fmt.Errorf("data segment %d: %w", i, err)
		}
	}
	return rollbackFuncs, nil
}

func (s *Store) applyElementSegment(target *ModuleInstance, elem *ElementSegment, offset uint32) (rollbackFuncs []func(), err error) {
	if elem.TableIndex >= uint32(len(target.TableAddrs)) {
		return nil, fmt.Errorf("table index %d out of range", elem.TableIndex)
	}
	table, err := s.GetTable(target.TableAddrs[elem.TableIndex])
	if err != nil {
		return nil, err
	}

	if uint64(offset)+uint64(len(elem.Init)) > uint64(len(table.Table)) {
		return nil, fmt.Errorf("segment [%d, %d) exceeds table size %d: %w",
			offset, uint64(offset)+uint64(len(elem.Init)), len(table.Table), ErrTableOutOfRange)
	}

	for i, funcIdx := range elem.Init {
		if funcIdx >= uint32(len(target.FunctionAddrs)) {
			return rollbackFuncs, fmt.Errorf("unknown function %d specified by element", funcIdx)
		}
		// Set up the undo before mutating the slot: the table may be an
		// imported one, visible through another module's exports.
		pos := int(offset) + i
		original := table.Table[pos]
		rollbackFuncs = append(rollbackFuncs, func() {
			table.Table[pos] = original
		})
		addr := target.FunctionAddrs[funcIdx]
		table.Table[pos] = &addr
	}
	return
}

func (s *Store) applyDataSegment(target *ModuleInstance, d *DataSegment, offset uint32) (rollbackFuncs []func(), err error) {
	if len(target.MemoryAddrs) == 0 {
		return nil, fmt.Errorf("unknown memory")
	}
	if d.MemoryIndex != 0 {
		return nil, fmt.Errorf("memory index must be zero")
	}
	memory, err := s.GetMemory(target.MemoryAddrs[0])
	if err != nil {
		return nil, err
	}

	if uint64(offset)+uint64(len(d.Init)) > uint64(len(memory.Buffer)) {
		return nil, fmt.Errorf("segment [%d, %d) exceeds memory size %d: %w",
			offset, uint64(offset)+uint64(len(d.Init)), len(memory.Buffer), ErrMemoryOutOfRange)
	}

	// Set up the undo before mutating the buffer, which may be imported.
	original := make([]byte, len(d.Init))
	copy(original, memory.Buffer[offset:])
	rollbackFuncs = append(rollbackFuncs, func() {
		copy(memory.Buffer[offset:], original)
	})
	copy(memory.Buffer[offset:], d.Init)
	return
}

func (s *Store) buildExportInstances(module *Module, target *ModuleInstance) error {
	for _, exp := range module.ExportSection {
		if _, ok := target.Exports[exp.Name]; ok {
			return fmt.Errorf("%q: %w", exp.Name, ErrDuplicateExportName)
		}

		index := exp.Desc.Index
		var spaceLen int
		switch exp.Desc.Kind {
		case ExternKindFunction:
			spaceLen = len(target.FunctionAddrs)
		case ExternKindTable:
			spaceLen = len(target.TableAddrs)
		case ExternKindMemory:
			spaceLen = len(target.MemoryAddrs)
		case ExternKindGlobal:
			spaceLen = len(target.GlobalAddrs)
		default:
			return fmt.Errorf("invalid kind of export: %#x", exp.Desc.Kind)
		}
		if index >= uint32(spaceLen) {
			return fmt.Errorf("unknown %s %d for export %q", ExternKindName(exp.Desc.Kind), index, exp.Name)
		}

		target.Exports[exp.Name] = &ExportInstance{Kind: exp.Desc.Kind, Index: index}
	}
	return nil
}

func (s *Store) runStartFunction(instance *ModuleInstance, index uint32) error {
	if index >= uint32(len(instance.FunctionAddrs)) {
		return fmt.Errorf("invalid start function index: %d", index)
	}
	instance.StartIndex = &index

	f, err := s.GetFunction(instance.FunctionAddrs[index])
	if err != nil {
		return err
	}
	if len(f.Signature.Params) != 0 || len(f.Signature.Results) != 0 {
		return fmt.Errorf("start function must have the empty signature")
	}

	if _, err := s.engine.Call(s, f); err != nil {
		return fmt.Errorf("%w: %v", ErrStartTrap, err)
	}
	return nil
}

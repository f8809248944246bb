package wasm

import "fmt"

// resolveImports locates every import in the store and, after type matching,
// copies the exporter's address into target's corresponding address space.
// Imports land in declaration order, so they occupy the low end of each
// space.
func (s *Store) resolveImports(module *Module, target *ModuleInstance) error {
	for _, is := range module.ImportSection {
		if err := s.resolveImport(target, is); err != nil {
			return fmt.Errorf("import %s.%s: %w", is.Module, is.Name, err)
		}
	}
	return nil
}

func (s *Store) resolveImport(target *ModuleInstance, is *ImportSegment) error {
	exporterAddr, ok := s.FindModule(is.Module)
	if !ok {
		return fmt.Errorf("module %q not found in store: %w", is.Module, ErrUnknownImport)
	}
	exporter, err := s.GetModule(exporterAddr)
	if err != nil {
		return err
	}

	e, ok := exporter.Exports[is.Name]
	if !ok {
		return fmt.Errorf("%q not exported by module %q: %w", is.Name, is.Module, ErrUnknownImport)
	}

	if e.Kind != is.Desc.Kind {
		return fmt.Errorf("export is a %s, import wants a %s: %w",
			ExternKindName(e.Kind), ExternKindName(is.Desc.Kind), ErrIncompatibleImportType)
	}

	switch is.Desc.Kind {
	case ExternKindFunction:
		return s.applyFunctionImport(target, is.Desc.TypeIndexPtr, exporter, e)
	case ExternKindTable:
		return s.applyTableImport(target, is.Desc.TableTypePtr, exporter, e)
	case ExternKindMemory:
		return s.applyMemoryImport(target, is.Desc.MemTypePtr, exporter, e)
	case ExternKindGlobal:
		return s.applyGlobalImport(target, is.Desc.GlobalTypePtr, exporter, e)
	default:
		return fmt.Errorf("invalid kind of import: %#x", is.Desc.Kind)
	}
}

// applyFunctionImport matches the imported function's signature pairwise
// against the type the importer declared by index.
func (s *Store) applyFunctionImport(target *ModuleInstance, typeIndexPtr *uint32, exporter *ModuleInstance, e *ExportInstance) error {
	if typeIndexPtr == nil {
		return fmt.Errorf("type index is missing: %w", ErrIncompatibleImportType)
	}
	typeIndex := *typeIndexPtr
	if typeIndex >= uint32(len(target.Types)) {
		return fmt.Errorf("unknown type index %d for function import", typeIndex)
	}

	addr := exporter.FunctionAddrs[e.Index]
	f, err := s.GetFunction(addr)
	if err != nil {
		return err
	}

	want := target.Types[typeIndex]
	if !hasSameSignature(want.Params, f.Signature.Params) ||
		!hasSameSignature(want.Results, f.Signature.Results) {
		return fmt.Errorf("signature mismatch: %s != %s: %w",
			want, f.Signature, ErrIncompatibleImportType)
	}

	target.FunctionAddrs = append(target.FunctionAddrs, addr)
	target.ImportedFunctionCount++
	return nil
}

func (s *Store) applyTableImport(target *ModuleInstance, tableTypePtr *TableType, exporter *ModuleInstance, e *ExportInstance) error {
	if tableTypePtr == nil {
		return fmt.Errorf("table type is missing: %w", ErrIncompatibleImportType)
	}

	addr := exporter.TableAddrs[e.Index]
	table, err := s.GetTable(addr)
	if err != nil {
		return err
	}

	if table.ElemType != tableTypePtr.ElemType {
		return fmt.Errorf("element type mismatch: %w", ErrIncompatibleImportType)
	}
	if err := matchLimits(tableTypePtr.Limit, table.Min, table.Max); err != nil {
		return err
	}

	target.TableAddrs = append(target.TableAddrs, addr)
	target.ImportedTableCount++
	return nil
}

func (s *Store) applyMemoryImport(target *ModuleInstance, memoryTypePtr *MemoryType, exporter *ModuleInstance, e *ExportInstance) error {
	if len(target.MemoryAddrs) != 0 {
		// WebAssembly 1.0 (MVP) doesn't allow multiple memories.
		return fmt.Errorf("multiple memories are not supported")
	}
	if memoryTypePtr == nil {
		return fmt.Errorf("memory type is missing: %w", ErrIncompatibleImportType)
	}

	addr := exporter.MemoryAddrs[e.Index]
	memory, err := s.GetMemory(addr)
	if err != nil {
		return err
	}

	if err := matchLimits(memoryTypePtr, memory.Min, memory.Max); err != nil {
		return err
	}

	target.MemoryAddrs = append(target.MemoryAddrs, addr)
	target.ImportedMemoryCount++
	return nil
}

func (s *Store) applyGlobalImport(target *ModuleInstance, globalTypePtr *GlobalType, exporter *ModuleInstance, e *ExportInstance) error {
	if globalTypePtr == nil {
		return fmt.Errorf("global type is missing: %w", ErrIncompatibleImportType)
	}

	addr := exporter.GlobalAddrs[e.Index]
	g, err := s.GetGlobal(addr)
	if err != nil {
		return err
	}

	if globalTypePtr.Mutable != g.Type.Mutable {
		return fmt.Errorf("mutability mismatch: %w", ErrIncompatibleImportType)
	}
	if globalTypePtr.ValType != g.Type.ValType {
		return fmt.Errorf("value type mismatch: %s != %s: %w",
			ValueTypeName(globalTypePtr.ValType), ValueTypeName(g.Type.ValType), ErrIncompatibleImportType)
	}

	target.GlobalAddrs = append(target.GlobalAddrs, addr)
	target.ImportedGlobalCount++
	return nil
}

// matchLimits verifies an actual (min, max) satisfies an imported limit: the
// actual minimum must reach the declared minimum, and when the import
// declares a maximum the actual must declare one no larger.
func matchLimits(want *LimitsType, actualMin uint32, actualMax *uint32) error {
	if actualMin < want.Min {
		return fmt.Errorf("minimum size mismatch: %w", ErrIncompatibleImportType)
	}
	if want.Max != nil {
		if actualMax == nil || *actualMax > *want.Max {
			return fmt.Errorf("maximum size mismatch: %w", ErrIncompatibleImportType)
		}
	}
	return nil
}

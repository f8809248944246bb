package wasm

import (
	"fmt"
	"reflect"
)

// hostModuleInstance returns the module instance published under name,
// creating and publishing a fresh host one when absent. Host modules live in
// the import bucket, so they survive Reset.
func (s *Store) hostModuleInstance(name string) (*ModuleInstance, error) {
	if addr, ok := s.FindModule(name); ok {
		return s.GetModule(addr)
	}
	instance := &ModuleInstance{Name: name, Exports: map[string]*ExportInstance{}}
	s.pushModule(instance, ModeImport)
	s.moduleIndex[name] = instance.Addr
	return instance, nil
}

// AddHostFunction exports a Go function under moduleName.funcName so that
// guest modules can import it. fn must take *HostFunctionCallContext as its
// first parameter; the remaining parameters and the results must map to
// WebAssembly 1.0 (MVP) value types.
func (s *Store) AddHostFunction(moduleName, funcName string, fn reflect.Value) error {
	signature, err := getSignature(fn.Type())
	if err != nil {
		return fmt.Errorf("invalid signature: %w", err)
	}

	m, err := s.hostModuleInstance(moduleName)
	if err != nil {
		return err
	}
	if _, ok := m.Exports[funcName]; ok {
		return fmt.Errorf("name %s already exists in module %s", funcName, moduleName)
	}

	f := &FunctionInstance{
		Name:         fmt.Sprintf("%s.%s", moduleName, funcName),
		ModuleAddr:   m.Addr,
		HostFunction: &fn,
		Signature:    signature,
	}
	addr := s.allocateFunction(f)
	s.importedFunctions = uint32(len(s.Functions))

	m.Exports[funcName] = &ExportInstance{Kind: ExternKindFunction, Index: uint32(len(m.FunctionAddrs))}
	m.FunctionAddrs = append(m.FunctionAddrs, addr)
	return nil
}

// AddGlobal exports a global under moduleName.name.
func (s *Store) AddGlobal(moduleName, name string, value uint64, valueType ValueType, mutable bool) error {
	m, err := s.hostModuleInstance(moduleName)
	if err != nil {
		return err
	}
	if _, ok := m.Exports[name]; ok {
		return fmt.Errorf("name %s already exists in module %s", name, moduleName)
	}

	addr := s.allocateGlobal(&GlobalType{ValType: valueType, Mutable: mutable}, value)
	s.importedGlobals = uint32(len(s.Globals))

	m.Exports[name] = &ExportInstance{Kind: ExternKindGlobal, Index: uint32(len(m.GlobalAddrs))}
	m.GlobalAddrs = append(m.GlobalAddrs, addr)
	return nil
}

// AddTableInstance exports an empty funcref table under moduleName.name.
func (s *Store) AddTableInstance(moduleName, name string, min uint32, max *uint32) error {
	m, err := s.hostModuleInstance(moduleName)
	if err != nil {
		return err
	}
	if _, ok := m.Exports[name]; ok {
		return fmt.Errorf("name %s already exists in module %s", name, moduleName)
	}

	addr := s.allocateTable(&TableType{
		ElemType: ElemTypeFuncRef,
		Limit:    &LimitsType{Min: min, Max: max},
	})
	s.importedTables = uint32(len(s.Tables))

	m.Exports[name] = &ExportInstance{Kind: ExternKindTable, Index: uint32(len(m.TableAddrs))}
	m.TableAddrs = append(m.TableAddrs, addr)
	return nil
}

// AddMemoryInstance exports a zeroed memory under moduleName.name.
func (s *Store) AddMemoryInstance(moduleName, name string, min uint32, max *uint32) error {
	m, err := s.hostModuleInstance(moduleName)
	if err != nil {
		return err
	}
	if _, ok := m.Exports[name]; ok {
		return fmt.Errorf("name %s already exists in module %s", name, moduleName)
	}

	addr := s.allocateMemory(&MemoryType{Min: min, Max: max})
	s.importedMemories = uint32(len(s.Memories))

	m.Exports[name] = &ExportInstance{Kind: ExternKindMemory, Index: uint32(len(m.MemoryAddrs))}
	m.MemoryAddrs = append(m.MemoryAddrs, addr)
	return nil
}

// getSignature maps a Go function type onto a FunctionType, skipping the
// leading *HostFunctionCallContext parameter.
func getSignature(p reflect.Type) (*FunctionType, error) {
	if p.NumIn() == 0 || p.In(0) != reflect.TypeOf(&HostFunctionCallContext{}) {
		return nil, fmt.Errorf("host function must accept *wasm.HostFunctionCallContext as the first param")
	}

	var params []ValueType
	for i := 1; i < p.NumIn(); i++ {
		t, err := getTypeOf(p.In(i).Kind())
		if err != nil {
			return nil, err
		}
		params = append(params, t)
	}

	var results []ValueType
	for i := 0; i < p.NumOut(); i++ {
		t, err := getTypeOf(p.Out(i).Kind())
		if err != nil {
			return nil, err
		}
		results = append(results, t)
	}
	return &FunctionType{Params: params, Results: results}, nil
}

func getTypeOf(kind reflect.Kind) (ValueType, error) {
	switch kind {
	case reflect.Float64:
		return ValueTypeF64, nil
	case reflect.Float32:
		return ValueTypeF32, nil
	case reflect.Int32, reflect.Uint32:
		return ValueTypeI32, nil
	case reflect.Int64, reflect.Uint64:
		return ValueTypeI64, nil
	default:
		return 0x00, fmt.Errorf("invalid type: %s", kind.String())
	}
}

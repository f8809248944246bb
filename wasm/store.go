package wasm

import (
	"fmt"
	"reflect"
)

type (
	// Store is the global registry owning every runtime instance. Each arena
	// is monotonically indexed: an address handed out by an allocation names
	// the same entity until Reset, and entities are never relocated.
	//
	// A Store may be shared read-only between instantiations, but mutation is
	// single-threaded: instantiation takes exclusive access.
	Store struct {
		engine Engine
		stack  *Stack

		Modules   []*ModuleInstance
		Functions []*FunctionInstance
		Globals   []*GlobalInstance
		Memories  []*MemoryInstance
		Tables    []*TableInstance

		// moduleIndex maps a published name to its module address. Names are
		// published only after the owning instantiation succeeds.
		moduleIndex map[string]uint32

		// Leading entries of each arena owned by host-registered modules.
		// Reset truncates down to these, so registration is expected to
		// happen before user instantiation.
		importedModules   uint32
		importedFunctions uint32
		importedGlobals   uint32
		importedMemories  uint32
		importedTables    uint32
	}

	// ModuleInstance is the runtime image of a module: resolved imports,
	// allocated entities and published exports. It holds store addresses
	// only, never entity pointers, so ownership stays with the Store.
	ModuleInstance struct {
		Name string
		Addr uint32

		Types []*FunctionType

		FunctionAddrs []uint32
		TableAddrs    []uint32
		MemoryAddrs   []uint32
		GlobalAddrs   []uint32

		// Imported entities occupy the low end of each address space;
		// module-defined entities start immediately after.
		ImportedFunctionCount uint32
		ImportedTableCount    uint32
		ImportedMemoryCount   uint32
		ImportedGlobalCount   uint32

		Exports map[string]*ExportInstance

		StartIndex *uint32

		// CompiledSymbol is an opaque handle attached by an ahead-of-time
		// backend. Only that backend may interpret it.
		CompiledSymbol uintptr
	}

	// ExportInstance names an entity by kind and by index into the owning
	// instance's address space for that kind.
	ExportInstance struct {
		Kind  ExternKind
		Index uint32
	}

	FunctionInstance struct {
		Name       string
		ModuleAddr uint32
		Signature  *FunctionType
		Body       []byte
		NumLocals  uint32
		LocalTypes []ValueType
		// Blocks is filled by Engine.Compile with the control structure of
		// Body, keyed by the program counter of each block instruction.
		Blocks map[uint64]*FunctionBlock
		// HostFunction is set instead of Body for functions implemented in Go.
		HostFunction *reflect.Value

		CompiledSymbol uintptr
	}

	FunctionBlock struct {
		StartAt, ElseAt, EndAt uint64
		BlockType              *FunctionType
		BlockTypeBytes         uint64
		IsLoop                 bool
		IsIf                   bool
	}

	GlobalInstance struct {
		Type *GlobalType
		Val  uint64
	}

	// TableInstance keeps function addresses; a nil slot is an uninitialized
	// hole.
	TableInstance struct {
		Table    []*uint32
		Min      uint32
		Max      *uint32
		ElemType byte
	}

	MemoryInstance struct {
		Buffer []byte
		Min    uint32
		Max    *uint32
	}

	// HostFunctionCallContext is the first argument of all host functions.
	HostFunctionCallContext struct {
		// Memory is the importing module's memory at the time of the call,
		// or nil if it has none.
		Memory *MemoryInstance
	}
)

func NewStore(engine Engine) *Store {
	return &Store{
		engine:      engine,
		stack:       NewStack(),
		moduleIndex: map[string]uint32{},
	}
}

// Reset purges everything instantiated since the last reset. Modules
// registered through Register or the host helpers survive; they occupy the
// leading entries of each arena.
func (s *Store) Reset() {
	s.Modules = s.Modules[:s.importedModules]
	s.Functions = s.Functions[:s.importedFunctions]
	s.Globals = s.Globals[:s.importedGlobals]
	s.Memories = s.Memories[:s.importedMemories]
	s.Tables = s.Tables[:s.importedTables]
	for name, addr := range s.moduleIndex {
		if addr >= s.importedModules {
			delete(s.moduleIndex, name)
		}
	}
	s.stack.Reset()
}

// FindModule returns the address published under name.
func (s *Store) FindModule(name string) (uint32, bool) {
	addr, ok := s.moduleIndex[name]
	return addr, ok
}

func (s *Store) GetModule(addr uint32) (*ModuleInstance, error) {
	if addr >= uint32(len(s.Modules)) {
		return nil, fmt.Errorf("module address %d: %w", addr, ErrBadAddress)
	}
	return s.Modules[addr], nil
}

func (s *Store) GetFunction(addr uint32) (*FunctionInstance, error) {
	if addr >= uint32(len(s.Functions)) {
		return nil, fmt.Errorf("function address %d: %w", addr, ErrBadAddress)
	}
	return s.Functions[addr], nil
}

func (s *Store) GetGlobal(addr uint32) (*GlobalInstance, error) {
	if addr >= uint32(len(s.Globals)) {
		return nil, fmt.Errorf("global address %d: %w", addr, ErrBadAddress)
	}
	return s.Globals[addr], nil
}

func (s *Store) GetTable(addr uint32) (*TableInstance, error) {
	if addr >= uint32(len(s.Tables)) {
		return nil, fmt.Errorf("table address %d: %w", addr, ErrBadAddress)
	}
	return s.Tables[addr], nil
}

func (s *Store) GetMemory(addr uint32) (*MemoryInstance, error) {
	if addr >= uint32(len(s.Memories)) {
		return nil, fmt.Errorf("memory address %d: %w", addr, ErrBadAddress)
	}
	return s.Memories[addr], nil
}

// pushModule appends instance to the module arena and stamps its address.
// ModeImport additionally widens the boundary Reset preserves. The name is
// not published here; that happens only when the pipeline succeeds.
func (s *Store) pushModule(instance *ModuleInstance, mode InstantiateMode) uint32 {
	addr := uint32(len(s.Modules))
	instance.Addr = addr
	s.Modules = append(s.Modules, instance)
	if mode == ModeImport {
		s.importedModules = uint32(len(s.Modules))
	}
	return addr
}

func (s *Store) allocateFunction(f *FunctionInstance) uint32 {
	addr := uint32(len(s.Functions))
	s.Functions = append(s.Functions, f)
	return addr
}

func (s *Store) allocateGlobal(t *GlobalType, val uint64) uint32 {
	addr := uint32(len(s.Globals))
	s.Globals = append(s.Globals, &GlobalInstance{Type: t, Val: val})
	return addr
}

// allocateTable allocates a table with capacity Min; every slot starts as a
// hole until element segments are applied.
func (s *Store) allocateTable(t *TableType) uint32 {
	addr := uint32(len(s.Tables))
	s.Tables = append(s.Tables, &TableInstance{
		Table:    make([]*uint32, t.Limit.Min),
		Min:      t.Limit.Min,
		Max:      t.Limit.Max,
		ElemType: t.ElemType,
	})
	return addr
}

func (s *Store) allocateMemory(t *MemoryType) uint32 {
	addr := uint32(len(s.Memories))
	s.Memories = append(s.Memories, &MemoryInstance{
		Buffer: make([]byte, uint64(t.Min)*PageSize),
		Min:    t.Min,
		Max:    t.Max,
	})
	return addr
}

// CallFunction invokes funcName exported by moduleName with args.
func (s *Store) CallFunction(moduleName, funcName string, args ...uint64) (returns []uint64, returnTypes []ValueType, err error) {
	addr, ok := s.FindModule(moduleName)
	if !ok {
		return nil, nil, fmt.Errorf("module '%s' not instantiated", moduleName)
	}
	m, err := s.GetModule(addr)
	if err != nil {
		return nil, nil, err
	}

	exp, ok := m.Exports[funcName]
	if !ok {
		return nil, nil, fmt.Errorf("exported function '%s' not found in '%s'", funcName, moduleName)
	}
	if exp.Kind != ExternKindFunction {
		return nil, nil, fmt.Errorf("'%s' is not a function export", funcName)
	}

	f, err := s.GetFunction(m.FunctionAddrs[exp.Index])
	if err != nil {
		return nil, nil, err
	}
	if len(f.Signature.Params) != len(args) {
		return nil, nil, fmt.Errorf("invalid number of arguments")
	}

	ret, err := s.engine.Call(s, f, args...)
	return ret, f.Signature.Results, err
}

// Len returns the size in bytes of the memory buffer.
func (m *MemoryInstance) Len() uint32 {
	return uint32(len(m.Buffer))
}

// PageCount returns the current size in 64KiB pages.
func (m *MemoryInstance) PageCount() uint32 {
	return uint32(uint64(len(m.Buffer)) / PageSize)
}

// Grow appends count zeroed pages and returns the previous page count, or
// false when growth would exceed the declared maximum or the 4GiB ceiling.
func (m *MemoryInstance) Grow(count uint32) (prevPages uint32, ok bool) {
	prevPages = m.PageCount()
	maxPages := uint32(PageSize)
	if m.Max != nil && *m.Max < maxPages {
		maxPages = *m.Max
	}
	if uint64(prevPages)+uint64(count) > uint64(maxPages) {
		return 0, false
	}
	m.Buffer = append(m.Buffer, make([]byte, uint64(count)*PageSize)...)
	return prevPages, true
}

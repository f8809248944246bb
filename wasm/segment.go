package wasm

import (
	"fmt"
	"io"
	"math"

	"github.com/mikanvm/mikan/wasm/leb128"
)

// ExternKind tags the four kinds of entity that can cross a module boundary.
// Imports and exports use the same encoding.
// See https://www.w3.org/TR/wasm-core-1/#import-section%E2%91%A0
type ExternKind = byte

const (
	ExternKindFunction ExternKind = 0x00
	ExternKindTable    ExternKind = 0x01
	ExternKindMemory   ExternKind = 0x02
	ExternKindGlobal   ExternKind = 0x03
)

// ExternKindName returns the name of the kind as written in the text format.
func ExternKindName(k ExternKind) string {
	switch k {
	case ExternKindFunction:
		return "func"
	case ExternKindTable:
		return "table"
	case ExternKindMemory:
		return "memory"
	case ExternKindGlobal:
		return "global"
	}
	return "unknown"
}

// ImportDesc is a tagged union over the four import payloads. Kind selects
// which of the pointer arms is populated.
type ImportDesc struct {
	Kind ExternKind

	TypeIndexPtr  *uint32
	TableTypePtr  *TableType
	MemTypePtr    *MemoryType
	GlobalTypePtr *GlobalType
}

func readImportDesc(r io.Reader) (*ImportDesc, error) {
	b := make([]byte, 1)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("read import kind: %w", err)
	}

	switch b[0] {
	case ExternKindFunction:
		tID, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return nil, fmt.Errorf("read type index: %w", err)
		}
		return &ImportDesc{Kind: ExternKindFunction, TypeIndexPtr: &tID}, nil
	case ExternKindTable:
		tt, err := readTableType(r)
		if err != nil {
			return nil, fmt.Errorf("read table type: %w", err)
		}
		return &ImportDesc{Kind: ExternKindTable, TableTypePtr: tt}, nil
	case ExternKindMemory:
		mt, err := readMemoryType(r)
		if err != nil {
			return nil, fmt.Errorf("read memory type: %w", err)
		}
		return &ImportDesc{Kind: ExternKindMemory, MemTypePtr: mt}, nil
	case ExternKindGlobal:
		gt, err := readGlobalType(r)
		if err != nil {
			return nil, fmt.Errorf("read global type: %w", err)
		}
		return &ImportDesc{Kind: ExternKindGlobal, GlobalTypePtr: gt}, nil
	default:
		return nil, fmt.Errorf("%w: invalid byte for importdesc: %#x", ErrInvalidByte, b[0])
	}
}

// ImportSegment names an entity in another module together with the type the
// importer requires of it.
type ImportSegment struct {
	Module, Name string
	Desc         *ImportDesc
}

func readImportSegment(r io.Reader) (*ImportSegment, error) {
	mn, err := readNameValue(r)
	if err != nil {
		return nil, fmt.Errorf("read name of imported module: %w", err)
	}

	n, err := readNameValue(r)
	if err != nil {
		return nil, fmt.Errorf("read name of import: %w", err)
	}

	d, err := readImportDesc(r)
	if err != nil {
		return nil, fmt.Errorf("read import description: %w", err)
	}
	return &ImportSegment{Module: mn, Name: n, Desc: d}, nil
}

// GlobalSegment declares a global and the initializer expression producing
// its initial value.
type GlobalSegment struct {
	Type *GlobalType
	Init *ConstantExpression
}

func readGlobalSegment(r io.Reader) (*GlobalSegment, error) {
	gt, err := readGlobalType(r)
	if err != nil {
		return nil, fmt.Errorf("read global type: %w", err)
	}

	init, err := readConstantExpression(r)
	if err != nil {
		return nil, fmt.Errorf("read init expression: %w", err)
	}
	return &GlobalSegment{Type: gt, Init: init}, nil
}

// ExportDesc points an export name at an index in the exporting module's
// address space for Kind.
type ExportDesc struct {
	Kind  ExternKind
	Index uint32
}

// ExportSegment binds a name to an exported entity. The section keeps
// declaration order; duplicate names are rejected during instantiation.
type ExportSegment struct {
	Name string
	Desc *ExportDesc
}

func readExportSegment(r io.Reader) (*ExportSegment, error) {
	name, err := readNameValue(r)
	if err != nil {
		return nil, fmt.Errorf("read name of export: %w", err)
	}

	b := make([]byte, 1)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("read export kind: %w", err)
	}
	kind := b[0]
	if kind > ExternKindGlobal {
		return nil, fmt.Errorf("%w: invalid byte for exportdesc: %#x", ErrInvalidByte, kind)
	}

	id, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("read export index: %w", err)
	}
	return &ExportSegment{Name: name, Desc: &ExportDesc{Kind: kind, Index: id}}, nil
}

// ElementSegment initializes a contiguous run of table slots with function
// indices, starting at the offset produced by OffsetExpr.
type ElementSegment struct {
	TableIndex uint32
	OffsetExpr *ConstantExpression
	Init       []uint32
}

func readElementSegment(r io.Reader) (*ElementSegment, error) {
	ti, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("read table index: %w", err)
	}

	expr, err := readConstantExpression(r)
	if err != nil {
		return nil, fmt.Errorf("read expr for offset: %w", err)
	}

	vs, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("get size of vector: %w", err)
	}

	init := make([]uint32, vs)
	for i := range init {
		fIdx, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return nil, fmt.Errorf("read function index: %w", err)
		}
		init[i] = fIdx
	}
	return &ElementSegment{TableIndex: ti, OffsetExpr: expr, Init: init}, nil
}

// CodeSegment is the body of one local function, locals already flattened.
type CodeSegment struct {
	NumLocals  uint32
	LocalTypes []ValueType
	Body       []byte
}

func readCodeSegment(r io.Reader) (*CodeSegment, error) {
	ss, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("get the size of code segment: %w", err)
	}

	r = io.LimitReader(r, int64(ss))

	ls, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("get the size of locals: %w", err)
	}

	var localTypes []ValueType
	var sum uint64
	b := make([]byte, 1)
	for i := uint32(0); i < ls; i++ {
		n, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return nil, fmt.Errorf("read n of locals: %w", err)
		}
		sum += uint64(n)
		if sum > math.MaxUint32 {
			return nil, fmt.Errorf("too many locals: %d", sum)
		}

		if _, err := io.ReadFull(r, b); err != nil {
			return nil, fmt.Errorf("read type of local: %w", err)
		}
		switch vt := ValueType(b[0]); vt {
		case ValueTypeI32, ValueTypeI64, ValueTypeF32, ValueTypeF64:
			for j := uint32(0); j < n; j++ {
				localTypes = append(localTypes, vt)
			}
		default:
			return nil, fmt.Errorf("%w: invalid local type %#x", ErrInvalidByte, vt)
		}
	}

	body, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(body) == 0 || body[len(body)-1] != OpcodeEnd {
		return nil, fmt.Errorf("expression not terminated with end opcode")
	}

	return &CodeSegment{
		Body:       body,
		NumLocals:  uint32(sum),
		LocalTypes: localTypes,
	}, nil
}

// DataSegment initializes a contiguous run of memory bytes, starting at the
// offset produced by OffsetExpression.
type DataSegment struct {
	MemoryIndex      uint32 // always zero in WebAssembly 1.0 (MVP)
	OffsetExpression *ConstantExpression
	Init             []byte
}

func readDataSegment(r io.Reader) (*DataSegment, error) {
	d, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("read memory index: %w", err)
	}
	if d != 0 {
		return nil, fmt.Errorf("invalid memory index: %d", d)
	}

	expr, err := readConstantExpression(r)
	if err != nil {
		return nil, fmt.Errorf("read offset expression: %w", err)
	}

	vs, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("get the size of vector: %w", err)
	}

	b := make([]byte, vs)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("read bytes for init: %w", err)
	}
	return &DataSegment{OffsetExpression: expr, Init: b}, nil
}

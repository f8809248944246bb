package wasm

import (
	"bytes"
	"fmt"
	"io"
)

var (
	magic   = []byte{0x00, 0x61, 0x73, 0x6d}
	version = []byte{0x01, 0x00, 0x00, 0x00}
)

// Module is the static representation of a loadable unit: a bag of optional
// sections, each preserving the order it had in the binary. Nodes are
// immutable after decoding.
type Module struct {
	TypeSection     []*FunctionType
	ImportSection   []*ImportSegment
	FunctionSection []uint32
	TableSection    []*TableType
	MemorySection   []*MemoryType
	GlobalSection   []*GlobalSegment
	ExportSection   []*ExportSegment
	StartSection    *uint32
	ElementSection  []*ElementSegment
	CodeSection     []*CodeSegment
	DataSection     []*DataSegment

	// Ctor is the optional constructor an ahead-of-time backend attaches to a
	// compiled module. It runs after exports are published and before the
	// start function.
	Ctor CompiledCtor
}

// DecodeModule decodes a raw module whose index spaces are yet to be
// initialized against a Store.
func DecodeModule(binary []byte) (*Module, error) {
	r := bytes.NewReader(binary)

	buf := make([]byte, 4)
	if _, err := io.ReadFull(r, buf); err != nil || !bytes.Equal(buf, magic) {
		return nil, ErrInvalidMagicNumber
	}
	if _, err := io.ReadFull(r, buf); err != nil || !bytes.Equal(buf, version) {
		return nil, ErrInvalidVersion
	}

	ret := &Module{}
	if err := ret.readSections(r); err != nil {
		return nil, fmt.Errorf("readSections failed: %w", err)
	}

	if len(ret.FunctionSection) != len(ret.CodeSection) {
		return nil, fmt.Errorf("function and code section have inconsistent lengths")
	}
	return ret, nil
}

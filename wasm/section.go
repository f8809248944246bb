package wasm

import (
	"errors"
	"fmt"
	"io"

	"github.com/mikanvm/mikan/wasm/leb128"
)

// SectionID identifies the sections of a Module in the WebAssembly 1.0 (MVP)
// Binary Format.
// See https://www.w3.org/TR/wasm-core-1/#sections%E2%91%A0
type SectionID = byte

const (
	SectionIDCustom SectionID = iota
	SectionIDType
	SectionIDImport
	SectionIDFunction
	SectionIDTable
	SectionIDMemory
	SectionIDGlobal
	SectionIDExport
	SectionIDStart
	SectionIDElement
	SectionIDCode
	SectionIDData
)

func (m *Module) readSections(r io.Reader) error {
	for {
		if err := m.readSection(r); errors.Is(err, io.EOF) {
			return nil
		} else if err != nil {
			return err
		}
	}
}

func (m *Module) readSection(r io.Reader) error {
	b := make([]byte, 1)
	if _, err := io.ReadFull(r, b); err != nil {
		return fmt.Errorf("read section id: %w", err)
	}
	id := SectionID(b[0])

	ss, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return fmt.Errorf("get size of section for id=%d: %w", id, err)
	}

	switch id {
	case SectionIDCustom:
		// Custom sections carry no semantics at this layer; skip the payload.
		_, err = io.CopyN(io.Discard, r, int64(ss))
	case SectionIDType:
		err = m.readSectionTypes(r)
	case SectionIDImport:
		err = m.readSectionImports(r)
	case SectionIDFunction:
		err = m.readSectionFunctions(r)
	case SectionIDTable:
		err = m.readSectionTables(r)
	case SectionIDMemory:
		err = m.readSectionMemories(r)
	case SectionIDGlobal:
		err = m.readSectionGlobals(r)
	case SectionIDExport:
		err = m.readSectionExports(r)
	case SectionIDStart:
		err = m.readSectionStart(r)
	case SectionIDElement:
		err = m.readSectionElement(r)
	case SectionIDCode:
		err = m.readSectionCodes(r)
	case SectionIDData:
		err = m.readSectionData(r)
	default:
		err = ErrInvalidSectionID
	}

	if err != nil {
		return fmt.Errorf("read section for id=%d: %w", id, err)
	}
	return nil
}

func readVectorSize(r io.Reader) (uint32, error) {
	vs, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return 0, fmt.Errorf("get size of vector: %w", err)
	}
	return vs, nil
}

func (m *Module) readSectionTypes(r io.Reader) error {
	vs, err := readVectorSize(r)
	if err != nil {
		return err
	}

	m.TypeSection = make([]*FunctionType, vs)
	for i := range m.TypeSection {
		if m.TypeSection[i], err = readFunctionType(r); err != nil {
			return fmt.Errorf("read %d-th function type: %w", i, err)
		}
	}
	return nil
}

func (m *Module) readSectionImports(r io.Reader) error {
	vs, err := readVectorSize(r)
	if err != nil {
		return err
	}

	m.ImportSection = make([]*ImportSegment, vs)
	for i := range m.ImportSection {
		if m.ImportSection[i], err = readImportSegment(r); err != nil {
			return fmt.Errorf("read import: %w", err)
		}
	}
	return nil
}

func (m *Module) readSectionFunctions(r io.Reader) error {
	vs, err := readVectorSize(r)
	if err != nil {
		return err
	}

	m.FunctionSection = make([]uint32, vs)
	for i := range m.FunctionSection {
		if m.FunctionSection[i], _, err = leb128.DecodeUint32(r); err != nil {
			return fmt.Errorf("get type index: %w", err)
		}
	}
	return nil
}

func (m *Module) readSectionTables(r io.Reader) error {
	vs, err := readVectorSize(r)
	if err != nil {
		return err
	}

	m.TableSection = make([]*TableType, vs)
	for i := range m.TableSection {
		if m.TableSection[i], err = readTableType(r); err != nil {
			return fmt.Errorf("read table type: %w", err)
		}
	}
	return nil
}

func (m *Module) readSectionMemories(r io.Reader) error {
	vs, err := readVectorSize(r)
	if err != nil {
		return err
	}

	m.MemorySection = make([]*MemoryType, vs)
	for i := range m.MemorySection {
		if m.MemorySection[i], err = readMemoryType(r); err != nil {
			return fmt.Errorf("read memory type: %w", err)
		}
	}
	return nil
}

func (m *Module) readSectionGlobals(r io.Reader) error {
	vs, err := readVectorSize(r)
	if err != nil {
		return err
	}

	m.GlobalSection = make([]*GlobalSegment, vs)
	for i := range m.GlobalSection {
		if m.GlobalSection[i], err = readGlobalSegment(r); err != nil {
			return fmt.Errorf("read global segment: %w", err)
		}
	}
	return nil
}

func (m *Module) readSectionExports(r io.Reader) error {
	vs, err := readVectorSize(r)
	if err != nil {
		return err
	}

	m.ExportSection = make([]*ExportSegment, vs)
	for i := range m.ExportSection {
		if m.ExportSection[i], err = readExportSegment(r); err != nil {
			return fmt.Errorf("read export: %w", err)
		}
	}
	return nil
}

func (m *Module) readSectionStart(r io.Reader) error {
	if m.StartSection != nil {
		return fmt.Errorf("multiple start sections are invalid")
	}

	idx, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return fmt.Errorf("read function index: %w", err)
	}
	m.StartSection = &idx
	return nil
}

func (m *Module) readSectionElement(r io.Reader) error {
	vs, err := readVectorSize(r)
	if err != nil {
		return err
	}

	m.ElementSection = make([]*ElementSegment, vs)
	for i := range m.ElementSection {
		if m.ElementSection[i], err = readElementSegment(r); err != nil {
			return fmt.Errorf("read element: %w", err)
		}
	}
	return nil
}

func (m *Module) readSectionCodes(r io.Reader) error {
	vs, err := readVectorSize(r)
	if err != nil {
		return err
	}

	m.CodeSection = make([]*CodeSegment, vs)
	for i := range m.CodeSection {
		if m.CodeSection[i], err = readCodeSegment(r); err != nil {
			return fmt.Errorf("read code segment: %w", err)
		}
	}
	return nil
}

func (m *Module) readSectionData(r io.Reader) error {
	vs, err := readVectorSize(r)
	if err != nil {
		return err
	}

	m.DataSection = make([]*DataSegment, vs)
	for i := range m.DataSection {
		if m.DataSection[i], err = readDataSegment(r); err != nil {
			return fmt.Errorf("read data segment: %w", err)
		}
	}
	return nil
}

package interp

import (
	"bytes"
	"fmt"

	"github.com/mikanvm/mikan/wasm"
	"github.com/mikanvm/mikan/wasm/leb128"
)

// parseBlocks records the start, else and end offsets of every structured
// control instruction in f's body, keyed by the block's program counter.
func parseBlocks(mod *wasm.ModuleInstance, f *wasm.FunctionInstance) error {
	var open []*wasm.FunctionBlock
	for pc := uint64(0); pc < uint64(len(f.Body)); {
		op := f.Body[pc]
		switch op {
		case wasm.OpcodeBlock, wasm.OpcodeLoop, wasm.OpcodeIf:
			bt, n, err := readBlockType(mod, f.Body[pc+1:])
			if err != nil {
				return fmt.Errorf("read block type at %d: %w", pc, err)
			}
			open = append(open, &wasm.FunctionBlock{
				StartAt:        pc,
				BlockType:      bt,
				BlockTypeBytes: n,
				IsLoop:         op == wasm.OpcodeLoop,
				IsIf:           op == wasm.OpcodeIf,
			})
			pc += 1 + n
		case wasm.OpcodeElse:
			if len(open) == 0 || !open[len(open)-1].IsIf {
				return fmt.Errorf("else without matching if at %d", pc)
			}
			open[len(open)-1].ElseAt = pc
			pc++
		case wasm.OpcodeEnd:
			if len(open) == 0 {
				// The end closing the function body itself.
				pc++
				continue
			}
			b := open[len(open)-1]
			open = open[:len(open)-1]
			b.EndAt = pc
			f.Blocks[b.StartAt] = b
			pc++
		default:
			n, err := immediateBytes(f.Body, pc)
			if err != nil {
				return err
			}
			pc += 1 + n
		}
	}
	if len(open) != 0 {
		return fmt.Errorf("unclosed block at %d", open[len(open)-1].StartAt)
	}
	return nil
}

// readBlockType decodes the block type immediate: 0x40 for empty, a value
// type for a single result, or a type index into the module's types.
func readBlockType(mod *wasm.ModuleInstance, b []byte) (*wasm.FunctionType, uint64, error) {
	raw, num, err := leb128.DecodeInt33AsInt64(bytes.NewReader(b))
	if err != nil {
		return nil, 0, err
	}
	switch raw {
	case -64: // 0x40
		return &wasm.FunctionType{}, num, nil
	case -1: // 0x7f
		return &wasm.FunctionType{Results: []wasm.ValueType{wasm.ValueTypeI32}}, num, nil
	case -2: // 0x7e
		return &wasm.FunctionType{Results: []wasm.ValueType{wasm.ValueTypeI64}}, num, nil
	case -3: // 0x7d
		return &wasm.FunctionType{Results: []wasm.ValueType{wasm.ValueTypeF32}}, num, nil
	case -4: // 0x7c
		return &wasm.FunctionType{Results: []wasm.ValueType{wasm.ValueTypeF64}}, num, nil
	default:
		if raw < 0 || raw >= int64(len(mod.Types)) {
			return nil, 0, fmt.Errorf("invalid block type: %d", raw)
		}
		return mod.Types[raw], num, nil
	}
}

// immediateBytes returns how many bytes of immediates follow the opcode at
// pc, so that the scanner can step over instructions it doesn't interpret.
func immediateBytes(body []byte, pc uint64) (uint64, error) {
	op := body[pc]
	switch {
	case op == wasm.OpcodeBr, op == wasm.OpcodeBrIf, op == wasm.OpcodeCall,
		op >= wasm.OpcodeLocalGet && op <= wasm.OpcodeGlobalSet,
		op == wasm.OpcodeI32Const, op == wasm.OpcodeI64Const,
		op == wasm.OpcodeMemorySize, op == wasm.OpcodeMemoryGrow:
		return lebBytes(body, pc+1)
	case op == wasm.OpcodeCallIndirect:
		n, err := lebBytes(body, pc+1)
		return n + 1, err
	case op >= wasm.OpcodeI32Load && op <= wasm.OpcodeI64Store32:
		align, err := lebBytes(body, pc+1)
		if err != nil {
			return 0, err
		}
		offset, err := lebBytes(body, pc+1+align)
		return align + offset, err
	case op == wasm.OpcodeF32Const:
		return 4, nil
	case op == wasm.OpcodeF64Const:
		return 8, nil
	case op == wasm.OpcodeBrTable:
		r := bytes.NewReader(body[pc+1:])
		nl, num, err := leb128.DecodeUint32(r)
		if err != nil {
			return 0, fmt.Errorf("read br_table target count at %d: %w", pc, err)
		}
		for i := uint32(0); i < nl+1; i++ { // targets plus the default
			_, n, err := leb128.DecodeUint32(r)
			if err != nil {
				return 0, fmt.Errorf("read br_table target at %d: %w", pc, err)
			}
			num += n
		}
		return num, nil
	default:
		return 0, nil
	}
}

func lebBytes(body []byte, at uint64) (uint64, error) {
	for i := uint64(0); i < 10; i++ {
		if at+i >= uint64(len(body)) {
			return 0, fmt.Errorf("truncated immediate at %d", at)
		}
		if body[at+i]&0x80 == 0 {
			return i + 1, nil
		}
	}
	return 0, fmt.Errorf("malformed immediate at %d", at)
}

package wasm

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/mikanvm/mikan/wasm/leb128"
)

// ConstantExpression is the restricted initializer dialect permitted by the
// global, element and data sections: a single constant or global.get opcode
// followed by its immediate.
type ConstantExpression struct {
	Opcode Opcode
	Data   []byte
}

func readConstantExpression(r io.Reader) (*ConstantExpression, error) {
	b := make([]byte, 1)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("read opcode: %w", err)
	}

	buf := new(bytes.Buffer)
	teeR := io.TeeReader(r, buf)

	opcode := b[0]
	var err error
	switch opcode {
	case OpcodeI32Const:
		_, _, err = leb128.DecodeInt32(teeR)
	case OpcodeI64Const:
		_, _, err = leb128.DecodeInt64(teeR)
	case OpcodeF32Const:
		_, err = readFloat32(teeR)
	case OpcodeF64Const:
		_, err = readFloat64(teeR)
	case OpcodeGlobalGet:
		_, _, err = leb128.DecodeUint32(teeR)
	default:
		return nil, fmt.Errorf("%w for const expression opcode: %#x", ErrInvalidByte, opcode)
	}
	if err != nil {
		return nil, fmt.Errorf("read value: %w", err)
	}

	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("look for end opcode: %w", err)
	}
	if b[0] != OpcodeEnd {
		return nil, fmt.Errorf("constant expression has not been terminated")
	}

	return &ConstantExpression{Opcode: opcode, Data: buf.Bytes()}, nil
}

// executeConstExpression evaluates expr against the module instance named by
// the current frame on stack. Only the constant opcodes and global.get of an
// imported immutable global are accepted; anything else fails with
// ErrInvalidInitializer. Evaluation pushes intermediates through stack and
// pops down to the single result, leaving the store untouched.
func (s *Store) executeConstExpression(stack *Stack, expr *ConstantExpression) (Value, error) {
	r := bytes.NewReader(expr.Data)
	switch expr.Opcode {
	case OpcodeI32Const:
		v, _, err := leb128.DecodeInt32(r)
		if err != nil {
			return Value{}, fmt.Errorf("read i32 immediate: %w", ErrInvalidInitializer)
		}
		stack.PushValue(Value{Type: ValueTypeI32, Raw: uint64(uint32(v))})
	case OpcodeI64Const:
		v, _, err := leb128.DecodeInt64(r)
		if err != nil {
			return Value{}, fmt.Errorf("read i64 immediate: %w", ErrInvalidInitializer)
		}
		stack.PushValue(Value{Type: ValueTypeI64, Raw: uint64(v)})
	case OpcodeF32Const:
		v, err := readFloat32(r)
		if err != nil {
			return Value{}, fmt.Errorf("read f32 immediate: %w", ErrInvalidInitializer)
		}
		stack.PushValue(Value{Type: ValueTypeF32, Raw: uint64(math.Float32bits(v))})
	case OpcodeF64Const:
		v, err := readFloat64(r)
		if err != nil {
			return Value{}, fmt.Errorf("read f64 immediate: %w", ErrInvalidInitializer)
		}
		stack.PushValue(Value{Type: ValueTypeF64, Raw: math.Float64bits(v)})
	case OpcodeGlobalGet:
		id, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return Value{}, fmt.Errorf("read index of global: %w", ErrInvalidInitializer)
		}
		v, err := s.readImportedGlobal(stack, id)
		if err != nil {
			return Value{}, err
		}
		stack.PushValue(v)
	default:
		return Value{}, fmt.Errorf("opcode %#x not constant: %w", expr.Opcode, ErrInvalidInitializer)
	}
	return stack.PopValue(), nil
}

// readImportedGlobal resolves global.get inside an initializer: the index
// must name an imported, immutable global of the frame's module instance.
func (s *Store) readImportedGlobal(stack *Stack, id uint32) (Value, error) {
	frame := stack.CurrentFrame()
	if frame == nil {
		return Value{}, fmt.Errorf("no frame for global.get: %w", ErrBadAddress)
	}
	instance, err := s.GetModule(frame.ModuleAddr)
	if err != nil {
		return Value{}, err
	}

	if id >= instance.ImportedGlobalCount {
		return Value{}, fmt.Errorf("global %d is not an imported global: %w", id, ErrInvalidInitializer)
	}
	g, err := s.GetGlobal(instance.GlobalAddrs[id])
	if err != nil {
		return Value{}, err
	}
	if g.Type.Mutable {
		return Value{}, fmt.Errorf("global %d is mutable: %w", id, ErrInvalidInitializer)
	}
	return Value{Type: g.Type.ValType, Raw: g.Val}, nil
}

// IEEE 754 little-endian.
func readFloat32(r io.Reader) (float32, error) {
	buf := make([]byte, 4)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, err
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(buf)), nil
}

// IEEE 754 little-endian.
func readFloat64(r io.Reader) (float64, error) {
	buf := make([]byte, 8)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(buf)), nil
}

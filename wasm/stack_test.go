package wasm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStack_PushPopValue(t *testing.T) {
	s := NewStack()
	require.Nil(t, s.CurrentFrame())

	s.PushValue(Value{Type: ValueTypeI32, Raw: 1})
	s.PushValue(Value{Type: ValueTypeI64, Raw: 2})
	require.Equal(t, 2, s.ValueHeight())

	v := s.PopValue()
	require.Equal(t, ValueTypeI64, v.Type)
	require.Equal(t, uint64(2), v.Raw)
	require.Equal(t, 1, s.ValueHeight())
}

func TestStack_PopFrameTruncatesValues(t *testing.T) {
	s := NewStack()
	s.PushValue(Value{Type: ValueTypeI32, Raw: 10})

	s.PushFrame(3, 0, 0)
	require.Equal(t, uint32(3), s.CurrentFrame().ModuleAddr)

	s.PushValue(Value{Type: ValueTypeI32, Raw: 11})
	s.PushValue(Value{Type: ValueTypeI32, Raw: 12})
	s.PopFrame()

	// Everything pushed under the frame is gone; the outer value survives.
	require.Nil(t, s.CurrentFrame())
	require.Equal(t, 1, s.ValueHeight())
	require.Equal(t, uint64(10), s.PopValue().Raw)
}

func TestStack_PopFrameCarriesCoarityResults(t *testing.T) {
	s := NewStack()
	s.PushFrame(0, 0, 1)
	s.PushValue(Value{Type: ValueTypeI32, Raw: 1}) // scratch
	s.PushValue(Value{Type: ValueTypeI32, Raw: 42})
	s.PopFrame()

	require.Equal(t, 1, s.ValueHeight())
	require.Equal(t, uint64(42), s.PopValue().Raw)
}

func TestStack_Reset(t *testing.T) {
	s := NewStack()
	s.PushFrame(0, 0, 0)
	s.PushValue(Value{Type: ValueTypeI32, Raw: 1})

	s.Reset()
	require.Nil(t, s.CurrentFrame())
	require.Equal(t, 0, s.ValueHeight())
}

package interp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOperandStack(t *testing.T) {
	var s operandStack
	require.Equal(t, 0, s.height())

	s.push(1)
	s.push(2)
	require.Equal(t, uint64(2), s.peek())
	require.Equal(t, 2, s.height())

	require.Equal(t, uint64(2), s.pop())
	require.Equal(t, uint64(1), s.pop())
	require.Equal(t, 0, s.height())

	s.push(3)
	s.drop()
	require.Equal(t, 0, s.height())
}

func TestOperandStack_PopNAndTruncate(t *testing.T) {
	var s operandStack
	s.pushAll([]uint64{1, 2, 3, 4, 5})

	// popN keeps stack order so values can be replayed after an unwind.
	require.Equal(t, []uint64{4, 5}, s.popN(2))
	require.Equal(t, 3, s.height())

	s.truncate(1)
	require.Equal(t, 1, s.height())
	require.Equal(t, uint64(1), s.peek())

	s.pushAll([]uint64{4, 5})
	require.Equal(t, []uint64{1, 4, 5}, s.popN(3))
	require.Empty(t, s.popN(0))
}

func TestFrameLabels(t *testing.T) {
	fr := &frame{}
	fr.pushLabel(label{arity: 0, continuationPC: 7})
	fr.pushLabel(label{arity: 1, continuationPC: 3, operandHeight: 2})

	l := fr.popLabel()
	require.Equal(t, 1, l.arity)
	require.Equal(t, uint64(3), l.continuationPC)
	require.Equal(t, 2, l.operandHeight)

	require.Equal(t, uint64(7), fr.popLabel().continuationPC)
	require.Empty(t, fr.labels)
}

package leb128

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeUint32(t *testing.T) {
	for _, c := range []struct {
		bytes []byte
		exp   uint32
		num   uint64
	}{
		{bytes: []byte{0x00}, exp: 0, num: 1},
		{bytes: []byte{0x04}, exp: 4, num: 1},
		{bytes: []byte{0x80, 0x7f}, exp: 16256, num: 2},
		{bytes: []byte{0xe5, 0x8e, 0x26}, exp: 624485, num: 3},
		{bytes: []byte{0x80, 0x80, 0x80, 0x4f}, exp: 165675008, num: 4},
		{bytes: []byte{0xff, 0xff, 0xff, 0xff, 0x0f}, exp: 0xffffffff, num: 5},
	} {
		actual, num, err := DecodeUint32(bytes.NewReader(c.bytes))
		require.NoError(t, err)
		require.Equal(t, c.exp, actual)
		require.Equal(t, c.num, num)
	}

	_, _, err := DecodeUint32(bytes.NewReader(nil))
	require.Error(t, err)
}

func TestDecodeInt32(t *testing.T) {
	for _, c := range []struct {
		bytes []byte
		exp   int32
	}{
		{bytes: []byte{0x00}, exp: 0},
		{bytes: []byte{0x04}, exp: 4},
		{bytes: []byte{0x7f}, exp: -1},
		{bytes: []byte{0x81, 0x01}, exp: 129},
		{bytes: []byte{0x7e}, exp: -2},
		{bytes: []byte{0xff, 0x7e}, exp: -129},
		{bytes: []byte{0xfa, 0xff, 0x03}, exp: 65530},
	} {
		actual, _, err := DecodeInt32(bytes.NewReader(c.bytes))
		require.NoError(t, err)
		require.Equal(t, c.exp, actual)
	}
}

func TestDecodeInt64(t *testing.T) {
	for _, c := range []struct {
		bytes []byte
		exp   int64
	}{
		{bytes: []byte{0x00}, exp: 0},
		{bytes: []byte{0x04}, exp: 4},
		{bytes: []byte{0x7f}, exp: -1},
		{bytes: []byte{0x80, 0x7f}, exp: -128},
		{bytes: []byte{0xf9, 0x7f}, exp: -7},
		{
			bytes: []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x01},
			exp:   -1,
		},
	} {
		actual, _, err := DecodeInt64(bytes.NewReader(c.bytes))
		require.NoError(t, err)
		require.Equal(t, c.exp, actual)
	}
}

func TestDecodeInt33AsInt64(t *testing.T) {
	for _, c := range []struct {
		bytes []byte
		exp   int64
	}{
		{bytes: []byte{0x40}, exp: -64}, // the empty block type
		{bytes: []byte{0x7f}, exp: -1},
		{bytes: []byte{0x7e}, exp: -2},
		{bytes: []byte{0x7d}, exp: -3},
		{bytes: []byte{0x7c}, exp: -4},
		{bytes: []byte{0x00}, exp: 0},
		{bytes: []byte{0x05}, exp: 5},
	} {
		actual, _, err := DecodeInt33AsInt64(bytes.NewReader(c.bytes))
		require.NoError(t, err)
		require.Equal(t, c.exp, actual)
	}
}

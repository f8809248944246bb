// Package leb128 decodes the variable-length integers used throughout the
// WebAssembly 1.0 (MVP) Binary Format.
// See https://www.w3.org/TR/wasm-core-1/#integers%E2%91%A4
package leb128

import (
	"fmt"
	"io"
)

const (
	continuationBit = 0x80
	payloadMask     = 0x7f
)

func readByte(r io.Reader) (byte, error) {
	b := make([]byte, 1)
	if _, err := io.ReadFull(r, b); err != nil {
		return 0, err
	}
	return b[0], nil
}

// DecodeUint32 reads an unsigned 32-bit integer. num is the count of bytes
// consumed from r.
func DecodeUint32(r io.Reader) (ret uint32, num uint64, err error) {
	for shift := 0; shift < 35; shift += 7 {
		b, err := readByte(r)
		if err != nil {
			return 0, 0, fmt.Errorf("readByte failed: %w", err)
		}
		num++
		ret |= uint32(b&payloadMask) << shift
		if b&continuationBit == 0 {
			return ret, num, nil
		}
	}
	return 0, 0, fmt.Errorf("uint32 overflows a 32-bit integer")
}

// DecodeUint64 reads an unsigned 64-bit integer. num is the count of bytes
// consumed from r.
func DecodeUint64(r io.Reader) (ret uint64, num uint64, err error) {
	for shift := 0; shift < 70; shift += 7 {
		b, err := readByte(r)
		if err != nil {
			return 0, 0, fmt.Errorf("readByte failed: %w", err)
		}
		num++
		ret |= uint64(b&payloadMask) << shift
		if b&continuationBit == 0 {
			return ret, num, nil
		}
	}
	return 0, 0, fmt.Errorf("uint64 overflows a 64-bit integer")
}

// DecodeInt32 reads a signed 32-bit integer. num is the count of bytes
// consumed from r.
func DecodeInt32(r io.Reader) (ret int32, num uint64, err error) {
	var shift int
	var b byte
	for shift < 35 {
		b, err = readByte(r)
		if err != nil {
			return 0, 0, fmt.Errorf("readByte failed: %w", err)
		}
		num++
		ret |= int32(b&payloadMask) << shift
		shift += 7
		if b&continuationBit == 0 {
			break
		}
	}
	// Sign extension.
	if shift < 32 && b&0x40 != 0 {
		ret |= ^0 << shift
	}
	return ret, num, nil
}

// DecodeInt64 reads a signed 64-bit integer. num is the count of bytes
// consumed from r.
func DecodeInt64(r io.Reader) (ret int64, num uint64, err error) {
	var shift int
	var b byte
	for shift < 70 {
		b, err = readByte(r)
		if err != nil {
			return 0, 0, fmt.Errorf("readByte failed: %w", err)
		}
		num++
		ret |= int64(b&payloadMask) << shift
		shift += 7
		if b&continuationBit == 0 {
			break
		}
	}
	if shift < 64 && b&0x40 != 0 {
		ret |= ^0 << shift
	}
	return ret, num, nil
}

// DecodeInt33AsInt64 reads the signed 33-bit block type integer used by
// control instructions, widened to int64.
func DecodeInt33AsInt64(r io.Reader) (ret int64, num uint64, err error) {
	var shift int
	var b byte
	for shift < 35 {
		b, err = readByte(r)
		if err != nil {
			return 0, 0, fmt.Errorf("readByte failed: %w", err)
		}
		num++
		ret |= int64(b&payloadMask) << shift
		shift += 7
		if b&continuationBit == 0 {
			break
		}
	}
	if shift < 33 && b&0x40 != 0 {
		ret |= ^0 << shift
	}
	return ret, num, nil
}

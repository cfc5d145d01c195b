// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dwarf

import (
	"bytes"
	"encoding/binary"
)

// A buf is a bounds-checked decoding cursor over a DWARF section.
// The first decoding failure latches into err; subsequent reads
// return zero values, so decode loops can check the error once.
type buf struct {
	order   binary.ByteOrder
	section string // section name for errors
	base    uint64 // section offset of data[0]
	data    []byte
	off     uint64 // current section offset
	err     error
}

func makeBuf(order binary.ByteOrder, section string, off uint64, data []byte) buf {
	return buf{order: order, section: section, base: off, data: data, off: off}
}

func (b *buf) error(msg string) {
	if b.err == nil {
		b.data = nil
		b.err = DecodeError{b.section, b.off, msg}
	}
}

// remaining returns the number of unread bytes.
func (b *buf) remaining() int { return len(b.data) }

func (b *buf) bytes(n int) []byte {
	if n < 0 || len(b.data) < n {
		b.error("underflow")
		return nil
	}
	p := b.data[:n]
	b.data = b.data[n:]
	b.off += uint64(n)
	return p
}

func (b *buf) skip(n int) { b.bytes(n) }

func (b *buf) uint8() uint8 {
	if len(b.data) < 1 {
		b.error("underflow")
		return 0
	}
	v := b.data[0]
	b.data = b.data[1:]
	b.off++
	return v
}

func (b *buf) uint16() uint16 {
	p := b.bytes(2)
	if p == nil {
		return 0
	}
	return b.order.Uint16(p)
}

func (b *buf) uint24() uint32 {
	p := b.bytes(3)
	if p == nil {
		return 0
	}
	if b.order == binary.BigEndian {
		return uint32(p[0])<<16 | uint32(p[1])<<8 | uint32(p[2])
	}
	return uint32(p[2])<<16 | uint32(p[1])<<8 | uint32(p[0])
}

func (b *buf) uint32() uint32 {
	p := b.bytes(4)
	if p == nil {
		return 0
	}
	return b.order.Uint32(p)
}

func (b *buf) uint64() uint64 {
	p := b.bytes(8)
	if p == nil {
		return 0
	}
	return b.order.Uint64(p)
}

// uintN reads an unsigned integer of width 1, 2, 3, 4 or 8 bytes.
func (b *buf) uintN(width int) uint64 {
	switch width {
	case 1:
		return uint64(b.uint8())
	case 2:
		return uint64(b.uint16())
	case 3:
		return uint64(b.uint24())
	case 4:
		return uint64(b.uint32())
	case 8:
		return b.uint64()
	}
	b.error("bad integer width")
	return 0
}

// Max bytes of a single LEB128 value. 10 bytes covers a full 64-bit
// value plus the sign extension byte SLEB128 encoders emit.
const maxLEB = 10

// uleb reads an unsigned little-endian base-128 value.
func (b *buf) uleb() uint64 {
	var v uint64
	var shift uint
	for i := 0; ; i++ {
		if i >= maxLEB || i >= len(b.data) {
			b.error("malformed ULEB128")
			return 0
		}
		c := b.data[i]
		v |= uint64(c&0x7f) << shift
		shift += 7
		if c&0x80 == 0 {
			b.data = b.data[i+1:]
			b.off += uint64(i + 1)
			return v
		}
	}
}

// sleb reads a signed little-endian base-128 value.
func (b *buf) sleb() int64 {
	var v int64
	var shift uint
	for i := 0; ; i++ {
		if i >= maxLEB || i >= len(b.data) {
			b.error("malformed SLEB128")
			return 0
		}
		c := b.data[i]
		v |= int64(c&0x7f) << shift
		shift += 7
		if c&0x80 == 0 {
			if c&0x40 != 0 && shift < 64 {
				v |= -1 << shift
			}
			b.data = b.data[i+1:]
			b.off += uint64(i + 1)
			return v
		}
	}
}

// cstring reads a NUL-terminated string, consuming the NUL.
func (b *buf) cstring() string {
	n := bytes.IndexByte(b.data, 0)
	if n < 0 {
		b.error("unterminated string")
		return ""
	}
	s := string(b.data[:n])
	b.data = b.data[n+1:]
	b.off += uint64(n + 1)
	return s
}

// initialLength reads a DWARF initial length, returning the length and
// the offset size it selects (4 or 8). The escape 0xffffffff selects
// the 64-bit format. A legacy "0 then 8 bytes" form is also accepted
// as 64-bit.
func (b *buf) initialLength() (length uint64, offsetSize int) {
	u := b.uint32()
	switch {
	case u == 0xffffffff:
		return b.uint64(), 8
	case u == 0 && len(b.data) >= 8:
		// Legacy IRIX 64-bit form.
		return b.uint64(), 8
	default:
		return uint64(u), 4
	}
}

// offset reads a 4- or 8-byte section offset per offsetSize.
func (b *buf) offset(offsetSize int) uint64 {
	if offsetSize == 8 {
		return b.uint64()
	}
	return uint64(b.uint32())
}

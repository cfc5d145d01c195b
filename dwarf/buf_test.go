// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dwarf

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestULEB(t *testing.T) {
	tests := []struct {
		in   []byte
		want uint64
		rest int
	}{
		{[]byte{0x00}, 0, 0},
		{[]byte{0x7f}, 127, 0},
		{[]byte{0x80, 0x01}, 128, 0},
		{[]byte{0xe5, 0x8e, 0x26}, 624485, 0},
		{[]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x01}, ^uint64(0), 0},
		{[]byte{0x02, 0xaa}, 2, 1},
	}
	for _, tt := range tests {
		b := makeBuf(binary.LittleEndian, "test", 0, tt.in)
		got := b.uleb()
		if b.err != nil {
			t.Errorf("uleb(% x): unexpected error %v", tt.in, b.err)
			continue
		}
		if got != tt.want || b.remaining() != tt.rest {
			t.Errorf("uleb(% x) = %d (rest %d), want %d (rest %d)", tt.in, got, b.remaining(), tt.want, tt.rest)
		}
	}
}

func TestSLEB(t *testing.T) {
	tests := []struct {
		in   []byte
		want int64
	}{
		{[]byte{0x00}, 0},
		{[]byte{0x02}, 2},
		{[]byte{0x7f}, -1},
		{[]byte{0x7e}, -2},
		{[]byte{0xff, 0x00}, 127},
		{[]byte{0x80, 0x7f}, -128},
		{[]byte{0x80, 0x01}, 128},
	}
	for _, tt := range tests {
		b := makeBuf(binary.LittleEndian, "test", 0, tt.in)
		if got := b.sleb(); got != tt.want || b.err != nil {
			t.Errorf("sleb(% x) = %d, %v, want %d", tt.in, got, b.err, tt.want)
		}
	}
}

func TestSLEBRoundTrip(t *testing.T) {
	for _, v := range []int64{0, 1, -1, 63, 64, -64, -65, 127, 128, -128, 1 << 40, -(1 << 40), 1<<63 - 1, -1 << 63} {
		var im image
		im.sleb(v)
		b := makeBuf(binary.LittleEndian, "test", 0, im.b)
		if got := b.sleb(); got != v || b.err != nil {
			t.Errorf("sleb round trip of %d = %d, %v", v, got, b.err)
		}
		if b.remaining() != 0 {
			t.Errorf("sleb(%d): %d bytes left over", v, b.remaining())
		}
	}
}

func TestMalformedLEB(t *testing.T) {
	// 11 continuation bytes exceed the 10-byte cap.
	in := bytes.Repeat([]byte{0x80}, 11)
	b := makeBuf(binary.LittleEndian, "test", 0, in)
	b.uleb()
	if b.err == nil {
		t.Errorf("uleb of unterminated value: no error")
	}
}

func TestBufLatchedError(t *testing.T) {
	b := makeBuf(binary.LittleEndian, ".debug_info", 0x10, []byte{0x01, 0x02})
	if v := b.uint32(); v != 0 || b.err == nil {
		t.Fatalf("uint32 underflow = %d, err %v; want 0 with error", v, b.err)
	}
	first := b.err
	// Further reads return zero values and keep the first error.
	if v := b.uint8(); v != 0 {
		t.Errorf("uint8 after error = %d, want 0", v)
	}
	if b.err != first {
		t.Errorf("error replaced: %v -> %v", first, b.err)
	}
	de, ok := first.(DecodeError)
	if !ok || de.Section != ".debug_info" || de.Offset != 0x10 {
		t.Errorf("error = %#v, want DecodeError at .debug_info+0x10", first)
	}
}

func TestUint24(t *testing.T) {
	le := makeBuf(binary.LittleEndian, "test", 0, []byte{0x01, 0x02, 0x03})
	if v := le.uint24(); v != 0x030201 {
		t.Errorf("little-endian uint24 = 0x%x, want 0x030201", v)
	}
	be := makeBuf(binary.BigEndian, "test", 0, []byte{0x01, 0x02, 0x03})
	if v := be.uint24(); v != 0x010203 {
		t.Errorf("big-endian uint24 = 0x%x, want 0x010203", v)
	}
}

func TestCstring(t *testing.T) {
	b := makeBuf(binary.LittleEndian, "test", 0, []byte("abc\x00def\x00"))
	if s := b.cstring(); s != "abc" {
		t.Errorf("first cstring = %q, want %q", s, "abc")
	}
	if s := b.cstring(); s != "def" {
		t.Errorf("second cstring = %q, want %q", s, "def")
	}
	unterminated := makeBuf(binary.LittleEndian, "test", 0, []byte("xyz"))
	unterminated.cstring()
	if unterminated.err == nil {
		t.Errorf("unterminated cstring: no error")
	}
}

func TestInitialLength(t *testing.T) {
	var im32 image
	im32.u32(0x1234)
	b := makeBuf(binary.LittleEndian, "test", 0, im32.b)
	if n, sz := b.initialLength(); n != 0x1234 || sz != 4 {
		t.Errorf("32-bit initial length = (0x%x, %d), want (0x1234, 4)", n, sz)
	}

	var im64 image
	im64.u32(0xffffffff)
	im64.u64(0x123456789)
	b = makeBuf(binary.LittleEndian, "test", 0, im64.b)
	if n, sz := b.initialLength(); n != 0x123456789 || sz != 8 {
		t.Errorf("64-bit initial length = (0x%x, %d), want (0x123456789, 8)", n, sz)
	}
}

func TestOffsetTracking(t *testing.T) {
	b := makeBuf(binary.LittleEndian, "test", 0x100, []byte{1, 2, 3, 4, 5, 6})
	b.uint16()
	if b.off != 0x102 {
		t.Errorf("off after uint16 = 0x%x, want 0x102", b.off)
	}
	b.uint32()
	if b.off != 0x106 || b.remaining() != 0 {
		t.Errorf("off after uint32 = 0x%x (rest %d), want 0x106 (rest 0)", b.off, b.remaining())
	}
}

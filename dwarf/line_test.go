// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dwarf

import (
	"encoding/binary"
	"testing"

	"github.com/aclements/go-dwarf/arch"
	"github.com/aclements/go-dwarf/dw"
)

// lineTestUnit builds a bare unit over prov for driving line programs
// without a full .debug_info image.
func lineTestUnit(prov *testProvider) *Unit {
	d := &Data{prov: prov, arch: arch.Default, order: binary.LittleEndian}
	return &Unit{
		d:          d,
		prov:       prov,
		secName:    ".debug_info",
		addrSize:   8,
		offsetSize: 4,
		name:       "test.c",
		compDir:    "/src",
	}
}

// buildV2LineProgram writes a version 2 line table:
//
//	dirs:  1 = "inc"
//	files: 1 = "test.c" (dir 0), 2 = "util.h" (dir 1)
//
// followed by the opcode stream in prog.
func buildV2LineProgram(prog func(im *image)) []byte {
	var im image
	im.u32(0) // unit length, patched below
	im.u16(2) // version
	hdrLenSlot := im.len()
	im.u32(0) // header length, patched below
	hdrStart := im.len()
	im.u8(1)    // minimum instruction length
	im.u8(1)    // default is_stmt
	im.u8(0xfb) // line base -5
	im.u8(14)   // line range
	im.u8(13)   // opcode base
	for _, n := range []uint8{0, 1, 1, 1, 1, 0, 0, 0, 1, 0, 0, 1} {
		im.u8(n)
	}
	im.str("inc")
	im.u8(0) // end of directories
	im.str("test.c")
	im.uleb(0) // dir index
	im.uleb(0) // mtime
	im.uleb(0) // length
	im.str("util.h")
	im.uleb(1)
	im.uleb(0)
	im.uleb(0)
	im.u8(0) // end of files
	im.patchU32(hdrLenSlot, uint32(im.len()-hdrStart))

	prog(&im)
	im.patchU32(0, uint32(im.len()-4))
	return im.b
}

func setAddress(im *image, addr uint64) {
	im.u8(0)
	im.uleb(9)
	im.u8(dw.LNESetAddress)
	im.u64(addr)
}

func endSequence(im *image) {
	im.u8(0)
	im.uleb(1)
	im.u8(dw.LNEEndSequence)
}

func runProgram(t *testing.T, u *Unit, off uint64) []LineEntry {
	t.Helper()
	lp, err := u.LineProgram(off)
	if err != nil {
		t.Fatalf("LineProgram: %v", err)
	}
	var rows []LineEntry
	if err := lp.Run(func(e LineEntry) { rows = append(rows, e) }); err != nil {
		t.Fatalf("Run: %v", err)
	}
	return rows
}

func TestLineProgramRows(t *testing.T) {
	prov := newTestProvider()
	prov.secs[SecLine] = buildV2LineProgram(func(im *image) {
		setAddress(im, 0x1000)
		// Special opcode: line +1, address +0.
		im.u8(13 + (1 - -5))
		// GCC duplicates the row at the end of the prologue with both
		// discriminators zero; the duplicate must survive.
		im.u8(dw.LNSAdvancePC)
		im.uleb(4)
		im.u8(dw.LNSCopy)
		// The same row with a discriminator set coalesces away.
		im.u8(0)
		im.uleb(2)
		im.u8(dw.LNESetDiscriminator)
		im.uleb(1)
		im.u8(dw.LNSAdvancePC)
		im.uleb(4)
		im.u8(dw.LNSCopy)
		// New line survives.
		im.u8(dw.LNSAdvanceLine)
		im.sleb(1)
		im.u8(dw.LNSAdvancePC)
		im.uleb(4)
		im.u8(dw.LNSCopy)
		im.u8(dw.LNSAdvancePC)
		im.uleb(4)
		endSequence(im)
	})
	u := lineTestUnit(prov)
	rows := runProgram(t, u, 0)

	want := []struct {
		line int
		addr uint64
		end  bool
	}{
		{2, 0x1000, false},
		{2, 0x1004, false},
		{3, 0x100c, false},
		{3, 0x1010, true},
	}
	if len(rows) != len(want) {
		t.Fatalf("got %d rows, want %d: %+v", len(rows), len(want), rows)
	}
	for i, w := range want {
		r := rows[i]
		if r.Line != w.line || r.Address != w.addr || r.EndSequence != w.end {
			t.Errorf("row %d = (line %d, 0x%x, end %v), want (line %d, 0x%x, end %v)",
				i, r.Line, r.Address, r.EndSequence, w.line, w.addr, w.end)
		}
		if r.File != 1 {
			t.Errorf("row %d file = %d, want 1", i, r.File)
		}
	}
}

// TestLineProgramGarbageSequence checks that a sequence whose first
// set_address is 0 in an object with nothing at address 0 is dropped
// whole, without poisoning the next sequence.
func TestLineProgramGarbageSequence(t *testing.T) {
	prov := newTestProvider()
	prov.secs[SecLine] = buildV2LineProgram(func(im *image) {
		setAddress(im, 0)
		im.u8(13 + (1 - -5))
		endSequence(im)
		setAddress(im, 0x2000)
		im.u8(13 + (1 - -5))
		endSequence(im)
	})
	u := lineTestUnit(prov)
	rows := runProgram(t, u, 0)

	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2 (second sequence only): %+v", len(rows), rows)
	}
	if rows[0].Address != 0x2000 || rows[0].EndSequence {
		t.Errorf("row 0 = %+v, want line row at 0x2000", rows[0])
	}
	if !rows[1].EndSequence {
		t.Errorf("row 1 = %+v, want end of sequence", rows[1])
	}

	// With a section at address 0 the first sequence is real.
	prov.atZero = true
	rows = runProgram(t, u, 0)
	if len(rows) != 4 || rows[0].Address != 0 {
		t.Errorf("with section at zero: got %+v, want both sequences", rows)
	}
}

// TestLineProgramOpIndex checks VLIW op_index handling: rows inside an
// instruction bundle are dropped.
func TestLineProgramOpIndex(t *testing.T) {
	var im image
	im.u32(0)
	im.u16(4)
	hdrLenSlot := im.len()
	im.u32(0)
	hdrStart := im.len()
	im.u8(4) // minimum instruction length
	im.u8(2) // maximum operations per instruction
	im.u8(1)
	im.u8(0xfb)
	im.u8(14)
	im.u8(13)
	for _, n := range []uint8{0, 1, 1, 1, 1, 0, 0, 0, 1, 0, 0, 1} {
		im.u8(n)
	}
	im.u8(0) // end of directories
	im.str("test.c")
	im.uleb(0)
	im.uleb(0)
	im.uleb(0)
	im.u8(0) // end of files
	im.patchU32(hdrLenSlot, uint32(im.len()-hdrStart))

	setAddress(&im, 0x1000)
	// Advance by one operation: op_index 0 -> 1, same address. The
	// copy lands mid-bundle and is dropped.
	im.u8(dw.LNSAdvancePC)
	im.uleb(1)
	im.u8(dw.LNSCopy)
	// Advance again: op_index wraps to 0, address moves by 4.
	im.u8(dw.LNSAdvancePC)
	im.uleb(1)
	im.u8(dw.LNSCopy)
	endSequence(&im)
	im.patchU32(0, uint32(im.len()-4))

	prov := newTestProvider()
	prov.secs[SecLine] = im.b
	u := lineTestUnit(prov)
	rows := runProgram(t, u, 0)

	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2: %+v", len(rows), rows)
	}
	if rows[0].Address != 0x1004 || rows[0].OpIndex != 0 {
		t.Errorf("row 0 = %+v, want bundle-aligned row at 0x1004", rows[0])
	}
}

func TestFileNameAt(t *testing.T) {
	prov := newTestProvider()
	prov.secs[SecLine] = buildV2LineProgram(func(im *image) {})
	u := lineTestUnit(prov)
	lp, err := u.LineProgram(0)
	if err != nil {
		t.Fatalf("LineProgram: %v", err)
	}
	tests := []struct {
		i    int
		want string
		ok   bool
	}{
		{0, "/src/test.c", true}, // slot 0 is the unit file
		{1, "/src/test.c", true},
		{2, "inc/util.h", true},
		{3, "", false},
		{-1, "", false},
	}
	for _, tt := range tests {
		if got, ok := lp.FileNameAt(tt.i); got != tt.want || ok != tt.ok {
			t.Errorf("FileNameAt(%d) = (%q, %v), want (%q, %v)", tt.i, got, ok, tt.want, tt.ok)
		}
	}
}

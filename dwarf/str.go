// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dwarf

import (
	"bytes"
	"fmt"

	"github.com/aclements/go-dwarf/dw"
)

// stringFrom resolves a string at off in the named string section of
// u's provider. Out-of-range offsets produce a complaint and a
// placeholder, not a fatal error: a bad name should not sink a unit.
func (u *Unit) stringFrom(id SectionID, off uint64) string {
	data := u.prov.SectionBytes(id)
	if off >= uint64(len(data)) {
		u.d.complainf("%s offset 0x%x out of range (unit 0x%x)", SectionName(id), off, u.off)
		return fmt.Sprintf("<bad string offset 0x%x>", off)
	}
	n := bytes.IndexByte(data[off:], 0)
	if n < 0 {
		return string(data[off:])
	}
	return string(data[off : off+uint64(n)])
}

// altStringAt resolves a DW_FORM_GNU_strp_alt string from the DWZ
// supplementary file.
func (u *Unit) altStringAt(off uint64) string {
	d := u.d
	if !d.ensureAlt() {
		d.complainf("strp_alt form but no DWZ file found (unit 0x%x)", u.off)
		return fmt.Sprintf("<bad alt string offset 0x%x>", off)
	}
	data := d.altSectionBytes(SecStr)
	if off >= uint64(len(data)) {
		d.complainf("alt .debug_str offset 0x%x out of range", off)
		return fmt.Sprintf("<bad alt string offset 0x%x>", off)
	}
	n := bytes.IndexByte(data[off:], 0)
	if n < 0 {
		return string(data[off:])
	}
	return string(data[off : off+uint64(n)])
}

// strOffsetsBase returns the base offset of u's slot in
// .debug_str_offsets. A v5 unit without DW_AT_str_offsets_base uses
// the first entry array, which follows the 8-byte (32-bit format)
// section header; split pre-v5 units index from 0.
func (u *Unit) strOffsetsBase() uint64 {
	if u.hasStrOffBase {
		return u.strOffBase
	}
	if u.version >= 5 {
		return 8
	}
	return 0
}

// StrAt resolves string index i (DW_FORM_strx and variants) for u.
func (u *Unit) StrAt(i uint64) (string, error) {
	offs := u.prov.SectionBytes(SecStrOffsets)
	pos := u.strOffsetsBase() + i*uint64(u.offsetSize)
	if pos+uint64(u.offsetSize) > uint64(len(offs)) {
		return "", errf(".debug_str_offsets", pos, "string index %d out of range (unit 0x%x)", i, u.off)
	}
	b := makeBuf(u.d.order, ".debug_str_offsets", pos, offs[pos:])
	off := b.offset(u.offsetSize)
	if b.err != nil {
		return "", b.err
	}
	return u.stringFrom(SecStr, off), nil
}

// AddrAt resolves address index i (DW_FORM_addrx and variants) by
// reading the address-size entry at addr_base + i*addr_size in
// .debug_addr. The result is arch-adjusted.
func (u *Unit) AddrAt(i uint64) (uint64, error) {
	base := u.addrBase
	if u.stub != nil {
		// A split unit indexes through its skeleton's addr_base.
		base = u.stub.addrBase
	}
	data := u.addrProvider().SectionBytes(SecAddr)
	pos := base + i*uint64(u.addrSize)
	if pos+uint64(u.addrSize) > uint64(len(data)) {
		return 0, errf(".debug_addr", pos, "address index %d out of range (unit 0x%x)", i, u.off)
	}
	b := makeBuf(u.d.order, ".debug_addr", pos, data[pos:])
	addr := b.uintN(u.addrSize)
	if b.err != nil {
		return 0, b.err
	}
	return u.d.arch.Addr(addr), nil
}

// addrProvider returns the provider holding .debug_addr for u:
// always the main file, even for split units.
func (u *Unit) addrProvider() SectionProvider {
	if u.stub != nil {
		return u.stub.prov
	}
	return u.prov
}

// attrString resolves a string-or-string-index attribute.
func (u *Unit) attrString(die *DIE, a dw.Attr) (string, bool) {
	v := die.Attr(a)
	if v == nil {
		return "", false
	}
	switch v.Class {
	case ClassString:
		return v.Str, true
	case ClassStrIndex:
		s, err := u.StrAt(v.Uint)
		if err != nil {
			u.d.complainf("%v", err)
			return "", false
		}
		return s, true
	}
	return "", false
}

// attrAddr resolves an address-or-address-index attribute.
func (u *Unit) attrAddr(die *DIE, a dw.Attr) (uint64, bool) {
	v := die.Attr(a)
	if v == nil {
		return 0, false
	}
	switch v.Class {
	case ClassAddress:
		return v.Uint, true
	case ClassAddrIndex:
		addr, err := u.AddrAt(v.Uint)
		if err != nil {
			u.d.complainf("%v", err)
			return 0, false
		}
		return addr, true
	}
	return 0, false
}

// pcBounds derives the [low, high) PC bounds of die, handling
// DW_AT_high_pc encoded as either an address or an offset from low.
func (u *Unit) pcBounds(die *DIE) (low, high uint64, ok bool) {
	low, ok = u.attrAddr(die, dw.AttrLowPC)
	if !ok {
		return 0, 0, false
	}
	if low == 0 && !u.d.prov.HasSectionAtZero() {
		// Linker-GC'd code gets relocated to address 0; treating it
		// as live would drag [0, high) into the address map.
		return 0, 0, false
	}
	hv := die.Attr(dw.AttrHighPC)
	if hv == nil {
		return low, low, true
	}
	switch hv.Class {
	case ClassAddress:
		high = hv.Uint
	case ClassAddrIndex:
		h, err := u.AddrAt(hv.Uint)
		if err != nil {
			return 0, 0, false
		}
		high = h
	case ClassConstant:
		high = low + hv.Uint
	case ClassSignedConstant:
		high = low + uint64(hv.Int)
	default:
		return 0, 0, false
	}
	return low, high, true
}

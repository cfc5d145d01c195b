// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dwarf

import "github.com/aclements/go-dwarf/dw"

// ForEachRange decodes the range list at off for u and calls f once
// per [low, high) pair, arch-adjusted. Pre-v5 units read
// .debug_ranges; v5 units read .debug_rnglists.
//
// The base address starts as u's base (DW_AT_low_pc of the root DIE)
// and may be reselected by the list itself.
func (u *Unit) ForEachRange(off uint64, f func(low, high uint64) error) error {
	if u.version >= 5 {
		return u.rnglistsRanges(off, f)
	}
	return u.rangesRanges(off, f)
}

// rangesRanges reads a pre-v5 .debug_ranges list: address-size word
// pairs, all-ones begin selects a new base, all-zero pair terminates.
func (u *Unit) rangesRanges(off uint64, f func(low, high uint64) error) error {
	// A split unit's ranges live in the main file, offset by the
	// skeleton's ranges_base.
	prov := u.prov
	if u.stub != nil {
		prov = u.stub.prov
		off += u.stub.rangesBase
	}
	data := prov.SectionBytes(SecRanges)
	if off >= uint64(len(data)) {
		return errf(".debug_ranges", off, "range list offset out of range (unit 0x%x)", u.off)
	}
	b := makeBuf(u.d.order, ".debug_ranges", off, data[off:])

	base, haveBase := u.baseAddr, u.hasBase
	allOnes := ^uint64(0)
	if u.addrSize < 8 {
		allOnes = 1<<(uint(u.addrSize)*8) - 1
	}
	for {
		begin := b.uintN(u.addrSize)
		end := b.uintN(u.addrSize)
		if b.err != nil {
			return b.err
		}
		switch {
		case begin == 0 && end == 0:
			return nil
		case begin == allOnes:
			base, haveBase = end, true
		case begin == end:
			// Empty range; skip.
		case begin > end:
			return errf(".debug_ranges", off, "inverted range 0x%x..0x%x (unit 0x%x)", begin, end, u.off)
		default:
			if !haveBase {
				return errf(".debug_ranges", off, "range list has no base address (unit 0x%x)", u.off)
			}
			lo := u.d.arch.Addr(base + begin)
			hi := u.d.arch.Addr(base + end)
			if err := f(lo, hi); err != nil {
				return err
			}
		}
	}
}

// rnglistsRanges reads a v5 .debug_rnglists list.
func (u *Unit) rnglistsRanges(off uint64, f func(low, high uint64) error) error {
	data := u.prov.SectionBytes(SecRnglists)
	if off >= uint64(len(data)) {
		return errf(".debug_rnglists", off, "range list offset out of range (unit 0x%x)", u.off)
	}
	b := makeBuf(u.d.order, ".debug_rnglists", off, data[off:])

	base, haveBase := u.baseAddr, u.hasBase
	emit := func(lo, hi uint64) error {
		if lo == hi {
			return nil
		}
		if lo > hi {
			return errf(".debug_rnglists", off, "inverted range 0x%x..0x%x (unit 0x%x)", lo, hi, u.off)
		}
		return f(u.d.arch.Addr(lo), u.d.arch.Addr(hi))
	}
	for {
		op := b.uint8()
		if b.err != nil {
			return b.err
		}
		switch op {
		case dw.RLEEndOfList:
			return nil
		case dw.RLEBaseAddress:
			base, haveBase = b.uintN(u.addrSize), true
		case dw.RLEBaseAddressx:
			a, err := u.AddrAt(b.uleb())
			if err != nil {
				return err
			}
			base, haveBase = a, true
		case dw.RLEOffsetPair:
			lo := b.uleb()
			hi := b.uleb()
			if !haveBase {
				return errf(".debug_rnglists", off, "offset pair with no base address (unit 0x%x)", u.off)
			}
			if err := emit(base+lo, base+hi); err != nil {
				return err
			}
		case dw.RLEStartEnd:
			lo := b.uintN(u.addrSize)
			hi := b.uintN(u.addrSize)
			if err := emit(lo, hi); err != nil {
				return err
			}
		case dw.RLEStartLength:
			lo := b.uintN(u.addrSize)
			n := b.uleb()
			if err := emit(lo, lo+n); err != nil {
				return err
			}
		case dw.RLEStartxEndx:
			lo, err := u.AddrAt(b.uleb())
			if err != nil {
				return err
			}
			hi, err := u.AddrAt(b.uleb())
			if err != nil {
				return err
			}
			if err := emit(lo, hi); err != nil {
				return err
			}
		case dw.RLEStartxLength:
			lo, err := u.AddrAt(b.uleb())
			if err != nil {
				return err
			}
			n := b.uleb()
			if err := emit(lo, lo+n); err != nil {
				return err
			}
		default:
			return errf(".debug_rnglists", off, "unsupported range list opcode 0x%x", op)
		}
		if b.err != nil {
			return b.err
		}
	}
}

// rangesOffset resolves a DW_AT_ranges attribute to a section offset,
// handling the v5 rnglistx index form via the unit's rnglists_base.
func (u *Unit) rangesOffset(v *AttrValue) (uint64, error) {
	switch v.Class {
	case ClassSecOffset, ClassConstant:
		// By longstanding quirk, addr_base is not applied here even
		// for a split compile unit; ranges_base is applied inside
		// rangesRanges.
		return v.Uint, nil
	case ClassRngListIndex:
		data := u.prov.SectionBytes(SecRnglists)
		base := u.rnglistsBase
		if base == 0 {
			// Offset entries follow the 12-byte (32-bit format) header.
			base = 12
		}
		pos := base + v.Uint*uint64(u.offsetSize)
		if pos+uint64(u.offsetSize) > uint64(len(data)) {
			return 0, errf(".debug_rnglists", pos, "range list index %d out of range", v.Uint)
		}
		b := makeBuf(u.d.order, ".debug_rnglists", pos, data[pos:])
		return base + b.offset(u.offsetSize), b.err
	}
	return 0, errf(u.secName, 0, "bad class for DW_AT_ranges")
}

// dieRanges applies f to every PC range of die: either its range
// list or its [low, high) bounds.
func (u *Unit) dieRanges(die *DIE, f func(low, high uint64) error) error {
	if v := die.Attr(dw.AttrRanges); v != nil {
		off, err := u.rangesOffset(v)
		if err != nil {
			return err
		}
		return u.ForEachRange(off, f)
	}
	if low, high, ok := u.pcBounds(die); ok && low != high {
		return f(low, high)
	}
	return nil
}

// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dwarf

import (
	"sort"

	"github.com/aclements/go-dwarf/dw"
)

// A Unit is one compilation, partial, type, or skeleton unit. The
// stub (header plus the attributes of the root DIE needed before
// expansion) persists for the lifetime of the Data; the DIE tree is
// materialized on demand and may be discarded by the cache.
type Unit struct {
	d *Data

	// Header fields.
	off        uint64 // offset of the unit header in its info section
	endOff     uint64 // offset one past the unit's last byte
	firstDIE   uint64 // offset of the root DIE
	version    int
	unitType   dw.UnitType
	addrSize   int
	offsetSize int
	abbrevOff  uint64
	signature  uint64 // type signature (TUs) or DWO id (v5 skeletons)
	hasSig     bool
	typeOff    uint64 // TU: offset of the described type's DIE
	isDWZ      bool
	inTypes    bool // unit lives in .debug_types
	isDWO      bool

	// info is the section image the unit decodes from; prov supplies
	// the unit's ancillary sections (for split units, the DWO file).
	info    []byte
	secName string
	prov    SectionProvider

	// Stub attributes from the root DIE.
	stubRead      bool
	lang          dw.Lang
	langDecided   bool
	producer      string
	name          string
	compDir       string
	lowPC         uint64
	hasLow        bool
	baseAddr      uint64
	hasBase       bool
	addrBase      uint64
	strOffBase    uint64
	hasStrOffBase bool
	rangesBase    uint64
	rnglistsBase  uint64
	loclistsBase  uint64
	stmtList      uint64
	hasStmtList   bool
	dwoName       string
	dwoID         uint64
	hasDwoID      bool

	dwo  *Unit // split unit this skeleton resolves to
	stub *Unit // skeleton behind a split unit

	// Materialized state, owned by the cache.
	abbrev   abbrevTable
	root     *DIE
	dies     map[uint64]*DIE
	lastUsed int
	mark     bool
	deps     map[*Unit]bool
	queued   bool
	expanded bool
	includes []*Unit

	callSites map[uint64]*CallSite
	delayed   []*delayedPhysname
}

// Offset returns the unit's byte offset in its info section, which
// uniquely identifies it within the object.
func (u *Unit) Offset() uint64 { return u.off }

// Version returns the unit's DWARF version (2–5).
func (u *Unit) Version() int { return u.version }

// Name returns the unit's source file name, if the stub has been read.
func (u *Unit) Name() string { return u.name }

// CompDir returns the unit's compilation directory.
func (u *Unit) CompDir() string { return u.compDir }

// Language returns the unit's language. The language is decided
// exactly once: from DW_AT_language if present, else a producer
// heuristic, else LangMinimal.
func (u *Unit) Language() dw.Lang { return u.lang }

// IsTypeUnit reports whether u defines a single signatured type.
func (u *Unit) IsTypeUnit() bool {
	return u.unitType == dw.UTType || u.unitType == dw.UTSplitType || (u.inTypes && u.hasSig)
}

// parseUnitHeader decodes one unit header starting at b's position.
// It returns the unit with header fields populated and b positioned
// at the root DIE.
func (d *Data) parseUnitHeader(b *buf, secName string, info []byte, inTypes, isDWZ, isDWO bool) (*Unit, error) {
	u := &Unit{
		d:       d,
		off:     b.off,
		info:    info,
		secName: secName,
		inTypes: inTypes,
		isDWZ:   isDWZ,
		isDWO:   isDWO,
		prov:    d.prov,
	}
	length, offsetSize := b.initialLength()
	if length == 0 {
		// Dummy unit emitted by some linkers. Recognized and skipped.
		u.endOff = b.off
		u.offsetSize = offsetSize
		return u, b.err
	}
	if length > uint64(b.remaining()) {
		return nil, errf(secName, u.off, "unit length 0x%x extends past section end", length)
	}
	u.endOff = b.off + length
	u.offsetSize = offsetSize

	v := b.uint16()
	if v < 2 || v > 5 {
		return nil, errf(secName, u.off, "unsupported DWARF version %d", v)
	}
	u.version = int(v)

	if u.version >= 5 {
		u.unitType = dw.UnitType(b.uint8())
		u.addrSize = int(b.uint8())
		u.abbrevOff = b.offset(offsetSize)
		switch u.unitType {
		case dw.UTSkeleton, dw.UTSplitCompile:
			u.signature = b.uint64()
			u.hasSig = true
		case dw.UTType, dw.UTSplitType:
			u.signature = b.uint64()
			u.hasSig = true
			u.typeOff = u.off + b.offset(offsetSize)
		case dw.UTCompile, dw.UTPartial:
		default:
			return nil, errf(secName, u.off, "unknown unit type %d", u.unitType)
		}
	} else {
		u.abbrevOff = b.offset(offsetSize)
		u.addrSize = int(b.uint8())
		u.unitType = dw.UTCompile
		if inTypes {
			// .debug_types units carry a signature and type offset
			// after the v2–v4 header.
			u.unitType = dw.UTType
			u.signature = b.uint64()
			u.hasSig = true
			u.typeOff = u.off + b.offset(offsetSize)
		}
	}
	if u.addrSize == 0 {
		u.addrSize = d.arch.AddressSize()
	}
	u.firstDIE = b.off
	return u, b.err
}

// buildUnitList scans .debug_info and .debug_types and creates a stub
// Unit per header. A zero-byte .debug_info yields an empty list.
func (d *Data) buildUnitList() error {
	if err := d.scanUnits(SecInfo, d.sectionBytes(SecInfo), false, false); err != nil {
		return err
	}
	if err := d.scanUnits(SecTypes, d.sectionBytes(SecTypes), true, false); err != nil {
		return err
	}
	d.sortUnits()
	return nil
}

func (d *Data) scanUnits(id SectionID, info []byte, inTypes, isDWZ bool) error {
	secName := SectionName(id)
	for off := uint64(0); off < uint64(len(info)); {
		b := makeBuf(d.order, secName, off, info[off:])
		u, err := d.parseUnitHeader(&b, secName, info, inTypes, isDWZ, false)
		if err != nil {
			return err
		}
		if b.err != nil {
			return b.err
		}
		if u.endOff <= off {
			// Dummy unit; skip just the initial-length field.
			off = b.off
			continue
		}
		d.units = append(d.units, u)
		if u.hasSig && u.IsTypeUnit() {
			d.typeUnits[u.signature] = u
		}
		off = u.endOff
	}
	return nil
}

func (d *Data) sortUnits() {
	// .debug_info and .debug_types have independent offset spaces, so
	// the section is part of the sort key.
	sort.Slice(d.units, func(i, j int) bool {
		a, b := d.units[i], d.units[j]
		if a.isDWZ != b.isDWZ {
			return b.isDWZ
		}
		if a.inTypes != b.inTypes {
			return b.inTypes
		}
		return a.off < b.off
	})
}

// ensureAlt loads the DWZ supplementary file's unit list on first use.
func (d *Data) ensureAlt() bool {
	if d.alt != nil {
		return true
	}
	d.alt = d.prov.FindAlt(nil, "")
	if d.alt == nil {
		return false
	}
	info := d.alt.SectionBytes(SecInfo)
	if err := d.scanUnits(SecInfo, info, false, true); err != nil {
		d.complainf("bad DWZ supplementary file: %v", err)
		return true
	}
	// Alt units resolve their own sections out of the alt provider.
	for _, u := range d.units {
		if u.isDWZ {
			u.prov = d.alt
		}
	}
	d.sortUnits()
	return true
}

// SigToUnit returns the type unit with the given signature, searching
// DWO files and the DWP package for skeletonless type units if
// necessary.
func (d *Data) SigToUnit(sig uint64) *Unit {
	if u := d.typeUnits[sig]; u != nil {
		return u
	}
	d.discoverDWOTypeUnits()
	if u := d.typeUnits[sig]; u != nil {
		return u
	}
	u, err := d.dwpTypeUnit(sig)
	if err != nil {
		d.complainf("%v", err)
		return nil
	}
	return u
}

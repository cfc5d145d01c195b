// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dwarf

import (
	"encoding/binary"

	"github.com/aclements/go-dwarf/dw"
)

// A dwpFile is one parsed DWP index (.debug_cu_index or
// .debug_tu_index): the signature hash plus the concatenated
// super-sections virtual DWO files slice out of.
type dwpFile struct {
	prov    SectionProvider
	sec     SectionID
	version int

	sigs    []uint64 // hash table of dwo_ids; 0 = empty slot
	indices []uint32 // parallel 1-based row indices

	columns []int      // DW_SECT id per column
	offsets [][]uint32 // per row, per column
	sizes   [][]uint32
}

// ensureDWP opens and parses the object's DWP package on first use.
func (d *Data) ensureDWP() (*dwpFile, error) {
	if d.dwp != nil {
		return d.dwp, nil
	}
	prov := d.prov.FindDWP(d.ObjName)
	if prov == nil {
		return nil, nil
	}
	w, err := d.parseDWPIndex(prov, SecCuIndex)
	if err != nil {
		return nil, err
	}
	d.dwp = w
	return w, nil
}

// ensureDWPTU opens and parses the DWP's .debug_tu_index on first
// use. A package with no type units carries none; that is not an
// error.
func (d *Data) ensureDWPTU() (*dwpFile, error) {
	if d.dwpTU != nil {
		return d.dwpTU, nil
	}
	prov := d.prov.FindDWP(d.ObjName)
	if prov == nil || len(prov.SectionBytes(SecTuIndex)) == 0 {
		return nil, nil
	}
	w, err := d.parseDWPIndex(prov, SecTuIndex)
	if err != nil {
		return nil, err
	}
	d.dwpTU = w
	return w, nil
}

// parseDWPIndex parses a .debug_cu_index/.debug_tu_index section.
func (d *Data) parseDWPIndex(prov SectionProvider, id SectionID) (*dwpFile, error) {
	data := prov.SectionBytes(id)
	secName := SectionName(id)
	if len(data) == 0 {
		return nil, errf(secName, 0, "DWP package has no %s", secName)
	}
	b := makeBuf(prov.SectionEndian(), secName, 0, data)
	w := &dwpFile{prov: prov, sec: id}
	w.version = int(b.uint32())
	switch w.version {
	case 2, 5:
		// GNU DWP v2 and the standardized DWARF v5 layout agree on
		// everything the reader touches.
	case 1:
		// Version 1 indexes carry raw ELF section numbers per unit,
		// which the flat section-provider surface cannot address.
		return nil, errf(secName, 0, "version 1 DWP packages are not supported")
	default:
		return nil, errf(secName, 0, "unsupported DWP index version %d", w.version)
	}
	nCols := int(b.uint32())
	nUnits := int(b.uint32())
	nSlots := int(b.uint32())
	if nSlots == 0 || nSlots&(nSlots-1) != 0 {
		return nil, errf(secName, 0, "hash slot count %d is not a power of two", nSlots)
	}
	w.sigs = make([]uint64, nSlots)
	for i := range w.sigs {
		w.sigs[i] = b.uint64()
	}
	w.indices = make([]uint32, nSlots)
	for i := range w.indices {
		w.indices[i] = b.uint32()
	}
	w.columns = make([]int, nCols)
	nInfo, nAbbrev := 0, 0
	for i := range w.columns {
		w.columns[i] = int(b.uint32())
		switch w.columns[i] {
		case dw.SectInfo, dw.SectTypes:
			nInfo++
		case dw.SectAbbrev:
			nAbbrev++
		}
	}
	if nInfo != 1 || nAbbrev != 1 {
		return nil, errf(secName, 0, "section table needs exactly one info/types and one abbrev column")
	}
	w.offsets = make([][]uint32, nUnits)
	for i := range w.offsets {
		row := make([]uint32, nCols)
		for j := range row {
			row[j] = b.uint32()
		}
		w.offsets[i] = row
	}
	w.sizes = make([][]uint32, nUnits)
	for i := range w.sizes {
		row := make([]uint32, nCols)
		for j := range row {
			row[j] = b.uint32()
		}
		w.sizes[i] = row
	}
	if b.err != nil {
		return nil, b.err
	}
	return w, nil
}

// lookupRow probes the hash table for sig: h = sig & mask, step =
// ((sig >> 32) & mask) | 1. Returns the 0-based row, or -1.
func (w *dwpFile) lookupRow(sig uint64) int {
	mask := uint64(len(w.sigs) - 1)
	slot := sig & mask
	step := ((sig >> 32) & mask) | 1
	for {
		if w.sigs[slot] == sig && w.indices[slot] != 0 {
			return int(w.indices[slot]) - 1
		}
		if w.sigs[slot] == 0 && w.indices[slot] == 0 {
			return -1
		}
		slot = (slot + step) & mask
	}
}

// dwpUnitProvider synthesizes a virtual DWO file for the compile
// unit with the given dwo_id, or returns nil if the object has no
// DWP package or the package lacks the unit.
func (d *Data) dwpUnitProvider(sig uint64) (SectionProvider, error) {
	w, err := d.ensureDWP()
	if w == nil || err != nil {
		return nil, err
	}
	return d.dwpRowProvider(w, sig)
}

// dwpTypeUnit materializes a packaged type unit out of the DWP's
// .debug_tu_index and enters it into the signatured-type table.
func (d *Data) dwpTypeUnit(sig uint64) (*Unit, error) {
	w, err := d.ensureDWPTU()
	if w == nil || err != nil {
		return nil, err
	}
	prov, err := d.dwpRowProvider(w, sig)
	if prov == nil || err != nil {
		return nil, err
	}
	df, err := d.openDWOProvider("dwp-tu", prov)
	if err != nil {
		return nil, err
	}
	for _, du := range df.units {
		if du.IsTypeUnit() && du.hasSig && du.signature == sig {
			d.typeUnits[sig] = du
			return du, nil
		}
	}
	return nil, errf(SectionName(w.sec), 0, "row for signature 0x%016x holds no matching type unit", sig)
}

// dwpRowProvider slices w's super-sections into a virtual DWO file
// for the row hashed under sig, or returns nil if the package lacks
// the signature.
func (d *Data) dwpRowProvider(w *dwpFile, sig uint64) (SectionProvider, error) {
	row := w.lookupRow(sig)
	if row < 0 || row >= len(w.offsets) {
		return nil, nil
	}
	vp := &virtualDWO{order: d.order, sections: make(map[SectionID][]byte)}
	for col, sect := range w.columns {
		var id SectionID
		switch sect {
		case dw.SectInfo:
			id = SecInfo
		case dw.SectTypes:
			id = SecTypes
		case dw.SectAbbrev:
			id = SecAbbrev
		case dw.SectLine:
			id = SecLine
		case dw.SectLoc:
			id = SecLoc
		case dw.SectStrOffsets:
			id = SecStrOffsets
		case dw.SectMacinfo:
			id = SecMacinfo
		case dw.SectMacro:
			id = SecMacro
		default:
			continue
		}
		super := w.prov.SectionBytes(id)
		off, size := uint64(w.offsets[row][col]), uint64(w.sizes[row][col])
		if off+size > uint64(len(super)) {
			return nil, errf(SectionName(w.sec), off, "row %d slice of %s out of range", row, SectionName(id))
		}
		vp.sections[id] = super[off : off+size]
	}
	// Strings are shared across the whole package.
	vp.sections[SecStr] = w.prov.SectionBytes(SecStr)
	return vp, nil
}

// virtualDWO presents one DWP row as if it were a standalone DWO
// file.
type virtualDWO struct {
	order    binary.ByteOrder
	sections map[SectionID][]byte
}

func (p *virtualDWO) SectionBytes(id SectionID) []byte       { return p.sections[id] }
func (p *virtualDWO) SectionEndian() binary.ByteOrder        { return p.order }
func (p *virtualDWO) HasSectionAtZero() bool                 { return false }
func (p *virtualDWO) FindAlt([]byte, string) SectionProvider { return nil }
func (p *virtualDWO) FindDWO(string, string) SectionProvider { return nil }
func (p *virtualDWO) FindDWP(string) SectionProvider         { return nil }

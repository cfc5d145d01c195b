// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dwarf

import "github.com/aclements/go-dwarf/dw"

// debugNames is a parsed .debug_names (DWARF v5) name index.
type debugNames struct {
	d *Data

	units   []*Unit // CUs then local TUs, in table order
	cuCount int

	buckets []uint32 // 1-based indexes into the name table, 0 = empty
	hashes  []uint32 // DJB hash per name

	strOffs   []uint64 // name string offsets into .debug_str
	entryOffs []uint64 // entry-pool offsets, parallel to strOffs

	abbrevs map[uint64]*namesAbbrev
	pool    []byte

	offsetSize int
	// gdbAugmentation enables the DW_IDX_GNU_internal/external
	// extension emitted under the "GDB" augmentation.
	gdbAugmentation bool
}

type namesAbbrev struct {
	tag    dw.Tag
	fields []abbrevField // attr space is DW_IDX_*
}

// djbHash is the hash function of .debug_names buckets.
func djbHash(name string) uint32 {
	h := uint32(5381)
	for i := 0; i < len(name); i++ {
		h = h*33 + uint32(name[i])
	}
	return h
}

// readDebugNames parses the .debug_names section, or returns nil if
// absent. Only version 5 with zero foreign type units is accepted.
func (d *Data) readDebugNames() (*debugNames, error) {
	data := d.sectionBytes(SecDebugNames)
	if len(data) == 0 {
		return nil, nil
	}
	b := makeBuf(d.order, ".debug_names", 0, data)
	length, offsetSize := b.initialLength()
	if length > uint64(b.remaining()) {
		return nil, errf(".debug_names", 0, "length extends past section")
	}
	ni := &debugNames{d: d, offsetSize: offsetSize, abbrevs: make(map[uint64]*namesAbbrev)}

	if v := b.uint16(); v != 5 {
		return nil, errf(".debug_names", 0, "unsupported version %d", v)
	}
	if pad := b.uint16(); pad != 0 {
		return nil, errf(".debug_names", 0, "nonzero header padding")
	}
	cuCount := int(b.uint32())
	localTUCount := int(b.uint32())
	foreignTUCount := int(b.uint32())
	if foreignTUCount != 0 {
		return nil, errf(".debug_names", 0, "foreign type units are not supported")
	}
	bucketCount := int(b.uint32())
	nameCount := int(b.uint32())
	abbrevSize := int(b.uint32())
	augLen := int(b.uint32())
	aug := string(b.bytes(augLen))
	switch aug {
	case "", "GDB\x00":
		ni.gdbAugmentation = aug != ""
	default:
		return nil, errf(".debug_names", 0, "unknown augmentation %q", aug)
	}
	if b.err != nil {
		return nil, b.err
	}

	ni.cuCount = cuCount
	for i := 0; i < cuCount; i++ {
		off := b.offset(offsetSize)
		u := d.FindUnit(off, false)
		if u == nil {
			return nil, errf(".debug_names", off, "CU table names unit not in .debug_info")
		}
		ni.units = append(ni.units, u)
	}
	for i := 0; i < localTUCount; i++ {
		off := b.offset(offsetSize)
		u := d.FindUnit(off, false)
		if u == nil {
			return nil, errf(".debug_names", off, "TU table names unknown unit")
		}
		ni.units = append(ni.units, u)
	}

	ni.buckets = make([]uint32, bucketCount)
	for i := range ni.buckets {
		ni.buckets[i] = b.uint32()
	}
	ni.hashes = make([]uint32, nameCount)
	for i := range ni.hashes {
		ni.hashes[i] = b.uint32()
	}
	ni.strOffs = make([]uint64, nameCount)
	for i := range ni.strOffs {
		ni.strOffs[i] = b.offset(offsetSize)
	}
	ni.entryOffs = make([]uint64, nameCount)
	for i := range ni.entryOffs {
		ni.entryOffs[i] = b.offset(offsetSize)
	}
	if b.err != nil {
		return nil, b.err
	}

	// Abbreviation table: (code, tag, {idx, form}* (0,0)) per entry,
	// closed by a zero code.
	ab := makeBuf(d.order, ".debug_names", b.off, b.bytes(abbrevSize))
	for {
		code := ab.uleb()
		if code == 0 || ab.err != nil {
			break
		}
		a := &namesAbbrev{tag: dw.Tag(ab.uleb())}
		for {
			idx := ab.uleb()
			form := ab.uleb()
			if idx == 0 && form == 0 {
				break
			}
			a.fields = append(a.fields, abbrevField{attr: dw.Attr(idx), form: dw.Form(form)})
		}
		ni.abbrevs[code] = a
	}
	if ab.err != nil {
		return nil, ab.err
	}
	ni.pool = b.data
	if b.err != nil {
		return nil, b.err
	}
	return ni, nil
}

// lookupName returns the name-table index for name, or -1.
func (ni *debugNames) lookupName(name string) int {
	if len(ni.buckets) == 0 {
		return -1
	}
	full := djbHash(name)
	bucket := int(full % uint32(len(ni.buckets)))
	namei := int(ni.buckets[bucket]) - 1
	if namei < 0 {
		return -1
	}
	for namei < len(ni.hashes) &&
		ni.hashes[namei]%uint32(len(ni.buckets)) == full%uint32(len(ni.buckets)) {
		if ni.hashes[namei] == full && ni.symbolName(namei) == name {
			return namei
		}
		namei++
	}
	return -1
}

// entries decodes the entry pool for name index i, calling f with
// each matching DIE's unit and attributes.
func (ni *debugNames) entries(i int, f func(u *Unit, tag dw.Tag, dieOff uint64, hasOff bool)) {
	if i < 0 || i >= len(ni.entryOffs) {
		return
	}
	off := ni.entryOffs[i]
	if off >= uint64(len(ni.pool)) {
		return
	}
	b := makeBuf(ni.d.order, ".debug_names", off, ni.pool[off:])
	for {
		code := b.uleb()
		if code == 0 || b.err != nil {
			return
		}
		a := ni.abbrevs[code]
		if a == nil {
			ni.d.complainf(".debug_names entry references missing abbrev %d", code)
			return
		}
		var u *Unit
		var dieOff uint64
		hasOff := false
		for _, fld := range a.fields {
			var val uint64
			switch fld.form {
			case dw.FormData1, dw.FormRef1:
				val = uint64(b.uint8())
			case dw.FormData2, dw.FormRef2:
				val = uint64(b.uint16())
			case dw.FormData4, dw.FormRef4:
				val = uint64(b.uint32())
			case dw.FormData8, dw.FormRef8:
				val = b.uint64()
			case dw.FormUdata:
				val = b.uleb()
			case dw.FormFlagPresent:
				val = 1
			default:
				ni.d.complainf(".debug_names entry uses unsupported form %s", fld.form)
				return
			}
			switch uint64(fld.attr) {
			case dw.IdxCompileUnit:
				if int(val) < ni.cuCount {
					u = ni.units[val]
				}
			case dw.IdxTypeUnit:
				if ni.cuCount+int(val) < len(ni.units) {
					u = ni.units[ni.cuCount+int(val)]
				}
			case dw.IdxDieOffset:
				dieOff, hasOff = val, true
			case dw.IdxGNUInternal, dw.IdxGNUExternal:
				// Placement hints under the GDB augmentation.
			}
		}
		if u == nil && ni.cuCount == 1 {
			// A single-CU index may omit DW_IDX_compile_unit.
			u = ni.units[0]
		}
		if u != nil {
			if hasOff {
				f(u, a.tag, u.off+dieOff, true)
			} else {
				f(u, a.tag, 0, false)
			}
		}
		if b.err != nil {
			return
		}
	}
}

// nameIndex capability set.

func (ni *debugNames) symbolNameCount() int         { return len(ni.strOffs) }
func (ni *debugNames) symbolSlotInvalid(i int) bool { return false }

func (ni *debugNames) symbolName(i int) string {
	data := ni.d.sectionBytes(SecStr)
	off := ni.strOffs[i]
	if off >= uint64(len(data)) {
		return ""
	}
	end := off
	for end < uint64(len(data)) && data[end] != 0 {
		end++
	}
	return string(data[off:end])
}

func (ni *debugNames) symbolUnits(i int) []*Unit {
	var out []*Unit
	seen := make(map[*Unit]bool)
	ni.entries(i, func(u *Unit, tag dw.Tag, dieOff uint64, hasOff bool) {
		if !seen[u] {
			seen[u] = true
			out = append(out, u)
		}
	})
	return out
}

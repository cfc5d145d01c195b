// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dwarf

// ReadAranges seeds the PC→unit map from .debug_aranges, avoiding a
// partial scan for address lookups. It reports whether the section
// was present and usable; a malformed section is abandoned with a
// complaint and the map left as is.
func (d *Data) ReadAranges() bool {
	data := d.sectionBytes(SecAranges)
	if len(data) == 0 {
		return false
	}
	secName := SectionName(SecAranges)
	any := false
	for off := uint64(0); off < uint64(len(data)); {
		b := makeBuf(d.order, secName, off, data[off:])
		length, offsetSize := b.initialLength()
		if b.err != nil || length == 0 || length > uint64(b.remaining()) {
			d.complainf("%s: bad set length at 0x%x; ignoring rest of section", secName, off)
			return any
		}
		next := b.off + length

		v := b.uint16()
		if v != 2 {
			d.complainf("%s: unsupported version %d at 0x%x; ignoring rest of section", secName, v, off)
			return any
		}
		infoOff := b.offset(offsetSize)
		addrSize := int(b.uint8())
		segSize := int(b.uint8())
		if segSize != 0 {
			d.complainf("%s: segmented addresses not supported; ignoring rest of section", secName)
			return any
		}
		if addrSize != 4 && addrSize != 8 {
			d.complainf("%s: bad address size %d at 0x%x; ignoring rest of section", secName, addrSize, off)
			return any
		}
		u := d.FindUnit(infoOff, false)
		if u == nil {
			d.complainf("%s: set at 0x%x names unknown unit 0x%x; ignoring rest of section", secName, off, infoOff)
			return any
		}

		// The tuple list is aligned to twice the address size. The
		// producer must pad with zero bytes; anything else means we
		// are misreading the header.
		align := uint64(2 * addrSize)
		for b.err == nil && b.off%align != 0 {
			if pad := b.uint8(); pad != 0 {
				d.complainf("%s: nonzero padding byte 0x%x at 0x%x; ignoring rest of section", secName, pad, b.off-1)
				return any
			}
		}

		for b.err == nil && b.off < next {
			addr := d.arch.Addr(b.uintN(addrSize))
			size := b.uintN(addrSize)
			if addr == 0 && size == 0 {
				break
			}
			if size == 0 {
				continue
			}
			// Linker-GC'd functions get relocated to address 0.
			if addr == 0 && !d.prov.HasSectionAtZero() {
				continue
			}
			if r, ok := d.addrMap.Intersect(addr, addr+size); ok && r.Value != u {
				d.complainf("%s: [0x%x,0x%x) of unit 0x%x overlaps unit 0x%x", secName, addr, addr+size, u.off, r.Value.(*Unit).off)
				continue
			}
			d.addrMap.Insert(addr, addr+size, u)
			any = true
		}
		if b.err != nil {
			d.complainf("%s: %v; ignoring rest of section", secName, b.err)
			return any
		}
		off = next
	}
	return any
}

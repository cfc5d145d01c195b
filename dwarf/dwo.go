// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dwarf

import "github.com/aclements/go-dwarf/dw"

// A dwoFile is an opened split-DWARF file: either a standalone .dwo
// or a virtual file synthesized from a DWP package, so that
// downstream code cannot tell the two apart.
type dwoFile struct {
	name  string
	prov  SectionProvider
	units []*Unit
}

// stubInheritedAttrs are the skeleton attributes appended to a split
// unit's root DIE, in order.
var stubInheritedAttrs = []dw.Attr{
	dw.AttrStmtList,
	dw.AttrLowPC,
	dw.AttrHighPC,
	dw.AttrRanges,
	dw.AttrCompDir,
}

// resolveDWO locates the split-DWARF payload for skeleton unit u and
// links the matching DWO unit to it. Search order: a .dwo file found
// via the provider (compilation directory, then the debug file
// directories), then the object's DWP package.
func (u *Unit) resolveDWO() error {
	d := u.d
	df, err := d.openDWO(u)
	if err != nil {
		return err
	}
	if df == nil {
		return errf(u.secName, u.off, "DWO %q not found", u.dwoName)
	}

	// Find the unit with our dwo_id. DWARF v5 split units carry the
	// signature in the header; GNU split units carry
	// DW_AT_GNU_dwo_id on the root DIE.
	for _, du := range df.units {
		if err := du.readStub(); err != nil {
			return err
		}
		if du.hasDwoID && u.hasDwoID && du.dwoID != u.dwoID {
			continue
		}
		if !u.hasDwoID {
			return errf(u.secName, u.off, "skeleton unit has no dwo_id")
		}
		if !du.hasDwoID {
			continue
		}
		u.dwo = du
		du.stub = u
		return nil
	}
	return errf(u.secName, u.off, "DWO %q has no unit with signature 0x%016x (skeleton mismatch)", u.dwoName, u.dwoID)
}

// openDWO opens (or returns the cached) DWO file for skeleton u.
func (d *Data) openDWO(u *Unit) (*dwoFile, error) {
	if df, ok := d.dwos[u.dwoName]; ok {
		return df, nil
	}
	prov := d.prov.FindDWO(u.compDir, u.dwoName)
	if prov == nil && u.hasDwoID {
		var err error
		prov, err = d.dwpUnitProvider(u.dwoID)
		if err != nil {
			return nil, err
		}
	}
	if prov == nil {
		d.dwos[u.dwoName] = nil
		return nil, nil
	}
	df, err := d.openDWOProvider(u.dwoName, prov)
	if err != nil {
		return nil, err
	}
	d.dwos[u.dwoName] = df
	return df, nil
}

// openDWOProvider scans a DWO provider's info section into units.
func (d *Data) openDWOProvider(name string, prov SectionProvider) (*dwoFile, error) {
	df := &dwoFile{name: name, prov: prov}
	info := prov.SectionBytes(SecInfo)
	secName := ".debug_info.dwo"
	for off := uint64(0); off < uint64(len(info)); {
		b := makeBuf(d.order, secName, off, info[off:])
		du, err := d.parseUnitHeader(&b, secName, info, false, false, true)
		if err != nil {
			return nil, err
		}
		if du.endOff <= off {
			off = b.off
			continue
		}
		du.prov = prov
		df.units = append(df.units, du)
		off = du.endOff
	}
	// Type units in a DWO may also live in .debug_types.dwo (GNU
	// split DWARF).
	types := prov.SectionBytes(SecTypes)
	for off := uint64(0); off < uint64(len(types)); {
		b := makeBuf(d.order, ".debug_types.dwo", off, types[off:])
		du, err := d.parseUnitHeader(&b, ".debug_types.dwo", types, true, false, true)
		if err != nil {
			return nil, err
		}
		if du.endOff <= off {
			off = b.off
			continue
		}
		du.prov = prov
		df.units = append(df.units, du)
		off = du.endOff
	}
	return df, nil
}

// discoverDWOTypeUnits scans every opened DWO file for skeletonless
// type units and enters them into the signatured-type table.
func (d *Data) discoverDWOTypeUnits() {
	for _, df := range d.dwos {
		if df == nil {
			continue
		}
		for _, du := range df.units {
			if du.IsTypeUnit() && du.hasSig {
				if _, ok := d.typeUnits[du.signature]; !ok {
					d.typeUnits[du.signature] = du
				}
			}
		}
	}
}

// stitchStub appends the skeleton's inheritable attributes to a split
// unit's root DIE (room was pre-allocated by the DIE decoder), and
// propagates the skeleton's addr_base and ranges_base.
func (u *Unit) stitchStub() {
	stub := u.stub
	r, err := stub.newDIEReader(stub.firstDIE)
	if err != nil {
		return
	}
	stubRoot, err := r.next()
	if err != nil || stubRoot == nil {
		return
	}
	for _, a := range stubInheritedAttrs {
		if u.root.Attr(a) != nil {
			continue
		}
		if v := stubRoot.Attr(a); v != nil {
			u.root.Attrs = append(u.root.Attrs, *v)
		}
	}
	// Re-derive stub fields the appended attributes may supply.
	u.applyStubAttrs(u.root)
	u.addrBase = stub.addrBase
	u.rangesBase = stub.rangesBase
}

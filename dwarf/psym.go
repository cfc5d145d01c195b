// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dwarf

import "github.com/aclements/go-dwarf/dw"

// BuildPartialSymtabs runs the cheap first pass: a shallow scan of
// every unit that records globally visible names and the PC ranges
// units cover, without materializing DIE trees. Objects with a usable
// accelerator index do not need this pass for name lookup, but still
// need it (or .debug_aranges) for PC lookup.
func (d *Data) BuildPartialSymtabs() error {
	for _, u := range d.units {
		if err := d.checkQuit(); err != nil {
			return err
		}
		if u.IsTypeUnit() || u.isDWZ || u.unitType == dw.UTPartial {
			// Type units and partial units contribute no addresses and
			// are scanned through their importers.
			continue
		}
		if err := u.buildPartial(); err != nil {
			if IsQuit(err) {
				return err
			}
			d.complainf("partial scan of unit 0x%x failed: %v", u.off, err)
		}
	}
	return nil
}

// partialScan carries the state of one unit's shallow scan.
type partialScan struct {
	u  *Unit // the skeleton-or-normal unit symbols attribute to
	cu *Unit // the unit whose bytes are scanned (the DWO for splits)
	r  *dieReader

	low, high uint64
	havePC    bool
}

func (u *Unit) buildPartial() error {
	d := u.d
	if err := u.readStub(); err != nil {
		return err
	}
	cu := u
	if u.dwo != nil {
		cu = u.dwo
		if err := cu.readStub(); err != nil {
			return err
		}
	}
	r, err := cu.newDIEReader(cu.firstDIE)
	if err != nil {
		return err
	}
	ps := &partialScan{u: u, cu: cu, r: r}

	root, err := r.next()
	if err != nil {
		return err
	}
	if root == nil {
		return errf(cu.secName, cu.firstDIE, "unit 0x%x has no root DIE", cu.off)
	}
	if d.sink != nil {
		d.sink.BeginPartialSymtab(u, u.name, u.compDir)
	}
	if low, high, ok := cu.pcBounds(root); ok {
		ps.extendPC(low, high)
	} else if root.Attr(dw.AttrRanges) != nil {
		cu.dieRanges(root, func(low, high uint64) error {
			ps.extendPC(low, high)
			return nil
		})
	}
	if cu.abbrev[root.Code].children {
		if err := ps.scanChildren(""); err != nil {
			return err
		}
	}
	if d.sink != nil {
		d.sink.EndPartialSymtab(u, ps.low, ps.high)
	}
	if ps.havePC && ps.high > ps.low {
		if r, ok := d.addrMap.Intersect(ps.low, ps.high); ok {
			d.complainf("unit 0x%x PC range [0x%x,0x%x) overlaps unit 0x%x", u.off, ps.low, ps.high, r.Value.(*Unit).off)
		}
		d.addrMap.Insert(ps.low, ps.high, u)
	}
	return nil
}

func (ps *partialScan) extendPC(low, high uint64) {
	if !ps.havePC {
		ps.low, ps.high, ps.havePC = low, high, true
		return
	}
	if low < ps.low {
		ps.low = low
	}
	if high > ps.high {
		ps.high = high
	}
}

// peekAbbrev returns the abbrev of the DIE at the cursor without
// advancing, or nil at a sibling-chain terminator.
func (r *dieReader) peekAbbrev() (*abbrev, error) {
	code := peekULEB(&r.b)
	if r.b.err != nil {
		return nil, r.b.err
	}
	if code == 0 {
		return nil, nil
	}
	a, ok := r.u.abbrev[code]
	if !ok {
		return nil, errf(r.u.secName, r.b.off, "DIE references missing abbrev code %d", code)
	}
	return a, nil
}

// skipSubtree advances past the children of the DIE just skipped.
func (r *dieReader) skipSubtree() error {
	depth := 1
	for depth > 0 {
		a, err := r.peekAbbrev()
		if err != nil {
			return err
		}
		if _, err := r.skip(); err != nil {
			return err
		}
		if a == nil {
			depth--
		} else if a.children {
			depth++
		}
	}
	return nil
}

// partialTags is the set of tags the shallow scan decodes; everything
// else is skipped byte-exactly.
var partialTags = map[dw.Tag]bool{
	dw.TagSubprogram:        true,
	dw.TagEntryPoint:        true,
	dw.TagInlinedSubroutine: true,
	dw.TagLexicalBlock:      true,
	dw.TagVariable:          true,
	dw.TagConstant:          true,
	dw.TagTypedef:           true,
	dw.TagBaseType:          true,
	dw.TagStructType:        true,
	dw.TagClassType:         true,
	dw.TagUnionType:         true,
	dw.TagEnumerationType:   true,
	dw.TagEnumerator:        true,
	dw.TagNamespace:         true,
	dw.TagModule:            true,
	dw.TagImportedUnit:      true,
	dw.TagLabel:             true,
}

// scanChildren walks one level of siblings, prefix-qualifying names
// by the enclosing namespaces and type scopes.
func (ps *partialScan) scanChildren(prefix string) error {
	r := ps.r
	for {
		if err := ps.u.d.checkQuit(); err != nil {
			return err
		}
		a, err := r.peekAbbrev()
		if err != nil {
			return err
		}
		if a == nil {
			r.b.uleb() // consume terminator
			return r.b.err
		}
		if !partialTags[a.tag] {
			if _, err := r.skip(); err != nil {
				return err
			}
			if a.children {
				if err := r.skipSubtree(); err != nil {
					return err
				}
			}
			continue
		}
		die, err := r.next()
		if err != nil {
			return err
		}
		if err := ps.scanDIE(die, a, prefix); err != nil {
			return err
		}
	}
}

// scanDIE records the partial symbol for one decoded DIE and decides
// whether to walk or skip its children.
func (ps *partialScan) scanDIE(die *DIE, a *abbrev, prefix string) error {
	u, cu, d := ps.u, ps.cu, ps.u.d
	name := ps.fixupName(die)
	full := qualify(prefix, name)

	emit := func(p PartialSym) {
		p.Lang = u.lang
		if d.sink != nil {
			d.sink.AddPartialSym(u, p)
		}
	}

	recurse := false
	switch die.Tag {
	case dw.TagSubprogram, dw.TagEntryPoint:
		if low, high, ok := cu.pcBounds(die); ok {
			ps.extendPC(low, high)
			placement := PlacementStatic
			// Class-scope members are reachable from any file, and
			// Ada and Fortran give subprograms uniform visibility.
			if die.Flag(dw.AttrExternal) || prefix != "" || !caseSensitiveLang(u.lang) {
				placement = PlacementGlobal
			}
			if full != "" {
				emit(PartialSym{Name: full, LinkageName: ps.linkageName(die),
					Domain: DomainVar, Loc: LocBlock, Placement: placement, Addr: low})
			}
		}
		// Ada and Fortran nest subprograms that file-level lookups
		// must still find; C and C++ bodies hold nothing visible.
		recurse = !caseSensitiveLang(u.lang)

	case dw.TagInlinedSubroutine:
		if low, high, ok := cu.pcBounds(die); ok {
			ps.extendPC(low, high)
			if full != "" {
				emit(PartialSym{Name: full, LinkageName: ps.linkageName(die),
					Domain: DomainVar, Loc: LocBlock, Placement: PlacementStatic, Addr: low})
			}
		}
		recurse = !caseSensitiveLang(u.lang)

	case dw.TagLexicalBlock:
		if !caseSensitiveLang(u.lang) && a.children {
			return ps.scanChildren(prefix)
		}

	case dw.TagVariable:
		if full == "" {
			break
		}
		placement := PlacementStatic
		if die.Flag(dw.AttrExternal) {
			placement = PlacementGlobal
		}
		if v := die.Attr(dw.AttrLocation); v != nil && v.Class == ClassBlock &&
			len(v.Block) >= 1 && v.Block[0] == dw.OpAddr {
			b := makeBuf(d.order, cu.secName, die.Off, v.Block[1:])
			addr := d.arch.Addr(b.uintN(cu.addrSize))
			emit(PartialSym{Name: full, LinkageName: ps.linkageName(die),
				Domain: DomainVar, Loc: LocStatic, Placement: placement, Addr: addr})
		} else if v := die.Attr(dw.AttrConstValue); v != nil {
			val := int64(v.Uint)
			if v.Class == ClassSignedConstant {
				val = v.Int
			}
			emit(PartialSym{Name: full, Domain: DomainVar, Loc: LocConst,
				Placement: placement, Value: val})
		}

	case dw.TagConstant:
		if full != "" {
			var val int64
			if v := die.Attr(dw.AttrConstValue); v != nil {
				val = int64(v.Uint)
				if v.Class == ClassSignedConstant {
					val = v.Int
				}
			}
			emit(PartialSym{Name: full, Domain: DomainVar, Loc: LocConst,
				Placement: PlacementStatic, Value: val})
		}

	case dw.TagTypedef, dw.TagBaseType:
		if full != "" {
			emit(PartialSym{Name: full, Domain: DomainVar, Loc: LocTypedef,
				Placement: PlacementStatic})
		}

	case dw.TagStructType, dw.TagClassType, dw.TagUnionType:
		if full == "" {
			// Unnamed classes with a linkage name (lambdas, unnamed
			// structs behind typedefs) are still findable by it.
			if ln := ps.linkageName(die); ln != "" {
				full = qualify(prefix, lastNameComponent(demangleDisplay(ln)))
			}
		}
		if full != "" && !die.Flag(dw.AttrDeclaration) {
			emit(PartialSym{Name: full, Domain: DomainStruct, Loc: LocTypedef,
				Placement: PlacementStatic})
		}
		// Nested types and static members are visible at file scope in
		// C++; walk in under the qualified name.
		recurse = full != "" && caseSensitiveLang(u.lang)

	case dw.TagEnumerationType:
		if full != "" && !die.Flag(dw.AttrDeclaration) {
			emit(PartialSym{Name: full, Domain: DomainStruct, Loc: LocTypedef,
				Placement: PlacementStatic})
		}
		// Enumerators land in the enclosing scope, not under the enum
		// name (C semantics; C++ unscoped enums agree).
		if a.children {
			return ps.scanChildren(prefix)
		}

	case dw.TagEnumerator:
		if full != "" {
			var val int64
			if v := die.Attr(dw.AttrConstValue); v != nil {
				val = int64(v.Uint)
				if v.Class == ClassSignedConstant {
					val = v.Int
				}
			}
			emit(PartialSym{Name: full, Domain: DomainVar, Loc: LocConst,
				Placement: PlacementStatic, Value: val})
		}

	case dw.TagNamespace:
		if name == "" {
			name = anonymousNamespace
			full = qualify(prefix, name)
		}
		emit(PartialSym{Name: full, Domain: DomainModule, Loc: LocTypedef,
			Placement: PlacementStatic})
		if a.children {
			return ps.scanChildren(full)
		}

	case dw.TagModule:
		if full != "" {
			emit(PartialSym{Name: full, Domain: DomainModule, Loc: LocTypedef,
				Placement: PlacementStatic})
		}
		if a.children {
			return ps.scanChildren(full)
		}

	case dw.TagImportedUnit:
		ps.recordInclude(die)

	case dw.TagLabel:
		if full != "" {
			if addr, ok := cu.attrAddr(die, dw.AttrLowPC); ok {
				emit(PartialSym{Name: full, Domain: DomainLabel, Loc: LocLabel,
					Placement: PlacementStatic, Addr: addr})
			}
		}
	}

	if a.children {
		if recurse {
			return ps.scanChildren(full)
		}
		return ps.r.skipSubtree()
	}
	return nil
}

// fixupName resolves a DIE's display name, following specification
// and origin references shallowly when the DIE itself is unnamed.
func (ps *partialScan) fixupName(die *DIE) string {
	cu := ps.cu
	const maxChain = 8
	for i := 0; i < maxChain; i++ {
		if s, ok := cu.attrString(die, dw.AttrName); ok {
			return s
		}
		ref := die.Attr(dw.AttrSpecification)
		if ref == nil {
			ref = die.Attr(dw.AttrAbstractOrigin)
		}
		if ref == nil || ref.Class != ClassReference ||
			ref.Uint < cu.off || ref.Uint >= cu.endOff {
			return ""
		}
		r, err := cu.newDIEReader(ref.Uint)
		if err != nil {
			return ""
		}
		next, err := r.next()
		if err != nil || next == nil {
			return ""
		}
		die = next
	}
	return ""
}

func (ps *partialScan) linkageName(die *DIE) string {
	if s, ok := ps.cu.attrString(die, dw.AttrLinkageName); ok {
		return s
	}
	s, _ := ps.cu.attrString(die, dw.AttrMIPSLinkageName)
	return s
}

// recordInclude notes a DW_TAG_imported_unit edge without expanding
// the target; the full pass follows it.
func (ps *partialScan) recordInclude(die *DIE) {
	v := die.Attr(dw.AttrImport)
	if v == nil {
		return
	}
	var target *Unit
	switch v.Class {
	case ClassReference:
		target = ps.u.d.FindUnit(v.Uint, ps.u.isDWZ)
	case ClassAltReference:
		if ps.u.d.ensureAlt() {
			target = ps.u.d.FindUnit(v.Uint, true)
		}
	}
	if target != nil {
		ps.u.includes = append(ps.u.includes, target)
	}
}

func qualify(prefix, name string) string {
	if name == "" {
		return ""
	}
	if prefix == "" {
		return name
	}
	return prefix + "::" + name
}

// lastNameComponent returns the text after the final "::" qualifier.
func lastNameComponent(s string) string {
	for i := len(s) - 2; i > 0; i-- {
		if s[i] == ':' && s[i-1] == ':' {
			return s[i+1:]
		}
	}
	return s
}

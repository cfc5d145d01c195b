// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dwarf

import (
	"github.com/aclements/go-dwarf/dw"
)

// A Class is the semantic class of a decoded attribute value,
// determined by its form and, for the ambiguous data4/data8 forms,
// by the attribute itself.
type Class int

const (
	ClassNone Class = iota
	ClassAddress
	ClassConstant
	ClassSignedConstant
	ClassString
	ClassBlock
	ClassFlag
	ClassReference    // offset into this unit's file (.debug_info or .debug_types)
	ClassAltReference // offset into the DWZ alt file's .debug_info
	ClassSignature    // 8-byte type signature
	ClassSecOffset
	ClassStrIndex  // index into .debug_str_offsets
	ClassAddrIndex // index into .debug_addr
	ClassRngListIndex
	ClassLocListIndex
)

// An AttrValue is one decoded attribute of a DIE.
type AttrValue struct {
	Attr  dw.Attr
	Form  dw.Form // final form, after DW_FORM_indirect resolution
	Class Class

	// Uint holds addresses (post-adjustment), unsigned constants,
	// flags (0/1), section offsets, reference offsets, signatures,
	// and indexes.
	Uint uint64
	// Int holds signed constants.
	Int int64
	// Str holds inline and resolved strings.
	Str string
	// Block holds block and exprloc bytes, aliasing the section.
	Block []byte
}

// A DIE is one debugging information entry: a node in the unit's
// ordered tree.
type DIE struct {
	Off   uint64 // section offset, unique within the unit's section
	Tag   dw.Tag
	Code  uint64 // abbreviation code
	Attrs []AttrValue

	Parent  *DIE
	Child   *DIE // first child
	Sibling *DIE // next sibling

	// inProcess guards against reference cycles during type
	// construction.
	inProcess bool
}

// Attr returns the value of attribute a, or nil.
func (die *DIE) Attr(a dw.Attr) *AttrValue {
	for i := range die.Attrs {
		if die.Attrs[i].Attr == a {
			return &die.Attrs[i]
		}
	}
	return nil
}

// Uint returns attribute a as an unsigned value.
func (die *DIE) Uint(a dw.Attr) (uint64, bool) {
	v := die.Attr(a)
	if v == nil {
		return 0, false
	}
	switch v.Class {
	case ClassSignedConstant:
		return uint64(v.Int), true
	case ClassNone, ClassString, ClassBlock:
		return 0, false
	}
	return v.Uint, true
}

// Flag returns attribute a as a boolean flag.
func (die *DIE) Flag(a dw.Attr) bool {
	v := die.Attr(a)
	return v != nil && (v.Class != ClassFlag || v.Uint != 0)
}

// HasChildren reports whether the DIE was declared with children in
// its abbreviation.
func (die *DIE) HasChildren() bool { return die.Child != nil }

// dieReader decodes DIEs from one unit.
type dieReader struct {
	u *Unit
	b buf
}

func (u *Unit) newDIEReader(off uint64) (*dieReader, error) {
	if err := u.ensureAbbrev(); err != nil {
		return nil, err
	}
	if off < u.firstDIE || off > u.endOff {
		return nil, errf(u.secName, off, "DIE offset outside unit 0x%x", u.off)
	}
	return &dieReader{
		u: u,
		b: makeBuf(u.d.order, u.secName, off, u.info[off:u.endOff]),
	}, nil
}

// next decodes the DIE at the cursor. A zero abbrev code returns
// (nil, nil) and terminates a sibling chain.
func (r *dieReader) next() (*DIE, error) {
	off := r.b.off
	code := r.b.uleb()
	if r.b.err != nil {
		return nil, r.b.err
	}
	if code == 0 {
		return nil, nil
	}
	a, ok := r.u.abbrev[code]
	if !ok {
		return nil, errf(r.u.secName, off, "DIE references missing abbrev code %d", code)
	}
	die := &DIE{Off: off, Tag: a.tag, Code: code, Attrs: make([]AttrValue, 0, len(a.fields)+stubInheritSlack(a.tag, r.u))}
	for _, f := range a.fields {
		v, err := r.formValue(f.attr, f.form, f.val)
		if err != nil {
			return nil, err
		}
		die.Attrs = append(die.Attrs, v)
	}
	return die, r.b.err
}

// stubInheritSlack pre-allocates room on a split unit's root DIE for
// the attributes inherited from its skeleton.
func stubInheritSlack(tag dw.Tag, u *Unit) int {
	if u.isDWO && (tag == dw.TagCompileUnit || tag == dw.TagPartialUnit) {
		return len(stubInheritedAttrs)
	}
	return 0
}

// formValue decodes one attribute value at the cursor.
func (r *dieReader) formValue(attr dw.Attr, form dw.Form, implicit int64) (AttrValue, error) {
	u := r.u
	b := &r.b
	v := AttrValue{Attr: attr, Form: form}
	switch form {
	case dw.FormIndirect:
		// The form itself is stored in the DIE.
		f2 := dw.Form(b.uleb())
		if b.err != nil {
			return v, b.err
		}
		return r.formValue(attr, f2, 0)

	case dw.FormImplicitConst:
		v.Class, v.Int = ClassSignedConstant, implicit

	case dw.FormAddr:
		v.Class, v.Uint = ClassAddress, u.d.arch.Addr(b.uintN(u.addrSize))

	case dw.FormData1:
		v.Class, v.Uint = ClassConstant, uint64(b.uint8())
	case dw.FormData2:
		v.Class, v.Uint = ClassConstant, uint64(b.uint16())
	case dw.FormData4:
		v.Class, v.Uint = constantClass(attr), uint64(b.uint32())
	case dw.FormData8:
		v.Class, v.Uint = constantClass(attr), b.uint64()
	case dw.FormData16:
		v.Class, v.Block = ClassBlock, b.bytes(16)
	case dw.FormSdata:
		v.Class, v.Int = ClassSignedConstant, b.sleb()
	case dw.FormUdata:
		v.Class, v.Uint = ClassConstant, b.uleb()

	case dw.FormFlag:
		v.Class, v.Uint = ClassFlag, uint64(b.uint8())
	case dw.FormFlagPresent:
		v.Class, v.Uint = ClassFlag, 1

	case dw.FormString:
		v.Class, v.Str = ClassString, b.cstring()
	case dw.FormStrp:
		v.Class = ClassString
		v.Str = u.stringFrom(SecStr, b.offset(u.offsetSize))
	case dw.FormLineStrp:
		v.Class = ClassString
		v.Str = u.stringFrom(SecLineStr, b.offset(u.offsetSize))
	case dw.FormStrpSup, dw.FormGNUStrpAlt:
		v.Class = ClassString
		v.Str = u.altStringAt(b.offset(u.offsetSize))
	case dw.FormStrx, dw.FormGNUStrIndex:
		v.Class, v.Uint = ClassStrIndex, b.uleb()
	case dw.FormStrx1:
		v.Class, v.Uint = ClassStrIndex, uint64(b.uint8())
	case dw.FormStrx2:
		v.Class, v.Uint = ClassStrIndex, uint64(b.uint16())
	case dw.FormStrx3:
		v.Class, v.Uint = ClassStrIndex, uint64(b.uint24())
	case dw.FormStrx4:
		v.Class, v.Uint = ClassStrIndex, uint64(b.uint32())

	case dw.FormAddrx, dw.FormGNUAddrIndex:
		v.Class, v.Uint = ClassAddrIndex, b.uleb()
	case dw.FormAddrx1:
		v.Class, v.Uint = ClassAddrIndex, uint64(b.uint8())
	case dw.FormAddrx2:
		v.Class, v.Uint = ClassAddrIndex, uint64(b.uint16())
	case dw.FormAddrx3:
		v.Class, v.Uint = ClassAddrIndex, uint64(b.uint24())
	case dw.FormAddrx4:
		v.Class, v.Uint = ClassAddrIndex, uint64(b.uint32())

	case dw.FormBlock1:
		v.Class, v.Block = ClassBlock, b.bytes(int(b.uint8()))
	case dw.FormBlock2:
		v.Class, v.Block = ClassBlock, b.bytes(int(b.uint16()))
	case dw.FormBlock4:
		v.Class, v.Block = ClassBlock, b.bytes(int(b.uint32()))
	case dw.FormBlock, dw.FormExprloc:
		v.Class, v.Block = ClassBlock, b.bytes(int(b.uleb()))

	case dw.FormRef1:
		v.Class, v.Uint = ClassReference, u.off+uint64(b.uint8())
	case dw.FormRef2:
		v.Class, v.Uint = ClassReference, u.off+uint64(b.uint16())
	case dw.FormRef4:
		v.Class, v.Uint = ClassReference, u.off+uint64(b.uint32())
	case dw.FormRef8:
		v.Class, v.Uint = ClassReference, u.off+b.uint64()
	case dw.FormRefUdata:
		v.Class, v.Uint = ClassReference, u.off+b.uleb()
	case dw.FormRefAddr:
		// Section-absolute. Address-sized in DWARF 2, offset-sized
		// in 3+; the width comes from the referencing unit's header.
		v.Class = ClassReference
		if u.version == 2 {
			v.Uint = b.uintN(u.addrSize)
		} else {
			v.Uint = b.offset(u.offsetSize)
		}
	case dw.FormRefSig8:
		v.Class, v.Uint = ClassSignature, b.uint64()
	case dw.FormGNURefAlt:
		v.Class, v.Uint = ClassAltReference, b.offset(u.offsetSize)
	case dw.FormRefSup4:
		v.Class, v.Uint = ClassAltReference, uint64(b.uint32())
	case dw.FormRefSup8:
		v.Class, v.Uint = ClassAltReference, b.uint64()

	case dw.FormSecOffset:
		v.Class, v.Uint = ClassSecOffset, b.offset(u.offsetSize)
	case dw.FormLoclistx:
		v.Class, v.Uint = ClassLocListIndex, b.uleb()
	case dw.FormRnglistx:
		v.Class, v.Uint = ClassRngListIndex, b.uleb()

	default:
		return v, errf(u.secName, b.off, "unknown attribute form %s", form)
	}
	return v, b.err
}

// offsetAttrs are the attributes whose data4/data8 values are section
// offsets in pre-v4 producers rather than constants.
var offsetAttrs = map[dw.Attr]bool{
	dw.AttrStmtList:       true,
	dw.AttrRanges:         true,
	dw.AttrLocation:       true,
	dw.AttrFrameBase:      true,
	dw.AttrDataMemberLoc:  true,
	dw.AttrVtableElemLoc:  true,
	dw.AttrUseLocation:    true,
	dw.AttrReturnAddr:     true,
	dw.AttrStaticLink:     true,
	dw.AttrStringLength:   true,
	dw.AttrMacroInfo:      true,
	dw.AttrGNUMacros:      true,
	dw.AttrMacros:         true,
	dw.AttrSegment:        true,
	dw.AttrGNUAddrBase:    true,
	dw.AttrGNURangesBase:  true,
	dw.AttrAddrBase:       true,
	dw.AttrRnglistsBase:   true,
	dw.AttrStrOffsetsBase: true,
	dw.AttrLoclistsBase:   true,
}

// constantClass resolves the data4/data8 straddle: the class must be
// inferred from the attribute.
func constantClass(attr dw.Attr) Class {
	if offsetAttrs[attr] {
		return ClassSecOffset
	}
	return ClassConstant
}

// skip advances past the DIE at the cursor (shallow: children are not
// touched). It consumes exactly the bytes next would. It reports
// whether a DIE was present (false for a chain terminator).
func (r *dieReader) skip() (bool, error) {
	off := r.b.off
	code := r.b.uleb()
	if r.b.err != nil {
		return false, r.b.err
	}
	if code == 0 {
		return false, nil
	}
	a, ok := r.u.abbrev[code]
	if !ok {
		return false, errf(r.u.secName, off, "DIE references missing abbrev code %d", code)
	}
	for _, f := range a.fields {
		if err := r.skipForm(f.form); err != nil {
			return false, err
		}
	}
	return true, r.b.err
}

func (r *dieReader) skipForm(form dw.Form) error {
	u := r.u
	b := &r.b
	switch form {
	case dw.FormIndirect:
		return r.skipForm(dw.Form(b.uleb()))
	case dw.FormImplicitConst, dw.FormFlagPresent:
		// No storage in the DIE.
	case dw.FormAddr:
		b.skip(u.addrSize)
	case dw.FormData1, dw.FormFlag, dw.FormRef1, dw.FormStrx1, dw.FormAddrx1:
		b.skip(1)
	case dw.FormData2, dw.FormRef2, dw.FormStrx2, dw.FormAddrx2:
		b.skip(2)
	case dw.FormStrx3, dw.FormAddrx3:
		b.skip(3)
	case dw.FormData4, dw.FormRef4, dw.FormStrx4, dw.FormAddrx4, dw.FormRefSup4:
		b.skip(4)
	case dw.FormData8, dw.FormRef8, dw.FormRefSig8, dw.FormRefSup8:
		b.skip(8)
	case dw.FormData16:
		b.skip(16)
	case dw.FormSdata:
		b.sleb()
	case dw.FormUdata, dw.FormRefUdata, dw.FormStrx, dw.FormAddrx,
		dw.FormGNUStrIndex, dw.FormGNUAddrIndex, dw.FormLoclistx, dw.FormRnglistx:
		b.uleb()
	case dw.FormString:
		b.cstring()
	case dw.FormStrp, dw.FormLineStrp, dw.FormSecOffset, dw.FormStrpSup,
		dw.FormGNUStrpAlt, dw.FormGNURefAlt:
		b.skip(u.offsetSize)
	case dw.FormRefAddr:
		if u.version == 2 {
			b.skip(u.addrSize)
		} else {
			b.skip(u.offsetSize)
		}
	case dw.FormBlock1:
		b.skip(int(b.uint8()))
	case dw.FormBlock2:
		b.skip(int(b.uint16()))
	case dw.FormBlock4:
		b.skip(int(b.uint32()))
	case dw.FormBlock, dw.FormExprloc:
		b.skip(int(b.uleb()))
	default:
		return errf(u.secName, b.off, "unknown attribute form %s", form)
	}
	return b.err
}

// readTree materializes u's full DIE tree and installs every DIE in
// u.dies. The tree is rooted at u.root.
func (u *Unit) readTree() error {
	if u.root != nil {
		return nil
	}
	r, err := u.newDIEReader(u.firstDIE)
	if err != nil {
		return err
	}
	u.dies = make(map[uint64]*DIE)
	root, err := r.readSubtree(nil)
	if err != nil {
		u.dies = nil
		return err
	}
	if root == nil {
		return errf(u.secName, u.firstDIE, "unit has no root DIE")
	}
	u.root = root
	if u.isDWO && u.stub != nil {
		u.stitchStub()
	}
	return nil
}

// readSubtree reads the DIE at the cursor and, if it has children,
// its entire subtree. Returns nil at a chain terminator.
func (r *dieReader) readSubtree(parent *DIE) (*DIE, error) {
	off := r.b.off
	code := peekULEB(&r.b)
	if code == 0 {
		r.b.uleb()
		return nil, r.b.err
	}
	die, err := r.next()
	if err != nil || die == nil {
		return die, err
	}
	die.Parent = parent
	r.u.dies[off] = die
	a := r.u.abbrev[die.Code]
	if a.children {
		var last *DIE
		for {
			child, err := r.readSubtree(die)
			if err != nil {
				return nil, err
			}
			if child == nil {
				break
			}
			if last == nil {
				die.Child = child
			} else {
				last.Sibling = child
			}
			last = child
		}
	}
	return die, nil
}

func peekULEB(b *buf) uint64 {
	save := *b
	v := b.uleb()
	*b = save
	return v
}

// DIEAt returns the materialized DIE at off in u, reading the tree if
// necessary.
func (u *Unit) DIEAt(off uint64) (*DIE, error) {
	if err := u.d.loadUnit(u); err != nil {
		return nil, err
	}
	die, ok := u.dies[off]
	if !ok {
		return nil, errf(u.secName, off, "no DIE at offset (unit 0x%x)", u.off)
	}
	return die, nil
}

// resolveRef resolves a reference-class attribute value from unit u
// to its target (unit, DIE). Resolving into another unit records a
// dependency edge so the cache keeps the target alive.
func (u *Unit) resolveRef(v *AttrValue) (*DIE, *Unit, error) {
	d := u.d
	var target *Unit
	switch v.Class {
	case ClassReference:
		if u.isDWO {
			// Split-unit references stay within the DWO file.
			target = u
			if v.Uint < u.off || v.Uint >= u.endOff {
				return nil, nil, errf(u.secName, v.Uint, "split-unit reference escapes unit 0x%x", u.off)
			}
		} else {
			target = d.FindUnit(v.Uint, u.isDWZ)
		}
	case ClassAltReference:
		if !d.ensureAlt() {
			return nil, nil, errf(u.secName, v.Uint, "alt-file reference but no DWZ file found")
		}
		target = d.FindUnit(v.Uint, true)
	case ClassSignature:
		tu := d.SigToUnit(v.Uint)
		if tu == nil {
			return nil, nil, errf(u.secName, v.Uint, "unresolved type signature 0x%016x", v.Uint)
		}
		die, err := tu.DIEAt(tu.typeOff)
		if err != nil {
			return nil, nil, err
		}
		u.addDep(tu)
		return die, tu, nil
	default:
		return nil, nil, errf(u.secName, 0, "attribute %s is not a reference", v.Attr)
	}
	if target == nil {
		return nil, nil, errf(u.secName, v.Uint, "reference outside any unit")
	}
	die, err := target.DIEAt(v.Uint)
	if err != nil {
		return nil, nil, err
	}
	u.addDep(target)
	return die, target, nil
}

// addDep records that u holds references into t.
func (u *Unit) addDep(t *Unit) {
	if t == u || t == nil {
		return
	}
	if u.deps == nil {
		u.deps = make(map[*Unit]bool)
	}
	u.deps[t] = true
}

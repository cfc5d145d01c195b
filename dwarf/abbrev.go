// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dwarf

import "github.com/aclements/go-dwarf/dw"

// An abbrev is one abbreviation: the schema of DIEs that reference
// its code.
type abbrev struct {
	tag      dw.Tag
	children bool
	fields   []abbrevField
}

type abbrevField struct {
	attr dw.Attr
	form dw.Form
	// val is the value of a DW_FORM_implicit_const field, recorded in
	// the table rather than the DIE.
	val int64
}

// An abbrevTable maps abbreviation codes to abbrevs for one
// .debug_abbrev offset.
type abbrevTable map[uint64]*abbrev

type abbrevKey struct {
	off uint64
	// src distinguishes the main, alt, and per-DWO abbrev sections.
	src SectionProvider
}

// abbrevTableAt parses (or returns the cached) abbreviation table at
// off in prov's .debug_abbrev.
func (d *Data) abbrevTableAt(off uint64, prov SectionProvider) (abbrevTable, error) {
	key := abbrevKey{off, prov}
	if t, ok := d.abbrevCache[key]; ok {
		return t, nil
	}
	data := prov.SectionBytes(SecAbbrev)
	if off >= uint64(len(data)) {
		return nil, errf(".debug_abbrev", off, "abbrev offset out of range")
	}
	b := makeBuf(d.order, ".debug_abbrev", off, data[off:])
	t := make(abbrevTable)
	for {
		code := b.uleb()
		if code == 0 {
			break
		}
		a := &abbrev{
			tag:      dw.Tag(b.uleb()),
			children: b.uint8() != 0,
		}
		for {
			attr := dw.Attr(b.uleb())
			form := dw.Form(b.uleb())
			if attr == 0 && form == 0 {
				break
			}
			f := abbrevField{attr: attr, form: form}
			if form == dw.FormImplicitConst {
				f.val = b.sleb()
			}
			a.fields = append(a.fields, f)
		}
		if b.err != nil {
			return nil, b.err
		}
		t[code] = a
	}
	if b.err != nil {
		return nil, b.err
	}
	d.abbrevCache[key] = t
	return t, nil
}

// ensureAbbrev loads u's abbreviation table if it is not resident.
func (u *Unit) ensureAbbrev() error {
	if u.abbrev != nil {
		return nil
	}
	t, err := u.d.abbrevTableAt(u.abbrevOff, u.prov)
	if err != nil {
		return err
	}
	u.abbrev = t
	return nil
}

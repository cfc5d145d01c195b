// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dwarf

import (
	"testing"

	"github.com/aclements/go-dwarf/dw"
)

func TestReadTree(t *testing.T) {
	prov, offs := buildFixtureSections()
	d := newFixtureData(t, prov, nil)
	u := d.Units()[0]
	if err := d.loadUnit(u); err != nil {
		t.Fatalf("loadUnit: %v", err)
	}

	root := u.root
	if root.Tag != dw.TagCompileUnit {
		t.Fatalf("root tag = %v, want TagCompileUnit", root.Tag)
	}
	if v := root.Attr(dw.AttrName); v == nil || v.Str != "test.c" {
		t.Errorf("root name = %v, want test.c", v)
	}
	if low, ok := root.Uint(dw.AttrLowPC); !ok || low != 0x1000 {
		t.Errorf("root low_pc = (0x%x, %v), want (0x1000, true)", low, ok)
	}

	// Children in document order: int, main, g_var, s_var.
	var tags []dw.Tag
	for die := root.Child; die != nil; die = die.Sibling {
		tags = append(tags, die.Tag)
		if die.Parent != root {
			t.Errorf("child 0x%x has wrong parent", die.Off)
		}
	}
	want := []dw.Tag{dw.TagBaseType, dw.TagSubprogram, dw.TagVariable, dw.TagVariable}
	if len(tags) != len(want) {
		t.Fatalf("got %d children, want %d", len(tags), len(want))
	}
	for i := range want {
		if tags[i] != want[i] {
			t.Errorf("child %d tag = %v, want %v", i, tags[i], want[i])
		}
	}

	main, err := u.DIEAt(offs.mainDie)
	if err != nil {
		t.Fatalf("DIEAt(main): %v", err)
	}
	if !main.Flag(dw.AttrExternal) {
		t.Errorf("main not marked external")
	}
	if main.Child == nil || main.Child.Tag != dw.TagFormalParameter {
		t.Errorf("main has no formal parameter child")
	}
}

func TestAttrClasses(t *testing.T) {
	prov, offs := buildFixtureSections()
	d := newFixtureData(t, prov, nil)
	u := d.Units()[0]

	gvar, err := u.DIEAt(offs.gVarDie)
	if err != nil {
		t.Fatalf("DIEAt: %v", err)
	}
	loc := gvar.Attr(dw.AttrLocation)
	if loc == nil || loc.Class != ClassBlock {
		t.Fatalf("location = %v, want ClassBlock", loc)
	}
	if len(loc.Block) != 9 || loc.Block[0] != dw.OpAddr {
		t.Errorf("location block = % x, want DW_OP_addr + 8 bytes", loc.Block)
	}
	typ := gvar.Attr(dw.AttrType)
	if typ == nil || typ.Class != ClassReference || typ.Uint != offs.intDie {
		t.Errorf("type ref = %v, want reference to 0x%x", typ, offs.intDie)
	}

	root, _ := u.DIEAt(u.firstDIE)
	// data4 high_pc straddles: for a non-offset attribute it stays a
	// constant.
	if hv := root.Attr(dw.AttrHighPC); hv == nil || hv.Class != ClassConstant || hv.Uint != 0x200 {
		t.Errorf("high_pc = %v, want constant 0x200", hv)
	}
}

func TestResolveRef(t *testing.T) {
	prov, offs := buildFixtureSections()
	d := newFixtureData(t, prov, nil)
	u := d.Units()[0]

	gvar, err := u.DIEAt(offs.gVarDie)
	if err != nil {
		t.Fatalf("DIEAt: %v", err)
	}
	die, tu, err := u.resolveRef(gvar.Attr(dw.AttrType))
	if err != nil {
		t.Fatalf("resolveRef: %v", err)
	}
	if tu != u || die.Tag != dw.TagBaseType {
		t.Errorf("resolveRef = (%v in unit 0x%x), want base type in unit 0x0", die.Tag, tu.off)
	}
	if name := die.Attr(dw.AttrName); name == nil || name.Str != "int" {
		t.Errorf("referenced type name = %v, want int", name)
	}
}

// TestSkipMatchesNext verifies that the shallow skip consumes exactly
// the bytes the full decode does, for every DIE in the fixture.
func TestSkipMatchesNext(t *testing.T) {
	prov, _ := buildFixtureSections()
	d := newFixtureData(t, prov, nil)
	u := d.Units()[0]

	r1, err := u.newDIEReader(u.firstDIE)
	if err != nil {
		t.Fatalf("newDIEReader: %v", err)
	}
	r2, err := u.newDIEReader(u.firstDIE)
	if err != nil {
		t.Fatalf("newDIEReader: %v", err)
	}
	for r1.b.remaining() > 0 {
		off := r1.b.off
		die, err1 := r1.next()
		present, err2 := r2.skip()
		if err1 != nil || err2 != nil {
			t.Fatalf("at 0x%x: next err %v, skip err %v", off, err1, err2)
		}
		if (die != nil) != present {
			t.Fatalf("at 0x%x: next sees DIE %v, skip sees %v", off, die != nil, present)
		}
		if r1.b.off != r2.b.off {
			t.Fatalf("at 0x%x: next advanced to 0x%x, skip to 0x%x", off, r1.b.off, r2.b.off)
		}
	}
}

// TestImplicitConst checks that DW_FORM_implicit_const takes its value
// from the abbreviation, not the DIE bytes.
func TestImplicitConst(t *testing.T) {
	var ab image
	ab.uleb(1)
	ab.uleb(uint64(dw.TagCompileUnit))
	ab.u8(0)
	ab.uleb(uint64(dw.AttrName))
	ab.uleb(uint64(dw.FormString))
	ab.uleb(uint64(dw.AttrDeclLine))
	ab.uleb(uint64(dw.FormImplicitConst))
	ab.sleb(-42)
	ab.uleb(0)
	ab.uleb(0)
	ab.uleb(0)

	var in image
	in.u32(0)
	in.u16(5)
	in.u8(uint8(dw.UTCompile))
	in.u8(8)
	in.u32(0)
	in.uleb(1)
	in.str("u")
	in.patchU32(0, uint32(in.len()-4))

	prov := newTestProvider()
	prov.secs[SecAbbrev] = ab.b
	prov.secs[SecInfo] = in.b
	d := newFixtureData(t, prov, nil)
	u := d.Units()[0]
	if err := d.loadUnit(u); err != nil {
		t.Fatalf("loadUnit: %v", err)
	}
	v := u.root.Attr(dw.AttrDeclLine)
	if v == nil || v.Class != ClassSignedConstant || v.Int != -42 {
		t.Errorf("implicit const = %v, want signed constant -42", v)
	}
}

// TestRefAddrWidth checks that DW_FORM_ref_addr is address-sized in
// DWARF 2 and offset-sized in later versions.
func TestRefAddrWidth(t *testing.T) {
	build := func(version uint16) *testProvider {
		var ab image
		ab.uleb(1)
		ab.uleb(uint64(dw.TagCompileUnit))
		ab.u8(0)
		ab.uleb(uint64(dw.AttrType))
		ab.uleb(uint64(dw.FormRefAddr))
		ab.uleb(uint64(dw.AttrName))
		ab.uleb(uint64(dw.FormString))
		ab.uleb(0)
		ab.uleb(0)
		ab.uleb(0)

		var in image
		in.u32(0)
		in.u16(version)
		in.u32(0) // abbrev offset
		in.u8(8)  // address size
		in.uleb(1)
		if version == 2 {
			in.u64(0x11223344) // address-sized (8)
		} else {
			in.u32(0x11223344) // offset-sized (4)
		}
		in.str("x")
		in.patchU32(0, uint32(in.len()-4))

		prov := newTestProvider()
		prov.secs[SecAbbrev] = ab.b
		prov.secs[SecInfo] = in.b
		return prov
	}

	for _, version := range []uint16{2, 4} {
		d := newFixtureData(t, build(version), nil)
		u := d.Units()[0]
		if err := d.loadUnit(u); err != nil {
			t.Fatalf("v%d loadUnit: %v", version, err)
		}
		v := u.root.Attr(dw.AttrType)
		if v == nil || v.Class != ClassReference || v.Uint != 0x11223344 {
			t.Errorf("v%d ref_addr = %v, want reference 0x11223344", version, v)
		}
		// The name must decode cleanly after it, proving the width was
		// consumed correctly.
		if name := u.root.Attr(dw.AttrName); name == nil || name.Str != "x" {
			t.Errorf("v%d name after ref_addr = %v, want x", version, name)
		}
	}
}

func TestDIEAtBadOffset(t *testing.T) {
	prov, _ := buildFixtureSections()
	d := newFixtureData(t, prov, nil)
	u := d.Units()[0]
	if _, err := u.DIEAt(3); err == nil {
		t.Errorf("DIEAt(3): no error for offset between DIEs")
	}
}

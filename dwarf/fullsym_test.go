// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dwarf

import (
	"testing"

	"github.com/aclements/go-dwarf/dw"
)

func TestExpandAll(t *testing.T) {
	prov, _ := buildFixtureSections()
	sink := newTestSink()
	d := newFixtureData(t, prov, sink)
	if err := d.ExpandAll(); err != nil {
		t.Fatalf("ExpandAll: %v", err)
	}
	u := d.Units()[0]

	if len(sink.compunits) != 1 || sink.compunits[0] != u {
		t.Fatalf("compunits = %v, want the fixture unit", sink.compunits)
	}
	if sink.producer != "GNU C17 9.3.0" || sink.lang != dw.LangC89 {
		t.Errorf("compunit = (%q, %v), want the fixture producer and LangC89", sink.producer, sink.lang)
	}

	main := sink.findSym("main")
	if main == nil {
		t.Fatalf("main not emitted (have %d syms)", len(sink.syms))
	}
	if main.Loc != LocBlock || main.Addr != 0x1000 {
		t.Errorf("main = (%v, 0x%x), want (LocBlock, 0x1000)", main.Loc, main.Addr)
	}
	if main.Type == nil || main.Type.Code != TypeFunc {
		t.Errorf("main type = %v, want a function type", main.Type)
	}

	argc := sink.findSym("argc")
	if argc == nil {
		t.Fatalf("argc not emitted")
	}
	if argc.Loc != LocOptimizedOut || !argc.IsArgument {
		t.Errorf("argc = (%v, arg %v), want (LocOptimizedOut, true)", argc.Loc, argc.IsArgument)
	}
	if argc.Type == nil || argc.Type.Code != TypeBase || argc.Type.Name != "int" {
		t.Errorf("argc type = %v, want base type int", argc.Type)
	}

	gvar := sink.findSym("g_var")
	if gvar == nil || gvar.Loc != LocStatic || gvar.Addr != 0x2000 || !gvar.MaybeCopied {
		t.Errorf("g_var = %+v, want static at 0x2000 with MaybeCopied", gvar)
	}
	svar := sink.findSym("s_var")
	if svar == nil || svar.Loc != LocStatic || svar.Addr != 0x2008 || svar.MaybeCopied {
		t.Errorf("s_var = %+v, want static at 0x2008 without MaybeCopied", svar)
	}

	// Placements: main and g_var are global, the rest static or inside
	// main's block.
	for i, sym := range sink.syms {
		p := sink.places[i]
		switch sym.Name {
		case "main", "g_var":
			if p != PlacementGlobal {
				t.Errorf("%s placement = %v, want global", sym.Name, p)
			}
		case "argc":
			if p != PlacementCurrent {
				t.Errorf("argc placement = %v, want current block", p)
			}
		default:
			if p != PlacementStatic {
				t.Errorf("%s placement = %v, want static", sym.Name, p)
			}
		}
	}

	if len(sink.blocks) != 1 || sink.blocks[0] != [2]uint64{0x1000, 0x1100} {
		t.Errorf("blocks = %x, want [[0x1000, 0x1100)]", sink.blocks)
	}
	if sink.endBlk != 1 {
		t.Errorf("EndBlock count = %d, want 1", sink.endBlk)
	}
	if sink.mainName != "main" || sink.mainLang != dw.LangC89 {
		t.Errorf("main subprogram = (%q, %v), want (main, LangC89)", sink.mainName, sink.mainLang)
	}
	if len(sink.ended) != 1 || sink.ended[0] != u {
		t.Errorf("EndCompunit calls = %v, want the fixture unit", sink.ended)
	}

	// A second expansion is a no-op.
	n := len(sink.syms)
	if err := d.ExpandAll(); err != nil {
		t.Fatalf("second ExpandAll: %v", err)
	}
	if len(sink.syms) != n || len(sink.compunits) != 1 {
		t.Errorf("second expansion re-emitted symbols")
	}
}

func TestExpandAddr(t *testing.T) {
	prov, _ := buildFixtureSections()
	sink := newTestSink()
	d := newFixtureData(t, prov, sink)
	if err := d.BuildPartialSymtabs(); err != nil {
		t.Fatalf("BuildPartialSymtabs: %v", err)
	}

	u, err := d.ExpandAddr(0x1050)
	if err != nil {
		t.Fatalf("ExpandAddr: %v", err)
	}
	if u != d.Units()[0] || !u.expanded {
		t.Errorf("ExpandAddr = %v (expanded %v), want the fixture unit expanded", u, u.expanded)
	}
	if u, err := d.ExpandAddr(0x9999); u != nil || err != nil {
		t.Errorf("ExpandAddr(0x9999) = (%v, %v), want (nil, nil)", u, err)
	}
}

// TestExpandUnitLines checks that a unit's line table pours into the
// sink: a subfile switch per file change and a line-0 row closing each
// sequence.
func TestExpandUnitLines(t *testing.T) {
	var ab image
	ab.uleb(1)
	ab.uleb(uint64(dw.TagCompileUnit))
	ab.u8(0)
	ab.uleb(uint64(dw.AttrName))
	ab.uleb(uint64(dw.FormString))
	ab.uleb(uint64(dw.AttrCompDir))
	ab.uleb(uint64(dw.FormString))
	ab.uleb(uint64(dw.AttrLowPC))
	ab.uleb(uint64(dw.FormAddr))
	ab.uleb(uint64(dw.AttrStmtList))
	ab.uleb(uint64(dw.FormData4))
	ab.uleb(0)
	ab.uleb(0)
	ab.uleb(0)

	var in image
	in.u32(0)
	in.u16(4)
	in.u32(0)
	in.u8(8)
	in.uleb(1)
	in.str("test.c")
	in.str("/src")
	in.u64(0x1000)
	in.u32(0) // line program at offset 0
	in.patchU32(0, uint32(in.len()-4))

	prov := newTestProvider()
	prov.secs[SecAbbrev] = ab.b
	prov.secs[SecInfo] = in.b
	prov.secs[SecLine] = buildV2LineProgram(func(im *image) {
		setAddress(im, 0x1000)
		im.u8(13 + (1 - -5)) // line 2 at 0x1000
		im.u8(dw.LNSSetFile)
		im.uleb(2)
		im.u8(dw.LNSAdvancePC)
		im.uleb(4)
		im.u8(dw.LNSCopy)
		im.u8(dw.LNSAdvancePC)
		im.uleb(4)
		endSequence(im)
	})

	sink := newTestSink()
	d := newFixtureData(t, prov, sink)
	if err := d.ExpandUnit(d.Units()[0]); err != nil {
		t.Fatalf("ExpandUnit: %v", err)
	}

	wantSubfiles := []string{"/src/test.c", "inc/util.h"}
	if len(sink.subfiles) != 2 || sink.subfiles[0] != wantSubfiles[0] || sink.subfiles[1] != wantSubfiles[1] {
		t.Errorf("subfiles = %v, want %v", sink.subfiles, wantSubfiles)
	}
	wantLines := []testLine{
		{"/src/test.c", 2, 0x1000, true},
		{"inc/util.h", 2, 0x1004, true},
		{"inc/util.h", 0, 0x1008, false},
	}
	if len(sink.lines) != len(wantLines) {
		t.Fatalf("got %d line rows %v, want %d", len(sink.lines), sink.lines, len(wantLines))
	}
	for i, w := range wantLines {
		if sink.lines[i] != w {
			t.Errorf("line row %d = %+v, want %+v", i, sink.lines[i], w)
		}
	}
}

// TestQueuePoison checks that a failed expansion drops the rest of the
// queue and discards the failed unit, leaving earlier units intact.
func TestQueuePoison(t *testing.T) {
	prov, _ := buildFixtureSections()

	// Append a second CU whose child DIE names a missing abbrev code.
	var in image
	in.raw(prov.secs[SecInfo])
	start := in.len()
	in.u32(0)
	in.u16(4)
	in.u32(0)
	in.u8(8)
	in.uleb(abCompileUnit)
	in.str("bad.c")
	in.str("/src")
	in.str("GNU C17 9.3.0")
	in.u8(uint8(dw.LangC89))
	in.u64(0x3000)
	in.u32(0x100)
	in.uleb(99) // no such abbrev
	in.uleb(0)
	in.patchU32(start, uint32(in.len()-start-4))
	prov.secs[SecInfo] = in.b

	sink := newTestSink()
	d := newFixtureData(t, prov, sink)
	if len(d.Units()) != 2 {
		t.Fatalf("got %d units, want 2", len(d.Units()))
	}
	good, bad := d.Units()[0], d.Units()[1]

	if err := d.ExpandAll(); err == nil {
		t.Fatalf("ExpandAll succeeded over a corrupt unit")
	}
	if !good.expanded || good.root == nil {
		t.Errorf("good unit not left expanded")
	}
	if bad.expanded || bad.queued || bad.root != nil {
		t.Errorf("bad unit = (expanded %v, queued %v, root %v), want discarded", bad.expanded, bad.queued, bad.root)
	}
	if d.queue != nil {
		t.Errorf("queue not dropped after poison")
	}
	if len(sink.compunits) != 1 || sink.compunits[0] != good {
		t.Errorf("compunits = %v, want only the good unit", sink.compunits)
	}
}

func TestCacheAging(t *testing.T) {
	prov, offs := buildFixtureSections()
	d := newFixtureData(t, prov, newTestSink())
	if err := d.ExpandAll(); err != nil {
		t.Fatalf("ExpandAll: %v", err)
	}
	u := d.Units()[0]
	if u.root == nil {
		t.Fatalf("tree not resident after expansion")
	}

	// Young units survive a sweep.
	d.ageUnits()
	if u.root == nil {
		t.Fatalf("young unit swept")
	}

	d.clock += d.MaxCacheAge + 1
	d.ageUnits()
	if u.root != nil || u.dies != nil {
		t.Errorf("old unit not swept")
	}
	if !u.expanded || u.Name() != "test.c" {
		t.Errorf("sweep destroyed the stub: expanded %v, name %q", u.expanded, u.Name())
	}

	// The tree rebuilds on demand.
	die, err := u.DIEAt(offs.intDie)
	if err != nil {
		t.Fatalf("DIEAt after sweep: %v", err)
	}
	if die.Tag != dw.TagBaseType {
		t.Errorf("rebuilt DIE tag = %v, want TagBaseType", die.Tag)
	}
	if u.root == nil {
		t.Errorf("tree not resident after DIEAt")
	}
}

func TestMainNameFor(t *testing.T) {
	tests := []struct {
		lang dw.Lang
		want string
	}{
		{dw.LangGo, "main.main"},
		{dw.LangD, "D main"},
		{dw.LangC, "main"},
		{dw.LangCpp, "main"},
	}
	for _, tt := range tests {
		if got := mainNameFor(tt.lang); got != tt.want {
			t.Errorf("mainNameFor(%v) = %q, want %q", tt.lang, got, tt.want)
		}
	}
}

// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dwarf

import (
	"testing"

	"github.com/aclements/go-dwarf/dw"
)

func TestBuildPartialSymtabs(t *testing.T) {
	prov, _ := buildFixtureSections()
	sink := newTestSink()
	d := newFixtureData(t, prov, sink)
	if err := d.BuildPartialSymtabs(); err != nil {
		t.Fatalf("BuildPartialSymtabs: %v", err)
	}
	u := d.Units()[0]

	psyms, ok := sink.partial[u]
	if !ok {
		t.Fatalf("no partial symtab for the fixture unit")
	}
	byName := make(map[string]PartialSym)
	for _, p := range psyms {
		byName[p.Name] = p
	}
	want := []PartialSym{
		{Name: "int", Domain: DomainVar, Loc: LocTypedef, Placement: PlacementStatic},
		{Name: "main", Domain: DomainVar, Loc: LocBlock, Placement: PlacementGlobal, Addr: 0x1000},
		{Name: "g_var", Domain: DomainVar, Loc: LocStatic, Placement: PlacementGlobal, Addr: 0x2000},
		{Name: "s_var", Domain: DomainVar, Loc: LocStatic, Placement: PlacementStatic, Addr: 0x2008},
	}
	if len(psyms) != len(want) {
		t.Errorf("got %d partial syms, want %d: %+v", len(psyms), len(want), psyms)
	}
	for _, w := range want {
		w.Lang = dw.LangC89
		got, ok := byName[w.Name]
		if !ok {
			t.Errorf("missing partial sym %q", w.Name)
			continue
		}
		if got != w {
			t.Errorf("partial sym %q = %+v, want %+v", w.Name, got, w)
		}
	}

	if pc := sink.partialPC[u]; pc != [2]uint64{0x1000, 0x1200} {
		t.Errorf("unit PC range = %x, want [0x1000, 0x1200)", pc)
	}
	if got := d.AddrToUnit(0x1050); got != u {
		t.Errorf("AddrToUnit(0x1050) = %v, want the fixture unit", got)
	}
	if got := d.AddrToUnit(0x1200); got != nil {
		t.Errorf("AddrToUnit(0x1200) = %v, want nil", got)
	}

	// The shallow scan never materializes the DIE tree.
	if u.root != nil {
		t.Errorf("partial scan materialized the DIE tree")
	}
}

// TestPartialScanQualifiedNames checks namespace and nested-type
// qualification with enumerators landing in the enclosing scope.
func TestPartialScanQualifiedNames(t *testing.T) {
	var ab image
	abbrev := func(code uint64, tag dw.Tag, children bool, fields ...uint64) {
		ab.uleb(code)
		ab.uleb(uint64(tag))
		if children {
			ab.u8(1)
		} else {
			ab.u8(0)
		}
		for i := 0; i < len(fields); i += 2 {
			ab.uleb(fields[i])
			ab.uleb(fields[i+1])
		}
		ab.uleb(0)
		ab.uleb(0)
	}
	abbrev(1, dw.TagCompileUnit, true,
		uint64(dw.AttrName), uint64(dw.FormString),
		uint64(dw.AttrLanguage), uint64(dw.FormData1))
	abbrev(2, dw.TagNamespace, true,
		uint64(dw.AttrName), uint64(dw.FormString))
	abbrev(3, dw.TagStructType, true,
		uint64(dw.AttrName), uint64(dw.FormString),
		uint64(dw.AttrByteSize), uint64(dw.FormData1))
	abbrev(4, dw.TagTypedef, false,
		uint64(dw.AttrName), uint64(dw.FormString))
	abbrev(5, dw.TagEnumerationType, true,
		uint64(dw.AttrName), uint64(dw.FormString))
	abbrev(6, dw.TagEnumerator, false,
		uint64(dw.AttrName), uint64(dw.FormString),
		uint64(dw.AttrConstValue), uint64(dw.FormSdata))
	ab.uleb(0)

	var in image
	in.u32(0)
	in.u16(4)
	in.u32(0)
	in.u8(8)
	in.uleb(1)
	in.str("ns.cc")
	in.u8(uint8(dw.LangCpp))
	in.uleb(2) // namespace ns
	in.str("ns")
	in.uleb(3) // struct ns::Box
	in.str("Box")
	in.u8(8)
	in.uleb(4) // typedef ns::Box::elem
	in.str("elem")
	in.uleb(0) // end of Box
	in.uleb(5) // enum ns::Color
	in.str("Color")
	in.uleb(6)
	in.str("Red")
	in.sleb(0)
	in.uleb(0) // end of Color
	in.uleb(0) // end of ns
	in.uleb(0) // end of root
	in.patchU32(0, uint32(in.len()-4))

	prov := newTestProvider()
	prov.secs[SecAbbrev] = ab.b
	prov.secs[SecInfo] = in.b
	sink := newTestSink()
	d := newFixtureData(t, prov, sink)
	if err := d.BuildPartialSymtabs(); err != nil {
		t.Fatalf("BuildPartialSymtabs: %v", err)
	}

	got := make(map[string]PartialSym)
	for _, p := range sink.partial[d.Units()[0]] {
		got[p.Name] = p
	}
	for name, dom := range map[string]Domain{
		"ns":            DomainModule,
		"ns::Box":       DomainStruct,
		"ns::Box::elem": DomainVar,
		"ns::Color":     DomainStruct,
		"ns::Red":       DomainVar,
	} {
		p, ok := got[name]
		if !ok {
			t.Errorf("missing partial sym %q (have %v)", name, keys(got))
			continue
		}
		if p.Domain != dom {
			t.Errorf("%q domain = %v, want %v", name, p.Domain, dom)
		}
	}
	if _, ok := got["Red"]; ok {
		t.Errorf("enumerator leaked to file scope unqualified")
	}
}

func keys(m map[string]PartialSym) []string {
	var out []string
	for k := range m {
		out = append(out, k)
	}
	return out
}

// buildDeadFuncFixture is a C unit with a live function and one the
// linker discarded to address 0.
func buildDeadFuncFixture() *testProvider {
	var ab image
	abbrev := func(code uint64, tag dw.Tag, children bool, fields ...uint64) {
		ab.uleb(code)
		ab.uleb(uint64(tag))
		if children {
			ab.u8(1)
		} else {
			ab.u8(0)
		}
		for i := 0; i < len(fields); i += 2 {
			ab.uleb(fields[i])
			ab.uleb(fields[i+1])
		}
		ab.uleb(0)
		ab.uleb(0)
	}
	abbrev(1, dw.TagCompileUnit, true,
		uint64(dw.AttrName), uint64(dw.FormString),
		uint64(dw.AttrLanguage), uint64(dw.FormData1))
	abbrev(2, dw.TagSubprogram, false,
		uint64(dw.AttrName), uint64(dw.FormString),
		uint64(dw.AttrLowPC), uint64(dw.FormAddr),
		uint64(dw.AttrHighPC), uint64(dw.FormData4))
	ab.uleb(0)

	var in image
	in.u32(0)
	in.u16(4)
	in.u32(0)
	in.u8(8)
	in.uleb(1)
	in.str("dead.c")
	in.u8(uint8(dw.LangC89))
	in.uleb(2)
	in.str("main")
	in.u64(0x1000)
	in.u32(0x100)
	in.uleb(2)
	in.str("dead")
	in.u64(0)
	in.u32(0x10)
	in.uleb(0)
	in.patchU32(0, uint32(in.len()-4))

	prov := newTestProvider()
	prov.secs[SecAbbrev] = ab.b
	prov.secs[SecInfo] = in.b
	return prov
}

func TestPartialScanDeadFunction(t *testing.T) {
	sink := newTestSink()
	d := newFixtureData(t, buildDeadFuncFixture(), sink)
	if err := d.BuildPartialSymtabs(); err != nil {
		t.Fatalf("BuildPartialSymtabs: %v", err)
	}
	u := d.Units()[0]
	for _, p := range sink.partial[u] {
		if p.Name == "dead" {
			t.Errorf("discarded function emitted: %+v", p)
		}
	}
	if pc := sink.partialPC[u]; pc != [2]uint64{0x1000, 0x1100} {
		t.Errorf("unit PC range = %x, want [0x1000, 0x1100) without the dead function", pc)
	}
	if got := d.AddrToUnit(0x5); got != nil {
		t.Errorf("AddrToUnit(0x5) = %v, want nil (no section at zero)", got)
	}
}

func TestPartialScanZeroAddressLoaded(t *testing.T) {
	// With a section loaded at address 0 the same function is live.
	prov := buildDeadFuncFixture()
	prov.atZero = true
	sink := newTestSink()
	d := newFixtureData(t, prov, sink)
	if err := d.BuildPartialSymtabs(); err != nil {
		t.Fatalf("BuildPartialSymtabs: %v", err)
	}
	u := d.Units()[0]
	found := false
	for _, p := range sink.partial[u] {
		if p.Name == "dead" && p.Addr == 0 {
			found = true
		}
	}
	if !found {
		t.Errorf("function at address 0 not emitted: %+v", sink.partial[u])
	}
	if pc := sink.partialPC[u]; pc != [2]uint64{0, 0x1100} {
		t.Errorf("unit PC range = %x, want [0x0, 0x1100)", pc)
	}
	if got := d.AddrToUnit(0x5); got != u {
		t.Errorf("AddrToUnit(0x5) = %v, want the unit", got)
	}
}

func TestPartialScanNestedSubprograms(t *testing.T) {
	var ab image
	abbrev := func(code uint64, tag dw.Tag, children bool, fields ...uint64) {
		ab.uleb(code)
		ab.uleb(uint64(tag))
		if children {
			ab.u8(1)
		} else {
			ab.u8(0)
		}
		for i := 0; i < len(fields); i += 2 {
			ab.uleb(fields[i])
			ab.uleb(fields[i+1])
		}
		ab.uleb(0)
		ab.uleb(0)
	}
	abbrev(1, dw.TagCompileUnit, true,
		uint64(dw.AttrName), uint64(dw.FormString),
		uint64(dw.AttrLanguage), uint64(dw.FormData1))
	abbrev(2, dw.TagSubprogram, true,
		uint64(dw.AttrName), uint64(dw.FormString),
		uint64(dw.AttrLowPC), uint64(dw.FormAddr),
		uint64(dw.AttrHighPC), uint64(dw.FormData4))
	abbrev(3, dw.TagSubprogram, false,
		uint64(dw.AttrName), uint64(dw.FormString),
		uint64(dw.AttrLowPC), uint64(dw.FormAddr),
		uint64(dw.AttrHighPC), uint64(dw.FormData4))
	abbrev(4, dw.TagInlinedSubroutine, false,
		uint64(dw.AttrName), uint64(dw.FormString),
		uint64(dw.AttrLowPC), uint64(dw.FormAddr),
		uint64(dw.AttrHighPC), uint64(dw.FormData4))
	abbrev(5, dw.TagLexicalBlock, true)
	abbrev(6, dw.TagVariable, false,
		uint64(dw.AttrName), uint64(dw.FormString),
		uint64(dw.AttrConstValue), uint64(dw.FormData1))
	ab.uleb(0)

	var in image
	in.u32(0)
	in.u16(4)
	in.u32(0)
	in.u8(8)
	in.uleb(1)
	in.str("pak.adb")
	in.u8(uint8(dw.LangAda95))
	in.uleb(2) // outer
	in.str("outer")
	in.u64(0x1000)
	in.u32(0x100)
	in.uleb(3) // nested subprogram
	in.str("inner")
	in.u64(0x1010)
	in.u32(0x20)
	in.uleb(4) // inlined instance
	in.str("tiny")
	in.u64(0x1040)
	in.u32(0x8)
	in.uleb(5) // lexical block
	in.uleb(6)
	in.str("bv")
	in.u8(42)
	in.uleb(0) // end of block
	in.uleb(0) // end of outer
	in.uleb(0) // end of unit
	in.patchU32(0, uint32(in.len()-4))

	prov := newTestProvider()
	prov.secs[SecAbbrev] = ab.b
	prov.secs[SecInfo] = in.b

	sink := newTestSink()
	d := newFixtureData(t, prov, sink)
	if err := d.BuildPartialSymtabs(); err != nil {
		t.Fatalf("BuildPartialSymtabs: %v", err)
	}
	u := d.Units()[0]
	byName := make(map[string]PartialSym)
	for _, p := range sink.partial[u] {
		byName[p.Name] = p
	}

	outer, ok := byName["outer"]
	if !ok || outer.Addr != 0x1000 || outer.Placement != PlacementGlobal {
		t.Errorf("outer = %+v, want a global function at 0x1000", outer)
	}
	inner, ok := byName["outer::inner"]
	if !ok || inner.Addr != 0x1010 || inner.Placement != PlacementGlobal {
		t.Errorf("nested subprogram = %+v, want outer::inner global at 0x1010", inner)
	}
	tiny, ok := byName["outer::tiny"]
	if !ok || tiny.Addr != 0x1040 || tiny.Placement != PlacementStatic {
		t.Errorf("inlined instance = %+v, want outer::tiny static at 0x1040", tiny)
	}
	if bv, ok := byName["outer::bv"]; !ok || bv.Loc != LocConst || bv.Value != 42 {
		t.Errorf("block variable = %+v, want outer::bv constant 42", bv)
	}
	if pc := sink.partialPC[u]; pc != [2]uint64{0x1000, 0x1100} {
		t.Errorf("unit PC range = %x, want [0x1000, 0x1100)", pc)
	}
}

func TestLastNameComponent(t *testing.T) {
	tests := []struct{ in, want string }{
		{"a::b::c", "c"},
		{"main", "main"},
		{"::x", "x"},
		{"ns::vec<int>", "vec<int>"},
	}
	for _, tt := range tests {
		if got := lastNameComponent(tt.in); got != tt.want {
			t.Errorf("lastNameComponent(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

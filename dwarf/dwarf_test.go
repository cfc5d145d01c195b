// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dwarf

import (
	"encoding/binary"
	"testing"

	"github.com/aclements/go-dwarf/dw"
)

// image accumulates little-endian section bytes for test fixtures.
type image struct {
	b []byte
}

func (im *image) len() uint64 { return uint64(len(im.b)) }

func (im *image) u8(v uint8) { im.b = append(im.b, v) }

func (im *image) u16(v uint16) {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	im.b = append(im.b, tmp[:]...)
}

func (im *image) u32(v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	im.b = append(im.b, tmp[:]...)
}

func (im *image) u64(v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	im.b = append(im.b, tmp[:]...)
}

func (im *image) uleb(v uint64) {
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			c |= 0x80
		}
		im.b = append(im.b, c)
		if v == 0 {
			return
		}
	}
}

func (im *image) sleb(v int64) {
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && c&0x40 == 0) || (v == -1 && c&0x40 != 0) {
			im.b = append(im.b, c)
			return
		}
		im.b = append(im.b, c|0x80)
	}
}

func (im *image) str(s string) {
	im.b = append(im.b, s...)
	im.b = append(im.b, 0)
}

func (im *image) raw(p []byte) { im.b = append(im.b, p...) }

// patchU32 overwrites a previously written 32-bit slot.
func (im *image) patchU32(off uint64, v uint32) {
	binary.LittleEndian.PutUint32(im.b[off:], v)
}

// testProvider is an in-memory SectionProvider.
type testProvider struct {
	secs   map[SectionID][]byte
	atZero bool
	alt    *testProvider
	dwos   map[string]*testProvider
	dwp    *testProvider
}

func newTestProvider() *testProvider {
	return &testProvider{secs: make(map[SectionID][]byte)}
}

func (p *testProvider) SectionBytes(id SectionID) []byte { return p.secs[id] }
func (p *testProvider) SectionEndian() binary.ByteOrder  { return binary.LittleEndian }
func (p *testProvider) HasSectionAtZero() bool           { return p.atZero }

func (p *testProvider) FindAlt(buildID []byte, filename string) SectionProvider {
	if p.alt == nil {
		return nil
	}
	return p.alt
}

func (p *testProvider) FindDWO(compDir, dwoName string) SectionProvider {
	if d, ok := p.dwos[dwoName]; ok {
		return d
	}
	return nil
}

func (p *testProvider) FindDWP(objName string) SectionProvider {
	if p.dwp == nil {
		return nil
	}
	return p.dwp
}

// testSink records every sink callback for later assertions.
type testSink struct {
	partial   map[*Unit][]PartialSym
	partialPC map[*Unit][2]uint64

	compunits []*Unit
	producer  string
	lang      dw.Lang

	syms   []*Symbol
	places []Placement
	blocks [][2]uint64
	endBlk int

	subfiles []string
	lines    []testLine

	mainName string
	mainLang dw.Lang
	ended    []*Unit
}

type testLine struct {
	file   string
	line   int
	addr   uint64
	isStmt bool
}

func newTestSink() *testSink {
	return &testSink{
		partial:   make(map[*Unit][]PartialSym),
		partialPC: make(map[*Unit][2]uint64),
	}
}

func (s *testSink) BeginPartialSymtab(u *Unit, filename, dirname string) {
	s.partial[u] = nil
}

func (s *testSink) AddPartialSym(u *Unit, p PartialSym) {
	s.partial[u] = append(s.partial[u], p)
}

func (s *testSink) EndPartialSymtab(u *Unit, low, high uint64) {
	s.partialPC[u] = [2]uint64{low, high}
}

func (s *testSink) BeginCompunit(u *Unit, producer string, lang dw.Lang, filename, dirname string, lowPC uint64) {
	s.compunits = append(s.compunits, u)
	s.producer, s.lang = producer, lang
}

func (s *testSink) StartSubfile(path string) { s.subfiles = append(s.subfiles, path) }

func (s *testSink) RecordLine(subfile string, line int, addr uint64, isStmt bool) {
	s.lines = append(s.lines, testLine{subfile, line, addr, isStmt})
}

func (s *testSink) BeginBlock(low, high uint64) { s.blocks = append(s.blocks, [2]uint64{low, high}) }
func (s *testSink) EndBlock()                   { s.endBlk++ }

func (s *testSink) EmitSymbol(p Placement, sym *Symbol) {
	s.syms = append(s.syms, sym)
	s.places = append(s.places, p)
}

func (s *testSink) SetMainSubprogram(name string, lang dw.Lang) {
	s.mainName, s.mainLang = name, lang
}

func (s *testSink) EndCompunit(u *Unit) { s.ended = append(s.ended, u) }

func (s *testSink) findSym(name string) *Symbol {
	for _, sym := range s.syms {
		if sym.Name == name {
			return sym
		}
	}
	return nil
}

// fixtureOffsets records the section offsets of interesting DIEs in the
// standard single-CU fixture.
type fixtureOffsets struct {
	intDie  uint64
	mainDie uint64
	gVarDie uint64
	sVarDie uint64
}

// Abbrev codes of the standard fixture.
const (
	abCompileUnit = 1
	abSubprogram  = 2
	abParam       = 3
	abExternVar   = 4
	abBaseType    = 5
	abStaticVar   = 6
)

// buildFixtureSections builds a one-CU DWARF v4 object:
//
//	compile_unit "test.c" [0x1000,0x1200)
//	  base_type "int"
//	  subprogram "main" [0x1000,0x1100) external
//	    formal_parameter "argc" : int
//	  variable "g_var" : int @ 0x2000 external
//	  variable "s_var" : int @ 0x2008
func buildFixtureSections() (*testProvider, fixtureOffsets) {
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
	abbrev(abCompileUnit, dw.TagCompileUnit, true,
		uint64(dw.AttrName), uint64(dw.FormString),
		uint64(dw.AttrCompDir), uint64(dw.FormString),
		uint64(dw.AttrProducer), uint64(dw.FormString),
		uint64(dw.AttrLanguage), uint64(dw.FormData1),
		uint64(dw.AttrLowPC), uint64(dw.FormAddr),
		uint64(dw.AttrHighPC), uint64(dw.FormData4))
	abbrev(abSubprogram, dw.TagSubprogram, true,
		uint64(dw.AttrName), uint64(dw.FormString),
		uint64(dw.AttrLowPC), uint64(dw.FormAddr),
		uint64(dw.AttrHighPC), uint64(dw.FormData4),
		uint64(dw.AttrExternal), uint64(dw.FormFlagPresent))
	abbrev(abParam, dw.TagFormalParameter, false,
		uint64(dw.AttrName), uint64(dw.FormString),
		uint64(dw.AttrType), uint64(dw.FormRef4))
	abbrev(abExternVar, dw.TagVariable, false,
		uint64(dw.AttrName), uint64(dw.FormString),
		uint64(dw.AttrType), uint64(dw.FormRef4),
		uint64(dw.AttrLocation), uint64(dw.FormExprloc),
		uint64(dw.AttrExternal), uint64(dw.FormFlagPresent))
	abbrev(abBaseType, dw.TagBaseType, false,
		uint64(dw.AttrName), uint64(dw.FormString),
		uint64(dw.AttrByteSize), uint64(dw.FormData1),
		uint64(dw.AttrEncoding), uint64(dw.FormData1))
	abbrev(abStaticVar, dw.TagVariable, false,
		uint64(dw.AttrName), uint64(dw.FormString),
		uint64(dw.AttrType), uint64(dw.FormRef4),
		uint64(dw.AttrLocation), uint64(dw.FormExprloc))
	ab.uleb(0)

	var offs fixtureOffsets
	var in image
	in.u32(0) // unit length, patched below
	in.u16(4) // version
	in.u32(0) // abbrev offset
	in.u8(8)  // address size

	// Root.
	in.uleb(abCompileUnit)
	in.str("test.c")
	in.str("/src")
	in.str("GNU C17 9.3.0")
	in.u8(uint8(dw.LangC89))
	in.u64(0x1000)
	in.u32(0x200)

	offs.intDie = in.len()
	in.uleb(abBaseType)
	in.str("int")
	in.u8(4)
	in.u8(uint8(dw.EncSigned))

	offs.mainDie = in.len()
	in.uleb(abSubprogram)
	in.str("main")
	in.u64(0x1000)
	in.u32(0x100)
	in.uleb(abParam)
	in.str("argc")
	in.u32(uint32(offs.intDie))
	in.uleb(0) // end of main's children

	offs.gVarDie = in.len()
	in.uleb(abExternVar)
	in.str("g_var")
	in.u32(uint32(offs.intDie))
	in.uleb(9) // exprloc length
	in.u8(dw.OpAddr)
	in.u64(0x2000)

	offs.sVarDie = in.len()
	in.uleb(abStaticVar)
	in.str("s_var")
	in.u32(uint32(offs.intDie))
	in.uleb(9)
	in.u8(dw.OpAddr)
	in.u64(0x2008)

	in.uleb(0) // end of root's children
	in.patchU32(0, uint32(in.len()-4))

	prov := newTestProvider()
	prov.secs[SecAbbrev] = ab.b
	prov.secs[SecInfo] = in.b
	return prov, offs
}

func newFixtureData(t *testing.T, prov *testProvider, sink SymbolSink) *Data {
	t.Helper()
	d, err := New(prov, nil, sink)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d
}

func TestNewBuildsUnitList(t *testing.T) {
	prov, _ := buildFixtureSections()
	d := newFixtureData(t, prov, nil)
	units := d.Units()
	if len(units) != 1 {
		t.Fatalf("got %d units, want 1", len(units))
	}
	u := units[0]
	if u.Offset() != 0 || u.Version() != 4 {
		t.Errorf("unit = (off 0x%x, v%d), want (0x0, v4)", u.Offset(), u.Version())
	}
	if u.IsTypeUnit() {
		t.Errorf("compile unit reported as type unit")
	}
	if d.HasIndex() {
		t.Errorf("HasIndex = true for object with no accelerator section")
	}
}

func TestStubAttributes(t *testing.T) {
	prov, _ := buildFixtureSections()
	d := newFixtureData(t, prov, nil)
	u := d.Units()[0]
	if err := u.readStub(); err != nil {
		t.Fatalf("readStub: %v", err)
	}
	if u.Name() != "test.c" {
		t.Errorf("Name = %q, want %q", u.Name(), "test.c")
	}
	if u.CompDir() != "/src" {
		t.Errorf("CompDir = %q, want %q", u.CompDir(), "/src")
	}
	if u.Language() != dw.LangC89 {
		t.Errorf("Language = %v, want LangC89", u.Language())
	}
	if !u.hasLow || u.lowPC != 0x1000 {
		t.Errorf("lowPC = (0x%x, %v), want (0x1000, true)", u.lowPC, u.hasLow)
	}
}

func TestLanguageFromProducer(t *testing.T) {
	tests := []struct {
		producer string
		want     dw.Lang
	}{
		{"rustc version 1.55.0", dw.LangRust},
		{"Go cmd/compile go1.17", dw.LangGo},
		{"GNU Fortran 9.3.0", dw.LangFortran90},
		{"GNU C++14 10.2.0", dw.LangCpp},
		{"clang version 12.0.0", dw.LangCpp},
		{"GNU C17 9.3.0", dw.LangC},
		{"GNAT 11", dw.LangAda95},
		{"some assembler", LangMinimal},
	}
	for _, tt := range tests {
		if got := languageFromProducer(tt.producer); got != tt.want {
			t.Errorf("languageFromProducer(%q) = %v, want %v", tt.producer, got, tt.want)
		}
	}
}

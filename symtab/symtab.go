// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package symtab accumulates the symbols, scopes, and line tables the
// DWARF reader materializes and answers name and address queries over
// them. A Table is the reader's SymbolSink.
package symtab

import (
	"sort"

	"github.com/aclements/go-dwarf/dw"
	"github.com/aclements/go-dwarf/dwarf"
)

// Table holds the partial and full symbol tables of one object.
type Table struct {
	// partial maps a unit to its first-pass symbols.
	partial map[*dwarf.Unit]*PartialTable

	// compunits holds fully expanded units in expansion order.
	compunits []*Compunit

	// addr indexes function blocks by address across all compunits.
	// Rebuilt lazily after expansions.
	addr      []blockAddr
	addrStale bool

	cur *Compunit // compunit being filled
	// blockStack tracks open scopes during expansion; element 0 is
	// the compunit's outermost block.
	blockStack []*Block

	// pendingFunc is the last function symbol emitted; the next
	// BeginBlock claims it as the block's function.
	pendingFunc *dwarf.Symbol

	pcur *PartialTable
}

// New returns an empty Table.
func New() *Table {
	return &Table{partial: make(map[*dwarf.Unit]*PartialTable)}
}

var _ dwarf.SymbolSink = (*Table)(nil)

// A PartialTable is one unit's first-pass symbols.
type PartialTable struct {
	Unit      *dwarf.Unit
	Filename  string
	Dirname   string
	Low, High uint64
	Globals   []dwarf.PartialSym
	Statics   []dwarf.PartialSym
}

// A Compunit is one fully expanded unit: its scope tree, symbols, and
// line table.
type Compunit struct {
	Unit     *dwarf.Unit
	Producer string
	Lang     dw.Lang
	Filename string
	Dirname  string
	LowPC    uint64

	// Block is the outermost scope; global and file-static symbols
	// both land here, distinguished by their placement lists.
	Block   *Block
	Globals []*dwarf.Symbol
	Statics []*dwarf.Symbol

	Subfiles []*Subfile

	MainName string
	MainLang dw.Lang
}

// A Block is one lexical scope with the symbols declared in it.
type Block struct {
	Low, High uint64
	Parent    *Block
	Children  []*Block
	Syms      []*dwarf.Symbol
	// Function is the function symbol that opened this block, if any.
	Function *dwarf.Symbol
}

// A Subfile is the line table of one source file within a compunit.
type Subfile struct {
	Name string
	Rows []LineRow
}

// A LineRow maps an address to a source line. Line 0 terminates the
// previous row's range.
type LineRow struct {
	Addr   uint64
	Line   int
	IsStmt bool
}

// Partial symbol pass sink.

func (t *Table) BeginPartialSymtab(u *dwarf.Unit, filename, dirname string) {
	t.pcur = &PartialTable{Unit: u, Filename: filename, Dirname: dirname}
}

func (t *Table) AddPartialSym(u *dwarf.Unit, p dwarf.PartialSym) {
	if t.pcur == nil || t.pcur.Unit != u {
		return
	}
	if p.Placement == dwarf.PlacementGlobal {
		t.pcur.Globals = append(t.pcur.Globals, p)
	} else {
		t.pcur.Statics = append(t.pcur.Statics, p)
	}
}

func (t *Table) EndPartialSymtab(u *dwarf.Unit, low, high uint64) {
	if t.pcur == nil || t.pcur.Unit != u {
		return
	}
	t.pcur.Low, t.pcur.High = low, high
	t.partial[u] = t.pcur
	t.pcur = nil
}

// Partial returns the first-pass table for u, or nil.
func (t *Table) Partial(u *dwarf.Unit) *PartialTable { return t.partial[u] }

// LookupPartial returns the units whose first-pass tables define name.
func (t *Table) LookupPartial(name string) []*dwarf.Unit {
	var out []*dwarf.Unit
	for u, pt := range t.partial {
		for _, p := range pt.Globals {
			if p.Name == name {
				out = append(out, u)
				break
			}
		}
	}
	return out
}

// Full symbol pass sink.

func (t *Table) BeginCompunit(u *dwarf.Unit, producer string, lang dw.Lang, filename, dirname string, lowPC uint64) {
	cu := &Compunit{
		Unit: u, Producer: producer, Lang: lang,
		Filename: filename, Dirname: dirname, LowPC: lowPC,
		Block: &Block{},
	}
	t.cur = cu
	t.blockStack = t.blockStack[:0]
	t.blockStack = append(t.blockStack, cu.Block)
}

func (t *Table) StartSubfile(path string) {
	if t.cur == nil {
		return
	}
	if sf := t.cur.subfile(path); sf == nil {
		t.cur.Subfiles = append(t.cur.Subfiles, &Subfile{Name: path})
	}
}

func (t *Table) RecordLine(subfile string, line int, addr uint64, isStmt bool) {
	if t.cur == nil {
		return
	}
	sf := t.cur.subfile(subfile)
	if sf == nil {
		sf = &Subfile{Name: subfile}
		t.cur.Subfiles = append(t.cur.Subfiles, sf)
	}
	sf.Rows = append(sf.Rows, LineRow{addr, line, isStmt})
}

func (t *Table) BeginBlock(low, high uint64) {
	if t.cur == nil {
		return
	}
	parent := t.blockStack[len(t.blockStack)-1]
	b := &Block{Low: low, High: high, Parent: parent, Function: t.pendingFunc}
	t.pendingFunc = nil
	parent.Children = append(parent.Children, b)
	t.blockStack = append(t.blockStack, b)
}

func (t *Table) EndBlock() {
	if len(t.blockStack) > 1 {
		t.blockStack = t.blockStack[:len(t.blockStack)-1]
	}
}

func (t *Table) EmitSymbol(p dwarf.Placement, sym *dwarf.Symbol) {
	if t.cur == nil {
		return
	}
	switch p {
	case dwarf.PlacementGlobal:
		t.cur.Globals = append(t.cur.Globals, sym)
		t.cur.Block.Syms = append(t.cur.Block.Syms, sym)
	case dwarf.PlacementStatic:
		t.cur.Statics = append(t.cur.Statics, sym)
		t.cur.Block.Syms = append(t.cur.Block.Syms, sym)
	case dwarf.PlacementCurrent:
		b := t.blockStack[len(t.blockStack)-1]
		b.Syms = append(b.Syms, sym)
	}
	if sym.Loc == dwarf.LocBlock {
		t.pendingFunc = sym
	}
}

func (t *Table) SetMainSubprogram(name string, lang dw.Lang) {
	if t.cur != nil {
		t.cur.MainName, t.cur.MainLang = name, lang
	}
}

func (t *Table) EndCompunit(u *dwarf.Unit) {
	cu := t.cur
	if cu == nil || cu.Unit != u {
		return
	}
	for _, sf := range cu.Subfiles {
		sort.SliceStable(sf.Rows, func(i, j int) bool { return sf.Rows[i].Addr < sf.Rows[j].Addr })
	}
	t.compunits = append(t.compunits, cu)
	t.cur = nil
	t.blockStack = t.blockStack[:0]
	t.addrStale = true
}

func (cu *Compunit) subfile(name string) *Subfile {
	for _, sf := range cu.Subfiles {
		if sf.Name == name {
			return sf
		}
	}
	return nil
}

// Compunits returns the expanded compunits in expansion order. The
// caller must not modify the returned slice.
func (t *Table) Compunits() []*Compunit { return t.compunits }

// LookupGlobal returns every global symbol named name across all
// expanded compunits.
func (t *Table) LookupGlobal(name string) []*dwarf.Symbol {
	var out []*dwarf.Symbol
	for _, cu := range t.compunits {
		for _, s := range cu.Globals {
			if s.SearchName == name || s.LinkageName == name {
				out = append(out, s)
			}
		}
	}
	return out
}

// blockAddr is one boundary in the block address index: from addr on,
// block is the innermost function scope (nil for a gap).
type blockAddr struct {
	addr  uint64
	cu    *Compunit
	block *Block
}

// buildAddrIndex flattens every compunit's function blocks into a
// sorted boundary list. Nested and overlapping blocks are resolved
// with an end-address stack so each boundary names the innermost
// enclosing function.
func (t *Table) buildAddrIndex() {
	type span struct {
		low, high uint64
		cu        *Compunit
		b         *Block
	}
	var spans []span
	for _, cu := range t.compunits {
		var walk func(b *Block)
		walk = func(b *Block) {
			if b.High > b.Low {
				spans = append(spans, span{b.Low, b.High, cu, b})
			}
			for _, c := range b.Children {
				walk(c)
			}
		}
		for _, c := range cu.Block.Children {
			walk(c)
		}
	}
	sort.Slice(spans, func(i, j int) bool {
		if spans[i].low != spans[j].low {
			return spans[i].low < spans[j].low
		}
		// Larger spans first, so inner spans override as we sweep.
		return spans[i].high > spans[j].high
	})

	var out []blockAddr
	stack := make([]span, 0, 8) // ordered by high, smallest last
	drain := func(addr uint64) {
		for len(stack) > 0 {
			end := stack[len(stack)-1].high
			if end > addr {
				return
			}
			for len(stack) > 0 && stack[len(stack)-1].high == end {
				stack = stack[:len(stack)-1]
			}
			if len(stack) > 0 {
				top := stack[len(stack)-1]
				out = append(out, blockAddr{end, top.cu, top.b})
			} else {
				out = append(out, blockAddr{end, nil, nil})
			}
		}
	}
	for _, sp := range spans {
		drain(sp.low)
		entry := blockAddr{sp.low, sp.cu, sp.b}
		if len(out) > 0 && out[len(out)-1].addr == sp.low {
			out[len(out)-1] = entry
		} else {
			out = append(out, entry)
		}
		stack = append(stack, sp)
		for i := len(stack) - 1; i >= 1 && stack[i].high > stack[i-1].high; i-- {
			stack[i], stack[i-1] = stack[i-1], stack[i]
		}
	}
	drain(^uint64(0))
	t.addr = out
	t.addrStale = false
}

// PCToBlock returns the innermost block containing pc and its
// compunit, or nils.
func (t *Table) PCToBlock(pc uint64) (*Compunit, *Block) {
	if t.addrStale {
		t.buildAddrIndex()
	}
	i := sort.Search(len(t.addr), func(i int) bool { return t.addr[i].addr > pc }) - 1
	if i < 0 {
		return nil, nil
	}
	return t.addr[i].cu, t.addr[i].block
}

// PCToFunction returns the function symbol containing pc, or nil.
func (t *Table) PCToFunction(pc uint64) *dwarf.Symbol {
	_, b := t.PCToBlock(pc)
	for ; b != nil; b = b.Parent {
		if b.Function != nil {
			return b.Function
		}
	}
	return nil
}

// PCToLine maps pc to a file and line using the recorded line tables.
func (t *Table) PCToLine(pc uint64) (file string, line int, ok bool) {
	var bestAddr uint64
	for _, cu := range t.compunits {
		for _, sf := range cu.Subfiles {
			rows := sf.Rows
			i := sort.Search(len(rows), func(i int) bool { return rows[i].Addr > pc }) - 1
			if i < 0 || rows[i].Line == 0 {
				continue
			}
			if !ok || rows[i].Addr > bestAddr {
				bestAddr = rows[i].Addr
				file, line, ok = sf.Name, rows[i].Line, true
			}
		}
	}
	return file, line, ok
}

// LineToPCs returns the addresses of rows for file:line across all
// compunits.
func (t *Table) LineToPCs(file string, line int) []uint64 {
	var out []uint64
	for _, cu := range t.compunits {
		for _, sf := range cu.Subfiles {
			if sf.Name != file {
				continue
			}
			for _, r := range sf.Rows {
				if r.Line == line {
					out = append(out, r.Addr)
				}
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

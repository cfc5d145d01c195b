// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dwarf

import (
	"sort"
	"strings"

	"github.com/aclements/go-dwarf/dw"
)

// nameIndex is the capability set shared by the two accelerator
// indexes. Slot numbering is index-specific; invalid slots are empty
// hash-table cells.
type nameIndex interface {
	symbolNameCount() int
	symbolSlotInvalid(i int) bool
	symbolName(i int) string
	symbolUnits(i int) []*Unit
}

// detectIndex looks for an accelerator index, preferring the DWARF v5
// .debug_names over .gdb_index.
func (d *Data) detectIndex() error {
	ni, err := d.readDebugNames()
	if err != nil {
		return err
	}
	if ni != nil {
		d.index = ni
		return nil
	}
	gi, err := d.readGdbIndex()
	if err != nil {
		return err
	}
	if gi != nil {
		d.index = gi
	}
	return nil
}

// A componentEntry points at one component of one indexed name:
// for "A::B::C", entries exist at offsets 0, 3 and 6.
type componentEntry struct {
	sym int // index slot
	off int // byte offset of the component in the slot's name
}

// componentTable is the sorted name-component vector enabling
// binary-search completion over qualified names.
type componentTable struct {
	idx           nameIndex
	entries       []componentEntry
	caseSensitive bool
}

// tail returns the substring entry e points at.
func (ct *componentTable) tail(e componentEntry) string {
	return ct.idx.symbolName(e.sym)[e.off:]
}

func (ct *componentTable) fold(s string) string {
	if ct.caseSensitive {
		return s
	}
	return strings.ToLower(s)
}

// buildComponentTable splits every canonical name on "::" (C++, D,
// Rust) and on "__" (Ada encoded names) and sorts the resulting
// component vector. The table is shared across languages; entries
// produced by a "__" split only satisfy Ada lookups.
func buildComponentTable(idx nameIndex, caseSensitive bool) *componentTable {
	ct := &componentTable{idx: idx, caseSensitive: caseSensitive}
	n := idx.symbolNameCount()
	for i := 0; i < n; i++ {
		if idx.symbolSlotInvalid(i) {
			continue
		}
		name := idx.symbolName(i)
		ct.entries = append(ct.entries, componentEntry{i, 0})
		// Template arguments and parameter lists never contribute
		// components; stop splitting at their open brackets.
		limit := len(name)
		if j := strings.IndexAny(name, "<("); j >= 0 {
			limit = j
		}
		for j := 0; j+1 < limit; j++ {
			if name[j] == ':' && name[j+1] == ':' || name[j] == '_' && name[j+1] == '_' {
				if j+2 < limit {
					ct.entries = append(ct.entries, componentEntry{i, j + 2})
				}
				j++
			}
		}
	}
	sort.Slice(ct.entries, func(i, j int) bool {
		a, b := ct.fold(ct.tail(ct.entries[i])), ct.fold(ct.tail(ct.entries[j]))
		if a != b {
			return a < b
		}
		return ct.entries[i].sym < ct.entries[j].sym
	})
	return ct
}

// incrementName computes the exclusive upper bound for completion
// lookups: the query with its last byte incremented, carrying 0xff
// bytes ("func\xff" becomes "fund"). It returns ok=false when every
// byte is 0xff, meaning the bound is the end of the table.
func incrementName(q string) (string, bool) {
	b := []byte(q)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] != 0xff {
			b[i]++
			return string(b[:i+1]), true
		}
	}
	return "", false
}

// lookup returns the index slots whose names contain a component
// matching q. In completion mode a component only needs to start
// with q. ada widens exact matching to the "__" encoded-name
// separator; without it a C symbol like "foo__bar" is a single
// component.
func (ct *componentTable) lookup(q string, completion, ada bool) []int {
	fq := ct.fold(q)
	lower := sort.Search(len(ct.entries), func(i int) bool {
		return ct.fold(ct.tail(ct.entries[i])) >= fq
	})
	upper := len(ct.entries)
	if completion {
		if bound, ok := incrementName(fq); ok {
			upper = sort.Search(len(ct.entries), func(i int) bool {
				return ct.fold(ct.tail(ct.entries[i])) >= bound
			})
		}
	} else {
		// Exact component match: the candidates are the contiguous
		// run of tails starting with q.
		upper = lower + sort.Search(len(ct.entries)-lower, func(i int) bool {
			return !strings.HasPrefix(ct.fold(ct.tail(ct.entries[lower+i])), fq)
		})
	}

	var syms []int
	for _, e := range ct.entries[lower:upper] {
		t := ct.fold(ct.tail(e))
		if completion {
			if !strings.HasPrefix(t, fq) {
				continue
			}
		} else {
			if !componentMatches(t, fq, ada) {
				continue
			}
			if !ada && e.off >= 2 && ct.idx.symbolName(e.sym)[e.off-2:e.off] == "__" {
				continue
			}
		}
		syms = append(syms, e.sym)
	}
	// Deduplicate by sorting.
	sort.Ints(syms)
	out := syms[:0]
	for i, s := range syms {
		if i == 0 || s != syms[i-1] {
			out = append(out, s)
		}
	}
	return out
}

// componentMatches reports whether tail t is an exact match for
// component q: equal, or q followed by a qualifier separator,
// template bracket, or parameter list. "__" counts as a separator
// only for Ada.
func componentMatches(t, q string, ada bool) bool {
	if !strings.HasPrefix(t, q) {
		return false
	}
	rest := t[len(q):]
	if rest == "" {
		return true
	}
	if ada && strings.HasPrefix(rest, "__") {
		return true
	}
	return strings.HasPrefix(rest, "::") || rest[0] == '<' || rest[0] == '('
}

// ensureComponents builds the name-component table on first use.
func (d *Data) ensureComponents() *componentTable {
	if d.components == nil && d.index != nil {
		d.components = buildComponentTable(d.index, true)
	}
	return d.components
}

// adaLang reports whether lang uses GNAT "__" encoded names.
func adaLang(lang dw.Lang) bool {
	return lang == dw.LangAda83 || lang == dw.LangAda95
}

// caseSensitiveLang reports whether lang compares identifiers
// case-sensitively.
func caseSensitiveLang(lang dw.Lang) bool {
	switch lang {
	case dw.LangFortran77, dw.LangFortran90, dw.LangFortran95,
		dw.LangFortran03, dw.LangFortran08,
		dw.LangAda83, dw.LangAda95:
		return false
	}
	return true
}

// LookupName returns the units that may define a symbol whose
// search name matches name; completion selects prefix matching over
// the trailing component. With an accelerator index the candidate
// set comes from the index; otherwise every unit is a candidate and
// the caller is expected to have built partial symbols.
func (d *Data) LookupName(name string, completion bool, lang dw.Lang) []*Unit {
	if d.index == nil {
		return d.units
	}
	// Fast path: whole-name probe through the on-disk hash.
	if !completion {
		if gi, ok := d.index.(*gdbIndex); ok {
			if slot := gi.lookup(name, !caseSensitiveLang(lang)); slot >= 0 {
				return gi.symbolUnits(slot)
			}
		}
		if ni, ok := d.index.(*debugNames); ok {
			if i := ni.lookupName(name); i >= 0 {
				return ni.symbolUnits(i)
			}
		}
	}
	ct := d.ensureComponents()
	if ct == nil {
		return nil
	}
	var out []*Unit
	seen := make(map[*Unit]bool)
	for _, sym := range ct.lookup(name, completion, adaLang(lang)) {
		for _, u := range d.index.symbolUnits(sym) {
			if !seen[u] {
				seen[u] = true
				out = append(out, u)
			}
		}
	}
	return out
}

// CompleteName returns the canonical index names with a component
// completing q.
func (d *Data) CompleteName(q string) []string {
	ct := d.ensureComponents()
	if ct == nil {
		return nil
	}
	var names []string
	seen := make(map[string]bool)
	for _, sym := range ct.lookup(q, true, true) {
		n := d.index.symbolName(sym)
		if !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names
}

// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package obj

import (
	"debug/elf"
	"sort"
)

// A MinSym is one minimal (linker-level) symbol. Minimal symbols back
// two DWARF-level operations: resolving LocUnresolved symbols by
// linkage name, and detecting executable-side copies of shared-object
// data (copy relocations).
type MinSym struct {
	Name string
	Addr uint64
	Size uint64
	// Code marks text symbols; the rest are data.
	Code   bool
	Global bool
	// Dynamic marks symbols from .dynsym only.
	Dynamic bool
	// SizeSynthesized marks sizes assigned by the next-symbol
	// heuristic rather than the symbol table.
	SizeSynthesized bool
}

// MinimalSymbols returns the object's minimal symbols sorted by
// address. The static and dynamic tables are merged, preferring the
// static entry when both name an address.
func (f *File) MinimalSymbols() []MinSym {
	f.elf.symsOnce.Do(func() {
		f.elf.minSyms = f.elf.loadMinSyms()
	})
	return f.elf.minSyms
}

// MinSymByName returns the first minimal symbol with the given name.
func (f *File) MinSymByName(name string) (MinSym, bool) {
	for _, s := range f.MinimalSymbols() {
		if s.Name == name {
			return s, true
		}
	}
	return MinSym{}, false
}

// MinSymByAddr returns the minimal symbol covering addr.
func (f *File) MinSymByAddr(addr uint64) (MinSym, bool) {
	syms := f.MinimalSymbols()
	i := sort.Search(len(syms), func(i int) bool { return syms[i].Addr > addr }) - 1
	if i < 0 {
		return MinSym{}, false
	}
	s := syms[i]
	if s.Size != 0 && addr >= s.Addr+s.Size {
		return MinSym{}, false
	}
	return s, true
}

func (f *elfFile) loadMinSyms() []MinSym {
	var out []MinSym
	seen := make(map[uint64]map[string]bool)
	add := func(syms []elf.Symbol, dynamic bool) {
		for _, s := range syms {
			if s.Name == "" || elf.ST_TYPE(s.Info) == elf.STT_SECTION ||
				elf.ST_TYPE(s.Info) == elf.STT_FILE || elf.ST_TYPE(s.Info) == elf.STT_TLS {
				continue
			}
			if s.Section == elf.SHN_UNDEF {
				continue
			}
			if seen[s.Value][s.Name] {
				continue
			}
			if seen[s.Value] == nil {
				seen[s.Value] = make(map[string]bool)
			}
			seen[s.Value][s.Name] = true
			out = append(out, MinSym{
				Name:    s.Name,
				Addr:    s.Value,
				Size:    s.Size,
				Code:    elf.ST_TYPE(s.Info) == elf.STT_FUNC,
				Global:  elf.ST_BIND(s.Info) != elf.STB_LOCAL,
				Dynamic: dynamic,
			})
		}
	}
	if syms, err := f.f.Symbols(); err == nil {
		add(syms, false)
	}
	if syms, err := f.f.DynamicSymbols(); err == nil {
		add(syms, true)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Addr != out[j].Addr {
			return out[i].Addr < out[j].Addr
		}
		return out[i].Name < out[j].Name
	})
	synthesizeSizes(out)
	return out
}

// synthesizeSizes assigns sizes to zero-sized symbols using the next
// symbol's address. Groups of aliases at one address all receive the
// group's size.
func synthesizeSizes(syms []MinSym) {
	for start := 0; start < len(syms); {
		end := start + 1
		anyZero := syms[start].Size == 0
		for end < len(syms) && syms[end].Addr == syms[start].Addr {
			if syms[end].Size == 0 {
				anyZero = true
			}
			end++
		}
		if anyZero && end < len(syms) {
			size := syms[end].Addr - syms[start].Addr
			for i := start; i < end; i++ {
				if syms[i].Size == 0 {
					syms[i].Size = size
					syms[i].SizeSynthesized = true
				}
			}
		}
		start = end
	}
}

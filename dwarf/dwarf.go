// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package dwarf reads DWARF v2–v5 debugging information from the
// sections of an object file and materializes compilation units, DIE
// trees, types, and symbols into a caller-provided sink.
//
// The entry point is New, which builds the unit list and detects any
// accelerator index. Lookups then drive lazy expansion of individual
// units through a driver queue and an age-based unit cache.
//
// The package is not safe for concurrent use: all access to a Data
// must come from a single goroutine (the reader is structured around
// recursive re-entry, not parallelism).
package dwarf

import (
	"encoding/binary"
	"sort"

	"github.com/aclements/go-dwarf/arch"
	"github.com/aclements/go-dwarf/internal/addrmap"
)

// Data is the per-object DWARF reading context. It owns the unit
// list, the caches, the accelerator index, and the driver queue.
type Data struct {
	prov  SectionProvider
	arch  *arch.Adapter
	sink  SymbolSink
	order binary.ByteOrder

	// ObjName is the name of the object file, used in diagnostics
	// and to locate a DWP package.
	ObjName string

	// Complaint, if non-nil, receives non-fatal diagnostics.
	Complaint func(msg string)

	// Quit, if non-nil, is polled during long scans; returning true
	// aborts the current unit with errQuit.
	Quit func() bool

	// MaxCacheAge is the number of top-level loads a unit's DIE tree
	// survives without use before it is discarded.
	MaxCacheAge int

	// UseDeprecatedIndexSections accepts .gdb_index versions 4 and 5,
	// which lack TU support and use the older hash.
	UseDeprecatedIndexSections bool

	// CheckPhysname recomputes C++ physical names eagerly instead of
	// deferring them to the end of the full-symbol pass.
	CheckPhysname bool

	// units is sorted by (isDWZ, off). Units from the DWZ alt file
	// follow all main-file units.
	units []*Unit

	// typeUnits maps a type signature to its unit.
	typeUnits map[uint64]*Unit

	// abbrevCache caches parsed abbrev tables by section offset.
	abbrevCache map[abbrevKey]abbrevTable

	// dieTypes is the (unit, DIE offset) → type hash. A type, once
	// installed, is never replaced.
	dieTypes map[dieKey]*Type

	// addrMap maps PCs to units, built by the partial pass or from
	// .debug_aranges.
	addrMap addrmap.Map

	// alt is the DWZ supplementary file, or nil.
	alt SectionProvider

	// dwp and dwpTU are the parsed DWP package indexes (CUs and
	// type units), or nil.
	dwp   *dwpFile
	dwpTU *dwpFile

	// dwos caches opened DWO files by name.
	dwos map[string]*dwoFile

	// index is the accelerator index, if the object carries one.
	index nameIndex
	// components is the lazily built name-component table.
	components *componentTable

	queue    []queueItem
	draining bool

	// clock is the LRU counter for the unit cache, incremented on
	// every unit access.
	clock int

	// justRead collects units expanded by the current drain so their
	// include lists can be back-filled afterward.
	justRead []*Unit
}

// dieKey identifies a DIE across units.
type dieKey struct {
	u   *Unit
	off uint64
}

// New builds a reading context over prov. It parses unit headers from
// .debug_info (and .debug_types), locates the DWZ alt file if the
// object refers to one, and detects an accelerator index. No DIE
// trees are materialized.
func New(prov SectionProvider, ad *arch.Adapter, sink SymbolSink) (*Data, error) {
	if ad == nil {
		ad = arch.Default
	}
	d := &Data{
		prov:        prov,
		arch:        ad,
		sink:        sink,
		order:       prov.SectionEndian(),
		MaxCacheAge: 5,
		abbrevCache: make(map[abbrevKey]abbrevTable),
		dieTypes:    make(map[dieKey]*Type),
		typeUnits:   make(map[uint64]*Unit),
		dwos:        make(map[string]*dwoFile),
	}
	if err := d.buildUnitList(); err != nil {
		return nil, err
	}
	if err := d.detectIndex(); err != nil {
		// A broken index is not fatal; fall back to partial symbols.
		d.complainf("ignoring accelerator index: %v", err)
		d.index = nil
	}
	return d, nil
}

// Arch returns the architecture adapter d reads with.
func (d *Data) Arch() *arch.Adapter { return d.arch }

// Units returns the unit list, sorted by (isDWZ, section, offset).
// The caller must not modify the returned slice.
func (d *Data) Units() []*Unit { return d.units }

// HasIndex reports whether the object carries a usable accelerator
// index (.gdb_index or .debug_names).
func (d *Data) HasIndex() bool { return d.index != nil }

// FindUnit locates the unit containing the .debug_info offset off.
// Units in .debug_types are never returned: they have their own
// offset space and are only reachable by signature. It returns nil if
// off is not inside any unit.
func (d *Data) FindUnit(off uint64, isDWZ bool) *Unit {
	i := sort.Search(len(d.units), func(i int) bool {
		u := d.units[i]
		if u.isDWZ != isDWZ {
			return u.isDWZ
		}
		if u.inTypes {
			return true
		}
		return u.off > off
	}) - 1
	if i < 0 {
		return nil
	}
	u := d.units[i]
	if u.isDWZ != isDWZ || u.inTypes || off >= u.endOff {
		return nil
	}
	return u
}

// AddrToUnit returns the unit covering pc, consulting the PC→unit
// map built by the partial pass (or .debug_aranges).
func (d *Data) AddrToUnit(pc uint64) *Unit {
	u, _ := d.addrMap.Find(pc).(*Unit)
	return u
}

// sectionBytes returns the named section of the main file.
func (d *Data) sectionBytes(id SectionID) []byte {
	return d.prov.SectionBytes(id)
}

// altSectionBytes returns the named section of the DWZ alt file, or
// nil if there is no alt file.
func (d *Data) altSectionBytes(id SectionID) []byte {
	if d.alt == nil {
		return nil
	}
	return d.alt.SectionBytes(id)
}

// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dwarf

import (
	"encoding/binary"
	"encoding/hex"
	"sort"
)

// Symbol kinds packed into .gdb_index CU-vector entries.
const (
	gdbKindNone     = 0
	gdbKindType     = 1
	gdbKindVariable = 2
	gdbKindFunction = 3
	gdbKindOther    = 4
)

// cuVecEntry packs (kind:3, static:1, cu_index:28) for index
// versions 7 and up.
type cuVecEntry uint32

func makeCuVecEntry(kind int, static bool, cuIndex int) cuVecEntry {
	v := cuVecEntry(cuIndex) & (1<<28 - 1)
	if static {
		v |= 1 << 28
	}
	v |= cuVecEntry(kind) << 29
	return v
}

func (e cuVecEntry) cuIndex(version int) int {
	if version < 7 {
		return int(e)
	}
	return int(e & (1<<28 - 1))
}

func (e cuVecEntry) kind() int    { return int(e >> 29) }
func (e cuVecEntry) static() bool { return e&(1<<28) != 0 }

// gdbIndex is a parsed .gdb_index section: the on-disk hash of symbol
// names to CU vectors, plus the CU and TU lists and address table.
type gdbIndex struct {
	d       *Data
	version int

	units []*Unit // CU list order, then TU list order

	// slots is the on-disk open-addressed symbol table: pairs of
	// (name offset, cu-vector offset) into the constant pool.
	slots []gdbSymSlot
	pool  []byte

	// addrs is the parsed address table.
	addrs []gdbAddrEntry
}

type gdbSymSlot struct {
	nameOff uint32
	vecOff  uint32
}

type gdbAddrEntry struct {
	lo, hi  uint64
	cuIndex int
}

// gdbIndexHash is the .gdb_index symbol hash. Versions 5 and later
// fold case; version 4 did not, except that case-insensitive
// languages always use the folded form.
func gdbIndexHash(name string, fold bool) uint32 {
	var r uint32
	for i := 0; i < len(name); i++ {
		c := name[i]
		if fold && 'A' <= c && c <= 'Z' {
			c += 'a' - 'A'
		}
		r = r*67 + uint32(c) - 113
	}
	return r
}

// readGdbIndex parses the .gdb_index section, or returns nil if the
// object has none.
func (d *Data) readGdbIndex() (*gdbIndex, error) {
	data := d.sectionBytes(SecGdbIndex)
	if len(data) == 0 {
		return nil, nil
	}
	b := makeBuf(binary.LittleEndian, ".gdb_index", 0, data)
	gi := &gdbIndex{d: d}
	gi.version = int(b.uint32())
	switch {
	case gi.version < 4 || gi.version > 8:
		return nil, errf(".gdb_index", 0, "unsupported version %d", gi.version)
	case gi.version < 6 && !d.UseDeprecatedIndexSections:
		return nil, errf(".gdb_index", 0, "deprecated version %d (set UseDeprecatedIndexSections to accept)", gi.version)
	}
	cuListOff := uint64(b.uint32())
	tuListOff := uint64(b.uint32())
	addrOff := uint64(b.uint32())
	symOff := uint64(b.uint32())
	poolOff := uint64(b.uint32())
	if b.err != nil {
		return nil, b.err
	}
	if poolOff > uint64(len(data)) || cuListOff > tuListOff || tuListOff > addrOff || addrOff > symOff || symOff > poolOff {
		return nil, errf(".gdb_index", 0, "malformed header offsets")
	}

	// CU list: (sect_off, length) u64 pairs, in .debug_info order.
	cb := makeBuf(binary.LittleEndian, ".gdb_index", cuListOff, data[cuListOff:tuListOff])
	for cb.remaining() >= 16 {
		off := cb.uint64()
		cb.uint64() // length; the unit header is authoritative
		u := d.FindUnit(off, false)
		if u == nil {
			return nil, errf(".gdb_index", cuListOff, "CU list names unit 0x%x not in .debug_info", off)
		}
		gi.units = append(gi.units, u)
	}

	// TU list: (sect_off, type_off, signature) u64 triples.
	tb := makeBuf(binary.LittleEndian, ".gdb_index", tuListOff, data[tuListOff:addrOff])
	for tb.remaining() >= 24 {
		off := tb.uint64()
		tb.uint64() // type DIE offset; the unit header is authoritative
		sig := tb.uint64()
		u := d.FindUnit(off, false)
		if u == nil {
			u = d.typeUnits[sig]
		}
		if u == nil {
			return nil, errf(".gdb_index", tuListOff, "TU list names unknown unit 0x%x", off)
		}
		gi.units = append(gi.units, u)
	}

	// Address table: (lo, hi, cu_index).
	ab := makeBuf(binary.LittleEndian, ".gdb_index", addrOff, data[addrOff:symOff])
	for ab.remaining() >= 20 {
		e := gdbAddrEntry{lo: ab.uint64(), hi: ab.uint64(), cuIndex: int(ab.uint32())}
		if e.cuIndex >= len(gi.units) {
			return nil, errf(".gdb_index", addrOff, "address table CU index %d out of range", e.cuIndex)
		}
		gi.addrs = append(gi.addrs, e)
	}

	// Symbol table: power-of-two array of (name, vec) offset pairs.
	sb := makeBuf(binary.LittleEndian, ".gdb_index", symOff, data[symOff:poolOff])
	n := sb.remaining() / 8
	if n&(n-1) != 0 {
		return nil, errf(".gdb_index", symOff, "symbol table slot count %d is not a power of two", n)
	}
	gi.slots = make([]gdbSymSlot, n)
	for i := range gi.slots {
		gi.slots[i] = gdbSymSlot{sb.uint32(), sb.uint32()}
	}
	gi.pool = data[poolOff:]
	if sb.err != nil {
		return nil, sb.err
	}
	return gi, nil
}

// poolString reads the NUL-terminated name at off in the constant pool.
func (gi *gdbIndex) poolString(off uint32) string {
	p := gi.pool
	if uint64(off) >= uint64(len(p)) {
		return ""
	}
	end := off
	for end < uint32(len(p)) && p[end] != 0 {
		end++
	}
	return string(p[off:end])
}

// poolVec reads the CU vector at off in the constant pool.
func (gi *gdbIndex) poolVec(off uint32) []cuVecEntry {
	if uint64(off)+4 > uint64(len(gi.pool)) {
		return nil
	}
	b := makeBuf(binary.LittleEndian, ".gdb_index", uint64(off), gi.pool[off:])
	n := int(b.uint32())
	out := make([]cuVecEntry, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, cuVecEntry(b.uint32()))
		if b.err != nil {
			return nil
		}
	}
	return out
}

// lookup probes the on-disk hash for name and returns the matching
// slot, or -1. fold selects the case-folded hash used by index
// versions 5+ and by case-insensitive languages under version 4.
func (gi *gdbIndex) lookup(name string, fold bool) int {
	if len(gi.slots) == 0 {
		return -1
	}
	if gi.version >= 5 {
		fold = true
	}
	mask := uint32(len(gi.slots) - 1)
	hash := gdbIndexHash(name, fold)
	slot := hash & mask
	step := ((hash * 17) & mask) | 1
	// A corrupt index may have no empty slot; the odd step visits
	// every slot of the power-of-two table exactly once.
	for range gi.slots {
		s := gi.slots[slot]
		if s.nameOff == 0 && s.vecOff == 0 {
			return -1
		}
		if gi.poolString(s.nameOff) == name {
			return int(slot)
		}
		slot = (slot + step) & mask
	}
	return -1
}

// nameIndex capability set (shared with .debug_names).

func (gi *gdbIndex) symbolNameCount() int { return len(gi.slots) }

func (gi *gdbIndex) symbolSlotInvalid(i int) bool {
	s := gi.slots[i]
	return s.nameOff == 0 && s.vecOff == 0
}

func (gi *gdbIndex) symbolName(i int) string {
	return gi.poolString(gi.slots[i].nameOff)
}

func (gi *gdbIndex) symbolUnits(i int) []*Unit {
	vec := gi.poolVec(gi.slots[i].vecOff)
	var out []*Unit
	seen := make(map[int]bool)
	for _, e := range vec {
		// The gold linker emitted duplicate entries for globals;
		// report each CU at most once per vector.
		ci := e.cuIndex(gi.version)
		if ci < len(gi.units) && !seen[ci] {
			seen[ci] = true
			out = append(out, gi.units[ci])
		}
	}
	return out
}

// IndexSymbol is one symbol fed to the .gdb_index writer.
type IndexSymbol struct {
	Name    string
	Kind    int // gdbKind*
	Static  bool
	CUIndex int
}

// WriteGdbIndex emits a version-8 .gdb_index image for the given
// units, address ranges, and symbols. The output is a canonical
// function of its inputs: parsing the result and re-emitting it
// reproduces the same bytes.
//
// Embedders persisting the image should key the cache file by the
// object's GNU build ID (obj.File.BuildID) via IndexCacheName, so a
// rebuilt object never reads a stale index.
func WriteGdbIndex(cus []*Unit, tus []*Unit, addrs []AddrRange, syms []IndexSymbol) []byte {
	le := binary.LittleEndian

	// Group symbols by name, preserving first-seen kind order.
	byName := make(map[string][]IndexSymbol)
	var names []string
	for _, s := range syms {
		if _, ok := byName[s.Name]; !ok {
			names = append(names, s.Name)
		}
		byName[s.Name] = append(byName[s.Name], s)
	}
	sort.Strings(names)

	// Build the constant pool: CU vectors first (in sorted-name
	// order), then the name strings.
	var pool []byte
	vecOff := make(map[string]uint32)
	for _, name := range names {
		vecOff[name] = uint32(len(pool))
		list := byName[name]
		var tmp [4]byte
		le.PutUint32(tmp[:], uint32(len(list)))
		pool = append(pool, tmp[:]...)
		for _, s := range list {
			le.PutUint32(tmp[:], uint32(makeCuVecEntry(s.Kind, s.Static, s.CUIndex)))
			pool = append(pool, tmp[:]...)
		}
	}
	nameOff := make(map[string]uint32)
	for _, name := range names {
		nameOff[name] = uint32(len(pool))
		pool = append(pool, name...)
		pool = append(pool, 0)
	}

	// Open-addressed symbol table at under 75% load.
	slots := 16
	for slots*3 < len(names)*4 {
		slots *= 2
	}
	table := make([]gdbSymSlot, slots)
	mask := uint32(slots - 1)
	for _, name := range names {
		hash := gdbIndexHash(name, true)
		slot := hash & mask
		step := ((hash * 17) & mask) | 1
		for table[slot] != (gdbSymSlot{}) {
			slot = (slot + step) & mask
		}
		// Distinguish a real entry from an empty slot even for the
		// name at pool offset 0 by always placing vectors first in
		// the pool: a vector offset is only 0 for the first name,
		// whose name offset is nonzero.
		table[slot] = gdbSymSlot{nameOff[name], vecOff[name]}
	}

	var out []byte
	put32 := func(v uint32) {
		var tmp [4]byte
		le.PutUint32(tmp[:], v)
		out = append(out, tmp[:]...)
	}
	put64 := func(v uint64) {
		var tmp [8]byte
		le.PutUint64(tmp[:], v)
		out = append(out, tmp[:]...)
	}

	headerSize := 6 * 4
	cuListOff := headerSize
	tuListOff := cuListOff + 16*len(cus)
	addrOff := tuListOff + 24*len(tus)
	symOff := addrOff + 20*len(addrs)
	poolOff := symOff + 8*slots

	put32(8) // version
	put32(uint32(cuListOff))
	put32(uint32(tuListOff))
	put32(uint32(addrOff))
	put32(uint32(symOff))
	put32(uint32(poolOff))
	for _, u := range cus {
		put64(u.off)
		put64(u.endOff - u.off)
	}
	for _, u := range tus {
		put64(u.off)
		put64(u.typeOff - u.off)
		put64(u.signature)
	}
	for _, a := range addrs {
		put64(a.Lo)
		put64(a.Hi)
		put32(uint32(a.CUIndex))
	}
	for _, s := range table {
		put32(s.nameOff)
		put32(s.vecOff)
	}
	return append(out, pool...)
}

// AddrRange is one address-table row for the index writer.
type AddrRange struct {
	Lo, Hi  uint64
	CUIndex int
}

// IndexCacheName returns the cache file name for a persisted index,
// keyed by the object's GNU build ID the way the GDB index cache
// names its entries. It returns "" for an empty build ID; objects
// without one cannot be cached safely.
func IndexCacheName(buildID []byte) string {
	if len(buildID) == 0 {
		return ""
	}
	return hex.EncodeToString(buildID) + ".gdb-index"
}

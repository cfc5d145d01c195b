// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package addrmap maps address ranges to values.
//
// The map is built up front from a batch of [low, high) insertions and
// then queried by address. Lookup is a binary search over the sorted
// range boundaries.
package addrmap

import "sort"

// A Map maps [low, high) address ranges to values.
type Map struct {
	ranges []Range
	// maxHigh[i] is the maximum High over ranges[0..i], so lookups
	// can stop walking backward as soon as no earlier range can
	// cover the address.
	maxHigh []uint64
	sorted  bool
}

// A Range is one [Low, High) interval and its value.
type Range struct {
	Low, High uint64
	Value     interface{}
}

// Insert adds the range [low, high) with the given value. Empty
// ranges are ignored.
func (m *Map) Insert(low, high uint64, value interface{}) {
	if low >= high {
		return
	}
	m.ranges = append(m.ranges, Range{low, high, value})
	m.sorted = false
}

func (m *Map) sort() {
	sort.Slice(m.ranges, func(i, j int) bool {
		if m.ranges[i].Low != m.ranges[j].Low {
			return m.ranges[i].Low < m.ranges[j].Low
		}
		return m.ranges[i].High < m.ranges[j].High
	})
	m.maxHigh = m.maxHigh[:0]
	var max uint64
	for _, r := range m.ranges {
		if r.High > max {
			max = r.High
		}
		m.maxHigh = append(m.maxHigh, max)
	}
	m.sorted = true
}

// Find returns the value of the range containing addr, or nil. If
// ranges overlap, the one with the greatest Low wins.
func (m *Map) Find(addr uint64) interface{} {
	r, ok := m.FindRange(addr)
	if !ok {
		return nil
	}
	return r.Value
}

// FindRange returns the range containing addr.
func (m *Map) FindRange(addr uint64) (Range, bool) {
	if !m.sorted {
		m.sort()
	}
	i := sort.Search(len(m.ranges), func(i int) bool {
		return addr < m.ranges[i].Low
	}) - 1
	// Overlaps are rare (and diagnosed by the caller), so this loop
	// almost never takes more than one step.
	for ; i >= 0 && m.maxHigh[i] > addr; i-- {
		if addr < m.ranges[i].High {
			return m.ranges[i], true
		}
	}
	return Range{}, false
}

// Intersect returns some inserted range intersecting [low, high).
func (m *Map) Intersect(low, high uint64) (Range, bool) {
	if low >= high {
		return Range{}, false
	}
	if !m.sorted {
		m.sort()
	}
	i := sort.Search(len(m.ranges), func(i int) bool {
		return high <= m.ranges[i].Low
	}) - 1
	for ; i >= 0 && m.maxHigh[i] > low; i-- {
		if low < m.ranges[i].High && m.ranges[i].Low < high {
			return m.ranges[i], true
		}
	}
	return Range{}, false
}

// Overlaps calls f for every pair of inserted ranges that intersect.
// Used to diagnose CU address ranges that overlap.
func (m *Map) Overlaps(f func(a, b Range)) {
	if !m.sorted {
		m.sort()
	}
	for i := 1; i < len(m.ranges); i++ {
		if m.ranges[i].Low < m.ranges[i-1].High {
			f(m.ranges[i-1], m.ranges[i])
		}
	}
}

// Ranges returns the sorted ranges. The caller must not modify the
// returned slice.
func (m *Map) Ranges() []Range {
	if !m.sorted {
		m.sort()
	}
	return m.ranges
}

// Len returns the number of inserted ranges.
func (m *Map) Len() int { return len(m.ranges) }

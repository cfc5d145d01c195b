// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package addrmap

import "testing"

func TestFind(t *testing.T) {
	var m Map
	m.Insert(0x1000, 0x2000, "a")
	m.Insert(0x3000, 0x3800, "b")
	m.Insert(0x100, 0x200, "c")
	m.Insert(0x500, 0x500, "empty") // ignored

	tests := []struct {
		addr uint64
		want interface{}
	}{
		{0x1000, "a"},
		{0x1fff, "a"},
		{0x2000, nil},
		{0x3000, "b"},
		{0x180, "c"},
		{0x500, nil},
		{0x0, nil},
		{0xffff, nil},
	}
	for _, tt := range tests {
		if got := m.Find(tt.addr); got != tt.want {
			t.Errorf("Find(0x%x) = %v, want %v", tt.addr, got, tt.want)
		}
	}
	if m.Len() != 3 {
		t.Errorf("Len = %d, want 3", m.Len())
	}
}

func TestFindRange(t *testing.T) {
	var m Map
	m.Insert(0x1000, 0x2000, 1)
	r, ok := m.FindRange(0x1234)
	if !ok || r != (Range{0x1000, 0x2000, 1}) {
		t.Errorf("FindRange(0x1234) = (%+v, %v)", r, ok)
	}
	if _, ok := m.FindRange(0x2000); ok {
		t.Errorf("FindRange(0x2000) hit past the end of the range")
	}
}

// Overlapping ranges resolve to the one starting latest.
func TestFindOverlap(t *testing.T) {
	var m Map
	m.Insert(0x1000, 0x5000, "outer")
	m.Insert(0x2000, 0x3000, "inner")

	tests := []struct {
		addr uint64
		want interface{}
	}{
		{0x1800, "outer"},
		{0x2800, "inner"},
		{0x3800, "outer"},
	}
	for _, tt := range tests {
		if got := m.Find(tt.addr); got != tt.want {
			t.Errorf("Find(0x%x) = %v, want %v", tt.addr, got, tt.want)
		}
	}
}

func TestIntersect(t *testing.T) {
	var m Map
	m.Insert(0x1000, 0x2000, 1)
	m.Insert(0x4000, 0x5000, 2)

	if r, ok := m.Intersect(0x1800, 0x4800); !ok || (r.Value != 1 && r.Value != 2) {
		t.Errorf("Intersect(0x1800, 0x4800) = (%+v, %v), want a hit", r, ok)
	}
	if r, ok := m.Intersect(0x2000, 0x4000); ok {
		t.Errorf("Intersect(0x2000, 0x4000) = %+v, want a miss", r)
	}
	if _, ok := m.Intersect(0x3000, 0x3000); ok {
		t.Errorf("Intersect accepted an empty query")
	}
	if r, ok := m.Intersect(0x4fff, 0x9000); !ok || r.Value != 2 {
		t.Errorf("Intersect(0x4fff, 0x9000) = (%+v, %v), want range 2", r, ok)
	}
}

func TestOverlaps(t *testing.T) {
	var m Map
	m.Insert(0x1000, 0x2000, 1)
	m.Insert(0x1800, 0x2800, 2)
	m.Insert(0x3000, 0x4000, 3)

	var n int
	m.Overlaps(func(a, b Range) {
		n++
		if a.Value != 1 || b.Value != 2 {
			t.Errorf("overlap pair = (%+v, %+v)", a, b)
		}
	})
	if n != 1 {
		t.Errorf("got %d overlap pairs, want 1", n)
	}
}

func TestRangesSorted(t *testing.T) {
	var m Map
	m.Insert(0x3000, 0x4000, 3)
	m.Insert(0x1000, 0x2000, 1)
	rs := m.Ranges()
	if len(rs) != 2 || rs[0].Low != 0x1000 || rs[1].Low != 0x3000 {
		t.Errorf("Ranges = %+v, want sorted by Low", rs)
	}
}

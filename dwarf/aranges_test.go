// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dwarf

import (
	"strings"
	"testing"
)

// buildAranges encodes one v2 .debug_aranges set for the unit at
// info offset 0, padded to the 16-byte tuple alignment.
func buildAranges(tuples [][2]uint64, badPad bool) []byte {
	var im image
	im.u32(0) // set length, patched below
	im.u16(2)
	im.u32(0) // info offset
	im.u8(8)  // address size
	im.u8(0)  // segment size
	for i := 0; i < 4; i++ {
		if badPad {
			im.u8(0xcc)
		} else {
			im.u8(0)
		}
	}
	for _, tu := range tuples {
		im.u64(tu[0])
		im.u64(tu[1])
	}
	im.u64(0)
	im.u64(0)
	im.patchU32(0, uint32(im.len()-4))
	return im.b
}

func TestReadAranges(t *testing.T) {
	prov, _ := buildFixtureSections()
	prov.secs[SecAranges] = buildAranges([][2]uint64{
		{0x1000, 0x200},
		{0x4000, 0}, // zero-size tuples are skipped
		{0x5000, 0x10},
	}, false)
	d := newFixtureData(t, prov, nil)

	if !d.ReadAranges() {
		t.Fatalf("ReadAranges found nothing")
	}
	u := d.Units()[0]
	for _, pc := range []uint64{0x1000, 0x11ff, 0x5008} {
		if got := d.AddrToUnit(pc); got != u {
			t.Errorf("AddrToUnit(0x%x) = %v, want the fixture unit", pc, got)
		}
	}
	for _, pc := range []uint64{0xfff, 0x1200, 0x4000, 0x5010} {
		if got := d.AddrToUnit(pc); got != nil {
			t.Errorf("AddrToUnit(0x%x) = %v, want nil", pc, got)
		}
	}
}

func TestReadArangesBadPadding(t *testing.T) {
	prov, _ := buildFixtureSections()
	prov.secs[SecAranges] = buildAranges([][2]uint64{{0x1000, 0x200}}, true)
	d := newFixtureData(t, prov, nil)

	var complaints []string
	d.Complaint = func(msg string) { complaints = append(complaints, msg) }
	if d.ReadAranges() {
		t.Errorf("ReadAranges accepted nonzero padding")
	}
	if len(complaints) != 1 || !strings.Contains(complaints[0], "padding") {
		t.Errorf("complaints = %q, want one about padding", complaints)
	}
}

func TestReadArangesMissing(t *testing.T) {
	prov, _ := buildFixtureSections()
	d := newFixtureData(t, prov, nil)
	if d.ReadAranges() {
		t.Errorf("ReadAranges = true with no section")
	}
}

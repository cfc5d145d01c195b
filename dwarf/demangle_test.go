// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dwarf

import "testing"

func TestDemangleDisplay(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"_ZN4chat6detail6BufferE", "chat::detail::Buffer"},
		{"_ZN3abc3fooEi", "abc::foo"},
		{"main", "main"},
		{"not_mangled__at_all", "not_mangled__at_all"},
	}
	for _, tt := range tests {
		if got := demangleDisplay(tt.in); got != tt.want {
			t.Errorf("demangleDisplay(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMethodQualifiers(t *testing.T) {
	tests := []struct {
		in             string
		cnst, volatile bool
		ref            int
	}{
		{"_ZN4chat4Room4joinEv", false, false, 0},
		{"_ZNK4chat4Room4nameEv", true, false, 0},
		{"_ZNVK1S1fEv", true, true, 0},
		{"_ZNR1S1fEv", false, false, 1},
		{"_ZNKO1S1fEv", true, false, 2},
		{"plain_function", false, false, 0},
	}
	for _, tt := range tests {
		cnst, volatile, ref := methodQualifiers(tt.in)
		if cnst != tt.cnst || volatile != tt.volatile || ref != tt.ref {
			t.Errorf("methodQualifiers(%q) = (%v, %v, %d), want (%v, %v, %d)",
				tt.in, cnst, volatile, ref, tt.cnst, tt.volatile, tt.ref)
		}
	}
}

// An unnamed struct reachable only through its linkage name takes the
// last component of the demangled form as its display name.
func TestUnnamedStructLinkageName(t *testing.T) {
	prov, offs := buildTypeFixture()
	d := newFixtureData(t, prov, nil)
	u := d.Units()[0]

	st := typeAt(t, u, offs.unnamed)
	if st.Code != TypeStruct || st.Name != "Buffer" || st.Size != 16 {
		t.Errorf("unnamed struct = (%v, %q, %d), want struct Buffer of size 16",
			st.Code, st.Name, st.Size)
	}
}

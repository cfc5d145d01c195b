// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dwarf

import (
	"strings"

	"github.com/ianlancetaylor/demangle"
)

// demangleName returns the source-level form of a mangled linkage
// name. Names that do not demangle (C, or already plain) come back
// unchanged.
func demangleName(ln string) string {
	return demangle.Filter(ln, demangle.NoClones)
}

// demangleDisplay is demangleName without parameter or
// template-argument lists. Use it where only the qualified name
// components matter, such as deriving a display name for an unnamed
// struct from its linkage name.
func demangleDisplay(ln string) string {
	return demangle.Filter(ln, demangle.NoParams, demangle.NoTemplateParams, demangle.NoClones)
}

// methodQualifiers recovers a method's trailing const/volatile/ref
// qualifiers by suffix inspection of the demangled signature. A
// method's DWARF type describes the bare function; the qualifiers
// survive only in the mangling.
func methodQualifiers(ln string) (cnst, volatile bool, ref int) {
	s := demangleName(ln)
	for {
		switch {
		case strings.HasSuffix(s, " &&"):
			ref = 2
			s = s[:len(s)-3]
		case strings.HasSuffix(s, " &"):
			ref = 1
			s = s[:len(s)-2]
		case strings.HasSuffix(s, " const"):
			cnst = true
			s = s[:len(s)-6]
		case strings.HasSuffix(s, " volatile"):
			volatile = true
			s = s[:len(s)-9]
		default:
			return
		}
	}
}

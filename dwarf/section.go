// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dwarf

import "encoding/binary"

// A SectionID names one of the DWARF sections the reader consumes.
type SectionID int

const (
	SecInfo SectionID = iota
	SecAbbrev
	SecLine
	SecLineStr
	SecStr
	SecStrOffsets
	SecAddr
	SecRanges
	SecRnglists
	SecLoc
	SecLoclists
	SecMacinfo
	SecMacro
	SecTypes
	SecAranges
	SecFrame
	SecEhFrame
	SecGdbIndex
	SecDebugNames
	SecCuIndex
	SecTuIndex

	numSections
)

// sectionNames maps a SectionID to its canonical ELF section name.
// Each section also has a ".z"-prefixed compressed synonym and a
// ".dwo" split-DWARF suffix form; providers are expected to
// normalize those to the flat payload.
var sectionNames = [numSections]string{
	SecInfo:       ".debug_info",
	SecAbbrev:     ".debug_abbrev",
	SecLine:       ".debug_line",
	SecLineStr:    ".debug_line_str",
	SecStr:        ".debug_str",
	SecStrOffsets: ".debug_str_offsets",
	SecAddr:       ".debug_addr",
	SecRanges:     ".debug_ranges",
	SecRnglists:   ".debug_rnglists",
	SecLoc:        ".debug_loc",
	SecLoclists:   ".debug_loclists",
	SecMacinfo:    ".debug_macinfo",
	SecMacro:      ".debug_macro",
	SecTypes:      ".debug_types",
	SecAranges:    ".debug_aranges",
	SecFrame:      ".debug_frame",
	SecEhFrame:    ".eh_frame",
	SecGdbIndex:   ".gdb_index",
	SecDebugNames: ".debug_names",
	SecCuIndex:    ".debug_cu_index",
	SecTuIndex:    ".debug_tu_index",
}

// SectionName returns the canonical name of id.
func SectionName(id SectionID) string { return sectionNames[id] }

// A SectionProvider supplies the raw bytes of an object's DWARF
// sections. Implementations return already-decompressed payloads;
// a missing section is a nil slice.
//
// A provider also resolves the companion files split and supplementary
// DWARF may refer to: DWO/DWP packages and a DWZ alt file.
type SectionProvider interface {
	// SectionBytes returns the flat payload of id, or nil if the
	// object has no such section.
	SectionBytes(id SectionID) []byte

	// SectionEndian returns the object's byte order.
	SectionEndian() binary.ByteOrder

	// HasSectionAtZero reports whether address 0 is inside a loaded
	// section, i.e. whether a zero address can be real code.
	HasSectionAtZero() bool

	// FindAlt locates the DWZ supplementary file identified by
	// buildID (with filename as a hint), or nil.
	FindAlt(buildID []byte, filename string) SectionProvider

	// FindDWO locates the split-DWARF file dwoName relative to
	// compDir, or nil.
	FindDWO(compDir, dwoName string) SectionProvider

	// FindDWP locates the DWP package for the named object, or nil.
	FindDWP(objName string) SectionProvider
}

// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package obj opens object files and serves their DWARF sections.
//
// A File is a dwarf.SectionProvider: it hands out flat section
// payloads (decompressing them if needed), resolves the companion
// files split and supplementary DWARF refer to, and exposes the
// object's minimal symbols for address-level fallbacks.
package obj

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/aclements/go-dwarf/arch"
	"github.com/aclements/go-dwarf/dwarf"
)

// Open opens the object file at path.
func Open(path string) (*File, error) {
	r, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	f, err := NewFile(r, path)
	if err != nil {
		r.Close()
		return nil, err
	}
	f.closer = r
	return f, nil
}

// NewFile attempts to open r as a known object file format. The name
// is used for diagnostics and to locate companion debug files.
func NewFile(r io.ReaderAt, name string) (*File, error) {
	isElf, f, err := openElf(r, name)
	if !isElf {
		return nil, fmt.Errorf("%s: unrecognized object file format", name)
	}
	return f, err
}

// A File is one opened object file.
type File struct {
	elf *elfFile

	// Name is the path the file was opened from.
	Name string

	// DebugDirs are the roots searched for separate debug files (DWO,
	// DWP, DWZ, debuglink). Nil means DefaultDebugDirs.
	DebugDirs []string

	closer io.Closer

	// companions holds opened DWO/DWP/alt files so they close with
	// their parent.
	companions []*File
}

// DefaultDebugDirs is the conventional search path for separate
// debug information.
var DefaultDebugDirs = []string{"/usr/lib/debug"}

var _ dwarf.SectionProvider = (*File)(nil)

// Close releases the file and every companion file opened through it.
func (f *File) Close() {
	for _, c := range f.companions {
		c.Close()
	}
	f.companions = nil
	f.elf.close()
	if f.closer != nil {
		f.closer.Close()
		f.closer = nil
	}
}

// Arch returns the architecture adapter for the object, or nil for an
// unsupported machine.
func (f *File) Arch() *arch.Adapter { return f.elf.arch }

// BuildID returns the GNU build ID note, or nil.
func (f *File) BuildID() []byte { return f.elf.buildID() }

// SectionBytes returns the flat payload of id. Compressed sections
// (SHF_COMPRESSED or .zdebug) are decompressed; a missing or
// malformed section is nil.
func (f *File) SectionBytes(id dwarf.SectionID) []byte {
	return f.elf.sectionPayload(id)
}

// SectionEndian returns the object's byte order.
func (f *File) SectionEndian() binary.ByteOrder { return f.elf.f.ByteOrder }

// HasSectionAtZero reports whether address zero falls inside a loaded
// section, meaning a zero address in a line table can be real code.
func (f *File) HasSectionAtZero() bool { return f.elf.hasZero }

// FindAlt locates the DWZ supplementary file. The object's
// .gnu_debugaltlink section supplies the file name and expected build
// ID; non-zero arguments override it.
func (f *File) FindAlt(buildID []byte, filename string) dwarf.SectionProvider {
	name, linkID := f.elf.debugAltLink()
	if filename != "" {
		name = filename
	}
	if buildID == nil {
		buildID = linkID
	}
	if name != "" {
		if !filepath.IsAbs(name) {
			name = filepath.Join(filepath.Dir(f.Name), name)
		}
		if alt := f.openCompanion(name); alt != nil {
			return alt
		}
	}
	if alt := f.openByBuildID(buildID); alt != nil {
		return alt
	}
	return nil
}

// FindDWO locates the split-DWARF file dwoName, searching the
// compilation directory and then the debug directories.
func (f *File) FindDWO(compDir, dwoName string) dwarf.SectionProvider {
	if dwoName == "" {
		return nil
	}
	var paths []string
	if filepath.IsAbs(dwoName) {
		paths = []string{dwoName}
	} else {
		paths = []string{filepath.Join(compDir, dwoName)}
		for _, dir := range f.searchDirs() {
			paths = append(paths, filepath.Join(dir, dwoName))
		}
	}
	for _, p := range paths {
		if dwo := f.openCompanion(p); dwo != nil {
			return dwo
		}
	}
	return nil
}

// FindDWP locates the DWP package for objName (objName.dwp next to
// the object).
func (f *File) FindDWP(objName string) dwarf.SectionProvider {
	if objName == "" {
		objName = f.Name
	}
	if dwp := f.openCompanion(objName + ".dwp"); dwp != nil {
		return dwp
	}
	return nil
}

func (f *File) searchDirs() []string {
	if f.DebugDirs != nil {
		return f.DebugDirs
	}
	return DefaultDebugDirs
}

// openCompanion opens path as a companion object, tying its lifetime
// to f. Returns nil when the file is missing or unreadable; companion
// lookup is always best-effort.
func (f *File) openCompanion(path string) *File {
	if path == "" {
		return nil
	}
	c, err := Open(path)
	if err != nil {
		return nil
	}
	f.companions = append(f.companions, c)
	return c
}

// openByBuildID looks a file up in the .build-id trees of the debug
// directories: <dir>/.build-id/xx/yyyy....debug.
func (f *File) openByBuildID(buildID []byte) *File {
	if len(buildID) < 2 {
		return nil
	}
	hex := fmt.Sprintf("%x", buildID)
	for _, dir := range f.searchDirs() {
		p := filepath.Join(dir, ".build-id", hex[:2], hex[2:]+".debug")
		if c := f.openCompanion(p); c != nil {
			return c
		}
	}
	return nil
}

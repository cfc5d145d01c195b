// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package obj

import (
	"bytes"
	"compress/zlib"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"strings"
	"sync"
	"syscall"

	"github.com/aclements/go-dwarf/arch"
	"github.com/aclements/go-dwarf/dwarf"
)

type elfFile struct {
	f    *elf.File
	name string
	arch *arch.Adapter

	// fd is the mmap-able FD of this file, or ^0.
	fd uintptr
	// pageSize is the system page size for mmapping.
	pageSize uint64

	// hasZero is true when address 0 is inside a loaded section.
	hasZero bool

	// dwarfSecs maps a DWARF section ID to its backing ELF section,
	// populated once at open from the recognized name forms.
	dwarfSecs map[dwarf.SectionID]*elfSection

	noteOnce sync.Once
	noteID   []byte

	symsOnce sync.Once
	minSyms  []MinSym
}

var elfArches = map[elf.Machine]*arch.Adapter{
	elf.EM_X86_64: arch.AMD64,
	elf.EM_386:    arch.I386,
	elf.EM_MIPS:   arch.MIPS,
}

// elfSectionID matches an ELF section name against the DWARF sections
// the reader consumes, accepting the plain, .dwo-suffixed, and
// .zdebug-compressed name forms.
func elfSectionID(name string) (id dwarf.SectionID, zdebug, ok bool) {
	base := strings.TrimSuffix(name, ".dwo")
	if strings.HasPrefix(base, ".zdebug_") {
		zdebug = true
		base = ".debug_" + base[len(".zdebug_"):]
	}
	for id := dwarf.SecInfo; id <= dwarf.SecTuIndex; id++ {
		if dwarf.SectionName(id) == base {
			return id, zdebug, true
		}
	}
	return 0, false, false
}

func openElf(r io.ReaderAt, name string) (bool, *File, error) {
	var magic [4]uint8
	if _, err := r.ReadAt(magic[0:], 0); err != nil {
		return false, nil, err
	}
	if magic[0] != '\x7f' || magic[1] != 'E' || magic[2] != 'L' || magic[3] != 'F' {
		return false, nil, nil
	}
	// If there are errors past this point, we assume it's ELF and we
	// should report the error.

	ff, err := elf.NewFile(r)
	if err != nil {
		return true, nil, err
	}

	ef := &elfFile{f: ff, name: name, arch: elfArches[ff.Machine]}

	// Is this a real file we can mmap?
	if file, ok := r.(*os.File); ok {
		ef.fd = file.Fd()
		ef.pageSize = uint64(syscall.Getpagesize())
	} else {
		ef.fd = ^uintptr(0)
	}

	ef.dwarfSecs = make(map[dwarf.SectionID]*elfSection)
	for _, es := range ff.Sections {
		if es.Type == elf.SHT_NULL {
			continue
		}
		if es.Flags&elf.SHF_ALLOC != 0 && es.Addr == 0 && es.Size > 0 && ff.Type != elf.ET_REL {
			ef.hasZero = true
		}
		id, zdebug, ok := elfSectionID(es.Name)
		if !ok {
			continue
		}
		if _, dup := ef.dwarfSecs[id]; dup {
			// A .debug_x and .debug_x.dwo pair in one file (linked DWO
			// debugging dumps); keep the first.
			continue
		}
		ef.dwarfSecs[id] = &elfSection{elf: es, zdebug: zdebug}
	}

	return true, &File{elf: ef, Name: name}, nil
}

func (f *elfFile) close() {
	for _, s := range f.dwarfSecs {
		if s.mmapped != nil {
			mmapped := s.mmapped
			s.data = nil
			s.mmapped = nil
			syscall.Munmap(mmapped)
		}
	}
}

type elfSection struct {
	elf    *elf.Section
	zdebug bool

	dataOnce sync.Once
	data     []byte
	dataErr  error
	mmapped  []byte // if non-nil, original mmap of this section
}

// sectionPayload returns the flat bytes of the DWARF section id, or
// nil when the object has no such section or it cannot be read.
func (f *elfFile) sectionPayload(id dwarf.SectionID) []byte {
	s, ok := f.dwarfSecs[id]
	if !ok {
		return nil
	}
	s.dataOnce.Do(func() {
		s.data, s.mmapped, s.dataErr = f.sectionBytesUncached(s)
	})
	return s.data
}

var testMmapSection func(bool)

func (f *elfFile) sectionBytesUncached(s *elfSection) (data []byte, mmapped []byte, err error) {
	es := s.elf

	if s.zdebug {
		raw, err := ioutil.ReadAll(io.NewSectionReader(es, 0, int64(es.Size)))
		if err != nil {
			return nil, nil, err
		}
		out, err := inflateZdebug(raw)
		return out, nil, err
	}
	if es.Flags&elf.SHF_COMPRESSED != 0 {
		// debug/elf decompresses SHF_COMPRESSED payloads in Data.
		out, err := es.Data()
		return out, nil, err
	}

	// Memory map the section when possible.
	if f.fd != ^uintptr(0) && es.Size > 0 && es.Type != elf.SHT_NOBITS {
		start := roundDown2(es.Offset, f.pageSize)
		end := roundUp2(es.Offset+es.Size, f.pageSize)
		data, err = syscall.Mmap(int(f.fd), int64(start), int(end-start), syscall.PROT_READ, syscall.MAP_SHARED|syscall.MAP_FILE)
		if err == nil {
			if testMmapSection != nil {
				testMmapSection(true)
			}
			return data[es.Offset-start:][:es.Size], data, nil
		}
	}

	// Mmaping failed or wasn't possible. Read into the heap.
	data, err = ioutil.ReadAll(es.Open())
	if err != nil {
		return nil, nil, err
	}
	if testMmapSection != nil {
		testMmapSection(false)
	}
	return data, nil, nil
}

// inflateZdebug unpacks a GNU-style .zdebug section: a "ZLIB" magic,
// an 8-byte big-endian uncompressed size, then a zlib stream.
func inflateZdebug(raw []byte) ([]byte, error) {
	if len(raw) < 12 || string(raw[:4]) != "ZLIB" {
		return nil, fmt.Errorf("malformed .zdebug header")
	}
	size := binary.BigEndian.Uint64(raw[4:12])
	zr, err := zlib.NewReader(bytes.NewReader(raw[12:]))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	out := make([]byte, size)
	if _, err := io.ReadFull(zr, out); err != nil {
		return nil, err
	}
	return out, nil
}

// buildID returns the GNU build ID from .note.gnu.build-id, or nil.
func (f *elfFile) buildID() []byte {
	f.noteOnce.Do(func() {
		es := f.f.Section(".note.gnu.build-id")
		if es == nil {
			return
		}
		data, err := es.Data()
		if err != nil {
			return
		}
		// Note format: namesz, descsz, type, then name and desc, each
		// padded to 4 bytes. Build ID notes are type 3, name "GNU\0".
		for len(data) >= 12 {
			namesz := f.f.ByteOrder.Uint32(data[0:])
			descsz := f.f.ByteOrder.Uint32(data[4:])
			typ := f.f.ByteOrder.Uint32(data[8:])
			nameEnd := 12 + roundUp2(uint64(namesz), 4)
			descEnd := nameEnd + roundUp2(uint64(descsz), 4)
			if descEnd > uint64(len(data)) {
				return
			}
			if typ == 3 && namesz == 4 && string(data[12:15]) == "GNU" {
				f.noteID = data[nameEnd : nameEnd+uint64(descsz)]
				return
			}
			data = data[descEnd:]
		}
	})
	return f.noteID
}

// debugAltLink returns the DWZ link: the alt file's name and its
// expected build ID, from .gnu_debugaltlink.
func (f *elfFile) debugAltLink() (name string, buildID []byte) {
	es := f.f.Section(".gnu_debugaltlink")
	if es == nil {
		return "", nil
	}
	data, err := es.Data()
	if err != nil {
		return "", nil
	}
	i := bytes.IndexByte(data, 0)
	if i < 0 {
		return "", nil
	}
	return string(data[:i]), data[i+1:]
}

func roundDown2(x, align uint64) uint64 { return x &^ (align - 1) }
func roundUp2(x, align uint64) uint64   { return (x + align - 1) &^ (align - 1) }

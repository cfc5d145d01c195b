// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dwarf

import (
	"path"

	"github.com/aclements/go-dwarf/dw"
)

// A LineEntry is one row of a decoded line table.
type LineEntry struct {
	Address       uint64
	OpIndex       int
	File          int // index into the program's file table (raw, per version)
	Line          int
	IsStmt        bool
	Discriminator uint64
	EndSequence   bool
}

// A LineFile is one file-table entry of a line program header.
type LineFile struct {
	Name     string
	DirIndex int
	Mtime    uint64
	Length   uint64
}

// A LineProgram is a parsed line-number program header plus the
// position of its opcode stream.
type LineProgram struct {
	u *Unit

	version       int
	minInstLength int
	maxOpsPerInst int
	defaultIsStmt bool
	lineBase      int
	lineRange     int
	opcodeBase    int
	stdLengths    []int

	dirs  []string
	files []LineFile

	data       []byte // the whole .debug_line section
	programOff uint64
	endOff     uint64
	addrSize   int
	offsetSize int
}

// LineProgram parses the line program header at off in .debug_line.
func (u *Unit) LineProgram(off uint64) (*LineProgram, error) {
	data := u.prov.SectionBytes(SecLine)
	if off >= uint64(len(data)) {
		return nil, errf(".debug_line", off, "line program offset out of range (unit 0x%x)", u.off)
	}
	b := makeBuf(u.d.order, ".debug_line", off, data[off:])
	lp := &LineProgram{u: u, data: data, addrSize: u.addrSize}

	length, offsetSize := b.initialLength()
	if length > uint64(b.remaining()) {
		return nil, errf(".debug_line", off, "line program length extends past section")
	}
	lp.endOff = b.off + length
	lp.offsetSize = offsetSize

	lp.version = int(b.uint16())
	if lp.version < 2 || lp.version > 5 {
		return nil, errf(".debug_line", off, "unsupported line table version %d", lp.version)
	}
	if lp.version >= 5 {
		lp.addrSize = int(b.uint8())
		if seg := b.uint8(); seg != 0 {
			return nil, errf(".debug_line", off, "nonzero segment selector size %d", seg)
		}
	}
	headerLength := b.offset(offsetSize)
	lp.programOff = b.off + headerLength

	lp.minInstLength = int(b.uint8())
	lp.maxOpsPerInst = 1
	if lp.version >= 4 {
		lp.maxOpsPerInst = int(b.uint8())
		if lp.maxOpsPerInst < 1 {
			lp.maxOpsPerInst = 1
		}
	}
	lp.defaultIsStmt = b.uint8() != 0
	lp.lineBase = int(int8(b.uint8()))
	lp.lineRange = int(b.uint8())
	if lp.lineRange == 0 {
		return nil, errf(".debug_line", off, "line range is zero")
	}
	lp.opcodeBase = int(b.uint8())
	lp.stdLengths = make([]int, lp.opcodeBase)
	for i := 1; i < lp.opcodeBase; i++ {
		lp.stdLengths[i] = int(b.uint8())
	}

	var err error
	if lp.version >= 5 {
		err = lp.readV5Tables(&b)
	} else {
		err = lp.readLegacyTables(&b)
	}
	if err != nil {
		return nil, err
	}
	if b.err != nil {
		return nil, b.err
	}
	return lp, nil
}

// readLegacyTables reads the pre-v5 include-directory and file-name
// tables (NUL-terminated entries, empty name terminates each table).
// Indices are 1-based; slot 0 holds the compilation directory / unit
// file name.
func (lp *LineProgram) readLegacyTables(b *buf) error {
	lp.dirs = []string{lp.u.compDir}
	for {
		dir := b.cstring()
		if b.err != nil {
			return b.err
		}
		if dir == "" {
			break
		}
		lp.dirs = append(lp.dirs, dir)
	}
	lp.files = []LineFile{{Name: lp.u.name}}
	for {
		name := b.cstring()
		if b.err != nil {
			return b.err
		}
		if name == "" {
			break
		}
		f := LineFile{Name: name}
		f.DirIndex = int(b.uleb())
		f.Mtime = b.uleb()
		f.Length = b.uleb()
		lp.files = append(lp.files, f)
	}
	return b.err
}

// readV5Tables reads the v5 formatted directory and file tables: a
// (content type, form) schedule followed by that many entries.
func (lp *LineProgram) readV5Tables(b *buf) error {
	type fmtPair struct{ content, form uint64 }
	readSchedule := func() []fmtPair {
		n := int(b.uint8())
		fmts := make([]fmtPair, n)
		for i := range fmts {
			fmts[i] = fmtPair{b.uleb(), b.uleb()}
		}
		return fmts
	}
	readEntry := func(fmts []fmtPair) (LineFile, error) {
		var f LineFile
		for _, p := range fmts {
			val, str, err := lp.headerFormValue(b, dw.Form(p.form))
			if err != nil {
				return f, err
			}
			switch p.content {
			case dw.LNCTPath:
				f.Name = str
			case dw.LNCTDirectoryIndex:
				f.DirIndex = int(val)
			case dw.LNCTTimestamp:
				f.Mtime = val
			case dw.LNCTSize:
				f.Length = val
			case dw.LNCTMD5:
				// Checksum not retained.
			default:
				// Unknown vendor content type: value already skipped.
			}
		}
		return f, nil
	}

	dirFmts := readSchedule()
	nDirs := int(b.uleb())
	for i := 0; i < nDirs; i++ {
		f, err := readEntry(dirFmts)
		if err != nil {
			return err
		}
		lp.dirs = append(lp.dirs, f.Name)
	}
	fileFmts := readSchedule()
	nFiles := int(b.uleb())
	for i := 0; i < nFiles; i++ {
		f, err := readEntry(fileFmts)
		if err != nil {
			return err
		}
		lp.files = append(lp.files, f)
	}
	return b.err
}

// headerFormValue decodes one formatted-entry value. Only the forms
// the line-header format list admits are accepted.
func (lp *LineProgram) headerFormValue(b *buf, form dw.Form) (uint64, string, error) {
	switch form {
	case dw.FormString:
		return 0, b.cstring(), b.err
	case dw.FormStrp:
		return 0, lp.u.stringFrom(SecStr, b.offset(lp.offsetSize)), b.err
	case dw.FormLineStrp:
		return 0, lp.u.stringFrom(SecLineStr, b.offset(lp.offsetSize)), b.err
	case dw.FormStrpSup:
		return 0, lp.u.altStringAt(b.offset(lp.offsetSize)), b.err
	case dw.FormStrx:
		s, err := lp.u.StrAt(b.uleb())
		return 0, s, err
	case dw.FormStrx1:
		s, err := lp.u.StrAt(uint64(b.uint8()))
		return 0, s, err
	case dw.FormStrx2:
		s, err := lp.u.StrAt(uint64(b.uint16()))
		return 0, s, err
	case dw.FormStrx3:
		s, err := lp.u.StrAt(uint64(b.uint24()))
		return 0, s, err
	case dw.FormStrx4:
		s, err := lp.u.StrAt(uint64(b.uint32()))
		return 0, s, err
	case dw.FormData1:
		return uint64(b.uint8()), "", b.err
	case dw.FormData2:
		return uint64(b.uint16()), "", b.err
	case dw.FormData4:
		return uint64(b.uint32()), "", b.err
	case dw.FormData8:
		return b.uint64(), "", b.err
	case dw.FormData16:
		b.bytes(16)
		return 0, "", b.err
	case dw.FormUdata:
		return b.uleb(), "", b.err
	case dw.FormBlock:
		b.bytes(int(b.uleb()))
		return 0, "", b.err
	}
	return 0, "", errf(".debug_line", b.off, "unsupported form %s in line header", form)
}

// FileNameAt returns the full path of file index i, normalizing the
// 1-based (pre-v5) versus 0-based (v5) numbering.
func (lp *LineProgram) FileNameAt(i int) (string, bool) {
	if i < 0 || i >= len(lp.files) {
		return "", false
	}
	f := lp.files[i]
	if path.IsAbs(f.Name) {
		return f.Name, true
	}
	dir := ""
	if f.DirIndex >= 0 && f.DirIndex < len(lp.dirs) {
		dir = lp.dirs[f.DirIndex]
	}
	if dir == "" {
		return f.Name, true
	}
	return path.Join(dir, f.Name), true
}

// Files returns the raw file table.
func (lp *LineProgram) Files() []LineFile { return lp.files }

// defaultFileIndex is the initial value of the file register.
func (lp *LineProgram) defaultFileIndex() int { return 1 }

// Run executes the line program, invoking record once per surviving
// row, in program order.
//
// Two filters apply, mirroring the conventions of common producers:
// rows whose op_index is nonzero are dropped unless they close the
// sequence, and consecutive rows for the same (file, line) are
// coalesced only when at least one of the pair carries a nonzero
// discriminator (GCC deliberately duplicates the row at the end of a
// function prologue, and that duplicate must survive).
//
// If the first DW_LNE_set_address of a sequence yields address 0 and
// the object has no section at address 0, the sequence was discarded
// by the linker; none of its rows are recorded.
func (lp *LineProgram) Run(record func(e LineEntry)) error {
	u := lp.u
	b := makeBuf(u.d.order, ".debug_line", lp.programOff, lp.data[lp.programOff:lp.endOff])

	var st LineEntry
	reset := func() {
		st = LineEntry{File: lp.defaultFileIndex(), Line: 1, IsStmt: lp.defaultIsStmt}
	}
	reset()

	garbage := false // sequence discarded by linker GC
	sawAddress := false
	var last LineEntry
	haveLast := false

	emit := func(end bool) {
		st.EndSequence = end
		if garbage {
			return
		}
		if !end && st.OpIndex != 0 {
			return
		}
		if haveLast && !end && !last.EndSequence &&
			last.File == st.File && last.Line == st.Line &&
			(last.Discriminator != 0 || st.Discriminator != 0) {
			// Coalesce.
			last = st
			return
		}
		last, haveLast = st, true
		record(st)
	}

	advance := func(opAdvance int) {
		opIndex := st.OpIndex + opAdvance
		st.Address += uint64(lp.minInstLength * (opIndex / lp.maxOpsPerInst))
		st.OpIndex = opIndex % lp.maxOpsPerInst
	}

	for b.remaining() > 0 {
		op := int(b.uint8())
		if b.err != nil {
			return b.err
		}
		switch {
		case op >= lp.opcodeBase:
			adjusted := op - lp.opcodeBase
			advance(adjusted / lp.lineRange)
			st.Line += lp.lineBase + adjusted%lp.lineRange
			emit(false)
			st.Discriminator = 0

		case op == 0:
			// Extended opcode.
			length := b.uleb()
			start := b.off
			ext := b.uint8()
			switch ext {
			case dw.LNEEndSequence:
				st.Address = u.d.arch.LineAddr(st.Address, false)
				emit(true)
				reset()
				garbage = false
				sawAddress = false
				haveLast = false
			case dw.LNESetAddress:
				raw := b.uintN(lp.addrSize)
				if !sawAddress && raw == 0 && !u.prov.HasSectionAtZero() {
					// The linker discarded this function but left its
					// line program behind. Drop the whole sequence.
					garbage = true
				}
				sawAddress = true
				st.Address = u.d.arch.LineAddr(raw, true)
				st.OpIndex = 0
			case dw.LNESetDiscriminator:
				st.Discriminator = b.uleb()
			case dw.LNEDefineFile:
				f := LineFile{Name: b.cstring()}
				f.DirIndex = int(b.uleb())
				f.Mtime = b.uleb()
				f.Length = b.uleb()
				lp.files = append(lp.files, f)
			default:
				// Unknown vendor extension: skip per declared length.
				u.d.complainf("unknown extended line opcode 0x%x (unit 0x%x)", ext, u.off)
			}
			if b.off < start+length {
				b.skip(int(start + length - b.off))
			}

		case op == dw.LNSCopy:
			emit(false)
			st.Discriminator = 0
		case op == dw.LNSAdvancePC:
			advance(int(b.uleb()))
		case op == dw.LNSAdvanceLine:
			st.Line += int(b.sleb())
		case op == dw.LNSSetFile:
			st.File = int(b.uleb())
		case op == dw.LNSSetColumn:
			b.uleb()
		case op == dw.LNSNegateStmt:
			st.IsStmt = !st.IsStmt
		case op == dw.LNSSetBasicBlock:
			// The basic_block register has no consumer here.
		case op == dw.LNSConstAddPC:
			advance((255 - lp.opcodeBase) / lp.lineRange)
		case op == dw.LNSFixedAdvancePC:
			st.Address += uint64(b.uint16())
			st.OpIndex = 0
		case op == dw.LNSSetPrologueEnd, op == dw.LNSSetEpilogueBeg:
			// No registers the reader tracks.
		case op == dw.LNSSetISA:
			b.uleb()
		default:
			// Unknown standard opcode: skip its declared operands.
			for i := 0; i < lp.stdLengths[op]; i++ {
				b.uleb()
			}
		}
		if b.err != nil {
			return b.err
		}
	}
	return nil
}

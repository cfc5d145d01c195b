// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dwarf

import (
	"github.com/aclements/go-dwarf/dw"
)

// A MacroDef is one preprocessor definition or undefinition event.
type MacroDef struct {
	Define bool
	// Text is "NAME" or "NAME(args) body" as written by the producer.
	Text string
	Line int
	// Depth is the include nesting at the event; 0 is the main file.
	Depth int
}

// Macros scans the unit's .debug_macro contribution and returns its
// define/undef events. Vendor opcodes are skipped using the operand
// table the header declares; an opcode with no declared schedule
// aborts the scan with a complaint, since nothing after it can be
// framed.
func (u *Unit) Macros() ([]MacroDef, error) {
	root, err := u.DIEAt(u.firstDIE)
	if err != nil {
		return nil, err
	}
	v, ok := root.Uint(dw.AttrMacros)
	if !ok {
		if v, ok = root.Uint(dw.AttrGNUMacros); !ok {
			return nil, nil
		}
	}
	return u.readMacroSection(v)
}

func (u *Unit) readMacroSection(off uint64) ([]MacroDef, error) {
	d := u.d
	data := u.prov.SectionBytes(SecMacro)
	secName := SectionName(SecMacro)
	if off >= uint64(len(data)) {
		return nil, errf(secName, off, "macro offset outside section")
	}
	b := makeBuf(d.order, secName, off, data[off:])

	version := b.uint16()
	if version != 4 && version != 5 {
		return nil, errf(secName, off, "unsupported macro header version %d", version)
	}
	flags := b.uint8()
	offsetSize := 4
	if flags&1 != 0 {
		offsetSize = 8
	}
	if flags&2 != 0 {
		b.offset(offsetSize) // debug_line offset; file names not needed here
	}
	// Vendor opcode operand table.
	vendor := make(map[uint8][]dw.Form)
	if flags&4 != 0 {
		n := int(b.uint8())
		for i := 0; i < n; i++ {
			op := b.uint8()
			cnt := int(b.uleb())
			forms := make([]dw.Form, cnt)
			for j := range forms {
				forms[j] = dw.Form(b.uleb())
			}
			vendor[op] = forms
		}
	}
	if b.err != nil {
		return nil, b.err
	}

	var defs []MacroDef
	depth := 0
	for {
		if err := d.checkQuit(); err != nil {
			return nil, err
		}
		op := b.uint8()
		if b.err != nil {
			return nil, b.err
		}
		if op == 0 {
			return defs, nil
		}
		switch op {
		case dw.MacroDefine, dw.MacroUndef:
			line := int(b.uleb())
			defs = append(defs, MacroDef{op == dw.MacroDefine, b.cstring(), line, depth})
		case dw.MacroDefineStrp, dw.MacroUndefStrp:
			line := int(b.uleb())
			text := u.stringFrom(SecStr, b.offset(offsetSize))
			defs = append(defs, MacroDef{op == dw.MacroDefineStrp, text, line, depth})
		case dw.MacroDefineSup, dw.MacroUndefSup:
			line := int(b.uleb())
			text := u.altStringAt(b.offset(offsetSize))
			defs = append(defs, MacroDef{op == dw.MacroDefineSup, text, line, depth})
		case dw.MacroDefineStrx, dw.MacroUndefStrx:
			line := int(b.uleb())
			text, err := u.StrAt(b.uleb())
			if err != nil {
				d.complainf("%v", err)
			}
			defs = append(defs, MacroDef{op == dw.MacroDefineStrx, text, line, depth})
		case dw.MacroStartFile:
			b.uleb() // line
			b.uleb() // file index
			depth++
		case dw.MacroEndFile:
			if depth > 0 {
				depth--
			}
		case dw.MacroImport, dw.MacroImportSup:
			// Imported units share their defs across objects; scanning
			// them here would double-count shared headers, so only the
			// offset is consumed.
			b.offset(offsetSize)
		default:
			forms, ok := vendor[op]
			if !ok {
				d.complainf("%s: unknown macro opcode 0x%x at 0x%x with no operand table; abandoning scan", secName, op, b.off-1)
				return defs, nil
			}
			for _, f := range forms {
				if err := skipMacroOperand(&b, f, offsetSize); err != nil {
					return defs, err
				}
			}
		}
		if b.err != nil {
			return nil, b.err
		}
	}
}

// skipMacroOperand advances past one vendor-opcode operand.
func skipMacroOperand(b *buf, form dw.Form, offsetSize int) error {
	switch form {
	case dw.FormData1, dw.FormFlag, dw.FormStrx1:
		b.uint8()
	case dw.FormData2, dw.FormStrx2:
		b.uint16()
	case dw.FormData4, dw.FormStrx4:
		b.uint32()
	case dw.FormData8:
		b.uint64()
	case dw.FormUdata, dw.FormStrx:
		b.uleb()
	case dw.FormSdata:
		b.sleb()
	case dw.FormString:
		b.cstring()
	case dw.FormStrp, dw.FormLineStrp, dw.FormSecOffset:
		b.offset(offsetSize)
	case dw.FormBlock:
		b.skip(int(b.uleb()))
	default:
		return errf(b.section, b.off, "unsupported vendor macro operand form %s", form)
	}
	return b.err
}

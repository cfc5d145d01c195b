// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dwarf

import (
	"strings"

	"github.com/aclements/go-dwarf/dw"
)

// readStub shallow-decodes u's root DIE and records the attributes
// the reader needs before (or without) expanding the unit: name,
// comp_dir, producer, language, PC base, section bases, and split
// DWARF linkage. The stub persists for the life of the Data.
func (u *Unit) readStub() error {
	if u.stubRead {
		return nil
	}
	r, err := u.newDIEReader(u.firstDIE)
	if err != nil {
		return err
	}
	root, err := r.next()
	if err != nil {
		return err
	}
	if root == nil {
		return errf(u.secName, u.firstDIE, "unit 0x%x has no root DIE", u.off)
	}
	u.applyStubAttrs(root)
	u.stubRead = true

	if u.dwoName != "" && !u.isDWO {
		if err := u.resolveDWO(); err != nil {
			// A missing DWO degrades to the skeleton's information.
			u.d.complainf("cannot load DWO for unit 0x%x: %v", u.off, err)
		}
	}
	return nil
}

// applyStubAttrs fills u's stub fields from the root DIE. Bases are
// recorded before any string or address indexes are resolved, since
// those resolve through the bases.
func (u *Unit) applyStubAttrs(root *DIE) {
	for i := range root.Attrs {
		v := &root.Attrs[i]
		switch v.Attr {
		case dw.AttrAddrBase, dw.AttrGNUAddrBase:
			u.addrBase = v.Uint
		case dw.AttrStrOffsetsBase:
			u.strOffBase, u.hasStrOffBase = v.Uint, true
		case dw.AttrRnglistsBase:
			u.rnglistsBase = v.Uint
		case dw.AttrLoclistsBase:
			u.loclistsBase = v.Uint
		case dw.AttrGNURangesBase:
			u.rangesBase = v.Uint
		case dw.AttrGNUDwoID:
			u.dwoID, u.hasDwoID = v.Uint, true
		case dw.AttrStmtList:
			u.stmtList, u.hasStmtList = v.Uint, true
		}
	}
	if u.version >= 5 && u.hasSig && (u.unitType == dw.UTSkeleton || u.unitType == dw.UTSplitCompile) {
		u.dwoID, u.hasDwoID = u.signature, true
	}

	if s, ok := u.attrString(root, dw.AttrName); ok {
		u.name = s
	}
	if s, ok := u.attrString(root, dw.AttrCompDir); ok {
		u.compDir = s
	}
	if s, ok := u.attrString(root, dw.AttrProducer); ok {
		u.producer = s
	}
	if s, ok := u.attrString(root, dw.AttrDwoName); ok {
		u.dwoName = s
	} else if s, ok := u.attrString(root, dw.AttrGNUDwoName); ok {
		u.dwoName = s
	}
	if low, ok := u.attrAddr(root, dw.AttrLowPC); ok {
		u.lowPC, u.hasLow = low, true
		u.baseAddr, u.hasBase = low, true
	} else if entry, ok := u.attrAddr(root, dw.AttrEntryPC); ok {
		u.baseAddr, u.hasBase = entry, true
	}

	u.decideLanguage(root)
}

// decideLanguage fixes u's language, exactly once: DW_AT_language if
// present, else a producer heuristic, else minimal.
func (u *Unit) decideLanguage(root *DIE) {
	if u.langDecided {
		return
	}
	u.langDecided = true
	if lv, ok := root.Uint(dw.AttrLanguage); ok && lv != 0 {
		u.lang = dw.Lang(lv)
		return
	}
	u.lang = languageFromProducer(u.producer)
}

// LangMinimal is the fallback language for units that declare none.
const LangMinimal dw.Lang = 0

func languageFromProducer(producer string) dw.Lang {
	switch {
	case strings.Contains(producer, "rustc"):
		return dw.LangRust
	case strings.Contains(producer, "Go "), strings.HasPrefix(producer, "Go;"):
		return dw.LangGo
	case strings.Contains(producer, "GNU Fortran"):
		return dw.LangFortran90
	case strings.Contains(producer, "GNAT"):
		return dw.LangAda95
	case strings.Contains(producer, "clang"), strings.Contains(producer, "GNU C++"):
		return dw.LangCpp
	case strings.Contains(producer, "GNU C"):
		return dw.LangC
	}
	return LangMinimal
}

// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dwarf

import "github.com/aclements/go-dwarf/dw"

// A delayedPhysname is a C++ symbol whose linkage name lives on a
// specification or origin DIE that may not be materialized yet. They
// resolve at the end of the unit's expansion (or eagerly under
// CheckPhysname).
type delayedPhysname struct {
	sym *Symbol
	die *DIE
	cu  *Unit
}

// fullScan carries the state of one unit's full-symbol expansion.
type fullScan struct {
	d  *Data
	u  *Unit // the unit being expanded (the skeleton for splits)
	cu *Unit // the unit whose DIE tree is walked

	lang     dw.Lang
	depth    int // open block nesting; 0 is file scope
	mainName string
	mainSet  bool
}

// expandUnit materializes one unit's full symbols into the sink.
func (d *Data) expandUnit(item queueItem) error {
	u := item.u
	if err := d.loadUnit(u); err != nil {
		return err
	}
	cu := u
	if u.dwo != nil {
		cu = u.dwo
	}
	lang := u.lang
	if lang == LangMinimal && cu != u {
		// Skeletons usually declare no language; the split unit does.
		lang = cu.lang
	}
	if lang == LangMinimal && item.pretendLang != LangMinimal {
		lang = item.pretendLang
	}
	fs := &fullScan{d: d, u: u, cu: cu, lang: lang}

	if d.sink != nil {
		d.sink.BeginCompunit(u, u.producer, lang, u.name, u.compDir, u.lowPC)
	}
	if u.hasStmtList {
		// The line table of a skeleton lives in the main object, so it
		// is always read through u, never through the DWO.
		if err := fs.pourLines(); err != nil {
			d.complainf("line table of unit 0x%x: %v", u.off, err)
		}
	}
	if err := fs.walkChildren(cu.root, ""); err != nil {
		return err
	}
	fs.resolveDelayed()
	fs.finishMain()
	fs.quirksPostprocess()
	if d.sink != nil {
		d.sink.EndCompunit(u)
	}
	return nil
}

// pourLines runs the unit's line program into the sink. An
// end-of-sequence entry is recorded as line 0 to terminate the range
// of the previous row.
func (fs *fullScan) pourLines() error {
	lp, err := fs.u.LineProgram(fs.u.stmtList)
	if err != nil {
		return err
	}
	sink := fs.d.sink
	if sink == nil {
		return nil
	}
	curFile := -1
	return lp.Run(func(e LineEntry) {
		name, ok := lp.FileNameAt(e.File)
		if !ok {
			name = fs.u.name
		}
		if e.File != curFile {
			curFile = e.File
			sink.StartSubfile(name)
		}
		if e.EndSequence {
			sink.RecordLine(name, 0, e.Address, false)
			curFile = -1
			return
		}
		sink.RecordLine(name, e.Line, e.Address, e.IsStmt)
	})
}

// walkChildren expands every child of parent at the current scope.
func (fs *fullScan) walkChildren(parent *DIE, prefix string) error {
	for die := parent.Child; die != nil; die = die.Sibling {
		if err := fs.d.checkQuit(); err != nil {
			return err
		}
		if err := fs.walkDIE(die, prefix); err != nil {
			return err
		}
	}
	return nil
}

func (fs *fullScan) walkDIE(die *DIE, prefix string) error {
	cu := fs.cu
	switch die.Tag {
	case dw.TagSubprogram:
		return fs.doSubprogram(die, prefix)

	case dw.TagInlinedSubroutine:
		return fs.doInlined(die, prefix)

	case dw.TagLexicalBlock, dw.TagTryBlock, dw.TagCatchBlock, dw.TagWithStmt:
		return fs.doBlock(die, prefix)

	case dw.TagVariable, dw.TagFormalParameter, dw.TagConstant:
		fs.doVariable(die, prefix)

	case dw.TagTypedef, dw.TagBaseType, dw.TagSubrangeType:
		fs.doTypeName(die, prefix, DomainVar)

	case dw.TagStructType, dw.TagClassType, dw.TagUnionType:
		fs.doTypeName(die, prefix, DomainStruct)

	case dw.TagEnumerationType:
		fs.doEnum(die, prefix)

	case dw.TagNamespace:
		name := fs.dieName(die)
		if name == "" {
			name = anonymousNamespace
		}
		full := qualify(prefix, name)
		fs.emit(PlacementStatic, &Symbol{Name: full, SearchName: full,
			Domain: DomainModule, Loc: LocTypedef, Lang: fs.lang})
		return fs.walkChildren(die, full)

	case dw.TagModule:
		full := qualify(prefix, fs.dieName(die))
		if full != "" {
			fs.emit(PlacementStatic, &Symbol{Name: full, SearchName: full,
				Domain: DomainModule, Loc: LocTypedef, Lang: fs.lang})
		}
		return fs.walkChildren(die, full)

	case dw.TagLabel:
		name := fs.dieName(die)
		if addr, ok := cu.attrAddr(die, dw.AttrLowPC); ok && name != "" {
			fs.emit(PlacementCurrent, &Symbol{Name: name, SearchName: name,
				Domain: DomainLabel, Loc: LocLabel, Addr: addr, Lang: fs.lang})
		}

	case dw.TagImportedUnit:
		fs.doImport(die)

	case dw.TagCallSite, dw.TagGNUCallSite:
		fs.doCallSite(die)

	case dw.TagImportedDeclaration, dw.TagImportedModule:
		// Using-declarations do not produce symbols here.
	}
	return nil
}

func (fs *fullScan) dieName(die *DIE) string {
	const maxChain = 8
	cu := fs.cu
	for i := 0; i < maxChain; i++ {
		if s, ok := cu.attrString(die, dw.AttrName); ok {
			return s
		}
		ref := die.Attr(dw.AttrSpecification)
		if ref == nil {
			ref = die.Attr(dw.AttrAbstractOrigin)
		}
		if ref == nil {
			return ""
		}
		next, nu, err := cu.resolveRef(ref)
		if err != nil {
			return ""
		}
		die, cu = next, nu
	}
	return ""
}

func (fs *fullScan) linkageName(die *DIE) string {
	if s, ok := fs.cu.attrString(die, dw.AttrLinkageName); ok {
		return s
	}
	s, _ := fs.cu.attrString(die, dw.AttrMIPSLinkageName)
	return s
}

func (fs *fullScan) emit(p Placement, sym *Symbol) {
	if fs.depth > 0 {
		p = PlacementCurrent
	}
	if sym.SearchName == "" {
		sym.SearchName = sym.Name
	}
	if fs.d.sink != nil {
		fs.d.sink.EmitSymbol(p, sym)
	}
}

// typeOf builds die's own type, degrading to an error marker.
func (fs *fullScan) typeOf(die *DIE) *Type {
	t, err := fs.cu.TypeOf(die)
	if err != nil {
		fs.d.complainf("%v", err)
		return errorType(fs.cu, die.Off)
	}
	return t
}

func (fs *fullScan) doSubprogram(die *DIE, prefix string) error {
	cu := fs.cu
	low, high, ok := cu.pcBounds(die)
	if !ok {
		// Try a range list; a subprogram split into sections covers
		// [min,max) of its ranges.
		if die.Attr(dw.AttrRanges) != nil {
			first := true
			cu.dieRanges(die, func(l, h uint64) error {
				if first || l < low {
					low = l
				}
				if first || h > high {
					high = h
				}
				first = false
				return nil
			})
			ok = !first
		}
	}
	name := fs.dieName(die)
	if !ok {
		// Declaration or abstract instance: no code, no block. Its
		// children are picked up through concrete instances.
		return nil
	}
	full := qualify(prefix, name)
	placement := PlacementStatic
	if die.Flag(dw.AttrExternal) || prefix != "" || !caseSensitiveLang(fs.lang) {
		placement = PlacementGlobal
	}
	if full != "" {
		sym := &Symbol{Name: full, Domain: DomainVar, Loc: LocBlock,
			Addr: low, Lang: fs.lang, Type: fs.typeOf(die),
			IsArtificial: die.Flag(dw.AttrArtificial)}
		fs.attachPhysname(sym, die)
		fs.emit(placement, sym)
		if die.Flag(dw.AttrMainSubprogram) {
			fs.mainName, fs.mainSet = full, true
		} else if !fs.mainSet && full == mainNameFor(fs.lang) {
			fs.mainName = full
		}
	}
	if fs.d.sink != nil {
		fs.d.sink.BeginBlock(low, high)
	}
	fs.depth++
	err := fs.walkChildren(die, prefix)
	fs.depth--
	if fs.d.sink != nil {
		fs.d.sink.EndBlock()
	}
	return err
}

func (fs *fullScan) doInlined(die *DIE, prefix string) error {
	cu := fs.cu
	low, high, ok := cu.pcBounds(die)
	if !ok && die.Attr(dw.AttrRanges) != nil {
		first := true
		cu.dieRanges(die, func(l, h uint64) error {
			if first || l < low {
				low = l
			}
			if first || h > high {
				high = h
			}
			first = false
			return nil
		})
		ok = !first
	}
	if !ok {
		return nil
	}
	if name := fs.dieName(die); name != "" {
		fs.emit(PlacementCurrent, &Symbol{Name: name, SearchName: name,
			Domain: DomainVar, Loc: LocBlock, Addr: low, Lang: fs.lang,
			Type: fs.typeOf(die)})
	}
	if fs.d.sink != nil {
		fs.d.sink.BeginBlock(low, high)
	}
	fs.depth++
	err := fs.walkChildren(die, prefix)
	fs.depth--
	if fs.d.sink != nil {
		fs.d.sink.EndBlock()
	}
	return err
}

func (fs *fullScan) doBlock(die *DIE, prefix string) error {
	cu := fs.cu
	low, high, ok := cu.pcBounds(die)
	if !ok && die.Attr(dw.AttrRanges) != nil {
		first := true
		cu.dieRanges(die, func(l, h uint64) error {
			if first || l < low {
				low = l
			}
			if first || h > high {
				high = h
			}
			first = false
			return nil
		})
		ok = !first
	}
	if !ok {
		// A scope with no code still scopes its children; walk them in
		// the enclosing block.
		return fs.walkChildren(die, prefix)
	}
	if fs.d.sink != nil {
		fs.d.sink.BeginBlock(low, high)
	}
	fs.depth++
	err := fs.walkChildren(die, prefix)
	fs.depth--
	if fs.d.sink != nil {
		fs.d.sink.EndBlock()
	}
	return err
}

// doVariable decodes a data symbol's storage class from its location
// attribute.
func (fs *fullScan) doVariable(die *DIE, prefix string) {
	cu, d := fs.cu, fs.d
	name := fs.dieName(die)
	if name == "" {
		return
	}
	full := qualify(prefix, name)
	sym := &Symbol{Name: full, Domain: DomainVar, Lang: fs.lang,
		Type:         fs.typeOf(die),
		IsArgument:   die.Tag == dw.TagFormalParameter,
		IsArtificial: die.Flag(dw.AttrArtificial)}
	fs.attachPhysname(sym, die)

	placement := PlacementStatic
	if die.Flag(dw.AttrExternal) {
		placement = PlacementGlobal
	}

	loc := die.Attr(dw.AttrLocation)
	switch {
	case loc == nil:
		if v := die.Attr(dw.AttrConstValue); v != nil {
			sym.Loc = LocConst
			if v.Class == ClassSignedConstant {
				sym.Value = v.Int
			} else if v.Class == ClassBlock {
				sym.Loc = LocComputed
				sym.Expr = v.Block
			} else {
				sym.Value = int64(v.Uint)
			}
			break
		}
		if die.Flag(dw.AttrDeclaration) {
			// extern declaration with no storage here.
			return
		}
		if sym.LinkageName != "" {
			// Resolvable later through minimal symbols.
			sym.Loc = LocUnresolved
		} else {
			sym.Loc = LocOptimizedOut
		}

	case loc.Class == ClassBlock:
		switch {
		case len(loc.Block) == 0:
			sym.Loc = LocOptimizedOut
		case loc.Block[0] == dw.OpAddr && len(loc.Block) == 1+cu.addrSize:
			b := makeBuf(d.order, cu.secName, die.Off, loc.Block[1:])
			sym.Loc = LocStatic
			sym.Addr = d.arch.Addr(b.uintN(cu.addrSize))
			// In a PIE or shared object an initialized global may be
			// overridden by a copy relocation in the executable.
			sym.MaybeCopied = die.Flag(dw.AttrExternal)
		default:
			sym.Loc = LocComputed
			sym.Expr = loc.Block
		}

	case loc.Class == ClassSecOffset:
		sym.Loc = LocList
		sym.ListOff = loc.Uint

	case loc.Class == ClassLocListIndex:
		off, err := cu.loclistOffset(loc.Uint)
		if err != nil {
			d.complainf("%v", err)
			return
		}
		sym.Loc = LocList
		sym.ListOff = off

	case loc.Class == ClassConstant:
		// Pre-v4 producers used data forms for location offsets.
		sym.Loc = LocList
		sym.ListOff = loc.Uint

	default:
		d.complainf("unexpected location class for %q (unit 0x%x, die 0x%x)", full, fs.u.off, die.Off)
		return
	}
	fs.emit(placement, sym)
}

// loclistOffset resolves a DW_FORM_loclistx index through the unit's
// loclists base.
func (u *Unit) loclistOffset(i uint64) (uint64, error) {
	data := u.prov.SectionBytes(SecLoclists)
	base := u.loclistsBase
	if base == 0 {
		// Header is 12 bytes for 32-bit units, like rnglists.
		base = 12
	}
	pos := base + i*uint64(u.offsetSize)
	if pos+uint64(u.offsetSize) > uint64(len(data)) {
		return 0, errf(SectionName(SecLoclists), pos, "loclist index %d out of range (unit 0x%x)", i, u.off)
	}
	b := makeBuf(u.d.order, SectionName(SecLoclists), pos, data[pos:])
	return base + b.offset(u.offsetSize), nil
}

func (fs *fullScan) doTypeName(die *DIE, prefix string, domain Domain) {
	name := fs.dieName(die)
	if name == "" {
		return
	}
	full := qualify(prefix, name)
	fs.emit(PlacementStatic, &Symbol{Name: full, SearchName: full,
		Domain: domain, Loc: LocTypedef, Lang: fs.lang, Type: fs.typeOf(die)})
	if domain == DomainStruct && die.Child != nil && caseSensitiveLang(fs.lang) {
		// Nested types and static data members of C++ classes are
		// reachable by qualified name.
		for child := die.Child; child != nil; child = child.Sibling {
			switch child.Tag {
			case dw.TagStructType, dw.TagClassType, dw.TagUnionType,
				dw.TagEnumerationType, dw.TagTypedef:
				fs.walkDIE(child, full)
			case dw.TagVariable:
				fs.doVariable(child, full)
			}
		}
	}
}

func (fs *fullScan) doEnum(die *DIE, prefix string) {
	name := fs.dieName(die)
	t := fs.typeOf(die)
	if name != "" {
		full := qualify(prefix, name)
		fs.emit(PlacementStatic, &Symbol{Name: full, SearchName: full,
			Domain: DomainStruct, Loc: LocTypedef, Lang: fs.lang, Type: t})
	}
	// Unscoped enumerators are visible in the enclosing scope.
	if die.Flag(dw.AttrEnumClass) {
		prefix = qualify(prefix, name)
	}
	for _, ev := range t.Enums {
		full := qualify(prefix, ev.Name)
		fs.emit(PlacementStatic, &Symbol{Name: full, SearchName: full,
			Domain: DomainVar, Loc: LocConst, Value: ev.Val, Lang: fs.lang, Type: t})
	}
}

// doImport enqueues an imported (partial) unit for expansion in this
// unit's language and records the include edge.
func (fs *fullScan) doImport(die *DIE) {
	v := die.Attr(dw.AttrImport)
	if v == nil {
		return
	}
	_, target, err := fs.cu.resolveRef(v)
	if err != nil {
		fs.d.complainf("bad imported unit in 0x%x: %v", fs.u.off, err)
		return
	}
	fs.u.includes = append(fs.u.includes, target)
	fs.d.enqueue(target, fs.lang)
}

// doCallSite records one call site, keyed by its return PC.
func (fs *fullScan) doCallSite(die *DIE) {
	cu := fs.cu
	var retPC uint64
	var ok bool
	if retPC, ok = cu.attrAddr(die, dw.AttrCallReturnPC); !ok {
		// GNU call sites key on DW_AT_low_pc.
		retPC, ok = cu.attrAddr(die, dw.AttrLowPC)
	}
	if !ok {
		return
	}
	cs := &CallSite{ReturnPC: retPC}
	if v := die.Attr(dw.AttrCallTarget); v != nil && v.Class == ClassBlock {
		cs.Target = v.Block
	} else if v := die.Attr(dw.AttrGNUCallSiteTarget); v != nil && v.Class == ClassBlock {
		cs.Target = v.Block
	}
	for child := die.Child; child != nil; child = child.Sibling {
		if child.Tag != dw.TagCallSiteParameter && child.Tag != dw.TagGNUCallSiteParameter {
			continue
		}
		p := CallSiteParam{Register: -1}
		if v := child.Attr(dw.AttrLocation); v != nil && v.Class == ClassBlock && len(v.Block) > 0 {
			op := v.Block[0]
			switch {
			case op >= dw.OpRegBase && op < dw.OpRegBase+32:
				p.Register = int(op - dw.OpRegBase)
			case op == dw.OpFbreg:
				b := makeBuf(fs.d.order, cu.secName, child.Off, v.Block[1:])
				p.FBOffset = b.sleb()
			default:
				continue
			}
		} else {
			continue
		}
		if v := child.Attr(dw.AttrCallValue); v != nil && v.Class == ClassBlock {
			p.Value = v.Block
		} else if v := child.Attr(dw.AttrGNUCallSiteValue); v != nil && v.Class == ClassBlock {
			p.Value = v.Block
		}
		if v := child.Attr(dw.AttrCallDataValue); v != nil && v.Class == ClassBlock {
			p.Data = v.Block
		} else if v := child.Attr(dw.AttrGNUCallSiteData); v != nil && v.Class == ClassBlock {
			p.Data = v.Block
		}
		cs.Params = append(cs.Params, p)
	}
	if fs.u.callSites == nil {
		fs.u.callSites = make(map[uint64]*CallSite)
	}
	fs.u.callSites[retPC] = cs
}

// CallSiteAt returns the call site in u whose return PC is pc, if the
// unit has been expanded and recorded one.
func (u *Unit) CallSiteAt(pc uint64) *CallSite { return u.callSites[pc] }

// attachPhysname sets the symbol's linkage name, deferring to the end
// of the expansion when it must come from a reference chain.
func (fs *fullScan) attachPhysname(sym *Symbol, die *DIE) {
	if ln := fs.linkageName(die); ln != "" {
		sym.LinkageName = ln
		if sym.Loc == LocBlock {
			sym.ConstMethod, sym.VolatileMethod, sym.RefQual = methodQualifiers(ln)
		}
		return
	}
	if die.Attr(dw.AttrSpecification) == nil && die.Attr(dw.AttrAbstractOrigin) == nil {
		return
	}
	dp := &delayedPhysname{sym: sym, die: die, cu: fs.cu}
	if fs.d.CheckPhysname {
		dp.resolve(fs.d)
		return
	}
	fs.u.delayed = append(fs.u.delayed, dp)
}

func (dp *delayedPhysname) setLinkageName(ln string) {
	dp.sym.LinkageName = ln
	if dp.sym.Loc == LocBlock {
		dp.sym.ConstMethod, dp.sym.VolatileMethod, dp.sym.RefQual = methodQualifiers(ln)
	}
}

func (dp *delayedPhysname) resolve(d *Data) {
	die, cu := dp.die, dp.cu
	const maxChain = 8
	for i := 0; i < maxChain; i++ {
		if s, ok := cu.attrString(die, dw.AttrLinkageName); ok {
			dp.setLinkageName(s)
			return
		}
		if s, ok := cu.attrString(die, dw.AttrMIPSLinkageName); ok {
			dp.setLinkageName(s)
			return
		}
		ref := die.Attr(dw.AttrSpecification)
		if ref == nil {
			ref = die.Attr(dw.AttrAbstractOrigin)
		}
		if ref == nil {
			return
		}
		next, nu, err := cu.resolveRef(ref)
		if err != nil {
			d.complainf("%v", err)
			return
		}
		die, cu = next, nu
	}
}

func (fs *fullScan) resolveDelayed() {
	for _, dp := range fs.u.delayed {
		dp.resolve(fs.d)
	}
	fs.u.delayed = nil
}

func (fs *fullScan) finishMain() {
	if fs.mainName != "" && fs.d.sink != nil {
		fs.d.sink.SetMainSubprogram(fs.mainName, fs.lang)
	}
}

// mainNameFor is the conventional entry-point name per language.
func mainNameFor(lang dw.Lang) string {
	switch lang {
	case dw.LangGo:
		return "main.main"
	case dw.LangD:
		return "D main"
	}
	return "main"
}

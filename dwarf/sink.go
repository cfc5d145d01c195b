// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dwarf

import "github.com/aclements/go-dwarf/dw"

// A Domain classifies what namespace a symbol lives in.
type Domain int

const (
	DomainVar    Domain = iota // variables, functions, typedef names
	DomainStruct               // struct/union/enum tag names
	DomainModule               // modules and namespaces
	DomainLabel                // code labels
)

// A LocKind is the storage class of a symbol: how its value or
// address is obtained.
type LocKind int

const (
	LocUnresolved   LocKind = iota
	LocStatic               // fixed address
	LocComputed             // expression baton evaluated at runtime
	LocList                 // location list in .debug_loc/.debug_loclists
	LocConst                // constant value
	LocOptimizedOut         // empty location: no storage
	LocTypedef              // pure type name
	LocBlock                // function: value is a code block
	LocLabel
)

// A Placement says which top-level symbol list receives a symbol.
type Placement int

const (
	PlacementGlobal Placement = iota
	PlacementStatic
	// PlacementCurrent emits into the innermost open block.
	PlacementCurrent
)

// A Symbol is one fully materialized symbol.
type Symbol struct {
	Name        string
	LinkageName string
	// SearchName is the name lookups match against; usually Name,
	// but Ada prefers the encoded linkage form.
	SearchName string

	Domain Domain
	Loc    LocKind
	Lang   dw.Lang

	Addr    uint64 // LocStatic, LocBlock, LocLabel
	Value   int64  // LocConst
	Expr    []byte // LocComputed baton (raw DWARF expression bytes)
	ListOff uint64 // LocList

	Type *Type

	// MaybeCopied marks a static symbol that may be overridden by a
	// copy relocation in the main executable.
	MaybeCopied  bool
	IsArgument   bool
	IsArtificial bool

	// Method qualifiers recovered from the suffix of the demangled
	// linkage name (LocBlock symbols only).
	ConstMethod    bool
	VolatileMethod bool
	RefQual        int // 0 none, 1 lvalue (&), 2 rvalue (&&)
}

// A PartialSym is the cheap first-pass form of a symbol.
type PartialSym struct {
	Name        string
	LinkageName string
	Domain      Domain
	Loc         LocKind
	Placement   Placement
	Addr        uint64
	Value       int64
	Lang        dw.Lang
}

// A CallSite records one DW_TAG_call_site, keyed by its return PC.
type CallSite struct {
	ReturnPC uint64
	Target   []byte // call target expression, if any
	Params   []CallSiteParam
}

// A CallSiteParam records a call-site parameter's location key and
// value expressions.
type CallSiteParam struct {
	// Register is the DWARF register number key, or -1 when the
	// parameter is keyed by a frame-base offset.
	Register int
	FBOffset int64
	Value    []byte // DW_AT_call_value expression
	Data     []byte // DW_AT_call_data_value expression
}

// A SymbolSink receives everything the reader materializes: partial
// symbols and their symtabs in the first pass, and compunits, blocks,
// line tables, and full symbols in the second.
//
// Blocks nest: BeginBlock/EndBlock bracket lexical scopes under the
// compunit; PlacementCurrent symbols land in the innermost open
// block.
type SymbolSink interface {
	BeginPartialSymtab(u *Unit, filename, dirname string)
	AddPartialSym(u *Unit, p PartialSym)
	EndPartialSymtab(u *Unit, low, high uint64)

	BeginCompunit(u *Unit, producer string, lang dw.Lang, filename, dirname string, lowPC uint64)
	StartSubfile(path string)
	RecordLine(subfile string, line int, addr uint64, isStmt bool)
	BeginBlock(low, high uint64)
	EndBlock()
	EmitSymbol(p Placement, sym *Symbol)
	SetMainSubprogram(name string, lang dw.Lang)
	EndCompunit(u *Unit)
}

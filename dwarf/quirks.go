// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Producer-specific fixups. Each quirk is gated by a producer or
// language check and rewrites already-built types in place, so types
// cached before the quirk ran stay identical objects afterward.

package dwarf

import (
	"strconv"
	"strings"

	"github.com/aclements/go-dwarf/dw"
)

const (
	rustEnumDisr    = "RUST$ENUM$DISR"
	rustEncodedEnum = "RUST$ENCODED$ENUM$"
)

// rustRewriteEnum rewrites the union encodings old rustc used for
// enums into a struct with a variant part. Two encodings exist:
//
// A union whose single field is named RUST$ENCODED$ENUM$d1$d2$...$Name
// is a niche-optimized two-variant enum: the numbers are the field
// path to the implicit discriminant inside the data variant, and Name
// is the dataless variant selected when that discriminant reads 0.
//
// A union whose every field is a struct carrying a leading
// RUST$ENUM$DISR member is a general enum: the DISR members all alias
// the discriminant, whose enum type names one value per variant.
func (u *Unit) rustRewriteEnum(die *DIE, t *Type) {
	if t.Code != TypeUnion || t.Variant != nil {
		return
	}
	if len(t.Fields) == 1 && strings.HasPrefix(t.Fields[0].Name, rustEncodedEnum) {
		u.rustRewriteEncoded(t)
		return
	}
	if len(t.Fields) == 0 {
		return
	}
	for _, f := range t.Fields {
		if f.Type == nil || f.Type.Code != TypeStruct || len(f.Type.Fields) == 0 ||
			f.Type.Fields[0].Name != rustEnumDisr {
			return
		}
	}
	u.rustRewriteGeneral(t)
}

func (u *Unit) rustRewriteEncoded(t *Type) {
	tail := t.Fields[0].Name[len(rustEncodedEnum):]
	parts := strings.Split(tail, "$")
	var path []int
	i := 0
	for ; i < len(parts); i++ {
		n, err := strconv.Atoi(parts[i])
		if err != nil {
			break
		}
		path = append(path, n)
	}
	if i == len(parts) || len(path) == 0 {
		u.d.complainf("malformed Rust encoded enum name %q (unit 0x%x)", t.Fields[0].Name, u.off)
		return
	}
	zeroVariant := strings.Join(parts[i:], "$")

	t.Code = TypeStruct
	dataField := t.Fields[0]
	dataField.Name = variantNameOf(dataField.Type)
	empty := &Type{Code: TypeStruct, Name: zeroVariant, incomplete: false}
	t.Fields = []Field{dataField, {Name: zeroVariant, Type: empty}}
	t.Variant = &Variant{
		DiscrField:   -1,
		DiscrPath:    path,
		Branches:     []VariantBranch{{Value: 0, FieldIndex: 1}},
		DefaultIndex: 0,
	}
}

func (u *Unit) rustRewriteGeneral(t *Type) {
	disr := t.Fields[0].Type.Fields[0]
	discrType := disr.Type

	vi := &Variant{DiscrField: 0, DefaultIndex: -1}
	fields := []Field{{Name: "<<discriminant>>", Type: discrType, Artificial: true}}
	for i, f := range t.Fields {
		// Strip the aliased DISR member from each variant's struct.
		vt := *f.Type
		vt.Fields = append([]Field(nil), f.Type.Fields[1:]...)
		name := variantNameOf(f.Type)
		if name == "" {
			name = f.Name
		}
		fields = append(fields, Field{Name: name, Type: &vt, ByteOffset: f.ByteOffset})
		val := uint64(i)
		if discrType != nil {
			for _, ev := range discrType.Enums {
				if lastNameComponent(ev.Name) == name {
					val = uint64(ev.Val)
					break
				}
			}
		}
		vi.Branches = append(vi.Branches, VariantBranch{Value: val, FieldIndex: i + 1})
	}
	t.Code = TypeStruct
	t.Fields = fields
	t.Variant = vi
}

// variantNameOf extracts the variant's display name from its struct
// type, which rustc names "Enum::Variant".
func variantNameOf(t *Type) string {
	if t == nil {
		return ""
	}
	return lastNameComponent(t.Name)
}

// quirksPostprocess runs after all of a unit's DIEs are read.
func (fs *fullScan) quirksPostprocess() {
	if fs.lang == dw.LangGo {
		fs.goFixupPackaging()
	}
	if strings.Contains(fs.u.producer, "Intel(R)") {
		fs.iccFixupIncomplete()
	}
}

// goFixupPackaging publishes a Go unit's package as a module symbol.
// The Go compiler emits no package DIE, but every function name
// carries its package path ("io/ioutil.ReadFile"), so the package is
// recovered from the unit's subprograms.
func (fs *fullScan) goFixupPackaging() {
	var pkg string
	for die := fs.cu.root.Child; die != nil; die = die.Sibling {
		if die.Tag != dw.TagSubprogram {
			continue
		}
		p := goPackageName(fs.dieName(die))
		if p == "" {
			continue
		}
		if pkg == "" {
			pkg = p
		} else if p != pkg {
			fs.d.complainf("Go unit 0x%x mixes packages %q and %q", fs.u.off, pkg, p)
		}
	}
	if pkg == "" {
		return
	}
	fs.emit(PlacementStatic, &Symbol{Name: pkg, SearchName: pkg,
		Domain: DomainModule, Loc: LocTypedef, Lang: fs.lang,
		Type: &Type{Code: TypeModule, Name: pkg}})
}

// goPackageName extracts the package path from a Go symbol name:
// everything up to the first dot after the last slash. Unqualified
// names (assembly entry points) yield "".
func goPackageName(name string) string {
	slash := strings.LastIndexByte(name, '/')
	dot := strings.IndexByte(name[slash+1:], '.')
	if dot <= 0 {
		return ""
	}
	return name[:slash+1+dot]
}

// iccFixupIncomplete marks zero-sized composite types incomplete. ICC
// emits forward declarations with a zero byte size and no
// DW_AT_declaration flag.
func (fs *fullScan) iccFixupIncomplete() {
	for k, t := range fs.d.dieTypes {
		if k.u != fs.cu {
			continue
		}
		if (t.Code == TypeStruct || t.Code == TypeUnion) && t.Size == 0 && len(t.Fields) == 0 {
			t.incomplete = true
		}
	}
}

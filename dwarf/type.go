// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dwarf

import (
	"encoding/binary"
	"fmt"

	"github.com/aclements/go-dwarf/dw"
)

// A TypeCode discriminates the kinds of types the reader constructs.
type TypeCode int

const (
	TypeError TypeCode = iota // unresolvable type; Name encodes the bad offset
	TypeVoid
	TypeBase
	TypePointer
	TypeReference
	TypeRvalueRef
	TypePtrToMember
	TypeTypedef
	TypeArray
	TypeSubrange
	TypeStruct
	TypeUnion
	TypeEnum
	TypeFunc
	TypeSet
	TypeString
	TypeNamespace
	TypeModule
)

// A Type is a node in the type graph. Types are constructed lazily
// from DIEs and cached by (unit, DIE offset); a cached type is never
// replaced, so reference cycles resolve to the skeleton installed
// before member construction recursed.
type Type struct {
	Code  TypeCode
	Name  string
	Size  int64
	Align int64

	Encoding dw.Encoding // TypeBase

	// Target is the pointee, element, typedef target, referenced
	// type, or function return type, depending on Code.
	Target *Type

	Fields []Field     // TypeStruct, TypeUnion, TypeFunc (parameters)
	Enums  []EnumValue // TypeEnum

	Unsigned bool // TypeEnum: no negative enumerator
	FlagEnum bool // TypeEnum: values pairwise bit-disjoint

	Const, Volatile, Restrict, Atomic bool

	Prototyped bool // TypeFunc
	NoReturn   bool
	CallConv   uint64
	Varargs    bool

	AddressClass uint64 // TypePointer

	// TypeSubrange bounds. Lower is always valid (language default
	// if absent).
	Lower    int64
	Upper    int64
	HasUpper bool
	Count    int64
	HasCount bool
	Stride   int64 // element stride in bits, 0 if natural

	ColumnMajor bool // TypeArray, per DW_AT_ordering

	// Variant describes a discriminated union rewritten from a
	// DW_TAG_variant_part (or from the Rust enum encodings).
	Variant *Variant

	ContainingType *Type // TypePtrToMember

	// incomplete marks a declaration-only skeleton.
	incomplete bool
}

// A Field is one member of a composite type or one parameter of a
// function type.
type Field struct {
	Name       string
	Type       *Type
	ByteOffset int64
	BitOffset  int64 // bit position for bitfields, from the low end
	BitSize    int64 // 0 for non-bitfields
	IsBase     bool  // inherited base class
	Artificial bool
}

// An EnumValue is one enumerator.
type EnumValue struct {
	Name string
	Val  int64
}

// A Variant is the side table of a discriminated union: which field
// discriminates, and which discriminant values select which fields.
type Variant struct {
	// DiscrField indexes the discriminant in Fields, or -1 when the
	// discriminant is implicit (Rust encoded enums).
	DiscrField int
	// DiscrPath, for implicit discriminants, is the field path to the
	// discriminating value inside the data variant.
	DiscrPath []int
	Branches  []VariantBranch
	// DefaultIndex is the field index of the default branch, or -1.
	DefaultIndex int
}

// A VariantBranch maps one discriminant value to a field index.
type VariantBranch struct {
	Value      uint64
	FieldIndex int
}

// Incomplete reports whether t is a declaration-only skeleton with no
// layout.
func (t *Type) Incomplete() bool { return t.incomplete }

func (t *Type) String() string {
	if t == nil {
		return "<nil type>"
	}
	if t.Name != "" {
		return t.Name
	}
	return fmt.Sprintf("<anonymous code=%d>", t.Code)
}

var voidType = &Type{Code: TypeVoid, Name: "void"}

// errorType constructs the marker type substituted for an
// unresolvable type DIE.
func errorType(u *Unit, off uint64) *Type {
	return &Type{Code: TypeError, Name: fmt.Sprintf("<unknown type at %s 0x%x>", u.secName, off)}
}

// TypeOf returns the type for die in u, constructing it on first use.
// Repeated calls return the identical object.
func (u *Unit) TypeOf(die *DIE) (*Type, error) {
	d := u.d
	key := dieKey{u, die.Off}
	if t, ok := d.dieTypes[key]; ok {
		return t, nil
	}
	if die.inProcess {
		return nil, errf(u.secName, die.Off, "cycle detected while constructing type")
	}
	die.inProcess = true
	defer func() { die.inProcess = false }()

	t, err := u.buildType(die, key)
	if err != nil {
		return nil, err
	}
	// buildType installs skeletons itself before recursing; make
	// sure the final object is what the hash holds.
	if prev, ok := d.dieTypes[key]; ok {
		return prev, nil
	}
	d.dieTypes[key] = t
	return t, nil
}

// install makes t the permanent type of key. Must run before member
// construction recurses so cycles resolve to t.
func (u *Unit) install(key dieKey, t *Type) *Type {
	u.d.dieTypes[key] = t
	return t
}

// attrTypeDie resolves die's DW_AT_type reference.
func (u *Unit) attrTypeDie(die *DIE) (*DIE, *Unit, error) {
	v := die.Attr(dw.AttrType)
	if v == nil {
		return nil, nil, nil
	}
	return u.resolveRef(v)
}

// dieType returns the type of die's DW_AT_type, or void when absent.
// An unresolvable target degrades to an error-marker type with a
// complaint, not a failure.
func (u *Unit) dieType(die *DIE) *Type {
	td, tu, err := u.attrTypeDie(die)
	if err != nil {
		u.d.complainf("%v", err)
		v := die.Attr(dw.AttrType)
		return errorType(u, v.Uint)
	}
	if td == nil {
		return voidType
	}
	t, err := tu.TypeOf(td)
	if err != nil {
		u.d.complainf("%v", err)
		return errorType(tu, td.Off)
	}
	return t
}

// byteSize reads DW_AT_byte_size, mapping the bogus 0xffffffff some
// producers emit to 0 with a complaint.
func (u *Unit) byteSize(die *DIE) int64 {
	v, ok := die.Uint(dw.AttrByteSize)
	if !ok {
		return 0
	}
	if v == 0xffffffff {
		u.d.complainf("DW_AT_byte_size 0xffffffff treated as 0 (unit 0x%x, die 0x%x)", u.off, die.Off)
		return 0
	}
	return int64(v)
}

func (u *Unit) dieName(die *DIE) string {
	s, _ := u.attrString(die, dw.AttrName)
	return s
}

func (u *Unit) buildType(die *DIE, key dieKey) (*Type, error) {
	switch die.Tag {
	case dw.TagBaseType:
		return u.buildBaseType(die, key), nil
	case dw.TagPointerType:
		return u.buildPointerType(die, key), nil
	case dw.TagReferenceType:
		return u.buildTagTargetType(die, key, TypeReference), nil
	case dw.TagRvalueReferenceType:
		return u.buildTagTargetType(die, key, TypeRvalueRef), nil
	case dw.TagTypedef:
		return u.buildTypedef(die, key), nil
	case dw.TagConstType:
		return u.buildQualified(die, key, func(t *Type) { t.Const = true }), nil
	case dw.TagVolatileType:
		return u.buildQualified(die, key, func(t *Type) { t.Volatile = true }), nil
	case dw.TagRestrictType:
		return u.buildQualified(die, key, func(t *Type) { t.Restrict = true }), nil
	case dw.TagAtomicType:
		return u.buildQualified(die, key, func(t *Type) { t.Atomic = true }), nil
	case dw.TagArrayType:
		return u.buildArrayType(die, key)
	case dw.TagSubrangeType:
		return u.buildSubrangeType(die, key), nil
	case dw.TagEnumerationType:
		return u.buildEnumType(die, key), nil
	case dw.TagStructType, dw.TagClassType, dw.TagUnionType:
		return u.buildStructType(die, key)
	case dw.TagSubroutineType, dw.TagSubprogram, dw.TagInlinedSubroutine:
		return u.buildFuncType(die, key), nil
	case dw.TagPtrToMemberType:
		return u.buildPtrToMemberType(die, key), nil
	case dw.TagSetType:
		t := u.install(key, &Type{Code: TypeSet, Name: u.dieName(die), Size: u.byteSize(die)})
		t.Target = u.dieType(die)
		return t, nil
	case dw.TagStringType:
		return u.install(key, &Type{Code: TypeString, Name: u.dieName(die), Size: u.byteSize(die)}), nil
	case dw.TagNamespace:
		return u.install(key, &Type{Code: TypeNamespace, Name: u.namespaceName(die)}), nil
	case dw.TagModule:
		return u.install(key, &Type{Code: TypeModule, Name: u.dieName(die)}), nil
	case dw.TagUnspecifiedType:
		return u.install(key, &Type{Code: TypeVoid, Name: u.dieName(die)}), nil
	}
	return nil, errf(u.secName, die.Off, "DIE tag %s does not describe a type", die.Tag)
}

func (u *Unit) buildBaseType(die *DIE, key dieKey) *Type {
	enc, _ := die.Uint(dw.AttrEncoding)
	t := u.install(key, &Type{
		Code:     TypeBase,
		Name:     u.dieName(die),
		Size:     u.byteSize(die),
		Encoding: dw.Encoding(enc),
	})
	if a, ok := die.Uint(dw.AttrAlignment); ok {
		t.Align = int64(a)
	}
	return t
}

func (u *Unit) buildPointerType(die *DIE, key dieKey) *Type {
	size := u.byteSize(die)
	if size == 0 {
		size = int64(u.addrSize)
	}
	t := u.install(key, &Type{Code: TypePointer, Name: u.dieName(die), Size: size})
	if a, ok := die.Uint(dw.AttrAlignment); ok {
		t.Align = int64(a)
	}
	if ac, ok := die.Uint(dw.AttrAddressClass); ok {
		t.AddressClass = ac
	}
	t.Target = u.dieType(die)
	return t
}

func (u *Unit) buildTagTargetType(die *DIE, key dieKey, code TypeCode) *Type {
	size := u.byteSize(die)
	if size == 0 {
		size = int64(u.addrSize)
	}
	t := u.install(key, &Type{Code: code, Name: u.dieName(die), Size: size})
	t.Target = u.dieType(die)
	return t
}

func (u *Unit) buildTypedef(die *DIE, key dieKey) *Type {
	t := u.install(key, &Type{Code: TypeTypedef, Name: u.dieName(die)})
	t.Target = u.dieType(die)
	if t.Target != nil {
		t.Size = t.Target.Size
	}
	return t
}

// buildQualified applies a CV qualifier. In C, qualifying an array
// type qualifies its element type, so the array is cloned with a
// qualified element.
func (u *Unit) buildQualified(die *DIE, key dieKey, apply func(*Type)) *Type {
	base := u.dieType(die)
	if base.Code == TypeArray {
		elem := *base.Target
		apply(&elem)
		arr := *base
		arr.Target = &elem
		return u.install(key, &arr)
	}
	q := *base
	q.Fields = base.Fields // share, not copy
	apply(&q)
	return u.install(key, &q)
}

func (u *Unit) buildArrayType(die *DIE, key dieKey) (*Type, error) {
	t := u.install(key, &Type{Code: TypeArray, Name: u.dieName(die)})
	// DW_ORD_col_major = 1.
	if ord, ok := die.Uint(dw.AttrOrdering); ok && ord == 1 {
		t.ColumnMajor = true
	}
	if s, ok := die.Uint(dw.AttrByteStride); ok {
		t.Stride = int64(s) * 8
	} else if s, ok := die.Uint(dw.AttrBitStride); ok {
		t.Stride = int64(s)
	}
	elem := u.dieType(die)

	// Collect the index subranges in document order.
	var dims []*Type
	for child := die.Child; child != nil; child = child.Sibling {
		if child.Tag != dw.TagSubrangeType && child.Tag != dw.TagEnumerationType {
			continue
		}
		st, err := u.TypeOf(child)
		if err != nil {
			return nil, err
		}
		dims = append(dims, st)
	}
	// Row-major nests the rightmost index innermost; column-major
	// the leftmost.
	inner := elem
	if t.ColumnMajor {
		for i := 0; i < len(dims)-1; i++ {
			inner = wrapArray(dims[i], inner)
		}
	} else {
		for i := len(dims) - 1; i > 0; i-- {
			inner = wrapArray(dims[i], inner)
		}
	}
	t.Target = inner
	var outerDim *Type
	if len(dims) > 0 {
		if t.ColumnMajor {
			outerDim = dims[len(dims)-1]
		} else {
			outerDim = dims[0]
		}
	}
	if size := u.byteSize(die); size != 0 {
		t.Size = size
	} else if outerDim != nil {
		if n, ok := dimCount(outerDim); ok {
			t.Size = n * inner.Size
		}
	}
	if outerDim != nil {
		t.Lower, t.Upper, t.HasUpper = outerDim.Lower, outerDim.Upper, outerDim.HasUpper
		t.Count, t.HasCount = outerDim.Count, outerDim.HasCount
	}
	return t, nil
}

// wrapArray builds the anonymous inner array for one dimension.
func wrapArray(dim *Type, elem *Type) *Type {
	a := &Type{Code: TypeArray, Target: elem,
		Lower: dim.Lower, Upper: dim.Upper, HasUpper: dim.HasUpper,
		Count: dim.Count, HasCount: dim.HasCount}
	if n, ok := dimCount(dim); ok {
		a.Size = n * elem.Size
	}
	return a
}

// dimCount returns the element count of a subrange dimension.
func dimCount(dim *Type) (int64, bool) {
	switch {
	case dim.HasCount:
		return dim.Count, true
	case dim.HasUpper:
		return dim.Upper - dim.Lower + 1, true
	}
	return 0, false
}

// defaultLowerBound is the language-specific default array base.
func defaultLowerBound(lang dw.Lang) int64 {
	switch lang {
	case dw.LangFortran77, dw.LangFortran90, dw.LangFortran95,
		dw.LangFortran03, dw.LangFortran08,
		dw.LangModula2, dw.LangModula3, dw.LangPascal83,
		dw.LangAda83, dw.LangAda95, dw.LangCobol74, dw.LangCobol85,
		dw.LangPLI:
		return 1
	}
	return 0
}

func (u *Unit) buildSubrangeType(die *DIE, key dieKey) *Type {
	t := u.install(key, &Type{Code: TypeSubrange, Name: u.dieName(die)})
	t.Lower = defaultLowerBound(u.lang)
	if v := die.Attr(dw.AttrLowerBound); v != nil {
		switch v.Class {
		case ClassSignedConstant:
			t.Lower = v.Int
		case ClassConstant:
			t.Lower = int64(v.Uint)
		}
		// Dynamic bounds (references, blocks) stay at the default.
	}
	if v := die.Attr(dw.AttrUpperBound); v != nil {
		switch v.Class {
		case ClassSignedConstant:
			t.Upper, t.HasUpper = v.Int, true
		case ClassConstant:
			t.Upper, t.HasUpper = int64(v.Uint), true
		}
	}
	if v := die.Attr(dw.AttrCount); v != nil {
		switch v.Class {
		case ClassSignedConstant:
			t.Count, t.HasCount = v.Int, true
		case ClassConstant:
			t.Count, t.HasCount = int64(v.Uint), true
		}
	}
	t.Target = u.dieType(die)
	t.Size = u.byteSize(die)
	if t.Size == 0 && t.Target != nil {
		t.Size = t.Target.Size
	}
	return t
}

func (u *Unit) buildEnumType(die *DIE, key dieKey) *Type {
	t := u.install(key, &Type{Code: TypeEnum, Name: u.dieName(die), Size: u.byteSize(die)})
	t.incomplete = die.Flag(dw.AttrDeclaration)
	t.Target = u.dieType(die) // underlying type, if stated
	t.Unsigned = true
	flag := true
	var seen uint64
	for child := die.Child; child != nil; child = child.Sibling {
		if child.Tag != dw.TagEnumerator {
			continue
		}
		ev := EnumValue{Name: u.dieName(child)}
		if v := child.Attr(dw.AttrConstValue); v != nil {
			switch v.Class {
			case ClassSignedConstant:
				ev.Val = v.Int
			default:
				ev.Val = int64(v.Uint)
			}
		}
		if ev.Val < 0 {
			t.Unsigned = false
			flag = false
		} else if uv := uint64(ev.Val); uv != 0 {
			if seen&uv != 0 {
				flag = false
			}
			seen |= uv
		}
		t.Enums = append(t.Enums, ev)
	}
	t.FlagEnum = flag && len(t.Enums) > 1
	return t
}

func (u *Unit) buildFuncType(die *DIE, key dieKey) *Type {
	t := u.install(key, &Type{Code: TypeFunc, Name: u.dieName(die)})
	t.Target = u.dieType(die) // return type
	t.Prototyped = die.Flag(dw.AttrPrototyped)
	t.NoReturn = die.Flag(dw.AttrNoreturn)
	if cc, ok := die.Uint(dw.AttrCallingConvention); ok {
		t.CallConv = cc
	}
	for child := die.Child; child != nil; child = child.Sibling {
		switch child.Tag {
		case dw.TagFormalParameter:
			t.Fields = append(t.Fields, Field{
				Name:       u.dieName(child),
				Type:       u.dieType(child),
				Artificial: child.Flag(dw.AttrArtificial),
			})
		case dw.TagUnspecifiedParams:
			t.Varargs = true
		}
	}
	return t
}

func (u *Unit) buildPtrToMemberType(die *DIE, key dieKey) *Type {
	t := u.install(key, &Type{Code: TypePtrToMember, Size: u.byteSize(die)})
	t.Target = u.dieType(die)
	if v := die.Attr(dw.AttrContainingType); v != nil {
		if cd, cu, err := u.resolveRef(v); err == nil {
			if ct, err := cu.TypeOf(cd); err == nil {
				t.ContainingType = ct
			}
		}
	}
	return t
}

func (u *Unit) buildStructType(die *DIE, key dieKey) (*Type, error) {
	code := TypeStruct
	if die.Tag == dw.TagUnionType {
		code = TypeUnion
	}
	t := u.install(key, &Type{Code: code, Name: u.structName(die), Size: u.byteSize(die)})
	t.incomplete = die.Flag(dw.AttrDeclaration)
	if a, ok := die.Uint(dw.AttrAlignment); ok {
		t.Align = int64(a)
	}

	var variantPart *DIE
	for child := die.Child; child != nil; child = child.Sibling {
		switch child.Tag {
		case dw.TagMember:
			f, err := u.buildMember(child, t)
			if err != nil {
				return nil, err
			}
			t.Fields = append(t.Fields, f)
		case dw.TagInheritance:
			f, err := u.buildMember(child, t)
			if err != nil {
				return nil, err
			}
			f.IsBase = true
			if f.Type != nil && f.Name == "" {
				f.Name = f.Type.Name
			}
			t.Fields = append(t.Fields, f)
		case dw.TagVariantPart:
			variantPart = child
		}
	}
	if variantPart != nil {
		if err := u.applyVariantPart(t, variantPart); err != nil {
			return nil, err
		}
	}
	if u.lang == dw.LangRust {
		u.rustRewriteEnum(die, t)
	}
	return t, nil
}

// buildMember decodes one DW_TAG_member (or DW_TAG_inheritance).
func (u *Unit) buildMember(die *DIE, owner *Type) (Field, error) {
	f := Field{Name: u.dieName(die)}
	f.Artificial = die.Flag(dw.AttrArtificial)
	f.Type = u.dieType(die)

	if v := die.Attr(dw.AttrDataMemberLoc); v != nil {
		switch v.Class {
		case ClassConstant:
			f.ByteOffset = int64(v.Uint)
		case ClassSignedConstant:
			f.ByteOffset = v.Int
		case ClassBlock:
			// The common single-opcode form DW_OP_plus_uconst N is
			// constant-folded; anything else is dynamic.
			if len(v.Block) >= 2 && v.Block[0] == dw.OpPlusUconst {
				b := makeBuf(u.d.order, u.secName, die.Off, v.Block[1:])
				f.ByteOffset = int64(b.uleb())
			} else {
				u.d.complainf("dynamic member location for %q not supported (unit 0x%x)", f.Name, u.off)
			}
		case ClassSecOffset:
			u.d.complainf("location list for member %q not supported in class layout (unit 0x%x)", f.Name, u.off)
		}
	}

	if bits, ok := die.Uint(dw.AttrBitSize); ok {
		f.BitSize = int64(bits)
		if dbo, ok := die.Uint(dw.AttrDataBitOffset); ok {
			// v4+: bit offset from the start of the containing
			// entity, byte-order independent.
			f.ByteOffset = 0
			f.BitOffset = int64(dbo)
		} else if bo, ok := die.Uint(dw.AttrBitOffset); ok {
			// Legacy DW_AT_bit_offset counts from the most
			// significant bit of the storage unit.
			storage := int64(0)
			if n, ok := die.Uint(dw.AttrByteSize); ok {
				storage = int64(n)
			} else if f.Type != nil {
				storage = f.Type.Size
			}
			if u.d.arch.ByteOrder() == binary.BigEndian {
				f.BitOffset = int64(bo)
			} else {
				f.BitOffset = storage*8 - int64(bo) - f.BitSize
			}
		}
	}
	return f, nil
}

// applyVariantPart rewrites a DW_TAG_variant_part into a tagged
// union: each variant's members join the owner's field list, and the
// side table maps discriminant values to field indexes.
func (u *Unit) applyVariantPart(t *Type, part *DIE) error {
	vi := &Variant{DiscrField: -1, DefaultIndex: -1}

	var discrDie *DIE
	if v := part.Attr(dw.AttrDiscr); v != nil {
		dd, _, err := u.resolveRef(v)
		if err != nil {
			return err
		}
		discrDie = dd
	}

	// The discriminant member may be a direct child of the variant
	// part; add it to the owner if it is not already among its
	// fields.
	addMember := func(m *DIE) (int, error) {
		f, err := u.buildMember(m, t)
		if err != nil {
			return -1, err
		}
		t.Fields = append(t.Fields, f)
		return len(t.Fields) - 1, nil
	}

	for child := part.Child; child != nil; child = child.Sibling {
		switch child.Tag {
		case dw.TagMember:
			i, err := addMember(child)
			if err != nil {
				return err
			}
			if discrDie != nil && child.Off == discrDie.Off {
				vi.DiscrField = i
			}
		case dw.TagVariant:
			for m := child.Child; m != nil; m = m.Sibling {
				if m.Tag != dw.TagMember {
					continue
				}
				i, err := addMember(m)
				if err != nil {
					return err
				}
				if v := child.Attr(dw.AttrDiscrValue); v != nil {
					val := v.Uint
					if v.Class == ClassSignedConstant {
						val = uint64(v.Int)
					}
					vi.Branches = append(vi.Branches, VariantBranch{Value: val, FieldIndex: i})
				} else {
					vi.DefaultIndex = i
				}
			}
		}
	}
	t.Variant = vi
	return nil
}

// structName resolves a composite type's name, following
// DW_AT_specification and falling back to the last component of a
// demangled linkage name for unnamed structs.
func (u *Unit) structName(die *DIE) string {
	if s := u.dieName(die); s != "" {
		return s
	}
	if v := die.Attr(dw.AttrSpecification); v != nil {
		if sd, su, err := u.resolveRef(v); err == nil {
			return su.dieName(sd)
		}
	}
	if ln, ok := u.attrString(die, dw.AttrLinkageName); ok {
		return lastNameComponent(demangleDisplay(ln))
	}
	return ""
}

// anonymousNamespace is the canonical display name for unnamed C++
// namespaces.
const anonymousNamespace = "(anonymous namespace)"

func (u *Unit) namespaceName(die *DIE) string {
	if s := u.dieName(die); s != "" {
		return s
	}
	return anonymousNamespace
}

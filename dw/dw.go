// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package dw defines the DWARF constant spaces used by the reader:
// tags, attributes, forms, opcodes, languages, and encodings.
//
// Values follow the DWARF v5 specification, plus the GNU and vendor
// extensions the reader understands.
package dw

import "fmt"

// A Tag is the kind of a debugging information entry.
type Tag uint32

const (
	TagArrayType            Tag = 0x01
	TagClassType            Tag = 0x02
	TagEntryPoint           Tag = 0x03
	TagEnumerationType      Tag = 0x04
	TagFormalParameter      Tag = 0x05
	TagImportedDeclaration  Tag = 0x08
	TagLabel                Tag = 0x0a
	TagLexicalBlock         Tag = 0x0b
	TagMember               Tag = 0x0d
	TagPointerType          Tag = 0x0f
	TagReferenceType        Tag = 0x10
	TagCompileUnit          Tag = 0x11
	TagStringType           Tag = 0x12
	TagStructType           Tag = 0x13
	TagSubroutineType       Tag = 0x15
	TagTypedef              Tag = 0x16
	TagUnionType            Tag = 0x17
	TagUnspecifiedParams    Tag = 0x18
	TagVariant              Tag = 0x19
	TagCommonBlock          Tag = 0x1a
	TagCommonInclusion      Tag = 0x1b
	TagInheritance          Tag = 0x1c
	TagInlinedSubroutine    Tag = 0x1d
	TagModule               Tag = 0x1e
	TagPtrToMemberType      Tag = 0x1f
	TagSetType              Tag = 0x20
	TagSubrangeType         Tag = 0x21
	TagWithStmt             Tag = 0x22
	TagAccessDeclaration    Tag = 0x23
	TagBaseType             Tag = 0x24
	TagCatchBlock           Tag = 0x25
	TagConstType            Tag = 0x26
	TagConstant             Tag = 0x27
	TagEnumerator           Tag = 0x28
	TagFileType             Tag = 0x29
	TagFriend               Tag = 0x2a
	TagNamelist             Tag = 0x2b
	TagNamelistItem         Tag = 0x2c
	TagPackedType           Tag = 0x2d
	TagSubprogram           Tag = 0x2e
	TagTemplateTypeParam    Tag = 0x2f
	TagTemplateValueParam   Tag = 0x30
	TagThrownType           Tag = 0x31
	TagTryBlock             Tag = 0x32
	TagVariantPart          Tag = 0x33
	TagVariable             Tag = 0x34
	TagVolatileType         Tag = 0x35
	TagDwarfProcedure       Tag = 0x36
	TagRestrictType         Tag = 0x37
	TagInterfaceType        Tag = 0x38
	TagNamespace            Tag = 0x39
	TagImportedModule       Tag = 0x3a
	TagUnspecifiedType      Tag = 0x3b
	TagPartialUnit          Tag = 0x3c
	TagImportedUnit         Tag = 0x3d
	TagCondition            Tag = 0x3f
	TagSharedType           Tag = 0x40
	TagTypeUnit             Tag = 0x41
	TagRvalueReferenceType  Tag = 0x42
	TagTemplateAlias        Tag = 0x43
	TagCoarrayType          Tag = 0x44
	TagGenericSubrange      Tag = 0x45
	TagDynamicType          Tag = 0x46
	TagAtomicType           Tag = 0x47
	TagCallSite             Tag = 0x48
	TagCallSiteParameter    Tag = 0x49
	TagSkeletonUnit         Tag = 0x4a
	TagImmutableType        Tag = 0x4b
	TagGNUCallSite          Tag = 0x4109
	TagGNUCallSiteParameter Tag = 0x410a
	TagGNUTemplateParamPack Tag = 0x4107
)

var tagNames = map[Tag]string{
	TagArrayType:            "DW_TAG_array_type",
	TagClassType:            "DW_TAG_class_type",
	TagEnumerationType:      "DW_TAG_enumeration_type",
	TagFormalParameter:      "DW_TAG_formal_parameter",
	TagImportedDeclaration:  "DW_TAG_imported_declaration",
	TagLexicalBlock:         "DW_TAG_lexical_block",
	TagMember:               "DW_TAG_member",
	TagPointerType:          "DW_TAG_pointer_type",
	TagReferenceType:        "DW_TAG_reference_type",
	TagCompileUnit:          "DW_TAG_compile_unit",
	TagStringType:           "DW_TAG_string_type",
	TagStructType:           "DW_TAG_structure_type",
	TagSubroutineType:       "DW_TAG_subroutine_type",
	TagTypedef:              "DW_TAG_typedef",
	TagUnionType:            "DW_TAG_union_type",
	TagVariant:              "DW_TAG_variant",
	TagInheritance:          "DW_TAG_inheritance",
	TagInlinedSubroutine:    "DW_TAG_inlined_subroutine",
	TagModule:               "DW_TAG_module",
	TagPtrToMemberType:      "DW_TAG_ptr_to_member_type",
	TagSetType:              "DW_TAG_set_type",
	TagSubrangeType:         "DW_TAG_subrange_type",
	TagBaseType:             "DW_TAG_base_type",
	TagCatchBlock:           "DW_TAG_catch_block",
	TagConstType:            "DW_TAG_const_type",
	TagConstant:             "DW_TAG_constant",
	TagEnumerator:           "DW_TAG_enumerator",
	TagSubprogram:           "DW_TAG_subprogram",
	TagTemplateTypeParam:    "DW_TAG_template_type_parameter",
	TagTemplateValueParam:   "DW_TAG_template_value_parameter",
	TagTryBlock:             "DW_TAG_try_block",
	TagVariantPart:          "DW_TAG_variant_part",
	TagVariable:             "DW_TAG_variable",
	TagVolatileType:         "DW_TAG_volatile_type",
	TagRestrictType:         "DW_TAG_restrict_type",
	TagNamespace:            "DW_TAG_namespace",
	TagImportedModule:       "DW_TAG_imported_module",
	TagUnspecifiedType:      "DW_TAG_unspecified_type",
	TagPartialUnit:          "DW_TAG_partial_unit",
	TagImportedUnit:         "DW_TAG_imported_unit",
	TagTypeUnit:             "DW_TAG_type_unit",
	TagRvalueReferenceType:  "DW_TAG_rvalue_reference_type",
	TagAtomicType:           "DW_TAG_atomic_type",
	TagCallSite:             "DW_TAG_call_site",
	TagCallSiteParameter:    "DW_TAG_call_site_parameter",
	TagSkeletonUnit:         "DW_TAG_skeleton_unit",
	TagGNUCallSite:          "DW_TAG_GNU_call_site",
	TagGNUCallSiteParameter: "DW_TAG_GNU_call_site_parameter",
}

func (t Tag) String() string {
	if s, ok := tagNames[t]; ok {
		return s
	}
	return fmt.Sprintf("DW_TAG_0x%x", uint32(t))
}

// An Attr identifies an attribute of a debugging information entry.
type Attr uint32

const (
	AttrSibling            Attr = 0x01
	AttrLocation           Attr = 0x02
	AttrName               Attr = 0x03
	AttrOrdering           Attr = 0x09
	AttrByteSize           Attr = 0x0b
	AttrBitOffset          Attr = 0x0c
	AttrBitSize            Attr = 0x0d
	AttrStmtList           Attr = 0x10
	AttrLowPC              Attr = 0x11
	AttrHighPC             Attr = 0x12
	AttrLanguage           Attr = 0x13
	AttrDiscr              Attr = 0x15
	AttrDiscrValue         Attr = 0x16
	AttrVisibility         Attr = 0x17
	AttrImport             Attr = 0x18
	AttrStringLength       Attr = 0x19
	AttrCommonRef          Attr = 0x1a
	AttrCompDir            Attr = 0x1b
	AttrConstValue         Attr = 0x1c
	AttrContainingType     Attr = 0x1d
	AttrDefaultValue       Attr = 0x1e
	AttrInline             Attr = 0x20
	AttrIsOptional         Attr = 0x21
	AttrLowerBound         Attr = 0x22
	AttrProducer           Attr = 0x25
	AttrPrototyped         Attr = 0x27
	AttrReturnAddr         Attr = 0x2a
	AttrStartScope         Attr = 0x2c
	AttrBitStride          Attr = 0x2e
	AttrUpperBound         Attr = 0x2f
	AttrAbstractOrigin     Attr = 0x31
	AttrAccessibility      Attr = 0x32
	AttrAddressClass       Attr = 0x33
	AttrArtificial         Attr = 0x34
	AttrBaseTypes          Attr = 0x35
	AttrCallingConvention  Attr = 0x36
	AttrCount              Attr = 0x37
	AttrDataMemberLoc      Attr = 0x38
	AttrDeclColumn         Attr = 0x39
	AttrDeclFile           Attr = 0x3a
	AttrDeclLine           Attr = 0x3b
	AttrDeclaration        Attr = 0x3c
	AttrDiscrList          Attr = 0x3d
	AttrEncoding           Attr = 0x3e
	AttrExternal           Attr = 0x3f
	AttrFrameBase          Attr = 0x40
	AttrFriend             Attr = 0x41
	AttrIdentifierCase     Attr = 0x42
	AttrMacroInfo          Attr = 0x43
	AttrNamelistItem       Attr = 0x44
	AttrPriority           Attr = 0x45
	AttrSegment            Attr = 0x46
	AttrSpecification      Attr = 0x47
	AttrStaticLink         Attr = 0x48
	AttrType               Attr = 0x49
	AttrUseLocation        Attr = 0x4a
	AttrVarParam           Attr = 0x4b
	AttrVirtuality         Attr = 0x4c
	AttrVtableElemLoc      Attr = 0x4d
	AttrAllocated          Attr = 0x4e
	AttrAssociated         Attr = 0x4f
	AttrDataLocation       Attr = 0x50
	AttrByteStride         Attr = 0x51
	AttrEntryPC            Attr = 0x52
	AttrUseUTF8            Attr = 0x53
	AttrExtension          Attr = 0x54
	AttrRanges             Attr = 0x55
	AttrTrampoline         Attr = 0x56
	AttrCallColumn         Attr = 0x57
	AttrCallFile           Attr = 0x58
	AttrCallLine           Attr = 0x59
	AttrDescription        Attr = 0x5a
	AttrBinaryScale        Attr = 0x5b
	AttrDecimalScale       Attr = 0x5c
	AttrSmall              Attr = 0x5d
	AttrDecimalSign        Attr = 0x5e
	AttrDigitCount         Attr = 0x5f
	AttrPictureString      Attr = 0x60
	AttrMutable            Attr = 0x61
	AttrThreadsScaled      Attr = 0x62
	AttrExplicit           Attr = 0x63
	AttrObjectPointer      Attr = 0x64
	AttrEndianity          Attr = 0x65
	AttrElemental          Attr = 0x66
	AttrPure               Attr = 0x67
	AttrRecursive          Attr = 0x68
	AttrSignature          Attr = 0x69
	AttrMainSubprogram     Attr = 0x6a
	AttrDataBitOffset      Attr = 0x6b
	AttrConstExpr          Attr = 0x6c
	AttrEnumClass          Attr = 0x6d
	AttrLinkageName        Attr = 0x6e
	AttrStringLengthBitSz  Attr = 0x6f
	AttrStringLengthByteSz Attr = 0x70
	AttrRank               Attr = 0x71
	AttrStrOffsetsBase     Attr = 0x72
	AttrAddrBase           Attr = 0x73
	AttrRnglistsBase       Attr = 0x74
	AttrDwoName            Attr = 0x76
	AttrReference          Attr = 0x77
	AttrRvalueReference    Attr = 0x78
	AttrMacros             Attr = 0x79
	AttrCallAllCalls       Attr = 0x7a
	AttrCallAllTailCalls   Attr = 0x7c
	AttrCallReturnPC       Attr = 0x7d
	AttrCallValue          Attr = 0x7e
	AttrCallOrigin         Attr = 0x7f
	AttrCallParameter      Attr = 0x80
	AttrCallPC             Attr = 0x81
	AttrCallTailCall       Attr = 0x82
	AttrCallTarget         Attr = 0x83
	AttrCallDataValue      Attr = 0x86
	AttrCallDataLocation   Attr = 0x85
	AttrNoreturn           Attr = 0x87
	AttrAlignment          Attr = 0x88
	AttrExportSymbols      Attr = 0x89
	AttrDeleted            Attr = 0x8a
	AttrDefaulted          Attr = 0x8b
	AttrLoclistsBase       Attr = 0x8c

	// GNU extensions.
	AttrMIPSLinkageName   Attr = 0x2007
	AttrGNUCallSiteValue  Attr = 0x2111
	AttrGNUCallSiteData   Attr = 0x2112
	AttrGNUCallSiteTarget Attr = 0x2113
	AttrGNUTailCall       Attr = 0x2115
	AttrGNUAllCallSites   Attr = 0x2117
	AttrGNUMacros         Attr = 0x2119
	AttrGNUDwoName        Attr = 0x2130
	AttrGNUDwoID          Attr = 0x2131
	AttrGNURangesBase     Attr = 0x2132
	AttrGNUAddrBase       Attr = 0x2133
	AttrGNUPubnames       Attr = 0x2134
	AttrGNUPubtypes       Attr = 0x2135
)

var attrNames = map[Attr]string{
	AttrSibling:           "DW_AT_sibling",
	AttrLocation:          "DW_AT_location",
	AttrName:              "DW_AT_name",
	AttrOrdering:          "DW_AT_ordering",
	AttrByteSize:          "DW_AT_byte_size",
	AttrBitOffset:         "DW_AT_bit_offset",
	AttrBitSize:           "DW_AT_bit_size",
	AttrStmtList:          "DW_AT_stmt_list",
	AttrLowPC:             "DW_AT_low_pc",
	AttrHighPC:            "DW_AT_high_pc",
	AttrLanguage:          "DW_AT_language",
	AttrDiscr:             "DW_AT_discr",
	AttrDiscrValue:        "DW_AT_discr_value",
	AttrImport:            "DW_AT_import",
	AttrCompDir:           "DW_AT_comp_dir",
	AttrConstValue:        "DW_AT_const_value",
	AttrContainingType:    "DW_AT_containing_type",
	AttrInline:            "DW_AT_inline",
	AttrLowerBound:        "DW_AT_lower_bound",
	AttrProducer:          "DW_AT_producer",
	AttrPrototyped:        "DW_AT_prototyped",
	AttrBitStride:         "DW_AT_bit_stride",
	AttrUpperBound:        "DW_AT_upper_bound",
	AttrAbstractOrigin:    "DW_AT_abstract_origin",
	AttrArtificial:        "DW_AT_artificial",
	AttrCount:             "DW_AT_count",
	AttrDataMemberLoc:     "DW_AT_data_member_location",
	AttrDeclFile:          "DW_AT_decl_file",
	AttrDeclLine:          "DW_AT_decl_line",
	AttrDeclaration:       "DW_AT_declaration",
	AttrEncoding:          "DW_AT_encoding",
	AttrExternal:          "DW_AT_external",
	AttrFrameBase:         "DW_AT_frame_base",
	AttrMacroInfo:         "DW_AT_macro_info",
	AttrSpecification:     "DW_AT_specification",
	AttrType:              "DW_AT_type",
	AttrVirtuality:        "DW_AT_virtuality",
	AttrByteStride:        "DW_AT_byte_stride",
	AttrEntryPC:           "DW_AT_entry_pc",
	AttrRanges:            "DW_AT_ranges",
	AttrSignature:         "DW_AT_signature",
	AttrMainSubprogram:    "DW_AT_main_subprogram",
	AttrDataBitOffset:     "DW_AT_data_bit_offset",
	AttrLinkageName:       "DW_AT_linkage_name",
	AttrStrOffsetsBase:    "DW_AT_str_offsets_base",
	AttrAddrBase:          "DW_AT_addr_base",
	AttrRnglistsBase:      "DW_AT_rnglists_base",
	AttrDwoName:           "DW_AT_dwo_name",
	AttrMacros:            "DW_AT_macros",
	AttrCallReturnPC:      "DW_AT_call_return_pc",
	AttrCallValue:         "DW_AT_call_value",
	AttrCallDataValue:     "DW_AT_call_data_value",
	AttrNoreturn:          "DW_AT_noreturn",
	AttrAlignment:         "DW_AT_alignment",
	AttrLoclistsBase:      "DW_AT_loclists_base",
	AttrMIPSLinkageName:   "DW_AT_MIPS_linkage_name",
	AttrGNUCallSiteValue:  "DW_AT_GNU_call_site_value",
	AttrGNUCallSiteData:   "DW_AT_GNU_call_site_data_value",
	AttrGNUCallSiteTarget: "DW_AT_GNU_call_site_target",
	AttrGNUDwoName:        "DW_AT_GNU_dwo_name",
	AttrGNUDwoID:          "DW_AT_GNU_dwo_id",
	AttrGNURangesBase:     "DW_AT_GNU_ranges_base",
	AttrGNUAddrBase:       "DW_AT_GNU_addr_base",
	AttrGNUMacros:         "DW_AT_GNU_macros",
}

func (a Attr) String() string {
	if s, ok := attrNames[a]; ok {
		return s
	}
	return fmt.Sprintf("DW_AT_0x%x", uint32(a))
}

// A Form describes the physical encoding of an attribute value.
type Form uint32

const (
	FormAddr          Form = 0x01
	FormBlock2        Form = 0x03
	FormBlock4        Form = 0x04
	FormData2         Form = 0x05
	FormData4         Form = 0x06
	FormData8         Form = 0x07
	FormString        Form = 0x08
	FormBlock         Form = 0x09
	FormBlock1        Form = 0x0a
	FormData1         Form = 0x0b
	FormFlag          Form = 0x0c
	FormSdata         Form = 0x0d
	FormStrp          Form = 0x0e
	FormUdata         Form = 0x0f
	FormRefAddr       Form = 0x10
	FormRef1          Form = 0x11
	FormRef2          Form = 0x12
	FormRef4          Form = 0x13
	FormRef8          Form = 0x14
	FormRefUdata      Form = 0x15
	FormIndirect      Form = 0x16
	FormSecOffset     Form = 0x17
	FormExprloc       Form = 0x18
	FormFlagPresent   Form = 0x19
	FormStrx          Form = 0x1a
	FormAddrx         Form = 0x1b
	FormRefSup4       Form = 0x1c
	FormStrpSup       Form = 0x1d
	FormData16        Form = 0x1e
	FormLineStrp      Form = 0x1f
	FormRefSig8       Form = 0x20
	FormImplicitConst Form = 0x21
	FormLoclistx      Form = 0x22
	FormRnglistx      Form = 0x23
	FormRefSup8       Form = 0x24
	FormStrx1         Form = 0x25
	FormStrx2         Form = 0x26
	FormStrx3         Form = 0x27
	FormStrx4         Form = 0x28
	FormAddrx1        Form = 0x29
	FormAddrx2        Form = 0x2a
	FormAddrx3        Form = 0x2b
	FormAddrx4        Form = 0x2c

	// GNU extensions for split DWARF and DWZ.
	FormGNUAddrIndex Form = 0x1f01
	FormGNUStrIndex  Form = 0x1f02
	FormGNURefAlt    Form = 0x1f20
	FormGNUStrpAlt   Form = 0x1f21
)

var formNames = map[Form]string{
	FormAddr:          "DW_FORM_addr",
	FormBlock2:        "DW_FORM_block2",
	FormBlock4:        "DW_FORM_block4",
	FormData2:         "DW_FORM_data2",
	FormData4:         "DW_FORM_data4",
	FormData8:         "DW_FORM_data8",
	FormString:        "DW_FORM_string",
	FormBlock:         "DW_FORM_block",
	FormBlock1:        "DW_FORM_block1",
	FormData1:         "DW_FORM_data1",
	FormFlag:          "DW_FORM_flag",
	FormSdata:         "DW_FORM_sdata",
	FormStrp:          "DW_FORM_strp",
	FormUdata:         "DW_FORM_udata",
	FormRefAddr:       "DW_FORM_ref_addr",
	FormRef1:          "DW_FORM_ref1",
	FormRef2:          "DW_FORM_ref2",
	FormRef4:          "DW_FORM_ref4",
	FormRef8:          "DW_FORM_ref8",
	FormRefUdata:      "DW_FORM_ref_udata",
	FormIndirect:      "DW_FORM_indirect",
	FormSecOffset:     "DW_FORM_sec_offset",
	FormExprloc:       "DW_FORM_exprloc",
	FormFlagPresent:   "DW_FORM_flag_present",
	FormStrx:          "DW_FORM_strx",
	FormAddrx:         "DW_FORM_addrx",
	FormRefSup4:       "DW_FORM_ref_sup4",
	FormStrpSup:       "DW_FORM_strp_sup",
	FormData16:        "DW_FORM_data16",
	FormLineStrp:      "DW_FORM_line_strp",
	FormRefSig8:       "DW_FORM_ref_sig8",
	FormImplicitConst: "DW_FORM_implicit_const",
	FormLoclistx:      "DW_FORM_loclistx",
	FormRnglistx:      "DW_FORM_rnglistx",
	FormRefSup8:       "DW_FORM_ref_sup8",
	FormStrx1:         "DW_FORM_strx1",
	FormStrx2:         "DW_FORM_strx2",
	FormStrx3:         "DW_FORM_strx3",
	FormStrx4:         "DW_FORM_strx4",
	FormAddrx1:        "DW_FORM_addrx1",
	FormAddrx2:        "DW_FORM_addrx2",
	FormAddrx3:        "DW_FORM_addrx3",
	FormAddrx4:        "DW_FORM_addrx4",
	FormGNUAddrIndex:  "DW_FORM_GNU_addr_index",
	FormGNUStrIndex:   "DW_FORM_GNU_str_index",
	FormGNURefAlt:     "DW_FORM_GNU_ref_alt",
	FormGNUStrpAlt:    "DW_FORM_GNU_strp_alt",
}

func (f Form) String() string {
	if s, ok := formNames[f]; ok {
		return s
	}
	return fmt.Sprintf("DW_FORM_0x%x", uint32(f))
}

// Unit types (DWARF v5 unit headers).
type UnitType uint8

const (
	UTCompile      UnitType = 0x01
	UTType         UnitType = 0x02
	UTPartial      UnitType = 0x03
	UTSkeleton     UnitType = 0x04
	UTSplitCompile UnitType = 0x05
	UTSplitType    UnitType = 0x06
)

// Languages (DW_AT_language values).
type Lang uint32

const (
	LangC89        Lang = 0x01
	LangC          Lang = 0x02
	LangAda83      Lang = 0x03
	LangCpp        Lang = 0x04
	LangCobol74    Lang = 0x05
	LangCobol85    Lang = 0x06
	LangFortran77  Lang = 0x07
	LangFortran90  Lang = 0x08
	LangPascal83   Lang = 0x09
	LangModula2    Lang = 0x0a
	LangJava       Lang = 0x0b
	LangC99        Lang = 0x0c
	LangAda95      Lang = 0x0d
	LangFortran95  Lang = 0x0e
	LangPLI        Lang = 0x0f
	LangObjC       Lang = 0x10
	LangObjCpp     Lang = 0x11
	LangUPC        Lang = 0x12
	LangD          Lang = 0x13
	LangPython     Lang = 0x14
	LangOpenCL     Lang = 0x15
	LangGo         Lang = 0x16
	LangModula3    Lang = 0x17
	LangHaskell    Lang = 0x18
	LangCpp03      Lang = 0x19
	LangCpp11      Lang = 0x1a
	LangOCaml      Lang = 0x1b
	LangRust       Lang = 0x1c
	LangC11        Lang = 0x1d
	LangSwift      Lang = 0x1e
	LangJulia      Lang = 0x1f
	LangDylan      Lang = 0x20
	LangCpp14      Lang = 0x21
	LangFortran03  Lang = 0x22
	LangFortran08  Lang = 0x23
	LangRenderC    Lang = 0x24
	LangBLISS      Lang = 0x25
	LangMipsAssem  Lang = 0x8001
	LangGOOGLERust Lang = 0x9c20
)

// Base type encodings (DW_AT_encoding values).
type Encoding uint32

const (
	EncAddress       Encoding = 0x01
	EncBoolean       Encoding = 0x02
	EncComplexFloat  Encoding = 0x03
	EncFloat         Encoding = 0x04
	EncSigned        Encoding = 0x05
	EncSignedChar    Encoding = 0x06
	EncUnsigned      Encoding = 0x07
	EncUnsignedChar  Encoding = 0x08
	EncImaginary     Encoding = 0x09
	EncPackedDec     Encoding = 0x0a
	EncNumericStr    Encoding = 0x0b
	EncEdited        Encoding = 0x0c
	EncSignedFixed   Encoding = 0x0d
	EncUnsignedFixed Encoding = 0x0e
	EncDecimalFloat  Encoding = 0x0f
	EncUTF           Encoding = 0x10
	EncUCS           Encoding = 0x11
	EncASCII         Encoding = 0x12
)

// Line number standard opcodes.
const (
	LNSCopy           = 0x01
	LNSAdvancePC      = 0x02
	LNSAdvanceLine    = 0x03
	LNSSetFile        = 0x04
	LNSSetColumn      = 0x05
	LNSNegateStmt     = 0x06
	LNSSetBasicBlock  = 0x07
	LNSConstAddPC     = 0x08
	LNSFixedAdvancePC = 0x09
	LNSSetPrologueEnd = 0x0a
	LNSSetEpilogueBeg = 0x0b
	LNSSetISA         = 0x0c
)

// Line number extended opcodes.
const (
	LNEEndSequence      = 0x01
	LNESetAddress       = 0x02
	LNEDefineFile       = 0x03
	LNESetDiscriminator = 0x04
)

// Line number header entry content types (DWARF v5).
const (
	LNCTPath           = 0x1
	LNCTDirectoryIndex = 0x2
	LNCTTimestamp      = 0x3
	LNCTSize           = 0x4
	LNCTMD5            = 0x5
)

// Range list entry opcodes (.debug_rnglists, DWARF v5).
const (
	RLEEndOfList    = 0x00
	RLEBaseAddressx = 0x01
	RLEStartxEndx   = 0x02
	RLEStartxLength = 0x03
	RLEOffsetPair   = 0x04
	RLEBaseAddress  = 0x05
	RLEStartEnd     = 0x06
	RLEStartLength  = 0x07
)

// Macro information entry opcodes (.debug_macro, DWARF v5).
const (
	MacroDefine     = 0x01
	MacroUndef      = 0x02
	MacroStartFile  = 0x03
	MacroEndFile    = 0x04
	MacroDefineStrp = 0x05
	MacroUndefStrp  = 0x06
	MacroImport     = 0x07
	MacroDefineSup  = 0x08
	MacroUndefSup   = 0x09
	MacroImportSup  = 0x0a
	MacroDefineStrx = 0x0b
	MacroUndefStrx  = 0x0c
	MacroLoUser     = 0xe0
)

// DWP section identifiers (DW_SECT_*, version 2 package indexes).
const (
	SectInfo       = 1
	SectTypes      = 2
	SectAbbrev     = 3
	SectLine       = 4
	SectLoc        = 5
	SectStrOffsets = 6
	SectMacinfo    = 7
	SectMacro      = 8
)

// .debug_names index attributes (DW_IDX_*).
const (
	IdxCompileUnit = 1
	IdxTypeUnit    = 2
	IdxDieOffset   = 3
	IdxParent      = 4
	IdxTypeHash    = 5
	IdxGNUInternal = 0x2000
	IdxGNUExternal = 0x2001
)

// Expression opcodes the reader recognizes in location bytes. The core
// does not evaluate expressions; these identify the literal forms.
const (
	OpAddr         = 0x03
	OpPlusUconst   = 0x23
	OpRegBase      = 0x50
	OpFbreg        = 0x91
	OpGNUAddrIndex = 0xfb
)

// Identifier case values for name indexes (DW_ID_*).
const (
	IDCaseSensitive   = 0
	IDCaseUpper       = 1
	IDCaseLower       = 2
	IDCaseInsensitive = 3
)

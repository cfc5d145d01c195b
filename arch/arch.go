// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package arch describes the target-architecture properties the DWARF
// reader needs: byte order, address size, and the address
// normalization hooks some ABIs require.
package arch

import "encoding/binary"

// An Adapter supplies target-specific address handling to the DWARF
// reader.
type Adapter struct {
	// Name is the GOARCH-style name of the architecture.
	Name string

	// Order is the target byte order, used for bitfield arithmetic
	// and raw word reads.
	Order binary.ByteOrder

	// AddrSize is the default address size in bytes, used only when a
	// unit header does not supply one.
	AddrSize int

	// AdjustAddr normalizes an address read from DWARF, or is nil if
	// no adjustment is needed. MIPS, for example, clears the ISA mode
	// bit from code addresses.
	AdjustAddr func(addr uint64) uint64

	// AdjustLine normalizes a line-table address. isStart reports
	// whether the address begins a sequence. Nil means AdjustAddr
	// (or no adjustment) applies.
	AdjustLine func(addr uint64, isStart bool) uint64
}

// Addr applies a's address adjustment to addr.
func (a *Adapter) Addr(addr uint64) uint64 {
	if a.AdjustAddr != nil {
		return a.AdjustAddr(addr)
	}
	return addr
}

// LineAddr applies a's line-table address adjustment to addr.
func (a *Adapter) LineAddr(addr uint64, isStart bool) uint64 {
	if a.AdjustLine != nil {
		return a.AdjustLine(addr, isStart)
	}
	return a.Addr(addr)
}

// ByteOrder returns a's byte order, defaulting to little endian.
func (a *Adapter) ByteOrder() binary.ByteOrder {
	if a.Order == nil {
		return binary.LittleEndian
	}
	return a.Order
}

// AddressSize returns a's default address size, defaulting to 8.
func (a *Adapter) AddressSize() int {
	if a.AddrSize == 0 {
		return 8
	}
	return a.AddrSize
}

var (
	AMD64 = &Adapter{Name: "amd64", Order: binary.LittleEndian, AddrSize: 8}
	I386  = &Adapter{Name: "386", Order: binary.LittleEndian, AddrSize: 4}

	// MIPS uses bit 0 of a code address to select the microMIPS ISA;
	// the bit is not part of the address proper.
	MIPS = &Adapter{
		Name:       "mips64",
		Order:      binary.BigEndian,
		AddrSize:   8,
		AdjustAddr: func(addr uint64) uint64 { return addr &^ 1 },
	}

	// Default performs no adjustment and assumes a 64-bit little
	// endian target.
	Default = AMD64
)

func (a *Adapter) String() string {
	if a == nil {
		return "<nil>"
	}
	return a.Name
}

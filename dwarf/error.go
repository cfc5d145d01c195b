// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dwarf

import "fmt"

// A DecodeError is a fatal failure to decode part of a DWARF section.
// It aborts the current unit load; the per-object context remains
// usable, with the offending unit dropped and nothing half-built
// exposed.
type DecodeError struct {
	Section string
	Offset  uint64
	Msg     string
}

func (e DecodeError) Error() string {
	return fmt.Sprintf("decoding %s at offset 0x%x: %s", e.Section, e.Offset, e.Msg)
}

// errf constructs a DecodeError with a formatted message.
func errf(section string, off uint64, format string, args ...interface{}) error {
	return DecodeError{section, off, fmt.Sprintf(format, args...)}
}

// complainf reports a non-fatal problem through the context's
// complaint callback, if any. Decoding continues with a best-effort
// substitution.
func (d *Data) complainf(format string, args ...interface{}) {
	if d.Complaint != nil {
		d.Complaint(fmt.Sprintf(format, args...))
	}
}

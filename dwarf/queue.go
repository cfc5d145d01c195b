// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dwarf

import (
	"errors"

	"github.com/aclements/go-dwarf/dw"
)

// errQuit aborts the current unit when Data.Quit reports true. The
// unit under construction is discarded; already expanded units are
// unaffected.
var errQuit = errors.New("dwarf: read interrupted")

// IsQuit reports whether err is the interruption sentinel.
func IsQuit(err error) bool { return errors.Is(err, errQuit) }

// checkQuit polls the Quit hook.
func (d *Data) checkQuit() error {
	if d.Quit != nil && d.Quit() {
		return errQuit
	}
	return nil
}

// A queueItem is one pending full-symbol expansion. pretendLang
// overrides the unit's language for include processing (a partial
// unit included from a C++ unit is read as C++).
type queueItem struct {
	u           *Unit
	pretendLang dw.Lang
}

// enqueue schedules u for full-symbol expansion. Requeueing an
// already expanded or already queued unit is a no-op.
func (d *Data) enqueue(u *Unit, pretendLang dw.Lang) {
	if u == nil || u.queued || u.expanded {
		return
	}
	u.queued = true
	d.queue = append(d.queue, queueItem{u, pretendLang})
}

// processQueue drains the expansion queue. Expanding one unit may
// enqueue more (imported units, cross-unit references); those are
// drained in the same call. A failed unit poisons the whole drain:
// the remaining queue is dropped and the half-built unit discarded,
// so a later retry starts clean.
func (d *Data) processQueue() error {
	if d.draining {
		// Recursive entry from inside an expansion; the outer drain
		// picks up whatever was enqueued.
		return nil
	}
	d.draining = true
	defer func() { d.draining = false }()

	d.justRead = d.justRead[:0]
	for len(d.queue) > 0 {
		item := d.queue[0]
		d.queue = d.queue[1:]
		if item.u.expanded {
			continue
		}
		if err := d.expandUnit(item); err != nil {
			for _, q := range d.queue {
				q.u.queued = false
			}
			d.queue = nil
			item.u.queued = false
			item.u.expanded = false
			item.u.discardTree()
			return err
		}
		item.u.expanded = true
		item.u.queued = false
		d.justRead = append(d.justRead, item.u)
	}
	d.backfillIncludes()
	d.ageUnits()
	return nil
}

// ExpandUnit materializes full symbols for u (and everything u pulls
// in) into the sink. Expanding an already expanded unit is a no-op.
func (d *Data) ExpandUnit(u *Unit) error {
	d.enqueue(u, LangMinimal)
	return d.processQueue()
}

// ExpandAll expands every unit in the object. Type units are skipped;
// they expand on demand when a full unit references them.
func (d *Data) ExpandAll() error {
	for _, u := range d.units {
		if u.IsTypeUnit() {
			continue
		}
		d.enqueue(u, LangMinimal)
	}
	return d.processQueue()
}

// ExpandAddr expands the unit covering pc, if any.
func (d *Data) ExpandAddr(pc uint64) (*Unit, error) {
	u := d.AddrToUnit(pc)
	if u == nil {
		return nil, nil
	}
	return u, d.ExpandUnit(u)
}

// backfillIncludes records, on every partial unit expanded in this
// drain, which full units imported it. The importer sets includes on
// itself during expansion; this pass inverts those edges for units
// read in the same drain.
func (d *Data) backfillIncludes() {
	for _, u := range d.justRead {
		for _, inc := range u.includes {
			found := false
			for _, back := range inc.includes {
				if back == u {
					found = true
					break
				}
			}
			if !found && inc.unitType == dw.UTPartial {
				inc.includes = append(inc.includes, u)
			}
		}
	}
	d.justRead = d.justRead[:0]
}

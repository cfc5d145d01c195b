// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dwarf

// loadUnit materializes u's DIE tree if it is not resident and marks
// it recently used. The stub is read first so split units resolve
// their DWO payload before the tree decode.
func (d *Data) loadUnit(u *Unit) error {
	if err := u.readStub(); err != nil {
		return err
	}
	if u.dwo != nil {
		// The skeleton's tree is just the root DIE; all content lives
		// in the split unit. Materialize that too so DIEAt callers on
		// either side see a loaded pair.
		if err := d.loadUnit(u.dwo); err != nil {
			return err
		}
	}
	u.touch()
	if u.root != nil {
		return nil
	}
	if err := u.ensureAbbrev(); err != nil {
		return err
	}
	return u.readTree()
}

// touch records a use of u for the age-based cache.
func (u *Unit) touch() {
	u.d.clock++
	u.lastUsed = u.d.clock
}

// age is the number of cache clock ticks since u was last used.
func (u *Unit) age() int {
	return u.d.clock - u.lastUsed
}

// ageUnits discards DIE trees that have not been used recently.
// Units still referenced by a recently used unit survive: the sweep
// first marks the dependency closure of every young unit, then frees
// the trees of unmarked old ones. Called between top-level loads, not
// during them.
func (d *Data) ageUnits() {
	for _, u := range d.units {
		u.mark = false
	}
	for _, u := range d.units {
		if u.root != nil && u.age() <= d.MaxCacheAge {
			u.markDeps()
		}
	}
	for _, u := range d.units {
		if u.root != nil && !u.mark {
			u.discardTree()
		}
		if u.dwo != nil && u.dwo.root != nil && !u.mark {
			u.dwo.discardTree()
		}
	}
}

// markDeps marks u and every unit reachable through its dependency
// edges.
func (u *Unit) markDeps() {
	if u.mark {
		return
	}
	u.mark = true
	if u.dwo != nil {
		u.dwo.markDeps()
	}
	for dep := range u.deps {
		dep.markDeps()
	}
}

// discardTree frees u's materialized DIE tree. The stub, the abbrev
// cache entry, and the expansion flags survive; DIEAt rebuilds the
// tree on the next use.
func (u *Unit) discardTree() {
	u.root = nil
	u.dies = nil
	u.deps = nil
	u.abbrev = nil
}

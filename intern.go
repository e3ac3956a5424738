/*
	Copyright (c) 2022 Tomas Glozar

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU Affero General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Name interning: canonical storage for every string the engine compares
// by identity (node table keys, symbol values).

package cake

import "sync"

// Name is an interned string. Two Names compare equal (by value, since Go
// strings already compare by content) iff the underlying bytes are equal;
// the interner's job is only to make sure we keep exactly one copy of each
// distinct string alive, and to let callers use it as a map key without
// re-hashing long command lines over and over.
type Name string

// interner canonicalises strings so that repeated table lookups (the node
// table) share one backing array per distinct
// name instead of allocating a fresh string every time a pattern is
// grounded.
type interner struct {
	mu    sync.Mutex
	table map[string]Name
}

func newInterner() *interner {
	return &interner{table: make(map[string]Name)}
}

// intern returns the canonical Name for s, allocating one if this is the
// first time s has been seen.
func (in *interner) intern(s string) Name {
	in.mu.Lock()
	defer in.mu.Unlock()
	if n, ok := in.table[s]; ok {
		return n
	}
	n := Name(s)
	in.table[s] = n
	return n
}

// len reports how many distinct names have been interned so far. Nothing in
// the package calls it.
func (in *interner) len() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.table)
}

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

// The plan graph: Node is the central vertex, cached by interned name in a
// NodeTable. Buddies (co-products of one chosen rule) share one buddyGroup
// so that the "A and B are buddies => A.New() == B.New()" invariant holds by
// construction rather than by discipline.
//
// The C original and the teacher's own graph.go both model this as a web of
// raw/GC'd pointers; Go's garbage collector already tolerates reference
// cycles; the handle-arena alternative sketched in spec.md's DESIGN NOTES is
// aimed at systems languages without a tracing collector; it is not carried
// over here deliberately (see DESIGN.md).

package cake

import "time"

// genesis is the sentinel rtime for a target that does not exist on disk.
var genesis = time.Unix(0, 0)

// groundedRule is one Entry, grounded against a specific pattern-match
// binding: every %n / % has been substituted.
type groundedRule struct {
	entry    *Entry
	newPats  []string // grounded product names (this node's buddies)
	oldPats  []string // grounded prerequisite names
	whenPats []string // grounded *-tagged prerequisite names
	act      []Act
	cond     *Test // guard, grounded against this rule's match binding
}

// buddyGroup is shared, by pointer, between every co-product of one chosen
// rule so that Node.New() returns the identical slice for every buddy.
type buddyGroup struct {
	nodes []*Node
}

// Node is the engine's cached representation of one named file or
// pseudo-target.
type Node struct {
	Name Name
	Kind PlanKind
	Flag NodeFlag

	Rtime time.Time // on-disk modification time, or genesis if missing
	Stime time.Time // saved-copy time for non-volatile comparison
	Utime time.Time // the engine's computed "used time"

	buddies *buddyGroup
	Old     []*Node

	Rule *groundedRule // chosen rule, grounded; nil if none applies

	Msg      []string
	Badguys  []*Node

	chasing bool // true while on the chase stack (BUSY, readably named)
	statted bool // true once stat has observed this node at least once
}

// New returns this node plus its buddies (co-products of the same chosen
// rule). Every buddy's New() returns the same slice.
func (n *Node) New() []*Node {
	if n.buddies == nil {
		return []*Node{n}
	}
	return n.buddies.nodes
}

func (n *Node) setBuddyGroup(g *buddyGroup) {
	n.buddies = g
	found := false
	for _, m := range g.nodes {
		if m == n {
			found = true
			break
		}
	}
	if !found {
		g.nodes = append(g.nodes, n)
	}
}

// Exists reports whether the node currently has the EXIST flag.
func (n *Node) Exists() bool { return n.Flag.has(NodeExist) }

// NodeTable maps interned target names to their Node, the cache invariant
// 1 relies on: each name appears at most once.
type NodeTable struct {
	nodes map[Name]*Node
}

func newNodeTable() *NodeTable {
	return &NodeTable{nodes: make(map[Name]*Node)}
}

func (t *NodeTable) get(name Name) (*Node, bool) {
	n, ok := t.nodes[name]
	return n, ok
}

func (t *NodeTable) getOrCreate(name Name) (*Node, bool) {
	if n, ok := t.nodes[name]; ok {
		return n, true
	}
	n := &Node{Name: name, Rtime: genesis}
	t.nodes[name] = n
	return n, false
}

func (t *NodeTable) all() []*Node {
	out := make([]*Node, 0, len(t.nodes))
	for _, n := range t.nodes {
		out = append(out, n)
	}
	return out
}

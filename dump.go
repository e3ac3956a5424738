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

// Diagnostic dumps: a Graphviz rendering of the plan graph built by the
// chase engine, and a flat listing of the parsed entries. cmd/cake's -Z
// flag prints the entry listing; nothing in cmd/cake calls DumpGraph. Adapted from the teacher's graph.go
// visualize method, which drew the same picture over its own *node/*edge
// types; here it walks Node.Old/Node.New() instead.

package cake

import (
	"fmt"
	"io"
)

// DumpGraph writes a Graphviz "digraph" of every node reachable from root,
// one edge per (node, ancestor) pair, buddies clustered with a dashed edge.
func DumpGraph(w io.Writer, root *Node) {
	fmt.Fprintln(w, "digraph cake {")
	seen := make(map[*Node]bool)
	var walk func(n *Node)
	walk = func(n *Node) {
		if seen[n] {
			return
		}
		seen[n] = true
		for _, anc := range n.Old {
			fmt.Fprintf(w, "\t%q -> %q;\n", string(n.Name), string(anc.Name))
			walk(anc)
		}
		for _, buddy := range n.New() {
			if buddy != n {
				fmt.Fprintf(w, "\t%q -> %q [style=dashed, dir=none];\n", string(n.Name), string(buddy.Name))
			}
		}
	}
	walk(root)
	fmt.Fprintln(w, "}")
}

// DumpEntries writes every parsed Entry in source order: one header line
// per entry (its products, separator and prerequisites, then its file and
// line), followed by one tab-indented line per action. It shows the entries
// as parsed, with variables expanded but command-patterns not yet run,
// before any rule has been matched against a target — the moral equivalent
// of "-p" in other build tools.
func DumpEntries(w io.Writer, rs *ruleSet) {
	for _, en := range rs.entries {
		sep := ":"
		if en.Dblc {
			sep = "::"
		}
		for i, p := range en.New {
			if i > 0 {
				fmt.Fprint(w, " ")
			}
			fmt.Fprintf(w, "%s", p.Str)
		}
		fmt.Fprintf(w, " %s", sep)
		for _, p := range en.Old {
			fmt.Fprintf(w, " %s", p.Str)
		}
		fmt.Fprintf(w, "\t(%s:%d)\n", en.File, en.Line)
		for _, a := range en.Act {
			fmt.Fprintf(w, "\t%s\n", a.Str)
		}
	}
}

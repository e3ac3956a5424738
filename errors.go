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

// Error accumulator: every node carries its own printable message plus a
// "bad guys" list of other nodes whose failure is implicated in this one's.

package cake

import "fmt"

// addError appends a line to n's message and extends its badguys list.
// isError also sets the ERR flag, making n terminal: no further work ever
// attempts to modify it (invariant 4 of spec.md's DATA MODEL).
func (e *Engine) addError(n *Node, msg string, badGuys []*Node, isError bool) {
	n.Msg = append(n.Msg, msg)
	n.Badguys = append(n.Badguys, badGuys...)
	if isError {
		n.Flag |= NodeErr
	}
}

func (e *Engine) addErrorf(n *Node, badGuys []*Node, isError bool, format string, args ...interface{}) {
	e.addError(n, fmt.Sprintf(format, args...), badGuys, isError)
}

// traceErrs prints n's own accumulated message and recursively every
// badguy's, guarded by the TRACED flag so a node already printed this run is
// never printed twice. The synthetic root target is suppressed by name.
func (e *Engine) traceErrs(n *Node) {
	if n.Flag.has(NodeTraced) {
		return
	}
	n.Flag |= NodeTraced

	if n.Name != mainCakeName {
		for _, line := range n.Msg {
			e.logError("%s", line)
		}
	}
	for _, bg := range n.Badguys {
		e.traceErrs(bg)
	}
}

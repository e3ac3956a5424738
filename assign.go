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

// Cakefile variable assignment: VAR = word word ..., expanded against the
// variables already in scope at the point of assignment.

package cake

import (
	"fmt"
	"unicode"
	"unicode/utf8"
)

func isValidVarName(v string) bool {
	for i := 0; i < len(v); {
		c, w := utf8.DecodeRuneInString(v[i:])
		if (i == 0 && !(unicode.IsLetter(c) || c == '_')) || !(unicode.IsLetter(c) || unicode.IsDigit(c) || c == '_') {
			return false
		}
		i += w
	}
	return true
}

// executeAssignment parses and immediately performs a 'NAME = value...'
// statement against rs.vars.
func executeAssignment(rs *ruleSet, ts []token) error {
	assignee := ts[0].val
	if !isValidVarName(assignee) {
		return fmt.Errorf("target of assignment is not a valid variable name: %q", assignee)
	}

	var input []string
	for i := 1; i < len(ts); i++ {
		if ts[i].typ != tokenWord || (i > 1 && ts[i-1].typ != tokenWord) {
			if len(input) == 0 {
				input = append(input, ts[i].val)
			} else {
				input[len(input)-1] += ts[i].val
			}
		} else {
			input = append(input, ts[i].val)
		}
	}

	var vals []string
	for i := 0; i < len(input); i++ {
		vals = append(vals, expand(input[i], rs.vars, true)...)
	}

	rs.vars[assignee] = vals
	return nil
}

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

// Recipe text -> Act list. Grounded in original_source/cake/entry.c's
// prep_act (the '@'/'!'/'-'/'+' prefix characters) and act.c's
// START_SCRIPT/FINISH_SCRIPT markers ('{' / '}' lines), which group a run
// of lines into a single script action run by one shell rather than one
// process per line.

package cake

import "strings"

// parseActions splits an already-unindented recipe body into individual
// Act values, one per line, except that a '{' line opens a script block
// running every line up to the matching '}' as a single action. A recipe
// line's text is left untouched here: its %-pattern variables are grounded
// per rule match in chase.go, and any `[[ cmd ]]` substitution happens at
// carry-out time in update.go, immediately before the shell runs it.
func parseActions(recipe string) []Act {
	lines := strings.Split(recipe, "\n")
	var acts []Act

	for i := 0; i < len(lines); i++ {
		line := lines[i]
		if strings.TrimSpace(line) == "" {
			continue
		}

		flag, rest := actionPrefixFlags(line)
		trimmed := strings.TrimSpace(rest)

		if trimmed == "{" {
			var body []string
			i++
			for i < len(lines) && strings.TrimSpace(lines[i]) != "}" {
				body = append(body, lines[i])
				i++
			}
			acts = append(acts, Act{
				Str:  strings.Join(body, "\n"),
				Flag: flag | ActScript,
			})
			continue
		}

		acts = append(acts, Act{Str: rest, Flag: flag})
	}

	return acts
}

// actionPrefixFlags consumes the leading run of '@', '!', '-', '+'
// characters (any order, any combination) from a recipe line, mapping
// them onto ActFlag bits, and returns the remaining command text
// untouched (its %-pattern variables are grounded later, per rule match).
func actionPrefixFlags(line string) (ActFlag, string) {
	var flag ActFlag
	i := 0
	for i < len(line) {
		switch line[i] {
		case '@':
			flag |= ActSilent
		case '!':
			flag |= ActSystem
		case '-':
			flag |= ActIgnore
		case '+':
			flag |= ActMinusN
		default:
			return flag, line[i:]
		}
		i++
	}
	return flag, line[i:]
}

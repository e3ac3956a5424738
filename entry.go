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

// Data model: Entry (a parsed rule), Act (one action line), and the rule
// store that holds them in parse order plus the synthetic "main entry"
// built from the CLI's requested targets.

package cake

import (
	"strings"
)

// mainCakeName is the reserved root target; it must never appear in a user
// cakefile.
const mainCakeName Name = "!MAINCAKE!"

// Act is one action line: a command string plus its flags.
type Act struct {
	Str  string
	Flag ActFlag
}

func (a Act) kind() ProcKind {
	switch {
	case a.Flag&ActScript != 0:
		return KindScript
	case a.Flag&ActSystem != 0:
		return KindSystem
	default:
		return KindExecProc
	}
}

// Entry is one parsed rule: products (new), prerequisites (old), the
// *-tagged subset of prerequisites that must be brought up to date just to
// decide whether this rule applies (when), the rule's guard, its actions,
// the file it was read from (for main-entry selection), and whether it was
// written with the `::` (allow-multiple) syntax.
type Entry struct {
	New  []Pat
	Old  []Pat
	When []Pat
	Act  []Act
	Cond *Test
	File string
	Line int
	Dblc bool
}

// equivRecipe reports whether two entries would run the identical actions.
// Nothing in the package calls it.
func (en *Entry) equivRecipe(other *Entry) bool {
	if len(en.Act) != len(other.Act) {
		return false
	}
	for i := range en.Act {
		if en.Act[i] != other.Act[i] {
			return false
		}
	}
	return true
}

// ruleSet is the ordered list of parsed entries plus the variable
// environment assignments accumulate into, and an index from non-variable
// product text to entry indices for the common case (most rules name a
// concrete file, not a pattern).
type ruleSet struct {
	vars    map[string][]string
	entries []Entry

	literalIndex map[string][]int
}

func newRuleSet() *ruleSet {
	return &ruleSet{
		vars:         make(map[string][]string),
		literalIndex: make(map[string][]int),
	}
}

// add appends an entry and indexes its non-variable, non-command product
// patterns for fast lookup.
func (rs *ruleSet) add(en Entry) {
	idx := len(rs.entries)
	rs.entries = append(rs.entries, en)
	for _, p := range en.New {
		if !p.Cmd && !strings.ContainsRune(p.Str, '%') {
			rs.literalIndex[p.Str] = append(rs.literalIndex[p.Str], idx)
		}
	}
}

// candidateEntries returns the indices of every entry with at least one
// product pattern that might match target: every literally-indexed entry
// for that exact name, plus every entry carrying a variable (meta-rule)
// pattern, which must be tried unconditionally since we can't index on a
// template.
func (rs *ruleSet) candidateEntries(target string) []int {
	seen := make(map[int]bool)
	var out []int
	for _, idx := range rs.literalIndex[target] {
		if !seen[idx] {
			seen[idx] = true
			out = append(out, idx)
		}
	}
	for idx := range rs.entries {
		if seen[idx] {
			continue
		}
		for _, p := range rs.entries[idx].New {
			if strings.ContainsRune(p.Str, '%') {
				out = append(out, idx)
				break
			}
		}
	}
	return out
}

// prepEntries performs the one-time, post-parse normalization spec.md's
// 4.E mandates: strip a spurious WHEN flag from a product pattern (with a
// warning), force PRECIOUS on every product under dry-run, and expand
// command-patterns (backtick-quoted product text) into their broken-apart
// literal sub-patterns.
func (e *Engine) prepEntries() error {
	rs := e.Rules
	for i := range rs.entries {
		en := &rs.entries[i]
		var expanded []Pat
		for _, p := range en.New {
			if p.Flag&PatWhen != 0 {
				e.logError("cake: warning: '*' has no effect on a product, ignoring it (%s:%d)", en.File, en.Line)
				p.Flag &^= PatWhen
			}
			if e.Flags.DryRun {
				p.Flag |= PatPrecious
			}
			if p.Cmd {
				out, err := e.Cmd.commandOutput(e.Proc, p.Str, e.Flags.TolerantCmd)
				if err != nil {
					return err
				}
				for _, piece := range breakPat(out) {
					expanded = append(expanded, Pat{Str: piece, Flag: p.Flag})
				}
				continue
			}
			expanded = append(expanded, p)
		}
		en.New = expanded
	}
	return nil
}

// addMainEntry constructs the synthetic root entry whose sole product is
// mainCakeName. Its prerequisites are the CLI's requested targets, or — if
// none were given — the product list of the first concrete (variable-free)
// entry, preferring one defined in topLevelFile or written with `::` over
// entries that came from an included file.
func (rs *ruleSet) addMainEntry(cliTargets []string, topLevelFile string) []string {
	targets := cliTargets
	if len(targets) == 0 {
		bestIdx := -1
		bestScore := -1
		for i, en := range rs.entries {
			if len(en.New) == 0 {
				continue
			}
			concrete := true
			for _, p := range en.New {
				if p.Cmd || strings.ContainsRune(p.Str, '%') {
					concrete = false
					break
				}
			}
			if !concrete {
				continue
			}
			score := 0
			if en.File == topLevelFile {
				score += 2
			}
			if en.Dblc {
				score++
			}
			if score > bestScore {
				bestScore = score
				bestIdx = i
			}
		}
		if bestIdx >= 0 {
			for _, p := range rs.entries[bestIdx].New {
				targets = append(targets, p.Str)
			}
		}
	}

	root := Entry{
		New:  []Pat{{Str: string(mainCakeName), Flag: PatPseudo}},
		Old:  make([]Pat, len(targets)),
		Dblc: true,
	}
	for i, t := range targets {
		root.Old[i] = Pat{Str: t}
	}
	rs.add(root)
	return targets
}

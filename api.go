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

// Exported surface for cmd/cake. The rest of the package keeps the
// teacher's lower-camel internal naming throughout; this file is the one
// place that hands a stable, capitalized API across the package boundary
// to the CLI, rather than spreading exported names through every file.

package cake

// RuleSet is the parsed rule store, named for callers outside the
// package that only need to plumb it from Parse through to NewEngine and
// DumpEntries.
type RuleSet = ruleSet

// Parse reads a top-level cakefile and returns its RuleSet plus any
// syntax errors encountered.
func Parse(input, name, path string, env map[string][]string) (*RuleSet, []error) {
	return parse(input, name, path, env)
}

// MainCakeName is the reserved root target; it must never appear in a
// user cakefile.
const MainCakeName = mainCakeName

// AddMainEntry constructs the synthetic root entry tying the CLI's
// requested targets (or, absent any, the cakefile's first concrete rule)
// to MainCakeName, and returns the resolved target list.
func (rs *RuleSet) AddMainEntry(cliTargets []string, topLevelFile string) []string {
	return rs.addMainEntry(cliTargets, topLevelFile)
}

// PrepEntries performs the one-time post-parse normalization spec.md's
// 4.E mandates (see prepEntries).
func (e *Engine) PrepEntries() error { return e.prepEntries() }

// Chase builds (or retrieves) the plan Node for name.
func (e *Engine) Chase(name Name) (*Node, error) { return e.chase(name) }

// Execute carries the plan graph rooted at root to completion.
func (e *Engine) Execute(root *Node) error { return e.execute(root) }

// Intern exposes the engine's interner to the CLI, for turning a target
// string on the command line into the Name Chase expects.
func (e *Engine) Intern(s string) Name { return e.intern(s) }

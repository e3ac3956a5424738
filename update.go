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

// Update engine: the fixed point that decides, for one node and its
// buddies, whether actions must run, runs them, and recurses on ancestors.

package cake

import (
	"fmt"
	"regexp"
	"strings"
)

// cmdSubstPattern matches a `[[ cmd ]]` substitution inside an action line.
var cmdSubstPattern = regexp.MustCompile(`\[\[(.*?)\]\]`)

// execute is the root entry point: mark every primary target NODELETE (so
// cleanup never removes something the caller explicitly asked for), then
// run update from the top and sweep redundant intermediates.
func (e *Engine) execute(root *Node) error {
	for _, b := range root.New() {
		b.Flag |= NodeNodelete
		if b.Name == mainCakeName {
			for _, t := range b.Old {
				t.Flag |= NodeNodelete
			}
		}
	}
	if err := e.update(root, 0, false); err != nil {
		return err
	}
	return e.cleanup()
}

// update is spec.md's 4.I, verbatim in structure: buddy sanity, need check,
// ancestor recursion, planning check, DEPNONVOL re-check, touch-only mode,
// actions, then post-action bookkeeping.
func (e *Engine) update(n *Node, level int, forceExec bool) error {
	if !n.Flag.has(NodeErr) && n.Kind == KindOK {
		if level == 0 && !e.Flags.SuppressUpToDate {
			e.logStatus(string(n.Name), "is up to date")
		}
		return nil
	}
	if n.Flag.has(NodeErr) {
		e.traceErrs(n)
		return nil
	}

	buddies := n.New()

	needAction, errBuddies, depnonvol := e.buddyStatus(buddies)
	if len(errBuddies) > 0 {
		e.logError("cake: cannot proceed with update of %s: bad buddy %s", n.Name, errBuddies[0].Name)
		return nil
	}
	if !needAction {
		if !e.Flags.SuppressUpToDate {
			e.logStatus(string(n.Name), "is up to date")
		}
		return nil
	}

	var badAncestors []*Node
	for _, b := range buddies {
		for _, anc := range b.Old {
			if err := e.update(anc, level+1, false); err != nil {
				return err
			}
			if anc.Flag.has(NodeErr) || anc.Kind != KindOK {
				badAncestors = append(badAncestors, anc)
			}
		}
	}
	if len(badAncestors) > 0 {
		e.logError("cake: cannot proceed with update of %s because of problems with ancestors", n.Name)
		return nil
	}

	if n.Kind == KindNOWAY {
		e.traceErrs(n)
		return nil
	}
	for _, b := range buddies {
		if b.Kind == KindNOWAY {
			e.logError("cake: dare not update %s because of possible effects on buddy %s", n.Name, b.Name)
			return nil
		}
	}

	if depnonvol {
		needAction = false
		for _, b := range buddies {
			if b.Flag.has(NodeDepnonvol) {
				if err := e.FS.stat(b); err != nil {
					return err
				}
			}
			if !b.Exists() || b.Utime.After(b.Rtime) {
				needAction = true
			}
		}
		if !needAction {
			if !e.Flags.SuppressUpToDate {
				e.logStatus(string(n.Name), "is up to date")
			}
			return nil
		}
	}

	if e.Flags.Touch {
		for _, b := range buddies {
			if b.Flag.has(NodePseudo) {
				continue
			}
			t := genesis // utimes treats genesis as "now"
			if e.Flags.RollBack {
				t = b.Utime
			}
			if err := e.FS.utimes(b, t); err != nil {
				return err
			}
			e.logStatus(string(b.Name), "touch")
		}
		return nil
	}

	for _, b := range buddies {
		if b.Flag.has(NodeNonvol) && b.Exists() {
			if err := e.FS.save(string(b.Name)); err != nil {
				return err
			}
		}
	}

	if err := e.carryOut(n, buddies); err != nil {
		return err
	}

	return nil
}

// buddyStatus reports whether any buddy needs action, which (if any) carry
// ERR, and whether any inherits DEPNONVOL.
func (e *Engine) buddyStatus(buddies []*Node) (needAction bool, errBuddies []*Node, depnonvol bool) {
	for _, b := range buddies {
		if !b.Exists() || b.Utime.After(b.Rtime) {
			needAction = true
		}
		if b.Flag.has(NodeErr) {
			errBuddies = append(errBuddies, b)
		}
		if b.Flag.has(NodeDepnonvol) {
			depnonvol = true
		}
	}
	return
}

// carryOut runs the chosen rule's actions for n and its buddies, per
// spec.md's step 7, then performs the post-action bookkeeping of step 9.
func (e *Engine) carryOut(n *Node, buddies []*Node) error {
	if n.Rule == nil {
		for _, b := range buddies {
			if b.Flag.has(NodePseudo) || b.Exists() || e.Flags.DryRun {
				b.Kind = KindOK
				continue
			}
			e.addErrorf(b, nil, true, "cake: no actions to make %s with", b.Name)
		}
		e.traceErrs(n)
		return nil
	}

	if e.Flags.RemoveBeforeBuild && !e.Flags.DryRun {
		for _, b := range buddies {
			if b.Exists() {
				if err := e.FS.remove(string(b.Name)); err != nil {
					return err
				}
			}
		}
	}

	for _, act := range n.Rule.act {
		if e.Flags.DryRun && act.Flag&ActMinusN == 0 {
			e.logRecipe(string(n.Name), act.Str, act.Flag&ActSilent != 0)
			continue
		}

		expanded, err := e.expandCmdSubst(act.Str)
		if err != nil {
			return err
		}

		quiet := act.Flag&ActSilent != 0 || e.Flags.Silent
		echo := expanded
		if e.Flags.EchoSource {
			echo = act.Str
		}
		e.logRecipe(string(n.Name), echo, quiet)

		status, err := e.runAction(expanded, act)
		if err != nil {
			return err
		}

		if !status.Success && act.Flag&ActIgnore == 0 && !e.Flags.IgnoreStatus {
			for _, b := range buddies {
				e.addErrorf(b, nil, true, "cake: %s: command exited with status %d", n.Name, status.Code)
			}
			if err := e.cleanupFailed(buddies); err != nil {
				return err
			}
			e.traceErrs(n)
			if !e.Flags.KeepGoing {
				return fmt.Errorf("cake: *** [%s] error %d", n.Name, status.Code)
			}
			return nil
		}
	}

	return e.postActionBookkeeping(buddies)
}

// runAction runs one action line to completion, blocking (the engine never
// overlaps two actions — see spec's concurrency model).
func (e *Engine) runAction(cmd string, act Act) (ExitStatus, error) {
	pid, err := e.Proc.run(cmd, act.kind(), "", nil)
	if err != nil {
		return ExitStatus{}, err
	}
	return e.Proc.wait(pid)
}

// expandCmdSubst replaces every `[[ cmd ]]` occurrence in an action string
// with the (memoized) stdout of running cmd, immediately before the action
// itself runs.
func (e *Engine) expandCmdSubst(s string) (string, error) {
	var firstErr error
	out := cmdSubstPattern.ReplaceAllStringFunc(s, func(m string) string {
		if firstErr != nil {
			return m
		}
		sub := strings.TrimSpace(cmdSubstPattern.FindStringSubmatch(m)[1])
		val, err := e.Cmd.commandOutput(e.Proc, sub, e.Flags.TolerantCmd)
		if err != nil {
			firstErr = err
			return m
		}
		return val
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

// cleanupFailed removes the non-PRECIOUS buddy files a failed action may
// have partially produced, and marks every ancestor NODELETE so a later
// cleanup pass never removes something that might help diagnose the
// failure.
func (e *Engine) cleanupFailed(buddies []*Node) error {
	for _, b := range buddies {
		if !b.Flag.has(NodePrecious) {
			if err := e.FS.stat(b); err != nil {
				return err
			}
			if b.Exists() {
				if err := e.FS.remove(string(b.Name)); err != nil {
					return err
				}
			}
		}
		for _, anc := range b.Old {
			anc.Flag |= NodeNodelete
		}
	}
	return nil
}

// postActionBookkeeping implements spec.md's step 8-9: for a NONVOL buddy
// whose content round-tripped unchanged, roll its mtime back so downstream
// checks still see it as untouched; otherwise re-stat (and, under -r, force
// its mtime to the computed utime); finally assign OK or a terminal ERR.
func (e *Engine) postActionBookkeeping(buddies []*Node) error {
	for _, b := range buddies {
		if b.Flag.has(NodeNonvol) && b.Exists() {
			if !e.FS.diff(string(b.Name)) {
				if err := e.FS.utimes(b, b.Rtime); err != nil {
					return err
				}
			} else {
				if err := e.FS.stat(b); err != nil {
					return err
				}
				if e.Flags.RollBack {
					if err := e.FS.utimes(b, b.Utime); err != nil {
						return err
					}
				}
			}
		} else {
			if err := e.FS.stat(b); err != nil {
				return err
			}
			if e.Flags.RollBack && b.Exists() {
				if err := e.FS.utimes(b, b.Utime); err != nil {
					return err
				}
			}
		}

		if b.Flag.has(NodeErr) {
			continue
		}
		if b.Exists() || b.Flag.has(NodePseudo) || e.Flags.DryRun {
			b.Kind = KindOK
		} else {
			e.addErrorf(b, nil, true, "cake: action did not create %s", b.Name)
			e.traceErrs(b)
		}
	}
	return nil
}

// Question answers "-q": would bringing root up to date require running
// any action? It walks the same buddy/ancestor shape update does but never
// stats an un-visited node twice or carries out an action — chase has
// already populated Rtime/Utime for everything reachable from root.
func (e *Engine) Question(root *Node) bool {
	seen := make(map[*Node]bool)
	var walk func(n *Node) bool
	walk = func(n *Node) bool {
		if seen[n] {
			return false
		}
		seen[n] = true
		if n.Flag.has(NodeErr) {
			return true
		}
		if n.Kind == KindOK {
			return false
		}
		needAction, errBuddies, _ := e.buddyStatus(n.New())
		if len(errBuddies) > 0 || needAction {
			return true
		}
		for _, b := range n.New() {
			for _, anc := range b.Old {
				if walk(anc) {
					return true
				}
			}
		}
		return false
	}
	return walk(root)
}

// cleanup sweeps the node table after execute returns, deleting a redundant
// intermediate file per spec.md's closing paragraph of 4.I. Under -n this
// sweep never runs at all (spec.md §6: -n "suppress[es] delete").
func (e *Engine) cleanup() error {
	if e.Flags.DryRun {
		return nil
	}
	for _, n := range e.Nodes.all() {
		if !n.Exists() || n.Flag.has(NodeErr) || n.Kind == KindNOWAY {
			continue
		}
		if !(n.Flag.has(NodeRedundant) || e.Flags.DeleteRedundant) {
			continue
		}
		if n.Flag.has(NodeNodelete) {
			continue
		}
		if n.Rule == nil || len(n.Rule.act) == 0 {
			continue
		}
		// Skip unless the node is at its current age or is NEWFILE.
		if n.Utime.Before(n.Rtime) && !n.Flag.has(NodeNewfile) {
			continue
		}
		allAncestorsOK := true
		for _, anc := range n.Old {
			if anc.Kind != KindOK {
				allAncestorsOK = false
				break
			}
		}
		if !allAncestorsOK {
			continue
		}
		if err := e.FS.remove(string(n.Name)); err != nil {
			return err
		}
		e.deletedCount++
		e.logVerbose("cake: deleted redundant intermediate %s", n.Name)
	}
	if e.deletedCount > 0 {
		e.logVerbose("cake: deleted %d redundant intermediates", e.deletedCount)
	}
	return nil
}

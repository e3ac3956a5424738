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

// Chase engine: given a target name, pick an applicable rule, resolve its
// pattern variables, and build (or retrieve) its plan Node.

package cake

import (
	"strings"
)

// chase is the public one-name entry point: no caller-imposed flag bits,
// no buddy-forced rule choice.
func (e *Engine) chase(name Name) (*Node, error) {
	return e.chaseNode(name, 0, nil)
}

// chaseNode implements spec.md's 4.G in full: flagBits is OR'd into an
// already-cached node; picked, when non-nil, forces the buddy case — the
// caller has already chosen a rule for a co-product of this name, so this
// call must adopt that same rule rather than searching for its own.
func (e *Engine) chaseNode(name Name, flagBits NodeFlag, picked *groundedRule) (*Node, error) {
	if n, ok := e.Nodes.get(name); ok {
		if n.chasing {
			e.addErrorf(n, nil, true, "cake: %s depends upon itself (chase stack: %s)",
				name, strings.Join(namesToStrings(e.chaseStack), " -> "))
		}
		n.Flag |= flagBits
		return n, nil
	}

	n, _ := e.Nodes.getOrCreate(name)
	n.chasing = true
	n.Flag |= flagBits
	if err := e.FS.stat(n); err != nil {
		return nil, err
	}
	e.chaseStack = append(e.chaseStack, name)
	defer func() {
		e.chaseStack = e.chaseStack[:len(e.chaseStack)-1]
		n.chasing = false
	}()

	var anay, ayea []*groundedRule

	if picked != nil {
		if _, err := e.evaluateCandidate(n, picked, true); err != nil {
			return nil, err
		}
		ayea = append(ayea, picked)
	} else {
		for _, idx := range e.Rules.candidateEntries(string(name)) {
			entry := &e.Rules.entries[idx]
			gr, matched, err := groundEntryAgainst(entry, string(name))
			if err != nil {
				e.addErrorf(n, nil, true, "%s:%d: %v", entry.File, entry.Line, err)
				continue
			}
			if !matched {
				continue
			}
			keep, err := e.evaluateCandidate(n, gr, false)
			if err != nil {
				return nil, err
			}
			if !keep {
				continue
			}
			if len(gr.act) == 0 {
				anay = append(anay, gr)
			} else {
				ayea = append(ayea, gr)
			}
		}
	}

	if picked == nil && len(anay) == 0 && len(ayea) == 0 {
		if n.Exists() {
			n.Flag |= NodeOrig
			n.Kind = KindOK
			e.finishChase(n)
			return n, nil
		}
		e.addErrorf(n, nil, true, "cake: base file does not exist: %s", name)
		n.Kind = KindNOWAY
		e.finishChase(n)
		return n, nil
	}

	missingAncestor := false
	for _, gr := range anay {
		for _, dep := range gr.oldPats {
			anc, err := e.chaseNode(e.intern(dep), 0, nil)
			if err != nil {
				return nil, err
			}
			n.Old = append(n.Old, anc)
			if anc.Kind == KindNOWAY || anc.Flag.has(NodeErr) {
				missingAncestor = true
			}
		}
	}

	var chosen *groundedRule
	if picked != nil {
		chosen = picked
	} else {
		for _, gr := range ayea {
			feasible := true
			for _, dep := range gr.oldPats {
				anc, err := e.chaseNode(e.intern(dep), 0, nil)
				if err != nil {
					return nil, err
				}
				if anc.Kind == KindNOWAY || anc.Flag.has(NodeErr) {
					feasible = false
				}
			}
			if feasible {
				chosen = gr
				break
			}
		}
		if chosen == nil && len(ayea) == 1 {
			chosen = ayea[0] // "best we can do"
		}
	}

	if chosen != nil {
		n.Rule = chosen
		for _, dep := range chosen.oldPats {
			anc, err := e.chaseNode(e.intern(dep), 0, nil)
			if err != nil {
				return nil, err
			}
			n.Old = append(n.Old, anc)
			if anc.Kind == KindNOWAY || anc.Flag.has(NodeErr) {
				missingAncestor = true
			}
		}

		for _, newName := range chosen.newPats {
			if Name(newName) == name {
				continue
			}
			if existing, ok := e.Nodes.get(e.intern(newName)); ok {
				if existing.Rule != chosen {
					e.addErrorf(n, []*Node{existing}, true,
						"cake: %s and %s both claim to be made by different rules", name, newName)
					e.addErrorf(existing, []*Node{n}, true,
						"cake: %s and %s both claim to be made by different rules", newName, name)
					continue
				}
				// Already resolved to the same rule (possibly still mid-chase
				// higher up this same call tree, e.g. a co-product whose own
				// buddy-binding loop reaches back to us): bind directly
				// instead of re-entering chaseNode, which would mistake this
				// reciprocal buddy reference for a genuine dependency cycle.
				e.bindBuddies(n, existing)
				continue
			}
			buddy, err := e.chaseNode(e.intern(newName), 0, chosen)
			if err != nil {
				return nil, err
			}
			e.bindBuddies(n, buddy)
		}
	} else if !n.Flag.has(NodePseudo) {
		missingAncestor = true
	}

	e.computeUtime(n)

	for _, anc := range n.Old {
		if anc.Flag.has(NodeNonvol) {
			n.Flag |= NodeDepnonvol
		}
	}

	switch {
	case missingAncestor:
		n.Kind = KindNOWAY
	case n.Exists() && !n.Utime.After(n.Rtime):
		n.Kind = KindOK
	case chosen == nil:
		n.Kind = KindOK
		for _, anc := range n.Old {
			if anc.Kind == KindCANDO {
				n.Kind = KindCANDO
			}
		}
	default:
		n.Kind = KindCANDO
	}

	e.finishChase(n)
	return n, nil
}

func (e *Engine) finishChase(n *Node) {
	// setBuddyGroup is idempotent; a node with no buddies is its own
	// singleton group so New() always returns a usable slice.
	if n.buddies == nil {
		n.setBuddyGroup(&buddyGroup{})
	}
}

// bindBuddies merges a and b into one shared buddyGroup.
func (e *Engine) bindBuddies(a, b *Node) {
	if a.buddies == nil && b.buddies == nil {
		g := &buddyGroup{}
		a.setBuddyGroup(g)
		b.setBuddyGroup(g)
		return
	}
	if a.buddies == nil {
		a.setBuddyGroup(b.buddies)
		return
	}
	if b.buddies == nil {
		b.setBuddyGroup(a.buddies)
		return
	}
	if a.buddies == b.buddies {
		return
	}
	for _, m := range b.buddies.nodes {
		m.setBuddyGroup(a.buddies)
	}
}

// evaluateCandidate brings gr's when-prerequisites up to date (under -n it
// only reports them, with -v, and does not chase them), evaluates its
// guard, and optionally prunes it for self-reference. The returned bool is
// false when the candidate must be dropped (guard false, or self-reference
// pruned under the Lflag configuration option). forBuddy suppresses the
// when/guard work for the buddy-forced path, since the rule was already
// vetted when its first product was chased.
func (e *Engine) evaluateCandidate(n *Node, gr *groundedRule, forBuddy bool) (bool, error) {
	if forBuddy {
		return true, nil
	}

	for _, dep := range gr.whenPats {
		if e.Flags.DryRun {
			e.logVerbose("cake: warning: would chase %s to discover dependencies of %s", dep, n.Name)
			continue
		}
		anc, err := e.chaseNode(e.intern(dep), 0, nil)
		if err != nil {
			return false, err
		}
		if err := e.update(anc, 1, false); err != nil {
			return false, err
		}
	}

	if e.Flags.PruneSelfRef {
		for _, dep := range gr.oldPats {
			if Name(dep) == n.Name {
				return false, nil
			}
		}
	}

	ok, err := e.eval(gr.cond)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	for _, p := range gr.entry.New {
		n.Flag |= patFlagToNodeFlag(p.Flag)
	}

	return true, nil
}

// computeUtime implements spec.md's step 5: the chosen-time of a node, used
// both as this node's own utime and as an ancestor's contribution to its
// dependents' utime.
func (e *Engine) computeUtime(n *Node) {
	if n.Rule != nil && len(n.Rule.act) > 0 && len(n.Old) == 0 {
		n.Utime = now()
		return
	}
	max := genesis
	for _, anc := range n.Old {
		t := anc.Utime
		if anc.Exists() {
			chosen := anc.Rtime
			if anc.Utime.After(chosen) {
				chosen = anc.Utime
			}
			t = chosen
		}
		if t.After(max) {
			max = t
		}
	}
	n.Utime = max
}

func patFlagToNodeFlag(f PatFlag) NodeFlag {
	var nf NodeFlag
	if f&PatNonvol != 0 {
		nf |= NodeNonvol
	}
	if f&PatPrecious != 0 {
		nf |= NodePrecious
	}
	if f&PatPseudo != 0 {
		nf |= NodePseudo
	}
	if f&PatRedundant != 0 {
		nf |= NodeRedundant
	}
	if f&PatNodelete != 0 {
		nf |= NodeNodelete
	}
	return nf
}

// groundEntryAgainst tries every product pattern of entry against target,
// returning the first match grounded into a concrete groundedRule.
func groundEntryAgainst(entry *Entry, target string) (*groundedRule, bool, error) {
	var env Env
	matchedAny := false
	for _, p := range entry.New {
		if p.Cmd {
			continue // already broken into literals by prepEntries
		}
		if !match(&env, target, &p) {
			continue
		}
		matchedAny = true

		gr := &groundedRule{entry: entry}
		for _, np := range entry.New {
			if np.Cmd {
				continue
			}
			s, err := ground(&env, np.Str)
			if err != nil {
				return nil, false, err
			}
			gr.newPats = append(gr.newPats, s)
		}
		for _, op := range entry.Old {
			s, err := ground(&env, op.Str)
			if err != nil {
				return nil, false, err
			}
			gr.oldPats = append(gr.oldPats, s)
		}
		for _, wp := range entry.When {
			s, err := ground(&env, wp.Str)
			if err != nil {
				return nil, false, err
			}
			gr.whenPats = append(gr.whenPats, s)
		}
		for _, a := range entry.Act {
			txt, err := ground(&env, a.Str)
			if err != nil {
				return nil, false, err
			}
			gr.act = append(gr.act, Act{Str: txt, Flag: a.Flag})
		}

		grTest, err := groundTest(&env, entry.Cond)
		if err != nil {
			return nil, false, err
		}
		gr.cond = grTest

		return gr, true, nil
	}
	return nil, matchedAny, nil
}

func namesToStrings(names []Name) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = string(n)
	}
	return out
}

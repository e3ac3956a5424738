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

// Test evaluator: a rule's guard is a small tagged-union expression over
// file existence, regex match, list membership, another target's planning
// status, or a shell command's exit code.

package cake

import (
	"fmt"
	"regexp"
	"strings"
)

type testKind int

const (
	testTrue testKind = iota
	testFalse
	testAnd
	testOr
	testNot
	testCmd
	testMatch
	testList
	testExist
	testCando
	testOk
)

// Test is the guard expression attached to a rule (Entry.Cond). A nil Test
// pointer is treated as testTrue, per spec.md's 4.F.
type Test struct {
	kind testKind

	l, r *Test // AND/OR operands
	not  *Test // NOT operand

	cmd string // CMD text (pre- or post-grounding depending on phase)

	matchName Pat
	matchOpts string
	matchPat  Pat

	listPat     Pat
	listMembers []Pat

	existPat Pat
	candoPat Pat
	okPat    Pat
}

// groundTest clones t, substituting every pattern it mentions against env.
// Evaluation operates on the clone, never the Entry's shared template, so
// that the constant-folding eval performs (rewriting a CMD/MATCH node to
// testTrue/testFalse once its command has run) can never leak across two
// different pattern-match bindings of the same rule.
func groundTest(env *Env, t *Test) (*Test, error) {
	if t == nil {
		return &Test{kind: testTrue}, nil
	}

	out := &Test{kind: t.kind}
	var err error

	switch t.kind {
	case testTrue, testFalse:
		// nothing to ground
	case testAnd, testOr:
		if out.l, err = groundTest(env, t.l); err != nil {
			return nil, err
		}
		if out.r, err = groundTest(env, t.r); err != nil {
			return nil, err
		}
	case testNot:
		if out.not, err = groundTest(env, t.not); err != nil {
			return nil, err
		}
	case testCmd:
		if out.cmd, err = ground(env, t.cmd); err != nil {
			return nil, err
		}
	case testMatch:
		if out.matchName.Str, err = ground(env, t.matchName.Str); err != nil {
			return nil, err
		}
		out.matchOpts = t.matchOpts
		if out.matchPat.Str, err = ground(env, t.matchPat.Str); err != nil {
			return nil, err
		}
	case testList:
		if out.listPat.Str, err = ground(env, t.listPat.Str); err != nil {
			return nil, err
		}
		out.listMembers = make([]Pat, len(t.listMembers))
		for i, m := range t.listMembers {
			if out.listMembers[i].Str, err = ground(env, m.Str); err != nil {
				return nil, err
			}
		}
	case testExist:
		if out.existPat.Str, err = ground(env, t.existPat.Str); err != nil {
			return nil, err
		}
	case testCando:
		if out.candoPat.Str, err = ground(env, t.candoPat.Str); err != nil {
			return nil, err
		}
	case testOk:
		if out.okPat.Str, err = ground(env, t.okPat.Str); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("cake internal error: bad test tag %d", t.kind)
	}

	return out, nil
}

// eval evaluates a grounded test tree. CMD and MATCH fold themselves to a
// constant testTrue/testFalse in place once their verdict is known — safe
// here because eval only ever runs on a private groundTest clone.
func (e *Engine) eval(t *Test) (bool, error) {
	if t == nil {
		return true, nil
	}

	switch t.kind {
	case testTrue:
		return true, nil
	case testFalse:
		return false, nil
	case testAnd:
		l, err := e.eval(t.l)
		if err != nil || !l {
			return false, err
		}
		return e.eval(t.r)
	case testOr:
		l, err := e.eval(t.l)
		if err != nil {
			return false, err
		}
		if l {
			return true, nil
		}
		return e.eval(t.r)
	case testNot:
		v, err := e.eval(t.not)
		return !v, err
	case testCmd:
		ok, err := e.Cmd.commandStatus(e.Proc, t.cmd)
		if err != nil {
			return false, err
		}
		if ok {
			t.kind = testTrue
		} else {
			t.kind = testFalse
		}
		return ok, nil
	case testMatch:
		re, err := compileMatchPattern(t.matchPat.Str, t.matchOpts)
		if err != nil {
			return false, err
		}
		ok := re.MatchString(t.matchName.Str)
		if ok {
			t.kind = testTrue
		} else {
			t.kind = testFalse
		}
		return ok, nil
	case testList:
		for _, m := range t.listMembers {
			if m.Str == t.listPat.Str {
				return true, nil
			}
		}
		return false, nil
	case testExist:
		n, _ := e.Nodes.getOrCreate(e.intern(t.existPat.Str))
		if err := e.FS.stat(n); err != nil {
			return false, err
		}
		return n.Exists(), nil
	case testCando:
		n, err := e.chase(e.intern(t.candoPat.Str))
		if err != nil {
			return false, err
		}
		return (n.Kind == KindOK || n.Kind == KindCANDO) && !n.Flag.has(NodeErr), nil
	case testOk:
		n, err := e.chase(e.intern(t.okPat.Str))
		if err != nil {
			return false, err
		}
		return n.Kind == KindOK && !n.Flag.has(NodeErr), nil
	}

	return false, fmt.Errorf("cake internal error: bad test tag %d", t.kind)
}

// compileMatchPattern reimplements the C original's helper-process regex
// test (test.c's `sub`) in-process: "i" in opts requests a case-insensitive
// match, mirroring the common shell-test convention.
func compileMatchPattern(pat, opts string) (*regexp.Regexp, error) {
	expr := pat
	if strings.ContainsRune(opts, 'i') {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("cake: invalid match pattern %q: %w", pat, err)
	}
	return re, nil
}

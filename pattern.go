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

// Pattern matching and grounding: a Pat is a template with up to 11
// numbered variables (%0..%9 and the anonymous %, stored at index
// anonVar). See original_source/cake/pat.c for the match/ground
// algorithms this file generalizes into Go.

package cake

import (
	"fmt"
	"strings"
)

// maxVar is the number of variable slots an Env carries: %0..%9 plus the
// anonymous %.
const maxVar = 11

// anonVar is the slot index used for the bare '%' variable.
const anonVar = 10

// Env binds pattern variables for one match attempt.
type Env struct {
	bound [maxVar]bool
	val   [maxVar]string
}

func (e *Env) reset() {
	for i := range e.bound {
		e.bound[i] = false
	}
}

func (e *Env) bind(i int, v string) {
	e.bound[i] = true
	e.val[i] = v
}

// Pat is a product or prerequisite pattern: a literal template, possibly
// containing %0..%9 / % variables, plus the flags the cakefile attached to
// it and whether its text is itself a shell command to run (a
// command-pattern, the backtick-quoted form).
type Pat struct {
	Str  string
	Flag PatFlag
	Cmd  bool
}

// match attempts to match name against pat, binding env's variables in
// place. env is reset (all slots unbound) before the attempt. A fast-path
// quick reject mirrors the C original: if the pattern's last character is
// neither the anonymous-variable marker nor a digit, the last characters of
// name and pat must already agree or there is no point recursing.
func match(env *Env, name string, pat *Pat) bool {
	if pat.Cmd {
		panic(fmt.Sprintf("cake internal error: undereferenced pattern %q in match", pat.Str))
	}

	if len(pat.Str) > 0 {
		last := pat.Str[len(pat.Str)-1]
		if last != '%' && !isDigit(last) {
			if len(name) == 0 || name[len(name)-1] != last {
				return false
			}
		}
	}

	env.reset()
	return domatch(env, name, pat.Str)
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// varIndex decodes the variable starting at patstr[0] == '%', returning the
// slot index and the text following the variable marker.
func varIndex(patstr string) (idx int, rest string) {
	if len(patstr) >= 2 && isDigit(patstr[1]) {
		return int(patstr[1] - '0'), patstr[2:]
	}
	return anonVar, patstr[1:]
}

// domatch is the recursive-descent/backtracking matcher. A variable that is
// already bound is compared as a required literal prefix; an unbound
// variable tries every prefix of the remaining name as a candidate binding,
// recursing on the tail against the rest of the pattern. Variable values
// never contain '%'.
func domatch(env *Env, str, patstr string) bool {
	if len(patstr) > 0 && patstr[0] == '%' {
		varno, follow := varIndex(patstr)

		if env.bound[varno] {
			return domatch(env, str, env.val[varno]+follow)
		}

		env.bound[varno] = true
		for i := 0; i <= len(str); i++ {
			if i < len(str) && str[i] == '%' {
				break
			}
			candidate := str[:i]
			env.val[varno] = candidate
			if domatch(env, str[i:], follow) {
				return true
			}
		}

		env.bound[varno] = false
		return false
	}

	// Literal prefix: compare byte by byte, honoring backslash escapes in
	// the pattern, until we hit the end of the pattern or its next
	// variable.
	s, t := 0, 0
	for t < len(patstr) && patstr[t] != '%' {
		pc := patstr[t]
		if pc == '\\' && t+1 < len(patstr) {
			t++
			pc = patstr[t]
		}
		if s >= len(str) || str[s] != pc {
			return false
		}
		s++
		t++
	}

	if t == len(patstr) {
		return s == len(str)
	}

	return domatch(env, str[s:], patstr[t:])
}

// ground substitutes every %n / % occurrence in str with its bound value
// from env and drops one level of backslash escaping. It is a fatal usage
// error (returned, not panicked, so callers can attribute it to a rule) to
// reference a variable that env left unbound.
func ground(env *Env, str string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(str); i++ {
		c := str[i]
		switch {
		case c == '\\' && i+1 < len(str):
			b.WriteByte(str[i+1])
			i++
		case c == '%':
			var idx int
			if i+1 < len(str) && isDigit(str[i+1]) {
				idx = int(str[i+1] - '0')
				i++
			} else {
				idx = anonVar
			}
			if !env.bound[idx] {
				return "", fmt.Errorf("cake: reference to unbound variable in pattern %q", str)
			}
			b.WriteString(env.val[idx])
		default:
			b.WriteByte(c)
		}
	}
	return b.String(), nil
}

// breakPat splits a grounded pattern string on ASCII whitespace, used after
// a command-pattern's shell output has been captured so that one
// backtick-quoted product can expand into many literal product patterns.
func breakPat(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
}

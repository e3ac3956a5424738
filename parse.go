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

	Copyright (c) 2013, Daniel C. Jones <dcjones@cs.washington.edu>
	All rights reserved.

	Redistribution and use in source and binary forms, with or without
	modification, are permitted provided that the following conditions are met:

	1. Redistributions of source code must retain the above copyright notice, this
	   list of conditions and the following disclaimer.
	2. Redistributions in binary form must reproduce the above copyright notice,
	   this list of conditions and the following disclaimer in the documentation
	   and/or other materials provided with the distribution.

	THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND CONTRIBUTORS "AS IS" AND
	ANY EXPRESS OR IMPLIED WARRANTIES, INCLUDING, BUT NOT LIMITED TO, THE IMPLIED
	WARRANTIES OF MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE ARE
	DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT OWNER OR CONTRIBUTORS BE LIABLE FOR
	ANY DIRECT, INDIRECT, INCIDENTAL, SPECIAL, EXEMPLARY, OR CONSEQUENTIAL DAMAGES
	(INCLUDING, BUT NOT LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR SERVICES;
	LOSS OF USE, DATA, OR PROFITS; OR BUSINESS INTERRUPTION) HOWEVER CAUSED AND
	ON ANY THEORY OF LIABILITY, WHETHER IN CONTRACT, STRICT LIABILITY, OR TORT
	(INCLUDING NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE OF THIS
	SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH DAMAGE.

	The views and conclusions contained in the software and documentation are those
	of the authors and should not be interpreted as representing official policies,
	either expressed or implied, of the FreeBSD Project.
*/

// Cakefile parser. Executes assignments and includes as it goes, and
// collects a set of Entry values into a ruleSet. Unlike the teacher's
// parser, a syntax error is accumulated rather than printed and
// os.Exit'd directly — a library has no business ending the process;
// cmd/cake decides what to do with the returned errors.

package cake

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

type parser struct {
	l         *lexer
	name      string
	path      string
	tokenBuf  []token
	guardBuf  []token
	rules     *ruleSet
	errs      []error
}

func (p *parser) parseError(context, expected string, found token) {
	p.errs = append(p.errs, fmt.Errorf("%s:%d: syntax error: while %s, expected %s but found %q",
		p.name, found.line, context, expected, found.String()))
}

func (p *parser) basicErrorAtToken(what string, found token) {
	p.basicErrorAtLine(what, found.line)
}

func (p *parser) basicErrorAtLine(what string, line int) {
	p.errs = append(p.errs, fmt.Errorf("%s:%d: syntax error: %s", p.name, line, what))
}

func (p *parser) push(t token)      { p.tokenBuf = append(p.tokenBuf, t) }
func (p *parser) clear()            { p.tokenBuf = p.tokenBuf[:0] }
func (p *parser) pushGuard(t token) { p.guardBuf = append(p.guardBuf, t) }
func (p *parser) clearGuard()       { p.guardBuf = nil }

type parserStateFun func(*parser, token) parserStateFun

// parse reads a top-level cakefile and returns its ruleSet plus any syntax
// errors encountered (accumulated, not fatal, so the caller sees as many as
// possible in one pass).
func parse(input, name, path string, env map[string][]string) (*ruleSet, []error) {
	rs := newRuleSet()
	rs.vars = env
	var errs []error
	parseInto(input, name, rs, path, &errs)
	return rs, errs
}

func parseInto(input, name string, rules *ruleSet, path string, errs *[]error) {
	l, tokens := lex(input)
	p := &parser{l: l, name: name, path: path, rules: rules}
	oldDir := p.rules.vars["mkfiledir"]
	p.rules.vars["mkfiledir"] = []string{filepath.Dir(path)}

	state := parseTopLevel
	for t := range tokens {
		if t.typ == tokenError {
			p.basicErrorAtLine(l.errMsg, t.line)
			break
		}
		state = state(p, t)
	}
	state(p, token{typ: tokenNewline, val: "\n", line: l.line, col: l.col})

	p.rules.vars["mkfiledir"] = oldDir
	*errs = append(*errs, p.errs...)
}

func parseTopLevel(p *parser, t token) parserStateFun {
	switch t.typ {
	case tokenNewline:
		return parseTopLevel
	case tokenPipeInclude:
		return parsePipeInclude
	case tokenRedirInclude:
		return parseRedirInclude
	case tokenWord:
		return parseAssignmentOrTarget(p, t)
	default:
		p.parseError("parsing cakefile", "a rule, include, or assignment", t)
	}
	return parseTopLevel
}

func parsePipeInclude(p *parser, t token) parserStateFun {
	switch t.typ {
	case tokenNewline:
		if len(p.tokenBuf) == 0 {
			p.basicErrorAtToken("empty pipe include", t)
			p.clear()
			return parseTopLevel
		}
		var cmd strings.Builder
		for i, tb := range p.tokenBuf {
			if i > 0 {
				cmd.WriteByte(' ')
			}
			expanded := expand(tb.val, p.rules.vars, false)
			if len(expanded) > 0 {
				cmd.WriteString(expanded[0])
			} else {
				cmd.WriteString(tb.val)
			}
		}

		out, err := runPipeInclude(cmd.String())
		if err != nil {
			p.basicErrorAtToken("subprocess include failed: "+err.Error(), t)
			p.clear()
			return parseTopLevel
		}

		parseIntoErrs := &p.errs
		parseInto(out, p.name+":sh", p.rules, p.path, parseIntoErrs)
		p.clear()
		return parseTopLevel

	case tokenPipeInclude, tokenRedirInclude, tokenColon, tokenDColon, tokenAssign, tokenWord:
		p.tokenBuf = append(p.tokenBuf, t)

	default:
		p.parseError("parsing piped include", "a shell command", t)
	}
	return parsePipeInclude
}

// runPipeInclude runs cmd through the system shell via proc.go's popen and
// returns its whole stdout, read into memory with io.ReadAll.
func runPipeInclude(cmd string) (string, error) {
	pr := newProcessRunner("")
	rc, pid, err := pr.popen(cmd)
	if err != nil {
		return "", err
	}
	out, readErr := io.ReadAll(rc)
	rc.Close()
	status, waitErr := pr.wait(pid)
	if waitErr != nil {
		return "", waitErr
	}
	if readErr != nil {
		return "", readErr
	}
	if !status.Success {
		return "", fmt.Errorf("exited with status %d", status.Code)
	}
	return string(out), nil
}

func parseRedirInclude(p *parser, t token) parserStateFun {
	switch t.typ {
	case tokenNewline:
		filename := ""
		for i := range p.tokenBuf {
			filename += p.tokenBuf[i].val
		}
		expanded := expand(filename, p.rules.vars, false)
		if len(expanded) > 0 {
			filename = expanded[0]
		}

		content, err := os.ReadFile(filename)
		if err != nil {
			if len(p.tokenBuf) > 0 {
				p.basicErrorAtToken(fmt.Sprintf("cannot open %s", filename), p.tokenBuf[0])
			} else {
				p.basicErrorAtLine(fmt.Sprintf("cannot open %s", filename), t.line)
			}
			p.clear()
			return parseTopLevel
		}

		abs, err := filepath.Abs(filename)
		if err != nil {
			abs = filename
		}

		parseInto(string(content), filename, p.rules, abs, &p.errs)
		p.clear()
		return parseTopLevel

	case tokenWord:
		p.tokenBuf = append(p.tokenBuf, t)

	default:
		p.parseError("parsing include", "a file name", t)
	}
	return parseRedirInclude
}

func parseAssignmentOrTarget(p *parser, t token) parserStateFun {
	p.push(t)
	return parseEqualsOrTarget
}

func parseEqualsOrTarget(p *parser, t token) parserStateFun {
	switch t.typ {
	case tokenAssign:
		return parseAssignment
	case tokenWord:
		p.push(t)
		return parseTargets
	case tokenColon, tokenDColon:
		p.push(t)
		return parseAttributesOrPrereqs
	default:
		p.parseError("reading a target or assignment", "'=', ':', or another target", t)
	}
	return parseTopLevel
}

func parseAssignment(p *parser, t token) parserStateFun {
	if t.typ == tokenNewline {
		if err := executeAssignment(p.rules, p.tokenBuf); err != nil {
			p.basicErrorAtToken(err.Error(), p.tokenBuf[0])
		}
		p.clear()
		return parseTopLevel
	}
	p.push(t)
	return parseAssignment
}

func parseTargets(p *parser, t token) parserStateFun {
	switch t.typ {
	case tokenWord:
		p.push(t)
	case tokenColon, tokenDColon:
		p.push(t)
		return parseAttributesOrPrereqs
	default:
		p.parseError("reading a rule's targets", "filename or pattern", t)
	}
	return parseTargets
}

// parseAttributesOrPrereqs consumes everything between the first ':' (or
// '::') and either a second ':' (an attribute letter-string, cake's own
// flag-letter convention — see parseAttribLetters) or the end of the line.
func parseAttributesOrPrereqs(p *parser, t token) parserStateFun {
	switch t.typ {
	case tokenNewline:
		return parseRecipe
	case tokenQuestion:
		return parseGuardExpr
	case tokenColon, tokenDColon:
		p.push(t)
		return parsePrereqs
	case tokenWord:
		p.push(t)
	default:
		p.parseError("reading a rule's attributes or prerequisites", "an attribute, pattern, or filename", t)
	}
	return parseAttributesOrPrereqs
}

func parsePrereqs(p *parser, t token) parserStateFun {
	switch t.typ {
	case tokenNewline:
		return parseRecipe
	case tokenQuestion:
		return parseGuardExpr
	case tokenWord:
		p.push(t)
	default:
		p.parseError("reading a rule's prerequisites", "filename or pattern", t)
	}
	return parsePrereqs
}

// parseGuardExpr collects every token of the '? test-expression' tail into
// guardBuf, to be handed to parseGuard once the line ends.
func parseGuardExpr(p *parser, t token) parserStateFun {
	if t.typ == tokenNewline {
		return parseRecipe
	}
	p.pushGuard(t)
	return parseGuardExpr
}

// parseRecipe has consumed a whole rule header (and optional guard); t is
// either the following tokenRecipe or the first token of the next
// statement.
func parseRecipe(p *parser, t token) parserStateFun {
	en, err := buildEntry(p)
	if err != nil {
		p.basicErrorAtLine(err.Error(), t.line)
	} else if en != nil {
		if t.typ == tokenRecipe {
			en.Act = parseActions(stripIndentation(t.val, t.col))
		}
		en.File = p.name
		en.Line = t.line
		p.rules.add(*en)
	}

	p.clear()
	p.clearGuard()

	if t.typ != tokenRecipe {
		return parseTopLevel(p, t)
	}
	return parseTopLevel
}

// buildEntry assembles the targets/attributes/prerequisites gathered in
// tokenBuf (plus the guard gathered separately in guardBuf) into an Entry.
// Returns (nil, nil) for a bare recipeless line with no targets at all
// (shouldn't normally happen, but parseRecipe may be re-entered at EOF).
func buildEntry(p *parser) (*Entry, error) {
	if len(p.tokenBuf) == 0 {
		return nil, nil
	}

	i := 0
	for ; i < len(p.tokenBuf) && p.tokenBuf[i].typ != tokenColon && p.tokenBuf[i].typ != tokenDColon; i++ {
	}
	dblc := i < len(p.tokenBuf) && p.tokenBuf[i].typ == tokenDColon

	j := i + 1
	for ; j < len(p.tokenBuf) && p.tokenBuf[j].typ != tokenColon && p.tokenBuf[j].typ != tokenDColon; j++ {
	}

	var attribFlag PatFlag
	if j < len(p.tokenBuf) {
		var letters []string
		for k := i + 1; k < j; k++ {
			letters = append(letters, expand(p.tokenBuf[k].val, p.rules.vars, true)...)
		}
		var err error
		attribFlag, err = parseAttribLetters(letters)
		if err != nil {
			return nil, err
		}
	} else {
		j = i
	}

	en := &Entry{Dblc: dblc}

	// expandBackticks is false here: a backtick-quoted target is a
	// command-pattern (Pat.Cmd; see parsePat for prerequisites), deferred until
	// prepEntries runs its command and breaks the output into literal
	// patterns — it must not be executed and substituted eagerly the way
	// an assignment's backtick text is.
	for k := 0; k < i; k++ {
		for _, piece := range expand(p.tokenBuf[k].val, p.rules.vars, false) {
			en.New = append(en.New, parsePat(piece, attribFlag, true))
		}
	}

	for k := j + 1; k < len(p.tokenBuf); k++ {
		for _, piece := range expand(p.tokenBuf[k].val, p.rules.vars, false) {
			pat := parsePat(piece, 0, false)
			if pat.Flag&PatWhen != 0 {
				en.When = append(en.When, pat)
			}
			en.Old = append(en.Old, pat)
		}
	}

	if len(p.guardBuf) > 0 {
		cond, err := parseGuard(p.guardBuf, p.name)
		if err != nil {
			return nil, err
		}
		en.Cond = cond
	}

	return en, nil
}

// parsePat recognizes the '*' when-prerequisite marker on any pattern, and
// (for a product, per prepEntries' command-pattern expansion) a
// backtick-quoted command whose output becomes this rule's real product
// list. Prerequisites never get the command-pattern treatment: cake has no
// ancestor-side equivalent of make's deferred command expansion, and
// resolves a prerequisite name strictly by %-pattern grounding instead.
func parsePat(s string, flag PatFlag, forProduct bool) Pat {
	if strings.HasPrefix(s, "*") {
		flag |= PatWhen
		s = s[1:]
	}
	if forProduct && len(s) >= 2 && s[0] == '`' && s[len(s)-1] == '`' {
		return Pat{Str: s[1 : len(s)-1], Cmd: true, Flag: flag}
	}
	s = strings.Trim(s, "`")
	return Pat{Str: s, Flag: flag}
}

// parseAttribLetters maps cake's between-colons flag letters onto PatFlag
// bits: N(onvol), P(recious), Q(pseudo, since 'P' is taken), D (redundant).
func parseAttribLetters(letters []string) (PatFlag, error) {
	var flag PatFlag
	for _, word := range letters {
		for _, r := range word {
			switch r {
			case 'N':
				flag |= PatNonvol
			case 'P':
				flag |= PatPrecious
			case 'Q':
				flag |= PatPseudo
			case 'D':
				flag |= PatRedundant
			default:
				return 0, fmt.Errorf("unknown rule attribute %q", string(r))
			}
		}
	}
	return flag, nil
}

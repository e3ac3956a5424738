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

// Guard-expression parser: turns the token stream collected after a rule's
// '?' into a *Test, by recursive descent over AND/OR/NOT and the atomic
// forms CMD(...), MATCH(...), LIST(...), EXIST(...), CANDO(...), OK(...).
//
//	guard  := or
//	or     := and ( "OR" and )*
//	and    := not ( "AND" not )*
//	not    := "NOT" not | atom
//	atom   := "TRUE" | "FALSE"
//	        | "CMD" "(" raw-text ")"
//	        | "MATCH" "(" arg "," arg [ "," arg ] ")"
//	        | "LIST" "(" arg ( "," arg )+ ")"
//	        | "EXIST" "(" arg ")" | "CANDO" "(" arg ")" | "OK" "(" arg ")"
//	        | "(" or ")"
//
// An arg is the raw text of every token up to the next "," or ")",
// joined by single spaces — it is a %-variable pattern, grounded later.

package cake

import "fmt"

type guardParser struct {
	toks []token
	pos  int
	file string
}

func parseGuard(toks []token, file string) (*Test, error) {
	if len(toks) == 0 {
		return nil, nil
	}
	gp := &guardParser{toks: toks, file: file}
	t, err := gp.parseOr()
	if err != nil {
		return nil, err
	}
	if gp.pos != len(gp.toks) {
		return nil, fmt.Errorf("%s:%d: syntax error: trailing tokens after guard expression", file, gp.peek().line)
	}
	return t, nil
}

func (gp *guardParser) peek() token {
	if gp.pos < len(gp.toks) {
		return gp.toks[gp.pos]
	}
	return token{typ: tokenNewline}
}

func (gp *guardParser) next() token {
	t := gp.peek()
	gp.pos++
	return t
}

func (gp *guardParser) isKeyword(kw string) bool {
	t := gp.peek()
	return t.typ == tokenWord && t.val == kw
}

func (gp *guardParser) parseOr() (*Test, error) {
	l, err := gp.parseAnd()
	if err != nil {
		return nil, err
	}
	for gp.isKeyword("OR") {
		gp.next()
		r, err := gp.parseAnd()
		if err != nil {
			return nil, err
		}
		l = &Test{kind: testOr, l: l, r: r}
	}
	return l, nil
}

func (gp *guardParser) parseAnd() (*Test, error) {
	l, err := gp.parseNot()
	if err != nil {
		return nil, err
	}
	for gp.isKeyword("AND") {
		gp.next()
		r, err := gp.parseNot()
		if err != nil {
			return nil, err
		}
		l = &Test{kind: testAnd, l: l, r: r}
	}
	return l, nil
}

func (gp *guardParser) parseNot() (*Test, error) {
	if gp.isKeyword("NOT") {
		gp.next()
		operand, err := gp.parseNot()
		if err != nil {
			return nil, err
		}
		return &Test{kind: testNot, not: operand}, nil
	}
	return gp.parseAtom()
}

func (gp *guardParser) parseAtom() (*Test, error) {
	t := gp.peek()

	if t.typ == tokenLParen {
		gp.next()
		inner, err := gp.parseOr()
		if err != nil {
			return nil, err
		}
		if gp.peek().typ != tokenRParen {
			return nil, gp.errorf("expected ')' to close parenthesized guard")
		}
		gp.next()
		return inner, nil
	}

	if t.typ != tokenWord {
		return nil, gp.errorf("expected a guard keyword but found %q", t.val)
	}

	switch t.val {
	case "TRUE":
		gp.next()
		return &Test{kind: testTrue}, nil
	case "FALSE":
		gp.next()
		return &Test{kind: testFalse}, nil
	case "CMD":
		gp.next()
		raw, err := gp.parseRawParenArg()
		if err != nil {
			return nil, err
		}
		return &Test{kind: testCmd, cmd: raw}, nil
	case "MATCH":
		gp.next()
		args, err := gp.parseArgList(2, 3)
		if err != nil {
			return nil, err
		}
		mt := &Test{kind: testMatch}
		if len(args) == 2 {
			mt.matchName = Pat{Str: args[0]}
			mt.matchPat = Pat{Str: args[1]}
		} else {
			mt.matchName = Pat{Str: args[0]}
			mt.matchOpts = args[1]
			mt.matchPat = Pat{Str: args[2]}
		}
		return mt, nil
	case "LIST":
		gp.next()
		args, err := gp.parseArgList(2, -1)
		if err != nil {
			return nil, err
		}
		lt := &Test{kind: testList, listPat: Pat{Str: args[0]}}
		for _, a := range args[1:] {
			lt.listMembers = append(lt.listMembers, Pat{Str: a})
		}
		return lt, nil
	case "EXIST":
		gp.next()
		args, err := gp.parseArgList(1, 1)
		if err != nil {
			return nil, err
		}
		return &Test{kind: testExist, existPat: Pat{Str: args[0]}}, nil
	case "CANDO":
		gp.next()
		args, err := gp.parseArgList(1, 1)
		if err != nil {
			return nil, err
		}
		return &Test{kind: testCando, candoPat: Pat{Str: args[0]}}, nil
	case "OK":
		gp.next()
		args, err := gp.parseArgList(1, 1)
		if err != nil {
			return nil, err
		}
		return &Test{kind: testOk, okPat: Pat{Str: args[0]}}, nil
	}

	return nil, gp.errorf("unknown guard keyword %q", t.val)
}

// parseRawParenArg consumes "(" ... ")" and returns the enclosed tokens'
// values joined by spaces, without splitting on commas — used for CMD,
// whose argument is an arbitrary shell command line.
func (gp *guardParser) parseRawParenArg() (string, error) {
	if gp.peek().typ != tokenLParen {
		return "", gp.errorf("expected '(' after CMD")
	}
	gp.next()

	depth := 1
	var parts []string
	for {
		t := gp.peek()
		if t.typ == tokenNewline {
			return "", gp.errorf("unterminated CMD(...) in guard")
		}
		if t.typ == tokenLParen {
			depth++
		} else if t.typ == tokenRParen {
			depth--
			if depth == 0 {
				gp.next()
				break
			}
		}
		parts = append(parts, t.val)
		gp.next()
	}
	return joinWords(parts), nil
}

// parseArgList consumes "(" arg ( "," arg )* ")" where each arg is the
// space-joined text of the tokens up to the next "," or ")". min/max bound
// the argument count; max < 0 means unbounded.
func (gp *guardParser) parseArgList(min, max int) ([]string, error) {
	if gp.peek().typ != tokenLParen {
		return nil, gp.errorf("expected '(' to begin argument list")
	}
	gp.next()

	var args []string
	var cur []string
	for {
		t := gp.peek()
		switch t.typ {
		case tokenComma:
			args = append(args, joinWords(cur))
			cur = nil
			gp.next()
		case tokenRParen:
			args = append(args, joinWords(cur))
			gp.next()
			if len(args) < min || (max >= 0 && len(args) > max) {
				return nil, gp.errorf("wrong number of arguments (got %d)", len(args))
			}
			return args, nil
		case tokenNewline:
			return nil, gp.errorf("unterminated argument list in guard")
		default:
			cur = append(cur, t.val)
			gp.next()
		}
	}
}

func joinWords(words []string) string {
	out := ""
	for i, w := range words {
		if i > 0 {
			out += " "
		}
		out += w
	}
	return out
}

func (gp *guardParser) errorf(format string, args ...interface{}) error {
	return fmt.Errorf("%s:%d: syntax error: %s", gp.file, gp.peek().line, fmt.Sprintf(format, args...))
}

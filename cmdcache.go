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

// Command-output and command-exit-status caches. Both assume (deliberately,
// same assumption make(1) macro expansion makes) that running the same
// command string twice during one invocation yields the same result.

package cake

import (
	"fmt"
	"strings"
)

type commandCache struct {
	output map[string]string
	status map[string]bool
}

func newCommandCache() *commandCache {
	return &commandCache{
		output: make(map[string]string),
		status: make(map[string]bool),
	}
}

// foldOutput strips trailing whitespace and folds embedded newlines to
// single spaces, the same normalization the C original applies to
// backtick/`[[ cmd ]]` output before it is used as a pattern value.
func foldOutput(s string) string {
	s = strings.TrimRight(s, " \t\r\n")
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == '\n' })
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	return strings.Join(fields, " ")
}

// commandOutput returns the (memoized) stdout of running cmd, used for
// `[[ cmd ]]` and backtick command-pattern expansion. A nonzero exit status
// is a fatal error unless tolerant is set (the -z flag).
func (c *commandCache) commandOutput(pr *processRunner, cmd string, tolerant bool) (string, error) {
	if out, ok := c.output[cmd]; ok {
		return out, nil
	}

	raw, success, err := pr.runCapture(cmd)
	if err != nil {
		return "", err
	}
	if !success && !tolerant {
		return "", fmt.Errorf("cake: command %q exited nonzero", cmd)
	}

	out := foldOutput(raw)
	c.output[cmd] = out
	return out, nil
}

// commandStatus returns the (memoized) exit status of running cmd with
// stdout discarded, used for t_CMD guard evaluation.
func (c *commandCache) commandStatus(pr *processRunner, cmd string) (bool, error) {
	if ok, hit := c.status[cmd]; hit {
		return ok, nil
	}

	ok, err := pr.runStatus(cmd)
	if err != nil {
		return false, err
	}
	c.status[cmd] = ok
	return ok, nil
}

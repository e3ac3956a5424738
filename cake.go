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

// Package cake implements the dependency-chase and update engine described
// in spec.md: given a parsed rule store and a requested target, it computes
// and executes the minimal set of actions needed to bring the target up to
// date.
//
// Everything here is bundled into one Engine context, passed by reference,
// instead of the package-level globals the teacher (lenticularis39-mk) and
// the C original both use — spec.md's own DESIGN NOTES calls this out
// explicitly ("group into a single engine context ... no ambient globals").
package cake

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
)

// ansi color codes, reused from the teacher's friedelschoen-mk fork for
// action echo and error trails.
const (
	ansiDefault   = "\033[0m"
	ansiRed       = "\033[31m"
	ansiGreen     = "\033[32m"
	ansiYellow    = "\033[33m"
	ansiBlue      = "\033[34m"
	ansiBright    = "\033[1m"
	ansiUnderline = "\033[4m"
)

// Flags bundles the CLI switches from spec.md §6 that cmd/cake hands to
// the engine. The CLI surface (cmd/cake) is out of scope for the core per
// spec.md §1, but it has to hand the core something, and this struct is
// that something. Question and NoCollapseWS are carried but not read by
// the engine: cmd/cake answers -q by calling Engine.Question, and echoed
// actions are never whitespace-collapsed.
type Flags struct {
	DryRun            bool // -n
	Touch             bool // -t
	Question          bool // -q
	KeepGoing         bool // default true; -a turns it off (there is no -k switch)
	IgnoreStatus      bool // -i
	Silent            bool // -s
	EchoSource        bool // -b
	NoCollapseWS      bool // -w
	UseCtime          bool // -c
	DeleteRedundant   bool // -d
	Verbose           bool // -v
	RollBack          bool // -r
	SuppressUpToDate  bool // -x
	TolerantCmd       bool // -z
	RemoveBeforeBuild bool // -G
	PruneSelfRef      bool // -L
	Destructive       bool // -X
	Color             bool
	ShellMeta         string
	Shell1            []string // -S1
	Shell2            []string // -S2
}

// DefaultFlags returns the engine's defaults before a CLI or CAKE-env
// parse overrides them.
func DefaultFlags() Flags {
	return Flags{
		KeepGoing: true,
		ShellMeta: defaultShellMeta,
		Shell1:    []string{"sh", "-c"},
		Shell2:    []string{"sh"},
	}
}

// Engine bundles every piece of mutable state spec.md's components share:
// the interner, node table, rule store, caches, filesystem adapter, process
// runner, and the currently-in-progress chase stack (for cycle detection).
type Engine struct {
	Flags Flags

	interner *interner
	Nodes    *NodeTable
	Rules    *ruleSet
	Cmd      *commandCache
	FS       *fsAdapter
	Proc     *processRunner

	chaseStack []Name

	msgMu sync.Mutex

	// diagnostics accumulated for -v reporting
	builtCount   int
	deletedCount int
}

// NewEngine constructs an Engine ready to chase and update targets. Callers
// must call Close once done to tear down the temp directory.
func NewEngine(flags Flags, rules *ruleSet) (*Engine, error) {
	e := &Engine{
		Flags:    flags,
		interner: newInterner(),
		Nodes:    newNodeTable(),
		Rules:    rules,
		Cmd:      newCommandCache(),
		FS:       newFSAdapter(flags.UseCtime, flags.Destructive),
	}
	if err := e.FS.makeTmpdir(); err != nil {
		return nil, err
	}
	e.Proc = newProcessRunner(e.FS.tmpdir)
	if len(flags.Shell1) > 0 {
		e.Proc.shell1 = flags.Shell1
	}
	if len(flags.Shell2) > 0 {
		e.Proc.shell2 = flags.Shell2
	}
	if flags.ShellMeta != "" {
		e.Proc.shellMeta = flags.ShellMeta
	}
	return e, nil
}

// Close tears down the temp directory. Safe to call more than once.
func (e *Engine) Close() error {
	return e.FS.removeTmpdir()
}

func (e *Engine) intern(s string) Name { return e.interner.intern(s) }

// --- message printing (component K's public face + the ambient "logging"
// layer: a build tool's user-facing output is its action/status chatter,
// not a structured log — see SPEC_FULL.md's AMBIENT STACK section) ---

func (e *Engine) colorize(code, s string) string {
	if !e.Flags.Color {
		return s
	}
	return code + s + ansiDefault
}

func (e *Engine) logMessage(format string, args ...interface{}) {
	e.msgMu.Lock()
	defer e.msgMu.Unlock()
	fmt.Println(fmt.Sprintf(format, args...))
}

func (e *Engine) logError(format string, args ...interface{}) {
	e.msgMu.Lock()
	defer e.msgMu.Unlock()
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, e.colorize(ansiRed, msg))
}

func (e *Engine) logStatus(target, what string) {
	if e.Flags.Silent {
		return
	}
	e.logMessage("%s: %s", e.colorize(ansiBlue, target), what)
}

func (e *Engine) logRecipe(target, recipe string, quiet bool) {
	e.msgMu.Lock()
	defer e.msgMu.Unlock()
	label := e.colorize(ansiBlue+ansiBright+ansiUnderline, target)
	if quiet || e.Flags.Silent {
		fmt.Printf("%s: ...\n", label)
		return
	}
	fmt.Printf("%s: ", label)
	printIndented(os.Stdout, recipe, len(target)+2)
	if !strings.HasSuffix(recipe, "\n") {
		fmt.Println()
	}
}

// logVerbose prints a diagnostic line only under -v, formatted as given.
func (e *Engine) logVerbose(format string, args ...interface{}) {
	if !e.Flags.Verbose {
		return
	}
	e.logMessage(format, args...)
}

func humanBytes(n int64) string {
	return humanize.Bytes(uint64(n))
}

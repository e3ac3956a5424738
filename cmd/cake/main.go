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

// cake is the command-line front end for package cake: it reads a
// cakefile, builds the plan graph for the requested targets, and carries
// out (or, under -n/-t/-q, merely reports on) whatever it decides is
// needed. Flag parsing is pflag rather than the teacher's flag, per the
// ambient-stack note in SPEC_FULL.md.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/cake-build/cake"
)

// defaultCakefiles is the search order spec.md's "Default cakefile"
// paragraph specifies.
var defaultCakefiles = []string{"cakefile", "Cakefile", "recipe", "Recipe"}

func main() {
	os.Exit(run())
}

func run() int {
	args := append(strings.Fields(os.Getenv("CAKE")), os.Args[1:]...)

	fs := pflag.NewFlagSet("cake", pflag.ContinueOnError)
	fs.SortFlags = false

	var (
		cakefile          string
		dryRun            bool
		touch             bool
		question          bool
		stopOnError       bool
		ignoreStatus      bool
		silent            bool
		echoSource        bool
		noCollapseWS      bool
		useCtime          bool
		deleteRedundant   bool
		verbose           bool
		rollBack          bool
		suppressUpToDate  bool
		tolerantCmd       bool
		removeBeforeBuild bool
		pruneSelfRef      bool
		reservedParallel  bool
		destructive       bool
		dumpAndExit       bool
		color             string
		defines           []string
		undefines         []string
		includes          []string
		shell1            string
		shell2            string
		shellMeta         string
		reservedWorkers   int
	)

	fs.StringVarP(&cakefile, "f", "f", "", "use the given file as the cakefile")
	fs.BoolVarP(&dryRun, "n", "n", false, "dry run: print actions, do not execute")
	fs.BoolVarP(&touch, "t", "t", false, "touch mode: update mtimes instead of executing")
	fs.BoolVarP(&question, "q", "q", false, "question mode: exit status reports up-to-date-ness")
	fs.BoolVarP(&stopOnError, "a", "a", false, "stop at the first error (keep-going is on by default)")
	fs.BoolVarP(&ignoreStatus, "i", "i", false, "ignore action exit codes")
	fs.BoolVarP(&silent, "s", "s", false, "silent: suppress all action echo")
	fs.BoolVarP(&echoSource, "b", "b", false, "echo action source instead of expanded form")
	fs.BoolVarP(&noCollapseWS, "w", "w", false, "accepted; echoed actions always keep their whitespace as written")
	fs.BoolVarP(&useCtime, "c", "c", false, "use ctime instead of mtime for file ages")
	fs.BoolVarP(&deleteRedundant, "d", "d", false, "enable delete-on-cleanup for redundant intermediates")
	fs.BoolVarP(&verbose, "v", "v", false, "verbose diagnostics")
	fs.BoolVarP(&rollBack, "r", "r", false, "roll back mtime of regenerated files")
	fs.BoolVarP(&suppressUpToDate, "x", "x", false, "suppress \"up to date\" chatter")
	fs.BoolVarP(&tolerantCmd, "z", "z", false, "tolerate nonzero exit from [[ cmd ]] expansions")
	fs.BoolVarP(&removeBeforeBuild, "G", "G", false, "remove each product before running its actions")
	fs.BoolVarP(&pruneSelfRef, "L", "L", false, "prune self-referential rules during candidate selection")
	fs.BoolVarP(&reservedParallel, "R", "R", false, "reserved for parallel build; not used by the serial core")
	fs.BoolVarP(&destructive, "X", "X", false, "enable destructive delete (else moved to a temp dir)")
	fs.BoolVarP(&dumpAndExit, "Z", "Z", false, "dump the preprocessed cakefile and exit")
	fs.StringVar(&color, "color", "auto", "colorize output: auto, always, never")
	fs.StringArrayVarP(&defines, "D", "D", nil, "forwarded to the preprocessor")
	fs.StringArrayVarP(&undefines, "U", "U", nil, "forwarded to the preprocessor")
	fs.StringArrayVarP(&includes, "I", "I", nil, "forwarded to the preprocessor")
	fs.StringVar(&shell1, "S1", "", "override the system-shell invocation")
	fs.StringVar(&shell2, "S2", "", "override the script-shell invocation")
	fs.StringVarP(&shellMeta, "T", "T", "", "override the shell metacharacter set")
	fs.IntVarP(&reservedWorkers, "N", "N", 0, "reserved worker count; not used by the serial core")

	if err := fs.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return 0
		}
		fmt.Fprintln(os.Stderr, "cake:", err)
		return 1
	}

	if cakefile == "" {
		found, err := findDefaultCakefile()
		if err != nil {
			fmt.Fprintln(os.Stderr, "cake:", err)
			return 1
		}
		cakefile = found
	}

	input, err := os.ReadFile(cakefile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cake: no cakefile found: %v\n", err)
		return 1
	}
	abspath, err := filepath.Abs(cakefile)
	if err != nil {
		abspath = cakefile
	}

	flags := cake.DefaultFlags()
	flags.DryRun = dryRun
	flags.Touch = touch
	flags.KeepGoing = !stopOnError
	flags.IgnoreStatus = ignoreStatus
	flags.Silent = silent
	flags.EchoSource = echoSource
	flags.NoCollapseWS = noCollapseWS
	flags.UseCtime = useCtime
	flags.DeleteRedundant = deleteRedundant
	flags.Verbose = verbose
	flags.RollBack = rollBack
	flags.SuppressUpToDate = suppressUpToDate
	flags.TolerantCmd = tolerantCmd
	flags.RemoveBeforeBuild = removeBeforeBuild
	flags.PruneSelfRef = pruneSelfRef
	flags.Destructive = destructive
	flags.Color = resolveColor(color)
	if shell1 != "" {
		flags.Shell1 = strings.Fields(shell1)
	}
	if shell2 != "" {
		flags.Shell2 = strings.Fields(shell2)
	}
	if shellMeta != "" {
		flags.ShellMeta = shellMeta
	}

	// -R/-N are accepted for compatibility with the flag table but the
	// serial core has no parallel scheduler to hand them to.
	// -D/-U/-I are accepted and folded into CAKEFLAGS; the preprocessor
	// pass itself is out of scope (see SPEC_FULL.md).
	cakeflags := effectiveFlagString(fs)
	env := make(map[string][]string)
	for _, elem := range os.Environ() {
		kv := strings.SplitN(elem, "=", 2)
		if len(kv) == 2 {
			env[kv[0]] = append(env[kv[0]], kv[1])
		}
	}
	env["CAKEFLAGS"] = []string{cakeflags}

	rules, errs := cake.Parse(string(input), cakefile, abspath, env)
	if len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintln(os.Stderr, "cake:", e)
		}
		return 1
	}

	if dumpAndExit {
		cake.DumpEntries(os.Stdout, rules)
		return 0
	}

	targets := rules.AddMainEntry(fs.Args(), cakefile)
	if len(targets) == 0 {
		fmt.Println("cake: nothing to cake")
		return 0
	}

	engine, err := cake.NewEngine(flags, rules)
	if err != nil {
		fmt.Fprintln(os.Stderr, "cake:", err)
		return 1
	}
	defer engine.Close()

	if err := engine.PrepEntries(); err != nil {
		fmt.Fprintln(os.Stderr, "cake:", err)
		return 1
	}

	root, err := engine.Chase(cake.MainCakeName)
	if err != nil {
		fmt.Fprintln(os.Stderr, "cake:", err)
		return 1
	}

	if question {
		if engine.Question(root) {
			return 1
		}
		return 0
	}

	if err := engine.Execute(root); err != nil {
		fmt.Fprintln(os.Stderr, "cake:", err)
		return 1
	}

	if root.Flag&cake.NodeErr != 0 {
		return 1
	}
	return 0
}

// findDefaultCakefile walks spec.md's search order: cakefile, Cakefile,
// recipe, Recipe in the working directory.
func findDefaultCakefile() (string, error) {
	for _, name := range defaultCakefiles {
		if _, err := os.Stat(name); err == nil {
			return name, nil
		}
	}
	return "", fmt.Errorf("no cakefile, Cakefile, recipe, or Recipe found")
}

// resolveColor picks a --color default the way the teacher's fork does:
// a terminal check, overridable by an explicit always/never.
func resolveColor(mode string) bool {
	switch mode {
	case "always":
		return true
	case "never":
		return false
	default:
		return term.IsTerminal(int(os.Stdout.Fd()))
	}
}

// effectiveFlagString renders the flags actually set on the command line
// back into a string, injected as CAKEFLAGS for cakefiles that branch on
// it (e.g. "#if defined(CAKEFLAGS)"-style conditionals).
func effectiveFlagString(fs *pflag.FlagSet) string {
	var b strings.Builder
	fs.Visit(func(f *pflag.Flag) {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		if f.Value.Type() == "bool" {
			fmt.Fprintf(&b, "-%s", f.Name)
		} else {
			fmt.Fprintf(&b, "-%s%s", f.Name, f.Value.String())
		}
	})
	return b.String()
}

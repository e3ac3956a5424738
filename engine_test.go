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

// End-to-end scenarios exercising the chase/update engines together, one
// per spec.md §8 "Concrete scenarios" entry.

package cake

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// newTestEngine builds an Engine with the given entries rooted in dir,
// changing the process's working directory there for the duration of the
// test (file names in entries are relative, matching how a real cakefile
// run resolves them).
func newTestEngine(t *testing.T, entries ...Entry) *Engine {
	t.Helper()
	dir := t.TempDir()
	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(cwd) })

	rs := newRuleSet()
	for _, en := range entries {
		rs.add(en)
	}

	e, err := NewEngine(DefaultFlags(), rs)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	require.NoError(t, e.PrepEntries())
	return e
}

func writeFile(t *testing.T, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(name, []byte(content), 0o644))
}

// Scenario 1: base file present, product absent, one action builds it.
func TestScenarioBaseFileBuildsProduct(t *testing.T) {
	e := newTestEngine(t, Entry{
		New: []Pat{{Str: "foo.o"}},
		Old: []Pat{{Str: "foo.c"}},
		Act: []Act{{Str: "cp foo.c foo.o"}},
	})
	writeFile(t, "foo.c", "int main(){}")

	n, err := e.Chase(e.Intern("foo.o"))
	require.NoError(t, err)
	require.Equal(t, KindCANDO, n.Kind)

	require.NoError(t, e.Execute(n))
	require.FileExists(t, filepath.Join(".", "foo.o"))
	require.False(t, n.Flag.has(NodeErr))
	require.Equal(t, KindOK, n.Kind)
}

// Scenario 2: a second chase/execute pass against an already-current
// product executes no action.
func TestScenarioUpToDateSecondRun(t *testing.T) {
	entries := []Entry{{
		New: []Pat{{Str: "foo.o"}},
		Old: []Pat{{Str: "foo.c"}},
		Act: []Act{{Str: "cp foo.c foo.o"}},
	}}

	e := newTestEngine(t, entries...)
	writeFile(t, "foo.c", "int main(){}")
	n, err := e.Chase(e.Intern("foo.o"))
	require.NoError(t, err)
	require.NoError(t, e.Execute(n))
	info, err := os.Stat("foo.o")
	require.NoError(t, err)
	firstModTime := info.ModTime()

	// Re-run chase/execute from scratch against the same files (a fresh
	// Engine mirrors a second cake invocation against the already-built
	// tree).
	rs2 := newRuleSet()
	for _, en := range entries {
		rs2.add(en)
	}
	e2, err := NewEngine(DefaultFlags(), rs2)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e2.Close() })
	require.NoError(t, e2.PrepEntries())

	n2, err := e2.Chase(e2.Intern("foo.o"))
	require.NoError(t, err)
	require.Equal(t, KindOK, n2.Kind)

	require.NoError(t, e2.Execute(n2))
	info2, err := os.Stat("foo.o")
	require.NoError(t, err)
	require.Equal(t, firstModTime, info2.ModTime())
}

// Scenario 3: pattern substitution builds each target from its own
// grounded prerequisite.
func TestScenarioPatternSubstitution(t *testing.T) {
	e := newTestEngine(t, Entry{
		New: []Pat{{Str: "%0.o"}},
		Old: []Pat{{Str: "%0.c"}},
		Act: []Act{{Str: "cp %0.c %0.o"}},
	})
	writeFile(t, "a.c", "a")
	writeFile(t, "b.c", "b")

	for _, target := range []string{"a.o", "b.o"} {
		n, err := e.Chase(e.Intern(target))
		require.NoError(t, err)
		require.Equal(t, KindCANDO, n.Kind)
		require.NoError(t, e.Execute(n))
		require.FileExists(t, target)
	}
}

// Scenario 4: a guarded rule's action only runs when the guard evaluates
// true.
func TestScenarioGuardedRule(t *testing.T) {
	guard := &Test{kind: testExist, existPat: Pat{Str: "cfg"}}
	e := newTestEngine(t, Entry{
		New:  []Pat{{Str: "out"}},
		Old:  []Pat{{Str: "in"}},
		Cond: guard,
		Act:  []Act{{Str: "cp in out"}},
	})
	writeFile(t, "in", "data")
	writeFile(t, "cfg", "")

	n, err := e.Chase(e.Intern("out"))
	require.NoError(t, err)
	require.Equal(t, KindCANDO, n.Kind)
	require.NoError(t, e.Execute(n))
	require.FileExists(t, "out")
}

func TestScenarioGuardFalseSkipsAction(t *testing.T) {
	guard := &Test{kind: testExist, existPat: Pat{Str: "cfg"}}
	e := newTestEngine(t, Entry{
		New:  []Pat{{Str: "out"}},
		Old:  []Pat{{Str: "in"}},
		Cond: guard,
		Act:  []Act{{Str: "cp in out"}},
	})
	writeFile(t, "in", "data")
	// cfg deliberately absent.

	n, err := e.Chase(e.Intern("out"))
	require.NoError(t, err)
	// No entry's guard is satisfied, so there is no feasible rule and no
	// base file on disk either.
	require.Equal(t, KindNOWAY, n.Kind)
}

// Scenario 5: a NONVOL product whose rebuild is byte-identical does not
// propagate staleness downstream (its mtime is restored).
func TestScenarioNonvolNoOpRebuildPreservesMtime(t *testing.T) {
	e := newTestEngine(t, Entry{
		New: []Pat{{Str: "conf.h", Flag: PatNonvol}},
		Act: []Act{{Str: "true"}}, // rewrites nothing; content stays identical
	})
	writeFile(t, "conf.h", "#define X 1\n")
	info, err := os.Stat("conf.h")
	require.NoError(t, err)
	old := info.ModTime().Add(-time.Hour)
	require.NoError(t, os.Chtimes("conf.h", old, old))

	n, err := e.Chase(e.Intern("conf.h"))
	require.NoError(t, err)
	// No prerequisites means the rule always runs once.
	require.NoError(t, e.Execute(n))
	require.False(t, n.Flag.has(NodeErr))

	info2, err := os.Stat("conf.h")
	require.NoError(t, err)
	require.WithinDuration(t, old, info2.ModTime(), time.Second)
}

// Scenario 6: a cyclic dependency is reported with "itself" in the
// message and the offending node carries ERR.
func TestScenarioCycleDetection(t *testing.T) {
	e := newTestEngine(t,
		Entry{New: []Pat{{Str: "a"}}, Old: []Pat{{Str: "b"}}, Act: []Act{{Str: "true"}}},
		Entry{New: []Pat{{Str: "b"}}, Old: []Pat{{Str: "a"}}, Act: []Act{{Str: "true"}}},
	)

	n, err := e.Chase(e.Intern("a"))
	require.NoError(t, err)
	require.True(t, n.Flag.has(NodeErr))
	require.NotEmpty(t, n.Msg)
	found := false
	for _, m := range n.Msg {
		if strings.Contains(m, "itself") {
			found = true
		}
	}
	require.True(t, found, "expected a cycle message containing \"itself\", got %v", n.Msg)
}

// Missing base file with no applicable rule is a planning failure, not a
// crash.
func TestChaseMissingBaseFile(t *testing.T) {
	e := newTestEngine(t)
	n, err := e.Chase(e.Intern("nonexistent.c"))
	require.NoError(t, err)
	require.Equal(t, KindNOWAY, n.Kind)
	require.True(t, n.Flag.has(NodeErr))
}

// Buddy cohesion: two products of one rule share the same New() slice and
// the same chosen actions.
func TestBuddyCohesion(t *testing.T) {
	e := newTestEngine(t, Entry{
		New: []Pat{{Str: "%0.o"}, {Str: "%0.d"}},
		Old: []Pat{{Str: "%0.c"}},
		Act: []Act{{Str: "cp %0.c %0.o"}, {Str: "touch %0.d"}},
	})
	writeFile(t, "a.c", "a")

	n1, err := e.Chase(e.Intern("a.o"))
	require.NoError(t, err)
	n2, err := e.Chase(e.Intern("a.d"))
	require.NoError(t, err)

	require.Equal(t, n1.New(), n2.New())
	require.Same(t, n1.Rule, n2.Rule)
}

// Question mode (-q) reports "needs work" without running any action.
func TestQuestionModeDoesNotExecute(t *testing.T) {
	e := newTestEngine(t, Entry{
		New: []Pat{{Str: "foo.o"}},
		Old: []Pat{{Str: "foo.c"}},
		Act: []Act{{Str: "cp foo.c foo.o"}},
	})
	writeFile(t, "foo.c", "int main(){}")

	n, err := e.Chase(e.Intern("foo.o"))
	require.NoError(t, err)
	require.True(t, e.Question(n))
	require.NoFileExists(t, "foo.o")
}

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

// Process runner: fork/exec a command, capture its status and optionally
// its stdout. The engine itself never runs two actions concurrently (see
// spec's Non-goals — parallel execution is out of scope for this core).
// Each processRunner keeps its own pid-keyed active-process table; the
// preprocessor pipe (popen) runs at parse time on a runner of its own,
// separate from the engine's.

package cake

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/google/shlex"
)

// ProcKind selects how a command string is turned into an argv.
type ProcKind int

const (
	// KindExecProc runs the command directly, tokenized on whitespace
	// (respecting backslash escapes), unless it contains a shell
	// metacharacter, in which case it is silently promoted to KindSystem.
	KindExecProc ProcKind = iota
	// KindSystem runs the command through the configured system shell,
	// passing the whole string as a single argument.
	KindSystem
	// KindScript writes the command string to a fresh temp file and runs
	// the configured script shell on it.
	KindScript
)

// defaultShellMeta is the default set of characters that promote an
// Exec-kind action to System, matching the C original's shellchars default
// (see original_source/cake/act.c) and overridable via -T.
const defaultShellMeta = "`;&|<>()[]{}$*?~#!\"'"

// ExitStatus is the result of waiting on a child process.
type ExitStatus struct {
	Code    int
	Signal  string
	Success bool
}

type procHandle struct {
	cmd      *exec.Cmd
	callback func(ExitStatus)
}

// processRunner forks and waits on child processes, synchronously, on
// behalf of the update engine and the cakefile preprocessor pipe.
type processRunner struct {
	shell1    []string // system-shell invocation, default {"sh", "-c"}
	shell2    []string // script-shell invocation, default {"sh"}
	shellMeta string   // metacharacter set that promotes Exec -> System
	tmpdir    string

	active map[int]*procHandle
}

func newProcessRunner(tmpdir string) *processRunner {
	return &processRunner{
		shell1:    []string{"sh", "-c"},
		shell2:    []string{"sh"},
		shellMeta: defaultShellMeta,
		tmpdir:    tmpdir,
		active:    make(map[int]*procHandle),
	}
}

func containsShellMeta(s, meta string) bool {
	return strings.ContainsAny(s, meta)
}

// buildCmd constructs the *exec.Cmd for one action, without starting it.
func (pr *processRunner) buildCmd(command string, kind ProcKind) (*exec.Cmd, error) {
	switch kind {
	case KindExecProc:
		if containsShellMeta(command, pr.shellMeta) {
			return pr.buildCmd(command, KindSystem)
		}
		argv, err := shlex.Split(command)
		if err != nil {
			return nil, fmt.Errorf("cake: tokenizing command %q: %w", command, err)
		}
		if len(argv) == 0 {
			return nil, fmt.Errorf("cake: empty command")
		}
		return exec.Command(argv[0], argv[1:]...), nil

	case KindSystem:
		if len(pr.shell1) == 0 {
			return nil, fmt.Errorf("cake: no system shell configured")
		}
		args := append(append([]string{}, pr.shell1[1:]...), command)
		return exec.Command(pr.shell1[0], args...), nil

	case KindScript:
		f, err := os.CreateTemp(pr.tmpdir, "script_")
		if err != nil {
			return nil, fmt.Errorf("cake system error, open tmp script: %w", err)
		}
		if _, err := f.WriteString(command); err != nil {
			f.Close()
			return nil, fmt.Errorf("cake system error, write tmp script: %w", err)
		}
		f.Close()
		if len(pr.shell2) == 0 {
			return nil, fmt.Errorf("cake: no script shell configured")
		}
		args := append(append([]string{}, pr.shell2[1:]...), f.Name())
		return exec.Command(pr.shell2[0], args...), nil
	}

	return nil, fmt.Errorf("cake internal error: unknown process kind %d", kind)
}

// run starts command under the given kind, optionally redirecting stdout to
// capturePath, and returns its pid for a later wait call. callback, if
// non-nil, fires (on the caller's goroutine, inside wait) once the process
// has been reaped.
func (pr *processRunner) run(command string, kind ProcKind, capturePath string, callback func(ExitStatus)) (int, error) {
	cmd, err := pr.buildCmd(command, kind)
	if err != nil {
		return 0, err
	}

	cmd.Stdin = os.Stdin
	cmd.Stderr = os.Stderr
	if capturePath != "" {
		out, err := os.Create(capturePath)
		if err != nil {
			return 0, fmt.Errorf("cake system error, open %s: %w", capturePath, err)
		}
		cmd.Stdout = out
		defer out.Close()
	} else {
		cmd.Stdout = os.Stdout
	}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("cake system error, fork %s: %w", command, err)
	}

	pid := cmd.Process.Pid
	pr.active[pid] = &procHandle{cmd: cmd, callback: callback}
	return pid, nil
}

// runCapture runs command and returns its stdout, used by the
// command-output cache for `[[ cmd ]]` expansion.
func (pr *processRunner) runCapture(command string) (string, bool, error) {
	cmd, err := pr.buildCmd(command, KindSystem)
	if err != nil {
		return "", false, err
	}
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		if _, ok := err.(*exec.ExitError); ok {
			return buf.String(), false, nil
		}
		return "", false, fmt.Errorf("cake system error, exec %s: %w", command, err)
	}
	return buf.String(), true, nil
}

// runStatus runs command with stdout discarded, returning only whether it
// exited zero. Used for `t_CMD` guard evaluation.
func (pr *processRunner) runStatus(command string) (bool, error) {
	cmd, err := pr.buildCmd(command, KindSystem)
	if err != nil {
		return false, err
	}
	cmd.Stdout = io.Discard
	cmd.Stderr = os.Stderr
	err = cmd.Run()
	if err == nil {
		return true, nil
	}
	if _, ok := err.(*exec.ExitError); ok {
		return false, nil
	}
	return false, fmt.Errorf("cake system error, exec %s: %w", command, err)
}

// wait blocks until pid exits, firing its callback (if any) before
// returning its ExitStatus.
func (pr *processRunner) wait(pid int) (ExitStatus, error) {
	h, ok := pr.active[pid]
	if !ok {
		return ExitStatus{}, fmt.Errorf("cake internal error: wait on unknown pid %d", pid)
	}
	delete(pr.active, pid)

	err := h.cmd.Wait()
	status := ExitStatus{Success: err == nil}
	if err == nil {
		status.Code = 0
	} else if exitErr, ok := err.(*exec.ExitError); ok {
		status.Code = exitErr.ExitCode()
		if status.Code < 0 {
			status.Signal = exitErr.String()
		}
	} else {
		return ExitStatus{}, fmt.Errorf("cake system error, wait: %w", err)
	}

	if h.callback != nil {
		h.callback(status)
	}
	return status, nil
}

// popen starts command with its stdout piped back to the caller, used
// exclusively to pipe the cakefile through an external preprocessor. The
// returned ReadCloser must be fully drained (or closed) and wait() called
// with the returned pid to avoid leaving a zombie.
func (pr *processRunner) popen(command string) (io.ReadCloser, int, error) {
	cmd, err := pr.buildCmd(command, KindSystem)
	if err != nil {
		return nil, 0, err
	}
	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, 0, fmt.Errorf("cake system error, pipe: %w", err)
	}
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, 0, fmt.Errorf("cake system error, fork %s: %w", command, err)
	}
	pid := cmd.Process.Pid
	pr.active[pid] = &procHandle{cmd: cmd}
	return out, pid, nil
}

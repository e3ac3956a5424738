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

// Filesystem adapter: stat/utimes/remove, the non-volatile save/diff
// snapshot store, and the per-process temp-dir lifecycle.

package cake

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// fsAdapter is the component D collaborator: every engine operation that
// touches the filesystem goes through here so it can be uniformly error-
// wrapped into the "cake system error, <op> <arg>" format spec.md's §7
// requires.
type fsAdapter struct {
	useCtime    bool // -c: use ctime instead of mtime for file ages
	destructive bool // -X: unlink for real instead of moving under os.TempDir()
	tmpdir      string
}

func newFSAdapter(useCtime, destructive bool) *fsAdapter {
	return &fsAdapter{useCtime: useCtime, destructive: destructive}
}

// sysErrorf formats a system-tier error in the uniform shape spec.md's §7
// mandates: "cake system error, <op> <arg>: <underlying>".
func sysErrorf(op, arg string, err error) error {
	return fmt.Errorf("cake system error, %s %s: %w", op, arg, err)
}

// stat refreshes a node's EXIST flag and Rtime from the filesystem. A
// directory is additionally marked PRECIOUS (directories are never deleted
// by cleanup). A missing file clears NONVOL (there is nothing to compare a
// saved copy against) and sets Rtime to genesis.
//
// If an earlier stat of this same node observed it absent and this call now
// finds it present, the node is marked NEWFILE: it did not exist before this
// run began, so cleanup's age check (which otherwise skips a node whose
// utime predates its rtime) can trust it outright.
func (fs *fsAdapter) stat(n *Node) error {
	hadExist := n.Flag.has(NodeExist)
	wasStatted := n.statted
	n.statted = true

	info, err := os.Stat(string(n.Name))
	if err != nil {
		if os.IsNotExist(err) {
			n.Flag &^= NodeExist
			n.Flag &^= NodeNonvol
			n.Rtime = genesis
			return nil
		}
		return sysErrorf("stat", string(n.Name), err)
	}

	n.Flag |= NodeExist
	if wasStatted && !hadExist {
		n.Flag |= NodeNewfile
	}
	if info.IsDir() {
		n.Flag |= NodePrecious
	}
	n.Rtime = fileTime(info, fs.useCtime)
	return nil
}

// utimes sets name's mtime to t (or to the current wall clock if t is
// genesis) and refreshes the node's Rtime to match.
func (fs *fsAdapter) utimes(n *Node, t time.Time) error {
	if t.Equal(genesis) {
		t = now()
	}
	if err := os.Chtimes(string(n.Name), t, t); err != nil {
		return sysErrorf("utimes", string(n.Name), err)
	}
	n.Rtime = t
	return nil
}

// remove unlinks name, or — unless destructive mode is set — moves it under
// the system temp directory with a collision-proof suffix instead of
// deleting it outright.
func (fs *fsAdapter) remove(name string) error {
	if fs.destructive {
		if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
			return sysErrorf("unlink", name, err)
		}
		return nil
	}

	dest := filepath.Join(os.TempDir(), flattenName(name)+"."+uuid.NewString())
	if err := os.Rename(name, dest); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return sysErrorf("remove (safe)", name, err)
	}
	return nil
}

// flattenName replaces path separators with colons, the same scheme the C
// original uses for both safe-remove destinations and save-copy names.
func flattenName(name string) string {
	return strings.ReplaceAll(name, string(filepath.Separator), ":")
}

func (fs *fsAdapter) savePath(name string) string {
	return filepath.Join(fs.tmpdir, "save_"+flattenName(name))
}

// save copies name's current content into the temp directory, to be
// compared later by diff once the rebuild has run.
func (fs *fsAdapter) save(name string) error {
	src, err := os.Open(name)
	if err != nil {
		return sysErrorf("open", name, err)
	}
	defer src.Close()

	dst, err := os.Create(fs.savePath(name))
	if err != nil {
		return sysErrorf("open", fs.savePath(name), err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return sysErrorf("copy", name, err)
	}
	return nil
}

// diff byte-compares name against its previously saved snapshot and removes
// the snapshot. It returns true ("changed") if the content differs, and
// also true if either side cannot be read — an unreadable snapshot means
// the non-volatile guarantee cannot be made, so the caller should treat the
// rebuild as having produced new content.
func (fs *fsAdapter) diff(name string) bool {
	savePath := fs.savePath(name)
	defer os.Remove(savePath)

	oldContent, err1 := os.ReadFile(savePath)
	newContent, err2 := os.ReadFile(name)
	if err1 != nil || err2 != nil {
		return true
	}
	return !bytes.Equal(oldContent, newContent)
}

// makeTmpdir creates this run's scratch directory (saved snapshots,
// generated scripts) under the system temp directory, named uniquely so
// concurrent cake invocations never collide.
func (fs *fsAdapter) makeTmpdir() error {
	dir := filepath.Join(os.TempDir(), "cake-"+uuid.NewString())
	if err := os.Mkdir(dir, 0o700); err != nil {
		return sysErrorf("mkdir", dir, err)
	}
	fs.tmpdir = dir
	return nil
}

// removeTmpdir tears down the scratch directory. Engine.Close calls it; it
// tolerates an already-missing directory, so Close is safe to repeat.
func (fs *fsAdapter) removeTmpdir() error {
	if fs.tmpdir == "" {
		return nil
	}
	if err := os.RemoveAll(fs.tmpdir); err != nil {
		return sysErrorf("rmdir", fs.tmpdir, err)
	}
	return nil
}

// now returns the current wall-clock time truncated to one-second
// granularity, matching the C original's time_t resolution.
func now() time.Time {
	return time.Now().Truncate(time.Second)
}

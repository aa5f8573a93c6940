// Copyright 2026 Dolthub, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package session implements the server-side backup session state machine
// (C5) and the snapshot/group directory layout and locking (C8).
package session

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dolthub/nbsbackup/errs"
)

// Group identifies a series of snapshots by (namespace, type, id), e.g.
// (ns/foo/bar, "vm", "101").
type Group struct {
	Namespace string // slash-separated, may be empty for the root namespace
	Type      string // "vm", "ct", "host", ...
	ID        string
}

// RelPath returns the group's path relative to the datastore root.
func (g Group) RelPath() string {
	parts := make([]string, 0, 4)
	if g.Namespace != "" {
		parts = append(parts, strings.Split(g.Namespace, "/")...)
	}
	parts = append(parts, g.Type, g.ID)
	return filepath.Join(parts...)
}

// snapshotTimeLayout is chosen so that lexicographic string ordering of
// snapshot directory names equals chronological ordering, per §3.
const snapshotTimeLayout = "2006-01-02T15:04:05Z"

// SnapshotDirName formats backupTime (a unix timestamp, UTC) as the
// directory name for a snapshot.
func SnapshotDirName(backupTime int64) string {
	return time.Unix(backupTime, 0).UTC().Format(snapshotTimeLayout)
}

// ParseSnapshotDirName is the inverse of SnapshotDirName.
func ParseSnapshotDirName(name string) (int64, error) {
	t, err := time.Parse(snapshotTimeLayout, name)
	if err != nil {
		return 0, errs.Wrapf(errs.Argument, err, "parsing snapshot directory name %q", name)
	}
	return t.Unix(), nil
}

// Layout resolves datastore-relative paths for groups and snapshots,
// rooted at a single datastore directory (§6).
type Layout struct {
	Root string
}

// GroupDir returns the absolute path of g's directory.
func (l Layout) GroupDir(g Group) string {
	return filepath.Join(l.Root, g.RelPath())
}

// SnapshotDir returns the absolute path of one snapshot directory.
func (l Layout) SnapshotDir(g Group, backupTime int64) string {
	return filepath.Join(l.GroupDir(g), SnapshotDirName(backupTime))
}

// GroupLockPath returns the path of the group's exclusive-flock target.
func (l Layout) GroupLockPath(g Group) string {
	return filepath.Join(l.GroupDir(g), ".lock")
}

// SnapshotLockPath returns the path of one snapshot's flock target,
// shared-locked for the duration of any session reading it as "previous".
func (l Layout) SnapshotLockPath(g Group, backupTime int64) string {
	return filepath.Join(l.SnapshotDir(g, backupTime), ".lock")
}

// OwnerFilePath returns the path of the small file recording the auth
// identity that owns g, written once at the group's first snapshot.
func (l Layout) OwnerFilePath(g Group) string {
	return filepath.Join(l.GroupDir(g), ".owner")
}

// ListSnapshots returns every snapshot's backup_time for g, ascending. It
// returns an empty slice (not an error) if the group does not exist yet.
func (l Layout) ListSnapshots(g Group) ([]int64, error) {
	entries, err := os.ReadDir(l.GroupDir(g))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.Wrapf(errs.IO, err, "reading group directory for %s", g.RelPath())
	}
	var times []int64
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		t, err := ParseSnapshotDirName(e.Name())
		if err != nil {
			continue // not a snapshot directory (e.g. stray file)
		}
		times = append(times, t)
	}
	sort.Slice(times, func(i, j int) bool { return times[i] < times[j] })
	return times, nil
}

// LatestSnapshot returns g's most recent snapshot's backup_time, or
// ok=false if the group has no snapshots.
func (l Layout) LatestSnapshot(g Group) (backupTime int64, ok bool, err error) {
	times, err := l.ListSnapshots(g)
	if err != nil {
		return 0, false, err
	}
	if len(times) == 0 {
		return 0, false, nil
	}
	return times[len(times)-1], true, nil
}

// Owner returns the recorded owner of g, or ok=false if the group has no
// owner recorded yet (i.e. it has no snapshots).
func (l Layout) Owner(g Group) (owner string, ok bool, err error) {
	b, err := os.ReadFile(l.OwnerFilePath(g))
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, errs.Wrapf(errs.IO, err, "reading owner file for %s", g.RelPath())
	}
	return strings.TrimSpace(string(b)), true, nil
}

// SetOwner records authID as g's owner. Called once, when the group's
// first snapshot is created.
func (l Layout) SetOwner(g Group, authID string) error {
	if err := os.MkdirAll(l.GroupDir(g), 0o755); err != nil {
		return errs.Wrapf(errs.IO, err, "creating group directory for %s", g.RelPath())
	}
	if err := os.WriteFile(l.OwnerFilePath(g), []byte(authID+"\n"), 0o644); err != nil {
		return errs.Wrapf(errs.IO, err, "writing owner file for %s", g.RelPath())
	}
	return nil
}

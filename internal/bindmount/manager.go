// Copyright 2025 Google LLC
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

package bindmount

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/layerfuse/layerfuse/internal/clock"
)

// mounted records one bind (or devpts) this manager has successfully
// installed, enough to reverse it later without re-deriving anything from
// the original Spec.
type mounted struct {
	txn       uuid.UUID // pairs a mount's log line with its eventual unmount
	target    string    // canonical absolute path, resolved at mount time
	mountedAt time.Time // transaction start, for the unmount's duration log
	isDevpts  bool
	// symlinkCreated is only meaningful for isDevpts: the pts/ptmx symlink
	// is removed on unmount only if this manager is the one that made it
	// (spec §4.7).
	symlinkCreated bool
}

// Manager mounts and unmounts a set of bind mounts under a fixed base
// directory, tracking what it installed so unmount_all can reverse it.
type Manager struct {
	baseDir string
	clk     clock.Clock // timestamps each mount/unmount transaction's log line

	mu      sync.Mutex
	mounted []mounted
}

// New canonicalises baseDir and returns a Manager rooted there. baseDir
// must already exist.
func New(baseDir string) (*Manager, error) {
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, errors.Wrap(err, "bindmount: resolving base directory")
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, errors.Wrap(err, "bindmount: base directory")
	}
	return &Manager{baseDir: real, clk: clock.RealClock{}}, nil
}

// MountAll installs every spec in order. On the first failure it stops and
// returns the error; specs already mounted stay tracked and will be
// unwound by a later UnmountAll the same as any other successful mount.
func (m *Manager) MountAll(ctx context.Context, specs []Spec) error {
	for _, s := range specs {
		if err := m.mountOne(ctx, s); err != nil {
			return errors.Wrapf(err, "bindmount: mounting %q", s.Target)
		}
	}
	return nil
}

func (m *Manager) mountOne(ctx context.Context, s Spec) error {
	rel := cleanRel(s.Target)
	target, err := canonicalizeUnderBase(m.baseDir, s.Target)
	if err != nil {
		return err
	}

	txn := uuid.New()
	startedAt := m.clk.Now()

	if isDevptsTarget(rel) {
		entry, err := m.mountDevpts(target)
		if err != nil {
			glog.Warningf("bindmount[%s]: devpts mount at %s failed: %v", txn, target, err)
			return err
		}
		entry.txn = txn
		entry.mountedAt = startedAt
		glog.Infof("bindmount[%s]: devpts mounted at %s (%s)", txn, target, startedAt)
		m.mu.Lock()
		m.mounted = append(m.mounted, *entry)
		m.mu.Unlock()
		return nil
	}

	if err := ensureTargetExists(target, s.HostPath); err != nil {
		return errors.Wrapf(err, "bindmount: creating target %s", target)
	}

	if err := unix.Mount(s.HostPath, target, "", unix.MS_BIND, ""); err != nil {
		return errors.Wrapf(err, "bindmount: bind %s -> %s", s.HostPath, target)
	}

	if s.ReadOnly {
		flags := uintptr(unix.MS_BIND | unix.MS_REMOUNT | unix.MS_RDONLY)
		if err := unix.Mount("", target, "", flags, ""); err != nil {
			unix.Unmount(target, 0)
			return errors.Wrapf(err, "bindmount: ro remount of %s", target)
		}
	}

	glog.Infof("bindmount[%s]: %s -> %s mounted (ro=%v) at %s", txn, s.HostPath, target, s.ReadOnly, startedAt)
	m.mu.Lock()
	m.mounted = append(m.mounted, mounted{txn: txn, target: target, mountedAt: startedAt})
	m.mu.Unlock()
	return nil
}

// UnmountAll reverses every mount this manager installed, in reverse
// order, tolerating a target that has already vanished.
func (m *Manager) UnmountAll(ctx context.Context) error {
	m.mu.Lock()
	entries := append([]mounted(nil), m.mounted...)
	m.mounted = nil
	m.mu.Unlock()

	var firstErr error
	for i := len(entries) - 1; i >= 0; i-- {
		if err := m.unmountOne(entries[i]); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *Manager) unmountOne(e mounted) error {
	target, err := canonicalizeUnderBase(m.baseDir, relOf(m.baseDir, e.target))
	if err != nil {
		return err
	}

	if e.isDevpts && e.symlinkCreated {
		os.Remove(filepath.Join(target, "ptmx"))
	}

	if err := unmountTolerant(target); err != nil {
		glog.Warningf("bindmount[%s]: unmount of %s failed: %v", e.txn, target, err)
		return err
	}
	glog.Infof("bindmount[%s]: %s unmounted after %s", e.txn, target, m.clk.Now().Sub(e.mountedAt))
	return nil
}

// unmountTolerant implements spec §4.7's unmount_all step: a plain
// unmount, escalating to a detach unmount on EBUSY, and succeeding
// silently if the target is already gone.
func unmountTolerant(target string) error {
	if _, err := os.Stat(target); os.IsNotExist(err) {
		return nil
	}

	err := unix.Unmount(target, 0)
	if err == nil {
		return nil
	}
	var errno unix.Errno
	if stderrors.As(err, &errno) {
		switch errno {
		case unix.ENOENT:
			return nil
		case unix.EBUSY:
			if derr := unix.Unmount(target, unix.MNT_DETACH); derr != nil {
				return errors.Wrap(derr, "detach unmount")
			}
			return nil
		}
	}
	return errors.Wrap(err, "unmount")
}

// relOf recovers the base-relative target path canonicalizeUnderBase
// needs, from an already-canonical absolute path recorded earlier. It is
// intentionally simple: unmountOne re-derives and re-checks containment
// from this relative form rather than trusting the recorded absolute path
// outright, per spec §4.7 ("before every unmount, canonicalise the
// recorded target ... reject any target not under the manager's base
// directory").
func relOf(baseDir, absTarget string) string {
	rel, err := filepath.Rel(baseDir, absTarget)
	if err != nil {
		return absTarget
	}
	return rel
}

func cleanRel(target string) string {
	return filepath.ToSlash(filepath.Clean("/" + target))[1:]
}

// ensureTargetExists creates target so it matches the kind (file or
// directory) of the bind's source, per spec §4.7.
func ensureTargetExists(target, source string) error {
	fi, err := os.Stat(source)
	if err != nil {
		return errors.Wrap(err, "stat source")
	}
	if fi.IsDir() {
		return os.MkdirAll(target, 0o755)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(target, os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}

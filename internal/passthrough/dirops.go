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

package passthrough

import (
	"context"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/layerfuse/layerfuse/internal/fserrors"
	"github.com/layerfuse/layerfuse/internal/ids"
	"github.com/layerfuse/layerfuse/internal/vfs"
)

// Mknod implements vfs.Engine. mknod/mkdir/symlink/link/rename/unlink/rmdir
// are all rooted at the parent directory's fd (spec §4.5) and reject
// malformed names up front.
func (e *Engine) Mknod(ctx context.Context, parent ids.StableInode, name string, mode uint32, rdev uint32) (vfs.Attr, error) {
	if err := vfs.ValidateName(name, false); err != nil {
		return vfs.Attr{}, err
	}

	parentRec, err := e.record(parent)
	if err != nil {
		return vfs.Attr{}, err
	}

	if err := unix.Mknodat(parentRec.FD(), name, mode, int(rdev)); err != nil {
		return vfs.Attr{}, fmt.Errorf("mknodat %s: %w", name, fserrors.FromOSError(err))
	}

	rec, st, err := e.lookupChild(parentRec, name)
	if err != nil {
		return vfs.Attr{}, err
	}
	return e.attrFromStat(rec.Stable(), st), nil
}

// Mkdir implements vfs.Engine.
func (e *Engine) Mkdir(ctx context.Context, parent ids.StableInode, name string, mode uint32) (vfs.Attr, error) {
	if err := vfs.ValidateName(name, false); err != nil {
		return vfs.Attr{}, err
	}

	parentRec, err := e.record(parent)
	if err != nil {
		return vfs.Attr{}, err
	}

	if err := unix.Mkdirat(parentRec.FD(), name, mode&0o7777); err != nil {
		return vfs.Attr{}, fmt.Errorf("mkdirat %s: %w", name, fserrors.FromOSError(err))
	}

	rec, st, err := e.lookupChild(parentRec, name)
	if err != nil {
		return vfs.Attr{}, err
	}
	return e.attrFromStat(rec.Stable(), st), nil
}

// Symlink implements vfs.Engine.
func (e *Engine) Symlink(ctx context.Context, parent ids.StableInode, name, target string) (vfs.Attr, error) {
	if err := vfs.ValidateName(name, false); err != nil {
		return vfs.Attr{}, err
	}

	parentRec, err := e.record(parent)
	if err != nil {
		return vfs.Attr{}, err
	}

	if err := unix.Symlinkat(target, parentRec.FD(), name); err != nil {
		return vfs.Attr{}, fmt.Errorf("symlinkat %s: %w", name, fserrors.FromOSError(err))
	}

	rec, st, err := e.lookupChild(parentRec, name)
	if err != nil {
		return vfs.Attr{}, err
	}
	return e.attrFromStat(rec.Stable(), st), nil
}

// Readlink implements vfs.Engine.
func (e *Engine) Readlink(ctx context.Context, stable ids.StableInode) (string, error) {
	rec, err := e.record(stable)
	if err != nil {
		return "", err
	}

	buf := make([]byte, 4096)
	n, err := unix.Readlinkat(rec.FD(), "", buf)
	if err != nil {
		return "", fmt.Errorf("readlinkat: %w", fserrors.FromOSError(err))
	}
	return string(buf[:n]), nil
}

// Link implements vfs.Engine: create a new name in parent pointing at the
// existing inode target.
func (e *Engine) Link(ctx context.Context, parent ids.StableInode, name string, target ids.StableInode) (vfs.Attr, error) {
	if err := vfs.ValidateName(name, false); err != nil {
		return vfs.Attr{}, err
	}

	parentRec, err := e.record(parent)
	if err != nil {
		return vfs.Attr{}, err
	}
	targetRec, err := e.record(target)
	if err != nil {
		return vfs.Attr{}, err
	}

	targetPath := fmt.Sprintf("/proc/self/fd/%d", targetRec.FD())
	if err := unix.Linkat(unix.AT_FDCWD, targetPath, parentRec.FD(), name, unix.AT_SYMLINK_FOLLOW); err != nil {
		return vfs.Attr{}, fmt.Errorf("linkat %s: %w", name, fserrors.FromOSError(err))
	}

	rec, st, err := e.lookupChild(parentRec, name)
	if err != nil {
		return vfs.Attr{}, err
	}
	if err := e.store.AddAltKey(target, ids.HostIdentity{Dev: uint64(st.Dev), Ino: uint64(st.Ino)}); err != nil {
		return vfs.Attr{}, err
	}
	return e.attrFromStat(rec.Stable(), st), nil
}

// Rename implements vfs.Engine.
func (e *Engine) Rename(ctx context.Context, oldParent ids.StableInode, oldName string, newParent ids.StableInode, newName string) error {
	if err := vfs.ValidateName(oldName, false); err != nil {
		return err
	}
	if err := vfs.ValidateName(newName, false); err != nil {
		return err
	}

	oldRec, err := e.record(oldParent)
	if err != nil {
		return err
	}
	newRec, err := e.record(newParent)
	if err != nil {
		return err
	}

	if err := unix.Renameat(oldRec.FD(), oldName, newRec.FD(), newName); err != nil {
		return fmt.Errorf("renameat %s -> %s: %w", oldName, newName, fserrors.FromOSError(err))
	}
	return nil
}

// Unlink implements vfs.Engine.
func (e *Engine) Unlink(ctx context.Context, parent ids.StableInode, name string) error {
	if err := vfs.ValidateName(name, false); err != nil {
		return err
	}

	parentRec, err := e.record(parent)
	if err != nil {
		return err
	}

	if err := unix.Unlinkat(parentRec.FD(), name, 0); err != nil {
		return fmt.Errorf("unlinkat %s: %w", name, fserrors.FromOSError(err))
	}
	return nil
}

// Rmdir implements vfs.Engine.
func (e *Engine) Rmdir(ctx context.Context, parent ids.StableInode, name string) error {
	if err := vfs.ValidateName(name, false); err != nil {
		return err
	}

	parentRec, err := e.record(parent)
	if err != nil {
		return err
	}

	if err := unix.Unlinkat(parentRec.FD(), name, unix.AT_REMOVEDIR); err != nil {
		return fmt.Errorf("rmdir %s: %w", name, fserrors.FromOSError(err))
	}
	return nil
}

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
	"os"

	"golang.org/x/sys/unix"

	"github.com/layerfuse/layerfuse/internal/fserrors"
	"github.com/layerfuse/layerfuse/internal/ids"
	"github.com/layerfuse/layerfuse/internal/vfs"
)

// OpenDir implements vfs.Engine. The full listing is read once and cached
// for the lifetime of the handle, giving entry offsets that are stable
// within the open as spec §4.5 requires, at the cost of not reflecting
// concurrent mutations until the next OpenDir.
func (e *Engine) OpenDir(ctx context.Context, stable ids.StableInode) (uint64, error) {
	rec, err := e.record(stable)
	if err != nil {
		return 0, err
	}

	fd, err := e.reopenRecordWithFlags(rec, unix.O_RDONLY|unix.O_DIRECTORY)
	if err != nil {
		return 0, err
	}

	e.mu.Lock()
	e.nextHandle++
	h := e.nextHandle
	e.openDirs[h] = &dirHandle{fd: fd}
	e.mu.Unlock()

	return h, nil
}

// ReadDir implements vfs.Engine. offset is the index into the cached entry
// slice to resume from; 0 starts a fresh pass.
func (e *Engine) ReadDir(ctx context.Context, stable ids.StableInode, fh uint64, offset int64) ([]vfs.DirEntry, error) {
	e.mu.Lock()
	dh, ok := e.openDirs[fh]
	e.mu.Unlock()
	if !ok {
		return nil, fserrors.BadDescriptor
	}

	if !dh.loaded {
		entries, err := e.listDir(stable, dh.fd)
		if err != nil {
			return nil, err
		}
		dh.entries = entries
		dh.loaded = true
	}

	if offset < 0 || offset > int64(len(dh.entries)) {
		return nil, fserrors.Invalid
	}
	return dh.entries[offset:], nil
}

// listDir reads every entry of the directory fd once and resolves each to a
// stable inode via the normal lookup path. Each entry carries its name,
// stable inode, file type bits and resume offset; no other attributes.
func (e *Engine) listDir(parent ids.StableInode, fd int) ([]vfs.DirEntry, error) {
	dup, err := unix.Dup(fd)
	if err != nil {
		return nil, fmt.Errorf("dup dir fd: %w", fserrors.FromOSError(err))
	}
	f := os.NewFile(uintptr(dup), "dir")
	defer f.Close()

	names, err := f.Readdirnames(-1)
	if err != nil {
		return nil, fmt.Errorf("readdirnames: %w", fserrors.FromOSError(err))
	}

	parentRec, err := e.record(parent)
	if err != nil {
		return nil, err
	}

	out := make([]vfs.DirEntry, 0, len(names)+2)
	for _, name := range names {
		rec, st, err := e.lookupChild(parentRec, name)
		if err != nil {
			continue // raced with a concurrent removal; just skip it
		}
		stable := rec.Stable()
		e.Forget(stable, 1) // lookupChild bumped a ref readdir doesn't keep; plain READDIR carries no kernel lookup reference, so no Forget is coming
		out = append(out, vfs.DirEntry{
			Name:   name,
			Stable: stable,
			Type:   st.Mode &^ 0o7777,
			Offset: int64(len(out) + 1),
		})
	}
	return out, nil
}

// ReleaseDir implements vfs.Engine.
func (e *Engine) ReleaseDir(ctx context.Context, stable ids.StableInode, fh uint64) error {
	e.mu.Lock()
	dh, ok := e.openDirs[fh]
	if ok {
		delete(e.openDirs, fh)
	}
	e.mu.Unlock()

	if !ok {
		return fserrors.BadDescriptor
	}
	if err := unix.Close(dh.fd); err != nil {
		return fmt.Errorf("close dir: %w", fserrors.FromOSError(err))
	}
	return nil
}

// FsyncDir implements vfs.Engine.
func (e *Engine) FsyncDir(ctx context.Context, stable ids.StableInode, fh uint64) error {
	e.mu.Lock()
	dh, ok := e.openDirs[fh]
	e.mu.Unlock()
	if !ok {
		return fserrors.BadDescriptor
	}
	if err := unix.Fsync(dh.fd); err != nil {
		return fmt.Errorf("fsyncdir: %w", fserrors.FromOSError(err))
	}
	return nil
}

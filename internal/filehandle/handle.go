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

// Package filehandle wraps the host's name_to_handle_at/open_by_handle_at
// primitives (spec §4.4): given (dir fd, name) it produces an opaque handle
// plus a mount id, later fed to open_by_handle_at together with a cached
// MountFd to reopen the same object with arbitrary flags, without retaining
// a path.
//
// Hosts lacking these primitives get a fallback handle that is really just a
// duplicated fd; it is not transferable across processes, and Reopen on it
// can only dup (not truly re-open with different flags), which is why this
// fallback is reported as such rather than silently pretending to be a real
// kernel handle (see spec §9, "Dup-fd handle fallback").
package filehandle

import (
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/layerfuse/layerfuse/internal/fserrors"
	"github.com/layerfuse/layerfuse/internal/mountfd"
)

// Handle is an opaque, path-free reference to a host filesystem object.
type Handle struct {
	mountID uint64

	// Set when the host supports kernel file handles.
	kernel   unix.FileHandle
	isKernel bool

	// Set when falling back to the dup-fd strategy.
	dupFD int
}

// MountID returns the host mount id the handle was encoded under.
func (h Handle) MountID() uint64 {
	return h.mountID
}

// IsDupFallback reports whether this handle is the degraded dup-fd
// fallback rather than a real, process-transferable kernel file handle.
func (h Handle) IsDupFallback() bool {
	return !h.isKernel
}

// Encoder produces Handles for (dirFD, name) pairs and reopens them later.
// It remembers, per process lifetime, whether the host supports kernel file
// handles at all: once NameToHandleAt reports ENOSYS/EOPNOTSUPP, the
// encoder stops trying and goes straight to the dup-fd fallback, per spec
// §4.4 ("reports NotSupported as a persistent (per-filesystem) no").
type Encoder struct {
	mu sync.Mutex

	// unsupported is set once we learn the host can't do kernel handles.
	// Accessed with atomics so Encode's fast path doesn't need the lock.
	unsupported atomic.Bool
}

// NewEncoder returns an Encoder that will try kernel file handles until
// proven unsupported.
func NewEncoder() *Encoder {
	return &Encoder{}
}

// Encode produces a Handle identifying the object named name within the
// directory referenced by dirFD.
func (e *Encoder) Encode(dirFD int, name string) (Handle, error) {
	if !e.unsupported.Load() {
		fh, mountID, err := unix.NameToHandleAt(dirFD, name, 0)
		switch {
		case err == nil:
			return Handle{mountID: uint64(mountID), kernel: fh, isKernel: true}, nil

		case err == unix.ENOSYS || err == unix.EOPNOTSUPP:
			e.unsupported.Store(true)

		default:
			return Handle{}, fmt.Errorf("name_to_handle_at %s: %w", name, fserrors.FromOSError(err))
		}
	}

	return e.encodeDupFallback(dirFD, name)
}

// encodeDupFallback implements the degraded path: open the named object and
// remember its fd. The resulting Handle can only ever be reopened within
// this process.
func (e *Encoder) encodeDupFallback(dirFD int, name string) (Handle, error) {
	fd, err := unix.Openat(dirFD, name, unix.O_PATH|unix.O_NOFOLLOW, 0)
	if err != nil {
		return Handle{}, fmt.Errorf("openat(O_PATH) %s: %w", name, fserrors.FromOSError(err))
	}

	return Handle{dupFD: fd, isKernel: false}, nil
}

// Reopen re-opens the object identified by h with the given flags. For a
// real kernel handle, lease must be a MountFd lease for h.MountID(); the
// returned fd is independent of the original dirFD used to encode h and
// survives rename/remount. For the dup-fd fallback, lease is ignored and
// the returned fd is a dup of the fd captured at Encode time, which does
// not honor a change of flags (see package doc).
func (e *Encoder) Reopen(h Handle, lease *mountfd.Lease, flags int) (int, error) {
	if h.isKernel {
		fd, err := unix.OpenByHandleAt(lease.FD(), h.kernel, flags)
		if err != nil {
			return -1, fmt.Errorf("open_by_handle_at: %w", fserrors.FromOSError(err))
		}
		return fd, nil
	}

	fd, err := unix.Dup(h.dupFD)
	if err != nil {
		return -1, fmt.Errorf("dup fallback handle: %w", fserrors.FromOSError(err))
	}
	return fd, nil
}

// Close releases resources a Handle may hold (only ever true of the dup-fd
// fallback, which keeps an open fd around).
func (h Handle) Close() error {
	if h.isKernel {
		return nil
	}
	return unix.Close(h.dupFD)
}

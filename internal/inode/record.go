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

package inode

import (
	"sync"

	"golang.org/x/sys/unix"

	"github.com/layerfuse/layerfuse/internal/filehandle"
	"github.com/layerfuse/layerfuse/internal/ids"
)

// Record is everything the store keeps about one live inode: the stable id
// the kernel knows it by, a path-free fd good for fstat/fgetxattr/openat
// against it, and (when the host supports it) a kernel file handle that lets
// the owning engine reopen the object with different flags without walking
// a path back down to it.
//
// Lock ordering (spec §4.2): a caller holding a directory handle lock may
// acquire an inode's mu; the reverse is never allowed.
type Record struct {
	mu sync.Mutex // GUARDS the fields below

	stable ids.StableInode
	fd     int
	mode   uint32 // unix.S_IFMT bits, cached so type checks don't need fstat

	handle    filehandle.Handle
	hasHandle bool

	lc lookupCount

	// altKeys holds every host identity this record answers to. Usually a
	// single entry; more than one after a hard link makes a second name
	// resolve to the same host inode while both names stay live.
	altKeys map[ids.HostIdentity]struct{}
}

// Stable returns the filesystem-visible inode number for this record.
func (r *Record) Stable() ids.StableInode {
	return r.stable
}

// FD returns the record's owned, path-free file descriptor. It is valid
// until the record is destroyed; callers must not close it directly.
func (r *Record) FD() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fd
}

// Mode returns the cached S_IFMT bits for the underlying object.
func (r *Record) Mode() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mode
}

// SetMode updates the cached type bits, e.g. after a setattr changes them.
func (r *Record) SetMode(mode uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mode = mode
}

// Handle returns the record's kernel file handle, if the host supports one.
func (r *Record) Handle() (filehandle.Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handle, r.hasHandle
}

// SwapFD replaces the record's owned fd, closing the old one. Nothing in
// this tree calls it; the overlay's copy-up retargets its own node instead.
func (r *Record) SwapFD(newFD int) error {
	r.mu.Lock()
	old := r.fd
	r.fd = newFD
	r.mu.Unlock()

	if old < 0 {
		return nil
	}
	return unix.Close(old)
}

// destroy closes the owned fd and any kernel handle resources. Called once,
// by the store, when the lookup count reaches zero.
func (r *Record) destroy() error {
	r.mu.Lock()
	fd := r.fd
	r.fd = -1
	h, hasHandle := r.handle, r.hasHandle
	r.mu.Unlock()

	var err error
	if fd >= 0 {
		err = unix.Close(fd)
	}
	if hasHandle {
		if cerr := h.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

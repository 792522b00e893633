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

// Package mountfd implements the per-mount file descriptor cache described
// in spec §4.3: a cached open fd for a host mount, keyed by mount id,
// acquired on first use and dropped once the last holder releases it. The
// shape mirrors the refcounted-lease pattern gcsfuse's lease.FileLeaser uses
// for temporary-file content leases, applied here to mount-root fds instead
// of file content.
package mountfd

import (
	"fmt"
	"sync"
)

// ReopenFunc opens a fresh fd suitable for use as the cached mount-root fd
// for mountID, given an fd known to reside under that mount (seedFD) and the
// flags the caller wants applied.
type ReopenFunc func(seedFD int, flags int, mountID uint64) (fd int, err error)

// CloseFunc closes a cached fd. It is pluggable so tests don't need a real
// open file descriptor.
type CloseFunc func(fd int) error

// entry is a reference-counted cached fd.
type entry struct {
	fd   int
	refs int
}

// Cache is a per-mount file descriptor cache (spec §4.3). It is safe for
// concurrent use.
type Cache struct {
	reopen ReopenFunc
	close  CloseFunc

	mu      sync.Mutex
	entries map[uint64]*entry // GUARDED_BY(mu)
}

// New returns a Cache that uses reopen to fill misses and close to release
// evicted fds.
func New(reopen ReopenFunc, close CloseFunc) *Cache {
	return &Cache{
		reopen:  reopen,
		close:   close,
		entries: make(map[uint64]*entry),
	}
}

// Lease is a held reference to a cached mount fd. Callers must call Release
// exactly once when done with it.
type Lease struct {
	cache   *Cache
	mountID uint64
	fd      int
}

// FD returns the cached fd. It remains valid only until Release is called.
func (l *Lease) FD() int {
	return l.fd
}

// Release drops this lease's reference. If it was the last reference, the
// underlying fd is closed and the cache entry removed.
func (l *Lease) Release() error {
	c := l.cache

	c.mu.Lock()
	e, ok := c.entries[l.mountID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("mountfd: release of unknown mount %d", l.mountID)
	}

	e.refs--
	if e.refs > 0 {
		c.mu.Unlock()
		return nil
	}

	delete(c.entries, l.mountID)
	c.mu.Unlock()

	return c.close(e.fd)
}

// Acquire returns a leased fd for mountID, reopening via the cache's
// ReopenFunc on a cache miss. seedFD and flags are only consulted on a miss;
// they are passed straight through to ReopenFunc.
func (c *Cache) Acquire(mountID uint64, seedFD int, flags int) (*Lease, error) {
	c.mu.Lock()

	if e, ok := c.entries[mountID]; ok {
		e.refs++
		c.mu.Unlock()
		return &Lease{cache: c, mountID: mountID, fd: e.fd}, nil
	}

	c.mu.Unlock()

	fd, err := c.reopen(seedFD, flags, mountID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Another goroutine may have raced us to fill this miss while we were
	// outside the lock doing the reopen. If so, prefer the existing entry
	// and throw away the fd we just opened, so we never leak a fd keyed by
	// a mount that already has one cached.
	if e, ok := c.entries[mountID]; ok {
		e.refs++
		_ = c.close(fd)
		return &Lease{cache: c, mountID: mountID, fd: e.fd}, nil
	}

	c.entries[mountID] = &entry{fd: fd, refs: 1}
	return &Lease{cache: c, mountID: mountID, fd: fd}, nil
}

// Len reports the number of distinct mounts currently cached. Exposed for
// tests verifying eviction.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

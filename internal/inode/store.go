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

// Package inode implements the handle/inode store described in spec §4.2:
// a table of live Records keyed both by the stable inode number FUSE was
// told about (for Forget) and by host identity (so a second lookup of the
// same host object bumps a refcount instead of minting a new record). The
// shape is adapted from gcsfuse's fs/inode lookup-count bookkeeping,
// generalized from a single GCS-backed inode type to any host fd plus an
// optional kernel file handle.
package inode

import (
	"fmt"
	"sync"

	"github.com/layerfuse/layerfuse/internal/filehandle"
	"github.com/layerfuse/layerfuse/internal/ids"
)

// Store is the live table of inodes the filesystem has told the kernel
// about. It is safe for concurrent use.
type Store struct {
	mu         sync.Mutex // GUARDS the fields below
	byStable   map[ids.StableInode]*Record
	byIdentity map[ids.HostIdentity]*Record
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		byStable:   make(map[ids.StableInode]*Record),
		byIdentity: make(map[ids.HostIdentity]*Record),
	}
}

// InsertOrBump records a lookup of the host object identified by identity.
// If a record already exists for that identity, its lookup count is bumped
// by one, fd is passed to closeExtraFD (when closeExtraFD is non-nil) and
// handle is closed (when hasHandle), since the existing record already owns
// its own fd and handle (the caller must have opened/encoded them
// speculatively before knowing whether a record already existed).
// Otherwise a new record is created owning fd and handle, with a lookup
// count of one.
func (s *Store) InsertOrBump(
	identity ids.HostIdentity,
	stable ids.StableInode,
	fd int,
	mode uint32,
	handle filehandle.Handle,
	hasHandle bool,
	closeExtraFD func(int) error,
) *Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.byIdentity[identity]; ok {
		r.mu.Lock()
		r.lc.Inc()
		r.mu.Unlock()

		if closeExtraFD != nil {
			_ = closeExtraFD(fd)
		}
		if hasHandle {
			_ = handle.Close()
		}
		return r
	}

	r := &Record{
		stable:  stable,
		fd:      fd,
		mode:    mode,
		altKeys: map[ids.HostIdentity]struct{}{identity: {}},
	}
	if hasHandle {
		r.handle = handle
		r.hasHandle = true
	}
	r.lc.destroy = r.destroy
	r.lc.Inc()

	s.byStable[stable] = r
	s.byIdentity[identity] = r

	return r
}

// AddAltKey records that identity also resolves to the record already known
// as stable, e.g. after a hard link creates a second name for one host
// inode. It does not change the lookup count; a separate Lookup/InsertOrBump
// for the new name does that.
func (s *Store) AddAltKey(stable ids.StableInode, identity ids.HostIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.byStable[stable]
	if !ok {
		return fmt.Errorf("inode: AddAltKey: no record for stable id %#x", uint64(stable))
	}

	r.mu.Lock()
	r.altKeys[identity] = struct{}{}
	r.mu.Unlock()

	s.byIdentity[identity] = r
	return nil
}

// Get returns the live record for stable, if any.
func (s *Store) Get(stable ids.StableInode) (*Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byStable[stable]
	return r, ok
}

// Lookup returns the live record for a host identity, if any, without
// touching its lookup count.
func (s *Store) Lookup(identity ids.HostIdentity) (*Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byIdentity[identity]
	return r, ok
}

// Forget decrements the lookup count for stable by n, per a FUSE FORGET
// request. If the count reaches zero the record is removed from the store
// and its fd (and kernel handle, if any) released. Forgetting an id the
// store has no record for is a no-op: the kernel can race a FORGET against
// our own eviction of an already-destroyed record.
func (s *Store) Forget(stable ids.StableInode, n uint64) (destroyed bool) {
	s.mu.Lock()
	r, ok := s.byStable[stable]
	if !ok {
		s.mu.Unlock()
		return false
	}
	s.mu.Unlock()

	r.mu.Lock()
	destroyed = r.lc.Dec(n)
	keys := make([]ids.HostIdentity, 0, len(r.altKeys))
	for k := range r.altKeys {
		keys = append(keys, k)
	}
	r.mu.Unlock()

	if !destroyed {
		return false
	}

	s.mu.Lock()
	delete(s.byStable, stable)
	for _, k := range keys {
		delete(s.byIdentity, k)
	}
	s.mu.Unlock()

	return true
}

// ForgetAll drops every record in the store, releasing their fds. Called on
// unmount to avoid leaking descriptors held by inodes the kernel never got
// around to forgetting.
func (s *Store) ForgetAll() {
	s.mu.Lock()
	records := make([]*Record, 0, len(s.byStable))
	for _, r := range s.byStable {
		records = append(records, r)
	}
	s.byStable = make(map[ids.StableInode]*Record)
	s.byIdentity = make(map[ids.HostIdentity]*Record)
	s.mu.Unlock()

	for _, r := range records {
		_ = r.destroy()
	}
}

// Len reports the number of live records. Exposed for tests.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byStable)
}

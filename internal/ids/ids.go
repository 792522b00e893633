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

// Package ids implements the stable-inode generator described in spec
// §4.1: a mapping from host identity (device, mount, host inode) to a
// stable 56-bit id exported to FUSE clients, with a virtual-id fallback
// for host inode numbers too large to fit in the available payload bits.
package ids

import (
	"fmt"
	"sync"

	"github.com/layerfuse/layerfuse/internal/fserrors"
)

const (
	// payloadBits is the width of the payload field (bits 46..0).
	payloadBits = 47

	// maxPayload is the largest value the payload field can hold.
	maxPayload = uint64(1)<<payloadBits - 1

	// virtualFlagBit is the bit position of the virtual-id flag.
	virtualFlagBit = 55

	// tagShift is where the mount tag field starts.
	tagShift = payloadBits

	// maxTag is the largest mount tag we will hand out. We stop one short
	// of the 8-bit field's maximum (254, not 255) to keep a reserved value
	// free for future use, mirroring spec §4.1's "1..=254" range.
	maxTag = 254
)

// StableInode is the 56-bit id exported to FUSE clients. Only the low 56
// bits are ever set; callers may still widen it to fuseops.InodeID (a
// uint64) directly.
type StableInode uint64

// HostIdentity identifies a host filesystem object: which device and mount
// it lives on, and its inode number on that device.
type HostIdentity struct {
	Dev uint64
	Mnt uint64
	Ino uint64
}

// mountKey is the (dev, mnt) pair a mount tag is assigned to.
type mountKey struct {
	dev uint64
	mnt uint64
}

// Generator assigns stable inodes to host identities. It is safe for
// concurrent use. The zero value is not usable; use NewGenerator.
type Generator struct {
	mu sync.Mutex

	// tags maps (dev,mnt) to an assigned mount tag, 1..=maxTag.
	//
	// GUARDED_BY(mu)
	tags map[mountKey]uint8

	// nextTag is the next mount tag to hand out.
	//
	// GUARDED_BY(mu)
	nextTag uint8

	// known maps a HostIdentity we have already seen to the StableInode we
	// previously returned for it, so that repeated lookups are idempotent
	// (spec invariant: exactly one StableInode per live InodeId).
	//
	// GUARDED_BY(mu)
	known map[HostIdentity]StableInode

	// nextVirtual is the next virtual payload to hand out, for host inode
	// numbers that don't fit in payloadBits.
	//
	// GUARDED_BY(mu)
	nextVirtual uint64
}

// NewGenerator returns a Generator with no assignments made yet.
func NewGenerator() *Generator {
	return &Generator{
		tags:        make(map[mountKey]uint8),
		known:       make(map[HostIdentity]StableInode),
		nextTag:     1,
		nextVirtual: 1,
	}
}

// StableFor returns the stable inode for id, minting one if this is the
// first time id has been seen. Repeated calls with an equal id return the
// same value. Distinct ids never return the same value (spec §8, property 1).
func (g *Generator) StableFor(id HostIdentity) (StableInode, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if existing, ok := g.known[id]; ok {
		return existing, nil
	}

	tag, err := g.tagFor(mountKey{dev: id.Dev, mnt: id.Mnt})
	if err != nil {
		return 0, err
	}

	var payload uint64
	var virtual bool

	if id.Ino <= maxPayload {
		payload = id.Ino
	} else {
		if g.nextVirtual > maxPayload {
			return 0, fmt.Errorf("ids: virtual counter exhausted: %w", fserrors.Exhausted)
		}

		payload = g.nextVirtual
		g.nextVirtual++
		virtual = true
	}

	stable := StableInode(uint64(tag)<<tagShift | payload)
	if virtual {
		stable |= StableInode(1) << virtualFlagBit
	}

	g.known[id] = stable
	return stable, nil
}

// tagFor returns the mount tag assigned to k, assigning the next free one if
// this is the first time k has been seen. GUARDED_BY(g.mu).
func (g *Generator) tagFor(k mountKey) (uint8, error) {
	if tag, ok := g.tags[k]; ok {
		return tag, nil
	}

	if g.nextTag > maxTag {
		return 0, fmt.Errorf("ids: mount tag space exhausted: %w", fserrors.Exhausted)
	}

	tag := g.nextTag
	g.nextTag++
	g.tags[k] = tag
	return tag, nil
}

// IsVirtual reports whether s was allocated from the virtual counter rather
// than being a direct encoding of a host inode number.
func (s StableInode) IsVirtual() bool {
	return s&(StableInode(1)<<virtualFlagBit) != 0
}

// Tag returns the mount tag embedded in s.
func (s StableInode) Tag() uint8 {
	return uint8((uint64(s) >> tagShift) & 0xff)
}

// Payload returns the payload embedded in s (either a host inode number or a
// virtual counter value, depending on IsVirtual).
func (s StableInode) Payload() uint64 {
	return uint64(s) & maxPayload
}

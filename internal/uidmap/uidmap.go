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

// Package uidmap applies a configured uid/gid mapping symmetrically: host
// identities read off the underlying filesystem are translated to the
// identities reported to the kernel, and identities arriving from the
// kernel (chown, mknod, the credentials on a request) are translated back
// before they touch the host filesystem. It generalizes the teacher's
// single fixed uid/gid (every gcsfuse inode is reported as one configured
// owner, spec §4.1's ServerConfig.{Uid,Gid}) into ranges, the shape the
// original rfuse3-based overlay implementation uses for rootless-container
// id mapping.
package uidmap

import "fmt"

// Range is one contiguous band of a mapping: host ids in
// [HostStart, HostStart+Length) map to visible ids in
// [VisibleStart, VisibleStart+Length), position for position.
type Range struct {
	HostStart    uint32
	VisibleStart uint32
	Length       uint32
}

func (r Range) containsHost(id uint32) bool {
	return id >= r.HostStart && uint64(id) < uint64(r.HostStart)+uint64(r.Length)
}

func (r Range) containsVisible(id uint32) bool {
	return id >= r.VisibleStart && uint64(id) < uint64(r.VisibleStart)+uint64(r.Length)
}

// Mapper translates ids in both directions. The zero Mapper is the
// identity mapping (no ranges configured): every id passes through
// unchanged, matching the teacher's default of not remapping ownership.
type Mapper struct {
	ranges []Range
}

// New builds a Mapper from an explicit list of ranges. Ranges must not
// overlap in either their host or visible domain.
func New(ranges []Range) (*Mapper, error) {
	m := &Mapper{ranges: append([]Range(nil), ranges...)}

	for i, a := range m.ranges {
		for _, b := range m.ranges[i+1:] {
			if rangesOverlap(a.HostStart, a.Length, b.HostStart, b.Length) {
				return nil, fmt.Errorf("uidmap: host ranges overlap: %+v and %+v", a, b)
			}
			if rangesOverlap(a.VisibleStart, a.Length, b.VisibleStart, b.Length) {
				return nil, fmt.Errorf("uidmap: visible ranges overlap: %+v and %+v", a, b)
			}
		}
	}

	return m, nil
}

func rangesOverlap(aStart, aLen, bStart, bLen uint32) bool {
	aEnd := uint64(aStart) + uint64(aLen)
	bEnd := uint64(bStart) + uint64(bLen)
	return uint64(aStart) < bEnd && uint64(bStart) < aEnd
}

// ToVisible maps a host id to the id reported to the kernel. An id outside
// every configured range passes through unchanged.
func (m *Mapper) ToVisible(hostID uint32) uint32 {
	if m == nil {
		return hostID
	}
	for _, r := range m.ranges {
		if r.containsHost(hostID) {
			return r.VisibleStart + (hostID - r.HostStart)
		}
	}
	return hostID
}

// ToHost maps a kernel-supplied id back to the id that should be written to
// the host filesystem. An id outside every configured range passes through
// unchanged.
func (m *Mapper) ToHost(visibleID uint32) uint32 {
	if m == nil {
		return visibleID
	}
	for _, r := range m.ranges {
		if r.containsVisible(visibleID) {
			return r.HostStart + (visibleID - r.VisibleStart)
		}
	}
	return visibleID
}

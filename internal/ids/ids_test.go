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

package ids_test

import (
	"math"
	"testing"

	. "github.com/jacobsa/ogletest"
	"github.com/layerfuse/layerfuse/internal/ids"
)

func TestIds(t *testing.T) { RunTests(t) }

////////////////////////////////////////////////////////////////////////
// Boilerplate
////////////////////////////////////////////////////////////////////////

type GeneratorTest struct {
	gen *ids.Generator
}

func init() { RegisterTestSuite(&GeneratorTest{}) }

func (t *GeneratorTest) SetUp(ti *TestInfo) {
	t.gen = ids.NewGenerator()
}

////////////////////////////////////////////////////////////////////////
// Tests
////////////////////////////////////////////////////////////////////////

// Scenario S1 from spec §8.
func (t *GeneratorTest) EncodesFirstMountWithTagOne() {
	s, err := t.gen.StableFor(ids.HostIdentity{Dev: 0, Mnt: 0, Ino: 1})
	AssertEq(nil, err)
	ExpectEq(ids.StableInode(0x800000000001), s)
}

func (t *GeneratorTest) AssignsNewTagPerMount() {
	_, err := t.gen.StableFor(ids.HostIdentity{Dev: 0, Mnt: 0, Ino: 1})
	AssertEq(nil, err)

	s, err := t.gen.StableFor(ids.HostIdentity{Dev: 0, Mnt: 1, Ino: 1})
	AssertEq(nil, err)
	ExpectEq(ids.StableInode(0x1000000000001), s)

	s, err = t.gen.StableFor(ids.HostIdentity{Dev: 0, Mnt: 1, Ino: 2})
	AssertEq(nil, err)
	ExpectEq(ids.StableInode(0x1000000000002), s)
}

func (t *GeneratorTest) RepeatedLookupIsIdempotent() {
	id := ids.HostIdentity{Dev: 7, Mnt: 3, Ino: 42}

	first, err := t.gen.StableFor(id)
	AssertEq(nil, err)

	second, err := t.gen.StableFor(id)
	AssertEq(nil, err)

	ExpectEq(first, second)
}

func (t *GeneratorTest) DistinctIdentitiesNeverCollide() {
	a, err := t.gen.StableFor(ids.HostIdentity{Dev: 1, Mnt: 1, Ino: 1})
	AssertEq(nil, err)

	b, err := t.gen.StableFor(ids.HostIdentity{Dev: 1, Mnt: 1, Ino: 2})
	AssertEq(nil, err)

	ExpectNe(a, b)
}

// Scenario S2 from spec §8: virtual overflow.
func (t *GeneratorTest) VirtualOverflowSetsFlagAndCounter() {
	const maxHostIno = uint64(1)<<47 - 1

	s, err := t.gen.StableFor(ids.HostIdentity{
		Dev: math.MaxUint64,
		Mnt: math.MaxUint64,
		Ino: maxHostIno + 1,
	})
	AssertEq(nil, err)
	ExpectEq(ids.StableInode(0x80800000000001), s)
	ExpectTrue(s.IsVirtual())
	ExpectEq(uint8(1), s.Tag())
	ExpectEq(uint64(1), s.Payload())
}

func (t *GeneratorTest) HostInodeAtBoundaryIsNotVirtual() {
	const maxHostIno = uint64(1)<<47 - 1

	s, err := t.gen.StableFor(ids.HostIdentity{Dev: 0, Mnt: 0, Ino: maxHostIno})
	AssertEq(nil, err)
	ExpectFalse(s.IsVirtual())
	ExpectEq(maxHostIno, s.Payload())
}

func (t *GeneratorTest) MountTagSpaceExhaustionFails() {
	for i := 0; i < 254; i++ {
		_, err := t.gen.StableFor(ids.HostIdentity{Dev: 0, Mnt: uint64(i), Ino: 1})
		AssertEq(nil, err)
	}

	_, err := t.gen.StableFor(ids.HostIdentity{Dev: 0, Mnt: 999, Ino: 1})
	ExpectNe(nil, err)
}

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

package inode_test

import (
	"os"
	"path/filepath"
	"testing"

	. "github.com/jacobsa/oglematchers"
	. "github.com/jacobsa/ogletest"
	"golang.org/x/sys/unix"

	"github.com/layerfuse/layerfuse/internal/filehandle"
	"github.com/layerfuse/layerfuse/internal/ids"
	"github.com/layerfuse/layerfuse/internal/inode"
)

func TestInode(t *testing.T) { RunTests(t) }

////////////////////////////////////////////////////////////////////////
// Boilerplate
////////////////////////////////////////////////////////////////////////

type StoreTest struct {
	dir   string
	store *inode.Store
}

func init() { RegisterTestSuite(&StoreTest{}) }

func (t *StoreTest) SetUp(ti *TestInfo) {
	t.store = inode.NewStore()

	var err error
	t.dir, err = os.MkdirTemp("", "inode_store_test")
	AssertEq(nil, err)
}

func (t *StoreTest) TearDown() {
	os.RemoveAll(t.dir)
}

// openTestFile creates and opens a scratch file, returning its fd.
func (t *StoreTest) openTestFile(name string) int {
	p := filepath.Join(t.dir, name)
	fd, err := unix.Open(p, unix.O_CREAT|unix.O_RDWR, 0644)
	AssertEq(nil, err)
	return fd
}

////////////////////////////////////////////////////////////////////////
// Tests
////////////////////////////////////////////////////////////////////////

func (t *StoreTest) InsertCreatesNewRecordWithLookupCountOne() {
	identity := ids.HostIdentity{Dev: 1, Mnt: 1, Ino: 100}
	fd := t.openTestFile("a")

	r := t.store.InsertOrBump(identity, 0x800000000001, fd, unix.S_IFREG, filehandle.Handle{}, false, nil)
	AssertNe(nil, r)

	ExpectEq(1, t.store.Len())
	ExpectEq(fd, r.FD())

	got, ok := t.store.Get(0x800000000001)
	ExpectTrue(ok)
	ExpectEq(r, got)
}

func (t *StoreTest) RepeatedInsertBumpsRefcountInsteadOfDuplicating() {
	identity := ids.HostIdentity{Dev: 1, Mnt: 1, Ino: 200}
	fd1 := t.openTestFile("b")
	fd2 := t.openTestFile("c")

	var closedFDs []int
	closeExtra := func(fd int) error {
		closedFDs = append(closedFDs, fd)
		return unix.Close(fd)
	}

	r1 := t.store.InsertOrBump(identity, 0x800000000002, fd1, unix.S_IFREG, filehandle.Handle{}, false, nil)
	r2 := t.store.InsertOrBump(identity, 0x800000000002, fd2, unix.S_IFREG, filehandle.Handle{}, false, closeExtra)

	ExpectEq(r1, r2)
	ExpectEq(1, t.store.Len())
	ExpectThat(closedFDs, ElementsAre(fd2))
}

func (t *StoreTest) ForgetBelowCountIsNotDestroyed() {
	identity := ids.HostIdentity{Dev: 1, Mnt: 1, Ino: 300}
	fd := t.openTestFile("d")

	t.store.InsertOrBump(identity, 0x800000000003, fd, unix.S_IFREG, filehandle.Handle{}, false, nil)
	// A second lookup of the same identity bumps the count to two.
	t.store.InsertOrBump(identity, 0x800000000003, fd, unix.S_IFREG, filehandle.Handle{}, false, func(int) error { return nil })

	destroyed := t.store.Forget(0x800000000003, 1)
	ExpectFalse(destroyed)
	ExpectEq(1, t.store.Len())
}

func (t *StoreTest) ForgetToZeroDestroysAndRemoves() {
	identity := ids.HostIdentity{Dev: 1, Mnt: 1, Ino: 400}
	fd := t.openTestFile("e")

	t.store.InsertOrBump(identity, 0x800000000004, fd, unix.S_IFREG, filehandle.Handle{}, false, nil)

	destroyed := t.store.Forget(0x800000000004, 1)
	ExpectTrue(destroyed)
	ExpectEq(0, t.store.Len())

	_, ok := t.store.Lookup(identity)
	ExpectFalse(ok)
}

func (t *StoreTest) ForgetOfUnknownIDIsNoop() {
	destroyed := t.store.Forget(0xdeadbeef, 1)
	ExpectFalse(destroyed)
}

func (t *StoreTest) AddAltKeyMakesHardLinkedNameResolveToSameRecord() {
	identity := ids.HostIdentity{Dev: 1, Mnt: 1, Ino: 500}
	second := ids.HostIdentity{Dev: 1, Mnt: 1, Ino: 500} // same host inode, different path
	fd := t.openTestFile("f")

	r := t.store.InsertOrBump(identity, 0x800000000005, fd, unix.S_IFREG, filehandle.Handle{}, false, nil)

	err := t.store.AddAltKey(0x800000000005, second)
	AssertEq(nil, err)

	got, ok := t.store.Lookup(second)
	ExpectTrue(ok)
	ExpectEq(r, got)
}

func (t *StoreTest) ForgetAllReleasesEveryRecord() {
	for i := 0; i < 3; i++ {
		identity := ids.HostIdentity{Dev: 1, Mnt: 1, Ino: uint64(600 + i)}
		fd := t.openTestFile("g" + string(rune('0'+i)))
		t.store.InsertOrBump(identity, ids.StableInode(0x900000000000+uint64(i)), fd, unix.S_IFREG, filehandle.Handle{}, false, nil)
	}

	ExpectEq(3, t.store.Len())
	t.store.ForgetAll()
	ExpectEq(0, t.store.Len())
}

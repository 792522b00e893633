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

package fuseadapter_test

import (
	"context"
	"syscall"
	"testing"

	. "github.com/jacobsa/ogletest"
	"github.com/jacobsa/fuse/fuseops"
	"golang.org/x/sys/unix"

	"github.com/layerfuse/layerfuse/internal/fuseadapter"
	"github.com/layerfuse/layerfuse/internal/ids"
	"github.com/layerfuse/layerfuse/internal/vfs"
)

func TestAdapter(t *testing.T) { RunTests(t) }

////////////////////////////////////////////////////////////////////////
// A fake vfs.Engine, just enough surface to drive the adapter
////////////////////////////////////////////////////////////////////////

type fakeEngine struct {
	vfs.Engine // embed to satisfy the interface; only overridden methods are called by the tests

	lookupErr  error
	attr       vfs.Attr
	readDirOut []vfs.DirEntry
	readErr    error
	readData   []byte
	forgotten  []ids.StableInode
	destroyed  bool
}

func (f *fakeEngine) Lookup(ctx context.Context, parent ids.StableInode, name string) (vfs.Attr, error) {
	if f.lookupErr != nil {
		return vfs.Attr{}, f.lookupErr
	}
	return f.attr, nil
}

func (f *fakeEngine) GetAttr(ctx context.Context, stable ids.StableInode) (vfs.Attr, error) {
	return f.attr, nil
}

func (f *fakeEngine) Forget(stable ids.StableInode, n uint64) {
	f.forgotten = append(f.forgotten, stable)
}

func (f *fakeEngine) ReadDir(ctx context.Context, stable ids.StableInode, fh uint64, offset int64) ([]vfs.DirEntry, error) {
	return f.readDirOut, nil
}

func (f *fakeEngine) Read(ctx context.Context, stable ids.StableInode, fh uint64, offset int64, buf []byte) (int, error) {
	if f.readErr != nil {
		return 0, f.readErr
	}
	n := copy(buf, f.readData)
	return n, nil
}

func (f *fakeEngine) Destroy() {
	f.destroyed = true
}

////////////////////////////////////////////////////////////////////////
// Boilerplate
////////////////////////////////////////////////////////////////////////

type AdapterTest struct {
	eng *fakeEngine
	a   *fuseadapter.Adapter
	ctx context.Context
}

func init() { RegisterTestSuite(&AdapterTest{}) }

func (t *AdapterTest) SetUp(ti *TestInfo) {
	t.ctx = context.Background()
	t.eng = &fakeEngine{}
	t.a = fuseadapter.New(t.eng)
}

////////////////////////////////////////////////////////////////////////
// Tests
////////////////////////////////////////////////////////////////////////

func (t *AdapterTest) LookUpInodeTranslatesAttributes() {
	t.eng.attr = vfs.Attr{
		Stable: ids.StableInode(42),
		Mode:   unix.S_IFREG | 0644,
		Nlink:  1,
	}

	op := &fuseops.LookUpInodeOp{
		Parent: fuseops.RootInodeID,
		Name:   "foo",
	}
	err := t.a.LookUpInode(op)

	AssertEq(nil, err)
	ExpectEq(42, op.Entry.Child)
	ExpectEq(uint64(1), op.Entry.Attributes.Nlink)
}

func (t *AdapterTest) LookUpInodeTranslatesNotFound() {
	t.eng.lookupErr = syscall.ENOENT

	op := &fuseops.LookUpInodeOp{Parent: fuseops.RootInodeID, Name: "nope"}
	err := t.a.LookUpInode(op)

	ExpectEq(syscall.ENOENT, err)
}

func (t *AdapterTest) MkDirRejectsBadNames() {
	for _, name := range []string{"", ".", "..", "a/b"} {
		op := &fuseops.MkDirOp{Parent: fuseops.RootInodeID, Name: name}
		err := t.a.MkDir(op)
		ExpectEq(syscall.EINVAL, err)
	}
}

func (t *AdapterTest) ForgetInodeForwardsToEngine() {
	op := &fuseops.ForgetInodeOp{ID: fuseops.InodeID(7)}
	err := t.a.ForgetInode(op)

	AssertEq(nil, err)
	AssertEq(1, len(t.eng.forgotten))
	ExpectEq(ids.StableInode(7), t.eng.forgotten[0])
}

func (t *AdapterTest) ReadFileSlicesBufferToReturnedLength() {
	t.eng.readData = []byte("hi")

	op := &fuseops.ReadFileOp{Inode: fuseops.RootInodeID, Size: 16}
	err := t.a.ReadFile(op)

	AssertEq(nil, err)
	ExpectEq("hi", string(op.Data))
}

func (t *AdapterTest) ReadDirAppendsEveryEntryThatFits() {
	t.eng.readDirOut = []vfs.DirEntry{
		{Name: "a", Stable: ids.StableInode(1), Type: unix.S_IFREG, Offset: 1},
		{Name: "b", Stable: ids.StableInode(2), Type: unix.S_IFDIR, Offset: 2},
	}

	op := &fuseops.ReadDirOp{Inode: fuseops.RootInodeID, Size: 4096}
	err := t.a.ReadDir(op)

	AssertEq(nil, err)
	ExpectTrue(len(op.Data) > 0)
}

func (t *AdapterTest) DestroyForwardsToEngine() {
	t.a.Destroy()
	ExpectTrue(t.eng.destroyed)
}

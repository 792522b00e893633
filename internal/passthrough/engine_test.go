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

package passthrough_test

import (
	"context"
	"os"
	"testing"

	. "github.com/jacobsa/ogletest"
	"golang.org/x/sys/unix"

	"github.com/layerfuse/layerfuse/internal/ids"
	"github.com/layerfuse/layerfuse/internal/passthrough"
	"github.com/layerfuse/layerfuse/internal/vfs"
)

func TestEngine(t *testing.T) { RunTests(t) }

////////////////////////////////////////////////////////////////////////
// Boilerplate
////////////////////////////////////////////////////////////////////////

type EngineTest struct {
	dir string
	eng *passthrough.Engine
	ctx context.Context
}

func init() { RegisterTestSuite(&EngineTest{}) }

func (t *EngineTest) SetUp(ti *TestInfo) {
	t.ctx = context.Background()

	var err error
	t.dir, err = os.MkdirTemp("", "passthrough_test")
	AssertEq(nil, err)

	t.eng, err = passthrough.New(t.dir, ids.NewGenerator(), nil)
	AssertEq(nil, err)
}

func (t *EngineTest) TearDown() {
	os.RemoveAll(t.dir)
}

////////////////////////////////////////////////////////////////////////
// Tests
////////////////////////////////////////////////////////////////////////

func (t *EngineTest) CreateWriteReadRoundTrips() {
	attr, fh, err := t.eng.Create(t.ctx, t.eng.Root(), "foo", 0644, unix.O_RDWR)
	AssertEq(nil, err)
	AssertTrue(attr.Mode&unix.S_IFREG != 0)

	n, err := t.eng.Write(t.ctx, attr.Stable, fh, 0, []byte("hello"))
	AssertEq(nil, err)
	ExpectEq(5, n)

	buf := make([]byte, 5)
	n, err = t.eng.Read(t.ctx, attr.Stable, fh, 0, buf)
	AssertEq(nil, err)
	ExpectEq(5, n)
	ExpectEq("hello", string(buf))

	AssertEq(nil, t.eng.Release(t.ctx, attr.Stable, fh))
}

func (t *EngineTest) LookupOfMissingNameFails() {
	_, err := t.eng.Lookup(t.ctx, t.eng.Root(), "nope")
	ExpectNe(nil, err)
}

func (t *EngineTest) MkdirThenLookupSucceeds() {
	attr, err := t.eng.Mkdir(t.ctx, t.eng.Root(), "sub", 0755)
	AssertEq(nil, err)
	AssertTrue(attr.Mode&unix.S_IFDIR != 0)

	got, err := t.eng.Lookup(t.ctx, t.eng.Root(), "sub")
	AssertEq(nil, err)
	ExpectEq(attr.Stable, got.Stable)
}

func (t *EngineTest) ReaddirListsCreatedEntries() {
	_, _, err := t.eng.Create(t.ctx, t.eng.Root(), "a", 0644, unix.O_RDWR)
	AssertEq(nil, err)
	_, _, err = t.eng.Create(t.ctx, t.eng.Root(), "b", 0644, unix.O_RDWR)
	AssertEq(nil, err)

	fh, err := t.eng.OpenDir(t.ctx, t.eng.Root())
	AssertEq(nil, err)

	entries, err := t.eng.ReadDir(t.ctx, t.eng.Root(), fh, 0)
	AssertEq(nil, err)

	seen := map[string]bool{}
	for _, e := range entries {
		seen[e.Name] = true
	}
	ExpectTrue(seen["a"])
	ExpectTrue(seen["b"])

	AssertEq(nil, t.eng.ReleaseDir(t.ctx, t.eng.Root(), fh))
}

func (t *EngineTest) UnlinkRemovesName() {
	_, _, err := t.eng.Create(t.ctx, t.eng.Root(), "doomed", 0644, unix.O_RDWR)
	AssertEq(nil, err)

	AssertEq(nil, t.eng.Unlink(t.ctx, t.eng.Root(), "doomed"))

	_, err = t.eng.Lookup(t.ctx, t.eng.Root(), "doomed")
	ExpectNe(nil, err)
}

func (t *EngineTest) RejectsNamesWithSlash() {
	_, _, err := t.eng.Create(t.ctx, t.eng.Root(), "a/b", 0644, unix.O_RDWR)
	ExpectNe(nil, err)
}

func (t *EngineTest) SetAttrTruncatesSize() {
	attr, fh, err := t.eng.Create(t.ctx, t.eng.Root(), "trunc", 0644, unix.O_RDWR)
	AssertEq(nil, err)
	_, err = t.eng.Write(t.ctx, attr.Stable, fh, 0, []byte("0123456789"))
	AssertEq(nil, err)
	AssertEq(nil, t.eng.Release(t.ctx, attr.Stable, fh))

	newSize := uint64(3)
	got, err := t.eng.SetAttr(t.ctx, attr.Stable, vfs.SetAttrRequest{Size: &newSize})
	AssertEq(nil, err)
	ExpectEq(newSize, got.Size)
}

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

package overlay_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	. "github.com/jacobsa/ogletest"
	"golang.org/x/sys/unix"

	"github.com/layerfuse/layerfuse/internal/overlay"
	"github.com/layerfuse/layerfuse/internal/vfs"
)

func TestOverlay(t *testing.T) { RunTests(t) }

////////////////////////////////////////////////////////////////////////
// Boilerplate
////////////////////////////////////////////////////////////////////////

type EngineTest struct {
	upperDir string
	lowerDir string
	eng      *overlay.Engine
	ctx      context.Context
}

func init() { RegisterTestSuite(&EngineTest{}) }

func (t *EngineTest) SetUp(ti *TestInfo) {
	t.ctx = context.Background()

	root, err := os.MkdirTemp("", "overlay_test")
	AssertEq(nil, err)
	t.upperDir = filepath.Join(root, "upper")
	t.lowerDir = filepath.Join(root, "lower")
	AssertEq(nil, os.Mkdir(t.upperDir, 0755))
	AssertEq(nil, os.Mkdir(t.lowerDir, 0755))

	t.eng, err = overlay.New(t.upperDir, []string{t.lowerDir}, nil)
	AssertEq(nil, err)
}

func (t *EngineTest) TearDown() {
	os.RemoveAll(filepath.Dir(t.upperDir))
}

func (t *EngineTest) writeLowerFile(name, content string) {
	AssertEq(nil, os.WriteFile(filepath.Join(t.lowerDir, name), []byte(content), 0644))
}

////////////////////////////////////////////////////////////////////////
// Tests
////////////////////////////////////////////////////////////////////////

func (t *EngineTest) LookupFindsFileInLowerLayerOnly() {
	t.writeLowerFile("a", "hello")

	attr, err := t.eng.Lookup(t.ctx, t.eng.Root(), "a")
	AssertEq(nil, err)
	ExpectTrue(attr.Mode&unix.S_IFREG != 0)
}

func (t *EngineTest) WriteTriggersCopyUpAndIsVisibleOnNextOpen() {
	t.writeLowerFile("b", "original")

	attr, err := t.eng.Lookup(t.ctx, t.eng.Root(), "b")
	AssertEq(nil, err)

	fh, err := t.eng.Open(t.ctx, attr.Stable, unix.O_RDWR)
	AssertEq(nil, err)
	_, err = t.eng.Write(t.ctx, attr.Stable, fh, 0, []byte("CHANGED!"))
	AssertEq(nil, err)
	AssertEq(nil, t.eng.Release(t.ctx, attr.Stable, fh))

	// The upper copy now exists directly on the host filesystem.
	upperContent, err := os.ReadFile(filepath.Join(t.upperDir, "b"))
	AssertEq(nil, err)
	ExpectEq("CHANGED!", string(upperContent))

	fh2, err := t.eng.Open(t.ctx, attr.Stable, unix.O_RDONLY)
	AssertEq(nil, err)
	buf := make([]byte, len("CHANGED!"))
	n, err := t.eng.Read(t.ctx, attr.Stable, fh2, 0, buf)
	AssertEq(nil, err)
	ExpectEq("CHANGED!", string(buf[:n]))
	AssertEq(nil, t.eng.Release(t.ctx, attr.Stable, fh2))
}

func (t *EngineTest) UnlinkOfLowerOnlyNameLeavesWhiteoutAndHidesIt() {
	t.writeLowerFile("c", "x")

	AssertEq(nil, t.eng.Unlink(t.ctx, t.eng.Root(), "c"))

	_, err := t.eng.Lookup(t.ctx, t.eng.Root(), "c")
	ExpectNe(nil, err)

	// readdir must not list it either.
	fh, err := t.eng.OpenDir(t.ctx, t.eng.Root())
	AssertEq(nil, err)
	entries, err := t.eng.ReadDir(t.ctx, t.eng.Root(), fh, 0)
	AssertEq(nil, err)
	for _, e := range entries {
		ExpectNe("c", e.Name)
	}
	AssertEq(nil, t.eng.ReleaseDir(t.ctx, t.eng.Root(), fh))
}

func (t *EngineTest) ReaddirMergesUpperAndLowerWithoutDuplicates() {
	t.writeLowerFile("lowfile", "l")

	_, fh, err := t.eng.Create(t.ctx, t.eng.Root(), "upfile", 0644, unix.O_RDWR)
	AssertEq(nil, err)
	AssertEq(nil, t.eng.Release(t.ctx, 0, fh))

	dfh, err := t.eng.OpenDir(t.ctx, t.eng.Root())
	AssertEq(nil, err)
	entries, err := t.eng.ReadDir(t.ctx, t.eng.Root(), dfh, 0)
	AssertEq(nil, err)
	AssertEq(nil, t.eng.ReleaseDir(t.ctx, t.eng.Root(), dfh))

	seen := map[string]int{}
	for _, e := range entries {
		seen[e.Name]++
	}
	ExpectEq(1, seen["lowfile"])
	ExpectEq(1, seen["upfile"])
}

func (t *EngineTest) CreateInNewSubdirCopiesUpAncestorMetadataOnly() {
	AssertEq(nil, os.Mkdir(filepath.Join(t.lowerDir, "sub"), 0700))
	t.writeLowerFile("sub/inner", "y")

	subAttr, err := t.eng.Lookup(t.ctx, t.eng.Root(), "sub")
	AssertEq(nil, err)

	_, fh, err := t.eng.Create(t.ctx, subAttr.Stable, "new", 0644, unix.O_RDWR)
	AssertEq(nil, err)
	AssertEq(nil, t.eng.Release(t.ctx, 0, fh))

	info, err := os.Stat(filepath.Join(t.upperDir, "sub"))
	AssertEq(nil, err)
	ExpectTrue(info.IsDir())
	ExpectEq(os.FileMode(0700), info.Mode().Perm())

	_, err = os.Stat(filepath.Join(t.upperDir, "sub", "new"))
	ExpectEq(nil, err)
	// the pre-existing lower sibling was never copied up.
	_, err = os.Stat(filepath.Join(t.upperDir, "sub", "inner"))
	ExpectNe(nil, err)
}

func (t *EngineTest) ForgetToZeroReleasesUnderlyingLayerReferences() {
	t.writeLowerFile("d", "z")

	attr, err := t.eng.Lookup(t.ctx, t.eng.Root(), "d")
	AssertEq(nil, err)

	t.eng.Forget(attr.Stable, 1)

	// A fresh lookup must succeed and mint a usable node again.
	attr2, err := t.eng.Lookup(t.ctx, t.eng.Root(), "d")
	AssertEq(nil, err)
	ExpectTrue(attr2.Mode&unix.S_IFREG != 0)
}

func (t *EngineTest) SetAttrTruncateTriggersCopyUp() {
	t.writeLowerFile("e", "0123456789")

	attr, err := t.eng.Lookup(t.ctx, t.eng.Root(), "e")
	AssertEq(nil, err)

	newSize := uint64(2)
	got, err := t.eng.SetAttr(t.ctx, attr.Stable, vfs.SetAttrRequest{Size: &newSize})
	AssertEq(nil, err)
	ExpectEq(newSize, got.Size)

	_, err = os.Stat(filepath.Join(t.upperDir, "e"))
	ExpectEq(nil, err)
}

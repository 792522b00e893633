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

package bindmount_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/layerfuse/layerfuse/internal/bindmount"
)

func TestMountAllRejectsEscapingTarget(t *testing.T) {
	base := t.TempDir()
	m, err := bindmount.New(base)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	specs, err := bindmount.ParseSpecs([]string{"../escape:/tmp"})
	if err != nil {
		t.Fatalf("ParseSpecs: %v", err)
	}

	if err := m.MountAll(context.Background(), specs); err == nil {
		t.Errorf("MountAll accepted a target escaping the base directory")
	}
}

func TestMountAllRejectsEscapingTargetViaSymlink(t *testing.T) {
	base := t.TempDir()
	outside := t.TempDir()

	if err := os.Symlink(outside, filepath.Join(base, "link")); err != nil {
		t.Fatalf("Symlink: %v", err)
	}

	m, err := bindmount.New(base)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	specs, err := bindmount.ParseSpecs([]string{"link/inner:/tmp"})
	if err != nil {
		t.Fatalf("ParseSpecs: %v", err)
	}

	if err := m.MountAll(context.Background(), specs); err == nil {
		t.Errorf("MountAll accepted a target that escapes through a pre-existing symlink")
	}
}

func TestMountAllAndUnmountAllRoundTrip(t *testing.T) {
	if os.Geteuid() != 0 {
		t.Skip("bind mounts require root")
	}

	base := t.TempDir()
	source := t.TempDir()
	if err := os.WriteFile(filepath.Join(source, "greeting"), []byte("hi"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	m, err := bindmount.New(base)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	specs, err := bindmount.ParseSpecs([]string{"data:" + source})
	if err != nil {
		t.Fatalf("ParseSpecs: %v", err)
	}

	ctx := context.Background()
	if err := m.MountAll(ctx, specs); err != nil {
		t.Fatalf("MountAll: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(base, "data", "greeting"))
	if err != nil {
		t.Fatalf("ReadFile through bind mount: %v", err)
	}
	if string(got) != "hi" {
		t.Errorf("ReadFile = %q, want %q", got, "hi")
	}

	if err := m.UnmountAll(ctx); err != nil {
		t.Fatalf("UnmountAll: %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(base, "data"))
	if err != nil {
		t.Fatalf("ReadDir after unmount: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("target still has contents after unmount: %v", entries)
	}
}

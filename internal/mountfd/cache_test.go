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

package mountfd_test

import (
	"testing"

	"github.com/layerfuse/layerfuse/internal/mountfd"
)

func TestAcquireReusesCachedFD(t *testing.T) {
	reopens := 0
	var closed []int

	c := mountfd.New(
		func(seedFD, flags int, mountID uint64) (int, error) {
			reopens++
			return int(mountID)*1000 + 1, nil
		},
		func(fd int) error {
			closed = append(closed, fd)
			return nil
		},
	)

	l1, err := c.Acquire(7, 3, 0)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	l2, err := c.Acquire(7, 3, 0)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	if reopens != 1 {
		t.Errorf("reopens = %d, want 1 (second acquire should hit cache)", reopens)
	}
	if l1.FD() != l2.FD() {
		t.Errorf("FD() = %d and %d, want equal", l1.FD(), l2.FD())
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}

	if err := l1.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if len(closed) != 0 {
		t.Errorf("fd closed after first Release with a second lease outstanding")
	}

	if err := l2.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if len(closed) != 1 {
		t.Errorf("fd not closed after last Release")
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d, want 0 after last release", c.Len())
	}
}

func TestAcquireDistinctMounts(t *testing.T) {
	c := mountfd.New(
		func(seedFD, flags int, mountID uint64) (int, error) {
			return int(mountID), nil
		},
		func(fd int) error { return nil },
	)

	l1, err := c.Acquire(1, 0, 0)
	if err != nil {
		t.Fatalf("Acquire(1): %v", err)
	}
	l2, err := c.Acquire(2, 0, 0)
	if err != nil {
		t.Fatalf("Acquire(2): %v", err)
	}

	if l1.FD() == l2.FD() {
		t.Errorf("distinct mounts got the same fd %d", l1.FD())
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}
}

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

package uidmap_test

import (
	"testing"

	"github.com/layerfuse/layerfuse/internal/uidmap"
)

func TestNilMapperIsIdentity(t *testing.T) {
	var m *uidmap.Mapper
	if got := m.ToVisible(1000); got != 1000 {
		t.Errorf("ToVisible(1000) = %d, want 1000", got)
	}
	if got := m.ToHost(1000); got != 1000 {
		t.Errorf("ToHost(1000) = %d, want 1000", got)
	}
}

func TestRangeTranslatesBothDirections(t *testing.T) {
	m, err := uidmap.New([]uidmap.Range{
		{HostStart: 100000, VisibleStart: 0, Length: 65536},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if got := m.ToVisible(100042); got != 42 {
		t.Errorf("ToVisible(100042) = %d, want 42", got)
	}
	if got := m.ToHost(42); got != 100042 {
		t.Errorf("ToHost(42) = %d, want 100042", got)
	}
}

func TestIDOutsideRangePassesThrough(t *testing.T) {
	m, err := uidmap.New([]uidmap.Range{
		{HostStart: 100000, VisibleStart: 0, Length: 100},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if got := m.ToVisible(5); got != 5 {
		t.Errorf("ToVisible(5) = %d, want 5 (outside range, passthrough)", got)
	}
}

func TestOverlappingHostRangesRejected(t *testing.T) {
	_, err := uidmap.New([]uidmap.Range{
		{HostStart: 0, VisibleStart: 0, Length: 100},
		{HostStart: 50, VisibleStart: 1000, Length: 100},
	})
	if err == nil {
		t.Fatal("New: expected error for overlapping host ranges")
	}
}

func TestOverlappingVisibleRangesRejected(t *testing.T) {
	_, err := uidmap.New([]uidmap.Range{
		{HostStart: 0, VisibleStart: 0, Length: 100},
		{HostStart: 1000, VisibleStart: 50, Length: 100},
	})
	if err == nil {
		t.Fatal("New: expected error for overlapping visible ranges")
	}
}

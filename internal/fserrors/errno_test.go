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

package fserrors_test

import (
	"fmt"
	"syscall"
	"testing"

	"github.com/layerfuse/layerfuse/internal/fserrors"
)

func TestReprRoundTrip(t *testing.T) {
	cases := []struct {
		errno fserrors.Errno
		repr  string
	}{
		{fserrors.NotFound, "NotFound"},
		{fserrors.Invalid, "Invalid"},
		{fserrors.Permission, "Permission"},
		{fserrors.BadDescriptor, "BadDescriptor"},
		{fserrors.NotSupported, "NotSupported"},
		{fserrors.Exhausted, "Exhausted"},
		{fserrors.Busy, "Busy"},
		{fserrors.Io, "Io"},
	}

	for _, c := range cases {
		if got := c.errno.Repr(); got != c.repr {
			t.Errorf("Repr() = %q, want %q", got, c.repr)
		}
	}
}

func TestFromOSError(t *testing.T) {
	wrapped := fmt.Errorf("openat: %w", syscall.ENOENT)
	if got := fserrors.FromOSError(wrapped); got != fserrors.NotFound {
		t.Errorf("FromOSError(wrapped ENOENT) = %v, want NotFound", got)
	}

	if got := fserrors.FromOSError(fmt.Errorf("some unrelated failure")); got != fserrors.Io {
		t.Errorf("FromOSError(opaque error) = %v, want Io", got)
	}

	if got := fserrors.FromOSError(nil); got != 0 {
		t.Errorf("FromOSError(nil) = %v, want 0", got)
	}
}

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

package passthrough

import (
	"context"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/layerfuse/layerfuse/internal/fserrors"
	"github.com/layerfuse/layerfuse/internal/vfs"
)

// StatFS implements vfs.Engine by passing the call straight through to the
// host filesystem backing the root (spec §4.5: "statfs: record fd, pass
// through").
func (e *Engine) StatFS(ctx context.Context) (vfs.StatFS, error) {
	rec, err := e.record(e.root)
	if err != nil {
		return vfs.StatFS{}, err
	}

	var st unix.Statfs_t
	if err := unix.Fstatfs(rec.FD(), &st); err != nil {
		return vfs.StatFS{}, fmt.Errorf("fstatfs: %w", fserrors.FromOSError(err))
	}

	return vfs.StatFS{
		Blocks:      uint64(st.Blocks),
		BlocksFree:  uint64(st.Bfree),
		BlocksAvail: uint64(st.Bavail),
		Files:       uint64(st.Files),
		FilesFree:   uint64(st.Ffree),
		BlockSize:   uint32(st.Bsize),
		NameMax:     uint32(st.Namelen),
	}, nil
}

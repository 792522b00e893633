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

	"github.com/pkg/xattr"

	"github.com/layerfuse/layerfuse/internal/fserrors"
	"github.com/layerfuse/layerfuse/internal/ids"
)

// procPath gives pkg/xattr something it can call the path-based syscalls
// against without the engine ever remembering a real path for the inode
// (spec §4.5, "xattr ops": "portability wrapper, some hosts require extra
// position/options args" — pkg/xattr is exactly that wrapper).
func (e *Engine) procPath(stable ids.StableInode) (string, error) {
	rec, err := e.record(stable)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("/proc/self/fd/%d", rec.FD()), nil
}

// GetXattr implements vfs.Engine.
func (e *Engine) GetXattr(ctx context.Context, stable ids.StableInode, name string) ([]byte, error) {
	p, err := e.procPath(stable)
	if err != nil {
		return nil, err
	}
	v, err := xattr.Get(p, name)
	if err != nil {
		return nil, translateXattrErr(err)
	}
	return v, nil
}

// SetXattr implements vfs.Engine.
func (e *Engine) SetXattr(ctx context.Context, stable ids.StableInode, name string, value []byte, flags int) error {
	p, err := e.procPath(stable)
	if err != nil {
		return err
	}
	if err := xattr.SetWithFlags(p, name, value, flags); err != nil {
		return translateXattrErr(err)
	}
	return nil
}

// ListXattr implements vfs.Engine.
func (e *Engine) ListXattr(ctx context.Context, stable ids.StableInode) ([]string, error) {
	p, err := e.procPath(stable)
	if err != nil {
		return nil, err
	}
	names, err := xattr.List(p)
	if err != nil {
		return nil, translateXattrErr(err)
	}
	return names, nil
}

// RemoveXattr implements vfs.Engine.
func (e *Engine) RemoveXattr(ctx context.Context, stable ids.StableInode, name string) error {
	p, err := e.procPath(stable)
	if err != nil {
		return err
	}
	if err := xattr.Remove(p, name); err != nil {
		return translateXattrErr(err)
	}
	return nil
}

// translateXattrErr unwraps the *xattr.Error pkg/xattr returns (which wraps
// a syscall.Errno) down to our Errno, falling back to NoAttr since that is
// by far the most common xattr-specific failure.
func translateXattrErr(err error) error {
	if e := fserrors.FromOSError(err); e != fserrors.Io {
		return e
	}
	return fserrors.NoAttr
}

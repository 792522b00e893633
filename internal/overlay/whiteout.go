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

package overlay

import (
	"context"

	"github.com/golang/glog"
	"golang.org/x/sys/unix"

	"github.com/layerfuse/layerfuse/internal/ids"
)

// opaqueXattr is the extended attribute marking an upper directory as
// opaque: lower contents of that directory are never merged in (spec §6).
const opaqueXattr = "trusted.overlay.opaque"

// isWhiteout reports whether attr describes a whiteout marker: a character
// device with major/minor (0,0), the overlay convention (spec §4.6).
func isWhiteout(mode uint32, rdev uint32) bool {
	return mode&unix.S_IFMT == unix.S_IFCHR && unix.Major(uint64(rdev)) == 0 && unix.Minor(uint64(rdev)) == 0
}

// makeWhiteout creates a whiteout marker named name in the upper directory
// identified by upperParent.
func (e *Engine) makeWhiteout(ctx context.Context, upperParent ids.StableInode, name string) error {
	dev := unix.Mkdev(0, 0)
	_, err := e.layers[0].Mknod(ctx, upperParent, name, unix.S_IFCHR|0o000, uint32(dev))
	if err != nil {
		return err
	}
	glog.Infof("overlay: whiteout %s created at %s", name, e.clk.Now())
	return nil
}

// isOpaque reports whether the upper copy of a directory (upperStable) is
// marked opaque.
func (e *Engine) isOpaque(ctx context.Context, upperStable ids.StableInode) bool {
	v, err := e.layers[0].GetXattr(ctx, upperStable, opaqueXattr)
	if err != nil {
		return false
	}
	return string(v) == "y"
}

// setOpaque marks the upper copy of a directory opaque.
func (e *Engine) setOpaque(ctx context.Context, upperStable ids.StableInode) error {
	return e.layers[0].SetXattr(ctx, upperStable, opaqueXattr, []byte("y"), 0)
}

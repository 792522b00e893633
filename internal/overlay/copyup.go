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
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/layerfuse/layerfuse/internal/ids"
)

// ensureUpperDir makes sure n (a directory node) exists in the upper layer,
// creating it and every missing ancestor first, metadata-only (spec §4.6:
// "create parent directories in upper as needed (directories copied
// metadata-only)"). Returns the directory's stable id within layers[0].
func (e *Engine) ensureUpperDir(ctx context.Context, n *node) (ids.StableInode, error) {
	n.mu.Lock()
	if n.perLayer[0] != 0 {
		s := n.perLayer[0]
		n.mu.Unlock()
		return s, nil
	}
	n.mu.Unlock()

	if n.parent == nil {
		// The root always exists in the upper layer; New() seeded it.
		return e.layers[0].Root(), nil
	}

	parentUpper, err := e.ensureUpperDir(ctx, n.parent)
	if err != nil {
		return 0, err
	}

	// Find a layer that still has the directory's metadata to copy (its
	// authoritative layer, i.e. the first one in perLayer that is set).
	n.mu.Lock()
	var srcLayer int
	var srcStable ids.StableInode
	for i, s := range n.perLayer {
		if s != 0 {
			srcLayer, srcStable = i, s
			break
		}
	}
	n.mu.Unlock()

	var mode uint32 = 0o755
	if srcStable != 0 {
		attr, err := e.layers[srcLayer].GetAttr(ctx, srcStable)
		if err == nil {
			mode = attr.Mode & 0o7777
		}
	}

	attr, err := e.layers[0].Mkdir(ctx, parentUpper, n.name, mode)
	if err != nil {
		return 0, errors.Wrapf(err, "overlay: ensureUpperDir %s", n.name)
	}

	n.mu.Lock()
	n.perLayer[0] = attr.Stable
	n.mu.Unlock()

	return attr.Stable, nil
}

// copyUp promotes a non-directory node's content into the upper layer. It
// is a no-op if the node is already authoritative there. The per-node
// InvariantMutex serializes this against concurrent mutators and
// concurrent copy-ups of the same node (spec §4.6); readers holding an
// already-open handle on the lower fd are unaffected, since that fd lives
// inside the lower passthrough.Engine's own handle table and this swap
// only changes which layer new operations are routed to.
func (e *Engine) copyUp(ctx context.Context, n *node) error {
	n.mu.Lock()
	if n.authLayer == 0 {
		n.mu.Unlock()
		return nil
	}
	srcLayer, srcStable := n.authLayer, n.authStable
	n.mu.Unlock()

	parentUpper, err := e.ensureUpperDir(ctx, n.parent)
	if err != nil {
		return err
	}

	attr, err := e.layers[srcLayer].GetAttr(ctx, srcStable)
	if err != nil {
		return errors.Wrap(err, "overlay: copy-up stat")
	}

	if attr.Mode&unix.S_IFMT == unix.S_IFLNK {
		return e.copyUpSymlink(ctx, n, srcLayer, srcStable, parentUpper)
	}

	newAttr, upperFh, err := e.layers[0].Create(ctx, parentUpper, n.name, attr.Mode&0o7777, unix.O_RDWR)
	if err != nil {
		return errors.Wrap(err, "overlay: copy-up create")
	}

	if rollbackErr := e.copyContentsAndXattrs(ctx, srcLayer, srcStable, upperFh, newAttr.Stable); rollbackErr != nil {
		// Roll back the partial upper copy before propagating, per spec §7.
		glog.Warningf("overlay: copy-up of %s failed mid-copy, rolling back: %v", n.name, rollbackErr)
		e.layers[0].Release(ctx, newAttr.Stable, upperFh)
		e.layers[0].Unlink(ctx, parentUpper, n.name)
		return rollbackErr
	}

	if err := e.layers[0].Fsync(ctx, newAttr.Stable, upperFh, false); err != nil {
		glog.Warningf("overlay: copy-up fsync of %s failed, rolling back: %v", n.name, err)
		e.layers[0].Release(ctx, newAttr.Stable, upperFh)
		e.layers[0].Unlink(ctx, parentUpper, n.name)
		return errors.Wrap(err, "overlay: copy-up fsync")
	}
	e.layers[0].Release(ctx, newAttr.Stable, upperFh)

	n.mu.Lock()
	n.authLayer = 0
	n.authStable = newAttr.Stable
	n.copiedUp = true
	n.mu.Unlock()

	glog.Infof("overlay: copy-up of %s completed at %s", n.name, e.clk.Now())
	return nil
}

// copyUpSymlink handles the one content type Create/Write can't carry:
// symlinks copy up by re-creating the link with the same target text, no
// data stream to read.
func (e *Engine) copyUpSymlink(ctx context.Context, n *node, srcLayer int, srcStable ids.StableInode, parentUpper ids.StableInode) error {
	target, err := e.layers[srcLayer].Readlink(ctx, srcStable)
	if err != nil {
		return errors.Wrap(err, "overlay: copy-up readlink")
	}

	newAttr, err := e.layers[0].Symlink(ctx, parentUpper, n.name, target)
	if err != nil {
		return errors.Wrap(err, "overlay: copy-up symlink")
	}

	n.mu.Lock()
	n.authLayer = 0
	n.authStable = newAttr.Stable
	n.copiedUp = true
	n.mu.Unlock()

	glog.Infof("overlay: copy-up of symlink %s completed at %s", n.name, e.clk.Now())
	return nil
}

func (e *Engine) copyContentsAndXattrs(ctx context.Context, srcLayer int, srcStable ids.StableInode, dstFh uint64, dstStable ids.StableInode) error {
	srcFh, err := e.layers[srcLayer].Open(ctx, srcStable, unix.O_RDONLY)
	if err != nil {
		return errors.Wrap(err, "overlay: copy-up open lower")
	}
	defer e.layers[srcLayer].Release(ctx, srcStable, srcFh)

	buf := make([]byte, 256*1024)
	var offset int64
	for {
		n, err := e.layers[srcLayer].Read(ctx, srcStable, srcFh, offset, buf)
		if n > 0 {
			if _, werr := e.layers[0].Write(ctx, dstStable, dstFh, offset, buf[:n]); werr != nil {
				return errors.Wrap(werr, "overlay: copy-up write")
			}
			offset += int64(n)
		}
		if err != nil || n == 0 {
			break
		}
	}

	names, err := e.layers[srcLayer].ListXattr(ctx, srcStable)
	if err == nil {
		for _, name := range names {
			v, err := e.layers[srcLayer].GetXattr(ctx, srcStable, name)
			if err != nil {
				continue
			}
			_ = e.layers[0].SetXattr(ctx, dstStable, name, v, 0)
		}
	}

	return nil
}

// ensureAuthoritative copies n up if it isn't already upper, then returns
// its current (layer, stable). Call this before any mutating operation on
// a file/symlink node.
func (e *Engine) ensureAuthoritative(ctx context.Context, n *node) (int, ids.StableInode, error) {
	if err := e.copyUp(ctx, n); err != nil {
		return 0, 0, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.authLayer, n.authStable, nil
}

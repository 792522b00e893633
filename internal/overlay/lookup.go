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
	"errors"

	"golang.org/x/sys/unix"

	"github.com/layerfuse/layerfuse/internal/fserrors"
	"github.com/layerfuse/layerfuse/internal/ids"
	"github.com/layerfuse/layerfuse/internal/vfs"
)

// Lookup implements vfs.Engine, resolving name in parent by scanning the
// layer stack topmost-first (spec §4.6): the first layer that has name
// wins and becomes authoritative; a whiteout there stops the search
// entirely (the name does not exist), and an opaque directory's presence
// in a layer means lower copies of that same directory are never
// consulted for its children.
func (e *Engine) Lookup(ctx context.Context, parent ids.StableInode, name string) (vfs.Attr, error) {
	if err := vfs.ValidateName(name, true); err != nil {
		return vfs.Attr{}, err
	}

	pn, err := e.getNode(parent)
	if err != nil {
		return vfs.Attr{}, err
	}
	if !pn.isDir {
		return vfs.Attr{}, fserrors.Invalid
	}

	pn.mu.Lock()
	layers := append([]ids.StableInode(nil), pn.perLayer...)
	pn.mu.Unlock()

	for i, parentStable := range layers {
		if parentStable == 0 {
			continue
		}

		attr, err := e.layers[i].Lookup(ctx, parentStable, name)
		if err != nil {
			if errors.Is(err, fserrors.NotFound) {
				continue
			}
			return vfs.Attr{}, err
		}

		if isWhiteout(attr.Mode, attr.Rdev) {
			return vfs.Attr{}, fserrors.NotFound
		}

		isDir := attr.Mode&unix.S_IFMT == unix.S_IFDIR
		child, err := e.mintChild(pn, name, isDir, i, attr.Stable)
		if err != nil {
			return vfs.Attr{}, err
		}

		if isDir {
			child.mu.Lock()
			child.perLayer[i] = attr.Stable
			child.mu.Unlock()
			if err := e.populateDirLayers(ctx, child, i, name, layers); err != nil {
				return vfs.Attr{}, err
			}
		}

		result, err := e.attrFromLayer(ctx, child.stable, i, attr.Stable)
		if err != nil {
			return vfs.Attr{}, err
		}
		return result, nil
	}

	return vfs.Attr{}, fserrors.NotFound
}

// populateDirLayers fills in child.perLayer for every layer below
// winningLayer (the caller has already recorded winningLayer's own copy),
// stopping early if winningLayer's copy is opaque (spec
// §4.6: an opaque directory hides all lower same-named directories'
// children, so there is no point tracking their presence).
func (e *Engine) populateDirLayers(ctx context.Context, child *node, winningLayer int, name string, parentLayers []ids.StableInode) error {
	child.mu.Lock()
	if child.perLayer[winningLayer] == 0 {
		child.mu.Unlock()
		return nil
	}
	opaque := e.isOpaque(ctx, child.perLayer[winningLayer])
	child.opaque = opaque
	child.mu.Unlock()

	if opaque {
		return nil
	}

	for i := winningLayer + 1; i < len(parentLayers); i++ {
		if parentLayers[i] == 0 {
			continue
		}
		attr, err := e.layers[i].Lookup(ctx, parentLayers[i], name)
		if err != nil {
			continue
		}
		if isWhiteout(attr.Mode, attr.Rdev) {
			break
		}
		if attr.Mode&unix.S_IFMT != unix.S_IFDIR {
			continue
		}
		child.mu.Lock()
		child.perLayer[i] = attr.Stable
		child.mu.Unlock()
	}
	return nil
}

// existsInLowerLayers reports whether name is visible in any layer below
// the upper one, consulting parent's cached perLayer table for
// directories and a direct Lookup for the common non-directory case
// where only upper and one lower matter.
func (e *Engine) existsInLowerLayers(ctx context.Context, parent *node, name string) bool {
	parent.mu.Lock()
	layers := append([]ids.StableInode(nil), parent.perLayer...)
	parent.mu.Unlock()

	for i := 1; i < len(layers); i++ {
		if layers[i] == 0 {
			continue
		}
		attr, err := e.layers[i].Lookup(ctx, layers[i], name)
		if err != nil {
			continue
		}
		if isWhiteout(attr.Mode, attr.Rdev) {
			return false
		}
		return true
	}
	return false
}

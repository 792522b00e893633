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

	"github.com/layerfuse/layerfuse/internal/fserrors"
	"github.com/layerfuse/layerfuse/internal/ids"
	"github.com/layerfuse/layerfuse/internal/vfs"
)

// Mknod implements vfs.Engine. Every creating operation happens in the
// upper layer only, after making sure parent exists there.
func (e *Engine) Mknod(ctx context.Context, parent ids.StableInode, name string, mode uint32, rdev uint32) (vfs.Attr, error) {
	pn, err := e.getNode(parent)
	if err != nil {
		return vfs.Attr{}, err
	}
	parentUpper, err := e.ensureUpperDir(ctx, pn)
	if err != nil {
		return vfs.Attr{}, err
	}
	attr, err := e.layers[0].Mknod(ctx, parentUpper, name, mode, rdev)
	if err != nil {
		return vfs.Attr{}, err
	}
	child, err := e.mintChild(pn, name, false, 0, attr.Stable)
	if err != nil {
		return vfs.Attr{}, err
	}
	attr.Stable = child.stable
	return attr, nil
}

// Mkdir implements vfs.Engine.
func (e *Engine) Mkdir(ctx context.Context, parent ids.StableInode, name string, mode uint32) (vfs.Attr, error) {
	pn, err := e.getNode(parent)
	if err != nil {
		return vfs.Attr{}, err
	}
	parentUpper, err := e.ensureUpperDir(ctx, pn)
	if err != nil {
		return vfs.Attr{}, err
	}
	attr, err := e.layers[0].Mkdir(ctx, parentUpper, name, mode)
	if err != nil {
		return vfs.Attr{}, err
	}
	child, err := e.mintChild(pn, name, true, 0, attr.Stable)
	if err != nil {
		return vfs.Attr{}, err
	}
	child.mu.Lock()
	child.perLayer[0] = attr.Stable
	child.mu.Unlock()
	attr.Stable = child.stable
	return attr, nil
}

// Symlink implements vfs.Engine.
func (e *Engine) Symlink(ctx context.Context, parent ids.StableInode, name, target string) (vfs.Attr, error) {
	pn, err := e.getNode(parent)
	if err != nil {
		return vfs.Attr{}, err
	}
	parentUpper, err := e.ensureUpperDir(ctx, pn)
	if err != nil {
		return vfs.Attr{}, err
	}
	attr, err := e.layers[0].Symlink(ctx, parentUpper, name, target)
	if err != nil {
		return vfs.Attr{}, err
	}
	child, err := e.mintChild(pn, name, false, 0, attr.Stable)
	if err != nil {
		return vfs.Attr{}, err
	}
	attr.Stable = child.stable
	return attr, nil
}

// Readlink implements vfs.Engine.
func (e *Engine) Readlink(ctx context.Context, stable ids.StableInode) (string, error) {
	nd, err := e.getNode(stable)
	if err != nil {
		return "", err
	}
	nd.mu.Lock()
	layer, layerStable := nd.authLayer, nd.authStable
	nd.mu.Unlock()
	return e.layers[layer].Readlink(ctx, layerStable)
}

// Link implements vfs.Engine. Hard links only make sense within one
// layer, so both target and the new name's parent are copied/forced up.
func (e *Engine) Link(ctx context.Context, parent ids.StableInode, name string, target ids.StableInode) (vfs.Attr, error) {
	pn, err := e.getNode(parent)
	if err != nil {
		return vfs.Attr{}, err
	}
	tn, err := e.getNode(target)
	if err != nil {
		return vfs.Attr{}, err
	}

	parentUpper, err := e.ensureUpperDir(ctx, pn)
	if err != nil {
		return vfs.Attr{}, err
	}
	if err := e.copyUp(ctx, tn); err != nil {
		return vfs.Attr{}, err
	}

	tn.mu.Lock()
	targetUpper := tn.authStable
	tn.mu.Unlock()

	attr, err := e.layers[0].Link(ctx, parentUpper, name, targetUpper)
	if err != nil {
		return vfs.Attr{}, err
	}
	attr.Stable = target
	return attr, nil
}

// Rename implements vfs.Engine. Both endpoints are forced into the upper
// layer before the host rename, so the whole operation happens within
// layers[0] (spec §9's open question on cross-layer rename, resolved by
// always operating on upper copies serialized behind the per-node lock
// copy-up already uses).
func (e *Engine) Rename(ctx context.Context, oldParent ids.StableInode, oldName string, newParent ids.StableInode, newName string) error {
	oldPn, err := e.getNode(oldParent)
	if err != nil {
		return err
	}
	newPn, err := e.getNode(newParent)
	if err != nil {
		return err
	}

	oldParentUpper, err := e.ensureUpperDir(ctx, oldPn)
	if err != nil {
		return err
	}
	newParentUpper, err := e.ensureUpperDir(ctx, newPn)
	if err != nil {
		return err
	}

	child, err := e.Lookup(ctx, oldParent, oldName)
	if err != nil {
		return err
	}
	cn, err := e.getNode(child.Stable)
	if err != nil {
		return err
	}
	if cn.isDir {
		if _, err := e.ensureUpperDir(ctx, cn); err != nil {
			return err
		}
	} else if err := e.copyUp(ctx, cn); err != nil {
		return err
	}

	wasLower := e.existsInLowerLayers(ctx, oldPn, oldName)

	if err := e.layers[0].Rename(ctx, oldParentUpper, oldName, newParentUpper, newName); err != nil {
		return err
	}

	if wasLower {
		if err := e.makeWhiteout(ctx, oldParentUpper, oldName); err != nil {
			return err
		}
	}

	cn.mu.Lock()
	cn.parent = newPn
	cn.name = newName
	cn.mu.Unlock()

	return nil
}

// Unlink implements vfs.Engine: removes the upper copy; if the name is
// also visible in a lower layer, a whiteout is left so the merged view
// still shows it gone (spec §4.6 invariant).
func (e *Engine) Unlink(ctx context.Context, parent ids.StableInode, name string) error {
	pn, err := e.getNode(parent)
	if err != nil {
		return err
	}

	wasLower := e.existsInLowerLayers(ctx, pn, name)

	pn.mu.Lock()
	upperParent := pn.perLayer[0]
	pn.mu.Unlock()

	if upperParent != 0 {
		if err := e.layers[0].Unlink(ctx, upperParent, name); err != nil && !wasLower {
			return err
		}
	} else {
		var err error
		upperParent, err = e.ensureUpperDir(ctx, pn)
		if err != nil {
			return err
		}
	}

	if wasLower {
		return e.makeWhiteout(ctx, upperParent, name)
	}
	return nil
}

// Rmdir implements vfs.Engine.
func (e *Engine) Rmdir(ctx context.Context, parent ids.StableInode, name string) error {
	pn, err := e.getNode(parent)
	if err != nil {
		return err
	}

	child, err := e.Lookup(ctx, parent, name)
	if err != nil {
		return err
	}
	cn, err := e.getNode(child.Stable)
	if err != nil {
		return err
	}

	entries, err := e.mergedReaddir(ctx, cn)
	if err != nil {
		return err
	}
	if len(entries) > 0 {
		return fserrors.NotEmpty
	}

	wasLower := e.existsInLowerLayers(ctx, pn, name)

	cn.mu.Lock()
	upperStable := cn.perLayer[0]
	cn.mu.Unlock()
	if upperStable != 0 {
		pn.mu.Lock()
		upperParent := pn.perLayer[0]
		pn.mu.Unlock()
		if err := e.layers[0].Rmdir(ctx, upperParent, name); err != nil {
			return err
		}
	}

	if wasLower {
		pn.mu.Lock()
		upperParent := pn.perLayer[0]
		pn.mu.Unlock()
		if upperParent == 0 {
			var err error
			upperParent, err = e.ensureUpperDir(ctx, pn)
			if err != nil {
				return err
			}
		}
		return e.makeWhiteout(ctx, upperParent, name)
	}
	return nil
}

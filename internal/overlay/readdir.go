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

	"golang.org/x/sys/unix"

	"github.com/layerfuse/layerfuse/internal/fserrors"
	"github.com/layerfuse/layerfuse/internal/ids"
	"github.com/layerfuse/layerfuse/internal/vfs"
)

// overlayDirHandle is an open overlay directory: the merge is computed
// lazily on the first ReadDir, same as passthrough.dirHandle, and then
// served from the cached slice for the lifetime of the open (spec §4.5's
// "stable offsets within an open" requirement extends naturally to the
// merged view).
type overlayDirHandle struct {
	node    *node
	entries []vfs.DirEntry
	loaded  bool
}

// OpenDir implements vfs.Engine.
func (e *Engine) OpenDir(ctx context.Context, stable ids.StableInode) (uint64, error) {
	nd, err := e.getNode(stable)
	if err != nil {
		return 0, err
	}
	if !nd.isDir {
		return 0, fserrors.Invalid
	}

	e.handlesMu.Lock()
	e.nextDirFh++
	fh := e.nextDirFh
	e.dirHandles[fh] = &overlayDirHandle{node: nd}
	e.handlesMu.Unlock()
	return fh, nil
}

// mergedReaddir computes the merged entry list for a directory node: each
// layer is walked topmost-first, a name already seen (from a higher layer)
// is never added twice, a whiteout suppresses that name entirely without
// consulting any layer below it for the same name, and an opaque upper
// directory stops the merge from descending into any lower layer at all
// (spec §4.6).
func (e *Engine) mergedReaddir(ctx context.Context, nd *node) ([]vfs.DirEntry, error) {
	nd.mu.Lock()
	layers := append([]ids.StableInode(nil), nd.perLayer...)
	nd.mu.Unlock()

	seen := map[string]bool{}
	var out []vfs.DirEntry

	for i, layerStable := range layers {
		if layerStable == 0 {
			continue
		}

		fh, err := e.layers[i].OpenDir(ctx, layerStable)
		if err != nil {
			continue
		}
		entries, err := e.layers[i].ReadDir(ctx, layerStable, fh, 0)
		e.layers[i].ReleaseDir(ctx, layerStable, fh)
		if err != nil {
			continue
		}

		opaqueHere := e.isOpaque(ctx, layerStable)

		for _, ent := range entries {
			if ent.Name == "." || ent.Name == ".." {
				continue
			}
			if seen[ent.Name] {
				continue
			}
			attr, err := e.layers[i].Lookup(ctx, layerStable, ent.Name)
			if err != nil {
				continue
			}
			e.layers[i].Forget(attr.Stable, 1) // Lookup bumped a ref we don't keep
			seen[ent.Name] = true
			if isWhiteout(attr.Mode, attr.Rdev) {
				continue
			}
			isDir := attr.Mode&unix.S_IFMT == unix.S_IFDIR
			child, err := e.mintChild(nd, ent.Name, isDir, i, attr.Stable)
			if err != nil {
				continue
			}
			out = append(out, vfs.DirEntry{
				Name:   ent.Name,
				Stable: child.stable,
				Type:   attr.Mode & unix.S_IFMT,
			})
		}

		if opaqueHere {
			break
		}
	}

	for idx := range out {
		out[idx].Offset = int64(idx + 1)
	}
	return out, nil
}

// ReadDir implements vfs.Engine.
func (e *Engine) ReadDir(ctx context.Context, stable ids.StableInode, fh uint64, offset int64) ([]vfs.DirEntry, error) {
	e.handlesMu.Lock()
	dh, ok := e.dirHandles[fh]
	e.handlesMu.Unlock()
	if !ok {
		return nil, fserrors.BadDescriptor
	}

	if !dh.loaded {
		entries, err := e.mergedReaddir(ctx, dh.node)
		if err != nil {
			return nil, err
		}
		e.handlesMu.Lock()
		dh.entries = entries
		dh.loaded = true
		e.handlesMu.Unlock()
	}

	if offset < 0 || int(offset) >= len(dh.entries) {
		return nil, nil
	}
	return dh.entries[offset:], nil
}

// ReleaseDir implements vfs.Engine.
func (e *Engine) ReleaseDir(ctx context.Context, stable ids.StableInode, fh uint64) error {
	e.handlesMu.Lock()
	_, ok := e.dirHandles[fh]
	delete(e.dirHandles, fh)
	e.handlesMu.Unlock()
	if !ok {
		return fserrors.BadDescriptor
	}
	return nil
}

// FsyncDir implements vfs.Engine: sync the upper copy if the directory has
// one, a no-op otherwise since there is nothing dirty in a read-only lower
// layer.
func (e *Engine) FsyncDir(ctx context.Context, stable ids.StableInode, fh uint64) error {
	nd, err := e.getNode(stable)
	if err != nil {
		return err
	}
	nd.mu.Lock()
	upper := nd.perLayer[0]
	nd.mu.Unlock()
	if upper == 0 {
		return nil
	}
	upperFh, err := e.layers[0].OpenDir(ctx, upper)
	if err != nil {
		return err
	}
	defer e.layers[0].ReleaseDir(ctx, upper, upperFh)
	return e.layers[0].FsyncDir(ctx, upper, upperFh)
}

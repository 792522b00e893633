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

// openFile tracks which layer's own handle id backs an overlay-level
// handle, so Read/Write/Flush/Fsync/Release know where to forward.
type openFile struct {
	layer int
	inner uint64
}

func (e *Engine) registerOpenFile(layer int, inner uint64) uint64 {
	e.handlesMu.Lock()
	defer e.handlesMu.Unlock()
	e.nextFileFh++
	fh := e.nextFileFh
	e.openFiles[fh] = &openFile{layer: layer, inner: inner}
	return fh
}

func (e *Engine) resolveOpenFile(fh uint64) (*openFile, error) {
	e.handlesMu.Lock()
	defer e.handlesMu.Unlock()
	of, ok := e.openFiles[fh]
	if !ok {
		return nil, fserrors.BadDescriptor
	}
	return of, nil
}

// writeIntent reports whether flags request write access, the trigger for
// forcing copy-up before Open even returns a handle (spec §4.6: "mutation
// never becomes visible before copy-up's fd-swap commits" is easiest to
// guarantee by never handing out a lower-layer write handle at all).
func writeIntent(flags uint32) bool {
	accmode := int(flags) & unix.O_ACCMODE
	return accmode == unix.O_WRONLY || accmode == unix.O_RDWR || int(flags)&unix.O_TRUNC != 0
}

// Open implements vfs.Engine.
func (e *Engine) Open(ctx context.Context, stable ids.StableInode, flags uint32) (uint64, error) {
	nd, err := e.getNode(stable)
	if err != nil {
		return 0, err
	}

	if writeIntent(flags) {
		if err := e.copyUp(ctx, nd); err != nil {
			return 0, err
		}
	}

	nd.mu.Lock()
	layer, layerStable := nd.authLayer, nd.authStable
	nd.mu.Unlock()

	inner, err := e.layers[layer].Open(ctx, layerStable, flags)
	if err != nil {
		return 0, err
	}
	return e.registerOpenFile(layer, inner), nil
}

// Create implements vfs.Engine: always created in the upper layer.
func (e *Engine) Create(ctx context.Context, parent ids.StableInode, name string, mode uint32, flags uint32) (vfs.Attr, uint64, error) {
	pn, err := e.getNode(parent)
	if err != nil {
		return vfs.Attr{}, 0, err
	}
	parentUpper, err := e.ensureUpperDir(ctx, pn)
	if err != nil {
		return vfs.Attr{}, 0, err
	}

	attr, inner, err := e.layers[0].Create(ctx, parentUpper, name, mode, flags)
	if err != nil {
		return vfs.Attr{}, 0, err
	}
	child, err := e.mintChild(pn, name, false, 0, attr.Stable)
	if err != nil {
		return vfs.Attr{}, 0, err
	}
	attr.Stable = child.stable
	return attr, e.registerOpenFile(0, inner), nil
}

// Release implements vfs.Engine. The underlying passthrough engines key
// their own handle tables purely by fh, never by stable, so a stale
// stable here (the node may have copied up since Open) is harmless — only
// of.layer, captured at Open time, matters for routing.
func (e *Engine) Release(ctx context.Context, stable ids.StableInode, fh uint64) error {
	of, err := e.resolveOpenFile(fh)
	if err != nil {
		return err
	}
	e.handlesMu.Lock()
	delete(e.openFiles, fh)
	e.handlesMu.Unlock()

	return e.layers[of.layer].Release(ctx, stable, of.inner)
}

// Read implements vfs.Engine.
func (e *Engine) Read(ctx context.Context, stable ids.StableInode, fh uint64, offset int64, buf []byte) (int, error) {
	of, err := e.resolveOpenFile(fh)
	if err != nil {
		return 0, err
	}
	return e.layers[of.layer].Read(ctx, stable, of.inner, offset, buf)
}

// Write implements vfs.Engine.
func (e *Engine) Write(ctx context.Context, stable ids.StableInode, fh uint64, offset int64, data []byte) (int, error) {
	of, err := e.resolveOpenFile(fh)
	if err != nil {
		return 0, err
	}
	return e.layers[of.layer].Write(ctx, stable, of.inner, offset, data)
}

// Flush implements vfs.Engine.
func (e *Engine) Flush(ctx context.Context, stable ids.StableInode, fh uint64) error {
	of, err := e.resolveOpenFile(fh)
	if err != nil {
		return err
	}
	return e.layers[of.layer].Flush(ctx, stable, of.inner)
}

// Fsync implements vfs.Engine.
func (e *Engine) Fsync(ctx context.Context, stable ids.StableInode, fh uint64, dataOnly bool) error {
	of, err := e.resolveOpenFile(fh)
	if err != nil {
		return err
	}
	return e.layers[of.layer].Fsync(ctx, stable, of.inner, dataOnly)
}

// Fallocate implements vfs.Engine; always forces copy-up first, since
// preallocating space is a mutation that must land in the upper layer.
func (e *Engine) Fallocate(ctx context.Context, stable ids.StableInode, fh uint64, mode uint32, offset, length int64) error {
	of, err := e.resolveOpenFile(fh)
	if err != nil {
		return err
	}
	nd, err := e.getNode(stable)
	if err != nil {
		return err
	}
	if err := e.copyUp(ctx, nd); err != nil {
		return err
	}
	return e.layers[0].Fallocate(ctx, stable, of.inner, mode, offset, length)
}

// CopyFileRange implements vfs.Engine between two overlay-level handles.
func (e *Engine) CopyFileRange(ctx context.Context, srcStable ids.StableInode, srcFh uint64, srcOffset int64, dstStable ids.StableInode, dstFh uint64, dstOffset int64, length int) (int, error) {
	srcOf, err := e.resolveOpenFile(srcFh)
	if err != nil {
		return 0, err
	}
	dstOf, err := e.resolveOpenFile(dstFh)
	if err != nil {
		return 0, err
	}

	dstNd, err := e.getNode(dstStable)
	if err != nil {
		return 0, err
	}
	if err := e.copyUp(ctx, dstNd); err != nil {
		return 0, err
	}

	if srcOf.layer == dstOf.layer {
		return e.layers[srcOf.layer].CopyFileRange(ctx, srcStable, srcOf.inner, srcOffset, dstStable, dstOf.inner, dstOffset, length)
	}

	// Cross-layer copy: fall back to a read/write loop through the engine
	// itself, same shape as passthrough's cross-filesystem fallback.
	buf := make([]byte, 64*1024)
	total := 0
	for total < length {
		want := len(buf)
		if length-total < want {
			want = length - total
		}
		n, rerr := e.layers[srcOf.layer].Read(ctx, srcStable, srcOf.inner, srcOffset+int64(total), buf[:want])
		if rerr != nil {
			return total, rerr
		}
		if n == 0 {
			break
		}
		wn, werr := e.layers[dstOf.layer].Write(ctx, dstStable, dstOf.inner, dstOffset+int64(total), buf[:n])
		if werr != nil {
			return total, werr
		}
		total += wn
	}
	return total, nil
}

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

// Package overlay implements the overlay filesystem engine of spec §4.6: a
// writable upper layer stacked over one or more read-only lower layers,
// each itself a passthrough.Engine, with copy-up-on-write and
// whiteout/opaque-directory semantics. It plays the role the teacher's
// fs/file.go plays when it materializes a local mutable copy of GCS object
// content before the first write (ensureTempFile); here the "mutable
// copy" is a real file created in the upper layer instead of a temp file
// under gcsfuse's lease.FileLeaser, and it stays in place rather than
// being synced back up afterward.
package overlay

import (
	"context"
	"fmt"
	"sync"

	"github.com/jacobsa/syncutil"

	"github.com/layerfuse/layerfuse/internal/clock"
	"github.com/layerfuse/layerfuse/internal/fserrors"
	"github.com/layerfuse/layerfuse/internal/ids"
	"github.com/layerfuse/layerfuse/internal/passthrough"
	"github.com/layerfuse/layerfuse/internal/uidmap"
	"github.com/layerfuse/layerfuse/internal/vfs"
)

// node is the overlay's view of one merged name: which layers currently
// contain it, and which layer is authoritative for its content right now.
// Directories track presence in every layer (needed to merge readdir and
// to resolve children against each); non-directories track only the
// authoritative layer, recomputing shadow presence in lower layers lazily
// when unlink needs to decide whether to leave a whiteout.
type node struct {
	// mu is an InvariantMutex checking the one invariant this state machine
	// actually has: authLayer is always 0 once copiedUp is set, and never
	// un-sets once true (copy-up is one-way). The teacher reserves
	// syncutil.InvariantMutex for state with a real invariant to assert
	// rather than sprinkling it everywhere; this is the one place in the
	// whole tree with that shape.
	mu syncutil.InvariantMutex

	stable ids.StableInode
	parent *node
	name   string
	isDir  bool
	opaque bool // meaningful only when isDir: upper copy has trusted.overlay.opaque=y

	// perLayer[i] is this node's stable id within layers[i], or 0 if absent
	// there. Only maintained for directories.
	perLayer []ids.StableInode

	authLayer  int
	authStable ids.StableInode
	copiedUp   bool // true once authLayer == 0 as a result of an actual copy-up

	lookupCount uint64
}

func (n *node) checkInvariants() {
	if n.copiedUp && n.authLayer != 0 {
		panic("copiedUp set but authLayer != 0")
	}
}

// Engine implements vfs.Engine by merging layers[0] (upper, writable) over
// layers[1:] (lower, read-only), topmost-first.
type Engine struct {
	layers []*passthrough.Engine
	gen    *ids.Generator
	uidMap *uidmap.Mapper
	clk    clock.Clock // stamps copy-up completion and whiteout creation in the log

	mu    sync.Mutex // GUARDS nodes
	nodes map[ids.StableInode]*node

	rootStable ids.StableInode

	handlesMu  sync.Mutex // GUARDS dirHandles, openFiles, nextDirFh, nextFileFh
	dirHandles map[uint64]*overlayDirHandle
	openFiles  map[uint64]*openFile
	nextDirFh  uint64
	nextFileFh uint64
}

// New builds an overlay engine. upperDir is the writable top layer;
// lowerDirs is the ordered list of read-only layers below it, topmost of
// the lowers first, per spec §6 ("lowers are listed top-to-bottom after
// the upper is specified separately").
func New(upperDir string, lowerDirs []string, uidMap *uidmap.Mapper) (*Engine, error) {
	if upperDir == "" {
		return nil, fmt.Errorf("overlay: upperdir is required")
	}

	e := &Engine{
		gen:        ids.NewGenerator(),
		uidMap:     uidMap,
		clk:        clock.RealClock{},
		nodes:      make(map[ids.StableInode]*node),
		dirHandles: make(map[uint64]*overlayDirHandle),
		openFiles:  make(map[uint64]*openFile),
	}

	upper, err := passthrough.New(upperDir, ids.NewGenerator(), uidMap)
	if err != nil {
		return nil, fmt.Errorf("overlay: upper layer: %w", err)
	}
	e.layers = append(e.layers, upper)

	for _, d := range lowerDirs {
		l, err := passthrough.New(d, ids.NewGenerator(), uidMap)
		if err != nil {
			return nil, fmt.Errorf("overlay: lower layer %s: %w", d, err)
		}
		e.layers = append(e.layers, l)
	}

	root := &node{
		isDir:    true,
		name:     "",
		perLayer: make([]ids.StableInode, len(e.layers)),
	}
	for i, l := range e.layers {
		root.perLayer[i] = l.Root()
	}
	root.authLayer = 0
	root.authStable = e.layers[0].Root()
	root.mu = syncutil.NewInvariantMutex(root.checkInvariants)

	stable, err := e.gen.StableFor(ids.HostIdentity{Dev: 0, Mnt: 0, Ino: 1})
	if err != nil {
		return nil, err
	}
	root.stable = stable
	root.lookupCount = 1

	e.rootStable = stable
	e.nodes[stable] = root

	return e, nil
}

// Root implements vfs.Engine.
func (e *Engine) Root() ids.StableInode { return e.rootStable }

func (e *Engine) getNode(stable ids.StableInode) (*node, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, ok := e.nodes[stable]
	if !ok {
		return nil, fserrors.BadDescriptor
	}
	return n, nil
}

// mintChild registers a freshly resolved child in the node table, or bumps
// the lookup count of an already-known one for the same (parent, name).
func (e *Engine) mintChild(parent *node, name string, isDir bool, authLayer int, authStable ids.StableInode) (*node, error) {
	e.mu.Lock()
	for _, existing := range e.nodes {
		if existing.parent == parent && existing.name == name {
			existing.mu.Lock()
			existing.lookupCount++
			existing.mu.Unlock()
			e.mu.Unlock()
			return existing, nil
		}
	}
	e.mu.Unlock()

	// The overlay's merged stable ids don't correspond to one host
	// identity the way a plain passthrough inode's does (copy-up changes
	// which layer, and which host inode, is authoritative over the node's
	// lifetime); mint a fresh, never-repeated identity per new node and
	// let the generator's virtual-payload path assign the actual number.
	const forceVirtual = uint64(1) << 47 // one past the host-inode payload range
	identity := ids.HostIdentity{Ino: forceVirtual + nodeSeq()}
	stable, err := e.gen.StableFor(identity)
	if err != nil {
		return nil, err
	}

	n := &node{
		stable:     stable,
		parent:     parent,
		name:       name,
		isDir:      isDir,
		authLayer:  authLayer,
		authStable: authStable,
		copiedUp:   authLayer == 0,
	}
	if isDir {
		n.perLayer = make([]ids.StableInode, len(e.layers))
	}
	n.mu = syncutil.NewInvariantMutex(n.checkInvariants)
	n.lookupCount = 1

	e.mu.Lock()
	e.nodes[stable] = n
	e.mu.Unlock()

	return n, nil
}

// nodeSeq gives mintChild's synthetic HostIdentity.Ino enough entropy to
// avoid accidental collisions between unrelated (parent, name) pairs that
// happen to hash the same length; a process-wide monotonic counter is
// simpler than hashing the name and just as collision-free.
var nodeSeqCounter struct {
	mu  sync.Mutex
	val uint64
}

func nodeSeq() uint64 {
	nodeSeqCounter.mu.Lock()
	defer nodeSeqCounter.mu.Unlock()
	nodeSeqCounter.val++
	return nodeSeqCounter.val
}

// Forget implements vfs.Engine.
func (e *Engine) Forget(stable ids.StableInode, n uint64) {
	e.mu.Lock()
	nd, ok := e.nodes[stable]
	if !ok {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	nd.mu.Lock()
	if n > nd.lookupCount {
		nd.lookupCount = 0
	} else {
		nd.lookupCount -= n
	}
	destroyed := nd.lookupCount == 0
	nd.mu.Unlock()

	if !destroyed {
		return
	}

	e.mu.Lock()
	delete(e.nodes, stable)
	e.mu.Unlock()

	if nd.isDir {
		for i, s := range nd.perLayer {
			if s != 0 {
				e.layers[i].Forget(s, 1)
			}
		}
		return
	}
	e.layers[nd.authLayer].Forget(nd.authStable, 1)
}

// Destroy implements vfs.Engine.
func (e *Engine) Destroy() {
	for _, l := range e.layers {
		l.Destroy()
	}
}

func (e *Engine) attrFromLayer(ctx context.Context, stable ids.StableInode, layerIdx int, layerStable ids.StableInode) (vfs.Attr, error) {
	a, err := e.layers[layerIdx].GetAttr(ctx, layerStable)
	if err != nil {
		return vfs.Attr{}, err
	}
	a.Stable = stable
	return a, nil
}

// GetAttr implements vfs.Engine.
func (e *Engine) GetAttr(ctx context.Context, stable ids.StableInode) (vfs.Attr, error) {
	nd, err := e.getNode(stable)
	if err != nil {
		return vfs.Attr{}, err
	}
	nd.mu.Lock()
	layer, layerStable := nd.authLayer, nd.authStable
	nd.mu.Unlock()

	return e.attrFromLayer(ctx, stable, layer, layerStable)
}

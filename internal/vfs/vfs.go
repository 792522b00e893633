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

// Package vfs declares the capability set shared by the passthrough and
// overlay engines (spec §9, "Polymorphism over filesystem personality":
// passthrough and overlay expose the same {lookup, getattr, ...} set, so a
// capability interface is preferred over an inheritance hierarchy). The
// fuseadapter package is the only thing that knows about jacobsa/fuse's
// fuseops types; everything else works in terms of this package.
package vfs

import (
	"context"
	"time"

	"github.com/layerfuse/layerfuse/internal/ids"
)

// Attr is the subset of inode metadata every engine reports, independent of
// the wire encoding fuseops.InodeAttributes happens to use.
type Attr struct {
	Stable ids.StableInode
	Size   uint64
	Mode   uint32 // full mode, including S_IFMT type bits
	Nlink  uint32
	Uid    uint32
	Gid    uint32
	Rdev   uint32
	Atime  time.Time
	Mtime  time.Time
	Ctime  time.Time
}

// SetAttrRequest carries the optional fields a setattr call may change. A
// nil field means "leave unchanged".
type SetAttrRequest struct {
	Size  *uint64
	Mode  *uint32
	Uid   *uint32
	Gid   *uint32
	Atime *time.Time
	Mtime *time.Time
}

// DirEntry is one entry produced by ReadDir.
type DirEntry struct {
	Name   string
	Stable ids.StableInode
	Type   uint32 // S_IFMT bits only
	Offset int64  // opaque continuation cookie for the next ReadDir call
}

// StatFS mirrors the fields FUSE's statfs response needs.
type StatFS struct {
	Blocks     uint64
	BlocksFree uint64
	BlocksAvail uint64
	Files      uint64
	FilesFree  uint64
	BlockSize  uint32
	NameMax    uint32
}

// Engine is the capability set a mounted filesystem personality
// (passthrough, or overlay composed of several passthrough layers)
// provides. All methods operate on stable inodes and caller-owned file
// handle ids rather than paths, per spec §4.5's "rooted at the inode
// record's fd" design; path walking happens once, at lookup, and never
// again.
type Engine interface {
	Root() ids.StableInode

	// Lookup resolves name within the directory parent. It tolerates "."
	// and ".." (spec §4.5, NFS-export semantics); all other callers must
	// reject those names before calling in, since Lookup is the one
	// operation exempt from the general name-validation rule.
	Lookup(ctx context.Context, parent ids.StableInode, name string) (Attr, error)

	// Forget drops n references previously acquired by Lookup (or by the
	// implicit reference held by the root).
	Forget(stable ids.StableInode, n uint64)

	GetAttr(ctx context.Context, stable ids.StableInode) (Attr, error)
	SetAttr(ctx context.Context, stable ids.StableInode, req SetAttrRequest) (Attr, error)

	Mknod(ctx context.Context, parent ids.StableInode, name string, mode uint32, rdev uint32) (Attr, error)
	Mkdir(ctx context.Context, parent ids.StableInode, name string, mode uint32) (Attr, error)
	Symlink(ctx context.Context, parent ids.StableInode, name, target string) (Attr, error)
	Readlink(ctx context.Context, stable ids.StableInode) (string, error)
	Link(ctx context.Context, parent ids.StableInode, name string, target ids.StableInode) (Attr, error)
	Rename(ctx context.Context, oldParent ids.StableInode, oldName string, newParent ids.StableInode, newName string) error
	Unlink(ctx context.Context, parent ids.StableInode, name string) error
	Rmdir(ctx context.Context, parent ids.StableInode, name string) error

	Open(ctx context.Context, stable ids.StableInode, flags uint32) (fh uint64, err error)
	Create(ctx context.Context, parent ids.StableInode, name string, mode uint32, flags uint32) (Attr, uint64, error)
	Release(ctx context.Context, stable ids.StableInode, fh uint64) error
	Read(ctx context.Context, stable ids.StableInode, fh uint64, offset int64, buf []byte) (int, error)
	Write(ctx context.Context, stable ids.StableInode, fh uint64, offset int64, data []byte) (int, error)
	Flush(ctx context.Context, stable ids.StableInode, fh uint64) error
	Fsync(ctx context.Context, stable ids.StableInode, fh uint64, dataOnly bool) error
	Fallocate(ctx context.Context, stable ids.StableInode, fh uint64, mode uint32, offset, length int64) error
	CopyFileRange(ctx context.Context, srcStable ids.StableInode, srcFh uint64, srcOffset int64, dstStable ids.StableInode, dstFh uint64, dstOffset int64, length int) (int, error)

	OpenDir(ctx context.Context, stable ids.StableInode) (fh uint64, err error)
	ReadDir(ctx context.Context, stable ids.StableInode, fh uint64, offset int64) ([]DirEntry, error)
	ReleaseDir(ctx context.Context, stable ids.StableInode, fh uint64) error
	FsyncDir(ctx context.Context, stable ids.StableInode, fh uint64) error

	GetXattr(ctx context.Context, stable ids.StableInode, name string) ([]byte, error)
	SetXattr(ctx context.Context, stable ids.StableInode, name string, value []byte, flags int) error
	ListXattr(ctx context.Context, stable ids.StableInode) ([]string, error)
	RemoveXattr(ctx context.Context, stable ids.StableInode, name string) error

	StatFS(ctx context.Context) (StatFS, error)

	// Destroy is called once, on unmount, to forget every record and close
	// every fd (spec §5, "Cancellation": forget_all then close all fds).
	Destroy()
}

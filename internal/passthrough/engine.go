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

// Package passthrough implements the passthrough filesystem engine of
// spec §4.5: every vfs.Engine operation is translated into host syscalls
// rooted at an inode record's fd, never at a remembered path. It plays the
// role the teacher's fs.fileSystem plays for GCS objects (fs/fs.go), but
// rooted at open file descriptors instead of (bucket, object name) pairs,
// and it is also the layer primitive the overlay engine stacks.
package passthrough

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/layerfuse/layerfuse/internal/filehandle"
	"github.com/layerfuse/layerfuse/internal/fserrors"
	"github.com/layerfuse/layerfuse/internal/ids"
	"github.com/layerfuse/layerfuse/internal/inode"
	"github.com/layerfuse/layerfuse/internal/mountfd"
	"github.com/layerfuse/layerfuse/internal/uidmap"
	"github.com/layerfuse/layerfuse/internal/vfs"
)

// Engine is a passthrough view rooted at a single host directory.
type Engine struct {
	store  *inode.Store
	gen    *ids.Generator
	fh     *filehandle.Encoder
	mounts *mountfd.Cache
	uidMap *uidmap.Mapper

	root ids.StableInode

	mu         sync.Mutex // GUARDS the fields below
	nextHandle uint64
	openFiles  map[uint64]int // handle -> fd
	openDirs   map[uint64]*dirHandle
}

type dirHandle struct {
	entries []vfs.DirEntry
	loaded  bool
	fd      int
}

// New opens rootDir and returns an Engine exporting it. gen and uidMap may
// be shared across several engines (the overlay shares uidMap across its
// layers but gives each layer its own gen); store, mounts and fh are this
// engine's own.
func New(rootDir string, gen *ids.Generator, uidMap *uidmap.Mapper) (*Engine, error) {
	fd, err := unix.Open(rootDir, unix.O_DIRECTORY|unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open root %s: %w", rootDir, fserrors.FromOSError(err))
	}

	e := &Engine{
		store:     inode.NewStore(),
		gen:       gen,
		fh:        filehandle.NewEncoder(),
		uidMap:    uidMap,
		openFiles: make(map[uint64]int),
		openDirs:  make(map[uint64]*dirHandle),
	}
	e.mounts = mountfd.New(e.reopenMount, func(fd int) error { return unix.Close(fd) })

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("fstat root %s: %w", rootDir, fserrors.FromOSError(err))
	}

	identity := ids.HostIdentity{Dev: uint64(st.Dev), Ino: uint64(st.Ino)}
	stable, err := e.gen.StableFor(identity)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}

	rec := e.store.InsertOrBump(identity, stable, fd, st.Mode, filehandle.Handle{}, false, nil)
	e.root = rec.Stable()

	return e, nil
}

// reopenMount is the mountfd.Cache's ReopenFunc: it just needs any live fd
// referencing the mount in question, so it dups the seed fd handed to it
// (typically the root record's own fd) rather than re-deriving one from a
// path the engine may not have kept around.
func (e *Engine) reopenMount(seedFD int, flags int, mountID uint64) (int, error) {
	fd, err := unix.Dup(seedFD)
	if err != nil {
		return -1, fserrors.FromOSError(err)
	}
	return fd, nil
}

// Root implements vfs.Engine.
func (e *Engine) Root() ids.StableInode { return e.root }

// Forget implements vfs.Engine.
func (e *Engine) Forget(stable ids.StableInode, n uint64) {
	e.store.Forget(stable, n)
}

// Destroy implements vfs.Engine.
func (e *Engine) Destroy() {
	e.store.ForgetAll()
}

func (e *Engine) record(stable ids.StableInode) (*inode.Record, error) {
	r, ok := e.store.Get(stable)
	if !ok {
		return nil, fserrors.BadDescriptor
	}
	return r, nil
}

// lookupChild resolves name within parent and inserts/bumps the resulting
// record, per spec §4.2's insert_or_bump contract.
func (e *Engine) lookupChild(parent *inode.Record, name string) (*inode.Record, unix.Stat_t, error) {
	var st unix.Stat_t

	fd, err := unix.Openat(parent.FD(), name, unix.O_PATH|unix.O_NOFOLLOW|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, st, fmt.Errorf("openat %s: %w", name, fserrors.FromOSError(err))
	}

	if err := unix.Fstat(fd, &st); err != nil {
		unix.Close(fd)
		return nil, st, fmt.Errorf("fstat %s: %w", name, fserrors.FromOSError(err))
	}

	h, herr := e.fh.Encode(parent.FD(), name)
	hasHandle := herr == nil

	var mountID uint64
	if hasHandle {
		mountID = h.MountID()
	}

	identity := ids.HostIdentity{Dev: uint64(st.Dev), Mnt: mountID, Ino: uint64(st.Ino)}
	stable, err := e.gen.StableFor(identity)
	if err != nil {
		unix.Close(fd)
		return nil, st, err
	}

	rec := e.store.InsertOrBump(identity, stable, fd, st.Mode, h, hasHandle, func(extra int) error {
		return unix.Close(extra)
	})
	return rec, st, nil
}

func (e *Engine) attrFromStat(stable ids.StableInode, st unix.Stat_t) vfs.Attr {
	return vfs.Attr{
		Stable: stable,
		Size:   uint64(st.Size),
		Mode:   st.Mode,
		Nlink:  uint32(st.Nlink),
		Uid:    e.uidMap.ToVisible(st.Uid),
		Gid:    e.uidMap.ToVisible(st.Gid),
		Rdev:   uint32(st.Rdev),
		Atime:  time.Unix(st.Atim.Sec, st.Atim.Nsec),
		Mtime:  time.Unix(st.Mtim.Sec, st.Mtim.Nsec),
		Ctime:  time.Unix(st.Ctim.Sec, st.Ctim.Nsec),
	}
}

func (e *Engine) statRecord(rec *inode.Record) (unix.Stat_t, error) {
	var st unix.Stat_t
	if err := unix.Fstat(rec.FD(), &st); err != nil {
		return st, fserrors.FromOSError(err)
	}
	return st, nil
}

// Lookup implements vfs.Engine. name "." and ".." are tolerated here only,
// per spec §4.5.
func (e *Engine) Lookup(ctx context.Context, parent ids.StableInode, name string) (vfs.Attr, error) {
	if err := vfs.ValidateName(name, true); err != nil {
		return vfs.Attr{}, err
	}

	parentRec, err := e.record(parent)
	if err != nil {
		return vfs.Attr{}, err
	}

	rec, st, err := e.lookupChild(parentRec, name)
	if err != nil {
		return vfs.Attr{}, err
	}

	return e.attrFromStat(rec.Stable(), st), nil
}

// GetAttr implements vfs.Engine.
func (e *Engine) GetAttr(ctx context.Context, stable ids.StableInode) (vfs.Attr, error) {
	rec, err := e.record(stable)
	if err != nil {
		return vfs.Attr{}, err
	}

	st, err := e.statRecord(rec)
	if err != nil {
		return vfs.Attr{}, err
	}

	return e.attrFromStat(stable, st), nil
}

// SetAttr implements vfs.Engine.
func (e *Engine) SetAttr(ctx context.Context, stable ids.StableInode, req vfs.SetAttrRequest) (vfs.Attr, error) {
	rec, err := e.record(stable)
	if err != nil {
		return vfs.Attr{}, err
	}
	fd := rec.FD()

	if req.Size != nil {
		// The record's fd may be O_PATH (cheap-stat only); ftruncate needs a
		// real fd. Reopen it (kernel file handle first, procfs otherwise)
		// rather than walking a path back in.
		rw, err := e.reopenForWrite(rec)
		if err != nil {
			return vfs.Attr{}, err
		}
		defer unix.Close(rw)
		if err := unix.Ftruncate(rw, int64(*req.Size)); err != nil {
			return vfs.Attr{}, fmt.Errorf("ftruncate: %w", fserrors.FromOSError(err))
		}
	}

	if req.Mode != nil {
		if err := unix.Fchmod(fd, *req.Mode&0o7777); err != nil {
			return vfs.Attr{}, fmt.Errorf("fchmod: %w", fserrors.FromOSError(err))
		}
	}

	if req.Uid != nil || req.Gid != nil {
		uid, gid := -1, -1
		if req.Uid != nil {
			uid = int(e.uidMap.ToHost(*req.Uid))
		}
		if req.Gid != nil {
			gid = int(e.uidMap.ToHost(*req.Gid))
		}
		if err := unix.Fchown(fd, uid, gid); err != nil {
			return vfs.Attr{}, fmt.Errorf("fchown: %w", fserrors.FromOSError(err))
		}
	}

	if req.Atime != nil || req.Mtime != nil {
		ts := [2]unix.Timespec{{Sec: 0, Nsec: unix.UTIME_OMIT}, {Sec: 0, Nsec: unix.UTIME_OMIT}}
		if req.Atime != nil {
			ts[0] = unix.NsecToTimespec(req.Atime.UnixNano())
		}
		if req.Mtime != nil {
			ts[1] = unix.NsecToTimespec(req.Mtime.UnixNano())
		}
		path := fmt.Sprintf("/proc/self/fd/%d", fd)
		if err := unix.UtimesNanoAt(unix.AT_FDCWD, path, ts[:], 0); err != nil {
			return vfs.Attr{}, fmt.Errorf("utimensat: %w", fserrors.FromOSError(err))
		}
	}

	st, err := e.statRecord(rec)
	if err != nil {
		return vfs.Attr{}, err
	}
	return e.attrFromStat(stable, st), nil
}

// reopenForWrite produces a read-write fd for rec. It is a convenience
// wrapper around reopenRecordWithFlags for setattr's ftruncate use.
func (e *Engine) reopenForWrite(rec *inode.Record) (int, error) {
	return e.reopenRecordWithFlags(rec, unix.O_RDWR)
}

// reopenRecordWithFlags produces an fd for rec opened with flags, preferring
// the kernel file-handle path (so a remount or rename of the object
// elsewhere doesn't break it) and falling back to a procfs reopen of the
// record's own fd when no kernel handle is available.
func (e *Engine) reopenRecordWithFlags(rec *inode.Record, flags int) (int, error) {
	flags |= unix.O_CLOEXEC

	if h, ok := rec.Handle(); ok && !h.IsDupFallback() {
		lease, err := e.mounts.Acquire(h.MountID(), rec.FD(), 0)
		if err == nil {
			defer lease.Release()
			fd, err := e.fh.Reopen(h, lease, flags)
			if err == nil {
				return fd, nil
			}
		}
	}

	path := fmt.Sprintf("/proc/self/fd/%d", rec.FD())
	fd, err := unix.Open(path, flags, 0)
	if err != nil {
		return -1, fmt.Errorf("reopen via procfs: %w", fserrors.FromOSError(err))
	}
	return fd, nil
}

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

	"golang.org/x/sys/unix"

	"github.com/layerfuse/layerfuse/internal/fserrors"
	"github.com/layerfuse/layerfuse/internal/ids"
	"github.com/layerfuse/layerfuse/internal/vfs"
)

func (e *Engine) allocHandle(fd int) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextHandle++
	h := e.nextHandle
	e.openFiles[h] = fd
	return h
}

func (e *Engine) fileForHandle(fh uint64) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fd, ok := e.openFiles[fh]
	if !ok {
		return -1, fserrors.BadDescriptor
	}
	return fd, nil
}

// Open implements vfs.Engine: reopen the record with the flags the client
// requested. New fd shares the lifetime of the returned handle id (spec
// §4.5); it is independent of the record's own cheap-stat fd.
func (e *Engine) Open(ctx context.Context, stable ids.StableInode, flags uint32) (uint64, error) {
	rec, err := e.record(stable)
	if err != nil {
		return 0, err
	}

	fd, err := e.reopenRecordWithFlags(rec, int(flags))
	if err != nil {
		return 0, err
	}
	return e.allocHandle(fd), nil
}

// Create implements vfs.Engine: mknod (O_CREAT semantics) a regular file
// plus an Open in one step, the combination jacobsa/fuse's CreateFileOp
// expects.
func (e *Engine) Create(ctx context.Context, parent ids.StableInode, name string, mode uint32, flags uint32) (vfs.Attr, uint64, error) {
	if err := vfs.ValidateName(name, false); err != nil {
		return vfs.Attr{}, 0, err
	}

	parentRec, err := e.record(parent)
	if err != nil {
		return vfs.Attr{}, 0, err
	}

	fd, err := unix.Openat(parentRec.FD(), name, int(flags)|unix.O_CREAT|unix.O_EXCL|unix.O_CLOEXEC, mode&0o7777)
	if err != nil {
		return vfs.Attr{}, 0, fmt.Errorf("create %s: %w", name, fserrors.FromOSError(err))
	}

	rec, st, err := e.lookupChild(parentRec, name)
	if err != nil {
		unix.Close(fd)
		return vfs.Attr{}, 0, err
	}

	return e.attrFromStat(rec.Stable(), st), e.allocHandle(fd), nil
}

// Release implements vfs.Engine.
func (e *Engine) Release(ctx context.Context, stable ids.StableInode, fh uint64) error {
	e.mu.Lock()
	fd, ok := e.openFiles[fh]
	if ok {
		delete(e.openFiles, fh)
	}
	e.mu.Unlock()

	if !ok {
		return fserrors.BadDescriptor
	}
	if err := unix.Close(fd); err != nil {
		return fmt.Errorf("close: %w", fserrors.FromOSError(err))
	}
	return nil
}

// Read implements vfs.Engine: positional I/O via pread, so concurrent reads
// on the same handle don't race over a shared offset.
func (e *Engine) Read(ctx context.Context, stable ids.StableInode, fh uint64, offset int64, buf []byte) (int, error) {
	fd, err := e.fileForHandle(fh)
	if err != nil {
		return 0, err
	}

	n, err := unix.Pread(fd, buf, offset)
	if err != nil {
		return 0, fmt.Errorf("pread: %w", fserrors.FromOSError(err))
	}
	return n, nil
}

// Write implements vfs.Engine.
func (e *Engine) Write(ctx context.Context, stable ids.StableInode, fh uint64, offset int64, data []byte) (int, error) {
	fd, err := e.fileForHandle(fh)
	if err != nil {
		return 0, err
	}

	n, err := unix.Pwrite(fd, data, offset)
	if err != nil {
		return 0, fmt.Errorf("pwrite: %w", fserrors.FromOSError(err))
	}
	return n, nil
}

// Flush implements vfs.Engine: FUSE flush has no host equivalent for a
// plain fd; the passthrough engine treats it as a no-op, matching the
// common passthrough-fs convention (there is nothing buffered above the
// host page cache to flush).
func (e *Engine) Flush(ctx context.Context, stable ids.StableInode, fh uint64) error {
	if _, err := e.fileForHandle(fh); err != nil {
		return err
	}
	return nil
}

// Fsync implements vfs.Engine.
func (e *Engine) Fsync(ctx context.Context, stable ids.StableInode, fh uint64, dataOnly bool) error {
	fd, err := e.fileForHandle(fh)
	if err != nil {
		return err
	}

	if dataOnly {
		err = unix.Fdatasync(fd)
	} else {
		err = unix.Fsync(fd)
	}
	if err != nil {
		return fmt.Errorf("fsync: %w", fserrors.FromOSError(err))
	}
	return nil
}

// Fallocate implements vfs.Engine, falling back to ftruncate-based
// preallocation where the host doesn't support fallocate(2) (spec §4.5).
func (e *Engine) Fallocate(ctx context.Context, stable ids.StableInode, fh uint64, mode uint32, offset, length int64) error {
	fd, err := e.fileForHandle(fh)
	if err != nil {
		return err
	}

	if err := unix.Fallocate(fd, mode, offset, length); err != nil {
		if err == unix.ENOSYS || err == unix.EOPNOTSUPP {
			var st unix.Stat_t
			if serr := unix.Fstat(fd, &st); serr == nil && st.Size < offset+length {
				if terr := unix.Ftruncate(fd, offset+length); terr != nil {
					return fmt.Errorf("fallocate fallback ftruncate: %w", fserrors.FromOSError(terr))
				}
			}
			return nil
		}
		return fmt.Errorf("fallocate: %w", fserrors.FromOSError(err))
	}
	return nil
}

// CopyFileRange implements vfs.Engine via copy_file_range(2), falling back
// to a read/write loop when unsupported (e.g. across filesystems).
func (e *Engine) CopyFileRange(ctx context.Context, srcStable ids.StableInode, srcFh uint64, srcOffset int64, dstStable ids.StableInode, dstFh uint64, dstOffset int64, length int) (int, error) {
	srcFD, err := e.fileForHandle(srcFh)
	if err != nil {
		return 0, err
	}
	dstFD, err := e.fileForHandle(dstFh)
	if err != nil {
		return 0, err
	}

	so, do := srcOffset, dstOffset
	n, err := unix.CopyFileRange(srcFD, &so, dstFD, &do, length, 0)
	if err == nil {
		return n, nil
	}
	if err != unix.ENOSYS && err != unix.EXDEV && err != unix.EOPNOTSUPP {
		return 0, fmt.Errorf("copy_file_range: %w", fserrors.FromOSError(err))
	}

	buf := make([]byte, 64*1024)
	total := 0
	for total < length {
		want := len(buf)
		if length-total < want {
			want = length - total
		}
		rn, rerr := unix.Pread(srcFD, buf[:want], srcOffset+int64(total))
		if rerr != nil {
			return total, fmt.Errorf("copy_file_range fallback read: %w", fserrors.FromOSError(rerr))
		}
		if rn == 0 {
			break
		}
		wn, werr := unix.Pwrite(dstFD, buf[:rn], dstOffset+int64(total))
		if werr != nil {
			return total, fmt.Errorf("copy_file_range fallback write: %w", fserrors.FromOSError(werr))
		}
		total += wn
	}
	return total, nil
}

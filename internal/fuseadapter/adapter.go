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

// Package fuseadapter is the spec's "Adapter": it dispatches jacobsa/fuse
// ops to whichever vfs.Engine backs the mount (passthrough, or overlay
// composed of several passthrough layers), translating between fuseops'
// wire-shaped types and the engine's stable-inode/handle vocabulary. It
// plays the role fs.fileSystem plays in the teacher's fs/fs.go, but against
// one of two interchangeable personalities instead of always a GCS bucket.
//
// The protocol session itself (reading/writing the kernel's FUSE wire
// format) is an external collaborator per spec §1; this package only
// implements the fuseutil.FileSystem method set that jacobsa/fuse's
// fuseutil.NewFileSystemServer dispatches to. vfs.Engine's wider operation
// surface (rename, link, mknod, xattr, fallocate, copy_file_range, statfs)
// is implemented by both engines but not reachable through this adapter;
// NotImplementedFileSystem covers those ops so an unsupported op degrades
// to ENOSYS instead of a panic.
package fuseadapter

import (
	"context"
	"flag"
	"io"
	"log"
	"os"

	"github.com/google/uuid"
	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
	"golang.org/x/sys/unix"

	"github.com/layerfuse/layerfuse/internal/fserrors"
	"github.com/layerfuse/layerfuse/internal/ids"
	"github.com/layerfuse/layerfuse/internal/vfs"
)

var fEnableDebug = flag.Bool(
	"fuseadapter.debug",
	false,
	"Write fuseadapter dispatch debugging messages to stderr.")

func getLogger() *log.Logger {
	var writer io.Writer = io.Discard
	if *fEnableDebug {
		writer = os.Stderr
	}
	return log.New(writer, "fuseadapter: ", log.LstdFlags)
}

// Adapter implements fuseutil.FileSystem over a vfs.Engine. A single
// Adapter serves one mount, whether that mount's engine is a bare
// passthrough.Engine or an overlay.Engine stacking several of them.
type Adapter struct {
	fuseutil.NotImplementedFileSystem

	engine    vfs.Engine
	sessionID uuid.UUID
	log       *log.Logger
}

// New wraps engine in a fuseutil.FileSystem suitable for fuse.Mount.
func New(engine vfs.Engine) *Adapter {
	return &Adapter{
		engine:    engine,
		sessionID: uuid.New(),
		log:       getLogger(),
	}
}

// Server returns the fuse.Server to hand to fuse.Mount.
func (a *Adapter) Server() fuse.Server {
	return fuseutil.NewFileSystemServer(a)
}

// translate maps an engine error onto a raw syscall.Errno the FUSE wire
// format understands, per spec §7: host/engine errors are translated at
// this boundary, never leaked as opaque wrapped errors.
func translate(err error) error {
	if err == nil {
		return nil
	}
	return fserrors.FromOSError(err).Sysno()
}

// validateName rejects the names spec §4.5 says a well-behaved client must
// never send: empty, ".", "..", or anything containing a "/". Lookup is
// exempt (it tolerates "." and ".." for NFS-export semantics) and calls
// straight into the engine instead of through this helper.
func validateName(name string) error {
	if name == "" || name == "." || name == ".." {
		return fserrors.Invalid
	}
	for i := 0; i < len(name); i++ {
		if name[i] == '/' {
			return fserrors.Invalid
		}
	}
	return nil
}

func toAttributes(a vfs.Attr) fuseops.InodeAttributes {
	return fuseops.InodeAttributes{
		Size:  a.Size,
		Nlink: uint64(a.Nlink),
		Mode:  os.FileMode(a.Mode),
		Uid:   a.Uid,
		Gid:   a.Gid,
		Atime: a.Atime,
		Mtime: a.Mtime,
		Ctime: a.Ctime,
	}
}

func toEntry(a vfs.Attr) fuseops.ChildInodeEntry {
	return fuseops.ChildInodeEntry{
		Child:      fuseops.InodeID(a.Stable),
		Attributes: toAttributes(a),
	}
}

func direntType(modeIFMT uint32) fuseutil.DirentType {
	switch modeIFMT & unix.S_IFMT {
	case unix.S_IFDIR:
		return fuseutil.DT_Directory
	case unix.S_IFLNK:
		return fuseutil.DT_Link
	default:
		return fuseutil.DT_File
	}
}

////////////////////////////////////////////////////////////////////////
// fuseutil.FileSystem methods
////////////////////////////////////////////////////////////////////////

func (a *Adapter) Init(op *fuseops.InitOp) error {
	a.log.Printf("init session=%s", a.sessionID)
	return nil
}

func (a *Adapter) LookUpInode(op *fuseops.LookUpInodeOp) error {
	attr, err := a.engine.Lookup(op.Context(), ids.StableInode(op.Parent), op.Name)
	if err != nil {
		return translate(err)
	}
	op.Entry = toEntry(attr)
	return nil
}

func (a *Adapter) GetInodeAttributes(op *fuseops.GetInodeAttributesOp) error {
	attr, err := a.engine.GetAttr(op.Context(), ids.StableInode(op.Inode))
	if err != nil {
		return translate(err)
	}
	op.Attributes = toAttributes(attr)
	return nil
}

func (a *Adapter) SetInodeAttributes(op *fuseops.SetInodeAttributesOp) error {
	req := vfs.SetAttrRequest{
		Size:  op.Size,
		Atime: op.Atime,
		Mtime: op.Mtime,
	}
	if op.Mode != nil {
		m := uint32(*op.Mode)
		req.Mode = &m
	}

	attr, err := a.engine.SetAttr(op.Context(), ids.StableInode(op.Inode), req)
	if err != nil {
		return translate(err)
	}
	op.Attributes = toAttributes(attr)
	return nil
}

func (a *Adapter) ForgetInode(op *fuseops.ForgetInodeOp) error {
	a.engine.Forget(ids.StableInode(op.ID), 1)
	return nil
}

func (a *Adapter) MkDir(op *fuseops.MkDirOp) error {
	if err := validateName(op.Name); err != nil {
		return translate(err)
	}
	attr, err := a.engine.Mkdir(op.Context(), ids.StableInode(op.Parent), op.Name, uint32(op.Mode))
	if err != nil {
		return translate(err)
	}
	op.Entry = toEntry(attr)
	return nil
}

func (a *Adapter) CreateFile(op *fuseops.CreateFileOp) error {
	if err := validateName(op.Name); err != nil {
		return translate(err)
	}
	attr, fh, err := a.engine.Create(op.Context(), ids.StableInode(op.Parent), op.Name, uint32(op.Mode), uint32(op.Flags))
	if err != nil {
		return translate(err)
	}
	op.Entry = toEntry(attr)
	op.Handle = fuseops.HandleID(fh)
	return nil
}

func (a *Adapter) CreateSymlink(op *fuseops.CreateSymlinkOp) error {
	if err := validateName(op.Name); err != nil {
		return translate(err)
	}
	attr, err := a.engine.Symlink(op.Context(), ids.StableInode(op.Parent), op.Name, op.Target)
	if err != nil {
		return translate(err)
	}
	op.Entry = toEntry(attr)
	return nil
}

func (a *Adapter) RmDir(op *fuseops.RmDirOp) error {
	if err := validateName(op.Name); err != nil {
		return translate(err)
	}
	return translate(a.engine.Rmdir(op.Context(), ids.StableInode(op.Parent), op.Name))
}

func (a *Adapter) Unlink(op *fuseops.UnlinkOp) error {
	if err := validateName(op.Name); err != nil {
		return translate(err)
	}
	return translate(a.engine.Unlink(op.Context(), ids.StableInode(op.Parent), op.Name))
}

func (a *Adapter) OpenDir(op *fuseops.OpenDirOp) error {
	fh, err := a.engine.OpenDir(op.Context(), ids.StableInode(op.Inode))
	if err != nil {
		return translate(err)
	}
	op.Handle = fuseops.HandleID(fh)
	return nil
}

func (a *Adapter) ReadDir(op *fuseops.ReadDirOp) error {
	entries, err := a.engine.ReadDir(op.Context(), ids.StableInode(op.Inode), uint64(op.Handle), int64(op.Offset))
	if err != nil {
		return translate(err)
	}

	for _, e := range entries {
		d := fuseutil.Dirent{
			Offset: fuseops.DirOffset(e.Offset),
			Inode:  fuseops.InodeID(e.Stable),
			Name:   e.Name,
			Type:   direntType(e.Type),
		}
		op.Data = fuseutil.AppendDirent(op.Data, d)
		if len(op.Data) > op.Size {
			op.Data = op.Data[:op.Size]
			break
		}
	}
	return nil
}

func (a *Adapter) ReleaseDirHandle(op *fuseops.ReleaseDirHandleOp) error {
	return translate(a.engine.ReleaseDir(context.Background(), 0, uint64(op.Handle)))
}

func (a *Adapter) OpenFile(op *fuseops.OpenFileOp) error {
	fh, err := a.engine.Open(op.Context(), ids.StableInode(op.Inode), uint32(op.Flags))
	if err != nil {
		return translate(err)
	}
	op.Handle = fuseops.HandleID(fh)
	return nil
}

func (a *Adapter) ReadFile(op *fuseops.ReadFileOp) error {
	buf := make([]byte, op.Size)
	n, err := a.engine.Read(op.Context(), ids.StableInode(op.Inode), uint64(op.Handle), op.Offset, buf)
	if err != nil {
		return translate(err)
	}
	op.Data = buf[:n]
	return nil
}

func (a *Adapter) ReadSymlink(op *fuseops.ReadSymlinkOp) error {
	target, err := a.engine.Readlink(op.Context(), ids.StableInode(op.Inode))
	if err != nil {
		return translate(err)
	}
	op.Target = target
	return nil
}

func (a *Adapter) WriteFile(op *fuseops.WriteFileOp) error {
	_, err := a.engine.Write(op.Context(), ids.StableInode(op.Inode), uint64(op.Handle), op.Offset, op.Data)
	return translate(err)
}

func (a *Adapter) SyncFile(op *fuseops.SyncFileOp) error {
	return translate(a.engine.Fsync(op.Context(), ids.StableInode(op.Inode), uint64(op.Handle), false))
}

func (a *Adapter) FlushFile(op *fuseops.FlushFileOp) error {
	return translate(a.engine.Flush(op.Context(), ids.StableInode(op.Inode), uint64(op.Handle)))
}

func (a *Adapter) ReleaseFileHandle(op *fuseops.ReleaseFileHandleOp) error {
	return translate(a.engine.Release(context.Background(), 0, uint64(op.Handle)))
}

// Destroy forgets every record and closes every fd, per spec §5's clean
// shutdown: stop accepting new requests, drain in-flight, then forget_all.
// jacobsa/fuse calls this once, after the connection has stopped handing
// out new ops.
func (a *Adapter) Destroy() {
	a.log.Printf("destroy session=%s", a.sessionID)
	a.engine.Destroy()
}

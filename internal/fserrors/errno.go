// Copyright 2019 Compl Yue
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

// Package fserrors defines the error kinds surfaced as FUSE error codes by
// the passthrough and overlay engines (see spec §7, ERROR HANDLING DESIGN).
package fserrors

import (
	"errors"
	"syscall"
)

// Errno is a portable filesystem error. Its underlying representation is a
// syscall.Errno so it can be handed straight to the FUSE protocol session.
type Errno syscall.Errno

const (
	// NotFound corresponds to ENOENT: name resolution failure, including
	// overlay whiteouts.
	NotFound = Errno(syscall.ENOENT)

	// Invalid corresponds to EINVAL: malformed name, bad handle, bad flags.
	Invalid = Errno(syscall.EINVAL)

	// Permission corresponds to EPERM/EACCES: mapping denies or host rejects.
	Permission = Errno(syscall.EACCES)

	// BadDescriptor corresponds to EBADF: stale inode or file handle.
	BadDescriptor = Errno(syscall.EBADF)

	// NotSupported corresponds to ENOSYS/EOPNOTSUPP: feature absent on host.
	NotSupported = Errno(syscall.ENOSYS)

	// Exhausted corresponds to ENOSPC: stable-inode tag/virtual-counter
	// overflow, or copy-up running out of space.
	Exhausted = Errno(syscall.ENOSPC)

	// Busy corresponds to EBUSY: unmount to be retried with detach.
	Busy = Errno(syscall.EBUSY)

	// Io corresponds to EIO: unexpected host failure.
	Io = Errno(syscall.EIO)

	// Exist corresponds to EEXIST, used internally by create-style ops.
	Exist = Errno(syscall.EEXIST)

	// NotEmpty corresponds to ENOTEMPTY, used by rmdir.
	NotEmpty = Errno(syscall.ENOTEMPTY)

	// NotDir corresponds to ENOTDIR.
	NotDir = Errno(syscall.ENOTDIR)

	// NoAttr corresponds to the xattr-absent case. ENODATA works across
	// Linux/macOS/Solaris; none of those diverge in a way that matters here
	// since BSD hosts aren't supported targets for this engine.
	NoAttr = Errno(syscall.ENODATA)
)

// Error implements the builtin error interface.
func (e Errno) Error() string {
	return syscall.Errno(e).Error()
}

// Repr returns the symbolic constant name, useful in log lines and tests
// where the raw errno number is less legible.
func (e Errno) Repr() string {
	switch e {
	case NotFound:
		return "NotFound"
	case Invalid:
		return "Invalid"
	case Permission:
		return "Permission"
	case BadDescriptor:
		return "BadDescriptor"
	case NotSupported:
		return "NotSupported"
	case Exhausted:
		return "Exhausted"
	case Busy:
		return "Busy"
	case Io:
		return "Io"
	case Exist:
		return "Exist"
	case NotEmpty:
		return "NotEmpty"
	case NotDir:
		return "NotDir"
	case NoAttr:
		return "NoAttr"
	default:
		return syscall.Errno(e).Error()
	}
}

// Sysno returns the underlying syscall.Errno, for handing to APIs (such as
// jacobsa/fuse) that want a raw errno.
func (e Errno) Sysno() syscall.Errno {
	return syscall.Errno(e)
}

// FromOSError translates a host error (typically returned by a syscall or by
// the os package) into an Errno. Errors that don't wrap a syscall.Errno are
// reported as Io, since they represent an unexpected host failure.
func FromOSError(err error) Errno {
	if err == nil {
		return 0
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		return Errno(errno)
	}

	return Io
}

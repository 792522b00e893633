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

package bindmount

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

const devptsOptions = "newinstance,ptmxmode=0666,mode=0620"

// mountDevpts installs a fresh devpts instance at target and, if nothing
// is there already, a pts/ptmx -> ../ptmx symlink pointing at the
// multiplexer device one level up (spec §4.7). Ownership of the symlink
// is tracked on the returned entry so unmount only removes the one this
// manager actually created, matching the original implementation's
// behavior of never touching a ptmx symlink it didn't make itself.
func (m *Manager) mountDevpts(target string) (*mounted, error) {
	if err := os.MkdirAll(target, 0o755); err != nil {
		return nil, errors.Wrap(err, "bindmount: creating devpts target")
	}

	if err := unix.Mount("devpts", target, "devpts", 0, devptsOptions); err != nil {
		return nil, errors.Wrap(err, "bindmount: devpts mount")
	}

	entry := &mounted{target: target, isDevpts: true}

	ptmxLink := filepath.Join(target, "ptmx")
	if _, err := os.Lstat(ptmxLink); os.IsNotExist(err) {
		if err := os.Symlink("../ptmx", ptmxLink); err != nil {
			unix.Unmount(target, 0)
			return nil, errors.Wrap(err, "bindmount: devpts ptmx symlink")
		}
		entry.symlinkCreated = true
	}

	return entry, nil
}

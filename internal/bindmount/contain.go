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
	"strings"

	"github.com/pkg/errors"
)

// canonicalizeUnderBase resolves target (interpreted relative to baseDir)
// to an absolute path and rejects it if, after resolving symlinks along
// whatever prefix of the path already exists on the host, it would land
// outside baseDir. baseDir itself must already be an absolute, symlink-free
// path (callers get this from New, which canonicalises it once up front).
//
// The target need not exist yet (mount_all creates it), so only the
// longest existing prefix can be resolved through EvalSymlinks; the
// remaining, not-yet-created suffix is appended back on literally. This
// catches both ways a target can escape: a literal ".." in the specifier,
// and a symlink planted at some existing ancestor of target that points
// outside baseDir. Deliberately does not pre-clean target against a fake
// root first (the common `path.Clean("/"+p)` trick), since that would
// silently neutralise ".." instead of rejecting it.
func canonicalizeUnderBase(baseDir, target string) (string, error) {
	full := filepath.Join(baseDir, target)

	resolved, err := resolveExistingPrefix(full)
	if err != nil {
		return "", errors.Wrapf(err, "bindmount: resolving %q", target)
	}

	if resolved != baseDir && !strings.HasPrefix(resolved, baseDir+string(filepath.Separator)) {
		return "", errors.Errorf("bindmount: target %q escapes base directory %q", target, baseDir)
	}
	return resolved, nil
}

// resolveExistingPrefix walks up from path until it finds a component that
// exists, resolves symlinks there, then rejoins the not-yet-existing
// suffix unchanged.
func resolveExistingPrefix(path string) (string, error) {
	var suffix []string
	cur := path
	for {
		real, err := filepath.EvalSymlinks(cur)
		if err == nil {
			return filepath.Join(append([]string{real}, suffix...)...), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			// Reached the filesystem root without finding anything real;
			// nothing to resolve, report the path as-is.
			return filepath.Join(append([]string{cur}, suffix...)...), nil
		}
		suffix = append([]string{filepath.Base(cur)}, suffix...)
		cur = parent
	}
}

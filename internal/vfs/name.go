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

package vfs

import (
	"strings"

	"github.com/layerfuse/layerfuse/internal/fserrors"
)

// ValidateName rejects the empty name, names containing a path separator,
// and (unless allowDotNames is set, for Lookup's NFS-export tolerance of
// "." and "..") the dot and dot-dot names, per spec §4.5.
func ValidateName(name string, allowDotNames bool) error {
	if name == "" {
		return fserrors.Invalid
	}
	if strings.ContainsRune(name, '/') {
		return fserrors.Invalid
	}
	if !allowDotNames && (name == "." || name == "..") {
		return fserrors.Invalid
	}
	return nil
}

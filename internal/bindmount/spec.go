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

// Package bindmount implements the bind-mount manager of spec §4.7: it
// grafts host subtrees into the exported tree, with idempotent mount and
// unmount and containment against path traversal.
package bindmount

import (
	"strings"

	"github.com/pkg/errors"
)

// Spec is one parsed `target[:host_path[:ro]]` specifier.
type Spec struct {
	// Target is relative to the manager's base directory.
	Target string
	// HostPath is the source side of the bind. If the specifier omits it,
	// ParseSpec mirrors Target itself under the host root (the same
	// convention used to graft /dev, /proc and similar host subtrees
	// straight through without renaming them).
	HostPath string
	ReadOnly bool
}

// ParseSpec parses one `target[:host_path[:ro]]` specifier.
func ParseSpec(raw string) (Spec, error) {
	if raw == "" {
		return Spec{}, errors.New("bindmount: empty specifier")
	}

	parts := strings.SplitN(raw, ":", 3)
	s := Spec{Target: parts[0]}
	if s.Target == "" {
		return Spec{}, errors.Errorf("bindmount: %q has an empty target", raw)
	}

	switch len(parts) {
	case 1:
		// host_path omitted: mirror the target path under the host root.
		s.HostPath = "/" + strings.TrimPrefix(s.Target, "/")
	case 2:
		s.HostPath = parts[1]
	case 3:
		s.HostPath = parts[1]
		if parts[2] != "ro" {
			return Spec{}, errors.Errorf("bindmount: %q has unrecognised trailing option %q (only \"ro\" is valid)", raw, parts[2])
		}
		s.ReadOnly = true
	}
	if s.HostPath == "" {
		return Spec{}, errors.Errorf("bindmount: %q has an empty host path", raw)
	}
	return s, nil
}

// ParseSpecs parses a list of specifiers, stopping at the first error.
func ParseSpecs(raw []string) ([]Spec, error) {
	specs := make([]Spec, 0, len(raw))
	for _, r := range raw {
		s, err := ParseSpec(r)
		if err != nil {
			return nil, err
		}
		specs = append(specs, s)
	}
	return specs, nil
}

// isDevptsTarget reports whether a (already slash-trimmed) relative target
// names the devpts exception of spec §4.7: a target of "/dev/pts" or
// "dev/pts" triggers a fresh devpts mount instead of an ordinary bind.
func isDevptsTarget(relTarget string) bool {
	return relTarget == "dev/pts"
}

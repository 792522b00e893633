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

package cfg

// Rationalize updates config fields based on the values of other fields,
// in the style of the teacher's cfg/rationalize.go.
func Rationalize(c *Config) error {
	if c.FileSystem.FileMode == 0 {
		c.FileSystem.FileMode = DefaultFileMode
	}
	if c.FileSystem.DirMode == 0 {
		c.FileSystem.DirMode = DefaultDirMode
	}

	// Debug flags imply the invariant-violation exit the teacher's own
	// debug_invariants flag controls: a mutex log or a fuse trace is only
	// useful alongside a hard stop at the first broken invariant.
	if c.Debug.LogMutex || c.Debug.Fuse {
		c.Debug.ExitOnInvariantViolation = true
	}

	return nil
}

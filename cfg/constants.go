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

const (
	// DefaultFileMode and DefaultDirMode are the fallback permission bits
	// when no flag sets file-mode/dir-mode.
	DefaultFileMode Octal = 0644
	DefaultDirMode  Octal = 0755

	// UnmappedID is the sentinel "leave unmapped" value for uid/gid flags,
	// matching the teacher's -1 convention for file-system.uid.
	UnmappedID = -1
)

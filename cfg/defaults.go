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

// DefaultConfig returns the configuration used before any flag or config
// file has been applied, matching the teacher's GetDefaultLoggingConfig
// shape (a named constructor for the zero-flags starting point).
func DefaultConfig() Config {
	return Config{
		FileSystem: FileSystemConfig{
			FileMode:   DefaultFileMode,
			DirMode:    DefaultDirMode,
			Uid:        UnmappedID,
			Gid:        UnmappedID,
			Xattr:      true,
			AllowOther: false,
		},
	}
}

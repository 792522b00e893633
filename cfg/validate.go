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

import (
	"fmt"

	"github.com/layerfuse/layerfuse/internal/bindmount"
)

// ValidateConfig returns a non-nil error if the config is invalid, in the
// style of the teacher's cfg/validate.go.
func ValidateConfig(config *Config) error {
	if config.FileSystem.Mountpoint == "" {
		return fmt.Errorf("mountpoint is required")
	}

	haveRootDir := config.FileSystem.RootDir != ""
	haveUpperDir := config.IsOverlay()
	switch {
	case haveRootDir && haveUpperDir:
		return fmt.Errorf("root-dir (passthrough) and upperdir (overlay) are mutually exclusive")
	case !haveRootDir && !haveUpperDir:
		return fmt.Errorf("exactly one of root-dir or upperdir must be set")
	}

	if config.FileSystem.FileMode < 0 || config.FileSystem.FileMode > 0777 {
		return fmt.Errorf("file-mode must be between 0 and 0777 octal")
	}
	if config.FileSystem.DirMode < 0 || config.FileSystem.DirMode > 0777 {
		return fmt.Errorf("dir-mode must be between 0 and 0777 octal")
	}

	if config.FileSystem.Mapping != "" {
		if _, err := ParseMapping(config.FileSystem.Mapping); err != nil {
			return fmt.Errorf("error parsing mapping config: %w", err)
		}
	}

	if _, err := bindmount.ParseSpecs(config.BindMounts); err != nil {
		return fmt.Errorf("error parsing bind-mounts config: %w", err)
	}

	return nil
}

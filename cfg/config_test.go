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

package cfg_test

import (
	"testing"

	"github.com/spf13/pflag"

	"github.com/layerfuse/layerfuse/cfg"
)

func TestBindFlagsRegistersEveryRecognisedKey(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	if err := cfg.BindFlags(fs); err != nil {
		t.Fatalf("BindFlags: %v", err)
	}

	for _, name := range []string{
		"root-dir", "upperdir", "lowerdir", "mapping", "xattr",
		"do-import", "allow-other", "bind-mount", "privileged",
		"file-mode", "dir-mode", "uid", "gid",
	} {
		if fs.Lookup(name) == nil {
			t.Errorf("flag %q was not registered", name)
		}
	}
}

func TestDefaultConfigIsValidForPassthrough(t *testing.T) {
	c := cfg.DefaultConfig()
	c.FileSystem.RootDir = "/srv/export"
	c.FileSystem.Mountpoint = "/mnt/layerfuse"

	if err := cfg.ValidateConfig(&c); err != nil {
		t.Fatalf("ValidateConfig: %v", err)
	}
}

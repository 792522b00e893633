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

	"github.com/layerfuse/layerfuse/cfg"
)

func TestValidateConfigRejectsMissingMountpoint(t *testing.T) {
	c := cfg.DefaultConfig()
	c.FileSystem.RootDir = "/srv/export"
	// Mountpoint deliberately left empty.

	if err := cfg.ValidateConfig(&c); err == nil {
		t.Fatal("expected an error for a missing mountpoint")
	}
}

func TestValidateConfigRejectsBothModes(t *testing.T) {
	c := cfg.DefaultConfig()
	c.FileSystem.RootDir = "/srv/export"
	c.FileSystem.Mountpoint = "/mnt/layerfuse"
	c.Overlay.UpperDir = "/srv/upper"

	if err := cfg.ValidateConfig(&c); err == nil {
		t.Fatal("expected an error when both root-dir and upperdir are set")
	}
}

func TestValidateConfigRejectsNeitherMode(t *testing.T) {
	c := cfg.DefaultConfig()
	c.FileSystem.Mountpoint = "/mnt/layerfuse"

	if err := cfg.ValidateConfig(&c); err == nil {
		t.Fatal("expected an error when neither root-dir nor upperdir is set")
	}
}

func TestValidateConfigRejectsBadMapping(t *testing.T) {
	c := cfg.DefaultConfig()
	c.FileSystem.RootDir = "/srv/export"
	c.FileSystem.Mountpoint = "/mnt/layerfuse"
	c.FileSystem.Mapping = "not-a-mapping"

	if err := cfg.ValidateConfig(&c); err == nil {
		t.Fatal("expected an error for a malformed mapping expression")
	}
}

func TestValidateConfigRejectsBadBindMount(t *testing.T) {
	c := cfg.DefaultConfig()
	c.FileSystem.RootDir = "/srv/export"
	c.FileSystem.Mountpoint = "/mnt/layerfuse"
	c.BindMounts = []string{""}

	if err := cfg.ValidateConfig(&c); err == nil {
		t.Fatal("expected an error for an empty bind-mount specifier")
	}
}

func TestParseMappingParsesMultipleRanges(t *testing.T) {
	ranges, err := cfg.ParseMapping("1000:0:1,2000:1:500")
	if err != nil {
		t.Fatalf("ParseMapping: %v", err)
	}
	if len(ranges) != 2 {
		t.Fatalf("got %d ranges, want 2", len(ranges))
	}
	if ranges[1].HostStart != 2000 || ranges[1].Length != 500 {
		t.Errorf("unexpected second range: %+v", ranges[1])
	}
}

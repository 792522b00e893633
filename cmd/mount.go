// Copyright 2024 Google Inc. All Rights Reserved.
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

package cmd

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/jacobsa/fuse"

	"github.com/layerfuse/layerfuse/cfg"
	"github.com/layerfuse/layerfuse/internal/bindmount"
	"github.com/layerfuse/layerfuse/internal/fuseadapter"
	"github.com/layerfuse/layerfuse/internal/ids"
	"github.com/layerfuse/layerfuse/internal/overlay"
	"github.com/layerfuse/layerfuse/internal/passthrough"
	"github.com/layerfuse/layerfuse/internal/uidmap"
	"github.com/layerfuse/layerfuse/internal/vfs"
)

// mountFileSystem builds the engine described by newConfig (passthrough or
// overlay, depending on which of root-dir/upperdir was set), mounts any
// configured bind mounts into it, and hands it to the FUSE kernel driver.
// The returned *fuse.MountedFileSystem is joined by the caller to block
// until the kernel unmounts it.
func mountFileSystem(ctx context.Context, newConfig *cfg.Config) (mfs *fuse.MountedFileSystem, err error) {
	uidMap, err := buildUIDMap(newConfig)
	if err != nil {
		err = fmt.Errorf("building uid/gid mapper: %w", err)
		return
	}

	engine, err := buildEngine(newConfig, uidMap)
	if err != nil {
		err = fmt.Errorf("building file system engine: %w", err)
		return
	}

	if len(newConfig.BindMounts) > 0 {
		specs, parseErr := bindmount.ParseSpecs(newConfig.BindMounts)
		if parseErr != nil {
			err = fmt.Errorf("parsing bind mounts: %w", parseErr)
			return
		}

		baseDir := newConfig.FileSystem.RootDir
		if newConfig.IsOverlay() {
			baseDir = newConfig.Overlay.UpperDir
		}
		mgr, mgrErr := bindmount.New(baseDir)
		if mgrErr != nil {
			err = fmt.Errorf("bindmount.New: %w", mgrErr)
			return
		}
		if err = mgr.MountAll(ctx, specs); err != nil {
			err = fmt.Errorf("mounting bind mounts: %w", err)
			return
		}
	}

	adapter := fuseadapter.New(engine)

	mountCfg := getFuseMountConfig(newConfig)
	mfs, err = fuse.Mount(newConfig.FileSystem.Mountpoint, adapter.Server(), mountCfg)
	if err != nil {
		err = fmt.Errorf("fuse.Mount: %w", err)
		return
	}

	return
}

func buildUIDMap(newConfig *cfg.Config) (*uidmap.Mapper, error) {
	ranges, err := cfg.ParseMapping(newConfig.FileSystem.Mapping)
	if err != nil {
		return nil, err
	}
	return uidmap.New(ranges)
}

func buildEngine(newConfig *cfg.Config, uidMap *uidmap.Mapper) (vfs.Engine, error) {
	if newConfig.IsOverlay() {
		return overlay.New(newConfig.Overlay.UpperDir, newConfig.Overlay.LowerDirs, uidMap)
	}

	gen := ids.NewGenerator()
	return passthrough.New(newConfig.FileSystem.RootDir, gen, uidMap)
}

func getFuseMountConfig(newConfig *cfg.Config) *fuse.MountConfig {
	mountCfg := &fuse.MountConfig{
		FSName:     "layerfuse",
		Subtype:    "layerfuse",
		VolumeName: "layerfuse",
		Options:    map[string]string{},
	}

	if newConfig.FileSystem.AllowOther {
		mountCfg.Options["allow_other"] = ""
	}

	if newConfig.Debug.Fuse {
		mountCfg.ErrorLogger = log.New(os.Stderr, "fuse: ", log.LstdFlags)
		mountCfg.DebugLogger = log.New(os.Stderr, "fuse_debug: ", log.LstdFlags)
	}

	return mountCfg
}

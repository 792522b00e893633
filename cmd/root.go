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
	"os"
	"os/signal"
	"runtime/debug"

	"github.com/jacobsa/fuse"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/layerfuse/layerfuse/cfg"
)

var crashWriter = &CrashWriter{fileName: "layerfuse-crash.log"}

var (
	bindErr     error
	MountConfig cfg.Config
)

var rootCmd = &cobra.Command{
	Use:   "layerfuse [root-dir] mountpoint",
	Short: "Mount a passthrough or overlay view of a directory tree as a local file system",
	Long: `layerfuse is a FUSE file system that exposes a host directory tree
          (passthrough mode) or a writable overlay of an upper directory over
          one or more read-only lower directories (overlay mode) at a mount
          point. Overlay mode is selected with --upperdir/--lowerdir; in that
          case the single positional argument is the mount point.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if bindErr != nil {
			return bindErr
		}
		if err := viper.Unmarshal(&MountConfig, func(dc *mapstructure.DecoderConfig) { dc.TagName = "yaml" }); err != nil {
			return fmt.Errorf("unmarshalling config: %w", err)
		}
		if err := populateArgs(args); err != nil {
			return err
		}
		if err := cfg.Rationalize(&MountConfig); err != nil {
			return err
		}
		if err := cfg.ValidateConfig(&MountConfig); err != nil {
			return err
		}

		return runMountGuarded(cmd.Context())
	},
}

// runMountGuarded runs runMount and, if it panics, records the panic and
// stack trace via crashWriter before re-panicking so the process still
// terminates the way an unguarded panic would.
func runMountGuarded(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(crashWriter, "panic: %v\n%s", r, debug.Stack())
			panic(r)
		}
	}()
	return runMount(ctx)
}

// populateArgs folds the command's positional arguments into MountConfig:
// "root_dir mountpoint" for passthrough mode, or a bare "mountpoint" when
// --upperdir/--lowerdir already selected overlay mode.
func populateArgs(args []string) error {
	switch len(args) {
	case 1:
		MountConfig.FileSystem.Mountpoint = args[0]
	case 2:
		MountConfig.FileSystem.RootDir = args[0]
		MountConfig.FileSystem.Mountpoint = args[1]
	default:
		return fmt.Errorf("layerfuse takes one or two arguments; run with --help for more info")
	}
	return nil
}

func runMount(ctx context.Context) error {
	mfs, err := mountFileSystem(ctx, &MountConfig)
	if err != nil {
		return fmt.Errorf("mounting file system: %w", err)
	}

	registerSIGINTHandler(mfs.Dir())

	if err := mfs.Join(ctx); err != nil {
		return fmt.Errorf("MountedFileSystem.Join: %w", err)
	}
	return nil
}

// registerSIGINTHandler unmounts the file system when the process receives
// SIGINT, so a Ctrl-C during interactive use leaves no stale mount behind.
func registerSIGINTHandler(mountPoint string) {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt)

	go func() {
		for range signalChan {
			if err := fuse.Unmount(mountPoint); err != nil {
				fmt.Fprintf(os.Stderr, "failed to unmount in response to SIGINT: %v\n", err)
				continue
			}
			return
		}
	}()
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	bindErr = cfg.BindFlags(rootCmd.PersistentFlags())
}

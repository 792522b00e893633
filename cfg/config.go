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

// Package cfg holds the Config struct and flag wiring for a layerfuse
// mount, adapted from the teacher's cfg/config.go: a yaml-tagged struct
// and pflag-bound CLI flags bound into viper. No config file is read;
// values come from the flags alone. The keys cover spec §6's Configuration
// table plus app-name, the debug switches, file-mode/dir-mode and uid/gid.
package cfg

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the fully resolved configuration for one mount, after flags,
// positional arguments and Rationalize have all been applied.
type Config struct {
	AppName string `yaml:"app-name"`

	Debug DebugConfig `yaml:"debug"`

	FileSystem FileSystemConfig `yaml:"file-system"`

	Overlay OverlayConfig `yaml:"overlay"`

	// BindMounts is the list of target[:host_path[:ro]] specifiers from
	// spec §6/§4.7, parsed by internal/bindmount.ParseSpecs at mount time.
	BindMounts []string `yaml:"bind-mounts"`
}

type DebugConfig struct {
	// ExitOnInvariantViolation and LogMutex are recorded (and Rationalize
	// sets the former whenever LogMutex or Fuse is set), but nothing
	// outside this package reads either of them.
	ExitOnInvariantViolation bool `yaml:"exit-on-invariant-violation"`

	LogMutex bool `yaml:"log-mutex"`

	// Fuse enables jacobsa/fuse's own wire-level trace logging
	// (fuse.MountConfig.DebugLogger), independent of this package's
	// own loggers.
	Fuse bool `yaml:"fuse"`
}

// FileSystemConfig covers both the passthrough personality (RootDir set,
// Overlay left zero) and the shared mount-wide knobs both personalities
// read, per spec §6's table.
type FileSystemConfig struct {
	// RootDir is the exported host directory for a passthrough mount.
	RootDir string `yaml:"root-dir"`

	// Mountpoint is where the filesystem is attached.
	Mountpoint string `yaml:"mountpoint"`

	// FileMode, DirMode, Uid and Gid are defaulted by Rationalize (and the
	// modes range-checked by ValidateConfig), but the engines do not read
	// them: reported permissions and ownership come from the host, with
	// ownership translated only by Mapping.
	FileMode Octal `yaml:"file-mode"`
	DirMode  Octal `yaml:"dir-mode"`

	Uid int `yaml:"uid"`
	Gid int `yaml:"gid"`

	// Mapping is a uid/gid mapping expression, parsed by cmd into
	// internal/uidmap.Range values: "host:visible:length[,host:visible:length...]".
	Mapping string `yaml:"mapping"`

	// Xattr is recorded from the xattr flag, but the engines do not read
	// it: extended-attribute operations are handled the same whether it is
	// set or not.
	Xattr bool `yaml:"xattr"`

	// DoImport is recorded from the do-import flag, but nothing reads it;
	// no root scan is performed at startup.
	DoImport bool `yaml:"do-import"`

	// AllowOther is passed through to the protocol session.
	AllowOther bool `yaml:"allow-other"`

	// Privileged is recorded from the privileged flag, but nothing reads
	// it; the bind-mount manager attaches every mount the same way.
	Privileged bool `yaml:"privileged"`
}

// OverlayConfig is populated only for an overlay mount (UpperDir set).
type OverlayConfig struct {
	UpperDir  string   `yaml:"upper-dir"`
	LowerDirs []string `yaml:"lower-dirs"`
}

// IsOverlay reports whether this Config describes an overlay mount
// rather than a bare passthrough mount.
func (c *Config) IsOverlay() bool {
	return c.Overlay.UpperDir != ""
}

func BindFlags(flagSet *pflag.FlagSet) error {
	var err error

	flagSet.StringP("app-name", "", "", "The application name of this mount.")
	if err = viper.BindPFlag("app-name", flagSet.Lookup("app-name")); err != nil {
		return err
	}

	flagSet.BoolP("debug_invariants", "", false, "Record an exit-on-invariant-violation setting (not read by the mount).")
	if err = viper.BindPFlag("debug.exit-on-invariant-violation", flagSet.Lookup("debug_invariants")); err != nil {
		return err
	}

	flagSet.BoolP("debug_mutex", "", false, "Record a mutex-logging setting (not read by the mount).")
	if err = viper.BindPFlag("debug.log-mutex", flagSet.Lookup("debug_mutex")); err != nil {
		return err
	}

	flagSet.BoolP("debug_fuse", "", false, "Enable jacobsa/fuse wire-level trace logging.")
	if err = viper.BindPFlag("debug.fuse", flagSet.Lookup("debug_fuse")); err != nil {
		return err
	}

	flagSet.StringP("root-dir", "", "", "Exported host directory (passthrough mode).")
	if err = viper.BindPFlag("file-system.root-dir", flagSet.Lookup("root-dir")); err != nil {
		return err
	}

	flagSet.IntP("file-mode", "", 0644, "Permission bits for files, in octal (validated, not applied to inodes).")
	if err = viper.BindPFlag("file-system.file-mode", flagSet.Lookup("file-mode")); err != nil {
		return err
	}

	flagSet.IntP("dir-mode", "", 0755, "Permission bits for directories, in octal (validated, not applied to inodes).")
	if err = viper.BindPFlag("file-system.dir-mode", flagSet.Lookup("dir-mode")); err != nil {
		return err
	}

	flagSet.IntP("uid", "", -1, "Recorded UID (-1 by default); not applied: inode ownership comes from the host and --mapping.")
	if err = viper.BindPFlag("file-system.uid", flagSet.Lookup("uid")); err != nil {
		return err
	}

	flagSet.IntP("gid", "", -1, "Recorded GID (-1 by default); not applied: inode ownership comes from the host and --mapping.")
	if err = viper.BindPFlag("file-system.gid", flagSet.Lookup("gid")); err != nil {
		return err
	}

	flagSet.StringP("mapping", "", "", "uid/gid mapping expression: host:visible:length[,host:visible:length...].")
	if err = viper.BindPFlag("file-system.mapping", flagSet.Lookup("mapping")); err != nil {
		return err
	}

	flagSet.BoolP("xattr", "", true, "Recorded only; extended-attribute operations pass through either way.")
	if err = viper.BindPFlag("file-system.xattr", flagSet.Lookup("xattr")); err != nil {
		return err
	}

	flagSet.BoolP("do-import", "", false, "Recorded only; no root scan is performed at startup.")
	if err = viper.BindPFlag("file-system.do-import", flagSet.Lookup("do-import")); err != nil {
		return err
	}

	flagSet.BoolP("allow-other", "", false, "Pass allow_other through to the protocol session.")
	if err = viper.BindPFlag("file-system.allow-other", flagSet.Lookup("allow-other")); err != nil {
		return err
	}

	flagSet.BoolP("privileged", "", false, "Recorded only; bind mounts are attached the same way either way.")
	if err = viper.BindPFlag("file-system.privileged", flagSet.Lookup("privileged")); err != nil {
		return err
	}

	flagSet.StringP("upperdir", "", "", "Writable top layer (overlay mode).")
	if err = viper.BindPFlag("overlay.upper-dir", flagSet.Lookup("upperdir")); err != nil {
		return err
	}

	flagSet.StringArrayP("lowerdir", "", nil, "Read-only layer, top-to-bottom; may be repeated (overlay mode).")
	if err = viper.BindPFlag("overlay.lower-dirs", flagSet.Lookup("lowerdir")); err != nil {
		return err
	}

	flagSet.StringArrayP("bind-mount", "", nil, "target[:host_path[:ro]] bind specifier; may be repeated.")
	if err = viper.BindPFlag("bind-mounts", flagSet.Lookup("bind-mount")); err != nil {
		return err
	}

	return nil
}

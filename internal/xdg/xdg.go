// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 IceDrive Contributors

// Package xdg provides XDG Base Directory paths for IceDrive.
package xdg

import (
	"os"
	"path/filepath"

	"github.com/samber/oops"
)

const appName = "icedrive"

// ConfigFileName is the replica configuration file looked up in ConfigDir.
const ConfigFileName = "auth.yaml"

// ConfigDir returns $XDG_CONFIG_HOME/icedrive, falling back to ~/.config.
func ConfigDir() (string, error) {
	return dir("XDG_CONFIG_HOME", ".config")
}

// DataDir returns $XDG_DATA_HOME/icedrive, falling back to ~/.local/share.
func DataDir() (string, error) {
	return dir("XDG_DATA_HOME", ".local", "share")
}

// ConfigFile returns the default configuration file path.
func ConfigFile() (string, error) {
	d, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(d, ConfigFileName), nil
}

func dir(env string, fallback ...string) (string, error) {
	base := os.Getenv(env)
	if base == "" {
		home := os.Getenv("HOME")
		if home == "" {
			var err error
			home, err = os.UserHomeDir()
			if err != nil {
				return "", oops.Code("XDG_NO_HOME").With("env", env).Wrap(err)
			}
		}
		base = filepath.Join(append([]string{home}, fallback...)...)
	}
	return filepath.Join(base, appName), nil
}

// EnsureDir creates path and its parents with 0700 permissions.
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0o700); err != nil {
		return oops.Code("XDG_MKDIR_FAILED").With("path", path).Wrap(err)
	}
	return nil
}

// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package install resolves the standard on-disk locations postlicyd
// uses for its config, cached RBL sources, and runtime socket, with
// environment-variable overrides following the same priority chain as
// the daemon's firewall-control lineage (POSTLICYD_FOO_DIR, then
// POSTLICYD_PREFIX/foo, then a compiled-in default).
package install

import (
	"os"
	"path/filepath"
)

const envPrefix = "POSTLICYD"

var (
	DefaultConfigDir = "/etc/postlicyd"
	DefaultStateDir  = "/var/lib/postlicyd"
	DefaultCacheDir  = "/var/cache/postlicyd"
	DefaultRunDir    = "/var/run/postlicyd"
)

func fromEnv(dirEnv, subdir, fallback string) string {
	if v := os.Getenv(envPrefix + "_" + dirEnv); v != "" {
		return v
	}
	if prefix := os.Getenv(envPrefix + "_PREFIX"); prefix != "" {
		return filepath.Join(prefix, subdir)
	}
	return fallback
}

// GetConfigDir returns the directory postlicyd reads its config file from.
func GetConfigDir() string {
	return fromEnv("CONFIG_DIR", "config", DefaultConfigDir)
}

// GetStateDir returns the directory postlicyd keeps mutable runtime state in.
func GetStateDir() string {
	return fromEnv("STATE_DIR", "state", DefaultStateDir)
}

// GetCacheDir returns the directory managed (remote) ipdb sources are cached in.
func GetCacheDir() string {
	return fromEnv("CACHE_DIR", "cache", DefaultCacheDir)
}

// GetRunDir returns the directory for sockets and PID files.
func GetRunDir() string {
	return fromEnv("RUN_DIR", "run", DefaultRunDir)
}

// GetSocketPath returns the full path to the control socket.
func GetSocketPath() string {
	if v := os.Getenv(envPrefix + "_CTL_SOCKET"); v != "" {
		return v
	}
	return filepath.Join(GetRunDir(), "postlicyd-ctl.sock")
}

// GetConfigFile returns the default config file path within GetConfigDir.
func GetConfigFile() string {
	if v := os.Getenv(envPrefix + "_CONFIG_FILE"); v != "" {
		return v
	}
	return filepath.Join(GetConfigDir(), "postlicyd.conf")
}

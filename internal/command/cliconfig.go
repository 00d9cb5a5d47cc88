// Copyright (c) The Dynalint Authors
// SPDX-License-Identifier: MPL-2.0

package command

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// ConfigFilename is the per-project run configuration file, looked up in
// the working directory. All of its settings are optional and every one
// of them can be overridden by a command line flag.
const ConfigFilename = "dynalint.toml"

const (
	// EnvCacheDir overrides the cache root, taking precedence over both
	// the configuration file and the default under the user cache dir.
	EnvCacheDir = "DYNALINT_CACHE_DIR"

	// EnvDriverPath points at a prebuilt driver binary to use for every
	// toolchain group, bypassing the driver cache entirely. Intended for
	// harness development, where rebuilding the cached driver on every
	// change would dominate the edit cycle.
	EnvDriverPath = "DYNALINT_DRIVER_PATH"
)

// Default executable names for the toolchain collaborators. Both are
// looked up on PATH unless the configuration names an absolute path.
const (
	defaultToolchainCommand = "toolchainup"
	defaultBuildCommand     = "tcbuild"
)

// Config is the parsed run configuration.
type Config struct {
	// CacheDir is the cache root holding built libraries, drivers,
	// remote checkouts and lock files.
	CacheDir string `toml:"cache_dir"`

	// Registry is the index URL that registry: library sources resolve
	// against. Empty means registry sources are rejected.
	Registry string `toml:"registry"`

	// AutoInstallToolchains permits installing toolchain releases that
	// libraries require but that aren't installed yet.
	AutoInstallToolchains bool `toml:"auto_install_toolchains"`

	// AllowDowngrade opts in to reusing a cached driver built for the
	// nearest compatible older numbered release.
	AllowDowngrade bool `toml:"allow_downgrade"`

	// NoActiveFallback refuses to fall back to the active toolchain for
	// libraries that declare no requirement of their own, making such
	// libraries an error instead.
	NoActiveFallback bool `toml:"no_active_fallback"`

	// Strict makes lint findings fail the run's exit status. On by
	// default; when disabled, findings are still reported but the run
	// exits successfully.
	Strict bool `toml:"strict"`

	// Profile selects the build profile for libraries; "debug" or
	// "release", defaulting to debug.
	Profile string `toml:"profile"`

	// Parallelism bounds concurrent library builds; zero means one per
	// CPU.
	Parallelism int `toml:"parallelism"`

	Commands CommandsConfig `toml:"commands"`

	// Libraries are library sources declared in configuration, resolved
	// before any sources given on the command line.
	Libraries []LibraryConfig `toml:"libraries"`
}

// CommandsConfig names the external toolchain executables.
type CommandsConfig struct {
	// Toolchain is the multiplexer command managing installed releases.
	Toolchain string `toml:"toolchain"`

	// Build is the build command invoked for libraries and drivers.
	Build string `toml:"build"`
}

// LibraryConfig is one declared library source from configuration.
type LibraryConfig struct {
	Source string `toml:"source"`

	// Toolchain forces the release this library is built with.
	Toolchain string `toml:"toolchain"`
}

// LoadConfig reads the run configuration from dir, returning defaults if
// no configuration file exists there. The DYNALINT_CACHE_DIR environment
// variable overrides the configured cache root.
func LoadConfig(dir string) (*Config, error) {
	config := &Config{Strict: true}

	path := filepath.Join(dir, ConfigFilename)
	raw, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		if err := toml.Unmarshal(raw, config); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", path, err)
		}
	}

	if envDir := os.Getenv(EnvCacheDir); envDir != "" {
		config.CacheDir = envDir
	}
	if config.CacheDir == "" {
		config.CacheDir, err = defaultCacheDir()
		if err != nil {
			return nil, err
		}
	}
	if config.Commands.Toolchain == "" {
		config.Commands.Toolchain = defaultToolchainCommand
	}
	if config.Commands.Build == "" {
		config.Commands.Build = defaultBuildCommand
	}
	if config.Profile == "" {
		config.Profile = "debug"
	}

	for i, lib := range config.Libraries {
		if lib.Source == "" {
			return nil, fmt.Errorf("%s: libraries[%d] does not set source", path, i)
		}
	}

	return config, nil
}

func defaultCacheDir() (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine cache directory: %w", err)
	}
	return filepath.Join(base, "dynalint"), nil
}

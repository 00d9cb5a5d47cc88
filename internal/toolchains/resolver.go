// Copyright (c) The Dynalint Authors
// SPDX-License-Identifier: MPL-2.0

package toolchains

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"

	"github.com/dynalint/dynalint/internal/getlibs"
)

// PinFilename is the name of the pinned toolchain file that a library
// source tree may carry to select its release, mirroring the convention of
// the underlying toolchain.
const PinFilename = "toolchain.toml"

type pinFile struct {
	Toolchain struct {
		Channel string `toml:"channel"`
	} `toml:"toolchain"`
}

// Resolver determines the required toolchain release for each library and
// ensures that release is installed.
//
// Resolution is deterministic for a fixed source tree and fixed
// installed-release set. The precedence order is:
//
//  1. a per-library option from configuration,
//  2. the library manifest's own toolchain declaration,
//  3. a pinned toolchain file in the library's source tree,
//  4. the caller's active toolchain, if fallback is permitted.
type Resolver struct {
	Manager Manager

	// AutoInstall permits provisioning releases that aren't installed.
	// When false, a missing release is an UnavailableError.
	AutoInstall bool

	// NoActiveFallback disables precedence step 4, making libraries with
	// no explicit requirement an error instead.
	NoActiveFallback bool

	mu        sync.Mutex
	installed map[string]bool
	active    string
}

// RequiredToolchain determines the toolchain identifier the given library
// must be built with, without checking whether it is installed. The
// identifier is validated regardless of which precedence step supplied
// it, since it later becomes a cache path component.
func (r *Resolver) RequiredToolchain(ctx context.Context, spec *getlibs.LibrarySpec) (string, error) {
	id, err := r.requiredToolchain(ctx, spec)
	if err != nil {
		return "", err
	}
	if err := ValidateID(id); err != nil {
		return "", fmt.Errorf("library %s: %w", spec.Dir, err)
	}
	return id, nil
}

func (r *Resolver) requiredToolchain(ctx context.Context, spec *getlibs.LibrarySpec) (string, error) {
	if id := spec.Options.Toolchain; id != "" {
		log.Printf("[TRACE] toolchains: %s requires %s (configuration override)", spec.Dir, id)
		return id, nil
	}

	if id := spec.Metadata.Toolchain; id != "" {
		log.Printf("[TRACE] toolchains: %s requires %s (manifest declaration)", spec.Dir, id)
		return id, nil
	}

	id, err := readPinFile(spec.Dir)
	if err != nil {
		return "", err
	}
	if id != "" {
		log.Printf("[TRACE] toolchains: %s requires %s (pinned toolchain file)", spec.Dir, id)
		return id, nil
	}

	if r.NoActiveFallback {
		return "", &UndeterminedError{LibraryDir: spec.Dir}
	}

	active, err := r.activeDefault(ctx)
	if err != nil {
		return "", fmt.Errorf("cannot determine active toolchain for library %s: %w", spec.Dir, err)
	}
	log.Printf("[TRACE] toolchains: %s requires %s (active toolchain fallback)", spec.Dir, active)
	return active, nil
}

// Resolve determines the library's required toolchain and verifies or
// provisions it, returning the identifier ready for building.
func (r *Resolver) Resolve(ctx context.Context, spec *getlibs.LibrarySpec) (string, error) {
	id, err := r.RequiredToolchain(ctx, spec)
	if err != nil {
		return "", err
	}
	if err := r.Ensure(ctx, id); err != nil {
		return "", err
	}
	return id, nil
}

// Ensure verifies that the given release is installed, provisioning it if
// permitted.
func (r *Resolver) Ensure(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.installed == nil {
		ids, err := r.Manager.Installed(ctx)
		if err != nil {
			return &UnavailableError{Toolchain: id, Err: err}
		}
		r.installed = make(map[string]bool, len(ids))
		for _, installed := range ids {
			r.installed[installed] = true
		}
	}

	if r.installed[id] {
		return nil
	}

	if !r.AutoInstall {
		return &UnavailableError{Toolchain: id}
	}

	if err := r.Manager.Install(ctx, id); err != nil {
		return &UnavailableError{Toolchain: id, Err: err}
	}
	r.installed[id] = true
	return nil
}

// InstalledReleases returns the identifiers of all installed releases,
// using the same cached snapshot that Ensure consults.
func (r *Resolver) InstalledReleases(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.installed == nil {
		ids, err := r.Manager.Installed(ctx)
		if err != nil {
			return nil, err
		}
		r.installed = make(map[string]bool, len(ids))
		for _, installed := range ids {
			r.installed[installed] = true
		}
	}

	ids := make([]string, 0, len(r.installed))
	for id := range r.installed {
		ids = append(ids, id)
	}
	return ids, nil
}

func (r *Resolver) activeDefault(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active == "" {
		active, err := r.Manager.ActiveDefault(ctx)
		if err != nil {
			return "", err
		}
		r.active = active
	}
	return r.active, nil
}

func readPinFile(dir string) (string, error) {
	path := filepath.Join(dir, PinFilename)

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}

	var pin pinFile
	if err := toml.Unmarshal(raw, &pin); err != nil {
		return "", fmt.Errorf("invalid %s in %s: %w", PinFilename, dir, err)
	}
	if pin.Toolchain.Channel == "" {
		return "", fmt.Errorf("%s in %s does not set toolchain.channel", PinFilename, dir)
	}
	return pin.Toolchain.Channel, nil
}

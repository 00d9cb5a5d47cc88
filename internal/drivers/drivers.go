// Copyright (c) The Dynalint Authors
// SPDX-License-Identifier: MPL-2.0

// Package drivers provisions the execution harness binaries that load
// built lint libraries and run the toolchain's analysis pipeline with
// them active.
//
// One driver exists per toolchain release: the harness links against the
// toolchain's unstable internal interfaces, so a driver built under one
// release cannot load libraries built under another. Drivers are far more
// expensive to build than libraries, so the driver cache is long-lived
// and shared across runs and projects.
package drivers

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	version "github.com/hashicorp/go-version"

	"github.com/dynalint/dynalint/internal/flock"
	"github.com/dynalint/dynalint/internal/libcache"
	"github.com/dynalint/dynalint/internal/toolchains"
	dynalintversion "github.com/dynalint/dynalint/version"
)

// harnessFingerprint identifies the harness source the provisioner builds
// from. The harness does not vary per plugin, so this changes only when a
// dynalint release changes the harness itself; bumping it orphans every
// cached driver, which is the intent.
const harnessFingerprint = "h1"

const (
	driverBinaryName  = "dynalint-driver"
	driverMetaName    = "driver.json"
	readmeName        = "README.txt"
	driverVersionFlag = "-V"
)

const driversReadme = `This directory contains toolchain analysis drivers built by dynalint.

Deleting this directory will cause dynalint to rebuild the drivers the
next time it needs them, but has no other ill effects.
`

// Driver is a toolchain identifier bound to a built harness binary
// capable of loading libraries built for that identifier.
type Driver struct {
	Toolchain string `json:"toolchain"`

	// Path is the absolute path of the harness binary.
	Path string `json:"path"`

	// ForToolchain differs from Toolchain when the opt-in downgrade
	// policy substituted a compatible older release's driver.
	ForToolchain string `json:"for_toolchain,omitempty"`

	HarnessFingerprint string    `json:"harness_fingerprint"`
	DynalintVersion    string    `json:"dynalint_version"`
	BuiltAt            time.Time `json:"built_at"`
}

// Builder compiles the harness for one toolchain release, placing the
// binary in outputDir and returning its filename. The real implementation
// scaffolds a harness package pinned to the release and invokes the
// toolchain's build command on it.
type Builder interface {
	BuildDriver(ctx context.Context, toolchain string, outputDir string) (binaryFilename string, err error)
}

// Provisioner ensures a driver binary exists for each toolchain release
// in play, building and caching on first use.
type Provisioner struct {
	// Store supplies the drivers subtree of the cache and the lock files
	// used for per-toolchain mutual exclusion.
	Store *libcache.Store

	Builder Builder

	// AllowDowngrade enables the opt-in policy of reusing a cached driver
	// built for the nearest compatible older numbered release when no
	// exact-match driver exists. The conservative default is exact-match
	// only, since a downgraded driver risks loading plugins against a
	// subtly incompatible ABI.
	AllowDowngrade bool
}

// Ensure returns a driver for the given toolchain release, building one
// if no valid cached driver exists. Same cache-or-build discipline as the
// library cache: concurrent callers for one release serialize on a lock
// file and the loser reuses the winner's result.
func (p *Provisioner) Ensure(ctx context.Context, toolchain string) (*Driver, error) {
	// The identifier becomes a directory name under the drivers subtree
	// and a lock file name. Resolution validates its own outputs, but the
	// provisioner is also reachable with identifiers from other callers.
	if err := toolchains.ValidateID(toolchain); err != nil {
		return nil, err
	}

	if err := p.writeReadme(); err != nil {
		return nil, err
	}

	if driver := p.cached(ctx, toolchain); driver != nil {
		return driver, nil
	}

	if p.AllowDowngrade {
		if driver := p.downgraded(ctx, toolchain); driver != nil {
			return driver, nil
		}
	}

	release, err := flock.Acquire(ctx, p.Store.LockPath("driver-"+toolchain))
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := release(); err != nil {
			log.Printf("[ERROR] drivers: releasing driver lock for %s: %s", toolchain, err)
		}
	}()

	// Re-check under the lock: another process may have built it.
	if driver := p.cached(ctx, toolchain); driver != nil {
		return driver, nil
	}

	return p.build(ctx, toolchain)
}

func (p *Provisioner) driverDir(toolchain string) string {
	return filepath.Join(p.Store.DriversDir(), toolchain)
}

// cached returns the valid cached driver for the release, or nil.
func (p *Provisioner) cached(ctx context.Context, toolchain string) *Driver {
	dir := p.driverDir(toolchain)

	raw, err := os.ReadFile(filepath.Join(dir, driverMetaName))
	if err != nil {
		return nil
	}
	var driver Driver
	if err := json.Unmarshal(raw, &driver); err != nil {
		log.Printf("[WARN] drivers: corrupt metadata for cached driver %s, will rebuild", toolchain)
		return nil
	}
	if driver.HarnessFingerprint != harnessFingerprint {
		log.Printf("[DEBUG] drivers: cached driver for %s was built from harness %s, need %s, will rebuild",
			toolchain, driver.HarnessFingerprint, harnessFingerprint)
		return nil
	}
	if _, err := os.Stat(driver.Path); err != nil {
		log.Printf("[WARN] drivers: cached driver for %s lost its binary, will rebuild", toolchain)
		return nil
	}
	if p.outdated(ctx, &driver) {
		return nil
	}
	return &driver
}

// outdated probes the cached binary's self-reported version and reports
// whether it predates the running dynalint release.
func (p *Provisioner) outdated(ctx context.Context, driver *Driver) bool {
	theirs, err := probeVersion(ctx, driver.Path)
	if err != nil {
		log.Printf("[WARN] drivers: could not determine version of cached driver for %s (%s), will rebuild", driver.Toolchain, err)
		return true
	}
	if theirs.LessThan(dynalintversion.SemVer) {
		log.Printf("[DEBUG] drivers: cached driver for %s is version %s, older than %s, will rebuild",
			driver.Toolchain, theirs, dynalintversion.SemVer)
		return true
	}
	return false
}

// downgraded looks for a cached driver of the nearest compatible older
// release, per the opt-in downgrade policy.
func (p *Provisioner) downgraded(ctx context.Context, toolchain string) *Driver {
	entries, err := os.ReadDir(p.Store.DriversDir())
	if err != nil {
		return nil
	}
	var have []string
	for _, entry := range entries {
		if entry.IsDir() {
			have = append(have, entry.Name())
		}
	}

	older, ok := toolchains.NearestCompatible(toolchain, have)
	if !ok {
		return nil
	}
	driver := p.cached(ctx, older)
	if driver == nil {
		return nil
	}

	log.Printf("[WARN] drivers: no driver for toolchain %s; downgrading to compatible driver for %s", toolchain, older)
	downgraded := *driver
	downgraded.ForToolchain = toolchain
	return &downgraded
}

func (p *Provisioner) build(ctx context.Context, toolchain string) (*Driver, error) {
	log.Printf("[INFO] drivers: building driver for toolchain %s", toolchain)

	staging, err := os.MkdirTemp(p.Store.DriversDir(), ".staging-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(staging)

	binaryName, err := p.Builder.BuildDriver(ctx, toolchain, staging)
	if err != nil {
		return nil, err
	}

	dir := p.driverDir(toolchain)
	driver := &Driver{
		Toolchain:          toolchain,
		Path:               filepath.Join(dir, binaryName),
		HarnessFingerprint: harnessFingerprint,
		DynalintVersion:    dynalintversion.String(),
		BuiltAt:            time.Now().UTC(),
	}

	meta, err := json.MarshalIndent(driver, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(staging, driverMetaName), meta, 0644); err != nil {
		return nil, err
	}
	if _, err := os.Stat(filepath.Join(staging, binaryName)); err != nil {
		return nil, fmt.Errorf("driver builder reported %q but produced no such file: %w", binaryName, err)
	}

	if err := os.RemoveAll(dir); err != nil {
		return nil, err
	}
	if err := os.Rename(staging, dir); err != nil {
		return nil, err
	}

	log.Printf("[DEBUG] drivers: driver for %s cached at %s", toolchain, driver.Path)
	return driver, nil
}

func (p *Provisioner) writeReadme() error {
	path := filepath.Join(p.Store.DriversDir(), readmeName)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return os.WriteFile(path, []byte(driversReadme), 0644)
}

// probeVersion runs the driver with -V and parses the trailing version
// number from its one-line report.
func probeVersion(ctx context.Context, path string) (*version.Version, error) {
	out, err := versionProbe(ctx, path)
	if err != nil {
		return nil, err
	}
	return version.NewVersion(out)
}

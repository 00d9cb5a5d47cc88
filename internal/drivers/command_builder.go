// Copyright (c) The Dynalint Authors
// SPDX-License-Identifier: MPL-2.0

package drivers

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/dynalint/dynalint/internal/libcache"
	"github.com/dynalint/dynalint/internal/logging"
	dynalintversion "github.com/dynalint/dynalint/version"
)

// CommandBuilder implements [Builder] by scaffolding a one-shot harness
// package pinned to the requested toolchain release and invoking the
// toolchain's build command on it.
//
// The scaffold depends on the dynalint harness library at exactly the
// running dynalint version, so the built driver and this process agree on
// the environment contract they share.
type CommandBuilder struct {
	// Command is the toolchain build executable name or path, the same
	// one used for building libraries.
	Command string
}

var _ Builder = (*CommandBuilder)(nil)

const driverManifestTemplate = `[package]
name = "dynalint-driver-%s"
version = "0.1.0"

[dependencies]
dynalint-driver = "=%s"
`

const driverPinTemplate = `[toolchain]
channel = "%s"
`

const driverEntrySource = `fn main() {
    dynalint_driver::run()
}
`

func (b *CommandBuilder) BuildDriver(ctx context.Context, toolchain string, outputDir string) (string, error) {
	scaffold, err := os.MkdirTemp("", "dynalint-driver-")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(scaffold)

	if err := b.scaffold(scaffold, toolchain); err != nil {
		return "", err
	}

	args := []string{
		"+" + toolchain,
		"build",
		"--profile", string(libcache.ProfileRelease),
		"--bin", driverBinaryName,
		"--out-dir", outputDir,
	}
	log.Printf("[DEBUG] drivers: running %s %s in %s", b.Command, strings.Join(args, " "), scaffold)

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, b.Command, args...)
	cmd.Dir = scaffold
	cmd.Stdout = logging.LogOutput()
	cmd.Stderr = &stderr
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = 10 * time.Second

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &libcache.BuildError{
			Subject:     "driver harness",
			Toolchain:   toolchain,
			Diagnostics: stderr.String(),
			Err:         err,
		}
	}

	if _, err := os.Stat(filepath.Join(outputDir, driverBinaryName)); err != nil {
		return "", &libcache.BuildError{
			Subject:     "driver harness",
			Toolchain:   toolchain,
			Diagnostics: stderr.String(),
			Err:         fmt.Errorf("build succeeded but produced no %s binary", driverBinaryName),
		}
	}
	return driverBinaryName, nil
}

func (b *CommandBuilder) scaffold(dir, toolchain string) error {
	manifest := fmt.Sprintf(driverManifestTemplate, toolchain, dynalintversion.Version)
	if err := os.WriteFile(filepath.Join(dir, "package.toml"), []byte(manifest), 0644); err != nil {
		return err
	}

	pin := fmt.Sprintf(driverPinTemplate, toolchain)
	if err := os.WriteFile(filepath.Join(dir, "toolchain.toml"), []byte(pin), 0644); err != nil {
		return err
	}

	srcDir := filepath.Join(dir, "src")
	if err := os.MkdirAll(srcDir, 0755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(srcDir, "main.x"), []byte(driverEntrySource), 0644)
}

// Copyright (c) The Dynalint Authors
// SPDX-License-Identifier: MPL-2.0

package libcache

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

	"github.com/dynalint/dynalint/internal/logging"
)

// dylibExtensions are the dynamic-library filename extensions the
// toolchain produces, per platform.
var dylibExtensions = map[string]bool{
	".so":    true,
	".dylib": true,
	".dll":   true,
}

// CommandBuilder implements [Builder] by invoking the toolchain's build
// command as a subprocess, selecting the release with a "+IDENTIFIER"
// leading argument in the manner of toolchain multiplexers.
//
// The command runs with the library's source directory as its working
// directory and is expected to place exactly one dynamic-library file in
// the requested output directory.
type CommandBuilder struct {
	// Command is the toolchain build executable name or path.
	Command string
}

var _ Builder = (*CommandBuilder)(nil)

func (b *CommandBuilder) BuildLibrary(ctx context.Context, req BuildRequest) (string, error) {
	args := []string{
		"+" + req.Toolchain,
		"build",
		"--profile", string(req.Profile),
		"--out-dir", req.OutputDir,
	}
	log.Printf("[DEBUG] libcache: running %s %s in %s", b.Command, strings.Join(args, " "), req.SourceDir)

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, b.Command, args...)
	cmd.Dir = req.SourceDir
	cmd.Stdout = logging.LogOutput()
	cmd.Stderr = &stderr
	cmd.Cancel = func() error {
		// Give the compiler a chance to clean up its own intermediate
		// state before we give up on it.
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = 10 * time.Second

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &BuildError{
			Subject:     fmt.Sprintf("%s (%s)", req.DisplayName, req.SourceDir),
			Toolchain:   req.Toolchain,
			Diagnostics: stderr.String(),
			Err:         err,
		}
	}

	return findProducedLibrary(req, stderr.String())
}

func findProducedLibrary(req BuildRequest, diagnostics string) (string, error) {
	entries, err := os.ReadDir(req.OutputDir)
	if err != nil {
		return "", err
	}

	var produced []string
	for _, entry := range entries {
		if entry.Type().IsRegular() && dylibExtensions[filepath.Ext(entry.Name())] {
			produced = append(produced, entry.Name())
		}
	}

	switch len(produced) {
	case 1:
		return produced[0], nil
	case 0:
		return "", &BuildError{
			Subject:     fmt.Sprintf("%s (%s)", req.DisplayName, req.SourceDir),
			Toolchain:   req.Toolchain,
			Diagnostics: diagnostics,
			Err:         fmt.Errorf("build succeeded but produced no dynamic library"),
		}
	default:
		return "", &BuildError{
			Subject:     fmt.Sprintf("%s (%s)", req.DisplayName, req.SourceDir),
			Toolchain:   req.Toolchain,
			Diagnostics: diagnostics,
			Err:         fmt.Errorf("build produced %d dynamic libraries %v, expected exactly one", len(produced), produced),
		}
	}
}

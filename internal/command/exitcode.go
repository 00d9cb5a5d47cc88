// Copyright (c) The Dynalint Authors
// SPDX-License-Identifier: MPL-2.0

package command

import (
	"errors"

	"github.com/dynalint/dynalint/internal/getlibs"
	"github.com/dynalint/dynalint/internal/libcache"
	"github.com/dynalint/dynalint/internal/lintset"
	"github.com/dynalint/dynalint/internal/runner"
	"github.com/dynalint/dynalint/internal/toolchains"
)

// Process exit codes. Scripted callers distinguish "your lint
// specifications are wrong" from "the toolchain is missing" from "the
// lints fired" by code alone, so each error category gets its own.
const (
	ExitOK = 0

	// ExitFailure is both "lints fired at error severity" and the
	// general failure code, matching the convention of the underlying
	// toolchain where any diagnostic-producing run exits 1.
	ExitFailure = 1

	ExitSpecification        = 2
	ExitToolchainUnavailable = 3
	ExitBuildFailure         = 4
	ExitExecutionFailure     = 5
)

// exitStatus maps an error from the pipeline onto a process exit code by
// its category. Aggregated group errors map to the first category found
// in severity order: specification, toolchain, build, execution.
func exitStatus(err error) int {
	if err == nil {
		return ExitOK
	}

	var (
		invalidSource *getlibs.InvalidSourceError
		noLibraries   *getlibs.NoLibrariesError
		badResolution *getlibs.SourceResolutionError
		conflict      *lintset.ConflictError
		invalidID     *toolchains.InvalidIDError
		unavailable   *toolchains.UnavailableError
		undetermined  *toolchains.UndeterminedError
		buildFailed   *libcache.BuildError
		execFailed    *runner.ExecutionError
	)

	switch {
	case errors.As(err, &invalidSource),
		errors.As(err, &noLibraries),
		errors.As(err, &badResolution),
		errors.As(err, &conflict),
		errors.As(err, &invalidID):
		return ExitSpecification
	case errors.As(err, &unavailable), errors.As(err, &undetermined):
		return ExitToolchainUnavailable
	case errors.As(err, &buildFailed):
		return ExitBuildFailure
	case errors.As(err, &execFailed):
		return ExitExecutionFailure
	default:
		return ExitFailure
	}
}

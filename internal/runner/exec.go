// Copyright (c) The Dynalint Authors
// SPDX-License-Identifier: MPL-2.0

package runner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/dynalint/dynalint/internal/drivers"
)

// Environment variables forming the process contract with the driver
// harness.
const (
	// envLibraries lists the built plugin library paths the driver must
	// load, joined with the platform's path list separator.
	envLibraries = "DYNALINT_LIBS"

	// envToolchain names the toolchain release the invocation is for,
	// which may be newer than the driver's own release under the opt-in
	// downgrade policy.
	envToolchain = "DYNALINT_TOOLCHAIN"
)

// lintFailureExitCode is the exit status the driver harness uses to
// signal "ran to completion, lints fired at error severity", as distinct
// from both success and crashing.
const lintFailureExitCode = 2

// Outcome is what a completed driver invocation reported.
type Outcome struct {
	LintFindings bool
}

// Executor invokes a driver binary against a target project. The real
// implementation runs it as a subprocess; tests substitute a fake.
type Executor interface {
	Execute(ctx context.Context, driver *drivers.Driver, libraryPaths []string, targetDir string, passThrough []string) (Outcome, error)
}

// ExecutionError indicates the driver process could not be started or
// crashed; it does not cover lint findings.
type ExecutionError struct {
	Toolchain string
	Err       error
}

func (err *ExecutionError) Error() string {
	return fmt.Sprintf("driver for toolchain %s failed: %s", err.Toolchain, err.Err)
}

func (err *ExecutionError) Unwrap() error { return err.Err }

// CommandExecutor runs drivers as subprocesses with the target project as
// the working directory. Driver diagnostics flow through to our own
// standard channels untouched, in the toolchain's normal diagnostic
// format.
type CommandExecutor struct{}

var _ Executor = (*CommandExecutor)(nil)

func (e *CommandExecutor) Execute(ctx context.Context, driver *drivers.Driver, libraryPaths []string, targetDir string, passThrough []string) (Outcome, error) {
	toolchain := driver.Toolchain
	if driver.ForToolchain != "" {
		toolchain = driver.ForToolchain
	}

	log.Printf("[DEBUG] runner: exec %s with %d libraries in %s", driver.Path, len(libraryPaths), targetDir)

	cmd := exec.CommandContext(ctx, driver.Path, passThrough...)
	cmd.Dir = targetDir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(),
		envLibraries+"="+strings.Join(libraryPaths, string(os.PathListSeparator)),
		envToolchain+"="+toolchain,
	)
	cmd.Cancel = func() error {
		// On cancellation the driver gets a polite termination signal
		// first so the toolchain can flush its incremental state.
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = 10 * time.Second

	err := cmd.Run()
	if err == nil {
		return Outcome{}, nil
	}
	if ctx.Err() != nil {
		return Outcome{}, ctx.Err()
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == lintFailureExitCode {
		return Outcome{LintFindings: true}, nil
	}
	return Outcome{}, &ExecutionError{Toolchain: toolchain, Err: err}
}

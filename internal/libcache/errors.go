// Copyright (c) The Dynalint Authors
// SPDX-License-Identifier: MPL-2.0

package libcache

import (
	"fmt"
	"strings"
)

// BuildError indicates that the toolchain's compiler rejected a library or
// the driver harness. It carries the subject's identity and the compiler's
// diagnostic text so the failure is actionable without re-running. Build
// failures are never retried automatically.
type BuildError struct {
	// Subject identifies what was being built: a library's display name
	// and source directory, or the driver harness.
	Subject string

	// Toolchain is the release the build ran under.
	Toolchain string

	// Diagnostics is the compiler's error output, if any.
	Diagnostics string

	Err error
}

func (err *BuildError) Error() string {
	msg := fmt.Sprintf("building %s with toolchain %s failed: %s", err.Subject, err.Toolchain, err.Err)
	if diag := strings.TrimSpace(err.Diagnostics); diag != "" {
		msg += "\n" + diag
	}
	return msg
}

func (err *BuildError) Unwrap() error { return err.Err }

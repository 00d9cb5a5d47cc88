// Copyright (c) The Dynalint Authors
// SPDX-License-Identifier: MPL-2.0

package getlibs

import (
	"fmt"
)

// InvalidSourceError is a specification error: a declared source string
// that cannot be understood at all.
type InvalidSourceError struct {
	Declared string
	Reason   string
}

func (err *InvalidSourceError) Error() string {
	return fmt.Sprintf("invalid library source %q: %s", err.Declared, err.Reason)
}

// PatternError is a specification error scoped to a single glob pattern.
// Pattern errors are reported per-pattern and are fatal to the whole run
// only when no source at all produced a usable library.
type PatternError struct {
	Pattern PatternSource
	Err     error
}

func (err *PatternError) Error() string {
	return fmt.Sprintf("library pattern %q: %s", err.Pattern, err.Err)
}

func (err *PatternError) Unwrap() error { return err.Err }

// NoLibrariesError is the fatal specification error produced when every
// declared source failed to yield a library directory.
type NoLibrariesError struct {
	Declared []string
}

func (err *NoLibrariesError) Error() string {
	if len(err.Declared) == 0 {
		return "no library sources declared"
	}
	return fmt.Sprintf("no libraries found for any of the declared sources %v", err.Declared)
}

// SourceResolutionError is a specification error for a single source that
// should have produced a library directory but did not: a missing path, a
// failed remote fetch, an unknown registry entry, or a library directory
// with no usable metadata.
type SourceResolutionError struct {
	Source Source
	Err    error
}

func (err *SourceResolutionError) Error() string {
	return fmt.Sprintf("library source %s: %s", err.Source, err.Err)
}

func (err *SourceResolutionError) Unwrap() error { return err.Err }

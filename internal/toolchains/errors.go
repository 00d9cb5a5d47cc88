// Copyright (c) The Dynalint Authors
// SPDX-License-Identifier: MPL-2.0

package toolchains

import (
	"fmt"
)

// UnavailableError indicates that a required toolchain release is not
// installed and could not (or was not permitted to) be provisioned. It
// aborts only the execution groups that needed the release.
type UnavailableError struct {
	Toolchain string
	Err       error
}

func (err *UnavailableError) Error() string {
	if err.Err != nil {
		return fmt.Sprintf("toolchain %q unavailable: %s", err.Toolchain, err.Err)
	}
	return fmt.Sprintf("toolchain %q is not installed and automatic installation is disabled", err.Toolchain)
}

func (err *UnavailableError) Unwrap() error { return err.Err }

// InvalidIDError indicates a toolchain identifier that cannot name a
// release: empty, or containing filesystem path elements. These are
// specification errors in whatever declared the identifier.
type InvalidIDError struct {
	ID string
}

func (err *InvalidIDError) Error() string {
	return fmt.Sprintf("invalid toolchain identifier %q: an identifier must be a single release or channel name", err.ID)
}

// UndeterminedError indicates that no toolchain requirement could be
// derived for a library: it has no manifest declaration, no pinned
// toolchain file, and falling back to the active toolchain is disabled.
type UndeterminedError struct {
	LibraryDir string
}

func (err *UndeterminedError) Error() string {
	return fmt.Sprintf("cannot determine required toolchain for library %s: no manifest declaration or pinned toolchain file, and active-toolchain fallback is disabled", err.LibraryDir)
}

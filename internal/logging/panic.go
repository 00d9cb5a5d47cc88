// Copyright (c) The Dynalint Authors
// SPDX-License-Identifier: MPL-2.0

package logging

import (
	"fmt"
	"os"
	"runtime/debug"
)

const panicOutput = `
!!!!!!!!!!!!!!!!!!!!!!!!!!! DYNALINT CRASH !!!!!!!!!!!!!!!!!!!!!!!!!!!!

dynalint crashed! This is always indicative of a bug within dynalint.
Please report the crash with the details below so that we can fix it.

When reporting bugs, please include your dynalint version, the stack
trace shown below, and any additional information which may help
replicate the issue.

!!!!!!!!!!!!!!!!!!!!!!!!!!! DYNALINT CRASH !!!!!!!!!!!!!!!!!!!!!!!!!!!!

%s
%s
`

// PanicHandler is called to recover from an internal panic in the main
// process, and augments the standard stack trace with a more user-friendly
// introduction. It must be called as a deferred function at the top of the
// main goroutine.
func PanicHandler() {
	recovered := recover()
	if recovered == nil {
		return
	}

	fmt.Fprintf(os.Stderr, panicOutput, recovered, debug.Stack())

	// An exit code of 11 keeps us out of the way of the detailed exit codes
	// the run command reports, and 11 is the SIGSEGV signal number on most
	// platforms, which is vaguely evocative of a crash.
	os.Exit(11)
}

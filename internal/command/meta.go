// Copyright (c) The Dynalint Authors
// SPDX-License-Identifier: MPL-2.0

// Package command contains the dynalint CLI commands and their shared
// plumbing: run configuration loading, pipeline construction and the
// mapping of pipeline error categories onto process exit codes.
package command

import (
	"os"

	"github.com/mattn/go-isatty"
	"github.com/mitchellh/cli"
	"github.com/mitchellh/colorstring"
)

// Meta holds the fields common to all commands.
type Meta struct {
	Ui cli.Ui

	// WorkingDir is the directory dynalint was invoked from. Relative
	// library paths, glob patterns and the run configuration file are
	// resolved against it.
	WorkingDir string

	// noColor disables colored output; set from the -no-color flag and
	// forced on when stdout is not a terminal.
	noColor bool
}

// Colorize returns the colorization configuration for output, respecting
// both the -no-color flag and whether stdout is actually a terminal.
func (m *Meta) Colorize() *colorstring.Colorize {
	disable := m.noColor
	if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		disable = true
	}
	return &colorstring.Colorize{
		Colors:  colorstring.DefaultColors,
		Disable: disable,
		Reset:   true,
	}
}

func (m *Meta) showError(err error) {
	m.Ui.Error(m.Colorize().Color("[red]Error:[reset] " + err.Error()))
}

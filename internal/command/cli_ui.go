// Copyright (c) The Dynalint Authors
// SPDX-License-Identifier: MPL-2.0

package command

import (
	"os"

	"github.com/mitchellh/cli"
)

// ui wraps the primary output [cli.Ui] and redirects Warn calls to Output
// calls so that warnings stay properly serialized within the stdout
// stream.
type ui struct {
	cli.Ui
}

func (u *ui) Warn(msg string) {
	u.Ui.Output(msg)
}

// NewBasicUI returns a preconfigured [cli.Ui] that is meant to be used as
// the primary Ui for dynalint.
func NewBasicUI() cli.Ui {
	return &ui{&cli.BasicUi{
		Writer:      os.Stdout,
		ErrorWriter: os.Stderr,
		Reader:      os.Stdin,
	}}
}

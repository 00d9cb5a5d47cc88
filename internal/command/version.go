// Copyright (c) The Dynalint Authors
// SPDX-License-Identifier: MPL-2.0

package command

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dynalint/dynalint/version"
)

// VersionCommand is a Command implementation that prints the version.
type VersionCommand struct {
	Meta

	Platform string
}

func (c *VersionCommand) Help() string {
	helpText := `
Usage: dynalint version [options]

  Displays the version of dynalint.

Options:

  -json       Output the version information as a JSON object.
`
	return strings.TrimSpace(helpText)
}

func (c *VersionCommand) Synopsis() string {
	return "Show the current dynalint version"
}

func (c *VersionCommand) Run(args []string) int {
	var jsonOutput bool
	for _, arg := range args {
		switch arg {
		case "-json", "--json":
			jsonOutput = true
		default:
			c.Ui.Error(fmt.Sprintf("Unsupported argument: %s", arg))
			return ExitFailure
		}
	}

	if jsonOutput {
		output := map[string]string{
			"version":  version.String(),
			"platform": c.Platform,
		}
		raw, err := json.MarshalIndent(output, "", "  ")
		if err != nil {
			c.Ui.Error(err.Error())
			return ExitFailure
		}
		c.Ui.Output(string(raw))
		return ExitOK
	}

	c.Ui.Output(fmt.Sprintf("dynalint v%s on %s", version.String(), c.Platform))
	return ExitOK
}

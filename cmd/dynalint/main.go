// Copyright (c) The Dynalint Authors
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"

	"github.com/mitchellh/cli"

	"github.com/dynalint/dynalint/internal/command"
	"github.com/dynalint/dynalint/internal/logging"
	"github.com/dynalint/dynalint/version"
)

// envTmpLogPath names a file to duplicate logs into, created by a parent
// process to collect crash logs.
const envTmpLogPath = "DYNALINT_TEMP_LOG_PATH"

var Ui cli.Ui

func init() {
	Ui = command.NewBasicUI()
}

func main() {
	os.Exit(realMain())
}

func realMain() int {
	defer logging.PanicHandler()

	if tmpLogPath := os.Getenv(envTmpLogPath); tmpLogPath != "" {
		f, err := os.OpenFile(tmpLogPath, os.O_RDWR|os.O_APPEND, 0666)
		if err == nil {
			defer f.Close()

			log.Printf("[DEBUG] Adding temp file log sink: %s", f.Name())
			logging.RegisterSink(f)
		} else {
			log.Printf("[ERROR] Could not open temp log file: %v", err)
		}
	}

	log.Printf("[INFO] dynalint version: %s", version.String())
	if logging.IsDebugOrHigher() {
		for _, depMod := range version.InterestingDependencies() {
			log.Printf("[DEBUG] using %s %s", depMod.Path, depMod.Version)
		}
	}
	log.Printf("[INFO] Go runtime version: %s", runtime.Version())
	log.Printf("[INFO] CLI args: %#v", os.Args)

	workingDir, err := os.Getwd()
	if err != nil {
		Ui.Error(fmt.Sprintf("Failed to determine the working directory: %s", err))
		return 1
	}

	meta := command.Meta{
		Ui:         Ui,
		WorkingDir: workingDir,
	}

	commands := map[string]cli.CommandFactory{
		"run": func() (cli.Command, error) {
			return &command.RunCommand{Meta: meta}, nil
		},
		"list": func() (cli.Command, error) {
			return &command.ListCommand{Meta: meta}, nil
		},
		"version": func() (cli.Command, error) {
			return &command.VersionCommand{
				Meta:     meta,
				Platform: runtime.GOOS + "_" + runtime.GOARCH,
			}, nil
		},
	}

	binName := filepath.Base(os.Args[0])
	args := os.Args[1:]

	// We shortcut "--version" and "-v" to just show the version.
	for _, arg := range args {
		if arg == "-v" || arg == "-version" || arg == "--version" {
			newArgs := make([]string, len(args)+1)
			newArgs[0] = "version"
			copy(newArgs[1:], args)
			args = newArgs
			break
		}
	}

	log.Printf("[INFO] CLI command args: %#v", args)
	cliRunner := &cli.CLI{
		Name:       binName,
		Version:    version.String(),
		Args:       args,
		Commands:   commands,
		HelpWriter: os.Stdout,

		Autocomplete:          true,
		AutocompleteInstall:   "install-autocomplete",
		AutocompleteUninstall: "uninstall-autocomplete",
	}

	exitCode, err := cliRunner.Run()
	if err != nil {
		Ui.Error(fmt.Sprintf("Error executing CLI: %s", err.Error()))
		return 1
	}
	return exitCode
}

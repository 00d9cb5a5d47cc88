// Copyright (c) The Dynalint Authors
// SPDX-License-Identifier: MPL-2.0

package toolchains

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os/exec"
	"strings"
)

// Manager is the interface to the toolchain multiplexer that owns
// installed releases. The real implementation shells out to the
// multiplexer binary; tests substitute an in-memory fake.
type Manager interface {
	// Installed returns the identifiers of all installed releases.
	Installed(ctx context.Context) ([]string, error)

	// Install provisions the given release. It is a no-op if the release
	// is already installed.
	Install(ctx context.Context, id string) error

	// ActiveDefault returns the identifier of the caller's currently
	// active release, used as the last-resort toolchain for libraries
	// that don't pin one.
	ActiveDefault(ctx context.Context) (string, error)
}

// CLIManager implements Manager by invoking a toolchain multiplexer
// command (in the manner of rustup and friends) as a subprocess.
//
// The command is expected to support three subcommands:
//
//	<cmd> list            one installed identifier per line
//	<cmd> install <id>    provision a release, exit nonzero on failure
//	<cmd> active          print the active identifier on one line
type CLIManager struct {
	// Command is the multiplexer executable name or path.
	Command string
}

var _ Manager = (*CLIManager)(nil)

func (m *CLIManager) Installed(ctx context.Context) ([]string, error) {
	stdout, err := m.run(ctx, "list")
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, line := range strings.Split(stdout, "\n") {
		// Multiplexers tend to decorate the active entry; take only the
		// first field of each line.
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		ids = append(ids, fields[0])
	}
	return ids, nil
}

func (m *CLIManager) Install(ctx context.Context, id string) error {
	log.Printf("[INFO] toolchains: installing toolchain %s", id)
	_, err := m.run(ctx, "install", id)
	return err
}

func (m *CLIManager) ActiveDefault(ctx context.Context) (string, error) {
	stdout, err := m.run(ctx, "active")
	if err != nil {
		return "", err
	}
	id := strings.TrimSpace(stdout)
	if id == "" {
		return "", fmt.Errorf("%s reported no active toolchain", m.Command)
	}
	// Same decoration rule as Installed.
	return strings.Fields(id)[0], nil
}

func (m *CLIManager) run(ctx context.Context, args ...string) (string, error) {
	log.Printf("[TRACE] toolchains: running %s %s", m.Command, strings.Join(args, " "))

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, m.Command, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%s %s failed: %w\n%s", m.Command, strings.Join(args, " "), err, stderr.String())
	}
	return stdout.String(), nil
}

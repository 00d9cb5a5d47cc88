// Copyright (c) The Dynalint Authors
// SPDX-License-Identifier: MPL-2.0

package drivers

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// versionProbe executes the driver binary with the version flag and
// returns the last whitespace-separated token of its output, which by the
// harness contract is its version number ("dynalint-driver 0.5.0").
func versionProbe(ctx context.Context, path string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var stdout bytes.Buffer
	cmd := exec.CommandContext(ctx, path, driverVersionFlag)
	cmd.Stdout = &stdout

	if err := cmd.Run(); err != nil {
		return "", err
	}

	fields := strings.Fields(stdout.String())
	if len(fields) == 0 {
		return "", fmt.Errorf("driver produced no version output")
	}
	return fields[len(fields)-1], nil
}

// Copyright The NRI Plugins Authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package memstat runs an external memory usage report command.
package memstat

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"

	logger "github.com/containers/swappy/pkg/log"
)

var (
	// DefaultCommand is the default report command.
	DefaultCommand = []string{"sudo", "-n", "smem", "-w", "-k"}

	log = logger.NewLogger("memstat")
)

var (
	// ErrNoCommand is returned for an empty command line.
	ErrNoCommand = errors.New("memstat: no command")
	// ErrFailed is returned when the command fails.
	ErrFailed = errors.New("memstat: command failed")
)

// Run runs the given command, or DefaultCommand if argv is empty, and
// returns its standard output. Standard error is discarded on success.
func Run(ctx context.Context, argv ...string) (string, error) {
	if len(argv) == 0 {
		argv = DefaultCommand
	}
	if argv[0] == "" {
		return "", ErrNoCommand
	}

	var (
		stdout bytes.Buffer
		stderr bytes.Buffer
		cmd    = exec.CommandContext(ctx, argv[0], argv[1:]...)
	)

	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.Debug("running %s", strings.Join(argv, " "))

	err := cmd.Run()
	if err == nil {
		return stdout.String(), nil
	}

	exitErr := &exec.ExitError{}
	if !errors.As(err, &exitErr) {
		return "", fmt.Errorf("%w: %s: %w", ErrFailed, argv[0], err)
	}

	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return "", fmt.Errorf("%w: %s terminated unexpectedly with signal %d",
			ErrFailed, argv[0], ws.Signal())
	}

	return "", fmt.Errorf("%w: %s exited unexpectedly with status %d: stdout:\n%sstderr:\n%s",
		ErrFailed, argv[0], exitErr.ExitCode(), stdout.String(), stderr.String())
}

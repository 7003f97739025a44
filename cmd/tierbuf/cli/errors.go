// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"

	"github.com/bureau-foundation/tierbuf/lib/process"
)

// Validation reports bad command-line input. It exits with status 2.
func Validation(format string, args ...any) error {
	return process.Usage(fmt.Errorf(format, args...))
}

// ExitError exits with Code without printing anything; the command
// has already written its own output.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit code %d", e.Code)
}

// ExitCode implements process.ExitCoder.
func (e *ExitError) ExitCode() int {
	return e.Code
}

// RequireArgs checks the positional argument count.
func RequireArgs(args []string, names ...string) error {
	if len(args) != len(names) {
		return Validation("expected %d argument(s) (%v), got %d", len(names), names, len(args))
	}
	return nil
}

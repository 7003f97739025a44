// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// ExitCoder is implemented by errors that choose their process exit
// status.
type ExitCoder interface {
	ExitCode() int
}

// UsageError marks a bad invocation or configuration. It exits with
// status 2.
type UsageError struct {
	Err error
}

func (e *UsageError) Error() string { return e.Err.Error() }
func (e *UsageError) Unwrap() error { return e.Err }
func (e *UsageError) ExitCode() int { return 2 }

// Usage wraps err as a UsageError. A nil err stays nil.
func Usage(err error) error {
	if err == nil {
		return nil
	}
	return &UsageError{Err: err}
}

// Overridden in tests.
var (
	stderr io.Writer = os.Stderr
	exit             = os.Exit
)

// Fatal writes "error: err" to stderr and exits. The status is taken
// from the first ExitCoder in err's chain, 1 otherwise. Use it in
// main() for errors from run(), where the structured logger may not
// exist yet.
func Fatal(err error) {
	fmt.Fprintf(stderr, "error: %v\n", err)
	exit(ExitCode(err))
}

// ExitCode returns the status Fatal would exit with.
func ExitCode(err error) int {
	var coder ExitCoder
	if errors.As(err, &coder) {
		return coder.ExitCode()
	}
	return 1
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// ExitUsage is the exit code for command-line misuse.
const ExitUsage = 2

// ExitError carries a specific exit code through run().
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }

func (e *ExitError) Unwrap() error { return e.Err }

// Usage wraps err so that Fatal exits with ExitUsage.
func Usage(err error) error {
	return &ExitError{Code: ExitUsage, Err: err}
}

// Fatal writes "error: err" to stderr and exits: with the code of an
// ExitError in err's chain, else 1.
func Fatal(err error) {
	os.Exit(report(os.Stderr, err))
}

func report(w io.Writer, err error) int {
	fmt.Fprintf(w, "error: %v\n", err)
	var exitError *ExitError
	if errors.As(err, &exitError) && exitError.Code != 0 {
		return exitError.Code
	}
	return 1
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package otp produces the current TOTP code for a shared secret by
// running an external helper (oathtool by default).
package otp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultCommand is the helper looked up on PATH.
	DefaultCommand = "oathtool"

	// DefaultDigits is the code length requested from the helper.
	DefaultDigits = 6

	// DefaultTimeout bounds one helper invocation.
	DefaultTimeout = 10 * time.Second
)

// ErrHelperFailed wraps every helper failure: missing binary, non-zero
// exit, or timeout.
var ErrHelperFailed = errors.New("one-time code helper failed")

// Provider returns the current one-time code for secret.
type Provider interface {
	CurrentCode(ctx context.Context, secret string) ([]byte, error)
}

// Command runs "<Path> --totp -d<Digits> -b <secret>" and returns the
// helper's standard output verbatim. Zero fields take the defaults.
type Command struct {
	Path    string
	Digits  int
	Timeout time.Duration
}

// CurrentCode implements [Provider].
func (c *Command) CurrentCode(ctx context.Context, secret string) ([]byte, error) {
	path := c.Path
	if path == "" {
		path = DefaultCommand
	}
	digits := c.Digits
	if digits == 0 {
		digits = DefaultDigits
	}
	timeout := c.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	command := exec.CommandContext(ctx, path, "--totp", "-d"+strconv.Itoa(digits), "-b", secret)
	var stderr bytes.Buffer
	command.Stderr = &stderr
	// A helper that forks and exits can leave its output pipe held open.
	command.WaitDelay = time.Second

	output, err := command.Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %s did not finish within %s", ErrHelperFailed, path, timeout)
		}
		if detail := strings.TrimSpace(stderr.String()); detail != "" {
			return nil, fmt.Errorf("%w: %s: %v: %s", ErrHelperFailed, path, err, detail)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrHelperFailed, path, err)
	}
	return output, nil
}

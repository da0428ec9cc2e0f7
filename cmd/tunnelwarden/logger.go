// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"

	"github.com/bureau-foundation/tunnelwarden/lib/config"
)

// newLogger builds the process logger writing to output. The auto
// format picks human-readable text when output is a terminal and JSON
// when it is captured by journald or a file.
func newLogger(output io.Writer, settings config.LogConfig) (*slog.Logger, error) {
	level, err := settings.SlogLevel()
	if err != nil {
		return nil, err
	}
	options := &slog.HandlerOptions{Level: level}

	format := settings.Format
	if format == "" || format == config.FormatAuto {
		format = config.FormatJSON
		if isTerminal(output) {
			format = config.FormatText
		}
	}

	var handler slog.Handler
	if format == config.FormatText {
		handler = slog.NewTextHandler(output, options)
	} else {
		handler = slog.NewJSONHandler(output, options)
	}
	return slog.New(handler), nil
}

func isTerminal(output io.Writer) bool {
	file, ok := output.(*os.File)
	return ok && term.IsTerminal(int(file.Fd()))
}

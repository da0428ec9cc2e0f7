// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

// maxFileSize bounds ReadFile. Escrow identities and passphrase files
// are a few hundred bytes at most.
const maxFileSize = 64 << 10

// ReadFile reads a secret from path, or from stdin when path is "-",
// trims surrounding whitespace, and returns it in a guarded buffer.
// Every heap copy of the file contents is zeroed before returning.
func ReadFile(path string) (*Buffer, error) {
	var reader io.Reader
	if path == "-" {
		reader = os.Stdin
	} else {
		file, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer file.Close()
		reader = file
	}

	data, err := io.ReadAll(io.LimitReader(reader, maxFileSize+1))
	defer Zero(data)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if len(data) > maxFileSize {
		return nil, fmt.Errorf("%s exceeds %d bytes", path, maxFileSize)
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%s is empty", path)
	}
	// NewFromBytes zeroes trimmed, which aliases data.
	return NewFromBytes(trimmed)
}

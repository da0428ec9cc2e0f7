// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds the entrypoint helper for tunnelwarden's
// binary: reporting the error returned by run() on stderr, where the
// structured logger may not exist yet, and exiting with the right code.
package process

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports tunnelwarden build information.
//
// Release builds inject values with -ldflags, for example:
//
//	go build -ldflags "-X github.com/bureau-foundation/tunnelwarden/lib/version.GitCommit=$(git rev-parse --short HEAD)"
//
// Without ldflags, the commit and dirty flag fall back to the VCS
// stamp the Go toolchain embeds in module builds.
package version

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for tunnelwarden
// packages: bounded channel receives and log capture.
package testutil

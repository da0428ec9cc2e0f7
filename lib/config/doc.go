// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads tunnelwarden's optional YAML configuration.
//
// The file is selected by the --config flag or, failing that, the
// TUNNELWARDEN_CONFIG environment variable (see [Load]). With neither
// set, [Default] is used unchanged. There is no search path: a
// configuration is either named explicitly or absent.
//
// A file only needs the keys it changes; everything else keeps its
// default. Unknown keys are rejected so that a misspelled setting
// fails loudly instead of being ignored.
//
// ${VAR} and ${VAR:-default} are expanded in the OTP helper command
// and the Bitwarden URL after loading. No environment variable
// overrides a value directly.
//
// This package depends on no other tunnelwarden packages.
package config

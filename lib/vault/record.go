// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package vault

import (
	"errors"
	"log/slog"
)

// Record is the credential bundle protected by the vault. A Record is
// treated as immutable once loaded.
type Record struct {
	Username string `cbor:"username"`
	Password string `cbor:"password"`
	// Secret is the base32 TOTP seed.
	Secret string `cbor:"secret"`
	// Config names the OpenVPN 3 configuration profile to start.
	Config string `cbor:"config"`
}

// Validate reports every empty field.
func (r Record) Validate() error {
	var errs []error
	if r.Username == "" {
		errs = append(errs, errors.New("username is empty"))
	}
	if r.Password == "" {
		errs = append(errs, errors.New("password is empty"))
	}
	if r.Secret == "" {
		errs = append(errs, errors.New("secret is empty"))
	}
	if r.Config == "" {
		errs = append(errs, errors.New("config is empty"))
	}
	return errors.Join(errs...)
}

// LogValue keeps the password and TOTP seed out of log output.
func (r Record) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("username", r.Username),
		slog.String("config", r.Config),
	)
}

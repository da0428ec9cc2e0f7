// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"errors"
	"fmt"
)

var (
	// ErrConfigurationNotFound means no configuration profile matches
	// the name in the credential record.
	ErrConfigurationNotFound = errors.New("configuration profile not found")

	// ErrNoSession is returned by Ready when no session is current.
	ErrNoSession = errors.New("no current session")

	// ErrReconnectLimit means the reconnect policy gave up.
	ErrReconnectLimit = errors.New("reconnect attempts exhausted")
)

// ProvisioningError reports a session that could not be given its
// inputs. Slot is empty when the slot list itself could not be fetched.
type ProvisioningError struct {
	Slot string
	Err  error
}

func (e *ProvisioningError) Error() string {
	if e.Slot == "" {
		return fmt.Sprintf("provisioning session: %v", e.Err)
	}
	return fmt.Sprintf("provisioning input slot %q: %v", e.Slot, e.Err)
}

func (e *ProvisioningError) Unwrap() error { return e.Err }

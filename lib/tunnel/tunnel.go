// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package tunnel defines the contract tunnelwarden consumes from a
// tunnel-management service: configuration lookup, session creation,
// user input slots, and the asynchronous status and attention events a
// session emits.
//
// lib/openvpn3 implements it over D-Bus; tests use in-memory fakes.
package tunnel

import "context"

// ConfigHandle identifies a stored configuration profile inside the
// service (a D-Bus object path for OpenVPN 3).
type ConfigHandle string

// Configuration is a resolved configuration profile.
type Configuration struct {
	Handle ConfigHandle
	Name   string
}

// Service is the tunnel-management service.
type Service interface {
	// LookupConfigName returns every profile stored under name.
	LookupConfigName(ctx context.Context, name string) ([]ConfigHandle, error)

	// Retrieve resolves a handle to its configuration.
	Retrieve(ctx context.Context, handle ConfigHandle) (Configuration, error)

	// NewTunnel creates a session bound to configuration. The session
	// does not connect until Connect is called.
	NewTunnel(ctx context.Context, configuration Configuration) (Session, error)
}

// Session is one tunnel connection attempt.
type Session interface {
	// ID is the service-assigned identity, stamped on every event.
	ID() string

	// StatusChangeCallback registers the status handler, replacing any
	// previous one. Handlers run on the service's dispatch goroutine.
	StatusChangeCallback(handler func(StatusChange))

	// AttentionRequiredCallback registers the attention handler,
	// replacing any previous one.
	AttentionRequiredCallback(handler func(AttentionRequired))

	// FetchUserInputSlots returns the inputs the service needs before
	// it will connect, in the order the service queued them.
	FetchUserInputSlots(ctx context.Context) ([]InputSlot, error)

	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error

	// Ready returns nil when the session has everything it needs to
	// connect, or an error describing what is missing.
	Ready(ctx context.Context) error
}

// InputSlot is a named variable the service wants filled.
type InputSlot interface {
	VariableName() string
	ProvideInput(ctx context.Context, value string) error
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package supervisor keeps one tunnel session connected.
//
// [Supervisor] owns the single current session. StartNewSession tears
// down the previous session (if any), creates a new one, registers the
// event callbacks, fills every requested input slot from the credential
// record (username, password, or a fresh one-time code for any other
// slot), and issues Connect. DisconnectSession is idempotent.
//
// Session callbacks never act directly. They wrap each notification in
// a [tunnel.Event] and push it onto a channel that [Supervisor.Run]
// consumes on one goroutine, handing each event to the [Reactor] in
// arrival order. Events stamped with a session that is no longer
// current are dropped, so a replaced session announcing its own
// disconnect cannot trigger a second reconnect.
//
// The [Reactor] reconnects on authentication failure (minor 11: check
// readiness, disconnect, start a new session) and on disconnect (minor
// 9: start a new session). Every reconnect first waits out an
// exponential backoff; once the configured attempt ceiling is reached
// the reactor returns [ErrReconnectLimit]. A "Connected" status resets
// the backoff.
//
// Provisioning failures are not retried: they surface from Run as a
// [*ProvisioningError]. Run always disconnects the current session
// before returning, including on context cancellation.
package supervisor

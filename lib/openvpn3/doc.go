// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package openvpn3 implements [tunnel.Service] over the OpenVPN 3
// Linux D-Bus API on the system bus.
//
// Two services are used. The configuration manager
// (net.openvpn.v3.configuration) resolves profile names to object
// paths. The session manager (net.openvpn.v3.sessions) creates session
// objects, which in turn expose the user input queue, Connect,
// Disconnect, and Ready, and emit the StatusChange and
// AttentionRequired signals.
//
// A [Client] owns one bus connection and one dispatch goroutine. Every
// signal for a live session is decoded there and passed to that
// session's registered handler, so handlers for one client never run
// concurrently.
package openvpn3

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tunnel

import "fmt"

// Event is a session notification: [StatusChange] or
// [AttentionRequired].
type Event interface {
	// Session returns the ID of the session that emitted the event.
	Session() string

	isEvent()
}

// StatusChange is a (major, minor, message) status triple.
type StatusChange struct {
	SessionID string
	Major     StatusMajor
	Minor     StatusMinor
	Message   string
}

// AttentionRequired reports a condition only an operator can resolve,
// such as a captive portal or a certificate problem.
type AttentionRequired struct {
	SessionID string
	Type      uint32
	Group     uint32
	Message   string
}

func (e StatusChange) Session() string { return e.SessionID }
func (e AttentionRequired) Session() string { return e.SessionID }

func (StatusChange) isEvent() {}
func (AttentionRequired) isEvent() {}

// StatusMajor is the status category.
type StatusMajor uint32

// StatusMinor is the status code within a category.
type StatusMinor uint32

// Status categories. Values follow openvpn3-linux src/dbus/constants.hpp.
const (
	MajorUnset      StatusMajor = 0
	MajorConfig     StatusMajor = 1
	MajorConnection StatusMajor = 2
	MajorSession    StatusMajor = 3
	MajorPKCS11     StatusMajor = 4
	MajorProcess    StatusMajor = 5
)

// Connection status codes reported under [MajorConnection].
const (
	MinorConfigOK       StatusMinor = 2
	MinorConnecting     StatusMinor = 6
	MinorConnected      StatusMinor = 7
	MinorDisconnecting  StatusMinor = 8
	MinorDisconnected   StatusMinor = 9
	MinorAuthFailed     StatusMinor = 11
	MinorReconnecting   StatusMinor = 12
	MinorConnectionDone StatusMinor = 16
)

var connectionPhases = map[StatusMinor]string{
	MinorConfigOK:       "Config parsed",
	MinorConnecting:     "Connecting",
	MinorConnected:      "Connected",
	MinorDisconnecting:  "Disconnecting",
	MinorDisconnected:   "Disconnected",
	MinorAuthFailed:     "Authentication failed",
	MinorReconnecting:   "Reconnecting",
	MinorConnectionDone: "Connection done",
}

// Phase returns the human-readable phase for a recognized connection
// status, and false for anything else.
func (e StatusChange) Phase() (string, bool) {
	if e.Major != MajorConnection {
		return "", false
	}
	phase, ok := connectionPhases[e.Minor]
	return phase, ok
}

func (e StatusChange) String() string {
	return fmt.Sprintf("%d, %d, %s", e.Major, e.Minor, e.Message)
}

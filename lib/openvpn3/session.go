// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package openvpn3

import (
	"context"
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/bureau-foundation/tunnelwarden/lib/tunnel"
)

// maxPending bounds the events held for a session whose handler is not
// registered yet. The oldest are dropped beyond it.
const maxPending = 32

// Session is one OpenVPN 3 session object.
//
// Signals can arrive between NewTunnel and the registration of a
// handler. They are held in arrival order and handed to the handler
// once it is set, always from the client's dispatch goroutine.
type Session struct {
	client *Client
	path   dbus.ObjectPath
	object dbus.BusObject

	mu          sync.Mutex
	onStatus    func(tunnel.StatusChange)
	onAttention func(tunnel.AttentionRequired)
	pending     []tunnel.Event
}

var _ tunnel.Session = (*Session)(nil)

// ID returns the session's object path.
func (s *Session) ID() string { return string(s.path) }

// StatusChangeCallback sets the status handler. Held status events are
// delivered to it first.
func (s *Session) StatusChangeCallback(handler func(tunnel.StatusChange)) {
	s.mu.Lock()
	s.onStatus = handler
	s.mu.Unlock()
	s.client.requestReplay(s)
}

// AttentionRequiredCallback sets the attention handler. Held attention
// events are delivered to it first.
func (s *Session) AttentionRequiredCallback(handler func(tunnel.AttentionRequired)) {
	s.mu.Lock()
	s.onAttention = handler
	s.mu.Unlock()
	s.client.requestReplay(s)
}

// receive queues event (if non-nil) and delivers every queued event
// that now has a handler, oldest first. It runs only on the dispatch
// goroutine.
func (s *Session) receive(event tunnel.Event) {
	s.mu.Lock()
	if event != nil {
		if len(s.pending) == maxPending {
			s.client.logger.Warn("dropping session event, no handler registered",
				"session", string(s.path),
				"event", s.pending[0],
			)
			s.pending = s.pending[1:]
		}
		s.pending = append(s.pending, event)
	}
	status, attention := s.onStatus, s.onAttention
	var ready []tunnel.Event
	held := s.pending[:0]
	for _, queued := range s.pending {
		switch queued.(type) {
		case tunnel.StatusChange:
			if status == nil {
				held = append(held, queued)
				continue
			}
		case tunnel.AttentionRequired:
			if attention == nil {
				held = append(held, queued)
				continue
			}
		}
		ready = append(ready, queued)
	}
	s.pending = held
	s.mu.Unlock()

	for _, event := range ready {
		switch event := event.(type) {
		case tunnel.StatusChange:
			status(event)
		case tunnel.AttentionRequired:
			attention(event)
		}
	}
}

type typeGroup struct {
	Type  uint32
	Group uint32
}

// FetchUserInputSlots walks the session's user input queue: every
// queued (type, group) pair, then every request ID within it.
func (s *Session) FetchUserInputSlots(ctx context.Context) ([]tunnel.InputSlot, error) {
	var groups []typeGroup
	if err := s.call(ctx, "UserInputQueueGetTypeGroup").Store(&groups); err != nil {
		return nil, s.wrap("UserInputQueueGetTypeGroup", err)
	}

	var slots []tunnel.InputSlot
	for _, group := range groups {
		var ids []uint32
		if err := s.call(ctx, "UserInputQueueCheck", group.Type, group.Group).Store(&ids); err != nil {
			return nil, s.wrap("UserInputQueueCheck", err)
		}
		for _, id := range ids {
			slot := &InputSlot{session: s}
			err := s.call(ctx, "UserInputQueueFetch", group.Type, group.Group, id).Store(
				&slot.Type, &slot.Group, &slot.ID, &slot.Name, &slot.Description, &slot.Hidden)
			if err != nil {
				return nil, s.wrap("UserInputQueueFetch", err)
			}
			slots = append(slots, slot)
		}
	}
	return slots, nil
}

func (s *Session) Connect(ctx context.Context) error {
	if err := s.call(ctx, "Connect").Err; err != nil {
		return s.wrap("Connect", err)
	}
	return nil
}

// Disconnect tears the session down and stops dispatching its signals.
func (s *Session) Disconnect(ctx context.Context) error {
	defer s.client.forget(s.path)
	if err := s.call(ctx, "Disconnect").Err; err != nil {
		return s.wrap("Disconnect", err)
	}
	return nil
}

// Ready returns the service's explanation when the session still lacks
// something it needs to connect.
func (s *Session) Ready(ctx context.Context) error {
	if err := s.call(ctx, "Ready").Err; err != nil {
		return s.wrap("Ready", err)
	}
	return nil
}

func (s *Session) call(ctx context.Context, method string, args ...any) *dbus.Call {
	return call(ctx, s.object, sessionInterface+"."+method, args...)
}

func (s *Session) wrap(method string, err error) error {
	return fmt.Errorf("%s on %s: %w", method, s.path, err)
}

// InputSlot is one queued user input request.
type InputSlot struct {
	session *Session

	Type        uint32
	Group       uint32
	ID          uint32
	Name        string
	Description string
	Hidden      bool
}

var _ tunnel.InputSlot = (*InputSlot)(nil)

func (i *InputSlot) VariableName() string { return i.Name }

func (i *InputSlot) ProvideInput(ctx context.Context, value string) error {
	if err := i.session.call(ctx, "UserInputProvide", i.Type, i.Group, i.ID, value).Err; err != nil {
		return i.session.wrap("UserInputProvide "+i.Name, err)
	}
	return nil
}

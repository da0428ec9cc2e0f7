// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/bureau-foundation/tunnelwarden/lib/tunnel"
)

// fakeService is an in-memory tunnel service. Every session it creates
// is sent on created, and again on connected once Connect is called on
// it, by which point both callbacks are registered.
type fakeService struct {
	mu           sync.Mutex
	profiles     map[string][]tunnel.ConfigHandle
	slotNames    []string
	newTunnelErr error
	configure    func(index int, session *fakeSession)
	sessions     []*fakeSession
	created      chan *fakeSession
	connected    chan *fakeSession
}

func newFakeService(slotNames ...string) *fakeService {
	return &fakeService{
		profiles: map[string][]tunnel.ConfigHandle{
			"work-vpn": {"/net/openvpn/v3/configuration/work"},
		},
		slotNames: slotNames,
		created:   make(chan *fakeSession, 16),
		connected: make(chan *fakeSession, 16),
	}
}

func (f *fakeService) LookupConfigName(_ context.Context, name string) ([]tunnel.ConfigHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.profiles[name], nil
}

func (f *fakeService) Retrieve(_ context.Context, handle tunnel.ConfigHandle) (tunnel.Configuration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for name, handles := range f.profiles {
		if slices.Contains(handles, handle) {
			return tunnel.Configuration{Handle: handle, Name: name}, nil
		}
	}
	return tunnel.Configuration{}, fmt.Errorf("no configuration at %s", handle)
}

func (f *fakeService) NewTunnel(_ context.Context, configuration tunnel.Configuration) (tunnel.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.newTunnelErr != nil {
		return nil, f.newTunnelErr
	}
	session := &fakeSession{
		id:            fmt.Sprintf("/net/openvpn/v3/sessions/%d", len(f.sessions)+1),
		configuration: configuration,
		connected:     f.connected,
	}
	for _, name := range f.slotNames {
		session.slots = append(session.slots, &fakeSlot{name: name, session: session})
	}
	if f.configure != nil {
		f.configure(len(f.sessions), session)
	}
	f.sessions = append(f.sessions, session)
	f.created <- session
	return session, nil
}

func (f *fakeService) sessionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

// fakeSession records every call made on it, in order.
type fakeSession struct {
	id            string
	configuration tunnel.Configuration
	slots         []*fakeSlot
	connected     chan<- *fakeSession

	mu            sync.Mutex
	calls         []string
	onStatus      func(tunnel.StatusChange)
	onAttention   func(tunnel.AttentionRequired)
	fetchErr      error
	connectErr    error
	disconnectErr error
	readyErr      error
}

func (s *fakeSession) record(call string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
}

func (s *fakeSession) history() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.calls)
}

func (s *fakeSession) count(call string) int {
	n := 0
	for _, c := range s.history() {
		if c == call {
			n++
		}
	}
	return n
}

func (s *fakeSession) ID() string { return s.id }

func (s *fakeSession) StatusChangeCallback(handler func(tunnel.StatusChange)) {
	s.record("status_callback")
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStatus = handler
}

func (s *fakeSession) AttentionRequiredCallback(handler func(tunnel.AttentionRequired)) {
	s.record("attention_callback")
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onAttention = handler
}

func (s *fakeSession) FetchUserInputSlots(context.Context) ([]tunnel.InputSlot, error) {
	s.record("fetch_slots")
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	slots := make([]tunnel.InputSlot, len(s.slots))
	for i, slot := range s.slots {
		slots[i] = slot
	}
	return slots, nil
}

func (s *fakeSession) Connect(context.Context) error {
	s.record("connect")
	if s.connectErr != nil {
		return s.connectErr
	}
	s.connected <- s
	return nil
}

func (s *fakeSession) Disconnect(context.Context) error {
	s.record("disconnect")
	return s.disconnectErr
}

func (s *fakeSession) Ready(context.Context) error {
	s.record("ready")
	return s.readyErr
}

// emitStatus invokes the registered status handler the way the
// service's dispatch goroutine would. The SessionID is left blank; the
// supervisor stamps it.
func (s *fakeSession) emitStatus(major tunnel.StatusMajor, minor tunnel.StatusMinor, message string) {
	s.mu.Lock()
	handler := s.onStatus
	s.mu.Unlock()
	if handler == nil {
		panic("no status handler registered on " + s.id)
	}
	handler(tunnel.StatusChange{Major: major, Minor: minor, Message: message})
}

func (s *fakeSession) emitAttention(message string) {
	s.mu.Lock()
	handler := s.onAttention
	s.mu.Unlock()
	if handler == nil {
		panic("no attention handler registered on " + s.id)
	}
	handler(tunnel.AttentionRequired{Type: 1, Group: 2, Message: message})
}

type fakeSlot struct {
	name       string
	session    *fakeSession
	provideErr error
}

func (s *fakeSlot) VariableName() string { return s.name }

func (s *fakeSlot) ProvideInput(_ context.Context, value string) error {
	s.session.record("provide " + s.name + "=" + value)
	return s.provideErr
}

// fakeOTP returns a fixed code and counts calls.
type fakeOTP struct {
	mu      sync.Mutex
	code    string
	err     error
	calls   int
	secrets []string
}

func (f *fakeOTP) CurrentCode(_ context.Context, secret string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.secrets = append(f.secrets, secret)
	if f.err != nil {
		return nil, f.err
	}
	return []byte(f.code), nil
}

func (f *fakeOTP) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeController records reactor-driven lifecycle calls.
type fakeController struct {
	calls    []string
	startErr error
	readyErr error
}

func (c *fakeController) StartNewSession(context.Context) error {
	c.calls = append(c.calls, "start")
	return c.startErr
}

func (c *fakeController) DisconnectSession(context.Context) error {
	c.calls = append(c.calls, "disconnect")
	return nil
}

func (c *fakeController) Ready(context.Context) error {
	c.calls = append(c.calls, "ready")
	return c.readyErr
}

var errFake = errors.New("fake failure")

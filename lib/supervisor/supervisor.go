// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/tunnelwarden/lib/clock"
	"github.com/bureau-foundation/tunnelwarden/lib/otp"
	"github.com/bureau-foundation/tunnelwarden/lib/tunnel"
	"github.com/bureau-foundation/tunnelwarden/lib/vault"
)

// Input slot names filled from the credential record. Any other slot
// receives a fresh one-time code.
const (
	SlotUsername = "username"
	SlotPassword = "password"
)

const (
	defaultShutdownTimeout = 10 * time.Second
	defaultEventBuffer     = 32
)

// Options configures a Supervisor.
type Options struct {
	Service     tunnel.Service
	Credentials vault.Record
	OTP         otp.Provider
	Reconnect   ReconnectPolicy

	// ShutdownTimeout bounds the final disconnect after Run's context
	// is cancelled. Zero means 10 seconds.
	ShutdownTimeout time.Duration

	// EventBuffer is the capacity of the event channel between session
	// callbacks and Run. It should absorb the events of one reconnect,
	// since Run does not drain it while a session is being started.
	// When it is full, events from replaced sessions are dropped and
	// events from the current session wait. Zero means 32.
	EventBuffer int

	Clock  clock.Clock
	Logger *slog.Logger
}

// Supervisor holds at most one current session and keeps it connected.
type Supervisor struct {
	service         tunnel.Service
	credentials     vault.Record
	otp             otp.Provider
	shutdownTimeout time.Duration
	logger          *slog.Logger
	reactor         *Reactor

	events    chan tunnel.Event
	stopped   chan struct{}
	closeOnce sync.Once

	// mu is held across session creation, provisioning, and
	// disconnect so the two never interleave.
	mu            sync.Mutex
	configuration *tunnel.Configuration
	current       tunnel.Session

	// currentSession mirrors current.ID() for callbacks, which must
	// not wait on mu.
	currentSession atomic.Value
}

// New returns a Supervisor. Nothing talks to the service until
// ResolveConfiguration, StartNewSession, or Run is called.
func New(options Options) *Supervisor {
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	shutdownTimeout := options.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = defaultShutdownTimeout
	}
	eventBuffer := options.EventBuffer
	if eventBuffer <= 0 {
		eventBuffer = defaultEventBuffer
	}
	supervisor := &Supervisor{
		service:         options.Service,
		credentials:     options.Credentials,
		otp:             options.OTP,
		shutdownTimeout: shutdownTimeout,
		logger:          logger,
		events:          make(chan tunnel.Event, eventBuffer),
		stopped:         make(chan struct{}),
	}
	supervisor.currentSession.Store("")
	supervisor.reactor = NewReactor(supervisor, options.Reconnect, options.Clock, logger)
	return supervisor
}

// ResolveConfiguration looks up the configuration profile named in the
// credential record and remembers it for every later session. When
// several profiles share the name the first is used.
func (s *Supervisor) ResolveConfiguration(ctx context.Context) (tunnel.Configuration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolveLocked(ctx)
}

func (s *Supervisor) resolveLocked(ctx context.Context) (tunnel.Configuration, error) {
	if s.configuration != nil {
		return *s.configuration, nil
	}
	name := s.credentials.Config
	handles, err := s.service.LookupConfigName(ctx, name)
	if err != nil {
		return tunnel.Configuration{}, fmt.Errorf("looking up configuration %q: %w", name, err)
	}
	if len(handles) == 0 {
		return tunnel.Configuration{}, fmt.Errorf("%w: %q", ErrConfigurationNotFound, name)
	}
	if len(handles) > 1 {
		s.logger.Warn("several configuration profiles share a name, using the first",
			"config", name,
			"matches", len(handles),
		)
	}
	configuration, err := s.service.Retrieve(ctx, handles[0])
	if err != nil {
		return tunnel.Configuration{}, fmt.Errorf("retrieving configuration %q: %w", name, err)
	}
	s.configuration = &configuration
	s.logger.Info("configuration resolved", "config", name, "handle", string(configuration.Handle))
	return configuration, nil
}

// StartNewSession replaces the current session with a freshly
// provisioned and connecting one. A failure to disconnect the previous
// session is logged and does not stop the new one.
func (s *Supervisor) StartNewSession(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	configuration, err := s.resolveLocked(ctx)
	if err != nil {
		return err
	}

	if err := s.disconnectLocked(ctx); err != nil {
		s.logger.Warn("disconnecting previous session", "error", err)
	}

	session, err := s.service.NewTunnel(ctx, configuration)
	if err != nil {
		return fmt.Errorf("creating session for %q: %w", configuration.Name, err)
	}
	s.current = session
	sessionID := session.ID()
	s.currentSession.Store(sessionID)

	session.StatusChangeCallback(func(event tunnel.StatusChange) {
		event.SessionID = sessionID
		s.deliver(event)
	})
	session.AttentionRequiredCallback(func(event tunnel.AttentionRequired) {
		event.SessionID = sessionID
		s.deliver(event)
	})

	slots, err := session.FetchUserInputSlots(ctx)
	if err != nil {
		return &ProvisioningError{Err: fmt.Errorf("fetching input slots: %w", err)}
	}
	for _, slot := range slots {
		if err := s.provide(ctx, slot); err != nil {
			return err
		}
	}

	if err := session.Connect(ctx); err != nil {
		return fmt.Errorf("connecting session %s: %w", sessionID, err)
	}
	s.logger.Info("session started", "session", sessionID, "slots", len(slots))
	return nil
}

func (s *Supervisor) provide(ctx context.Context, slot tunnel.InputSlot) error {
	name := slot.VariableName()
	var value string
	switch name {
	case SlotUsername:
		value = s.credentials.Username
	case SlotPassword:
		value = s.credentials.Password
	default:
		code, err := s.otp.CurrentCode(ctx, s.credentials.Secret)
		if err != nil {
			return &ProvisioningError{Slot: name, Err: err}
		}
		value = string(code)
	}
	if err := slot.ProvideInput(ctx, value); err != nil {
		return &ProvisioningError{Slot: name, Err: err}
	}
	s.logger.Debug("input slot provided", "slot", name)
	return nil
}

// DisconnectSession disconnects and forgets the current session. With
// no current session it does nothing.
func (s *Supervisor) DisconnectSession(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disconnectLocked(ctx)
}

func (s *Supervisor) disconnectLocked(ctx context.Context) error {
	session := s.current
	if session == nil {
		return nil
	}
	s.current = nil
	s.currentSession.Store("")
	sessionID := session.ID()
	if err := session.Disconnect(ctx); err != nil {
		return fmt.Errorf("disconnecting session %s: %w", sessionID, err)
	}
	s.logger.Info("Disconnected", "session", sessionID)
	return nil
}

// Ready asks the current session whether it has everything it needs.
func (s *Supervisor) Ready(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return ErrNoSession
	}
	return s.current.Ready(ctx)
}

func (s *Supervisor) currentID() string {
	return s.currentSession.Load().(string)
}

// deliver hands an event from a session callback to Run. Once Run has
// returned, events are discarded. With the channel full, an event from
// a session that is no longer current is dropped rather than holding
// up the service's dispatch.
func (s *Supervisor) deliver(event tunnel.Event) {
	select {
	case s.events <- event:
		return
	case <-s.stopped:
		return
	default:
	}
	if event.Session() != s.currentID() {
		s.logger.Debug("event buffer full, dropping event from replaced session",
			"session", event.Session(),
		)
		return
	}
	select {
	case s.events <- event:
	case <-s.stopped:
	}
}

// Run starts the first session and reacts to its events until ctx is
// cancelled or an unrecoverable error occurs. It returns nil on
// cancellation. The current session is always disconnected before Run
// returns. A Supervisor runs once.
func (s *Supervisor) Run(ctx context.Context) error {
	defer s.shutdown(ctx)

	if err := s.StartNewSession(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event := <-s.events:
			if current := s.currentID(); event.Session() != current {
				s.logger.Debug("dropping event from replaced session",
					"session", event.Session(),
					"current", current,
				)
				continue
			}
			if err := s.reactor.Handle(ctx, event); err != nil {
				if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
					return nil
				}
				return err
			}
		}
	}
}

func (s *Supervisor) shutdown(ctx context.Context) {
	s.closeOnce.Do(func() { close(s.stopped) })

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
	defer cancel()
	if err := s.DisconnectSession(shutdownCtx); err != nil {
		s.logger.Warn("final disconnect", "error", err)
	}
}

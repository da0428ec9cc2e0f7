// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package openvpn3

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/bureau-foundation/tunnelwarden/lib/tunnel"
)

const (
	configurationService   = "net.openvpn.v3.configuration"
	configurationInterface = "net.openvpn.v3.configuration"
	configurationRoot      = dbus.ObjectPath("/net/openvpn/v3/configuration")

	sessionService   = "net.openvpn.v3.sessions"
	sessionInterface = "net.openvpn.v3.sessions"
	sessionRoot      = dbus.ObjectPath("/net/openvpn/v3/sessions")

	propertiesGet = "org.freedesktop.DBus.Properties.Get"

	signalStatusChange      = "StatusChange"
	signalAttentionRequired = "AttentionRequired"

	// signalBuffer absorbs bursts while a handler is busy. godbus
	// queues beyond this without blocking its reader.
	signalBuffer = 64
)

// bus is the part of *dbus.Conn the client uses.
type bus interface {
	Object(destination string, path dbus.ObjectPath) dbus.BusObject
	AddMatchSignal(options ...dbus.MatchOption) error
	RemoveMatchSignal(options ...dbus.MatchOption) error
	Signal(ch chan<- *dbus.Signal)
	RemoveSignal(ch chan<- *dbus.Signal)
	Close() error
}

// Client talks to the OpenVPN 3 services. It is safe for concurrent
// use.
type Client struct {
	conn    bus
	logger  *slog.Logger
	signals chan *dbus.Signal
	replays chan *Session
	done    chan struct{}

	mu       sync.Mutex
	sessions map[dbus.ObjectPath]*Session
	closed   bool
}

var _ tunnel.Service = (*Client)(nil)

// ErrClosed is returned by operations on a closed Client.
var ErrClosed = errors.New("openvpn3: client closed")

// Dial connects to the system bus.
func Dial(logger *slog.Logger) (*Client, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("connecting to the system bus: %w", err)
	}
	return newClient(conn, logger), nil
}

func newClient(conn bus, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	client := &Client{
		conn:     conn,
		logger:   logger,
		signals:  make(chan *dbus.Signal, signalBuffer),
		replays:  make(chan *Session, signalBuffer),
		done:     make(chan struct{}),
		sessions: make(map[dbus.ObjectPath]*Session),
	}
	conn.Signal(client.signals)
	go client.dispatchLoop()
	return client
}

// Close stops signal dispatch and closes the bus connection. Sessions
// are left as they are; disconnect them first.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.conn.RemoveSignal(c.signals)
	close(c.done)
	return c.conn.Close()
}

// LookupConfigName returns the object paths of every stored profile
// named name.
func (c *Client) LookupConfigName(ctx context.Context, name string) ([]tunnel.ConfigHandle, error) {
	manager := c.conn.Object(configurationService, configurationRoot)
	var paths []dbus.ObjectPath
	if err := call(ctx, manager, configurationInterface+".LookupConfigName", name).Store(&paths); err != nil {
		return nil, fmt.Errorf("LookupConfigName %q: %w", name, err)
	}
	handles := make([]tunnel.ConfigHandle, len(paths))
	for i, path := range paths {
		handles[i] = tunnel.ConfigHandle(path)
	}
	return handles, nil
}

// Retrieve reads the profile's name property.
func (c *Client) Retrieve(ctx context.Context, handle tunnel.ConfigHandle) (tunnel.Configuration, error) {
	path := dbus.ObjectPath(handle)
	if !path.IsValid() {
		return tunnel.Configuration{}, fmt.Errorf("invalid configuration path %q", handle)
	}
	profile := c.conn.Object(configurationService, path)
	var name dbus.Variant
	if err := call(ctx, profile, propertiesGet, configurationInterface, "name").Store(&name); err != nil {
		return tunnel.Configuration{}, fmt.Errorf("reading name of %s: %w", path, err)
	}
	value, ok := name.Value().(string)
	if !ok {
		return tunnel.Configuration{}, fmt.Errorf("name of %s has D-Bus type %s, want string", path, name.Signature())
	}
	return tunnel.Configuration{Handle: handle, Name: value}, nil
}

// NewTunnel asks the session manager for a session bound to
// configuration and subscribes to its signals.
func (c *Client) NewTunnel(ctx context.Context, configuration tunnel.Configuration) (tunnel.Session, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	manager := c.conn.Object(sessionService, sessionRoot)
	var path dbus.ObjectPath
	err := call(ctx, manager, sessionInterface+".NewTunnel", dbus.ObjectPath(configuration.Handle)).Store(&path)
	if err != nil {
		return nil, fmt.Errorf("NewTunnel for %q: %w", configuration.Name, err)
	}

	// Registered before subscribing so no signal finds it missing.
	session := &Session{
		client: c,
		path:   path,
		object: c.conn.Object(sessionService, path),
	}
	c.mu.Lock()
	c.sessions[path] = session
	c.mu.Unlock()

	if err := c.conn.AddMatchSignal(sessionMatch(path)...); err != nil {
		c.mu.Lock()
		delete(c.sessions, path)
		c.mu.Unlock()
		return nil, fmt.Errorf("subscribing to signals of %s: %w", path, err)
	}

	c.logger.Debug("session created", "session", string(path), "config", configuration.Name)
	return session, nil
}

// forget drops a session from dispatch and removes its match rule.
func (c *Client) forget(path dbus.ObjectPath) {
	c.mu.Lock()
	_, known := c.sessions[path]
	delete(c.sessions, path)
	c.mu.Unlock()
	if !known {
		return
	}
	if err := c.conn.RemoveMatchSignal(sessionMatch(path)...); err != nil {
		c.logger.Debug("removing signal match", "session", string(path), "error", err)
	}
}

func sessionMatch(path dbus.ObjectPath) []dbus.MatchOption {
	return []dbus.MatchOption{
		dbus.WithMatchObjectPath(path),
		dbus.WithMatchInterface(sessionInterface),
	}
}

// requestReplay asks the dispatch goroutine to deliver events held for
// session. When the queue is full the held events go out with the
// session's next signal instead.
func (c *Client) requestReplay(session *Session) {
	select {
	case c.replays <- session:
	default:
	}
}

func (c *Client) dispatchLoop() {
	for {
		select {
		case <-c.done:
			return
		case session := <-c.replays:
			session.receive(nil)
		case signal, ok := <-c.signals:
			if !ok {
				return
			}
			c.dispatch(signal)
		}
	}
}

// dispatch routes one signal to its session's handler.
func (c *Client) dispatch(signal *dbus.Signal) {
	if signal == nil {
		return
	}
	c.mu.Lock()
	session := c.sessions[signal.Path]
	c.mu.Unlock()
	if session == nil {
		return
	}

	switch signal.Name {
	case sessionInterface + "." + signalStatusChange:
		var major, minor uint32
		var message string
		if err := dbus.Store(signal.Body, &major, &minor, &message); err != nil {
			c.logger.Warn("malformed StatusChange signal", "session", string(signal.Path), "error", err)
			return
		}
		session.receive(tunnel.StatusChange{
			SessionID: string(signal.Path),
			Major:     tunnel.StatusMajor(major),
			Minor:     tunnel.StatusMinor(minor),
			Message:   message,
		})
	case sessionInterface + "." + signalAttentionRequired:
		var kind, group uint32
		var message string
		if err := dbus.Store(signal.Body, &kind, &group, &message); err != nil {
			c.logger.Warn("malformed AttentionRequired signal", "session", string(signal.Path), "error", err)
			return
		}
		session.receive(tunnel.AttentionRequired{
			SessionID: string(signal.Path),
			Type:      kind,
			Group:     group,
			Message:   message,
		})
	default:
		c.logger.Debug("ignoring session signal", "session", string(signal.Path), "signal", signal.Name)
	}
}

func call(ctx context.Context, object dbus.BusObject, method string, args ...any) *dbus.Call {
	return object.CallWithContext(ctx, method, 0, args...)
}

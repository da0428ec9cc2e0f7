// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package openvpn3

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/bureau-foundation/tunnelwarden/lib/testutil"
	"github.com/bureau-foundation/tunnelwarden/lib/tunnel"
)

type methodHandler func(args []any) ([]any, error)

// fakeObject answers method calls from a table keyed by the fully
// qualified method name. Everything else on dbus.BusObject panics.
type fakeObject struct {
	dbus.BusObject

	bus  *fakeBus
	path dbus.ObjectPath
}

func (o *fakeObject) CallWithContext(_ context.Context, method string, _ dbus.Flags, args ...any) *dbus.Call {
	o.bus.mu.Lock()
	o.bus.calls = append(o.bus.calls, fmt.Sprintf("%s %s %v", o.path, method, args))
	handler := o.bus.methods[string(o.path)+" "+method]
	o.bus.mu.Unlock()
	if handler == nil {
		return &dbus.Call{Method: method, Err: dbus.MakeFailedError(fmt.Errorf("no handler for %s", method))}
	}
	body, err := handler(args)
	return &dbus.Call{Method: method, Body: body, Err: err}
}

type fakeBus struct {
	mu         sync.Mutex
	methods    map[string]methodHandler
	calls      []string
	matches    int
	signalChan chan<- *dbus.Signal
	closed     bool
}

func newFakeBus() *fakeBus {
	return &fakeBus{methods: make(map[string]methodHandler)}
}

func (b *fakeBus) handle(path dbus.ObjectPath, method string, handler methodHandler) {
	b.methods[string(path)+" "+method] = handler
}

func (b *fakeBus) Object(_ string, path dbus.ObjectPath) dbus.BusObject {
	return &fakeObject{bus: b, path: path}
}

func (b *fakeBus) AddMatchSignal(...dbus.MatchOption) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.matches++
	return nil
}

func (b *fakeBus) RemoveMatchSignal(...dbus.MatchOption) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.matches--
	return nil
}

func (b *fakeBus) Signal(ch chan<- *dbus.Signal) { b.signalChan = ch }

func (b *fakeBus) RemoveSignal(chan<- *dbus.Signal) {}

func (b *fakeBus) Close() error {
	b.closed = true
	return nil
}

func (b *fakeBus) history() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.calls)
}

func (b *fakeBus) matchCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.matches
}

const waitTimeout = 5 * time.Second

const profilePath = dbus.ObjectPath("/net/openvpn/v3/configuration/c0ffee")

func newTestClient(t *testing.T) (*Client, *fakeBus) {
	t.Helper()
	conn := newFakeBus()
	conn.handle(configurationRoot, configurationInterface+".LookupConfigName", func(args []any) ([]any, error) {
		if args[0] == "work-vpn" {
			return []any{[]dbus.ObjectPath{profilePath}}, nil
		}
		return []any{[]dbus.ObjectPath{}}, nil
	})
	conn.handle(profilePath, propertiesGet, func(args []any) ([]any, error) {
		if args[0] != configurationInterface || args[1] != "name" {
			return nil, fmt.Errorf("unexpected property %v", args)
		}
		return []any{dbus.MakeVariant("work-vpn")}, nil
	})
	conn.handle(sessionRoot, sessionInterface+".NewTunnel", func(args []any) ([]any, error) {
		if args[0] != profilePath {
			return nil, fmt.Errorf("unexpected configuration %v", args[0])
		}
		return []any{dbus.ObjectPath("/net/openvpn/v3/sessions/s1")}, nil
	})
	client := newClient(conn, testutil.DiscardLogger())
	t.Cleanup(func() { client.Close() })
	return client, conn
}

func newTestSession(t *testing.T) (*Client, *fakeBus, *Session) {
	t.Helper()
	client, conn := newTestClient(t)
	ctx := context.Background()
	configuration, err := client.Retrieve(ctx, tunnel.ConfigHandle(profilePath))
	if err != nil {
		t.Fatalf("Retrieve() error: %v", err)
	}
	session, err := client.NewTunnel(ctx, configuration)
	if err != nil {
		t.Fatalf("NewTunnel() error: %v", err)
	}
	return client, conn, session.(*Session)
}

func TestLookupConfigName(t *testing.T) {
	client, _ := newTestClient(t)

	handles, err := client.LookupConfigName(context.Background(), "work-vpn")
	if err != nil {
		t.Fatalf("LookupConfigName() error: %v", err)
	}
	if want := []tunnel.ConfigHandle{tunnel.ConfigHandle(profilePath)}; !slices.Equal(handles, want) {
		t.Errorf("LookupConfigName() = %v, want %v", handles, want)
	}

	handles, err = client.LookupConfigName(context.Background(), "home-vpn")
	if err != nil {
		t.Fatalf("LookupConfigName(home-vpn) error: %v", err)
	}
	if len(handles) != 0 {
		t.Errorf("LookupConfigName(home-vpn) = %v, want none", handles)
	}
}

func TestRetrieve(t *testing.T) {
	client, _ := newTestClient(t)

	configuration, err := client.Retrieve(context.Background(), tunnel.ConfigHandle(profilePath))
	if err != nil {
		t.Fatalf("Retrieve() error: %v", err)
	}
	if configuration.Name != "work-vpn" {
		t.Errorf("Name = %q, want work-vpn", configuration.Name)
	}

	if _, err := client.Retrieve(context.Background(), "not a path"); err == nil {
		t.Error("Retrieve() with an invalid path succeeded")
	}
}

func TestNewTunnel_SubscribesAndDisconnectUnsubscribes(t *testing.T) {
	_, conn, session := newTestSession(t)
	if session.ID() != "/net/openvpn/v3/sessions/s1" {
		t.Errorf("ID() = %q", session.ID())
	}
	if conn.matchCount() != 1 {
		t.Fatalf("match rules after NewTunnel = %d, want 1", conn.matchCount())
	}

	conn.handle(session.path, sessionInterface+".Disconnect", func([]any) ([]any, error) { return nil, nil })
	if err := session.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect() error: %v", err)
	}
	if conn.matchCount() != 0 {
		t.Errorf("match rules after Disconnect = %d, want 0", conn.matchCount())
	}
	// A second disconnect reaches the service but does not unbalance
	// the match rules.
	if err := session.Disconnect(context.Background()); err != nil {
		t.Fatalf("second Disconnect() error: %v", err)
	}
	if conn.matchCount() != 0 {
		t.Errorf("match rules after second Disconnect = %d, want 0", conn.matchCount())
	}
}

func TestNewTunnel_AfterClose(t *testing.T) {
	client, conn := newTestClient(t)
	if err := client.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if !conn.closed {
		t.Error("Close() did not close the bus connection")
	}
	_, err := client.NewTunnel(context.Background(), tunnel.Configuration{Handle: tunnel.ConfigHandle(profilePath)})
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("NewTunnel() after Close error = %v, want ErrClosed", err)
	}
}

func TestFetchUserInputSlots(t *testing.T) {
	_, conn, session := newTestSession(t)
	conn.handle(session.path, sessionInterface+".UserInputQueueGetTypeGroup", func([]any) ([]any, error) {
		return []any{[]typeGroup{{Type: 1, Group: 1}, {Type: 1, Group: 4}}}, nil
	})
	conn.handle(session.path, sessionInterface+".UserInputQueueCheck", func(args []any) ([]any, error) {
		switch args[1] {
		case uint32(1):
			return []any{[]uint32{0, 1}}, nil
		default:
			return []any{[]uint32{0}}, nil
		}
	})
	names := map[[2]uint32]string{{1, 0}: "username", {1, 1}: "password", {4, 0}: "static_challenge"}
	conn.handle(session.path, sessionInterface+".UserInputQueueFetch", func(args []any) ([]any, error) {
		group, id := args[1].(uint32), args[2].(uint32)
		name := names[[2]uint32{group, id}]
		return []any{args[0], group, id, name, "Enter " + name, name != "username"}, nil
	})
	var provided []string
	conn.handle(session.path, sessionInterface+".UserInputProvide", func(args []any) ([]any, error) {
		provided = append(provided, fmt.Sprintf("%v/%v/%v=%v", args[0], args[1], args[2], args[3]))
		return nil, nil
	})

	slots, err := session.FetchUserInputSlots(context.Background())
	if err != nil {
		t.Fatalf("FetchUserInputSlots() error: %v", err)
	}
	var got []string
	for _, slot := range slots {
		got = append(got, slot.VariableName())
	}
	if want := []string{"username", "password", "static_challenge"}; !slices.Equal(got, want) {
		t.Fatalf("slot names = %v, want %v", got, want)
	}
	if slot := slots[1].(*InputSlot); !slot.Hidden || slot.Description != "Enter password" {
		t.Errorf("password slot = %+v", slot)
	}

	for i, slot := range slots {
		if err := slot.ProvideInput(context.Background(), fmt.Sprintf("v%d", i)); err != nil {
			t.Fatalf("ProvideInput(%s) error: %v", slot.VariableName(), err)
		}
	}
	if want := []string{"1/1/0=v0", "1/1/1=v1", "1/4/0=v2"}; !slices.Equal(provided, want) {
		t.Errorf("provided = %v, want %v", provided, want)
	}
}

func TestSessionMethods_WrapErrors(t *testing.T) {
	_, conn, session := newTestSession(t)
	conn.handle(session.path, sessionInterface+".Ready", func([]any) ([]any, error) {
		return nil, dbus.Error{Name: "net.openvpn.v3.error.ready", Body: []any{"Missing user credentials"}}
	})
	conn.handle(session.path, sessionInterface+".Connect", func([]any) ([]any, error) { return nil, nil })

	err := session.Ready(context.Background())
	if err == nil || !strings.Contains(err.Error(), "Missing user credentials") {
		t.Fatalf("Ready() error = %v, want the service's explanation", err)
	}
	var dbusErr dbus.Error
	if !errors.As(err, &dbusErr) || dbusErr.Name != "net.openvpn.v3.error.ready" {
		t.Errorf("Ready() error does not wrap the D-Bus error: %v", err)
	}
	if err := session.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}

	calls := conn.history()
	if last := calls[len(calls)-1]; !strings.Contains(last, sessionInterface+".Connect") {
		t.Errorf("last call = %q, want Connect", last)
	}
}

func TestDispatch_RoutesBySessionPath(t *testing.T) {
	client, _, session := newTestSession(t)

	var statuses []tunnel.StatusChange
	var attentions []tunnel.AttentionRequired
	session.StatusChangeCallback(func(event tunnel.StatusChange) { statuses = append(statuses, event) })
	session.AttentionRequiredCallback(func(event tunnel.AttentionRequired) { attentions = append(attentions, event) })

	client.dispatch(&dbus.Signal{
		Path: session.path,
		Name: sessionInterface + ".StatusChange",
		Body: []any{uint32(2), uint32(7), "connected"},
	})
	client.dispatch(&dbus.Signal{
		Path: session.path,
		Name: sessionInterface + ".AttentionRequired",
		Body: []any{uint32(3), uint32(1), "open url"},
	})
	// Another session, a malformed body, an unrelated member, and nil.
	client.dispatch(&dbus.Signal{
		Path: "/net/openvpn/v3/sessions/other",
		Name: sessionInterface + ".StatusChange",
		Body: []any{uint32(2), uint32(9), ""},
	})
	client.dispatch(&dbus.Signal{
		Path: session.path,
		Name: sessionInterface + ".StatusChange",
		Body: []any{"not", "a", "status"},
	})
	client.dispatch(&dbus.Signal{Path: session.path, Name: sessionInterface + ".Log", Body: []any{uint32(1), uint32(6), "log"}})
	client.dispatch(nil)

	want := tunnel.StatusChange{
		SessionID: string(session.path),
		Major:     tunnel.MajorConnection,
		Minor:     tunnel.MinorConnected,
		Message:   "connected",
	}
	if len(statuses) != 1 || statuses[0] != want {
		t.Errorf("status events = %+v, want [%+v]", statuses, want)
	}
	if len(attentions) != 1 || attentions[0].Type != 3 || attentions[0].Message != "open url" {
		t.Errorf("attention events = %+v", attentions)
	}
}

func TestDispatch_LoopDeliversFromBus(t *testing.T) {
	_, conn, session := newTestSession(t)
	received := make(chan tunnel.StatusChange, 1)
	session.StatusChangeCallback(func(event tunnel.StatusChange) { received <- event })

	conn.signalChan <- &dbus.Signal{
		Path: session.path,
		Name: sessionInterface + ".StatusChange",
		Body: []any{uint32(2), uint32(6), ""},
	}
	event := testutil.RequireReceive(t, received, waitTimeout, "status from dispatch loop")
	if event.Minor != tunnel.MinorConnecting {
		t.Errorf("Minor = %d, want %d", event.Minor, tunnel.MinorConnecting)
	}
}

func statusSignal(path dbus.ObjectPath, minor uint32) *dbus.Signal {
	return &dbus.Signal{
		Path: path,
		Name: sessionInterface + ".StatusChange",
		Body: []any{uint32(2), minor, ""},
	}
}

func TestDispatch_HoldsEventsUntilHandlerSet(t *testing.T) {
	client, _, session := newTestSession(t)

	client.dispatch(statusSignal(session.path, 6))
	client.dispatch(&dbus.Signal{
		Path: session.path,
		Name: sessionInterface + ".AttentionRequired",
		Body: []any{uint32(3), uint32(1), "open url"},
	})
	client.dispatch(statusSignal(session.path, 7))

	statuses := make(chan tunnel.StatusChange, 4)
	session.StatusChangeCallback(func(event tunnel.StatusChange) { statuses <- event })
	for _, want := range []tunnel.StatusMinor{tunnel.MinorConnecting, tunnel.MinorConnected} {
		event := testutil.RequireReceive(t, statuses, waitTimeout, "held status %d", want)
		if event.Minor != want {
			t.Fatalf("held status Minor = %d, want %d", event.Minor, want)
		}
	}

	attentions := make(chan tunnel.AttentionRequired, 1)
	session.AttentionRequiredCallback(func(event tunnel.AttentionRequired) { attentions <- event })
	if event := testutil.RequireReceive(t, attentions, waitTimeout, "held attention"); event.Message != "open url" {
		t.Errorf("held attention = %+v", event)
	}
	testutil.RequireNoReceive(t, statuses, 20*time.Millisecond, "status delivered twice")
}

func TestDispatch_HeldEventsAreBounded(t *testing.T) {
	client, _, session := newTestSession(t)

	for minor := uint32(0); minor <= maxPending; minor++ {
		client.dispatch(statusSignal(session.path, minor))
	}

	statuses := make(chan tunnel.StatusChange, maxPending+1)
	session.StatusChangeCallback(func(event tunnel.StatusChange) { statuses <- event })
	for want := uint32(1); want <= maxPending; want++ {
		event := testutil.RequireReceive(t, statuses, waitTimeout, "held status %d", want)
		if uint32(event.Minor) != want {
			t.Fatalf("held status Minor = %d, want %d (oldest dropped first)", event.Minor, want)
		}
	}
	testutil.RequireNoReceive(t, statuses, 20*time.Millisecond, "more than maxPending held events")
}

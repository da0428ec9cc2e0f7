// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cenkalti/backoff/v4"

	"github.com/bureau-foundation/tunnelwarden/lib/clock"
	"github.com/bureau-foundation/tunnelwarden/lib/tunnel"
)

// Controller is the session lifecycle the reactor drives.
type Controller interface {
	StartNewSession(ctx context.Context) error
	DisconnectSession(ctx context.Context) error
	Ready(ctx context.Context) error
}

// Reactor maps session events to lifecycle actions. It is not safe for
// concurrent use: one goroutine feeds it events in arrival order.
type Reactor struct {
	controller Controller
	backoff    backoff.BackOff
	clock      clock.Clock
	logger     *slog.Logger
}

// NewReactor returns a reactor that reconnects through controller,
// pacing reconnects by policy.
func NewReactor(controller Controller, policy ReconnectPolicy, clk clock.Clock, logger *slog.Logger) *Reactor {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reactor{
		controller: controller,
		backoff:    policy.newBackOff(clk),
		clock:      clk,
		logger:     logger,
	}
}

// Handle dispatches one event. A non-nil error ends supervision.
func (r *Reactor) Handle(ctx context.Context, event tunnel.Event) error {
	switch event := event.(type) {
	case tunnel.StatusChange:
		return r.OnStatusChange(ctx, event)
	case tunnel.AttentionRequired:
		r.OnAttentionRequired(event)
		return nil
	default:
		r.logger.Warn("unhandled session event", "type", fmt.Sprintf("%T", event))
		return nil
	}
}

// OnStatusChange logs the status and reconnects on authentication
// failure or disconnect.
func (r *Reactor) OnStatusChange(ctx context.Context, event tunnel.StatusChange) error {
	phase, known := event.Phase()
	if !known {
		r.logger.Warn("status change",
			"session", event.SessionID,
			"status", event.String(),
		)
		return nil
	}
	r.logger.Info("status change",
		"session", event.SessionID,
		"phase", phase,
		"status_message", event.Message,
	)

	switch event.Minor {
	case tunnel.MinorConnected:
		r.backoff.Reset()
	case tunnel.MinorAuthFailed:
		return r.recoverAuthFailure(ctx)
	case tunnel.MinorDisconnected:
		return r.reconnect(ctx)
	}
	return nil
}

// OnAttentionRequired logs the request. Nothing in it is actionable
// without an operator.
func (r *Reactor) OnAttentionRequired(event tunnel.AttentionRequired) {
	r.logger.Warn("attention required",
		"session", event.SessionID,
		"type", event.Type,
		"group", event.Group,
		"status_message", event.Message,
	)
}

func (r *Reactor) recoverAuthFailure(ctx context.Context) error {
	if err := r.controller.Ready(ctx); err != nil {
		r.logger.Warn("session not ready after authentication failure", "error", err)
	} else {
		r.logger.Info("session ready after authentication failure")
	}
	if err := r.controller.DisconnectSession(ctx); err != nil {
		r.logger.Warn("disconnect after authentication failure", "error", err)
	}
	return r.reconnect(ctx)
}

func (r *Reactor) reconnect(ctx context.Context) error {
	delay := r.backoff.NextBackOff()
	if delay == backoff.Stop {
		return ErrReconnectLimit
	}
	r.logger.Info("reconnecting", "delay", delay)
	if delay > 0 {
		select {
		case <-r.clock.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return r.controller.StartNewSession(ctx)
}

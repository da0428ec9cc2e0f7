// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"bytes"
	"log/slog"
	"strings"
	"sync"
)

// LogBuffer collects text-formatted slog output for assertions. It is
// safe for concurrent writers.
type LogBuffer struct {
	mu     sync.Mutex
	buffer bytes.Buffer
}

// NewLogger returns a debug-level text logger writing into a fresh
// LogBuffer.
func NewLogger() (*slog.Logger, *LogBuffer) {
	logs := &LogBuffer{}
	handler := slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(handler), logs
}

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func (l *LogBuffer) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buffer.Write(p)
}

// String returns everything logged so far.
func (l *LogBuffer) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buffer.String()
}

// Lines returns the logged records whose text contains every one of
// the given fragments.
func (l *LogBuffer) Lines(fragments ...string) []string {
	var matched []string
	for _, line := range strings.Split(strings.TrimSpace(l.String()), "\n") {
		if line == "" {
			continue
		}
		all := true
		for _, fragment := range fragments {
			if !strings.Contains(line, fragment) {
				all = false
				break
			}
		}
		if all {
			matched = append(matched, line)
		}
	}
	return matched
}

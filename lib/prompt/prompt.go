// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package prompt reads operator input for vault creation and unlock.
//
// On a terminal, masked prompts disable echo via golang.org/x/term.
// When input is piped (provisioning scripts, tests), each prompt
// consumes one line from the stream and nothing is echoed either way.
package prompt

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	"github.com/bureau-foundation/tunnelwarden/lib/secret"
)

// ErrInterrupted is returned by every read after one was cancelled.
var ErrInterrupted = errors.New("prompt interrupted")

// Terminal prompts on output and reads answers from input. Reads are
// not safe for concurrent use.
type Terminal struct {
	reader      *bufio.Reader
	output      io.Writer
	descriptor  int
	terminal    bool
	interrupted bool
}

// New prompts on output and reads from input, using masked terminal
// reads when input is a TTY.
func New(input *os.File, output io.Writer) *Terminal {
	descriptor := int(input.Fd())
	return &Terminal{
		reader:     bufio.NewReader(input),
		output:     output,
		descriptor: descriptor,
		terminal:   term.IsTerminal(descriptor),
	}
}

// NewFromReader reads every answer as a line from input.
func NewFromReader(input io.Reader, output io.Writer) *Terminal {
	return &Terminal{
		reader:     bufio.NewReader(input),
		output:     output,
		descriptor: -1,
	}
}

// ReadLine prints label and returns one line of visible input without
// its line terminator.
func (p *Terminal) ReadLine(ctx context.Context, label string) (string, error) {
	fmt.Fprintf(p.output, "%s: ", label)
	line, err := p.read(ctx, false)
	if err != nil {
		return "", err
	}
	return string(line), nil
}

// ReadSecret prints label and reads one line without echo. The answer
// is returned in a guarded buffer, or nil when the answer is empty.
func (p *Terminal) ReadSecret(ctx context.Context, label string) (*secret.Buffer, error) {
	fmt.Fprintf(p.output, "%s: ", label)
	data, err := p.read(ctx, true)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	return secret.NewFromBytes(data)
}

type readResult struct {
	data []byte
	err  error
}

// read returns one answer, or ctx.Err() as soon as ctx is done. A
// cancelled read leaves its goroutine blocked on input, so the Terminal
// refuses further reads with ErrInterrupted. Terminal state saved
// before a masked read is restored on cancellation.
func (p *Terminal) read(ctx context.Context, masked bool) ([]byte, error) {
	if p.interrupted {
		return nil, ErrInterrupted
	}
	if err := ctx.Err(); err != nil {
		fmt.Fprintln(p.output)
		return nil, err
	}

	noEcho := masked && p.terminal
	var saved *term.State
	if noEcho {
		state, err := term.GetState(p.descriptor)
		if err != nil {
			return nil, fmt.Errorf("saving terminal state: %w", err)
		}
		saved = state
	}

	results := make(chan readResult, 1)
	go func() {
		var result readResult
		if noEcho {
			result.data, result.err = term.ReadPassword(p.descriptor)
		} else {
			result.data, result.err = p.readLine()
		}
		results <- result
	}()

	select {
	case result := <-results:
		if noEcho {
			fmt.Fprintln(p.output)
		}
		if result.err != nil {
			secret.Zero(result.data)
			return nil, result.err
		}
		return result.data, nil
	case <-ctx.Done():
		p.interrupted = true
		if saved != nil {
			term.Restore(p.descriptor, saved)
		}
		fmt.Fprintln(p.output)
		go func() { secret.Zero((<-results).data) }()
		return nil, ctx.Err()
	}
}

func (p *Terminal) readLine() ([]byte, error) {
	line, err := p.reader.ReadBytes('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && len(line) > 0 {
			return trimNewline(line), nil
		}
		secret.Zero(line)
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("reading input: %w", err)
	}
	return trimNewline(line), nil
}

func trimNewline(line []byte) []byte {
	return bytes.TrimRight(line, "\r\n")
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package credstore produces the credential record for the life of the
// process: it opens an existing vault with one passphrase prompt, or
// interactively builds and seals a new one when the vault file does not
// exist yet.
package credstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/bureau-foundation/tunnelwarden/lib/secret"
	"github.com/bureau-foundation/tunnelwarden/lib/vault"
)

// maxConfirmAttempts bounds passphrase confirmation retries at creation.
const maxConfirmAttempts = 3

var (
	// ErrExists is returned when creating a vault over an existing file.
	ErrExists = errors.New("vault already exists")

	// ErrPassphraseMismatch is returned when the confirmation never
	// matches the first entry.
	ErrPassphraseMismatch = errors.New("passphrases do not match")
)

// Prompter reads operator input. ReadSecret must not echo and returns
// nil for an empty answer. Both return ctx.Err() once ctx is done.
type Prompter interface {
	ReadLine(ctx context.Context, label string) (string, error)
	ReadSecret(ctx context.Context, label string) (*secret.Buffer, error)
}

// Enricher fills record fields from an external source before the
// creation prompts run. Fields it leaves empty are prompted for.
type Enricher interface {
	Enrich(ctx context.Context, record *vault.Record) error
}

// Options configures a Store.
type Options struct {
	Prompter Prompter

	// Enricher is optional.
	Enricher Enricher

	Logger *slog.Logger
}

// Store opens or creates the vault.
type Store struct {
	prompter Prompter
	enricher Enricher
	logger   *slog.Logger
}

// New returns a Store.
func New(options Options) *Store {
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		prompter: options.Prompter,
		enricher: options.Enricher,
		logger:   logger,
	}
}

// Obtain returns the credential record stored at path. An existing
// vault costs exactly one passphrase prompt; a wrong passphrase returns
// an error wrapping [vault.ErrAuth]. A missing vault is created
// interactively and written atomically before returning.
func (s *Store) Obtain(ctx context.Context, path string) (vault.Record, error) {
	file, err := vault.Load(path)
	if err == nil {
		return s.open(ctx, path, file)
	}
	if !errors.Is(err, vault.ErrNotFound) {
		return vault.Record{}, err
	}

	s.logger.Info("no vault found, creating one", "path", path)
	record, err := s.collect(ctx)
	if err != nil {
		return vault.Record{}, err
	}
	if err := s.Create(ctx, path, record); err != nil {
		return vault.Record{}, err
	}
	return record, nil
}

// Create seals record under a newly prompted and confirmed passphrase
// and writes it to path. It refuses to replace an existing file.
func (s *Store) Create(ctx context.Context, path string, record vault.Record) error {
	if err := record.Validate(); err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s", ErrExists, path)
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("checking %s: %w", path, err)
	}

	passphrase, err := s.newPassphrase(ctx)
	if err != nil {
		return err
	}
	defer passphrase.Close()

	file, err := vault.Seal(record, passphrase)
	if err != nil {
		return fmt.Errorf("sealing vault: %w", err)
	}
	if err := file.Write(path); err != nil {
		return err
	}

	s.logger.Info("vault created", "path", path, "fingerprint", file.Fingerprint())
	return nil
}

// Open returns the record in the existing vault at path. Unlike Obtain
// it never creates one.
func (s *Store) Open(ctx context.Context, path string) (vault.Record, error) {
	file, err := vault.Load(path)
	if err != nil {
		return vault.Record{}, err
	}
	return s.open(ctx, path, file)
}

func (s *Store) open(ctx context.Context, path string, file *vault.File) (vault.Record, error) {
	passphrase, err := s.requireSecret(ctx, "Vault passphrase")
	if err != nil {
		return vault.Record{}, err
	}
	defer passphrase.Close()

	record, err := file.Open(passphrase)
	if err != nil {
		return vault.Record{}, fmt.Errorf("opening %s: %w", path, err)
	}

	s.logger.Info("vault opened", "path", path, "fingerprint", file.Fingerprint())
	return record, nil
}

// collect builds a new record from the enricher and the prompts.
func (s *Store) collect(ctx context.Context) (vault.Record, error) {
	var record vault.Record
	if s.enricher != nil {
		if err := s.enricher.Enrich(ctx, &record); err != nil {
			return vault.Record{}, fmt.Errorf("resolving credentials: %w", err)
		}
	}

	fields := []struct {
		target *string
		label  string
		masked bool
	}{
		{&record.Username, "Username", false},
		{&record.Password, "Password", true},
		{&record.Secret, "TOTP secret (base32)", true},
		{&record.Config, "OpenVPN configuration name", false},
	}
	for _, field := range fields {
		if *field.target != "" {
			continue
		}
		value, err := s.requireValue(ctx, field.label, field.masked)
		if err != nil {
			return vault.Record{}, err
		}
		*field.target = value
	}
	return record, nil
}

// requireValue prompts until the answer is non-empty.
func (s *Store) requireValue(ctx context.Context, label string, masked bool) (string, error) {
	if masked {
		buffer, err := s.requireSecret(ctx, label)
		if err != nil {
			return "", err
		}
		defer buffer.Close()
		return buffer.String(), nil
	}
	for {
		value, err := s.prompter.ReadLine(ctx, label)
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", label, err)
		}
		if value != "" {
			return value, nil
		}
	}
}

// requireSecret prompts without echo until the answer is non-empty.
func (s *Store) requireSecret(ctx context.Context, label string) (*secret.Buffer, error) {
	for {
		buffer, err := s.prompter.ReadSecret(ctx, label)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", label, err)
		}
		if buffer != nil {
			return buffer, nil
		}
	}
}

func (s *Store) newPassphrase(ctx context.Context) (*secret.Buffer, error) {
	for attempt := 1; attempt <= maxConfirmAttempts; attempt++ {
		first, err := s.requireSecret(ctx, "New vault passphrase")
		if err != nil {
			return nil, err
		}
		second, err := s.requireSecret(ctx, "Confirm vault passphrase")
		if err != nil {
			first.Close()
			return nil, err
		}
		match := first.Len() == second.Len() && first.Equal(second)
		second.Close()
		if match {
			return first, nil
		}
		first.Close()
		s.logger.Warn("passphrases do not match", "attempt", attempt, "max_attempts", maxConfirmAttempts)
	}
	return nil, ErrPassphraseMismatch
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bitwarden

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/tunnelwarden/lib/secret"
	"github.com/bureau-foundation/tunnelwarden/lib/vault"
)

// PasswordPrompter asks the operator for the master password. An empty
// answer is returned as nil.
type PasswordPrompter interface {
	ReadSecret(ctx context.Context, label string) (*secret.Buffer, error)
}

// Resolver fills a credential record from Bitwarden items. The
// username item supplies the login username and password; the secret
// item supplies the TOTP seed. Either may be left unset.
type Resolver struct {
	Client       *Client
	UsernameItem string
	SecretItem   string
	Prompter     PasswordPrompter
	Logger       *slog.Logger
}

// Enrich syncs, unlocks the vault if needed, and copies the configured
// items into record.
func (r *Resolver) Enrich(ctx context.Context, record *vault.Record) error {
	if r.UsernameItem == "" && r.SecretItem == "" {
		return nil
	}
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if err := r.Client.Sync(ctx); err != nil {
		logger.Warn("bitwarden sync failed, using cached vault", "error", err)
	}
	if err := r.unlock(ctx); err != nil {
		return err
	}

	if r.UsernameItem != "" {
		login, err := r.login(ctx, r.UsernameItem)
		if err != nil {
			return err
		}
		record.Username = login.Username
		record.Password = login.Password
		logger.Info("credentials resolved from bitwarden", "item", r.UsernameItem)
	}
	if r.SecretItem != "" {
		login, err := r.login(ctx, r.SecretItem)
		if err != nil {
			return err
		}
		record.Secret = login.TOTP
		logger.Info("TOTP seed resolved from bitwarden", "item", r.SecretItem)
	}
	return nil
}

func (r *Resolver) unlock(ctx context.Context) error {
	status, err := r.Client.Status(ctx)
	if err != nil {
		return fmt.Errorf("bitwarden status: %w", err)
	}
	switch status {
	case StatusUnlocked:
		return nil
	case StatusUnauthenticated:
		return ErrUnauthenticated
	case StatusLocked:
	default:
		return fmt.Errorf("bitwarden vault in unexpected state %q", status)
	}

	password, err := r.masterPassword(ctx)
	if err != nil {
		return err
	}
	defer password.Close()
	if err := r.Client.Unlock(ctx, password); err != nil {
		return fmt.Errorf("unlocking bitwarden vault: %w", err)
	}
	return nil
}

// masterPassword prompts until the answer is non-empty.
func (r *Resolver) masterPassword(ctx context.Context) (*secret.Buffer, error) {
	for {
		password, err := r.Prompter.ReadSecret(ctx, "Bitwarden master password")
		if err != nil {
			return nil, fmt.Errorf("reading bitwarden master password: %w", err)
		}
		if password != nil {
			return password, nil
		}
	}
}

func (r *Resolver) login(ctx context.Context, name string) (Login, error) {
	item, err := r.Client.FindItem(ctx, name)
	if err != nil {
		return Login{}, err
	}
	if item.Login == nil {
		return Login{}, fmt.Errorf("bitwarden item %q is not a login item", name)
	}
	return *item.Login, nil
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package kdf turns a vault passphrase and the vault's stored salt into
// the symmetric key that seals the credential record.
//
// The derivation is PBKDF2 with HMAC-SHA256. The iteration count is not
// stored in the vault; it is fixed per vault format version, and the
// vault package passes the count that belongs to the version it reads.
package kdf

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"

	"github.com/bureau-foundation/tunnelwarden/lib/secret"
)

const (
	// Iterations is the PBKDF2 iteration count for format version 1.
	Iterations = 1_200_000

	// KeySize is the derived key length, matching XChaCha20-Poly1305.
	KeySize = 32

	// SaltLength is the length of the random salt stored at the start
	// of every vault file.
	SaltLength = 16
)

// ErrEmptyPassphrase is returned for a zero-length passphrase. Callers
// that prompt interactively should ask again.
var ErrEmptyPassphrase = errors.New("passphrase is empty")

// DeriveKey derives the vault key for passphrase and salt using
// [Iterations]. The passphrase is borrowed and not closed. The caller
// must Close the returned key.
func DeriveKey(passphrase *secret.Buffer, salt []byte) (*secret.Buffer, error) {
	return DeriveKeyIterations(passphrase, salt, Iterations)
}

// DeriveKeyIterations is DeriveKey with an explicit iteration count.
func DeriveKeyIterations(passphrase *secret.Buffer, salt []byte, iterations int) (*secret.Buffer, error) {
	if passphrase == nil || passphrase.Len() == 0 {
		return nil, ErrEmptyPassphrase
	}
	if len(salt) != SaltLength {
		return nil, fmt.Errorf("salt is %d bytes, want %d", len(salt), SaltLength)
	}
	if iterations < 1 {
		return nil, fmt.Errorf("iteration count must be positive, got %d", iterations)
	}

	derived := pbkdf2.Key(passphrase.Bytes(), salt, iterations, KeySize, sha256.New)
	// NewFromBytes zeroes the heap copy.
	key, err := secret.NewFromBytes(derived)
	if err != nil {
		return nil, fmt.Errorf("protecting derived key: %w", err)
	}
	return key, nil
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package escrow seals a credential record to age x25519 recipients
// for offline safekeeping, and restores it with the matching identity.
//
// An escrow blob is an ASCII-armored age file whose plaintext is the
// record in deterministic CBOR. Unlike the vault it needs no
// passphrase: whoever holds an identity can recover the record, so
// identities belong on offline media.
//
// Private keys and decrypted plaintext live in *secret.Buffer values.
package escrow

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"filippo.io/age"
	"filippo.io/age/armor"

	"github.com/bureau-foundation/tunnelwarden/lib/codec"
	"github.com/bureau-foundation/tunnelwarden/lib/secret"
	"github.com/bureau-foundation/tunnelwarden/lib/vault"
)

// maxPlaintext bounds decryption output. A record is a few hundred
// bytes.
const maxPlaintext = 64 << 10

// ErrNoRecipients is returned by Export without recipients.
var ErrNoRecipients = errors.New("at least one recipient is required")

// Keypair holds an age x25519 keypair. Close releases the private key.
type Keypair struct {
	// PrivateKey is the AGE-SECRET-KEY-1... identity. Never log it or
	// pass it on a command line.
	PrivateKey *secret.Buffer

	// PublicKey is the age1... recipient. Safe to share.
	PublicKey string
}

// Close zeroes and releases the private key. Idempotent.
func (k *Keypair) Close() error {
	if k.PrivateKey != nil {
		return k.PrivateKey.Close()
	}
	return nil
}

// IdentityFile renders the keypair in age-keygen's file format.
func (k *Keypair) IdentityFile() []byte {
	var file bytes.Buffer
	fmt.Fprintf(&file, "# public key: %s\n", k.PublicKey)
	file.Write(k.PrivateKey.Bytes())
	file.WriteByte('\n')
	return file.Bytes()
}

// GenerateKeypair creates a new x25519 keypair.
func GenerateKeypair() (*Keypair, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generating age keypair: %w", err)
	}
	// identity.String() leaves a heap copy; the buffer is the durable one.
	privateKey, err := secret.NewFromString(identity.String())
	if err != nil {
		return nil, fmt.Errorf("protecting private key: %w", err)
	}
	return &Keypair{
		PrivateKey: privateKey,
		PublicKey:  identity.Recipient().String(),
	}, nil
}

// ParseRecipients parses age1... public keys.
func ParseRecipients(keys []string) ([]age.Recipient, error) {
	if len(keys) == 0 {
		return nil, ErrNoRecipients
	}
	recipients := make([]age.Recipient, 0, len(keys))
	for _, key := range keys {
		recipient, err := age.ParseX25519Recipient(strings.TrimSpace(key))
		if err != nil {
			return nil, fmt.Errorf("parsing recipient %q: %w", key, err)
		}
		recipients = append(recipients, recipient)
	}
	return recipients, nil
}

// Export seals record to every recipient and returns the armored blob.
func Export(record vault.Record, recipientKeys []string) ([]byte, error) {
	if err := record.Validate(); err != nil {
		return nil, err
	}
	recipients, err := ParseRecipients(recipientKeys)
	if err != nil {
		return nil, err
	}

	plaintext, err := codec.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("encoding record: %w", err)
	}
	defer secret.Zero(plaintext)

	var output bytes.Buffer
	armored := armor.NewWriter(&output)
	writer, err := age.Encrypt(armored, recipients...)
	if err != nil {
		return nil, fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := writer.Write(plaintext); err != nil {
		return nil, fmt.Errorf("encrypting record: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finalizing age encryption: %w", err)
	}
	if err := armored.Close(); err != nil {
		return nil, fmt.Errorf("finalizing armor: %w", err)
	}
	return output.Bytes(), nil
}

// Import opens an armored blob with any identity in identityFile (the
// age-keygen format, comments allowed) and returns the record inside.
func Import(blob []byte, identityFile *secret.Buffer) (vault.Record, error) {
	identities, err := age.ParseIdentities(bytes.NewReader(identityFile.Bytes()))
	if err != nil {
		return vault.Record{}, fmt.Errorf("parsing identity: %w", err)
	}

	reader, err := age.Decrypt(armor.NewReader(bytes.NewReader(blob)), identities...)
	if err != nil {
		return vault.Record{}, fmt.Errorf("decrypting escrow blob: %w", err)
	}
	plaintext, err := io.ReadAll(io.LimitReader(reader, maxPlaintext+1))
	defer secret.Zero(plaintext)
	if err != nil {
		return vault.Record{}, fmt.Errorf("reading escrow plaintext: %w", err)
	}
	if len(plaintext) > maxPlaintext {
		return vault.Record{}, fmt.Errorf("escrow plaintext exceeds %d bytes", maxPlaintext)
	}

	var record vault.Record
	if err := codec.Unmarshal(plaintext, &record); err != nil {
		return vault.Record{}, fmt.Errorf("decoding escrow record: %w", err)
	}
	if err := record.Validate(); err != nil {
		return vault.Record{}, fmt.Errorf("escrow record: %w", err)
	}
	return record, nil
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package vault

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/bureau-foundation/tunnelwarden/lib/codec"
	"github.com/bureau-foundation/tunnelwarden/lib/kdf"
	"github.com/bureau-foundation/tunnelwarden/lib/secret"
)

const (
	// SaltLength is the length of the salt prefix.
	SaltLength = kdf.SaltLength

	// FormatVersion is the version byte written by this package.
	FormatVersion byte = 0x01

	// MinSize is the smallest well-formed vault: salt, version, nonce,
	// and tag around an empty plaintext.
	MinSize = SaltLength + 1 + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead
)

var (
	// ErrNotFound means the vault file does not exist yet.
	ErrNotFound = errors.New("vault not found")

	// ErrAuth means the ciphertext did not authenticate: the passphrase
	// is wrong or the file was modified.
	ErrAuth = errors.New("vault authentication failed (wrong passphrase or tampered file)")

	// ErrCorrupt means the file is structurally unusable.
	ErrCorrupt = errors.New("vault file is corrupt")

	// ErrUnsupportedVersion means the file was written by a format this
	// build does not know. Errors carrying it also match ErrAuth.
	ErrUnsupportedVersion = errors.New("unsupported vault format version")
)

// keyIterations is the PBKDF2 count for FormatVersion.
var keyIterations = kdf.Iterations

// SetKeyIterationsForTesting lowers the KDF cost so tests across
// packages can seal and open vaults quickly. It returns a function that
// restores the production value.
func SetKeyIterationsForTesting(iterations int) (restore func()) {
	previous := keyIterations
	keyIterations = iterations
	return func() { keyIterations = previous }
}

// Salt is the random per-vault KDF salt.
type Salt [SaltLength]byte

// NewSalt returns a fresh random salt.
func NewSalt() (Salt, error) {
	var salt Salt
	if _, err := io.ReadFull(rand.Reader, salt[:]); err != nil {
		return Salt{}, fmt.Errorf("generating salt: %w", err)
	}
	return salt, nil
}

// DeriveKey derives the key for salt at the current format version.
// The caller must Close the key.
func DeriveKey(passphrase *secret.Buffer, salt Salt) (*secret.Buffer, error) {
	return kdf.DeriveKeyIterations(passphrase, salt[:], keyIterations)
}

// Encrypt seals record under key and returns everything after the salt:
// version byte, nonce, ciphertext, and tag. The key must be derived from
// salt; the salt is bound into the ciphertext as additional data.
func Encrypt(record Record, key *secret.Buffer, salt Salt) ([]byte, error) {
	if err := record.Validate(); err != nil {
		return nil, fmt.Errorf("refusing to seal incomplete record: %w", err)
	}

	plaintext, err := codec.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("encoding record: %w", err)
	}
	defer secret.Zero(plaintext)

	aead, err := chacha20poly1305.NewX(key.Bytes())
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}

	var nonce [chacha20poly1305.NonceSizeX]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	output := make([]byte, 1+len(nonce), 1+len(nonce)+len(plaintext)+aead.Overhead())
	output[0] = FormatVersion
	copy(output[1:], nonce[:])
	return aead.Seal(output, nonce[:], plaintext, additionalData(salt, FormatVersion)), nil
}

// Decrypt derives the key for salt and passphrase and opens ciphertext
// (the bytes after the salt). Wrong passphrases and modified bytes fail
// with an error wrapping [ErrAuth] and a zero Record.
func Decrypt(salt Salt, ciphertext []byte, passphrase *secret.Buffer) (Record, error) {
	if err := checkHeader(ciphertext); err != nil {
		return Record{}, err
	}

	key, err := DeriveKey(passphrase, salt)
	if err != nil {
		return Record{}, fmt.Errorf("deriving vault key: %w", err)
	}
	defer key.Close()

	return decryptWithKey(salt, ciphertext, key)
}

func decryptWithKey(salt Salt, ciphertext []byte, key *secret.Buffer) (Record, error) {
	if err := checkHeader(ciphertext); err != nil {
		return Record{}, err
	}

	aead, err := chacha20poly1305.NewX(key.Bytes())
	if err != nil {
		return Record{}, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}

	nonce := ciphertext[1 : 1+chacha20poly1305.NonceSizeX]
	sealed := ciphertext[1+chacha20poly1305.NonceSizeX:]
	plaintext, err := aead.Open(nil, nonce, sealed, additionalData(salt, ciphertext[0]))
	if err != nil {
		return Record{}, ErrAuth
	}
	defer secret.Zero(plaintext)

	var record Record
	if err := codec.Unmarshal(plaintext, &record); err != nil {
		return Record{}, fmt.Errorf("%w: decoding record: %v", ErrCorrupt, err)
	}
	if err := record.Validate(); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return record, nil
}

func checkHeader(ciphertext []byte) error {
	if len(ciphertext) < MinSize-SaltLength {
		return fmt.Errorf("%w: ciphertext is %d bytes, minimum is %d", ErrCorrupt, len(ciphertext), MinSize-SaltLength)
	}
	if ciphertext[0] != FormatVersion {
		// Still an authentication failure: the version byte is covered
		// by the tag, so a flipped version bit must fail closed too.
		return fmt.Errorf("%w: %w %d (this build reads %d)", ErrAuth, ErrUnsupportedVersion, ciphertext[0], FormatVersion)
	}
	return nil
}

func additionalData(salt Salt, version byte) []byte {
	data := make([]byte, SaltLength+1)
	copy(data, salt[:])
	data[SaltLength] = version
	return data
}

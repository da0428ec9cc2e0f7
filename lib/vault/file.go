// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package vault

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/tunnelwarden/lib/secret"
)

// File is a parsed vault: the salt and the authenticated ciphertext
// that follows it.
type File struct {
	Salt       Salt
	Ciphertext []byte
}

// Seal encrypts record under passphrase with a fresh salt.
func Seal(record Record, passphrase *secret.Buffer) (*File, error) {
	salt, err := NewSalt()
	if err != nil {
		return nil, err
	}

	key, err := DeriveKey(passphrase, salt)
	if err != nil {
		return nil, fmt.Errorf("deriving vault key: %w", err)
	}
	defer key.Close()

	ciphertext, err := Encrypt(record, key, salt)
	if err != nil {
		return nil, err
	}
	return &File{Salt: salt, Ciphertext: ciphertext}, nil
}

// Parse splits raw vault bytes into salt and ciphertext.
func Parse(data []byte) (*File, error) {
	if len(data) < MinSize {
		return nil, fmt.Errorf("%w: %d bytes, minimum is %d", ErrCorrupt, len(data), MinSize)
	}
	file := &File{Ciphertext: append([]byte(nil), data[SaltLength:]...)}
	copy(file.Salt[:], data[:SaltLength])
	return file, nil
}

// Load reads and parses the vault at path. A missing file returns an
// error wrapping [ErrNotFound].
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("reading vault: %w", err)
	}
	return Parse(data)
}

// Open decrypts the record.
func (f *File) Open(passphrase *secret.Buffer) (Record, error) {
	return Decrypt(f.Salt, f.Ciphertext, passphrase)
}

// Version returns the format version byte.
func (f *File) Version() byte {
	if len(f.Ciphertext) == 0 {
		return 0
	}
	return f.Ciphertext[0]
}

// Bytes returns the on-disk encoding.
func (f *File) Bytes() []byte {
	data := make([]byte, 0, SaltLength+len(f.Ciphertext))
	data = append(data, f.Salt[:]...)
	return append(data, f.Ciphertext...)
}

// Fingerprint identifies this exact vault file.
func (f *File) Fingerprint() string {
	return Fingerprint(f.Bytes())
}

// Fingerprint returns a short BLAKE3 digest of raw vault bytes. Two
// vaults with identical contents still differ, since salt and nonce are
// random.
func Fingerprint(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:8])
}

// Write atomically writes the vault to path with mode 0600: temporary
// file in the same directory, fsync, rename, then fsync of the parent
// directory. Readers never observe a partial vault.
func (f *File) Write(path string) error {
	directory := filepath.Dir(path)
	temporary, err := os.CreateTemp(directory, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temporary vault file: %w", err)
	}
	temporaryPath := temporary.Name()

	fail := func(step string, err error) error {
		temporary.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("%s temporary vault file: %w", step, err)
	}

	if err := temporary.Chmod(0600); err != nil {
		return fail("restricting", err)
	}
	if _, err := temporary.Write(f.Bytes()); err != nil {
		return fail("writing", err)
	}
	if err := temporary.Sync(); err != nil {
		return fail("syncing", err)
	}
	if err := temporary.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing temporary vault file: %w", err)
	}
	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming vault into place: %w", err)
	}

	if parent, err := os.Open(directory); err == nil {
		parent.Sync()
		parent.Close()
	}
	return nil
}

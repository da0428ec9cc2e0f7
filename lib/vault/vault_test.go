// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package vault

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/bureau-foundation/tunnelwarden/lib/secret"
)

func TestMain(m *testing.M) {
	restore := SetKeyIterationsForTesting(1000)
	code := m.Run()
	restore()
	os.Exit(code)
}

var testRecord = Record{
	Username: "alice",
	Password: "p@ss",
	Secret:   "JBSWY3DPEHPK3PXP",
	Config:   "work-vpn",
}

func passphrase(t *testing.T, value string) *secret.Buffer {
	t.Helper()
	buffer, err := secret.NewFromString(value)
	if err != nil {
		t.Fatalf("NewFromString() error: %v", err)
	}
	t.Cleanup(func() { buffer.Close() })
	return buffer
}

func TestSealOpen_RoundTrip(t *testing.T) {
	file, err := Seal(testRecord, passphrase(t, "correct horse"))
	if err != nil {
		t.Fatalf("Seal() error: %v", err)
	}

	record, err := file.Open(passphrase(t, "correct horse"))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if record != testRecord {
		t.Errorf("Open() = %+v, want %+v", record, testRecord)
	}
	if file.Version() != FormatVersion {
		t.Errorf("Version() = %d, want %d", file.Version(), FormatVersion)
	}
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	salt, err := NewSalt()
	if err != nil {
		t.Fatalf("NewSalt() error: %v", err)
	}
	key, err := DeriveKey(passphrase(t, "pw"), salt)
	if err != nil {
		t.Fatalf("DeriveKey() error: %v", err)
	}
	defer key.Close()

	ciphertext, err := Encrypt(testRecord, key, salt)
	if err != nil {
		t.Fatalf("Encrypt() error: %v", err)
	}
	record, err := Decrypt(salt, ciphertext, passphrase(t, "pw"))
	if err != nil {
		t.Fatalf("Decrypt() error: %v", err)
	}
	if record != testRecord {
		t.Errorf("Decrypt() = %+v, want %+v", record, testRecord)
	}
}

func TestOpen_WrongPassphrase(t *testing.T) {
	file, err := Seal(testRecord, passphrase(t, "right"))
	if err != nil {
		t.Fatalf("Seal() error: %v", err)
	}

	for _, wrong := range []string{"wrong", "Right", "right ", "righ"} {
		record, err := file.Open(passphrase(t, wrong))
		if !errors.Is(err, ErrAuth) {
			t.Errorf("Open(%q) error = %v, want ErrAuth", wrong, err)
		}
		if record != (Record{}) {
			t.Errorf("Open(%q) returned non-zero record %+v", wrong, record)
		}
	}
}

func TestDecrypt_EveryBitFlipFails(t *testing.T) {
	file, err := Seal(testRecord, passphrase(t, "pw"))
	if err != nil {
		t.Fatalf("Seal() error: %v", err)
	}
	key, err := DeriveKey(passphrase(t, "pw"), file.Salt)
	if err != nil {
		t.Fatalf("DeriveKey() error: %v", err)
	}
	defer key.Close()

	for index := range file.Ciphertext {
		for bit := 0; bit < 8; bit++ {
			tampered := bytes.Clone(file.Ciphertext)
			tampered[index] ^= 1 << bit

			record, err := decryptWithKey(file.Salt, tampered, key)
			if !errors.Is(err, ErrAuth) {
				t.Fatalf("byte %d bit %d: error = %v, want ErrAuth", index, bit, err)
			}
			if record != (Record{}) {
				t.Fatalf("byte %d bit %d: returned record %+v", index, bit, record)
			}
		}
	}
}

func TestDecrypt_SaltBitFlipFails(t *testing.T) {
	file, err := Seal(testRecord, passphrase(t, "pw"))
	if err != nil {
		t.Fatalf("Seal() error: %v", err)
	}
	salt := file.Salt
	salt[3] ^= 0x10

	if _, err := Decrypt(salt, file.Ciphertext, passphrase(t, "pw")); !errors.Is(err, ErrAuth) {
		t.Fatalf("Decrypt() with modified salt: error = %v, want ErrAuth", err)
	}
}

func TestDecrypt_UnsupportedVersion(t *testing.T) {
	file, err := Seal(testRecord, passphrase(t, "pw"))
	if err != nil {
		t.Fatalf("Seal() error: %v", err)
	}
	file.Ciphertext[0] = 0x7f

	_, err = file.Open(passphrase(t, "pw"))
	if !errors.Is(err, ErrUnsupportedVersion) {
		t.Errorf("error = %v, want ErrUnsupportedVersion", err)
	}
	if !errors.Is(err, ErrAuth) {
		t.Errorf("error = %v, should also match ErrAuth", err)
	}
}

func TestSeal_FreshSaltEachTime(t *testing.T) {
	first, err := Seal(testRecord, passphrase(t, "same"))
	if err != nil {
		t.Fatalf("Seal() error: %v", err)
	}
	second, err := Seal(testRecord, passphrase(t, "same"))
	if err != nil {
		t.Fatalf("Seal() error: %v", err)
	}

	if first.Salt == second.Salt {
		t.Error("two vaults share a salt")
	}
	if bytes.Equal(first.Ciphertext, second.Ciphertext) {
		t.Error("two vaults share a ciphertext")
	}
	if first.Fingerprint() == second.Fingerprint() {
		t.Error("two vaults share a fingerprint")
	}
}

func TestEncrypt_RejectsIncompleteRecord(t *testing.T) {
	incomplete := testRecord
	incomplete.Secret = ""
	if _, err := Seal(incomplete, passphrase(t, "pw")); err == nil {
		t.Fatal("Seal() should reject a record with an empty secret")
	}
}

func TestWriteLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "work.vault")

	file, err := Seal(testRecord, passphrase(t, "pw"))
	if err != nil {
		t.Fatalf("Seal() error: %v", err)
	}
	if err := file.Write(path); err != nil {
		t.Fatalf("Write() error: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error: %v", err)
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		t.Errorf("vault mode = %o, want 0600", mode)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	if !bytes.Equal(raw[:SaltLength], file.Salt[:]) {
		t.Error("salt is not the file prefix")
	}
	if bytes.Contains(raw, []byte(testRecord.Password)) || bytes.Contains(raw, []byte(testRecord.Secret)) {
		t.Error("vault file contains plaintext credentials")
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	record, err := loaded.Open(passphrase(t, "pw"))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if record != testRecord {
		t.Errorf("loaded record = %+v, want %+v", record, testRecord)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("ReadDir() error: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("directory holds %d entries, want only the vault", len(entries))
	}
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.vault"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load() error = %v, want ErrNotFound", err)
	}
}

func TestLoad_Truncated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "short.vault")
	if err := os.WriteFile(path, make([]byte, MinSize-1), 0600); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	if _, err := Load(path); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("Load() error = %v, want ErrCorrupt", err)
	}
}

func TestRecord_LogValueHidesSecrets(t *testing.T) {
	value := testRecord.LogValue().String()
	if bytes.Contains([]byte(value), []byte(testRecord.Password)) || bytes.Contains([]byte(value), []byte(testRecord.Secret)) {
		t.Errorf("LogValue() leaks secrets: %s", value)
	}
}

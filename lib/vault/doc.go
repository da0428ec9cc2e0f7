// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package vault stores the credential [Record] on disk, sealed under a
// key derived from an operator passphrase.
//
// File layout:
//
//	[0, 16)    salt, random per vault
//	[16]       format version (0x01)
//	[17, 41)   XChaCha20-Poly1305 nonce
//	[41, EOF)  ciphertext of the CBOR-encoded Record, then the tag
//
// The salt and version byte are authenticated as additional data, so a
// flipped bit anywhere in the file fails [ErrAuth]. The version byte
// fixes the KDF iteration count; an unknown version fails with
// [ErrUnsupportedVersion] rather than looking like a wrong passphrase.
//
// A vault is written once, atomically, at creation and only read after
// that.
package vault

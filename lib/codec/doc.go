// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec is the single CBOR configuration used for everything
// tunnelwarden serializes: the credential record inside the vault
// ciphertext and the plaintext inside escrow blobs.
//
// Encoding uses Core Deterministic Encoding (RFC 8949 §4.2), so the
// same record always produces the same bytes. Decoding rejects
// duplicate map keys and trailing data: a record that decrypts but does
// not decode cleanly is treated as corrupt, never partially applied.
// Unknown fields are skipped for forward compatibility.
package codec

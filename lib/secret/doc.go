// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret holds passphrases, derived vault keys, and escrow
// identities in memory the garbage collector never sees.
//
// A [Buffer] is an anonymous mmap region that is mlock'd (never swapped)
// and marked MADV_DONTDUMP (absent from core dumps). Close zeroes and
// unmaps it; any read after Close panics.
//
// [Zero] wipes heap slices that briefly carried secret material before
// it was moved into a Buffer, such as the bytes returned by
// term.ReadPassword or a decrypted CBOR record.
package secret

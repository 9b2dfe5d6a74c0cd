// Copyright 2024 the Bastion Authors. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package kdf implements the two-stage deterministic key derivation:
// a slow memory-hard stretch of the seed material into a 64-byte card
// seed (Argon2id), followed by fast per-token expansion of that seed
// into domain-separated byte streams (HKDF-Expand over SHA-512).
package kdf

import (
	"crypto/sha512"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/bastionpass/bastion/errors"
)

// SeedLen is the length of a card seed in bytes.
const SeedLen = 64

// MaxExpand is the HKDF-Expand output bound: 255 hash blocks.
const MaxExpand = 255 * sha512.Size

// Expand derives n bytes from prk with the provided info string as
// domain separator, using HKDF-Expand over SHA-512 (RFC 5869 with the
// Extract step skipped).
//
// Precondition: prk must already be uniformly random. Skipping
// Extract is sound only because prk is Argon2id output (or another
// full-entropy 64-byte key); Expand must never be fed raw user input.
func Expand(prk, info []byte, n int) ([]byte, error) {
	if len(prk) != SeedLen {
		return nil, errors.E(errors.Precondition,
			fmt.Sprintf("expand: prk must be %d bytes, got %d", SeedLen, len(prk)))
	}
	if n > MaxExpand {
		return nil, errors.E(errors.LengthExceeded,
			fmt.Sprintf("expand: %d bytes requested, limit is %d", n, MaxExpand))
	}
	out := make([]byte, n)
	if _, err := io.ReadFull(hkdf.Expand(sha512.New, prk, info), out); err != nil {
		return nil, errors.E("expand", err)
	}
	return out, nil
}

// Zero overwrites b with zeros. Seed material and card seeds are
// wiped with it as soon as their derivations complete, including
// derivations whose results are discarded by cancellation.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// Copyright 2024 the Bastion Authors. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package token maps pseudorandom bytes to printable tokens. Bytes
// are mapped to alphabet symbols by rejection sampling: a byte is
// accepted only below the largest multiple of the alphabet size, so
// that every symbol is exactly equally likely. Rejected bytes are
// simply skipped; callers therefore provision byte streams generously
// (64 stream bytes per 4-symbol token is the working ratio for the
// 90-symbol alphabet).
package token

import (
	"io"
	"strings"

	"github.com/bastionpass/bastion/errors"
)

// Length is the number of symbols in a token.
const Length = 4

// An Alphabet is an ordered set of distinct printable symbols.
type Alphabet struct {
	name    string
	symbols string
}

var (
	// Base10 is the digits-only alphabet, for numeric PINs.
	Base10 = Alphabet{"base10", "0123456789"}
	// Base62 is the alphanumeric alphabet.
	Base62 = Alphabet{"base62",
		"0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"}
	// Base90 is the full printable alphabet: alphanumerics plus the
	// 28 ASCII punctuation characters that survive every password
	// field (quotes, backslash and backquote are excluded).
	Base90 = Alphabet{"base90",
		"0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz" +
			"!#$%&()*+,-./:;<=>?@[]^_{|}~"}
)

// ByBase returns the standard alphabet with the given size.
func ByBase(base int) (Alphabet, error) {
	switch base {
	case 10:
		return Base10, nil
	case 62:
		return Base62, nil
	case 90:
		return Base90, nil
	}
	return Alphabet{}, errors.E(errors.Invalid, "no standard alphabet of that size")
}

// Size returns the number of symbols in the alphabet.
func (a Alphabet) Size() int {
	return len(a.symbols)
}

// Name returns the alphabet's name.
func (a Alphabet) Name() string {
	return a.name
}

// Symbol returns the symbol at index i.
func (a Alphabet) Symbol(i int) byte {
	return a.symbols[i]
}

// ByteToSymbol maps a pseudorandom byte to a symbol index of an
// alphabet of the provided size, or reports false if the byte must be
// rejected. The cutoff is the largest multiple of size not exceeding
// 256; bytes at or above it would bias the low symbols if reduced.
func ByteToSymbol(b byte, size int) (int, bool) {
	maxUsable := (256 / size) * size
	if int(b) >= maxUsable {
		return 0, false
	}
	return int(b) % size, true
}

// Generate pulls bytes from r, rejection-sampling them against a,
// until length symbols have been accepted, and returns the resulting
// token. If the stream ends first, it fails with StreamExhausted.
func Generate(r io.Reader, a Alphabet, length int) (string, error) {
	if a.Size() < 2 || a.Size() > 256 {
		return "", errors.E(errors.Invalid, "alphabet size out of range")
	}
	var (
		tok [1]byte
		b   strings.Builder
	)
	for b.Len() < length {
		// ReadFull, not Read: a reader may legally return its final
		// byte together with io.EOF, and that byte still counts.
		if _, err := io.ReadFull(r, tok[:]); err != nil {
			return "", errors.E(errors.StreamExhausted,
				"token stream ended before a full token was accepted", err)
		}
		if i, ok := ByteToSymbol(tok[0], a.Size()); ok {
			b.WriteByte(a.Symbol(i))
		}
	}
	return b.String(), nil
}

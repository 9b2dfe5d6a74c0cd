// Copyright 2024 the Bastion Authors. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package label

import (
	"encoding/hex"
	"io"

	"github.com/bastionpass/bastion/errors"
)

// A Coord identifies one of 100 positions: a row letter A-J and a
// column digit 0-9. The same coordinate space addresses both a card
// within a batch and a token cell within a card's grid.
type Coord struct {
	row, col int
}

const (
	// Rows are the valid coordinate row symbols, in order.
	Rows = "ABCDEFGHIJ"
	// Cols are the valid coordinate column symbols, in order.
	Cols = "0123456789"
)

// NumCoords is the size of the coordinate space.
const NumCoords = 100

// CoordAt returns the coordinate for batch or grid position i,
// counting row-major: 0 is A0, 9 is A9, 10 is B0, 99 is J9.
func CoordAt(i int) (Coord, error) {
	if i < 0 || i >= NumCoords {
		return Coord{}, errors.E(errors.Invalid, "coordinate index out of range")
	}
	return Coord{row: i / 10, col: i % 10}, nil
}

// MustCoordAt is CoordAt for indices known to be in range; it panics
// otherwise.
func MustCoordAt(i int) Coord {
	c, err := CoordAt(i)
	if err != nil {
		panic(err)
	}
	return c
}

// ParseCoord parses the two-character uppercase text form of a
// coordinate.
func ParseCoord(s string) (Coord, error) {
	if len(s) != 2 {
		return Coord{}, errors.E(errors.Malformed, "coordinate must be two characters")
	}
	row := int(s[0] - 'A')
	col := int(s[1] - '0')
	if row < 0 || row >= 10 || col < 0 || col >= 10 {
		return Coord{}, errors.E(errors.Malformed, "coordinate out of range")
	}
	return Coord{row: row, col: col}, nil
}

// String returns the uppercase text form, e.g. "C7".
func (c Coord) String() string {
	return string([]byte{Rows[c.row], Cols[c.col]})
}

// Index returns the row-major position of c, in [0, 100).
func (c Coord) Index() int {
	return c.row*10 + c.col
}

// Row returns the row of c, in [0, 10).
func (c Coord) Row() int { return c.row }

// Col returns the column of c, in [0, 10).
func (c Coord) Col() int { return c.col }

// A Nonce is 48 bits of randomness generated once per batch and
// shared by all cards in it. It provides domain separation against
// label collisions across batches, not secrecy.
type Nonce [6]byte

// NewNonce draws a fresh nonce from r, typically crypto/rand.Reader.
func NewNonce(r io.Reader) (Nonce, error) {
	var n Nonce
	if _, err := io.ReadFull(r, n[:]); err != nil {
		return Nonce{}, errors.E("generating nonce", err)
	}
	return n, nil
}

// String returns the 12-character lowercase hex form.
func (n Nonce) String() string {
	return hex.EncodeToString(n[:])
}

// ParseNonce parses the 12-character lowercase hex form.
func ParseNonce(s string) (Nonce, error) {
	if len(s) != 12 {
		return Nonce{}, errors.E(errors.Malformed, "nonce must be 12 hex characters")
	}
	var n Nonce
	if _, err := hex.Decode(n[:], []byte(s)); err != nil {
		return Nonce{}, errors.E(errors.Malformed, "nonce is not hex", err)
	}
	return n, nil
}

// Copyright 2024 the Bastion Authors. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package grid builds the 10x10 token matrix of a card. Every cell is
// a pure function of (card seed, token label, alphabet): the cell's
// token label text is the HKDF info string, the resulting 64-byte
// stream feeds the rejection-sampling token generator. Cells are
// independent of one another, so a matrix re-derived from the same
// seed always reproduces cell for cell.
package grid

import (
	"bytes"
	"crypto/sha512"
	"encoding/hex"
	"fmt"

	"github.com/bastionpass/bastion/errors"
	"github.com/bastionpass/bastion/kdf"
	"github.com/bastionpass/bastion/label"
	"github.com/bastionpass/bastion/token"
)

// Size is the matrix edge length; rows and columns both range over
// the ten coordinate symbols.
const Size = 10

// streamLen is the derived stream provisioned per cell. 64 bytes for
// a 4-symbol token leaves enormous headroom over rejection sampling
// even at the 90-symbol alphabet's 70% acceptance rate.
const streamLen = 64

// A Matrix is one card's grid of tokens, row A through J, column 0
// through 9. It is immutable once built.
type Matrix [Size][Size]string

// At returns the token at coordinate c.
func (m *Matrix) At(c label.Coord) string {
	return m[c.Row()][c.Col()]
}

// Derive builds the matrix for cardSeed. The caller owns cardSeed and
// is responsible for wiping it after its matrix (its only use) has
// been derived.
func Derive(cardSeed []byte, cardIndex label.Coord, a token.Alphabet) (*Matrix, error) {
	var m Matrix
	for i := 0; i < label.NumCoords; i++ {
		cell := label.MustCoordAt(i)
		info := label.Token{CardIndex: cardIndex, Cell: cell}.String()
		stream, err := kdf.Expand(cardSeed, []byte(info), streamLen)
		if err != nil {
			return nil, errors.E(fmt.Sprintf("deriving cell %s", cell), err)
		}
		tok, err := token.Generate(bytes.NewReader(stream), a, token.Length)
		kdf.Zero(stream)
		if err != nil {
			return nil, errors.E(fmt.Sprintf("deriving cell %s", cell), err)
		}
		m[cell.Row()][cell.Col()] = tok
	}
	return &m, nil
}

// DeriveTokenMatrix is the host-facing form of Derive: it resolves
// the standard alphabet for base and builds the card's matrix.
func DeriveTokenMatrix(cardSeed []byte, cardIndex label.Coord, base int) (*Matrix, error) {
	a, err := token.ByBase(base)
	if err != nil {
		return nil, err
	}
	return Derive(cardSeed, cardIndex, a)
}

// A Record is the externally visible result of deriving one card.
// Nothing in it is secret-bearing beyond the matrix itself: the
// digest is a short verification hash for spotting corrupted or
// mismatched re-derivations, not an authenticator.
type Record struct {
	// ID names the card: its user-facing id plus batch position.
	ID string
	// CardIndex positions the card within its batch.
	CardIndex label.Coord
	// Matrix is the card's grid.
	Matrix *Matrix
	// Digest is a short verification hash over label and matrix.
	Digest string
	// Label is the card's effective label: the parameters that
	// actually produced the matrix, ladder fallbacks included.
	Label label.Card
}

// NewRecord assembles the record for a derived card.
func NewRecord(card label.Card, m *Matrix) (Record, error) {
	text, err := label.Build(card)
	if err != nil {
		return Record{}, err
	}
	return Record{
		ID:        fmt.Sprintf("%s.%s", card.CardID, card.Index),
		CardIndex: card.Index,
		Matrix:    m,
		Digest:    digest(text, m),
		Label:     card,
	}, nil
}

// digest hashes the label text and every cell in row-major order with
// SHA-512/256 and keeps the first 16 hex characters.
func digest(labelText string, m *Matrix) string {
	h := sha512.New512_256()
	h.Write([]byte(labelText))
	for r := 0; r < Size; r++ {
		for c := 0; c < Size; c++ {
			h.Write([]byte{0}) // cell separator
			h.Write([]byte(m[r][c]))
		}
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

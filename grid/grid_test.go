// Copyright 2024 the Bastion Authors. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package grid

import (
	"strings"
	"testing"

	"github.com/bastionpass/bastion/kdf"
	"github.com/bastionpass/bastion/label"
	"github.com/bastionpass/bastion/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSeed() []byte {
	seed := make([]byte, kdf.SeedLen)
	for i := range seed {
		seed[i] = byte(i * 7)
	}
	return seed
}

func TestDeriveDeterministic(t *testing.T) {
	idx := label.MustCoordAt(27)
	first, err := Derive(testSeed(), idx, token.Base90)
	require.NoError(t, err)
	second, err := Derive(testSeed(), idx, token.Base90)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestDeriveCellsPopulated(t *testing.T) {
	m, err := Derive(testSeed(), label.MustCoordAt(0), token.Base90)
	require.NoError(t, err)
	seen := make(map[string]int)
	for i := 0; i < label.NumCoords; i++ {
		cell := m.At(label.MustCoordAt(i))
		assert.Len(t, cell, token.Length)
		seen[cell]++
	}
	// 100 independent 4-symbol base-90 tokens colliding would point
	// at a domain-separation bug, not bad luck.
	assert.Greater(t, len(seen), 95)
}

func TestDeriveCardIndexSeparation(t *testing.T) {
	a, err := Derive(testSeed(), label.MustCoordAt(1), token.Base90)
	require.NoError(t, err)
	b, err := Derive(testSeed(), label.MustCoordAt(2), token.Base90)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestDeriveAlphabetRestriction(t *testing.T) {
	m, err := Derive(testSeed(), label.MustCoordAt(0), token.Base10)
	require.NoError(t, err)
	for i := 0; i < label.NumCoords; i++ {
		cell := m.At(label.MustCoordAt(i))
		for j := 0; j < len(cell); j++ {
			assert.Contains(t, "0123456789", string(cell[j]))
		}
	}
}

func TestDeriveTokenMatrix(t *testing.T) {
	m, err := DeriveTokenMatrix(testSeed(), label.MustCoordAt(3), 62)
	require.NoError(t, err)
	direct, err := Derive(testSeed(), label.MustCoordAt(3), token.Base62)
	require.NoError(t, err)
	assert.Equal(t, direct, m)

	_, err = DeriveTokenMatrix(testSeed(), label.MustCoordAt(3), 47)
	assert.Error(t, err)
}

func TestDeriveShortSeed(t *testing.T) {
	_, err := Derive(make([]byte, 32), label.MustCoordAt(0), token.Base90)
	assert.Error(t, err)
}

func TestNewRecord(t *testing.T) {
	card := label.Card{
		SeedType: label.Phrase,
		KDF:      label.Argon2id,
		Params:   label.Params{Time: 1, MemoryMb: 8, Parallelism: 1},
		Base:     90,
		CardID:   "vault-7",
		Index:    label.MustCoordAt(27),
	}
	m, err := Derive(testSeed(), card.Index, token.Base90)
	require.NoError(t, err)
	rec, err := NewRecord(card, m)
	require.NoError(t, err)
	assert.Equal(t, "vault-7.C7", rec.ID)
	assert.Equal(t, card.Index, rec.CardIndex)
	assert.Len(t, rec.Digest, 16)
	assert.Equal(t, strings.ToLower(rec.Digest), rec.Digest)

	// The digest commits to the label: a different card index over
	// the same matrix digests differently.
	other := card
	other.Index = label.MustCoordAt(28)
	rec2, err := NewRecord(other, m)
	require.NoError(t, err)
	assert.NotEqual(t, rec.Digest, rec2.Digest)
}

// Copyright 2024 the Bastion Authors. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package label

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bastionpass/bastion/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testNonce(t *testing.T) Nonce {
	t.Helper()
	n, err := NewNonce(bytes.NewReader([]byte{0xde, 0xad, 0xbe, 0xef, 0x01, 0x02}))
	require.NoError(t, err)
	return n
}

func testCard(t *testing.T) Card {
	return Card{
		SeedType: Phrase,
		KDF:      Argon2id,
		Params:   Params{Time: 3, MemoryMb: 512, Parallelism: 1},
		Base:     90,
		Date:     time.Date(2024, 5, 17, 0, 0, 0, 0, time.UTC),
		Nonce:    testNonce(t),
		CardID:   "vault-7",
		Index:    MustCoordAt(27),
	}
}

func TestCardText(t *testing.T) {
	got, err := Build(testCard(t))
	require.NoError(t, err)
	want := "Bastion/TOKEN/PHRASE-ARGON2ID:vault-7.C7:2024-05-17" +
		"#VERSION=1&TIME=3&MEMORY=512&PARALLELISM=1&NONCE=deadbeef0102&ENCODING=90"
	require.Equal(t, want, got[:strings.LastIndexByte(got, '|')])
	require.NoError(t, Validate(got))
}

func TestCardRoundTrip(t *testing.T) {
	cards := []Card{
		testCard(t),
		{
			SeedType: BIP39,
			KDF:      Argon2id,
			Params:   Params{Time: 1, MemoryMb: 8, Parallelism: 4},
			Base:     10,
			Nonce:    testNonce(t), // no date
			CardID:   "a",
			Index:    MustCoordAt(0),
		},
		{
			SeedType: Shares,
			KDF:      Argon2id,
			Params:   Params{Time: 10, MemoryMb: 2048, Parallelism: 2},
			Base:     62,
			Date:     time.Date(1999, 12, 31, 0, 0, 0, 0, time.UTC),
			Nonce:    Nonce{},
			CardID:   "shared-team-card",
			Index:    MustCoordAt(99),
		},
	}
	for _, c := range cards {
		s, err := Build(c)
		require.NoError(t, err, "card %+v", c)
		parsed, err := ParseCard(s)
		require.NoError(t, err, "label %s", s)
		assert.Equal(t, c, parsed)
	}
}

func TestTokenRoundTrip(t *testing.T) {
	for _, i := range []int{0, 9, 10, 42, 99} {
		for _, j := range []int{0, 55, 99} {
			tok := Token{CardIndex: MustCoordAt(i), Cell: MustCoordAt(j)}
			s := tok.String()
			require.NoError(t, Validate(s))
			parsed, err := ParseToken(s)
			require.NoError(t, err, "label %s", s)
			assert.Equal(t, Token{CardIndex: MustCoordAt(i), Cell: MustCoordAt(j), Version: Version}, parsed)
			// A zero Version builds as the current version, so the
			// round trip is text-stable.
			assert.Equal(t, s, parsed.String())
		}
	}
}

func TestParseTokenVersion(t *testing.T) {
	// Only the current version is accepted; anything else is
	// Malformed, never silently upgraded.
	s := seal("Bastion/TOKEN/HMAC:C7.A3:#VERSION=2")
	_, err := ParseToken(s)
	assert.True(t, errors.Is(errors.Malformed, err), "got %v", err)
}

func TestTokenText(t *testing.T) {
	tok := Token{CardIndex: MustCoordAt(27), Cell: MustCoordAt(3)}
	s := tok.String()
	assert.Equal(t, "Bastion/TOKEN/HMAC:C7.A3:#VERSION=1", s[:strings.LastIndexByte(s, '|')])
}

func TestParseCardMalformed(t *testing.T) {
	good, err := Build(testCard(t))
	require.NoError(t, err)
	for name, mangle := range map[string]func(string) string{
		"no prefix": func(s string) string {
			return seal("Castle/" + strings.TrimPrefix(s[:strings.LastIndexByte(s, '|')], "Bastion/"))
		},
		"no params": func(s string) string {
			body := s[:strings.LastIndexByte(s, '|')]
			return seal(strings.Replace(body, "#", "!", 1))
		},
		"extra segment": func(s string) string {
			body := s[:strings.LastIndexByte(s, '|')]
			return seal(strings.Replace(body, ":vault-7", "::vault-7", 1))
		},
		"bad seed type": func(s string) string {
			body := s[:strings.LastIndexByte(s, '|')]
			return seal(strings.Replace(body, "PHRASE", "PHREAK", 1))
		},
		"bad index": func(s string) string {
			body := s[:strings.LastIndexByte(s, '|')]
			return seal(strings.Replace(body, ".C7:", ".K7:", 1))
		},
		"bad date": func(s string) string {
			body := s[:strings.LastIndexByte(s, '|')]
			return seal(strings.Replace(body, "2024-05-17", "2024-17-05", 1))
		},
		"params out of order": func(s string) string {
			body := s[:strings.LastIndexByte(s, '|')]
			return seal(strings.Replace(body, "TIME=3&MEMORY=512", "MEMORY=512&TIME=3", 1))
		},
		"bad nonce": func(s string) string {
			body := s[:strings.LastIndexByte(s, '|')]
			return seal(strings.Replace(body, "NONCE=deadbeef0102", "NONCE=deadbeef010g", 1))
		},
		"bad encoding": func(s string) string {
			body := s[:strings.LastIndexByte(s, '|')]
			return seal(strings.Replace(body, "ENCODING=90", "ENCODING=64", 1))
		},
		"future version": func(s string) string {
			body := s[:strings.LastIndexByte(s, '|')]
			return seal(strings.Replace(body, "VERSION=1", "VERSION=2", 1))
		},
	} {
		t.Run(name, func(t *testing.T) {
			mangled := mangle(good)
			require.NotEqual(t, good, mangled)
			_, err := ParseCard(mangled)
			assert.True(t, errors.Is(errors.Malformed, err), "got %v", err)
		})
	}
}

func TestParseCardBadChecksum(t *testing.T) {
	good, err := Build(testCard(t))
	require.NoError(t, err)
	mangled := strings.Replace(good, "MEMORY=512", "MEMORY=513", 1)
	_, err = ParseCard(mangled)
	assert.True(t, errors.Is(errors.BadChecksum, err), "got %v", err)
}

func TestCoord(t *testing.T) {
	for i := 0; i < NumCoords; i++ {
		c, err := CoordAt(i)
		require.NoError(t, err)
		assert.Equal(t, i, c.Index())
		parsed, err := ParseCoord(c.String())
		require.NoError(t, err)
		assert.Equal(t, c, parsed)
	}
	assert.Equal(t, "A0", MustCoordAt(0).String())
	assert.Equal(t, "J9", MustCoordAt(99).String())
	for _, bad := range []string{"", "A", "A00", "K0", "AA", "a0", "J:"} {
		_, err := ParseCoord(bad)
		assert.Error(t, err, "coordinate %q", bad)
	}
	_, err := CoordAt(100)
	assert.True(t, errors.Is(errors.Invalid, err), "got %v", err)
}

func TestNonce(t *testing.T) {
	n := testNonce(t)
	assert.Equal(t, "deadbeef0102", n.String())
	parsed, err := ParseNonce(n.String())
	require.NoError(t, err)
	assert.Equal(t, n, parsed)
	_, err = ParseNonce("deadbeef01")
	assert.True(t, errors.Is(errors.Malformed, err), "got %v", err)
	_, err = NewNonce(bytes.NewReader([]byte{1, 2}))
	assert.Error(t, err)
}

func TestBuildInvalid(t *testing.T) {
	c := testCard(t)
	c.CardID = "Vault-7"
	_, err := Build(c)
	assert.True(t, errors.Is(errors.Invalid, err), "got %v", err)
	c = testCard(t)
	c.Params.Time = 0
	_, err = Build(c)
	assert.True(t, errors.Is(errors.Invalid, err), "got %v", err)
	c = testCard(t)
	c.Base = 64
	_, err = Build(c)
	assert.True(t, errors.Is(errors.Invalid, err), "got %v", err)
}

func ExampleBuild() {
	card := Card{
		SeedType: Phrase,
		KDF:      Argon2id,
		Params:   Params{Time: 3, MemoryMb: 512, Parallelism: 1},
		Base:     90,
		CardID:   "vault-7",
		Index:    MustCoordAt(27),
	}
	s, _ := Build(card)
	fmt.Println(s)
	// Output:
	// Bastion/TOKEN/PHRASE-ARGON2ID:vault-7.C7:#VERSION=1&TIME=3&MEMORY=512&PARALLELISM=1&NONCE=000000000000&ENCODING=90|R
}

// Copyright 2024 the Bastion Authors. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package token

import (
	"bytes"
	"testing"
	"testing/iotest"

	"github.com/bastionpass/bastion/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlphabets(t *testing.T) {
	for _, tc := range []struct {
		base int
		want Alphabet
	}{
		{10, Base10},
		{62, Base62},
		{90, Base90},
	} {
		a, err := ByBase(tc.base)
		require.NoError(t, err)
		assert.Equal(t, tc.want, a)
		assert.Equal(t, tc.base, a.Size())
		// Symbols must be distinct or the mapping is biased.
		seen := make(map[byte]bool)
		for i := 0; i < a.Size(); i++ {
			assert.False(t, seen[a.Symbol(i)], "duplicate symbol %q", a.Symbol(i))
			seen[a.Symbol(i)] = true
		}
	}
	_, err := ByBase(64)
	assert.True(t, errors.Is(errors.Invalid, err), "got %v", err)
}

// TestRejectionCounts verifies the exact rejection regions: 256 minus
// the largest multiple of the alphabet size.
func TestRejectionCounts(t *testing.T) {
	for _, tc := range []struct {
		size     int
		rejected int
	}{
		{90, 76},  // maxUsable = 2*90 = 180
		{62, 8},   // maxUsable = 4*62 = 248
		{10, 6},   // maxUsable = 25*10 = 250
		{256, 0},  // every byte usable
		{128, 0},  // power of two divides 256
	} {
		var rejected int
		for b := 0; b < 256; b++ {
			if _, ok := ByteToSymbol(byte(b), tc.size); !ok {
				rejected++
			}
		}
		assert.Equal(t, tc.rejected, rejected, "alphabet size %d", tc.size)
	}
}

func TestByteToSymbolUnbiased(t *testing.T) {
	// Within the accepted region every symbol index must occur the
	// same number of times.
	for _, size := range []int{10, 62, 90} {
		counts := make([]int, size)
		for b := 0; b < 256; b++ {
			if i, ok := ByteToSymbol(byte(b), size); ok {
				counts[i]++
			}
		}
		want := (256 / size)
		for i, n := range counts {
			assert.Equal(t, want, n, "size %d symbol %d", size, i)
		}
	}
}

func TestGenerate(t *testing.T) {
	// 0,1,2,3 map to the first four symbols of any alphabet.
	tok, err := Generate(bytes.NewReader([]byte{0, 1, 2, 3}), Base90, Length)
	require.NoError(t, err)
	assert.Equal(t, "0123", tok)

	// Bytes in the rejection region are skipped, not reduced.
	tok, err = Generate(bytes.NewReader([]byte{200, 255, 0, 180, 1, 2, 3}), Base90, Length)
	require.NoError(t, err)
	assert.Equal(t, "0123", tok)
}

func TestGenerateFinalByteWithEOF(t *testing.T) {
	// A reader may return its final byte together with io.EOF; that
	// byte must still be consumed.
	stream := []byte{0, 1, 2, 3}
	tok, err := Generate(iotest.DataErrReader(bytes.NewReader(stream)), Base90, Length)
	require.NoError(t, err)
	assert.Equal(t, "0123", tok)

	// The same stream one byte short still exhausts.
	_, err = Generate(iotest.DataErrReader(bytes.NewReader(stream[:3])), Base90, Length)
	assert.True(t, errors.Is(errors.StreamExhausted, err), "got %v", err)
}

func TestGenerateExhausted(t *testing.T) {
	_, err := Generate(bytes.NewReader([]byte{0, 1, 2}), Base90, Length)
	assert.True(t, errors.Is(errors.StreamExhausted, err), "got %v", err)

	// A stream of only rejected bytes exhausts without accepting.
	all255 := bytes.Repeat([]byte{255}, 64)
	_, err = Generate(bytes.NewReader(all255), Base90, Length)
	assert.True(t, errors.Is(errors.StreamExhausted, err), "got %v", err)
}

func TestGenerateDeterministic(t *testing.T) {
	stream := make([]byte, 64)
	for i := range stream {
		stream[i] = byte(i * 37)
	}
	first, err := Generate(bytes.NewReader(stream), Base62, Length)
	require.NoError(t, err)
	second, err := Generate(bytes.NewReader(stream), Base62, Length)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

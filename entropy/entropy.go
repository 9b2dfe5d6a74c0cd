// Copyright 2024 the Bastion Authors. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package entropy computes bits of security for the derivation
// scheme. All functions are pure and consume public parameters only:
// alphabet sizes, label field widths, coordinate counts. They never
// see seed material, so a host can display security estimates without
// touching secrets.
//
// The compromise branches are the security-relevant contract. They
// model which physical or public artifacts an attacker already holds,
// and degrade the estimate accordingly rather than reporting the
// no-compromise composite.
package entropy

import "math"

// DefaultTokenReduction is the multiplier applied to token-value
// entropy when the attacker knows the label and card id but not the
// seed. It is an empirical constant carried over from the original
// security analysis; it has no closed-form derivation, and changing
// it silently changes published security claims, so treat it as part
// of the contract and override only deliberately.
const DefaultTokenReduction = 0.3

// NonceBits is the label nonce width.
const NonceBits = 48

// TokenLength is the symbols-per-token the estimates assume.
const TokenLength = 4

// TokenBits returns the value entropy of one token drawn uniformly
// from an alphabet of the given size.
func TokenBits(alphabetSize int) float64 {
	return TokenLength * math.Log2(float64(alphabetSize))
}

// CoordinateBits is the selection entropy of one grid position.
func CoordinateBits() float64 {
	return math.Log2(100)
}

// CardSelectionBits is the selection entropy of one card within a
// batch.
func CardSelectionBits() float64 {
	return math.Log2(100)
}

// Params are the public parameters an estimate is computed over.
type Params struct {
	// AlphabetSize is the token alphabet size: 10, 62 or 90.
	AlphabetSize int
	// SeedBits is the entropy of the seed material as supplied by
	// the host (passphrase strength, BIP-39 wordcount, share
	// scheme).
	SeedBits float64
	// DateBits is the entropy of the label's date field from the
	// attacker's point of view (zero when the date is printed).
	DateBits float64
	// CardIDBits is the entropy of the card id.
	CardIDBits float64
	// MemorizedBits is whatever the user appends from memory.
	MemorizedBits float64
	// Coordinates is the number of grid positions the user selects
	// for one password.
	Coordinates int
}

// LabelBits returns the total label entropy: date, card id, nonce,
// card index within the batch, and the alphabet choice.
func LabelBits(p Params) float64 {
	return p.DateBits + p.CardIDBits + NonceBits + math.Log2(100) + math.Log2(3)
}

// Compromise states which artifacts the attacker is assumed to hold.
type Compromise struct {
	// GridKnown: the physical card (all 100 token values) is in the
	// attacker's hands.
	GridKnown bool
	// SeedKnown: the seed material leaked.
	SeedKnown bool
	// LabelKnown: the full card label text leaked.
	LabelKnown bool
	// CardIDKnown: the card id (but not necessarily the rest of the
	// label) leaked.
	CardIDKnown bool
}

// A Report itemizes an estimate. Total is the sum of the parts.
type Report struct {
	SeedBits          float64
	LabelBits         float64
	CardSelectionBits float64
	CoordinateBits    float64
	TokenBits         float64
	MemorizedBits     float64
	Total             float64
}

// Model computes estimates. The zero Model uses
// DefaultTokenReduction.
type Model struct {
	// TokenReduction overrides DefaultTokenReduction when positive.
	TokenReduction float64
}

func (m Model) reduction() float64 {
	if m.TokenReduction > 0 {
		return m.TokenReduction
	}
	return DefaultTokenReduction
}

// Estimate computes the bits of security for p under compromise c.
//
// Branch rules:
//   - Grid known: token values contribute nothing; only the
//     coordinate selection survives per cell, plus seed and label
//     terms if those are independently still secret.
//   - Seed known and (label or card id) known: the grid is attacker-
//     computable, so again only coordinate selection survives.
//   - Label and card id known, seed unknown: token values are
//     retained at the reduction multiplier; the seed term is kept.
//   - Otherwise: the full composite.
func (m Model) Estimate(p Params, c Compromise) Report {
	var r Report
	r.MemorizedBits = p.MemorizedBits
	r.CoordinateBits = float64(p.Coordinates) * CoordinateBits()

	switch {
	case c.GridKnown:
		if !c.SeedKnown {
			r.SeedBits = p.SeedBits
		}
		if !c.LabelKnown {
			r.LabelBits = LabelBits(p)
		}
	case c.SeedKnown && (c.LabelKnown || c.CardIDKnown):
		// Nothing besides the selections: the attacker can simply
		// recompute the grid.
	case c.LabelKnown && c.CardIDKnown:
		r.SeedBits = p.SeedBits
		r.TokenBits = float64(p.Coordinates) * TokenBits(p.AlphabetSize) * m.reduction()
	default:
		// Full composite, minus any term that leaked on its own.
		if !c.SeedKnown {
			r.SeedBits = p.SeedBits
		}
		if !c.LabelKnown {
			r.LabelBits = LabelBits(p)
			if c.CardIDKnown {
				r.LabelBits -= p.CardIDBits
			}
		}
		r.CardSelectionBits = CardSelectionBits()
		r.TokenBits = float64(p.Coordinates) * TokenBits(p.AlphabetSize)
	}
	r.Total = r.SeedBits + r.LabelBits + r.CardSelectionBits +
		r.CoordinateBits + r.TokenBits + r.MemorizedBits
	return r
}

// Estimate is shorthand for the zero Model's Estimate.
func Estimate(p Params, c Compromise) Report {
	return Model{}.Estimate(p, c)
}

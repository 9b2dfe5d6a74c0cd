// Copyright 2024 the Bastion Authors. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package kdf

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/crypto/argon2"

	"github.com/bastionpass/bastion/errors"
	"github.com/bastionpass/bastion/label"
	"github.com/bastionpass/bastion/retry"
)

// Tiers is the fixed descending memory ladder, in megabytes. When a
// stretch fails for lack of memory, the ladder retries at the next
// tier below the failed request until one succeeds or the ladder is
// exhausted.
var Tiers = []int{2048, 1024, 512, 256, 128, 64, 32, 16, 8}

// yield paces ladder descent: a short pause between tiers lets the
// runtime reclaim the failed tier's allocation before the next
// attempt.
var yield retry.Policy = retry.Fixed(50 * time.Millisecond)

// A Stretcher wraps the memory-hard stretch with the memory grant the
// hosting environment reported. Workers bake their grant in at
// creation; a changed memory parameter means a new Stretcher.
type Stretcher struct {
	// GrantMb is the maximum memory one stretch may request, in
	// megabytes. Zero means ungranted: every request is refused.
	GrantMb int
}

// Stretch turns (phrase, card label text, cost parameters) into a
// 64-byte card seed with Argon2id. The label text is the salt, which
// is what makes the label a domain separator: the same phrase under a
// different label yields an unrelated seed.
//
// A request above the environment's grant fails with an OOM error
// carrying the requested amount; callers recover via DeriveCardSeed's
// ladder.
func (s Stretcher) Stretch(ctx context.Context, phrase []byte, labelText string, p label.Params) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.E("stretch", err)
	}
	if p.MemoryMb > s.GrantMb {
		return nil, errors.E(errors.OOM, errors.Temporary,
			fmt.Sprintf("stretch: requested %d MB, granted %d MB", p.MemoryMb, s.GrantMb))
	}
	seed := argon2.IDKey(phrase, []byte(labelText),
		uint32(p.Time), uint32(p.MemoryMb)<<10, uint8(p.Parallelism), SeedLen)
	if err := ctx.Err(); err != nil {
		// The stretch itself cannot be interrupted; a cancellation
		// observed afterwards discards (and wipes) the result.
		Zero(seed)
		return nil, errors.E("stretch", err)
	}
	return seed, nil
}

// DeriveCardSeed derives the card seed for one (seed material, card
// label) pair. Memory failures are recovered locally: the ladder
// walks the fixed tiers strictly downwards from the requested
// memory, rebuilding the label at each tier so that the returned
// card's label always states the parameters that actually produced
// the seed. Re-deriving with the returned card reproduces the seed
// byte for byte on any environment that can grant its tier.
//
// Only memory failures descend the ladder; any other failure is
// returned as is. If every tier fails, the environment cannot run
// the stretcher at all and the error is Broken, which callers must
// surface rather than silently degrade.
func DeriveCardSeed(ctx context.Context, s Stretcher, seedMaterial []byte, card label.Card) ([]byte, label.Card, error) {
	tries := 0
	for {
		text, err := label.Build(card)
		if err != nil {
			return nil, label.Card{}, err
		}
		seed, err := s.Stretch(ctx, seedMaterial, text, card.Params)
		if err == nil {
			return seed, card, nil
		}
		if !errors.Is(errors.OOM, err) {
			return nil, label.Card{}, err
		}
		next, ok := nextTier(card.Params.MemoryMb)
		if !ok {
			return nil, label.Card{}, errors.E(errors.Broken, errors.Fatal,
				"stretch failed at every memory tier", err)
		}
		if werr := retry.Wait(ctx, yield, tries); werr != nil {
			return nil, label.Card{}, errors.E("stretch ladder", werr)
		}
		tries++
		card.Params.MemoryMb = next
	}
}

func nextTier(mem int) (int, bool) {
	for _, t := range Tiers {
		if t < mem {
			return t, true
		}
	}
	return 0, false
}

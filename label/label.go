// Copyright 2024 the Bastion Authors. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package label builds and parses the self-describing card and token
// labels. A label doubles as the domain-separation salt for key
// derivation, so its text form is a stable wire contract: parameters
// serialize in one canonical key order, and a Luhn mod-36 check digit
// protects the whole body. Parsing is the strict inverse of building;
// structural deviations fail with a Malformed error and checksum
// mismatches with BadChecksum, never a silent repair.
//
// Card label:
//
//	Bastion/TOKEN/<SEEDTYPE>-<KDF>:<cardid>.<INDEX>:<date>#VERSION=1&TIME=t&MEMORY=m&PARALLELISM=p&NONCE=n&ENCODING=e|<check>
//
// Token label:
//
//	Bastion/TOKEN/HMAC:<INDEX>.<COORD>:#VERSION=1|<check>
package label

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bastionpass/bastion/errors"
)

// Prefix starts every label.
const Prefix = "Bastion/TOKEN/"

// Version is the label format version. Only version 1 exists.
const Version = 1

// DateLayout is the wire form of a card label's optional date.
const DateLayout = "2006-01-02"

// SeedType names the kind of seed material behind a card.
type SeedType string

const (
	// Phrase seeds are hashes of a user passphrase.
	Phrase SeedType = "PHRASE"
	// BIP39 seeds derive from a BIP-39 mnemonic.
	BIP39 SeedType = "BIP39"
	// Shares seeds are reconstructed multi-share secrets.
	Shares SeedType = "SHARES"
)

func parseSeedType(s string) (SeedType, error) {
	switch SeedType(s) {
	case Phrase, BIP39, Shares:
		return SeedType(s), nil
	}
	return "", errors.E(errors.Malformed, fmt.Sprintf("unknown seed type %q", s))
}

// KDF names the memory-hard stretch algorithm bound into a card label.
type KDF string

// Argon2id is the only stretch algorithm labels currently carry.
const Argon2id KDF = "ARGON2ID"

func parseKDF(s string) (KDF, error) {
	if KDF(s) != Argon2id {
		return "", errors.E(errors.Malformed, fmt.Sprintf("unknown kdf %q", s))
	}
	return Argon2id, nil
}

// Params are the cost parameters of the memory-hard stretch. They are
// public: they appear in the label so that the same card can be
// re-derived on any machine.
type Params struct {
	// Time is the Argon2id pass count.
	Time int
	// MemoryMb is the Argon2id memory cost in megabytes.
	MemoryMb int
	// Parallelism is the Argon2id lane count.
	Parallelism int
}

func (p Params) validate() error {
	if p.Time < 1 || p.MemoryMb < 1 || p.Parallelism < 1 {
		return errors.E(errors.Invalid, "kdf parameters must be positive")
	}
	return nil
}

// bases are the alphabet sizes a label's ENCODING field may carry.
var bases = map[int]bool{10: true, 62: true, 90: true}

// Card is the structured form of a card label. It binds a card to its
// KDF parameters, alphabet, date, batch nonce, and identity.
type Card struct {
	SeedType SeedType
	KDF      KDF
	Params   Params
	// Base is the token alphabet size: 10, 62 or 90.
	Base int
	// Date is optional; the zero time serializes as an empty segment.
	Date time.Time
	// Nonce is shared by all cards of a batch.
	Nonce Nonce
	// CardID is the user-facing card identity, lowercase.
	CardID string
	// Index positions the card within its 100-card batch.
	Index Coord
}

func validCardID(id string) error {
	if id == "" {
		return errors.E(errors.Invalid, "empty card id")
	}
	if strings.ToLower(id) != id {
		return errors.E(errors.Invalid, "card id must be lowercase")
	}
	if strings.ContainsAny(id, ":.#|&=/") {
		return errors.E(errors.Invalid, "card id contains a reserved character")
	}
	return nil
}

func (c Card) validate() error {
	if _, err := parseSeedType(string(c.SeedType)); err != nil {
		return err
	}
	if _, err := parseKDF(string(c.KDF)); err != nil {
		return err
	}
	if err := c.Params.validate(); err != nil {
		return err
	}
	if !bases[c.Base] {
		return errors.E(errors.Invalid, fmt.Sprintf("invalid alphabet size %d", c.Base))
	}
	return validCardID(c.CardID)
}

// paramString serializes the parameter block. Key order is canonical:
// the check digit and cross-implementation reproducibility both
// depend on it.
func (c Card) paramString() string {
	var b strings.Builder
	fmt.Fprintf(&b, "VERSION=%d", Version)
	fmt.Fprintf(&b, "&TIME=%d", c.Params.Time)
	fmt.Fprintf(&b, "&MEMORY=%d", c.Params.MemoryMb)
	fmt.Fprintf(&b, "&PARALLELISM=%d", c.Params.Parallelism)
	fmt.Fprintf(&b, "&NONCE=%s", c.Nonce)
	fmt.Fprintf(&b, "&ENCODING=%d", c.Base)
	return b.String()
}

// String returns the checksummed text form of the card label. It
// panics on a structurally invalid Card; use Build to get an error
// instead.
func (c Card) String() string {
	s, err := Build(c)
	if err != nil {
		panic(err)
	}
	return s
}

// Build returns the checksummed text form of the card label.
func Build(c Card) (string, error) {
	if err := c.validate(); err != nil {
		return "", err
	}
	var date string
	if !c.Date.IsZero() {
		date = c.Date.Format(DateLayout)
	}
	body := fmt.Sprintf("%s%s-%s:%s.%s:%s#%s",
		Prefix, c.SeedType, c.KDF, c.CardID, c.Index, date, c.paramString())
	return seal(body), nil
}

// canonicalKeys is the required parameter key order.
var canonicalKeys = [...]string{"VERSION", "TIME", "MEMORY", "PARALLELISM", "NONCE", "ENCODING"}

func parseParamBlock(s string) (map[string]string, error) {
	parts := strings.Split(s, "&")
	if len(parts) != len(canonicalKeys) {
		return nil, errors.E(errors.Malformed, "wrong parameter count")
	}
	m := make(map[string]string, len(parts))
	for i, part := range parts {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			return nil, errors.E(errors.Malformed, fmt.Sprintf("parameter %q is not key=value", part))
		}
		if k != canonicalKeys[i] {
			return nil, errors.E(errors.Malformed, fmt.Sprintf("parameter %q out of canonical order", k))
		}
		m[k] = v
	}
	return m, nil
}

func paramInt(m map[string]string, key string) (int, error) {
	n, err := strconv.Atoi(m[key])
	if err != nil || n < 0 {
		return 0, errors.E(errors.Malformed, fmt.Sprintf("parameter %s=%q is not a valid number", key, m[key]))
	}
	return n, nil
}

// ParseCard parses and validates the text form of a card label. The
// label's checksum is verified first; any structural deviation from
// the format is Malformed.
func ParseCard(s string) (Card, error) {
	if err := Validate(s); err != nil {
		return Card{}, err
	}
	body := s[:strings.LastIndexByte(s, '|')]
	rest, ok := strings.CutPrefix(body, Prefix)
	if !ok {
		return Card{}, errors.E(errors.Malformed, "label does not start with "+Prefix)
	}
	head, paramStr, ok := strings.Cut(rest, "#")
	if !ok {
		return Card{}, errors.E(errors.Malformed, "label has no parameter block")
	}
	segs := strings.Split(head, ":")
	if len(segs) != 3 {
		return Card{}, errors.E(errors.Malformed, "label head must have three segments")
	}
	st, kdf, ok := strings.Cut(segs[0], "-")
	if !ok {
		return Card{}, errors.E(errors.Malformed, "label has no seedtype-kdf pair")
	}
	var (
		c   Card
		err error
	)
	if c.SeedType, err = parseSeedType(st); err != nil {
		return Card{}, err
	}
	if c.KDF, err = parseKDF(kdf); err != nil {
		return Card{}, err
	}
	id, index, ok := strings.Cut(segs[1], ".")
	if !ok {
		return Card{}, errors.E(errors.Malformed, "label has no cardid.index pair")
	}
	if err = validCardID(id); err != nil {
		return Card{}, errors.E(errors.Malformed, err)
	}
	c.CardID = id
	if c.Index, err = ParseCoord(index); err != nil {
		return Card{}, err
	}
	if segs[2] != "" {
		if c.Date, err = time.Parse(DateLayout, segs[2]); err != nil {
			return Card{}, errors.E(errors.Malformed, "invalid date segment", err)
		}
	}
	m, err := parseParamBlock(paramStr)
	if err != nil {
		return Card{}, err
	}
	version, err := paramInt(m, "VERSION")
	if err != nil {
		return Card{}, err
	}
	if version != Version {
		return Card{}, errors.E(errors.Malformed, fmt.Sprintf("unsupported label version %d", version))
	}
	if c.Params.Time, err = paramInt(m, "TIME"); err != nil {
		return Card{}, err
	}
	if c.Params.MemoryMb, err = paramInt(m, "MEMORY"); err != nil {
		return Card{}, err
	}
	if c.Params.Parallelism, err = paramInt(m, "PARALLELISM"); err != nil {
		return Card{}, err
	}
	if c.Nonce, err = ParseNonce(m["NONCE"]); err != nil {
		return Card{}, err
	}
	if c.Base, err = paramInt(m, "ENCODING"); err != nil {
		return Card{}, err
	}
	if !bases[c.Base] {
		return Card{}, errors.E(errors.Malformed, fmt.Sprintf("invalid alphabet size %d", c.Base))
	}
	if err = c.Params.validate(); err != nil {
		return Card{}, errors.E(errors.Malformed, err)
	}
	return c, nil
}

// Token is the structured form of a token label. It identifies one of
// the 100 cells of one card's grid, and its text form is the HKDF
// info string that derives the cell's token.
type Token struct {
	// CardIndex positions the owning card within its batch.
	CardIndex Coord
	// Cell is the token's grid coordinate.
	Cell Coord
	// Version is the label format version; zero builds as the
	// current Version.
	Version int
}

// String returns the checksummed text form of the token label.
func (t Token) String() string {
	v := t.Version
	if v == 0 {
		v = Version
	}
	body := fmt.Sprintf("%sHMAC:%s.%s:#VERSION=%d", Prefix, t.CardIndex, t.Cell, v)
	return seal(body)
}

// ParseToken parses and validates the text form of a token label.
func ParseToken(s string) (Token, error) {
	if err := Validate(s); err != nil {
		return Token{}, err
	}
	body := s[:strings.LastIndexByte(s, '|')]
	rest, ok := strings.CutPrefix(body, Prefix)
	if !ok {
		return Token{}, errors.E(errors.Malformed, "label does not start with "+Prefix)
	}
	rest, ok = strings.CutPrefix(rest, "HMAC:")
	if !ok {
		return Token{}, errors.E(errors.Malformed, "token label is not HMAC-typed")
	}
	head, params, ok := strings.Cut(rest, ":#")
	if !ok {
		return Token{}, errors.E(errors.Malformed, "token label has no parameter block")
	}
	if params != fmt.Sprintf("VERSION=%d", Version) {
		return Token{}, errors.E(errors.Malformed, fmt.Sprintf("unsupported token label parameters %q", params))
	}
	t := Token{Version: Version}
	index, cell, ok := strings.Cut(head, ".")
	if !ok {
		return Token{}, errors.E(errors.Malformed, "token label has no index.cell pair")
	}
	var err error
	if t.CardIndex, err = ParseCoord(index); err != nil {
		return Token{}, err
	}
	if t.Cell, err = ParseCoord(cell); err != nil {
		return Token{}, err
	}
	return t, nil
}

// Copyright 2024 the Bastion Authors. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package label

import (
	"strings"

	"github.com/bastionpass/bastion/errors"
)

// checkAlphabet is the 36-symbol alphabet over which the Luhn mod-36
// check digit is computed. The digit must match across every
// implementation of the label format, so the mapping below is part of
// the wire contract: characters are mapped to their index in this
// alphabet, and bytes outside it fall back to byte mod 36.
const checkAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

func checkValue(c byte) int {
	if i := strings.IndexByte(checkAlphabet, c); i >= 0 {
		return i
	}
	return int(c) % 36
}

// Checksum computes the Luhn mod-36 check digit over body. The body
// is uppercased first; values are scanned right to left with every
// second value doubled, doubled values of 36 or more are reduced to
// quotient plus remainder, and the digit is the value that brings the
// total to a multiple of 36.
func Checksum(body string) byte {
	body = strings.ToUpper(body)
	var total int
	for i := 0; i < len(body); i++ {
		v := checkValue(body[len(body)-1-i])
		if i%2 == 0 {
			v *= 2
			if v >= 36 {
				v = v/36 + v%36
			}
		}
		total += v
	}
	return checkAlphabet[(36-total%36)%36]
}

// Validate splits s on its last '|', recomputes the check digit over
// the prefix, and reports a BadChecksum error on mismatch. A label
// with no '|' separator, or with anything but a single check
// character after it, is Malformed.
func Validate(s string) error {
	i := strings.LastIndexByte(s, '|')
	if i < 0 {
		return errors.E(errors.Malformed, "label has no check digit separator")
	}
	body, check := s[:i], s[i+1:]
	if len(check) != 1 {
		return errors.E(errors.Malformed, "label check digit must be a single character")
	}
	if Checksum(body) != check[0] {
		return errors.E(errors.BadChecksum, "label check digit does not validate")
	}
	return nil
}

func seal(body string) string {
	return body + "|" + string(Checksum(body))
}

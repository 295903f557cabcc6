// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package mpt

// Hex-prefix encoding flags for the compact paths stored in leaf and
// extension nodes. The first byte of an encoded path carries the flags and,
// for odd-length paths, the first nibble.
const (
	hpFlagOdd  = 0x10
	hpFlagLeaf = 0x20
)

// encodePath converts a nibble sequence into the hex-prefix format used on
// the wire. Leaf and extension nodes use the same layout and are only
// distinguished by the leaf flag.
func encodePath(dst []byte, nibbles []Nibble, isLeaf bool) []byte {
	prefix := byte(0)
	if isLeaf {
		prefix = hpFlagLeaf
	}
	if len(nibbles)%2 == 1 {
		dst = append(dst, prefix|hpFlagOdd|byte(nibbles[0]))
		nibbles = nibbles[1:]
	} else {
		dst = append(dst, prefix)
	}
	for i := 0; i < len(nibbles); i += 2 {
		dst = append(dst, byte(nibbles[i])<<4|byte(nibbles[i+1]))
	}
	return dst
}

// decodePath expands a hex-prefix encoded path into its nibble sequence,
// ignoring the leaf flag.
func decodePath(encoded []byte) []Nibble {
	if len(encoded) == 0 {
		return nil
	}
	res := make([]Nibble, 0, encodedPathNibbleCount(encoded))
	if encoded[0]&hpFlagOdd != 0 {
		res = append(res, Nibble(encoded[0]&0xF))
	}
	for _, b := range encoded[1:] {
		res = append(res, Nibble(b>>4), Nibble(b&0xF))
	}
	return res
}

// encodedPathNibbleCount returns the number of nibbles encoded in a
// hex-prefix path without decoding it.
func encodedPathNibbleCount(encoded []byte) int {
	if len(encoded) == 0 {
		return 0
	}
	count := 2 * (len(encoded) - 1)
	if encoded[0]&hpFlagOdd != 0 {
		count++
	}
	return count
}

// isEncodedPathLeaf reports whether the leaf flag is set on the given
// hex-prefix path.
func isEncodedPathLeaf(encoded []byte) bool {
	return len(encoded) > 0 && encoded[0]&hpFlagLeaf != 0
}

// encodedPathEqNibbles compares a hex-prefix encoded path with a nibble
// sequence for equality without allocating.
func encodedPathEqNibbles(encoded []byte, nibbles []Nibble) bool {
	if encodedPathNibbleCount(encoded) != len(nibbles) {
		return false
	}
	rest, ok := encodedPathStripPrefix(encoded, nibbles)
	return ok && len(rest) == 0
}

// encodedPathStripPrefix tests whether the encoded path is a prefix of the
// given nibble sequence and, if so, returns the remaining tail.
func encodedPathStripPrefix(encoded []byte, nibbles []Nibble) ([]Nibble, bool) {
	count := encodedPathNibbleCount(encoded)
	if count > len(nibbles) {
		return nil, false
	}
	if count == 0 {
		return nibbles, true
	}
	i := 0
	if encoded[0]&hpFlagOdd != 0 {
		if nibbles[i] != Nibble(encoded[0]&0xF) {
			return nil, false
		}
		i++
	}
	for j := 1; i < count; j++ {
		b := encoded[j]
		if nibbles[i] != Nibble(b>>4) {
			return nil, false
		}
		i++
		if i < count {
			if nibbles[i] != Nibble(b&0xF) {
				return nil, false
			}
			i++
		}
	}
	return nibbles[count:], true
}

// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package common

import "encoding/hex"

// Hash is a 32-byte Keccak-256 digest. It is used both for Merkle roots and
// for addressing nodes, code, and blocks by their content.
type Hash [32]byte

// Address is a 20-byte Ethereum account address.
type Address [20]byte

// Key is a 32-byte storage-slot key within a single account's storage.
type Key [32]byte

// Value is a 32-byte storage-slot value. The zero value represents an unset
// slot; slots holding the zero value are absent from the storage trie.
type Value [32]byte

// HashFromBytes creates a Hash from the given byte slice, which must hold
// exactly 32 bytes.
func HashFromBytes(data []byte) Hash {
	var h Hash
	copy(h[:], data)
	return h
}

func (h Hash) String() string {
	return "0x" + hex.EncodeToString(h[:])
}

func (a Address) String() string {
	return "0x" + hex.EncodeToString(a[:])
}

func (k Key) String() string {
	return "0x" + hex.EncodeToString(k[:])
}

// IsZero is true when the value holds all-zero bytes.
func (v Value) IsZero() bool {
	return v == Value{}
}

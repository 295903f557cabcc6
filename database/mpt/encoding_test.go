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

import (
	"bytes"
	"errors"
	"testing"

	"github.com/Fantom-foundation/Witness/go/common"
	"github.com/Fantom-foundation/Witness/go/database/mpt/rlp"
)

func TestEncoding_WordListTrieSurvivesRoundTrip(t *testing.T) {
	trie := NewTrie()
	for _, pair := range wordListPairs {
		if _, err := trie.Insert([]byte(pair.key), []byte(pair.value)); err != nil {
			t.Fatalf("failed to insert %s: %v", pair.key, err)
		}
	}
	want := trie.Hash()

	encoded := trie.Encode()
	restored, rest, err := DecodeTrie(encoded, trie.NumNodes())
	if err != nil {
		t.Fatalf("failed to decode trie: %v", err)
	}
	if len(rest) != 0 {
		t.Fatalf("decoder left %d unconsumed bytes", len(rest))
	}
	if got := restored.Hash(); got != want {
		t.Errorf("invalid hash after round trip, got %s, wanted %s", got, want)
	}

	for _, pair := range wordListPairs {
		value, found, err := restored.Get([]byte(pair.key))
		if err != nil || !found {
			t.Fatalf("failed to get %s: %v, %t", pair.key, err, found)
		}
		if got, want := value, []byte(pair.value); !bytes.Equal(got, want) {
			t.Errorf("invalid value for %s, got %s, wanted %s", pair.key, got, want)
		}
	}
}

func TestEncoding_KeccakKeyedTrieSurvivesRoundTrip(t *testing.T) {
	const N = 512
	trie := NewTrie()
	for i := uint64(0); i < N; i++ {
		if _, err := trie.InsertRLP(keccakKey(i), rlp.Uint64{Value: i}); err != nil {
			t.Fatalf("failed to insert %d: %v", i, err)
		}
	}
	want := trie.Hash()

	restored, _, err := DecodeTrie(trie.Encode(), trie.NumNodes())
	if err != nil {
		t.Fatalf("failed to decode trie: %v", err)
	}
	if got := restored.Hash(); got != want {
		t.Errorf("invalid hash after round trip, got %s, wanted %s", got, want)
	}
	for i := uint64(0); i < N; i++ {
		value, found, err := restored.Get(keccakKey(i))
		if err != nil || !found {
			t.Fatalf("failed to get %d: %v, %t", i, err, found)
		}
		if got, want := value, rlp.Encode(rlp.Uint64{Value: i}); !bytes.Equal(got, want) {
			t.Errorf("invalid value for %d, got %x, wanted %x", i, got, want)
		}
	}
}

func TestEncoding_DecodedTrieCanBeUpdated(t *testing.T) {
	const N = 128
	trie := NewTrie()
	for i := uint64(0); i < N; i++ {
		if _, err := trie.InsertRLP(keccakKey(i), rlp.Uint64{Value: i}); err != nil {
			t.Fatalf("failed to insert %d: %v", i, err)
		}
	}

	restored, _, err := DecodeTrie(trie.Encode(), trie.NumNodes())
	if err != nil {
		t.Fatalf("failed to decode trie: %v", err)
	}
	for i := uint64(N); i < 2*N; i++ {
		if _, err := trie.InsertRLP(keccakKey(i), rlp.Uint64{Value: i}); err != nil {
			t.Fatalf("failed to insert %d: %v", i, err)
		}
		if _, err := restored.InsertRLP(keccakKey(i), rlp.Uint64{Value: i}); err != nil {
			t.Fatalf("failed to insert %d into decoded trie: %v", i, err)
		}
	}
	if got, want := restored.Hash(), trie.Hash(); got != want {
		t.Errorf("decoded trie diverged after updates, got %s, wanted %s", got, want)
	}
}

func TestEncoding_SingleLeafTrieSurvivesRoundTrip(t *testing.T) {
	trie := NewTrie()
	if _, err := trie.Insert([]byte("key"), []byte("value")); err != nil {
		t.Fatalf("failed to insert: %v", err)
	}
	restored, _, err := DecodeTrie(trie.Encode(), trie.NumNodes())
	if err != nil {
		t.Fatalf("failed to decode trie: %v", err)
	}
	if got, want := restored.Hash(), trie.Hash(); got != want {
		t.Errorf("invalid hash after round trip, got %s, wanted %s", got, want)
	}
}

func TestEncoding_PartialTrieSurvivesRoundTrip(t *testing.T) {
	digest := common.Keccak256([]byte("unresolved subtree"))
	trie := newTrieFromDigest(digest)

	restored, _, err := DecodeTrie(trie.Encode(), trie.NumNodes())
	if err != nil {
		t.Fatalf("failed to decode trie: %v", err)
	}
	if got, want := restored.Hash(), digest; got != want {
		t.Errorf("invalid hash after round trip, got %s, wanted %s", got, want)
	}
}

func TestEncoding_TamperedInputIsRejected(t *testing.T) {
	const N = 64
	trie := NewTrie()
	for i := uint64(0); i < N; i++ {
		if _, err := trie.InsertRLP(keccakKey(i), rlp.Uint64{Value: i}); err != nil {
			t.Fatalf("failed to insert %d: %v", i, err)
		}
	}
	trie.Hash()
	encoded := trie.Encode()

	// flipping any payload byte beyond the root node must break the
	// reference verification chain
	for _, position := range []int{len(encoded) / 2, len(encoded) - 1} {
		tampered := make([]byte, len(encoded))
		copy(tampered, encoded)
		tampered[position] ^= 0x01

		_, _, err := DecodeTrie(tampered, trie.NumNodes())
		if err == nil {
			t.Errorf("tampered input at position %d was not rejected", position)
		}
	}
}

func TestEncoding_MismatchingRootIsRejected(t *testing.T) {
	a := NewTrie()
	if _, err := a.InsertRLP(keccakKey(1), rlp.Uint64{Value: 1}); err != nil {
		t.Fatalf("failed to insert: %v", err)
	}

	// splice a foreign subtree behind a root that does not reference it
	const N = 64
	b := NewTrie()
	for i := uint64(0); i < N; i++ {
		if _, err := b.InsertRLP(keccakKey(i), rlp.Uint64{Value: i}); err != nil {
			t.Fatalf("failed to insert %d: %v", i, err)
		}
	}
	bStream := b.Encode()
	bRootHeader, err := rlp.DecodeHeader(bStream)
	if err != nil {
		t.Fatalf("failed to parse stream: %v", err)
	}
	spliced := append(a.Encode(), bStream[bRootHeader.EncodedLength():]...)

	if _, rest, err := DecodeTrie(spliced, b.NumNodes()); err == nil && len(rest) == 0 {
		t.Errorf("spliced stream was decoded as a single trie")
	}
}

func TestEncoding_EmptyAndTruncatedInputIsRejected(t *testing.T) {
	if _, _, err := DecodeTrie(nil, 0); err == nil {
		t.Errorf("empty input was not rejected")
	}

	trie := NewTrie()
	for _, pair := range wordListPairs {
		if _, err := trie.Insert([]byte(pair.key), []byte(pair.value)); err != nil {
			t.Fatalf("failed to insert %s: %v", pair.key, err)
		}
	}
	encoded := trie.Encode()
	if _, _, err := DecodeTrie(encoded[:len(encoded)/2], trie.NumNodes()); err == nil {
		t.Errorf("truncated input was not rejected")
	}
}

func TestEncoding_NodeRefMismatchIsReported(t *testing.T) {
	const N = 64
	trie := NewTrie()
	for i := uint64(0); i < N; i++ {
		if _, err := trie.InsertRLP(keccakKey(i), rlp.Uint64{Value: i}); err != nil {
			t.Fatalf("failed to insert %d: %v", i, err)
		}
	}
	encoded := trie.Encode()

	// exchange the last two leaf values; the nodes remain well-formed RLP
	// but no longer match the references of their parents
	last := bytes.LastIndexByte(encoded, byte(N-1))
	tampered := make([]byte, len(encoded))
	copy(tampered, encoded)
	tampered[last] = byte(N - 2)

	_, _, err := DecodeTrie(tampered, trie.NumNodes())
	if err == nil {
		t.Fatalf("tampered leaf value was not rejected")
	}
	if !errors.Is(err, ErrNodeRefMismatch) {
		t.Errorf("unexpected error, got %v, wanted %v", err, ErrNodeRefMismatch)
	}
}

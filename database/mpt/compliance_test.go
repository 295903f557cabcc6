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
	"math/big"
	"testing"

	"github.com/Fantom-foundation/Witness/go/common"
	"github.com/Fantom-foundation/Witness/go/common/amount"
	"github.com/Fantom-foundation/Witness/go/database/mpt/rlp"
	"github.com/ethereum/go-ethereum/core/rawdb"
	gethtrie "github.com/ethereum/go-ethereum/trie"

	gethcommon "github.com/ethereum/go-ethereum/common"
	gethrlp "github.com/ethereum/go-ethereum/rlp"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
)

func newEthereumReferenceTrie() *gethtrie.Trie {
	return gethtrie.NewEmpty(gethtrie.NewDatabase(rawdb.NewMemoryDatabase()))
}

func TestEthereumCompatibleHash_EmptyTrie(t *testing.T) {
	reference := newEthereumReferenceTrie()
	trie := NewTrie()
	if got, want := trie.Hash(), common.Hash(reference.Hash()); got != want {
		t.Errorf("invalid hash\nexpected %v\n     got %v", want, got)
	}
}

func TestEthereumCompatibleHash_WordList(t *testing.T) {
	reference := newEthereumReferenceTrie()
	trie := NewTrie()
	for _, pair := range wordListPairs {
		reference.MustUpdate([]byte(pair.key), []byte(pair.value))
		if _, err := trie.Insert([]byte(pair.key), []byte(pair.value)); err != nil {
			t.Fatalf("failed to insert %s: %v", pair.key, err)
		}
		if got, want := trie.Hash(), common.Hash(reference.Hash()); got != want {
			t.Fatalf("invalid hash after inserting %s\nexpected %v\n     got %v", pair.key, want, got)
		}
	}
}

func TestEthereumCompatibleHash_KeccakKeys(t *testing.T) {
	const N = 256
	reference := newEthereumReferenceTrie()
	trie := NewTrie()
	for i := uint64(0); i < N; i++ {
		value := rlp.Encode(rlp.Uint64{Value: i})
		reference.MustUpdate(keccakKey(i), value)
		if _, err := trie.InsertRLP(keccakKey(i), rlp.Uint64{Value: i}); err != nil {
			t.Fatalf("failed to insert %d: %v", i, err)
		}
	}
	if got, want := trie.Hash(), common.Hash(reference.Hash()); got != want {
		t.Errorf("invalid hash\nexpected %v\n     got %v", want, got)
	}

	// deleting entry by entry must track the reference as well
	for i := uint64(0); i < N; i++ {
		reference.MustDelete(keccakKey(i))
		if _, err := trie.Delete(keccakKey(i)); err != nil {
			t.Fatalf("failed to delete %d: %v", i, err)
		}
		if got, want := trie.Hash(), common.Hash(reference.Hash()); got != want {
			t.Fatalf("invalid hash after deleting %d\nexpected %v\n     got %v", i, want, got)
		}
	}
}

func TestEthereumCompatibleHash_ShortKeys(t *testing.T) {
	const N = 100
	reference := newEthereumReferenceTrie()
	trie := NewTrie()
	for i := uint64(0); i < N; i++ {
		key := rlp.Encode(rlp.Uint64{Value: i})
		value := rlp.Encode(rlp.Uint64{Value: i * i})
		reference.MustUpdate(key, value)
		if _, err := trie.Insert(key, value); err != nil {
			t.Fatalf("failed to insert %d: %v", i, err)
		}
	}
	if got, want := trie.Hash(), common.Hash(reference.Hash()); got != want {
		t.Errorf("invalid hash\nexpected %v\n     got %v", want, got)
	}
}

func TestEthereumCompatibleEncoding_Account(t *testing.T) {
	info := AccountInfo{
		Nonce:       42,
		Balance:     amount.New(12345),
		StorageRoot: common.Keccak256([]byte("storage")),
		CodeHash:    common.Keccak256([]byte("code")),
	}
	codeHash := info.CodeHash
	reference, err := gethrlp.EncodeToBytes(&gethtypes.StateAccount{
		Nonce:    info.Nonce,
		Balance:  big.NewInt(12345),
		Root:     gethcommon.Hash(info.StorageRoot),
		CodeHash: codeHash[:],
	})
	if err != nil {
		t.Fatalf("failed to encode reference account: %v", err)
	}
	if got, want := rlp.Encode(info.rlpItem()), reference; string(got) != string(want) {
		t.Errorf("invalid account encoding\nexpected %x\n     got %x", want, got)
	}
}

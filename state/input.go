// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package state

import (
	"bytes"
	"fmt"

	"github.com/Fantom-foundation/Witness/go/common"
	"github.com/Fantom-foundation/Witness/go/database/mpt"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// TrieBytes is the wire form of a single trie: its serialized node stream
// plus the node count used to pre-size the decoder.
type TrieBytes struct {
	NumNodes int
	Data     []byte
}

// StorageTrieBytes is the wire form of the storage trie of one account,
// identified by the hash of the account address.
type StorageTrieBytes struct {
	HashedAddress common.Hash
	Trie          TrieBytes
}

// EthereumStateBytes is the serialized form of a partial Ethereum state as
// shipped from the host preparing the witness to the verifying client.
type EthereumStateBytes struct {
	StateTrie    TrieBytes
	StorageTries []StorageTrieBytes
}

// RootMismatchError reports a trie whose root hash does not match the
// declared root.
type RootMismatchError struct {
	Got, Want common.Hash
}

func (e RootMismatchError) Error() string {
	return fmt.Sprintf("state root mismatch, got %s, wanted %s", e.Got, e.Want)
}

// StorageRootMismatchError reports a storage trie whose root hash does not
// match the storage root recorded in its account.
type StorageRootMismatchError struct {
	Account   common.Hash
	Got, Want common.Hash
}

func (e StorageRootMismatchError) Error() string {
	return fmt.Sprintf("storage root mismatch for account %s, got %s, wanted %s",
		e.Account, e.Got, e.Want)
}

// EncodeState serializes the given state. Storage tries are emitted in
// lexicographic order of their hashed addresses, making the encoding
// deterministic.
func EncodeState(state *mpt.EthereumState) *EthereumStateBytes {
	res := &EthereumStateBytes{
		StateTrie: TrieBytes{
			NumNodes: state.AccountTrie.NumNodes(),
			Data:     state.AccountTrie.Encode(),
		},
	}
	hashedAddresses := maps.Keys(state.StorageTries)
	slices.SortFunc(hashedAddresses, func(a, b common.Hash) bool {
		return bytes.Compare(a[:], b[:]) < 0
	})
	for _, hashedAddress := range hashedAddresses {
		trie := state.StorageTries[hashedAddress]
		res.StorageTries = append(res.StorageTries, StorageTrieBytes{
			HashedAddress: hashedAddress,
			Trie: TrieBytes{
				NumNodes: trie.NumNodes(),
				Data:     trie.Encode(),
			},
		})
	}
	return res
}

// BuildState decodes a serialized state and verifies it against the given
// anchor, the state root declared by the parent block header. The account
// trie must hash to the anchor, and every storage trie must hash to the
// storage root recorded in its account, with the empty root expected for
// accounts absent from the account trie. The buffers in the input must stay
// alive and unmodified for the lifetime of the returned state.
func BuildState(input *EthereumStateBytes, anchor common.Hash) (*mpt.EthereumState, error) {
	accountTrie, rest, err := mpt.DecodeTrie(input.StateTrie.Data, input.StateTrie.NumNodes)
	if err != nil {
		return nil, fmt.Errorf("failed to decode account trie: %w", err)
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("trailing data after account trie")
	}
	if got := accountTrie.Hash(); got != anchor {
		return nil, RootMismatchError{Got: got, Want: anchor}
	}

	storageTries := make(map[common.Hash]*mpt.Trie, len(input.StorageTries))
	for _, entry := range input.StorageTries {
		expectedRoot := mpt.EmptyNodeEthereumHash
		data, found, err := accountTrie.Get(entry.HashedAddress[:])
		if err != nil {
			return nil, err
		}
		if found {
			account, err := mpt.DecodeAccount(data)
			if err != nil {
				return nil, err
			}
			expectedRoot = account.StorageRoot
		}

		storageTrie, rest, err := mpt.DecodeTrie(entry.Trie.Data, entry.Trie.NumNodes)
		if err != nil {
			return nil, fmt.Errorf("failed to decode storage trie of %s: %w", entry.HashedAddress, err)
		}
		if len(rest) != 0 {
			return nil, fmt.Errorf("trailing data after storage trie of %s", entry.HashedAddress)
		}
		if got := storageTrie.Hash(); got != expectedRoot {
			return nil, StorageRootMismatchError{
				Account: entry.HashedAddress,
				Got:     got,
				Want:    expectedRoot,
			}
		}
		storageTries[entry.HashedAddress] = storageTrie
	}

	return &mpt.EthereumState{
		AccountTrie:  accountTrie,
		StorageTries: storageTries,
	}, nil
}

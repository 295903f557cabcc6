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
	"fmt"

	"github.com/Fantom-foundation/Witness/go/common"
	"github.com/Fantom-foundation/Witness/go/common/amount"
	"github.com/Fantom-foundation/Witness/go/database/mpt/rlp"
	"github.com/holiman/uint256"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// AccountInfo is the information stored per account in the state trie. It is
// serialized as the canonical four field RLP tuple.
type AccountInfo struct {
	Nonce       uint64
	Balance     amount.Amount
	StorageRoot common.Hash
	CodeHash    common.Hash
}

// rlpItem returns the RLP item representation of this account.
func (a *AccountInfo) rlpItem() rlp.Item {
	return rlp.List{Items: []rlp.Item{
		rlp.Uint64{Value: a.Nonce},
		rlp.String{Str: a.Balance.BytesTrimmed()},
		rlp.Hash{Hash: &a.StorageRoot},
		rlp.Hash{Hash: &a.CodeHash},
	}}
}

// DecodeAccount parses the RLP encoding of an account as stored in the
// state trie.
func DecodeAccount(data []byte) (AccountInfo, error) {
	item, err := rlp.Decode(data)
	if err != nil {
		return AccountInfo{}, err
	}
	list, ok := item.(rlp.List)
	if !ok || len(list.Items) != 4 {
		return AccountInfo{}, fmt.Errorf("invalid account encoding")
	}
	fields := make([][]byte, 4)
	for i, item := range list.Items {
		str, ok := item.(rlp.String)
		if !ok {
			return AccountInfo{}, fmt.Errorf("invalid account field %d", i)
		}
		fields[i] = str.Str
	}
	if len(fields[0]) > 8 || len(fields[1]) > 32 || len(fields[2]) != 32 || len(fields[3]) != 32 {
		return AccountInfo{}, fmt.Errorf("invalid account field length")
	}
	nonce := uint64(0)
	for _, b := range fields[0] {
		nonce = nonce<<8 | uint64(b)
	}
	return AccountInfo{
		Nonce:       nonce,
		Balance:     amount.NewFromUint256(new(uint256.Int).SetBytes(fields[1])),
		StorageRoot: common.HashFromBytes(fields[2]),
		CodeHash:    common.HashFromBytes(fields[3]),
	}, nil
}

// AccountUpdate describes the new values of a changed account.
type AccountUpdate struct {
	Nonce    uint64
	Balance  amount.Amount
	CodeHash common.Hash
}

// BundleAccount is the per-account portion of a BundleState. A nil Info
// marks the account as deleted. Destroyed accounts get their storage cleared
// before the slot updates are applied, covering self destruction followed by
// re-creation within the same block.
type BundleAccount struct {
	Destroyed bool
	Info      *AccountUpdate
	Storage   map[common.Key]common.Value
}

// BundleState aggregates all account changes produced by executing a block.
type BundleState struct {
	Accounts map[common.Address]*BundleAccount
}

// EthereumState is the in-memory, possibly partial state of an Ethereum
// chain: the account trie plus the storage tries of all relevant accounts,
// the latter indexed by the hash of the account address.
type EthereumState struct {
	AccountTrie  *Trie
	StorageTries map[common.Hash]*Trie
}

// NewEthereumState creates an empty state.
func NewEthereumState() *EthereumState {
	return &EthereumState{
		AccountTrie:  NewTrie(),
		StorageTries: map[common.Hash]*Trie{},
	}
}

// Hash computes the state root.
func (s *EthereumState) Hash() common.Hash {
	return s.AccountTrie.Hash()
}

// GetAccount retrieves the account stored for the given address, if any.
func (s *EthereumState) GetAccount(address common.Address) (AccountInfo, bool, error) {
	hashed := common.Keccak256ForAddress(address)
	data, found, err := s.AccountTrie.Get(hashed[:])
	if err != nil || !found {
		return AccountInfo{}, false, err
	}
	info, err := DecodeAccount(data)
	if err != nil {
		return AccountInfo{}, false, err
	}
	return info, true, nil
}

// GetStorage retrieves the value of the given storage slot. Absent slots
// report the zero value.
func (s *EthereumState) GetStorage(address common.Address, key common.Key) (common.Value, error) {
	trie, found := s.StorageTries[common.Keccak256ForAddress(address)]
	if !found {
		return common.Value{}, fmt.Errorf("no storage trie for account %s", address)
	}
	hashed := common.Keccak256ForKey(key)
	data, found, err := trie.Get(hashed[:])
	if err != nil || !found {
		return common.Value{}, err
	}
	item, err := rlp.Decode(data)
	if err != nil {
		return common.Value{}, err
	}
	str, ok := item.(rlp.String)
	if !ok || len(str.Str) > 32 {
		return common.Value{}, fmt.Errorf("invalid storage value encoding")
	}
	var value common.Value
	copy(value[32-len(str.Str):], str.Str)
	return value, nil
}

// ApplyBundle applies the account and storage changes of an executed block
// to this state. Updates touching parts of the state not covered by the
// underlying tries fail with a NodeNotResolvedError.
func (s *EthereumState) ApplyBundle(bundle *BundleState) error {
	addresses := maps.Keys(bundle.Accounts)
	slices.SortFunc(addresses, func(a, b common.Address) bool {
		return bytes.Compare(a[:], b[:]) < 0
	})
	for _, address := range addresses {
		account := bundle.Accounts[address]
		hashedAddress := common.Keccak256ForAddress(address)

		if account.Info == nil {
			if _, err := s.AccountTrie.Delete(hashedAddress[:]); err != nil {
				return err
			}
			delete(s.StorageTries, hashedAddress)
			continue
		}

		storageTrie, found := s.StorageTries[hashedAddress]
		if !found || account.Destroyed {
			storageTrie = NewTrie()
			s.StorageTries[hashedAddress] = storageTrie
		}

		slots := maps.Keys(account.Storage)
		slices.SortFunc(slots, func(a, b common.Key) bool {
			return bytes.Compare(a[:], b[:]) < 0
		})
		for _, slot := range slots {
			value := account.Storage[slot]
			hashedSlot := common.Keccak256ForKey(slot)
			if value.IsZero() {
				if _, err := storageTrie.Delete(hashedSlot[:]); err != nil {
					return err
				}
			} else {
				trimmed := new(uint256.Int).SetBytes(value[:])
				if _, err := storageTrie.InsertRLP(hashedSlot[:], rlp.Uint256{Value: trimmed}); err != nil {
					return err
				}
			}
		}

		info := AccountInfo{
			Nonce:       account.Info.Nonce,
			Balance:     account.Info.Balance,
			StorageRoot: storageTrie.Hash(),
			CodeHash:    account.Info.CodeHash,
		}
		if _, err := s.AccountTrie.InsertRLP(hashedAddress[:], info.rlpItem()); err != nil {
			return err
		}
	}
	return nil
}

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
	"github.com/Fantom-foundation/Witness/go/common/amount"
	"github.com/Fantom-foundation/Witness/go/database/mpt"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

const (
	// ErrNonConsecutiveHeaders is produced when the provided header chain
	// skips a block number.
	ErrNonConsecutiveHeaders = common.ConstError("non-consecutive block headers")

	// ErrParentHashMismatch is produced when a header does not link to the
	// hash of its predecessor.
	ErrParentHashMismatch = common.ConstError("parent hash mismatch")
)

// BlockHeader provides the header information the witness database needs:
// the position of the block in the chain, its linkage, and the state root
// it declares.
type BlockHeader interface {
	Number() uint64
	ParentHash() common.Hash
	Hash() common.Hash
	StateRoot() common.Hash
}

// Account is the resolved information of one account as seen by a block
// executor, including the resolved bytecode.
type Account struct {
	Nonce    uint64
	Balance  amount.Amount
	CodeHash common.Hash
	Code     []byte
}

// WitnessDb is a fully materialized, read-only view of the slice of the
// Ethereum state a single block execution touches. It is built up front from
// a verified state, the declared state requests, the bytecodes, and the
// header chain; lookups beyond the declared requests are input contract
// violations and fail. Absent accounts and slots resolve to their canonical
// empty values.
type WitnessDb struct {
	accounts    map[common.Address]Account
	storage     map[common.Address]map[common.Key]common.Value
	blockHashes map[uint64]common.Hash
	codes       map[common.Hash][]byte
}

// emptyCodeHash is the hash of an empty bytecode, reported by accounts that
// do not exist.
var emptyCodeHash = common.Keccak256(nil)

// MakeWitnessDb pre-resolves all state requests against the given state and
// verifies the header chain. The headers must be reverse-chronological,
// starting with the block to be executed; consecutive numbering and parent
// hash linkage are verified, and the hashes of all ancestors become
// available for block hash lookups. Missing bytecodes and missing storage
// tries fail the construction.
func MakeWitnessDb(
	state *mpt.EthereumState,
	requests map[common.Address][]common.Key,
	codes [][]byte,
	headers []BlockHeader,
) (*WitnessDb, error) {
	codesByHash := make(map[common.Hash][]byte, len(codes))
	for _, code := range codes {
		codesByHash[common.Keccak256(code)] = code
	}

	accounts := make(map[common.Address]Account, len(requests))
	storage := make(map[common.Address]map[common.Key]common.Value, len(requests))

	addresses := maps.Keys(requests)
	slices.SortFunc(addresses, func(a, b common.Address) bool {
		return bytes.Compare(a[:], b[:]) < 0
	})
	for _, address := range addresses {
		info, found, err := state.GetAccount(address)
		if err != nil {
			return nil, err
		}
		if found {
			code, ok := codesByHash[info.CodeHash]
			if !ok {
				return nil, fmt.Errorf("missing bytecode for account %s", address)
			}
			accounts[address] = Account{
				Nonce:    info.Nonce,
				Balance:  info.Balance,
				CodeHash: info.CodeHash,
				Code:     code,
			}
		} else {
			accounts[address] = Account{CodeHash: emptyCodeHash}
		}

		slots := requests[address]
		if len(slots) == 0 {
			continue
		}
		values := make(map[common.Key]common.Value, len(slots))
		for _, slot := range slots {
			value, err := state.GetStorage(address, slot)
			if err != nil {
				return nil, err
			}
			values[slot] = value
		}
		storage[address] = values
	}

	blockHashes := make(map[uint64]common.Hash, len(headers))
	for i := 0; i+1 < len(headers); i++ {
		child, parent := headers[i], headers[i+1]
		if parent.Number() != child.Number()-1 {
			return nil, ErrNonConsecutiveHeaders
		}
		if parent.Hash() != child.ParentHash() {
			return nil, ErrParentHashMismatch
		}
		blockHashes[parent.Number()] = child.ParentHash()
	}

	return &WitnessDb{
		accounts:    accounts,
		storage:     storage,
		blockHashes: blockHashes,
		codes:       codesByHash,
	}, nil
}

// GetAccount returns the account stored for the given address. Only
// addresses listed in the state requests can be queried.
func (db *WitnessDb) GetAccount(address common.Address) (Account, error) {
	account, found := db.accounts[address]
	if !found {
		return Account{}, fmt.Errorf("account %s was not requested", address)
	}
	return account, nil
}

// GetCode returns the bytecode with the given hash.
func (db *WitnessDb) GetCode(hash common.Hash) ([]byte, error) {
	code, found := db.codes[hash]
	if !found {
		return nil, fmt.Errorf("missing bytecode %s", hash)
	}
	return code, nil
}

// GetStorage returns the value of the given storage slot. Only slots listed
// in the state requests can be queried.
func (db *WitnessDb) GetStorage(address common.Address, key common.Key) (common.Value, error) {
	values, found := db.storage[address]
	if !found {
		return common.Value{}, fmt.Errorf("no storage requested for account %s", address)
	}
	value, found := values[key]
	if !found {
		return common.Value{}, fmt.Errorf("slot %s of account %s was not requested", key, address)
	}
	return value, nil
}

// GetBlockHash returns the hash of the ancestor block with the given number.
func (db *WitnessDb) GetBlockHash(number uint64) (common.Hash, error) {
	hash, found := db.blockHashes[number]
	if !found {
		return common.Hash{}, fmt.Errorf("no header for block %d", number)
	}
	return hash, nil
}

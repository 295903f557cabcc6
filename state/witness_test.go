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
	"errors"
	"testing"

	"github.com/Fantom-foundation/Witness/go/common"
	"github.com/Fantom-foundation/Witness/go/common/amount"
	"github.com/Fantom-foundation/Witness/go/database/mpt"
)

// testHeader is a minimal BlockHeader implementation for tests.
type testHeader struct {
	number     uint64
	parentHash common.Hash
	hash       common.Hash
	stateRoot  common.Hash
}

func (h *testHeader) Number() uint64          { return h.number }
func (h *testHeader) ParentHash() common.Hash { return h.parentHash }
func (h *testHeader) Hash() common.Hash       { return h.hash }
func (h *testHeader) StateRoot() common.Hash  { return h.stateRoot }

// testHeaderChain creates a linked reverse-chronological header chain of the
// given length, ending at the given block number.
func testHeaderChain(length int, tip uint64) []BlockHeader {
	res := make([]BlockHeader, length)
	for i := range res {
		number := tip - uint64(i)
		res[i] = &testHeader{
			number:     number,
			hash:       common.Keccak256([]byte{byte(number)}),
			parentHash: common.Keccak256([]byte{byte(number - 1)}),
		}
	}
	return res
}

var testCode = []byte{0x60, 0x00, 0x60, 0x00, 0xf3}

// makeTestState builds a state with a single contract account at the given
// address holding one storage slot.
func makeTestState(t *testing.T, address common.Address) *mpt.EthereumState {
	t.Helper()
	state := mpt.NewEthereumState()
	err := state.ApplyBundle(&mpt.BundleState{Accounts: map[common.Address]*mpt.BundleAccount{
		address: {
			Info: &mpt.AccountUpdate{
				Nonce:    5,
				Balance:  amount.New(1000),
				CodeHash: common.Keccak256(testCode),
			},
			Storage: map[common.Key]common.Value{
				{0x01}: {31: 0x42},
			},
		},
	}})
	if err != nil {
		t.Fatalf("failed to build state: %v", err)
	}
	return state
}

func TestWitnessDb_ResolvesRequestedAccounts(t *testing.T) {
	address := common.Address{0x01}
	state := makeTestState(t, address)

	db, err := MakeWitnessDb(state, map[common.Address][]common.Key{
		address: {{0x01}, {0x02}},
	}, [][]byte{testCode}, testHeaderChain(2, 10))
	if err != nil {
		t.Fatalf("failed to build witness database: %v", err)
	}

	account, err := db.GetAccount(address)
	if err != nil {
		t.Fatalf("failed to get account: %v", err)
	}
	want := Account{
		Nonce:    5,
		Balance:  amount.New(1000),
		CodeHash: common.Keccak256(testCode),
		Code:     testCode,
	}
	if account.Nonce != want.Nonce || account.Balance != want.Balance ||
		account.CodeHash != want.CodeHash || string(account.Code) != string(want.Code) {
		t.Errorf("invalid account, got %v, wanted %v", account, want)
	}

	if value, err := db.GetStorage(address, common.Key{0x01}); err != nil || value != (common.Value{31: 0x42}) {
		t.Errorf("invalid slot value, got %x, %v", value, err)
	}
	// the requested but absent slot resolves to zero
	if value, err := db.GetStorage(address, common.Key{0x02}); err != nil || value != (common.Value{}) {
		t.Errorf("invalid absent slot value, got %x, %v", value, err)
	}

	if code, err := db.GetCode(common.Keccak256(testCode)); err != nil || string(code) != string(testCode) {
		t.Errorf("invalid code, got %x, %v", code, err)
	}
}

func TestWitnessDb_AbsentAccountResolvesToEmpty(t *testing.T) {
	state := makeTestState(t, common.Address{0x01})
	absent := common.Address{0x02}

	db, err := MakeWitnessDb(state, map[common.Address][]common.Key{
		absent: nil,
	}, nil, testHeaderChain(2, 10))
	if err != nil {
		t.Fatalf("failed to build witness database: %v", err)
	}

	account, err := db.GetAccount(absent)
	if err != nil {
		t.Fatalf("failed to get account: %v", err)
	}
	want := Account{CodeHash: common.Keccak256(nil)}
	if account.Nonce != want.Nonce || !account.Balance.IsZero() || account.CodeHash != want.CodeHash {
		t.Errorf("invalid empty account, got %v, wanted %v", account, want)
	}
}

func TestWitnessDb_UnrequestedLookupsAreRejected(t *testing.T) {
	address := common.Address{0x01}
	state := makeTestState(t, address)

	db, err := MakeWitnessDb(state, map[common.Address][]common.Key{
		address: {{0x01}},
	}, [][]byte{testCode}, testHeaderChain(2, 10))
	if err != nil {
		t.Fatalf("failed to build witness database: %v", err)
	}

	if _, err := db.GetAccount(common.Address{0x99}); err == nil {
		t.Errorf("unrequested account lookup was accepted")
	}
	if _, err := db.GetStorage(address, common.Key{0x99}); err == nil {
		t.Errorf("unrequested slot lookup was accepted")
	}
	if _, err := db.GetStorage(common.Address{0x99}, common.Key{0x01}); err == nil {
		t.Errorf("storage lookup of unrequested account was accepted")
	}
	if _, err := db.GetCode(common.Keccak256([]byte("unknown"))); err == nil {
		t.Errorf("lookup of unknown code was accepted")
	}
}

func TestWitnessDb_MissingBytecodeIsReported(t *testing.T) {
	address := common.Address{0x01}
	state := makeTestState(t, address)

	_, err := MakeWitnessDb(state, map[common.Address][]common.Key{
		address: nil,
	}, nil, testHeaderChain(2, 10))
	if err == nil {
		t.Errorf("missing bytecode was not reported")
	}
}

func TestWitnessDb_BlockHashesCoverAncestorsOnly(t *testing.T) {
	state := mpt.NewEthereumState()
	headers := testHeaderChain(4, 10)

	db, err := MakeWitnessDb(state, nil, nil, headers)
	if err != nil {
		t.Fatalf("failed to build witness database: %v", err)
	}

	for _, header := range headers[1:] {
		hash, err := db.GetBlockHash(header.Number())
		if err != nil {
			t.Fatalf("failed to get hash of block %d: %v", header.Number(), err)
		}
		if got, want := hash, header.Hash(); got != want {
			t.Errorf("invalid hash of block %d, got %s, wanted %s", header.Number(), got, want)
		}
	}

	// the block under execution and blocks beyond the chain are not covered
	if _, err := db.GetBlockHash(10); err == nil {
		t.Errorf("hash of current block was resolved")
	}
	if _, err := db.GetBlockHash(6); err == nil {
		t.Errorf("hash of block beyond the provided chain was resolved")
	}
}

func TestWitnessDb_NonConsecutiveHeadersAreRejected(t *testing.T) {
	headers := testHeaderChain(3, 10)
	headers[2].(*testHeader).number = 7

	_, err := MakeWitnessDb(mpt.NewEthereumState(), nil, nil, headers)
	if !errors.Is(err, ErrNonConsecutiveHeaders) {
		t.Errorf("missing non-consecutive headers error, got %v", err)
	}
}

func TestWitnessDb_BrokenParentHashLinkIsRejected(t *testing.T) {
	headers := testHeaderChain(3, 10)
	headers[1].(*testHeader).parentHash = common.Keccak256([]byte("wrong"))

	_, err := MakeWitnessDb(mpt.NewEthereumState(), nil, nil, headers)
	if !errors.Is(err, ErrParentHashMismatch) {
		t.Errorf("missing parent hash mismatch error, got %v", err)
	}
}

func TestWitnessDb_StorageRequestForUnresolvedTrieIsRejected(t *testing.T) {
	state := makeTestState(t, common.Address{0x01})
	absent := common.Address{0x02}

	_, err := MakeWitnessDb(state, map[common.Address][]common.Key{
		absent: {{0x01}},
	}, nil, testHeaderChain(2, 10))
	if err == nil {
		t.Errorf("storage request without a storage trie was accepted")
	}
}

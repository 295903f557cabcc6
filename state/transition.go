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

//go:generate mockgen -source transition.go -destination transition_mocks.go -package state

import (
	"fmt"

	"github.com/Fantom-foundation/Witness/go/common"
	"github.com/Fantom-foundation/Witness/go/database/mpt"
)

// BlockExecutor executes a block against the pre-resolved state slice in the
// given witness database and reports the resulting account and storage
// changes. The execution itself, transaction handling and all consensus
// rules included, is outside this package.
type BlockExecutor interface {
	ExecuteBlock(db *WitnessDb) (*mpt.BundleState, error)
}

// TransitionInput bundles everything needed to verify the state transition
// of one block without access to the full chain state: the header chain
// starting at the block to verify, the serialized parent state slice, the
// accounts and slots the block will touch, and the bytecodes of all touched
// contracts.
type TransitionInput struct {
	// Headers is the reverse-chronological header chain starting with the
	// block to be verified, followed by at least its parent.
	Headers []BlockHeader

	// ParentState is the partial state against the parent's state root.
	ParentState *EthereumStateBytes

	// StateRequests lists the accounts and storage slots the execution of
	// the block is going to access.
	StateRequests map[common.Address][]common.Key

	// Bytecodes are the codes of all contracts executed by the block.
	Bytecodes [][]byte
}

// VerifyStateTransition checks that executing the block described by the
// input transforms the parent state into the state the block header
// declares. It decodes and verifies the parent state, resolves the state
// requests into a witness database, runs the executor, applies the reported
// changes, and compares the resulting root against the declared one. The
// computed root is returned alongside any verification failure.
func VerifyStateTransition(input *TransitionInput, executor BlockExecutor) (common.Hash, error) {
	if len(input.Headers) < 2 {
		return common.Hash{}, fmt.Errorf("at least the current and the parent header are required")
	}

	state, err := BuildState(input.ParentState, input.Headers[1].StateRoot())
	if err != nil {
		return common.Hash{}, err
	}

	db, err := MakeWitnessDb(state, input.StateRequests, input.Bytecodes, input.Headers)
	if err != nil {
		return common.Hash{}, err
	}

	bundle, err := executor.ExecuteBlock(db)
	if err != nil {
		return common.Hash{}, fmt.Errorf("block execution failed: %w", err)
	}

	if err := state.ApplyBundle(bundle); err != nil {
		return common.Hash{}, err
	}

	got := state.Hash()
	if want := input.Headers[0].StateRoot(); got != want {
		return got, RootMismatchError{Got: got, Want: want}
	}
	return got, nil
}

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
	"fmt"

	"github.com/Fantom-foundation/Witness/go/common"
)

const (
	// ErrValueInBranch is returned when an operation would require storing a
	// value inside a branch node. Since all keys handled by this trie have
	// the same length, no key is ever a prefix of another, and branch values
	// only occur in corrupted or adversarial input.
	ErrValueInBranch = common.ConstError("branch node with value")

	// ErrNodeRefMismatch is returned by the trie decoder when the reference
	// computed for a decoded node does not match the reference its parent
	// claims for it.
	ErrNodeRefMismatch = common.ConstError("node reference mismatch")

	// errEmptyBranch signals a branch node without any remaining children,
	// a shape a canonical trie can never contain.
	errEmptyBranch = common.ConstError("branch node without children")
)

// NodeNotResolvedError is returned when an operation reaches a node that is
// only present by its hash. The digest identifies the unresolved subtree.
type NodeNotResolvedError struct {
	Digest common.Hash
}

func (e NodeNotResolvedError) Error() string {
	return fmt.Sprintf("reached an unresolved node: %s", e.Digest)
}

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

// NodeId is the index of a node in the flat node list of a Trie. Id 0 is
// reserved for the null node, which allows the zero value to double as the
// absent-child marker in branch nodes.
type NodeId uint32

// nullNodeId identifies the null node present in every trie.
const nullNodeId NodeId = 0

// nodeKind enumerates the node types of a Merkle Patricia Trie. A digest node
// stands in for a subtree that has not been resolved; operations reaching it
// fail with a NodeNotResolvedError.
type nodeKind byte

const (
	nodeKindNull nodeKind = iota
	nodeKindBranch
	nodeKindLeaf
	nodeKindExtension
	nodeKindDigest
)

func (k nodeKind) String() string {
	switch k {
	case nodeKindNull:
		return "null"
	case nodeKindBranch:
		return "branch"
	case nodeKindLeaf:
		return "leaf"
	case nodeKindExtension:
		return "extension"
	case nodeKindDigest:
		return "digest"
	}
	return "unknown"
}

// nodeData is the in-memory representation of a single trie node. The fields
// used depend on the kind:
//   - branch: children, where 0 marks an absent child
//   - leaf: path (hex-prefix encoded, leaf flag set) and value
//   - extension: path (hex-prefix encoded) and next
//   - digest: value holds the 32-byte hash of the unresolved subtree
//
// Path and value slices are backed by the trie's arena or by the input buffer
// the trie was decoded from.
type nodeData struct {
	kind     nodeKind
	path     []byte
	value    []byte
	next     NodeId
	children [16]NodeId
}

// refKind distinguishes the two ways a node is referenced by its parent in
// the RLP encoding.
type refKind byte

const (
	// refNone marks an unset cache entry.
	refNone refKind = iota
	// refBytes references a node by embedding its full RLP encoding, used
	// when the encoding is shorter than 32 bytes.
	refBytes
	// refDigest references a node by the Keccak-256 hash of its encoding.
	refDigest
)

// nodeRef is the reference of a node as seen by its parent. For refBytes the
// data is the node's full RLP encoding, for refDigest it is the 32-byte hash.
type nodeRef struct {
	kind refKind
	data []byte
}

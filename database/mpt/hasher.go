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
	"github.com/Fantom-foundation/Witness/go/common"
	"github.com/Fantom-foundation/Witness/go/database/mpt/rlp"
)

// This file contains the support for computing node references, the way a
// node appears inside its parent's RLP encoding. Nodes whose encoding is
// shorter than 32 bytes are embedded directly, all others are referenced by
// the Keccak-256 hash of their encoding. References are cached per node and
// invalidated by mutations, so hashing after a round of updates only
// re-encodes the spine that changed.

// reference returns the cached reference of the given node, computing and
// caching it if needed.
func (t *Trie) reference(id NodeId) nodeRef {
	if t.refs[id].kind != refNone {
		return t.refs[id]
	}
	ref := t.calcReference(id)
	t.refs[id] = ref
	return ref
}

func (t *Trie) calcReference(id NodeId) nodeRef {
	switch t.nodes[id].kind {
	case nodeKindNull:
		return nodeRef{kind: refBytes, data: emptyStringRlp}
	case nodeKindDigest:
		return nodeRef{kind: refDigest, data: t.nodes[id].value}
	}

	item := t.nodeItem(id)
	length := rlp.EncodedLength(item)
	if length < 32 {
		encoded := t.arena.alloc(length)
		encoded = rlp.EncodeInto(encoded[:0], item)
		return nodeRef{kind: refBytes, data: encoded}
	}
	t.scratch = rlp.EncodeInto(t.scratch[:0], item)
	hash := common.Keccak256(t.scratch)
	return nodeRef{kind: refDigest, data: t.arena.clone(hash[:])}
}

// nodeItem builds the RLP item describing the node with the given id, with
// child nodes represented by their references.
func (t *Trie) nodeItem(id NodeId) rlp.Item {
	node := &t.nodes[id]
	switch node.kind {
	case nodeKindNull:
		return rlp.String{}
	case nodeKindBranch:
		items := make([]rlp.Item, 17)
		for i, child := range node.children {
			if child == nullNodeId {
				items[i] = rlp.String{}
			} else {
				items[i] = t.referenceItem(child)
			}
		}
		// the value slot of a branch is always empty in this trie
		items[16] = rlp.String{}
		return rlp.List{Items: items}
	case nodeKindLeaf:
		return rlp.List{Items: []rlp.Item{
			rlp.String{Str: node.path},
			rlp.String{Str: node.value},
		}}
	case nodeKindExtension:
		return rlp.List{Items: []rlp.Item{
			rlp.String{Str: node.path},
			t.referenceItem(node.next),
		}}
	default:
		return rlp.String{Str: node.value}
	}
}

// referenceItem returns the RLP item embedding the reference of the given
// node into its parent's encoding.
func (t *Trie) referenceItem(id NodeId) rlp.Item {
	ref := t.reference(id)
	if ref.kind == refDigest {
		return rlp.String{Str: ref.data}
	}
	// short encodings are embedded as-is
	return rlp.Encoded{Data: ref.data}
}

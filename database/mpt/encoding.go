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
	"github.com/Fantom-foundation/Witness/go/database/mpt/rlp"
)

// The wire format of a trie is the depth-first concatenation of the RLP
// encodings of its nodes, starting at the root. A branch or extension node
// is followed by the expanded encodings of its resolved children in child
// order; digest nodes are sole representatives of their subtree. Since every
// node embeds the references of its children, the stream needs no explicit
// framing, and the decoder can verify each node against the reference its
// parent announced. The number of nodes is transported out of band so the
// decoder can pre-size its node list.

// Encode serializes the trie into its wire format.
func (t *Trie) Encode() []byte {
	return t.encodeNode(make([]byte, 0, 4096), t.rootId)
}

func (t *Trie) encodeNode(out []byte, id NodeId) []byte {
	out = rlp.EncodeInto(out, t.nodeItem(id))
	node := &t.nodes[id]
	switch node.kind {
	case nodeKindBranch:
		for _, child := range node.children {
			if child != nullNodeId {
				out = t.encodeNode(out, child)
			}
		}
	case nodeKindExtension:
		out = t.encodeNode(out, node.next)
	}
	return out
}

// DecodeTrie reconstructs a trie from its wire format. Node payloads alias
// the input buffer, which must stay alive and unmodified for the lifetime of
// the trie. Every decoded node is verified against the reference claimed by
// its parent; the root is verified against its own encoding. The function
// returns the remaining input after the trie, allowing several tries to be
// decoded from one buffer.
//
// The numNodes hint sizes the node list. It is over-provisioned to leave
// room for nodes added by subsequent updates without re-allocation.
func DecodeTrie(data []byte, numNodes int) (*Trie, []byte, error) {
	trie := NewTrieWithCapacity(1 + numNodes + numNodes/2)

	header, err := rlp.DecodeHeader(data)
	if err != nil {
		return nil, nil, err
	}
	rlpNode := data[:header.EncodedLength()]

	// the root node is checked against its own encoding
	var rootRef nodeRef
	if len(rlpNode) < 32 {
		rootRef = nodeRef{kind: refBytes, data: rlpNode}
	} else if !header.List {
		rootRef = nodeRef{kind: refDigest, data: rlpNode[header.HeaderLength:]}
	} else {
		hash := common.Keccak256(rlpNode)
		rootRef = nodeRef{kind: refDigest, data: trie.arena.clone(hash[:])}
	}

	rootId, rest, err := trie.decodeNode(data, rootRef)
	if err != nil {
		return nil, nil, err
	}
	trie.rootId = rootId
	return trie, rest, nil
}

// decodeNode decodes the next node of the wire stream, verifies it against
// the expected reference, and recursively decodes its children. It returns
// the id of the decoded node and the unconsumed remainder of the stream.
func (t *Trie) decodeNode(data []byte, expected nodeRef) (NodeId, []byte, error) {
	header, err := rlp.DecodeHeader(data)
	if err != nil {
		return 0, nil, err
	}
	total := header.EncodedLength()
	rlpNode := data[:total]
	payload := data[header.HeaderLength:total]
	rest := data[total:]

	var ref nodeRef
	if total < 32 {
		if !bytes.Equal(rlpNode, expected.data) {
			return 0, nil, ErrNodeRefMismatch
		}
		ref = nodeRef{kind: refBytes, data: rlpNode}
	} else if header.PayloadLength == 32 && !header.List {
		if !bytes.Equal(payload, expected.data) {
			return 0, nil, ErrNodeRefMismatch
		}
		ref = expected
	} else {
		hash := common.Keccak256(rlpNode)
		if !bytes.Equal(hash[:], expected.data) {
			return 0, nil, ErrNodeRefMismatch
		}
		ref = expected
	}

	if !header.List {
		switch header.PayloadLength {
		case 0:
			return nullNodeId, rest, nil
		case 32:
			id := t.addNode(
				nodeData{kind: nodeKindDigest, value: payload},
				nodeRef{kind: refDigest, data: payload},
			)
			return id, rest, nil
		default:
			return 0, nil, fmt.Errorf("string node with unexpected length %d", header.PayloadLength)
		}
	}

	// peek the first two items to distinguish leaf/extension from branch
	item0, after0, err := nextRawItem(payload)
	if err != nil {
		return 0, nil, err
	}
	item1, after1, err := nextRawItem(after0)
	if err != nil {
		return 0, nil, err
	}

	if len(after1) == 0 {
		// a two item list is either a leaf or an extension
		item0Header, err := rlp.DecodeHeader(item0)
		if err != nil {
			return 0, nil, err
		}
		path := item0[item0Header.HeaderLength:]
		if len(path) == 0 {
			return 0, nil, fmt.Errorf("node with empty path")
		}
		if isEncodedPathLeaf(path) {
			item1Header, err := rlp.DecodeHeader(item1)
			if err != nil {
				return 0, nil, err
			}
			id := t.addNode(nodeData{
				kind:  nodeKindLeaf,
				path:  path,
				value: item1[item1Header.HeaderLength:],
			}, ref)
			return id, rest, nil
		}
		childId, remaining, err := t.decodeNode(rest, refFromRlpSlice(item1))
		if err != nil {
			return 0, nil, err
		}
		id := t.addNode(nodeData{
			kind: nodeKindExtension,
			path: path,
			next: childId,
		}, ref)
		return id, remaining, nil
	}

	// a branch; children are expanded in child order directly after this node
	var children [16]NodeId
	remaining := payload
	for i := 0; i < 16; i++ {
		item, after, err := nextRawItem(remaining)
		if err != nil {
			return 0, nil, err
		}
		remaining = after
		if bytes.Equal(item, emptyStringRlp) {
			continue
		}
		childId, r, err := t.decodeNode(rest, refFromRlpSlice(item))
		if err != nil {
			return 0, nil, err
		}
		rest = r
		children[i] = childId
	}
	if !bytes.Equal(remaining, emptyStringRlp) {
		return 0, nil, ErrValueInBranch
	}
	id := t.addNode(nodeData{kind: nodeKindBranch, children: children}, ref)
	return id, rest, nil
}

// nextRawItem splits the encoding of the first RLP item off the given
// stream without decoding its payload.
func nextRawItem(data []byte) (item, rest []byte, err error) {
	header, err := rlp.DecodeHeader(data)
	if err != nil {
		return nil, nil, err
	}
	return data[:header.EncodedLength()], data[header.EncodedLength():], nil
}

// refFromRlpSlice derives the expected reference of a child node from the
// raw RLP item embedding it in its parent. A 33 byte string holds a child
// digest, everything shorter is an embedded node encoding.
func refFromRlpSlice(item []byte) nodeRef {
	if len(item) == 33 {
		return nodeRef{kind: refDigest, data: item[1:]}
	}
	return nodeRef{kind: refBytes, data: item}
}

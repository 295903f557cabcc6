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
	"strings"

	"github.com/Fantom-foundation/Witness/go/common"
	"github.com/Fantom-foundation/Witness/go/database/mpt/rlp"
)

// Trie is an in-memory Merkle Patricia Trie holding all nodes in a flat list
// indexed by NodeId. Nodes reference each other by index, while byte payloads
// live in an arena owned by the trie or alias the buffer the trie was decoded
// from. A parallel list caches the RLP reference of each node, invalidated
// along the mutation path so repeated root hash computations only re-encode
// the nodes that actually changed.
//
// Subtrees may be represented by digest nodes holding only their hash. Such
// a trie is partial; operations that would need to descend into an
// unresolved subtree fail with a NodeNotResolvedError, while the root hash
// remains computable at all times.
type Trie struct {
	rootId NodeId

	// nodes is the flat node list; index 0 is the null node.
	nodes []nodeData

	// refs caches the encoded reference of each node, indexed like nodes.
	refs []nodeRef

	// arena backs paths, values, and digests created by mutations.
	arena byteArena

	// scratch is reused for RLP encodings that only get hashed.
	scratch []byte
}

// emptyStringRlp is the RLP encoding of an empty string, doubling as the
// reference of the null node.
var emptyStringRlp = []byte{rlp.EmptyStringCode}

// EmptyNodeEthereumHash is the root hash of an empty Merkle Patricia Trie,
// the Keccak-256 hash of the RLP encoding of an empty string.
var EmptyNodeEthereumHash = common.Keccak256(rlp.Encode(rlp.String{}))

// NewTrie creates an empty trie.
func NewTrie() *Trie {
	return NewTrieWithCapacity(1)
}

// NewTrieWithCapacity creates an empty trie with pre-allocated space for the
// given number of nodes.
func NewTrieWithCapacity(capacity int) *Trie {
	if capacity < 1 {
		capacity = 1
	}
	trie := &Trie{
		nodes: make([]nodeData, 1, capacity),
		refs:  make([]nodeRef, 1, capacity),
	}
	return trie
}

// newTrieFromDigest creates a trie consisting of a single unresolved root
// with the given hash. Its root hash is the given hash, but no content can
// be accessed until nodes are resolved into it.
func newTrieFromDigest(digest common.Hash) *Trie {
	trie := NewTrieWithCapacity(2)
	trie.rootId = trie.addNode(
		nodeData{kind: nodeKindDigest, value: trie.arena.clone(digest[:])},
		nodeRef{},
	)
	return trie
}

// NumNodes returns the number of nodes held by this trie, including the null
// node and nodes no longer reachable from the root.
func (t *Trie) NumNodes() int {
	return len(t.nodes)
}

// Reserve pre-allocates space for the given number of additional nodes.
func (t *Trie) Reserve(additional int) {
	if cap(t.nodes)-len(t.nodes) < additional {
		nodes := make([]nodeData, len(t.nodes), len(t.nodes)+additional)
		copy(nodes, t.nodes)
		t.nodes = nodes
		refs := make([]nodeRef, len(t.refs), len(t.refs)+additional)
		copy(refs, t.refs)
		t.refs = refs
	}
}

// IsEmpty reports whether the trie contains no entries at all.
func (t *Trie) IsEmpty() bool {
	return t.nodes[t.rootId].kind == nodeKindNull
}

// Hash computes the root hash of the trie.
func (t *Trie) Hash() common.Hash {
	if t.nodes[t.rootId].kind == nodeKindNull {
		return EmptyNodeEthereumHash
	}
	ref := t.reference(t.rootId)
	if ref.kind == refDigest {
		return common.HashFromBytes(ref.data)
	}
	return common.Keccak256(ref.data)
}

// Get retrieves the value associated with the given key. The second return
// value indicates whether the key is present. The lookup fails if it reaches
// an unresolved part of the trie.
func (t *Trie) Get(key []byte) ([]byte, bool, error) {
	return t.getInternal(t.rootId, ToNibblePath(key))
}

// Insert adds or updates the value associated with the given key. It returns
// true if the trie was changed, and false if the key was already mapped to
// an equal value. The value is copied, callers may reuse the slice.
func (t *Trie) Insert(key, value []byte) (bool, error) {
	return t.insertInternal(t.rootId, ToNibblePath(key), t.arena.clone(value))
}

// InsertRLP encodes the given item and inserts the encoding as the value of
// the given key.
func (t *Trie) InsertRLP(key []byte, value rlp.Item) (bool, error) {
	encoded := t.arena.alloc(rlp.EncodedLength(value))
	encoded = rlp.EncodeInto(encoded[:0], value)
	return t.insertInternal(t.rootId, ToNibblePath(key), encoded)
}

// Delete removes the entry with the given key from the trie. It returns true
// if an entry was removed, and false if the key was not present.
func (t *Trie) Delete(key []byte) (bool, error) {
	return t.deleteInternal(t.rootId, ToNibblePath(key))
}

// ---------------------------------------------------------------------------
//                          Internal Implementation
// ---------------------------------------------------------------------------

func (t *Trie) addNode(data nodeData, ref nodeRef) NodeId {
	id := NodeId(len(t.nodes))
	t.nodes = append(t.nodes, data)
	t.refs = append(t.refs, ref)
	return id
}

func (t *Trie) invalidateRefCache(id NodeId) {
	t.refs[id] = nodeRef{}
}

// encodePathToArena hex-prefix encodes the given nibbles into the arena.
func (t *Trie) encodePathToArena(nibbles []Nibble, isLeaf bool) []byte {
	buf := t.arena.alloc(1 + len(nibbles)/2)
	return encodePath(buf[:0], nibbles, isLeaf)
}

func (t *Trie) getInternal(id NodeId, key []Nibble) ([]byte, bool, error) {
	node := &t.nodes[id]
	switch node.kind {
	case nodeKindNull:
		return nil, false, nil
	case nodeKindBranch:
		if len(key) == 0 {
			return nil, false, nil
		}
		child := node.children[key[0]]
		if child == nullNodeId {
			return nil, false, nil
		}
		return t.getInternal(child, key[1:])
	case nodeKindLeaf:
		if encodedPathEqNibbles(node.path, key) {
			return node.value, true, nil
		}
		return nil, false, nil
	case nodeKindExtension:
		if tail, ok := encodedPathStripPrefix(node.path, key); ok {
			return t.getInternal(node.next, tail)
		}
		return nil, false, nil
	default:
		return nil, false, NodeNotResolvedError{Digest: common.HashFromBytes(node.value)}
	}
}

// insertInternal implements Insert below the node with the given id. The
// value must already be backed by the arena or the decode buffer. It returns
// whether the subtree was modified, invalidating cached references along the
// descent path on the way back up.
func (t *Trie) insertInternal(id NodeId, key []Nibble, value []byte) (bool, error) {
	// Node data is copied out since addNode may grow the node list and
	// relocate it; all writes go through the index.
	node := t.nodes[id]
	updated := false
	switch node.kind {
	case nodeKindNull:
		t.nodes[id] = nodeData{
			kind:  nodeKindLeaf,
			path:  t.encodePathToArena(key, true),
			value: value,
		}
		updated = true

	case nodeKindBranch:
		if len(key) == 0 {
			return false, ErrValueInBranch
		}
		pos := key[0]
		if child := node.children[pos]; child != nullNodeId {
			res, err := t.insertInternal(child, key[1:], value)
			if err != nil {
				return false, err
			}
			updated = res
		} else {
			leaf := t.addNode(nodeData{
				kind:  nodeKindLeaf,
				path:  t.encodePathToArena(key[1:], true),
				value: value,
			}, nodeRef{})
			t.nodes[id].children[pos] = leaf
			updated = true
		}

	case nodeKindLeaf:
		selfNibbles := decodePath(node.path)
		commonLen := GetCommonPrefixLength(selfNibbles, key)
		if commonLen == len(selfNibbles) && commonLen == len(key) {
			// same key, update the value if it differs
			if bytes.Equal(node.value, value) {
				return false, nil
			}
			t.nodes[id].value = value
			updated = true
		} else if commonLen == len(selfNibbles) || commonLen == len(key) {
			// one key is a strict prefix of the other, which would require
			// a value inside a branch node
			return false, ErrValueInBranch
		} else {
			// the keys diverge, split into a branch with two leaves
			splitPoint := commonLen + 1
			var children [16]NodeId
			children[selfNibbles[commonLen]] = t.addNode(nodeData{
				kind:  nodeKindLeaf,
				path:  t.encodePathToArena(selfNibbles[splitPoint:], true),
				value: node.value,
			}, nodeRef{})
			children[key[commonLen]] = t.addNode(nodeData{
				kind:  nodeKindLeaf,
				path:  t.encodePathToArena(key[splitPoint:], true),
				value: value,
			}, nodeRef{})
			if commonLen > 0 {
				branch := t.addNode(nodeData{kind: nodeKindBranch, children: children}, nodeRef{})
				t.nodes[id] = nodeData{
					kind: nodeKindExtension,
					path: t.encodePathToArena(selfNibbles[:commonLen], false),
					next: branch,
				}
			} else {
				t.nodes[id] = nodeData{kind: nodeKindBranch, children: children}
			}
			updated = true
		}

	case nodeKindExtension:
		selfNibbles := decodePath(node.path)
		commonLen := GetCommonPrefixLength(selfNibbles, key)
		if commonLen == len(selfNibbles) {
			res, err := t.insertInternal(node.next, key[commonLen:], value)
			if err != nil {
				return false, err
			}
			updated = res
		} else if commonLen == len(key) {
			return false, ErrValueInBranch
		} else {
			splitPoint := commonLen + 1
			var children [16]NodeId
			if splitPoint < len(selfNibbles) {
				children[selfNibbles[commonLen]] = t.addNode(nodeData{
					kind: nodeKindExtension,
					path: t.encodePathToArena(selfNibbles[splitPoint:], false),
					next: node.next,
				}, nodeRef{})
			} else {
				children[selfNibbles[commonLen]] = node.next
			}
			children[key[commonLen]] = t.addNode(nodeData{
				kind:  nodeKindLeaf,
				path:  t.encodePathToArena(key[splitPoint:], true),
				value: value,
			}, nodeRef{})
			if commonLen > 0 {
				branch := t.addNode(nodeData{kind: nodeKindBranch, children: children}, nodeRef{})
				t.nodes[id] = nodeData{
					kind: nodeKindExtension,
					path: t.encodePathToArena(selfNibbles[:commonLen], false),
					next: branch,
				}
			} else {
				t.nodes[id] = nodeData{kind: nodeKindBranch, children: children}
			}
			updated = true
		}

	default:
		return false, NodeNotResolvedError{Digest: common.HashFromBytes(node.value)}
	}

	if updated {
		t.invalidateRefCache(id)
	}
	return updated, nil
}

// deleteInternal implements Delete below the node with the given id. Branch
// nodes left with a single child are collapsed to keep the trie in its
// canonical shape.
func (t *Trie) deleteInternal(id NodeId, key []Nibble) (bool, error) {
	node := t.nodes[id]
	updated := false
	switch node.kind {
	case nodeKindNull:
		return false, nil

	case nodeKindBranch:
		if len(key) == 0 {
			return false, ErrValueInBranch
		}
		pos := key[0]
		child := node.children[pos]
		if child == nullNodeId {
			return false, nil
		}
		res, err := t.deleteInternal(child, key[1:])
		if err != nil || !res {
			return false, err
		}
		if t.nodes[child].kind == nodeKindNull {
			node.children[pos] = nullNodeId
		}

		// if only a single child remains the branch gets collapsed
		remaining := 0
		index := 0
		for i, child := range node.children {
			if child != nullNodeId {
				remaining++
				index = i
			}
		}
		if remaining == 0 {
			return false, errEmptyBranch
		}
		if remaining == 1 {
			childId := node.children[index]
			child := t.nodes[childId]
			switch child.kind {
			case nodeKindLeaf:
				t.nodes[id] = nodeData{
					kind:  nodeKindLeaf,
					path:  t.prependNibbleToPath(Nibble(index), child.path, true),
					value: child.value,
				}
			case nodeKindExtension:
				t.nodes[id] = nodeData{
					kind: nodeKindExtension,
					path: t.prependNibbleToPath(Nibble(index), child.path, false),
					next: child.next,
				}
			case nodeKindBranch, nodeKindDigest:
				t.nodes[id] = nodeData{
					kind: nodeKindExtension,
					path: t.encodePathToArena([]Nibble{Nibble(index)}, false),
					next: childId,
				}
			default:
				return false, errEmptyBranch
			}
		} else {
			t.nodes[id] = node
		}
		updated = true

	case nodeKindLeaf:
		if !encodedPathEqNibbles(node.path, key) {
			return false, nil
		}
		t.nodes[id] = nodeData{kind: nodeKindNull}
		updated = true

	case nodeKindExtension:
		tail, ok := encodedPathStripPrefix(node.path, key)
		if !ok {
			return false, nil
		}
		res, err := t.deleteInternal(node.next, tail)
		if err != nil || !res {
			return false, err
		}

		// an extension must point to a branch or digest; restore this
		// property after the subtree was modified
		child := t.nodes[node.next]
		switch child.kind {
		case nodeKindNull:
			t.nodes[id] = nodeData{kind: nodeKindNull}
		case nodeKindLeaf:
			t.nodes[id] = nodeData{
				kind:  nodeKindLeaf,
				path:  t.concatPaths(node.path, child.path, true),
				value: child.value,
			}
		case nodeKindExtension:
			t.nodes[id] = nodeData{
				kind: nodeKindExtension,
				path: t.concatPaths(node.path, child.path, false),
				next: child.next,
			}
		default:
			// still a branch or digest, the extension remains as is
		}
		updated = true

	default:
		return false, NodeNotResolvedError{Digest: common.HashFromBytes(node.value)}
	}

	if updated {
		t.invalidateRefCache(id)
	}
	return updated, nil
}

// prependNibbleToPath builds a new hex-prefix path consisting of the given
// nibble followed by the nibbles of the given encoded path.
func (t *Trie) prependNibbleToPath(nibble Nibble, path []byte, isLeaf bool) []byte {
	nibbles := make([]Nibble, 0, 1+encodedPathNibbleCount(path))
	nibbles = append(nibbles, nibble)
	nibbles = append(nibbles, decodePath(path)...)
	return t.encodePathToArena(nibbles, isLeaf)
}

// concatPaths builds a new hex-prefix path by concatenating the nibbles of
// the two given encoded paths.
func (t *Trie) concatPaths(first, second []byte, isLeaf bool) []byte {
	nibbles := make([]Nibble, 0, encodedPathNibbleCount(first)+encodedPathNibbleCount(second))
	nibbles = append(nibbles, decodePath(first)...)
	nibbles = append(nibbles, decodePath(second)...)
	return t.encodePathToArena(nibbles, isLeaf)
}

// ---------------------------------------------------------------------------
//                                 Debugging
// ---------------------------------------------------------------------------

// Dump returns a human-readable rendering of the trie structure, mainly for
// debugging and tests.
func (t *Trie) Dump() string {
	builder := strings.Builder{}
	t.dumpInternal(&builder, t.rootId, 0)
	return builder.String()
}

func (t *Trie) dumpInternal(builder *strings.Builder, id NodeId, depth int) {
	indent := strings.Repeat("  ", depth)
	node := &t.nodes[id]
	switch node.kind {
	case nodeKindNull:
		fmt.Fprintf(builder, "%sNull\n", indent)
	case nodeKindBranch:
		fmt.Fprintf(builder, "%sBranch\n", indent)
		for i, child := range node.children {
			if child != nullNodeId {
				fmt.Fprintf(builder, "%s  [%s]:\n", indent, Nibble(i))
				t.dumpInternal(builder, child, depth+2)
			}
		}
	case nodeKindLeaf:
		fmt.Fprintf(builder, "%sLeaf path=%v value=0x%x\n", indent, decodePath(node.path), node.value)
	case nodeKindExtension:
		fmt.Fprintf(builder, "%sExtension path=%v\n", indent, decodePath(node.path))
		t.dumpInternal(builder, node.next, depth+1)
	case nodeKindDigest:
		fmt.Fprintf(builder, "%sDigest %s\n", indent, common.HashFromBytes(node.value))
	}
}

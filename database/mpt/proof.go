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
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// This file builds partial tries from Merkle proofs as produced by the
// eth_getProof RPC call. A proof is a list of raw trie nodes from the root
// down to the node proving the presence or absence of a key. Node lists of
// several proofs against the same root are pooled in a node store keyed by
// node hash, and a trie is resolved top down by inlining every node the
// store can supply. Subtrees no proof has touched remain digest nodes.

// StorageProof is the proof for a single storage slot of an account.
type StorageProof struct {
	Key   common.Key
	Proof [][]byte
}

// AccountProof is the proof for an account, covering its path in the state
// trie and the paths of the proven slots in its storage trie.
type AccountProof struct {
	Address       common.Address
	Proof         [][]byte
	StorageRoot   common.Hash
	StorageProofs []StorageProof
}

// nodeStore indexes raw trie nodes by the hash of their encoding.
type nodeStore map[common.Hash][]byte

func (s nodeStore) add(node []byte) {
	s[common.Keccak256(node)] = node
}

// TransitionProofsToState builds the partial Ethereum state for a block
// transition. The parent proofs are the proofs of all touched accounts and
// slots against the parent block's state root; the post proofs are the
// proofs of the same accounts against the new state root, supplying the
// nodes that deletions will need for collapsing branches. The resulting
// state hashes to the given state root and supports exactly the updates the
// proofs cover.
func TransitionProofsToState(
	stateRoot common.Hash,
	parentProofs map[common.Address]*AccountProof,
	postProofs map[common.Address]*AccountProof,
) (*EthereumState, error) {
	if len(parentProofs) == 0 {
		return &EthereumState{
			AccountTrie:  trieFromDigest(stateRoot),
			StorageTries: map[common.Hash]*Trie{},
		}, nil
	}

	storageTries := map[common.Hash]*Trie{}
	stateNodes := nodeStore{}
	var stateRootNode []byte

	addresses := maps.Keys(parentProofs)
	slices.SortFunc(addresses, func(a, b common.Address) bool {
		return bytes.Compare(a[:], b[:]) < 0
	})
	for _, address := range addresses {
		proof := parentProofs[address]
		if root := processProof(proof.Proof, stateNodes); root != nil {
			stateRootNode = root
		}

		postProof, found := postProofs[address]
		if !found {
			return nil, fmt.Errorf("missing post-state proof for account %s", address)
		}
		if err := addOrphanedLeaves(address[:], postProof.Proof, stateNodes); err != nil {
			return nil, err
		}

		storageTrie, err := buildStorageTrie(proof, postProof)
		if err != nil {
			return nil, err
		}
		storageTries[common.Keccak256ForAddress(address)] = storageTrie
	}

	accountTrie, err := resolveFromNode(stateRootNode, stateNodes)
	if err != nil {
		return nil, err
	}
	return &EthereumState{
		AccountTrie:  accountTrie,
		StorageTries: storageTries,
	}, nil
}

// buildStorageTrie assembles the partial storage trie of one account from
// its parent and post-state proofs. An account without storage proofs gets
// a pure digest trie for its storage root.
func buildStorageTrie(proof, postProof *AccountProof) (*Trie, error) {
	if len(proof.StorageProofs) == 0 {
		return trieFromDigest(proof.StorageRoot), nil
	}

	storageNodes := nodeStore{}
	var rootNode []byte
	for _, storageProof := range proof.StorageProofs {
		if root := processProof(storageProof.Proof, storageNodes); root != nil {
			rootNode = root
		}
	}
	for _, storageProof := range postProof.StorageProofs {
		key := storageProof.Key
		if err := addOrphanedLeaves(key[:], storageProof.Proof, storageNodes); err != nil {
			return nil, err
		}
	}
	return resolveFromNode(rootNode, storageNodes)
}

// processProof adds the nodes of a proof to the store and returns the raw
// root node, or nil for an empty proof.
func processProof(proof [][]byte, store nodeStore) []byte {
	for _, node := range proof {
		store.add(node)
	}
	if len(proof) == 0 {
		return nil
	}
	return proof[0]
}

// addOrphanedLeaves inspects a post-state non-inclusion proof and adds all
// path-shortened variants of its terminal node to the store. When entries
// get deleted, branch collapsing extends the paths of sibling nodes; the
// shortened variants make the original siblings resolvable again.
func addOrphanedLeaves(key []byte, proof [][]byte, store nodeStore) error {
	if len(proof) == 0 {
		return nil
	}
	hashedKey := common.Keccak256(key)
	notIncluded, err := isNotIncluded(hashedKey[:], proof)
	if err != nil {
		return err
	}
	if notIncluded {
		shortened, err := shortenNodePath(proof[len(proof)-1])
		if err != nil {
			return err
		}
		for _, node := range shortened {
			store.add(node)
		}
	}
	return nil
}

// isNotIncluded reports whether the given proof shows absence of the key.
// The lookup must be conclusive; reaching an unresolved node means the
// proof is invalid.
func isNotIncluded(key []byte, proof [][]byte) (bool, error) {
	store := nodeStore{}
	for _, node := range proof {
		store.add(node)
	}
	trie, err := resolveFromNode(proof[0], store)
	if err != nil {
		return false, err
	}
	_, found, err := trie.Get(key)
	if err != nil {
		return false, err
	}
	return !found, nil
}

// shortenNodePath returns the encodings of all nodes that can be created by
// shortening the path of the given leaf or extension node, including the
// node itself. Other node kinds have no path to shorten.
func shortenNodePath(node []byte) ([][]byte, error) {
	header, err := rlp.DecodeHeader(node)
	if err != nil {
		return nil, err
	}
	if !header.List {
		return nil, nil
	}
	payload := node[header.HeaderLength:header.EncodedLength()]
	item0, after0, err := nextRawItem(payload)
	if err != nil {
		return nil, err
	}
	item1, after1, err := nextRawItem(after0)
	if err != nil {
		return nil, err
	}
	if len(after1) != 0 {
		// a branch node, nothing to shorten
		return nil, nil
	}
	item0Header, err := rlp.DecodeHeader(item0)
	if err != nil {
		return nil, err
	}
	path := item0[item0Header.HeaderLength:]
	isLeaf := isEncodedPathLeaf(path)
	nibbles := decodePath(path)

	res := make([][]byte, 0, len(nibbles)+1)
	for i := 0; i <= len(nibbles); i++ {
		shortened := encodePath(make([]byte, 0, len(path)), nibbles[i:], isLeaf)
		res = append(res, rlp.Encode(rlp.List{Items: []rlp.Item{
			rlp.String{Str: shortened},
			rlp.Encoded{Data: item1},
		}}))
	}
	return res, nil
}

// trieFromDigest creates the trie representation of a bare root hash. The
// empty root hash and the zero hash both denote an empty trie, everything
// else an unresolved root.
func trieFromDigest(digest common.Hash) *Trie {
	if digest == EmptyNodeEthereumHash || digest == (common.Hash{}) {
		return NewTrie()
	}
	return newTrieFromDigest(digest)
}

// ResolveTrie builds a trie from the given root hash by resolving nodes from
// the given mapping of node hashes to raw node encodings.
func ResolveTrie(root common.Hash, nodes map[common.Hash][]byte) (*Trie, error) {
	trie := NewTrieWithCapacity(1 + len(nodes))
	rootRef := rlp.Encode(rlp.String{Str: root[:]})
	rootId, err := trie.resolveNode(rootRef, nodes)
	if err != nil {
		return nil, err
	}
	trie.rootId = rootId
	return trie, nil
}

// resolveFromNode builds a trie from the given raw root node, resolving
// digests from the store. A nil root node yields an empty trie.
func resolveFromNode(root []byte, store nodeStore) (*Trie, error) {
	if root == nil {
		return NewTrie(), nil
	}
	trie := NewTrieWithCapacity(1 + len(store))
	rootId, err := trie.resolveNode(root, store)
	if err != nil {
		return nil, err
	}
	trie.rootId = rootId
	return trie, nil
}

// resolveNode decodes a single RLP item denoting a node or a node reference
// and adds the resulting subtree to the trie. Hash references found in the
// store are inlined, all others become digest nodes. All payloads are copied
// into the trie's arena, the resulting trie does not alias its inputs.
func (t *Trie) resolveNode(item []byte, store map[common.Hash][]byte) (NodeId, error) {
	header, err := rlp.DecodeHeader(item)
	if err != nil {
		return 0, err
	}
	payload := item[header.HeaderLength:header.EncodedLength()]

	if !header.List {
		switch header.PayloadLength {
		case 0:
			return nullNodeId, nil
		case 32:
			if node, found := store[common.HashFromBytes(payload)]; found {
				return t.resolveNode(node, store)
			}
			id := t.addNode(nodeData{
				kind:  nodeKindDigest,
				value: t.arena.clone(payload),
			}, nodeRef{})
			return id, nil
		default:
			return 0, fmt.Errorf("node reference with unexpected length %d", header.PayloadLength)
		}
	}

	items := make([][]byte, 0, 17)
	for rest := payload; len(rest) > 0; {
		item, after, err := nextRawItem(rest)
		if err != nil {
			return 0, err
		}
		items = append(items, item)
		rest = after
	}

	switch len(items) {
	case 2:
		item0Header, err := rlp.DecodeHeader(items[0])
		if err != nil {
			return 0, err
		}
		path := items[0][item0Header.HeaderLength:]
		if len(path) == 0 {
			return 0, fmt.Errorf("node with empty path")
		}
		if isEncodedPathLeaf(path) {
			item1Header, err := rlp.DecodeHeader(items[1])
			if err != nil {
				return 0, err
			}
			id := t.addNode(nodeData{
				kind:  nodeKindLeaf,
				path:  t.arena.clone(path),
				value: t.arena.clone(items[1][item1Header.HeaderLength:]),
			}, nodeRef{})
			return id, nil
		}
		child, err := t.resolveNode(items[1], store)
		if err != nil {
			return 0, err
		}
		id := t.addNode(nodeData{
			kind: nodeKindExtension,
			path: t.arena.clone(path),
			next: child,
		}, nodeRef{})
		return id, nil
	case 17:
		if !bytes.Equal(items[16], emptyStringRlp) {
			return 0, ErrValueInBranch
		}
		var children [16]NodeId
		for i := 0; i < 16; i++ {
			child, err := t.resolveNode(items[i], store)
			if err != nil {
				return 0, err
			}
			children[i] = child
		}
		id := t.addNode(nodeData{kind: nodeKindBranch, children: children}, nodeRef{})
		return id, nil
	default:
		return 0, fmt.Errorf("node with unexpected number of items %d", len(items))
	}
}

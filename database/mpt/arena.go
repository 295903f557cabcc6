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

// arenaPageSize is the size of the pages backing a byteArena. Paths, values,
// and digests are all well below this size, so a payload never spans pages.
const arenaPageSize = 1 << 16

// byteArena is a simple bump allocator for the byte payloads referenced by
// trie nodes. Allocations are served from the tail of the current page and
// are never freed individually; all payloads are released together when the
// owning trie is dropped. Slices handed out by the arena are stable, they
// are never moved or reused while the arena is alive.
type byteArena struct {
	pages [][]byte
}

// alloc returns a zeroed slice of the given length backed by the arena.
func (a *byteArena) alloc(size int) []byte {
	if size > arenaPageSize {
		page := make([]byte, size)
		a.pages = append(a.pages, page[size:])
		return page
	}
	if len(a.pages) == 0 || cap(a.pages[len(a.pages)-1])-len(a.pages[len(a.pages)-1]) < size {
		a.pages = append(a.pages, make([]byte, 0, arenaPageSize))
	}
	page := a.pages[len(a.pages)-1]
	res := page[len(page) : len(page)+size : len(page)+size]
	a.pages[len(a.pages)-1] = page[:len(page)+size]
	return res
}

// clone copies the given data into the arena and returns the stable copy.
func (a *byteArena) clone(data []byte) []byte {
	res := a.alloc(len(data))
	copy(res, data)
	return res
}

// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package rlp

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/Fantom-foundation/Witness/go/common"
	"github.com/holiman/uint256"
)

// The definition of the RLP encoding can be found here:
// https://ethereum.org/en/developers/docs/data-structures-and-encoding/rlp
//
// Based on Appendix B of https://ethereum.github.io/yellowpaper/paper.pdf
//
// Recursive-Length Prefix (RLP) serialization is based on a recursive
// structure definition of an `item`. An item is defined as
//   - a string of bytes
//   - a list of items
// Note the recursive definition in the second line. This recursive step
// allows arbitrarily nested structures to be encoded. This package provides
// RLP encoding support for Items, a few convenience utilities for encoding
// frequently utilized types, and raw-header access for callers that need to
// walk an encoded stream without materializing item trees.

// EmptyStringCode is the encoding of an empty string, which doubles as the
// encoding of an absent child reference inside trie nodes.
const EmptyStringCode = 0x80

// Item is an interface for everything that can be RLP encoded by this package.
type Item interface {
	// write writes the RLP encoding of this item to the given writer.
	write(writer) writer

	// getEncodedLength computes the encoded length of this item in bytes.
	getEncodedLength() int
}

// Encode is a convenience function for serializing an item structure.
func Encode(item Item) []byte {
	return EncodeInto(make([]byte, 0, 1024), item)
}

func EncodeInto(dst []byte, item Item) []byte {
	writer := writer(dst)
	return item.write(writer)
}

// EncodedLength computes the number of bytes Encode would produce for the
// given item without performing the encoding. For lists, the computation
// recursively covers all nested items.
func EncodedLength(item Item) int {
	return item.getEncodedLength()
}

// ----------------------------------------------------------------------------
//                                 Decoding
// ----------------------------------------------------------------------------

// Header describes the leading type-and-length information of one RLP item.
// For single-byte items (below 0x80) the header is empty and the payload is
// the byte itself.
type Header struct {
	// List indicates whether the item is a list or a string.
	List bool
	// PayloadLength is the number of payload bytes following the header.
	PayloadLength uint64
	// HeaderLength is the number of bytes occupied by the header itself.
	HeaderLength int
}

// EncodedLength is the total number of bytes of the item described by this
// header, including the header bytes.
func (h Header) EncodedLength() int {
	return h.HeaderLength + int(h.PayloadLength)
}

// DecodeHeader reads the header of the first item in the given RLP stream.
// The stream may contain additional trailing data, but it must be long enough
// to hold the announced payload of the first item.
func DecodeHeader(rlp []byte) (Header, error) {
	if len(rlp) == 0 {
		return Header{}, fmt.Errorf("input RLP is empty")
	}
	var header Header
	switch l := rlp[0]; {
	case l < 0x80: // single byte items encode themselves
		header = Header{List: false, PayloadLength: 1, HeaderLength: 0}
	case l < 0xb8: // short string
		header = Header{List: false, PayloadLength: uint64(l - 0x80), HeaderLength: 1}
	case l < 0xc0: // long string
		size, err := readSize(rlp[1:], l-0xb7)
		if err != nil {
			return Header{}, err
		}
		if size < 56 {
			return Header{}, fmt.Errorf("non-canonical size %d below 56 in long form", size)
		}
		header = Header{List: false, PayloadLength: size, HeaderLength: 1 + int(l-0xb7)}
	case l < 0xf8: // short list
		header = Header{List: true, PayloadLength: uint64(l - 0xc0), HeaderLength: 1}
	default: // long list
		size, err := readSize(rlp[1:], l-0xf7)
		if err != nil {
			return Header{}, err
		}
		if size < 56 {
			return Header{}, fmt.Errorf("non-canonical size %d below 56 in long form", size)
		}
		header = Header{List: true, PayloadLength: size, HeaderLength: 1 + int(l-0xf7)}
	}
	// The payload length is compared against the remaining input on the
	// known-small side; summing header and payload length could overflow
	// for adversarial length announcements.
	if header.PayloadLength > uint64(len(rlp)-header.HeaderLength) {
		return Header{}, fmt.Errorf("expected %d payload bytes, got: %d",
			header.PayloadLength, len(rlp)-header.HeaderLength)
	}
	return header, nil
}

// Decode parses a complete RLP stream into an item. Strings are returned as
// String items aliasing the input buffer, lists as List items with decoded
// nested items. Trailing data after the first item is an error.
func Decode(rlp []byte) (Item, error) {
	item, consumed, err := decode(rlp)
	if err != nil {
		return nil, err
	}
	if consumed != uint64(len(rlp)) {
		return nil, fmt.Errorf("trailing data after RLP item: %d extra bytes", uint64(len(rlp))-consumed)
	}
	return item, nil
}

// decode decodes the first item of an RLP stream, returning the item and the
// number of consumed bytes. It may recursively call itself to decode nested
// items.
func decode(rlp []byte) (Item, uint64, error) {
	header, err := DecodeHeader(rlp)
	if err != nil {
		return nil, 0, err
	}
	consumed := uint64(header.HeaderLength) + header.PayloadLength
	payload := rlp[header.HeaderLength:consumed]
	if !header.List {
		return String{Str: payload}, consumed, nil
	}
	items, err := decodeList(payload)
	if err != nil {
		return nil, 0, err
	}
	return List{Items: items}, consumed, nil
}

// decodeList decodes a sequence of items from the given RLP stream.
// The function expects an RLP stream with possibly multiple items encoded
// while the prefix with the length is already cut out. It consumes chunks of
// input RLP by passing them to the decoder until the input is empty.
func decodeList(rlp []byte) ([]Item, error) {
	items := make([]Item, 0, 17)
	buf := rlp
	for len(buf) > 0 {
		item, consumed, err := decode(buf)
		if err != nil {
			return nil, err
		}

		items = append(items, item)
		buf = buf[consumed:]
	}

	return items, nil
}

// writer is a specialized writer for this package writing encoded RLP
// content in a pre-allocated buffer.
type writer []byte

func (w writer) Write(data []byte) writer {
	return append(w, data...)
}

func (w writer) Put(c byte) writer {
	return append(w, c)
}

// ----------------------------------------------------------------------------
//                           Core Item Types
// ----------------------------------------------------------------------------

// String is the atomic ground type of an RLP input structure representing a
// (potentially empty) string of bytes.
type String struct {
	Str []byte
}

func (s String) write(writer writer) writer {
	l := len(s.Str)
	// Single-element strings are encoded as a single byte if the
	// value is small enough.
	if l == 1 && s.Str[0] < 0x80 {
		return writer.Write(s.Str)
	}
	// For the rest, the length is encoded, followed by the string itself.
	writer = encodeLength(l, 0x80, writer)
	return writer.Write(s.Str)
}

func (s String) getEncodedLength() int {
	l := len(s.Str)
	if l == 1 && s.Str[0] < 0x80 {
		return 1
	}
	return l + getEncodedLengthLength(l)
}

// Hash is a used specifically to hold a pointer to hash.
// Its usage is similar to rlp.String, but this type should be used for performance reasons.
// In particular, conversion of common.Hash to rlp.String requires conversion of array
// to slice, which executes runtime.convTSlice() many times.
type Hash struct {
	Hash *common.Hash
}

func (s Hash) write(writer writer) writer {
	writer = encodeLength(32, 0x80, writer)
	return writer.Write(s.Hash[:])
}

func (s Hash) getEncodedLength() int {
	// 32 bytes of hash + one byte to store length
	return 32 + 1
}

// List composes a list of items into a new item to be serialized.
type List struct {
	Items []Item
}

func (l List) write(writer writer) writer {
	length := 0
	for i := 0; i < len(l.Items); i++ {
		length += l.Items[i].getEncodedLength()
	}
	writer = encodeLength(length, 0xc0, writer)
	for i := 0; i < len(l.Items); i++ {
		writer = l.Items[i].write(writer)
	}
	return writer
}

func (l List) getEncodedLength() int {
	sum := 0
	for _, item := range l.Items {
		sum += item.getEncodedLength()
	}
	return sum + getEncodedLengthLength(sum)
}

// encodeLength is utility function used by String and List structures to
// encode the length of the string or list in the output stream.
func encodeLength(length int, offset byte, writer writer) writer {
	if length < 56 {
		return writer.Put(offset + byte(length))
	}
	numBytesForLength := getNumBytes(uint64(length))
	writer = writer.Put(offset + 55 + numBytesForLength)
	for i := byte(0); i < numBytesForLength; i++ {
		writer = writer.Put(byte(length >> (8 * (numBytesForLength - i - 1))))
	}
	return writer
}

// getNumBytes computes the minimum number of bytes required to represent
// the given value in big-endian encoding.
func getNumBytes(value uint64) byte {
	if value == 0 {
		return 0
	}
	for res := byte(1); ; res++ {
		if value >>= 8; value == 0 {
			return res
		}
	}
}

func getEncodedLengthLength(length int) int {
	if length < 56 {
		return 1
	}
	return int(getNumBytes(uint64(length))) + 1
}

// Encoded allows for embedding an already RLP encoded data fragment in a new RLP encoding.
type Encoded struct {
	Data []byte
}

func (e Encoded) write(writer writer) writer {
	return writer.Write(e.Data)
}

func (e Encoded) getEncodedLength() int {
	return len(e.Data)
}

// ----------------------------------------------------------------------------
//                           Utility Item Types
// ----------------------------------------------------------------------------

// Uint64 is an Item encoding unsigned integers into RLP by interpreting them
// as a string of bytes. The bytes are derived from the integer value by
// encoding it in big-endian byte order and removing leading zero-bytes.
type Uint64 struct {
	Value uint64
}

func (u Uint64) write(writer writer) writer {
	// Uint64 values are encoded using their non-zero big-endian encoding suffix.
	if u.Value == 0 {
		return writer.Put(EmptyStringCode)
	}
	var buffer = make([]byte, 8)
	binary.BigEndian.PutUint64(buffer, u.Value)
	for buffer[0] == 0 {
		buffer = buffer[1:]
	}
	return String{Str: buffer}.write(writer)
}

func (u Uint64) getEncodedLength() int {
	if u.Value < 0x80 {
		return 1
	}
	return 1 + int(getNumBytes(u.Value))
}

// Uint256 is an Item encoding 256-bit unsigned integers into RLP using their
// minimal big-endian byte representation, analogous to the Uint64 encoder.
type Uint256 struct {
	Value *uint256.Int
}

func (u Uint256) write(writer writer) writer {
	if u.Value == nil || u.Value.IsZero() {
		return writer.Put(EmptyStringCode)
	}
	return String{Str: u.Value.Bytes()}.write(writer)
}

func (u Uint256) getEncodedLength() int {
	if u.Value == nil || u.Value.IsZero() {
		return 1
	}
	return String{Str: u.Value.Bytes()}.getEncodedLength()
}

// BigInt is an Item encoding big.Int values into RLP by interpreting them
// as a string of bytes. The encoding schema is implemented analogous to the
// Uint64 encoder above.
type BigInt struct {
	Value *big.Int
}

func (i BigInt) write(writer writer) writer {
	// Values that fit in 64 bit are encoded using the uint64 encoder.
	bitlen := i.Value.BitLen()
	if bitlen <= 64 {
		return Uint64{Value: i.Value.Uint64()}.write(writer)
	}
	// Integer is larger than 64 bits, encode from BigInt's Bits()
	// using big-endian order.
	const wordBytes = (32 << (uint64(^big.Word(0)) >> 63)) / 8
	length := ((bitlen + 7) & -8) >> 3
	index := length
	var buffer = make([]byte, length)
	for _, d := range i.Value.Bits() {
		for j := 0; j < wordBytes && index > 0; j++ {
			index--
			buffer[index] = byte(d)
			d >>= 8
		}
	}
	writer = encodeLength(length, 0x80, writer)
	return writer.Write(buffer)
}

func (i BigInt) getEncodedLength() int {
	bitlen := i.Value.BitLen()
	if bitlen <= 64 {
		return Uint64{Value: i.Value.Uint64()}.getEncodedLength()
	}
	length := ((bitlen + 7) & -8) >> 3
	return getEncodedLengthLength(length) + length
}

func readSize(b []byte, slen byte) (uint64, error) {
	if int(slen) > len(b) {
		return 0, fmt.Errorf("expected %d bytes, got: %d", slen, len(b))
	}
	if b[0] == 0 {
		return 0, fmt.Errorf("length encoding with leading zero bytes")
	}
	var s uint64
	switch slen {
	case 1:
		s = uint64(b[0])
	case 2:
		s = uint64(b[0])<<8 | uint64(b[1])
	case 3:
		s = uint64(b[0])<<16 | uint64(b[1])<<8 | uint64(b[2])
	case 4:
		s = uint64(b[0])<<24 | uint64(b[1])<<16 | uint64(b[2])<<8 | uint64(b[3])
	case 5:
		s = uint64(b[0])<<32 | uint64(b[1])<<24 | uint64(b[2])<<16 | uint64(b[3])<<8 | uint64(b[4])
	case 6:
		s = uint64(b[0])<<40 | uint64(b[1])<<32 | uint64(b[2])<<24 | uint64(b[3])<<16 | uint64(b[4])<<8 | uint64(b[5])
	case 7:
		s = uint64(b[0])<<48 | uint64(b[1])<<40 | uint64(b[2])<<32 | uint64(b[3])<<24 | uint64(b[4])<<16 | uint64(b[5])<<8 | uint64(b[6])
	case 8:
		s = uint64(b[0])<<56 | uint64(b[1])<<48 | uint64(b[2])<<40 | uint64(b[3])<<32 | uint64(b[4])<<24 | uint64(b[5])<<16 | uint64(b[6])<<8 | uint64(b[7])
	}

	return s, nil
}
